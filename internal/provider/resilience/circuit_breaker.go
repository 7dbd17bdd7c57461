// Package resilience guards calls to an upstream HTTP API with a circuit
// breaker and optional retries, and keeps a health record per upstream.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// DefaultTripThreshold is the number of consecutive failures that opens the breaker.
const DefaultTripThreshold = 5

// TripPolicy decides from the current counts whether the breaker opens.
type TripPolicy func(counts gobreaker.Counts) bool

// TripAfterConsecutive opens the breaker after n failures in a row. Upstream
// calls are user-triggered and sparse, so a run of failures is a better
// signal than a ratio over a time window.
func TripAfterConsecutive(n uint32) TripPolicy {
	return func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= n
	}
}

// TripOnFailureRatio opens the breaker once at least minRequests were made
// and the share of failures reached ratio.
func TripOnFailureRatio(minRequests uint32, ratio float64) TripPolicy {
	return func(counts gobreaker.Counts) bool {
		if counts.Requests < minRequests || counts.Requests == 0 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
	}
}

// BreakerConfig configures the breaker guarding one upstream.
type BreakerConfig struct {
	// Name identifies the upstream in logs and in the Registry.
	Name string

	// HalfOpenProbes is how many requests are let through while half-open.
	HalfOpenProbes uint32

	// CountWindow clears the counts periodically while closed. Zero keeps
	// them until the state changes.
	CountWindow time.Duration

	// OpenFor is how long requests are rejected before probing again.
	OpenFor time.Duration

	// Trip opens the breaker. Nil means TripAfterConsecutive(DefaultTripThreshold).
	Trip TripPolicy

	// OnStateChange is called on every transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig returns the breaker settings used for the GIOŚ API.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:           name,
		HalfOpenProbes: 1,
		OpenFor:        60 * time.Second,
		Trip:           TripAfterConsecutive(DefaultTripThreshold),
	}
}

// LogStateChanges returns an OnStateChange callback that logs transitions.
// Opening is a warning, closing again is info.
func LogStateChanges(logger zerolog.Logger) func(name string, from, to gobreaker.State) {
	return func(name string, from, to gobreaker.State) {
		event := logger.Info()
		if to == gobreaker.StateOpen {
			event = logger.Warn()
		}
		event.
			Str("provider", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit breaker state changed")
	}
}

// newBreaker builds the gobreaker instance for cfg. A request aborted by its
// caller says nothing about the upstream and is not counted as a failure.
func newBreaker[T any](cfg BreakerConfig) *gobreaker.CircuitBreaker[T] {
	trip := cfg.Trip
	if trip == nil {
		trip = TripAfterConsecutive(DefaultTripThreshold)
	}

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   cfg.HalfOpenProbes,
		Interval:      cfg.CountWindow,
		Timeout:       cfg.OpenFor,
		ReadyToTrip:   trip,
		OnStateChange: cfg.OnStateChange,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}
