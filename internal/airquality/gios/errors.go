package gios

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies why a fetch failed.
type Kind string

// Fetch failure kinds.
const (
	KindConnect     Kind = "connect"
	KindTimeout     Kind = "timeout"
	KindStatus      Kind = "status"
	KindEmptyBody   Kind = "empty body"
	KindUnavailable Kind = "unavailable"
	KindPersist     Kind = "persist"
	KindRequest     Kind = "request"
)

// SentinelPrefix marks a failed fetch in the string form used by older callers.
const SentinelPrefix = "ERROR:"

// FetchError is returned by Client.Fetch for every failed request.
type FetchError struct {
	Kind Kind
	// Status is the HTTP status code for KindStatus failures.
	Status int
	// Detail is an optional human-readable cause.
	Detail string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Kind == KindStatus {
		return "HTTP " + strconv.Itoa(e.Status)
	}
	if e.Detail == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Detail
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the upstream status code, or 0 when no response was received.
func (e *FetchError) HTTPStatus() int {
	return e.Status
}

// IsKind reports whether err is a *FetchError of the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}

// Sentinel renders err as "ERROR:<cause>". A nil error renders as "".
func Sentinel(err error) string {
	if err == nil {
		return ""
	}
	return SentinelPrefix + err.Error()
}

// FromSentinel parses a string produced by Sentinel. It returns false when s
// does not carry the sentinel prefix, in which case s is a payload.
func FromSentinel(s string) (*FetchError, bool) {
	cause, ok := strings.CutPrefix(s, SentinelPrefix)
	if !ok {
		return nil, false
	}
	cause = strings.TrimSpace(cause)

	if code, found := strings.CutPrefix(cause, "HTTP "); found {
		if status, err := strconv.Atoi(strings.TrimSpace(code)); err == nil {
			return &FetchError{Kind: KindStatus, Status: status}, true
		}
	}

	for _, kind := range []Kind{KindConnect, KindTimeout, KindEmptyBody, KindUnavailable, KindPersist, KindRequest} {
		if cause == string(kind) {
			return &FetchError{Kind: kind}, true
		}
		if detail, found := strings.CutPrefix(cause, string(kind)+": "); found {
			return &FetchError{Kind: kind, Detail: detail}, true
		}
	}

	return &FetchError{Kind: KindConnect, Detail: cause}, true
}

// ErrMissingEnvelope is returned when a payload lacks its top-level list key.
var ErrMissingEnvelope = errors.New("missing envelope key")

// DecodeError describes the first structural mismatch in a payload element.
type DecodeError struct {
	// Path locates the offending value, e.g. "[2].city.commune.provinceName".
	Path   string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("decode: %s", e.Reason)
	}
	return fmt.Sprintf("decode %s: %s", e.Path, e.Reason)
}
