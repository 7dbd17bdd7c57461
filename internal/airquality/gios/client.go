// Package gios provides a client for the GIOŚ air quality API (api.gios.gov.pl)
// and decoders for its station, sensor and measurement payloads.
package gios

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gioswatch/gioswatch/internal/airquality"
	"github.com/gioswatch/gioswatch/internal/provider/resilience"
	"github.com/gioswatch/gioswatch/internal/snapshot"
	"github.com/gioswatch/gioswatch/internal/telemetry"
)

const (
	// DefaultBaseURL is the base URL of the GIOŚ API. Plain HTTP on port 80.
	DefaultBaseURL = "http://api.gios.gov.pl:80"

	// ProviderName identifies this provider in the health registry.
	ProviderName = "gios"

	// DefaultTimeout bounds a single request.
	DefaultTimeout = 30 * time.Second

	tracerName = "github.com/gioswatch/gioswatch/internal/airquality/gios"
)

// API endpoints.
const (
	stationsEndpoint = "/pjp-api/rest/station/findAll?size=500"
	sensorsEndpoint  = "/pjp-api/v1/rest/station/sensors/%d?size=20&page=0"
	dataEndpoint     = "/pjp-api/v1/rest/data/getData/%d?size=500&page=0"
	archiveEndpoint  = "/pjp-api/v1/rest/archivalData/getDataBySensor/%d?size=500&dayNumber=%d"
)

// ClientConfig holds configuration for the GIOŚ client.
type ClientConfig struct {
	// BaseURL is the API base URL (defaults to DefaultBaseURL).
	BaseURL string

	// HTTPClient is the HTTP client to use.
	// If nil, a single-attempt resilient client is created.
	HTTPClient HTTPDoer

	// Timeout for individual API requests (default: 30s).
	Timeout time.Duration

	// Store receives raw payloads for requests that name a snapshot path.
	// If nil, payloads are not persisted.
	Store snapshot.Store

	// Logger for request outcomes and skipped payload elements.
	Logger zerolog.Logger

	// Registry, when set, tracks the provider's health.
	Registry *resilience.Registry

	// Metrics, when set, records per-request instruments.
	Metrics *telemetry.FetchMetrics
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a GIOŚ API client. It implements airquality.Provider.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
	store      snapshot.Store
	logger     zerolog.Logger
	registry   *resilience.Registry
	metrics    *telemetry.FetchMetrics
	tracer     trace.Tracer
}

var _ airquality.Provider = (*Client)(nil)

// NewClient creates a new GIOŚ client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		rc := resilience.DefaultClientConfig(ProviderName)
		rc.Timeout = timeout
		rc.Registry = cfg.Registry
		rc.Breaker.OnStateChange = resilience.LogStateChanges(cfg.Logger)
		httpClient = resilience.NewClient(rc)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		store:      cfg.Store,
		logger:     cfg.Logger.With().Str("provider", ProviderName).Logger(),
		registry:   cfg.Registry,
		metrics:    cfg.Metrics,
		tracer:     otel.Tracer(tracerName),
	}
}

// Fetch performs one GET for path and returns the response body. Only a 200
// response with a non-empty body succeeds. When snapshotPath is not empty the
// body is saved there before returning. Every failure is a *FetchError.
func (c *Client) Fetch(ctx context.Context, path, snapshotPath string) ([]byte, error) {
	endpoint := endpointName(path)
	ctx, span := c.tracer.Start(ctx, "gios.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gios.endpoint", endpoint),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	start := time.Now()
	body, status, err := c.fetch(ctx, path, snapshotPath)
	elapsed := time.Since(start)

	if status != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}

	outcome := "ok"
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			outcome = string(fe.Kind)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error().Err(err).
			Str("path", path).
			Dur("elapsed", elapsed).
			Msg("gios request failed")
	} else {
		c.logger.Debug().
			Str("path", path).
			Int("bytes", len(body)).
			Dur("elapsed", elapsed).
			Msg("gios request succeeded")
	}

	c.metrics.Record(ctx, endpoint, outcome, elapsed, len(body))
	if c.registry != nil {
		c.registry.Observe(ProviderName, err)
	}
	return body, err
}

func (c *Client) fetch(ctx context.Context, path, snapshotPath string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, 0, &FetchError{Kind: KindRequest, Detail: err.Error(), Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining for connection reuse
		return nil, resp.StatusCode, &FetchError{Kind: KindStatus, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, classifyTransportError(err)
	}
	if len(body) == 0 {
		return nil, resp.StatusCode, &FetchError{Kind: KindEmptyBody, Status: resp.StatusCode}
	}

	if snapshotPath != "" && c.store != nil {
		if err := c.store.Save(ctx, snapshotPath, body); err != nil {
			return nil, resp.StatusCode, &FetchError{Kind: KindPersist, Detail: snapshotPath, Err: err}
		}
	}

	return body, resp.StatusCode, nil
}

func classifyTransportError(err error) *FetchError {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return &FetchError{Kind: KindUnavailable, Detail: "circuit breaker open", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: KindTimeout, Err: err}
	}
	return &FetchError{Kind: KindConnect, Detail: err.Error(), Err: err}
}

// endpointName reduces a request path to a low-cardinality label.
func endpointName(path string) string {
	switch {
	case strings.HasPrefix(path, "/pjp-api/rest/station/findAll"):
		return "stations"
	case strings.HasPrefix(path, "/pjp-api/v1/rest/station/sensors/"):
		return "sensors"
	case strings.HasPrefix(path, "/pjp-api/v1/rest/data/getData/"):
		return "data"
	case strings.HasPrefix(path, "/pjp-api/v1/rest/archivalData/"):
		return "archive"
	default:
		return "other"
	}
}

// FetchStations retrieves the list of all stations and saves the raw payload
// as the stations snapshot.
func (c *Client) FetchStations(ctx context.Context) ([]airquality.Station, error) {
	body, err := c.Fetch(ctx, stationsEndpoint, snapshot.StationsPath)
	if err != nil {
		return nil, err
	}

	decoded, err := DecodeStations(body, c.logger)
	if err != nil {
		return nil, fmt.Errorf("decode stations: %w", err)
	}
	c.logSkipped("station", len(decoded.Failures), len(decoded.Items))
	return decoded.Items, nil
}

// FetchSensors retrieves the sensors installed at a station.
func (c *Client) FetchSensors(ctx context.Context, stationID int) ([]airquality.Sensor, error) {
	body, err := c.Fetch(ctx, fmt.Sprintf(sensorsEndpoint, stationID), "")
	if err != nil {
		return nil, err
	}

	decoded, err := DecodeSensors(body, c.logger)
	if err != nil {
		return nil, fmt.Errorf("decode sensors of station %d: %w", stationID, err)
	}
	c.logSkipped("sensor", len(decoded.Failures), len(decoded.Items))
	return decoded.Items, nil
}

// FetchReadings retrieves the current readings of a sensor and saves the raw
// payload as the latest data snapshot.
func (c *Client) FetchReadings(ctx context.Context, sensorID int) ([]airquality.Reading, error) {
	body, err := c.Fetch(ctx, fmt.Sprintf(dataEndpoint, sensorID), snapshot.LatestDataPath)
	if err != nil {
		return nil, err
	}

	decoded, err := DecodeReadings(body, CurrentDataEnvelope, c.logger)
	if err != nil {
		return nil, fmt.Errorf("decode readings of sensor %d: %w", sensorID, err)
	}
	c.logSkipped("reading", len(decoded.Failures), len(decoded.Items))
	return decoded.Items, nil
}

// FetchArchive retrieves archival readings of a sensor covering the given
// number of days and saves the raw payload as the historical data snapshot.
func (c *Client) FetchArchive(ctx context.Context, sensorID, days int) ([]airquality.Reading, error) {
	body, err := c.Fetch(ctx, fmt.Sprintf(archiveEndpoint, sensorID, days), snapshot.HistoricalDataPath)
	if err != nil {
		return nil, err
	}

	decoded, err := DecodeReadings(body, ArchivalDataEnvelope, c.logger)
	if err != nil {
		return nil, fmt.Errorf("decode archive of sensor %d: %w", sensorID, err)
	}
	c.logSkipped("reading", len(decoded.Failures), len(decoded.Items))
	return decoded.Items, nil
}

// ParseStations decodes a saved station list payload, such as the stations snapshot.
func (c *Client) ParseStations(data []byte) ([]airquality.Station, error) {
	decoded, err := DecodeStations(data, c.logger)
	if err != nil {
		return nil, err
	}
	c.logSkipped("station", len(decoded.Failures), len(decoded.Items))
	return decoded.Items, nil
}

func (c *Client) logSkipped(what string, skipped, kept int) {
	if skipped == 0 {
		return
	}
	c.logger.Warn().
		Int("skipped", skipped).
		Int("kept", kept).
		Msgf("dropped malformed %s entries", what)
}
