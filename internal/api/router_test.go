package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gioswatch/gioswatch/internal/airquality"
	"github.com/gioswatch/gioswatch/internal/airquality/gios"
	"github.com/gioswatch/gioswatch/internal/api"
	"github.com/gioswatch/gioswatch/internal/api/middleware"
	"github.com/gioswatch/gioswatch/internal/api/models"
	"github.com/gioswatch/gioswatch/internal/provider/resilience"
	"github.com/gioswatch/gioswatch/internal/session"
	"github.com/gioswatch/gioswatch/internal/snapshot"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

const stationsJSON = `[
	{"id": 114, "stationName": "Wrocław, ul. Bartnicza", "city": {"commune": {"provinceName": "DOLNOŚLĄSKIE"}}},
	{"id": 400, "stationName": "Kraków, Aleja Krasińskiego", "city": {"commune": {"provinceName": "MAŁOPOLSKIE"}}}
]`

const sensorsJSON = `{"Lista stanowisk pomiarowych dla podanej stacji": [
	{"Identyfikator stanowiska": 642, "Wskaźnik": "dwutlenek azotu", "Wskaźnik - kod": "NO2"},
	{"Identyfikator stanowiska": 643, "Wskaźnik": "ozon", "Wskaźnik - kod": "O3"}
]}`

const dataJSON = `{"Lista danych pomiarowych": [
	{"Kod stanowiska": "DsWrocBartni-NO2-1g", "Data": "2024-05-10 11:00:00", "Wartość": null},
	{"Kod stanowiska": "DsWrocBartni-NO2-1g", "Data": "2024-05-10 10:00:00", "Wartość": 12.5},
	{"Kod stanowiska": "DsWrocBartni-NO2-1g", "Data": "2024-05-01 10:00:00", "Wartość": 99}
]}`

// fakeGIOS serves canned GIOŚ payloads; stationsStatus overrides the station list status.
type fakeGIOS struct {
	mu             sync.Mutex
	stationsStatus int
	calls          map[string]int
}

func (f *fakeGIOS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls[r.URL.Path]++
	status := f.stationsStatus
	f.mu.Unlock()

	switch {
	case r.URL.Path == "/pjp-api/rest/station/findAll":
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		_, _ = io.WriteString(w, stationsJSON)
	case strings.HasPrefix(r.URL.Path, "/pjp-api/v1/rest/station/sensors/"):
		_, _ = io.WriteString(w, sensorsJSON)
	case r.URL.Path == "/pjp-api/v1/rest/data/getData/642":
		_, _ = io.WriteString(w, dataJSON)
	case r.URL.Path == "/pjp-api/v1/rest/data/getData/643":
		w.WriteHeader(http.StatusBadRequest)
	case strings.HasPrefix(r.URL.Path, "/pjp-api/v1/rest/archivalData/getDataBySensor/"):
		_, _ = io.WriteString(w, `{"Lista archiwalnych wyników pomiarów": []}`)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeGIOS) setStationsStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stationsStatus = status
}

func (f *fakeGIOS) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

type testEnv struct {
	router   http.Handler
	upstream *fakeGIOS
	registry *resilience.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)

	upstream := &fakeGIOS{calls: map[string]int{}}
	server := httptest.NewServer(upstream)
	t.Cleanup(server.Close)

	registry := resilience.NewRegistry()
	store := snapshot.NewFileStore(snapshot.FileStoreConfig{Root: t.TempDir(), Logger: logger})
	client := gios.NewClient(gios.ClientConfig{
		BaseURL:  server.URL,
		Timeout:  2 * time.Second,
		Store:    store,
		Logger:   logger,
		Registry: registry,
	})
	service := airquality.NewService(airquality.ServiceConfig{
		Provider: client,
		Store:    store,
		Logger:   logger,
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
	})

	sess := session.New(session.Config{Pipeline: service, Logger: logger})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sess.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	router := api.NewRouter(api.RouterConfig{
		Version:   "test",
		BuildTime: "2024-01-01T00:00:00Z",
		Logger:    logger,
		Session:   sess,
		Registry:  registry,
	})
	return &testEnv{router: router, upstream: upstream, registry: registry}
}

func (e *testEnv) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, http.NoBody)
	req.RemoteAddr = "192.0.2.1:4000"
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestRouter_Health(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/ops/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	health := decode[models.Health](t, rec)
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_Ready(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/ops/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_ListStations(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/stations")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decode[models.StationList](t, rec)
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, "Wrocław, ul. Bartnicza (DOLNOŚLĄSKIE)", list.Items[0].DisplayName)

	rec = env.do(t, http.MethodGet, "/v1/stations?q=krak")
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[models.StationList](t, rec)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, 400, list.Items[0].ID)
	assert.Equal(t, "krak", list.Filter)

	// The second listing is served from the session.
	assert.Equal(t, 1, env.upstream.count("/pjp-api/rest/station/findAll"))

	env.do(t, http.MethodGet, "/v1/stations?refresh=true")
	assert.Equal(t, 2, env.upstream.count("/pjp-api/rest/station/findAll"))
}

func TestRouter_ListStations_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.setStationsStatus(http.StatusInternalServerError)

	rec := env.do(t, http.MethodGet, "/v1/stations")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	problem := decode[models.Problem](t, rec)
	assert.Equal(t, models.ProblemTypeUpstream, problem.Type)
	assert.Equal(t, string(gios.KindStatus), problem.Upstream)
	assert.Equal(t, "HTTP 500", problem.Detail)
	assert.Equal(t, rec.Header().Get(middleware.RequestIDHeader), problem.TraceID)
}

func TestRouter_Sensors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/stations/114/sensors")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	station := decode[models.Station](t, rec)
	assert.Equal(t, 114, station.ID)
	require.Len(t, station.Sensors, 2)
	assert.Equal(t, "NO2", station.Sensors[0].ParamCode)
}

func TestRouter_Report(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/stations/114/report")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[models.Report](t, rec)

	assert.Equal(t, airquality.ReportCurrent, report.Kind)
	require.Len(t, report.Sensors, 2)

	no2 := report.Sensors[0]
	assert.Equal(t, 642, no2.Sensor.ID)
	require.Len(t, no2.Measurements, 1, "null and out-of-window readings are dropped")
	assert.Equal(t, 12.5, no2.Measurements[0].Value)
	assert.Equal(t, "DsWrocBartni-NO2-1g", no2.Measurements[0].Code)

	o3 := report.Sensors[1]
	assert.True(t, o3.NoData)
	assert.Contains(t, o3.Error, "HTTP 400")
	assert.Empty(t, o3.Measurements)
}

func TestRouter_Report_Historical(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/stations/114/report?kind=historical")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[models.Report](t, rec)
	assert.Equal(t, airquality.ReportHistorical, report.Kind)
	assert.Equal(t, testNow.Add(-5*24*time.Hour), report.WindowStart.Time().UTC())
	assert.Equal(t, 1, env.upstream.count("/pjp-api/v1/rest/archivalData/getDataBySensor/642"))
}

func TestRouter_Chart(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/stations/114/chart")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	chart := decode[airquality.Chart](t, rec)

	assert.Equal(t, 114, chart.StationID)
	assert.Equal(t, airquality.AxisRange{Min: 0, Max: 72}, chart.XRange)
	require.NotEmpty(t, chart.Series)
	assert.Equal(t, 642, chart.Series[0].SensorID)
	require.Len(t, chart.Series[0].Points, 1)
	assert.InDelta(t, 2.0, chart.Series[0].Points[0].HoursAgo, 1e-9)
	require.Len(t, chart.Failed, 1)
	assert.Equal(t, 643, chart.Failed[0].SensorID)
}

func TestRouter_StationParams(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		target string
		field  string
		code   string
	}{
		{"/v1/stations/abc/chart", "stationId", "int"},
		{"/v1/stations/0/sensors", "stationId", "gt"},
		{"/v1/stations/114/report?kind=weekly", "kind", "oneof"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.target)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			problem := decode[models.Problem](t, rec)
			assert.Equal(t, models.ProblemTypeValidation, problem.Type)
			require.Len(t, problem.Errors, 1)
			assert.Equal(t, tt.field, problem.Errors[0].Field)
			assert.Equal(t, tt.code, problem.Errors[0].Code)
		})
	}
}

func TestRouter_UnknownStation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/stations/999/chart")
	require.Equal(t, http.StatusNotFound, rec.Code)
	problem := decode[models.Problem](t, rec)
	assert.Contains(t, problem.Detail, "station 999")
	assert.Equal(t, "/v1/stations/999/chart", problem.Instance)
}

func TestRouter_Status(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/ops/status")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[models.SystemStatus](t, rec)
	require.Len(t, status.Providers, 1)
	assert.Equal(t, gios.ProviderName, status.Providers[0].Provider)
	assert.Nil(t, status.Providers[0].LastSuccessAt)

	env.do(t, http.MethodGet, "/v1/stations")

	status = decode[models.SystemStatus](t, env.do(t, http.MethodGet, "/v1/ops/status"))
	assert.Equal(t, models.HealthStatusOK, status.Status)
	assert.Equal(t, "closed", status.Providers[0].CircuitState)
	assert.NotNil(t, status.Providers[0].LastSuccessAt)
	require.Len(t, status.Subsystems, 1)
	require.NotNil(t, status.Subsystems[0].Detail)
	assert.Contains(t, *status.Subsystems[0].Detail, "2 stations loaded")
}

func TestRouter_Status_CircuitOpen(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.setStationsStatus(http.StatusBadGateway)

	for range 6 {
		env.do(t, http.MethodGet, "/v1/stations?refresh=true")
	}
	rec := env.do(t, http.MethodGet, "/v1/stations?refresh=true")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/ops/status")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	status := decode[models.SystemStatus](t, rec)
	assert.Equal(t, models.HealthStatusFail, status.Status)
	assert.Equal(t, "open", status.Providers[0].CircuitState)
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v2/stations")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = env.do(t, http.MethodPost, "/v1/stations")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, models.ProblemTypeMethodNotAllowed, decode[models.Problem](t, rec).Type)
}

func TestRouter_UpstreamRateLimit(t *testing.T) {
	env := newTestEnv(t)
	env.router = api.NewRouter(api.RouterConfig{
		Logger:            zerolog.New(io.Discard),
		Session:           newIdleSession(t),
		UpstreamRateLimit: middleware.RateLimitConfig{RequestLimit: 1, WindowLength: time.Minute},
	})

	first := env.do(t, http.MethodGet, "/v1/stations/1/chart")
	assert.NotEqual(t, http.StatusTooManyRequests, first.Code)

	second := env.do(t, http.MethodGet, fmt.Sprintf("/v1/stations/%d/report", 1))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

// newIdleSession runs a session whose pipeline is never expected to succeed.
func newIdleSession(t *testing.T) *session.Session {
	t.Helper()
	sess := session.New(session.Config{Pipeline: airquality.NewService(airquality.ServiceConfig{
		Provider: gios.NewClient(gios.ClientConfig{BaseURL: "http://127.0.0.1:1", Logger: zerolog.Nop()}),
		Store:    snapshot.NewFileStore(snapshot.FileStoreConfig{Root: t.TempDir(), Logger: zerolog.Nop()}),
		Logger:   zerolog.Nop(),
	}), Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sess.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return sess
}
