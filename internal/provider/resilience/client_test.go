package resilience_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gioswatch/gioswatch/internal/provider/resilience"
)

func get(t *testing.T, ctx context.Context, client *resilience.Client, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	require.NoError(t, err)
	resp, err := client.Do(req)
	if resp != nil {
		t.Cleanup(func() { _ = resp.Body.Close() })
	}
	return resp, err
}

func TestClient_SuccessfulRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.DefaultClientConfig("gios"))

	resp, err := get(t, context.Background(), client, server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint32(1), client.Counts().TotalSuccesses)
}

func TestClient_SingleAttemptByDefault(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.DefaultClientConfig("gios"))

	resp, err := get(t, context.Background(), client, server.URL)
	require.NoError(t, err, "5xx response is returned to the caller")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, uint32(1), client.Counts().ConsecutiveFailures)
}

func TestClient_RetriesWhenConfigured(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.ClientConfig{
		Name:            "gios",
		MaxRetries:      5,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
	})

	resp, err := get(t, context.Background(), client, server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_4xxIsNotAFailure(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.ClientConfig{
		Name:            "gios",
		MaxRetries:      3,
		InitialInterval: 5 * time.Millisecond,
	})

	for range resilience.DefaultTripThreshold + 1 {
		resp, err := get(t, context.Background(), client, server.URL)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
	assert.Equal(t, int32(resilience.DefaultTripThreshold+1), attempts.Load())
	assert.Equal(t, gobreaker.StateClosed, client.State())
}

func TestClient_OpensAfterConsecutiveFailures(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.DefaultClientConfig("gios"))

	for range resilience.DefaultTripThreshold {
		_, err := get(t, context.Background(), client, server.URL)
		require.NoError(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, client.State())

	_, err := get(t, context.Background(), client, server.URL)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(resilience.DefaultTripThreshold), attempts.Load(), "open breaker must not reach the upstream")
}

func TestClient_HalfOpenRecovers(t *testing.T) {
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	breaker := resilience.DefaultBreakerConfig("gios")
	breaker.OpenFor = 20 * time.Millisecond
	breaker.Trip = resilience.TripAfterConsecutive(1)
	client := resilience.NewClient(resilience.ClientConfig{Name: "gios", Breaker: &breaker})

	_, err := get(t, context.Background(), client, server.URL)
	require.NoError(t, err)
	require.Equal(t, gobreaker.StateOpen, client.State())

	healthy.Store(true)
	require.Eventually(t, func() bool {
		return client.State() == gobreaker.StateHalfOpen
	}, time.Second, 5*time.Millisecond)

	resp, err := get(t, context.Background(), client, server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, gobreaker.StateClosed, client.State())
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	cfg := resilience.DefaultClientConfig("gios")
	cfg.Timeout = 50 * time.Millisecond
	client := resilience.NewClient(cfg)

	_, err := get(t, context.Background(), client, server.URL)
	assert.Error(t, err)
	assert.Equal(t, uint32(1), client.Counts().TotalFailures)
}

func TestClient_CancelledRequestDoesNotCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.DefaultClientConfig("gios"))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := get(t, ctx, client, server.URL)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint32(0), client.Counts().TotalFailures)
}

func TestClient_Redirects(t *testing.T) {
	var followed atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/target" {
			followed.Store(true)
			return
		}
		http.Redirect(w, r, "/target", http.StatusFound)
	}))
	defer server.Close()

	t.Run("not followed by default", func(t *testing.T) {
		client := resilience.NewClient(resilience.DefaultClientConfig("gios"))
		resp, err := get(t, context.Background(), client, server.URL+"/start")
		require.NoError(t, err)
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.False(t, followed.Load())
	})

	t.Run("followed when enabled", func(t *testing.T) {
		cfg := resilience.DefaultClientConfig("gios")
		cfg.FollowRedirects = true
		client := resilience.NewClient(cfg)
		resp, err := get(t, context.Background(), client, server.URL+"/start")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, followed.Load())
	})
}

func TestTripPolicies(t *testing.T) {
	tests := []struct {
		name   string
		policy resilience.TripPolicy
		counts gobreaker.Counts
		want   bool
	}{
		{"consecutive below", resilience.TripAfterConsecutive(5), gobreaker.Counts{ConsecutiveFailures: 4}, false},
		{"consecutive reached", resilience.TripAfterConsecutive(5), gobreaker.Counts{ConsecutiveFailures: 5}, true},
		{"ratio too few requests", resilience.TripOnFailureRatio(5, 0.5), gobreaker.Counts{Requests: 4, TotalFailures: 4}, false},
		{"ratio low", resilience.TripOnFailureRatio(5, 0.5), gobreaker.Counts{Requests: 10, TotalFailures: 4}, false},
		{"ratio reached", resilience.TripOnFailureRatio(5, 0.5), gobreaker.Counts{Requests: 10, TotalFailures: 5}, true},
		{"ratio no requests", resilience.TripOnFailureRatio(0, 0.5), gobreaker.Counts{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy(tt.counts))
		})
	}
}

func TestDefaultClientConfig(t *testing.T) {
	cfg := resilience.DefaultClientConfig("gios")

	assert.Equal(t, "gios", cfg.Name)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Zero(t, cfg.MaxRetries)
	assert.False(t, cfg.FollowRedirects)
	require.NotNil(t, cfg.Breaker)
	assert.Equal(t, uint32(1), cfg.Breaker.HalfOpenProbes)
	assert.Equal(t, 60*time.Second, cfg.Breaker.OpenFor)
}

func TestStatusError(t *testing.T) {
	err := &resilience.StatusError{StatusCode: http.StatusBadGateway}
	assert.Equal(t, "upstream returned 502 Bad Gateway", err.Error())
}

func TestLogStateChanges(t *testing.T) {
	var buf bytes.Buffer
	log := resilience.LogStateChanges(zerolog.New(&buf))

	log("gios", gobreaker.StateClosed, gobreaker.StateOpen)
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"provider":"gios"`)
	assert.Contains(t, buf.String(), `"to":"open"`)

	buf.Reset()
	log("gios", gobreaker.StateHalfOpen, gobreaker.StateClosed)
	assert.Contains(t, buf.String(), `"level":"info"`)
}
