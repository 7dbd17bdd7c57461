package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stationsJSON = `[
	{"id": 114, "stationName": "Wrocław, ul. Bartnicza", "city": {"commune": {"provinceName": "DOLNOŚLĄSKIE"}}},
	{"id": 400, "stationName": "Kraków, Aleja Krasińskiego", "city": {"commune": {"provinceName": "MAŁOPOLSKIE"}}}
]`

func setupEnv(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("GIOS_BASE_URL", baseURL)
	t.Setenv("SNAPSHOT_BACKEND", "file")
	t.Setenv("SNAPSHOT_DIR", filepath.Join(dir, "snapshots"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("APP_ENV", "")
	return filepath.Join(dir, "snapshots")
}

func TestRun_Stations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(stationsJSON))
	}))
	defer server.Close()
	snapshots := setupEnv(t, server.URL)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"stations", "-q", "kraków"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	assert.Contains(t, stdout.String(), "Kraków, Aleja Krasińskiego")
	assert.NotContains(t, stdout.String(), "Wrocław")

	_, err := os.Stat(filepath.Join(snapshots, "stations.json"))
	assert.NoError(t, err)
}

func TestRun_StationsOffline(t *testing.T) {
	snapshots := setupEnv(t, "http://127.0.0.1:1")
	require.NoError(t, os.MkdirAll(snapshots, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(snapshots, "stations.json"), []byte(stationsJSON), 0o600))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"stations", "-offline"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	assert.Contains(t, stdout.String(), "Wrocław, ul. Bartnicza")
	assert.Contains(t, stdout.String(), "MAŁOPOLSKIE")
}

func TestRun_UpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	setupEnv(t, server.URL)

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run(context.Background(), []string{"stations"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "HTTP 500")
	assert.Empty(t, stdout.String())
}

func TestRun_BadStationArg(t *testing.T) {
	setupEnv(t, "http://127.0.0.1:1")

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), []string{"report", "abc"}, &stdout, &stderr))
	assert.Equal(t, 2, run(context.Background(), []string{"chart"}, &stdout, &stderr))
}
