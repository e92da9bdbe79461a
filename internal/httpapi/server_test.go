package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider struct{ status Status }

func (s staticProvider) Status() Status { return s.status }

func testRouter(p StatusProvider) http.Handler {
	s := &Server{provider: p}
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/v1/status", s.handleStatus)
	return r
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(testRouter(staticProvider{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
}

func TestStatus(t *testing.T) {
	provider := staticProvider{status: Status{
		StartedAt:      time.Now().Add(-time.Minute),
		UptimeSeconds:  60,
		Cameras:        []CameraStatus{{ID: "cam1", Name: "Front Door", Online: true}},
		CatalogEntries: 3,
		MQTTQueueDepth: 1,
	}}
	srv := httptest.NewServer(testRouter(provider))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var got Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, int64(60), got.UptimeSeconds)
	require.Len(t, got.Cameras, 1)
	assert.True(t, got.Cameras[0].Online)
	assert.Equal(t, 3, got.CatalogEntries)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := httptest.NewServer(testRouter(staticProvider{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_StartAndShutdown(t *testing.T) {
	s := New("127.0.0.1:0", staticProvider{})
	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}

func TestServer_BindFailure(t *testing.T) {
	assert.Error(t, New("256.0.0.1:99999", staticProvider{}).Start())
}
