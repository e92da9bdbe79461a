// Package httpapi exposes the bridge's operational surface: liveness,
// Prometheus metrics and a JSON status summary.
package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CameraStatus is one camera's row in the status response.
type CameraStatus struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

// Status is the /api/v1/status response body.
type Status struct {
	StartedAt      time.Time      `json:"started_at"`
	UptimeSeconds  int64          `json:"uptime_seconds"`
	Cameras        []CameraStatus `json:"cameras"`
	CatalogEntries int            `json:"catalog_entries"`
	MQTTQueueDepth int            `json:"mqtt_queue_depth"`
}

// StatusProvider supplies the current bridge snapshot.
type StatusProvider interface {
	Status() Status
}

type Server struct {
	addr     string
	provider StatusProvider
	srv      *http.Server
}

func New(addr string, provider StatusProvider) *Server {
	return &Server{addr: addr, provider: provider}
}

// Start binds the listener and serves in the background. A bind failure is
// returned synchronously so startup can abort.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/v1/status", s.handleStatus)

	s.srv = &http.Server{Handler: r}
	go func() {
		_ = s.srv.Serve(ln)
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.provider.Status())
}
