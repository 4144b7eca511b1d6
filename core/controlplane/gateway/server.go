// Package gateway exposes the analysis trigger over HTTP and streams pipeline
// stage events to websocket clients.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cordum/cjcard/core/analysis/pipeline"
	"github.com/cordum/cjcard/core/analysis/report"
	"github.com/cordum/cjcard/core/infra/logging"
	"github.com/cordum/cjcard/core/infra/metrics"
	"github.com/google/uuid"
)

const (
	successMessage  = "Analysis completed successfully"
	requestIDHeader = "X-Request-ID"
	shutdownTimeout = 10 * time.Second
)

// Runner executes one analysis request.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*report.AnalysisResult, error)
}

// Readiness reports whether the analyzer runtime is installed.
type Readiness interface {
	Ready() bool
}

// BusStatus is implemented by the NATS bus.
type BusStatus interface {
	IsConnected() bool
	Status() string
}

// Options configure a Server. Only Runner is required.
type Options struct {
	Runner  Runner
	Metrics metrics.GatewayMetrics
	Hub     *Hub
	Runtime Readiness
	Bus     BusStatus
}

type Server struct {
	runner  Runner
	metrics metrics.GatewayMetrics
	hub     *Hub
	runtime Readiness
	bus     BusStatus
	started time.Time
}

func NewServer(opts Options) *Server {
	m := opts.Metrics
	if m == nil {
		m = metrics.Noop{}
	}
	return &Server{
		runner:  opts.Runner,
		metrics: m,
		hub:     opts.Hub,
		runtime: opts.Runtime,
		bus:     opts.Bus,
		started: time.Now(),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/analyze", s.instrumented("/api/analyze", s.handleAnalyze))
	mux.HandleFunc("POST /api/analyze", s.instrumented("/api/analyze", s.handleAnalyze))
	mux.HandleFunc("GET /api/v1/status", s.instrumented("/api/v1/status", s.handleStatus))
	if s.hub != nil {
		mux.HandleFunc("GET /api/v1/stream", s.instrumented("/api/v1/stream", s.hub.ServeHTTP))
	}
	return corsMiddleware(mux)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	reqID := strings.TrimSpace(r.Header.Get(requestIDHeader))
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, reqID)

	repo := r.URL.Query().Get("repo")
	res, err := s.runner.Run(r.Context(), pipeline.Request{ID: reqID, Repo: repo})
	if err != nil {
		status := http.StatusInternalServerError
		if pipeline.IsClientError(err) {
			status = http.StatusBadRequest
		}
		logging.Error("gateway", "analysis failed", "request_id", reqID, "repo", repo, "status", status, "error", err)
		writeJSON(w, status, NewEnvelope(nil, err))
		return
	}
	writeJSON(w, http.StatusOK, NewEnvelope(res, nil))
}

type statusResponse struct {
	RuntimeReady bool   `json:"runtime_ready"`
	Bus          string `json:"bus"`
	BusConnected bool   `json:"bus_connected"`
	StreamClient int    `json:"stream_clients"`
	UptimeSec    int64  `json:"uptime_seconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Bus:       "disabled",
		UptimeSec: int64(time.Since(s.started).Seconds()),
	}
	if s.runtime != nil {
		resp.RuntimeReady = s.runtime.Ready()
	}
	if s.bus != nil {
		resp.Bus = s.bus.Status()
		resp.BusConnected = s.bus.IsConnected()
	}
	if s.hub != nil {
		resp.StreamClient = s.hub.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListenAndServe serves the API on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	logging.Info("gateway", "http listening", "addr", addr)
	return serveUntilDone(ctx, srv)
}

// ServeMetrics exposes /metrics on its own listener until ctx is canceled.
func ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	logging.Info("gateway", "metrics listening", "addr", addr+"/metrics")
	return serveUntilDone(ctx, srv)
}

func serveUntilDone(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("gateway", "encode response failed", "error", err)
	}
}
