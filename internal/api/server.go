// Package api exposes the backtest service over HTTP: run submission,
// run status, health, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quantlark/tracer/internal/api/middleware"
	"github.com/quantlark/tracer/internal/api/response"
	"github.com/quantlark/tracer/internal/core"
	"github.com/quantlark/tracer/internal/job"
	"github.com/quantlark/tracer/internal/metrics"
	"github.com/quantlark/tracer/internal/strategy"
)

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	APIKey      string
	MetricsPath string // empty disables the metrics endpoint
}

// Server is the HTTP front end.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	runner     *job.Runner
}

// NewServer wires the routes and middleware.
func NewServer(cfg Config, runner *job.Runner, reg *metrics.Registry, logger *zap.Logger) *Server {
	s := &Server{logger: logger, runner: runner}

	mux := http.NewServeMux()

	authed := middleware.APIKeyAuth(cfg.APIKey)
	mux.Handle("POST /api/backtest", authed(http.HandlerFunc(s.handleSubmit)))
	mux.Handle("GET /api/backtest", authed(http.HandlerFunc(s.handleList)))
	mux.Handle("GET /api/backtest/{id}", authed(http.HandlerFunc(s.handleGet)))
	mux.HandleFunc("GET /api/health", s.handleHealth)

	if cfg.MetricsPath != "" && reg != nil {
		mux.Handle("GET "+cfg.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = mux
	if reg != nil {
		handler = metrics.HTTPMiddleware(reg)(handler)
	}
	handler = metrics.LoggingMiddleware(logger)(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the configured handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// submitBody is the wire format for a run submission. Params may be
// omitted to run with the tuned defaults.
type submitBody struct {
	Symbol   string           `json:"symbol"`
	Interval string           `json:"interval"`
	Start    time.Time        `json:"start"`
	End      time.Time        `json:"end"`
	Mode     string           `json:"mode,omitempty"`
	Batch    bool             `json:"batch,omitempty"`
	Params   *strategy.Params `json:"params,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, http.StatusBadRequest,
			core.WrapError(core.ErrInvalidParams, err))
		return
	}
	if body.Symbol == "" || body.Interval == "" {
		response.Error(w, http.StatusBadRequest,
			core.WrapErrorf(core.ErrInvalidParams, "symbol and interval are required"))
		return
	}

	params := strategy.Default()
	if body.Params != nil {
		params = *body.Params
	}

	run, err := s.runner.Submit(job.SubmitRequest{
		Symbol:   body.Symbol,
		Interval: body.Interval,
		Start:    body.Start,
		End:      body.End,
		Mode:     body.Mode,
		Batch:    body.Batch,
		Params:   params,
	})
	if err != nil {
		response.Error(w, response.StatusFor(err), err)
		return
	}

	response.JSON(w, http.StatusAccepted, run)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	run, err := s.runner.Get(r.PathValue("id"))
	if err != nil {
		response.Error(w, response.StatusFor(err), err)
		return
	}
	response.JSON(w, http.StatusOK, run)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, s.runner.List())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
