// Package api exposes the control plane over HTTP: entity staging,
// version lifecycle, configuration import/export, and the agent
// surface. Authentication happens upstream; the caller supplies an
// actor ID used purely for audit attribution.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/harrier/internal/config"
	"grimm.is/harrier/internal/generate"
	"grimm.is/harrier/internal/lifecycle"
	"grimm.is/harrier/internal/logging"
	"grimm.is/harrier/internal/metrics"
	"grimm.is/harrier/internal/store"
)

const maxBodyBytes = 10 << 20

// Server handles API requests.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	manager *lifecycle.Manager
	gen     *generate.Generator
	hub     *Hub
	metrics *metrics.Registry
	log     *logging.Logger
	mux     *http.ServeMux
}

// NewServer wires the HTTP surface. The returned server's hub should
// be handed to the lifecycle manager's OnApplied hook.
func NewServer(cfg *config.Config, st *store.Store, mgr *lifecycle.Manager, gen *generate.Generator) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		manager: mgr,
		gen:     gen,
		hub:     NewHub(),
		metrics: metrics.Get(),
		log:     logging.WithComponent("api"),
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Hub returns the version event hub for OnApplied wiring.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.HandleFunc("POST /api/clusters", s.handleClusterCreate)
	s.mux.HandleFunc("GET /api/clusters", s.handleClusterList)
	s.mux.HandleFunc("GET /api/clusters/{id}", s.handleClusterGet)
	s.mux.HandleFunc("GET /api/clusters/{id}/generate", s.handleGenerate)
	s.mux.HandleFunc("POST /api/clusters/{id}/import", s.handleImport)
	s.mux.HandleFunc("GET /api/clusters/{id}/versions", s.handleVersionList)
	s.mux.HandleFunc("GET /api/clusters/{id}/diff", s.handleVersionDiff)
	s.mux.HandleFunc("GET /api/clusters/{id}/certificates", s.handleCertificateList)

	s.mux.HandleFunc("POST /api/parse", s.handleParse)

	s.mux.HandleFunc("POST /api/listeners", s.handleListenerCreate)
	s.mux.HandleFunc("PUT /api/listeners/{id}", s.handleListenerUpdate)
	s.mux.HandleFunc("DELETE /api/listeners/{id}", s.handleListenerDelete)

	s.mux.HandleFunc("POST /api/pools", s.handlePoolCreate)
	s.mux.HandleFunc("PUT /api/pools/{id}", s.handlePoolUpdate)
	s.mux.HandleFunc("DELETE /api/pools/{id}", s.handlePoolDelete)

	s.mux.HandleFunc("POST /api/members", s.handleMemberCreate)
	s.mux.HandleFunc("PUT /api/members/{id}", s.handleMemberUpdate)
	s.mux.HandleFunc("POST /api/members/{id}/toggle", s.handleMemberToggle)
	s.mux.HandleFunc("DELETE /api/members/{id}", s.handleMemberDelete)

	s.mux.HandleFunc("POST /api/rules", s.handleRuleCreate)
	s.mux.HandleFunc("PUT /api/rules/{id}", s.handleRuleUpdate)
	s.mux.HandleFunc("DELETE /api/rules/{id}", s.handleRuleDelete)

	s.mux.HandleFunc("POST /api/certificates", s.handleCertificateCreate)
	s.mux.HandleFunc("GET /api/certificates/expiring", s.handleCertificateExpiring)
	s.mux.HandleFunc("DELETE /api/certificates/{id}", s.handleCertificateDelete)

	s.mux.HandleFunc("GET /api/versions/{id}", s.handleVersionGet)
	s.mux.HandleFunc("POST /api/versions/{id}/apply", s.handleApply)
	s.mux.HandleFunc("POST /api/versions/{id}/reject", s.handleReject)

	s.mux.HandleFunc("GET /api/agent/config", s.handleAgentConfig)
	s.mux.HandleFunc("POST /api/agent/heartbeat", s.handleAgentHeartbeat)
	s.mux.HandleFunc("GET /api/agent/ws", s.handleAgentSocket)
}

// ServeHTTP dispatches with body limiting and request accounting.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.metrics.APIRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api server listening", "addr", s.cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// actor extracts the authenticated actor ID supplied by the upstream
// auth layer. Attribution only; there are no authorization decisions
// here.
func actor(r *http.Request) string {
	if a := r.Header.Get("X-Harrier-Actor"); a != "" {
		return a
	}
	return "anonymous"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// errStatus maps store and validation errors onto HTTP statuses.
func errStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generate.ErrClusterNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}
