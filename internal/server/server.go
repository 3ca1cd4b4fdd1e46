// Package server exposes the fleet aggregation endpoints: hosts push
// their state here and operators query rolled-up health. Payloads are
// CBOR on the wire; the self-metrics registry is served alongside.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"hwpulse/internal/access"
	"hwpulse/internal/encoding"
	"hwpulse/internal/fleet"
	"hwpulse/internal/logger"
	"hwpulse/internal/telemetry"
)

const authHeader = "X-API-Key"

type errorBody struct {
	Error string `json:"error" cbor:"1,keyasint"`
}

// Server is the aggregator-side HTTP surface.
type Server struct {
	fleet *fleet.Aggregator
	ctrl  *access.Controller
	http  *http.Server
}

// New builds a server on addr.
func New(addr string, agg *fleet.Aggregator, ctrl *access.Controller) *Server {
	s := &Server{fleet: agg, ctrl: ctrl}

	mux := http.NewServeMux()
	mux.HandleFunc("/fleet/report", s.handleReport)
	mux.HandleFunc("/fleet/health", s.handleHealth)
	mux.HandleFunc("/fleet/hosts", s.handleHosts)
	mux.Handle("/metrics", telemetry.Handler())

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	logger.Info("fleet server listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// authorize gates one request and writes the typed denial itself.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, scope access.Scope) bool {
	err := s.ctrl.Authorize(r.Header.Get(authHeader), scope)
	if err == nil {
		return true
	}
	status := http.StatusUnauthorized
	if errors.Is(err, access.ErrRateLimited) {
		status = http.StatusTooManyRequests
		retry := s.ctrl.RetryAfter(r.Header.Get(authHeader))
		w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
	}
	encoding.WriteCBOR(w, status, errorBody{Error: err.Error()})
	return false
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r, access.ScopeAdmin) {
		return
	}

	var st fleet.HostState
	if err := encoding.DecodeRequest(r, &st); err != nil {
		encoding.WriteCBOR(w, http.StatusBadRequest, errorBody{Error: "malformed report"})
		return
	}
	if st.HostID == "" {
		encoding.WriteCBOR(w, http.StatusBadRequest, errorBody{Error: "missing host_id"})
		return
	}
	s.fleet.Report(st)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r, access.ScopeReadMetrics) {
		return
	}

	q := r.URL.Query()
	now := time.Now()
	if host := q.Get("host"); host != "" {
		score, ok := s.fleet.HostScore(host, now)
		if !ok {
			encoding.WriteCBOR(w, http.StatusNotFound, errorBody{Error: "host not found"})
			return
		}
		encoding.WriteCBOR(w, http.StatusOK, score)
		return
	}
	if tag, value := q.Get("tag"), q.Get("value"); tag != "" {
		gs, ok := s.fleet.GroupScore(tag, value, now)
		if !ok {
			encoding.WriteCBOR(w, http.StatusNotFound, errorBody{Error: "no hosts carry tag"})
			return
		}
		encoding.WriteCBOR(w, http.StatusOK, gs)
		return
	}
	encoding.WriteCBOR(w, http.StatusBadRequest, errorBody{Error: "host or tag required"})
}

func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r, access.ScopeReadMetrics) {
		return
	}
	encoding.WriteCBOR(w, http.StatusOK, s.fleet.FleetSnapshot(time.Now()))
}
