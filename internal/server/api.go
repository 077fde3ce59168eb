// Package server implements the settings API: live capture settings,
// health and Prometheus metrics.
package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rsclarke/netcap/internal/api"
	"github.com/rsclarke/netcap/internal/auth"
	"github.com/rsclarke/netcap/internal/capture"
	"github.com/rsclarke/netcap/internal/db"
	"github.com/rsclarke/netcap/internal/settings"
)

const healthTimeout = 2 * time.Second

// StatsSource reports engine counts for the health endpoint.
type StatsSource interface {
	Stats(ctx context.Context) (capture.Stats, error)
}

// SettingsStore is the live settings holder.
type SettingsStore interface {
	Snapshot() settings.Snapshot
	Update(ctx context.Context, next settings.Snapshot) (settings.Snapshot, error)
}

// APIServer serves the settings API. When DB is set, /v1 routes require a
// bearer API key stored in it.
type APIServer struct {
	DB       *sql.DB
	Settings SettingsStore
	Engine   StatsSource
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// AuthMiddleware validates API key authentication for protected routes.
func (s *APIServer) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || apiKey == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		prefix, _, err := auth.Parse(apiKey)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		storedKey, err := db.GetAPIKeyByPrefix(s.DB, prefix)
		if err != nil {
			s.logger().Error("api key lookup failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "database error")
			return
		}
		if storedKey == nil || storedKey.RevokedAt != nil || !auth.Verify(apiKey, storedKey.KeyHash) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the HTTP handler for the API server.
func (s *APIServer) Handler() http.Handler {
	v1 := http.NewServeMux()
	v1.HandleFunc("GET /v1/settings", s.handleGetSettings)
	v1.HandleFunc("PUT /v1/settings", s.handleUpdateSettings)

	var protected http.Handler = v1
	if s.DB != nil {
		protected = s.AuthMiddleware(v1)
	}

	gatherer := s.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/", protected)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (s *APIServer) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toAPISettings(s.Settings.Snapshot()))
}

func (s *APIServer) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateSettingsRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if dec.Decode(&struct{}{}) != io.EOF {
		writeError(w, http.StatusBadRequest, "unexpected trailing data")
		return
	}

	next := s.Settings.Snapshot()
	if req.ServerURL != nil {
		next.ServerURL = *req.ServerURL
	}
	if req.ScopeDomains != nil {
		next.ScopeDomains = *req.ScopeDomains
	}

	updated, err := s.Settings.Update(r.Context(), next)
	if errors.Is(err, settings.ErrInvalid) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger().Error("settings update failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	writeJSON(w, http.StatusOK, toAPISettings(updated))
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Engine == nil {
		writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	stats, err := s.Engine.Stats(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, api.HealthResponse{Status: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, api.HealthResponse{
		Status:      "ok",
		Connections: stats.Connections,
		InFlight:    stats.InFlight,
	})
}

func (s *APIServer) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func toAPISettings(snap settings.Snapshot) api.Settings {
	domains := snap.ScopeDomains
	if domains == nil {
		domains = []string{}
	}
	return api.Settings{
		ServerURL:    snap.ServerURL,
		ScopeDomains: domains,
		IndexURL:     snap.IndexURL(),
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
