package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rsclarke/netcap/internal/api"
	"github.com/rsclarke/netcap/internal/auth"
	"github.com/rsclarke/netcap/internal/capture"
	"github.com/rsclarke/netcap/internal/db"
	"github.com/rsclarke/netcap/internal/settings"
)

type stubStats struct {
	stats capture.Stats
	err   error
}

func (s stubStats) Stats(context.Context) (capture.Stats, error) { return s.stats, s.err }

func setupTestAPIServer(t *testing.T) (*APIServer, string) {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "netcap_api_test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	key, err := auth.NewKey()
	if err != nil {
		t.Fatalf("generate API key: %v", err)
	}
	if _, err := db.CreateAPIKey(database, key.Prefix, key.Hash); err != nil {
		t.Fatalf("create API key: %v", err)
	}

	store := settings.NewStore(settings.Default(), settings.NewSQLitePersister(database), zap.NewNop())
	srv := &APIServer{
		DB:       database,
		Settings: store,
		Engine:   stubStats{stats: capture.Stats{Connections: 2, InFlight: 5}},
		Gatherer: prometheus.NewRegistry(),
		Logger:   zap.NewNop(),
	}
	return srv, key.Display
}

func do(t *testing.T, h http.Handler, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if key != "" {
		r.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	srv, key := setupTestAPIServer(t)
	h := srv.Handler()

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic " + key, http.StatusUnauthorized},
		{"malformed key", "Bearer not-a-key", http.StatusUnauthorized},
		{"unknown prefix", "Bearer netcap_zzzzzzzzzzzz_secret", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + key[:len("netcap_")+12] + "_wrongsecret", http.StatusUnauthorized},
		{"valid key", "Bearer " + key, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/v1/settings", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized {
				var resp api.ErrorResponse
				_ = json.NewDecoder(w.Body).Decode(&resp)
				if resp.Error != "unauthorized" {
					t.Errorf("error = %q", resp.Error)
				}
			}
		})
	}
}

func TestAuthMiddlewareRevokedKey(t *testing.T) {
	srv, key := setupTestAPIServer(t)
	prefix, _, err := auth.Parse(key)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, err := db.RevokeAPIKey(srv.DB, prefix); err != nil {
		t.Fatalf("RevokeAPIKey failed: %v", err)
	}

	w := do(t, srv.Handler(), http.MethodGet, "/v1/settings", key, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestGetSettings(t *testing.T) {
	srv, key := setupTestAPIServer(t)

	w := do(t, srv.Handler(), http.MethodGet, "/v1/settings", key, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var resp api.Settings
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ServerURL != settings.DefaultServerURL {
		t.Errorf("server_url = %q", resp.ServerURL)
	}
	if resp.ScopeDomains == nil || len(resp.ScopeDomains) != 0 {
		t.Errorf("scope_domains = %v, want empty list", resp.ScopeDomains)
	}
	if resp.IndexURL != "http://localhost:8000/index" {
		t.Errorf("index_url = %q", resp.IndexURL)
	}
}

func TestUpdateSettings(t *testing.T) {
	srv, key := setupTestAPIServer(t)
	h := srv.Handler()

	w := do(t, h, http.MethodPut, "/v1/settings", key,
		`{"server_url":"https://indexer.example.com","scope_domains":[" Example.com ","","api.test.io"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var resp api.Settings
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ServerURL != "https://indexer.example.com" {
		t.Errorf("server_url = %q", resp.ServerURL)
	}
	if strings.Join(resp.ScopeDomains, ",") != "example.com,api.test.io" {
		t.Errorf("scope_domains = %v", resp.ScopeDomains)
	}

	// only the server URL changes; domains are kept
	w = do(t, h, http.MethodPut, "/v1/settings", key, `{"server_url":"http://127.0.0.1:9000/"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	snap := srv.Settings.Snapshot()
	if snap.ServerURL != "http://127.0.0.1:9000/" || len(snap.ScopeDomains) != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.IndexURL() != "http://127.0.0.1:9000/index" {
		t.Errorf("index url = %q", snap.IndexURL())
	}

	persisted, err := settings.NewSQLitePersister(srv.DB).Load(context.Background(), settings.Default())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if persisted.ServerURL != snap.ServerURL || len(persisted.ScopeDomains) != 2 {
		t.Errorf("persisted = %+v", persisted)
	}
}

func TestUpdateSettingsClearScope(t *testing.T) {
	srv, key := setupTestAPIServer(t)
	h := srv.Handler()

	do(t, h, http.MethodPut, "/v1/settings", key, `{"scope_domains":["example.com"]}`)
	w := do(t, h, http.MethodPut, "/v1/settings", key, `{"scope_domains":[]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if n := len(srv.Settings.Snapshot().ScopeDomains); n != 0 {
		t.Errorf("scope domains = %d, want 0", n)
	}
}

func TestUpdateSettingsRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"relative url", `{"server_url":"/index"}`, http.StatusBadRequest},
		{"bad scheme", `{"server_url":"ftp://example.com"}`, http.StatusBadRequest},
		{"empty url", `{"server_url":"  "}`, http.StatusBadRequest},
		{"invalid json", `{"server_url":`, http.StatusBadRequest},
		{"unknown field", `{"server":"http://a"}`, http.StatusBadRequest},
		{"trailing data", `{"server_url":"http://a.example.com"} {}`, http.StatusBadRequest},
		{"too large", `{"server_url":"http://a.example.com/` + strings.Repeat("a", 1<<16) + `"}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, key := setupTestAPIServer(t)
			w := do(t, srv.Handler(), http.MethodPut, "/v1/settings", key, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			if srv.Settings.Snapshot().ServerURL != settings.DefaultServerURL {
				t.Error("rejected update must not change settings")
			}
		})
	}
}

type failingStore struct{ snap settings.Snapshot }

func (f failingStore) Snapshot() settings.Snapshot { return f.snap }

func (f failingStore) Update(context.Context, settings.Snapshot) (settings.Snapshot, error) {
	return settings.Snapshot{}, errors.New("disk I/O error")
}

func TestUpdateSettingsPersistFailure(t *testing.T) {
	srv := &APIServer{Settings: failingStore{settings.Default()}, Logger: zap.NewNop()}

	w := do(t, srv.Handler(), http.MethodPut, "/v1/settings", "", `{"server_url":"http://a.example.com"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestNoAuthWithoutDB(t *testing.T) {
	srv := &APIServer{Settings: settings.NewStore(settings.Default(), nil, nil)}

	w := do(t, srv.Handler(), http.MethodGet, "/v1/settings", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := setupTestAPIServer(t)

	w := do(t, srv.Handler(), http.MethodGet, "/healthz", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp api.HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Connections != 2 || resp.InFlight != 5 {
		t.Errorf("health = %+v", resp)
	}

	srv.Engine = stubStats{err: capture.ErrStopped}
	w = do(t, srv.Handler(), http.MethodGet, "/healthz", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when the engine is stopped", w.Code)
	}
}

func TestMetrics(t *testing.T) {
	srv, _ := setupTestAPIServer(t)
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "netcap_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()
	srv.Gatherer = reg

	w := do(t, srv.Handler(), http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("netcap_test_total 1")) {
		t.Errorf("metrics output missing counter:\n%s", w.Body.String())
	}
}

func TestManagedServerRun(t *testing.T) {
	srv := &APIServer{Settings: settings.NewStore(settings.Default(), nil, nil)}
	ms := NewManagedServer("api", DefaultServerConfig("127.0.0.1:0", srv.Handler(), zap.NewNop()))

	if err := ms.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	resp, err := http.Get("http://" + ms.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	ms.Shutdown(ctx)
}

func TestManagedServerRunStopsOnCancel(t *testing.T) {
	ms := NewManagedServer("api", DefaultServerConfig("127.0.0.1:0", http.NotFoundHandler(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ms.Run(ctx) }()
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run() = %v, want nil after cancel", err)
	}
}

func TestManagedServerBindError(t *testing.T) {
	first := NewManagedServer("first", DefaultServerConfig("127.0.0.1:0", http.NotFoundHandler(), nil))
	if err := first.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer first.Shutdown(context.Background())

	second := NewManagedServer("second", DefaultServerConfig(first.Addr(), http.NotFoundHandler(), nil))
	if err := second.Run(context.Background()); err == nil {
		t.Error("expected bind error for an address in use")
	}
}
