package settings

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/rsclarke/netcap/internal/db"
)

type mockPersister struct {
	saved []Snapshot
	err   error
}

func (m *mockPersister) Save(_ context.Context, s Snapshot) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, s)
	return nil
}

func TestDefault(t *testing.T) {
	d := Default()
	if d.ServerURL != "http://localhost:8000" {
		t.Errorf("ServerURL = %q", d.ServerURL)
	}
	if len(d.ScopeDomains) != 0 {
		t.Errorf("ScopeDomains = %v, want empty", d.ScopeDomains)
	}
	if got := d.IndexURL(); got != "http://localhost:8000/index" {
		t.Errorf("IndexURL() = %q", got)
	}
}

func TestIndexURLTrimsTrailingSlash(t *testing.T) {
	s := Snapshot{ServerURL: "http://indexer:9000/"}
	if got := s.IndexURL(); got != "http://indexer:9000/index" {
		t.Errorf("IndexURL() = %q", got)
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize(Snapshot{
		ServerURL:    "  http://localhost:8000 ",
		ScopeDomains: []string{" Example.com", "", "example.com", "test.io ", "  "},
	})
	want := Snapshot{
		ServerURL:    "http://localhost:8000",
		ScopeDomains: []string{"example.com", "test.io"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Normalize() = %+v, want %+v", got, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"http", "http://localhost:8000", false},
		{"https with path", "https://indexer.example.com/api", false},
		{"empty", "", true},
		{"no scheme", "localhost:8000", true},
		{"ftp", "ftp://example.com", true},
		{"no host", "http://", true},
		{"garbage", "http://[::1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(Snapshot{ServerURL: tt.url})
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestParseDomains(t *testing.T) {
	got := ParseDomains(" example.com, ,test.io,,api.local ")
	want := []string{"example.com", "test.io", "api.local"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseDomains() = %v, want %v", got, want)
	}
	if got := ParseDomains(""); len(got) != 0 {
		t.Errorf("ParseDomains(\"\") = %v, want empty", got)
	}
}

func TestStoreUpdate(t *testing.T) {
	p := &mockPersister{}
	s := NewStore(Default(), p, zap.NewNop())

	var notified []Snapshot
	s.Subscribe(func(snap Snapshot) { notified = append(notified, snap) })

	before := s.Snapshot()

	next, err := s.Update(context.Background(), Snapshot{
		ServerURL:    "http://indexer:9000",
		ScopeDomains: []string{"Example.com"},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	want := Snapshot{ServerURL: "http://indexer:9000", ScopeDomains: []string{"example.com"}}
	if !reflect.DeepEqual(next, want) {
		t.Errorf("Update() = %+v, want %+v", next, want)
	}
	if !reflect.DeepEqual(s.Snapshot(), want) {
		t.Errorf("Snapshot() = %+v, want %+v", s.Snapshot(), want)
	}
	if len(p.saved) != 1 || !reflect.DeepEqual(p.saved[0], want) {
		t.Errorf("persisted = %+v", p.saved)
	}
	if len(notified) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notified))
	}

	if before.ServerURL != DefaultServerURL || len(before.ScopeDomains) != 0 {
		t.Errorf("earlier snapshot changed: %+v", before)
	}
}

func TestStoreUpdateRejectsInvalid(t *testing.T) {
	p := &mockPersister{}
	s := NewStore(Default(), p, zap.NewNop())

	_, err := s.Update(context.Background(), Snapshot{ServerURL: "not a url"})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if len(p.saved) != 0 {
		t.Error("invalid settings must not be persisted")
	}
	if s.Snapshot().ServerURL != DefaultServerURL {
		t.Error("invalid settings must not be published")
	}
}

func TestStoreUpdatePersistError(t *testing.T) {
	s := NewStore(Default(), &mockPersister{err: errors.New("disk full")}, zap.NewNop())

	called := false
	s.Subscribe(func(Snapshot) { called = true })

	_, err := s.Update(context.Background(), Snapshot{ServerURL: "http://indexer:9000"})
	if err == nil {
		t.Fatal("expected error")
	}
	if s.Snapshot().ServerURL != DefaultServerURL {
		t.Error("snapshot must not change when persistence fails")
	}
	if called {
		t.Error("subscribers must not be notified when persistence fails")
	}
}

func TestSQLitePersisterRoundTrip(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	p := NewSQLitePersister(database)
	ctx := context.Background()

	loaded, err := p.Load(ctx, Default())
	if err != nil {
		t.Fatalf("Load on empty db failed: %v", err)
	}
	if !reflect.DeepEqual(loaded, Default()) {
		t.Errorf("Load on empty db = %+v, want defaults", loaded)
	}

	s := NewStore(loaded, p, zap.NewNop())
	want := Snapshot{ServerURL: "https://indexer.example.com", ScopeDomains: []string{"example.com", "test.io"}}
	if _, err := s.Update(ctx, want); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	loaded, err = p.Load(ctx, Default())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(loaded, want) {
		t.Errorf("Load() = %+v, want %+v", loaded, want)
	}
}

func TestSQLitePersisterSaveIsAtomic(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	p := NewSQLitePersister(database)
	ctx := context.Background()

	before := Snapshot{ServerURL: "https://old.example.com", ScopeDomains: []string{"old.com"}}
	if err := p.Save(ctx, before); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Fail the second write of the next Save.
	for _, stmt := range []string{
		`CREATE TRIGGER reject_scope_insert BEFORE INSERT ON settings
		 WHEN NEW.key = 'scope_domains' BEGIN SELECT RAISE(ABORT, 'scope rejected'); END`,
		`CREATE TRIGGER reject_scope_update BEFORE UPDATE ON settings
		 WHEN NEW.key = 'scope_domains' BEGIN SELECT RAISE(ABORT, 'scope rejected'); END`,
	} {
		if _, err := database.Exec(stmt); err != nil {
			t.Fatalf("create trigger: %v", err)
		}
	}

	after := Snapshot{ServerURL: "https://new.example.com", ScopeDomains: []string{"new.com"}}
	if err := p.Save(ctx, after); err == nil {
		t.Fatal("expected Save to fail")
	}

	loaded, err := p.Load(ctx, Default())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(loaded, before) {
		t.Errorf("Load() = %+v, want the previous settings %+v", loaded, before)
	}
}
