// Package settings holds the live, process-wide capture settings: the
// indexing server URL and the scope domains.
//
// Readers take an immutable Snapshot; writers go through Store.Update, which
// persists the new values, swaps the snapshot and notifies subscribers.
// Decisions already taken on an older snapshot are not revisited.
package settings

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// DefaultServerURL is used until a server URL is configured.
const DefaultServerURL = "http://localhost:8000"

// IndexPath is appended to the server URL to form the delivery endpoint.
const IndexPath = "/index"

// ErrInvalid is returned by Validate and Update for unusable settings.
var ErrInvalid = errors.New("invalid settings")

// Snapshot is one immutable view of the settings. Callers must not modify
// ScopeDomains.
type Snapshot struct {
	ServerURL    string   `json:"server_url"`
	ScopeDomains []string `json:"scope_domains"`
}

// Default returns the settings used when nothing has been configured.
func Default() Snapshot {
	return Snapshot{ServerURL: DefaultServerURL, ScopeDomains: []string{}}
}

// IndexURL returns the endpoint transactions are posted to.
func (s Snapshot) IndexURL() string {
	return strings.TrimSuffix(s.ServerURL, "/") + IndexPath
}

// Normalize trims the server URL and cleans the domain list: entries are
// trimmed, lower-cased, de-duplicated and empty entries dropped.
func Normalize(s Snapshot) Snapshot {
	out := Snapshot{
		ServerURL:    strings.TrimSpace(s.ServerURL),
		ScopeDomains: make([]string, 0, len(s.ScopeDomains)),
	}
	seen := make(map[string]struct{}, len(s.ScopeDomains))
	for _, d := range s.ScopeDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out.ScopeDomains = append(out.ScopeDomains, d)
	}
	return out
}

// Validate checks that the server URL is an absolute http(s) URL.
func Validate(s Snapshot) error {
	if s.ServerURL == "" {
		return fmt.Errorf("%w: server url is required", ErrInvalid)
	}
	u, err := url.Parse(s.ServerURL)
	if err != nil {
		return fmt.Errorf("%w: server url: %v", ErrInvalid, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: server url must be http or https", ErrInvalid)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: server url has no host", ErrInvalid)
	}
	return nil
}

// ParseDomains splits a comma-separated domain list, trimming whitespace and
// skipping empty entries.
func ParseDomains(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Persister saves settings so they survive restarts.
type Persister interface {
	Save(ctx context.Context, s Snapshot) error
}

// Store is the live settings holder.
type Store struct {
	current atomic.Pointer[Snapshot]
	persist Persister
	logger  *zap.Logger

	mu   sync.Mutex
	subs []func(Snapshot)
}

// NewStore creates a Store starting from initial. persist may be nil.
func NewStore(initial Snapshot, persist Persister, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{persist: persist, logger: logger}
	snap := Normalize(initial)
	s.current.Store(&snap)
	return s
}

// Snapshot returns the current settings.
func (s *Store) Snapshot() Snapshot {
	return *s.current.Load()
}

// Update validates, persists and publishes next. Subscribers are called
// synchronously with the new snapshot.
func (s *Store) Update(ctx context.Context, next Snapshot) (Snapshot, error) {
	next = Normalize(next)
	if err := Validate(next); err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.Save(ctx, next); err != nil {
			return Snapshot{}, fmt.Errorf("persist settings: %w", err)
		}
	}

	prev := s.current.Swap(&next)
	s.logger.Info("settings updated",
		zap.String("server_url", next.ServerURL),
		zap.Strings("scope_domains", next.ScopeDomains),
		zap.String("previous_server_url", prev.ServerURL))

	for _, fn := range s.subs {
		fn(next)
	}
	return next, nil
}

// Subscribe registers fn to be called after every successful Update.
func (s *Store) Subscribe(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}
