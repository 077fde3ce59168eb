package settings

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rsclarke/netcap/internal/db"
)

const (
	keyServerURL    = "server_url"
	keyScopeDomains = "scope_domains"
)

// SQLitePersister stores settings in the settings table.
type SQLitePersister struct {
	db *sql.DB
}

// NewSQLitePersister creates a SQLitePersister with the given database connection.
func NewSQLitePersister(database *sql.DB) *SQLitePersister {
	return &SQLitePersister{db: database}
}

// Save writes both settings in one transaction.
func (p *SQLitePersister) Save(ctx context.Context, s Snapshot) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settings transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := db.SetSetting(tx, keyServerURL, s.ServerURL); err != nil {
		return err
	}
	if err := db.SetSetting(tx, keyScopeDomains, s.ScopeDomains); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settings: %w", err)
	}
	return nil
}

// Load reads persisted settings, falling back to defaults for values that
// have never been stored.
func (p *SQLitePersister) Load(_ context.Context, defaults Snapshot) (Snapshot, error) {
	out := defaults

	var serverURL string
	found, err := db.GetSetting(p.db, keyServerURL, &serverURL)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load server url: %w", err)
	}
	if found && serverURL != "" {
		out.ServerURL = serverURL
	}

	var domains []string
	found, err = db.GetSetting(p.db, keyScopeDomains, &domains)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load scope domains: %w", err)
	}
	if found {
		out.ScopeDomains = domains
	}

	return Normalize(out), nil
}
