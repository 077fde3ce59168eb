package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Execer runs a statement. *sql.DB and *sql.Tx implement it.
type Execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// SetSetting stores a setting value under key.
// The value is JSON-encoded before storage.
func SetSetting(d Execer, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %q: %w", key, err)
	}

	_, err = d.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(encoded), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert setting %q: %w", key, err)
	}

	return nil
}

// GetSetting retrieves the setting stored under key.
// Returns (true, nil) if found and successfully decoded into out.
// Returns (false, nil) if the setting has never been stored.
func GetSetting(d *sql.DB, key string, out any) (bool, error) {
	var value string
	err := d.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query setting %q: %w", key, err)
	}

	if err := json.Unmarshal([]byte(value), out); err != nil {
		return false, fmt.Errorf("decode setting %q: %w", key, err)
	}

	return true, nil
}
