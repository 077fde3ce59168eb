package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// APIKey is a stored settings API key. The secret itself is never stored.
type APIKey struct {
	ID        int64
	KeyPrefix string
	KeyHash   []byte
	CreatedAt int64
	RevokedAt *int64
}

// CreateAPIKey inserts a new API key and returns its ID.
func CreateAPIKey(d *sql.DB, prefix string, hash []byte) (int64, error) {
	result, err := d.Exec(
		"INSERT INTO api_keys (key_prefix, key_hash, created_at) VALUES (?, ?, ?)",
		prefix, hash, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert api key: %w", err)
	}
	return result.LastInsertId()
}

// GetAPIKeyByPrefix retrieves an API key by its prefix. It returns nil when
// no key has that prefix.
func GetAPIKeyByPrefix(d *sql.DB, prefix string) (*APIKey, error) {
	row := d.QueryRow(
		"SELECT id, key_prefix, key_hash, created_at, revoked_at FROM api_keys WHERE key_prefix = ?",
		prefix,
	)
	var key APIKey
	err := row.Scan(&key.ID, &key.KeyPrefix, &key.KeyHash, &key.CreatedAt, &key.RevokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query api key: %w", err)
	}
	return &key, nil
}

// ListAPIKeys returns every key, revoked ones included, oldest first.
func ListAPIKeys(d *sql.DB) ([]APIKey, error) {
	rows, err := d.Query("SELECT id, key_prefix, key_hash, created_at, revoked_at FROM api_keys ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query api keys: %w", err)
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var key APIKey
		if err := rows.Scan(&key.ID, &key.KeyPrefix, &key.KeyHash, &key.CreatedAt, &key.RevokedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// RevokeAPIKey marks the key with prefix as revoked. It reports false when
// no active key has that prefix.
func RevokeAPIKey(d *sql.DB, prefix string) (bool, error) {
	result, err := d.Exec(
		"UPDATE api_keys SET revoked_at = ? WHERE key_prefix = ? AND revoked_at IS NULL",
		time.Now().Unix(), prefix,
	)
	if err != nil {
		return false, fmt.Errorf("revoke api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke api key: %w", err)
	}
	return n > 0, nil
}

// CountAPIKeys returns the number of non-revoked API keys.
func CountAPIKeys(d *sql.DB) (int, error) {
	var count int
	if err := d.QueryRow("SELECT COUNT(*) FROM api_keys WHERE revoked_at IS NULL").Scan(&count); err != nil {
		return 0, fmt.Errorf("count api keys: %w", err)
	}
	return count, nil
}
