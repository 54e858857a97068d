package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SessionPrefix namespaces persisted wizard sessions inside the settings table.
const SessionPrefix = "wizard.session."

// Get returns the value stored under key.
func (db *DB) Get(key string) (string, bool, error) {
	var value string
	err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (db *DB) Set(key, value string) error {
	_, err := db.conn.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (db *DB) Delete(key string) error {
	if _, err := db.conn.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Clear removes every stored setting except persisted sessions.
func (db *DB) Clear() (int64, error) {
	res, err := db.conn.Exec("DELETE FROM settings WHERE key NOT LIKE ?", SessionPrefix+"%")
	if err != nil {
		return 0, fmt.Errorf("clearing settings: %w", err)
	}
	return res.RowsAffected()
}

// List returns settings whose key starts with prefix, ordered by key.
func (db *DB) List(prefix string) ([]Setting, error) {
	rows, err := db.conn.Query(
		"SELECT key, value, updated_at FROM settings WHERE substr(key, 1, length(?)) = ? ORDER BY key",
		prefix, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var s Setting
		if err := rows.Scan(&s.Key, &s.Value, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetJSON decodes the value under key into v.
func (db *DB) GetJSON(key string, v any) (bool, error) {
	raw, ok, err := db.Get(key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v as JSON under key.
func (db *DB) SetJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return db.Set(key, string(data))
}

// SessionKey is the settings key for a project's wizard session.
func SessionKey(projectID string) string {
	return SessionPrefix + projectID
}

// SessionProjects lists the projects that have a stored session.
func (db *DB) SessionProjects() ([]string, error) {
	settings, err := db.List(SessionPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(settings))
	for i, s := range settings {
		ids[i] = strings.TrimPrefix(s.Key, SessionPrefix)
	}
	return ids, nil
}
