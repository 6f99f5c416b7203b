package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/patrickspencer/buildbat/internal/credentials"
)

const credentialsKey = "credentials"

// GetSetting returns the value stored under key and whether it exists.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "get setting %s", key)
	}
	return value, true, nil
}

// PutSetting stores value under key, replacing any previous value.
func (s *SQLiteStore) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()))
	return errors.Wrapf(err, "put setting %s", key)
}

// LoadCredentials returns the saved machine account, or nil if none was
// saved yet.
func (s *SQLiteStore) LoadCredentials(ctx context.Context) (*credentials.Credentials, error) {
	raw, ok, err := s.GetSetting(ctx, credentialsKey)
	if err != nil || !ok {
		return nil, err
	}
	var c credentials.Credentials
	if err := yaml.Unmarshal([]byte(raw), &c); err != nil {
		return nil, errors.Wrap(err, "decode credentials")
	}
	return &c, nil
}

// SaveCredentials replaces the saved machine account.
func (s *SQLiteStore) SaveCredentials(ctx context.Context, c credentials.Credentials) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode credentials")
	}
	return s.PutSetting(ctx, credentialsKey, string(raw))
}
