package db

import (
	"context"
	"fmt"
)

type APIKey struct {
	KeyPrefix  string  `db:"key_prefix" json:"keyPrefix"`
	Name       string  `db:"name" json:"name"`
	CreatedAt  string  `db:"created_at" json:"createdAt"`
	LastUsedAt *string `db:"last_used_at" json:"lastUsedAt,omitempty"`
}

// CreateAPIKey stores only the sha256 hash and a display prefix of the key.
func (db *DB) CreateAPIKey(ctx context.Context, userID, name, keyHash, keyPrefix string) error {
	if name == "" {
		name = "default"
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO api_keys (key_hash, key_prefix, user_id, name, created_at)
		VALUES (?, ?, ?, ?, ?)`, keyHash, keyPrefix, userID, name, isoNow())
	if err != nil {
		return fmt.Errorf("creating api key: %w", err)
	}
	return nil
}

// FindUserByAPIKey resolves a non-revoked key hash to its user.
func (db *DB) FindUserByAPIKey(ctx context.Context, keyHash string) (*User, error) {
	return scanUser(db.QueryRowContext(ctx, `
		SELECT `+prefixed("u", userColumns)+`
		FROM api_keys k JOIN users u ON u.id = k.user_id
		WHERE k.key_hash = ? AND k.revoked = 0`, keyHash))
}

func (db *DB) TouchAPIKey(ctx context.Context, keyHash string) error {
	_, err := db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE key_hash = ?`, isoNow(), keyHash)
	return err
}

// ListAPIKeys never exposes hashes; prefixes are shown as "sk-xxxxxxx...".
func (db *DB) ListAPIKeys(ctx context.Context, userID string) ([]APIKey, error) {
	keys := []APIKey{}
	if err := db.x.SelectContext(ctx, &keys, `
		SELECT key_prefix || '...' AS key_prefix, name, created_at, last_used_at
		FROM api_keys WHERE user_id = ? AND revoked = 0 ORDER BY created_at DESC`, userID); err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey matches either the full hash or the stored prefix.
func (db *DB) RevokeAPIKey(ctx context.Context, userID, keyHash, keyPrefix string) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE api_keys SET revoked = 1
		WHERE user_id = ? AND revoked = 0 AND (key_hash = ? OR key_prefix = ?)`, userID, keyHash, keyPrefix)
	return affected(res, err)
}
