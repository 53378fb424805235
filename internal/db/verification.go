package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// VerificationTTL bounds an e-mail sign-in code.
	VerificationTTL = 10 * time.Minute
	// MaxVerificationAttempts burns the code after this many wrong guesses.
	MaxVerificationAttempts = 5
)

type VerificationToken struct {
	Email     string
	CodeHash  string
	Attempts  int
	CreatedAt string
	ExpiresAt string
}

// PutVerificationCode replaces any pending code for email.
func (db *DB) PutVerificationCode(ctx context.Context, email, codeHash string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	created := now()
	_, err := db.ExecContext(ctx, `
		INSERT INTO verification_tokens (email, code_hash, attempts, created_at, expires_at)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			code_hash = excluded.code_hash, attempts = 0,
			created_at = excluded.created_at, expires_at = excluded.expires_at`,
		email, codeHash, isoAt(created), isoAt(created.Add(VerificationTTL)))
	if err != nil {
		return fmt.Errorf("storing verification code: %w", err)
	}
	return nil
}

// CheckVerificationCode looks up the pending code and lets match decide.
// match runs without holding a connection, so a slow hash compare does not
// block other callers. A match consumes the row only if it is still the same
// pending code; a miss counts an attempt.
func (db *DB) CheckVerificationCode(ctx context.Context, email string, match func(hash string) bool) error {
	email = strings.ToLower(strings.TrimSpace(email))
	var t VerificationToken
	err := db.QueryRowContext(ctx, `
		SELECT email, code_hash, attempts, created_at, expires_at
		FROM verification_tokens WHERE email = ?`, email).Scan(&t.Email, &t.CodeHash, &t.Attempts, &t.CreatedAt, &t.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("loading verification code: %w", err)
	}
	if t.ExpiresAt <= isoNow() || t.Attempts >= MaxVerificationAttempts {
		if _, err := db.ExecContext(ctx,
			`DELETE FROM verification_tokens WHERE email = ? AND code_hash = ?`, email, t.CodeHash); err != nil {
			return fmt.Errorf("expiring verification code: %w", err)
		}
		return ErrCodeExpired
	}

	if !match(t.CodeHash) {
		if _, err := db.ExecContext(ctx,
			`UPDATE verification_tokens SET attempts = attempts + 1 WHERE email = ? AND code_hash = ?`,
			email, t.CodeHash); err != nil {
			return fmt.Errorf("counting attempt: %w", err)
		}
		return ErrNotFound
	}

	res, err := db.ExecContext(ctx, `
		DELETE FROM verification_tokens
		WHERE email = ? AND code_hash = ? AND attempts < ? AND expires_at > ?`,
		email, t.CodeHash, MaxVerificationAttempts, isoNow())
	if ok, err := affected(res, err); err != nil {
		return fmt.Errorf("consuming verification code: %w", err)
	} else if !ok {
		// replaced, burned or expired while comparing
		return ErrNotFound
	}
	return nil
}
