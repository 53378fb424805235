package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// QualificationTTL matches the CLI request lifetime.
const QualificationTTL = 10 * time.Minute

// QualificationToken carries a validated invite code across an out-of-band
// browser sign-in. It is an opaque random value looked up by equality.
type QualificationToken struct {
	Token      string  `json:"token"`
	InviteCode string  `json:"inviteCode"`
	DeviceID   *string `json:"deviceId,omitempty"`
	DeviceName *string `json:"deviceName,omitempty"`
	CreatedAt  string  `json:"createdAt"`
	ExpiresAt  string  `json:"expiresAt"`
	ConsumedAt *string `json:"consumedAt,omitempty"`
}

func (db *DB) CreateQualificationToken(ctx context.Context, inviteCode, deviceID, deviceName string) (*QualificationToken, error) {
	created := now()
	t := &QualificationToken{
		Token:      RandomHex(16),
		InviteCode: NormalizeInviteCode(inviteCode),
		CreatedAt:  isoAt(created),
		ExpiresAt:  isoAt(created.Add(QualificationTTL)),
	}
	if deviceID != "" {
		t.DeviceID = &deviceID
		t.DeviceName = &deviceName
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO qualification_tokens (token, invite_code, device_id, device_name, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.Token, t.InviteCode, nullable(deviceID), nullable(deviceName), t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("creating qualification token: %w", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM qualification_tokens WHERE expires_at < ?`, t.CreatedAt); err != nil {
		return nil, fmt.Errorf("pruning qualification tokens: %w", err)
	}
	return t, nil
}

func getQualificationTx(ctx context.Context, q querier, token string) (*QualificationToken, error) {
	t := &QualificationToken{}
	var dev, name, consumed sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT token, invite_code, device_id, device_name, created_at, expires_at, consumed_at
		FROM qualification_tokens WHERE token = ?`, token).Scan(
		&t.Token, &t.InviteCode, &dev, &name, &t.CreatedAt, &t.ExpiresAt, &consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.DeviceID, t.DeviceName, t.ConsumedAt = nullPtr(dev), nullPtr(name), nullPtr(consumed)
	return t, nil
}

// PeekQualificationToken returns a live token without consuming it.
func (db *DB) PeekQualificationToken(ctx context.Context, token string) (*QualificationToken, error) {
	t, err := getQualificationTx(ctx, db, token)
	if err != nil {
		return nil, err
	}
	if t.ConsumedAt != nil {
		return nil, ErrTokenConsumed
	}
	if t.ExpiresAt <= isoNow() {
		return nil, ErrCodeExpired
	}
	return t, nil
}

// ConsumeQualificationToken marks the token used; a second call fails.
func (db *DB) ConsumeQualificationToken(ctx context.Context, token string) (*QualificationToken, error) {
	var t *QualificationToken
	err := db.Tx(ctx, func(tx *sql.Tx) error {
		var err error
		t, err = consumeQualificationTx(ctx, tx, token)
		return err
	})
	return t, err
}

func consumeQualificationTx(ctx context.Context, q querier, token string) (*QualificationToken, error) {
	t, err := getQualificationTx(ctx, q, token)
	if err != nil {
		return nil, err
	}
	ts := isoNow()
	if t.ExpiresAt <= ts {
		return nil, ErrCodeExpired
	}
	res, err := q.ExecContext(ctx,
		`UPDATE qualification_tokens SET consumed_at = ? WHERE token = ? AND consumed_at IS NULL`, ts, token)
	if ok, err := affected(res, err); err != nil {
		return nil, fmt.Errorf("consuming qualification token: %w", err)
	} else if !ok {
		return nil, ErrTokenConsumed
	}
	t.ConsumedAt = &ts
	return t, nil
}

// RedeemQualificationToken consumes the token and activates its invite code
// for userID in one transaction. A bound device is attached when present.
func (db *DB) RedeemQualificationToken(ctx context.Context, token, userID string) (*Activation, error) {
	var act *Activation
	err := db.Tx(ctx, func(tx *sql.Tx) error {
		t, err := consumeQualificationTx(ctx, tx, token)
		if err != nil {
			return err
		}
		act, err = activateTx(ctx, tx, t.InviteCode, userID)
		if err != nil {
			return err
		}
		if t.DeviceID != nil && *t.DeviceID != "" {
			name := ""
			if t.DeviceName != nil {
				name = *t.DeviceName
			}
			if err := authorizeDeviceTx(ctx, tx, *t.DeviceID, userID, name); err != nil {
				return err
			}
			// A CLI that started from qualify is polling this device's request.
			ts := isoNow()
			if _, err := tx.ExecContext(ctx, `
				UPDATE cli_auth_requests SET status = 'authorized', user_id = ?, authorized_at = ?
				WHERE device_id = ? AND status = 'pending' AND expires_at > ?`,
				userID, ts, *t.DeviceID, ts); err != nil {
				return fmt.Errorf("authorizing pending cli request: %w", err)
			}
		}
		return nil
	})
	return act, err
}
