// CLAUDE:SUMMARY CLI device-code handshake — pending/authorized/expired requests with read-only poll and single-use approve
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	CLIPending    = "pending"
	CLIAuthorized = "authorized"
	CLIExpired    = "expired"

	// CLIAuthTTL bounds how long a code can be approved.
	CLIAuthTTL = 10 * time.Minute
)

type CliAuthRequest struct {
	Code         string  `json:"code"`
	DeviceID     string  `json:"deviceId"`
	DeviceName   string  `json:"deviceName"`
	Status       string  `json:"status"`
	UserID       *string `json:"userId,omitempty"`
	CreatedAt    string  `json:"createdAt"`
	ExpiresAt    string  `json:"expiresAt"`
	AuthorizedAt *string `json:"authorizedAt,omitempty"`
}

// PollResult is what a polling device sees.
type PollResult struct {
	Status string `json:"status"`
	UserID string `json:"userId,omitempty"`
}

// CreateCliAuthRequest replaces any previous request of the device and drops
// expired rows.
func (db *DB) CreateCliAuthRequest(ctx context.Context, deviceID, deviceName string) (*CliAuthRequest, error) {
	created := now()
	req := &CliAuthRequest{
		DeviceID:   deviceID,
		DeviceName: deviceName,
		Status:     CLIPending,
		CreatedAt:  isoAt(created),
		ExpiresAt:  isoAt(created.Add(CLIAuthTTL)),
	}
	err := db.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cli_auth_requests WHERE device_id = ? OR expires_at < ?`, deviceID, req.CreatedAt); err != nil {
			return fmt.Errorf("pruning cli requests: %w", err)
		}
		for attempt := 0; attempt < 5; attempt++ {
			req.Code = newCLICode()
			res, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO cli_auth_requests (code, device_id, device_name, status, created_at, expires_at)
				VALUES (?, ?, ?, 'pending', ?, ?)`, req.Code, deviceID, deviceName, req.CreatedAt, req.ExpiresAt)
			if ok, err := affected(res, err); err != nil {
				return fmt.Errorf("creating cli request: %w", err)
			} else if ok {
				return nil
			}
		}
		return fmt.Errorf("creating cli request: %w", ErrConflict)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func getCliRequestTx(ctx context.Context, q querier, code string) (*CliAuthRequest, error) {
	r := &CliAuthRequest{}
	var userID, authorizedAt sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT code, device_id, device_name, status, user_id, created_at, expires_at, authorized_at
		FROM cli_auth_requests WHERE code = ?`, code).Scan(
		&r.Code, &r.DeviceID, &r.DeviceName, &r.Status, &userID, &r.CreatedAt, &r.ExpiresAt, &authorizedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.UserID, r.AuthorizedAt = nullPtr(userID), nullPtr(authorizedAt)
	return r, nil
}

func (db *DB) GetCliAuthRequest(ctx context.Context, code string) (*CliAuthRequest, error) {
	return getCliRequestTx(ctx, db, NormalizeInviteCode(code))
}

// PollCliAuthRequest never writes. A code presented by another device is
// reported as ErrNotFound.
func (db *DB) PollCliAuthRequest(ctx context.Context, code, deviceID string) (*PollResult, error) {
	r, err := db.GetCliAuthRequest(ctx, code)
	if err != nil {
		return nil, err
	}
	if r.DeviceID != deviceID {
		return nil, ErrNotFound
	}
	if r.Status == CLIAuthorized && r.UserID != nil {
		return &PollResult{Status: CLIAuthorized, UserID: *r.UserID}, nil
	}
	if r.Status == CLIExpired || r.ExpiresAt <= isoNow() {
		return &PollResult{Status: CLIExpired}, nil
	}
	return &PollResult{Status: CLIPending}, nil
}

// ApproveCliAuthRequest attaches userID to a pending, unexpired code and binds
// its device to the user.
func (db *DB) ApproveCliAuthRequest(ctx context.Context, code, userID string) (*CliAuthRequest, error) {
	code = NormalizeInviteCode(code)
	var expired bool
	err := db.Tx(ctx, func(tx *sql.Tx) error {
		r, err := getCliRequestTx(ctx, tx, code)
		if err != nil {
			return err
		}
		if r.Status == CLIAuthorized {
			return ErrAlreadyAuthorized
		}
		ts := isoNow()
		if r.Status == CLIExpired || r.ExpiresAt <= ts {
			expired = true
			return ErrCodeExpired
		}
		if err := authorizeDeviceTx(ctx, tx, r.DeviceID, userID, r.DeviceName); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE cli_auth_requests SET status = 'authorized', user_id = ?, authorized_at = ?
			WHERE code = ? AND status = 'pending'`, userID, ts, code)
		if ok, err := affected(res, err); err != nil {
			return fmt.Errorf("approving cli request: %w", err)
		} else if !ok {
			return ErrAlreadyAuthorized
		}
		return nil
	})
	if expired {
		if _, e := db.ExecContext(ctx,
			`UPDATE cli_auth_requests SET status = 'expired' WHERE code = ? AND status = 'pending'`, code); e != nil {
			return nil, fmt.Errorf("marking cli request expired: %w", e)
		}
	}
	if err != nil {
		return nil, err
	}
	return db.GetCliAuthRequest(ctx, code)
}
