package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type DeviceBinding struct {
	DeviceID      string  `json:"deviceId"`
	UserID        string  `json:"userId"`
	UserName      string  `json:"userName,omitempty"`
	DeviceName    string  `json:"deviceName"`
	AuthorizedAt  string  `json:"authorizedAt"`
	LastPublishAt *string `json:"lastPublishAt,omitempty"`
}

// MaskDeviceID keeps the first 12 characters.
func MaskDeviceID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}

// authorizeDeviceTx binds deviceID to userID. Rebinding to the same user
// refreshes name and timestamp; another user gets ErrDeviceBoundToOther.
func authorizeDeviceTx(ctx context.Context, q querier, deviceID, userID, name string) error {
	var owner string
	err := q.QueryRowContext(ctx, `SELECT user_id FROM authorized_devices WHERE device_id = ?`, deviceID).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = q.ExecContext(ctx, `
			INSERT INTO authorized_devices (device_id, user_id, device_name, authorized_at)
			VALUES (?, ?, ?, ?)`, deviceID, userID, name, isoNow())
		if err != nil {
			return fmt.Errorf("binding device: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("looking up device: %w", err)
	case owner != userID:
		return ErrDeviceBoundToOther
	}
	_, err = q.ExecContext(ctx,
		`UPDATE authorized_devices SET device_name = ?, authorized_at = ? WHERE device_id = ?`, name, isoNow(), deviceID)
	return err
}

func (db *DB) AuthorizeDevice(ctx context.Context, deviceID, userID, name string) error {
	return db.Tx(ctx, func(tx *sql.Tx) error {
		return authorizeDeviceTx(ctx, tx, deviceID, userID, name)
	})
}

// MarkDevicePublished stamps last_publish_at after a publish from the device.
func (db *DB) MarkDevicePublished(ctx context.Context, deviceID string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE authorized_devices SET last_publish_at = ? WHERE device_id = ?`, isoNow(), deviceID)
	if ok, err := affected(res, err); err != nil {
		return fmt.Errorf("touching device: %w", err)
	} else if !ok {
		return ErrNotFound
	}
	return nil
}

func (db *DB) GetDeviceBinding(ctx context.Context, deviceID string) (*DeviceBinding, error) {
	b := &DeviceBinding{}
	var userName, last sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT d.device_id, d.user_id, u.name, d.device_name, d.authorized_at, d.last_publish_at
		FROM authorized_devices d LEFT JOIN users u ON u.id = d.user_id
		WHERE d.device_id = ?`, deviceID).Scan(
		&b.DeviceID, &b.UserID, &userName, &b.DeviceName, &b.AuthorizedAt, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.UserName = userName.String
	b.LastPublishAt = nullPtr(last)
	return b, nil
}

// ListDevices returns the user's bindings with masked device ids.
func (db *DB) ListDevices(ctx context.Context, userID string) ([]DeviceBinding, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT device_id, user_id, device_name, authorized_at, last_publish_at
		FROM authorized_devices WHERE user_id = ? ORDER BY authorized_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []DeviceBinding{}
	for rows.Next() {
		var b DeviceBinding
		var last sql.NullString
		if err := rows.Scan(&b.DeviceID, &b.UserID, &b.DeviceName, &b.AuthorizedAt, &last); err != nil {
			return nil, err
		}
		b.DeviceID = MaskDeviceID(b.DeviceID)
		b.LastPublishAt = nullPtr(last)
		out = append(out, b)
	}
	return out, rows.Err()
}

// RevokeDevice removes a binding only when owned by userID.
func (db *DB) RevokeDevice(ctx context.Context, deviceID, userID string) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM authorized_devices WHERE device_id = ? AND user_id = ?`, deviceID, userID)
	return affected(res, err)
}
