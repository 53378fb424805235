// CLAUDE:SUMMARY Invite codes — quota-limited activation in one transaction, per-user code generation, admin listing via sqlx
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
	InviteNormal = "normal"
	InviteSuper  = "super"
	InviteSystem = "system"

	// codesPerActivation is how many normal codes a newly activated user receives.
	codesPerActivation = 6
)

type InviteCode struct {
	Code      string  `db:"code" json:"code"`
	CreatedBy string  `db:"created_by" json:"createdBy"`
	UsedBy    *string `db:"used_by" json:"usedBy,omitempty"`
	UsedAt    *string `db:"used_at" json:"usedAt,omitempty"`
	MaxUses   int     `db:"max_uses" json:"maxUses"`
	UseCount  int     `db:"use_count" json:"useCount"`
	ExpiresAt *string `db:"expires_at" json:"expiresAt,omitempty"`
	CreatedAt string  `db:"created_at" json:"createdAt"`
	Type      string  `db:"type" json:"type"`
}

func (c *InviteCode) Exhausted() bool { return c.UseCount >= c.MaxUses }

func (c *InviteCode) Expired() bool {
	return c.ExpiresAt != nil && *c.ExpiresAt != "" && *c.ExpiresAt <= isoNow()
}

// NormalizeInviteCode trims and uppercases user input.
func NormalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

const inviteColumns = `code, created_by, used_by, used_at, max_uses, use_count, expires_at, created_at, type`

func getInviteTx(ctx context.Context, q querier, code string) (*InviteCode, error) {
	c := &InviteCode{}
	var usedBy, usedAt, expires sql.NullString
	err := q.QueryRowContext(ctx, `SELECT `+inviteColumns+` FROM invite_codes WHERE code = ?`, code).Scan(
		&c.Code, &c.CreatedBy, &usedBy, &usedAt, &c.MaxUses, &c.UseCount, &expires, &c.CreatedAt, &c.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.UsedBy, c.UsedAt, c.ExpiresAt = nullPtr(usedBy), nullPtr(usedAt), nullPtr(expires)
	return c, nil
}

func (db *DB) GetInviteCode(ctx context.Context, code string) (*InviteCode, error) {
	return getInviteTx(ctx, db, NormalizeInviteCode(code))
}

// ValidateInviteCode checks usability without consuming quota.
func (db *DB) ValidateInviteCode(ctx context.Context, code string) (*InviteCode, error) {
	c, err := db.GetInviteCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if c.Exhausted() {
		return c, ErrQuotaExhausted
	}
	if c.Expired() {
		return c, ErrInviteExpired
	}
	return c, nil
}

type Activation struct {
	Code     string   `json:"code"`
	NewCodes []string `json:"newCodes"`
	Inviter  string   `json:"inviter,omitempty"`
}

// ActivateInviteCode redeems one use of code for userID. Failure order: user
// missing, user already activated, code missing, quota exhausted, expired.
func (db *DB) ActivateInviteCode(ctx context.Context, code, userID string) (*Activation, error) {
	code = NormalizeInviteCode(code)
	var act *Activation
	err := db.Tx(ctx, func(tx *sql.Tx) error {
		var err error
		act, err = activateTx(ctx, tx, code, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return act, nil
}

func activateTx(ctx context.Context, q querier, code, userID string) (*Activation, error) {
	var current sql.NullString
	err := q.QueryRowContext(ctx, `SELECT invite_code FROM users WHERE id = ?`, userID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if current.Valid && current.String != "" {
		return nil, ErrAlreadyActivated
	}

	invite, err := getInviteTx(ctx, q, code)
	if err != nil {
		return nil, fmt.Errorf("invite %s: %w", code, err)
	}
	if invite.Exhausted() {
		return nil, ErrQuotaExhausted
	}
	if invite.Expired() {
		return nil, ErrInviteExpired
	}

	ts := isoNow()
	res, err := q.ExecContext(ctx, `
		UPDATE invite_codes SET use_count = use_count + 1, used_by = ?, used_at = ?
		WHERE code = ? AND use_count < max_uses AND (expires_at IS NULL OR expires_at > ?)`,
		userID, ts, code, ts)
	if ok, err := affected(res, err); err != nil {
		return nil, fmt.Errorf("consuming invite: %w", err)
	} else if !ok {
		return nil, ErrQuotaExhausted
	}

	res, err = q.ExecContext(ctx, `
		UPDATE users SET invite_code = ?, updated_at = ?
		WHERE id = ? AND (invite_code IS NULL OR invite_code = '')`, code, ts, userID)
	if ok, err := affected(res, err); err != nil {
		return nil, fmt.Errorf("activating user: %w", err)
	} else if !ok {
		return nil, ErrAlreadyActivated
	}

	newCodes, err := generateCodesTx(ctx, q, userID, codesPerActivation)
	if err != nil {
		return nil, err
	}

	act := &Activation{Code: code, NewCodes: newCodes}
	if invite.CreatedBy != "" && invite.CreatedBy != "system" && invite.CreatedBy != userID {
		var exists int
		if q.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, invite.CreatedBy).Scan(&exists) == nil {
			if err := rewardTx(ctx, q, invite.CreatedBy, "invite_user", userID); err != nil {
				return nil, err
			}
			act.Inviter = invite.CreatedBy
		}
	}
	return act, nil
}

func generateCodesTx(ctx context.Context, q querier, owner string, n int) ([]string, error) {
	codes := make([]string, 0, n)
	ts := isoNow()
	for attempt := 0; len(codes) < n && attempt < n*5; attempt++ {
		code := NewInviteCode()
		res, err := q.ExecContext(ctx, `
			INSERT OR IGNORE INTO invite_codes (code, created_by, max_uses, use_count, created_at, type)
			VALUES (?, ?, 1, 0, ?, 'normal')`, code, owner, ts)
		if ok, err := affected(res, err); err != nil {
			return nil, fmt.Errorf("generating invite codes: %w", err)
		} else if ok {
			codes = append(codes, code)
		}
	}
	return codes, nil
}

type CreateInviteInput struct {
	Code      string
	CreatedBy string
	MaxUses   int
	ExpiresAt *time.Time
	Type      string
}

// CreateInviteCode inserts a code; an empty Code gets a random one. ErrConflict
// when the code exists.
func (db *DB) CreateInviteCode(ctx context.Context, in CreateInviteInput) (*InviteCode, error) {
	code := NormalizeInviteCode(in.Code)
	if code == "" {
		code = NewInviteCode()
	}
	if in.MaxUses < 1 {
		in.MaxUses = 1
	}
	if in.Type == "" {
		in.Type = InviteNormal
	}
	if in.CreatedBy == "" {
		in.CreatedBy = "system"
	}
	var expires any
	if in.ExpiresAt != nil {
		expires = isoAt(*in.ExpiresAt)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO invite_codes (code, created_by, max_uses, use_count, expires_at, created_at, type)
		VALUES (?, ?, ?, 0, ?, ?, ?)`, code, in.CreatedBy, in.MaxUses, expires, isoNow(), in.Type)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "PRIMARY KEY") {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("creating invite code: %w", err)
	}
	return db.GetInviteCode(ctx, code)
}

func (db *DB) CreateSuperInviteCode(ctx context.Context, code string, maxUses int, createdBy string) (*InviteCode, error) {
	return db.CreateInviteCode(ctx, CreateInviteInput{Code: code, MaxUses: maxUses, CreatedBy: createdBy, Type: InviteSuper})
}

// SeedSystemInviteCodes inserts missing system codes and returns how many were added.
func (db *DB) SeedSystemInviteCodes(ctx context.Context, codes []string, maxUses int) (int, error) {
	if maxUses < 1 {
		maxUses = 1
	}
	added := 0
	for _, c := range codes {
		c = NormalizeInviteCode(c)
		if c == "" {
			continue
		}
		res, err := db.ExecContext(ctx, `
			INSERT OR IGNORE INTO invite_codes (code, created_by, max_uses, use_count, created_at, type)
			VALUES (?, 'system', ?, 0, ?, 'system')`, c, maxUses, isoNow())
		if ok, err := affected(res, err); err != nil {
			return added, fmt.Errorf("seeding invite %s: %w", c, err)
		} else if ok {
			added++
		}
	}
	return added, nil
}

func (db *DB) GetUserInviteCodes(ctx context.Context, userID string) ([]InviteCode, error) {
	codes := []InviteCode{}
	err := db.x.SelectContext(ctx, &codes,
		`SELECT `+inviteColumns+` FROM invite_codes WHERE created_by = ? ORDER BY created_at DESC, code`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user invite codes: %w", err)
	}
	return codes, nil
}

type InvitePage struct {
	Codes    []InviteCode `json:"codes"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"pageSize"`
}

// ListInviteCodes pages through all codes, optionally filtered by type.
func (db *DB) ListInviteCodes(ctx context.Context, codeType string, page, pageSize int) (*InvitePage, error) {
	page, pageSize = clampPage(page, pageSize, 50, 200)
	where, args := "", []any{}
	if codeType != "" {
		where = " WHERE type = ?"
		args = append(args, codeType)
	}
	out := &InvitePage{Codes: []InviteCode{}, Page: page, PageSize: pageSize}
	if err := db.x.GetContext(ctx, &out.Total, `SELECT COUNT(*) FROM invite_codes`+where, args...); err != nil {
		return nil, fmt.Errorf("counting invite codes: %w", err)
	}
	args = append(args, pageSize, (page-1)*pageSize)
	if err := db.x.SelectContext(ctx, &out.Codes,
		`SELECT `+inviteColumns+` FROM invite_codes`+where+` ORDER BY created_at DESC, code LIMIT ? OFFSET ?`, args...); err != nil {
		return nil, fmt.Errorf("listing invite codes: %w", err)
	}
	return out, nil
}

func (db *DB) DeleteInviteCode(ctx context.Context, code string) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM invite_codes WHERE code = ?`, NormalizeInviteCode(code))
	return affected(res, err)
}

func (db *DB) UserHasInviteAccess(ctx context.Context, userID string) (bool, error) {
	u, err := db.GetUserByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.Activated(), nil
}
