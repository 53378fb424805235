package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

var roleLevels = map[string]int{RoleUser: 0, RoleModerator: 1, RoleAdmin: 2}

// IsValidRole reports whether role is one of user, moderator, admin.
func IsValidRole(role string) bool {
	_, ok := roleLevels[role]
	return ok
}

// HasRole reports whether role is at least required in the hierarchy.
func HasRole(role, required string) bool {
	have, ok := roleLevels[role]
	if !ok {
		return false
	}
	return have >= roleLevels[required]
}

// RoleLevel returns the numeric rank of role, -1 when unknown.
func RoleLevel(role string) int {
	if l, ok := roleLevels[role]; ok {
		return l
	}
	return -1
}

type User struct {
	ID                  string  `json:"id"`
	Email               *string `json:"email,omitempty"`
	Name                string  `json:"name"`
	Avatar              string  `json:"avatar"`
	Provider            string  `json:"provider"`
	ProviderID          string  `json:"-"`
	Bio                 string  `json:"bio"`
	InviteCode          *string `json:"inviteCode,omitempty"`
	CreatedAt           string  `json:"createdAt"`
	UpdatedAt           string  `json:"updatedAt"`
	DeletedAt           *string `json:"deletedAt,omitempty"`
	Reputation          int     `json:"reputation"`
	ShrimpCoins         int     `json:"shrimpCoins"`
	OnboardingCompleted bool    `json:"onboardingCompleted"`
	Type                string  `json:"type"`
	Role                string  `json:"role"`
	BannedAt            *string `json:"bannedAt,omitempty"`
	BanReason           *string `json:"banReason,omitempty"`
}

// Activated reports whether the user has redeemed an invite code.
func (u *User) Activated() bool {
	return u.InviteCode != nil && *u.InviteCode != ""
}

func (u *User) Banned() bool { return u.BannedAt != nil }

type CreateUserInput struct {
	Email      string
	Name       string
	Avatar     string
	Provider   string
	ProviderID string
	Type       string
	InviteCode string
}

const userColumns = `id, email, name, avatar, provider, provider_id, bio, invite_code,
	created_at, updated_at, deleted_at, reputation, shrimp_coins, onboarding_completed,
	type, role, banned_at, ban_reason`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	u := &User{}
	var email, invite, deleted, banned, reason sql.NullString
	err := row.Scan(&u.ID, &email, &u.Name, &u.Avatar, &u.Provider, &u.ProviderID, &u.Bio, &invite,
		&u.CreatedAt, &u.UpdatedAt, &deleted, &u.Reputation, &u.ShrimpCoins, &u.OnboardingCompleted,
		&u.Type, &u.Role, &banned, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Email = nullPtr(email)
	u.InviteCode = nullPtr(invite)
	u.DeletedAt = nullPtr(deleted)
	u.BannedAt = nullPtr(banned)
	u.BanReason = nullPtr(reason)
	return u, nil
}

func nullPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateUser inserts a user with empty balances and credits the register bonus
// through the ledger so balances and coin_events agree from the first row.
func (db *DB) CreateUser(ctx context.Context, input CreateUserInput) (*User, error) {
	id := NewID()
	if err := db.Tx(ctx, func(tx *sql.Tx) error {
		return createUserTx(ctx, tx, id, input)
	}); err != nil {
		return nil, err
	}
	return db.GetUserByID(ctx, id)
}

func createUserTx(ctx context.Context, q querier, id string, input CreateUserInput) error {
	userType := input.Type
	if userType == "" {
		userType = "user"
	}
	providerID := input.ProviderID
	if providerID == "" {
		providerID = id
	}
	ts := isoNow()
	_, err := q.ExecContext(ctx, `
		INSERT INTO users (id, email, name, avatar, provider, provider_id, invite_code, created_at, updated_at, type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, nullable(strings.ToLower(strings.TrimSpace(input.Email))), input.Name, input.Avatar,
		input.Provider, providerID, nullable(input.InviteCode), ts, ts, userType)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("creating user: %w", ErrConflict)
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return rewardTx(ctx, q, id, "register", id)
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*User, error) {
	return scanUser(db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (db *DB) FindUserByProvider(ctx context.Context, provider, providerID string) (*User, error) {
	return scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE provider = ? AND provider_id = ?`, provider, providerID))
}

func (db *DB) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(strings.TrimSpace(email))))
}

// FindUserByName matches case-insensitively among non-deleted users.
func (db *DB) FindUserByName(ctx context.Context, name string) (*User, error) {
	return scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE name = ? COLLATE NOCASE AND deleted_at IS NULL LIMIT 1`, name))
}

func (db *DB) SoftDeleteUser(ctx context.Context, id string) (bool, error) {
	ts := isoNow()
	res, err := db.ExecContext(ctx,
		`UPDATE users SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, ts, ts, id)
	return affected(res, err)
}

func (db *DB) CompleteOnboarding(ctx context.Context, userID, name, avatar string) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE users SET name = ?, avatar = ?, custom_name = ?, custom_avatar = ?,
			onboarding_completed = 1, updated_at = ?
		WHERE id = ?`, name, avatar, name, avatar, isoNow(), userID)
	return affected(res, err)
}

// UpdateProfile patches name and bio; nil leaves a field untouched.
func (db *DB) UpdateProfile(ctx context.Context, userID string, name, bio *string) (bool, error) {
	sets := []string{"updated_at = ?"}
	args := []any{isoNow()}
	if name != nil {
		sets = append(sets, "name = ?", "custom_name = ?")
		args = append(args, *name, *name)
	}
	if bio != nil {
		sets = append(sets, "bio = ?")
		args = append(args, *bio)
	}
	args = append(args, userID)
	res, err := db.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	return affected(res, err)
}

// BanUser returns false when the user is missing or already banned.
func (db *DB) BanUser(ctx context.Context, userID, reason, bannedBy string) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE users SET banned_at = ?, ban_reason = ?, banned_by = ?, updated_at = ?
		WHERE id = ? AND banned_at IS NULL`, isoNow(), reason, bannedBy, isoNow(), userID)
	return affected(res, err)
}

func (db *DB) UnbanUser(ctx context.Context, userID string) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE users SET banned_at = NULL, ban_reason = NULL, banned_by = NULL, updated_at = ?
		WHERE id = ? AND banned_at IS NOT NULL`, isoNow(), userID)
	return affected(res, err)
}

func (db *DB) IsBanned(ctx context.Context, userID string) (bool, error) {
	var banned sql.NullString
	err := db.QueryRowContext(ctx, `SELECT banned_at FROM users WHERE id = ?`, userID).Scan(&banned)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return banned.Valid, nil
}

func (db *DB) SetRole(ctx context.Context, userID, role string) (bool, error) {
	if !IsValidRole(role) {
		return false, fmt.Errorf("invalid role %q", role)
	}
	res, err := db.ExecContext(ctx, `UPDATE users SET role = ?, updated_at = ? WHERE id = ?`, role, isoNow(), userID)
	return affected(res, err)
}

func (db *DB) GetRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := db.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return role, err
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
