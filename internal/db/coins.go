// CLAUDE:SUMMARY Reputation / shrimp-coin ledger — atomic balance updates with an append-only coin_events row per change
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	CoinReputation = "reputation"
	CoinShrimp     = "shrimp_coin"
)

// RepEvents maps an event name to its reputation delta.
var RepEvents = map[string]int{
	"publish_asset":      1,
	"asset_installed":    5,
	"submit_issue":       1,
	"invite_user":        5,
	"publish_version":    1,
	"asset_starred":      5,
	"github_star_synced": 2,
}

// CoinEvents maps an event name to its shrimp-coin delta.
var CoinEvents = map[string]int{
	"register":        100,
	"publish_asset":   50,
	"asset_installed": 10,
	"write_comment":   3,
	"submit_issue":    2,
	"invite_user":     20,
	"publish_version": 20,
	"install_asset":   -1,
}

type CoinEvent struct {
	ID           int64   `json:"id"`
	UserID       string  `json:"userId"`
	CoinType     string  `json:"coinType"`
	Amount       int     `json:"amount"`
	Event        string  `json:"event"`
	RefID        *string `json:"refId,omitempty"`
	BalanceAfter int     `json:"balanceAfter"`
	CreatedAt    string  `json:"createdAt"`
}

type CoinEventPage struct {
	Events   []CoinEvent `json:"events"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"pageSize"`
}

func balanceColumn(coinType string) (string, error) {
	switch coinType {
	case CoinReputation:
		return "reputation", nil
	case CoinShrimp:
		return "shrimp_coins", nil
	}
	return "", fmt.Errorf("unknown coin type %q", coinType)
}

// applyDelta updates the cached balance and appends the ledger row on q.
// The balance never drops below zero.
func applyDelta(ctx context.Context, q querier, userID, coinType string, amount int, event, refID string) (int, error) {
	col, err := balanceColumn(coinType)
	if err != nil {
		return 0, err
	}
	var before, balance int
	err = q.QueryRowContext(ctx, `SELECT `+col+` FROM users WHERE id = ?`, userID).Scan(&before)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", col, err)
	}
	err = q.QueryRowContext(ctx,
		`UPDATE users SET `+col+` = MAX(0, `+col+` + ?), updated_at = ? WHERE id = ? RETURNING `+col,
		amount, isoNow(), userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("updating %s: %w", col, err)
	}
	// Record the applied delta so the ledger sums to the balance after a clamp.
	if err := insertCoinEvent(ctx, q, userID, coinType, balance-before, event, refID, balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func insertCoinEvent(ctx context.Context, q querier, userID, coinType string, amount int, event, refID string, balance int) error {
	var ref any
	if refID != "" {
		ref = refID
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO coin_events (user_id, coin_type, amount, event, ref_id, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, coinType, amount, event, ref, balance, isoNow())
	if err != nil {
		return fmt.Errorf("recording coin event: %w", err)
	}
	return nil
}

// rewardTx applies both the reputation and coin delta configured for event.
func rewardTx(ctx context.Context, q querier, userID, event, refID string) error {
	if n, ok := RepEvents[event]; ok && n != 0 {
		if _, err := applyDelta(ctx, q, userID, CoinReputation, n, event, refID); err != nil {
			return err
		}
	}
	if n, ok := CoinEvents[event]; ok && n != 0 {
		if _, err := applyDelta(ctx, q, userID, CoinShrimp, n, event, refID); err != nil {
			return err
		}
	}
	return nil
}

// Reward applies the reputation and coin amounts configured for event.
func (db *DB) Reward(ctx context.Context, userID, event, refID string) error {
	return db.Tx(ctx, func(tx *sql.Tx) error {
		return rewardTx(ctx, tx, userID, event, refID)
	})
}

// AddReputation applies a raw reputation delta and returns the new balance.
func (db *DB) AddReputation(ctx context.Context, userID string, amount int, event, refID string) (int, error) {
	var balance int
	err := db.Tx(ctx, func(tx *sql.Tx) error {
		var err error
		balance, err = applyDelta(ctx, tx, userID, CoinReputation, amount, event, refID)
		return err
	})
	return balance, err
}

// AddCoins applies a raw shrimp-coin delta and returns the new balance.
func (db *DB) AddCoins(ctx context.Context, userID string, amount int, event, refID string) (int, error) {
	var balance int
	err := db.Tx(ctx, func(tx *sql.Tx) error {
		var err error
		balance, err = applyDelta(ctx, tx, userID, CoinShrimp, amount, event, refID)
		return err
	})
	return balance, err
}

func spendTx(ctx context.Context, q querier, userID string, amount int, event, refID string) (int, error) {
	var balance int
	err := q.QueryRowContext(ctx, `
		UPDATE users SET shrimp_coins = shrimp_coins - ?, updated_at = ?
		WHERE id = ? AND shrimp_coins >= ?
		RETURNING shrimp_coins`, amount, isoNow(), userID, amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		var exists int
		if e := q.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists); e != nil {
			return 0, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return 0, ErrInsufficientCoins
	}
	if err != nil {
		return 0, fmt.Errorf("spending coins: %w", err)
	}
	if err := insertCoinEvent(ctx, q, userID, CoinShrimp, -amount, event, refID, balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// SpendCoins deducts amount only if the balance covers it.
func (db *DB) SpendCoins(ctx context.Context, userID string, amount int, event, refID string) (int, error) {
	var balance int
	err := db.Tx(ctx, func(tx *sql.Tx) error {
		var err error
		balance, err = spendTx(ctx, tx, userID, amount, event, refID)
		return err
	})
	return balance, err
}

func (db *DB) HasEnoughCoins(ctx context.Context, userID string, amount int) (bool, error) {
	var balance int
	err := db.QueryRowContext(ctx, `SELECT shrimp_coins FROM users WHERE id = ?`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

// GetUserCoinEvents returns the user's ledger, newest first.
func (db *DB) GetUserCoinEvents(ctx context.Context, userID string, page, pageSize int) (*CoinEventPage, error) {
	page, pageSize = clampPage(page, pageSize, 20, 100)

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM coin_events WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting coin events: %w", err)
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, coin_type, amount, event, ref_id, balance_after, created_at
		FROM coin_events WHERE user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("listing coin events: %w", err)
	}
	defer rows.Close()
	events, err := scanCoinEvents(rows)
	if err != nil {
		return nil, err
	}
	return &CoinEventPage{Events: events, Total: total, Page: page, PageSize: pageSize}, nil
}

// GetCoinHistory returns the most recent events of one coin type.
func (db *DB) GetCoinHistory(ctx context.Context, userID, coinType string, limit int) ([]CoinEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, coin_type, amount, event, ref_id, balance_after, created_at
		FROM coin_events WHERE user_id = ? AND coin_type = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, userID, coinType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCoinEvents(rows)
}

func scanCoinEvents(rows *sql.Rows) ([]CoinEvent, error) {
	events := []CoinEvent{}
	for rows.Next() {
		var e CoinEvent
		var ref sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.CoinType, &e.Amount, &e.Event, &ref, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		if ref.Valid {
			e.RefID = &ref.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// clampPage normalises 1-based paging input.
func clampPage(page, pageSize, def, max int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = def
	}
	if pageSize > max {
		pageSize = max
	}
	return page, pageSize
}
