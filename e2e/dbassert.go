// CLAUDE:SUMMARY Direct SQLite assertions against the hub database for E2E tests
package e2e

import (
	"database/sql"
	"fmt"
	"sync"
	"testing"

	_ "modernc.org/sqlite"
)

// DBAssert reads hub.db directly over one persistent connection.
type DBAssert struct {
	path string

	mu   sync.Mutex
	conn *sql.DB
}

func NewDBAssert(path string) *DBAssert {
	return &DBAssert{path: path}
}

func (d *DBAssert) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
}

func (d *DBAssert) db(t *testing.T) *sql.DB {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		return d.conn
	}
	conn, err := sql.Open("sqlite", "file:"+d.path+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		t.Fatalf("opening %s: %v", d.path, err)
	}
	conn.SetMaxOpenConns(1)
	d.conn = conn
	return conn
}

// AssetField checks one column of an asset row.
func (d *DBAssert) AssetField(t *testing.T, assetID, field string, expected any) {
	t.Helper()
	var actual any
	q := fmt.Sprintf(`SELECT %s FROM assets WHERE id = ?`, field)
	if err := d.db(t).QueryRow(q, assetID).Scan(&actual); err != nil {
		t.Fatalf("querying asset %s field %s: %v", assetID, field, err)
	}
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}
	if fmt.Sprintf("%v", actual) != fmt.Sprintf("%v", expected) {
		t.Errorf("asset %s.%s = %v, want %v", assetID, field, actual, expected)
	}
}

// Balance returns a user's reputation and shrimp coin balances.
func (d *DBAssert) Balance(t *testing.T, userID string) (reputation, shrimp int) {
	t.Helper()
	err := d.db(t).QueryRow(`SELECT reputation, shrimp_coins FROM users WHERE id = ?`, userID).Scan(&reputation, &shrimp)
	if err != nil {
		t.Fatalf("querying balances for %s: %v", userID, err)
	}
	return reputation, shrimp
}

// LedgerConsistent checks each coin balance equals the last ledger row's balance_after.
func (d *DBAssert) LedgerConsistent(t *testing.T, userID string) {
	t.Helper()
	rep, shrimp := d.Balance(t, userID)
	for coin, bal := range map[string]int{"reputation": rep, "shrimp_coin": shrimp} {
		var after sql.NullInt64
		err := d.db(t).QueryRow(`SELECT balance_after FROM coin_events WHERE user_id = ? AND coin_type = ?
			ORDER BY id DESC LIMIT 1`, userID, coin).Scan(&after)
		if err == sql.ErrNoRows {
			if bal != 0 {
				t.Errorf("user %s %s = %d with no ledger rows", userID, coin, bal)
			}
			continue
		}
		if err != nil {
			t.Fatalf("querying ledger: %v", err)
		}
		if int(after.Int64) != bal {
			t.Errorf("user %s %s = %d, ledger says %d", userID, coin, bal, after.Int64)
		}
	}
}

// RowCount counts rows in table matching where.
func (d *DBAssert) RowCount(t *testing.T, table, where string, args ...any) int {
	t.Helper()
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)
	if where != "" {
		q += " WHERE " + where
	}
	var n int
	if err := d.db(t).QueryRow(q, args...).Scan(&n); err != nil {
		t.Fatalf("counting %s rows: %v", table, err)
	}
	return n
}
