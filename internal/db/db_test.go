package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "hub.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func createUser(t *testing.T, d *DB, name string) *User {
	t.Helper()
	u, err := d.CreateUser(context.Background(), CreateUserInput{Name: name, Provider: "test"})
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

// freezeClock pins nowFunc to base and returns a setter to move it.
func freezeClock(t *testing.T, base time.Time) func(time.Time) {
	t.Helper()
	current := base
	nowFunc = func() time.Time { return current }
	t.Cleanup(func() { nowFunc = time.Now })
	return func(next time.Time) { current = next }
}

func TestOpenAppliesMigrations(t *testing.T) {
	d := newTestDB(t)
	v, err := d.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if v < 4 {
		t.Errorf("schema version = %d, want >= 4", v)
	}
	for _, table := range []string{"users", "assets", "invite_codes", "cli_auth_requests", "coin_events", "assets_fts", "audit_log"} {
		var n int
		if err := d.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = ?`, table).Scan(&n); err != nil {
			t.Fatalf("lookup %s: %v", table, err)
		}
		if n == 0 {
			t.Errorf("table %s missing", table)
		}
	}
}

func TestScalarFunctions(t *testing.T) {
	d := newTestDB(t)
	var l float64
	if err := d.QueryRow(`SELECT log2p(6)`).Scan(&l); err != nil {
		t.Fatalf("log2p: %v", err)
	}
	if l != 3 {
		t.Errorf("log2p(6) = %v, want 3", l)
	}
	tests := []struct {
		in   string
		want int
	}{
		{"天气助手", 1},
		{"weather helper", 0},
		{"mixed 中文", 1},
	}
	for _, tt := range tests {
		var got int
		if err := d.QueryRow(`SELECT has_cjk(?)`, tt.in).Scan(&got); err != nil {
			t.Fatalf("has_cjk: %v", err)
		}
		if got != tt.want {
			t.Errorf("has_cjk(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestPrefixed(t *testing.T) {
	got := prefixed("u", "id, name,\n\temail")
	if got != "u.id, u.name, u.email" {
		t.Errorf("prefixed = %q", got)
	}
}

func TestUserBanAndRole(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	u := createUser(t, d, "carol")

	if u.ShrimpCoins != 100 {
		t.Errorf("register bonus = %d, want 100", u.ShrimpCoins)
	}
	ok, err := d.BanUser(ctx, u.ID, "spam", "admin")
	if err != nil || !ok {
		t.Fatalf("ban: ok=%v err=%v", ok, err)
	}
	if ok, _ := d.BanUser(ctx, u.ID, "again", "admin"); ok {
		t.Error("second ban should report false")
	}
	banned, err := d.IsBanned(ctx, u.ID)
	if err != nil || !banned {
		t.Fatalf("is banned: %v %v", banned, err)
	}
	if ok, _ := d.UnbanUser(ctx, u.ID); !ok {
		t.Error("unban should report true")
	}
	if _, err := d.SetRole(ctx, u.ID, "root"); err == nil {
		t.Error("invalid role accepted")
	}
	if ok, err := d.SetRole(ctx, u.ID, RoleModerator); err != nil || !ok {
		t.Fatalf("set role: %v %v", ok, err)
	}
	role, _ := d.GetRole(ctx, u.ID)
	if !HasRole(role, RoleModerator) || HasRole(role, RoleAdmin) {
		t.Errorf("role hierarchy wrong for %q", role)
	}
}
