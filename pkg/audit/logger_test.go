package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"unicode/utf8"

	"github.com/hazyhaar/seafoodmarket/internal/db"
)

func openLogger(t *testing.T) (*SQLiteLogger, *db.DB) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	l := NewSQLiteLogger(database.DB)
	t.Cleanup(func() { l.Close() })
	return l, database
}

func TestLogFillsDefaults(t *testing.T) {
	l, _ := openLogger(t)
	ctx := context.Background()

	if err := l.Log(ctx, &Entry{Action: "admin.ban", UserID: "u1"}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := l.Log(ctx, &Entry{Action: "admin.unban", Error: "boom"}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	all, err := l.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d entries, want 2", len(all))
	}

	bans, err := l.Recent(ctx, "admin.ban", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(bans) != 1 {
		t.Fatalf("got %d ban entries, want 1", len(bans))
	}
	e := bans[0]
	if e.Status != "success" || e.Transport != "http" || e.UserID != "u1" {
		t.Errorf("defaults not applied: %+v", e)
	}
	if e.EntryID == "" || e.Timestamp == 0 {
		t.Errorf("missing id or timestamp: %+v", e)
	}

	failed, _ := l.Recent(ctx, "admin.unban", 10)
	if len(failed) != 1 || failed[0].Status != "error" {
		t.Errorf("error entry status = %+v", failed)
	}
}

func TestLogAsyncFlushesOnClose(t *testing.T) {
	l, database := openLogger(t)
	for i := 0; i < 40; i++ {
		l.LogAsync(&Entry{Action: "publish"})
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// second close is a no-op
	l.Close()

	var n int
	if err := database.QueryRow(`SELECT COUNT(*) FROM audit_log WHERE action = 'publish'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 40 {
		t.Errorf("flushed %d entries, want 40", n)
	}
}

type memLogger struct{ entries []*Entry }

func (m *memLogger) Log(_ context.Context, e *Entry) error { m.entries = append(m.entries, e); return nil }
func (m *memLogger) LogAsync(e *Entry)                     { m.entries = append(m.entries, e) }
func (m *memLogger) Close() error                          { return nil }

func TestMiddlewareCapturesContext(t *testing.T) {
	m := &memLogger{}
	ok := Middleware(m, "get_asset")(func(ctx context.Context, req any) (any, error) {
		return map[string]string{"id": "s-1"}, nil
	})
	bad := Middleware(m, "get_asset")(func(ctx context.Context, req any) (any, error) {
		return nil, errors.New("not found")
	})

	ctx := WithTransport(WithRequestID(WithUserID(context.Background(), "u9"), "req-1"), "mcp")
	if _, err := ok(ctx, map[string]string{"id": "s-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := bad(ctx, nil); err == nil {
		t.Fatal("want error")
	}

	if len(m.entries) != 2 {
		t.Fatalf("got %d entries", len(m.entries))
	}
	first := m.entries[0]
	if first.Transport != "mcp" || first.UserID != "u9" || first.RequestID != "req-1" {
		t.Errorf("context not captured: %+v", first)
	}
	if first.Status != "success" || first.Parameters != `{"id":"s-1"}` || first.Result != `{"id":"s-1"}` {
		t.Errorf("success entry = %+v", first)
	}
	if m.entries[1].Status != "error" || m.entries[1].Error != "not found" {
		t.Errorf("error entry = %+v", m.entries[1])
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	s := "虾币" // 3 bytes per rune
	for n := 0; n <= len(s)+1; n++ {
		got := truncate(s, n)
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) = %q is not valid UTF-8", s, n, got)
		}
		if len(got) > n {
			t.Errorf("truncate(%q, %d) is %d bytes", s, n, len(got))
		}
	}
	if got := truncate(s, 4); got != "虾" {
		t.Errorf("truncate to 4 bytes = %q", got)
	}
	if got := truncate("lobster", 3); got != "lob" {
		t.Errorf("ascii = %q", got)
	}
}
