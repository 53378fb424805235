package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/seafoodmarket/internal/db"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestParseRepo(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{"owner/repo", "owner/repo", false},
		{"https://github.com/owner/repo", "owner/repo", false},
		{"https://github.com/owner/repo.git", "owner/repo", false},
		{"https://github.com/owner/repo/tree/main/x", "owner/repo", false},
		{"git@github.com:owner/repo.git", "owner/repo", false},
		{"  owner/repo/ ", "owner/repo", false},
		{"nope", "", true},
		{"a/b/c", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRepo(tt.in)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("ParseRepo(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestDetectAssetType(t *testing.T) {
	tests := []struct {
		desc   string
		topics []string
		readme string
		want   string
	}{
		{"Feishu bot for agents", nil, "", "channel"},
		{"A websocket desktop client", nil, "", "channel"},
		{"Adapter for slack", nil, "", "channel"},
		{"Sends webhook events", nil, "", "trigger"},
		{"飞书消息监控", nil, "", "trigger"},
		{"Handy", []string{"mcp"}, "", "plugin"},
		{"Weather api wrapper", nil, "", "plugin"},
		{"Agent soul with persona", nil, "", "config"},
		{"Project starter kit", nil, "", "template"},
		{"Summarise papers", nil, "", "skill"},
		{"Summarise papers", nil, strings.Repeat("x", 1600) + "plugin", "skill"},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if got := DetectAssetType(tt.desc, tt.topics, tt.readme); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok123" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"name":"repo","full_name":"o/repo","stargazers_count":42,"owner":{"login":"o","id":7}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok123", WithSleep(noSleep))
	repo, err := c.FetchRepo(context.Background(), "o/repo")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if repo.Stars != 42 || repo.Owner.ID != 7 {
		t.Errorf("repo = %+v", repo)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestClientGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", WithSleep(noSleep))
	if _, err := c.FetchRepo(context.Background(), "o/r"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestClientNotFoundAndRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/o/missing", "/repos/o/r/readme":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", "1700000000")
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "", WithSleep(noSleep))
	ctx := context.Background()

	if _, err := c.FetchRepo(ctx, "o/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
	readme, err := c.FetchReadme(ctx, "o/r")
	if err != nil || readme != "" {
		t.Errorf("readme = %q, %v", readme, err)
	}
	var rl *RateLimitError
	if _, err := c.FetchRepo(ctx, "o/limited"); !errors.As(err, &rl) {
		t.Fatalf("limited err = %v", err)
	}
	if rl.Reset.Unix() != 1700000000 {
		t.Errorf("reset = %v", rl.Reset)
	}
}

func TestRedact(t *testing.T) {
	c := NewClient("", "ghp_secret")
	got := c.Redact(`Get "x?access=ghp_secret": Authorization: token abc`)
	if strings.Contains(got, "ghp_secret") || strings.Contains(got, "abc") {
		t.Errorf("redacted = %q", got)
	}
}

// fakeGitHub serves two repos owned by the same account.
func fakeGitHub(t *testing.T, stars *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/feishu-bridge":
			fmt.Fprintf(w, `{"name":"feishu-bridge","full_name":"acme/feishu-bridge","description":"Feishu bot bridge",
				"html_url":"https://github.com/acme/feishu-bridge","language":"Go","stargazers_count":%d,
				"forks_count":3,"topics":["openclaw"],"license":{"spdx_id":"MIT"},
				"owner":{"login":"acme","id":99,"avatar_url":"https://a/acme.png"}}`, stars.Load())
		case "/repos/acme/paper-notes":
			fmt.Fprint(w, `{"name":"paper-notes","full_name":"acme/paper-notes","stargazers_count":5,
				"owner":{"login":"acme","id":99}}`)
		case "/repos/acme/paper-notes/readme":
			fmt.Fprint(w, "# Paper Notes\n\nSummarises papers.\n")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newImporter(t *testing.T, base string) (*Importer, *db.DB) {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "hub.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return NewImporter(d, NewClient(base, "", WithSleep(noSleep))), d
}

func TestImportCreatesOwnerAndAsset(t *testing.T) {
	var stars atomic.Int32
	stars.Store(25)
	srv := fakeGitHub(t, &stars)
	defer srv.Close()
	im, d := newImporter(t, srv.URL)
	ctx := context.Background()

	res, err := im.Import(ctx, "https://github.com/acme/feishu-bridge", ImportOptions{})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Status != StatusCreated || res.Type != "channel" || !res.UserCreated {
		t.Fatalf("result = %+v", res)
	}
	a, err := d.GetAssetByID(ctx, res.AssetID)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if a.DisplayName != "Feishu Bridge" || a.GitHubStars != 25 || a.GitHubLicense != "MIT" || a.Category != "Go" {
		t.Errorf("asset = %+v", a)
	}
	wantTags := []string{"openclaw", "go", "github-import"}
	if strings.Join(a.Tags, ",") != strings.Join(wantTags, ",") {
		t.Errorf("tags = %v", a.Tags)
	}
	if a.StarRepSynced != 2 {
		t.Errorf("star rep synced = %d, want 2", a.StarRepSynced)
	}

	u, err := d.GetUserByID(ctx, res.UserID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !u.Activated() || u.Provider != "github" {
		t.Errorf("user = %+v", u)
	}
	// register bonus only: imports skip the publish reward
	if u.ShrimpCoins != 100 {
		t.Errorf("coins = %d, want 100", u.ShrimpCoins)
	}
	if u.Reputation != 4 {
		t.Errorf("reputation = %d, want 4", u.Reputation)
	}

	again, err := im.Import(ctx, "acme/feishu-bridge", ImportOptions{})
	if err != nil || again.Status != StatusSkipped || again.AssetID != res.AssetID {
		t.Errorf("second import = %+v, %v", again, err)
	}

	stars.Store(41)
	upd, err := im.Import(ctx, "acme/feishu-bridge", ImportOptions{Update: true})
	if err != nil || upd.Status != StatusUpdated {
		t.Fatalf("update = %+v, %v", upd, err)
	}
	u, _ = d.GetUserByID(ctx, res.UserID)
	if u.Reputation != 8 {
		t.Errorf("reputation after sync = %d, want 8", u.Reputation)
	}
	a, _ = d.GetAssetByID(ctx, res.AssetID)
	if a.GitHubStars != 41 || a.StarRepSynced != 4 {
		t.Errorf("after update stars=%d synced=%d", a.GitHubStars, a.StarRepSynced)
	}
}

func TestImportAll(t *testing.T) {
	var stars atomic.Int32
	stars.Store(3)
	srv := fakeGitHub(t, &stars)
	defer srv.Close()
	im, d := newImporter(t, srv.URL)
	ctx := context.Background()

	var seen atomic.Int32
	results := im.ImportAll(ctx, []string{"acme/feishu-bridge", "acme/missing", "acme/paper-notes"},
		ImportOptions{Category: "research"}, 3, func(Result) { seen.Add(1) })

	if len(results) != 3 || seen.Load() != 3 {
		t.Fatalf("results = %d, progress = %d", len(results), seen.Load())
	}
	if results[0].Status != StatusCreated || results[1].Status != StatusFailed || results[2].Status != StatusCreated {
		t.Errorf("statuses = %s %s %s", results[0].Status, results[1].Status, results[2].Status)
	}
	if !errors.Is(results[1].Err, ErrNotFound) {
		t.Errorf("missing err = %v", results[1].Err)
	}
	if results[0].UserID != results[2].UserID {
		t.Errorf("same owner mapped to two users: %s %s", results[0].UserID, results[2].UserID)
	}

	notes, _ := d.GetAssetByID(ctx, results[2].AssetID)
	if notes.Description != "Summarises papers." || notes.Category != "research" || notes.Type != "skill" {
		t.Errorf("notes = %+v", notes)
	}
}

func TestImportDryRun(t *testing.T) {
	var stars atomic.Int32
	srv := fakeGitHub(t, &stars)
	defer srv.Close()
	im, d := newImporter(t, srv.URL)

	res, err := im.Import(context.Background(), "acme/paper-notes", ImportOptions{DryRun: true, Type: "experience"})
	if err != nil || res.Status != StatusDryRun || res.Type != "experience" {
		t.Fatalf("dry run = %+v, %v", res, err)
	}
	var n int
	d.QueryRow(`SELECT COUNT(*) FROM assets`).Scan(&n)
	if n != 0 {
		t.Errorf("assets = %d after dry run", n)
	}
}
