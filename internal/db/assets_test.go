package db

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func createAsset(t *testing.T, d *DB, in CreateAssetInput) *Asset {
	t.Helper()
	if in.Type == "" {
		in.Type = "skill"
	}
	a, err := d.CreateAsset(context.Background(), in)
	if err != nil {
		t.Fatalf("create asset %s: %v", in.Name, err)
	}
	return a
}

func TestCreateAssetDefaults(t *testing.T) {
	d := newTestDB(t)
	a := createAsset(t, d, CreateAssetInput{Name: "weather", DisplayName: "Weather", Type: "trigger", AuthorName: "Jane Doe"})

	if !strings.HasPrefix(a.ID, "tr-") || len(a.ID) != len("tr-")+16 {
		t.Errorf("id = %q, want tr- plus 16 hex", a.ID)
	}
	if a.Version != "1.0.0" || a.Downloads != 0 {
		t.Errorf("version=%s downloads=%d", a.Version, a.Downloads)
	}
	if a.Author.ID != "u-jane-doe" {
		t.Errorf("author id = %q, want u-jane-doe", a.Author.ID)
	}
	if a.InstallCommand != "seafood-market install trigger/@u-jane-doe/weather" {
		t.Errorf("install command = %q", a.InstallCommand)
	}
	if len(a.Versions) != 1 || a.Versions[0].Changelog != "首次发布" {
		t.Errorf("versions = %+v", a.Versions)
	}
	if a.Tags == nil || a.Files == nil || a.Dependencies == nil {
		t.Error("collections should be empty, not nil")
	}
}

func TestAssetIDPrefixes(t *testing.T) {
	d := newTestDB(t)
	tests := map[string]string{
		"skill": "s-", "config": "c-", "plugin": "p-", "trigger": "tr-",
		"channel": "ch-", "template": "t-", "experience": "e-",
	}
	for typ, prefix := range tests {
		t.Run(typ, func(t *testing.T) {
			a := createAsset(t, d, CreateAssetInput{Name: "x-" + typ, DisplayName: typ, Type: typ})
			if !strings.HasPrefix(a.ID, prefix) {
				t.Errorf("id %q missing prefix %q", a.ID, prefix)
			}
		})
	}
	if _, err := d.CreateAsset(context.Background(), CreateAssetInput{Name: "bad", Type: "widget"}); err == nil {
		t.Error("unknown type accepted")
	}
}

func TestJSONColumnsRoundTrip(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	files := []FileMeta{{Path: "SKILL.md", Size: 12, SHA256: "abcdef0123456789", ContentType: "text/markdown"}}
	a := createAsset(t, d, CreateAssetInput{
		Name: "tags", DisplayName: "Tags", Tags: []string{"a", "b"},
		Dependencies: []string{"s-1", "s-2"}, Files: files,
		Manifest: map[string]any{"name": "tags", "nested": map[string]any{"k": "v"}},
	})

	got, err := d.GetAssetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got.Tags, []string{"a", "b"}) {
		t.Errorf("tags = %v", got.Tags)
	}
	if !reflect.DeepEqual(got.Dependencies, []string{"s-1", "s-2"}) {
		t.Errorf("dependencies = %v", got.Dependencies)
	}
	if !reflect.DeepEqual(got.Files, files) {
		t.Errorf("files = %+v", got.Files)
	}
	m, err := d.GetManifest(ctx, a.ID)
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if nested, _ := m["nested"].(map[string]any); nested["k"] != "v" {
		t.Errorf("manifest = %v", m)
	}
}

func TestMalformedJSONColumnFallsBack(t *testing.T) {
	d := newTestDB(t)
	a := createAsset(t, d, CreateAssetInput{Name: "broken", DisplayName: "Broken"})
	if _, err := d.Exec(`UPDATE assets SET tags = '{not json' WHERE id = ?`, a.ID); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	got, err := d.GetAssetByID(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Tags == nil || len(got.Tags) != 0 {
		t.Errorf("tags = %v, want empty", got.Tags)
	}
}

func TestStarIdempotence(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	author := createUser(t, d, "author")
	fan := createUser(t, d, "fan")
	a := createAsset(t, d, CreateAssetInput{Name: "starry", DisplayName: "Starry", AuthorID: author.ID, AuthorName: author.Name})

	before, _ := d.GetAssetByID(ctx, a.ID)
	created, err := d.StarAsset(ctx, a.ID, fan.ID)
	if err != nil || !created {
		t.Fatalf("first star: created=%v err=%v", created, err)
	}
	created, err = d.StarAsset(ctx, a.ID, fan.ID)
	if err != nil || created {
		t.Fatalf("second star: created=%v err=%v", created, err)
	}
	after, _ := d.GetAssetByID(ctx, a.ID)
	if after.TotalStars != before.TotalStars+1 {
		t.Errorf("totalStars %d -> %d, want +1", before.TotalStars, after.TotalStars)
	}

	other := createUser(t, d, "other")
	deleted, err := d.UnstarAsset(ctx, a.ID, other.ID)
	if err != nil || deleted {
		t.Errorf("unstar never-starred: deleted=%v err=%v", deleted, err)
	}

	got, _ := d.GetUserByID(ctx, author.ID)
	// publish_asset +1, asset_starred +5
	if got.Reputation != 6 {
		t.Errorf("author reputation = %d, want 6", got.Reputation)
	}
	if _, err := d.StarAsset(ctx, "s-missing", fan.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("star missing asset err = %v", err)
	}
}

func TestIncrementDownloadRewards(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	author := createUser(t, d, "maker")
	user := createUser(t, d, "installer")
	a := createAsset(t, d, CreateAssetInput{Name: "tool", DisplayName: "Tool", AuthorID: author.ID, AuthorName: author.Name})

	n, err := d.IncrementDownload(ctx, a.ID, user.ID)
	if err != nil || n != 1 {
		t.Fatalf("download: n=%d err=%v", n, err)
	}
	if _, err := d.IncrementDownload(ctx, a.ID, user.ID); err != nil {
		t.Fatalf("second download: %v", err)
	}

	gotAuthor, _ := d.GetUserByID(ctx, author.ID)
	// register 100 + publish 50 + one install 10
	if gotAuthor.ShrimpCoins != 160 {
		t.Errorf("author coins = %d, want 160", gotAuthor.ShrimpCoins)
	}
	gotUser, _ := d.GetUserByID(ctx, user.ID)
	if gotUser.ShrimpCoins != 98 {
		t.Errorf("installer coins = %d, want 98", gotUser.ShrimpCoins)
	}
	info, _ := d.GetStarInfo(ctx, a.ID, user.ID)
	if !info.IsStarred || info.UserStars != 1 {
		t.Errorf("download star = %+v", info)
	}

	if _, err := d.IncrementDownload(ctx, a.ID, author.ID); err != nil {
		t.Fatalf("self download: %v", err)
	}
	again, _ := d.GetUserByID(ctx, author.ID)
	if again.ShrimpCoins != 159 {
		t.Errorf("self install coins = %d, want 159", again.ShrimpCoins)
	}

	if _, err := d.IncrementDownload(ctx, "s-none", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing asset err = %v", err)
	}
}

func TestPublishVersionAppends(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	u := createUser(t, d, "dev")
	a := createAsset(t, d, CreateAssetInput{Name: "evolve", DisplayName: "Evolve", AuthorID: u.ID, AuthorName: u.Name})

	v := "1.1.0"
	got, err := d.PublishVersion(ctx, a.ID, u.ID, AssetPatch{Version: &v}, "faster")
	if err != nil {
		t.Fatalf("publish version: %v", err)
	}
	if got.Version != "1.1.0" || len(got.Versions) != 2 || got.Versions[1].Changelog != "faster" {
		t.Errorf("versions = %+v", got.Versions)
	}
	entry, err := d.GetVersion(ctx, a.ID, "1.0.0")
	if err != nil || entry.Version != "1.0.0" {
		t.Errorf("get version = %+v, %v", entry, err)
	}
	if _, err := d.GetVersion(ctx, a.ID, "9.9.9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown version err = %v", err)
	}
}

func TestListAndSearch(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	createAsset(t, d, CreateAssetInput{Name: "weather-bot", DisplayName: "Weather Bot", Description: "forecasts", Tags: []string{"weather"}, Category: "tools"})
	createAsset(t, d, CreateAssetInput{Name: "feishu-bridge", DisplayName: "飞书桥", Type: "channel", Description: "bridge", Category: "chat"})
	createAsset(t, d, CreateAssetInput{Name: "cron", DisplayName: "Cron", Type: "trigger", Description: "100% on time", Tags: []string{"time"}})

	page, err := d.ListAssetsCompact(ctx, ListParams{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 3 {
		t.Fatalf("total = %d items = %d", page.Total, len(page.Items))
	}
	if page.Items[0].Name != "feishu-bridge" {
		t.Errorf("popular sort should lift CJK names, first = %s", page.Items[0].Name)
	}

	tests := []struct {
		name string
		p    ListParams
		want int
	}{
		{"type", ListParams{Type: "channel"}, 1},
		{"invalid type ignored", ListParams{Type: "widget"}, 3},
		{"tag", ListParams{Tag: "weather"}, 1},
		{"category", ListParams{Category: "chat"}, 1},
		{"fts", ListParams{Query: "weather"}, 1},
		{"quote stripped", ListParams{Query: `"forecasts*`}, 1},
		{"full width", ListParams{Query: "ｗｅａｔｈｅｒ"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.ListAssetsCompact(ctx, tt.p)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if got.Total != tt.want {
				t.Errorf("total = %d, want %d", got.Total, tt.want)
			}
		})
	}

	l1, err := d.ListAssetsL1(ctx, ListParams{Sort: SortNewest}, "", 2)
	if err != nil {
		t.Fatalf("l1: %v", err)
	}
	if len(l1.Items) != 2 || l1.NextCursor == nil || *l1.NextCursor != "2" {
		t.Fatalf("l1 first page = %+v", l1)
	}
	l1, _ = d.ListAssetsL1(ctx, ListParams{Sort: SortNewest}, *l1.NextCursor, 2)
	if len(l1.Items) != 1 || l1.NextCursor != nil {
		t.Errorf("l1 last page = %+v", l1)
	}
}

func TestLikeEscaping(t *testing.T) {
	if got := escapeLike(`100%_\`); got != `100\%\_\\` {
		t.Errorf("escapeLike = %q", got)
	}
	if got := ftsQuery(`"foo* bar"  baz`); got != `"foo" "bar" "baz"` {
		t.Errorf("ftsQuery = %q", got)
	}
}

func TestTagsCategoriesAndBatch(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	a := createAsset(t, d, CreateAssetInput{Name: "one", DisplayName: "One", Tags: []string{"ai", "chat"}, Category: "bots"})
	b := createAsset(t, d, CreateAssetInput{Name: "two", DisplayName: "Two", Tags: []string{"ai"}, Category: "bots"})

	tags, err := d.GetAllTags(ctx)
	if err != nil {
		t.Fatalf("tags: %v", err)
	}
	if len(tags) != 2 || tags[0] != (TagCount{Tag: "ai", Count: 2}) {
		t.Errorf("tags = %+v", tags)
	}
	cats, err := d.GetAllCategories(ctx)
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if len(cats) != 1 || cats[0].Count != 2 {
		t.Errorf("categories = %+v", cats)
	}

	items, err := d.GetAssetsByIDs(ctx, []string{b.ID, "s-unknown", a.ID})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(items) != 2 || items[0].ID != b.ID || items[1].ID != a.ID {
		t.Errorf("batch order = %+v", items)
	}
}

func TestResolveByHashPrefix(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	a := createAsset(t, d, CreateAssetInput{Name: "hashed", DisplayName: "Hashed",
		Files: []FileMeta{{Path: "run.sh", SHA256: "DEADBEEF00112233"}}})

	matches, err := d.ResolveByHash(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(matches) != 1 || matches[0].AssetID != a.ID || matches[0].FilePath != "run.sh" {
		t.Errorf("matches = %+v", matches)
	}
	none, _ := d.ResolveByHash(ctx, "cafebabe")
	if len(none) != 0 {
		t.Errorf("unexpected matches %+v", none)
	}
}

func TestDeleteAssetRemovesChildren(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	u := createUser(t, d, "critic")
	a := createAsset(t, d, CreateAssetInput{Name: "doomed", DisplayName: "Doomed"})
	if _, err := d.CreateComment(ctx, CreateCommentInput{AssetID: a.ID, UserID: u.ID, UserName: u.Name, Content: "meh", Rating: 3}); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if _, err := d.StarAsset(ctx, a.ID, u.ID); err != nil {
		t.Fatalf("star: %v", err)
	}
	ok, err := d.DeleteAsset(ctx, a.ID)
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	var n int
	d.QueryRow(`SELECT COUNT(*) FROM comments WHERE asset_id = ?`, a.ID).Scan(&n)
	if n != 0 {
		t.Errorf("comments left = %d", n)
	}
	if _, err := d.GetAssetByID(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("get deleted err = %v", err)
	}
}

func TestGetReadmeErrors(t *testing.T) {
	d := newTestDB(t)
	a := createAsset(t, d, CreateAssetInput{Name: "reef", DisplayName: "Reef", Readme: "# reef"})

	rd, err := d.GetReadme(context.Background(), a.ID)
	if err != nil || rd.Readme != "# reef" || rd.Version != "1.0.0" {
		t.Fatalf("readme = %+v, %v", rd, err)
	}
	if rd, err := d.GetReadme(context.Background(), "s-missing"); !errors.Is(err, ErrNotFound) || rd != nil {
		t.Errorf("missing = %+v, %v", rd, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if rd, err := d.GetReadme(ctx, a.ID); err == nil || rd != nil {
		t.Errorf("cancelled = %+v, %v; want nil result with error", rd, err)
	}
}
