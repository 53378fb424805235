package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/seafoodmarket/internal/auth"
	"github.com/hazyhaar/seafoodmarket/internal/bundle"
	"github.com/hazyhaar/seafoodmarket/internal/config"
	"github.com/hazyhaar/seafoodmarket/internal/db"
)

const testAdminSecret = "admin-s3cret"

type testEnv struct {
	api *API
	db  *db.DB
	mux *http.ServeMux
}

func newTestEnv(t *testing.T, limits *Limiters) *testEnv {
	t.Helper()
	dir := t.TempDir()
	d, err := db.Open(filepath.Join(dir, "hub.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.AdminSecret = testAdminSecret
	cfg.Server.PublicURL = "http://hub.test"
	store, err := bundle.NewStore(filepath.Join(dir, "packages"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	a := New(d, auth.New(cfg.Auth.JWTSecret, 60), cfg, store)
	if limits != nil {
		a.SetLimiters(limits)
	}
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	return &testEnv{api: a, db: d, mux: mux}
}

// user creates an activated user and returns it with a bearer session token.
func (e *testEnv) user(t *testing.T, name string) (*db.User, string) {
	t.Helper()
	u, err := e.db.CreateUser(context.Background(), db.CreateUserInput{Name: name, Provider: "test", InviteCode: "TESTING"})
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	tok, err := e.api.auth.GenerateToken(u.ID, u.Name)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return u, tok
}

type response struct {
	Code   int
	Header http.Header
	Body   map[string]any
	Raw    []byte
}

func (r *response) data() map[string]any {
	d, _ := r.Body["data"].(map[string]any)
	return d
}

func (e *testEnv) do(t *testing.T, req *http.Request) *response {
	t.Helper()
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	res := &response{Code: rec.Code, Header: rec.Header(), Raw: rec.Body.Bytes()}
	_ = json.Unmarshal(res.Raw, &res.Body)
	return res
}

func (e *testEnv) call(t *testing.T, method, path, token string, body any) *response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.do(t, req)
}

func publishRequest(t *testing.T, token string, metadata map[string]any, pkgName string, pkg []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	md, _ := json.Marshal(metadata)
	if err := mw.WriteField("metadata", string(md)); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	if pkg != nil {
		fw, err := mw.CreateFormFile("package", pkgName)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		fw.Write(pkg)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assets/publish", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		w.Write([]byte(body))
	}
	zw.Close()
	return buf.Bytes()
}

func TestPublishWithoutPackage(t *testing.T) {
	e := newTestEnv(t, nil)
	_, tok := e.user(t, "alice")

	res := e.do(t, publishRequest(t, tok, map[string]any{
		"name": "weather", "type": "skill", "version": "1.0.0", "displayName": "Weather", "description": "forecasts",
	}, "", nil))
	if res.Code != http.StatusCreated {
		t.Fatalf("publish status = %d, body = %s", res.Code, res.Raw)
	}
	id, _ := res.data()["id"].(string)
	if id == "" {
		t.Fatalf("no id in %s", res.Raw)
	}
	if res.data()["packageFile"] != nil {
		t.Errorf("packageFile = %v, want null", res.data()["packageFile"])
	}

	asset, err := e.db.GetAssetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Downloads != 0 || asset.Version != "1.0.0" {
		t.Errorf("downloads = %d, version = %q", asset.Downloads, asset.Version)
	}

	dl := e.call(t, http.MethodGet, "/api/v1/assets/"+id+"/download", "", nil)
	if dl.Code != http.StatusNotFound {
		t.Errorf("download without package = %d, want 404", dl.Code)
	}
}

func TestPublishRejections(t *testing.T) {
	e := newTestEnv(t, nil)
	_, tok := e.user(t, "alice")
	inactive, err := e.db.CreateUser(context.Background(), db.CreateUserInput{Name: "nobody", Provider: "test"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	inactiveTok, _ := e.api.auth.GenerateToken(inactive.ID, inactive.Name)

	valid := map[string]any{"name": "x", "type": "skill", "version": "1.0.0"}
	tests := []struct {
		name  string
		token string
		meta  map[string]any
		code  int
		err   string
	}{
		{"anonymous", "", valid, http.StatusUnauthorized, "authentication_required"},
		{"not activated", inactiveTok, valid, http.StatusForbidden, "invite_required"},
		{"missing version", tok, map[string]any{"name": "x", "type": "skill"}, http.StatusBadRequest, ""},
		{"bad type", tok, map[string]any{"name": "x", "type": "widget", "version": "1.0.0"}, http.StatusBadRequest, "invalid_type"},
		{"bad semver", tok, map[string]any{"name": "x", "type": "skill", "version": "one"}, http.StatusBadRequest, "invalid_version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.do(t, publishRequest(t, tt.token, tt.meta, "", nil))
			if res.Code != tt.code {
				t.Fatalf("status = %d, want %d (%s)", res.Code, tt.code, res.Raw)
			}
			if tt.err != "" && res.Body["error"] != tt.err {
				t.Errorf("error = %v, want %s", res.Body["error"], tt.err)
			}
		})
	}
}

func TestRepublishVersions(t *testing.T) {
	e := newTestEnv(t, nil)
	_, tok := e.user(t, "alice")
	meta := func(v string) map[string]any {
		return map[string]any{"name": "weather", "type": "skill", "version": v, "changelog": "v" + v}
	}

	first := e.do(t, publishRequest(t, tok, meta("1.0.0"), "", nil))
	if first.Code != http.StatusCreated {
		t.Fatalf("first publish = %d", first.Code)
	}
	id := first.data()["id"].(string)

	second := e.do(t, publishRequest(t, tok, meta("1.1.0"), "", nil))
	if second.Code != http.StatusOK {
		t.Fatalf("republish = %d, body = %s", second.Code, second.Raw)
	}
	if second.data()["id"] != id {
		t.Errorf("republish id = %v, want %s", second.data()["id"], id)
	}

	older := e.do(t, publishRequest(t, tok, meta("0.9.0"), "", nil))
	if older.Code != http.StatusConflict || older.Body["error"] != "version_not_newer" {
		t.Errorf("older version = %d %v", older.Code, older.Body["error"])
	}

	versions, err := e.db.GetVersions(context.Background(), id)
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(versions) != 2 || versions[1].Version != "1.1.0" {
		t.Errorf("versions = %+v", versions)
	}
}

func TestPublishPackageAndDownload(t *testing.T) {
	e := newTestEnv(t, nil)
	_, tok := e.user(t, "alice")
	pkg := zipOf(t, map[string]string{
		"SKILL.md": "---\nname: Weather Bot\ndescription: Tells the weather\n---\n\n# Usage\n\nAsk it.\n",
		"run.sh":   "#!/bin/sh\necho sunny\n",
	})

	res := e.do(t, publishRequest(t, tok, map[string]any{"name": "weather", "type": "skill", "version": "1.0.0"}, "weather.zip", pkg))
	if res.Code != http.StatusCreated {
		t.Fatalf("publish = %d, body = %s", res.Code, res.Raw)
	}
	if res.data()["displayName"] != "Weather Bot" {
		t.Errorf("displayName = %v, want extracted name", res.data()["displayName"])
	}
	id := res.data()["id"].(string)

	dl := e.call(t, http.MethodGet, "/api/v1/assets/"+id+"/download", "", nil)
	if dl.Code != http.StatusOK {
		t.Fatalf("download = %d", dl.Code)
	}
	if ct := dl.Header.Get("Content-Type"); ct != "application/zip" {
		t.Errorf("content type = %q", ct)
	}
	if cd := dl.Header.Get("Content-Disposition"); cd != `attachment; filename=weather-1.0.0.zip` {
		t.Errorf("disposition = %q", cd)
	}
	if !bytes.Equal(dl.Raw, pkg) {
		t.Error("downloaded bytes differ from upload")
	}

	file := e.call(t, http.MethodGet, "/api/v1/assets/"+id+"/files/run.sh", "", nil)
	if file.Code != http.StatusOK || string(file.Raw) != "#!/bin/sh\necho sunny\n" {
		t.Errorf("file = %d %q", file.Code, file.Raw)
	}

	asset, _ := e.db.GetAssetByID(context.Background(), id)
	if asset.Downloads != 1 {
		t.Errorf("downloads = %d, want 1", asset.Downloads)
	}
	if len(asset.Files) != 2 {
		t.Errorf("files = %+v", asset.Files)
	}
}

func TestDownloadReportsServedVersion(t *testing.T) {
	e := newTestEnv(t, nil)
	_, tok := e.user(t, "alice")
	pkg := zipOf(t, map[string]string{"SKILL.md": "---\nname: Tide\ndescription: Tide tables\n---\n\n# Tide\n"})

	res := e.do(t, publishRequest(t, tok, map[string]any{"name": "tide", "type": "skill", "version": "1.0.0"}, "", nil))
	if res.Code != http.StatusCreated {
		t.Fatalf("publish = %d, body = %s", res.Code, res.Raw)
	}
	id := res.data()["id"].(string)
	res = e.do(t, publishRequest(t, tok, map[string]any{"name": "tide", "type": "skill", "version": "1.1.0"}, "tide.zip", pkg))
	if res.Code != http.StatusOK {
		t.Fatalf("republish = %d, body = %s", res.Code, res.Raw)
	}

	old := e.call(t, http.MethodGet, "/api/v1/assets/"+id+"/download?version=1.0.0", "", nil)
	if old.Code != http.StatusNotFound || old.Body["error"] != "package_not_found" {
		t.Errorf("old version download = %d %s", old.Code, old.Raw)
	}

	res = e.do(t, publishRequest(t, tok, map[string]any{"name": "tide", "type": "skill", "version": "1.2.0"}, "", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("republish without package = %d, body = %s", res.Code, res.Raw)
	}
	cur := e.call(t, http.MethodGet, "/api/v1/assets/"+id+"/download", "", nil)
	if cur.Code != http.StatusOK {
		t.Fatalf("current download = %d %s", cur.Code, cur.Raw)
	}
	if v := cur.Header.Get("X-Asset-Version"); v != "" {
		t.Errorf("X-Asset-Version = %q for a package stored under another version", v)
	}
	if cd := cur.Header.Get("Content-Disposition"); cd != `attachment; filename=tide.zip` {
		t.Errorf("disposition = %q", cd)
	}
}

func TestPublishValidationFailure(t *testing.T) {
	e := newTestEnv(t, nil)
	alice, tok := e.user(t, "alice")
	pkg := zipOf(t, map[string]string{"notes.txt": "hello"})

	res := e.do(t, publishRequest(t, tok, map[string]any{"name": "weather", "type": "skill", "version": "1.0.0"}, "weather.zip", pkg))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", res.Code, res.Raw)
	}
	if res.Body["error"] != "publish_validation_failed" {
		t.Errorf("error = %v", res.Body["error"])
	}
	missing, _ := res.Body["missing"].([]any)
	if len(missing) != 1 || missing[0] != "SKILL.md" {
		t.Errorf("missing = %v", res.Body["missing"])
	}
	if _, err := e.db.FindAssetByNameAndAuthor(context.Background(), "weather", alice.ID); err == nil {
		t.Error("asset created despite validation failure")
	}
}

func TestDeviceAuthFlow(t *testing.T) {
	e := newTestEnv(t, nil)
	u1, tok := e.user(t, "u1")

	created := e.call(t, http.MethodPost, "/api/auth/cli", "", map[string]string{"deviceId": "dev-123456", "deviceName": "laptop"})
	if created.Code != http.StatusCreated {
		t.Fatalf("create = %d, body = %s", created.Code, created.Raw)
	}
	code := created.data()["code"].(string)

	pending := e.call(t, http.MethodGet, "/api/auth/cli?code="+code+"&deviceId=dev-123456", "", nil)
	if pending.data()["status"] != db.CLIPending {
		t.Errorf("status before approve = %v", pending.data()["status"])
	}

	approved := e.call(t, http.MethodPut, "/api/auth/cli", tok, map[string]string{"code": code})
	if approved.Code != http.StatusOK {
		t.Fatalf("approve = %d, body = %s", approved.Code, approved.Raw)
	}

	polled := e.call(t, http.MethodGet, "/api/auth/cli?code="+code+"&deviceId=dev-123456", "", nil)
	if polled.data()["status"] != db.CLIAuthorized || polled.data()["userId"] != u1.ID {
		t.Errorf("poll = %s", polled.Raw)
	}

	again := e.call(t, http.MethodPut, "/api/auth/cli", tok, map[string]string{"code": code})
	if again.Code != http.StatusBadRequest {
		t.Errorf("second approve = %d, want 400", again.Code)
	}

	other := e.call(t, http.MethodGet, "/api/auth/cli?code="+code+"&deviceId=someone-else", "", nil)
	if other.Code != http.StatusNotFound {
		t.Errorf("poll with other device = %d, want 404", other.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.Header.Set(DeviceHeader, "dev-123456")
	if res := e.do(t, req); res.Code != http.StatusOK {
		t.Errorf("device-authenticated request = %d, body = %s", res.Code, res.Raw)
	}
	if b, _ := e.db.GetDeviceBinding(context.Background(), "dev-123456"); b == nil || b.LastPublishAt != nil {
		t.Errorf("read stamped last_publish_at: %+v", b)
	}

	pub := publishRequest(t, "", map[string]any{"name": "via-device", "type": "skill", "version": "1.0.0"}, "", nil)
	pub.Header.Set(DeviceHeader, "dev-123456")
	if res := e.do(t, pub); res.Code != http.StatusCreated {
		t.Fatalf("device publish = %d, body = %s", res.Code, res.Raw)
	}
	if b, _ := e.db.GetDeviceBinding(context.Background(), "dev-123456"); b == nil || b.LastPublishAt == nil {
		t.Errorf("publish did not stamp last_publish_at: %+v", b)
	}
}

func TestIdentifyWithAPIKey(t *testing.T) {
	e := newTestEnv(t, nil)
	u, _ := e.user(t, "alice")
	key, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := e.db.CreateAPIKey(context.Background(), u.ID, "ci", key.Hash, key.Prefix); err != nil {
		t.Fatalf("store key: %v", err)
	}

	res := e.call(t, http.MethodGet, "/api/v1/notifications", key.Plain, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("api key request = %d, body = %s", res.Code, res.Raw)
	}
	bad := e.call(t, http.MethodGet, "/api/v1/notifications", "sk-not-a-real-key", nil)
	if bad.Code != http.StatusUnauthorized || bad.Body["error"] != "authentication_required" {
		t.Errorf("bad key = %d %v", bad.Code, bad.Body["error"])
	}
}

func TestStarTwice(t *testing.T) {
	e := newTestEnv(t, nil)
	_, tok := e.user(t, "alice")
	_, otherTok := e.user(t, "bob")
	res := e.do(t, publishRequest(t, tok, map[string]any{"name": "weather", "type": "skill", "version": "1.0.0"}, "", nil))
	id := res.data()["id"].(string)

	first := e.call(t, http.MethodPost, "/api/v1/assets/"+id+"/star", tok, nil)
	second := e.call(t, http.MethodPost, "/api/v1/assets/"+id+"/star", tok, nil)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("star = %d, %d", first.Code, second.Code)
	}
	if first.data()["totalStars"] != float64(1) || second.data()["totalStars"] != float64(1) {
		t.Errorf("totalStars = %v then %v, want 1", first.data()["totalStars"], second.data()["totalStars"])
	}
	if second.data()["created"] != false {
		t.Errorf("second star created = %v", second.data()["created"])
	}

	unstar := e.call(t, http.MethodDelete, "/api/v1/assets/"+id+"/star", otherTok, nil)
	if unstar.data()["deleted"] != false {
		t.Errorf("unstar never-starred deleted = %v", unstar.data()["deleted"])
	}

	missing := e.call(t, http.MethodPost, "/api/v1/assets/s-missing/star", tok, nil)
	if missing.Code != http.StatusNotFound {
		t.Errorf("star missing asset = %d", missing.Code)
	}
}

func TestRateLimited(t *testing.T) {
	limits := DefaultLimiters()
	limits.Search = NewRateLimiter(1, time.Minute)
	e := newTestEnv(t, limits)

	if res := e.call(t, http.MethodGet, "/api/v1/search?q=weather", "", nil); res.Code != http.StatusOK {
		t.Fatalf("first search = %d, body = %s", res.Code, res.Raw)
	}
	res := e.call(t, http.MethodGet, "/api/v1/search?q=weather", "", nil)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("second search = %d, want 429", res.Code)
	}
	if res.Header.Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", res.Header.Get("Retry-After"))
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	e := newTestEnv(t, nil)
	res := e.call(t, http.MethodGet, "/api/v1/search", "", nil)
	if res.Code != http.StatusBadRequest || res.Body["error"] != "missing_query" {
		t.Errorf("search without q = %d %v", res.Code, res.Body["error"])
	}
}

func TestAdminRoles(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()
	admin, adminTok := e.user(t, "root")
	mod, modTok := e.user(t, "mod")
	target, targetTok := e.user(t, "target")
	if _, err := e.db.SetRole(ctx, admin.ID, db.RoleAdmin); err != nil {
		t.Fatalf("set role: %v", err)
	}
	if _, err := e.db.SetRole(ctx, mod.ID, db.RoleModerator); err != nil {
		t.Fatalf("set role: %v", err)
	}

	if res := e.call(t, http.MethodPost, "/api/v1/admin/ban", "", map[string]string{"userId": target.ID}); res.Code != http.StatusUnauthorized {
		t.Errorf("anonymous ban = %d", res.Code)
	}
	if res := e.call(t, http.MethodPost, "/api/v1/admin/ban", targetTok, map[string]string{"userId": mod.ID}); res.Code != http.StatusForbidden {
		t.Errorf("user ban = %d", res.Code)
	}
	if res := e.call(t, http.MethodPost, "/api/v1/admin/ban", modTok, map[string]string{"userId": admin.ID}); res.Body["error"] != "insufficient_role" {
		t.Errorf("moderator banning admin = %d %v", res.Code, res.Body["error"])
	}
	if res := e.call(t, http.MethodPost, "/api/v1/admin/ban", modTok, map[string]string{"userId": mod.ID}); res.Body["error"] != "cannot_ban_self" {
		t.Errorf("self ban = %v", res.Body["error"])
	}
	if res := e.call(t, http.MethodPost, "/api/v1/admin/set-role", modTok, map[string]string{"userId": target.ID, "role": "admin"}); res.Code != http.StatusForbidden {
		t.Errorf("moderator set-role = %d", res.Code)
	}

	ban := e.call(t, http.MethodPost, "/api/v1/admin/ban", modTok, map[string]string{"userId": target.ID, "reason": "spam"})
	if ban.Code != http.StatusOK || ban.data()["alreadyBanned"] != false {
		t.Fatalf("ban = %d %s", ban.Code, ban.Raw)
	}
	blocked := e.do(t, publishRequest(t, targetTok, map[string]any{"name": "x", "type": "skill", "version": "1.0.0"}, "", nil))
	if blocked.Code != http.StatusForbidden || blocked.Body["error"] != "user_banned" {
		t.Errorf("banned publish = %d %v", blocked.Code, blocked.Body["error"])
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/unban", bytes.NewReader([]byte(`{"userId":"`+target.ID+`"}`)))
	req.Header.Set("X-Admin-Secret", testAdminSecret)
	if res := e.do(t, req); res.Code != http.StatusOK || res.data()["wasBanned"] != true {
		t.Errorf("unban via secret = %d %s", res.Code, res.Raw)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/invite", nil)
	req.Header.Set("X-Admin-Secret", "wrong")
	if res := e.do(t, req); res.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret = %d, want 401", res.Code)
	}

	created := e.call(t, http.MethodPost, "/api/admin/invite", adminTok, map[string]any{"code": "vipcode", "maxUses": 3})
	if created.Code != http.StatusCreated || created.data()["code"] != "VIPCODE" {
		t.Errorf("create invite = %d %s", created.Code, created.Raw)
	}
	dup := e.call(t, http.MethodPost, "/api/admin/invite", adminTok, map[string]any{"code": "VIPCODE", "maxUses": 3})
	if dup.Code != http.StatusConflict {
		t.Errorf("duplicate invite = %d", dup.Code)
	}
}

func TestCommentsAndManifest(t *testing.T) {
	e := newTestEnv(t, nil)
	_, tok := e.user(t, "alice")
	_, otherTok := e.user(t, "bob")
	res := e.do(t, publishRequest(t, tok, map[string]any{"name": "weather", "type": "skill", "version": "1.0.0"}, "", nil))
	id := res.data()["id"].(string)

	empty := e.call(t, http.MethodPost, "/api/v1/assets/"+id+"/comments", otherTok, map[string]any{"content": "  "})
	if empty.Code != http.StatusBadRequest {
		t.Errorf("empty comment = %d", empty.Code)
	}
	c := e.call(t, http.MethodPost, "/api/v1/assets/"+id+"/comments", otherTok, map[string]any{"content": "works", "rating": 5})
	if c.Code != http.StatusCreated {
		t.Fatalf("comment = %d %s", c.Code, c.Raw)
	}
	list := e.call(t, http.MethodGet, "/api/v1/assets/"+id+"/comments", "", nil)
	if list.data()["total"] != float64(1) {
		t.Errorf("comments = %s", list.Raw)
	}

	forbidden := e.call(t, http.MethodPut, "/api/v1/assets/"+id+"/manifest", otherTok, map[string]any{"entry": "main.js"})
	if forbidden.Code != http.StatusForbidden {
		t.Errorf("non-owner manifest edit = %d", forbidden.Code)
	}
	if res := e.call(t, http.MethodPut, "/api/v1/assets/"+id+"/manifest", tok, map[string]any{"entry": "main.js"}); res.Code != http.StatusOK {
		t.Fatalf("owner manifest edit = %d %s", res.Code, res.Raw)
	}

	m := e.call(t, http.MethodGet, "/api/v1/assets/"+id+"/manifest", "", nil)
	if m.Body["entry"] != "main.js" || m.Body["name"] != "weather" {
		t.Errorf("manifest = %s", m.Raw)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/assets/"+id+"/manifest", nil)
	req.Header.Set("Accept", "text/yaml")
	y := e.do(t, req)
	if !bytes.Contains(y.Raw, []byte("entry: main.js")) {
		t.Errorf("yaml manifest = %q", y.Raw)
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil)
	res := e.call(t, http.MethodGet, "/healthz", "", nil)
	if res.Code != http.StatusOK || res.Body["status"] != "ok" {
		t.Errorf("healthz = %d %s", res.Code, res.Raw)
	}
}
