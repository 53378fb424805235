package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/hazyhaar/seafoodmarket/internal/db"
)

func (e *testEnv) publishBare(t *testing.T, tok, name string) string {
	t.Helper()
	res := e.do(t, publishRequest(t, tok, map[string]any{"name": name, "type": "skill", "version": "1.0.0", "description": "d"}, "", nil))
	if res.Code != http.StatusCreated {
		t.Fatalf("publish %s = %d, body = %s", name, res.Code, res.Raw)
	}
	return res.data()["id"].(string)
}

func TestDashboard(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()
	_, aliceTok := e.user(t, "alice")
	bob, bobTok := e.user(t, "bob")
	mine := e.publishBare(t, aliceTok, "crab-counter")
	theirs := e.publishBare(t, bobTok, "eel-finder")

	if _, err := e.db.CreateComment(ctx, db.CreateCommentInput{AssetID: mine, UserID: bob.ID, UserName: "bob", Content: "nice", Rating: 4}); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if _, err := e.db.CreateComment(ctx, db.CreateCommentInput{AssetID: theirs, UserID: bob.ID, UserName: "bob", Content: "self"}); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if _, err := e.db.CreateIssue(ctx, db.CreateIssueInput{AssetID: mine, AuthorID: bob.ID, AuthorName: "bob", Title: "crash", Body: "on start"}); err != nil {
		t.Fatalf("issue: %v", err)
	}

	if res := e.call(t, http.MethodGet, "/api/v1/dashboard", "", nil); res.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous dashboard = %d", res.Code)
	}

	res := e.call(t, http.MethodGet, "/api/v1/dashboard", aliceTok, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("dashboard = %d: %s", res.Code, res.Raw)
	}
	d := res.data()
	assets, _ := d["assets"].([]any)
	if len(assets) != 1 || assets[0].(map[string]any)["id"] != mine {
		t.Errorf("assets = %v", d["assets"])
	}
	comments, _ := d["comments"].([]any)
	if len(comments) != 1 || comments[0].(map[string]any)["content"] != "nice" {
		t.Errorf("comments = %v", d["comments"])
	}
	issues, _ := d["issues"].([]any)
	if len(issues) != 1 || issues[0].(map[string]any)["title"] != "crash" {
		t.Errorf("issues = %v", d["issues"])
	}
}

func TestUpdateAssetAuthorOnly(t *testing.T) {
	e := newTestEnv(t, nil)
	_, aliceTok := e.user(t, "alice")
	_, bobTok := e.user(t, "bob")
	id := e.publishBare(t, aliceTok, "shrimp-sorter")
	path := "/api/v1/assets/" + id
	edit := map[string]any{"description": "Sorts shrimp by size", "tags": []string{"shrimp", " ", "sort"}}

	if res := e.call(t, http.MethodPut, path, "", edit); res.Code != http.StatusUnauthorized {
		t.Errorf("anonymous edit = %d", res.Code)
	}
	if res := e.call(t, http.MethodPut, path, bobTok, edit); res.Code != http.StatusForbidden {
		t.Errorf("non-author edit = %d", res.Code)
	}
	if res := e.call(t, http.MethodPut, path, aliceTok, map[string]any{"version": "9.9.9"}); res.Code != http.StatusBadRequest {
		t.Errorf("version edit = %d", res.Code)
	}
	if res := e.call(t, http.MethodPut, path, aliceTok, map[string]any{}); res.Code != http.StatusBadRequest {
		t.Errorf("empty edit = %d", res.Code)
	}
	if res := e.call(t, http.MethodPut, "/api/v1/assets/s-missing", aliceTok, edit); res.Code != http.StatusNotFound {
		t.Errorf("missing asset edit = %d", res.Code)
	}

	res := e.call(t, http.MethodPut, path, aliceTok, edit)
	if res.Code != http.StatusOK {
		t.Fatalf("author edit = %d: %s", res.Code, res.Raw)
	}
	a, err := e.db.GetAssetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if a.Description != "Sorts shrimp by size" {
		t.Errorf("description = %q", a.Description)
	}
	if len(a.Tags) != 2 || a.Tags[0] != "shrimp" || a.Tags[1] != "sort" {
		t.Errorf("tags = %v", a.Tags)
	}
	if a.Version != "1.0.0" {
		t.Errorf("version changed to %s", a.Version)
	}
}
