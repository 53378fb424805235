package e2e

import (
	"archive/zip"
	"bytes"
	"net/http"
	"strings"
	"testing"
)

func skillZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := map[string]string{
		"lobster/SKILL.md": "---\nname: lobster-tracker\ndescription: Tracks lobster prices\n---\n\n# Lobster Tracker\n\nFetches daily prices.\n",
		"lobster/run.sh":   "#!/bin/sh\necho lobster\n",
	}
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(body))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestPublishLifecycle(t *testing.T) {
	h, d := ensureHarness(t)
	key, userID := h.RegisterAgent(t, "e2e-publisher")

	var assetID string
	t.Run("Publish", func(t *testing.T) {
		res := h.Publish(t, key, map[string]any{
			"name":        "lobster-tracker",
			"type":        "skill",
			"version":     "1.0.0",
			"description": "Tracks lobster prices",
			"tags":        []string{"seafood", "prices"},
		}, "lobster.zip", skillZip(t))
		RequireStatus(t, res, http.StatusCreated)
		assetID, _ = res.Data()["id"].(string)
		if assetID == "" {
			t.Fatalf("no id in %s", res.Raw)
		}
		d.AssetField(t, assetID, "version", "1.0.0")
		d.LedgerConsistent(t, userID)
	})
	if assetID == "" {
		t.Fatal("publish failed")
	}

	t.Run("Download", func(t *testing.T) {
		res := h.Call(t, http.MethodGet, "/api/v1/assets/"+assetID+"/download", "", nil, nil)
		RequireStatus(t, res, http.StatusOK)
		if got := res.Header.Get("X-Asset-Version"); got != "1.0.0" {
			t.Errorf("X-Asset-Version = %q", got)
		}
		if !strings.Contains(res.Header.Get("Content-Disposition"), "lobster-tracker-1.0.0") {
			t.Errorf("Content-Disposition = %q", res.Header.Get("Content-Disposition"))
		}
		d.AssetField(t, assetID, "downloads", 1)
	})

	t.Run("FileView", func(t *testing.T) {
		res := h.Call(t, http.MethodGet, "/api/v1/assets/"+assetID+"/files/run.sh", "", nil, nil)
		RequireStatus(t, res, http.StatusOK)
		if !strings.Contains(string(res.Raw), "echo lobster") {
			t.Errorf("run.sh = %q", res.Raw)
		}
	})

	t.Run("RepublishOlderRejected", func(t *testing.T) {
		res := h.Publish(t, key, map[string]any{"name": "lobster-tracker", "type": "skill", "version": "0.9.0"}, "", nil)
		RequireStatus(t, res, http.StatusConflict)
		if res.Body["error"] != "version_not_newer" {
			t.Errorf("error = %v", res.Body["error"])
		}
	})

	t.Run("Republish", func(t *testing.T) {
		res := h.Publish(t, key, map[string]any{"name": "lobster-tracker", "type": "skill", "version": "1.1.0"}, "", nil)
		RequireStatus(t, res, http.StatusOK)
		d.AssetField(t, assetID, "version", "1.1.0")
	})

	t.Run("Search", func(t *testing.T) {
		res := h.Call(t, http.MethodGet, "/api/v1/search?q=lobster", "", nil, nil)
		RequireStatus(t, res, http.StatusOK)
		if !strings.Contains(string(res.Raw), assetID) {
			t.Errorf("search result missing %s: %s", assetID, truncate(string(res.Raw), 300))
		}
	})

	t.Run("Comment", func(t *testing.T) {
		res := h.Call(t, http.MethodPost, "/api/v1/assets/"+assetID+"/comments", key, map[string]any{
			"content": "Works with the morning market feed",
			"rating":  5,
		}, nil)
		RequireStatus(t, res, http.StatusCreated)
		if n := d.RowCount(t, "comments", "asset_id = ?", assetID); n != 1 {
			t.Errorf("comments = %d", n)
		}
	})
}

func TestDeviceAuthorization(t *testing.T) {
	h, _ := ensureHarness(t)
	key, userID := h.RegisterAgent(t, "e2e-device-owner")

	created := h.Call(t, http.MethodPost, "/api/auth/cli", "", map[string]string{"deviceId": "e2e-device-0001", "deviceName": "ci"}, nil)
	RequireStatus(t, created, http.StatusCreated)
	code, _ := created.Data()["code"].(string)

	approved := h.Call(t, http.MethodPut, "/api/auth/cli", key, map[string]string{"code": code}, nil)
	RequireStatus(t, approved, http.StatusOK)

	polled := h.Call(t, http.MethodGet, "/api/auth/cli?code="+code+"&deviceId=e2e-device-0001", "", nil, nil)
	RequireStatus(t, polled, http.StatusOK)
	if polled.Data()["userId"] != userID {
		t.Errorf("poll = %s", polled.Raw)
	}

	me := h.Call(t, http.MethodGet, "/api/auth/me", "", nil, map[string]string{"X-Device-ID": "e2e-device-0001"})
	RequireStatus(t, me, http.StatusOK)
	if !strings.Contains(string(me.Raw), userID) {
		t.Errorf("me = %s", me.Raw)
	}
}

func TestModeration(t *testing.T) {
	h, d := ensureHarness(t)
	key, userID := h.RegisterAgent(t, "e2e-spammer")
	admin := map[string]string{"X-Admin-Secret": adminSecret}

	res := h.Call(t, http.MethodPost, "/api/v1/admin/ban", "", map[string]string{"userId": userID, "reason": "spam"}, admin)
	RequireStatus(t, res, http.StatusOK)

	blocked := h.Publish(t, key, map[string]any{"name": "spam", "type": "skill", "version": "1.0.0"}, "", nil)
	RequireStatus(t, blocked, http.StatusForbidden)

	res = h.Call(t, http.MethodPost, "/api/v1/admin/unban", "", map[string]string{"userId": userID}, admin)
	RequireStatus(t, res, http.StatusOK)
	if res.Data()["wasBanned"] != true {
		t.Errorf("unban = %s", res.Raw)
	}

	noSecret := h.Call(t, http.MethodPost, "/api/v1/admin/ban", key, map[string]string{"userId": userID}, nil)
	RequireStatus(t, noSecret, http.StatusForbidden)

	if n := d.RowCount(t, "users", "id = ? AND banned_at IS NULL", userID); n != 1 {
		t.Errorf("user still banned")
	}
}

func TestMCPInitialize(t *testing.T) {
	h, _ := ensureHarness(t)
	res := h.Call(t, http.MethodPost, "/mcp", "", map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]string{"name": "e2e", "version": "1"},
		},
	}, map[string]string{"Accept": "application/json, text/event-stream"})
	RequireStatus(t, res, http.StatusOK)
	if !strings.Contains(string(res.Raw), "seafoodmarket") {
		t.Errorf("initialize = %s", truncate(string(res.Raw), 300))
	}
}
