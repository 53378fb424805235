// CLAUDE:SUMMARY Admin and moderation routes — invite codes, GitHub import, ban/role management, asset removal, audit trail
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/seafoodmarket/internal/db"
	"github.com/hazyhaar/seafoodmarket/internal/github"
	"github.com/hazyhaar/seafoodmarket/pkg/audit"
)

func (a *API) registerAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/admin/invite", a.handleAdminCreateInvite)
	mux.HandleFunc("GET /api/admin/invite", a.handleAdminListInvites)
	mux.HandleFunc("DELETE /api/admin/invite", a.handleAdminDeleteInvite)
	mux.HandleFunc("POST /api/admin/import-github", a.handleAdminImportGitHub)
	mux.HandleFunc("GET /api/admin/audit", a.handleAdminAudit)

	mux.HandleFunc("POST /api/v1/admin/ban", a.handleBan)
	mux.HandleFunc("POST /api/v1/admin/unban", a.handleUnban)
	mux.HandleFunc("POST /api/v1/admin/set-role", a.handleSetRole)
	mux.HandleFunc("DELETE /api/v1/admin/assets/{id}", a.handleAdminDeleteAsset)

	mux.HandleFunc("GET /api/github", RateLimitMiddleware(a.limits.GitHub, a.handleGitHubRepo))
}

// recordAdmin writes one audit entry for a privileged action.
func (a *API) recordAdmin(r *http.Request, action, actor string, params any, start time.Time, err error) {
	if a.audit == nil {
		return
	}
	e := &audit.Entry{
		Action:     action,
		Transport:  "http",
		UserID:     actor,
		RequestID:  RequestIDFrom(r.Context()),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if b, mErr := json.Marshal(params); mErr == nil {
		e.Parameters = string(b)
	}
	if err != nil {
		e.Error = err.Error()
	}
	a.audit.LogAsync(e)
}

func (a *API) handleAdminCreateInvite(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireRole(w, r, db.RoleAdmin)
	if !ok {
		return
	}
	start := time.Now()
	var req struct {
		Code      string `json:"code"`
		MaxUses   int    `json:"maxUses"`
		Type      string `json:"type"`
		ExpiresAt string `json:"expiresAt"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MaxUses < 1 {
		jsonError(w, "maxUses must be a positive number", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		req.Type = db.InviteSuper
	}
	if req.Type != db.InviteSuper && req.Type != db.InviteNormal {
		jsonError(w, "type must be super or normal", http.StatusBadRequest)
		return
	}
	in := db.CreateInviteInput{
		Code:      strings.ToUpper(strings.TrimSpace(req.Code)),
		CreatedBy: "admin",
		MaxUses:   req.MaxUses,
		Type:      req.Type,
	}
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			jsonError(w, "expiresAt must be RFC 3339", http.StatusBadRequest)
			return
		}
		in.ExpiresAt = &t
	}
	code, err := a.db.CreateInviteCode(r.Context(), in)
	a.recordAdmin(r, "admin_invite_create", actor, req, start, err)
	if errors.Is(err, db.ErrConflict) {
		jsonError(w, "邀请码已存在", http.StatusConflict)
		return
	}
	if err != nil {
		internalError(w, r, "creating invite code", err)
		return
	}
	jsonOK(w, http.StatusCreated, code)
}

func (a *API) handleAdminListInvites(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireRole(w, r, db.RoleAdmin); !ok {
		return
	}
	pageSize := queryInt(r, "pageSize", 50)
	if pageSize > 100 {
		pageSize = 100
	}
	page, err := a.db.ListInviteCodes(r.Context(), r.URL.Query().Get("type"), queryInt(r, "page", 1), pageSize)
	if err != nil {
		internalError(w, r, "listing invite codes", err)
		return
	}
	jsonOK(w, http.StatusOK, page)
}

func (a *API) handleAdminDeleteInvite(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireRole(w, r, db.RoleAdmin)
	if !ok {
		return
	}
	start := time.Now()
	var req struct {
		Code string `json:"code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		jsonError(w, "code is required", http.StatusBadRequest)
		return
	}
	deleted, err := a.db.DeleteInviteCode(r.Context(), req.Code)
	a.recordAdmin(r, "admin_invite_delete", actor, req, start, err)
	if err != nil {
		internalError(w, r, "deleting invite code", err)
		return
	}
	if !deleted {
		jsonError(w, "邀请码不存在", http.StatusNotFound)
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{"code": req.Code})
}

func (a *API) handleAdminImportGitHub(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireRole(w, r, db.RoleAdmin)
	if !ok {
		return
	}
	start := time.Now()
	var req struct {
		Repo     string `json:"repo"`
		Type     string `json:"type"`
		Category string `json:"category"`
		Update   bool   `json:"update"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := github.ParseRepo(req.Repo); err != nil {
		jsonError(w, "repo is required (owner/repo)", http.StatusBadRequest)
		return
	}
	if req.Type != "" && !db.IsValidAssetType(req.Type) {
		jsonError(w, "Unknown asset type: "+req.Type, http.StatusBadRequest)
		return
	}
	res, err := a.importer.Import(r.Context(), req.Repo, github.ImportOptions{
		Type:     req.Type,
		Category: req.Category,
		Update:   req.Update,
	})
	a.recordAdmin(r, "admin_import_github", actor, req, start, err)
	if err != nil {
		writeGitHubError(w, r, a.gh, err)
		return
	}
	status := http.StatusOK
	if res.Status == github.StatusCreated {
		status = http.StatusCreated
	}
	jsonOK(w, status, res)
}

func writeGitHubError(w http.ResponseWriter, r *http.Request, gh *github.Client, err error) {
	var rl *github.RateLimitError
	switch {
	case errors.Is(err, github.ErrNotFound):
		jsonError(w, "Repository not found", http.StatusNotFound)
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", rl.Reset.UTC().Format(http.TimeFormat))
		jsonFail(w, http.StatusTooManyRequests, "github_rate_limited", err.Error())
	default:
		internalError(w, r, "github request", errors.New(gh.Redact(err.Error())))
	}
}

// handleGitHubRepo proxies repository metadata for the publish form.
func (a *API) handleGitHubRepo(w http.ResponseWriter, r *http.Request) {
	repo, err := github.ParseRepo(r.URL.Query().Get("repo"))
	if err != nil {
		jsonError(w, "Invalid repo format. Use owner/repo or full GitHub URL.", http.StatusBadRequest)
		return
	}
	info, err := a.gh.FetchRepo(r.Context(), repo)
	if err != nil {
		writeGitHubError(w, r, a.gh, err)
		return
	}
	readme, err := a.gh.FetchReadme(r.Context(), repo)
	if err != nil {
		readme = ""
	}
	topics := info.Topics
	if len(topics) > 5 {
		topics = topics[:5]
	}
	branch := info.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	jsonOK(w, http.StatusOK, map[string]any{
		"name":          info.Name,
		"fullName":      info.FullName,
		"description":   info.Description,
		"stars":         info.Stars,
		"forks":         info.Forks,
		"language":      info.Language,
		"license":       info.LicenseID(),
		"topics":        topics,
		"htmlUrl":       info.HTMLURL,
		"defaultBranch": branch,
		"readme":        readme,
		"updatedAt":     info.UpdatedAt,
		"owner":         map[string]any{"login": info.Owner.Login, "avatarUrl": info.Owner.AvatarURL},
	})
}

type recentAuditor interface {
	Recent(ctx context.Context, action string, limit int) ([]audit.Entry, error)
}

func (a *API) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireRole(w, r, db.RoleAdmin); !ok {
		return
	}
	ra, ok := a.audit.(recentAuditor)
	if !ok {
		jsonOK(w, http.StatusOK, map[string]any{"entries": []audit.Entry{}})
		return
	}
	entries, err := ra.Recent(r.Context(), r.URL.Query().Get("action"), queryInt(r, "limit", 50))
	if err != nil {
		internalError(w, r, "loading audit log", err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	jsonOK(w, http.StatusOK, map[string]any{"entries": entries})
}

// actorRole is the effective role of an admin-route caller.
func (a *API) actorRole(r *http.Request, actor string) string {
	if actor == "admin-secret" {
		return db.RoleAdmin
	}
	role, err := a.db.GetRole(r.Context(), actor)
	if err != nil {
		return db.RoleUser
	}
	return role
}

type userTarget struct {
	UserID string `json:"userId"`
	Reason string `json:"reason,omitempty"`
	Role   string `json:"role,omitempty"`
}

// loadTarget decodes the body and loads the target user.
func (a *API) loadTarget(w http.ResponseWriter, r *http.Request) (*userTarget, *db.User, bool) {
	var req userTarget
	if !decodeBody(w, r, &req) {
		return nil, nil, false
	}
	if req.UserID == "" {
		jsonFail(w, http.StatusBadRequest, "missing_user_id", "请提供 userId")
		return nil, nil, false
	}
	u, err := a.db.GetUserByID(r.Context(), req.UserID)
	if errors.Is(err, db.ErrNotFound) {
		jsonFail(w, http.StatusNotFound, "user_not_found", "")
		return nil, nil, false
	}
	if err != nil {
		internalError(w, r, "loading user", err)
		return nil, nil, false
	}
	return &req, u, true
}

func (a *API) handleBan(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireRole(w, r, db.RoleModerator)
	if !ok {
		return
	}
	start := time.Now()
	req, target, ok := a.loadTarget(w, r)
	if !ok {
		return
	}
	if target.ID == actor {
		jsonFail(w, http.StatusBadRequest, "cannot_ban_self", "不能封禁自己")
		return
	}
	if db.HasRole(target.Role, a.actorRole(r, actor)) {
		jsonFail(w, http.StatusForbidden, "insufficient_role", "不能封禁同级或更高角色的用户")
		return
	}
	banned, err := a.db.BanUser(r.Context(), target.ID, req.Reason, actor)
	a.recordAdmin(r, "admin_ban", actor, req, start, err)
	if err != nil {
		internalError(w, r, "banning user", err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{"userId": target.ID, "alreadyBanned": !banned})
}

func (a *API) handleUnban(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireRole(w, r, db.RoleModerator)
	if !ok {
		return
	}
	start := time.Now()
	req, target, ok := a.loadTarget(w, r)
	if !ok {
		return
	}
	unbanned, err := a.db.UnbanUser(r.Context(), target.ID)
	a.recordAdmin(r, "admin_unban", actor, req, start, err)
	if err != nil {
		internalError(w, r, "unbanning user", err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{"userId": target.ID, "wasBanned": unbanned})
}

func (a *API) handleSetRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireRole(w, r, db.RoleAdmin)
	if !ok {
		return
	}
	start := time.Now()
	req, target, ok := a.loadTarget(w, r)
	if !ok {
		return
	}
	if !db.IsValidRole(req.Role) {
		jsonFail(w, http.StatusBadRequest, "invalid_role", "角色必须是 user, moderator, admin 之一")
		return
	}
	if target.ID == actor {
		jsonFail(w, http.StatusBadRequest, "cannot_change_own_role", "不能修改自己的角色")
		return
	}
	_, err := a.db.SetRole(r.Context(), target.ID, req.Role)
	a.recordAdmin(r, "admin_set_role", actor, req, start, err)
	if err != nil {
		internalError(w, r, "setting role", err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{"userId": target.ID, "role": req.Role})
}

func (a *API) handleAdminDeleteAsset(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireRole(w, r, db.RoleModerator)
	if !ok {
		return
	}
	start := time.Now()
	id := r.PathValue("id")
	asset, err := a.db.GetAssetByID(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		jsonFail(w, http.StatusNotFound, "asset_not_found", "")
		return
	}
	if err != nil {
		internalError(w, r, "loading asset", err)
		return
	}
	_, err = a.db.DeleteAsset(r.Context(), id)
	a.recordAdmin(r, "admin_delete_asset", actor, map[string]string{"assetId": id, "name": asset.Name}, start, err)
	if err != nil {
		internalError(w, r, "deleting asset", err)
		return
	}
	a.store.Remove(id)
	jsonOK(w, http.StatusOK, map[string]any{"deletedAssetId": id, "deletedAssetName": asset.Name})
}
