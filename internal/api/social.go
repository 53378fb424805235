// CLAUDE:SUMMARY Comments, issues, notifications and public user profile routes
package api

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/seafoodmarket/internal/db"
)

const (
	maxCommentRunes = 2000
	maxIssueTitle   = 200
)

func (a *API) registerSocialRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/assets/{id}/comments", a.handleListComments)
	mux.HandleFunc("POST /api/v1/assets/{id}/comments", a.handleCreateComment)
	mux.HandleFunc("GET /api/v1/assets/{id}/issues", a.handleListIssues)
	mux.HandleFunc("POST /api/v1/assets/{id}/issues", a.handleCreateIssue)

	mux.HandleFunc("GET /api/v1/notifications", a.handleNotifications)
	mux.HandleFunc("POST /api/v1/notifications/read", a.handleMarkRead)

	mux.HandleFunc("GET /api/v1/users/{id}", a.handleUserProfile)
	mux.HandleFunc("GET /api/v1/users/{id}/coins", a.handleUserCoins)
	mux.HandleFunc("GET /api/v1/users/{id}/activity", a.handleUserActivity)
}

// commenterType defaults to the caller's account type.
func commenterType(requested string, u *db.User) string {
	switch requested {
	case "agent", "user":
		return requested
	}
	if u.Type == "agent" {
		return "agent"
	}
	return "user"
}

func (a *API) handleListComments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := a.db.GetAssetByID(r.Context(), id); err != nil {
		notFoundOr(w, r, err, "Asset not found")
		return
	}
	comments, err := a.db.GetComments(r.Context(), id)
	if err != nil {
		internalError(w, r, "listing comments", err)
		return
	}
	if comments == nil {
		comments = []db.Comment{}
	}
	jsonOK(w, http.StatusOK, map[string]any{"comments": comments, "total": len(comments)})
}

func (a *API) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.requireActivated(w, r)
	if !ok {
		return
	}
	var req struct {
		Content       string `json:"content"`
		Rating        int    `json:"rating"`
		CommenterType string `json:"commenterType"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		jsonError(w, "评论内容不能为空", http.StatusBadRequest)
		return
	}
	if utf8.RuneCountInString(req.Content) > maxCommentRunes {
		jsonError(w, "评论内容过长", http.StatusBadRequest)
		return
	}
	if req.Rating < 0 || req.Rating > 5 {
		jsonError(w, "rating must be between 0 and 5", http.StatusBadRequest)
		return
	}
	u := ident.User
	c, err := a.db.CreateComment(r.Context(), db.CreateCommentInput{
		AssetID:       r.PathValue("id"),
		UserID:        u.ID,
		UserName:      u.Name,
		UserAvatar:    u.Avatar,
		Content:       req.Content,
		Rating:        req.Rating,
		CommenterType: commenterType(req.CommenterType, u),
	})
	if err != nil {
		notFoundOr(w, r, err, "Asset not found")
		return
	}
	jsonOK(w, http.StatusCreated, c)
}

func (a *API) handleListIssues(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := a.db.GetAssetByID(r.Context(), id); err != nil {
		notFoundOr(w, r, err, "Asset not found")
		return
	}
	issues, err := a.db.GetIssues(r.Context(), id)
	if err != nil {
		internalError(w, r, "listing issues", err)
		return
	}
	if issues == nil {
		issues = []db.Issue{}
	}
	jsonOK(w, http.StatusOK, map[string]any{"issues": issues, "total": len(issues)})
}

func (a *API) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.requireActivated(w, r)
	if !ok {
		return
	}
	var req struct {
		Title      string   `json:"title"`
		Body       string   `json:"body"`
		Labels     []string `json:"labels"`
		AuthorType string   `json:"authorType"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		jsonError(w, "标题不能为空", http.StatusBadRequest)
		return
	}
	if utf8.RuneCountInString(req.Title) > maxIssueTitle {
		jsonError(w, "标题过长", http.StatusBadRequest)
		return
	}
	u := ident.User
	is, err := a.db.CreateIssue(r.Context(), db.CreateIssueInput{
		AssetID:      r.PathValue("id"),
		AuthorID:     u.ID,
		AuthorName:   u.Name,
		AuthorAvatar: u.Avatar,
		AuthorType:   commenterType(req.AuthorType, u),
		Title:        req.Title,
		Body:         req.Body,
		Labels:       req.Labels,
	})
	if err != nil {
		notFoundOr(w, r, err, "Asset not found")
		return
	}
	jsonOK(w, http.StatusCreated, is)
}

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	items, unread, err := a.db.GetNotifications(r.Context(), ident.User.ID, queryInt(r, "limit", 50))
	if err != nil {
		internalError(w, r, "listing notifications", err)
		return
	}
	if items == nil {
		items = []db.Notification{}
	}
	jsonOK(w, http.StatusOK, map[string]any{"notifications": items, "unreadCount": unread})
}

// handleMarkRead marks the given ids read, or every notification when ids is empty.
func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		IDs []string `json:"ids"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	n, err := a.db.MarkNotificationsRead(r.Context(), ident.User.ID, req.IDs)
	if err != nil {
		internalError(w, r, "marking notifications", err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{"updated": n})
}

func (a *API) handleUserProfile(w http.ResponseWriter, r *http.Request) {
	p, err := a.db.GetUserProfile(r.Context(), r.PathValue("id"))
	if err != nil {
		notFoundOr(w, r, err, "User not found")
		return
	}
	jsonOK(w, http.StatusOK, p)
}

// handleUserCoins returns the caller's own ledger. ?history=true with a
// type returns the per-coin history instead of the paged event list.
func (a *API) handleUserCoins(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	userID := r.PathValue("id")
	if userID == "me" {
		userID = ident.User.ID
	}
	if userID != ident.User.ID && !db.HasRole(ident.User.Role, db.RoleAdmin) {
		jsonFail(w, http.StatusForbidden, "forbidden", "只能查看自己的账本")
		return
	}
	u, err := a.db.GetUserByID(r.Context(), userID)
	if err != nil {
		notFoundOr(w, r, err, "User not found")
		return
	}

	q := r.URL.Query()
	if q.Get("history") == "true" {
		coinType := q.Get("type")
		if coinType == "" {
			coinType = db.CoinReputation
		}
		if coinType != db.CoinReputation && coinType != db.CoinShrimp {
			jsonError(w, "type must be "+db.CoinReputation+" or "+db.CoinShrimp, http.StatusBadRequest)
			return
		}
		events, err := a.db.GetCoinHistory(r.Context(), userID, coinType, queryInt(r, "limit", 50))
		if err != nil {
			internalError(w, r, "loading coin history", err)
			return
		}
		jsonOK(w, http.StatusOK, map[string]any{"type": coinType, "events": events})
		return
	}

	page, err := a.db.GetUserCoinEvents(r.Context(), userID, queryInt(r, "page", 1), queryInt(r, "pageSize", 20))
	if err != nil {
		internalError(w, r, "loading coin events", err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{
		"reputation":  u.Reputation,
		"shrimpCoins": u.ShrimpCoins,
		"events":      page.Events,
		"total":       page.Total,
		"page":        page.Page,
		"pageSize":    page.PageSize,
	})
}

func (a *API) handleUserActivity(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if _, err := a.db.GetUserProfile(r.Context(), userID); err != nil {
		notFoundOr(w, r, err, "User not found")
		return
	}
	events, err := a.db.GetUserActivity(r.Context(), userID, queryInt(r, "limit", 20))
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		internalError(w, r, "loading activity", err)
		return
	}
	if events == nil {
		events = []db.ActivityEvent{}
	}
	jsonOK(w, http.StatusOK, map[string]any{"events": events})
}
