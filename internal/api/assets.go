// CLAUDE:SUMMARY Asset read routes — index, lists (paged, compact, cursor), detail, batch, search, trending, facets, versions, stars
package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/hazyhaar/seafoodmarket/internal/db"
)

func listParams(r *http.Request) db.ListParams {
	q := r.URL.Query()
	return db.ListParams{
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "pageSize", 20),
		Type:     q.Get("type"),
		Category: q.Get("category"),
		Tag:      q.Get("tag"),
		Query:    q.Get("q"),
		Sort:     sortAlias(q.Get("sort")),
		AuthorID: q.Get("authorId"),
	}
}

// sortAlias accepts the agent-facing "installs" name for downloads.
func sortAlias(s string) string {
	if s == "installs" {
		return db.SortDownloads
	}
	return s
}

func (a *API) handleIndex(w http.ResponseWriter, r *http.Request) {
	counts, err := a.db.GetAssetCountByType(r.Context())
	if err != nil {
		internalError(w, r, "counting assets", err)
		return
	}
	total := 0
	types := make([]string, 0, len(counts))
	for t, n := range counts {
		total += n
		types = append(types, t)
	}
	jsonOK(w, http.StatusOK, map[string]any{
		"name":        "水产市场 API",
		"api_version": "1.0",
		"description": "Agent Hub — 探索、安装、发布 Agent 技能与配置。Agent 和人类均可使用。",
		"endpoints": map[string]string{
			"search":         "GET /api/v1/search?q=",
			"assets":         "GET /api/v1/assets",
			"asset_detail":   "GET /api/v1/assets/{id}",
			"asset_files":    "GET /api/v1/assets/{id}/files/{path}",
			"asset_manifest": "GET /api/v1/assets/{id}/manifest",
			"asset_readme":   "GET /api/v1/assets/{id}/readme",
			"asset_download": "GET /api/v1/assets/{id}/download",
			"batch":          "POST /api/v1/assets/batch",
			"publish":        "POST /api/v1/assets/publish",
			"resolve":        "GET /api/v1/resolve?hash=sha256:",
			"trending":       "GET /api/v1/trending",
		},
		"asset_types": types,
		"stats": map[string]any{
			"total_assets":   total,
			"type_breakdown": counts,
		},
		"agent_hint": "推荐流程: search → assets/{id} → files/{path} → download。L1 搜索即可决策，L2 检视确认详情，L3 按需读文件。",
	})
}

func (a *API) handleListAssets(w http.ResponseWriter, r *http.Request) {
	page, err := a.db.ListAssets(r.Context(), listParams(r))
	if err != nil {
		internalError(w, r, "listing assets", err)
		return
	}
	jsonOK(w, http.StatusOK, page)
}

// handleListCompact serves page-based compact lists, or the L1 cursor shape
// when cursor or limit is given. facets=true adds tag and category counts.
func (a *API) handleListCompact(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := listParams(r)
	var data map[string]any
	if q.Has("cursor") || q.Has("limit") {
		l1, err := a.db.ListAssetsL1(r.Context(), p, q.Get("cursor"), queryInt(r, "limit", 20))
		if err != nil {
			internalError(w, r, "listing assets", err)
			return
		}
		data = map[string]any{"items": l1.Items, "nextCursor": l1.NextCursor, "total": l1.Total}
	} else {
		page, err := a.db.ListAssetsCompact(r.Context(), p)
		if err != nil {
			internalError(w, r, "listing assets", err)
			return
		}
		data = map[string]any{
			"items": page.Items, "total": page.Total, "page": page.Page,
			"pageSize": page.PageSize, "totalPages": page.TotalPages,
		}
	}
	if q.Get("facets") == "true" {
		tags, err := a.db.GetAllTags(r.Context())
		if err != nil {
			internalError(w, r, "loading tags", err)
			return
		}
		cats, err := a.db.GetAllCategories(r.Context())
		if err != nil {
			internalError(w, r, "loading categories", err)
			return
		}
		data["facets"] = map[string]any{"tags": tags, "categories": cats}
	}
	jsonOK(w, http.StatusOK, data)
}

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		jsonFail(w, http.StatusBadRequest, "missing_query", "Query parameter q is required", "hint", "GET /api/v1/search?q=weather")
		return
	}
	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 50 {
		limit = 20
	}
	p := listParams(r)
	p.Query = q
	l1, err := a.db.ListAssetsL1(r.Context(), p, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		internalError(w, r, "searching assets", err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{
		"query":      q,
		"total":      l1.Total,
		"items":      l1.Items,
		"nextCursor": l1.NextCursor,
	})
}

func (a *API) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	asset, err := a.db.GetAssetByID(r.Context(), id)
	if err != nil {
		notFoundOr(w, r, err, "Asset not found")
		return
	}
	manifest := asset.Manifest
	if manifest == nil {
		manifest = map[string]any{}
	}
	jsonOK(w, http.StatusOK, map[string]any{
		"asset":        asset,
		"manifest":     manifest,
		"readme_url":   "/api/v1/assets/" + id + "/readme",
		"manifest_url": "/api/v1/assets/" + id + "/manifest",
	})
}

func (a *API) handleBatch(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireUser(w, r); !ok {
		return
	}
	var req struct {
		IDs    []string `json:"ids"`
		Fields string   `json:"fields"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		jsonFail(w, http.StatusBadRequest, "missing_ids", "ids array is required", "hint", `POST with {"ids": ["s-xxx", "p-yyy"]}`)
		return
	}
	if len(req.IDs) > 50 {
		jsonError(w, "Maximum 50 ids per batch", http.StatusBadRequest)
		return
	}
	if req.Fields == "full" {
		assets := make([]*db.Asset, 0, len(req.IDs))
		for _, id := range req.IDs {
			asset, err := a.db.GetAssetByID(r.Context(), id)
			if errors.Is(err, db.ErrNotFound) {
				continue
			}
			if err != nil {
				internalError(w, r, "loading asset", err)
				return
			}
			assets = append(assets, asset)
		}
		jsonOK(w, http.StatusOK, map[string]any{"assets": assets})
		return
	}
	assets, err := a.db.GetAssetsByIDs(r.Context(), req.IDs)
	if err != nil {
		internalError(w, r, "loading assets", err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{"assets": assets})
}

func (a *API) handleTrending(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "week"
	}
	assets, err := a.db.GetTrending(r.Context(), period, queryInt(r, "limit", 10))
	if err != nil {
		internalError(w, r, "loading trending", err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{"period": period, "assets": assets})
}

func (a *API) handleTags(w http.ResponseWriter, r *http.Request) {
	tags, err := a.db.GetAllTags(r.Context())
	if err != nil {
		internalError(w, r, "loading tags", err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{"tags": tags})
}

func (a *API) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := a.db.GetAllCategories(r.Context())
	if err != nil {
		internalError(w, r, "loading categories", err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{"categories": cats})
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	if hash == "" {
		jsonError(w, "Missing required param: hash (e.g. sha256:abc123...)", http.StatusBadRequest)
		return
	}
	hash = strings.TrimPrefix(hash, "sha256:")
	if len(hash) < 8 {
		jsonError(w, "Hash too short. Provide at least 8 hex characters.", http.StatusBadRequest)
		return
	}
	matches, err := a.db.ResolveByHash(r.Context(), hash)
	if err != nil {
		internalError(w, r, "resolving hash", err)
		return
	}
	if matches == nil {
		matches = []db.HashMatch{}
	}
	w.Header().Set("Cache-Control", "public, s-maxage=60, stale-while-revalidate=300")
	jsonOK(w, http.StatusOK, map[string]any{"total": len(matches), "matches": matches})
}

func (a *API) handleVersions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if v := r.URL.Query().Get("version"); v != "" {
		a.writeVersion(w, r, id, v)
		return
	}
	versions, err := a.db.GetVersions(r.Context(), id)
	if err != nil {
		notFoundOr(w, r, err, "Asset not found")
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{"total": len(versions), "versions": versions})
}

func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	a.writeVersion(w, r, r.PathValue("id"), r.PathValue("version"))
}

func (a *API) writeVersion(w http.ResponseWriter, r *http.Request, id, version string) {
	v, err := a.db.GetVersion(r.Context(), id, version)
	if err != nil {
		notFoundOr(w, r, err, "Version not found")
		return
	}
	jsonOK(w, http.StatusOK, v)
}

func (a *API) handleDependents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := a.db.GetAssetByID(r.Context(), id); err != nil {
		notFoundOr(w, r, err, "Asset not found")
		return
	}
	deps, err := a.db.GetDependents(r.Context(), id)
	if err != nil {
		internalError(w, r, "loading dependents", err)
		return
	}
	if deps == nil {
		deps = []db.AssetCompact{}
	}
	jsonOK(w, http.StatusOK, map[string]any{"total": len(deps), "dependents": deps})
}

func (a *API) handleReadme(w http.ResponseWriter, r *http.Request) {
	rd, err := a.db.GetReadme(r.Context(), r.PathValue("id"))
	if err != nil {
		notFoundOr(w, r, err, "Asset not found")
		return
	}
	body := rd.Readme
	if strings.TrimSpace(body) == "" {
		body = "# " + rd.DisplayName + "\n\nNo README available."
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("X-Asset-Version", rd.Version)
	_, _ = w.Write([]byte(body))
}

func (a *API) handleStarInfo(w http.ResponseWriter, r *http.Request) {
	userID := ""
	if id, err := a.identify(r); err == nil && id != nil {
		userID = id.User.ID
	}
	info, err := a.db.GetStarInfo(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		notFoundOr(w, r, err, "Asset not found")
		return
	}
	w.Header().Set("Cache-Control", "public, s-maxage=60, stale-while-revalidate=300")
	jsonOK(w, http.StatusOK, info)
}

func (a *API) handleStar(w http.ResponseWriter, r *http.Request) {
	a.toggleStar(w, r, true)
}

func (a *API) handleUnstar(w http.ResponseWriter, r *http.Request) {
	a.toggleStar(w, r, false)
}

func (a *API) toggleStar(w http.ResponseWriter, r *http.Request, star bool) {
	id, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	assetID := r.PathValue("id")
	if _, err := a.db.GetAssetByID(r.Context(), assetID); err != nil {
		notFoundOr(w, r, err, "Asset not found")
		return
	}
	var changed bool
	var err error
	if star {
		changed, err = a.db.StarAsset(r.Context(), assetID, id.User.ID)
	} else {
		changed, err = a.db.UnstarAsset(r.Context(), assetID, id.User.ID)
	}
	if err != nil {
		internalError(w, r, "updating star", err)
		return
	}
	info, err := a.db.GetStarInfo(r.Context(), assetID, id.User.ID)
	if err != nil {
		internalError(w, r, "loading stars", err)
		return
	}
	data := map[string]any{"starred": star, "totalStars": info.TotalStars}
	if star {
		data["created"] = changed
	} else {
		data["deleted"] = changed
	}
	jsonOK(w, http.StatusOK, data)
}
