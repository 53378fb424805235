// CLAUDE:SUMMARY Author-facing routes — dashboard of own assets with recent feedback, metadata edit
package api

import (
	"net/http"
	"strings"

	"github.com/hazyhaar/seafoodmarket/internal/db"
)

const dashboardFeedLimit = 20

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	page, err := a.db.ListAssets(ctx, db.ListParams{AuthorID: id.User.ID, PageSize: 100, Sort: db.SortUpdated})
	if err != nil {
		internalError(w, r, "listing own assets", err)
		return
	}
	comments, err := a.db.RecentCommentsForAuthor(ctx, id.User.ID, dashboardFeedLimit)
	if err != nil {
		internalError(w, r, "listing comments", err)
		return
	}
	issues, err := a.db.RecentIssuesForAuthor(ctx, id.User.ID, dashboardFeedLimit)
	if err != nil {
		internalError(w, r, "listing issues", err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{
		"assets":   page.Assets,
		"total":    page.Total,
		"comments": comments,
		"issues":   issues,
	})
}

// assetEdit is the metadata an author may change without publishing a version.
type assetEdit struct {
	DisplayName     *string  `json:"displayName"`
	Description     *string  `json:"description"`
	LongDescription *string  `json:"longDescription"`
	Tags            []string `json:"tags"`
	Category        *string  `json:"category"`
	Readme          *string  `json:"readme"`
	Dependencies    []string `json:"dependencies"`

	Name    *string `json:"name"`
	Version *string `json:"version"`
	Type    *string `json:"type"`
}

func (e *assetEdit) patch() db.AssetPatch {
	p := db.AssetPatch{
		DisplayName:     e.DisplayName,
		Description:     e.Description,
		LongDescription: e.LongDescription,
		Category:        e.Category,
		Readme:          e.Readme,
		Dependencies:    e.Dependencies,
	}
	if e.Tags != nil {
		tags := make([]string, 0, len(e.Tags))
		for _, t := range e.Tags {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		p.Tags = tags
	}
	return p
}

func (e *assetEdit) empty() bool {
	return e.DisplayName == nil && e.Description == nil && e.LongDescription == nil && e.Tags == nil &&
		e.Category == nil && e.Readme == nil && e.Dependencies == nil
}

// handleUpdateAsset edits metadata in place. Author only.
func (a *API) handleUpdateAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireActivated(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	asset, err := a.db.GetAssetByID(ctx, r.PathValue("id"))
	if err != nil {
		notFoundOr(w, r, err, "Asset not found")
		return
	}
	if asset.Author.ID != id.User.ID {
		jsonFail(w, http.StatusForbidden, "forbidden", "Only the author can edit this asset")
		return
	}
	var req assetEdit
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name != nil || req.Version != nil || req.Type != nil {
		jsonFail(w, http.StatusBadRequest, "publish_required",
			"name, type and version change through POST /api/v1/assets/publish")
		return
	}
	if req.empty() {
		jsonError(w, "nothing to update", http.StatusBadRequest)
		return
	}
	if req.DisplayName != nil && strings.TrimSpace(*req.DisplayName) == "" {
		jsonError(w, "displayName cannot be empty", http.StatusBadRequest)
		return
	}
	updated, err := a.db.UpdateAsset(ctx, asset.ID, req.patch())
	if err != nil {
		notFoundOr(w, r, err, "Asset not found")
		return
	}
	jsonOK(w, http.StatusOK, updated)
}
