package api

import (
	"net/http"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/seafoodmarket/internal/db"
)

// mergedManifest overlays the stored manifest on the fields every asset has.
func mergedManifest(asset *db.Asset) map[string]any {
	m := map[string]any{
		"name":          asset.Name,
		"type":          asset.Type,
		"version":       asset.Version,
		"author":        asset.Author.Name,
		"description":   asset.Description,
		"tags":          asset.Tags,
		"install":       map[string]any{"command": asset.InstallCommand},
		"compatibility": asset.Compatibility,
	}
	for k, v := range asset.Manifest {
		m[k] = v
	}
	return m
}

func wantsYAML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/yaml") || strings.Contains(accept, "application/yaml")
}

func writeYAML(w http.ResponseWriter, r *http.Request, v any) {
	out, err := yaml.Marshal(v)
	if err != nil {
		internalError(w, r, "encoding yaml", err)
		return
	}
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	_, _ = w.Write(out)
}

func (a *API) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	asset, err := a.db.GetAssetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		notFoundOr(w, r, err, "Asset not found")
		return
	}
	m := mergedManifest(asset)
	if wantsYAML(r) {
		writeYAML(w, r, m)
		return
	}
	jsonResp(w, http.StatusOK, m)
}

// handlePutManifest replaces the stored manifest. Author or admin only.
func (a *API) handlePutManifest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	asset, err := a.db.GetAssetByID(ctx, r.PathValue("id"))
	if err != nil {
		notFoundOr(w, r, err, "Asset not found")
		return
	}
	if !a.adminSecretOK(r) {
		id, ok := a.requireUser(w, r)
		if !ok {
			return
		}
		if id.User.ID != asset.Author.ID && !db.HasRole(id.User.Role, db.RoleAdmin) {
			jsonFail(w, http.StatusForbidden, "forbidden", "Only the author can edit the manifest")
			return
		}
	}
	var manifest map[string]any
	if !decodeBody(w, r, &manifest) {
		return
	}
	if manifest == nil {
		jsonError(w, "manifest must be a JSON object", http.StatusBadRequest)
		return
	}
	updated, err := a.db.UpdateManifest(ctx, asset.ID, manifest)
	if err != nil {
		internalError(w, r, "updating manifest", err)
		return
	}
	if !updated {
		jsonError(w, "Asset not found", http.StatusNotFound)
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{"id": asset.ID, "manifest": manifest})
}
