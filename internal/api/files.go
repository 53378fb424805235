package api

import (
	"errors"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/hazyhaar/seafoodmarket/internal/bundle"
)

// handleFile serves one file of an asset. readme and manifest are virtual;
// everything else is read out of the stored package.
func (a *API) handleFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	asset, err := a.db.GetAssetByID(ctx, r.PathValue("id"))
	if err != nil {
		notFoundOr(w, r, err, "Asset not found")
		return
	}
	name := strings.TrimPrefix(path.Clean("/"+r.PathValue("path")), "/")

	switch strings.ToLower(name) {
	case "readme.md", "skill.md", "readme":
		body := asset.Readme
		if strings.TrimSpace(body) == "" {
			body = "# " + asset.DisplayName + "\n\n" + asset.Description
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = w.Write([]byte(body))
		return
	case "manifest.json", "manifest":
		jsonResp(w, http.StatusOK, mergedManifest(asset))
		return
	case "manifest.yaml", "manifest.yml":
		writeYAML(w, r, mergedManifest(asset))
		return
	}

	notFound := func() {
		jsonFail(w, http.StatusNotFound, "file_not_found", "File not found: "+name,
			"hint", "GET /api/v1/assets/"+asset.ID+" lists the files of the current version")
	}
	pkg, err := a.store.Open(asset.ID, asset.Version)
	if errors.Is(err, os.ErrNotExist) {
		notFound()
		return
	}
	if err != nil {
		internalError(w, r, "opening package", err)
		return
	}
	b, err := bundle.Extract(pkg.Data, pkg.Format, bundle.DefaultLimits)
	if err != nil {
		internalError(w, r, "extracting package", err)
		return
	}
	content, ok := b.Read(name)
	if !ok {
		notFound()
		return
	}
	if bundle.IsBinary(content) {
		jsonFail(w, http.StatusUnsupportedMediaType, "binary_file", "Binary files are only available in the package download",
			"download_url", "/api/v1/assets/"+asset.ID+"/download")
		return
	}
	ct := bundle.ContentType(name)
	if ct == "application/octet-stream" {
		ct = "text/plain"
	}
	w.Header().Set("Content-Type", ct+"; charset=utf-8")
	_, _ = w.Write(content)
}
