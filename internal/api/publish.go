// CLAUDE:SUMMARY Multipart publish, package upload and package download with install accounting
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/hazyhaar/seafoodmarket/internal/bundle"
	"github.com/hazyhaar/seafoodmarket/internal/db"
)

// multipartOverhead leaves room for the metadata field next to the package.
const multipartOverhead = 1 << 20

type publishMetadata struct {
	Name            string   `json:"name"`
	DisplayName     string   `json:"displayName"`
	Type            string   `json:"type"`
	Version         string   `json:"version"`
	Description     string   `json:"description"`
	LongDescription string   `json:"longDescription"`
	Tags            []string `json:"tags"`
	Category        string   `json:"category"`
	Readme          string   `json:"readme"`
	ConfigSubtype   string   `json:"configSubtype"`
	Dependencies    []string `json:"dependencies"`
	Changelog       string   `json:"changelog"`
}

type uploadedPackage struct {
	filename string
	data     []byte
	format   bundle.Format
	bundle   *bundle.Bundle
	// extractErr is set when the archive could not be unpacked.
	extractErr error
}

func toDBFiles(files []bundle.FileMeta) []db.FileMeta {
	out := make([]db.FileMeta, len(files))
	for i, f := range files {
		out[i] = db.FileMeta{Path: f.Path, Size: f.Size, SHA256: f.SHA256, ContentType: f.ContentType}
	}
	return out
}

// parseUpload caps the body and parses the multipart form.
func (a *API) parseUpload(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxUploadBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonFail(w, http.StatusRequestEntityTooLarge, "package_too_large", "Package exceeds the upload limit")
			return false
		}
		jsonFail(w, http.StatusBadRequest, "invalid_form", "Expected multipart/form-data")
		return false
	}
	return true
}

// readPackage loads the optional "package" file. A nil package with ok=true
// means the field was absent. Extraction failures are recorded on the
// package, not reported.
func (a *API) readPackage(w http.ResponseWriter, r *http.Request) (*uploadedPackage, bool) {
	file, header, err := r.FormFile("package")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, true
	}
	if err != nil {
		jsonFail(w, http.StatusBadRequest, "invalid_form", "Could not read package field")
		return nil, false
	}
	defer file.Close()
	return a.loadPackage(w, file, header)
}

func (a *API) loadPackage(w http.ResponseWriter, file multipart.File, header *multipart.FileHeader) (*uploadedPackage, bool) {
	if header.Size > a.cfg.MaxUploadBytes() {
		jsonFail(w, http.StatusRequestEntityTooLarge, "package_too_large", "Package exceeds the upload limit")
		return nil, false
	}
	format, err := bundle.DetectFormat(header.Filename)
	if err != nil {
		jsonFail(w, http.StatusBadRequest, "unsupported_format", err.Error())
		return nil, false
	}
	data, err := io.ReadAll(io.LimitReader(file, a.cfg.MaxUploadBytes()+1))
	if err != nil {
		jsonFail(w, http.StatusBadRequest, "invalid_form", "Could not read package field")
		return nil, false
	}
	if int64(len(data)) > a.cfg.MaxUploadBytes() {
		jsonFail(w, http.StatusRequestEntityTooLarge, "package_too_large", "Package exceeds the upload limit")
		return nil, false
	}
	pkg := &uploadedPackage{filename: header.Filename, data: data, format: format}
	pkg.bundle, pkg.extractErr = bundle.Extract(data, format, bundle.DefaultLimits)
	return pkg, true
}

func writeExtractError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bundle.ErrUnsafePath):
		jsonFail(w, http.StatusBadRequest, "unsafe_package", err.Error())
	case errors.Is(err, bundle.ErrTooLarge):
		jsonFail(w, http.StatusRequestEntityTooLarge, "package_too_large", err.Error())
	default:
		jsonFail(w, http.StatusBadRequest, "invalid_package", "Package could not be extracted")
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (a *API) handlePublish(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireActivated(w, r)
	if !ok {
		return
	}
	if !a.parseUpload(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	raw := r.FormValue("metadata")
	if raw == "" {
		jsonError(w, "Missing required field: metadata (JSON string)", http.StatusBadRequest)
		return
	}
	var md publishMetadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		jsonError(w, "Invalid metadata JSON", http.StatusBadRequest)
		return
	}
	md.Name = strings.TrimSpace(md.Name)
	if md.Name == "" || md.Type == "" || md.Version == "" {
		jsonError(w, "metadata must include: name, type, version", http.StatusBadRequest)
		return
	}
	if !db.IsValidAssetType(md.Type) {
		jsonFail(w, http.StatusBadRequest, "invalid_type", "Unknown asset type: "+md.Type,
			"allowed", db.AssetTypes)
		return
	}
	newVer, err := semver.NewVersion(md.Version)
	if err != nil {
		jsonFail(w, http.StatusBadRequest, "invalid_version", "version must be semantic, e.g. 1.0.0")
		return
	}

	pkg, ok := a.readPackage(w, r)
	if !ok {
		return
	}
	meta := bundle.Metadata{DisplayName: md.DisplayName, Description: md.Description, Readme: md.Readme}
	var files []db.FileMeta
	if pkg != nil {
		if pkg.extractErr != nil {
			writeExtractError(w, pkg.extractErr)
			return
		}
		filled, err := bundle.Validate(md.Type, pkg.bundle.Text, meta)
		if err != nil {
			var ve *bundle.ValidationError
			if errors.As(err, &ve) {
				jsonFail(w, http.StatusBadRequest, "publish_validation_failed", ve.Message,
					"missing", ve.Missing, "hint", ve.Hint, "required", ve.Required)
				return
			}
			internalError(w, r, "validating package", err)
			return
		}
		meta = filled
		files = toDBFiles(pkg.bundle.Files)
	}
	displayName := firstNonEmpty(md.DisplayName, meta.DisplayName, md.Name)

	ctx := r.Context()
	user := id.User
	status := http.StatusCreated
	existing, err := a.db.FindAssetByNameAndAuthor(ctx, md.Name, user.ID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		internalError(w, r, "looking up asset", err)
		return
	}

	var asset *db.Asset
	if existing != nil {
		if cur, err := semver.NewVersion(existing.Version); err == nil && newVer.LessThan(cur) {
			jsonFail(w, http.StatusConflict, "version_not_newer",
				"version "+md.Version+" is lower than the published "+existing.Version,
				"currentVersion", existing.Version)
			return
		}
		patch := db.AssetPatch{
			DisplayName:  &displayName,
			Version:      &md.Version,
			Tags:         md.Tags,
			Files:        files,
			Dependencies: md.Dependencies,
		}
		if meta.Description != "" {
			patch.Description = &meta.Description
		}
		if md.LongDescription != "" {
			patch.LongDescription = &md.LongDescription
		}
		if md.Category != "" {
			patch.Category = &md.Category
		}
		if meta.Readme != "" {
			patch.Readme = &meta.Readme
		}
		asset, err = a.db.PublishVersion(ctx, existing.ID, user.ID, patch, md.Changelog)
		if err != nil {
			internalError(w, r, "publishing version", err)
			return
		}
		status = http.StatusOK
	} else {
		asset, err = a.db.CreateAsset(ctx, db.CreateAssetInput{
			Name:            md.Name,
			DisplayName:     displayName,
			Type:            md.Type,
			Description:     meta.Description,
			Version:         md.Version,
			AuthorID:        user.ID,
			AuthorName:      user.Name,
			AuthorAvatar:    user.Avatar,
			LongDescription: md.LongDescription,
			Tags:            md.Tags,
			Category:        md.Category,
			Readme:          meta.Readme,
			ConfigSubtype:   md.ConfigSubtype,
			Dependencies:    md.Dependencies,
			Files:           files,
			Changelog:       md.Changelog,
		})
		if err != nil {
			if errors.Is(err, db.ErrConflict) {
				jsonFail(w, http.StatusConflict, "asset_exists", "An asset with this name already exists")
				return
			}
			internalError(w, r, "creating asset", err)
			return
		}
	}

	var packageFile any
	if pkg != nil {
		if err := a.store.Save(asset.ID, asset.Version, pkg.format, pkg.data); err != nil {
			internalError(w, r, "saving package", err)
			return
		}
		packageFile = pkg.filename
	}
	if id.Method == MethodDevice {
		if err := a.db.MarkDevicePublished(ctx, id.DeviceID); err != nil {
			slog.Warn("device publish not stamped", "device", db.MaskDeviceID(id.DeviceID), "error", err)
		}
	}
	slog.Info("asset published", "asset_id", asset.ID, "version", asset.Version, "author", user.ID, "package", pkg != nil)

	jsonOK(w, status, map[string]any{
		"id":             asset.ID,
		"name":           asset.Name,
		"displayName":    asset.DisplayName,
		"version":        asset.Version,
		"installCommand": asset.InstallCommand,
		"files":          asset.Files,
		"packageFile":    packageFile,
	})
}

func (a *API) handleUploadPackage(w http.ResponseWriter, r *http.Request) {
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
		jsonFail(w, http.StatusForbidden, "forbidden", "Only the author can upload a package")
		return
	}
	if !a.parseUpload(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	pkg, ok := a.readPackage(w, r)
	if !ok {
		return
	}
	if pkg == nil {
		jsonError(w, "Missing required field: package (file)", http.StatusBadRequest)
		return
	}
	if err := a.store.Save(asset.ID, asset.Version, pkg.format, pkg.data); err != nil {
		internalError(w, r, "saving package", err)
		return
	}

	readmeUpdated := false
	if pkg.extractErr != nil {
		slog.Warn("package stored without extraction", "asset_id", asset.ID, "error", pkg.extractErr)
	} else {
		patch := db.AssetPatch{Files: toDBFiles(pkg.bundle.Files)}
		if readme := pkg.bundle.SkillReadme(); strings.TrimSpace(readme) != "" {
			patch.Readme = &readme
			readmeUpdated = true
		}
		if _, err := a.db.UpdateAsset(ctx, asset.ID, patch); err != nil {
			internalError(w, r, "updating asset files", err)
			return
		}
	}

	jsonOK(w, http.StatusOK, map[string]any{
		"id":            asset.ID,
		"packageFile":   pkg.filename,
		"packageSize":   len(pkg.data),
		"readmeUpdated": readmeUpdated,
	})
}

func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	asset, err := a.db.GetAssetByID(ctx, r.PathValue("id"))
	if err != nil {
		notFoundOr(w, r, err, "Asset not found")
		return
	}
	var pkg *bundle.Package
	version := r.URL.Query().Get("version")
	if version != "" && version != asset.Version {
		if _, err := a.db.GetVersion(ctx, asset.ID, version); err != nil {
			notFoundOr(w, r, err, "Version not found")
			return
		}
		pkg, err = a.store.OpenVersion(asset.ID, version)
		if errors.Is(err, os.ErrNotExist) {
			jsonFail(w, http.StatusNotFound, "package_not_found", "No package was stored for version "+version)
			return
		}
	} else {
		pkg, err = a.store.Open(asset.ID, asset.Version)
		if errors.Is(err, os.ErrNotExist) {
			jsonError(w, "Package file not found. This asset was published without a package.", http.StatusNotFound)
			return
		}
	}
	if err != nil {
		internalError(w, r, "opening package", err)
		return
	}

	if _, err := a.db.IncrementDownload(ctx, asset.ID, a.optionalUserID(r)); err != nil {
		slog.Warn("download not counted", "asset_id", asset.ID, "error", err)
	}

	filename := asset.Name
	if pkg.Version != "" {
		filename += "-" + pkg.Version
		w.Header().Set("X-Asset-Version", pkg.Version)
	}
	w.Header().Set("Content-Type", bundle.MIMEType(pkg.Format))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment",
		map[string]string{"filename": filename + "." + string(pkg.Format)}))
	w.Header().Set("X-Asset-Id", asset.ID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pkg.Data)
}

// handleCountDownload records an install performed without fetching the package.
func (a *API) handleCountDownload(w http.ResponseWriter, r *http.Request) {
	n, err := a.db.IncrementDownload(r.Context(), r.PathValue("id"), a.optionalUserID(r))
	if err != nil {
		notFoundOr(w, r, err, "Asset not found")
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{"downloads": n})
}

// optionalUserID is the caller's id, or "" for anonymous and banned callers.
func (a *API) optionalUserID(r *http.Request) string {
	id, err := a.identify(r)
	if err != nil || id == nil || id.User.Banned() {
		return ""
	}
	return id.User.ID
}
