// CLAUDE:SUMMARY Core API struct, route table and shared JSON/error helpers for the marketplace HTTP surface
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"

	"github.com/hazyhaar/seafoodmarket/internal/auth"
	"github.com/hazyhaar/seafoodmarket/internal/bundle"
	"github.com/hazyhaar/seafoodmarket/internal/config"
	"github.com/hazyhaar/seafoodmarket/internal/db"
	"github.com/hazyhaar/seafoodmarket/internal/github"
	"github.com/hazyhaar/seafoodmarket/internal/mail"
	"github.com/hazyhaar/seafoodmarket/pkg/audit"
)

// maxBodySize caps JSON request bodies.
const maxBodySize = 256 * 1024

type API struct {
	db       *db.DB
	auth     *auth.Auth
	cfg      *config.Config
	store    *bundle.Store
	gh       *github.Client
	importer *github.Importer
	mailer   mail.Sender
	audit    audit.Logger
	limits   *Limiters
}

func New(database *db.DB, a *auth.Auth, cfg *config.Config, store *bundle.Store) *API {
	gh := github.NewClient(cfg.GitHub.APIBase, cfg.GitHub.Token)
	return &API{
		db:       database,
		auth:     a,
		cfg:      cfg,
		store:    store,
		gh:       gh,
		importer: github.NewImporter(database, gh),
		mailer:   mail.New(cfg.Auth.ResendKey, cfg.Auth.EmailFrom),
		limits:   DefaultLimiters(),
	}
}

// SetGitHubClient replaces the GitHub client used by imports and the repo proxy.
func (a *API) SetGitHubClient(c *github.Client) {
	a.gh = c
	a.importer = github.NewImporter(a.db, c)
}

func (a *API) SetMailer(m mail.Sender) { a.mailer = m }

func (a *API) SetAuditLogger(l audit.Logger) { a.audit = l }

func (a *API) SetLimiters(l *Limiters) { a.limits = l }

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", a.handleHealth)

	// Auth handshake
	a.registerAuthRoutes(mux)

	// Assets
	mux.HandleFunc("GET /api/v1", a.handleIndex)
	mux.HandleFunc("GET /api/assets", a.handleListAssets)
	mux.HandleFunc("GET /api/v1/assets", a.handleListCompact)
	mux.HandleFunc("POST /api/v1/assets/batch", a.handleBatch)
	mux.HandleFunc("POST /api/v1/assets/publish", RateLimitMiddleware(a.limits.CreateAsset, a.handlePublish))
	mux.HandleFunc("GET /api/v1/assets/{id}", a.handleGetAsset)
	mux.HandleFunc("PUT /api/v1/assets/{id}", a.handleUpdateAsset)
	mux.HandleFunc("GET /api/v1/assets/{id}/manifest", a.handleGetManifest)
	mux.HandleFunc("PUT /api/v1/assets/{id}/manifest", a.handlePutManifest)
	mux.HandleFunc("GET /api/v1/assets/{id}/readme", a.handleReadme)
	mux.HandleFunc("GET /api/v1/assets/{id}/versions", a.handleVersions)
	mux.HandleFunc("GET /api/v1/assets/{id}/versions/{version}", a.handleVersion)
	mux.HandleFunc("GET /api/v1/assets/{id}/dependents", a.handleDependents)
	mux.HandleFunc("GET /api/v1/assets/{id}/files/{path...}", a.handleFile)
	mux.HandleFunc("GET /api/v1/assets/{id}/download", a.handleDownload)
	mux.HandleFunc("POST /api/v1/assets/{id}/download", a.handleCountDownload)
	mux.HandleFunc("GET /api/v1/assets/{id}/star", a.handleStarInfo)
	mux.HandleFunc("POST /api/v1/assets/{id}/star", a.handleStar)
	mux.HandleFunc("DELETE /api/v1/assets/{id}/star", a.handleUnstar)
	mux.HandleFunc("POST /api/v1/assets/{id}/package", RateLimitMiddleware(a.limits.Upload, a.handleUploadPackage))
	mux.HandleFunc("GET /api/v1/search", RateLimitMiddleware(a.limits.Search, a.handleSearch))
	mux.HandleFunc("GET /api/v1/trending", a.handleTrending)
	mux.HandleFunc("GET /api/v1/tags", a.handleTags)
	mux.HandleFunc("GET /api/v1/categories", a.handleCategories)
	mux.HandleFunc("GET /api/v1/resolve", a.handleResolve)

	// Social
	a.registerSocialRoutes(mux)

	mux.HandleFunc("GET /api/v1/dashboard", a.handleDashboard)

	// Stats
	mux.HandleFunc("GET /api/v1/stats", a.handleStats)
	mux.HandleFunc("GET /api/v1/stats/growth", a.handleGrowth)

	// Admin
	a.registerAdminRoutes(mux)
}

// MountMCP serves the catalogue tools on /mcp, rate limited per IP, and the
// registry reporting tools on /mcp/admin for admins only. reporting may be nil.
func (a *API) MountMCP(mux *http.ServeMux, catalogue, reporting http.Handler) {
	for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
		mux.Handle(m+" /mcp", RateLimitMiddleware(a.limits.MCP, catalogue.ServeHTTP))
		if reporting != nil {
			mux.Handle(m+" /mcp/admin", a.RequireAdmin(reporting))
		}
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.db.PingContext(r.Context()); err != nil {
		jsonFail(w, http.StatusServiceUnavailable, "db_unavailable", err.Error())
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"status": "ok"})
}

// publicURL is the externally visible base used in links handed to agents.
func (a *API) publicURL(r *http.Request) string {
	if a.cfg.Server.PublicURL != "" {
		return strings.TrimRight(a.cfg.Server.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func jsonResp(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// jsonOK wraps data in the success envelope.
func jsonOK(w http.ResponseWriter, status int, data any) {
	jsonResp(w, status, map[string]any{"success": true, "data": data})
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	jsonResp(w, status, map[string]any{"success": false, "error": msg})
}

// jsonFail writes a machine-readable code with a human message. extra holds
// key/value pairs merged into the body.
func jsonFail(w http.ResponseWriter, status int, code, message string, extra ...any) {
	body := map[string]any{"success": false, "error": code}
	if message != "" {
		body["message"] = message
	}
	for i := 0; i+1 < len(extra); i += 2 {
		if k, ok := extra[i].(string); ok {
			body[k] = extra[i+1]
		}
	}
	jsonResp(w, status, body)
}

// internalError logs err, reports it to Sentry and hides it from the client.
func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.Error(msg, "error", err, "path", r.URL.Path, "request_id", RequestIDFrom(r.Context()))
	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		hub.CaptureException(err)
	}
	jsonError(w, "internal error", http.StatusInternalServerError)
}

// decodeBody reads a size-capped JSON body into v. It writes the error
// response itself and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		jsonFail(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return false
	}
	return true
}

// queryInt parses a query parameter, returning def when absent or malformed.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// notFoundOr maps db.ErrNotFound to a 404 with msg and anything else to a 500.
func notFoundOr(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if errors.Is(err, db.ErrNotFound) {
		jsonError(w, msg, http.StatusNotFound)
		return
	}
	internalError(w, r, "loading resource", err)
}
