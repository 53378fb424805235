// Package mcp exposes the marketplace catalogue as MCP tools so agents can
// discover, inspect and resolve assets without the HTTP surface. Served on
// /mcp as streamable HTTP; registry reporting tools live on /mcp/admin.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/pkg/kit"

	"github.com/hazyhaar/seafoodmarket/internal/db"
	"github.com/hazyhaar/seafoodmarket/pkg/audit"
)

// NewReportingServer creates an MCPServer with no tools, for Bridge. Registry
// queries read across every user, so it must be mounted behind an admin gate.
func NewReportingServer(version string) *server.MCPServer {
	return server.NewMCPServer(
		"seafoodmarket-reporting",
		version,
		server.WithToolCapabilities(true),
	)
}

// NewServer creates an MCPServer with the catalogue tools registered.
func NewServer(database *db.DB, auditLog audit.Logger, version string) *server.MCPServer {
	srv := server.NewMCPServer(
		"seafoodmarket",
		version,
		server.WithToolCapabilities(true),
	)

	register(srv, auditLog, "search_assets", "Search published assets by keyword, optionally filtered by type",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":  map[string]string{"type": "string", "description": "Keywords; Chinese and English both work"},
				"type":   map[string]string{"type": "string", "description": "One of: skill, channel, plugin, trigger, experience, template, config"},
				"cursor": map[string]string{"type": "string", "description": "nextCursor from a previous call"},
				"limit":  map[string]any{"type": "integer", "description": "Max results (1-50)", "default": 20},
			},
			"required": []string{"query"},
		},
		searchAssets(database),
		func(args map[string]any) any {
			return &searchReq{
				Query:  stringArg(args, "query"),
				Type:   stringArg(args, "type"),
				Cursor: stringArg(args, "cursor"),
				Limit:  intArg(args, "limit", 20),
			}
		})

	register(srv, auditLog, "get_asset", "Get one asset with its manifest and install command",
		idSchema("Asset ID, e.g. s-1a2b3c4d"), getAsset(database), idDecode)

	register(srv, auditLog, "get_readme", "Get the README of an asset as markdown",
		idSchema("Asset ID"), getReadme(database), idDecode)

	register(srv, auditLog, "list_versions", "List the published versions of an asset, oldest first",
		idSchema("Asset ID"), listVersions(database), idDecode)

	register(srv, auditLog, "list_dependents", "List assets that declare a dependency on this asset",
		idSchema("Asset ID"), listDependents(database), idDecode)

	register(srv, auditLog, "list_trending", "List trending assets for a period",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"period": map[string]string{"type": "string", "description": "day, week or month", "default": "week"},
				"limit":  map[string]any{"type": "integer", "description": "Max results", "default": 10},
			},
		},
		listTrending(database),
		func(args map[string]any) any {
			return &trendingReq{Period: stringArg(args, "period"), Limit: intArg(args, "limit", 10)}
		})

	register(srv, auditLog, "resolve_hash", "Find the assets and files matching a sha256 prefix (at least 8 hex chars)",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"hash": map[string]string{"type": "string", "description": "sha256 hex, optionally prefixed with sha256:"},
			},
			"required": []string{"hash"},
		},
		resolveHash(database),
		func(args map[string]any) any { return &hashReq{Hash: stringArg(args, "hash")} })

	register(srv, auditLog, "list_tags", "List tags with their asset counts",
		map[string]any{"type": "object", "properties": map[string]any{}},
		listTags(database),
		func(map[string]any) any { return &struct{}{} })

	return srv
}

// register wires one tool: decode, tag the context as MCP, audit.
func register(srv *server.MCPServer, auditLog audit.Logger, name, desc string, schema map[string]any,
	endpoint kit.Endpoint, decode func(map[string]any) any) {
	if auditLog != nil {
		endpoint = audit.Middleware(auditLog, name)(endpoint)
	}
	inner := endpoint
	endpoint = func(ctx context.Context, request any) (any, error) {
		return inner(audit.WithTransport(ctx, "mcp"), request)
	}

	raw, _ := json.Marshal(schema)
	tool := mcp.NewToolWithRawSchema(name, desc, raw)
	kit.RegisterMCPTool(srv, tool, endpoint, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: decode(req.GetArguments())}, nil
	})
}

func idSchema(desc string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]string{"type": "string", "description": desc},
		},
		"required": []string{"id"},
	}
}

type idReq struct {
	ID string `json:"id"`
}

func idDecode(args map[string]any) any { return &idReq{ID: stringArg(args, "id")} }

var errMissingID = errors.New("id is required")

type searchReq struct {
	Query  string `json:"query"`
	Type   string `json:"type,omitempty"`
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit"`
}

func searchAssets(database *db.DB) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		r := request.(*searchReq)
		q := strings.TrimSpace(r.Query)
		if q == "" {
			return nil, errors.New("query is required")
		}
		if r.Type != "" && !db.IsValidAssetType(r.Type) {
			return nil, errors.New("unknown asset type: " + r.Type)
		}
		return database.ListAssetsL1(ctx, db.ListParams{Query: q, Type: r.Type, Sort: db.SortRelevance}, r.Cursor, r.Limit)
	}
}

func getAsset(database *db.DB) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		r := request.(*idReq)
		if r.ID == "" {
			return nil, errMissingID
		}
		a, err := database.GetAssetByID(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"asset": a, "manifest": a.Manifest, "installCommand": a.InstallCommand}, nil
	}
}

func getReadme(database *db.DB) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		r := request.(*idReq)
		if r.ID == "" {
			return nil, errMissingID
		}
		return database.GetReadme(ctx, r.ID)
	}
}

func listVersions(database *db.DB) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		r := request.(*idReq)
		if r.ID == "" {
			return nil, errMissingID
		}
		return database.GetVersions(ctx, r.ID)
	}
}

func listDependents(database *db.DB) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		r := request.(*idReq)
		if r.ID == "" {
			return nil, errMissingID
		}
		return database.GetDependents(ctx, r.ID)
	}
}

type trendingReq struct {
	Period string `json:"period"`
	Limit  int    `json:"limit"`
}

func listTrending(database *db.DB) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		r := request.(*trendingReq)
		period := r.Period
		if period == "" {
			period = "week"
		}
		return database.GetTrending(ctx, period, r.Limit)
	}
}

type hashReq struct {
	Hash string `json:"hash"`
}

func resolveHash(database *db.DB) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		r := request.(*hashReq)
		h := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(r.Hash), "sha256:"))
		if len(h) < 8 {
			return nil, errors.New("hash prefix must be at least 8 characters")
		}
		return database.ResolveByHash(ctx, h)
	}
}

func listTags(database *db.DB) kit.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		return database.GetAllTags(ctx)
	}
}

// --- helpers ---

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return def
	}
}
