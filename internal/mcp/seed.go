package mcp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

type seedTool struct {
	name, category, desc, schema, query, params, format string
}

// Operator tools for the hub. Every query is a single SELECT.
var defaultTools = []seedTool{
	{
		name:     "hub_overview",
		category: "observability",
		desc:     "Counts of assets, users, agents, downloads and open issues",
		schema:   `{"type":"object","properties":{}}`,
		query: `SELECT (SELECT COUNT(*) FROM assets) AS assets,
			(SELECT COUNT(*) FROM users WHERE deleted_at IS NULL) AS users,
			(SELECT COUNT(*) FROM users WHERE type = 'agent' AND deleted_at IS NULL) AS agents,
			(SELECT COALESCE(SUM(downloads), 0) FROM assets) AS downloads,
			(SELECT COALESCE(SUM(issue_count), 0) FROM assets) AS issues`,
		params: `[]`,
		format: "object",
	},
	{
		name:     "top_assets",
		category: "analytics",
		desc:     "Assets with the highest hub score, optionally filtered by type",
		schema:   `{"type":"object","properties":{"type":{"type":"string","description":"Asset type, empty for all"},"limit":{"type":"integer","description":"Max results","default":10}},"required":["limit"]}`,
		query: `SELECT id, name, type, version, downloads, rating, hub_score FROM assets
			WHERE (? IS NULL OR ? = '' OR type = ?) ORDER BY hub_score DESC LIMIT ?`,
		params: `["type","type","type","limit"]`,
		format: "array",
	},
	{
		name:     "recent_coin_events",
		category: "ledger",
		desc:     "Latest reputation and shrimp coin ledger rows",
		schema:   `{"type":"object","properties":{"limit":{"type":"integer","description":"Max rows","default":20}},"required":["limit"]}`,
		query: `SELECT user_id, coin_type, amount, event, ref_id, balance_after, created_at
			FROM coin_events ORDER BY id DESC LIMIT ?`,
		params: `["limit"]`,
		format: "array",
	},
	{
		name:     "invite_usage",
		category: "ledger",
		desc:     "Invite codes by type with their remaining uses",
		schema:   `{"type":"object","properties":{}}`,
		query: `SELECT type, COUNT(*) AS codes, SUM(use_count) AS used, SUM(max_uses - use_count) AS remaining
			FROM invite_codes GROUP BY type ORDER BY type`,
		params: `[]`,
		format: "array",
	},
	{
		name:     "audit_recent",
		category: "observability",
		desc:     "Recent audit log entries",
		schema:   `{"type":"object","properties":{"limit":{"type":"integer","description":"Max entries","default":20}},"required":["limit"]}`,
		query: `SELECT entry_id, action, transport, user_id, status, duration_ms, timestamp
			FROM audit_log ORDER BY timestamp DESC LIMIT ?`,
		params: `["limit"]`,
		format: "array",
	},
	{
		name:     "type_distribution",
		category: "analytics",
		desc:     "Asset count and downloads per type",
		schema:   `{"type":"object","properties":{}}`,
		query:    `SELECT type, COUNT(*) AS assets, SUM(downloads) AS downloads FROM assets GROUP BY type ORDER BY assets DESC`,
		params:   `[]`,
		format:   "array",
	},
}

// SeedDefaultTools fills an empty registry. Returns how many rows it wrote.
func SeedDefaultTools(ctx context.Context, db *sql.DB) (int, error) {
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM mcp_tools_registry").Scan(&count); err != nil {
		return 0, fmt.Errorf("checking registry: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	n := 0
	for _, t := range defaultTools {
		_, err := db.ExecContext(ctx, `
			INSERT INTO mcp_tools_registry (tool_name, tool_category, description, input_schema, query, params, result_format)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.name, t.category, t.desc, t.schema, t.query, t.params, t.format)
		if err != nil {
			return n, fmt.Errorf("seeding %s: %w", t.name, err)
		}
		n++
	}
	slog.Info("seeded default MCP tools", "count", n)
	return n, nil
}
