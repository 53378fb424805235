// CLAUDE:SUMMARY Read-only SQL tools loaded from mcp_tools_registry, bridged into MCP, hot-reloaded
package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// DynamicTool is one row of mcp_tools_registry.
type DynamicTool struct {
	Name         string
	Category     string
	Description  string
	InputSchema  map[string]any
	Query        string
	Params       []string
	ResultFormat string
}

// Registry holds the active tools in memory.
type Registry struct {
	db          *sql.DB
	mu          sync.RWMutex
	tools       map[string]*DynamicTool
	bridged     map[string]bool
	fingerprint string
}

func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db, tools: make(map[string]*DynamicTool), bridged: make(map[string]bool)}
}

// readOnly accepts a single SELECT or WITH statement.
func readOnly(query string) bool {
	q := strings.TrimSpace(query)
	q = strings.TrimSuffix(q, ";")
	if strings.Contains(q, ";") {
		return false
	}
	head := strings.ToUpper(strings.SplitN(strings.Join(strings.Fields(q), " "), " ", 2)[0])
	return head == "SELECT" || head == "WITH"
}

// LoadTools replaces the in-memory set with the active rows.
func (r *Registry) LoadTools(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tool_name, tool_category, description, input_schema, query, params, result_format
		FROM mcp_tools_registry
		WHERE is_active = 1
		ORDER BY tool_category, tool_name`)
	if err != nil {
		return fmt.Errorf("query registry: %w", err)
	}
	defer rows.Close()

	loaded := make(map[string]*DynamicTool)
	for rows.Next() {
		var t DynamicTool
		var schemaJSON, paramsJSON string
		if err := rows.Scan(&t.Name, &t.Category, &t.Description, &schemaJSON, &t.Query, &paramsJSON, &t.ResultFormat); err != nil {
			return fmt.Errorf("scan tool: %w", err)
		}
		if err := json.Unmarshal([]byte(schemaJSON), &t.InputSchema); err != nil {
			slog.Warn("bad input_schema, skipping", "tool", t.Name, "error", err)
			continue
		}
		if err := json.Unmarshal([]byte(paramsJSON), &t.Params); err != nil {
			slog.Warn("bad params, skipping", "tool", t.Name, "error", err)
			continue
		}
		if !readOnly(t.Query) {
			slog.Warn("non-select query, skipping", "tool", t.Name)
			continue
		}
		loaded[t.Name] = &t
	}
	if err := rows.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.tools = loaded
	r.mu.Unlock()
	slog.Info("dynamic tools loaded", "count", len(loaded))
	return nil
}

func (r *Registry) ListTools() []*DynamicTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*DynamicTool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

func (r *Registry) GetTool(name string) (*DynamicTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs the tool's query with params bound positionally by name and
// returns the rows as JSON.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (string, error) {
	t, ok := r.GetTool(name)
	if !ok {
		return "", fmt.Errorf("tool not found: %s", name)
	}
	if required, ok := t.InputSchema["required"].([]any); ok {
		for _, rf := range required {
			key, _ := rf.(string)
			if key == "" {
				continue
			}
			if _, exists := params[key]; !exists {
				return "", fmt.Errorf("missing required param: %s", key)
			}
		}
	}

	args := make([]any, len(t.Params))
	for i, p := range t.Params {
		args[i] = params[p]
	}

	rows, err := r.db.QueryContext(ctx, t.Query, args...)
	if err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", err
	}
	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	var output any = results
	if t.ResultFormat == "object" {
		if len(results) > 0 {
			output = results[0]
		} else {
			output = map[string]any{}
		}
	}
	data, err := json.Marshal(output)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Bridge registers every loaded tool on srv and drops tools bridged earlier
// that are no longer active. The lookup happens per call so a reload swaps
// queries without re-registering. A registry bridges onto one server.
func Bridge(srv *server.MCPServer, reg *Registry) {
	tools := reg.ListTools()
	active := make(map[string]bool, len(tools))
	for _, t := range tools {
		schemaJSON, _ := json.Marshal(t.InputSchema)
		tool := mcp.NewToolWithRawSchema(t.Name, t.Description, schemaJSON)
		name := t.Name
		active[name] = true
		srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			result, err := reg.Execute(ctx, name, req.GetArguments())
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("%s: %v", name, err)), nil
			}
			return mcp.NewToolResultText(result), nil
		})
	}

	reg.mu.Lock()
	var stale []string
	for name := range reg.bridged {
		if !active[name] {
			stale = append(stale, name)
		}
	}
	reg.bridged = active
	reg.mu.Unlock()
	if len(stale) > 0 {
		srv.DeleteTools(stale...)
		slog.Info("dynamic tools removed", "tools", stale)
	}
}

// snapshot summarises the registry table; any edit changes it.
func (r *Registry) snapshot(ctx context.Context) (string, error) {
	var n, active, latest sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(is_active), MAX(created_at) FROM mcp_tools_registry`).Scan(&n, &active, &latest)
	if err != nil {
		return "", err
	}
	var sum sql.NullString
	if err := r.db.QueryRowContext(ctx,
		`SELECT group_concat(tool_name || ':' || length(query) || ':' || length(input_schema), ',') FROM mcp_tools_registry`).Scan(&sum); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d/%d/%d/%s", n.Int64, active.Int64, latest.Int64, sum.String), nil
}

// RunWatcher polls the registry every interval and reloads and re-bridges
// on change. Blocks until ctx is done.
func (r *Registry) RunWatcher(ctx context.Context, srv *server.MCPServer, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if fp, err := r.snapshot(ctx); err == nil {
		r.fingerprint = fp
	}
	slog.Info("registry watcher started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("registry watcher stopped")
			return
		case <-ticker.C:
			fp, err := r.snapshot(ctx)
			if err != nil {
				slog.Warn("registry poll failed", "error", err)
				continue
			}
			if fp == r.fingerprint {
				continue
			}
			r.fingerprint = fp
			slog.Info("registry change detected, reloading")
			if err := r.LoadTools(ctx); err != nil {
				slog.Error("reload failed", "error", err)
				continue
			}
			if srv != nil {
				Bridge(srv, r)
			}
		}
	}
}
