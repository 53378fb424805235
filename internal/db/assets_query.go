package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"golang.org/x/text/unicode/norm"
)

const (
	SortDownloads = "downloads"
	SortRating    = "rating"
	SortNewest    = "newest"
	SortUpdated   = "updated"
	SortTrending  = "trending"
	SortPopular   = "popular"
	SortRelevance = "relevance"
)

var validSorts = map[string]bool{
	SortDownloads: true, SortRating: true, SortNewest: true, SortUpdated: true,
	SortTrending: true, SortPopular: true, SortRelevance: true,
}

type ListParams struct {
	Page     int
	PageSize int
	Type     string
	Category string
	Tag      string
	Query    string
	Sort     string
	AuthorID string
}

type AssetPage struct {
	Assets     []Asset `json:"assets"`
	Total      int     `json:"total"`
	Page       int     `json:"page"`
	PageSize   int     `json:"pageSize"`
	TotalPages int     `json:"totalPages"`
}

// AssetCompact is the list shape served to agents.
type AssetCompact struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	DisplayName    string   `json:"displayName"`
	Type           string   `json:"type"`
	Description    string   `json:"description"`
	Tags           []string `json:"tags"`
	Installs       int      `json:"installs"`
	Rating         float64  `json:"rating"`
	Author         string   `json:"author"`
	AuthorID       string   `json:"authorId"`
	Version        string   `json:"version"`
	InstallCommand string   `json:"installCommand"`
	UpdatedAt      string   `json:"updatedAt"`
	Category       string   `json:"category"`
}

type CompactPage struct {
	Items      []AssetCompact `json:"items"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
	TotalPages int            `json:"totalPages"`
}

type L1Page struct {
	Items      []AssetCompact `json:"items"`
	NextCursor *string        `json:"nextCursor"`
	Total      int            `json:"total"`
}

const compactColumns = `a.id, a.name, a.display_name, a.type, a.description, a.tags, a.downloads,
	a.rating, a.author_name, a.author_id, a.version, a.install_command, a.updated_at, a.category`

const starCountExpr = `(SELECT COUNT(*) FROM user_stars us WHERE us.asset_id = a.id)`

const popularityExpr = `(log2p(a.downloads) * 3 + log2p(a.github_stars) * 0.3 + ` + starCountExpr + ` * 2 + has_cjk(a.display_name) * 30)`

func scanCompacts(rows *sql.Rows) ([]AssetCompact, error) {
	out := []AssetCompact{}
	for rows.Next() {
		var c AssetCompact
		var tags string
		if err := rows.Scan(&c.ID, &c.Name, &c.DisplayName, &c.Type, &c.Description, &tags, &c.Installs,
			&c.Rating, &c.Author, &c.AuthorID, &c.Version, &c.InstallCommand, &c.UpdatedAt, &c.Category); err != nil {
			return nil, err
		}
		c.Tags = decodeJSON(tags, "tags", []string{})
		if c.Tags == nil {
			c.Tags = []string{}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ftsQuery quotes each whitespace token; quotes and stars are stripped so user
// input never reaches the FTS5 query syntax.
func ftsQuery(q string) string {
	var tokens []string
	for _, f := range strings.Fields(q) {
		f = strings.NewReplacer(`"`, "", "*", "").Replace(f)
		if f != "" {
			tokens = append(tokens, `"`+f+`"`)
		}
	}
	return strings.Join(tokens, " ")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

// NormalizeQuery applies NFKC so full-width input matches stored text.
func NormalizeQuery(q string) string {
	return strings.TrimSpace(norm.NFKC.String(q))
}

type listQuery struct {
	from    string
	where   []string
	args    []any
	orderBy string
}

func (db *DB) ftsHasContent(ctx context.Context) bool {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets_fts_docsize`).Scan(&n); err != nil {
		return false
	}
	return n > 0
}

func (db *DB) buildList(ctx context.Context, p *ListParams) listQuery {
	p.Page, p.PageSize = clampPage(p.Page, p.PageSize, 20, 100)
	p.Query = NormalizeQuery(p.Query)
	if !validSorts[p.Sort] {
		p.Sort = ""
	}
	if p.Sort == "" {
		p.Sort = SortPopular
		if p.Query != "" {
			p.Sort = SortRelevance
		}
	}

	lq := listQuery{from: "assets a"}
	if p.Type != "" && IsValidAssetType(p.Type) {
		lq.where = append(lq.where, "a.type = ?")
		lq.args = append(lq.args, p.Type)
	}
	if p.Category != "" {
		lq.where = append(lq.where, "a.category = ?")
		lq.args = append(lq.args, p.Category)
	}
	if p.AuthorID != "" {
		lq.where = append(lq.where, "a.author_id = ?")
		lq.args = append(lq.args, p.AuthorID)
	}
	if p.Tag != "" {
		lq.where = append(lq.where, "EXISTS (SELECT 1 FROM json_each(a.tags) t WHERE t.value = ?)")
		lq.args = append(lq.args, p.Tag)
	}

	fts := false
	if p.Query != "" {
		if match := ftsQuery(p.Query); match != "" && db.ftsHasContent(ctx) {
			fts = true
			lq.from = "assets a JOIN assets_fts ON assets_fts.rowid = a.rowid"
			lq.where = append(lq.where, "assets_fts MATCH ?")
			lq.args = append(lq.args, match)
		} else {
			like := "%" + escapeLike(p.Query) + "%"
			lq.where = append(lq.where, `(a.name LIKE ? ESCAPE '\' OR a.display_name LIKE ? ESCAPE '\'
				OR a.description LIKE ? ESCAPE '\' OR a.tags LIKE ? ESCAPE '\')`)
			lq.args = append(lq.args, like, like, like, like)
		}
	}

	switch p.Sort {
	case SortDownloads:
		lq.orderBy = "a.downloads DESC, a.updated_at DESC"
	case SortRating:
		lq.orderBy = "a.rating DESC, a.rating_count DESC"
	case SortNewest:
		lq.orderBy = "a.created_at DESC, a.rowid DESC"
	case SortUpdated:
		lq.orderBy = "a.updated_at DESC, a.rowid DESC"
	case SortTrending:
		lq.orderBy = "a.downloads DESC, a.updated_at DESC"
	case SortRelevance:
		if fts {
			lq.orderBy = "((-assets_fts.rank) * 0.6 + " + popularityExpr + " * 0.4) DESC"
		} else {
			lq.orderBy = popularityExpr + " DESC"
		}
	default:
		lq.orderBy = popularityExpr + " DESC, a.downloads DESC"
	}
	return lq
}

func (lq listQuery) whereSQL() string {
	if len(lq.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(lq.where, " AND ")
}

func (db *DB) countList(ctx context.Context, lq listQuery) (int, error) {
	var total int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+lq.from+lq.whereSQL(), lq.args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("counting assets: %w", err)
	}
	return total, nil
}

func totalPages(total, pageSize int) int {
	if total == 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// ListAssets returns full asset rows for the web listing.
func (db *DB) ListAssets(ctx context.Context, p ListParams) (*AssetPage, error) {
	lq := db.buildList(ctx, &p)
	total, err := db.countList(ctx, lq)
	if err != nil {
		return nil, err
	}
	args := append(append([]any{}, lq.args...), p.PageSize, (p.Page-1)*p.PageSize)
	rows, err := db.QueryContext(ctx, `SELECT `+assetColumns+` FROM `+lq.from+lq.whereSQL()+
		` ORDER BY `+lq.orderBy+` LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	defer rows.Close()
	assets := []Asset{}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &AssetPage{Assets: assets, Total: total, Page: p.Page, PageSize: p.PageSize, TotalPages: totalPages(total, p.PageSize)}, nil
}

// ListAssetsCompact runs the same query as ListAssets with the compact shape.
func (db *DB) ListAssetsCompact(ctx context.Context, p ListParams) (*CompactPage, error) {
	lq := db.buildList(ctx, &p)
	total, err := db.countList(ctx, lq)
	if err != nil {
		return nil, err
	}
	args := append(append([]any{}, lq.args...), p.PageSize, (p.Page-1)*p.PageSize)
	rows, err := db.QueryContext(ctx, `SELECT `+compactColumns+` FROM `+lq.from+lq.whereSQL()+
		` ORDER BY `+lq.orderBy+` LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	defer rows.Close()
	items, err := scanCompacts(rows)
	if err != nil {
		return nil, err
	}
	return &CompactPage{Items: items, Total: total, Page: p.Page, PageSize: p.PageSize, TotalPages: totalPages(total, p.PageSize)}, nil
}

// ListAssetsL1 pages with an opaque cursor (the page number as a string).
func (db *DB) ListAssetsL1(ctx context.Context, p ListParams, cursor string, limit int) (*L1Page, error) {
	if limit < 1 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}
	page, err := strconv.Atoi(cursor)
	if err != nil || page < 1 {
		page = 1
	}
	p.Page, p.PageSize = page, limit
	cp, err := db.ListAssetsCompact(ctx, p)
	if err != nil {
		return nil, err
	}
	out := &L1Page{Items: cp.Items, Total: cp.Total}
	if page*limit < cp.Total {
		next := strconv.Itoa(page + 1)
		out.NextCursor = &next
	}
	return out, nil
}

// GetAssetsByIDs preserves the order of ids and skips unknown ones.
func (db *DB) GetAssetsByIDs(ctx context.Context, ids []string) ([]AssetCompact, error) {
	if len(ids) == 0 {
		return []AssetCompact{}, nil
	}
	query, args, err := sqlx.In(`SELECT `+compactColumns+` FROM assets a WHERE a.id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, db.x.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("batch get: %w", err)
	}
	defer rows.Close()
	found, err := scanCompacts(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]AssetCompact, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	out := make([]AssetCompact, 0, len(found))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (db *DB) GetAssetCountByType(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(AssetTypes))
	for _, t := range AssetTypes {
		counts[t] = 0
	}
	rows, err := db.QueryContext(ctx, `SELECT type, COUNT(*) FROM assets GROUP BY type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

var trendingWindows = map[string]int{"day": 1, "week": 7, "month": 30}

// GetTrending orders by downloads within the period; "all" or empty is unbounded.
func (db *DB) GetTrending(ctx context.Context, period string, limit int) ([]AssetCompact, error) {
	if limit < 1 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}
	where, args := "", []any{}
	if days, ok := trendingWindows[period]; ok {
		where = " WHERE a.updated_at >= ?"
		args = append(args, now().AddDate(0, 0, -days).Format("2006-01-02"))
	}
	args = append(args, limit)
	rows, err := db.QueryContext(ctx, `SELECT `+compactColumns+` FROM assets a`+where+
		` ORDER BY a.downloads DESC, a.updated_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("trending: %w", err)
	}
	defer rows.Close()
	return scanCompacts(rows)
}

type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

func (db *DB) GetAllTags(ctx context.Context) ([]TagCount, error) {
	rows, err := db.QueryContext(ctx, `SELECT tags FROM assets`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		for _, t := range decodeJSON(raw, "tags", []string{}) {
			counts[t]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]TagCount, 0, len(counts))
	for t, n := range counts {
		out = append(out, TagCount{Tag: t, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out, nil
}

type CategoryCount struct {
	Category string `db:"category" json:"category"`
	Count    int    `db:"count" json:"count"`
}

func (db *DB) GetAllCategories(ctx context.Context) ([]CategoryCount, error) {
	out := []CategoryCount{}
	err := db.x.SelectContext(ctx, &out, `
		SELECT category, COUNT(*) AS count FROM assets
		WHERE category != '' GROUP BY category ORDER BY count DESC, category`)
	return out, err
}
