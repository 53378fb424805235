// CLAUDE:SUMMARY Asset store — type-prefixed ids, JSON columns, partial updates, downloads with install rewards, stars, hash resolve
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// AssetTypes is the CHECK-constrained type enum.
var AssetTypes = []string{"skill", "channel", "plugin", "trigger", "experience", "template", "config"}

func IsValidAssetType(t string) bool {
	for _, v := range AssetTypes {
		if v == t {
			return true
		}
	}
	return false
}

type Author struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type VersionEntry struct {
	Version   string     `json:"version"`
	Changelog string     `json:"changelog"`
	Date      string     `json:"date"`
	Files     []FileMeta `json:"files,omitempty"`
}

type FileMeta struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
	ContentType string `json:"contentType"`
}

type Asset struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	DisplayName       string             `json:"displayName"`
	Type              string             `json:"type"`
	Author            Author             `json:"author"`
	Description       string             `json:"description"`
	LongDescription   string             `json:"longDescription"`
	Version           string             `json:"version"`
	Downloads         int                `json:"downloads"`
	Rating            float64            `json:"rating"`
	RatingCount       int                `json:"ratingCount"`
	Tags              []string           `json:"tags"`
	Category          string             `json:"category"`
	CreatedAt         string             `json:"createdAt"`
	UpdatedAt         string             `json:"updatedAt"`
	InstallCommand    string             `json:"installCommand"`
	Readme            string             `json:"readme"`
	Versions          []VersionEntry     `json:"versions"`
	Dependencies      []string           `json:"dependencies"`
	IssueCount        int                `json:"issueCount"`
	ConfigSubtype     *string            `json:"configSubtype,omitempty"`
	HubScore          float64            `json:"hubScore"`
	HubScoreBreakdown map[string]float64 `json:"hubScoreBreakdown"`
	UpgradeRate       float64            `json:"upgradeRate"`
	Compatibility     map[string]any     `json:"compatibility"`
	Files             []FileMeta         `json:"files"`
	Manifest          map[string]any     `json:"-"`
	GitHubURL         string             `json:"githubUrl,omitempty"`
	GitHubStars       int                `json:"githubStars,omitempty"`
	GitHubForks       int                `json:"githubForks,omitempty"`
	GitHubLanguage    string             `json:"githubLanguage,omitempty"`
	GitHubLicense     string             `json:"githubLicense,omitempty"`
	GitHubSyncedAt    string             `json:"githubSyncedAt,omitempty"`
	StarRepSynced     int                `json:"-"`
	UserStars         int                `json:"userStars"`
	TotalStars        int                `json:"totalStars"`
}

const assetColumns = `a.id, a.name, a.display_name, a.type, a.author_id, a.author_name, a.author_avatar,
	a.description, a.long_description, a.version, a.downloads, a.rating, a.rating_count,
	a.tags, a.category, a.created_at, a.updated_at, a.install_command, a.readme, a.versions,
	a.dependencies, a.issue_count, a.config_subtype, a.hub_score, a.hub_score_breakdown,
	a.upgrade_rate, a.compatibility, a.files, a.manifest, a.github_url, a.github_stars,
	a.github_forks, a.github_language, a.github_license, a.github_synced_at, a.star_rep_synced,
	(SELECT COUNT(*) FROM user_stars us WHERE us.asset_id = a.id) AS user_star_count`

func scanAsset(row rowScanner) (*Asset, error) {
	a := &Asset{}
	var tags, versions, deps, breakdown, compat, files, manifest string
	var subtype, ghURL, ghLang, ghLicense, ghSynced sql.NullString
	err := row.Scan(&a.ID, &a.Name, &a.DisplayName, &a.Type, &a.Author.ID, &a.Author.Name, &a.Author.Avatar,
		&a.Description, &a.LongDescription, &a.Version, &a.Downloads, &a.Rating, &a.RatingCount,
		&tags, &a.Category, &a.CreatedAt, &a.UpdatedAt, &a.InstallCommand, &a.Readme, &versions,
		&deps, &a.IssueCount, &subtype, &a.HubScore, &breakdown,
		&a.UpgradeRate, &compat, &files, &manifest, &ghURL, &a.GitHubStars,
		&a.GitHubForks, &ghLang, &ghLicense, &ghSynced, &a.StarRepSynced,
		&a.UserStars)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Tags = decodeJSON(tags, "tags", []string{})
	a.Versions = decodeJSON(versions, "versions", []VersionEntry{})
	a.Dependencies = decodeJSON(deps, "dependencies", []string{})
	a.HubScoreBreakdown = decodeJSON(breakdown, "hub_score_breakdown", map[string]float64{})
	a.Compatibility = decodeJSON(compat, "compatibility", map[string]any{})
	a.Files = decodeJSON(files, "files", []FileMeta{})
	a.Manifest = decodeJSON(manifest, "manifest", map[string]any{})
	normalizeAsset(a)
	a.ConfigSubtype = nullPtr(subtype)
	a.GitHubURL, a.GitHubLanguage, a.GitHubLicense, a.GitHubSyncedAt = ghURL.String, ghLang.String, ghLicense.String, ghSynced.String
	if a.Author.ID == "" {
		a.Author.ID = AuthorSlug(a.Author.Name)
	}
	a.TotalStars = a.GitHubStars + a.UserStars
	return a, nil
}

// normalizeAsset replaces JSON nulls with empty collections.
func normalizeAsset(a *Asset) {
	if a.Tags == nil {
		a.Tags = []string{}
	}
	if a.Versions == nil {
		a.Versions = []VersionEntry{}
	}
	if a.Dependencies == nil {
		a.Dependencies = []string{}
	}
	if a.Files == nil {
		a.Files = []FileMeta{}
	}
	if a.Compatibility == nil {
		a.Compatibility = map[string]any{}
	}
	if a.Manifest == nil {
		a.Manifest = map[string]any{}
	}
	if a.HubScoreBreakdown == nil {
		a.HubScoreBreakdown = map[string]float64{}
	}
}

var slugSpaceRe = regexp.MustCompile(`\s+`)

// AuthorSlug derives the legacy author id "u-<lowercased-name>".
func AuthorSlug(name string) string {
	return "u-" + slugSpaceRe.ReplaceAllString(strings.ToLower(name), "-")
}

// InstallCommand formats the CLI command shown for an asset.
func InstallCommand(assetType, authorID, name string) string {
	return fmt.Sprintf("seafood-market install %s/@%s/%s", assetType, authorID, name)
}

type CreateAssetInput struct {
	Name            string
	DisplayName     string
	Type            string
	Description     string
	Version         string
	AuthorID        string
	AuthorName      string
	AuthorAvatar    string
	LongDescription string
	Tags            []string
	Category        string
	Readme          string
	ConfigSubtype   string
	Dependencies    []string
	Files           []FileMeta
	Manifest        map[string]any
	Changelog       string
	GitHubURL       string
	GitHubStars     int
	GitHubForks     int
	GitHubLanguage  string
	GitHubLicense   string
	// SkipCoinReward suppresses the publish reward (imports).
	SkipCoinReward bool
}

var defaultCompatibility = map[string]any{
	"models":     []string{"GPT-4", "Claude 3"},
	"platforms":  []string{"OpenClaw"},
	"frameworks": []string{"Node.js"},
}

func (db *DB) CreateAsset(ctx context.Context, in CreateAssetInput) (*Asset, error) {
	if !IsValidAssetType(in.Type) {
		return nil, fmt.Errorf("invalid asset type %q", in.Type)
	}
	id := newAssetID(in.Type)
	if in.Version == "" {
		in.Version = "1.0.0"
	}
	authorName := in.AuthorName
	if authorName == "" {
		authorName = "Anonymous"
	}
	authorAvatar := in.AuthorAvatar
	if authorAvatar == "" {
		authorAvatar = "🤖"
	}
	authorID := in.AuthorID
	if authorID == "" {
		authorID = AuthorSlug(authorName)
	}
	if in.Tags == nil {
		in.Tags = []string{}
	}
	if in.Dependencies == nil {
		in.Dependencies = []string{}
	}
	if in.Files == nil {
		in.Files = []FileMeta{}
	}
	if in.Manifest == nil {
		in.Manifest = map[string]any{}
	}
	changelog := in.Changelog
	if changelog == "" {
		changelog = "首次发布"
	}
	date := today()
	versions := []VersionEntry{{Version: in.Version, Changelog: changelog, Date: date}}

	var ghSynced any
	if in.GitHubURL != "" {
		ghSynced = isoNow()
	}

	err := db.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO assets (id, name, display_name, type, author_id, author_name, author_avatar,
				description, long_description, version, tags, category, created_at, updated_at,
				install_command, readme, versions, dependencies, config_subtype, hub_score_breakdown,
				compatibility, files, manifest, github_url, github_stars, github_forks, github_language,
				github_license, github_synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, in.Name, in.DisplayName, in.Type, authorID, authorName, authorAvatar,
			in.Description, in.LongDescription, in.Version, encodeJSON(in.Tags), in.Category, date, date,
			InstallCommand(in.Type, authorID, in.Name), in.Readme, encodeJSON(versions), encodeJSON(in.Dependencies),
			nullable(in.ConfigSubtype),
			encodeJSON(map[string]float64{"downloadScore": 0, "maintenanceScore": 0, "reputationScore": 0}),
			encodeJSON(defaultCompatibility), encodeJSON(in.Files), encodeJSON(in.Manifest),
			nullable(in.GitHubURL), in.GitHubStars, in.GitHubForks, nullable(in.GitHubLanguage),
			nullable(in.GitHubLicense), ghSynced)
		if err != nil {
			return fmt.Errorf("creating asset: %w", err)
		}
		if in.AuthorID != "" && !in.SkipCoinReward {
			if err := rewardTx(ctx, tx, in.AuthorID, "publish_asset", id); err != nil {
				return err
			}
		}
		return recordActivityTx(ctx, tx, authorID, id, "publish", in.Version)
	})
	if err != nil {
		return nil, err
	}
	return db.GetAssetByID(ctx, id)
}

func (db *DB) GetAssetByID(ctx context.Context, id string) (*Asset, error) {
	return scanAsset(db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets a WHERE a.id = ?`, id))
}

// FindAssetByNameAndAuthor locates an author's existing asset for re-publish.
func (db *DB) FindAssetByNameAndAuthor(ctx context.Context, name, authorID string) (*Asset, error) {
	return scanAsset(db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets a WHERE a.name = ? AND a.author_id = ? LIMIT 1`, name, authorID))
}

func (db *DB) FindAssetByGitHubURL(ctx context.Context, url string) (*Asset, error) {
	return scanAsset(db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets a WHERE a.github_url = ? LIMIT 1`, url))
}

// AssetPatch holds the optional columns of UpdateAsset; nil means unchanged.
type AssetPatch struct {
	Name            *string
	DisplayName     *string
	Description     *string
	LongDescription *string
	Version         *string
	Tags            []string
	Category        *string
	Readme          *string
	Files           []FileMeta
	Versions        []VersionEntry
	Dependencies    []string
	Manifest        map[string]any
	GitHubURL       *string
	GitHubStars     *int
	GitHubForks     *int
	GitHubLanguage  *string
	GitHubLicense   *string
	StarRepSynced   *int
}

// UpdateAsset applies the non-nil fields of p and bumps updated_at.
func (db *DB) UpdateAsset(ctx context.Context, id string, p AssetPatch) (*Asset, error) {
	if err := updateAssetTx(ctx, db, id, p); err != nil {
		return nil, err
	}
	return db.GetAssetByID(ctx, id)
}

func updateAssetTx(ctx context.Context, q querier, id string, p AssetPatch) error {
	sets := []string{}
	args := []any{}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.Name != nil {
		add("name", *p.Name)
	}
	if p.DisplayName != nil {
		add("display_name", *p.DisplayName)
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.LongDescription != nil {
		add("long_description", *p.LongDescription)
	}
	if p.Version != nil {
		add("version", *p.Version)
	}
	if p.Tags != nil {
		add("tags", encodeJSON(p.Tags))
	}
	if p.Category != nil {
		add("category", *p.Category)
	}
	if p.Readme != nil {
		add("readme", *p.Readme)
	}
	if p.Files != nil {
		add("files", encodeJSON(p.Files))
	}
	if p.Versions != nil {
		add("versions", encodeJSON(p.Versions))
	}
	if p.Dependencies != nil {
		add("dependencies", encodeJSON(p.Dependencies))
	}
	if p.Manifest != nil {
		add("manifest", encodeJSON(p.Manifest))
	}
	if p.GitHubURL != nil {
		add("github_url", *p.GitHubURL)
		add("github_synced_at", isoNow())
	}
	if p.GitHubStars != nil {
		add("github_stars", *p.GitHubStars)
	}
	if p.GitHubForks != nil {
		add("github_forks", *p.GitHubForks)
	}
	if p.GitHubLanguage != nil {
		add("github_language", *p.GitHubLanguage)
	}
	if p.GitHubLicense != nil {
		add("github_license", *p.GitHubLicense)
	}
	if p.StarRepSynced != nil {
		add("star_rep_synced", *p.StarRepSynced)
	}
	add("updated_at", today())
	args = append(args, id)
	res, err := q.ExecContext(ctx, `UPDATE assets SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if ok, err := affected(res, err); err != nil {
		return fmt.Errorf("updating asset: %w", err)
	} else if !ok {
		return ErrNotFound
	}
	return nil
}

// PublishVersion updates an existing asset for re-publish. A version not yet
// listed is appended to the versions history. The author earns publish_version.
func (db *DB) PublishVersion(ctx context.Context, id, authorID string, p AssetPatch, changelog string) (*Asset, error) {
	current, err := db.GetAssetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Version != nil {
		known := false
		for _, v := range current.Versions {
			if v.Version == *p.Version {
				known = true
				break
			}
		}
		if !known {
			if changelog == "" {
				changelog = "版本更新"
			}
			p.Versions = append(current.Versions, VersionEntry{Version: *p.Version, Changelog: changelog, Date: today(), Files: p.Files})
		}
	}
	err = db.Tx(ctx, func(tx *sql.Tx) error {
		if err := updateAssetTx(ctx, tx, id, p); err != nil {
			return err
		}
		if authorID != "" {
			if err := rewardTx(ctx, tx, authorID, "publish_version", id); err != nil {
				return err
			}
		}
		version := current.Version
		if p.Version != nil {
			version = *p.Version
		}
		return recordActivityTx(ctx, tx, authorID, id, "update", version)
	})
	if err != nil {
		return nil, err
	}
	return db.GetAssetByID(ctx, id)
}

// DeleteAsset removes an asset and its child rows.
func (db *DB) DeleteAsset(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := db.Tx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"comments", "issues", "user_stars", "user_installs", "activity_events"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE asset_id = ?`, id); err != nil {
				return fmt.Errorf("deleting %s: %w", table, err)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id)
		deleted, err = affected(res, err)
		return err
	})
	return deleted, err
}

// GetManifest returns the stored manifest object.
func (db *DB) GetManifest(ctx context.Context, id string) (map[string]any, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT manifest FROM assets WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeJSON(raw, "manifest", map[string]any{}), nil
}

func (db *DB) UpdateManifest(ctx context.Context, id string, manifest map[string]any) (bool, error) {
	res, err := db.ExecContext(ctx, `UPDATE assets SET manifest = ? WHERE id = ?`, encodeJSON(manifest), id)
	return affected(res, err)
}

type Readme struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Readme      string `json:"readme"`
	Version     string `json:"version"`
}

func (db *DB) GetReadme(ctx context.Context, id string) (*Readme, error) {
	r := &Readme{}
	err := db.QueryRowContext(ctx, `SELECT name, display_name, readme, version FROM assets WHERE id = ?`, id).
		Scan(&r.Name, &r.DisplayName, &r.Readme, &r.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading readme: %w", err)
	}
	return r, nil
}

func (db *DB) GetVersions(ctx context.Context, id string) ([]VersionEntry, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT versions FROM assets WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeJSON(raw, "versions", []VersionEntry{}), nil
}

func (db *DB) GetVersion(ctx context.Context, id, version string) (*VersionEntry, error) {
	versions, err := db.GetVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := range versions {
		if versions[i].Version == version {
			return &versions[i], nil
		}
	}
	return nil, ErrNotFound
}

// GetDependents lists assets whose dependencies contain id.
func (db *DB) GetDependents(ctx context.Context, id string) ([]AssetCompact, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+compactColumns+` FROM assets a
		WHERE EXISTS (SELECT 1 FROM json_each(a.dependencies) d WHERE d.value = ?)
		ORDER BY a.downloads DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("listing dependents: %w", err)
	}
	defer rows.Close()
	return scanCompacts(rows)
}

type HashMatch struct {
	AssetID   string `json:"assetId"`
	AssetName string `json:"assetName"`
	FilePath  string `json:"filePath"`
	Version   string `json:"version"`
}

// ResolveByHash scans every asset's file metadata for a sha256 prefix match.
func (db *DB) ResolveByHash(ctx context.Context, prefix string) ([]HashMatch, error) {
	prefix = strings.ToLower(prefix)
	rows, err := db.QueryContext(ctx, `SELECT id, name, version, files FROM assets`)
	if err != nil {
		return nil, fmt.Errorf("resolving hash: %w", err)
	}
	defer rows.Close()
	matches := []HashMatch{}
	for rows.Next() {
		var id, name, version, raw string
		if err := rows.Scan(&id, &name, &version, &raw); err != nil {
			return nil, err
		}
		for _, f := range decodeJSON(raw, "files", []FileMeta{}) {
			if f.SHA256 != "" && strings.HasPrefix(strings.ToLower(f.SHA256), prefix) {
				matches = append(matches, HashMatch{AssetID: id, AssetName: name, FilePath: f.Path, Version: version})
			}
		}
	}
	return matches, rows.Err()
}

// IncrementDownload counts a download and returns the new total. For a known
// user it also stars the asset, charges the install fee when affordable and
// rewards the author once per installed version.
func (db *DB) IncrementDownload(ctx context.Context, assetID, userID string) (int, error) {
	var downloads int
	err := db.Tx(ctx, func(tx *sql.Tx) error {
		var authorID, version string
		err := tx.QueryRowContext(ctx,
			`UPDATE assets SET downloads = downloads + 1 WHERE id = ? RETURNING downloads, author_id, version`, assetID).
			Scan(&downloads, &authorID, &version)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("incrementing downloads: %w", err)
		}

		if userID == "" {
			if authorID != "" {
				return rewardIfUserTx(ctx, tx, authorID, "asset_installed", assetID)
			}
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO user_stars (user_id, asset_id, source, created_at)
			VALUES (?, ?, 'download', ?)`, userID, assetID, isoNow()); err != nil {
			return fmt.Errorf("auto-starring: %w", err)
		}
		if _, err := spendTx(ctx, tx, userID, 1, "install_asset", assetID); err != nil &&
			!errors.Is(err, ErrInsufficientCoins) && !errors.Is(err, ErrNotFound) {
			return err
		}

		var last string
		err = tx.QueryRowContext(ctx,
			`SELECT version FROM user_installs WHERE user_id = ? AND asset_id = ?`, userID, assetID).Scan(&last)
		reward := false
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO user_installs (user_id, asset_id, version, installed_at) VALUES (?, ?, ?, ?)`,
				userID, assetID, version, isoNow()); err != nil {
				return fmt.Errorf("recording install: %w", err)
			}
			reward = true
		case err != nil:
			return err
		case last != version:
			if _, err := tx.ExecContext(ctx, `
				UPDATE user_installs SET version = ?, installed_at = ? WHERE user_id = ? AND asset_id = ?`,
				version, isoNow(), userID, assetID); err != nil {
				return fmt.Errorf("updating install: %w", err)
			}
			reward = true
		}
		if reward && authorID != "" && authorID != userID {
			if err := rewardIfUserTx(ctx, tx, authorID, "asset_installed", assetID); err != nil {
				return err
			}
			return notifyTx(ctx, tx, authorID, "download", "你的资产被安装了", "", "/asset/"+assetID)
		}
		return nil
	})
	return downloads, err
}

// rewardIfUserTx skips authors that are only name snapshots without a users row.
func rewardIfUserTx(ctx context.Context, q querier, userID, event, refID string) error {
	var exists int
	if err := q.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	return rewardTx(ctx, q, userID, event, refID)
}

type StarInfo struct {
	TotalStars  int  `json:"totalStars"`
	UserStars   int  `json:"userStars"`
	GitHubStars int  `json:"githubStars"`
	IsStarred   bool `json:"isStarred"`
}

func (db *DB) GetStarInfo(ctx context.Context, assetID, userID string) (*StarInfo, error) {
	s := &StarInfo{}
	err := db.QueryRowContext(ctx, `
		SELECT a.github_stars,
			(SELECT COUNT(*) FROM user_stars WHERE asset_id = a.id),
			EXISTS (SELECT 1 FROM user_stars WHERE asset_id = a.id AND user_id = ?)
		FROM assets a WHERE a.id = ?`, userID, assetID).Scan(&s.GitHubStars, &s.UserStars, &s.IsStarred)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.TotalStars = s.GitHubStars + s.UserStars
	return s, nil
}

// StarAsset is idempotent; created reports whether a new star was stored.
func (db *DB) StarAsset(ctx context.Context, assetID, userID string) (bool, error) {
	var created bool
	err := db.Tx(ctx, func(tx *sql.Tx) error {
		var authorID string
		err := tx.QueryRowContext(ctx, `SELECT author_id FROM assets WHERE id = ?`, assetID).Scan(&authorID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO user_stars (user_id, asset_id, source, created_at)
			VALUES (?, ?, 'manual', ?)`, userID, assetID, isoNow())
		created, err = affected(res, err)
		if err != nil {
			return fmt.Errorf("starring asset: %w", err)
		}
		if created && authorID != userID {
			return rewardIfUserTx(ctx, tx, authorID, "asset_starred", assetID)
		}
		return nil
	})
	return created, err
}

// UnstarAsset is idempotent; deleted is false when no star existed.
func (db *DB) UnstarAsset(ctx context.Context, assetID, userID string) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM user_stars WHERE user_id = ? AND asset_id = ?`, userID, assetID)
	return affected(res, err)
}

// StarredAssetIDs lists what the user starred, newest first.
func (db *DB) StarredAssetIDs(ctx context.Context, userID string) ([]string, error) {
	ids := []string{}
	err := db.x.SelectContext(ctx, &ids,
		`SELECT asset_id FROM user_stars WHERE user_id = ? ORDER BY created_at DESC`, userID)
	return ids, err
}
