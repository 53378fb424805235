package db

import (
	"context"
	"fmt"
)

type TopDeveloper struct {
	ID             string `db:"id" json:"id"`
	Name           string `db:"name" json:"name"`
	Avatar         string `db:"avatar" json:"avatar"`
	AssetCount     int    `db:"asset_count" json:"assetCount"`
	TotalDownloads int    `db:"total_downloads" json:"totalDownloads"`
}

type RecentActivity struct {
	Type             string `json:"type"`
	AuthorName       string `json:"authorName"`
	AuthorAvatar     string `json:"authorAvatar"`
	AssetName        string `json:"assetName"`
	AssetDisplayName string `json:"assetDisplayName"`
	Version          string `json:"version"`
	Timestamp        string `json:"timestamp"`
}

type Stats struct {
	TotalAssets     int              `json:"totalAssets"`
	TotalDevelopers int              `json:"totalDevelopers"`
	TotalDownloads  int              `json:"totalDownloads"`
	TotalUsers      int              `json:"totalUsers"`
	TotalComments   int              `json:"totalComments"`
	TotalIssues     int              `json:"totalIssues"`
	WeeklyNew       int              `json:"weeklyNew"`
	ByType          map[string]int   `json:"byType"`
	TopDevelopers   []TopDeveloper   `json:"topDevelopers"`
	RecentActivity  []RecentActivity `json:"recentActivity"`
}

type DailyStat struct {
	Date           string `db:"date" json:"date"`
	TotalAssets    int    `db:"total_assets" json:"totalAssets"`
	TotalDownloads int    `db:"total_downloads" json:"totalDownloads"`
	TotalUsers     int    `db:"total_users" json:"totalUsers"`
}

func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	s := &Stats{}
	var totals struct {
		Assets     int `db:"assets"`
		Developers int `db:"developers"`
		Downloads  int `db:"downloads"`
		Users      int `db:"users"`
		Comments   int `db:"comments"`
		Issues     int `db:"issues"`
		WeeklyNew  int `db:"weekly_new"`
	}
	weekAgo := now().AddDate(0, 0, -7).Format("2006-01-02")
	if err := db.x.GetContext(ctx, &totals, `
		SELECT
			(SELECT COUNT(*) FROM assets) AS assets,
			(SELECT COUNT(DISTINCT author_id) FROM assets WHERE author_id != '') AS developers,
			(SELECT COALESCE(SUM(downloads), 0) FROM assets) AS downloads,
			(SELECT COUNT(*) FROM users WHERE deleted_at IS NULL) AS users,
			(SELECT COUNT(*) FROM comments) AS comments,
			(SELECT COUNT(*) FROM issues) AS issues,
			(SELECT COUNT(*) FROM assets WHERE created_at >= ?) AS weekly_new`, weekAgo); err != nil {
		return nil, fmt.Errorf("loading totals: %w", err)
	}
	s.TotalAssets, s.TotalDevelopers, s.TotalDownloads = totals.Assets, totals.Developers, totals.Downloads
	s.TotalUsers, s.TotalComments, s.TotalIssues, s.WeeklyNew = totals.Users, totals.Comments, totals.Issues, totals.WeeklyNew

	s.TopDevelopers = []TopDeveloper{}
	if err := db.x.SelectContext(ctx, &s.TopDevelopers, `
		SELECT author_id AS id, MAX(author_name) AS name, MAX(author_avatar) AS avatar,
			COUNT(*) AS asset_count, COALESCE(SUM(downloads), 0) AS total_downloads
		FROM assets WHERE author_id != ''
		GROUP BY author_id ORDER BY total_downloads DESC LIMIT 10`); err != nil {
		return nil, fmt.Errorf("loading top developers: %w", err)
	}

	var recent []struct {
		Name        string `db:"name"`
		DisplayName string `db:"display_name"`
		AuthorName  string `db:"author_name"`
		Avatar      string `db:"author_avatar"`
		Version     string `db:"version"`
		CreatedAt   string `db:"created_at"`
		UpdatedAt   string `db:"updated_at"`
	}
	if err := db.x.SelectContext(ctx, &recent, `
		SELECT name, display_name, author_name, author_avatar, version, created_at, updated_at
		FROM assets ORDER BY updated_at DESC, rowid DESC LIMIT 20`); err != nil {
		return nil, fmt.Errorf("loading recent activity: %w", err)
	}
	s.RecentActivity = make([]RecentActivity, 0, len(recent))
	for _, r := range recent {
		kind := "update"
		if r.CreatedAt == r.UpdatedAt {
			kind = "publish"
		}
		s.RecentActivity = append(s.RecentActivity, RecentActivity{
			Type: kind, AuthorName: r.AuthorName, AuthorAvatar: r.Avatar,
			AssetName: r.Name, AssetDisplayName: r.DisplayName, Version: r.Version, Timestamp: r.UpdatedAt,
		})
	}

	byType, err := db.GetAssetCountByType(ctx)
	if err != nil {
		return nil, err
	}
	s.ByType = byType
	return s, nil
}

// SnapshotDailyStats upserts today's totals into daily_stats.
func (db *DB) SnapshotDailyStats(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO daily_stats (date, total_assets, total_downloads, total_users)
		VALUES (?, (SELECT COUNT(*) FROM assets), (SELECT COALESCE(SUM(downloads), 0) FROM assets),
			(SELECT COUNT(*) FROM users WHERE deleted_at IS NULL))
		ON CONFLICT(date) DO UPDATE SET
			total_assets = excluded.total_assets,
			total_downloads = excluded.total_downloads,
			total_users = excluded.total_users`, today())
	if err != nil {
		return fmt.Errorf("snapshotting daily stats: %w", err)
	}
	return nil
}

func (db *DB) GetGrowth(ctx context.Context, days int) ([]DailyStat, error) {
	if days < 1 || days > 365 {
		days = 30
	}
	out := []DailyStat{}
	err := db.x.SelectContext(ctx, &out, `
		SELECT date, total_assets, total_downloads, total_users FROM (
			SELECT * FROM daily_stats ORDER BY date DESC LIMIT ?
		) ORDER BY date ASC`, days)
	return out, err
}

// UserProfile is the public view of a user with their published assets.
type UserProfile struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Avatar      string         `json:"avatar"`
	Bio         string         `json:"bio"`
	Type        string         `json:"type"`
	Role        string         `json:"role"`
	Reputation  int            `json:"reputation"`
	ShrimpCoins int            `json:"shrimpCoins"`
	CreatedAt   string         `json:"createdAt"`
	Assets      []AssetCompact `json:"assets"`
}

func (db *DB) GetUserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	u, err := db.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.DeletedAt != nil {
		return nil, ErrNotFound
	}
	rows, err := db.QueryContext(ctx, `SELECT `+compactColumns+` FROM assets a
		WHERE a.author_id = ? ORDER BY a.downloads DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	assets, err := scanCompacts(rows)
	if err != nil {
		return nil, err
	}
	return &UserProfile{
		ID: u.ID, Name: u.Name, Avatar: u.Avatar, Bio: u.Bio, Type: u.Type, Role: u.Role,
		Reputation: u.Reputation, ShrimpCoins: u.ShrimpCoins, CreatedAt: u.CreatedAt, Assets: assets,
	}, nil
}
