// CLAUDE:SUMMARY Comments, issues, notifications and activity events — social rows with ledger rewards
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type Comment struct {
	ID               string `json:"id"`
	AssetID          string `json:"assetId"`
	UserID           string `json:"userId"`
	UserName         string `json:"userName"`
	UserAvatar       string `json:"userAvatar"`
	Content          string `json:"content"`
	Rating           int    `json:"rating"`
	CommenterType    string `json:"commenterType"`
	CreatedAt        string `json:"createdAt"`
	AuthorReputation int    `json:"authorReputation"`
}

type CreateCommentInput struct {
	AssetID       string
	UserID        string
	UserName      string
	UserAvatar    string
	Content       string
	Rating        int
	CommenterType string
}

const commentSelect = `
	SELECT c.id, c.asset_id, c.user_id, c.user_name, c.user_avatar, c.content, c.rating,
		c.commenter_type, c.created_at, COALESCE(u.reputation, 0)
	FROM comments c LEFT JOIN users u ON u.id = c.user_id`

func (db *DB) GetComments(ctx context.Context, assetID string) ([]Comment, error) {
	return db.queryComments(ctx, commentSelect+`
		WHERE c.asset_id = ? ORDER BY c.created_at DESC, c.rowid DESC`, assetID)
}

// RecentCommentsForAuthor lists the newest comments across the author's assets.
func (db *DB) RecentCommentsForAuthor(ctx context.Context, authorID string, limit int) ([]Comment, error) {
	return db.queryComments(ctx, commentSelect+`
		JOIN assets a ON a.id = c.asset_id
		WHERE a.author_id = ? ORDER BY c.created_at DESC, c.rowid DESC LIMIT ?`, authorID, limit)
}

func (db *DB) queryComments(ctx context.Context, query string, args ...any) ([]Comment, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing comments: %w", err)
	}
	defer rows.Close()
	out := []Comment{}
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.AssetID, &c.UserID, &c.UserName, &c.UserAvatar, &c.Content, &c.Rating,
			&c.CommenterType, &c.CreatedAt, &c.AuthorReputation); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateComment stores the comment, refreshes the asset rating from rated
// comments, pays write_comment and notifies the asset author.
func (db *DB) CreateComment(ctx context.Context, in CreateCommentInput) (*Comment, error) {
	if in.Rating < 0 || in.Rating > 5 {
		return nil, fmt.Errorf("rating %d out of range", in.Rating)
	}
	if in.CommenterType == "" {
		in.CommenterType = "user"
	}
	c := &Comment{
		ID:            "cm-" + RandomHex(8),
		AssetID:       in.AssetID,
		UserID:        in.UserID,
		UserName:      in.UserName,
		UserAvatar:    in.UserAvatar,
		Content:       in.Content,
		Rating:        in.Rating,
		CommenterType: in.CommenterType,
		CreatedAt:     isoNow(),
	}
	err := db.Tx(ctx, func(tx *sql.Tx) error {
		authorID, err := assetAuthorTx(ctx, tx, in.AssetID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO comments (id, asset_id, user_id, user_name, user_avatar, content, rating, commenter_type, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.AssetID, c.UserID, c.UserName, c.UserAvatar, c.Content, c.Rating, c.CommenterType, c.CreatedAt); err != nil {
			return fmt.Errorf("creating comment: %w", err)
		}
		if c.Rating > 0 {
			if _, err := tx.ExecContext(ctx, `
				UPDATE assets SET
					rating = (SELECT ROUND(AVG(rating), 1) FROM comments WHERE asset_id = ? AND rating > 0),
					rating_count = (SELECT COUNT(*) FROM comments WHERE asset_id = ? AND rating > 0)
				WHERE id = ?`, c.AssetID, c.AssetID, c.AssetID); err != nil {
				return fmt.Errorf("updating rating: %w", err)
			}
		}
		if err := rewardIfUserTx(ctx, tx, c.UserID, "write_comment", c.AssetID); err != nil {
			return err
		}
		if authorID != c.UserID {
			return notifyTx(ctx, tx, authorID, "comment", c.UserName+" 评论了你的资产", c.Content, "/asset/"+c.AssetID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func assetAuthorTx(ctx context.Context, q querier, assetID string) (string, error) {
	var authorID string
	err := q.QueryRowContext(ctx, `SELECT author_id FROM assets WHERE id = ?`, assetID).Scan(&authorID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return authorID, err
}

type Issue struct {
	ID           string   `json:"id"`
	AssetID      string   `json:"assetId"`
	AuthorID     string   `json:"authorId"`
	AuthorName   string   `json:"authorName"`
	AuthorAvatar string   `json:"authorAvatar"`
	AuthorType   string   `json:"authorType"`
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	Status       string   `json:"status"`
	Labels       []string `json:"labels"`
	CreatedAt    string   `json:"createdAt"`
}

type CreateIssueInput struct {
	AssetID      string
	AuthorID     string
	AuthorName   string
	AuthorAvatar string
	AuthorType   string
	Title        string
	Body         string
	Labels       []string
}

const issueSelect = `
	SELECT i.id, i.asset_id, i.author_id, i.author_name, i.author_avatar, i.author_type,
		i.title, i.body, i.status, i.labels, i.created_at
	FROM issues i`

func (db *DB) GetIssues(ctx context.Context, assetID string) ([]Issue, error) {
	return db.queryIssues(ctx, issueSelect+`
		WHERE i.asset_id = ? ORDER BY i.created_at DESC, i.rowid DESC`, assetID)
}

// RecentIssuesForAuthor lists the newest issues across the author's assets.
func (db *DB) RecentIssuesForAuthor(ctx context.Context, authorID string, limit int) ([]Issue, error) {
	return db.queryIssues(ctx, issueSelect+`
		JOIN assets a ON a.id = i.asset_id
		WHERE a.author_id = ? ORDER BY i.created_at DESC, i.rowid DESC LIMIT ?`, authorID, limit)
}

func (db *DB) queryIssues(ctx context.Context, query string, args ...any) ([]Issue, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing issues: %w", err)
	}
	defer rows.Close()
	out := []Issue{}
	for rows.Next() {
		var is Issue
		var labels string
		if err := rows.Scan(&is.ID, &is.AssetID, &is.AuthorID, &is.AuthorName, &is.AuthorAvatar, &is.AuthorType,
			&is.Title, &is.Body, &is.Status, &labels, &is.CreatedAt); err != nil {
			return nil, err
		}
		is.Labels = decodeJSON(labels, "labels", []string{})
		if is.Labels == nil {
			is.Labels = []string{}
		}
		out = append(out, is)
	}
	return out, rows.Err()
}

// CreateIssue opens an issue, bumps issue_count and pays submit_issue.
func (db *DB) CreateIssue(ctx context.Context, in CreateIssueInput) (*Issue, error) {
	if in.AuthorType == "" {
		in.AuthorType = "user"
	}
	if in.Labels == nil {
		in.Labels = []string{}
	}
	is := &Issue{
		ID:           "is-" + RandomHex(8),
		AssetID:      in.AssetID,
		AuthorID:     in.AuthorID,
		AuthorName:   in.AuthorName,
		AuthorAvatar: in.AuthorAvatar,
		AuthorType:   in.AuthorType,
		Title:        in.Title,
		Body:         in.Body,
		Status:       "open",
		Labels:       in.Labels,
		CreatedAt:    isoNow(),
	}
	err := db.Tx(ctx, func(tx *sql.Tx) error {
		ownerID, err := assetAuthorTx(ctx, tx, in.AssetID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO issues (id, asset_id, author_id, author_name, author_avatar, author_type, title, body, status, labels, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'open', ?, ?)`,
			is.ID, is.AssetID, is.AuthorID, is.AuthorName, is.AuthorAvatar, is.AuthorType,
			is.Title, is.Body, encodeJSON(is.Labels), is.CreatedAt); err != nil {
			return fmt.Errorf("creating issue: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE assets SET issue_count = issue_count + 1 WHERE id = ?`, is.AssetID); err != nil {
			return fmt.Errorf("bumping issue count: %w", err)
		}
		if err := rewardIfUserTx(ctx, tx, is.AuthorID, "submit_issue", is.AssetID); err != nil {
			return err
		}
		if ownerID != is.AuthorID {
			return notifyTx(ctx, tx, ownerID, "issue", "新 Issue: "+is.Title, is.Body, "/asset/"+is.AssetID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return is, nil
}

type Notification struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Body      string `json:"message"`
	Link      string `json:"linkTo,omitempty"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"createdAt"`
}

func notifyTx(ctx context.Context, q querier, userID, kind, title, body, link string) error {
	if userID == "" {
		return nil
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, body, link, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, NewID(), userID, kind, title, body, link, isoNow())
	if err != nil {
		return fmt.Errorf("creating notification: %w", err)
	}
	return nil
}

func (db *DB) Notify(ctx context.Context, userID, kind, title, body, link string) error {
	return notifyTx(ctx, db, userID, kind, title, body, link)
}

// GetNotifications returns the newest notifications and the unread count.
func (db *DB) GetNotifications(ctx context.Context, userID string, limit int) ([]Notification, int, error) {
	if limit < 1 || limit > 100 {
		limit = 50
	}
	var unread int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`, userID).Scan(&unread); err != nil {
		return nil, 0, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, type, title, body, link, is_read, created_at
		FROM notifications WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()
	out := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Body, &n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, unread, rows.Err()
}

// MarkNotificationsRead marks ids read, or every notification when ids is empty.
func (db *DB) MarkNotificationsRead(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		res, err := db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0`, userID)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}
	var total int64
	err := db.Tx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx,
				`UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ? AND is_read = 0`, id, userID)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	return total, err
}

type ActivityEvent struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	AssetID   string `json:"assetId,omitempty"`
	Action    string `json:"action"`
	Detail    string `json:"detail"`
	CreatedAt string `json:"createdAt"`
}

func recordActivityTx(ctx context.Context, q querier, userID, assetID, action, detail string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO activity_events (id, user_id, asset_id, action, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, NewID(), userID, nullable(assetID), action, detail, isoNow())
	if err != nil {
		return fmt.Errorf("recording activity: %w", err)
	}
	return nil
}

func (db *DB) GetUserActivity(ctx context.Context, userID string, limit int) ([]ActivityEvent, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(asset_id, ''), action, detail, created_at
		FROM activity_events WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ActivityEvent{}
	for rows.Next() {
		var e ActivityEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.AssetID, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
