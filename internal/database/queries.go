package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Error definitions
var (
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyDelivered means another writer already committed the ledger
	// row; callers treat it as success.
	ErrAlreadyDelivered = errors.New("item already delivered")
)

// Feed is a configured syndication source polled on an interval.
type Feed struct {
	ID              int64
	URL             string
	Title           string
	IntervalMinutes int
	Active          bool
	LastCheckedAt   time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Subscription binds one feed to one chat destination, optionally routed to a
// forum topic.
type Subscription struct {
	ID            int64
	FeedID        int64
	DestinationID int64
	Label         string
	Active        bool
	TopicName     string
	TopicNameKey  string
	TopicThreadID int64 // 0 means no topic assigned
}

// DeliveredItem is one ledger row. Its existence means the article must never
// be resent for that feed.
type DeliveredItem struct {
	ID            int64
	FeedID        int64
	ArticleID     string
	Title         string
	DestinationID int64
	DeliveredAt   time.Time
}

// GetFeed loads one feed by id.
func (db *DB) GetFeed(ctx context.Context, id int64) (*Feed, error) {
	var f Feed
	var title sql.NullString
	var lastChecked sql.NullTime
	err := db.QueryRowContext(ctx,
		`SELECT id, url, COALESCE(title, ''), interval_minutes, active, last_checked_at, created_at, updated_at
         FROM feeds WHERE id = ?`, id,
	).Scan(&f.ID, &f.URL, &title, &f.IntervalMinutes, &f.Active, &lastChecked, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying feed %d: %w", id, err)
	}
	f.Title = title.String
	if lastChecked.Valid {
		f.LastCheckedAt = lastChecked.Time
	}
	return &f, nil
}

// ActiveFeeds returns all feeds with the active flag set, for startup
// scheduling.
func (db *DB) ActiveFeeds(ctx context.Context) ([]Feed, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, url, COALESCE(title, ''), interval_minutes, active FROM feeds WHERE active = 1`)
	if err != nil {
		return nil, fmt.Errorf("error querying active feeds: %w", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		var f Feed
		if err := rows.Scan(&f.ID, &f.URL, &f.Title, &f.IntervalMinutes, &f.Active); err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// CreateFeed inserts a feed and returns its id.
func (db *DB) CreateFeed(ctx context.Context, url, title string, intervalMinutes int) (int64, error) {
	if intervalMinutes < 1 || intervalMinutes > 1440 {
		return 0, fmt.Errorf("interval must be between 1 and 1440 minutes, got %d", intervalMinutes)
	}
	res, err := db.ExecContext(ctx,
		"INSERT INTO feeds (url, title, interval_minutes) VALUES (?, ?, ?)",
		url, title, intervalMinutes)
	if err != nil {
		return 0, fmt.Errorf("error inserting feed: %w", err)
	}
	return res.LastInsertId()
}

// SetFeedTitle refreshes the display name from a parsed document.
func (db *DB) SetFeedTitle(ctx context.Context, id int64, title string) error {
	_, err := db.ExecContext(ctx,
		"UPDATE feeds SET title = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", title, id)
	return err
}

// SetFeedActive flips the active flag. The caller is responsible for
// scheduling or unscheduling the feed accordingly.
func (db *DB) SetFeedActive(ctx context.Context, id int64, active bool) error {
	_, err := db.ExecContext(ctx,
		"UPDATE feeds SET active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", active, id)
	return err
}

// DeleteFeed removes a feed; subscriptions and ledger rows cascade.
func (db *DB) DeleteFeed(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, "DELETE FROM feeds WHERE id = ?", id)
	return err
}

// TouchFeedChecked records that a check cycle ran for the feed, successful or
// not.
func (db *DB) TouchFeedChecked(ctx context.Context, id int64, at time.Time) error {
	_, err := db.ExecContext(ctx,
		"UPDATE feeds SET last_checked_at = ? WHERE id = ?", at.UTC(), id)
	return err
}

// ActiveSubscriptions returns the active subscriptions of one feed.
func (db *DB) ActiveSubscriptions(ctx context.Context, feedID int64) ([]Subscription, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, feed_id, destination_id, COALESCE(label, ''), active,
                COALESCE(topic_name, ''), COALESCE(topic_name_key, ''), COALESCE(topic_thread_id, 0)
         FROM subscriptions WHERE feed_id = ? AND active = 1 ORDER BY id`, feedID)
	if err != nil {
		return nil, fmt.Errorf("error querying subscriptions for feed %d: %w", feedID, err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.ID, &s.FeedID, &s.DestinationID, &s.Label, &s.Active,
			&s.TopicName, &s.TopicNameKey, &s.TopicThreadID); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// CreateSubscription links a feed to a destination.
func (db *DB) CreateSubscription(ctx context.Context, feedID, destinationID int64, label string) (int64, error) {
	res, err := db.ExecContext(ctx,
		"INSERT INTO subscriptions (feed_id, destination_id, label) VALUES (?, ?, ?)",
		feedID, destinationID, label)
	if err != nil {
		return 0, fmt.Errorf("error inserting subscription: %w", err)
	}
	return res.LastInsertId()
}

// IsDelivered reports whether the ledger already holds (feedID, articleID).
func (db *DB) IsDelivered(ctx context.Context, feedID int64, articleID string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM delivered_items WHERE feed_id = ? AND article_id = ?",
		feedID, articleID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("error querying ledger: %w", err)
	}
	return n > 0, nil
}

// RecordDelivered commits one ledger row. Returns ErrAlreadyDelivered when the
// uniqueness constraint fires; the row is never updated afterwards.
func (db *DB) RecordDelivered(ctx context.Context, feedID int64, articleID, title string, destinationID int64) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO delivered_items (feed_id, article_id, title, destination_id) VALUES (?, ?, ?, ?)`,
		feedID, articleID, title, destinationID)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return ErrAlreadyDelivered
		}
		return fmt.Errorf("error recording delivery: %w", err)
	}
	return nil
}

// ClearDelivered wipes the ledger for one feed. Only the explicit force-push
// operation calls this; the next check re-delivers everything in the feed.
func (db *DB) ClearDelivered(ctx context.Context, feedID int64) (int64, error) {
	res, err := db.ExecContext(ctx,
		"DELETE FROM delivered_items WHERE feed_id = ?", feedID)
	if err != nil {
		return 0, fmt.Errorf("error clearing ledger for feed %d: %w", feedID, err)
	}
	return res.RowsAffected()
}

// DeliveredCount returns the ledger size for one feed.
func (db *DB) DeliveredCount(ctx context.Context, feedID int64) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM delivered_items WHERE feed_id = ?", feedID).Scan(&n)
	return n, err
}

// ThreadForTopicKey finds a thread already assigned to any subscription
// sharing (destinationID, key), enabling topic reuse across feeds whose names
// normalize identically.
func (db *DB) ThreadForTopicKey(ctx context.Context, destinationID int64, key string) (int64, bool, error) {
	var threadID int64
	err := db.QueryRowContext(ctx,
		`SELECT topic_thread_id FROM subscriptions
         WHERE destination_id = ? AND topic_name_key = ? AND topic_thread_id IS NOT NULL AND topic_thread_id != 0
         LIMIT 1`, destinationID, key).Scan(&threadID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("error querying topic thread: %w", err)
	}
	return threadID, true, nil
}

// SetSubscriptionTopic records the resolved topic routing state on one
// subscription.
func (db *DB) SetSubscriptionTopic(ctx context.Context, subID int64, name, key string, threadID int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE subscriptions SET topic_name = ?, topic_name_key = ?, topic_thread_id = ?, updated_at = CURRENT_TIMESTAMP
         WHERE id = ?`, name, key, threadID, subID)
	return err
}

// AssignThreadForTopicKey propagates a created thread to every subscription
// sharing (destinationID, key).
func (db *DB) AssignThreadForTopicKey(ctx context.Context, destinationID int64, key string, threadID int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE subscriptions SET topic_thread_id = ?, updated_at = CURRENT_TIMESTAMP
         WHERE destination_id = ? AND topic_name_key = ?`, threadID, destinationID, key)
	return err
}

// ClearThreadForTopicKey unsets the thread for every subscription sharing
// (destinationID, key), ahead of a forced recreation.
func (db *DB) ClearThreadForTopicKey(ctx context.Context, destinationID int64, key string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE subscriptions SET topic_thread_id = NULL, updated_at = CURRENT_TIMESTAMP
         WHERE destination_id = ? AND topic_name_key = ?`, destinationID, key)
	return err
}
