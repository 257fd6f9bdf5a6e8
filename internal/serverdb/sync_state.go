package serverdb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SyncState summarizes a user's sync activity.
type SyncState struct {
	UserID         string
	LastPullCursor *int64
	LastPullAt     *time.Time
	LastPushAt     *time.Time
	PushCount      int64
	ConflictCount  int64
}

// RecordPull stores the cursor handed out by the latest completed pull.
func (db *ServerDB) RecordPull(userID string, cursor int64) error {
	now := time.Now().UTC()
	_, err := db.conn.Exec(`
		INSERT INTO sync_state (user_id, last_pull_cursor, last_pull_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id)
		DO UPDATE SET last_pull_cursor = excluded.last_pull_cursor, last_pull_at = excluded.last_pull_at
	`, userID, cursor, now)
	if err != nil {
		return fmt.Errorf("record pull: %w", err)
	}
	return nil
}

// RecordPush counts an accepted push and the conflicts it reported.
func (db *ServerDB) RecordPush(userID string, conflicts int) error {
	now := time.Now().UTC()
	_, err := db.conn.Exec(`
		INSERT INTO sync_state (user_id, last_push_at, push_count, conflict_count)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(user_id)
		DO UPDATE SET last_push_at = excluded.last_push_at,
		              push_count = push_count + 1,
		              conflict_count = conflict_count + excluded.conflict_count
	`, userID, now, conflicts)
	if err != nil {
		return fmt.Errorf("record push: %w", err)
	}
	return nil
}

// GetSyncState returns the user's sync activity, or nil if they never synced.
func (db *ServerDB) GetSyncState(userID string) (*SyncState, error) {
	s := &SyncState{}
	err := db.conn.QueryRow(
		`SELECT user_id, last_pull_cursor, last_pull_at, last_push_at, push_count, conflict_count FROM sync_state WHERE user_id = ?`,
		userID,
	).Scan(&s.UserID, &s.LastPullCursor, &s.LastPullAt, &s.LastPushAt, &s.PushCount, &s.ConflictCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}
	return s, nil
}
