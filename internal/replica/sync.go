package replica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jake-wickstrom/tabletop-tracker/internal/schema"
	tdsync "github.com/jake-wickstrom/tabletop-tracker/internal/sync"
)

// ApplyStats summarizes one ApplyChanges call.
type ApplyStats struct {
	Applied int
	Skipped int
	Deleted int
}

// ApplyChanges writes a pulled change set in one transaction. Created and
// updated rows replace synced local rows; rows with unpushed local changes
// are left alone so the push can arbitrate them. Deleted ids are removed
// physically. Applying the same change set twice yields the same state.
func (r *Replica) ApplyChanges(ctx context.Context, cs tdsync.ChangeSet) (ApplyStats, error) {
	var stats ApplyStats
	now := r.now().UTC()
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		stats = ApplyStats{}
		for _, tbl := range schema.Tables() {
			tc, ok := cs[tbl.Name]
			if !ok {
				continue
			}
			rows := append(append([]tdsync.Row{}, tc.Created...), tc.Updated...)
			for _, raw := range rows {
				row := tdsync.Sanitize(tbl.Name, raw, now)
				id, ok := row.ID()
				if !ok {
					continue
				}
				pending, err := hasPendingChanges(ctx, tx, tbl, id)
				if err != nil {
					return err
				}
				if pending {
					stats.Skipped++
					continue
				}
				delete(row, schema.ColDeletedAt)
				if err := writeRow(ctx, tx, tbl, row, StatusSynced, ""); err != nil {
					return fmt.Errorf("apply %s %s: %w", tbl.Name, id, err)
				}
				stats.Applied++
			}
			for _, id := range tc.Deleted {
				res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, tbl.Name), id)
				if err != nil {
					return fmt.Errorf("apply delete %s %s: %w", tbl.Name, id, err)
				}
				if n, _ := res.RowsAffected(); n > 0 {
					stats.Deleted++
				}
			}
		}
		return nil
	})
	if err != nil {
		return ApplyStats{}, err
	}
	slog.Debug("replica: applied changes", "applied", stats.Applied, "skipped", stats.Skipped, "deleted", stats.Deleted)
	return stats, nil
}

func hasPendingChanges(ctx context.Context, tx *sql.Tx, tbl *schema.Table, id string) (bool, error) {
	var status string
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, colStatus, tbl.Name), id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read status %s %s: %w", tbl.Name, id, err)
	}
	return status != StatusSynced, nil
}

// PendingChanges collects every unpushed local change. Timestamps are sent as
// epoch milliseconds. Every table is present with non-nil slices.
func (r *Replica) PendingChanges(ctx context.Context) (tdsync.ChangeSet, error) {
	cs := make(tdsync.ChangeSet)
	for _, tbl := range schema.Tables() {
		tc := tdsync.TableChanges{Created: []tdsync.Row{}, Updated: []tdsync.Row{}, Deleted: []string{}}

		q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s != ? ORDER BY updated_at, id`, selectColumns(tbl), tbl.Name, colStatus)
		rows, err := r.conn.QueryContext(ctx, q, StatusSynced)
		if err != nil {
			return nil, fmt.Errorf("query pending %s: %w", tbl.Name, err)
		}
		for rows.Next() {
			row, status, _, err := scanRow(rows, tbl)
			if err != nil {
				rows.Close()
				return nil, err
			}
			switch status {
			case StatusCreated:
				tc.Created = append(tc.Created, row)
			case StatusUpdated:
				tc.Updated = append(tc.Updated, row)
			case StatusDeleted:
				id, _ := row[schema.ColID].(string)
				tc.Deleted = append(tc.Deleted, id)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
		cs[tbl.Name] = tc
	}
	return cs, nil
}

// PendingCount returns the number of rows waiting to be pushed.
func (r *Replica) PendingCount(ctx context.Context) (int, error) {
	total := 0
	for _, tbl := range schema.Tables() {
		var n int
		q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s != ?`, tbl.Name, colStatus)
		if err := r.conn.QueryRowContext(ctx, q, StatusSynced).Scan(&n); err != nil {
			return 0, fmt.Errorf("count pending %s: %w", tbl.Name, err)
		}
		total += n
	}
	return total, nil
}

// MarkSynced settles a pushed change set. Rows edited again since the push
// was collected keep their pending status. Pushed tombstones are removed.
func (r *Replica) MarkSynced(ctx context.Context, pushed tdsync.ChangeSet) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, tbl := range schema.Tables() {
			tc, ok := pushed[tbl.Name]
			if !ok {
				continue
			}
			settle := fmt.Sprintf(`UPDATE %s SET %s = ?, %s = '' WHERE id = ? AND updated_at = ? AND %s IN (?, ?)`,
				tbl.Name, colStatus, colChanged, colStatus)
			for _, row := range append(append([]tdsync.Row{}, tc.Created...), tc.Updated...) {
				id, _ := row[schema.ColID].(string)
				updated, ok := schema.WireToEpochMs(row[schema.ColUpdatedAt])
				if id == "" || !ok {
					continue
				}
				if _, err := tx.ExecContext(ctx, settle, StatusSynced, id, updated, StatusCreated, StatusUpdated); err != nil {
					return fmt.Errorf("mark synced %s %s: %w", tbl.Name, id, err)
				}
			}
			purge := fmt.Sprintf(`DELETE FROM %s WHERE id = ? AND %s = ?`, tbl.Name, colStatus)
			for _, id := range tc.Deleted {
				if _, err := tx.ExecContext(ctx, purge, id, StatusDeleted); err != nil {
					return fmt.Errorf("purge tombstone %s %s: %w", tbl.Name, id, err)
				}
			}
		}
		return nil
	})
}

// ResolveConflicts releases rows whose update lost on the server so the next
// pull replaces them with the server's version. It returns the number of
// rows released.
func (r *Replica) ResolveConflicts(ctx context.Context, conflicts map[string][]string) (int, error) {
	released := 0
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		released = 0
		for table, ids := range conflicts {
			tbl, ok := schema.Lookup(table)
			if !ok {
				continue
			}
			q := fmt.Sprintf(`UPDATE %s SET %s = ?, %s = '' WHERE id = ? AND %s != ?`, tbl.Name, colStatus, colChanged, colStatus)
			for _, id := range ids {
				res, err := tx.ExecContext(ctx, q, StatusSynced, id, StatusSynced)
				if err != nil {
					return fmt.Errorf("release %s %s: %w", table, id, err)
				}
				n, _ := res.RowsAffected()
				released += int(n)
			}
		}
		return nil
	})
	return released, err
}

// LoadCursor returns the persisted pull cursor. ok is false before the first
// successful sync.
func (r *Replica) LoadCursor(ctx context.Context) (cursor int64, ok bool, err error) {
	var v string
	err = r.conn.QueryRowContext(ctx, `SELECT value FROM local_storage WHERE key = ?`, CursorKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load cursor: %w", err)
	}
	cursor, err = strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %q", errCursorCorrupt, v)
	}
	return cursor, true, nil
}

// SaveCursor persists cursor. The stored cursor never moves backwards.
func (r *Replica) SaveCursor(ctx context.Context, cursor int64) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO local_storage (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
			WHERE CAST(local_storage.value AS INTEGER) < CAST(excluded.value AS INTEGER)`,
			CursorKey, strconv.FormatInt(cursor, 10))
		if err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
		return nil
	})
}

// Reset discards every local row and the cursor, e.g. when switching accounts.
func (r *Replica) Reset(ctx context.Context) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, tbl := range schema.Tables() {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+tbl.Name); err != nil {
				return fmt.Errorf("reset %s: %w", tbl.Name, err)
			}
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM local_storage`)
		return err
	})
}
