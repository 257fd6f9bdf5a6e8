package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jake-wickstrom/tabletop-tracker/internal/schema"
)

// DefaultPageSize bounds each change group in a single pull page.
const DefaultPageSize = 500

// deleteChunk caps the number of ids bound into one soft-delete statement.
const deleteChunk = 500

// Server-owned watermark columns (epoch ms). Pull windows and keysets run on
// these; the client's created_at/updated_at are data, and updated_at is the
// last-writer-wins clock.
const (
	colServerCreatedAt = "server_created_at"
	colServerUpdatedAt = "server_updated_at"
)

var watermarkColumns = []string{
	colServerCreatedAt + " INTEGER NOT NULL DEFAULT 0",
	colServerUpdatedAt + " INTEGER NOT NULL DEFAULT 0",
}

// sync_clock holds the highest pull timestamp served from the dataset, so
// that writes are always stamped after it.
const clockSchema = `CREATE TABLE IF NOT EXISTS sync_clock (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    served_at INTEGER NOT NULL
)`

// InitServerTables creates the syncable tables, their watermark indexes and
// the dataset clock if they don't exist. Datasets created before the
// watermark columns existed are upgraded in place.
func InitServerTables(db *sql.DB) error {
	for _, tbl := range schema.Tables() {
		if _, err := db.Exec(tbl.CreateTableSQL(watermarkColumns...)); err != nil {
			return fmt.Errorf("create table %s: %w", tbl.Name, err)
		}
		if err := addWatermarks(db, tbl); err != nil {
			return err
		}
		for _, col := range []string{colServerCreatedAt, colServerUpdatedAt} {
			stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s, id)", tbl.Name, col, tbl.Name, col)
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("create index on %s: %w", tbl.Name, err)
			}
		}
	}
	if _, err := db.Exec(clockSchema); err != nil {
		return fmt.Errorf("create sync_clock: %w", err)
	}
	return nil
}

// addWatermarks adds missing watermark columns and seeds them from the
// stored timestamps.
func addWatermarks(db *sql.DB, tbl *schema.Table) error {
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, tbl.Name)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", tbl.Name, err)
	}
	have := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("inspect %s: %w", tbl.Name, err)
		}
		have[name] = true
	}
	rows.Close()
	if have[colServerCreatedAt] && have[colServerUpdatedAt] {
		return nil
	}

	for i, col := range []string{colServerCreatedAt, colServerUpdatedAt} {
		if have[col] {
			continue
		}
		if _, err := db.Exec(`ALTER TABLE ` + tbl.Name + ` ADD COLUMN ` + watermarkColumns[i]); err != nil {
			return fmt.Errorf("add %s.%s: %w", tbl.Name, col, err)
		}
	}
	updated := "updated_at"
	if tbl.SoftDelete() {
		updated = "MAX(updated_at, COALESCE(deleted_at, 0))"
	}
	q := fmt.Sprintf(`UPDATE %s SET %s = created_at, %s = %s`, tbl.Name, colServerCreatedAt, colServerUpdatedAt, updated)
	if _, err := db.Exec(q); err != nil {
		return fmt.Errorf("seed %s watermarks: %w", tbl.Name, err)
	}
	slog.Info("sync: added watermark columns", "table", tbl.Name)
	return nil
}

func servedAt(ctx context.Context, tx *sql.Tx) (int64, error) {
	var at int64
	err := tx.QueryRowContext(ctx, `SELECT served_at FROM sync_clock WHERE id = 1`).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return at, err
}

// pullStamp returns the timestamp a pull started at now serves and records
// it. It never goes below an earlier pull's timestamp.
func pullStamp(ctx context.Context, tx *sql.Tx, now time.Time) (int64, error) {
	served, err := servedAt(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("read sync clock: %w", err)
	}
	ms := max(now.UnixMilli(), served)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sync_clock (id, served_at) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET served_at = excluded.served_at`,
		ms); err != nil {
		return 0, fmt.Errorf("advance sync clock: %w", err)
	}
	return ms, nil
}

// writeStamp returns the watermark for writes made at now: strictly after
// every pull timestamp already served, so no cursor handed out can pass it.
func writeStamp(ctx context.Context, tx *sql.Tx, now time.Time) (time.Time, error) {
	served, err := servedAt(ctx, tx)
	if err != nil {
		return time.Time{}, fmt.Errorf("read sync clock: %w", err)
	}
	return time.UnixMilli(max(now.UnixMilli(), served+1)).UTC(), nil
}

// QueryChanges reads every row the server received, changed or tombstoned
// after cursor (epoch ms). Each group is bounded by limit; when page is
// non-nil only the groups it lists are read, resuming after their keyset.
// A first page records its timestamp in the dataset clock; NextPage carries
// it through to the final page.
func QueryChanges(ctx context.Context, tx *sql.Tx, cursor int64, page *PageToken, limit int, serverNow time.Time) (PullResult, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	result := PullResult{Raw: make(map[string]RawTableRows)}
	if page != nil {
		result.Timestamp = page.Timestamp
	} else {
		ts, err := pullStamp(ctx, tx, serverNow)
		if err != nil {
			return result, err
		}
		result.Timestamp = ts
	}
	next := &PageToken{Cursor: cursor, Timestamp: result.Timestamp}

	for _, tbl := range schema.Tables() {
		var raw RawTableRows
		groups := []string{GroupCreated, GroupUpdated}
		if tbl.SoftDelete() {
			groups = append(groups, GroupDeleted)
		}

		for _, group := range groups {
			after, resume := page.lookup(tbl.Name, group)
			if page != nil && !resume {
				continue
			}
			var afterPtr *Keyset
			if resume {
				afterPtr = &after
			}

			switch group {
			case GroupDeleted:
				ids, last, more, err := queryDeleted(ctx, tx, tbl, cursor, afterPtr, limit)
				if err != nil {
					return result, err
				}
				raw.Deleted = ids
				if more {
					next.set(tbl.Name, group, last)
				}
			default:
				rows, last, more, err := queryRows(ctx, tx, tbl, group, cursor, afterPtr, limit)
				if err != nil {
					return result, err
				}
				if group == GroupCreated {
					raw.Created = rows
				} else {
					raw.Updated = rows
				}
				if more {
					next.set(tbl.Name, group, last)
				}
			}
		}
		result.Raw[tbl.Name] = raw
	}

	if len(next.After) > 0 {
		result.HasMore = true
		result.NextPage = next
	}
	return result, nil
}

func queryRows(ctx context.Context, tx *sql.Tx, tbl *schema.Table, group string, cursor int64, after *Keyset, limit int) ([]Row, Keyset, bool, error) {
	cols := tbl.ColumnNames()
	mark := colServerCreatedAt
	var where []string
	var args []any

	if group == GroupCreated {
		where = append(where, colServerCreatedAt+" > ?")
		args = append(args, cursor)
	} else {
		mark = colServerUpdatedAt
		where = append(where, colServerUpdatedAt+" > ?", colServerCreatedAt+" <= ?")
		args = append(args, cursor, cursor)
	}
	if tbl.SoftDelete() {
		where = append(where, "deleted_at IS NULL")
	}
	if after != nil {
		where = append(where, fmt.Sprintf("(%s > ? OR (%s = ? AND id > ?))", mark, mark))
		args = append(args, after.At, after.At, after.ID)
	}
	args = append(args, limit+1)

	q := fmt.Sprintf(`SELECT %s, %s FROM %s WHERE %s ORDER BY %s ASC, id ASC LIMIT ?`,
		strings.Join(cols, ", "), mark, tbl.Name, strings.Join(where, " AND "), mark)

	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, Keyset{}, false, fmt.Errorf("query %s %s: %w", tbl.Name, group, err)
	}
	defer rows.Close()

	out := make([]Row, 0)
	var last Keyset
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols)+1)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		var at int64
		ptrs[len(cols)] = &at
		if err := rows.Scan(ptrs...); err != nil {
			return nil, Keyset{}, false, fmt.Errorf("scan %s: %w", tbl.Name, err)
		}
		if len(out) == limit {
			return out, last, true, rows.Err()
		}
		row := rowFromStorage(tbl, cols, vals)
		out = append(out, row)
		id, _ := row[schema.ColID].(string)
		last = Keyset{At: at, ID: id}
	}
	if err := rows.Err(); err != nil {
		return nil, Keyset{}, false, fmt.Errorf("rows iteration: %w", err)
	}
	return out, Keyset{}, false, nil
}

func queryDeleted(ctx context.Context, tx *sql.Tx, tbl *schema.Table, cursor int64, after *Keyset, limit int) ([]string, Keyset, bool, error) {
	q := `SELECT id, ` + colServerUpdatedAt + ` FROM ` + tbl.Name + ` WHERE deleted_at IS NOT NULL AND ` + colServerUpdatedAt + ` > ?`
	args := []any{cursor}
	if after != nil {
		q += fmt.Sprintf(` AND (%s > ? OR (%s = ? AND id > ?))`, colServerUpdatedAt, colServerUpdatedAt)
		args = append(args, after.At, after.At, after.ID)
	}
	q += ` ORDER BY ` + colServerUpdatedAt + ` ASC, id ASC LIMIT ?`
	args = append(args, limit+1)

	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, Keyset{}, false, fmt.Errorf("query %s deleted: %w", tbl.Name, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	var last Keyset
	for rows.Next() {
		var id string
		var at int64
		if err := rows.Scan(&id, &at); err != nil {
			return nil, Keyset{}, false, fmt.Errorf("scan %s tombstone: %w", tbl.Name, err)
		}
		if len(ids) < limit {
			ids = append(ids, id)
			last = Keyset{At: at, ID: id}
		} else {
			return ids, last, true, rows.Err()
		}
	}
	return ids, Keyset{}, false, rows.Err()
}

// rowFromStorage maps scanned SQLite values back onto column types.
func rowFromStorage(tbl *schema.Table, cols []string, vals []any) Row {
	row := make(Row, len(cols))
	for i, name := range cols {
		v := tbl.ScanValue(name, vals[i])
		if v == nil && name == schema.ColDeletedAt {
			continue
		}
		row[name] = v
	}
	return row
}

// orderedColumns returns the row's columns in declaration order.
func orderedColumns(tbl *schema.Table, row Row) []string {
	var cols []string
	for _, name := range tbl.ColumnNames() {
		if _, ok := row[name]; ok {
			cols = append(cols, name)
		}
	}
	return cols
}

// upsertRow inserts or replaces row. A new row gets both watermarks set to
// stamp; a replaced row keeps its receipt time and moves server_updated_at.
func upsertRow(ctx context.Context, tx *sql.Tx, tbl *schema.Table, row Row, stamp time.Time) error {
	cols := orderedColumns(tbl, row)
	placeholders := make([]string, 0, len(cols)+2)
	args := make([]any, 0, len(cols)+2)
	var sets []string
	for _, c := range cols {
		placeholders = append(placeholders, "?")
		args = append(args, tbl.StorageValue(c, row[c]))
		if c != schema.ColID {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	cols = append(cols, colServerCreatedAt, colServerUpdatedAt)
	placeholders = append(placeholders, "?", "?")
	args = append(args, stamp.UnixMilli(), stamp.UnixMilli())
	sets = append(sets, fmt.Sprintf("%s = excluded.%s", colServerUpdatedAt, colServerUpdatedAt))

	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s`,
		tbl.Name, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(sets, ", "))
	_, err := tx.ExecContext(ctx, q, args...)
	return err
}

// updateIfOlder applies row only when the stored updated_at is strictly
// older than clientUpdated. It returns the number of rows changed.
func updateIfOlder(ctx context.Context, tx *sql.Tx, tbl *schema.Table, id string, row Row, clientUpdated, stamp time.Time) (int64, error) {
	var sets []string
	var args []any
	for _, c := range orderedColumns(tbl, row) {
		if c == schema.ColID {
			continue
		}
		sets = append(sets, c+" = ?")
		args = append(args, tbl.StorageValue(c, row[c]))
	}
	sets = append(sets, colServerUpdatedAt+" = ?")
	args = append(args, stamp.UnixMilli())
	args = append(args, id, clientUpdated.UnixMilli())
	q := fmt.Sprintf(`UPDATE %s SET %s WHERE id = ? AND updated_at < ?`, tbl.Name, strings.Join(sets, ", "))
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ApplyPush writes a decomposed push inside tx: upserts, then
// last-writer-wins updates, then soft deletes. Every write is stamped with
// the dataset's write watermark, which is also the tombstone time. Lost
// updates are returned as conflicts. Storage failures abort with a
// *PushError.
func ApplyPush(ctx context.Context, tx *sql.Tx, ops PushOps, serverNow time.Time) (Conflicts, error) {
	conflicts := make(Conflicts)
	stamp, err := writeStamp(ctx, tx, serverNow)
	if err != nil {
		return nil, &PushError{Kind: KindReadFailed, Table: "sync_clock", Err: err}
	}

	for _, tbl := range schema.Tables() {
		rows := ops.Upserts[tbl.Name]
		for _, row := range rows {
			if err := upsertRow(ctx, tx, tbl, row, stamp); err != nil {
				return nil, &PushError{Kind: KindUpsertFailed, Table: tbl.Name, Err: err}
			}
		}
		if len(rows) > 0 {
			slog.Debug("rows upserted", "table", tbl.Name, "count", len(rows))
		}
	}

	for _, tbl := range schema.Tables() {
		for _, u := range ops.Updates[tbl.Name] {
			n, err := updateIfOlder(ctx, tx, tbl, u.ID, u.Row, u.ClientUpdatedAt, stamp)
			if err != nil {
				return nil, &PushError{Kind: KindUpdateFailed, Table: tbl.Name, Err: err}
			}
			if n > 0 {
				continue
			}

			var serverUpdated int64
			err = tx.QueryRowContext(ctx, `SELECT updated_at FROM `+tbl.Name+` WHERE id = ?`, u.ID).Scan(&serverUpdated)
			if errors.Is(err, sql.ErrNoRows) {
				// never reached the server, or removed outside the protocol
				if err := upsertRow(ctx, tx, tbl, u.Row, stamp); err != nil {
					return nil, &PushError{Kind: KindCreateMissingFailed, Table: tbl.Name, Err: err}
				}
				slog.Debug("update created missing row", "table", tbl.Name, "id", u.ID)
				continue
			}
			if err != nil {
				return nil, &PushError{Kind: KindReadFailed, Table: tbl.Name, Err: err}
			}
			slog.Debug("update lost to newer server row", "table", tbl.Name, "id", u.ID,
				"server_updated_at", serverUpdated, "client_updated_at", u.ClientUpdatedAt.UnixMilli())
			conflicts.Add(tbl.Name, u.ID)
		}
	}

	for _, tbl := range schema.Tables() {
		ids := ops.Deletes[tbl.Name]
		if len(ids) == 0 {
			continue
		}
		if !tbl.SoftDelete() {
			slog.Debug("ignoring deletes for table without tombstones", "table", tbl.Name, "count", len(ids))
			continue
		}
		if err := softDelete(ctx, tx, tbl, ids, stamp); err != nil {
			return nil, &PushError{Kind: KindDeleteFailed, Table: tbl.Name, Err: err}
		}
	}

	return conflicts, nil
}

// softDelete stamps the tombstone on rows that don't carry one yet.
func softDelete(ctx context.Context, tx *sql.Tx, tbl *schema.Table, ids []string, stamp time.Time) error {
	for start := 0; start < len(ids); start += deleteChunk {
		end := min(start+deleteChunk, len(ids))
		chunk := ids[start:end]
		args := make([]any, 0, len(chunk)+2)
		args = append(args, stamp.UnixMilli(), stamp.UnixMilli())
		for _, id := range chunk {
			args = append(args, id)
		}
		q := fmt.Sprintf(`UPDATE %s SET deleted_at = ?, %s = ? WHERE deleted_at IS NULL AND id IN (%s)`,
			tbl.Name, colServerUpdatedAt, strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ","))
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	return nil
}
