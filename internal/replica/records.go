package replica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jake-wickstrom/tabletop-tracker/internal/schema"
	tdsync "github.com/jake-wickstrom/tabletop-tracker/internal/sync"
)

// Record is a local row in wire form plus its sync status.
type Record struct {
	Table   string
	Row     tdsync.Row
	Status  string
	Changed []string
}

// ID returns the record id.
func (rec Record) ID() string {
	id, _ := rec.Row[schema.ColID].(string)
	return id
}

// Create inserts a locally-owned record with a fresh UUID. fields may only
// name declared data columns; timestamps are stamped from the local clock.
func (r *Replica) Create(ctx context.Context, table string, fields map[string]any) (Record, error) {
	tbl, err := lookupTable(table)
	if err != nil {
		return Record{}, err
	}
	now := r.now().UTC()
	row, err := validateFields(tbl, fields, now)
	if err != nil {
		return Record{}, err
	}
	id := uuid.NewString()
	row[schema.ColID] = id
	row[schema.ColCreatedAt] = schema.FormatWireTime(now)
	row[schema.ColUpdatedAt] = schema.FormatWireTime(now)

	err = r.withTx(ctx, func(tx *sql.Tx) error {
		return writeRow(ctx, tx, tbl, row, StatusCreated, changedColumns(fields))
	})
	if err != nil {
		return Record{}, fmt.Errorf("create %s: %w", table, err)
	}
	return r.Get(ctx, table, id)
}

// Update modifies fields of an existing record and marks it for push.
func (r *Replica) Update(ctx context.Context, table, id string, fields map[string]any) (Record, error) {
	tbl, err := lookupTable(table)
	if err != nil {
		return Record{}, err
	}
	if len(fields) == 0 {
		return Record{}, ErrNoFields
	}
	now := r.now().UTC()
	row, err := validateFields(tbl, fields, now)
	if err != nil {
		return Record{}, err
	}

	err = r.withTx(ctx, func(tx *sql.Tx) error {
		status, changed, err := rowStatus(ctx, tx, tbl, id)
		if err != nil {
			return err
		}
		if status != StatusCreated {
			status = StatusUpdated
		}
		changed = mergeChanged(changed, changedColumns(fields))

		var sets []string
		var args []any
		for _, name := range tbl.ColumnNames() {
			v, ok := row[name]
			if !ok || name == schema.ColID {
				continue
			}
			sets = append(sets, name+" = ?")
			args = append(args, tbl.StorageValue(name, v))
		}
		sets = append(sets, schema.ColUpdatedAt+" = ?", colStatus+" = ?", colChanged+" = ?")
		args = append(args, now.UnixMilli(), status, strings.Join(changed, ","), id)

		q := fmt.Sprintf(`UPDATE %s SET %s WHERE id = ?`, tbl.Name, strings.Join(sets, ", "))
		_, err = tx.ExecContext(ctx, q, args...)
		return err
	})
	if err != nil {
		return Record{}, fmt.Errorf("update %s %s: %w", table, id, err)
	}
	return r.Get(ctx, table, id)
}

// Delete removes a record locally. Records never pushed are dropped outright;
// others become local tombstones until the deletion is pushed.
func (r *Replica) Delete(ctx context.Context, table, id string) error {
	tbl, err := lookupTable(table)
	if err != nil {
		return err
	}
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		status, _, err := rowStatus(ctx, tx, tbl, id)
		if err != nil {
			return err
		}
		if status == StatusCreated {
			_, err = tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, tbl.Name), id)
			return err
		}
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET %s = ?, %s = '' WHERE id = ?`, tbl.Name, colStatus, colChanged),
			StatusDeleted, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	return nil
}

// Get returns a live (not locally deleted) record.
func (r *Replica) Get(ctx context.Context, table, id string) (Record, error) {
	tbl, err := lookupTable(table)
	if err != nil {
		return Record{}, err
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ? AND %s != ?`, selectColumns(tbl), tbl.Name, colStatus)
	recs, err := r.queryRecords(ctx, tbl, q, id, StatusDeleted)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, fmt.Errorf("%w: %s %s", ErrNotFound, table, id)
	}
	return recs[0], nil
}

// List returns every live record in the table, oldest first.
func (r *Replica) List(ctx context.Context, table string) ([]Record, error) {
	tbl, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s != ? ORDER BY created_at, id`, selectColumns(tbl), tbl.Name, colStatus)
	return r.queryRecords(ctx, tbl, q, StatusDeleted)
}

func (r *Replica) queryRecords(ctx context.Context, tbl *schema.Table, q string, args ...any) ([]Record, error) {
	rows, err := r.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", tbl.Name, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		row, status, changed, err := scanRow(rows, tbl)
		if err != nil {
			return nil, err
		}
		out = append(out, Record{Table: tbl.Name, Row: wireRow(tbl, row), Status: status, Changed: changed})
	}
	return out, rows.Err()
}

// validateFields sanitizes caller-supplied fields and rejects anything the
// table does not declare or whose value has the wrong type.
func validateFields(tbl *schema.Table, fields map[string]any, now time.Time) (tdsync.Row, error) {
	for name := range fields {
		col, ok := tbl.Column(name)
		if !ok || col.Type == schema.TypeTimestamp {
			return nil, fmt.Errorf("%w: %s has no writable column %q", ErrInvalidField, tbl.Name, name)
		}
	}
	clean := tdsync.Sanitize(tbl.Name, fields, now)
	for name := range fields {
		if _, ok := clean[name]; !ok {
			col, _ := tbl.Column(name)
			return nil, fmt.Errorf("%w: %s.%s must be a %s", ErrInvalidField, tbl.Name, name, col.Type)
		}
	}
	row := make(tdsync.Row, len(fields)+3)
	for name := range fields {
		row[name] = clean[name]
	}
	return row, nil
}

func rowStatus(ctx context.Context, tx *sql.Tx, tbl *schema.Table, id string) (string, []string, error) {
	var status, changed string
	q := fmt.Sprintf(`SELECT %s, %s FROM %s WHERE id = ?`, colStatus, colChanged, tbl.Name)
	err := tx.QueryRowContext(ctx, q, id).Scan(&status, &changed)
	if errors.Is(err, sql.ErrNoRows) || status == StatusDeleted {
		return "", nil, fmt.Errorf("%w: %s %s", ErrNotFound, tbl.Name, id)
	}
	if err != nil {
		return "", nil, err
	}
	return status, splitChanged(changed), nil
}

// writeRow inserts or replaces a row with the given sync status.
func writeRow(ctx context.Context, tx *sql.Tx, tbl *schema.Table, row tdsync.Row, status, changed string) error {
	var cols, placeholders, sets []string
	var args []any
	for _, name := range tbl.ColumnNames() {
		v, ok := row[name]
		if !ok {
			continue
		}
		cols = append(cols, name)
		placeholders = append(placeholders, "?")
		args = append(args, tbl.StorageValue(name, v))
		if name != schema.ColID {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", name, name))
		}
	}
	cols = append(cols, colStatus, colChanged)
	placeholders = append(placeholders, "?", "?")
	sets = append(sets, colStatus+" = excluded."+colStatus, colChanged+" = excluded."+colChanged)
	args = append(args, status, changed)

	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s`,
		tbl.Name, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(sets, ", "))
	_, err := tx.ExecContext(ctx, q, args...)
	return err
}

func selectColumns(tbl *schema.Table) string {
	return strings.Join(append(tbl.ColumnNames(), colStatus, colChanged), ", ")
}

// scanRow reads one row selected with selectColumns. Timestamps stay in
// epoch milliseconds.
func scanRow(rows *sql.Rows, tbl *schema.Table) (tdsync.Row, string, []string, error) {
	names := tbl.ColumnNames()
	vals := make([]any, len(names))
	ptrs := make([]any, len(names)+2)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	var status, changed string
	ptrs[len(names)] = &status
	ptrs[len(names)+1] = &changed
	if err := rows.Scan(ptrs...); err != nil {
		return nil, "", nil, fmt.Errorf("scan %s: %w", tbl.Name, err)
	}

	row := make(tdsync.Row, len(names))
	for i, name := range names {
		v := tbl.ScanValue(name, vals[i])
		if v == nil && name == schema.ColDeletedAt {
			continue
		}
		row[name] = v
	}
	return row, status, splitChanged(changed), nil
}

// wireRow converts stored epoch milliseconds into wire timestamps.
func wireRow(tbl *schema.Table, row tdsync.Row) tdsync.Row {
	out := make(tdsync.Row, len(row))
	for name, v := range row {
		if col, ok := tbl.Column(name); ok && col.Type == schema.TypeTimestamp {
			if ts, ok := schema.WireTimestamp(v); ok {
				v = ts
			}
		}
		out[name] = v
	}
	return out
}

func changedColumns(fields map[string]any) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func splitChanged(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func mergeChanged(existing []string, added string) []string {
	out := slices.Clone(existing)
	for _, name := range splitChanged(added) {
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
