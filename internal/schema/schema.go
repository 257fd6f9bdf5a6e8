// Package schema holds the canonical table catalog shared by the server
// storage engine, the row sanitizer and the local replica.
package schema

import (
	"fmt"
	"strings"
)

// ColumnType is the value type a column accepts on the wire.
type ColumnType int

const (
	TypeString ColumnType = iota
	TypeNumber
	TypeBoolean
	TypeTimestamp
)

// String returns the column type name.
func (t ColumnType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	case TypeTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Reserved column names.
const (
	ColID        = "id"
	ColCreatedAt = "created_at"
	ColUpdatedAt = "updated_at"
	ColDeletedAt = "deleted_at"
)

// Column describes a single declared column.
type Column struct {
	Name     string
	Type     ColumnType
	Optional bool
}

// Table describes one syncable table. The id column is implicit.
type Table struct {
	Name    string
	Columns []Column

	byName map[string]Column
}

// Table names.
const (
	Games          = "games"
	Players        = "players"
	GameSessions   = "game_sessions"
	SessionPlayers = "session_players"
	GameResults    = "game_results"
)

var catalog = []*Table{
	{
		Name: Games,
		Columns: []Column{
			{Name: "name", Type: TypeString},
			{Name: "description", Type: TypeString, Optional: true},
			{Name: "min_players", Type: TypeNumber},
			{Name: "max_players", Type: TypeNumber},
			{Name: "estimated_playtime_minutes", Type: TypeNumber},
			{Name: "complexity_rating", Type: TypeNumber},
			{Name: ColCreatedAt, Type: TypeTimestamp},
			{Name: ColUpdatedAt, Type: TypeTimestamp},
			{Name: ColDeletedAt, Type: TypeTimestamp, Optional: true},
		},
	},
	{
		Name: Players,
		Columns: []Column{
			{Name: "name", Type: TypeString},
			{Name: "email", Type: TypeString, Optional: true},
			{Name: ColCreatedAt, Type: TypeTimestamp},
			{Name: ColUpdatedAt, Type: TypeTimestamp},
			{Name: ColDeletedAt, Type: TypeTimestamp, Optional: true},
		},
	},
	{
		Name: GameSessions,
		Columns: []Column{
			{Name: "game_id", Type: TypeString},
			{Name: "session_date", Type: TypeString},
			{Name: "location", Type: TypeString, Optional: true},
			{Name: "notes", Type: TypeString, Optional: true},
			{Name: ColCreatedAt, Type: TypeTimestamp},
			{Name: ColUpdatedAt, Type: TypeTimestamp},
			{Name: ColDeletedAt, Type: TypeTimestamp, Optional: true},
		},
	},
	{
		// Join table; no tombstone column in this schema revision.
		Name: SessionPlayers,
		Columns: []Column{
			{Name: "session_id", Type: TypeString},
			{Name: "player_id", Type: TypeString},
			{Name: "player_order", Type: TypeNumber},
			{Name: ColCreatedAt, Type: TypeTimestamp},
			{Name: ColUpdatedAt, Type: TypeTimestamp},
		},
	},
	{
		Name: GameResults,
		Columns: []Column{
			{Name: "session_id", Type: TypeString},
			{Name: "player_id", Type: TypeString},
			{Name: "score", Type: TypeNumber},
			{Name: "position", Type: TypeNumber},
			{Name: "is_winner", Type: TypeBoolean},
			{Name: "notes", Type: TypeString, Optional: true},
			{Name: ColCreatedAt, Type: TypeTimestamp},
			{Name: ColUpdatedAt, Type: TypeTimestamp},
			{Name: ColDeletedAt, Type: TypeTimestamp, Optional: true},
		},
	},
}

var tablesByName map[string]*Table

func init() {
	tablesByName = make(map[string]*Table, len(catalog))
	for _, t := range catalog {
		t.byName = make(map[string]Column, len(t.Columns))
		for _, c := range t.Columns {
			t.byName[c.Name] = c
		}
		tablesByName[t.Name] = t
	}
}

// Tables returns all syncable tables in catalog order.
func Tables() []*Table {
	out := make([]*Table, len(catalog))
	copy(out, catalog)
	return out
}

// TableNames returns the names of all syncable tables in catalog order.
func TableNames() []string {
	names := make([]string, len(catalog))
	for i, t := range catalog {
		names[i] = t.Name
	}
	return names
}

// Lookup returns the table with the given name.
func Lookup(name string) (*Table, bool) {
	t, ok := tablesByName[name]
	return t, ok
}

// MustLookup returns the named table or panics. For use with the constants above.
func MustLookup(name string) *Table {
	t, ok := tablesByName[name]
	if !ok {
		panic(fmt.Sprintf("schema: unknown table %q", name))
	}
	return t
}

// IsValidTable reports whether name is a syncable table.
func IsValidTable(name string) bool {
	_, ok := tablesByName[name]
	return ok
}

// Column returns the declared column by name.
func (t *Table) Column(name string) (Column, bool) {
	c, ok := t.byName[name]
	return c, ok
}

// Has reports whether the table declares the column.
func (t *Table) Has(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// SoftDelete reports whether the table carries a tombstone column.
func (t *Table) SoftDelete() bool {
	return t.Has(ColDeletedAt)
}

// ColumnNames returns id followed by every declared column.
func (t *Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns)+1)
	names = append(names, ColID)
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

// DataColumns returns declared columns that are not timestamps.
func (t *Table) DataColumns() []Column {
	var out []Column
	for _, c := range t.Columns {
		if c.Type != TypeTimestamp {
			out = append(out, c)
		}
	}
	return out
}

// CreateTableSQL builds the DDL for the table. Timestamps are stored as
// epoch milliseconds. extra is appended verbatim to the column list.
func (t *Table) CreateTableSQL(extra ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n    id TEXT PRIMARY KEY", t.Name)
	for _, c := range t.Columns {
		b.WriteString(",\n    ")
		b.WriteString(c.Name)
		b.WriteByte(' ')
		b.WriteString(sqlType(c.Type))
		if c.Type == TypeTimestamp && !c.Optional {
			b.WriteString(" NOT NULL")
		}
	}
	for _, e := range extra {
		b.WriteString(",\n    ")
		b.WriteString(e)
	}
	b.WriteString("\n)")
	return b.String()
}

// StorageValue converts a wire value into its SQLite form: timestamps become
// epoch milliseconds and booleans 0 or 1.
func (t *Table) StorageValue(name string, v any) any {
	col, ok := t.byName[name]
	if !ok || v == nil {
		return v
	}
	switch col.Type {
	case TypeTimestamp:
		if ms, ok := WireToEpochMs(v); ok {
			return ms
		}
		return nil
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			if b {
				return int64(1)
			}
			return int64(0)
		}
	}
	return v
}

// ScanValue maps a scanned SQLite value back onto the column type. Timestamps
// stay as epoch milliseconds.
func (t *Table) ScanValue(name string, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if col, ok := t.byName[name]; ok && col.Type == TypeBoolean {
		if n, ok := v.(int64); ok {
			return n != 0
		}
	}
	return v
}

func sqlType(t ColumnType) string {
	switch t {
	case TypeNumber:
		return "REAL"
	case TypeBoolean:
		return "INTEGER"
	case TypeTimestamp:
		return "INTEGER"
	default:
		return "TEXT"
	}
}
