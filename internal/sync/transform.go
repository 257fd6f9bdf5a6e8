package sync

import (
	"encoding/json"
	"time"
	"unicode"

	"github.com/jake-wickstrom/tabletop-tracker/internal/schema"
)

const maxIDLength = 128

// isValidID reports whether id is usable as a record identifier.
func isValidID(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// Sanitize whitelists a raw record against the table's declared columns and
// normalizes its timestamps to the wire format. Unknown tables yield nil.
//
// created_at and updated_at default to serverNow when missing or malformed.
// deleted_at is only emitted for soft-delete tables, and only when valid.
// Other columns are kept when their value matches the declared type.
func Sanitize(table string, raw map[string]any, serverNow time.Time) Row {
	tbl, ok := schema.Lookup(table)
	if !ok {
		return nil
	}
	now := schema.FormatWireTime(serverNow)

	out := make(Row, len(tbl.Columns)+1)
	if id, ok := raw[schema.ColID]; ok {
		out[schema.ColID] = id
	}

	for _, col := range tbl.Columns {
		v, present := raw[col.Name]
		switch col.Name {
		case schema.ColCreatedAt, schema.ColUpdatedAt:
			if ts, ok := schema.WireTimestamp(v); ok {
				out[col.Name] = ts
			} else {
				out[col.Name] = now
			}
			continue
		case schema.ColDeletedAt:
			if ts, ok := schema.WireTimestamp(v); ok {
				out[col.Name] = ts
			}
			continue
		}
		if !present {
			continue
		}
		if cv, ok := coerce(col.Type, v); ok {
			out[col.Name] = cv
		}
	}
	return out
}

// coerce returns v if it matches the column type. JSON null is accepted for
// every type.
func coerce(t schema.ColumnType, v any) (any, bool) {
	if v == nil {
		return nil, true
	}
	switch t {
	case schema.TypeString:
		s, ok := v.(string)
		return s, ok
	case schema.TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, true
		case int64:
			// SQLite stores booleans as integers
			return b != 0, true
		}
		return nil, false
	case schema.TypeNumber:
		switch n := v.(type) {
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, true
			}
			return nil, false
		case float64, int64, int:
			return n, true
		}
		return nil, false
	case schema.TypeTimestamp:
		return schema.WireTimestamp(v)
	}
	return nil, false
}
