package sync

import (
	"time"

	"github.com/jake-wickstrom/tabletop-tracker/internal/schema"
)

// BuildChangeSet assembles a pull response from storage rows. Created and
// updated rows are sanitized; deleted ids pass through. Order is preserved.
func BuildChangeSet(tables map[string]RawTableRows, serverNow time.Time) ChangeSet {
	out := make(ChangeSet, len(tables))
	for table, raw := range tables {
		if !schema.IsValidTable(table) {
			continue
		}
		tc := TableChanges{
			Created: make([]Row, 0, len(raw.Created)),
			Updated: make([]Row, 0, len(raw.Updated)),
			Deleted: make([]string, 0, len(raw.Deleted)),
		}
		for _, r := range raw.Created {
			tc.Created = append(tc.Created, Sanitize(table, r, serverNow))
		}
		for _, r := range raw.Updated {
			tc.Updated = append(tc.Updated, Sanitize(table, r, serverNow))
		}
		tc.Deleted = append(tc.Deleted, raw.Deleted...)
		out[table] = tc
	}
	return out
}

// SplitPushChanges decomposes an untrusted, decoded push change set into
// upsert, update and delete batches. A slice that is not shaped as expected
// (array of objects for created/updated, array of strings for deleted) is
// treated as empty for that table. Unknown tables are ignored.
func SplitPushChanges(changes map[string]any, serverNow time.Time) PushOps {
	ops := PushOps{
		Upserts: make(map[string][]Row),
		Updates: make(map[string][]ProposedUpdate),
		Deletes: make(map[string][]string),
	}

	for _, table := range schema.TableNames() {
		obj, ok := changes[table].(map[string]any)
		if !ok {
			continue
		}

		created, _ := recordArray(obj["created"])
		updated, _ := recordArray(obj["updated"])
		deleted, _ := stringArray(obj["deleted"])

		for _, raw := range created {
			row := Sanitize(table, raw, serverNow)
			if _, ok := row.ID(); !ok {
				continue
			}
			ops.Upserts[table] = append(ops.Upserts[table], row)
		}

		for _, raw := range updated {
			row := Sanitize(table, raw, serverNow)
			id, ok := row.ID()
			if !ok {
				continue
			}
			clientUpdated := serverNow
			if ms, ok := schema.WireToEpochMs(raw[schema.ColUpdatedAt]); ok {
				clientUpdated = time.UnixMilli(ms).UTC()
			}
			ops.Updates[table] = append(ops.Updates[table], ProposedUpdate{
				ID:              id,
				Row:             row,
				ClientUpdatedAt: clientUpdated,
			})
		}

		if len(deleted) > 0 {
			ops.Deletes[table] = deleted
		}
	}
	return ops
}

func recordArray(v any) ([]map[string]any, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]map[string]any, 0, len(arr))
	for _, el := range arr {
		m, ok := el.(map[string]any)
		if !ok {
			return nil, false
		}
		out = append(out, m)
	}
	return out, true
}

func stringArray(v any) ([]string, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for _, el := range arr {
		s, ok := el.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
