package sync

import (
	"errors"
	"fmt"
	"time"
)

// Row is a single record keyed by column name.
type Row map[string]any

// ID returns the row identifier if it is a well-formed id string.
func (r Row) ID() (string, bool) {
	id, ok := r["id"].(string)
	if !ok || !isValidID(id) {
		return "", false
	}
	return id, true
}

// TableChanges is the wire change set for one table.
type TableChanges struct {
	Created []Row    `json:"created"`
	Updated []Row    `json:"updated"`
	Deleted []string `json:"deleted"`
}

// Empty reports whether the table has no changes.
func (tc TableChanges) Empty() bool {
	return len(tc.Created) == 0 && len(tc.Updated) == 0 && len(tc.Deleted) == 0
}

// ChangeSet maps table names to their changes.
type ChangeSet map[string]TableChanges

// Empty reports whether no table carries changes.
func (cs ChangeSet) Empty() bool {
	for _, tc := range cs {
		if !tc.Empty() {
			return false
		}
	}
	return true
}

// Count returns the total number of created, updated and deleted entries.
func (cs ChangeSet) Count() int {
	n := 0
	for _, tc := range cs {
		n += len(tc.Created) + len(tc.Updated) + len(tc.Deleted)
	}
	return n
}

// RawTableRows holds storage rows for one table, already partitioned by the
// pull window.
type RawTableRows struct {
	Created []Row
	Updated []Row
	Deleted []string
}

// ProposedUpdate is a client update awaiting last-writer-wins arbitration.
type ProposedUpdate struct {
	ID              string
	Row             Row
	ClientUpdatedAt time.Time
}

// PushOps is a push payload decomposed into per-table operation batches.
type PushOps struct {
	Upserts map[string][]Row
	Updates map[string][]ProposedUpdate
	Deletes map[string][]string
}

// Conflicts maps a table to the ids whose update lost to newer server state.
type Conflicts map[string][]string

// Add records a conflict.
func (c Conflicts) Add(table, id string) {
	c[table] = append(c[table], id)
}

// Len returns the number of conflicting ids across all tables.
func (c Conflicts) Len() int {
	n := 0
	for _, ids := range c {
		n += len(ids)
	}
	return n
}

// Push failure kinds. Each aborts the request.
const (
	KindUpsertFailed        = "upsert_failed"
	KindUpdateFailed        = "update_failed"
	KindReadFailed          = "read_failed"
	KindCreateMissingFailed = "create_missing_failed"
	KindDeleteFailed        = "delete_failed"
)

// PushError is a storage failure during a push phase.
type PushError struct {
	Kind  string
	Table string
	Err   error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Table, e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }

// AsPushError extracts a *PushError from err.
func AsPushError(err error) (*PushError, bool) {
	var pe *PushError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// PullResult is one page of server changes. Timestamp is the cursor the
// client adopts once every page is consumed.
type PullResult struct {
	Raw       map[string]RawTableRows
	Timestamp int64
	HasMore   bool
	NextPage  *PageToken
}
