// Package replica is the client's offline copy of the syncable tables.
//
// Every row carries a _status column tracking its local lifecycle:
// "synced" rows match the server, "created" and "updated" rows are waiting
// to be pushed, and "deleted" rows are kept as local tombstones until the
// push that carries them succeeds. _changed lists the columns touched since
// the last sync.
package replica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jake-wickstrom/tabletop-tracker/internal/schema"
	_ "modernc.org/sqlite"
)

// DBFile is the replica database file name inside the data directory.
const DBFile = "replica.db"

// CursorKey is the local_storage key holding the last adopted pull cursor.
const CursorKey = "last_pulled_at"

// Row statuses.
const (
	StatusSynced  = "synced"
	StatusCreated = "created"
	StatusUpdated = "updated"
	StatusDeleted = "deleted"
)

const (
	colStatus  = "_status"
	colChanged = "_changed"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrUnknownTable  = errors.New("unknown table")
	ErrInvalidField  = errors.New("invalid field")
	ErrNoFields      = errors.New("no fields to update")
	errCursorCorrupt = errors.New("stored cursor is not an integer")
)

// Replica is a local SQLite copy of the syncable tables.
type Replica struct {
	conn *sql.DB
	dir  string
	now  func() time.Time
}

// Open opens (creating if needed) the replica in dir.
func Open(dir string) (*Replica, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	conn, err := sql.Open("sqlite", filepath.Join(dir, DBFile))
	if err != nil {
		return nil, fmt.Errorf("open replica: %w", err)
	}
	// Transactions must see a single connection.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	r := &Replica{conn: conn, dir: dir, now: time.Now}
	if err := r.initSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return r, nil
}

func (r *Replica) initSchema() error {
	locker := newWriteLocker(r.dir)
	if err := locker.acquire(lockTimeout); err != nil {
		return err
	}
	defer locker.release()

	extra := []string{
		colStatus + " TEXT NOT NULL DEFAULT '" + StatusSynced + "'",
		colChanged + " TEXT NOT NULL DEFAULT ''",
	}
	for _, tbl := range schema.Tables() {
		if _, err := r.conn.Exec(tbl.CreateTableSQL(extra...)); err != nil {
			return fmt.Errorf("create table %s: %w", tbl.Name, err)
		}
		idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_status ON %s(%s)", tbl.Name, tbl.Name, colStatus)
		if _, err := r.conn.Exec(idx); err != nil {
			return fmt.Errorf("create index on %s: %w", tbl.Name, err)
		}
	}
	if _, err := r.conn.Exec(`CREATE TABLE IF NOT EXISTS local_storage (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create local_storage: %w", err)
	}
	return nil
}

// Close closes the database.
func (r *Replica) Close() error {
	return r.conn.Close()
}

// Dir returns the data directory holding the replica.
func (r *Replica) Dir() string {
	return r.dir
}

// withTx runs fn in a transaction while holding the cross-process write lock.
func (r *Replica) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	locker := newWriteLocker(r.dir)
	if err := locker.acquire(lockTimeout); err != nil {
		return err
	}
	defer locker.release()

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func lookupTable(name string) (*schema.Table, error) {
	tbl, ok := schema.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return tbl, nil
}
