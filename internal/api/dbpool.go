package api

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	tdsync "github.com/jake-wickstrom/tabletop-tracker/internal/sync"
	_ "modernc.org/sqlite"
)

// datasetFile is the per-user record database name.
const datasetFile = "records.db"

var safeUserID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// UserDBPool hands out one SQLite dataset per user. Each dataset holds the
// synced tables for that user only; a single connection per dataset
// serializes its writers.
type UserDBPool struct {
	mu      sync.RWMutex
	dbs     map[string]*sql.DB
	dataDir string
}

// NewUserDBPool creates a pool that stores datasets under dataDir.
func NewUserDBPool(dataDir string) *UserDBPool {
	return &UserDBPool{
		dbs:     make(map[string]*sql.DB),
		dataDir: dataDir,
	}
}

// Get returns the dataset for userID, creating and initializing it on first
// use.
func (p *UserDBPool) Get(userID string) (*sql.DB, error) {
	if !safeUserID.MatchString(userID) {
		return nil, fmt.Errorf("invalid user id %q", userID)
	}

	p.mu.RLock()
	db, ok := p.dbs[userID]
	p.mu.RUnlock()
	if ok {
		return db, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if db, ok := p.dbs[userID]; ok {
		return db, nil
	}

	dir := filepath.Join(p.dataDir, userID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create dataset dir: %w", err)
	}

	db, err := openDataset(filepath.Join(dir, datasetFile))
	if err != nil {
		return nil, err
	}

	p.dbs[userID] = db
	return db, nil
}

// Len returns the number of open datasets.
func (p *UserDBPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.dbs)
}

// CloseAll closes all open datasets.
func (p *UserDBPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, db := range p.dbs {
		db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		db.Close()
		delete(p.dbs, id)
	}
}

// openDataset opens a user dataset with standard pragmas and makes sure the
// synced tables exist.
func openDataset(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	db.Exec("PRAGMA synchronous=NORMAL")

	if err := tdsync.InitServerTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init tables: %w", err)
	}

	return db, nil
}
