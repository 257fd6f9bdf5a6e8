package cmd

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jake-wickstrom/tabletop-tracker/internal/api"
	"github.com/jake-wickstrom/tabletop-tracker/internal/replica"
	"github.com/jake-wickstrom/tabletop-tracker/internal/schema"
	"github.com/jake-wickstrom/tabletop-tracker/internal/serverdb"
	"github.com/jake-wickstrom/tabletop-tracker/internal/syncconfig"
)

// setupCLI points the CLI at a fresh config dir with auto-sync off.
func setupCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(syncconfig.EnvConfigDir, dir)
	t.Setenv(syncconfig.EnvAPIKey, "")
	t.Setenv("TABLETOP_AUTO_SYNC", "0")
	t.Setenv("TABLETOP_SERVER_URL", "")
	return dir
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestParseFields(t *testing.T) {
	fields, err := parseFields(schema.GameResults, []string{
		"session_id=s1", "score=42.5", "is_winner=true", "notes=",
	})
	if err != nil {
		t.Fatalf("parseFields: %v", err)
	}
	if fields["session_id"] != "s1" {
		t.Errorf("session_id: got %v", fields["session_id"])
	}
	if fields["score"] != 42.5 {
		t.Errorf("score: got %v", fields["score"])
	}
	if fields["is_winner"] != true {
		t.Errorf("is_winner: got %v", fields["is_winner"])
	}
	if v, ok := fields["notes"]; !ok || v != nil {
		t.Errorf("notes should be cleared, got %v", v)
	}
}

func TestParseFieldsSessionDate(t *testing.T) {
	fields, err := parseFields(schema.GameSessions, []string{"session_date=2024-05-04"})
	if err != nil {
		t.Fatalf("parseFields: %v", err)
	}
	if fields["session_date"] != "2024-05-04" {
		t.Errorf("session_date: got %v", fields["session_date"])
	}
	if _, err := parseFields(schema.GameSessions, []string{"session_date=someday"}); err == nil {
		t.Error("expected error for unparseable session_date")
	}
}

func TestParseFieldsErrors(t *testing.T) {
	tests := []struct {
		name  string
		table string
		args  []string
	}{
		{"unknown table", "widgets", []string{"a=b"}},
		{"missing equals", schema.Games, []string{"name"}},
		{"unknown field", schema.Games, []string{"colour=red"}},
		{"id", schema.Games, []string{"id=x"}},
		{"bad number", schema.Games, []string{"min_players=two"}},
		{"bad bool", schema.GameResults, []string{"is_winner=maybe"}},
		{"timestamp", schema.Games, []string{"created_at=2024-01-01T00:00:00.000Z"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseFields(tc.table, tc.args); err == nil {
				t.Fatalf("expected error for %v", tc.args)
			}
		})
	}
}

func TestAutoSyncEnabled(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"", true},
		{"1", true},
		{"true", true},
		{"0", false},
		{"false", false},
	}
	for _, tc := range tests {
		t.Setenv("TABLETOP_AUTO_SYNC", tc.env)
		if got := autoSyncEnabled(); got != tc.want {
			t.Errorf("TABLETOP_AUTO_SYNC=%q: got %v", tc.env, got)
		}
	}
}

func TestNewDaemonLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	logger, closer := newDaemonLogger(path, false, false)
	logger.Info("hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("log file: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("log file is empty")
	}
}

func TestAddUpdateDeleteCommands(t *testing.T) {
	dir := setupCLI(t)

	if err := run(t, "add", "players", "name=Ada"); err != nil {
		t.Fatalf("add: %v", err)
	}

	store, err := replica.Open(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("open replica: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	recs, err := store.List(ctx, schema.Players)
	if err != nil || len(recs) != 1 {
		t.Fatalf("list: %v, %d records", err, len(recs))
	}
	id := recs[0].ID()

	if err := run(t, "update", "players", id, "email=ada@example.com"); err != nil {
		t.Fatalf("update: %v", err)
	}
	rec, err := store.Get(ctx, schema.Players, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Row["email"] != "ada@example.com" {
		t.Fatalf("email not updated: %+v", rec.Row)
	}

	if err := run(t, "delete", "players", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if recs, _ := store.List(ctx, schema.Players); len(recs) != 0 {
		t.Fatalf("record still listed after delete: %+v", recs)
	}
}

func TestSyncCommandAgainstServer(t *testing.T) {
	dir := setupCLI(t)

	sdb, err := serverdb.Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}
	defer sdb.Close()
	srv, err := api.NewServer(api.Config{
		DataDir:       t.TempDir(),
		RateLimitPush: 1000,
		RateLimitPull: 1000,
	}, sdb)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Shutdown(context.Background())

	user, err := sdb.CreateUser("cli@test.com")
	if err != nil {
		t.Fatal(err)
	}
	key, _, err := sdb.GenerateAPIKey(user.ID, "cli", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("TABLETOP_SERVER_URL", ts.URL)
	if err := syncconfig.SaveAuth(dir, &syncconfig.AuthCredentials{APIKey: key, ServerURL: ts.URL}); err != nil {
		t.Fatal(err)
	}

	if err := run(t, "add", "games", "name=Azul", "min_players=2"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := run(t, "sync"); err != nil {
		t.Fatalf("sync: %v", err)
	}

	store, err := replica.Open(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("open replica: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if n, _ := store.PendingCount(ctx); n != 0 {
		t.Fatalf("pending after sync: %d", n)
	}
	if _, ok, _ := store.LoadCursor(ctx); !ok {
		t.Fatal("cursor not saved after sync")
	}
}
