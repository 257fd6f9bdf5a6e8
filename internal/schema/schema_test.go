package schema

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"
)

func TestSoftDeleteCapability(t *testing.T) {
	tests := []struct {
		table string
		want  bool
	}{
		{Games, true},
		{Players, true},
		{GameSessions, true},
		{SessionPlayers, false},
		{GameResults, true},
	}
	for _, tt := range tests {
		tbl, ok := Lookup(tt.table)
		if !ok {
			t.Fatalf("lookup %s: not found", tt.table)
		}
		if got := tbl.SoftDelete(); got != tt.want {
			t.Errorf("%s.SoftDelete() = %v, want %v", tt.table, got, tt.want)
		}
	}
}

func TestTableNamesOrder(t *testing.T) {
	got := strings.Join(TableNames(), ",")
	want := "games,players,game_sessions,session_players,game_results"
	if got != want {
		t.Fatalf("TableNames() = %s, want %s", got, want)
	}
	if IsValidTable("users") {
		t.Fatal("users should not be a syncable table")
	}
}

func TestCreateTableSQL(t *testing.T) {
	ddl := MustLookup(SessionPlayers).CreateTableSQL("_status TEXT NOT NULL DEFAULT 'synced'")
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS session_players",
		"id TEXT PRIMARY KEY",
		"player_order REAL",
		"created_at INTEGER NOT NULL",
		"_status TEXT NOT NULL DEFAULT 'synced'",
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("ddl missing %q:\n%s", want, ddl)
		}
	}
	if strings.Contains(ddl, "deleted_at") {
		t.Errorf("session_players ddl should not declare deleted_at:\n%s", ddl)
	}
}

func TestWireTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
		ok   bool
	}{
		{"float", float64(100), "1970-01-01T00:00:00.100Z", true},
		{"json number", json.Number("1700000000123"), "2023-11-14T22:13:20.123Z", true},
		{"int64", int64(0), "1970-01-01T00:00:00.000Z", true},
		{"wire string", "2024-01-02T03:04:05.678Z", "2024-01-02T03:04:05.678Z", true},
		{"rfc3339 offset", "2024-01-02T05:04:05+02:00", "2024-01-02T03:04:05.000Z", true},
		{"nan", math.NaN(), "", false},
		{"inf", math.Inf(1), "", false},
		{"past year 9999", float64(1e16), "", false},
		{"overflows int64", float64(1e300), "", false},
		{"far negative", float64(-1e20), "", false},
		{"huge json integer", json.Number("10000000000000000"), "", false},
		{"huge json float", json.Number("1e300"), "", false},
		{"huge int64", int64(MaxEpochMs + 1), "", false},
		{"upper bound", MaxEpochMs, "9999-12-31T23:59:59.999Z", true},
		{"lower bound", MinEpochMs, "0000-01-01T00:00:00.000Z", true},
		{"garbage string", "yesterday", "", false},
		{"bool", true, "", false},
		{"nil", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := WireTimestamp(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("WireTimestamp(%v) = %q,%v want %q,%v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestWireToEpochMs(t *testing.T) {
	ms := time.Date(2025, 3, 1, 12, 0, 0, 250*int(time.Millisecond), time.UTC).UnixMilli()
	got, ok := WireToEpochMs(EpochMsToWire(ms))
	if !ok || got != ms {
		t.Fatalf("round trip = %d,%v want %d", got, ok, ms)
	}
	if _, ok := WireToEpochMs("nope"); ok {
		t.Fatal("expected failure for malformed input")
	}
	for _, v := range []any{MinEpochMs, MaxEpochMs} {
		ms, _ := EpochMs(v)
		if got, ok := WireToEpochMs(EpochMsToWire(ms)); !ok || got != ms {
			t.Fatalf("bound %d round trip = %d,%v", ms, got, ok)
		}
	}
}

func TestStorageValue(t *testing.T) {
	results := MustLookup(GameResults)
	if got := results.StorageValue("is_winner", true); got != int64(1) {
		t.Fatalf("bool true: got %v", got)
	}
	if got := results.StorageValue("is_winner", false); got != int64(0) {
		t.Fatalf("bool false: got %v", got)
	}
	if got := results.StorageValue(ColUpdatedAt, "1970-01-01T00:00:01.500Z"); got != int64(1500) {
		t.Fatalf("timestamp: got %v", got)
	}
	if got := results.StorageValue(ColUpdatedAt, "garbage"); got != nil {
		t.Fatalf("bad timestamp: got %v", got)
	}
	if got := results.StorageValue("score", 12.5); got != 12.5 {
		t.Fatalf("number: got %v", got)
	}
}

func TestScanValue(t *testing.T) {
	results := MustLookup(GameResults)
	if got := results.ScanValue("is_winner", int64(1)); got != true {
		t.Fatalf("bool: got %v", got)
	}
	if got := results.ScanValue("notes", []byte("gg")); got != "gg" {
		t.Fatalf("bytes: got %v", got)
	}
	if got := results.ScanValue(ColCreatedAt, int64(42)); got != int64(42) {
		t.Fatalf("timestamp: got %v", got)
	}
}
