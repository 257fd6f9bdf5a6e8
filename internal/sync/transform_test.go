package sync

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jake-wickstrom/tabletop-tracker/internal/schema"
)

var testNow = time.Date(2024, 1, 2, 3, 4, 5, 678_000_000, time.UTC)

const testNowWire = "2024-01-02T03:04:05.678Z"

func TestSanitize_UnknownTable(t *testing.T) {
	if got := Sanitize("users", map[string]any{"id": "u1"}, testNow); got != nil {
		t.Fatalf("expected nil for unknown table, got %v", got)
	}
}

func TestSanitize_NumericTimestamps(t *testing.T) {
	row := Sanitize(schema.Games, map[string]any{
		"id":          "g1",
		"name":        "Catan",
		"min_players": float64(3),
		"created_at":  float64(1704164645000),
		"updated_at":  float64(1704164645000),
		"is_admin":    true,
	}, testNow)

	if row["id"] != "g1" {
		t.Fatalf("id: got %v", row["id"])
	}
	if row["created_at"] != "2024-01-02T03:04:05.000Z" {
		t.Fatalf("created_at: got %v", row["created_at"])
	}
	if row["updated_at"] != "2024-01-02T03:04:05.000Z" {
		t.Fatalf("updated_at: got %v", row["updated_at"])
	}
	if _, ok := row["is_admin"]; ok {
		t.Fatal("undeclared column is_admin should be stripped")
	}
	if _, ok := row["deleted_at"]; ok {
		t.Fatal("deleted_at should be absent when not supplied")
	}
	if row["min_players"] != float64(3) {
		t.Fatalf("min_players: got %v", row["min_players"])
	}
}

func TestSanitize_MissingTimestampsDefaultToNow(t *testing.T) {
	row := Sanitize(schema.Players, map[string]any{
		"id":         "p1",
		"name":       "Ann",
		"created_at": "garbage",
	}, testNow)

	if row["created_at"] != testNowWire {
		t.Errorf("created_at: got %v, want %s", row["created_at"], testNowWire)
	}
	if row["updated_at"] != testNowWire {
		t.Errorf("updated_at: got %v, want %s", row["updated_at"], testNowWire)
	}
}

func TestSanitize_NonFiniteTimestamp(t *testing.T) {
	row := Sanitize(schema.Players, map[string]any{
		"id":         "p1",
		"updated_at": json.Number("1e400"),
	}, testNow)
	if row["updated_at"] != testNowWire {
		t.Fatalf("non-finite updated_at should default, got %v", row["updated_at"])
	}
}

func TestSanitize_OutOfRangeTimestamps(t *testing.T) {
	row := Sanitize(schema.Games, map[string]any{
		"id":         "g1",
		"name":       "Catan",
		"created_at": float64(1e16),
		"updated_at": float64(1e300),
		"deleted_at": json.Number("-1e20"),
	}, testNow)
	if row["created_at"] != testNowWire {
		t.Errorf("created_at: got %v, want %s", row["created_at"], testNowWire)
	}
	if row["updated_at"] != testNowWire {
		t.Errorf("updated_at: got %v, want %s", row["updated_at"], testNowWire)
	}
	if _, ok := row["deleted_at"]; ok {
		t.Errorf("out-of-range deleted_at should be omitted, got %v", row["deleted_at"])
	}
	for _, col := range []string{"created_at", "updated_at"} {
		if _, ok := schema.ParseWireTime(row[col].(string)); !ok {
			t.Errorf("%s does not parse back: %v", col, row[col])
		}
	}
}

func TestSanitize_DeletedAtOnlyForSoftDeleteTables(t *testing.T) {
	ts := float64(1704164645000)

	row := Sanitize(schema.Games, map[string]any{"id": "g1", "deleted_at": ts}, testNow)
	if row["deleted_at"] != "2024-01-02T03:04:05.000Z" {
		t.Errorf("games deleted_at: got %v", row["deleted_at"])
	}

	row = Sanitize(schema.SessionPlayers, map[string]any{"id": "sp1", "deleted_at": ts}, testNow)
	if _, ok := row["deleted_at"]; ok {
		t.Error("session_players must not carry deleted_at")
	}

	row = Sanitize(schema.Games, map[string]any{"id": "g1", "deleted_at": "nope"}, testNow)
	if _, ok := row["deleted_at"]; ok {
		t.Error("invalid deleted_at should be dropped")
	}
}

func TestSanitize_TypeMismatchDropped(t *testing.T) {
	row := Sanitize(schema.GameResults, map[string]any{
		"id":        "r1",
		"score":     "ten",
		"is_winner": "yes",
		"notes":     nil,
		"position":  json.Number("2"),
	}, testNow)

	if _, ok := row["score"]; ok {
		t.Error("string score should be dropped")
	}
	if _, ok := row["is_winner"]; ok {
		t.Error("string is_winner should be dropped")
	}
	if v, ok := row["notes"]; !ok || v != nil {
		t.Errorf("null notes should be kept as null, got %v (present=%v)", v, ok)
	}
	if row["position"] != float64(2) {
		t.Errorf("position: got %v", row["position"])
	}
}

func TestSanitize_StorageBoolean(t *testing.T) {
	row := Sanitize(schema.GameResults, map[string]any{"id": "r1", "is_winner": int64(1)}, testNow)
	if row["is_winner"] != true {
		t.Fatalf("is_winner: got %v", row["is_winner"])
	}
}

func TestSanitize_Deterministic(t *testing.T) {
	raw := map[string]any{
		"id":         "g1",
		"name":       "Azul",
		"created_at": "2024-01-01T00:00:00Z",
	}
	a := Sanitize(schema.Games, raw, testNow)
	b := Sanitize(schema.Games, raw, testNow)
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Fatalf("not deterministic:\n%s\n%s", ja, jb)
	}
	if a["created_at"] != "2024-01-01T00:00:00.000Z" {
		t.Fatalf("created_at normalized: got %v", a["created_at"])
	}
}

func TestIsValidID(t *testing.T) {
	cases := []struct {
		id   string
		want bool
	}{
		{"abc", true},
		{"2b7f3c1e-8d7a-4f7e-9c0a-1f2e3d4c5b6a", true},
		{"", false},
		{"has space", false},
		{"tab\tid", false},
		{strings.Repeat("x", 129), false},
	}
	for _, tc := range cases {
		if got := isValidID(tc.id); got != tc.want {
			t.Errorf("isValidID(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}
