package output

import (
	"strings"
	"testing"
	"time"
)

func TestFormatTimeAgo(t *testing.T) {
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{0, "just now"},
		{59 * time.Second, "just now"},
		{60 * time.Second, "1m ago"},
		{30 * time.Minute, "30m ago"},
		{60 * time.Minute, "1h ago"},
		{23 * time.Hour, "23h ago"},
		{24 * time.Hour, "1d ago"},
		{3 * 24 * time.Hour, "3d ago"},
	}
	for _, tc := range tests {
		if got := FormatTimeAgo(time.Now().Add(-tc.ago)); got != tc.want {
			t.Errorf("FormatTimeAgo(-%v) = %q, want %q", tc.ago, got, tc.want)
		}
	}

	old := time.Now().Add(-8 * 24 * time.Hour)
	if got, want := FormatTimeAgo(old), old.Format("2006-01-02"); got != want {
		t.Errorf("FormatTimeAgo(-8d) = %q, want %q", got, want)
	}
}

func TestStatusBadge(t *testing.T) {
	tests := []struct {
		status   string
		contains string
	}{
		{"synced", "·"},
		{"created", "+"},
		{"updated", "~"},
		{"deleted", "-"},
		{"weird", "[weird]"},
	}

	for _, tc := range tests {
		result := StatusBadge(tc.status)
		if !strings.Contains(result, tc.contains) {
			t.Errorf("StatusBadge(%q) = %q, should contain %q", tc.status, result, tc.contains)
		}
	}
}

func TestRecordLabel(t *testing.T) {
	tests := []struct {
		row  map[string]any
		want string
	}{
		{map[string]any{"id": "g1", "name": "Catan"}, "Catan"},
		{map[string]any{"id": "s1", "session_date": "2024-05-01"}, "2024-05-01"},
		{map[string]any{"id": "r1", "name": ""}, "r1"},
		{map[string]any{"id": "r2"}, "r2"},
	}
	for _, tc := range tests {
		if got := RecordLabel(tc.row); got != tc.want {
			t.Errorf("RecordLabel(%v) = %q, want %q", tc.row, got, tc.want)
		}
	}
}

func TestFormatRecordShort(t *testing.T) {
	result := FormatRecordShort(map[string]any{"id": "abc", "name": "Azul"}, "created")
	for _, want := range []string{"+", "abc", "Azul"} {
		if !strings.Contains(result, want) {
			t.Errorf("FormatRecordShort() = %q, missing %q", result, want)
		}
	}
}

func TestFormatRecordLong(t *testing.T) {
	row := map[string]any{
		"id":          "abc",
		"name":        "Azul",
		"min_players": float64(2),
		"description": nil,
	}
	result := FormatRecordLong("games", row, "updated", []string{"name"})

	for _, want := range []string{"games/abc", "updated", "Azul", "min_players:", "unsynced: name"} {
		if !strings.Contains(result, want) {
			t.Errorf("FormatRecordLong() missing %q in:\n%s", want, result)
		}
	}
	// columns are sorted
	if strings.Index(result, "description") > strings.Index(result, "name:") {
		t.Errorf("columns not sorted:\n%s", result)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "-"},
		{float64(4), "4"},
		{2.5, "2.5"},
		{true, "yes"},
		{false, "no"},
		{"text", "text"},
	}
	for _, tc := range tests {
		if got := FormatValue(tc.in); got != tc.want {
			t.Errorf("FormatValue(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatCursor(t *testing.T) {
	if got := FormatCursor(0, false); !strings.Contains(got, "never synced") {
		t.Errorf("FormatCursor(unset) = %q", got)
	}
	ms := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli()
	if got := FormatCursor(ms, true); !strings.Contains(got, "2024-01-02T03:04:05Z") {
		t.Errorf("FormatCursor(%d) = %q", ms, got)
	}
}

func TestSectionHeader(t *testing.T) {
	tests := []struct {
		title    string
		expected string
	}{
		{"games", "\nGAMES:\n"},
		{"Game Sessions", "\nGAME SESSIONS:\n"},
	}

	for _, tc := range tests {
		result := SectionHeader(tc.title)
		if result != tc.expected {
			t.Errorf("SectionHeader(%q) = %q, want %q", tc.title, result, tc.expected)
		}
	}
}
