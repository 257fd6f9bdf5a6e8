package dateparse

import (
	"testing"
	"time"
)

// Fixed reference time: Wednesday, 2026-02-18 12:00:00 UTC
var testNow = time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)

func TestParseDateFrom(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"2026-03-01", "2026-03-01"},
		{"2025-12-31", "2025-12-31"},
		{"today", "2026-02-18"},
		{"  Today ", "2026-02-18"},
		{"yesterday", "2026-02-17"},
		{"-0d", "2026-02-18"},
		{"-3d", "2026-02-15"},
		{"-20d", "2026-01-29"},
		{"-1w", "2026-02-11"},
		{"-2w", "2026-02-04"},
		{"-1m", "2026-01-18"},
		{"-12m", "2025-02-18"},
		{"tuesday", "2026-02-17"},
		{"saturday", "2026-02-14"},
		{"last-saturday", "2026-02-14"},
		{"wednesday", "2026-02-11"},
		{"thursday", "2026-02-12"},
	}
	for _, tt := range tests {
		got, err := ParseDateFrom(tt.input, testNow)
		if err != nil {
			t.Errorf("ParseDateFrom(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDateFrom(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseDateFromErrors(t *testing.T) {
	for _, input := range []string{
		"",
		"   ",
		"tomorrow",
		"+1d",
		"-d",
		"-xd",
		"-3y",
		"2026-13-01",
		"someday",
		"last-",
	} {
		if got, err := ParseDateFrom(input, testNow); err == nil {
			t.Errorf("ParseDateFrom(%q) = %q, want error", input, got)
		}
	}
}

func TestParseDateUsesNow(t *testing.T) {
	got, err := ParseDate("today")
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Now().Format(layout); got != want {
		t.Errorf("ParseDate(today) = %q, want %q", got, want)
	}
}
