package version

import "testing"

func TestParseSemver(t *testing.T) {
	tests := map[string][3]int{
		"v1.2.3":                {1, 2, 3},
		"1.2.3":                 {1, 2, 3},
		"v2.0.0-rc.1":           {2, 0, 0},
		"v1.0.0+build123":       {1, 0, 0},
		"1.0.0+exp.sha.5114f85": {1, 0, 0},
		"v1.0.0-beta+build123":  {1, 0, 0},
		"2.0":                   {2, 0, 0},
		"v5":                    {5, 0, 0},
		"":                      {0, 0, 0},
		"invalid":               {0, 0, 0},
		"no.numbers.here":       {0, 0, 0},
		"1000.0.0":              {1000, 0, 0},
	}
	for input, want := range tests {
		if got := parseSemver(input); got != want {
			t.Errorf("parseSemver(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestIsNewer(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"v1.0.0", "v0.9.9", true},
		{"v0.10.0", "v0.9.0", true},
		{"v0.1.10", "v0.1.9", true},
		{"v1.2.3", "v1.2.3", false},
		{"v1.0.0", "v1.0.1", false},
		{"v1.0.0-beta", "v1.0.0", false},
		{"v1.0.0", "v1.0.0-beta", false},
		{"v2.0.0-rc.1", "v1.9.9", true},
		{"v1.0.0+build1", "v1.0.0+build2", false},
		{"1.0.0", "v0.9.9", true},
	}
	for _, tt := range tests {
		if got := isNewer(tt.latest, tt.current); got != tt.want {
			t.Errorf("isNewer(%q, %q) = %v, want %v", tt.latest, tt.current, got, tt.want)
		}
	}
}
