// Package version checks GitHub releases for a newer tabletop build.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// ReleasesURL is the latest-release endpoint for this repository.
const ReleasesURL = "https://api.github.com/repos/jake-wickstrom/tabletop-tracker/releases/latest"

// Release represents a GitHub release response.
type Release struct {
	TagName     string    `json:"tag_name"`
	PublishedAt time.Time `json:"published_at"`
	HTMLURL     string    `json:"html_url"`
}

// CheckResult holds the result of a version check.
type CheckResult struct {
	CurrentVersion string
	LatestVersion  string
	UpdateURL      string
	HasUpdate      bool
	Cached         bool
}

// Checker compares the running version against the latest release. Results
// are cached in CacheDir for cacheTTL; an empty CacheDir disables caching.
type Checker struct {
	URL      string
	HTTP     *http.Client
	CacheDir string
}

// NewChecker returns a checker against ReleasesURL.
func NewChecker(cacheDir string) *Checker {
	return &Checker{
		URL:      ReleasesURL,
		HTTP:     &http.Client{Timeout: 5 * time.Second},
		CacheDir: cacheDir,
	}
}

// Check reports whether a newer release exists. Development builds never
// report an update and never hit the network.
func (c *Checker) Check(ctx context.Context, currentVersion string) (CheckResult, error) {
	result := CheckResult{CurrentVersion: currentVersion}
	if IsDevelopmentVersion(currentVersion) {
		return result, nil
	}

	if c.CacheDir != "" {
		if cached, err := LoadCache(c.CacheDir); err == nil && IsCacheValid(cached, currentVersion) {
			result.LatestVersion = cached.LatestVersion
			result.HasUpdate = cached.HasUpdate
			result.Cached = true
			return result, nil
		}
	}

	release, err := c.latest(ctx)
	if err != nil {
		return result, err
	}
	result.LatestVersion = release.TagName
	result.UpdateURL = release.HTMLURL
	result.HasUpdate = isNewer(release.TagName, currentVersion)

	// Only successful checks are cached.
	if c.CacheDir != "" {
		_ = SaveCache(c.CacheDir, &CacheEntry{
			LatestVersion:  result.LatestVersion,
			CurrentVersion: currentVersion,
			CheckedAt:      time.Now(),
			HasUpdate:      result.HasUpdate,
		})
	}
	return result, nil
}

func (c *Checker) latest(ctx context.Context) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github api: %s", resp.Status)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}
	return &release, nil
}

// IsDevelopmentVersion returns true for non-release versions.
func IsDevelopmentVersion(v string) bool {
	if v == "" || v == "unknown" || v == "dev" || v == "devel" {
		return true
	}
	return strings.HasPrefix(v, "devel+")
}

// validVersionRegex matches valid semver versions (v1.2.3, v1.2.3-beta, etc.)
var validVersionRegex = regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[a-zA-Z0-9]+([.-][a-zA-Z0-9]+)*)?$`)

// UpdateCommand generates the go install command for updating.
// Returns empty string if version is invalid (prevents shell injection).
func UpdateCommand(version string) string {
	if !validVersionRegex.MatchString(version) {
		return ""
	}
	return fmt.Sprintf(
		"go install -ldflags \"-X main.Version=%s\" github.com/jake-wickstrom/tabletop-tracker@%s",
		version, version,
	)
}
