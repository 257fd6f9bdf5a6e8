// Package syncclient speaks the GET/POST /sync wire protocol.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	tdsync "github.com/jake-wickstrom/tabletop-tracker/internal/sync"
)

// Sentinel errors for the protocol's failure classes.
var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrConflict       = errors.New("conflict")
	// ErrUnavailable covers network failures, timeouts, rate limiting and 5xx.
	ErrUnavailable = errors.New("server unavailable")
)

// DefaultTimeout bounds every request when the caller does not pick one.
const DefaultTimeout = 30 * time.Second

// maxPages stops a misbehaving server from paging forever.
const maxPages = 10000

// ConflictError carries the ids whose updates lost to newer server rows.
type ConflictError struct {
	Conflicts map[string][]string
}

func (e *ConflictError) Error() string {
	tables := make([]string, 0, len(e.Conflicts))
	n := 0
	for t, ids := range e.Conflicts {
		tables = append(tables, t)
		n += len(ids)
	}
	sort.Strings(tables)
	return fmt.Sprintf("conflict: %d rows in %s", n, strings.Join(tables, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ServerError is a non-2xx response that is not one of the sentinels.
type ServerError struct {
	Status int
	Code   string
	Table  string
	Detail string
}

func (e *ServerError) Error() string {
	msg := fmt.Sprintf("HTTP %d: %s", e.Status, e.Code)
	if e.Table != "" {
		msg += " (" + e.Table + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap classifies 5xx and 429 responses as ErrUnavailable.
func (e *ServerError) Unwrap() error {
	if e.Status >= 500 || e.Status == http.StatusTooManyRequests {
		return ErrUnavailable
	}
	return nil
}

// Client is an HTTP client for the sync server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client for baseURL. A non-positive timeout uses DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// --- Wire types (mirror internal/api, independently defined) ---

type pullResponse struct {
	Changes   tdsync.ChangeSet `json:"changes"`
	Timestamp int64            `json:"timestamp"`
	HasMore   bool             `json:"has_more"`
	NextPage  string           `json:"next_page"`
}

type pushRequest struct {
	Changes      tdsync.ChangeSet `json:"changes"`
	LastPulledAt *int64           `json:"lastPulledAt,omitempty"`
}

type errorResponse struct {
	Error     string              `json:"error"`
	Table     string              `json:"table"`
	Detail    string              `json:"detail"`
	Conflicts map[string][]string `json:"conflicts"`
}

// PullResult is every change since a cursor, merged across pages.
type PullResult struct {
	Changes   tdsync.ChangeSet
	Timestamp int64
	Pages     int
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/healthz", "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches all changes after cursor (0 for a first sync), following
// continuation pages. The returned Timestamp is the next cursor.
func (c *Client) Pull(ctx context.Context, token string, cursor int64) (*PullResult, error) {
	result := &PullResult{Changes: make(tdsync.ChangeSet)}
	page := ""
	for {
		q := url.Values{}
		q.Set("cursor", strconv.FormatInt(cursor, 10))
		if page != "" {
			q.Set("page", page)
		}

		var resp pullResponse
		if err := c.doRequest(ctx, http.MethodGet, "/sync?"+q.Encode(), token, nil, &resp); err != nil {
			return nil, err
		}
		result.Pages++
		if result.Pages == 1 {
			result.Timestamp = resp.Timestamp
		}
		mergeChanges(result.Changes, resp.Changes)

		if !resp.HasMore {
			return result, nil
		}
		if resp.NextPage == "" {
			return nil, &ServerError{Status: http.StatusOK, Code: "has_more without next_page"}
		}
		if result.Pages >= maxPages {
			return nil, fmt.Errorf("pull: exceeded %d pages", maxPages)
		}
		page = resp.NextPage
	}
}

// Push submits local changes. A 409 returns a *ConflictError.
func (c *Client) Push(ctx context.Context, token string, changes tdsync.ChangeSet, lastPulledAt *int64) error {
	return c.doRequest(ctx, http.MethodPost, "/sync", token, pushRequest{Changes: changes, LastPulledAt: lastPulledAt}, nil)
}

func mergeChanges(dst, src tdsync.ChangeSet) {
	for table, tc := range src {
		cur := dst[table]
		cur.Created = append(cur.Created, tc.Created...)
		cur.Updated = append(cur.Updated, tc.Updated...)
		cur.Deleted = append(cur.Deleted, tc.Deleted...)
		dst[table] = cur
	}
}

func (c *Client) doRequest(ctx context.Context, method, path, token string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var e errorResponse
	_ = json.Unmarshal(body, &e)

	switch status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusConflict:
		if e.Error == "conflict" {
			return &ConflictError{Conflicts: e.Conflicts}
		}
	case http.StatusBadRequest:
		if e.Error == "Invalid payload" {
			return ErrInvalidPayload
		}
	}

	code := e.Error
	if code == "" {
		code = strings.TrimSpace(string(body))
	}
	return &ServerError{Status: status, Code: code, Table: e.Table, Detail: e.Detail}
}
