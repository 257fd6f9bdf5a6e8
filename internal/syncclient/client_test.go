package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tdsync "github.com/jake-wickstrom/tabletop-tracker/internal/sync"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, 5*time.Second)
}

func TestPullSinglePage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/sync" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization: got %q", got)
		}
		if got := r.URL.Query().Get("cursor"); got != "1234" {
			t.Errorf("cursor: got %q", got)
		}
		io.WriteString(w, `{"changes":{"games":{"created":[{"id":"g1","name":"Catan"}],"updated":[],"deleted":["g0"]}},"timestamp":5000}`)
	})

	res, err := c.Pull(context.Background(), "tok", 1234)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if res.Timestamp != 5000 || res.Pages != 1 {
		t.Fatalf("got timestamp=%d pages=%d", res.Timestamp, res.Pages)
	}
	games := res.Changes["games"]
	if len(games.Created) != 1 || games.Created[0]["name"] != "Catan" {
		t.Fatalf("created: %+v", games.Created)
	}
	if len(games.Deleted) != 1 || games.Deleted[0] != "g0" {
		t.Fatalf("deleted: %+v", games.Deleted)
	}
}

func TestPullFollowsPages(t *testing.T) {
	var pages []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		if r.URL.Query().Get("cursor") != "0" {
			t.Errorf("cursor changed between pages: %q", r.URL.Query().Get("cursor"))
		}
		switch page {
		case "":
			io.WriteString(w, `{"changes":{"games":{"created":[{"id":"g1"}],"updated":[],"deleted":[]}},"timestamp":7000,"has_more":true,"next_page":"p2"}`)
		case "p2":
			io.WriteString(w, `{"changes":{"games":{"created":[{"id":"g2"}],"updated":[],"deleted":[]},"players":{"created":[{"id":"p1"}],"updated":[],"deleted":[]}},"timestamp":7000}`)
		default:
			t.Errorf("unexpected page %q", page)
		}
	})

	res, err := c.Pull(context.Background(), "tok", 0)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if res.Pages != 2 || len(pages) != 2 {
		t.Fatalf("pages: got %d requests %v", res.Pages, pages)
	}
	if res.Timestamp != 7000 {
		t.Fatalf("timestamp: got %d", res.Timestamp)
	}
	if n := len(res.Changes["games"].Created); n != 2 {
		t.Fatalf("merged games created: got %d", n)
	}
	if n := len(res.Changes["players"].Created); n != 1 {
		t.Fatalf("merged players created: got %d", n)
	}
}

func TestPullHasMoreWithoutToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"changes":{},"timestamp":1,"has_more":true}`)
	})
	if _, err := c.Pull(context.Background(), "tok", 0); err == nil {
		t.Fatal("expected error for has_more without next_page")
	}
}

func TestPushSendsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type: got %q", ct)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["lastPulledAt"] != float64(42) {
			t.Errorf("lastPulledAt: got %v", body["lastPulledAt"])
		}
		changes, _ := body["changes"].(map[string]any)
		if _, ok := changes["games"]; !ok {
			t.Errorf("changes missing games: %v", body)
		}
		io.WriteString(w, `{"ok":true}`)
	})

	last := int64(42)
	cs := tdsync.ChangeSet{"games": {Created: []tdsync.Row{{"id": "g1"}}, Updated: []tdsync.Row{}, Deleted: []string{}}}
	if err := c.Push(context.Background(), "tok", cs, &last); err != nil {
		t.Fatalf("Push: %v", err)
	}
}

func TestPushOmitsNilLastPulledAt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["lastPulledAt"]; ok {
			t.Errorf("lastPulledAt should be omitted: %v", body)
		}
		io.WriteString(w, `{"ok":true}`)
	})
	if err := c.Push(context.Background(), "tok", tdsync.ChangeSet{}, nil); err != nil {
		t.Fatalf("Push: %v", err)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"Unauthorized"}`, ErrUnauthorized},
		{"invalid payload", http.StatusBadRequest, `{"error":"Invalid payload"}`, ErrInvalidPayload},
		{"conflict", http.StatusConflict, `{"error":"conflict","conflicts":{"games":["g1"]}}`, ErrConflict},
		{"storage failure", http.StatusInternalServerError, `{"error":"update_failed","table":"games","detail":"boom"}`, ErrUnavailable},
		{"bad gateway", http.StatusBadGateway, `upstream down`, ErrUnavailable},
		{"rate limited", http.StatusTooManyRequests, `{"error":"rate_limited"}`, ErrUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			})
			err := c.Push(context.Background(), "tok", tdsync.ChangeSet{}, nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestConflictErrorCarriesIDs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"error":"conflict","conflicts":{"games":["g1","g2"],"players":["p1"]}}`)
	})
	err := c.Push(context.Background(), "tok", tdsync.ChangeSet{}, nil)
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConflictError, got %v", err)
	}
	if len(ce.Conflicts["games"]) != 2 || ce.Conflicts["players"][0] != "p1" {
		t.Fatalf("conflicts: %+v", ce.Conflicts)
	}
	if ce.Error() != "conflict: 3 rows in games, players" {
		t.Fatalf("message: %q", ce.Error())
	}
}

func TestServerErrorDetail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"upsert_failed","table":"players","detail":"disk full"}`)
	})
	err := c.Push(context.Background(), "tok", tdsync.ChangeSet{}, nil)
	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ServerError, got %v", err)
	}
	if se.Code != "upsert_failed" || se.Table != "players" || se.Detail != "disk full" {
		t.Fatalf("got %+v", se)
	}
}

func TestBadRequestOtherThanPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"Invalid page token"}`)
	})
	_, err := c.Pull(context.Background(), "tok", 0)
	if errors.Is(err, ErrInvalidPayload) || errors.Is(err, ErrUnavailable) {
		t.Fatalf("unexpected classification: %v", err)
	}
	var se *ServerError
	if !errors.As(err, &se) || se.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 ServerError, got %v", err)
	}
}

func TestNetworkErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(url, time.Second)
	_, err := c.Pull(context.Background(), "tok", 0)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestTimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, 50*time.Millisecond)
	_, err := c.Pull(context.Background(), "tok", 0)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestContextCanceled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"changes":{},"timestamp":1}`)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Pull(ctx, "tok", 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("health check should not send credentials")
		}
		io.WriteString(w, `{"status":"ok"}`)
	})
	resp, err := c.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("status: got %q", resp.Status)
	}
}

func TestNewTrimsBaseURL(t *testing.T) {
	c := New("http://example.test/", 0)
	if c.BaseURL != "http://example.test" {
		t.Fatalf("BaseURL: got %q", c.BaseURL)
	}
	if c.HTTP.Timeout != DefaultTimeout {
		t.Fatalf("timeout: got %v", c.HTTP.Timeout)
	}
}
