package syncconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != defaultServerURL {
		t.Fatalf("server_url: got %q", cfg.ServerURL)
	}
	if cfg.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("data_dir: got %q", cfg.DataDir)
	}
	if cfg.BackoffMin != 2*time.Second || cfg.BackoffMax != time.Minute {
		t.Fatalf("backoff: got %s..%s", cfg.BackoffMin, cfg.BackoffMax)
	}
	if cfg.Interval != 5*time.Minute {
		t.Fatalf("interval: got %s", cfg.Interval)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := "server_url: https://sync.example.com\ninterval: 90s\nbackoff_max: 2m\n"
	if err := os.WriteFile(filepath.Join(dir, configFile), []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TABLETOP_INTERVAL", "10m")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "https://sync.example.com" {
		t.Fatalf("server_url: got %q", cfg.ServerURL)
	}
	if cfg.BackoffMax != 2*time.Minute {
		t.Fatalf("backoff_max: got %s", cfg.BackoffMax)
	}
	// env beats file
	if cfg.Interval != 10*time.Minute {
		t.Fatalf("interval: got %s", cfg.Interval)
	}
}

func TestLoadRejectsBadBackoff(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TABLETOP_BACKOFF_MIN", "1m")
	t.Setenv("TABLETOP_BACKOFF_MAX", "1s")

	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for inverted backoff range")
	}
}

func TestConfigDirEnv(t *testing.T) {
	want := filepath.Join(t.TempDir(), "nested", "cfg")
	t.Setenv(EnvConfigDir, want)

	dir, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir: %v", err)
	}
	if dir != want {
		t.Fatalf("got %q, want %q", dir, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("dir not created: %v", err)
	}
}

func TestAuthRoundTrip(t *testing.T) {
	dir := t.TempDir()

	creds, err := LoadAuth(dir)
	if err != nil || creds != nil {
		t.Fatalf("missing auth: got %+v, %v", creds, err)
	}

	in := &AuthCredentials{APIKey: "tt_live_abc", Email: "a@b.com", ServerURL: "http://x"}
	if err := SaveAuth(dir, in); err != nil {
		t.Fatalf("SaveAuth: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, authFile))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Fatalf("auth.json perms: got %o, want 600", perm)
	}

	out, err := LoadAuth(dir)
	if err != nil {
		t.Fatalf("LoadAuth: %v", err)
	}
	if *out != *in {
		t.Fatalf("got %+v, want %+v", out, in)
	}

	if err := ClearAuth(dir); err != nil {
		t.Fatalf("ClearAuth: %v", err)
	}
	if err := ClearAuth(dir); err != nil {
		t.Fatalf("ClearAuth twice: %v", err)
	}
}

func TestTokenEnvOverridesFile(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	dir := t.TempDir()
	SaveAuth(dir, &AuthCredentials{APIKey: "from-file"})
	tf := NewTokenFile(dir)
	ctx := context.Background()

	if tok, _ := tf.Token(ctx); tok != "from-file" {
		t.Fatalf("file token: got %q", tok)
	}
	t.Setenv(EnvAPIKey, "from-env")
	if tok, _ := tf.Token(ctx); tok != "from-env" {
		t.Fatalf("env token: got %q", tok)
	}
}

func TestTokenSignedOut(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	tf := NewTokenFile(t.TempDir())
	tok, err := tf.Token(context.Background())
	if err != nil || tok != "" {
		t.Fatalf("got %q, %v", tok, err)
	}
}

func TestSubscribeFiresOnLogin(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	dir := t.TempDir()
	tf := NewTokenFile(dir)

	fired := make(chan struct{}, 8)
	unsubscribe := tf.Subscribe(func() { fired <- struct{}{} })
	defer unsubscribe()

	if err := SaveAuth(dir, &AuthCredentials{APIKey: "tt_live_new"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber not notified of login")
	}

	if err := ClearAuth(dir); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-fired:
			if tok, _ := tf.Token(context.Background()); tok == "" {
				return
			}
		case <-deadline:
			t.Fatal("subscriber not notified of logout")
		}
	}
}

func TestUnsubscribeStopsWatcher(t *testing.T) {
	dir := t.TempDir()
	tf := NewTokenFile(dir)

	unsubscribe := tf.Subscribe(func() {})
	unsubscribe()
	unsubscribe()

	tf.mu.Lock()
	defer tf.mu.Unlock()
	if tf.watcher != nil || len(tf.subs) != 0 {
		t.Fatalf("watcher still running: subs=%d", len(tf.subs))
	}
}
