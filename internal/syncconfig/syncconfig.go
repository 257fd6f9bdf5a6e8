package syncconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g. TABLETOP_SERVER_URL.
	EnvPrefix = "TABLETOP"
	// EnvAPIKey overrides the stored credentials when set.
	EnvAPIKey = "TABLETOP_API_KEY"
	// EnvConfigDir relocates the config directory.
	EnvConfigDir = "TABLETOP_CONFIG_DIR"

	authFile   = "auth.json"
	configFile = "config.yaml"

	defaultServerURL = "http://localhost:8080"
)

// Config is the client config stored at ~/.config/tabletop/config.yaml.
type Config struct {
	ServerURL      string        `mapstructure:"server_url"`
	DataDir        string        `mapstructure:"data_dir"`
	BackoffMin     time.Duration `mapstructure:"backoff_min"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Interval       time.Duration `mapstructure:"interval"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	LogFile        string        `mapstructure:"log_file"`
}

// AuthCredentials stores authentication state at ~/.config/tabletop/auth.json.
type AuthCredentials struct {
	APIKey    string `json:"api_key"`
	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email"`
	ServerURL string `json:"server_url"`
}

// ConfigDir returns the config directory, creating it if necessary.
// TABLETOP_CONFIG_DIR wins over ~/.config/tabletop.
func ConfigDir() (string, error) {
	dir := os.Getenv(EnvConfigDir)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		dir = filepath.Join(home, ".config", "tabletop")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// Load reads config.yaml from dir (a missing file is fine) and applies
// TABLETOP_* environment overrides on top of the defaults.
func Load(dir string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server_url", defaultServerURL)
	v.SetDefault("data_dir", filepath.Join(dir, "data"))
	v.SetDefault("backoff_min", 2*time.Second)
	v.SetDefault("backoff_max", 60*time.Second)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("interval", 5*time.Minute)
	v.SetDefault("health_interval", 30*time.Second)
	v.SetDefault("log_file", filepath.Join(dir, "daemon.log"))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(filepath.Join(dir, configFile))
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.BackoffMin <= 0 || c.BackoffMax < c.BackoffMin {
		return fmt.Errorf("invalid backoff range %s..%s", c.BackoffMin, c.BackoffMax)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	return nil
}

// LoadAuth reads auth.json from dir. Returns nil, nil when signed out.
func LoadAuth(dir string) (*AuthCredentials, error) {
	data, err := os.ReadFile(filepath.Join(dir, authFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse %s: %w", authFile, err)
	}
	return &creds, nil
}

// SaveAuth writes auth.json to dir (0600 perms).
func SaveAuth(dir string, creds *AuthCredentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, authFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ClearAuth removes auth.json.
func ClearAuth(dir string) error {
	err := os.Remove(filepath.Join(dir, authFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// TokenFile serves the API key from TABLETOP_API_KEY or auth.json and
// reports sign-in state changes by watching the config directory.
type TokenFile struct {
	dir string

	mu       sync.Mutex
	nextID   int
	subs     map[int]func()
	watcher  *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	lastSeen string
}

// NewTokenFile returns a token source rooted at dir.
func NewTokenFile(dir string) *TokenFile {
	return &TokenFile{dir: dir, subs: make(map[int]func())}
}

// Token returns the current API key. An empty key means signed out.
func (t *TokenFile) Token(ctx context.Context) (string, error) {
	if v := os.Getenv(EnvAPIKey); v != "" {
		return v, nil
	}
	creds, err := LoadAuth(t.dir)
	if err != nil {
		return "", err
	}
	if creds == nil {
		return "", nil
	}
	return creds.APIKey, nil
}

// Subscribe calls fn whenever the stored key changes. The returned func
// unsubscribes; the watcher stops with the last subscriber.
func (t *TokenFile) Subscribe(fn func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.watcher == nil {
		if err := t.startLocked(); err != nil {
			slog.Warn("syncconfig: auth watch unavailable", "dir", t.dir, "err", err)
			return func() {}
		}
	}
	id := t.nextID
	t.nextID++
	t.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() { t.unsubscribe(id) })
	}
}

func (t *TokenFile) startLocked() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// auth.json is replaced by rename, so watch the directory.
	if err := w.Add(t.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", t.dir, err)
	}
	t.lastSeen, _ = t.Token(context.Background())
	t.watcher = w
	t.done = make(chan struct{})
	t.wg.Add(1)
	go t.processEvents(w, t.done)
	return nil
}

func (t *TokenFile) unsubscribe(id int) {
	t.mu.Lock()
	delete(t.subs, id)
	if len(t.subs) > 0 || t.watcher == nil {
		t.mu.Unlock()
		return
	}
	w, done := t.watcher, t.done
	t.watcher, t.done = nil, nil
	t.mu.Unlock()

	close(done)
	w.Close()
	t.wg.Wait()
}

func (t *TokenFile) processEvents(w *fsnotify.Watcher, done chan struct{}) {
	defer t.wg.Done()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != authFile {
				continue
			}
			t.checkChanged()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Warn("syncconfig: watch error", "err", err)
		}
	}
}

// checkChanged fans out to subscribers only when the key actually differs.
func (t *TokenFile) checkChanged() {
	token, err := t.Token(context.Background())
	if err != nil {
		// Partially written file; the next event settles it.
		return
	}
	t.mu.Lock()
	if token == t.lastSeen {
		t.mu.Unlock()
		return
	}
	t.lastSeen = token
	fns := make([]func(), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	slog.Debug("syncconfig: credentials changed", "signed_in", token != "")
	for _, fn := range fns {
		fn()
	}
}
