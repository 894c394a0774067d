package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Driver   DriverConfig
	Storage  StorageConfig
	Sessions SessionConfig
	Sync     SyncConfig
	Queue    QueueConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type DriverConfig struct {
	BaseURL string
}

type StorageConfig struct {
	DataDir string
}

type SessionConfig struct {
	Capacity     int
	IdleTTL      time.Duration
	ReapInterval time.Duration
}

type SyncConfig struct {
	OwnerID      string
	Freshness    time.Duration
	Schedule     string
	PauseTimeout time.Duration
	// Credentials maps owner ids to portal logins, parsed from
	// "owner=user:pass" entries separated by commas.
	Credentials map[string]Login
}

type Login struct {
	Username string
	Password string
}

type QueueConfig struct {
	PollInterval time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 7400,
		},
		Driver: DriverConfig{
			BaseURL: "http://localhost:9515",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Sessions: SessionConfig{
			Capacity:     4,
			IdleTTL:      10 * time.Minute,
			ReapInterval: time.Minute,
		},
		Sync: SyncConfig{
			Freshness:    15 * time.Minute,
			Schedule:     "@every 1h",
			PauseTimeout: 30 * time.Second,
			Credentials:  map[string]Login{},
		},
		Queue: QueueConfig{
			PollInterval: 500 * time.Millisecond,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults overridden by ORDMIRROR_*
// environment variables, then validates it.
func Load() (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg)

	if raw := os.Getenv("ORDMIRROR_PORTAL_CREDENTIALS"); raw != "" {
		creds, err := ParseCredentials(raw)
		if err != nil {
			return Config{}, fmt.Errorf("ORDMIRROR_PORTAL_CREDENTIALS: %w", err)
		}
		cfg.Sync.Credentials = creds
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Server.APIToken == "" {
		return fmt.Errorf("missing required config: API token. Set it via environment variable ORDMIRROR_API_TOKEN")
	}
	if c.Sync.OwnerID == "" {
		return fmt.Errorf("missing required config: sync owner id. Set it via environment variable ORDMIRROR_SYNC_OWNER_ID")
	}
	if _, ok := c.Sync.Credentials[c.Sync.OwnerID]; !ok {
		return fmt.Errorf("no portal credentials configured for sync owner %q", c.Sync.OwnerID)
	}
	if c.Sessions.Capacity < 1 {
		return fmt.Errorf("session capacity must be at least 1, got %d", c.Sessions.Capacity)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	return nil
}

// ParseCredentials parses "owner=user:pass,owner2=user2:pass2".
func ParseCredentials(raw string) (map[string]Login, error) {
	out := map[string]Login{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		owner, login, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("malformed entry %q, want owner=user:pass", entry)
		}
		user, pass, ok := strings.Cut(login, ":")
		if !ok || owner == "" || user == "" {
			return nil, fmt.Errorf("malformed entry %q, want owner=user:pass", entry)
		}
		out[owner] = Login{Username: user, Password: pass}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no credential entries found")
	}
	return out, nil
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "ordmirror")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "ordmirror-data"
	}
	return filepath.Join(home, ".local", "share", "ordmirror")
}
