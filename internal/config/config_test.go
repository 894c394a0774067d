package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ORDMIRROR_API_TOKEN", "tok")
	t.Setenv("ORDMIRROR_SYNC_OWNER_ID", "acct-1")
	t.Setenv("ORDMIRROR_PORTAL_CREDENTIALS", "acct-1=mario:secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7400 {
		t.Errorf("Port = %d, want 7400", cfg.Server.Port)
	}
	if cfg.Sessions.Capacity != 4 {
		t.Errorf("Capacity = %d, want 4", cfg.Sessions.Capacity)
	}
	if cfg.Sync.Freshness != 15*time.Minute {
		t.Errorf("Freshness = %v, want 15m", cfg.Sync.Freshness)
	}
	if cfg.Sync.Schedule != "@every 1h" {
		t.Errorf("Schedule = %q, want @every 1h", cfg.Sync.Schedule)
	}
	login, ok := cfg.Sync.Credentials["acct-1"]
	if !ok || login.Username != "mario" || login.Password != "secret" {
		t.Errorf("Credentials[acct-1] = %+v, want mario/secret", login)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ORDMIRROR_SERVER_PORT", "9000")
	t.Setenv("ORDMIRROR_SESSION_IDLE_TTL", "30m")
	t.Setenv("ORDMIRROR_SYNC_PAUSE_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Sessions.IdleTTL != 30*time.Minute {
		t.Errorf("IdleTTL = %v, want 30m", cfg.Sessions.IdleTTL)
	}
	if cfg.Sync.PauseTimeout != 5*time.Second {
		t.Errorf("PauseTimeout = %v, want 5s", cfg.Sync.PauseTimeout)
	}
}

func TestLoadMalformedEnvKeepsDefault(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ORDMIRROR_SERVER_PORT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7400 {
		t.Errorf("Port = %d, want default 7400", cfg.Server.Port)
	}
}

func TestLoadMissingToken(t *testing.T) {
	t.Setenv("ORDMIRROR_API_TOKEN", "")
	t.Setenv("ORDMIRROR_SYNC_OWNER_ID", "acct-1")
	t.Setenv("ORDMIRROR_PORTAL_CREDENTIALS", "acct-1=mario:secret")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "API token") {
		t.Fatalf("Load error = %v, want missing API token", err)
	}
}

func TestLoadMissingOwnerCredentials(t *testing.T) {
	t.Setenv("ORDMIRROR_API_TOKEN", "tok")
	t.Setenv("ORDMIRROR_SYNC_OWNER_ID", "acct-2")
	t.Setenv("ORDMIRROR_PORTAL_CREDENTIALS", "acct-1=mario:secret")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "acct-2") {
		t.Fatalf("Load error = %v, want missing credentials for acct-2", err)
	}
}

func TestParseCredentials(t *testing.T) {
	creds, err := ParseCredentials("a=u1:p1, b=u2:p2")
	if err != nil {
		t.Fatalf("ParseCredentials failed: %v", err)
	}
	if len(creds) != 2 {
		t.Fatalf("parsed %d entries, want 2", len(creds))
	}
	if creds["b"].Username != "u2" || creds["b"].Password != "p2" {
		t.Errorf("creds[b] = %+v, want u2/p2", creds["b"])
	}

	for _, bad := range []string{"", "nodelim", "=u:p", "a=nopass"} {
		if _, err := ParseCredentials(bad); err == nil {
			t.Errorf("ParseCredentials(%q) succeeded, want error", bad)
		}
	}
}
