package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lu-zhengda/mailgate/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Pool.IdleTimeout != "5m" {
		t.Errorf("default idle_timeout = %q, want %q", cfg.Pool.IdleTimeout, "5m")
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("default max_attempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Defaults.MaxMessageSize != domain.DefaultMaxMessageSize {
		t.Errorf("default max_message_size = %d", cfg.Defaults.MaxMessageSize)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	content := `
[pool]
idle_timeout = "2m"
reap_interval = "30s"

[retry]
max_attempts = 5
backoff_base = "250ms"

[[accounts]]
id = "work"
protocol = "classic"
from_address = "me@example.com"
credential_ref = "keyring:work"
timeout = "45s"

  [accounts.incoming]
  host = "imap.example.com"
  port = 993
  use_tls = true

  [accounts.outgoing]
  host = "smtp.example.com"
  port = 465
  use_tls = true

[[accounts]]
id = "personal"
protocol = "provider:gmail"
credential_ref = "keyring:personal"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Pool.IdleTimeout != "2m" {
		t.Errorf("idle_timeout = %q, want %q", cfg.Pool.IdleTimeout, "2m")
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d, want 5", cfg.Retry.MaxAttempts)
	}

	accounts, err := cfg.AccountList()
	if err != nil {
		t.Fatalf("AccountList() error: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("AccountList() returned %d accounts, want 2", len(accounts))
	}

	work := accounts[0]
	if work.Protocol != domain.ProtocolClassic {
		t.Errorf("protocol = %q", work.Protocol)
	}
	if work.Incoming.Addr() != "imap.example.com:993" {
		t.Errorf("incoming addr = %q", work.Incoming.Addr())
	}
	if !work.Outgoing.UseTLS {
		t.Error("outgoing use_tls not parsed")
	}
	if work.Timeout != 45*time.Second {
		t.Errorf("timeout = %v, want 45s", work.Timeout)
	}

	personal := accounts[1]
	if personal.Protocol.ProviderName() != "gmail" {
		t.Errorf("provider = %q", personal.Protocol.ProviderName())
	}
	if personal.Timeout != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", personal.Timeout)
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("Load() should return defaults for missing file, got error: %v", err)
	}
	if cfg.Pool.IdleTimeout != "5m" {
		t.Errorf("idle_timeout = %q, want default %q", cfg.Pool.IdleTimeout, "5m")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(cfgPath, []byte("not valid [[ toml"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(cfgPath)
	if err == nil {
		t.Fatal("Load() should return error for invalid TOML")
	}
	if !strings.Contains(err.Error(), "failed to parse config") {
		t.Errorf("error = %q, want it to contain %q", err.Error(), "failed to parse config")
	}
}

func TestAccountList_Validation(t *testing.T) {
	tests := []struct {
		name    string
		acct    AccountConfig
		wantErr string
	}{
		{
			"empty id",
			AccountConfig{Protocol: "classic"},
			"empty id",
		},
		{
			"unknown protocol",
			AccountConfig{ID: "x", Protocol: "pop3"},
			"unknown protocol",
		},
		{
			"classic without servers",
			AccountConfig{ID: "x", Protocol: "classic"},
			"incoming and outgoing",
		},
		{
			"bad timeout",
			AccountConfig{
				ID: "x", Protocol: "provider:gmail", Timeout: "soon",
			},
			"timeout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			cfg.Accounts = []AccountConfig{tt.acct}
			_, err := cfg.AccountList()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestPoolAndRetrySettings(t *testing.T) {
	cfg := defaults()
	idle, reap, handshake, err := cfg.PoolSettings()
	if err != nil {
		t.Fatalf("PoolSettings() error: %v", err)
	}
	if idle != 5*time.Minute || reap != time.Minute || handshake != 30*time.Second {
		t.Errorf("pool settings = %v, %v, %v", idle, reap, handshake)
	}

	attempts, base, max, err := cfg.RetrySettings()
	if err != nil {
		t.Fatalf("RetrySettings() error: %v", err)
	}
	if attempts != 3 || base != 500*time.Millisecond || max != 8*time.Second {
		t.Errorf("retry settings = %d, %v, %v", attempts, base, max)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		dir := ConfigDir()
		want := "/custom/config/mailgate"
		if dir != want {
			t.Errorf("ConfigDir() = %q, want %q", dir, want)
		}
	})
	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		dir := ConfigDir()
		if !strings.HasSuffix(dir, filepath.Join(".config", "mailgate")) {
			t.Errorf("ConfigDir() = %q", dir)
		}
	})
}
