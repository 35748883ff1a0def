package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/lu-zhengda/mailgate/internal/domain"
)

// Config holds all mailgate configuration.
type Config struct {
	Defaults DefaultsConfig  `toml:"defaults"`
	Pool     PoolConfig      `toml:"pool"`
	Retry    RetryConfig     `toml:"retry"`
	Gmail    GmailConfig     `toml:"gmail"`
	Accounts []AccountConfig `toml:"accounts"`
}

// DefaultsConfig holds per-operation defaults applied to accounts that
// do not override them.
type DefaultsConfig struct {
	OperationTimeout string `toml:"operation_timeout"`
	MaxMessageSize   int64  `toml:"max_message_size"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	IdleTimeout      string `toml:"idle_timeout"`
	ReapInterval     string `toml:"reap_interval"`
	HandshakeTimeout string `toml:"handshake_timeout"`
}

// RetryConfig holds the dispatcher retry policy.
type RetryConfig struct {
	MaxAttempts int    `toml:"max_attempts"`
	BackoffBase string `toml:"backoff_base"`
	BackoffMax  string `toml:"backoff_max"`
}

// GmailConfig holds Gmail OAuth credentials.
// Users can override via config file or env vars.
type GmailConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

// AccountConfig describes one configured account.
type AccountConfig struct {
	ID            string       `toml:"id"`
	Protocol      string       `toml:"protocol"`
	FromName      string       `toml:"from_name"`
	FromAddress   string       `toml:"from_address"`
	Incoming      ServerConfig `toml:"incoming"`
	Outgoing      ServerConfig `toml:"outgoing"`
	CredentialRef string       `toml:"credential_ref"`
	Timeout       string       `toml:"timeout"`
}

// ServerConfig describes one network endpoint of an account.
type ServerConfig struct {
	Host   string `toml:"host"`
	Port   int    `toml:"port"`
	UseTLS bool   `toml:"use_tls"`
}

func defaults() Config {
	return Config{
		Defaults: DefaultsConfig{
			OperationTimeout: "30s",
			MaxMessageSize:   domain.DefaultMaxMessageSize,
		},
		Pool: PoolConfig{
			IdleTimeout:      "5m",
			ReapInterval:     "1m",
			HandshakeTimeout: "30s",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BackoffBase: "500ms",
			BackoffMax:  "8s",
		},
	}
}

// Load reads config from path. If path is empty or the file does not
// exist, returns defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// AccountList converts the configured accounts into domain records,
// applying the default operation timeout where none is set.
func (c *Config) AccountList() ([]domain.Account, error) {
	defTimeout, err := parseDuration("defaults.operation_timeout", c.Defaults.OperationTimeout)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Account, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.ID == "" {
			return nil, fmt.Errorf("account with empty id in config")
		}
		proto := domain.Protocol(a.Protocol)
		if proto != domain.ProtocolClassic && !proto.IsProvider() {
			return nil, fmt.Errorf("account %q: unknown protocol %q", a.ID, a.Protocol)
		}
		if proto == domain.ProtocolClassic && (a.Incoming.Host == "" || a.Outgoing.Host == "") {
			return nil, fmt.Errorf("account %q: classic accounts need incoming and outgoing servers", a.ID)
		}

		timeout := defTimeout
		if a.Timeout != "" {
			timeout, err = parseDuration(fmt.Sprintf("account %q timeout", a.ID), a.Timeout)
			if err != nil {
				return nil, err
			}
		}

		out = append(out, domain.Account{
			ID:            a.ID,
			Protocol:      proto,
			From:          domain.Address{Name: a.FromName, Email: a.FromAddress},
			Incoming:      domain.Endpoint(a.Incoming),
			Outgoing:      domain.Endpoint(a.Outgoing),
			CredentialRef: a.CredentialRef,
			Timeout:       timeout,
		})
	}
	return out, nil
}

// PoolSettings returns the parsed pool durations.
func (c *Config) PoolSettings() (idle, reap, handshake time.Duration, err error) {
	if idle, err = parseDuration("pool.idle_timeout", c.Pool.IdleTimeout); err != nil {
		return
	}
	if reap, err = parseDuration("pool.reap_interval", c.Pool.ReapInterval); err != nil {
		return
	}
	handshake, err = parseDuration("pool.handshake_timeout", c.Pool.HandshakeTimeout)
	return
}

// RetrySettings returns the parsed retry policy.
func (c *Config) RetrySettings() (attempts int, base, max time.Duration, err error) {
	attempts = c.Retry.MaxAttempts
	if base, err = parseDuration("retry.backoff_base", c.Retry.BackoffBase); err != nil {
		return
	}
	max, err = parseDuration("retry.backoff_max", c.Retry.BackoffMax)
	return
}

func parseDuration(field, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s %q: %w", field, v, err)
	}
	return d, nil
}

// ConfigDir returns the mailgate config directory path.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "mailgate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "mailgate")
}
