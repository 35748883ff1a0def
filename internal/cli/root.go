// Package cli wires the configuration, account registry, connection
// pool, and dispatcher into the mailgate command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/lu-zhengda/mailgate/internal/config"
	"github.com/lu-zhengda/mailgate/internal/dispatch"
	"github.com/lu-zhengda/mailgate/internal/domain"
	"github.com/lu-zhengda/mailgate/internal/handler"
	"github.com/lu-zhengda/mailgate/internal/handler/classic"
	"github.com/lu-zhengda/mailgate/internal/handler/gmail"
	"github.com/lu-zhengda/mailgate/internal/pool"
	"github.com/lu-zhengda/mailgate/internal/registry"
	"github.com/lu-zhengda/mailgate/internal/secret"
)

var (
	// version is set via ldflags at build time.
	version = "dev"
	cfgFile string

	// jsonFlag enables JSON output for all commands.
	jsonFlag    bool
	verboseFlag bool
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "mailgate",
		Short:   "Multi-account email dispatch gateway",
		Long:    "Route fetch, send, and folder operations across IMAP/SMTP and Gmail accounts through one normalized interface.",
		Version: version,
	}
	root.SetVersionTemplate(fmt.Sprintf("mailgate %s\n", version))
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	root.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")
	root.PersistentFlags().BoolVar(&verboseFlag, "verbose", false, "enable debug logging")
	root.AddCommand(newAccountCmd())
	root.AddCommand(newFoldersCmd())
	root.AddCommand(newFetchCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newMoveCmd())
	root.AddCommand(newCopyCmd())
	root.AddCommand(newStatusCmd())
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired components behind every command.
type app struct {
	cfg      *config.Config
	registry *registry.Registry
	pool     *pool.Manager
	gmail    *gmail.Handler
	keyring  *secret.KeyringStore
	dispatch *dispatch.Dispatcher
}

// newApp loads the config and assembles the dispatch stack.
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	accounts, err := cfg.AccountList()
	if err != nil {
		return nil, err
	}
	reg := registry.New(accounts...)

	logger := newLogger()

	idle, reap, handshake, err := cfg.PoolSettings()
	if err != nil {
		return nil, err
	}
	keyring := secret.NewKeyringStore(secret.DefaultService)
	p := pool.New(secret.NewResolver(secret.DefaultService), pool.Config{
		IdleTimeout:      idle,
		ReapInterval:     reap,
		HandshakeTimeout: handshake,
	}, logger)

	attempts, base, max, err := cfg.RetrySettings()
	if err != nil {
		p.Close()
		return nil, err
	}
	opTimeout, err := time.ParseDuration(cfg.Defaults.OperationTimeout)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("invalid defaults.operation_timeout: %w", err)
	}

	gh := gmail.New(gmailCredentials(cfg))
	handlers := map[domain.Protocol]handler.Handler{
		domain.ProtocolClassic:           classic.New(),
		domain.ProviderProtocol("gmail"): gh,
	}

	d := dispatch.New(reg, p, handlers, dispatch.Config{
		MaxAttempts:    attempts,
		BackoffBase:    base,
		BackoffMax:     max,
		OpTimeout:      opTimeout,
		MaxMessageSize: cfg.Defaults.MaxMessageSize,
	}, logger)

	return &app{
		cfg:      cfg,
		registry: reg,
		pool:     p,
		gmail:    gh,
		keyring:  keyring,
		dispatch: d,
	}, nil
}

func (a *app) Close() {
	a.pool.Close()
}

// loadConfig loads the application configuration from the config file.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = filepath.Join(config.ConfigDir(), "config.toml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// gmailCredentials returns the OAuth client credentials from the
// first available source: config file, then environment variables.
func gmailCredentials(cfg *config.Config) (clientID, clientSecret string) {
	if cfg.Gmail.ClientID != "" && cfg.Gmail.ClientSecret != "" {
		return cfg.Gmail.ClientID, cfg.Gmail.ClientSecret
	}
	return os.Getenv("MAILGATE_GMAIL_CLIENT_ID"), os.Getenv("MAILGATE_GMAIL_CLIENT_SECRET")
}

// newLogger returns a structured logger on stderr so stdout stays
// clean for command output.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verboseFlag {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
