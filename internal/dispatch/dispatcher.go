// Package dispatch is the single entry point for account operations.
// It resolves the account, picks the protocol handler, leases a
// session from the connection manager, and applies the retry and
// release policy around the handler call. Callers never touch
// handlers or sessions directly.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/lu-zhengda/mailgate/internal/domain"
	"github.com/lu-zhengda/mailgate/internal/handler"
	"github.com/lu-zhengda/mailgate/internal/pool"
	"github.com/lu-zhengda/mailgate/internal/registry"
)

// Config tunes the retry policy and operation limits.
type Config struct {
	// MaxAttempts bounds tries per operation, first attempt included.
	MaxAttempts int

	// BackoffBase and BackoffMax shape the exponential delay between
	// attempts.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// OpTimeout bounds one operation attempt for accounts that do not
	// set their own timeout.
	OpTimeout time.Duration

	// MaxMessageSize caps outbound messages in bytes.
	MaxMessageSize int64
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 8 * time.Second
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 30 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = domain.DefaultMaxMessageSize
	}
	return c
}

// Dispatcher routes operations to the right handler with pooled
// sessions, retries, and normalized errors.
type Dispatcher struct {
	registry *registry.Registry
	pool     *pool.Manager
	handlers map[domain.Protocol]handler.Handler
	cfg      Config
	log      *slog.Logger
}

// New creates a dispatcher over the given account registry, session
// pool, and protocol handler table.
func New(reg *registry.Registry, p *pool.Manager, handlers map[domain.Protocol]handler.Handler, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: reg,
		pool:     p,
		handlers: handlers,
		cfg:      cfg.withDefaults(),
		log:      logger,
	}
}

// FetchPage returns one page of message summaries from an account's
// folder.
func (d *Dispatcher) FetchPage(ctx context.Context, accountID, folder, cursor string, pageSize int, opts domain.FetchOptions) (domain.MessagePage, error) {
	var page domain.MessagePage
	err := d.invoke(ctx, accountID, "fetch_page", nil, func(ctx context.Context, conn handler.Conn) error {
		var err error
		page, err = conn.FetchPage(ctx, folder, cursor, pageSize, opts)
		return err
	})
	return page, err
}

// Send validates and delivers msg through the account's handler.
// Retries only cover acquiring a session: once the handler takes the
// message it is never handed over again, even when the failure
// happens before the delivery transaction opens, so a retry can never
// duplicate a send.
func (d *Dispatcher) Send(ctx context.Context, accountID string, msg *domain.OutboundMessage) (domain.SendReceipt, error) {
	if err := msg.Validate(d.cfg.MaxMessageSize); err != nil {
		return domain.SendReceipt{}, handler.Wrap(handler.KindValidation, err, "invalid message")
	}

	var receipt domain.SendReceipt
	started := false
	canRetry := func(err error) bool {
		return !started && handler.IsRetryable(err)
	}
	err := d.invoke(ctx, accountID, "send", canRetry, func(ctx context.Context, conn handler.Conn) error {
		started = true
		var err error
		receipt, err = conn.Send(ctx, msg)
		return err
	})
	return receipt, err
}

// ListFolders returns an account's folders.
func (d *Dispatcher) ListFolders(ctx context.Context, accountID string) ([]domain.FolderInfo, error) {
	var folders []domain.FolderInfo
	err := d.invoke(ctx, accountID, "list_folders", nil, func(ctx context.Context, conn handler.Conn) error {
		var err error
		folders, err = conn.ListFolders(ctx)
		return err
	})
	return folders, err
}

// CreateFolder creates a folder on the account.
func (d *Dispatcher) CreateFolder(ctx context.Context, accountID, name string) error {
	return d.invoke(ctx, accountID, "create_folder", nil, func(ctx context.Context, conn handler.Conn) error {
		return conn.CreateFolder(ctx, name)
	})
}

// MoveMessages moves ids from folder to dest. Per-id failures are
// reported in the receipt; the batch itself is not retried because a
// partially applied move is not idempotent.
func (d *Dispatcher) MoveMessages(ctx context.Context, accountID, folder string, ids []string, dest string) (domain.MoveReceipt, error) {
	var receipt domain.MoveReceipt
	started := false
	canRetry := func(err error) bool {
		return !started && handler.IsRetryable(err)
	}
	err := d.invoke(ctx, accountID, "move_messages", canRetry, func(ctx context.Context, conn handler.Conn) error {
		started = true
		var err error
		receipt, err = conn.MoveMessages(ctx, folder, ids, dest)
		return err
	})
	return receipt, err
}

// CopyMessages copies ids from folder to dest.
func (d *Dispatcher) CopyMessages(ctx context.Context, accountID, folder string, ids []string, dest string) (domain.MoveReceipt, error) {
	var receipt domain.MoveReceipt
	err := d.invoke(ctx, accountID, "copy_messages", nil, func(ctx context.Context, conn handler.Conn) error {
		var err error
		receipt, err = conn.CopyMessages(ctx, folder, ids, dest)
		return err
	})
	return receipt, err
}

// SessionState reports the pool state for an account.
func (d *Dispatcher) SessionState(accountID string) (pool.State, bool) {
	return d.pool.State(accountID)
}

type opFunc func(ctx context.Context, conn handler.Conn) error

// invoke runs one operation against an account with the full dispatch
// policy: resolve account and handler, lease a session, bound the
// attempt with a deadline, classify the outcome, release or fault the
// session, and retry transient failures with backoff. canRetry, when
// non-nil, further restricts which failures may be retried.
func (d *Dispatcher) invoke(ctx context.Context, accountID, op string, canRetry func(error) bool, fn opFunc) error {
	acct, err := d.registry.Get(accountID)
	if err != nil {
		return err
	}
	h, ok := d.handlers[acct.Protocol]
	if !ok {
		return handler.Errorf(handler.KindNotFound, "no handler for protocol %s", acct.Protocol)
	}
	if canRetry == nil {
		canRetry = handler.IsRetryable
	}

	opID := uuid.NewString()
	start := time.Now()
	log := d.log.With("op", op, "op_id", opID, "account", accountID)

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		lastErr = d.attempt(ctx, acct, h, fn)
		if lastErr == nil {
			log.Info("operation complete",
				"attempts", attempt,
				"duration", time.Since(start))
			return nil
		}
		if attempt == d.cfg.MaxAttempts || !canRetry(lastErr) {
			break
		}
		delay := d.backoff(attempt)
		log.Warn("operation attempt failed, retrying",
			"attempt", attempt,
			"error_kind", string(handler.KindOf(lastErr)),
			"backoff", delay,
			"error", lastErr)
		if err := sleepContext(ctx, delay); err != nil {
			lastErr = handler.Wrap(handler.KindTimeout, err, "operation canceled during backoff")
			break
		}
	}

	log.Warn("operation failed",
		"error_kind", string(handler.KindOf(lastErr)),
		"duration", time.Since(start),
		"error", lastErr)
	return lastErr
}

// attempt runs fn once against a leased session. Transport-level
// failures fault the session so the next lease reconnects; logical
// failures like partial sends or missing folders keep it alive.
func (d *Dispatcher) attempt(ctx context.Context, acct domain.Account, h handler.Handler, fn opFunc) error {
	sess, err := d.pool.Acquire(ctx, acct, h)
	if err != nil {
		return err
	}

	timeout := acct.Timeout
	if timeout <= 0 {
		timeout = d.cfg.OpTimeout
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = fn(opCtx, sess.Conn)
	if err == nil {
		d.pool.Release(sess, false)
		return nil
	}

	err = handler.Classify(err, "operation failed for account "+acct.ID)
	d.pool.Release(sess, sessionFatal(err))
	return err
}

// sessionFatal reports whether an error means the session's transport
// can no longer be trusted.
func sessionFatal(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// The operation was abandoned mid-flight; the connection may
		// have unread protocol state.
		return true
	}
	switch handler.KindOf(err) {
	case handler.KindConnection, handler.KindTimeout, handler.KindProtocol, handler.KindAuth:
		return true
	default:
		return false
	}
}

// backoff returns the delay before the next attempt: exponential in
// the attempt number, capped, with jitter in [d/2, d) to avoid
// synchronized retries.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.BackoffBase << (attempt - 1)
	if delay > d.cfg.BackoffMax || delay <= 0 {
		delay = d.cfg.BackoffMax
	}
	half := delay / 2
	return half + rand.N(half)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
