// Package pool owns the per-account network sessions. Sessions are
// created lazily on first acquire, serialized per account (the
// underlying protocols are not safely multiplexable on one transport),
// reaped after an idle timeout, and discarded on fatal outcomes so the
// next acquire starts from a clean handshake.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lu-zhengda/mailgate/internal/domain"
	"github.com/lu-zhengda/mailgate/internal/handler"
	"github.com/lu-zhengda/mailgate/internal/secret"
)

// State describes the lifecycle of one account's session slot.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Session is a live handler connection bound to one account. It is
// handed out by Acquire and must be returned with Release; at most one
// operation holds it at a time.
type Session struct {
	AccountID string
	Conn      handler.Conn

	lastUsed time.Time
}

type slot struct {
	// Holding a token on sem grants exclusive use of the slot's
	// session. The reaper takes the same token, so it never races an
	// in-flight operation.
	sem chan struct{}

	mu    sync.Mutex // guards state and sess for inspection
	state State
	sess  *Session
}

func newSlot() *slot {
	return &slot{sem: make(chan struct{}, 1)}
}

func (s *slot) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Config holds the pool knobs. Zero values fall back to the documented
// defaults.
type Config struct {
	IdleTimeout      time.Duration
	ReapInterval     time.Duration
	HandshakeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.ReapInterval == 0 {
		c.ReapInterval = time.Minute
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 30 * time.Second
	}
	return c
}

// Manager is the connection manager: one session slot per account id,
// fully independent across accounts.
type Manager struct {
	resolver secret.Resolver
	cfg      Config
	log      *slog.Logger

	mu    sync.Mutex
	slots map[string]*slot

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Manager and starts its background reaper.
func New(resolver secret.Resolver, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		resolver: resolver,
		cfg:      cfg.withDefaults(),
		log:      logger,
		slots:    make(map[string]*slot),
		done:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.reapLoop()
	return m
}

func (m *Manager) slot(accountID string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[accountID]
	if !ok {
		s = newSlot()
		m.slots[accountID] = s
	}
	return s
}

// Acquire returns the account's session, waiting until it is free.
// If no Ready session exists, it performs the handler handshake with
// the account's timeout budget. The wait is cancellable through ctx.
func (m *Manager) Acquire(ctx context.Context, acct domain.Account, h handler.Handler) (*Session, error) {
	s := m.slot(acct.ID)

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, handler.Classify(ctx.Err(), "waiting for session of account "+acct.ID)
	}

	s.mu.Lock()
	ready := s.state == StateReady && s.sess != nil
	s.mu.Unlock()
	if ready {
		s.sess.lastUsed = time.Now()
		return s.sess, nil
	}

	s.setState(StateConnecting)

	creds, err := m.resolver.Resolve(acct.CredentialRef)
	if err != nil {
		s.setState(StateDisconnected)
		<-s.sem
		return nil, handler.Wrap(handler.KindAuth, err, "failed to resolve credentials for account "+acct.ID)
	}

	timeout := acct.Timeout
	if timeout == 0 {
		timeout = m.cfg.HandshakeTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	conn, err := h.Connect(hctx, acct, creds)
	cancel()
	if err != nil {
		s.setState(StateDisconnected)
		<-s.sem
		cerr := handler.Classify(err, "handshake failed for account "+acct.ID)
		if cerr.Kind == handler.KindTimeout && cerr.Retryable {
			// A handshake that does not complete in time is a
			// connection failure, not an operation timeout.
			cerr = handler.Wrap(handler.KindConnection, err, "handshake timed out for account "+acct.ID)
		}
		return nil, cerr
	}

	s.mu.Lock()
	s.state = StateReady
	s.sess = &Session{AccountID: acct.ID, Conn: conn, lastUsed: time.Now()}
	sess := s.sess
	s.mu.Unlock()

	m.log.Debug("session established", "account", acct.ID)
	return sess, nil
}

// Release returns a session to the pool. A fatal outcome (auth
// rejection, protocol desync, timeout or cancellation mid-operation)
// closes the transport and marks the slot Faulted so the next Acquire
// reconnects; otherwise the session stays Ready for reuse.
func (m *Manager) Release(sess *Session, fatal bool) {
	s := m.slot(sess.AccountID)
	if fatal {
		s.mu.Lock()
		if s.sess != nil && s.sess.Conn != nil {
			_ = s.sess.Conn.Close()
		}
		s.sess = nil
		s.state = StateFaulted
		s.mu.Unlock()
		m.log.Debug("session faulted", "account", sess.AccountID)
	} else {
		sess.lastUsed = time.Now()
		s.setState(StateReady)
	}
	<-s.sem
}

// State reports the current slot state for an account.
func (m *Manager) State(accountID string) (State, bool) {
	m.mu.Lock()
	s, ok := m.slots[accountID]
	m.mu.Unlock()
	if !ok {
		return StateDisconnected, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, true
}

// Reap closes sessions idle beyond the idle timeout. It skips any
// slot currently held by an operation.
func (m *Manager) Reap() {
	m.mu.Lock()
	slots := make(map[string]*slot, len(m.slots))
	for id, s := range m.slots {
		slots[id] = s
	}
	m.mu.Unlock()

	for id, s := range slots {
		select {
		case s.sem <- struct{}{}:
		default:
			continue // in use
		}
		s.mu.Lock()
		if s.sess != nil && time.Since(s.sess.lastUsed) >= m.cfg.IdleTimeout {
			_ = s.sess.Conn.Close()
			s.sess = nil
			s.state = StateDisconnected
			m.log.Debug("session reaped", "account", id)
		}
		s.mu.Unlock()
		<-s.sem
	}
}

func (m *Manager) reapLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Reap()
		case <-m.done:
			return
		}
	}
}

// Close stops the reaper and tears down every session. It waits for
// in-flight operations to release their slots.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	m.wg.Wait()

	m.mu.Lock()
	slots := make([]*slot, 0, len(m.slots))
	for _, s := range m.slots {
		slots = append(slots, s)
	}
	m.mu.Unlock()

	for _, s := range slots {
		s.sem <- struct{}{}
		s.mu.Lock()
		if s.sess != nil && s.sess.Conn != nil {
			_ = s.sess.Conn.Close()
		}
		s.sess = nil
		s.state = StateDisconnected
		s.mu.Unlock()
		<-s.sem
	}
	return nil
}
