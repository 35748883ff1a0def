// Package classic implements the handler contract against plain
// IMAP/SMTP servers. The IMAP connection is established at handshake
// time and kept alive for the session; SMTP transactions are opened
// per send, matching how submission servers treat idle clients.
package classic

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/lu-zhengda/mailgate/internal/domain"
	"github.com/lu-zhengda/mailgate/internal/handler"
	"github.com/lu-zhengda/mailgate/internal/secret"
)

// Handler connects classic accounts.
type Handler struct{}

func New() *Handler { return &Handler{} }

// Conn is one live classic session: a logged-in IMAP client plus the
// material needed to open SMTP transactions on demand.
type Conn struct {
	account domain.Account
	creds   secret.Credentials
	imap    *imapclient.Client
	net     net.Conn
}

// Connect dials the account's IMAP endpoint and logs in. The deadline
// of ctx bounds the whole handshake, including the TLS and LOGIN
// exchanges.
func (h *Handler) Connect(ctx context.Context, acct domain.Account, creds secret.Credentials) (handler.Conn, error) {
	ep := acct.Incoming
	dialer := &net.Dialer{}
	netConn, err := dialer.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return nil, handler.Classify(err, "failed to dial IMAP "+ep.Addr())
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(dl)
	}

	var client *imapclient.Client
	if ep.UseTLS {
		tlsConn := tls.Client(netConn, &tls.Config{ServerName: ep.Host})
		client = imapclient.New(tlsConn, nil)
	} else {
		client, err = imapclient.NewStartTLS(netConn, nil)
		if err != nil {
			_ = netConn.Close()
			return nil, handler.Classify(err, "failed to negotiate STARTTLS with "+ep.Addr())
		}
	}

	if err := client.Login(creds.Username, creds.Password).Wait(); err != nil {
		_ = client.Close()
		detail := handler.Redact(
			"IMAP login rejected for "+creds.Username+" at "+ep.Addr(),
			creds.Password,
		)
		return nil, handler.Wrap(handler.KindAuth, err, detail)
	}

	// Handshake is done; each operation sets its own budget via watch.
	_ = netConn.SetDeadline(time.Time{})

	return &Conn{account: acct, creds: creds, imap: client, net: netConn}, nil
}

// watch aborts in-flight transport reads and writes when ctx ends
// before the operation does. The returned stop func must be deferred
// by the operation; it restores the transport to an unbounded
// deadline.
func (c *Conn) watch(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		select {
		case <-ctx.Done():
			_ = c.net.SetDeadline(time.Now())
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-finished
		_ = c.net.SetDeadline(time.Time{})
	}
}

// Close logs out and tears down the IMAP transport.
func (c *Conn) Close() error {
	if err := c.imap.Logout().Wait(); err != nil {
		return c.imap.Close()
	}
	return nil
}
