// Package handler defines the contract every protocol variant
// implements, plus the shared error taxonomy the dispatcher and the
// callers rely on. Concrete variants live in subpackages; the
// dispatcher selects one by the account's protocol tag and never
// depends on which variant it holds.
package handler

import (
	"context"

	"github.com/lu-zhengda/mailgate/internal/domain"
	"github.com/lu-zhengda/mailgate/internal/secret"
)

// Conn is a live, handler-specific session bound to one account. A
// Conn is owned by the connection manager, used by at most one
// operation at a time, and must not be shared across accounts.
type Conn interface {
	// FetchPage returns one page of message summaries from folder,
	// resuming after cursor ("" = start of folder). Cursor semantics
	// follow domain.MessagePage.
	FetchPage(ctx context.Context, folder, cursor string, pageSize int, opts domain.FetchOptions) (domain.MessagePage, error)

	// Send delivers msg. Rejected recipients are reported in the
	// receipt; a mixed outcome is returned with a PartialFailure
	// error so it can never be mistaken for full success.
	Send(ctx context.Context, msg *domain.OutboundMessage) (domain.SendReceipt, error)

	ListFolders(ctx context.Context) ([]domain.FolderInfo, error)
	CreateFolder(ctx context.Context, name string) error

	// MoveMessages and CopyMessages operate per message id and report
	// per-id failures in the receipt rather than aborting the batch.
	MoveMessages(ctx context.Context, folder string, ids []string, dest string) (domain.MoveReceipt, error)
	CopyMessages(ctx context.Context, folder string, ids []string, dest string) (domain.MoveReceipt, error)

	// Close tears down the underlying transport.
	Close() error
}

// Handler performs the protocol handshake for an account and returns
// a live Conn. Connect must complete within ctx or fail; credentials
// are supplied for the duration of the call only.
type Handler interface {
	Connect(ctx context.Context, acct domain.Account, creds secret.Credentials) (Conn, error)
}
