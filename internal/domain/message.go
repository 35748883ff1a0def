package domain

import "time"

type Address struct {
	Name  string
	Email string
}

func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return a.Name + " <" + a.Email + ">"
}

// MessageSummary is the normalized header-level view of one message,
// shared by every handler variant. Bodies are fetched on demand and
// are not part of a page.
type MessageSummary struct {
	ID      string
	Folder  string
	From    Address
	Subject string
	Date    time.Time
	Flags   []string
}

// MessagePage is one page of summaries plus the cursor to resume from.
//
// The cursor is opaque. The empty string is the start-of-folder
// sentinel. A page is terminal when it is empty and its cursor equals
// the cursor the caller supplied; repeating a terminal cursor is
// stable.
type MessagePage struct {
	Messages []MessageSummary
	Cursor   string
	Total    int
}

// Terminal reports whether the page ends paging relative to the
// cursor that produced it.
func (p MessagePage) Terminal(supplied string) bool {
	return len(p.Messages) == 0 && p.Cursor == supplied
}

// FetchOptions narrows a fetch to messages matching every set filter.
// Zero values mean "no filter". Filtered fetches stay restartable
// under the same cursor contract.
type FetchOptions struct {
	Since   time.Time
	Before  time.Time
	Subject string
	From    string
	To      string
	Body    string
	Text    string
}

// Empty reports whether no filter is set.
func (o FetchOptions) Empty() bool {
	return o.Since.IsZero() && o.Before.IsZero() &&
		o.Subject == "" && o.From == "" && o.To == "" &&
		o.Body == "" && o.Text == ""
}

// FolderInfo describes one folder/mailbox of an account.
type FolderInfo struct {
	Name       string
	Delimiter  string
	Attributes []string
}

// MoveReceipt reports the outcome of a move or copy operation.
// FailedIDs lists the message ids that could not be moved or copied;
// a non-empty list with Completed > 0 is a partial outcome and is
// always surfaced to the caller.
type MoveReceipt struct {
	Requested int
	Completed int
	FailedIDs []string
}
