package cli

import (
	"time"

	"github.com/lu-zhengda/mailgate/internal/domain"
)

// ---------------------------------------------------------------------------
// Account JSON types (accounts list)
// ---------------------------------------------------------------------------

type jsonAccount struct {
	ID       string `json:"id"`
	Protocol string `json:"protocol"`
	From     string `json:"from"`
	Incoming string `json:"incoming,omitempty"`
	Outgoing string `json:"outgoing,omitempty"`
}

func toJSONAccounts(accounts []domain.Account) []jsonAccount {
	out := make([]jsonAccount, 0, len(accounts))
	for _, a := range accounts {
		acct := jsonAccount{
			ID:       a.ID,
			Protocol: string(a.Protocol),
			From:     a.From.Email,
		}
		if a.Incoming.Host != "" {
			acct.Incoming = a.Incoming.Addr()
		}
		if a.Outgoing.Host != "" {
			acct.Outgoing = a.Outgoing.Addr()
		}
		out = append(out, acct)
	}
	return out
}

// ---------------------------------------------------------------------------
// Message page JSON types (fetch)
// ---------------------------------------------------------------------------

type jsonPage struct {
	Messages []jsonMessage `json:"messages"`
	Cursor   string        `json:"cursor"`
	Total    int           `json:"total"`
}

type jsonMessage struct {
	ID      string      `json:"id"`
	Folder  string      `json:"folder"`
	From    jsonAddress `json:"from"`
	Subject string      `json:"subject"`
	Date    string      `json:"date,omitempty"`
	Flags   []string    `json:"flags,omitempty"`
}

func toJSONPage(page domain.MessagePage) jsonPage {
	msgs := make([]jsonMessage, 0, len(page.Messages))
	for _, m := range page.Messages {
		date := ""
		if !m.Date.IsZero() {
			date = m.Date.Format(time.RFC3339)
		}
		msgs = append(msgs, jsonMessage{
			ID:      m.ID,
			Folder:  m.Folder,
			From:    toJSONAddress(m.From),
			Subject: m.Subject,
			Date:    date,
			Flags:   m.Flags,
		})
	}
	return jsonPage{Messages: msgs, Cursor: page.Cursor, Total: page.Total}
}

// ---------------------------------------------------------------------------
// Send receipt JSON type (send)
// ---------------------------------------------------------------------------

type jsonReceipt struct {
	OK        bool           `json:"ok"`
	MessageID string         `json:"message_id,omitempty"`
	Accepted  []string       `json:"accepted,omitempty"`
	Rejected  []jsonRejected `json:"rejected,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type jsonRejected struct {
	Address string `json:"address"`
	Reason  string `json:"reason,omitempty"`
}

func toJSONReceipt(r domain.SendReceipt, err error) jsonReceipt {
	out := jsonReceipt{
		OK:        err == nil,
		MessageID: r.MessageID,
		Accepted:  r.Accepted,
	}
	for _, rej := range r.Rejected {
		out.Rejected = append(out.Rejected, jsonRejected{Address: rej.Address, Reason: rej.Reason})
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// ---------------------------------------------------------------------------
// Folder JSON type (folders)
// ---------------------------------------------------------------------------

type jsonFolder struct {
	Name       string   `json:"name"`
	Delimiter  string   `json:"delimiter,omitempty"`
	Attributes []string `json:"attributes,omitempty"`
}

func toJSONFolders(folders []domain.FolderInfo) []jsonFolder {
	out := make([]jsonFolder, 0, len(folders))
	for _, f := range folders {
		out = append(out, jsonFolder{
			Name:       f.Name,
			Delimiter:  f.Delimiter,
			Attributes: f.Attributes,
		})
	}
	return out
}

// ---------------------------------------------------------------------------
// Transfer JSON type (move, copy)
// ---------------------------------------------------------------------------

type jsonTransfer struct {
	Action    string   `json:"action"`
	AccountID string   `json:"account_id"`
	Requested int      `json:"requested"`
	Completed int      `json:"completed"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

func toJSONTransfer(action, accountID string, r domain.MoveReceipt) jsonTransfer {
	return jsonTransfer{
		Action:    action,
		AccountID: accountID,
		Requested: r.Requested,
		Completed: r.Completed,
		FailedIDs: r.FailedIDs,
	}
}

// ---------------------------------------------------------------------------
// Status JSON type (status)
// ---------------------------------------------------------------------------

type jsonStatus struct {
	AccountID string `json:"account_id"`
	State     string `json:"state"`
}

// ---------------------------------------------------------------------------
// Address JSON type (shared)
// ---------------------------------------------------------------------------

type jsonAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

func toJSONAddress(a domain.Address) jsonAddress {
	return jsonAddress{Name: a.Name, Email: a.Email}
}

// ---------------------------------------------------------------------------
// Action JSON type (login, set-secret, create-folder)
// ---------------------------------------------------------------------------

type jsonAction struct {
	OK        bool   `json:"ok"`
	Action    string `json:"action"`
	AccountID string `json:"account_id,omitempty"`
	Folder    string `json:"folder,omitempty"`
}
