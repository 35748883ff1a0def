package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/lu-zhengda/mailgate/internal/domain"
)

func TestToJSONAccounts(t *testing.T) {
	accounts := []domain.Account{
		{
			ID:       "work",
			Protocol: domain.ProtocolClassic,
			From:     domain.Address{Email: "user@example.com"},
			Incoming: domain.Endpoint{Host: "imap.example.com", Port: 993},
			Outgoing: domain.Endpoint{Host: "smtp.example.com", Port: 465},
		},
		{
			ID:       "personal",
			Protocol: domain.ProviderProtocol("gmail"),
			From:     domain.Address{Email: "me@gmail.com"},
		},
	}

	got := toJSONAccounts(accounts)

	if len(got) != 2 {
		t.Fatalf("got %d accounts, want 2", len(got))
	}
	if got[0].ID != "work" {
		t.Errorf("got ID %q, want %q", got[0].ID, "work")
	}
	if got[0].Incoming != "imap.example.com:993" {
		t.Errorf("got incoming %q", got[0].Incoming)
	}
	if got[1].Protocol != "provider:gmail" {
		t.Errorf("got protocol %q, want %q", got[1].Protocol, "provider:gmail")
	}
	if got[1].Incoming != "" {
		t.Errorf("provider account should have no incoming endpoint, got %q", got[1].Incoming)
	}

	// Verify JSON round-trip.
	var buf bytes.Buffer
	if err := fprintJSON(&buf, got); err != nil {
		t.Fatalf("fprintJSON() error = %v", err)
	}
	var parsed []jsonAccount
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if parsed[1].ID != "personal" {
		t.Errorf("round-trip ID = %q", parsed[1].ID)
	}
}

func TestToJSONPage(t *testing.T) {
	page := domain.MessagePage{
		Messages: []domain.MessageSummary{
			{
				ID:      "42",
				Folder:  "INBOX",
				From:    domain.Address{Name: "Alice", Email: "alice@example.com"},
				Subject: "Hello",
				Date:    time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
				Flags:   []string{"\\Seen"},
			},
			{ID: "43", Folder: "INBOX"},
		},
		Cursor: "43",
		Total:  2,
	}

	got := toJSONPage(page)

	if len(got.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(got.Messages))
	}
	if got.Cursor != "43" {
		t.Errorf("got cursor %q, want %q", got.Cursor, "43")
	}
	if got.Messages[0].Date != "2025-01-15T10:00:00Z" {
		t.Errorf("got date %q", got.Messages[0].Date)
	}
	if got.Messages[1].Date != "" {
		t.Errorf("zero date should render empty, got %q", got.Messages[1].Date)
	}
}

func TestToJSONReceipt(t *testing.T) {
	receipt := domain.SendReceipt{
		MessageID: "abc@example.com",
		Accepted:  []string{"bob@example.com"},
		Rejected:  []domain.RejectedRecipient{{Address: "bad@example.com", Reason: "mailbox unavailable"}},
	}

	got := toJSONReceipt(receipt, domainErr("1 of 2 recipients rejected"))

	if got.OK {
		t.Error("a receipt with an error must not report ok")
	}
	if len(got.Rejected) != 1 || got.Rejected[0].Reason != "mailbox unavailable" {
		t.Errorf("rejected = %+v", got.Rejected)
	}
	if got.Error == "" {
		t.Error("error text should be carried")
	}
}

type domainErr string

func (e domainErr) Error() string { return string(e) }

func TestToJSONTransfer(t *testing.T) {
	receipt := domain.MoveReceipt{Requested: 3, Completed: 2, FailedIDs: []string{"7"}}

	got := toJSONTransfer("move", "work", receipt)

	if got.Action != "move" || got.AccountID != "work" {
		t.Errorf("got action=%q account=%q", got.Action, got.AccountID)
	}
	if got.Completed != 2 || len(got.FailedIDs) != 1 {
		t.Errorf("got %+v", got)
	}
}
