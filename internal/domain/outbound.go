package domain

import (
	"errors"
	"fmt"
	"net/mail"
)

// DefaultMaxMessageSize caps composed outbound messages at 25 MB.
const DefaultMaxMessageSize = 26214400

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// OutboundMessage is a fully composed message to be sent. It is never
// mutated after construction; Validate rejects it before any network
// call is made on its behalf.
type OutboundMessage struct {
	From        Address
	To          []Address
	CC          []Address
	BCC         []Address
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
	InReplyTo   string
}

// Recipients returns the full envelope recipient list (To + CC + BCC).
func (m *OutboundMessage) Recipients() []Address {
	out := make([]Address, 0, len(m.To)+len(m.CC)+len(m.BCC))
	out = append(out, m.To...)
	out = append(out, m.CC...)
	out = append(out, m.BCC...)
	return out
}

// Size returns the approximate size of the composed message in bytes.
func (m *OutboundMessage) Size() int64 {
	n := int64(len(m.Subject) + len(m.TextBody) + len(m.HTMLBody))
	for _, a := range m.Attachments {
		// base64 expansion plus part headers
		n += int64(len(a.Content))*4/3 + 256
	}
	return n
}

// Validate checks the message before dispatch: at least one recipient,
// syntactically valid addresses, and a size below maxSize (0 means the
// default cap).
func (m *OutboundMessage) Validate(maxSize int64) error {
	if len(m.To) == 0 && len(m.CC) == 0 && len(m.BCC) == 0 {
		return errors.New("message has no recipients")
	}
	for _, a := range m.Recipients() {
		if _, err := mail.ParseAddress(a.Email); err != nil {
			return fmt.Errorf("invalid recipient address %q: %w", a.Email, err)
		}
	}
	if m.From.Email != "" {
		if _, err := mail.ParseAddress(m.From.Email); err != nil {
			return fmt.Errorf("invalid sender address %q: %w", m.From.Email, err)
		}
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	if size := m.Size(); size > maxSize {
		return fmt.Errorf("message size %d exceeds limit %d", size, maxSize)
	}
	return nil
}

// RejectedRecipient pairs a refused envelope recipient with the
// server's reason.
type RejectedRecipient struct {
	Address string
	Reason  string
}

// SendReceipt reports the outcome of a send. A rejected recipient is
// never silently dropped: every refusal appears in Rejected.
type SendReceipt struct {
	MessageID string
	Accepted  []string
	Rejected  []RejectedRecipient
}

// Partial reports whether the send was accepted for some recipients
// but refused for others.
func (r SendReceipt) Partial() bool {
	return len(r.Accepted) > 0 && len(r.Rejected) > 0
}
