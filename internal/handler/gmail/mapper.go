package gmail

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/mail"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/lu-zhengda/mailgate/internal/domain"
)

// summaryFromMessage maps an API message to the normalized summary
// shape. Label state is translated into IMAP-style flags so callers
// see one vocabulary regardless of protocol.
func summaryFromMessage(msg *gmailapi.Message, folder string) domain.MessageSummary {
	var headers []*gmailapi.MessagePartHeader
	if msg.Payload != nil {
		headers = msg.Payload.Headers
	}
	return domain.MessageSummary{
		ID:      msg.Id,
		Folder:  folder,
		From:    parseAddress(findHeader(headers, "From")),
		Subject: findHeader(headers, "Subject"),
		Date:    parseDate(findHeader(headers, "Date")),
		Flags:   flagsFromLabels(msg.LabelIds),
	}
}

// findHeader performs a case-insensitive lookup for a header value.
func findHeader(headers []*gmailapi.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// parseAddress parses an RFC 5322 address, falling back to treating
// the whole string as a bare email if parsing fails.
func parseAddress(s string) domain.Address {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.Address{}
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return domain.Address{Email: s}
	}
	return domain.Address{Name: addr.Name, Email: addr.Address}
}

// parseDate tries the date formats commonly seen in Date headers.
func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	formats := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
		"2 Jan 2006 15:04:05 -0700",
		"Mon, 02 Jan 2006 15:04:05 -0700 (MST)",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// flagsFromLabels translates Gmail label state into IMAP-style flags.
func flagsFromLabels(labelIDs []string) []string {
	var flags []string
	unread := false
	for _, l := range labelIDs {
		switch l {
		case "UNREAD":
			unread = true
		case "STARRED":
			flags = append(flags, "\\Flagged")
		case "DRAFT":
			flags = append(flags, "\\Draft")
		}
	}
	if !unread {
		flags = append(flags, "\\Seen")
	}
	return flags
}

// searchQuery translates fetch filters into Gmail query syntax.
func searchQuery(opts domain.FetchOptions) string {
	var terms []string
	if !opts.Since.IsZero() {
		terms = append(terms, "after:"+opts.Since.Format("2006/01/02"))
	}
	if !opts.Before.IsZero() {
		terms = append(terms, "before:"+opts.Before.Format("2006/01/02"))
	}
	if opts.Subject != "" {
		terms = append(terms, `subject:"`+opts.Subject+`"`)
	}
	if opts.From != "" {
		terms = append(terms, "from:"+opts.From)
	}
	if opts.To != "" {
		terms = append(terms, "to:"+opts.To)
	}
	if opts.Body != "" {
		terms = append(terms, `"`+opts.Body+`"`)
	}
	if opts.Text != "" {
		terms = append(terms, opts.Text)
	}
	return strings.Join(terms, " ")
}

// encodeRawMessage renders msg as a base64url-encoded RFC 2822
// message for the API's Raw field and returns the generated
// Message-Id.
func encodeRawMessage(msg *domain.OutboundMessage, from domain.Address) (string, string, error) {
	var buf bytes.Buffer

	var h gomail.Header
	h.SetDate(time.Now())
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", toMailAddresses([]domain.Address{from}))
	h.SetAddressList("To", toMailAddresses(msg.To))
	if len(msg.CC) > 0 {
		h.SetAddressList("Cc", toMailAddresses(msg.CC))
	}
	if len(msg.BCC) > 0 {
		// The API reads the envelope from the headers, so BCC must be
		// present here; Gmail strips it before delivery.
		h.SetAddressList("Bcc", toMailAddresses(msg.BCC))
	}
	msgID := uuid.NewString() + "@mail.gmail.com"
	h.SetMsgIDList("Message-Id", []string{msgID})
	if msg.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{msg.InReplyTo})
	}

	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return "", "", err
	}
	iw, err := mw.CreateInline()
	if err != nil {
		return "", "", err
	}
	var th gomail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	pw, err := iw.CreatePart(th)
	if err != nil {
		return "", "", err
	}
	if _, err := io.WriteString(pw, msg.TextBody); err != nil {
		return "", "", err
	}
	pw.Close()
	if msg.HTMLBody != "" {
		var hh gomail.InlineHeader
		hh.SetContentType("text/html", map[string]string{"charset": "utf-8"})
		hw, err := iw.CreatePart(hh)
		if err != nil {
			return "", "", err
		}
		if _, err := io.WriteString(hw, msg.HTMLBody); err != nil {
			return "", "", err
		}
		hw.Close()
	}
	iw.Close()

	for _, att := range msg.Attachments {
		var ah gomail.AttachmentHeader
		ah.SetFilename(att.Filename)
		if att.ContentType != "" {
			ah.SetContentType(att.ContentType, nil)
		}
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return "", "", err
		}
		if _, err := aw.Write(att.Content); err != nil {
			return "", "", err
		}
		aw.Close()
	}
	if err := mw.Close(); err != nil {
		return "", "", err
	}

	return base64.URLEncoding.EncodeToString(buf.Bytes()), msgID, nil
}

func toMailAddresses(addrs []domain.Address) []*gomail.Address {
	out := make([]*gomail.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, &gomail.Address{Name: a.Name, Address: a.Email})
	}
	return out
}
