package classic

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/lu-zhengda/mailgate/internal/domain"
	"github.com/lu-zhengda/mailgate/internal/handler"
)

// smtpSession is the subset of *smtp.Client a send transaction uses.
// Narrowed for testing with a fake server side.
type smtpSession interface {
	Mail(from string, opts *smtp.MailOptions) error
	Rcpt(to string, opts *smtp.RcptOptions) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// Send opens one SMTP transaction for msg. Every envelope recipient is
// offered individually; refusals are collected into the receipt
// instead of aborting, so a mixed outcome surfaces as a partial
// failure rather than a silent drop.
func (c *Conn) Send(ctx context.Context, msg *domain.OutboundMessage) (domain.SendReceipt, error) {
	client, err := c.dialSMTP(ctx)
	if err != nil {
		return domain.SendReceipt{}, err
	}
	return c.transact(client, msg)
}

// dialSMTP performs the EHLO/STARTTLS/AUTH handshake against the
// account's outgoing endpoint.
func (c *Conn) dialSMTP(ctx context.Context) (*smtp.Client, error) {
	ep := c.account.Outgoing
	dialer := &net.Dialer{}
	netConn, err := dialer.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return nil, handler.Classify(err, "failed to dial SMTP "+ep.Addr())
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(dl)
	}

	var client *smtp.Client
	if ep.UseTLS {
		client = smtp.NewClient(tls.Client(netConn, &tls.Config{ServerName: ep.Host}))
	} else {
		client, err = smtp.NewClientStartTLS(netConn, &tls.Config{ServerName: ep.Host})
		if err != nil {
			_ = netConn.Close()
			return nil, classifySMTP(err, "failed to negotiate STARTTLS with "+ep.Addr())
		}
	}

	if c.creds.Username != "" {
		auth := sasl.NewPlainClient("", c.creds.Username, c.creds.Password)
		if err := client.Auth(auth); err != nil {
			_ = client.Close()
			detail := handler.Redact(
				"SMTP authentication rejected for "+c.creds.Username+" at "+ep.Addr(),
				c.creds.Password,
			)
			return nil, handler.Wrap(handler.KindAuth, err, detail)
		}
	}
	return client, nil
}

func (c *Conn) transact(client smtpSession, msg *domain.OutboundMessage) (domain.SendReceipt, error) {
	var receipt domain.SendReceipt

	from := msg.From
	if from.Email == "" {
		from = c.account.From
	}

	if err := client.Mail(from.Email, nil); err != nil {
		_ = client.Close()
		return receipt, classifySMTP(err, "envelope sender rejected")
	}

	for _, rcpt := range msg.Recipients() {
		if err := client.Rcpt(rcpt.Email, nil); err != nil {
			receipt.Rejected = append(receipt.Rejected, domain.RejectedRecipient{
				Address: rcpt.Email,
				Reason:  rejectReason(err),
			})
			continue
		}
		receipt.Accepted = append(receipt.Accepted, rcpt.Email)
	}
	if len(receipt.Accepted) == 0 {
		_ = client.Close()
		return receipt, handler.Errorf(handler.KindPartialFailure,
			"no recipients accepted (%d rejected)", len(receipt.Rejected))
	}

	raw, msgID, err := composeMessage(msg, from, c.account.Outgoing.Host)
	if err != nil {
		_ = client.Close()
		return receipt, handler.Wrap(handler.KindValidation, err, "failed to compose message")
	}
	receipt.MessageID = msgID

	wc, err := client.Data()
	if err != nil {
		_ = client.Close()
		return receipt, classifySMTP(err, "DATA refused")
	}
	if _, err := wc.Write(raw); err != nil {
		_ = wc.Close()
		_ = client.Close()
		return receipt, classifySMTP(err, "failed to stream message")
	}
	if err := wc.Close(); err != nil {
		_ = client.Close()
		return receipt, classifySMTP(err, "message rejected after DATA")
	}
	_ = client.Quit()

	if len(receipt.Rejected) > 0 {
		return receipt, handler.Errorf(handler.KindPartialFailure,
			"%d of %d recipients rejected",
			len(receipt.Rejected), len(receipt.Accepted)+len(receipt.Rejected))
	}
	return receipt, nil
}

// rejectReason extracts the server's refusal text for one recipient.
func rejectReason(err error) string {
	var se *smtp.SMTPError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}

// classifySMTP maps an SMTP status into the taxonomy: 4xx replies are
// transient, auth codes map to AuthError, other 5xx replies are
// permanent protocol refusals.
func classifySMTP(err error, detail string) *handler.Error {
	var se *smtp.SMTPError
	if errors.As(err, &se) {
		switch {
		case se.Code == 530 || se.Code == 534 || se.Code == 535:
			return handler.Wrap(handler.KindAuth, err, detail)
		case se.Code >= 400 && se.Code < 500:
			return handler.Wrap(handler.KindConnection, err, detail)
		default:
			return handler.Wrap(handler.KindProtocol, err, detail)
		}
	}
	return handler.Classify(err, detail)
}

// composeMessage renders msg as a MIME message. BCC recipients appear
// only in the envelope, never in the headers.
func composeMessage(msg *domain.OutboundMessage, from domain.Address, host string) ([]byte, string, error) {
	var buf bytes.Buffer

	var h gomail.Header
	h.SetDate(time.Now())
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*gomail.Address{{Name: from.Name, Address: from.Email}})
	h.SetAddressList("To", toMailAddresses(msg.To))
	if len(msg.CC) > 0 {
		h.SetAddressList("Cc", toMailAddresses(msg.CC))
	}
	msgID := uuid.NewString() + "@" + host
	h.SetMsgIDList("Message-Id", []string{msgID})
	if msg.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{msg.InReplyTo})
	}

	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return nil, "", err
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, "", err
	}
	var th gomail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	pw, err := iw.CreatePart(th)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.WriteString(pw, msg.TextBody); err != nil {
		return nil, "", err
	}
	pw.Close()
	if msg.HTMLBody != "" {
		var hh gomail.InlineHeader
		hh.SetContentType("text/html", map[string]string{"charset": "utf-8"})
		hw, err := iw.CreatePart(hh)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.WriteString(hw, msg.HTMLBody); err != nil {
			return nil, "", err
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
			return nil, "", err
		}
		if _, err := aw.Write(att.Content); err != nil {
			return nil, "", err
		}
		aw.Close()
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), msgID, nil
}

func toMailAddresses(addrs []domain.Address) []*gomail.Address {
	out := make([]*gomail.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, &gomail.Address{Name: a.Name, Address: a.Email})
	}
	return out
}
