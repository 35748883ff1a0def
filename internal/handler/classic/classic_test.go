package classic

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-smtp"

	"github.com/lu-zhengda/mailgate/internal/domain"
	"github.com/lu-zhengda/mailgate/internal/handler"
)

func TestParseCursor(t *testing.T) {
	tests := []struct {
		cursor  string
		want    imap.UID
		wantErr bool
	}{
		{"", 0, false},
		{"42", 42, false},
		{"0", 0, false},
		{"not-a-uid", 0, true},
		{"-1", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.cursor, func(t *testing.T) {
			got, err := parseCursor(tt.cursor)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCursor(%q) error = %v, wantErr %v", tt.cursor, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseCursor(%q) = %d, want %d", tt.cursor, got, tt.want)
			}
		})
	}
}

// Paging through a 3-message folder with page size 2: first page has
// two messages, second page one, third page is empty with the cursor
// unchanged.
func TestUIDsAfter_Paging(t *testing.T) {
	uids := []imap.UID{11, 12, 13}

	first := uidsAfter(uids, 0, 2)
	if len(first) != 2 || first[0] != 11 || first[1] != 12 {
		t.Fatalf("first page = %v, want [11 12]", first)
	}

	second := uidsAfter(uids, 12, 2)
	if len(second) != 1 || second[0] != 13 {
		t.Fatalf("second page = %v, want [13]", second)
	}

	third := uidsAfter(uids, 13, 2)
	if len(third) != 0 {
		t.Fatalf("third page = %v, want empty", third)
	}

	// Repeating the terminal cursor stays empty.
	if again := uidsAfter(uids, 13, 2); len(again) != 0 {
		t.Fatalf("repeated terminal page = %v, want empty", again)
	}
}

func TestUIDsAfter_Idempotent(t *testing.T) {
	uids := []imap.UID{5, 9, 20, 21}
	a := uidsAfter(uids, 9, 2)
	b := uidsAfter(uids, 9, 2)
	if len(a) != 2 || a[0] != 20 || a[1] != 21 {
		t.Fatalf("page = %v, want [20 21]", a)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same cursor must return the identical page")
		}
	}
}

func TestSearchCriteria(t *testing.T) {
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	criteria := searchCriteria(domain.FetchOptions{
		Since:   since,
		Subject: "invoice",
		From:    "billing@example.com",
		Body:    "overdue",
	})
	if !criteria.Since.Equal(since) {
		t.Errorf("Since = %v", criteria.Since)
	}
	if len(criteria.Header) != 2 {
		t.Fatalf("header criteria = %v, want 2 entries", criteria.Header)
	}
	if criteria.Header[0].Key != "Subject" || criteria.Header[0].Value != "invoice" {
		t.Errorf("subject criterion = %+v", criteria.Header[0])
	}
	if len(criteria.Body) != 1 || criteria.Body[0] != "overdue" {
		t.Errorf("body criteria = %v", criteria.Body)
	}

	empty := searchCriteria(domain.FetchOptions{})
	if len(empty.Header) != 0 || !empty.Since.IsZero() {
		t.Errorf("empty options should produce empty criteria: %+v", empty)
	}
}

func TestClassifySMTP(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		wantKind handler.Kind
	}{
		{"auth rejected", 535, handler.KindAuth},
		{"auth required", 530, handler.KindAuth},
		{"transient", 451, handler.KindConnection},
		{"permanent", 550, handler.KindProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &smtp.SMTPError{Code: tt.code, Message: "nope"}
			got := classifySMTP(err, "send failed")
			if got.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", got.Kind, tt.wantKind)
			}
		})
	}
}

func TestComposeMessage(t *testing.T) {
	msg := &domain.OutboundMessage{
		To:       []domain.Address{{Name: "Bob", Email: "bob@example.com"}},
		CC:       []domain.Address{{Email: "carol@example.com"}},
		BCC:      []domain.Address{{Email: "hidden@example.com"}},
		Subject:  "Quarterly report",
		TextBody: "See attached.",
		Attachments: []domain.Attachment{{
			Filename:    "report.txt",
			ContentType: "text/plain",
			Content:     []byte("numbers"),
		}},
	}
	raw, msgID, err := composeMessage(msg, domain.Address{Name: "Alice", Email: "alice@example.com"}, "smtp.example.com")
	if err != nil {
		t.Fatalf("composeMessage() error: %v", err)
	}
	if msgID == "" || !strings.Contains(msgID, "@smtp.example.com") {
		t.Errorf("message id = %q", msgID)
	}

	body := string(raw)
	for _, want := range []string{
		"Subject: Quarterly report",
		"bob@example.com",
		"carol@example.com",
		"alice@example.com",
		"report.txt",
		"Message-Id:",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("composed message missing %q", want)
		}
	}
	if strings.Contains(body, "hidden@example.com") {
		t.Error("BCC recipient leaked into message headers")
	}
}

// --- SMTP transaction tests against a fake session ---

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type fakeSMTP struct {
	rejected map[string]error
	mailErr  error
	dataErr  error

	from   string
	rcpts  []string
	data   bytes.Buffer
	quit   bool
	closed bool
}

func (f *fakeSMTP) Mail(from string, _ *smtp.MailOptions) error {
	f.from = from
	return f.mailErr
}

func (f *fakeSMTP) Rcpt(to string, _ *smtp.RcptOptions) error {
	if err, ok := f.rejected[to]; ok {
		return err
	}
	f.rcpts = append(f.rcpts, to)
	return nil
}

func (f *fakeSMTP) Data() (io.WriteCloser, error) {
	if f.dataErr != nil {
		return nil, f.dataErr
	}
	return nopWriteCloser{&f.data}, nil
}

func (f *fakeSMTP) Quit() error  { f.quit = true; return nil }
func (f *fakeSMTP) Close() error { f.closed = true; return nil }

func testConn() *Conn {
	return &Conn{account: domain.Account{
		ID:       "acct1",
		Protocol: domain.ProtocolClassic,
		From:     domain.Address{Name: "Alice", Email: "alice@example.com"},
		Outgoing: domain.Endpoint{Host: "smtp.example.com", Port: 465, UseTLS: true},
	}}
}

func TestTransact_AllAccepted(t *testing.T) {
	f := &fakeSMTP{}
	msg := &domain.OutboundMessage{
		To:       []domain.Address{{Email: "bob@example.com"}, {Email: "carol@example.com"}},
		Subject:  "hi",
		TextBody: "hello",
	}
	receipt, err := testConn().transact(f, msg)
	if err != nil {
		t.Fatalf("transact() error: %v", err)
	}
	if len(receipt.Accepted) != 2 || len(receipt.Rejected) != 0 {
		t.Errorf("receipt = %+v", receipt)
	}
	if receipt.MessageID == "" {
		t.Error("receipt should carry the generated message id")
	}
	if f.from != "alice@example.com" {
		t.Errorf("envelope sender = %q, want account sender", f.from)
	}
	if !strings.Contains(f.data.String(), "Subject: hi") {
		t.Error("message body was not streamed")
	}
	if !f.quit {
		t.Error("transaction should end with QUIT")
	}
}

func TestTransact_PartialFailure(t *testing.T) {
	f := &fakeSMTP{rejected: map[string]error{
		"bad@example.com": &smtp.SMTPError{Code: 550, Message: "mailbox unavailable"},
	}}
	msg := &domain.OutboundMessage{
		To:       []domain.Address{{Email: "good@example.com"}, {Email: "bad@example.com"}},
		Subject:  "hi",
		TextBody: "hello",
	}
	receipt, err := testConn().transact(f, msg)
	if err == nil {
		t.Fatal("a partially accepted send must not look like success")
	}
	if kind := handler.KindOf(err); kind != handler.KindPartialFailure {
		t.Errorf("kind = %q, want %q", kind, handler.KindPartialFailure)
	}
	if handler.IsRetryable(err) {
		t.Error("partial failures must never be retried")
	}
	if len(receipt.Accepted) != 1 || receipt.Accepted[0] != "good@example.com" {
		t.Errorf("accepted = %v", receipt.Accepted)
	}
	if len(receipt.Rejected) != 1 || receipt.Rejected[0].Address != "bad@example.com" {
		t.Errorf("rejected = %v", receipt.Rejected)
	}
	if receipt.Rejected[0].Reason != "mailbox unavailable" {
		t.Errorf("reason = %q", receipt.Rejected[0].Reason)
	}
	if !receipt.Partial() {
		t.Error("receipt should report a partial outcome")
	}
	if f.data.Len() == 0 {
		t.Error("message should still go to the accepted recipient")
	}
}

func TestTransact_AllRejected(t *testing.T) {
	f := &fakeSMTP{rejected: map[string]error{
		"bad@example.com": &smtp.SMTPError{Code: 550, Message: "no"},
	}}
	msg := &domain.OutboundMessage{
		To:       []domain.Address{{Email: "bad@example.com"}},
		TextBody: "hello",
	}
	receipt, err := testConn().transact(f, msg)
	if err == nil {
		t.Fatal("expected error when every recipient is rejected")
	}
	if len(receipt.Accepted) != 0 {
		t.Errorf("accepted = %v, want none", receipt.Accepted)
	}
	if f.data.Len() != 0 {
		t.Error("no message data should be streamed without accepted recipients")
	}
	if !f.closed {
		t.Error("transaction should be torn down")
	}
}

func TestTransact_SenderRejected(t *testing.T) {
	f := &fakeSMTP{mailErr: &smtp.SMTPError{Code: 451, Message: "try later"}}
	msg := &domain.OutboundMessage{
		To:       []domain.Address{{Email: "bob@example.com"}},
		TextBody: "hello",
	}
	_, err := testConn().transact(f, msg)
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := handler.KindOf(err); kind != handler.KindConnection {
		t.Errorf("kind = %q, want transient connection error", kind)
	}
	if !handler.IsRetryable(err) {
		t.Error("4xx sender rejection should be retryable")
	}
}

func TestRejectReason(t *testing.T) {
	se := &smtp.SMTPError{Code: 550, Message: "user unknown"}
	if got := rejectReason(se); got != "user unknown" {
		t.Errorf("rejectReason() = %q", got)
	}
}

func TestFetchPage_DeadlineInterruptsHungServer(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer serverSide.Close()

	go func() {
		if _, err := serverSide.Write([]byte("* OK ready\r\n")); err != nil {
			return
		}
		// Swallow every command and never answer.
		_, _ = io.Copy(io.Discard, serverSide)
	}()

	conn := &Conn{
		account: domain.Account{ID: "acct1", Protocol: domain.ProtocolClassic},
		imap:    imapclient.New(clientSide, nil),
		net:     clientSide,
	}
	defer conn.imap.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := conn.FetchPage(ctx, "INBOX", "", 10, domain.FetchOptions{})
	if err == nil {
		t.Fatal("FetchPage() succeeded against a server that never answered")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("FetchPage() returned after %v, want well under 2s", elapsed)
	}
}

func TestDialSMTP_ServerClosesConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer ln.Close()

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	p, _ := strconv.Atoi(port)
	conn := &Conn{account: domain.Account{
		ID:       "acct1",
		Protocol: domain.ProtocolClassic,
		Outgoing: domain.Endpoint{Host: host, Port: p},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := conn.dialSMTP(ctx); err == nil {
		t.Fatal("dialSMTP() succeeded against a server that hung up")
	} else if kind := handler.KindOf(err); kind != handler.KindConnection && kind != handler.KindProtocol {
		t.Errorf("dialSMTP() error kind = %s, want connection or protocol", kind)
	}
}
