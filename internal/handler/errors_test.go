package handler

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type fakeNetError struct{ timeout bool }

func (e *fakeNetError) Error() string   { return "dial tcp: connection refused" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantKind  Kind
		wantRetry bool
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout, true},
		{"canceled", context.Canceled, KindTimeout, false},
		{"net error", &fakeNetError{}, KindConnection, true},
		{"net timeout", &fakeNetError{timeout: true}, KindTimeout, true},
		{"reset", errors.New("read: connection reset by peer"), KindConnection, true},
		{"eof", errors.New("unexpected EOF"), KindConnection, true},
		{"unknown", errors.New("malformed response"), KindProtocol, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, "op failed")
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", got.Kind, tt.wantKind)
			}
			if got.Retryable != tt.wantRetry {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tt.wantRetry)
			}
		})
	}
}

func TestClassify_PassThrough(t *testing.T) {
	orig := Errorf(KindAuth, "login rejected")
	got := Classify(fmt.Errorf("acquire: %w", orig), "ignored")
	if got != orig {
		t.Errorf("classified error should pass through unchanged, got %v", got)
	}
}

func TestClassify_WrappedDeadline(t *testing.T) {
	err := fmt.Errorf("fetch INBOX: %w", context.DeadlineExceeded)
	got := Classify(err, "fetch timed out")
	if got.Kind != KindTimeout || !got.Retryable {
		t.Errorf("got kind=%q retryable=%v", got.Kind, got.Retryable)
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(Errorf(KindNotFound, "no such folder")); got != KindNotFound {
		t.Errorf("KindOf = %q, want %q", got, KindNotFound)
	}
	if got := KindOf(errors.New("mystery")); got != KindProtocol {
		t.Errorf("KindOf unclassified = %q, want %q", got, KindProtocol)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(Errorf(KindConnection, "reset")) {
		t.Error("connection errors should be retryable")
	}
	if IsRetryable(Errorf(KindAuth, "rejected")) {
		t.Error("auth errors should not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("unclassified errors should not be retryable")
	}
}

func TestError_Unwrap(t *testing.T) {
	inner := context.DeadlineExceeded
	e := Wrap(KindTimeout, inner, "select took too long")
	if !errors.Is(e, context.DeadlineExceeded) {
		t.Error("Unwrap chain should reach the cause")
	}
	var he *Error
	if !errors.As(fmt.Errorf("outer: %w", e), &he) {
		t.Fatal("errors.As should find *Error through wrapping")
	}
	if he.Kind != KindTimeout {
		t.Errorf("Kind = %q", he.Kind)
	}
}

func TestRedact(t *testing.T) {
	got := Redact("LOGIN alice hunter2 failed", "hunter2")
	want := "LOGIN alice [redacted] failed"
	if got != want {
		t.Errorf("Redact() = %q, want %q", got, want)
	}
	if got := Redact("nothing secret", ""); got != "nothing secret" {
		t.Errorf("empty secret should be a no-op, got %q", got)
	}
}

// Retryable kinds must match the dispatch policy: only connection and
// timeout failures are safe to retry.
func TestKindRetryMatrix(t *testing.T) {
	retryable := map[Kind]bool{
		KindNotFound:       false,
		KindAuth:           false,
		KindConnection:     true,
		KindTimeout:        true,
		KindProtocol:       false,
		KindPartialFailure: false,
		KindValidation:     false,
	}
	for kind, want := range retryable {
		if got := Errorf(kind, "x").Retryable; got != want {
			t.Errorf("kind %q retryable = %v, want %v", kind, got, want)
		}
	}
}
