package handler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a failure into the shared taxonomy. Every error a
// handler or the dispatcher surfaces carries exactly one Kind.
type Kind string

const (
	// KindNotFound: unknown account or folder. Never retried.
	KindNotFound Kind = "not_found"
	// KindAuth: credentials rejected. Never retried; surfaced for
	// remediation.
	KindAuth Kind = "auth"
	// KindConnection: handshake or network failure. Retryable.
	KindConnection Kind = "connection"
	// KindTimeout: operation exceeded its budget. Retryable.
	KindTimeout Kind = "timeout"
	// KindProtocol: malformed server response or desync. Never
	// retried; the session is discarded.
	KindProtocol Kind = "protocol"
	// KindPartialFailure: a send was accepted for some recipients
	// only. Never retried (the accepted part must not be duplicated).
	KindPartialFailure Kind = "partial_failure"
	// KindValidation: malformed input, rejected before any network
	// call.
	KindValidation Kind = "validation"
)

func (k Kind) retryable() bool {
	return k == KindConnection || k == KindTimeout
}

// Error is a classified failure. Detail never contains credential
// material.
type Error struct {
	Kind      Kind
	Detail    string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error with a formatted detail string.
// Retryability follows the kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:      kind,
		Detail:    fmt.Sprintf(format, args...),
		Retryable: kind.retryable(),
	}
}

// Wrap attaches a classification to an underlying error.
func Wrap(kind Kind, err error, detail string) *Error {
	return &Error{
		Kind:      kind,
		Detail:    detail,
		Retryable: kind.retryable(),
		Err:       err,
	}
}

// KindOf returns the classification of err, or KindProtocol for an
// error no handler classified.
func KindOf(err error) Kind {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return KindProtocol
}

// IsRetryable reports whether err may be retried by the dispatcher.
func IsRetryable(err error) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Retryable
	}
	return false
}

// Classify normalizes an arbitrary transport error into the taxonomy.
// Already-classified errors pass through unchanged.
func Classify(err error, detail string) *Error {
	var he *Error
	if errors.As(err, &he) {
		return he
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindTimeout, err, detail)
	case errors.Is(err, context.Canceled):
		// Abandoned by the caller: terminal, not retried.
		return &Error{Kind: KindTimeout, Detail: detail, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return Wrap(KindTimeout, err, detail)
		}
		return Wrap(KindConnection, err, detail)
	}
	// Connection teardown mid-command reads as an EOF or reset from
	// the protocol libraries.
	msg := err.Error()
	if strings.Contains(msg, "EOF") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") || strings.Contains(msg, "use of closed network connection") {
		return Wrap(KindConnection, err, detail)
	}
	return Wrap(KindProtocol, err, detail)
}

// Redact replaces every occurrence of each secret with a placeholder
// so details can be surfaced and logged safely.
func Redact(s string, secrets ...string) string {
	for _, sec := range secrets {
		if sec == "" {
			continue
		}
		s = strings.ReplaceAll(s, sec, "[redacted]")
	}
	return s
}
