package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// Kind tags a generation failure.
type Kind string

const (
	KindConnection Kind = "connection"
	KindRateLimit  Kind = "rateLimit"
	KindAPI        Kind = "apiError"
	KindUnknown    Kind = "unknown"
)

// Error is the classified form of a provider failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// statusError classifies an HTTP status returned by a provider.
func statusError(code int, err error) *Error {
	switch {
	case code == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimit, StatusCode: code, Err: err}
	default:
		return &Error{Kind: KindAPI, StatusCode: code, Err: err}
	}
}

type noRetry struct{ err error }

func (n noRetry) Error() string { return n.err.Error() }
func (n noRetry) Unwrap() error { return n.err }

// NoRetry marks err as terminal regardless of its kind. Streaming callers use it once a
// fragment has been forwarded, since a retry would replay content.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetry{err: err}
}

func isNoRetry(err error) bool {
	var n noRetry
	return errors.As(err, &n)
}

// Classify maps an error onto a Kind. Provider errors are already *Error; the rest are
// judged by transport shape.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindUnknown
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return KindConnection
	}
	return KindUnknown
}
