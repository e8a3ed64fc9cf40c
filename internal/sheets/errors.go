package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a client failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotConfigured: no endpoint URL or spreadsheet ID has been set.
	KindNotConfigured
	// KindNotConnected: no successful TestConnection since the URL was set.
	KindNotConnected
	// KindNetworkFailure: the request could not complete, including
	// cancellation and deadline expiry.
	KindNetworkFailure
	// KindServerError: non-2xx status or an error envelope.
	KindServerError
	// KindMalformedResponse: the payload did not have the expected shape.
	KindMalformedResponse
)

func (k Kind) String() string {
	switch k {
	case KindNotConfigured:
		return "not configured"
	case KindNotConnected:
		return "not connected"
	case KindNetworkFailure:
		return "network failure"
	case KindServerError:
		return "server error"
	case KindMalformedResponse:
		return "malformed response"
	}
	return "unknown"
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrNotConfigured     = &Error{Kind: KindNotConfigured}
	ErrNotConnected      = &Error{Kind: KindNotConnected}
	ErrNetworkFailure    = &Error{Kind: KindNetworkFailure}
	ErrServerError       = &Error{Kind: KindServerError}
	ErrMalformedResponse = &Error{Kind: KindMalformedResponse}
)

// Error is returned by every Client operation.
type Error struct {
	Kind Kind
	// Op is the backend action, e.g. "getTransactions".
	Op string
	// StatusCode is set for HTTP-level server errors.
	StatusCode int
	// Message is the backend's error text, if any.
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("sheets")
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsCanceled reports whether err stems from a canceled or expired context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
