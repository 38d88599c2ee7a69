// Package atcmd defines the contract between the client runtime and the
// external command-encoder collaborator (spec.md §6), plus the error
// taxonomy surfaced to callers (spec.md §7). The URC-matcher contract lives
// in package digest (digest.URCMatcher).
package atcmd

import (
	"io"
	"time"

	"github.com/cenkalti/backoff"
)

// Descriptor is implemented by callers (or by a derive-based companion,
// out of scope here) to describe one AT command on the wire.
type Descriptor interface {
	// WriteTo emits the full AT line, including the "AT" prefix and
	// terminator, to sink.
	WriteTo(sink io.Writer) error
	// MaxLen upper-bounds the on-wire length, for scratch-buffer sizing.
	MaxLen() int
	// ExpectsResponse reports whether the client should wait for a final
	// code (false for fire-and-forget commands).
	ExpectsResponse() bool
	// Timeout bounds how long the client waits for a final code.
	Timeout() time.Duration
	// Abortable reports whether the client may transmit an abort sequence
	// on timeout instead of failing immediately.
	Abortable() bool
	// Attempts is the total number of times to try this command (1 means
	// no retry).
	Attempts() int
	// AwaitPrompt reports whether this command expects a data-mode prompt
	// ("> ") rather than (or before) a final code.
	AwaitPrompt() bool
}

// ResponseParser is an optional Descriptor capability: after a successful
// final code, the client calls ParseResponse with the accumulated
// information-text body.
type ResponseParser interface {
	ParseResponse(body []byte) (any, error)
}

// BackoffProvider is an optional Descriptor capability supplying the delay
// policy between retry attempts. When a Descriptor does not implement it,
// the client retries without delay.
type BackoffProvider interface {
	Backoff() BackoffPolicy
}

// BackoffPolicy is satisfied by github.com/cenkalti/backoff's BackOff
// interface; it governs the delay between retry attempts.
type BackoffPolicy interface {
	NextBackOff() time.Duration
	Reset()
}

// NewExponentialBackoff returns an exponential retry backoff with jitter, as
// github.com/cenkalti/backoff implements it. It is opt-in: without a
// BackoffProvider, or with atcmd.Raw's nil BackoffFn, retries use NoBackoff.
func NewExponentialBackoff() BackoffPolicy {
	return backoff.NewExponentialBackOff()
}

// NewConstantBackoff returns a fixed-delay retry backoff.
func NewConstantBackoff(d time.Duration) BackoffPolicy {
	return backoff.NewConstantBackOff(d)
}

// NoBackoff never delays between attempts.
type NoBackoff struct{}

func (NoBackoff) NextBackOff() time.Duration { return 0 }
func (NoBackoff) Reset()                     {}

// ErrorKind enumerates the error taxonomy of spec.md §7.
type ErrorKind int

const (
	KindIO ErrorKind = iota
	KindIOTimeout
	KindTimeout
	KindBusy
	KindError
	KindCmeError
	KindCmsError
	KindAborted
	KindInvalidResponse
	KindParse
	KindOverflow
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindIOTimeout:
		return "io_timeout"
	case KindTimeout:
		return "timeout"
	case KindBusy:
		return "busy"
	case KindError:
		return "error"
	case KindCmeError:
		return "cme_error"
	case KindCmsError:
		return "cms_error"
	case KindAborted:
		return "aborted"
	case KindInvalidResponse:
		return "invalid_response"
	case KindParse:
		return "parse"
	case KindOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Error is the error type returned by the client for any non-success
// outcome. Text carries the CME/CMS code or custom error text when present.
type Error struct {
	Kind ErrorKind
	Text string
}

func (e *Error) Error() string {
	if e.Text == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Text
}

// Retriable reports whether spec.md §4.3 step 6 treats this kind as a
// retriable failure category across attempts: Io, IoTimeout, Timeout,
// Error, and Aborted are retried; Busy, CmeError, CmsError,
// InvalidResponse, Parse, and Overflow are not.
func (e *Error) Retriable() bool {
	switch e.Kind {
	case KindIO, KindIOTimeout, KindTimeout, KindError, KindAborted:
		return true
	default:
		return false
	}
}
