package atcmd

import (
	"io"
	"time"
)

// Raw is a minimal Descriptor implementation for a single AT command line.
// It is the concrete type the sms package and tests build on; a
// derive-based encoder (out of scope) would implement the same interface.
type Raw struct {
	Line            string
	WantsResponse   bool
	CmdTimeout      time.Duration
	CanAbort        bool
	AttemptCount    int
	BackoffFn       func() BackoffPolicy
	WantsPrompt     bool
	ResponseParseFn func([]byte) (any, error)
}

func (r Raw) WriteTo(sink io.Writer) error {
	_, err := io.WriteString(sink, r.Line+"\r\n")
	return err
}

func (r Raw) MaxLen() int { return len(r.Line) + 2 }

func (r Raw) ExpectsResponse() bool { return r.WantsResponse }

func (r Raw) Timeout() time.Duration {
	if r.CmdTimeout == 0 {
		return time.Second
	}
	return r.CmdTimeout
}

func (r Raw) Abortable() bool { return r.CanAbort }

func (r Raw) Attempts() int {
	if r.AttemptCount <= 0 {
		return 1
	}
	return r.AttemptCount
}

func (r Raw) AwaitPrompt() bool { return r.WantsPrompt }

func (r Raw) Backoff() BackoffPolicy {
	if r.BackoffFn != nil {
		return r.BackoffFn()
	}
	return NoBackoff{}
}

func (r Raw) ParseResponse(body []byte) (any, error) {
	if r.ResponseParseFn != nil {
		return r.ResponseParseFn(body)
	}
	return string(body), nil
}

var _ Descriptor = Raw{}
var _ ResponseParser = Raw{}
