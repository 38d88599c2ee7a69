package client

import (
	"time"

	"i4.energy/across/atrt/digest"
	"i4.energy/across/atrt/transport"
	"i4.energy/across/atrt/urc"
)

// BusyPolicy selects what Send does when a command is already in flight.
type BusyPolicy int

const (
	// BusyReject fails the new Send immediately with atcmd.KindBusy. This
	// is the default: a Client only ever drives one command at a time, and
	// spec.md §5 leaves stacking up a second caller's command to the caller.
	BusyReject BusyPolicy = iota
	// BusyWait blocks the new Send until the in-flight command completes,
	// then proceeds as usual.
	BusyWait
)

// Config configures a Client. The zero value is filled in by setDefaults.
type Config struct {
	Dialer transport.Dialer

	// TerminatorRX is the line terminator expected on input. TerminatorTX is
	// the terminator outgoing command lines end with; it is stripped from
	// the written command before that command is matched against the
	// modem's echo. Both default to "\r\n". The client does not append
	// TerminatorTX itself: each Descriptor's WriteTo emits its own
	// terminator.
	TerminatorRX []byte
	TerminatorTX []byte

	// BufferCapacity sizes the ingest ring buffer, default 4096 bytes.
	BufferCapacity int

	// ReadChunk bounds a single transport.Read call, default 256 bytes.
	ReadChunk int

	// DefaultTimeout is used for descriptors that don't set their own
	// (Timeout() == 0), default 5s.
	DefaultTimeout time.Duration

	// Cooldown is the minimum gap enforced between the end of one command
	// and the start of the next, default 20ms. It is a pointer so that an
	// explicit zero (disable the cooldown entirely) is distinguishable from
	// "unset" (apply the default): the cooldown wait is never skipped, even
	// when Cooldown points at 0 (spec.md §5/§6 — 0 is a legal, honored
	// minimum, not a sentinel for "use the default").
	Cooldown *time.Duration

	// AbortSequence is written to the transport when a command times out
	// and Descriptor.Abortable() is true, in place of failing immediately.
	// Defaults to a single ESC byte.
	AbortSequence []byte
	// AbortTimeout bounds how long the client waits for a final code after
	// writing AbortSequence, default 2s.
	AbortTimeout time.Duration

	// EchoSuppression, PromptByte, URCPrefixes, URCExactWords,
	// TolerateLeadingLF, CustomErrorMessages, and Matcher feed the
	// digester's Config directly; see package digest.
	EchoSuppression     digest.EchoMode
	PromptByte          byte
	URCPrefixes         [][]byte
	URCExactWords       [][]byte
	TolerateLeadingLF   bool
	CustomErrorMessages bool
	Matcher             digest.URCMatcher

	// URCChannelCapacity and URCOverflow configure the outgoing URC queue,
	// defaulting to 32 frames and urc.DropNewest.
	URCChannelCapacity int
	URCOverflow        urc.OverflowPolicy

	// Busy selects what happens when Send is called while a command is
	// already in flight, default BusyReject.
	Busy BusyPolicy
}

func (c *Config) setDefaults() {
	if len(c.TerminatorRX) == 0 {
		c.TerminatorRX = []byte("\r\n")
	}
	if len(c.TerminatorTX) == 0 {
		c.TerminatorTX = []byte("\r\n")
	}
	if c.BufferCapacity == 0 {
		c.BufferCapacity = 4096
	}
	if c.ReadChunk == 0 {
		c.ReadChunk = 256
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = 5 * time.Second
	}
	if c.Cooldown == nil {
		d := 20 * time.Millisecond
		c.Cooldown = &d
	}
	if len(c.AbortSequence) == 0 {
		c.AbortSequence = []byte{0x1B}
	}
	if c.AbortTimeout == 0 {
		c.AbortTimeout = 2 * time.Second
	}
	if c.URCChannelCapacity == 0 {
		c.URCChannelCapacity = 32
	}
}

func (c *Config) digestConfig() digest.Config {
	return digest.Config{
		TerminatorRX:        c.TerminatorRX,
		PromptByte:          c.PromptByte,
		EchoSuppression:     c.EchoSuppression,
		URCPrefixes:         c.URCPrefixes,
		URCExactWords:       c.URCExactWords,
		TolerateLeadingLF:   c.TolerateLeadingLF,
		CustomErrorMessages: c.CustomErrorMessages,
		Matcher:             c.Matcher,
	}
}

// ErrNoDialer is returned by New when Config.Dialer is nil.
var ErrNoDialer = errNoDialer{}

type errNoDialer struct{}

func (errNoDialer) Error() string { return "client: no dialer configured" }
