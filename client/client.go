// Package client implements the public command/response engine: one
// goroutine ingests bytes and drives digest.Step, one rendezvous slot hands
// a command's outcome to whichever caller is waiting, and unsolicited
// traffic drains into a bounded urc.Channel. It generalizes the fixed
// AT+CPIN/AT+CMGF init sequence in the teacher's modem.Modem into a
// general-purpose engine any Descriptor can drive.
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"i4.energy/across/atrt/atcmd"
	"i4.energy/across/atrt/digest"
	"i4.energy/across/atrt/internal/logging"
	"i4.energy/across/atrt/internal/metrics"
	"i4.energy/across/atrt/ringbuf"
	"i4.energy/across/atrt/slot"
	"i4.energy/across/atrt/transport"
	"i4.energy/across/atrt/urc"
)

// Client drives one modem connection. At most one command is ever in
// flight, matching spec.md §5's single in-flight-command model.
type Client struct {
	cfg       Config
	transport transport.Transport
	buf       *ringbuf.Buffer
	slot      *slot.Slot
	urcCh     *urc.Channel
	mode      atomicMode

	sendMu sync.Mutex // serializes Send/SendPayload/SendNoResponse callers (Lock under BusyWait, TryLock under BusyReject)

	lastCmdDone atomic.Int64 // UnixNano of the last command's completion, for cooldown

	closeOnce sync.Once
	closed    chan struct{}
	ingestErr atomic.Pointer[error]
}

// atomicMode is the lock-free handoff of the ingest loop's current
// expectation; the client stores it when beginning or ending a command and
// the ingest loop loads a fresh snapshot before every digest.Step call.
type atomicMode struct {
	v atomic.Pointer[digest.Mode]
}

func (m *atomicMode) load() digest.Mode {
	p := m.v.Load()
	if p == nil {
		return digest.Mode{}
	}
	return *p
}

func (m *atomicMode) store(v digest.Mode) { m.v.Store(&v) }

// New dials cfg.Dialer and starts the ingest loop. The returned Client must
// eventually be closed with Close.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cfg.setDefaults()
	if cfg.Dialer == nil {
		return nil, ErrNoDialer
	}

	tp, err := cfg.Dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial transport: %w", err)
	}

	c := &Client{
		cfg:       cfg,
		transport: tp,
		buf:       ringbuf.New(cfg.BufferCapacity),
		slot:      slot.New(),
		urcCh:     urc.New(cfg.URCChannelCapacity, cfg.URCOverflow),
		closed:    make(chan struct{}),
	}

	go c.ingestLoop()

	return c, nil
}

// URCs returns the channel of unsolicited result codes observed outside any
// in-flight command.
func (c *Client) URCs() <-chan urc.Frame { return c.urcCh.Recv() }

// URCsDropped reports how many URC frames were discarded by the configured
// overflow policy.
func (c *Client) URCsDropped() uint32 { return c.urcCh.Dropped() }

// LastError returns the transport error that stopped the ingest loop, or
// nil while the connection is healthy. Once non-nil, the Client is dead:
// construct a new one to reconnect.
func (c *Client) LastError() error {
	p := c.ingestErr.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Close stops the ingest loop and closes the underlying transport.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.transport.Close()
		c.urcCh.Close()
	})
	return err
}

// ingestLoop is the sole reader of c.transport and the sole writer of
// c.buf and c.slot's Publish side. It never blocks on the client.
func (c *Client) ingestLoop() {
	chunk := make([]byte, c.cfg.ReadChunk)
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		free := c.buf.Free()
		if free == 0 {
			// Buffer has no room; let digest.Step observe Full() and emit
			// the overflow-before-terminator response instead of reading.
			c.drainFrames()
			continue
		}
		if free < cap(chunk) {
			chunk = chunk[:free]
		} else {
			chunk = chunk[:cap(chunk)]
		}

		n, err := c.transport.Read(chunk)
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			c.publishTransportFailure(err)
			return
		}
		if n == 0 {
			continue
		}
		_ = c.buf.Append(chunk[:n]) // n <= free by construction above

		c.drainFrames()
	}
}

// drainFrames runs digest.Step in a loop, consuming as many complete frames
// as the buffer currently holds before returning to read more bytes.
func (c *Client) drainFrames() {
	for {
		mode := c.mode.load()
		frame, n := digest.Step(c.buf, mode, c.cfg.digestConfig())
		if frame.Type == digest.Incomplete {
			c.buf.Drop(n)
			return
		}
		c.buf.Drop(n)
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame digest.Frame) {
	switch frame.Type {
	case digest.FrameEcho:
		// Nothing to do: the echo is consumed, the command is still
		// awaiting its final code or prompt.
	case digest.FramePrompt:
		c.mode.store(digest.Mode{}) // this phase of the command is over
		c.slot.Publish(slot.Outcome{Prompt: true})
	case digest.FrameResponse:
		c.mode.store(digest.Mode{})
		c.lastCmdDone.Store(time.Now().UnixNano())
		if frame.Truncated {
			metrics.IngestRecoveries.WithLabelValues(metrics.ReasonBufferOverflow).Inc()
			logging.L().Warn("ingest: buffer filled before a line terminator arrived",
				"body_len", len(frame.Body))
		}
		if delivered := c.slot.Publish(slot.Outcome{Body: frame.Body, Err: classify(frame)}); !delivered {
			metrics.IngestRecoveries.WithLabelValues(metrics.ReasonStrayFinalCode).Inc()
			logging.L().Warn("ingest: final code with no command in flight, discarding",
				"kind", frame.Kind)
		}
	case digest.FrameURC:
		body := append([]byte(nil), frame.Body...)
		if frame.Truncated {
			metrics.IngestRecoveries.WithLabelValues(metrics.ReasonBufferOverflow).Inc()
			logging.L().Warn("ingest: buffer filled before a URC's terminator arrived",
				"body_len", len(body))
		}
		metrics.URCsReceived.Inc()
		before := c.urcCh.Dropped()
		_ = c.urcCh.Push(context.Background(), urc.Frame{Body: body})
		if after := c.urcCh.Dropped(); after != before {
			metrics.URCsDropped.Add(float64(after - before))
		}
	}
}

// classify converts a FrameResponse's Kind/Text into the atcmd error
// taxonomy, or nil for a successful outcome.
func classify(frame digest.Frame) error {
	switch frame.Kind {
	case digest.KindOk:
		return nil
	case digest.KindError:
		if frame.Truncated {
			return &atcmd.Error{Kind: atcmd.KindParse, Text: string(frame.Text)}
		}
		return &atcmd.Error{Kind: atcmd.KindError}
	case digest.KindCmeError:
		return &atcmd.Error{Kind: atcmd.KindCmeError, Text: string(frame.Text)}
	case digest.KindCmsError:
		return &atcmd.Error{Kind: atcmd.KindCmsError, Text: string(frame.Text)}
	case digest.KindConnectionError:
		return &atcmd.Error{Kind: atcmd.KindError, Text: string(frame.Text)}
	case digest.KindAborted:
		return &atcmd.Error{Kind: atcmd.KindAborted}
	case digest.KindCustom:
		return &atcmd.Error{Kind: atcmd.KindError, Text: string(frame.Text)}
	default:
		return &atcmd.Error{Kind: atcmd.KindInvalidResponse}
	}
}

// publishTransportFailure surfaces a Read error to whichever command is
// currently waiting, if any, and stops the ingest loop (the transport is
// assumed dead; the caller must construct a new Client to reconnect).
func (c *Client) publishTransportFailure(err error) {
	wrapped := fmt.Errorf("atrt: transport read: %w", err)
	c.ingestErr.Store(&wrapped)
	metrics.TransportErrors.Inc()
	logging.L().Warn("ingest: transport read failed", "error", err)
	c.mode.store(digest.Mode{})
	c.slot.Publish(slot.Outcome{Err: &atcmd.Error{Kind: atcmd.KindIO, Text: err.Error()}})
}
