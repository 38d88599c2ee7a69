package client

import (
	"bytes"
	"context"
	"time"

	"i4.energy/across/atrt/atcmd"
	"i4.energy/across/atrt/digest"
	"i4.energy/across/atrt/internal/metrics"
	"i4.energy/across/atrt/slot"
)

// Outcome is the result of a successfully completed command (Send returns a
// non-nil error instead when the command failed).
type Outcome struct {
	// Body is the concatenated information-text lines preceding the final
	// code.
	Body []byte
	// Prompt is true when this Outcome is the data-mode prompt half of an
	// AwaitPrompt command, rather than its final code.
	Prompt bool
}

func fromSlotOutcome(o slot.Outcome) Outcome {
	return Outcome{Body: o.Body, Prompt: o.Prompt}
}

// Send writes desc's command line, waits for its final code (retrying per
// Descriptor.Attempts and Descriptor.Backoff when the failure is a
// retriable kind), and returns the accumulated information-text body. For
// descriptors with AwaitPrompt() true, Send returns as soon as the prompt
// arrives; the caller must follow up with SendPayload.
func (c *Client) Send(ctx context.Context, desc atcmd.Descriptor) (Outcome, error) {
	release, err := c.acquireSend()
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	if !desc.ExpectsResponse() {
		return c.writeNoWait(desc)
	}

	attempts := desc.Attempts()
	if attempts < 1 {
		attempts = 1
	}
	var backoff atcmd.BackoffPolicy
	if bp, ok := desc.(atcmd.BackoffProvider); ok {
		backoff = bp.Backoff()
	} else {
		backoff = atcmd.NoBackoff{}
	}

	start := time.Now()
	var last Outcome
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := c.doSend(ctx, desc)
		if err == nil {
			recordCommandOutcome(start, nil)
			return out, nil
		}
		last, lastErr = out, err

		atErr, ok := err.(*atcmd.Error)
		if !ok || !atErr.Retriable() || attempt == attempts {
			recordCommandOutcome(start, lastErr)
			return last, lastErr
		}

		metrics.CommandRetries.Inc()
		delay := backoff.NextBackOff()
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				recordCommandOutcome(start, ctx.Err())
				return Outcome{}, ctx.Err()
			case <-t.C:
			}
		}
	}
	recordCommandOutcome(start, lastErr)
	return last, lastErr
}

// recordCommandOutcome observes a completed Send/SendPayload call's latency
// and increments its outcome counter, labeled per commandOutcomeLabel.
func recordCommandOutcome(start time.Time, err error) {
	metrics.CommandLatency.Observe(time.Since(start).Seconds())
	metrics.CommandsTotal.WithLabelValues(commandOutcomeLabel(err)).Inc()
}

// commandOutcomeLabel maps an outcome error onto metrics.go's bounded-
// cardinality outcome labels.
func commandOutcomeLabel(err error) string {
	if err == nil {
		return metrics.KindOK
	}
	atErr, ok := err.(*atcmd.Error)
	if !ok {
		return metrics.KindError
	}
	switch atErr.Kind {
	case atcmd.KindIO, atcmd.KindIOTimeout:
		return metrics.KindIO
	case atcmd.KindTimeout:
		return metrics.KindTimeout
	case atcmd.KindBusy:
		return metrics.KindBusy
	default:
		return metrics.KindError
	}
}

// SendPayload writes raw payload bytes directly to the transport and waits
// for the final code that follows, completing the second half of an
// AwaitPrompt command begun by Send. It does not re-check
// Descriptor.ExpectsResponse; callers only use it after a prompt Outcome.
func (c *Client) SendPayload(ctx context.Context, payload []byte, timeout time.Duration) (Outcome, error) {
	release, err := c.acquireSend()
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}
	start := time.Now()
	out, err := c.doSendRaw(ctx, payload, timeout, false)
	recordCommandOutcome(start, err)
	return out, err
}

// SendNoResponse writes desc's command line and returns immediately without
// waiting for any reply; any wire response is later discarded by the
// ingest loop as a stray final code. Cooldown is still enforced.
func (c *Client) SendNoResponse(ctx context.Context, desc atcmd.Descriptor) error {
	release, err := c.acquireSend()
	if err != nil {
		return err
	}
	defer release()

	_, err = c.writeNoWait(desc)
	return err
}

// acquireSend serializes callers per cfg.Busy: BusyWait blocks until the
// in-flight Send completes, BusyReject fails fast with atcmd.KindBusy.
func (c *Client) acquireSend() (release func(), err error) {
	if c.cfg.Busy == BusyWait {
		c.sendMu.Lock()
		return c.sendMu.Unlock, nil
	}
	if !c.sendMu.TryLock() {
		metrics.CommandBusyRejected.Inc()
		metrics.CommandsTotal.WithLabelValues(metrics.KindBusy).Inc()
		return nil, &atcmd.Error{Kind: atcmd.KindBusy}
	}
	return c.sendMu.Unlock, nil
}

func (c *Client) writeNoWait(desc atcmd.Descriptor) (Outcome, error) {
	c.waitCooldown()

	var wire bytes.Buffer
	if err := desc.WriteTo(&wire); err != nil {
		return Outcome{}, err
	}
	if _, err := c.transport.Write(wire.Bytes()); err != nil {
		return Outcome{}, &atcmd.Error{Kind: atcmd.KindIO, Text: err.Error()}
	}
	c.lastCmdDone.Store(time.Now().UnixNano())
	return Outcome{}, nil
}

// doSend runs exactly one attempt of desc: write, wait, and on timeout,
// abort-then-wait if desc allows it.
func (c *Client) doSend(ctx context.Context, desc atcmd.Descriptor) (Outcome, error) {
	c.waitCooldown()

	if err := c.slot.Begin(); err != nil {
		return Outcome{}, &atcmd.Error{Kind: atcmd.KindBusy}
	}

	var wire bytes.Buffer
	if err := desc.WriteTo(&wire); err != nil {
		c.slot.Cancel()
		c.slot.Reset()
		return Outcome{}, err
	}

	mode := digest.Mode{AwaitingResponse: true, AwaitPrompt: desc.AwaitPrompt()}
	if c.cfg.EchoSuppression == digest.EchoNever {
		mode.Echo = append([]byte(nil), bytes.TrimSuffix(wire.Bytes(), c.cfg.TerminatorTX)...)
	}
	c.mode.store(mode)

	if _, err := c.transport.Write(wire.Bytes()); err != nil {
		c.mode.store(digest.Mode{})
		c.slot.Cancel()
		c.slot.Reset()
		return Outcome{}, &atcmd.Error{Kind: atcmd.KindIO, Text: err.Error()}
	}

	timeout := desc.Timeout()
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}

	return c.waitForOutcome(ctx, timeout, desc.Abortable())
}

// doSendRaw writes payload directly (no Descriptor framing) and waits for
// its outcome; used for the payload half of an AwaitPrompt command.
func (c *Client) doSendRaw(ctx context.Context, payload []byte, timeout time.Duration, awaitPrompt bool) (Outcome, error) {
	c.waitCooldown()

	if err := c.slot.Begin(); err != nil {
		return Outcome{}, &atcmd.Error{Kind: atcmd.KindBusy}
	}

	c.mode.store(digest.Mode{AwaitingResponse: true, AwaitPrompt: awaitPrompt})

	if _, err := c.transport.Write(payload); err != nil {
		c.mode.store(digest.Mode{})
		c.slot.Cancel()
		c.slot.Reset()
		return Outcome{}, &atcmd.Error{Kind: atcmd.KindIO, Text: err.Error()}
	}

	return c.waitForOutcome(ctx, timeout, false)
}

func (c *Client) waitForOutcome(ctx context.Context, timeout time.Duration, abortable bool) (Outcome, error) {
	deadline := time.Now().Add(timeout)
	outcome, state := c.slot.Wait(ctx, deadline)
	if state == slot.Ready {
		c.lastCmdDone.Store(time.Now().UnixNano())
		return fromSlotOutcome(outcome), outcome.Err
	}

	if ctx.Err() != nil {
		c.slot.Cancel()
		c.slot.Reset()
		c.mode.store(digest.Mode{})
		return Outcome{}, ctx.Err()
	}

	// Timed out without ctx cancellation.
	if abortable {
		if out, err, ok := c.attemptAbort(ctx); ok {
			c.lastCmdDone.Store(time.Now().UnixNano())
			return out, err
		}
	}
	c.slot.Cancel()
	c.slot.Reset()
	c.mode.store(digest.Mode{})
	return Outcome{}, &atcmd.Error{Kind: atcmd.KindTimeout}
}

// attemptAbort writes cfg.AbortSequence over the still-Pending slot and
// waits up to cfg.AbortTimeout for a final code. ok is false if no outcome
// arrived in time, leaving the slot Pending for the caller to Cancel.
func (c *Client) attemptAbort(ctx context.Context) (out Outcome, err error, ok bool) {
	if _, werr := c.transport.Write(c.cfg.AbortSequence); werr != nil {
		c.slot.Cancel()
		c.slot.Reset()
		c.mode.store(digest.Mode{})
		return Outcome{}, &atcmd.Error{Kind: atcmd.KindIO, Text: werr.Error()}, true
	}
	metrics.CommandAborts.Inc()
	deadline := time.Now().Add(c.cfg.AbortTimeout)
	outcome, state := c.slot.Wait(ctx, deadline)
	if state == slot.Ready {
		c.mode.store(digest.Mode{})
		return fromSlotOutcome(outcome), outcome.Err, true
	}
	return Outcome{}, nil, false
}

// Abort withdraws whatever command is currently in flight: it writes
// cfg.AbortSequence and waits up to cfg.AbortTimeout for a final code,
// returning that code's error (nil for success). If nothing is in flight,
// Abort is a no-op.
func (c *Client) Abort(ctx context.Context) error {
	if c.slot.State() != slot.Pending {
		return nil
	}
	out, err, ok := c.attemptAbort(ctx)
	_ = out
	if ok {
		return err
	}
	c.slot.Cancel()
	c.slot.Reset()
	c.mode.store(digest.Mode{})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &atcmd.Error{Kind: atcmd.KindTimeout}
}

// waitCooldown blocks until at least cfg.Cooldown has elapsed since the
// previous command's completion (spec.md §5: never skipped, even when
// Cooldown is explicitly configured to 0 — setDefaults only supplies the
// 20ms default when Cooldown was left nil, never when it points at 0).
func (c *Client) waitCooldown() {
	last := c.lastCmdDone.Load()
	if last == 0 {
		return
	}
	elapsed := time.Since(time.Unix(0, last))
	if remaining := *c.cfg.Cooldown - elapsed; remaining > 0 {
		time.Sleep(remaining)
	}
}
