// Package urc implements the bounded single-producer/single-consumer queue
// of unsolicited result codes described in spec.md §4.4, modeled on the
// backpressure policy switch in github.com/kstaniek/go-ampio-server's
// internal/hub package (PolicyDrop / PolicyKick), generalized from
// fan-out-to-many-clients down to a single consumer with an overflow
// counter instead of a per-client kick.
package urc

import (
	"context"
	"sync/atomic"
)

// OverflowPolicy selects what happens when the channel is full and a new
// frame arrives.
type OverflowPolicy int

const (
	// DropNewest discards the incoming frame and increments Dropped. This
	// is the default: it never blocks the ingest task.
	DropNewest OverflowPolicy = iota
	// DropOldest evicts the oldest buffered frame to make room.
	DropOldest
	// Block suspends the producer until space is available. Only valid
	// when the transport has hardware flow control (spec.md §4.4).
	Block
)

// Frame is an owned copy of a URC line or multi-line block, copied out of
// the ingest buffer at classification time.
type Frame struct {
	Body []byte
}

// Channel is a bounded queue of Frame values with configurable overflow
// behavior. The zero value is not usable; construct with New.
type Channel struct {
	ch       chan Frame
	policy   OverflowPolicy
	dropped  atomic.Uint32
	capacity int
}

// New creates a Channel with the given capacity and overflow policy.
func New(capacity int, policy OverflowPolicy) *Channel {
	if capacity <= 0 {
		capacity = 1
	}
	return &Channel{
		ch:       make(chan Frame, capacity),
		policy:   policy,
		capacity: capacity,
	}
}

// Push enqueues fr according to the configured overflow policy. Push never
// blocks except under the Block policy, where ctx cancellation is honored.
func (c *Channel) Push(ctx context.Context, fr Frame) error {
	switch c.policy {
	case DropOldest:
		for {
			select {
			case c.ch <- fr:
				return nil
			default:
				select {
				case <-c.ch:
					c.dropped.Add(1)
				default:
				}
			}
		}
	case Block:
		select {
		case c.ch <- fr:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default: // DropNewest
		select {
		case c.ch <- fr:
			return nil
		default:
			c.dropped.Add(1)
			return nil
		}
	}
}

// Recv returns the channel's receive side for a consumer loop, typically
// used as `for frame := range ch.Recv() { ... }` after Close.
func (c *Channel) Recv() <-chan Frame { return c.ch }

// Dropped returns the number of frames discarded by the overflow policy
// since construction.
func (c *Channel) Dropped() uint32 { return c.dropped.Load() }

// Depth returns the number of frames currently buffered.
func (c *Channel) Depth() int { return len(c.ch) }

// Capacity returns the channel's fixed capacity.
func (c *Channel) Capacity() int { return c.capacity }

// Close closes the channel, signalling the consumer that no more frames
// will arrive. Close must only be called by the producer (the ingest task).
func (c *Channel) Close() { close(c.ch) }
