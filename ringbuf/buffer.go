// Package ringbuf implements a fixed-capacity circular byte buffer for the
// ingest side of the AT-command pipeline.
//
// The buffer never allocates after construction: Append copies into the
// pre-sized ring, Peek presents a contiguous view (rotating the ring in
// place when the content wraps), and Drop advances the window without
// moving unread bytes.
package ringbuf

import "errors"

// ErrBufferFull is returned by Append when the incoming bytes would exceed
// the buffer's capacity.
var ErrBufferFull = errors.New("ringbuf: buffer full")

// Buffer is a fixed-capacity ring of bytes. The zero value is not usable;
// construct with New.
type Buffer struct {
	data   []byte
	head   int // index of the first logical byte
	length int // number of valid bytes starting at head
}

// New allocates a Buffer with the given capacity. This is the only
// allocation in the buffer's lifetime.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic("ringbuf: capacity must be positive")
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Cap returns the buffer's fixed capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of valid, unread bytes currently held.
func (b *Buffer) Len() int { return b.length }

// Free returns the number of additional bytes that can be appended before
// the buffer is full.
func (b *Buffer) Free() int { return len(b.data) - b.length }

// Append copies p into the ring. It returns ErrBufferFull, leaving the
// buffer unchanged, if p does not fit in the remaining capacity.
func (b *Buffer) Append(p []byte) error {
	if len(p) > b.Free() {
		return ErrBufferFull
	}
	cap := len(b.data)
	writeAt := (b.head + b.length) % cap
	n := copy(b.data[writeAt:], p)
	if n < len(p) {
		copy(b.data[0:], p[n:])
	}
	b.length += len(p)
	return nil
}

// Peek returns a contiguous view of the buffer's current content. If the
// content wraps around the end of the ring, Peek rotates the ring in place
// (three-reversal rotation, no allocation) so that the logical start lands
// at index 0, then returns data[:Len()]. The returned slice aliases the
// buffer's internal storage and is only valid until the next Append, Drop,
// or Reset.
func (b *Buffer) Peek() []byte {
	if b.head != 0 {
		b.rotateToZero()
	}
	return b.data[:b.length]
}

// rotateToZero rotates the ring left by b.head positions using the
// three-reversal algorithm, then resets head to 0. O(capacity) time,
// O(1) extra space.
func (b *Buffer) rotateToZero() {
	cap := len(b.data)
	reverse(b.data, 0, b.head-1)
	reverse(b.data, b.head, cap-1)
	reverse(b.data, 0, cap-1)
	b.head = 0
}

func reverse(data []byte, i, j int) {
	for i < j {
		data[i], data[j] = data[j], data[i]
		i++
		j--
	}
}

// Drop removes the first n bytes from the buffer's logical content. Drop
// panics if n is negative or greater than Len, since that indicates a bug
// in the caller's consumption accounting, not a runtime condition.
func (b *Buffer) Drop(n int) {
	if n < 0 || n > b.length {
		panic("ringbuf: drop out of range")
	}
	b.head = (b.head + n) % len(b.data)
	b.length -= n
	if b.length == 0 {
		b.head = 0
	}
}

// Reset discards all buffered content.
func (b *Buffer) Reset() {
	b.head = 0
	b.length = 0
}

// Full reports whether the buffer has no remaining free capacity.
func (b *Buffer) Full() bool { return b.length == len(b.data) }
