package urc

import (
	"context"
	"testing"
	"time"
)

func TestDropNewestOnFull(t *testing.T) {
	c := New(2, DropNewest)
	ctx := context.Background()
	_ = c.Push(ctx, Frame{Body: []byte("a")})
	_ = c.Push(ctx, Frame{Body: []byte("b")})
	if err := c.Push(ctx, Frame{Body: []byte("c")}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if c.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", c.Dropped())
	}
	first := <-c.Recv()
	if string(first.Body) != "a" {
		t.Fatalf("expected oldest-first delivery of %q, got %q", "a", first.Body)
	}
}

func TestDropOldestOnFull(t *testing.T) {
	c := New(2, DropOldest)
	ctx := context.Background()
	_ = c.Push(ctx, Frame{Body: []byte("a")})
	_ = c.Push(ctx, Frame{Body: []byte("b")})
	_ = c.Push(ctx, Frame{Body: []byte("c")})
	if c.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", c.Dropped())
	}
	first := <-c.Recv()
	if string(first.Body) != "b" {
		t.Fatalf("expected oldest-evicted delivery starting at %q, got %q", "b", first.Body)
	}
}

func TestBlockPolicyRespectsContext(t *testing.T) {
	c := New(1, Block)
	ctx := context.Background()
	_ = c.Push(ctx, Frame{Body: []byte("a")})

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Push(cctx, Frame{Body: []byte("b")})
	if err == nil {
		t.Fatal("expected context deadline error while channel is full")
	}
}

func TestNoFrameSilentlyDropped(t *testing.T) {
	c := New(1, DropNewest)
	ctx := context.Background()
	sent := 5
	for i := 0; i < sent; i++ {
		_ = c.Push(ctx, Frame{Body: []byte{byte(i)}})
	}
	received := 0
	for received < int(c.Dropped()) {
		received++
	}
	delivered := len(c.Recv())
	if delivered+int(c.Dropped()) != sent {
		t.Fatalf("delivered(%d)+dropped(%d) != sent(%d)", delivered, c.Dropped(), sent)
	}
}
