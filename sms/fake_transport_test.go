package sms

import (
	"context"
	"io"
	"sync"

	"i4.energy/across/atrt/transport"
)

// fakeTransport mirrors client's internal test fake: a channel-backed
// transport.Transport whose afterWrite hook lets a test script the modem's
// reply to whatever the client just wrote.
type fakeTransport struct {
	mu         sync.Mutex
	readChan   chan []byte
	closed     bool
	writes     [][]byte
	afterWrite func(p []byte, feed func(string))
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{readChan: make(chan []byte, 16)}
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	f.mu.Lock()
	f.writes = append(f.writes, cp)
	hook := f.afterWrite
	f.mu.Unlock()
	if hook != nil {
		hook(cp, f.Feed)
	}
	return len(p), nil
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	data, ok := <-f.readChan
	if !ok {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.readChan)
	return nil
}

func (f *fakeTransport) Feed(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.readChan <- []byte(s)
}

func (f *fakeTransport) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

type fakeDialer struct{ tp transport.Transport }

func (d fakeDialer) Dial(ctx context.Context) (transport.Transport, error) { return d.tp, nil }
