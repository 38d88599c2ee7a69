package client

import (
	"context"
	"testing"
	"time"

	"i4.energy/across/atrt/atcmd"
)

func newTestClient(t *testing.T, ft *fakeTransport, cfg Config) *Client {
	t.Helper()
	cfg.Dialer = fakeDialer{tp: ft}
	cooldown := time.Millisecond
	cfg.Cooldown = &cooldown
	c, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSendSuccess(t *testing.T) {
	ft := newFakeTransport()
	ft.afterWrite = func(p []byte, feed func(string)) {
		feed(string(p))
		feed("OK\r\n")
	}
	c := newTestClient(t, ft, Config{})

	out, err := c.Send(context.Background(), atcmd.Raw{Line: "AT+CMGF=1", WantsResponse: true})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(out.Body) != 0 {
		t.Fatalf("body = %q, want empty", out.Body)
	}
}

func TestSendInformationTextThenOK(t *testing.T) {
	ft := newFakeTransport()
	ft.afterWrite = func(p []byte, feed func(string)) {
		feed(string(p))
		feed("+CSQ: 20,99\r\nOK\r\n")
	}
	c := newTestClient(t, ft, Config{})

	out, err := c.Send(context.Background(), atcmd.Raw{Line: "AT+CSQ", WantsResponse: true})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(out.Body) != "+CSQ: 20,99" {
		t.Fatalf("body = %q", out.Body)
	}
}

func TestSendCMEError(t *testing.T) {
	ft := newFakeTransport()
	ft.afterWrite = func(p []byte, feed func(string)) {
		feed(string(p))
		feed("+CME ERROR: 10\r\n")
	}
	c := newTestClient(t, ft, Config{})

	_, err := c.Send(context.Background(), atcmd.Raw{Line: "AT+CPIN?", WantsResponse: true})
	atErr, ok := err.(*atcmd.Error)
	if !ok {
		t.Fatalf("err = %v, want *atcmd.Error", err)
	}
	if atErr.Kind != atcmd.KindCmeError || atErr.Text != "10" {
		t.Fatalf("err = %+v", atErr)
	}
}

func TestSendRetriesOnRetriableError(t *testing.T) {
	ft := newFakeTransport()
	attempt := 0
	ft.afterWrite = func(p []byte, feed func(string)) {
		attempt++
		feed(string(p))
		if attempt == 1 {
			feed("ERROR\r\n")
		} else {
			feed("OK\r\n")
		}
	}
	c := newTestClient(t, ft, Config{})

	_, err := c.Send(context.Background(), atcmd.Raw{Line: "AT", WantsResponse: true, AttemptCount: 2})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if attempt != 2 {
		t.Fatalf("attempts = %d, want 2", attempt)
	}
}

func TestSendDoesNotRetryCmeError(t *testing.T) {
	ft := newFakeTransport()
	attempt := 0
	ft.afterWrite = func(p []byte, feed func(string)) {
		attempt++
		feed(string(p))
		feed("+CME ERROR: 3\r\n")
	}
	c := newTestClient(t, ft, Config{})

	_, err := c.Send(context.Background(), atcmd.Raw{Line: "AT", WantsResponse: true, AttemptCount: 3})
	if attempt != 1 {
		t.Fatalf("attempts = %d, want 1 (CmeError is not retriable)", attempt)
	}
	atErr, _ := err.(*atcmd.Error)
	if atErr == nil || atErr.Kind != atcmd.KindCmeError {
		t.Fatalf("err = %v", err)
	}
}

func TestSendTimeout(t *testing.T) {
	ft := newFakeTransport() // never replies
	c := newTestClient(t, ft, Config{})

	_, err := c.Send(context.Background(), atcmd.Raw{Line: "AT", WantsResponse: true, CmdTimeout: 30 * time.Millisecond})
	atErr, ok := err.(*atcmd.Error)
	if !ok || atErr.Kind != atcmd.KindTimeout {
		t.Fatalf("err = %v, want KindTimeout", err)
	}
}

func TestSendAbortOnTimeoutSucceeds(t *testing.T) {
	ft := newFakeTransport()
	ft.afterWrite = func(p []byte, feed func(string)) {
		// Only reply to the abort sequence (ESC), not the original command.
		if len(p) == 1 && p[0] == 0x1B {
			feed("ABORTED\r\n")
		}
	}
	c := newTestClient(t, ft, Config{})

	_, err := c.Send(context.Background(), atcmd.Raw{
		Line: "AT+CMGS=\"+100\"", WantsResponse: true,
		CmdTimeout: 20 * time.Millisecond, CanAbort: true,
	})
	atErr, ok := err.(*atcmd.Error)
	if !ok || atErr.Kind != atcmd.KindAborted {
		t.Fatalf("err = %v, want KindAborted", err)
	}
}

func TestSendBusyRejectsConcurrentCaller(t *testing.T) {
	ft := newFakeTransport() // never replies, so the first Send blocks for its full timeout
	c := newTestClient(t, ft, Config{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), atcmd.Raw{Line: "AT", WantsResponse: true, CmdTimeout: 80 * time.Millisecond})
		done <- err
	}()

	time.Sleep(15 * time.Millisecond) // let the first Send acquire the slot

	_, err := c.Send(context.Background(), atcmd.Raw{Line: "AT+CSQ", WantsResponse: true})
	atErr, ok := err.(*atcmd.Error)
	if !ok || atErr.Kind != atcmd.KindBusy {
		t.Fatalf("err = %v, want KindBusy", err)
	}

	<-done
}

func TestSendPromptThenPayload(t *testing.T) {
	ft := newFakeTransport()
	ft.afterWrite = func(p []byte, feed func(string)) {
		if string(p) == "AT+CMGS=\"+100\"\r\n" {
			feed(string(p))
			feed("> ")
			return
		}
		// second write is the raw SMS payload ending in Ctrl-Z
		feed("\r\n+CMGS: 1\r\nOK\r\n")
	}
	c := newTestClient(t, ft, Config{})

	out, err := c.Send(context.Background(), atcmd.Raw{
		Line: `AT+CMGS="+100"`, WantsResponse: true, WantsPrompt: true,
		CmdTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Send (prompt half): %v", err)
	}
	if !out.Prompt {
		t.Fatalf("expected Prompt outcome, got %+v", out)
	}

	final, err := c.SendPayload(context.Background(), []byte("hello\x1A"), time.Second)
	if err != nil {
		t.Fatalf("SendPayload: %v", err)
	}
	if string(final.Body) != "+CMGS: 1" {
		t.Fatalf("body = %q", final.Body)
	}
}

func TestURCDeliveredOutsideCommand(t *testing.T) {
	ft := newFakeTransport()
	c := newTestClient(t, ft, Config{})

	ft.Feed("+CMTI: \"SM\",3\r\n")

	select {
	case fr := <-c.URCs():
		if string(fr.Body) != `+CMTI: "SM",3` {
			t.Fatalf("urc body = %q", fr.Body)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for URC")
	}
}

func TestLastErrorAfterTransportFailure(t *testing.T) {
	ft := newFakeTransport()
	cooldown := time.Millisecond
	cfg := Config{Dialer: fakeDialer{tp: ft}, Cooldown: &cooldown}
	cfg.setDefaults()
	c, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), atcmd.Raw{Line: "AT", WantsResponse: true, CmdTimeout: time.Second})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	ft.Close() // simulate the serial port disappearing mid-command

	if err := <-done; err == nil {
		t.Fatal("expected Send to surface the transport failure")
	}

	time.Sleep(10 * time.Millisecond) // let the ingest loop observe the close and store LastError
	if c.LastError() == nil {
		t.Fatal("expected LastError to be set after transport read failure")
	}
}

func TestAbortNoopWhenIdle(t *testing.T) {
	ft := newFakeTransport()
	c := newTestClient(t, ft, Config{})

	if err := c.Abort(context.Background()); err != nil {
		t.Fatalf("Abort on idle client: %v", err)
	}
}

func TestSendNoResponse(t *testing.T) {
	ft := newFakeTransport()
	c := newTestClient(t, ft, Config{})

	if err := c.SendNoResponse(context.Background(), atcmd.Raw{Line: "AT&W"}); err != nil {
		t.Fatalf("SendNoResponse: %v", err)
	}
	if len(ft.Writes()) != 1 {
		t.Fatalf("writes = %d, want 1", len(ft.Writes()))
	}
}

func TestBufferOverflowClassifiedAsParse(t *testing.T) {
	ft := newFakeTransport()
	ft.afterWrite = func(p []byte, feed func(string)) {
		feed("XXXXXXXXXXXXXXXX") // 16 bytes, no terminator, fills the buffer
	}
	c := newTestClient(t, ft, Config{BufferCapacity: 16})

	_, err := c.Send(context.Background(), atcmd.Raw{Line: "AT", WantsResponse: true, CmdTimeout: time.Second})
	atErr, ok := err.(*atcmd.Error)
	if !ok || atErr.Kind != atcmd.KindParse {
		t.Fatalf("err = %v, want *atcmd.Error{Kind: KindParse}", err)
	}
}

func TestStrayFinalCodeDiscardedSilently(t *testing.T) {
	ft := newFakeTransport()
	c := newTestClient(t, ft, Config{})

	ft.Feed("OK\r\n") // arrives with no command in flight
	time.Sleep(10 * time.Millisecond)

	ft.afterWrite = func(p []byte, feed func(string)) {
		feed(string(p))
		feed("OK\r\n")
	}
	if _, err := c.Send(context.Background(), atcmd.Raw{Line: "AT", WantsResponse: true, CmdTimeout: time.Second}); err != nil {
		t.Fatalf("Send after stray final code: %v", err)
	}
}
