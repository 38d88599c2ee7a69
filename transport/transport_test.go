package transport

import (
	"context"
	"errors"
	"testing"

	"go.bug.st/serial"
	"go.uber.org/mock/gomock"
)

func TestSerialDialer_EmptyPortName(t *testing.T) {
	d := SerialDialer{}
	_, err := d.Dial(context.Background())
	if err == nil {
		t.Fatal("expected error for empty port name")
	}
}

func TestSerialDialer_NilContext(t *testing.T) {
	d := SerialDialer{PortName: "/dev/ttyUSB0"}
	_, err := d.Dial(nil)
	if err == nil {
		t.Fatal("expected error for nil context")
	}
}

func TestSerialDialer_ContextCanceled(t *testing.T) {
	d := SerialDialer{PortName: "/dev/nonexistent"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Dial(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSerialDialer_ModeFromBaudRate(t *testing.T) {
	d := SerialDialer{PortName: "/dev/nonexistent", BaudRate: 115200}
	if got := d.mode(); got == nil || got.BaudRate != 115200 {
		t.Fatalf("mode = %+v", got)
	}
}

func TestSerialDialer_ExplicitModeWins(t *testing.T) {
	m := &serial.Mode{BaudRate: 9600, DataBits: 7}
	d := SerialDialer{PortName: "/dev/nonexistent", BaudRate: 115200, Mode: m}
	if d.mode() != m {
		t.Fatal("explicit Mode should take precedence over BaudRate")
	}
}

func TestMockTransportSatisfiesInterface(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mt := NewMockTransport(ctrl)
	var _ Transport = mt

	data := []byte("AT\r")
	mt.EXPECT().Write(data).Return(len(data), nil)
	mt.EXPECT().Read(gomock.Any()).Return(4, nil)
	mt.EXPECT().Close().Return(nil)

	if n, err := mt.Write(data); err != nil || n != len(data) {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	if n, err := mt.Read(make([]byte, 10)); err != nil || n != 4 {
		t.Fatalf("read: n=%d err=%v", n, err)
	}
	if err := mt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestMockDialerSatisfiesInterface(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	md := NewMockDialer(ctrl)
	mt := NewMockTransport(ctrl)
	var _ Dialer = md

	ctx := context.Background()
	md.EXPECT().Dial(ctx).Return(mt, nil)

	got, err := md.Dial(ctx)
	if err != nil || got != mt {
		t.Fatalf("dial: got=%v err=%v", got, err)
	}
}
