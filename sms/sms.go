// Package sms supplies the concrete atcmd.Descriptor values and the
// higher-level send flow the distilled specification leaves abstract: the
// modem init sequence (echo off, text mode, PIN unlock) and the two-step
// AT+CMGS prompt exchange, generalized from the teacher's
// modem.Modem.init/SendSMS off one fixed Modem type onto any client.Client.
package sms

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"i4.energy/across/atrt/atcmd"
	"i4.energy/across/atrt/client"
)

// EchoOff returns "ATE0", disabling command echo.
func EchoOff() atcmd.Descriptor {
	return atcmd.Raw{Line: "ATE0", WantsResponse: true}
}

// SetTextMode returns "AT+CMGF=1", selecting SMS text mode (as opposed to
// PDU mode, which is out of scope here).
func SetTextMode() atcmd.Descriptor {
	return atcmd.Raw{Line: "AT+CMGF=1", WantsResponse: true}
}

// VerboseErrors returns "AT+CMEE=2", asking the modem for textual +CME
// ERROR codes instead of bare numeric ones.
func VerboseErrors() atcmd.Descriptor {
	return atcmd.Raw{Line: "AT+CMEE=2", WantsResponse: true}
}

// PINStatus is the parsed result of a CheckPIN query.
type PINStatus int

const (
	PINUnknown PINStatus = iota
	PINReady
	PINRequired
	PUKRequired
)

func (s PINStatus) String() string {
	switch s {
	case PINReady:
		return "READY"
	case PINRequired:
		return "SIM PIN"
	case PUKRequired:
		return "SIM PUK"
	default:
		return "UNKNOWN"
	}
}

// CheckPIN returns "AT+CPIN?", parsing the body into a PINStatus.
func CheckPIN() atcmd.Descriptor {
	return atcmd.Raw{
		Line:          "AT+CPIN?",
		WantsResponse: true,
		ResponseParseFn: func(body []byte) (any, error) {
			text := string(body)
			switch {
			case strings.Contains(text, "READY"):
				return PINReady, nil
			case strings.Contains(text, "SIM PUK"):
				return PUKRequired, nil
			case strings.Contains(text, "SIM PIN"):
				return PINRequired, nil
			default:
				return PINUnknown, fmt.Errorf("sms: unrecognized CPIN state: %q", text)
			}
		},
	}
}

// EnterPIN returns `AT+CPIN="<pin>"`, unlocking the SIM.
func EnterPIN(pin string) atcmd.Descriptor {
	return atcmd.Raw{Line: fmt.Sprintf(`AT+CPIN="%s"`, pin), WantsResponse: true}
}

// SignalQuality is the parsed result of a +CSQ query.
type SignalQuality struct {
	RSSI int // 0-31, 99 = unknown
	BER  int // 0-7, 99 = unknown
}

// CheckSignal returns "AT+CSQ", parsing the body into a SignalQuality.
func CheckSignal() atcmd.Descriptor {
	return atcmd.Raw{
		Line:          "AT+CSQ",
		WantsResponse: true,
		ResponseParseFn: func(body []byte) (any, error) {
			text := strings.TrimPrefix(strings.TrimSpace(string(body)), "+CSQ:")
			parts := strings.SplitN(strings.TrimSpace(text), ",", 2)
			if len(parts) != 2 {
				return SignalQuality{}, fmt.Errorf("sms: malformed +CSQ body: %q", body)
			}
			rssi, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
			ber, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
			if err1 != nil || err2 != nil {
				return SignalQuality{}, fmt.Errorf("sms: malformed +CSQ body: %q", body)
			}
			return SignalQuality{RSSI: rssi, BER: ber}, nil
		},
	}
}

// sendCommand returns the first half of an AT+CMGS exchange: the command
// line up to the data-mode prompt. The caller must follow up with the raw
// payload via client.Client.SendPayload (see Send below).
func sendCommand(recipient string) atcmd.Descriptor {
	return atcmd.Raw{
		Line:          fmt.Sprintf(`AT+CMGS="%s"`, recipient),
		WantsResponse: true,
		WantsPrompt:   true,
		CmdTimeout:    10 * time.Second,
		CanAbort:      true,
	}
}

// Result is the parsed outcome of a successful Send.
type Result struct {
	// Reference is the message reference number the modem assigned
	// (parsed from "+CMGS: <n>").
	Reference int
}

func parseCMGSBody(body []byte) (Result, error) {
	text := strings.TrimSpace(string(body))
	text = strings.TrimPrefix(text, "+CMGS:")
	ref, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return Result{}, fmt.Errorf("sms: malformed +CMGS body: %q", body)
	}
	return Result{Reference: ref}, nil
}

// Send drives the full two-step AT+CMGS exchange on c: it writes the
// command line, waits for the data-mode prompt, writes message terminated
// by Ctrl-Z, and waits for the final "+CMGS: <ref>"/OK. recipient should be
// in international format (e.g. "+12025550101"); PDU mode is out of scope.
func Send(ctx context.Context, c *client.Client, recipient, message string) (Result, error) {
	prompt, err := c.Send(ctx, sendCommand(recipient))
	if err != nil {
		return Result{}, fmt.Errorf("AT+CMGS command: %w", err)
	}
	if !prompt.Prompt {
		return Result{}, fmt.Errorf("sms: expected data-mode prompt, got final code")
	}

	payload := append([]byte(message), 0x1A) // Ctrl-Z terminates the body
	out, err := c.SendPayload(ctx, payload, 30*time.Second)
	if err != nil {
		return Result{}, fmt.Errorf("sms body: %w", err)
	}
	return parseCMGSBody(out.Body)
}

// Init runs the modem bring-up sequence the teacher's Modem.init performed
// inline, generalized into a sequence of ordinary Send calls: echo off,
// verbose errors (best-effort), SIM unlock if required, and text mode.
func Init(ctx context.Context, c *client.Client, simPIN string) error {
	if _, err := c.Send(ctx, EchoOff()); err != nil {
		return fmt.Errorf("disable echo: %w", err)
	}
	_, _ = c.Send(ctx, VerboseErrors()) // best effort: not every modem supports it

	status, err := c.Send(ctx, CheckPIN())
	if err != nil {
		return fmt.Errorf("query SIM status: %w", err)
	}
	parsed, perr := CheckPIN().(atcmd.ResponseParser).ParseResponse(status.Body)
	if perr != nil {
		return fmt.Errorf("parse SIM status: %w", perr)
	}

	switch parsed.(PINStatus) {
	case PINReady:
		// nothing to do
	case PINRequired:
		if simPIN == "" {
			return fmt.Errorf("sms: SIM requires a PIN but none was configured")
		}
		if _, err := c.Send(ctx, EnterPIN(simPIN)); err != nil {
			return fmt.Errorf("enter SIM PIN: %w", err)
		}
	case PUKRequired:
		return fmt.Errorf("sms: SIM requires PUK unlock, which this client does not automate")
	default:
		return fmt.Errorf("sms: unsupported SIM state %v", parsed)
	}

	if _, err := c.Send(ctx, SetTextMode()); err != nil {
		return fmt.Errorf("set SMS text mode: %w", err)
	}
	return nil
}
