// Package digest implements the pure classifier at the heart of the
// AT-command ingest pipeline: given the current contents of a
// ringbuf.Buffer and the client's current expectation, it produces exactly
// one classification plus the number of leading bytes the caller should
// drop from the buffer.
//
// Step is not allocation-free: it collects information-text lines in a
// slice while scanning, and a returned Frame's Body is a freshly allocated
// copy (as is Text for CONNECT-style and connection-error final codes).
//
// Step never performs I/O, never mutates the buffer, and never blocks. It
// is safe to call repeatedly as new bytes arrive; calling it again with an
// unchanged buffer and mode is idempotent.
package digest

import "bytes"

// FrameType tags the kind of event Step produced.
type FrameType int

const (
	// Incomplete means the buffer holds a partial frame; wait for more bytes.
	Incomplete FrameType = iota
	// FramePrompt is a data-mode prompt ("> ", "@ ", ...).
	FramePrompt
	// FrameResponse is a final result code plus the information-text body
	// that preceded it.
	FrameResponse
	// FrameURC is a complete, unsolicited result code not bound to any
	// in-flight command.
	FrameURC
	// FrameEcho is the modem's echo of the command just sent.
	FrameEcho
)

// Kind further classifies a FrameResponse.
type Kind int

const (
	KindNone Kind = iota
	KindOk
	KindCmeError
	KindCmsError
	KindConnectionError
	KindError
	KindAborted
	KindCustom
)

// Frame is the classification Step returns.
type Frame struct {
	Type       FrameType
	Kind       Kind
	Body       []byte // concatenated information-text lines (Response, FrameURC for multi-line blocks)
	Text       []byte // CME/CMS error code/text, custom error text, or the raw final-code line
	PromptByte byte
	// Truncated is true when this frame was forced out because the ring
	// buffer filled up before a line terminator ever arrived (a malformed
	// or oversized frame), rather than because a terminator was actually
	// seen. The caller should log and count this as a recovery.
	Truncated bool
}

// Mode carries the client's current expectation into Step. The ingest loop
// owns and mutates Mode between calls; Step itself is stateless.
type Mode struct {
	// AwaitingResponse is true while a command is in flight.
	AwaitingResponse bool
	// Echo is the exact bytes of the command just written (without
	// terminator), used only when EchoSuppression is EchoNever.
	Echo []byte
	// AwaitPrompt is true when the in-flight command expects a data-mode
	// prompt (e.g. SMS body entry) before its final code.
	AwaitPrompt bool
}

// EchoMode selects how the modem's command echo is handled.
type EchoMode int

const (
	// EchoNever means the modem does not suppress echo; Step must match and
	// discard it.
	EchoNever EchoMode = iota
	// Echo means the modem has been configured to suppress plain echo.
	Echo
	// EchoAndUrcPrefix means the modem additionally never interleaves URCs
	// ahead of the echo.
	EchoAndUrcPrefix
)

// Config holds the digester's lexical parameters.
type Config struct {
	// TerminatorRX is the line terminator expected on input, default "\r\n".
	TerminatorRX []byte
	// PromptByte is the sentinel byte for data-mode prompts, default '>'.
	PromptByte byte
	// EchoSuppression selects echo handling.
	EchoSuppression EchoMode
	// URCPrefixes lists byte prefixes that mark a line as a URC candidate
	// (checked only after the final-code table has been ruled out).
	URCPrefixes [][]byte
	// URCExactWords lists lines recognized as URCs by exact match (e.g. "RING").
	URCExactWords [][]byte
	// TolerateLeadingLF treats a lone '\n' as a line terminator when
	// skipping leading blank lines (for modems that emit "\n\r").
	TolerateLeadingLF bool
	// CustomErrorMessages enables same-line "ERROR: <text>" recognition
	// (up to 64 bytes of text), see SPEC_FULL.md §4.1.
	CustomErrorMessages bool
	// Matcher identifies known multi-line URCs. May be nil, in which case
	// every URC-prefixed line is treated as a single-line URC.
	Matcher URCMatcher
}

func (c Config) terminator() []byte {
	if len(c.TerminatorRX) == 0 {
		return []byte("\r\n")
	}
	return c.TerminatorRX
}

func (c Config) promptByte() byte {
	if c.PromptByte == 0 {
		return '>'
	}
	return c.PromptByte
}

func (c Config) urcPrefixes() [][]byte {
	if len(c.URCPrefixes) == 0 {
		// Only prefixes that are never also a command's information-text
		// response (spec.md §4.1): a bare "+" would misclassify every
		// "+CSQ:"-shaped information-text line as a URC.
		return [][]byte{[]byte("+CMTI:"), []byte("+CDSI:")}
	}
	return c.URCPrefixes
}

func (c Config) urcExactWords() [][]byte {
	if len(c.URCExactWords) == 0 {
		return [][]byte{[]byte("RING")}
	}
	return c.URCExactWords
}

const customErrorMaxText = 64

var (
	okLine    = []byte("OK")
	errorLine = []byte("ERROR")
	abortLine = []byte("ABORTED")

	noCarrier  = []byte("NO CARRIER")
	noDialtone = []byte("NO DIALTONE")
	busy       = []byte("BUSY")
	noAnswer   = []byte("NO ANSWER")

	cmeErrorPrefix = []byte("+CME ERROR:")
	cmsErrorPrefix = []byte("+CMS ERROR:")
	connectPrefix  = []byte("CONNECT")
	errorColon     = []byte("ERROR:")
)

// Buffer is the minimal view Step needs over the ingest byte buffer. It is
// satisfied by *ringbuf.Buffer.
type Buffer interface {
	Peek() []byte
	Full() bool
}

// Step classifies the current contents of buf given mode and cfg. It
// returns the classification and the number of leading bytes the caller
// should Drop from buf to apply the result (0 for Incomplete, except when
// leading blank lines were skipped).
func Step(buf Buffer, mode Mode, cfg Config) (Frame, int) {
	view := buf.Peek()
	term := cfg.terminator()

	pos, discarded := skipBlankLines(view, term, cfg.TolerateLeadingLF)

	if mode.AwaitingResponse && cfg.EchoSuppression == EchoNever && len(mode.Echo) > 0 {
		if f, n, ok := matchEcho(view[pos:], mode.Echo); ok {
			return f, pos + n
		} else if n == -1 {
			return Frame{Type: Incomplete}, discarded
		}
	}

	if mode.AwaitPrompt {
		if f, n, done := matchPrompt(view[pos:], cfg.promptByte()); done {
			if n < 0 {
				return Frame{Type: Incomplete}, discarded
			}
			return f, pos + n
		}
	}

	return scanLines(buf, view, pos, discarded, term, cfg)
}

// skipBlankLines consumes consecutive empty/whitespace-only lines at the
// very start of view and reports how many bytes were consumed.
func skipBlankLines(view, term []byte, tolerateLF bool) (pos, discarded int) {
	for {
		if tolerateLF && pos < len(view) && view[pos] == '\n' {
			pos++
			discarded = pos
			continue
		}
		if bytes.HasPrefix(view[pos:], term) {
			pos += len(term)
			discarded = pos
			continue
		}
		if idx := bytes.Index(view[pos:], term); idx > 0 && len(bytes.TrimSpace(view[pos:pos+idx])) == 0 {
			pos += idx + len(term)
			discarded = pos
			continue
		}
		break
	}
	return pos, discarded
}

// matchEcho attempts to match the command echo at the front of rest.
// n == -1 signals "not enough bytes yet to decide".
func matchEcho(rest, echo []byte) (Frame, int, bool) {
	if len(rest) >= len(echo) {
		if bytes.Equal(rest[:len(echo)], echo) {
			return Frame{Type: FrameEcho}, len(echo), true
		}
		return Frame{}, 0, false
	}
	if bytes.Equal(rest, echo[:len(rest)]) {
		return Frame{}, -1, false
	}
	return Frame{}, 0, false
}

// matchPrompt checks for a sentinel-byte prompt at the front of rest.
// done is true when a definitive decision (prompt or "not a prompt") was
// reached; when done is true and n < 0, the caller should wait for more bytes.
func matchPrompt(rest []byte, promptByte byte) (Frame, int, bool) {
	if len(rest) == 0 || rest[0] != promptByte {
		return Frame{}, 0, false
	}
	if len(rest) < 2 {
		return Frame{}, -1, true
	}
	if rest[1] == ' ' {
		return Frame{Type: FramePrompt, PromptByte: promptByte}, 2, true
	}
	// Sentinel byte present but not space-terminated: not a prompt frame,
	// let normal line scanning handle it.
	return Frame{}, 0, false
}

// scanLines implements spec.md §4.1 steps 3-5: find complete lines,
// accumulate information text, and stop at the first final code or
// complete URC.
func scanLines(buf Buffer, view []byte, pos, discarded int, term []byte, cfg Config) (Frame, int) {
	cursor := pos
	var bodyLines [][]byte

	for {
		idx := bytes.Index(view[cursor:], term)
		if idx < 0 {
			if buf.Full() {
				return Frame{Type: FrameResponse, Kind: KindError, Body: join(bodyLines), Text: []byte("overflow before terminator"), Truncated: true}, len(view)
			}
			return Frame{Type: Incomplete}, discarded
		}

		line := view[cursor : cursor+idx]
		lineEnd := cursor + idx + len(term)

		if kind, text, final := classifyFinal(line, cfg); final {
			return Frame{Type: FrameResponse, Kind: kind, Body: join(bodyLines), Text: text}, lineEnd
		}

		if isURCLine(line, cfg) {
			return scanURC(buf, view, line, lineEnd, term, cfg)
		}

		if len(bytes.TrimSpace(line)) > 0 {
			bodyLines = append(bodyLines, line)
		}
		cursor = lineEnd
	}
}

// scanURC handles a candidate URC line, consulting cfg.Matcher to decide
// whether it is a known multi-line block.
func scanURC(buf Buffer, view, firstLine []byte, lineEnd int, term []byte, cfg Config) (Frame, int) {
	if cfg.Matcher == nil {
		return Frame{Type: FrameURC, Body: append([]byte{}, firstLine...)}, lineEnd
	}

	res := cfg.Matcher.Match(firstLine)
	if !res.Matched || !res.Multiline {
		return Frame{Type: FrameURC, Body: append([]byte{}, firstLine...)}, lineEnd
	}

	lines := [][]byte{firstLine}
	cursor := lineEnd
	for {
		idx := bytes.Index(view[cursor:], term)
		if idx < 0 {
			if buf.Full() {
				return Frame{Type: FrameURC, Body: join(lines), Truncated: true}, len(view)
			}
			return Frame{Type: Incomplete}, 0
		}
		line := view[cursor : cursor+idx]
		newEnd := cursor + idx + len(term)
		lines = append(lines, line)
		if bytes.Equal(line, res.MultilineTerminator) {
			return Frame{Type: FrameURC, Body: join(lines)}, newEnd
		}
		cursor = newEnd
	}
}

// classifyFinal reports whether line is a final result code, its Kind, and
// any associated text (CME/CMS code, custom error text, or the raw line for
// CONNECT variants).
func classifyFinal(line []byte, cfg Config) (kind Kind, text []byte, final bool) {
	switch {
	case bytes.Equal(line, okLine):
		return KindOk, nil, true
	case bytes.Equal(line, errorLine):
		return KindError, nil, true
	case bytes.Equal(line, abortLine):
		return KindAborted, nil, true
	case bytes.Equal(line, noCarrier), bytes.Equal(line, noDialtone),
		bytes.Equal(line, busy), bytes.Equal(line, noAnswer):
		return KindConnectionError, append([]byte{}, line...), true
	case bytes.HasPrefix(line, cmeErrorPrefix):
		return KindCmeError, trimText(line[len(cmeErrorPrefix):]), true
	case bytes.HasPrefix(line, cmsErrorPrefix):
		return KindCmsError, trimText(line[len(cmsErrorPrefix):]), true
	case bytes.HasPrefix(line, connectPrefix):
		return KindOk, append([]byte{}, line...), true
	case cfg.CustomErrorMessages && bytes.HasPrefix(line, errorColon):
		txt := trimText(line[len(errorColon):])
		if len(txt) > customErrorMaxText {
			txt = txt[:customErrorMaxText]
		}
		return KindCustom, txt, true
	default:
		return KindNone, nil, false
	}
}

func trimText(b []byte) []byte {
	return bytes.TrimSpace(b)
}

func isURCLine(line []byte, cfg Config) bool {
	for _, w := range cfg.urcExactWords() {
		if bytes.Equal(line, w) {
			return true
		}
	}
	for _, p := range cfg.urcPrefixes() {
		if bytes.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func join(lines [][]byte) []byte {
	if len(lines) == 0 {
		return nil
	}
	total := 0
	for _, l := range lines {
		total += len(l) + 1
	}
	out := make([]byte, 0, total)
	for i, l := range lines {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, l...)
	}
	return out
}
