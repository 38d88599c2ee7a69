package digest

import "bytes"

// MatchResult is the outcome of a URCMatcher.Match call.
type MatchResult struct {
	// Matched is false when the line is not recognized by this matcher; the
	// digester then treats it as a generic single-line URC.
	Matched bool
	// Multiline is true when the block continues until a line equal to
	// MultilineTerminator is seen.
	Multiline bool
	// MultilineTerminator is the exact line that closes a multi-line URC
	// block (commonly "OK").
	MultilineTerminator []byte
}

// URCMatcher identifies whether a candidate URC line belongs to a known,
// possibly multi-line, unsolicited notification. Implementations are
// supplied by callers at client-construction time (spec.md §9 Design Notes
// prefers generic parameterization over runtime dynamic dispatch; the
// fallback here is a tagged prefix table, used when runtime extensibility
// is required rather than compile-time specialization).
type URCMatcher interface {
	Match(line []byte) MatchResult
}

// PrefixRule describes one entry in a PrefixMatcher table.
type PrefixRule struct {
	Prefix              []byte
	Multiline           bool
	MultilineTerminator []byte
}

// PrefixMatcher is the default URCMatcher: a small table of known prefixes,
// matched in order. It is the tagged-variant fallback spec.md §9 allows.
type PrefixMatcher struct {
	Rules []PrefixRule
}

// Match implements URCMatcher.
func (m PrefixMatcher) Match(line []byte) MatchResult {
	for _, r := range m.Rules {
		if bytes.HasPrefix(line, r.Prefix) {
			return MatchResult{Matched: true, Multiline: r.Multiline, MultilineTerminator: r.MultilineTerminator}
		}
	}
	return MatchResult{}
}

// DefaultPrefixMatcher seeds the table with the URC family the teacher
// already recognized: new-message and new-delivery-status indications,
// which (unlike +CSQ/+CREG/+CMGL) are never also a command's own response
// and so are safe to divert unconditionally — see SPEC_FULL.md §6.
func DefaultPrefixMatcher() PrefixMatcher {
	return PrefixMatcher{Rules: []PrefixRule{
		{Prefix: []byte("+CMTI:")},
		{Prefix: []byte("+CDSI:")},
	}}
}
