package search

import (
	"bytes"

	"github.com/coregx/ahocorasick"
)

// prefilter gates the compiled regex behind a cheap substring search, per
// spec.md §4.4 step 1: "multi-pattern byte search e.g. Aho-Corasick or
// single-literal memchr". A single literal is scanned with bytes.Index;
// more than one candidate is compiled into an ahocorasick.Automaton the
// same way coregx-coregex's meta.buildStrategyEngines builds its
// literal-alternation bypass: a Builder accumulates patterns via
// AddPattern, then Build() produces the automaton consulted at search
// time.
type prefilter struct {
	lit []byte
	ac  *ahocorasick.Automaton
}

// newPrefilter builds a prefilter from a literal set, or returns nil if
// the set can't usefully gate matching (empty, too short, containing the
// line terminator, or the automaton fails to build — in which case this
// mirrors buildStrategyEngines' fallback of dropping the Aho-Corasick
// bypass rather than treating a build failure as fatal).
func newPrefilter(seq literalSeq, term byte) *prefilter {
	if !seq.usable(term) {
		return nil
	}
	if len(seq.lits) == 1 {
		return &prefilter{lit: seq.lits[0]}
	}

	builder := ahocorasick.NewBuilder()
	for _, l := range seq.lits {
		builder.AddPattern(l)
	}
	auto, err := builder.Build()
	if err != nil {
		return nil
	}
	return &prefilter{ac: auto}
}

// find returns the offset (absolute into buf) of the next byte at which
// any candidate literal begins, searching from start onward. ok is false
// if none occur in the remainder of buf.
func (p *prefilter) find(buf []byte, start int) (hit int, ok bool) {
	if start > len(buf) {
		return 0, false
	}
	if p.ac != nil {
		m := p.ac.Find(buf, start)
		if m == nil {
			return 0, false
		}
		return m.Start, true
	}
	idx := bytes.Index(buf[start:], p.lit)
	if idx < 0 {
		return 0, false
	}
	return start + idx, true
}
