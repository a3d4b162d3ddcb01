package search

import "regexp/syntax"

// Extraction limits, mirroring the bounds a real AST-walking extractor
// needs to keep alternation/char-class expansion from blowing up on
// adversarial patterns (e.g. `[a-z]{10}` or a long `|`-chain).
const (
	maxLiterals       = 64
	maxClassSize      = 8
	maxCrossProduct   = 64
	minUsefulLiteral  = 1
)

// literalSeq is a set of candidate byte strings, at least one of which is
// guaranteed to appear in any match of the regex fragment it was derived
// from (when ok is true).
type literalSeq struct {
	lits [][]byte
}

func (s literalSeq) minLen() int {
	if len(s.lits) == 0 {
		return 0
	}
	min := len(s.lits[0])
	for _, l := range s.lits[1:] {
		if len(l) < min {
			min = len(l)
		}
	}
	return min
}

// extractLiterals walks a parsed regex AST and derives a (possibly empty,
// possibly unavailable) set of literal substrings required by any match.
// It implements spec.md's §4.1 rules: literal nodes contribute their
// bytes, concatenation takes the cross product of adjacent required
// groups, alternation unions branches, and stars/pluses/optionals
// contribute nothing (their inner literal, if any, is not required since
// the sub-expression may match zero times).
func extractLiterals(re *syntax.Regexp) (literalSeq, bool) {
	switch re.Op {
	case syntax.OpLiteral:
		if len(re.Rune) == 0 {
			return literalSeq{}, false
		}
		return literalSeq{lits: [][]byte{[]byte(string(re.Rune))}}, true

	case syntax.OpCapture:
		return extractLiterals(re.Sub[0])

	case syntax.OpConcat:
		return extractConcat(re.Sub)

	case syntax.OpAlternate:
		var all [][]byte
		for _, sub := range re.Sub {
			subSeq, ok := extractLiterals(sub)
			if !ok {
				// One branch contributes nothing required, so the
				// alternation as a whole can't guarantee any substring.
				return literalSeq{}, false
			}
			all = append(all, subSeq.lits...)
			if len(all) > maxLiterals {
				return literalSeq{}, false
			}
		}
		return literalSeq{lits: all}, true

	case syntax.OpCharClass:
		if classSize(re.Rune) > maxClassSize {
			return literalSeq{}, false
		}
		var out [][]byte
		for i := 0; i < len(re.Rune); i += 2 {
			for r := re.Rune[i]; r <= re.Rune[i+1]; r++ {
				out = append(out, []byte(string(r)))
			}
		}
		return literalSeq{lits: out}, true

	case syntax.OpStar, syntax.OpPlus, syntax.OpQuest, syntax.OpRepeat:
		// Discarded: the sub-expression may contribute zero occurrences,
		// so nothing here is required.
		return literalSeq{}, false

	default:
		// OpEmptyMatch, OpAnyChar, OpBeginLine, etc.: no literal contribution.
		return literalSeq{}, false
	}
}

func extractConcat(subs []*syntax.Regexp) (literalSeq, bool) {
	var groups []literalSeq
	cur := literalSeq{lits: [][]byte{{}}}
	haveCur := true

	flush := func() {
		if haveCur && !(len(cur.lits) == 1 && len(cur.lits[0]) == 0) {
			groups = append(groups, cur)
		}
		cur = literalSeq{}
		haveCur = false
	}

	for _, sub := range subs {
		subSeq, ok := extractLiterals(sub)
		if !ok {
			flush()
			continue
		}
		if !haveCur {
			cur = subSeq
			haveCur = true
			continue
		}
		product, ok := crossProduct(cur, subSeq)
		if !ok {
			flush()
			cur = subSeq
			haveCur = true
			continue
		}
		cur = product
	}
	flush()

	if len(groups) == 0 {
		return literalSeq{}, false
	}
	best := groups[0]
	for _, g := range groups[1:] {
		if g.minLen() > best.minLen() {
			best = g
		}
	}
	return best, true
}

func crossProduct(a, b literalSeq) (literalSeq, bool) {
	if len(a.lits)*len(b.lits) > maxCrossProduct {
		return literalSeq{}, false
	}
	out := make([][]byte, 0, len(a.lits)*len(b.lits))
	for _, x := range a.lits {
		for _, y := range b.lits {
			combined := make([]byte, 0, len(x)+len(y))
			combined = append(combined, x...)
			combined = append(combined, y...)
			out = append(out, combined)
		}
	}
	return literalSeq{lits: out}, true
}

func classSize(runes []rune) int {
	n := 0
	for i := 0; i < len(runes); i += 2 {
		n += int(runes[i+1]-runes[i]) + 1
	}
	return n
}

// usable reports whether seq can serve as a prefilter: non-empty, every
// candidate at least minUsefulLiteral bytes, and none containing term (a
// match on a literal spanning the line terminator would be meaningless
// for line-at-a-time scanning).
func (s literalSeq) usable(term byte) bool {
	if len(s.lits) == 0 {
		return false
	}
	for _, l := range s.lits {
		if len(l) < minUsefulLiteral {
			return false
		}
		for _, b := range l {
			if b == term {
				return false
			}
		}
	}
	return true
}
