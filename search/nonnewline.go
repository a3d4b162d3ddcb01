package search

import "regexp/syntax"

// checkNonNewline walks ast and confirms no match of the compiled pattern
// can include term, the configured line terminator byte. It mirrors the
// rejection rules spelled out for whole-line searching: an explicit
// literal of the terminator, a character class that contains it, an
// unconstrained any-char under dot-matches-all, or any repetition whose
// inner expression can itself match the terminator.
//
// It returns the offending rune on rejection, or -1 if the pattern is
// safe.
func checkNonNewline(ast *syntax.Regexp, term rune) rune {
	if !canMatchTerminator(ast, term) {
		return -1
	}
	return term
}

func canMatchTerminator(re *syntax.Regexp, term rune) bool {
	switch re.Op {
	case syntax.OpLiteral:
		for _, r := range re.Rune {
			if r == term {
				return true
			}
		}
		return false
	case syntax.OpCharClass:
		for i := 0; i < len(re.Rune); i += 2 {
			lo, hi := re.Rune[i], re.Rune[i+1]
			if term >= lo && term <= hi {
				return true
			}
		}
		return false
	case syntax.OpAnyChar:
		// Dot-matches-all: every byte, including the terminator, is a
		// candidate.
		return true
	case syntax.OpAnyCharNotNL:
		// Excludes '\n' specifically; only a hazard if the configured
		// terminator is something else.
		return term != '\n'
	case syntax.OpCapture, syntax.OpStar, syntax.OpPlus, syntax.OpQuest, syntax.OpRepeat:
		return canMatchTerminator(re.Sub[0], term)
	case syntax.OpConcat, syntax.OpAlternate:
		for _, sub := range re.Sub {
			if canMatchTerminator(sub, term) {
				return true
			}
		}
		return false
	default:
		// OpEmptyMatch, OpBeginLine, OpEndLine, OpBeginText, OpEndText,
		// OpWordBoundary, OpNoWordBoundary and friends are zero-width and
		// never consume the terminator.
		return false
	}
}
