package search

import "bytes"

// Match is a half-open byte range [Start, End) into a caller-provided
// buffer identifying one matching line: buf[Start-1] is either the line
// terminator or Start is the start of the buffer, and buf[End-1] is the
// line terminator or End equals len(buf).
type Match struct {
	Start int
	End   int
}

// ReadMatch scans buf[start:] and returns the next line containing a
// match, or ok=false if none remain. It implements spec.md §4.4's
// four-step algorithm: prefilter hit, line expansion, regex verification
// against the line, and advance-and-retry on a prefilter false positive.
func (s *Searcher) ReadMatch(buf []byte, start int) (m Match, ok bool) {
	if start < 0 || start >= len(buf) {
		return Match{}, false
	}

	if s.re == nil {
		// Empty pattern: every remaining line matches.
		if start >= len(buf) {
			return Match{}, false
		}
		lineStart, lineEnd := s.expandLine(buf, start)
		return Match{Start: lineStart, End: lineEnd}, true
	}

	// If folding case, match against a lowercased copy instead of
	// relying on the regexp package's own (?i) handling, which doesn't
	// optimize ASCII well. The copy is byte-for-byte the same length, so
	// offsets computed against it are valid offsets into buf too.
	mbuf := buf
	if s.ignoreCase {
		folded := make([]byte, len(buf))
		bytesToLowerASCII(folded, buf)
		mbuf = folded
	}

	if s.pf != nil {
		return s.readMatchPrefiltered(mbuf, start)
	}
	return s.readMatchDirect(mbuf, start)
}

func (s *Searcher) readMatchPrefiltered(buf []byte, start int) (Match, bool) {
	for start <= len(buf) {
		hit, ok := s.pf.find(buf, start)
		if !ok {
			return Match{}, false
		}
		lineStart, lineEnd := s.expandLine(buf, hit)
		if _, ok := s.matchInLine(buf, lineStart, lineEnd); ok {
			return Match{Start: lineStart, End: lineEnd}, true
		}
		// Prefilter hit landed in a line the regex doesn't actually
		// match (the literal was necessary but not sufficient); resume
		// scanning past this line.
		start = lineEnd
		if lineEnd == lineStart {
			// Empty span (a hit at len(buf), just past a terminator);
			// force forward progress.
			start++
		}
	}
	return Match{}, false
}

func (s *Searcher) readMatchDirect(buf []byte, start int) (Match, bool) {
	loc := s.findFrom(buf, start)
	if loc == nil {
		return Match{}, false
	}
	lineStart, lineEnd := s.expandLine(buf, loc[0])
	return Match{Start: lineStart, End: lineEnd}, true
}

// findFrom locates the next match of s.re at or after start, returning the
// span of the reported submatch group (matchGroup) rather than the overall
// match: in whole-word mode the overall match includes the flanking \b
// assertions, which are zero-width and so happen to coincide with group 1's
// span, but reporting the group explicitly keeps this correct even if
// wrapWholeWord ever grows non-zero-width flanking text.
func (s *Searcher) findFrom(buf []byte, start int) []int {
	loc := s.re.FindSubmatchIndex(buf[start:])
	if loc == nil {
		return nil
	}
	g := 2 * s.matchGroup
	if loc[g] < 0 {
		return nil
	}
	return []int{start + loc[g], start + loc[g+1]}
}

// matchInLine reports whether s.re matches within buf[lineStart:lineEnd],
// returning the reported submatch group's span.
func (s *Searcher) matchInLine(buf []byte, lineStart, lineEnd int) ([]int, bool) {
	loc := s.re.FindSubmatchIndex(buf[lineStart:lineEnd])
	if loc == nil {
		return nil, false
	}
	g := 2 * s.matchGroup
	if loc[g] < 0 {
		return nil, false
	}
	return []int{lineStart + loc[g], lineStart + loc[g+1]}, true
}

// expandLine expands byte offset h into the bounds of the line containing
// it: the byte after the previous terminator (or 0), through and
// including the next terminator (or end of buffer).
func (s *Searcher) expandLine(buf []byte, h int) (lineStart, lineEnd int) {
	lineStart = 0
	if idx := bytes.LastIndexByte(buf[:h], s.term); idx >= 0 {
		lineStart = idx + 1
	}
	lineEnd = len(buf)
	if idx := bytes.IndexByte(buf[h:], s.term); idx >= 0 {
		lineEnd = h + idx + 1
	}
	return lineStart, lineEnd
}

// Iter is a lazy, finite, forward-only sequence of non-overlapping line
// matches over a fixed buffer, in ascending start order.
type Iter struct {
	s   *Searcher
	buf []byte
	pos int
}

// Iter returns an Iter over buf using s.
func (s *Searcher) Iter(buf []byte) *Iter {
	return &Iter{s: s, buf: buf}
}

// Next returns the next match, or ok=false once the buffer is exhausted.
// After a match is returned, the next call resumes scanning at
// match.End.
func (it *Iter) Next() (Match, bool) {
	if it.pos > len(it.buf) {
		return Match{}, false
	}
	m, ok := it.s.ReadMatch(it.buf, it.pos)
	if !ok {
		it.pos = len(it.buf) + 1
		return Match{}, false
	}
	it.pos = m.End
	return m, true
}
