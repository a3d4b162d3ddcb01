package search

// wrapWholeWord rewrites expr per spec.md §4.3 so whole-word matching is
// expressible without exposing an unanchored `\b` to the searcher's
// result reporting: the pattern is wrapped in a capturing group flanked
// by `\b`, and the searcher reads match offsets back out of that group
// (group 1) rather than the overall match, which would otherwise include
// the zero-width boundary assertions.
//
// Go's RE2-based regexp treats `\b` as a zero-width ASCII word boundary:
// only [0-9A-Za-z_] count as word characters, so letters outside ASCII
// are treated as non-word characters at the boundaries.
func wrapWholeWord(expr string) string {
	return `\b(` + expr + `)\b`
}
