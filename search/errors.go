package search

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorKind identifies the broad category of a build-time Error.
type ErrorKind int

const (
	// KindRegex means the pattern failed to parse or compile.
	KindRegex ErrorKind = iota
	// KindLiteralNotAllowed means the non-newline asserter rejected the
	// pattern because it could match the configured line terminator.
	KindLiteralNotAllowed
	// kindOther is reserved for future kinds. Callers should not
	// exhaustively switch on Kind without a default case.
	kindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindRegex:
		return "regex"
	case KindLiteralNotAllowed:
		return "literal not allowed"
	default:
		return "other"
	}
}

// Error is returned when building a Searcher fails. It is always a
// build-time error; ReadMatch itself never fails.
type Error struct {
	Kind ErrorKind
	// Literal is set when Kind == KindLiteralNotAllowed.
	Literal rune
	// cause is the underlying regex/syntax error, if any.
	cause error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindRegex:
		return e.cause.Error()
	case KindLiteralNotAllowed:
		return fmt.Sprintf("literal %q not allowed", e.Literal)
	default:
		return "search: unknown build error"
	}
}

// Cause implements the github.com/pkg/errors Causer interface so callers
// can unwind to the original regex/syntax error.
func (e *Error) Cause() error {
	return e.cause
}

// regexError wraps a regex compile or parse failure under prefix, after
// passing its message through truncateRegexError.
func regexError(prefix string, err error) *Error {
	return &Error{
		Kind:  KindRegex,
		cause: errors.Wrap(errors.New(truncateRegexError(err.Error())), prefix),
	}
}

// truncateRegexError trims a regex error message at the first occurrence
// of "at character", dropping the offset rendering that follows it.
// Messages without that marker, which include those of Go's regexp/syntax,
// are returned unchanged.
func truncateRegexError(msg string) string {
	if i := strings.Index(msg, "at character"); i >= 0 {
		return strings.TrimRight(msg[:i], " :")
	}
	return msg
}

func literalNotAllowedError(r rune) *Error {
	return &Error{Kind: KindLiteralNotAllowed, Literal: r}
}
