// Package search implements a line-oriented regex search engine: given a
// pattern and a handful of options, it compiles a Searcher that scans a
// byte buffer and yields line-aligned match spans, using a literal
// prefilter to skip the regex engine over non-candidate regions.
package search

import (
	"fmt"
	"regexp"
	"regexp/syntax"
)

const (
	defaultLineTerminator = '\n'
	defaultSizeLimit      = 10 << 20 // 10 MiB
	defaultDFASizeLimit   = 10 << 20 // 10 MiB
)

type options struct {
	term            byte
	caseInsensitive bool
	wholeWord       bool
	sizeLimit       uint64
	dfaSizeLimit    uint64
}

func defaultOptions() options {
	return options{
		term:         defaultLineTerminator,
		sizeLimit:    defaultSizeLimit,
		dfaSizeLimit: defaultDFASizeLimit,
	}
}

// Option configures a Builder. Options compose via functional application,
// the same pattern usrbin's grep package uses for its Opt type.
type Option func(*options)

// LineTerminator sets the single byte that delimits match units. It
// defaults to '\n'.
func LineTerminator(b byte) Option {
	return func(o *options) { o.term = b }
}

// CaseInsensitive enables case-insensitive matching.
func CaseInsensitive(v bool) Option {
	return func(o *options) { o.caseInsensitive = v }
}

// WholeWord constrains matches to occurrences surrounded by non-word
// boundaries.
func WholeWord(v bool) Option {
	return func(o *options) { o.wholeWord = v }
}

// SizeLimit bounds the length, in bytes, of the simplified pattern's
// string form. Builds whose pattern is longer fail with a Regex error.
// The memory used by the compiled program is not measured.
func SizeLimit(n uint64) Option {
	return func(o *options) { o.sizeLimit = n }
}

// DFASizeLimit is accepted for API compatibility with the original
// pattern-configuration surface (a cap on the matching engine's state
// cache). Go's regexp package does not expose an equivalent knob on its
// compiled automaton, so this is stored but not independently enforced;
// SizeLimit is the effective budget here.
func DFASizeLimit(n uint64) Option {
	return func(o *options) { o.dfaSizeLimit = n }
}

// Builder assembles a Searcher from a pattern and Options.
type Builder struct {
	pattern string
	opts    options
}

// NewBuilder returns a Builder for pattern with the given Options applied
// over the defaults (line terminator '\n', 10 MiB size limits, case
// sensitive, not whole-word).
func NewBuilder(pattern string, opts ...Option) *Builder {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Builder{pattern: pattern, opts: o}
}

// Searcher is a compiled, immutable line searcher. It is safe for
// concurrent use by multiple goroutines: nothing about a Searcher is
// mutated after Build returns it.
type Searcher struct {
	re   *regexp.Regexp // nil means "match every line" (empty pattern)
	term byte

	wholeWord  bool
	matchGroup int // submatch index to report; 0 unless wholeWord
	ignoreCase bool

	pf *prefilter
}

// Build compiles pattern and options into a Searcher, or fails with an
// *Error. Build performs, in order: word-boundary rewriting (if
// requested), parsing, case-fold lowering (if requested), the
// non-newline assertion, compilation, and literal extraction for the
// prefilter.
func (b *Builder) Build() (*Searcher, error) {
	if b.pattern == "" && !b.opts.wholeWord {
		return &Searcher{term: b.opts.term}, nil
	}

	expr := b.pattern
	matchGroup := 0
	if b.opts.wholeWord {
		expr = wrapWholeWord(expr)
		matchGroup = 1
	}

	ast, err := syntax.Parse(expr, syntax.Perl)
	if err != nil {
		return nil, regexError("error parsing regexp", err)
	}

	if b.opts.caseInsensitive {
		lowerRegexpASCII(ast)
		expr = ast.String()
		ast, err = syntax.Parse(expr, syntax.Perl)
		if err != nil {
			return nil, regexError("error parsing regexp", err)
		}
	}

	ast = ast.Simplify()

	if uint64(len(ast.String())) > b.opts.sizeLimit {
		return nil, regexError("error compiling regexp",
			fmt.Errorf("compiled pattern exceeds size limit (%d bytes > %d)", len(ast.String()), b.opts.sizeLimit))
	}

	if bad := checkNonNewline(ast, rune(b.opts.term)); bad != -1 {
		return nil, literalNotAllowedError(bad)
	}

	re, err := regexp.Compile(ast.String())
	if err != nil {
		return nil, regexError("error compiling regexp", err)
	}

	var pf *prefilter
	if pre, _ := re.LiteralPrefix(); pre == "" {
		if seq, ok := extractLiterals(ast); ok {
			pf = newPrefilter(seq, b.opts.term)
		}
	}

	return &Searcher{
		re:         re,
		term:       b.opts.term,
		wholeWord:  b.opts.wholeWord,
		matchGroup: matchGroup,
		ignoreCase: b.opts.caseInsensitive,
		pf:         pf,
	}, nil
}
