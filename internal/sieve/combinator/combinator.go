// Package combinator is a small hand-written parser-combinator
// toolkit (spec.md §4.6): literal match, literal-map, alternation,
// delimited, separated-list, optional, permutation, and map-result.
// There is no standalone sequence combinator; Delimited covers
// open/inner/close. internal/sieve/parser.go composes these into the Sieve
// grammar, the same way the teacher's internal/sieve/parser.go drove
// a token/parser state machine by hand — only the primitives are new,
// grounded structurally on that file's offset-tracking error style.
package combinator

import (
	"fmt"
	"strconv"
	"strings"
)

// State is an immutable cursor into the script text.
type State struct {
	Input string
	Pos   int
}

// ParseError reports the offset of failure and what was expected,
// per spec.md §4.6's failure semantics ("parse errors include the
// offset and expected token").
type ParseError struct {
	Offset   int
	Expected string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("sieve: offset %d: expected %s", e.Offset, e.Expected)
}

func fail(s State, expected string) error {
	return &ParseError{Offset: s.Pos, Expected: expected}
}

// Parser consumes from s, returning the parsed value and the state
// immediately after it, or an error leaving s unspecified.
type Parser[T any] func(s State) (T, State, error)

// SkipTrivia advances past whitespace, "# to EOL" line comments, and
// "/* ... */" block comments. Exported so callers can check for
// true end-of-input past trailing comments.
func SkipTrivia(s State) State {
	return skipTrivia(s)
}

// skipTrivia advances past whitespace, "# to EOL" line comments, and
// "/* ... */" block comments, run between every token.
func skipTrivia(s State) State {
	in := s.Input
	for s.Pos < len(in) {
		switch {
		case in[s.Pos] == ' ' || in[s.Pos] == '\t' || in[s.Pos] == '\n' || in[s.Pos] == '\r':
			s.Pos++
		case in[s.Pos] == '#':
			for s.Pos < len(in) && in[s.Pos] != '\n' {
				s.Pos++
			}
		case s.Pos+1 < len(in) && in[s.Pos] == '/' && in[s.Pos+1] == '*':
			s.Pos += 2
			for s.Pos+1 < len(in) && !(in[s.Pos] == '*' && in[s.Pos+1] == '/') {
				s.Pos++
			}
			if s.Pos+1 < len(in) {
				s.Pos += 2
			} else {
				s.Pos = len(in)
			}
		default:
			return s
		}
	}
	return s
}

func identifierAt(s State) (string, State) {
	s = skipTrivia(s)
	in := s.Input
	start := s.Pos
	for s.Pos < len(in) {
		c := in[s.Pos]
		isIdentByte := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
		if !isIdentByte {
			break
		}
		s.Pos++
	}
	return in[start:s.Pos], s
}

// Literal matches a case-insensitive bareword keyword (e.g. "if",
// "stop", "contains") after skipping trivia.
func Literal(want string) Parser[string] {
	return func(s State) (string, State, error) {
		word, next := identifierAt(s)
		if word == "" || !strings.EqualFold(word, want) {
			return "", s, fail(s, fmt.Sprintf("%q", want))
		}
		return word, next, nil
	}
}

// Symbol matches a fixed punctuation string (";", "{", "(", ...)
// after skipping trivia.
func Symbol(sym string) Parser[string] {
	return func(s State) (string, State, error) {
		t := skipTrivia(s)
		if strings.HasPrefix(t.Input[t.Pos:], sym) {
			t.Pos += len(sym)
			return sym, t, nil
		}
		return "", s, fail(s, fmt.Sprintf("%q", sym))
	}
}

// LiteralMap matches one of a set of keywords and maps it to a value,
// used for enumerations like match-type (:is/:contains/:matches) or
// address-part (:localpart/:domain/:all).
func LiteralMap[V any](table map[string]V) Parser[V] {
	return func(s State) (V, State, error) {
		word, next := identifierAt(s)
		var zero V
		if word == "" {
			return zero, s, fail(s, "keyword")
		}
		if v, ok := table[strings.ToLower(word)]; ok {
			return v, next, nil
		}
		return zero, s, fail(s, "one of the known keywords")
	}
}

// QuotedString parses a "..." string literal with \" → " and \\ → \
// unescaping (spec.md §4.6 grammar highlights).
func QuotedString() Parser[string] {
	return func(s State) (string, State, error) {
		t := skipTrivia(s)
		in := t.Input
		if t.Pos >= len(in) || in[t.Pos] != '"' {
			return "", s, fail(s, "quoted string")
		}
		i := t.Pos + 1
		var b strings.Builder
		for i < len(in) && in[i] != '"' {
			if in[i] == '\\' && i+1 < len(in) && (in[i+1] == '"' || in[i+1] == '\\') {
				b.WriteByte(in[i+1])
				i += 2
				continue
			}
			b.WriteByte(in[i])
			i++
		}
		if i >= len(in) {
			return "", s, fail(s, "closing quote")
		}
		t.Pos = i + 1
		return b.String(), t, nil
	}
}

// Number parses a decimal integer optionally suffixed by K|M|G,
// multiplying by 1000/1e6/1e9 (spec.md §4.6 — decimal SI multipliers,
// not binary).
func Number() Parser[int64] {
	return func(s State) (int64, State, error) {
		t := skipTrivia(s)
		in := t.Input
		start := t.Pos
		for t.Pos < len(in) && in[t.Pos] >= '0' && in[t.Pos] <= '9' {
			t.Pos++
		}
		if t.Pos == start {
			return 0, s, fail(s, "number")
		}
		n, err := strconv.ParseInt(in[start:t.Pos], 10, 64)
		if err != nil {
			return 0, s, fail(s, "valid integer")
		}
		if t.Pos < len(in) {
			var mul int64
			switch in[t.Pos] {
			case 'K', 'k':
				mul = 1000
			case 'M', 'm':
				mul = 1_000_000
			case 'G', 'g':
				mul = 1_000_000_000
			}
			if mul != 0 {
				if n != 0 && n > (1<<63-1)/mul {
					return 0, s, fail(s, "a size within range")
				}
				n *= mul
				t.Pos++
			}
		}
		return n, t, nil
	}
}

// StringListOf parses a bracketed comma-list of p, or a single bare p.
func StringListOf[T any](p Parser[T]) Parser[[]T] {
	return func(s State) ([]T, State, error) {
		t := skipTrivia(s)
		if t.Pos < len(t.Input) && t.Input[t.Pos] == '[' {
			return Delimited(Symbol("["), SeparatedList(p, Symbol(",")), Symbol("]"))(t)
		}
		v, next, err := p(s)
		if err != nil {
			return nil, s, err
		}
		return []T{v}, next, nil
	}
}

// Delimited parses open, then inner, then close, returning inner's
// value.
func Delimited[O, T, C any](open Parser[O], inner Parser[T], closeP Parser[C]) Parser[T] {
	return func(s State) (T, State, error) {
		var zero T
		_, s1, err := open(s)
		if err != nil {
			return zero, s, err
		}
		v, s2, err := inner(s1)
		if err != nil {
			return zero, s, err
		}
		_, s3, err := closeP(s2)
		if err != nil {
			return zero, s, err
		}
		return v, s3, nil
	}
}

// SeparatedList parses zero or more p separated by sep, stopping at
// the first position where p fails.
func SeparatedList[T, S any](p Parser[T], sep Parser[S]) Parser[[]T] {
	return func(s State) ([]T, State, error) {
		var out []T
		v, next, err := p(s)
		if err != nil {
			return out, s, nil
		}
		out = append(out, v)
		cur := next
		for {
			_, afterSep, err := sep(cur)
			if err != nil {
				break
			}
			v, afterVal, err := p(afterSep)
			if err != nil {
				break
			}
			out = append(out, v)
			cur = afterVal
		}
		return out, cur, nil
	}
}

// Optional tries p; on failure it returns the zero value, ok=false,
// and the original state, never an error.
func Optional[T any](p Parser[T]) Parser[Opt[T]] {
	return func(s State) (Opt[T], State, error) {
		v, next, err := p(s)
		if err != nil {
			return Opt[T]{}, s, nil
		}
		return Opt[T]{Value: v, Present: true}, next, nil
	}
}

// Opt is the result of Optional: Present is false when p didn't
// match.
type Opt[T any] struct {
	Value   T
	Present bool
}

// Alternation tries each parser in order, returning the first
// success. On total failure it reports the error from whichever
// alternative consumed the most input before failing, since that is
// usually the most informative diagnostic.
func Alternation[T any](parsers ...Parser[T]) Parser[T] {
	return func(s State) (T, State, error) {
		var zero T
		var best error
		bestOffset := -1
		for _, p := range parsers {
			v, next, err := p(s)
			if err == nil {
				return v, next, nil
			}
			if pe, ok := err.(*ParseError); ok && pe.Offset > bestOffset {
				best = err
				bestOffset = pe.Offset
			}
		}
		if best == nil {
			best = fail(s, "one of several alternatives")
		}
		return zero, s, best
	}
}

// MapResult runs p then applies f to its value, surfacing f's error
// (if any) as a parse failure at p's starting offset.
func MapResult[A, B any](p Parser[A], f func(A) (B, error)) Parser[B] {
	return func(s State) (B, State, error) {
		var zero B
		a, next, err := p(s)
		if err != nil {
			return zero, s, err
		}
		b, err := f(a)
		if err != nil {
			return zero, s, &ParseError{Offset: s.Pos, Expected: err.Error()}
		}
		return b, next, nil
	}
}

// Permutation consumes qualifier parsers in any order, each at most
// once, until none of the remaining ones match — used for Sieve's
// optional leading `:tag` modifiers (spec.md §4.6). Each qualifier
// that matches updates the accumulator, in the order matched.
func Permutation[Acc any](acc Acc, qualifiers ...func(Acc, State) (Acc, State, bool)) Parser[Acc] {
	return func(s State) (Acc, State, error) {
		remaining := append([]func(Acc, State) (Acc, State, bool){}, qualifiers...)
		cur := s
		for {
			matchedIdx := -1
			for i, q := range remaining {
				newAcc, next, ok := q(acc, cur)
				if ok {
					acc = newAcc
					cur = next
					matchedIdx = i
					break
				}
			}
			if matchedIdx == -1 {
				break
			}
			remaining = append(remaining[:matchedIdx], remaining[matchedIdx+1:]...)
		}
		return acc, cur, nil
	}
}
