package sieve

import (
	"errors"
	"strings"

	c "github.com/mayhemheroes/meli/internal/sieve/combinator"
)

// Resource limits on untrusted script input, carried over from the
// teacher's defensive posture in its original hand-rolled parser.
const (
	maxScriptSize     = 1 << 20 // 1MiB
	maxArraySize      = 256
	maxConditionDepth = 15
	maxVacationDays   = 365
)

var (
	ErrScriptTooLarge      = errors.New("sieve: script exceeds maximum size")
	ErrNestingTooDeep      = errors.New("sieve: test nesting exceeds maximum depth")
	ErrInvalidSize         = errors.New("sieve: size value out of range")
	ErrVacationDaysTooLong = errors.New("sieve: vacation :days exceeds maximum")
)

// Parse compiles Sieve source text into a RuleBlock (spec.md §4.6),
// grounded structurally on the teacher's token/parser state machine
// for offset-tracking errors, but built from combinator primitives
// instead of a hand-rolled tokenizer. Parse errors report the offset
// and expected token via *combinator.ParseError.
func Parse(source string) (RuleBlock, error) {
	if len(source) > maxScriptSize {
		return nil, ErrScriptTooLarge
	}
	s := c.State{Input: source}
	s = skipRequireStatements(s)
	block, _, err := parseBlockBody(s, false)
	if err != nil {
		return nil, err
	}
	return block, nil
}

// skipRequireStatements consumes any number of leading `require
// [...];` or `require "...";` statements. Sieve's capability
// declarations don't gate any behavior in this engine (every test and
// action it parses is always available), so they're accepted and
// discarded rather than tracked.
func skipRequireStatements(s c.State) c.State {
	for {
		_, next, err := c.Literal("require")(s)
		if err != nil {
			return s
		}
		idx := strings.IndexByte(next.Input[next.Pos:], ';')
		if idx < 0 {
			return next
		}
		next.Pos += idx + 1
		s = next
	}
}

// parseBlockBody parses a sequence of rules until '}' (if nested) or
// EOF (if top-level).
func parseBlockBody(s c.State, nested bool) (RuleBlock, c.State, error) {
	var block RuleBlock
	for {
		if nested {
			if _, next, err := c.Symbol("}")(s); err == nil {
				return block, next, nil
			}
		}
		if isAtEOF(s) {
			if nested {
				return nil, s, &c.ParseError{Offset: s.Pos, Expected: `"}"`}
			}
			return block, s, nil
		}
		rule, next, err := parseRule(s)
		if err != nil {
			return nil, s, err
		}
		block = append(block, rule)
		s = next
	}
}

func isAtEOF(s c.State) bool {
	t := c.SkipTrivia(s)
	return t.Pos >= len(t.Input)
}

func parseRule(s c.State) (Rule, c.State, error) {
	if _, next, err := c.Literal("stop")(s); err == nil {
		next = skipOptionalSemi(next)
		return Rule{Kind: KindStop}, next, nil
	}
	if _, next, err := c.Literal("keep")(s); err == nil {
		next = skipOptionalSemi(next)
		return Rule{Kind: KindKeep}, next, nil
	}
	if _, next, err := c.Literal("discard")(s); err == nil {
		next = skipOptionalSemi(next)
		return Rule{Kind: KindDiscard}, next, nil
	}
	if _, next, err := c.Literal("fileinto")(s); err == nil {
		folder, next2, err := c.QuotedString()(next)
		if err != nil {
			return Rule{}, s, err
		}
		next2 = skipOptionalSemi(next2)
		return Rule{Kind: KindFileInto, Folder: folder}, next2, nil
	}
	if _, next, err := c.Literal("redirect")(s); err == nil {
		addr, next2, err := c.QuotedString()(next)
		if err != nil {
			return Rule{}, s, err
		}
		next2 = skipOptionalSemi(next2)
		return Rule{Kind: KindRedirect, Address: addr}, next2, nil
	}
	if _, next, err := c.Literal("reject")(s); err == nil {
		msg, next2, _ := c.QuotedString()(next)
		next2 = skipOptionalSemi(next2)
		return Rule{Kind: KindReject, RejectMessage: msg}, next2, nil
	}
	if _, next, err := c.Literal("vacation")(s); err == nil {
		return parseVacation(next)
	}
	if _, next, err := c.Literal("if")(s); err == nil {
		return parseIf(next)
	}
	if _, next, err := c.Symbol("{")(s); err == nil {
		block, next2, err := parseBlockBody(next, true)
		if err != nil {
			return Rule{}, s, err
		}
		return Rule{Kind: KindNestedBlock, Block: block}, next2, nil
	}
	return Rule{}, s, &c.ParseError{Offset: s.Pos, Expected: "a rule (if/stop/keep/discard/fileinto/redirect/reject/vacation/block)"}
}

func skipOptionalSemi(s c.State) c.State {
	if _, next, err := c.Symbol(";")(s); err == nil {
		return next
	}
	return s
}

func parseIf(s c.State) (Rule, c.State, error) {
	cond, next, err := parseTest(s)
	if err != nil {
		return Rule{}, s, err
	}
	then, next, err := parseBracedBlock(next)
	if err != nil {
		return Rule{}, s, err
	}
	rule := Rule{Kind: KindIf, Condition: cond, Then: then}

	for {
		if _, n2, err := c.Literal("elsif")(next); err == nil {
			econd, n3, err := parseTest(n2)
			if err != nil {
				return Rule{}, s, err
			}
			eblock, n4, err := parseBracedBlock(n3)
			if err != nil {
				return Rule{}, s, err
			}
			rule.Elsif = append(rule.Elsif, ElsifClause{Condition: econd, Block: eblock})
			next = n4
			continue
		}
		break
	}

	if _, n2, err := c.Literal("else")(next); err == nil {
		eblock, n3, err := parseBracedBlock(n2)
		if err != nil {
			return Rule{}, s, err
		}
		rule.Else = eblock
		next = n3
	}

	return rule, next, nil
}

func parseBracedBlock(s c.State) (RuleBlock, c.State, error) {
	_, next, err := c.Symbol("{")(s)
	if err != nil {
		return nil, s, err
	}
	return parseBlockBody(next, true)
}

// parseTest parses a single Sieve test: allof/anyof/not/true/false/
// exists/header/address/size.
func parseTest(s c.State) (ConditionRule, c.State, error) {
	return parseTestDepth(s, 0)
}

func parseTestDepth(s c.State, depth int) (ConditionRule, c.State, error) {
	if depth > maxConditionDepth {
		return ConditionRule{}, s, ErrNestingTooDeep
	}
	if _, next, err := c.Literal("allof")(s); err == nil {
		tests, next2, err := parseTestListDepth(next, depth+1)
		if err != nil {
			return ConditionRule{}, s, err
		}
		return ConditionRule{Kind: TestAllOf, Tests: tests}, next2, nil
	}
	if _, next, err := c.Literal("anyof")(s); err == nil {
		tests, next2, err := parseTestListDepth(next, depth+1)
		if err != nil {
			return ConditionRule{}, s, err
		}
		return ConditionRule{Kind: TestAnyOf, Tests: tests}, next2, nil
	}
	if _, next, err := c.Literal("not")(s); err == nil {
		inner, next2, err := parseTestDepth(next, depth+1)
		if err != nil {
			return ConditionRule{}, s, err
		}
		return ConditionRule{Kind: TestNot, Inner: &inner}, next2, nil
	}
	if _, next, err := c.Literal("true")(s); err == nil {
		return ConditionRule{Kind: TestLiteral, LiteralValue: true}, next, nil
	}
	if _, next, err := c.Literal("false")(s); err == nil {
		return ConditionRule{Kind: TestLiteral, LiteralValue: false}, next, nil
	}
	if _, next, err := c.Literal("exists")(s); err == nil {
		headers, next2, err := c.StringListOf(c.QuotedString())(next)
		if err != nil {
			return ConditionRule{}, s, err
		}
		if len(headers) > maxArraySize {
			return ConditionRule{}, s, &c.ParseError{Offset: s.Pos, Expected: "a string list within the size limit"}
		}
		return ConditionRule{Kind: TestExists, ExistsHeaders: headers}, next2, nil
	}
	if _, next, err := c.Literal("header")(s); err == nil {
		return parseHeaderOrAddressTest(next, false)
	}
	if _, next, err := c.Literal("address")(s); err == nil {
		return parseHeaderOrAddressTest(next, true)
	}
	if _, next, err := c.Literal("size")(s); err == nil {
		return parseSizeTest(next)
	}
	return ConditionRule{}, s, &c.ParseError{Offset: s.Pos, Expected: "a test (allof/anyof/not/header/address/size/exists/true/false)"}
}

func parseTestListDepth(s c.State, depth int) ([]ConditionRule, c.State, error) {
	inner := func(st c.State) (ConditionRule, c.State, error) { return parseTestDepth(st, depth) }
	tests, next, err := c.Delimited(c.Symbol("("), c.SeparatedList(c.Parser[ConditionRule](inner), c.Symbol(",")), c.Symbol(")"))(s)
	if err != nil {
		return nil, s, err
	}
	if len(tests) > maxArraySize {
		return nil, s, &c.ParseError{Offset: s.Pos, Expected: "a test list within the size limit"}
	}
	return tests, next, nil
}

type headerQualifiers struct {
	comparator Comparator
	match      MatchType
	relation   Relation
	addrPart   AddressPart
	matchSet   bool
}

func qComparator(acc headerQualifiers, s c.State) (headerQualifiers, c.State, bool) {
	_, next, err := c.Symbol(":")(s)
	if err != nil {
		return acc, s, false
	}
	_, next, err = c.Literal("comparator")(next)
	if err != nil {
		return acc, s, false
	}
	val, next, err := c.QuotedString()(next)
	if err != nil {
		return acc, s, false
	}
	if val == "i;octet" {
		acc.comparator = ComparatorOctet
	} else {
		acc.comparator = ComparatorASCIICasemap
	}
	return acc, next, true
}

func qMatchSimple(word string, mt MatchType) func(headerQualifiers, c.State) (headerQualifiers, c.State, bool) {
	return func(acc headerQualifiers, s c.State) (headerQualifiers, c.State, bool) {
		_, next, err := c.Symbol(":")(s)
		if err != nil {
			return acc, s, false
		}
		_, next, err = c.Literal(word)(next)
		if err != nil {
			return acc, s, false
		}
		acc.match = mt
		acc.matchSet = true
		return acc, next, true
	}
}

func qMatchRelational(word string, mt MatchType) func(headerQualifiers, c.State) (headerQualifiers, c.State, bool) {
	return func(acc headerQualifiers, s c.State) (headerQualifiers, c.State, bool) {
		_, next, err := c.Symbol(":")(s)
		if err != nil {
			return acc, s, false
		}
		_, next, err = c.Literal(word)(next)
		if err != nil {
			return acc, s, false
		}
		rel, next, err := c.QuotedString()(next)
		if err != nil {
			return acc, s, false
		}
		acc.match = mt
		acc.matchSet = true
		acc.relation = parseRelation(rel)
		return acc, next, true
	}
}

func parseRelation(s string) Relation {
	switch s {
	case "gt":
		return RelGT
	case "ge":
		return RelGE
	case "lt":
		return RelLT
	case "le":
		return RelLE
	case "ne":
		return RelNE
	default:
		return RelEQ
	}
}

func qAddrPart(word string, part AddressPart) func(headerQualifiers, c.State) (headerQualifiers, c.State, bool) {
	return func(acc headerQualifiers, s c.State) (headerQualifiers, c.State, bool) {
		_, next, err := c.Symbol(":")(s)
		if err != nil {
			return acc, s, false
		}
		_, next, err = c.Literal(word)(next)
		if err != nil {
			return acc, s, false
		}
		acc.addrPart = part
		return acc, next, true
	}
}

// parseHeaderOrAddressTest parses the `:comparator`/match-type/
// `:localpart|:domain|:all` qualifiers (in any order, each at most
// once — a permutation) followed by positional header-names and
// keys.
func parseHeaderOrAddressTest(s c.State, isAddress bool) (ConditionRule, c.State, error) {
	quals := []func(headerQualifiers, c.State) (headerQualifiers, c.State, bool){
		qComparator,
		qMatchSimple("is", MatchIs),
		qMatchSimple("contains", MatchContains),
		qMatchSimple("matches", MatchMatches),
		qMatchRelational("count", MatchCount),
		qMatchRelational("value", MatchValue),
	}
	if isAddress {
		quals = append(quals,
			qAddrPart("localpart", AddrLocalpart),
			qAddrPart("domain", AddrDomain),
			qAddrPart("all", AddrAll),
		)
	}

	acc, next, err := c.Permutation(headerQualifiers{}, quals...)(s)
	if err != nil {
		return ConditionRule{}, s, err
	}
	if !acc.matchSet {
		acc.match = MatchIs
	}

	names, next, err := c.StringListOf(c.QuotedString())(next)
	if err != nil {
		return ConditionRule{}, s, err
	}
	keys, next, err := c.StringListOf(c.QuotedString())(next)
	if err != nil {
		return ConditionRule{}, s, err
	}
	if len(names) > maxArraySize || len(keys) > maxArraySize {
		return ConditionRule{}, s, &c.ParseError{Offset: s.Pos, Expected: "a string list within the size limit"}
	}

	kind := TestHeader
	if isAddress {
		kind = TestAddress
	}
	return ConditionRule{
		Kind:       kind,
		Comparator: acc.comparator,
		Match:      acc.match,
		Relation:   acc.relation,
		Names:      names,
		Keys:       keys,
		AddrPart:   acc.addrPart,
	}, next, nil
}

func parseSizeTest(s c.State) (ConditionRule, c.State, error) {
	over := true
	var next c.State
	var err error
	if _, n2, e := c.Symbol(":")(s); e == nil {
		if _, n3, e2 := c.Literal("over")(n2); e2 == nil {
			over = true
			next = n3
		} else if _, n3, e2 := c.Literal("under")(n2); e2 == nil {
			over = false
			next = n3
		} else {
			return ConditionRule{}, s, &c.ParseError{Offset: s.Pos, Expected: `":over" or ":under"`}
		}
	} else {
		next = s
	}
	limit, next, err := c.Number()(next)
	if err != nil {
		if pe, ok := err.(*c.ParseError); ok && pe.Expected == "a size within range" {
			return ConditionRule{}, s, ErrInvalidSize
		}
		return ConditionRule{}, s, err
	}
	op := SizeOver
	if !over {
		op = SizeUnder
	}
	return ConditionRule{Kind: TestSize, SizeOp: op, SizeLimit: limit}, next, nil
}

func parseVacation(s c.State) (Rule, c.State, error) {
	params := VacationParams{Days: 7}
	next := s
	for {
		if _, n2, err := c.Symbol(":")(next); err == nil {
			if _, n3, err := c.Literal("days")(n2); err == nil {
				n, n4, err := c.Number()(n3)
				if err != nil {
					return Rule{}, s, err
				}
				if n > maxVacationDays {
					return Rule{}, s, ErrVacationDaysTooLong
				}
				params.Days = int(n)
				next = n4
				continue
			}
			if _, n3, err := c.Literal("subject")(n2); err == nil {
				v, n4, err := c.QuotedString()(n3)
				if err != nil {
					return Rule{}, s, err
				}
				params.Subject = v
				next = n4
				continue
			}
			if _, n3, err := c.Literal("from")(n2); err == nil {
				v, n4, err := c.QuotedString()(n3)
				if err != nil {
					return Rule{}, s, err
				}
				params.From = v
				next = n4
				continue
			}
			if _, n3, err := c.Literal("addresses")(n2); err == nil {
				v, n4, err := c.StringListOf(c.QuotedString())(n3)
				if err != nil {
					return Rule{}, s, err
				}
				params.Addresses = v
				next = n4
				continue
			}
		}
		break
	}
	body, next, err := c.QuotedString()(next)
	if err != nil {
		return Rule{}, s, err
	}
	params.Body = body
	next = skipOptionalSemi(next)
	return Rule{Kind: KindVacation, Vacation: params}, next, nil
}
