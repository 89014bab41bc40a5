package sieve

// RuleBlock is an ordered list of Rule (spec.md §4.6): the compiled
// shape of a Sieve script or of any nested `{ ... }` block.
type RuleBlock []Rule

// Kind tags which variant of the Rule sum type a value holds.
// Stop/Keep/Discard/NestedBlock/If are spec.md's own sum type;
// FileInto/Redirect/Vacation/Reject supplement it with the RFC 5228
// actions the teacher's original sieve package already implemented,
// mapped onto the host-API per SPEC_FULL.md §9.
type Kind int

const (
	KindStop Kind = iota
	KindKeep
	KindDiscard
	KindNestedBlock
	KindIf
	KindFileInto
	KindRedirect
	KindVacation
	KindReject
)

// Rule is one statement in a RuleBlock.
type Rule struct {
	Kind Kind

	// KindNestedBlock
	Block RuleBlock

	// KindIf
	Condition ConditionRule
	Then      RuleBlock
	Elsif     []ElsifClause
	Else      RuleBlock

	// KindFileInto
	Folder string
	// KindRedirect
	Address string
	// KindVacation
	Vacation VacationParams
	// KindReject
	RejectMessage string
}

// ElsifClause is one `elsif <test> { ... }` arm of an If rule.
type ElsifClause struct {
	Condition ConditionRule
	Block     RuleBlock
}

// VacationParams carries the optional `:days`/`:subject`/`:from`
// qualifiers and the response body of a vacation action.
type VacationParams struct {
	Days      int
	Subject   string
	From      string
	Addresses []string
	Body      string
}

// TestKind tags which variant of the ConditionRule sum type a value
// holds, per spec.md §4.6's overview table.
type TestKind int

const (
	TestAllOf TestKind = iota
	TestAnyOf
	TestNot
	TestExists
	TestHeader
	TestAddress
	TestSize
	TestLiteral
)

// Comparator selects the string-equality semantics RFC 5228 calls a
// "comparator".
type Comparator int

const (
	ComparatorASCIICasemap Comparator = iota // i;ascii-casemap (default)
	ComparatorOctet                          // i;octet
)

// MatchType selects how a test value is compared against its keys.
type MatchType int

const (
	MatchIs MatchType = iota
	MatchContains
	MatchMatches
	MatchCount
	MatchValue
)

// Relation is the relational operator used by Count/Value match
// types.
type Relation int

const (
	RelEQ Relation = iota
	RelNE
	RelGT
	RelGE
	RelLT
	RelLE
)

// AddressPart selects which portion of an RFC 5322 mailbox an address
// test extracts before comparing.
type AddressPart int

const (
	AddrAll AddressPart = iota
	AddrLocalpart
	AddrDomain
)

// SizeOp selects whether a Size test is :over or :under its limit.
type SizeOp int

const (
	SizeOver SizeOp = iota
	SizeUnder
)

// ConditionRule is the Sieve test sum type (spec.md §4.6).
type ConditionRule struct {
	Kind TestKind

	// AllOf / AnyOf
	Tests []ConditionRule
	// Not
	Inner *ConditionRule
	// Exists
	ExistsHeaders []string
	// Header / Address (shared shape)
	Comparator Comparator
	Match      MatchType
	Relation   Relation
	Names      []string // header names, or address headers
	Keys       []string
	AddrPart   AddressPart // Address only
	// Size
	SizeOp    SizeOp
	SizeLimit int64
	// Literal
	LiteralValue bool
}
