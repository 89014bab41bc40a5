package sieve

import (
	"strings"
	"testing"

	"github.com/mayhemheroes/meli/internal/sieve/combinator"
)

// TestScriptSizeLimit verifies that oversized scripts are rejected.
func TestScriptSizeLimit(t *testing.T) {
	largeScript := strings.Repeat("# comment\n", 200000)

	_, err := Parse(largeScript)
	if err != ErrScriptTooLarge {
		t.Errorf("expected ErrScriptTooLarge for large script, got: %v", err)
	}
}

// TestUnterminatedString verifies that an unterminated string reports
// a parse error anchored at the right offset rather than panicking.
func TestUnterminatedString(t *testing.T) {
	script := `if header :contains "subject" "test { keep; }`

	_, err := Parse(script)
	if err == nil {
		t.Fatal("expected a parse error for an unterminated string")
	}
	if _, ok := err.(*combinator.ParseError); !ok {
		t.Errorf("expected *combinator.ParseError, got %T: %v", err, err)
	}
}

// TestInvalidSizeValue verifies that size overflow is caught.
func TestInvalidSizeValue(t *testing.T) {
	script := `if size :over 999999999999G { discard; }`

	_, err := Parse(script)
	if err != ErrInvalidSize {
		t.Errorf("expected ErrInvalidSize for overflow, got: %v", err)
	}
}

// TestArraySizeLimit verifies that oversized string lists are rejected.
func TestArraySizeLimit(t *testing.T) {
	headers := make([]string, maxArraySize+10)
	for i := range headers {
		headers[i] = `"Header` + strings.Repeat("X", 10) + `"`
	}
	script := "if header :contains [" + strings.Join(headers, ", ") + "] \"test\" { keep; }"

	_, err := Parse(script)
	if err == nil {
		t.Error("expected an error for an oversized array")
	}
}

// TestNestingDepth verifies that excessive test nesting is rejected.
func TestNestingDepth(t *testing.T) {
	script := "if "
	for i := 0; i < maxConditionDepth+5; i++ {
		script += "not "
	}
	script += "true { keep; }"

	_, err := Parse(script)
	if err != ErrNestingTooDeep {
		t.Errorf("expected ErrNestingTooDeep for deep nesting, got: %v", err)
	}
}

// TestValidScript verifies that a realistic script still parses and
// evaluates as expected.
func TestValidScript(t *testing.T) {
	script := `
require ["fileinto"];

if header :contains "subject" "spam" {
	fileinto "Spam";
	stop;
}

if size :over 1M {
	discard;
}

keep;
`
	parsed, err := Parse(script)
	if err != nil {
		t.Fatalf("valid script failed to parse: %v", err)
	}
	if len(parsed) != 3 {
		t.Fatalf("expected 3 top-level rules, got %d", len(parsed))
	}

	msg := newTestMessage(map[string][]string{"Subject": {"You won! spam offer"}}, 10)
	d := Evaluate(t.Context(), parsed, msg, nil, 1)
	if d.FileInto != "Spam" {
		t.Errorf("expected fileinto Spam, got disposition %+v", d)
	}
}

// TestVacationDaysValidation verifies vacation days limits are
// enforced during parsing.
func TestVacationDaysValidation(t *testing.T) {
	script := `if true { vacation :days 7 "I'm away"; }`
	if _, err := Parse(script); err != nil {
		t.Errorf("valid vacation days failed: %v", err)
	}

	script = `if true { vacation :days 9999 "I'm away"; }`
	if _, err := Parse(script); err != ErrVacationDaysTooLong {
		t.Errorf("expected ErrVacationDaysTooLong for excessive days, got: %v", err)
	}
}
