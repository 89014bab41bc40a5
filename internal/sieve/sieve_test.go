package sieve

import (
	"testing"

	"github.com/mayhemheroes/meli/internal/mime"
)

// newTestMessage builds a Message around a raw header map for tests
// that don't need a full RFC-822 buffer run through mime.ParseHeaders.
func newTestMessage(headers map[string][]string, size int64) *Message {
	raw := ""
	for name, vals := range headers {
		for _, v := range vals {
			raw += name + ": " + v + "\r\n"
		}
	}
	raw += "\r\n"
	h, _, err := mime.ParseHeaders([]byte(raw))
	if err != nil {
		panic(err)
	}
	return &Message{Headers: h, Size: size}
}

// TestScenarioS5 is spec.md §8's S5: subject-contains "viagra" discards,
// otherwise keep.
func TestScenarioS5(t *testing.T) {
	script := `if header :contains "subject" "viagra" { discard; } else { keep; }`
	rules, err := Parse(script)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(rules) != 1 || rules[0].Kind != KindIf {
		t.Fatalf("expected a single If rule, got %+v", rules)
	}
	cond := rules[0].Condition
	if cond.Kind != TestHeader || cond.Match != MatchContains {
		t.Fatalf("expected Header/Contains test, got %+v", cond)
	}
	if len(cond.Names) != 1 || cond.Names[0] != "subject" {
		t.Errorf("expected names=[subject], got %v", cond.Names)
	}
	if len(cond.Keys) != 1 || cond.Keys[0] != "viagra" {
		t.Errorf("expected keys=[viagra], got %v", cond.Keys)
	}
	if len(rules[0].Then) != 1 || rules[0].Then[0].Kind != KindDiscard {
		t.Errorf("expected then=[Discard], got %+v", rules[0].Then)
	}
	if len(rules[0].Else) != 1 || rules[0].Else[0].Kind != KindKeep {
		t.Errorf("expected else=[Keep], got %+v", rules[0].Else)
	}

	spam := newTestMessage(map[string][]string{"Subject": {"Cheap VIAGRA now"}}, 100)
	d := Evaluate(t.Context(), rules, spam, nil, 1)
	if !d.Discard {
		t.Errorf("expected spam message to be discarded, got %+v", d)
	}

	ham := newTestMessage(map[string][]string{"Subject": {"lunch tomorrow?"}}, 100)
	d = Evaluate(t.Context(), rules, ham, nil, 1)
	if !d.Keep {
		t.Errorf("expected ham message to be kept, got %+v", d)
	}
}

func TestStopHaltsProcessing(t *testing.T) {
	script := `
if header :is "subject" "first" { fileinto "A"; stop; }
if header :is "subject" "first" { fileinto "B"; }
`
	rules, err := Parse(script)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	msg := newTestMessage(map[string][]string{"Subject": {"first"}}, 10)
	d := Evaluate(t.Context(), rules, msg, nil, 1)
	if d.FileInto != "A" {
		t.Errorf("expected stop after first rule, got disposition %+v", d)
	}
}

func TestAllOfAndAnyOf(t *testing.T) {
	script := `
if allof (header :is "subject" "x", header :is "from" "a@b.com") {
	discard;
}
`
	rules, err := Parse(script)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	msg := newTestMessage(map[string][]string{"Subject": {"x"}, "From": {"a@b.com"}}, 1)
	d := Evaluate(t.Context(), rules, msg, nil, 1)
	if !d.Discard {
		t.Errorf("expected allof match to discard, got %+v", d)
	}

	partial := newTestMessage(map[string][]string{"Subject": {"x"}, "From": {"other@b.com"}}, 1)
	d = Evaluate(t.Context(), rules, partial, nil, 1)
	if d.Discard {
		t.Errorf("expected allof with one mismatch to not discard, got %+v", d)
	}
}

func TestAddressLocalpartTest(t *testing.T) {
	script := `if address :localpart :is "from" "alice" { fileinto "Alice"; }`
	rules, err := Parse(script)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	msg := newTestMessage(map[string][]string{"From": {"Alice Smith <alice@example.com>"}}, 1)
	d := Evaluate(t.Context(), rules, msg, nil, 1)
	if d.FileInto != "Alice" {
		t.Errorf("expected localpart match to fileinto Alice, got %+v", d)
	}
}

func TestSizeOverUnder(t *testing.T) {
	script := `if size :over 1K { fileinto "Big"; }`
	rules, err := Parse(script)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	big := newTestMessage(nil, 2000)
	d := Evaluate(t.Context(), rules, big, nil, 1)
	if d.FileInto != "Big" {
		t.Errorf("expected size:over 1K to match a 2000-byte message, got %+v", d)
	}
	small := newTestMessage(nil, 10)
	d = Evaluate(t.Context(), rules, small, nil, 1)
	if d.FileInto == "Big" {
		t.Errorf("expected size:over 1K to not match a 10-byte message")
	}
}

func TestMatchesGlob(t *testing.T) {
	script := `if header :matches "subject" "Re: *" { fileinto "Replies"; }`
	rules, err := Parse(script)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	msg := newTestMessage(map[string][]string{"Subject": {"Re: hello"}}, 1)
	d := Evaluate(t.Context(), rules, msg, nil, 1)
	if d.FileInto != "Replies" {
		t.Errorf("expected glob match, got %+v", d)
	}
}

func TestElsifChain(t *testing.T) {
	script := `
if header :is "subject" "a" {
	fileinto "A";
} elsif header :is "subject" "b" {
	fileinto "B";
} else {
	keep;
}
`
	rules, err := Parse(script)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	msg := newTestMessage(map[string][]string{"Subject": {"b"}}, 1)
	d := Evaluate(t.Context(), rules, msg, nil, 1)
	if d.FileInto != "B" {
		t.Errorf("expected elsif branch to match, got %+v", d)
	}
}

func TestRejectStopsProcessing(t *testing.T) {
	script := `
if true {
	reject "not accepting mail";
	fileinto "Never";
}
`
	rules, err := Parse(script)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	msg := newTestMessage(nil, 1)
	d := Evaluate(t.Context(), rules, msg, nil, 1)
	if d.Reject != "not accepting mail" {
		t.Errorf("expected reject message set, got %+v", d)
	}
	if d.FileInto == "Never" {
		t.Errorf("expected reject to halt before the following fileinto")
	}
}
