package imap

import (
	"testing"

	"github.com/mayhemheroes/meli/internal/model"
)

func TestParseResponseLineClassifiesKinds(t *testing.T) {
	cases := []struct {
		line string
		kind responseKind
		tag  string
	}{
		{"* 12 EXISTS", respUntagged, ""},
		{"+ go ahead", respContinuation, ""},
		{"M3 OK FETCH completed", respTagged, "M3"},
		{"M4 NO [NONEXISTENT] mailbox missing", respTagged, "M4"},
	}
	for _, c := range cases {
		resp := parseResponseLine(c.line)
		if resp.kind != c.kind {
			t.Errorf("parseResponseLine(%q).kind = %v, want %v", c.line, resp.kind, c.kind)
		}
		if c.tag != "" && resp.tag != c.tag {
			t.Errorf("parseResponseLine(%q).tag = %q, want %q", c.line, resp.tag, c.tag)
		}
	}
}

func TestParseResponseLineUntaggedKeyword(t *testing.T) {
	// keyword is the first token after '*': for a numeric-prefixed
	// response like "5 FETCH ...", that's the sequence number, not the
	// verb — callers needing the verb inspect resp.text instead, which
	// parseFetchUID/parseFetchFlags/extractLiteralBody all do.
	resp := parseResponseLine("* 5 FETCH (UID 42 FLAGS (\\Seen))")
	if resp.keyword != "5" {
		t.Errorf("keyword = %q, want %q", resp.keyword, "5")
	}
	if resp.text == "" {
		t.Fatal("expected non-empty text")
	}
}

func TestLiteralSize(t *testing.T) {
	cases := []struct {
		line string
		n    int
		ok   bool
	}{
		{"* 2 FETCH (BODY[] {19}", 19, true},
		{"* 2 FETCH (BODY[] {19+}", 19, true},
		{"M1 OK done", 0, false},
		{"no brace here {", 0, false},
		{"bad {abc}", 0, false},
	}
	for _, c := range cases {
		n, ok := literalSize(c.line)
		if ok != c.ok || n != c.n {
			t.Errorf("literalSize(%q) = (%d, %v), want (%d, %v)", c.line, n, ok, c.n, c.ok)
		}
	}
}

func TestParseCapabilitiesInto(t *testing.T) {
	caps := make(map[string]bool)
	parseCapabilitiesInto(caps, "* OK [CAPABILITY IMAP4rev1 STARTTLS AUTH=PLAIN IDLE] ready")
	for _, want := range []string{"IMAP4REV1", "STARTTLS", "AUTH=PLAIN", "IDLE"} {
		if !caps[want] {
			t.Errorf("expected capability %s to be parsed, got %v", want, caps)
		}
	}
}

func TestParseCapabilitiesIntoUntaggedResponse(t *testing.T) {
	caps := make(map[string]bool)
	parseCapabilitiesInto(caps, "* CAPABILITY IMAP4rev1 IDLE UIDPLUS")
	if !caps["UIDPLUS"] || !caps["IDLE"] {
		t.Errorf("expected UIDPLUS and IDLE, got %v", caps)
	}
}

func TestParseFetchUID(t *testing.T) {
	cases := []struct {
		text string
		want int64
	}{
		{"5 FETCH (UID 1042 FLAGS (\\Seen))", 1042},
		{"5 FETCH (FLAGS (\\Seen))", -1},
		{"", -1},
	}
	for _, c := range cases {
		if got := parseFetchUID(c.text); got != c.want {
			t.Errorf("parseFetchUID(%q) = %d, want %d", c.text, got, c.want)
		}
	}
}

func TestExtractLiteralBody(t *testing.T) {
	text := "4 FETCH (UID 9 BODY[HEADER] {11}Subject: hi)"
	body, ok := extractLiteralBody(text)
	if !ok {
		t.Fatal("expected literal body to be found")
	}
	if string(body) != "Subject: hi" {
		t.Errorf("extractLiteralBody got %q", body)
	}
}

func TestExtractLiteralBodyNoLiteral(t *testing.T) {
	if _, ok := extractLiteralBody("5 FETCH (FLAGS (\\Seen))"); ok {
		t.Fatal("expected no literal body")
	}
}

func TestParseListLine(t *testing.T) {
	name, noSelect := parseListLine(`(\HasNoChildren) "/" "INBOX/Archive"`)
	if name != "INBOX/Archive" {
		t.Errorf("parseListLine name = %q, want INBOX/Archive", name)
	}
	if noSelect {
		t.Error("expected noSelect = false")
	}

	name, noSelect = parseListLine(`(\Noselect \HasChildren) "/" "INBOX"`)
	if name != "INBOX" || !noSelect {
		t.Errorf("parseListLine(\\Noselect) = (%q, %v), want (INBOX, true)", name, noSelect)
	}
}

func TestParseListLineMalformed(t *testing.T) {
	name, _ := parseListLine("no parens here")
	if name != "" {
		t.Errorf("expected empty name for malformed input, got %q", name)
	}
}

func TestLeafName(t *testing.T) {
	cases := map[string]string{
		"INBOX":            "INBOX",
		"INBOX/Archive":    "Archive",
		"INBOX.Sent.2024":  "2024",
	}
	for in, want := range cases {
		if got := leafName(in); got != want {
			t.Errorf("leafName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseFetchFlags(t *testing.T) {
	flags := parseFetchFlags(`5 FETCH (UID 9 FLAGS (\Seen \Flagged \Recent))`)
	if !flags.Has(model.FlagSeen) || !flags.Has(model.FlagFlagged) || !flags.Has(model.FlagRecent) {
		t.Errorf("parseFetchFlags lost a flag, got %v", flags)
	}
	if flags.Has(model.FlagAnswered) {
		t.Error("unexpected FlagAnswered")
	}
}

func TestEncodeFlagsIMAPRoundTrip(t *testing.T) {
	var flags = imapFlagTable[0].bit | imapFlagTable[1].bit
	enc := encodeFlagsIMAP(flags)
	if enc == "()" || enc == "" {
		t.Fatalf("expected non-empty flag list, got %q", enc)
	}
	parsed := parseFetchFlags("FLAGS " + enc)
	if !parsed.Has(imapFlagTable[0].bit) || !parsed.Has(imapFlagTable[1].bit) {
		t.Errorf("round trip lost flags: encoded %q, parsed back %v", enc, parsed)
	}
}

func TestEncodeDecodeIMAPToken(t *testing.T) {
	tok := encodeIMAPToken(12345, 99)
	folder, uid, err := decodeIMAPToken(tok)
	if err != nil {
		t.Fatalf("decodeIMAPToken: %v", err)
	}
	if folder != 12345 || uid != 99 {
		t.Errorf("decodeIMAPToken = (%d, %d), want (12345, 99)", folder, uid)
	}
}

func TestDecodeIMAPTokenMalformed(t *testing.T) {
	if _, _, err := decodeIMAPToken("not-a-token"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}
