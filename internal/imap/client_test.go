package imap

import (
	"testing"

	"github.com/mayhemheroes/meli/internal/mime"
)

func TestQuoteIMAP(t *testing.T) {
	cases := map[string]string{
		`plain`:      `"plain"`,
		`has"quote`:  `"has\"quote"`,
		`back\slash`: `"back\\slash"`,
	}
	for in, want := range cases {
		if got := quoteIMAP(in); got != want {
			t.Errorf("quoteIMAP(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSaslEncodeEmptyResponse(t *testing.T) {
	if got := saslEncode(nil); got != "=" {
		t.Errorf("saslEncode(nil) = %q, want \"=\"", got)
	}
}

func TestSaslEncodeNonEmpty(t *testing.T) {
	got := saslEncode([]byte("\x00user\x00pass"))
	if got == "=" || got == "" {
		t.Errorf("saslEncode produced empty/sentinel output for non-empty input: %q", got)
	}
}

func TestSplitRefs(t *testing.T) {
	refs := splitRefs("<a@x> <b@y>  <c@z>")
	want := []string{"a@x", "b@y", "c@z"}
	if len(refs) != len(want) {
		t.Fatalf("splitRefs returned %d refs, want %d", len(refs), len(want))
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("splitRefs[%d] = %q, want %q", i, refs[i], want[i])
		}
	}
}

func TestSplitRefsEmpty(t *testing.T) {
	if refs := splitRefs(""); refs != nil {
		t.Errorf("splitRefs(\"\") = %v, want nil", refs)
	}
}

func TestEnvelopeFromHeaders(t *testing.T) {
	raw := []byte("Subject: hello\r\nMessage-Id: <abc@x>\r\nIn-Reply-To: <parent@x>\r\nReferences: <root@x> <parent@x>\r\n")
	h, _, err := mime.ParseHeaders(raw)
	if err != nil {
		t.Fatalf("ParseHeaders: %v", err)
	}
	e := envelopeFromHeaders(h, 0)
	if e.Subject != "hello" {
		t.Errorf("Subject = %q, want hello", e.Subject)
	}
	if e.MessageID != "abc@x" {
		t.Errorf("MessageID = %q, want abc@x", e.MessageID)
	}
	if e.InReplyTo != "parent@x" {
		t.Errorf("InReplyTo = %q, want parent@x", e.InReplyTo)
	}
	if len(e.References) != 2 {
		t.Errorf("References = %v, want 2 entries", e.References)
	}
}

func TestLeafNameTrailingSeparators(t *testing.T) {
	if got := leafName("INBOX/Archive/"); got != "Archive" {
		t.Errorf("leafName trailing slash = %q, want Archive", got)
	}
}
