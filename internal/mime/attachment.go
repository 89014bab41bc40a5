// Package mime implements the MIME parser (spec.md §4.1): header
// decoding with encoded-word support, recursive multipart parsing into
// an attachment tree, transfer-decoding, and charset conversion.
//
// Grounded on the teacher's header-handling conventions
// (internal/storage/maildir/parser.go's blank-line scan) and on
// original_source/melib/src/email/attachment_types.rs for the leaf/
// multipart enum shape, with boundary scanning modeled on
// flashmob-go-guerrilla's mail/mime.Parser (bytes.Index-based boundary
// search, no regular expressions, no backtracking).
package mime

// Encoding is a MIME part's Content-Transfer-Encoding.
type Encoding int

const (
	Encoding7Bit Encoding = iota
	Encoding8Bit
	EncodingBase64
	EncodingQuotedPrintable
	EncodingOther
)

func (e Encoding) String() string {
	switch e {
	case Encoding7Bit:
		return "7bit"
	case Encoding8Bit:
		return "8bit"
	case EncodingBase64:
		return "base64"
	case EncodingQuotedPrintable:
		return "quoted-printable"
	default:
		return "other"
	}
}

func parseEncoding(s string) Encoding {
	switch normalizeToken(s) {
	case "7bit", "":
		return Encoding7Bit
	case "8bit":
		return Encoding8Bit
	case "base64":
		return EncodingBase64
	case "quoted-printable":
		return EncodingQuotedPrintable
	default:
		return EncodingOther
	}
}

// MultipartKind distinguishes the multipart subtypes the parser
// recognizes specially (spec.md §3).
type MultipartKind int

const (
	MultipartMixed MultipartKind = iota
	MultipartAlternative
	MultipartDigest
	MultipartRelated
	MultipartSigned
	MultipartOther
)

func parseMultipartKind(subtype string) MultipartKind {
	switch normalizeToken(subtype) {
	case "mixed":
		return MultipartMixed
	case "alternative":
		return MultipartAlternative
	case "digest":
		return MultipartDigest
	case "related":
		return MultipartRelated
	case "signed":
		return MultipartSigned
	default:
		return MultipartOther
	}
}

// LeafKind distinguishes leaf attachment variants (spec.md §3).
type LeafKind int

const (
	LeafText LeafKind = iota
	LeafPGPSignature
	LeafMessageRfc822
	LeafOctetStream
	LeafOther
)

// Attachment is one node of the MIME part tree: either a leaf or a
// Multipart holding ordered children. ByteStart/ByteEnd are offsets into
// the original message buffer; a multipart's children's ranges are
// strictly contained within their parent's and never overlap (spec.md
// §3 invariant).
type Attachment struct {
	Leaf     LeafKind
	Kind     MultipartKind // valid only when Children != nil
	Boundary string        // valid only when Children != nil

	ContentType    string // "type/subtype", lowercased
	Charset        string // as declared, before normalization
	Name           string // filename or Content-Type "name" parameter
	Tag            string // for LeafOther: the raw content-type
	TransferEncoding Encoding

	Headers map[string][]string // original case preserved, in order

	ByteStart int
	ByteEnd   int // exclusive

	Children []*Attachment // non-nil only for multiparts
}

// IsMultipart reports whether a has children (including an empty
// Children slice produced by a zero-part multipart).
func (a *Attachment) IsMultipart() bool { return a.Children != nil }

// Walk calls fn for a and every descendant, depth-first, pre-order.
func (a *Attachment) Walk(fn func(*Attachment)) {
	fn(a)
	for _, c := range a.Children {
		c.Walk(fn)
	}
}

// HasAttachments reports whether the tree rooted at a contains any leaf
// that isn't inline text or a PGP signature — the heuristic behind
// Envelope.HasAttachments.
func (a *Attachment) HasAttachments() bool {
	found := false
	a.Walk(func(p *Attachment) {
		if p.IsMultipart() {
			return
		}
		switch p.Leaf {
		case LeafText, LeafPGPSignature:
			if p.Leaf == LeafText && p.isAttachmentDisposition() {
				found = true
			}
		default:
			found = true
		}
	})
	return found
}

func (a *Attachment) isAttachmentDisposition() bool {
	for _, v := range a.Headers["Content-Disposition"] {
		if normalizeToken(firstToken(v)) == "attachment" {
			return true
		}
	}
	return false
}

func firstToken(s string) string {
	for i, r := range s {
		if r == ';' {
			return s[:i]
		}
	}
	return s
}
