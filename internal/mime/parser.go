package mime

import (
	"bytes"
	"mime"
	"strings"

	"github.com/mayhemheroes/meli/internal/merrors"
)

// maxMIMEDepth bounds multipart recursion to prevent adversarial nesting
// (spec.md §4.1).
const maxMIMEDepth = 20

// Message is the fully decoded representation of one RFC-822/MIME
// message: its headers, the attachment tree, and any non-fatal
// warnings accumulated while decoding (e.g. an unknown charset).
type Message struct {
	Headers    *Headers
	Root       *Attachment
	Warnings   []string
}

// ParseMessage decodes buf, a complete RFC-822 message, into its headers
// and attachment tree (spec.md §4.1 parse_headers + parse_body
// composed). A malformed part never fails the whole parse: a part with
// an unparsable Content-Type is read as text/plain, and a multipart
// with a missing or unusable boundary becomes a LeafOther leaf with a
// warning. ParseHeaders does not fail on malformed input (a buffer
// with no blank line is all headers), so the error return is not
// reached in practice.
func ParseMessage(buf []byte) (*Message, error) {
	headers, bodyOffset, err := ParseHeaders(buf)
	if err != nil {
		return nil, merrors.Parse(0, "RFC-822 headers", err)
	}

	msg := &Message{Headers: headers}
	root := parsePart(buf, headers, bodyOffset, len(buf), 0, &msg.Warnings)
	msg.Root = root
	return msg, nil
}

// ParseBody parses the region of buf, recording headers separately
// from headers passed in for the outermost part — the operation named
// in spec.md §4.1 (parse_body(bytes, content_type) -> Attachment) for a
// buffer whose headers were already extracted by ParseHeaders.
func ParseBody(buf []byte, headers *Headers, bodyStart, bodyEnd int) *Attachment {
	var warnings []string
	return parsePart(buf, headers, bodyStart, bodyEnd, 0, &warnings)
}

// parsePart builds the Attachment for the part whose headers are given
// and whose body occupies buf[bodyStart:bodyEnd].
func parsePart(buf []byte, headers *Headers, bodyStart, bodyEnd int, depth int, warnings *[]string) *Attachment {
	ct := headers.Get("Content-Type")
	mediatype, params, err := mime.ParseMediaType(ct)
	if err != nil || mediatype == "" {
		mediatype = "text/plain"
		params = map[string]string{"charset": "us-ascii"}
	}
	mediatype = strings.ToLower(mediatype)
	super, sub, _ := strings.Cut(mediatype, "/")

	a := &Attachment{
		ContentType:      mediatype,
		Charset:          params["charset"],
		Name:             attachmentName(params, headers),
		TransferEncoding: parseEncoding(headers.Get("Content-Transfer-Encoding")),
		Headers:          headers.AsMap(),
		ByteStart:        bodyStart,
		ByteEnd:          bodyEnd,
	}

	if super == "multipart" && depth < maxMIMEDepth {
		boundary := params["boundary"]
		if boundary != "" {
			children, consumedEnd, ok := splitMultipart(buf, bodyStart, bodyEnd, boundary, depth, warnings)
			if ok {
				a.Kind = parseMultipartKind(sub)
				a.Boundary = boundary
				a.Children = children
				a.ByteEnd = consumedEnd
				return a
			}
		}
		*warnings = append(*warnings, "multipart/"+sub+" missing or unusable boundary; treating as opaque")
	}

	if super == "multipart" && depth >= maxMIMEDepth {
		*warnings = append(*warnings, "multipart nesting exceeded depth limit; truncating")
	}

	classifyLeaf(a, super, sub)
	return a
}

func attachmentName(params map[string]string, headers *Headers) string {
	if n := params["name"]; n != "" {
		return n
	}
	disp := headers.Get("Content-Disposition")
	if disp == "" {
		return ""
	}
	_, dparams, err := mime.ParseMediaType(disp)
	if err != nil {
		return ""
	}
	return dparams["filename"]
}

func classifyLeaf(a *Attachment, super, sub string) {
	switch {
	case super == "text":
		a.Leaf = LeafText
	case a.ContentType == "application/pgp-signature":
		a.Leaf = LeafPGPSignature
	case super == "message" && sub == "rfc822":
		a.Leaf = LeafMessageRfc822
	case a.ContentType == "application/octet-stream":
		a.Leaf = LeafOctetStream
	default:
		a.Leaf = LeafOther
		a.Tag = a.ContentType
	}
}

// splitMultipart locates boundary within buf[start:end], tolerating a
// missing trailing CRLF before the closing boundary, and recursively
// parses each part in order. Returns false if the opening boundary line
// can't be found at all.
func splitMultipart(buf []byte, start, end int, boundary string, depth int, warnings *[]string) ([]*Attachment, int, bool) {
	delim := []byte("--" + boundary)
	closeDelim := []byte("--" + boundary + "--")

	region := buf[start:end]

	firstIdx := bytes.Index(region, delim)
	if firstIdx < 0 {
		return nil, end, false
	}

	pos := start + firstIdx
	var children []*Attachment

	for {
		if isCloseDelimiterAt(buf, pos, closeDelim) {
			// no more parts
			return children, pos, true
		}
		// advance past the delimiter line
		lineEnd := indexByteFrom(buf, pos, end, '\n')
		if lineEnd < 0 {
			// malformed: boundary with no trailing newline and no close marker
			*warnings = append(*warnings, "multipart boundary missing trailing newline")
			return children, end, true
		}
		afterDelimLine := lineEnd + 1

		// find the next boundary occurrence (open or close) to bound this part's body
		nextIdx := bytes.Index(buf[afterDelimLine:end], delim)
		var partEnd int
		var nextPos int
		if nextIdx < 0 {
			// tolerate a missing closing boundary: the rest of the region
			// belongs to this part (spec.md §4.1 tolerance clause)
			partEnd = end
			nextPos = end
		} else {
			nextPos = afterDelimLine + nextIdx
			partEnd = trimTrailingCRLF(buf, afterDelimLine, nextPos)
		}

		// parse this part's own headers
		partHeaders, bodyOffset, err := ParseHeaders(buf[afterDelimLine:partEnd])
		childBodyStart := afterDelimLine + bodyOffset
		if childBodyStart > partEnd {
			childBodyStart = partEnd
		}
		if err != nil {
			*warnings = append(*warnings, "malformed part header; using placeholder")
			partHeaders = newHeaders()
			childBodyStart = afterDelimLine
		}

		child := parsePart(buf, partHeaders, childBodyStart, partEnd, depth+1, warnings)
		children = append(children, child)

		if nextIdx < 0 {
			return children, end, true
		}
		pos = nextPos
	}
}

func indexByteFrom(buf []byte, from, to int, b byte) int {
	if from >= to {
		return -1
	}
	i := bytes.IndexByte(buf[from:to], b)
	if i < 0 {
		return -1
	}
	return from + i
}

func isCloseDelimiterAt(buf []byte, pos int, closeDelim []byte) bool {
	end := pos + len(closeDelim)
	if end > len(buf) {
		return false
	}
	return bytes.Equal(buf[pos:end], closeDelim)
}

// trimTrailingCRLF excludes the line break(s) immediately preceding a
// boundary marker from the preceding part's body range.
func trimTrailingCRLF(buf []byte, from, to int) int {
	end := to
	if end > from && buf[end-1] == '\n' {
		end--
	}
	if end > from && buf[end-1] == '\r' {
		end--
	}
	return end
}
