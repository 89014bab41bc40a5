package mime

import (
	"bytes"
	"mime"
	"strings"
)

// Headers is an ordered, case-preserving, multi-valued header map: the
// same header name may appear more than once and all occurrences are
// kept in wire order (spec.md §4.1).
type Headers struct {
	order  []string          // original-case names, in first-seen order
	values map[string][]string // keyed by lowercased name
}

func newHeaders() *Headers {
	return &Headers{values: make(map[string][]string)}
}

func (h *Headers) add(name, value string) {
	key := strings.ToLower(name)
	if _, ok := h.values[key]; !ok {
		h.order = append(h.order, name)
	}
	h.values[key] = append(h.values[key], value)
}

// Get returns the first value for name (case-insensitive), or "".
func (h *Headers) Get(name string) string {
	vals := h.values[strings.ToLower(name)]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Values returns every value for name (case-insensitive), in wire order.
func (h *Headers) Values(name string) []string {
	return h.values[strings.ToLower(name)]
}

// AsMap returns the header set as original-case name -> ordered values,
// suitable for embedding in an Attachment.
func (h *Headers) AsMap() map[string][]string {
	out := make(map[string][]string, len(h.order))
	for _, name := range h.order {
		out[name] = h.values[strings.ToLower(name)]
	}
	return out
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// decodeEncodedWords applies RFC 2047 encoded-word decoding
// (=?charset?Q?...?= and =?charset?B?...?=) to a display-intended
// header value. Decode failures fall back to the raw value rather than
// erroring the whole parse (a single malformed header shouldn't sink
// the message, matching spec.md §7's per-message downgrade policy).
func decodeEncodedWords(raw string) string {
	decoded, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ParseHeaders reads folded RFC-822 headers from the start of buf and
// returns the decoded header set plus the offset of the first byte of
// the body (immediately after the blank line terminating the headers).
// Header names are case-insensitive but preserved in original case;
// repeated header names keep every occurrence in order (spec.md §4.1).
func ParseHeaders(buf []byte) (*Headers, int, error) {
	h := newHeaders()

	var curName, curValue string
	haveField := false

	flush := func() {
		if haveField {
			h.add(curName, decodeEncodedWords(curValue))
			haveField = false
		}
	}

	i := 0
	for i < len(buf) {
		// find end of this line
		j := i
		for j < len(buf) && buf[j] != '\n' {
			j++
		}
		line := buf[i:j]
		// strip trailing \r
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}

		if len(line) == 0 {
			// blank line: end of headers
			flush()
			bodyOffset := j + 1
			if bodyOffset > len(buf) {
				bodyOffset = len(buf)
			}
			return h, bodyOffset, nil
		}

		if (line[0] == ' ' || line[0] == '\t') && haveField {
			// continuation of a folded header
			curValue += " " + strings.TrimLeft(string(line), " \t")
		} else {
			flush()
			colon := bytes.IndexByte(line, ':')
			if colon < 0 {
				// tolerate a malformed header line: skip it rather than
				// failing the whole parse (spec.md §7 per-message downgrade)
				i = j + 1
				continue
			}
			curName = string(bytes.TrimSpace(line[:colon]))
			curValue = string(bytes.TrimLeft(line[colon+1:], " \t"))
			haveField = true
		}

		i = j + 1
	}

	// buffer ended without a blank line: treat everything as headers
	flush()
	return h, len(buf), nil
}
