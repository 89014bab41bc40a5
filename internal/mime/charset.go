package mime

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime/quotedprintable"
	"strings"

	emcharset "github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
)

// normalizeToken lowercases and trims a MIME token for comparison.
func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// charsetEncoding maps the recognized charset table (spec.md §4.1) to a
// golang.org/x/text encoding.Encoding. Returns nil for "us-ascii"/"utf-8"
// (no conversion needed) and for unrecognized charsets.
func charsetEncoding(name string) encoding.Encoding {
	switch normalizeToken(name) {
	case "", "us-ascii", "ascii", "utf-8", "utf8":
		return nil
	case "utf-16":
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1
	case "iso-8859-2":
		return charmap.ISO8859_2
	case "iso-8859-7":
		return charmap.ISO8859_7
	case "iso-8859-15":
		return charmap.ISO8859_15
	case "windows-1250":
		return charmap.Windows1250
	case "windows-1251":
		return charmap.Windows1251
	case "windows-1252":
		return charmap.Windows1252
	case "windows-1253":
		return charmap.Windows1253
	case "gbk":
		return simplifiedchinese.GBK
	case "gb2312":
		// gb2312 in mail headers names the GB2312/EUC byte encoding,
		// not HZGB2312's 7-bit HZ escape form; GBK is its superset.
		return simplifiedchinese.GBK
	case "big5":
		return traditionalchinese.Big5
	case "iso-2022-jp":
		return japanese.ISO2022JP
	case "euc-kr":
		return korean.EUCKR
	default:
		return nil
	}
}

// charsetReader adapts charsetEncoding for use as a mime.WordDecoder
// CharsetReader: decode the encoded-word's raw bytes from charset into
// UTF-8. charsetEncoding only covers spec.md §4.1's named table; any
// charset outside it (and any alias x/text doesn't itself know) falls
// through to go-message's broader IANA-alias table before giving up
// and returning the bytes undecoded.
func charsetReader(charsetName string, input io.Reader) (io.Reader, error) {
	enc := charsetEncoding(charsetName)
	if enc != nil {
		return enc.NewDecoder().Reader(input), nil
	}
	if r, err := emcharset.Reader(charsetName, input); err == nil {
		return r, nil
	}
	return input, nil
}

// DecodeText applies enc's transfer-encoding to raw then converts from
// charsetName to UTF-8. Unknown charsets fall back to ASCII with lossy
// replacement, per spec.md §4.1; the caller is expected to surface the
// accompanying warning via Message.Warnings.
func DecodeText(raw []byte, enc Encoding, charsetName string) (text string, warning string) {
	decoded, err := decodeTransfer(raw, enc)
	if err != nil {
		decoded = raw
		warning = "transfer-decoding failed: " + err.Error()
	}

	cs := normalizeToken(charsetName)
	if cs == "" || cs == "us-ascii" || cs == "ascii" || cs == "utf-8" || cs == "utf8" {
		return string(decoded), warning
	}

	if xenc := charsetEncoding(cs); xenc != nil {
		out, err := xenc.NewDecoder().Bytes(decoded)
		if err != nil {
			return lossyASCII(decoded), appendWarning(warning, "charset conversion failed: "+err.Error())
		}
		return string(out), warning
	}

	if r, err := emcharset.Reader(cs, bytes.NewReader(decoded)); err == nil {
		out, err := io.ReadAll(r)
		if err == nil {
			return string(out), warning
		}
	}

	// unrecognized by both tables: lossy ascii fallback
	return lossyASCII(decoded), appendWarning(warning, "unknown charset "+charsetName+", falling back to ascii")
}

func appendWarning(existing, add string) string {
	if existing == "" {
		return add
	}
	return existing + "; " + add
}

func lossyASCII(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c < 0x80 {
			out[i] = c
		} else {
			out[i] = '?'
		}
	}
	return string(out)
}

// decodeTransfer reverses a part's Content-Transfer-Encoding.
// base64 ignores interleaved whitespace; quoted-printable honors soft
// line breaks per RFC 2045 §6.7.
func decodeTransfer(raw []byte, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingBase64:
		cleaned := stripWhitespace(raw)
		out := make([]byte, base64.StdEncoding.DecodedLen(len(cleaned)))
		n, err := base64.StdEncoding.Decode(out, cleaned)
		if err != nil {
			// tolerate missing padding, a common real-world deviation
			if n2, err2 := base64.RawStdEncoding.Decode(out, cleaned); err2 == nil {
				return out[:n2], nil
			}
			return out[:n], err
		}
		return out[:n], nil
	case EncodingQuotedPrintable:
		r := quotedprintable.NewReader(bytes.NewReader(raw))
		return io.ReadAll(r)
	default:
		return raw, nil
	}
}

func stripWhitespace(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			out = append(out, c)
		}
	}
	return out
}
