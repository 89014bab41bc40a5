// Package model holds the data types shared by every core subsystem:
// the Envelope and Folder produced by the backends (internal/maildir,
// internal/imap), consumed by the threading engine (internal/thread)
// and the sieve evaluator (internal/sieve).
package model

import (
	"hash/fnv"
	"strings"
	"time"
)

// EnvelopeHash is the stable 64-bit identity of a parsed message, derived
// from Message-ID plus body length (or, for Maildir, from the filename
// stripped of its flag suffix plus file size — see internal/maildir;
// for IMAP, from folder and Message-ID plus UID — see internal/imap).
// Two envelopes sharing a hash are the same message even across backends.
type EnvelopeHash uint64

// HashMessageID derives an EnvelopeHash from a message-id and body size,
// the content-hash scheme spec.md specifies for the general case.
func HashMessageID(messageID string, bodyLen int64) EnvelopeHash {
	h := fnv.New64a()
	h.Write([]byte(messageID))
	var lenBuf [8]byte
	for i := range lenBuf {
		lenBuf[i] = byte(bodyLen >> (8 * i))
	}
	h.Write(lenBuf[:])
	return EnvelopeHash(h.Sum64())
}

// Flag is one bit in an Envelope's flag bitset.
type Flag uint16

const (
	FlagSeen Flag = 1 << iota
	FlagAnswered
	FlagFlagged
	FlagDraft
	FlagTrashed
	FlagPassed
	FlagRecent
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// Address is one RFC 5322 mailbox: a display name plus an addr-spec.
type Address struct {
	Name  string
	Email string
}

func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return a.Name + " <" + a.Email + ">"
}

// Localpart returns the portion of Email before '@'.
func (a Address) Localpart() string {
	if i := strings.IndexByte(a.Email, '@'); i >= 0 {
		return a.Email[:i]
	}
	return a.Email
}

// Domain returns the portion of Email after '@'.
func (a Address) Domain() string {
	if i := strings.IndexByte(a.Email, '@'); i >= 0 {
		return a.Email[i+1:]
	}
	return ""
}

// Envelope is the immutable, post-parse representation of one message's
// headers plus derived metadata (spec.md §3). Envelopes are created
// during folder load or watcher notification and never mutated after
// insertion except for Flags and Labels.
type Envelope struct {
	Hash EnvelopeHash

	Date time.Time // UTC

	From []Address
	To   []Address
	Cc   []Address
	Bcc  []Address

	Subject string

	MessageID  string
	InReplyTo  string
	References []string // oldest first

	Flags Flag
	Labels map[string]struct{}

	HasAttachments bool

	// OperationToken is opaque to everyone but the owning backend; it is
	// passed back to Backend.Operation to reopen the full body on demand.
	OperationToken string
}

// BaseSubject strips leading "Re:"/"Fwd:" runs (case-insensitive) and
// collapses internal whitespace, the key used to union threads by
// subject when References/In-Reply-To don't connect them.
func BaseSubject(subject string) string {
	s := subject
	for {
		trimmed := strings.TrimSpace(s)
		lower := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(lower, "re:"):
			s = trimmed[3:]
		case strings.HasPrefix(lower, "fwd:"):
			s = trimmed[4:]
		case strings.HasPrefix(lower, "fw:"):
			s = trimmed[3:]
		case strings.HasPrefix(trimmed, "[") :
			if end := strings.IndexByte(trimmed, ']'); end > 0 {
				s = trimmed[end+1:]
				continue
			}
			return collapseSpace(trimmed)
		default:
			return collapseSpace(trimmed)
		}
	}
}

func collapseSpace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// Clone returns a copy of the Envelope safe to hand to a reader while the
// owning collection mutates Flags/Labels on the original under lock.
func (e *Envelope) Clone() *Envelope {
	c := *e
	c.From = append([]Address(nil), e.From...)
	c.To = append([]Address(nil), e.To...)
	c.Cc = append([]Address(nil), e.Cc...)
	c.Bcc = append([]Address(nil), e.Bcc...)
	c.References = append([]string(nil), e.References...)
	if e.Labels != nil {
		c.Labels = make(map[string]struct{}, len(e.Labels))
		for k := range e.Labels {
			c.Labels[k] = struct{}{}
		}
	}
	return &c
}
