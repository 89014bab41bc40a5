package sieve

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mayhemheroes/meli/internal/mime"
)

// Message is the input a RuleBlock is evaluated against: the raw
// headers a backend fetched plus the message's on-disk size. Grounded
// on internal/mime.Headers (C1) rather than the teacher's own ad-hoc
// header map, so the sieve engine reads the same decoded header set
// the MIME parser produces.
type Message struct {
	Headers *mime.Headers
	Size    int64
	Date    time.Time
}

// Disposition is the result of evaluating a RuleBlock against one
// Message (spec.md §4.6's base Keep|Discard sum type, supplemented per
// SPEC_FULL.md §9 with the FileInto/Redirect/Vacation/Reject
// annotations the host-API maps onto set_flags/move/no-op).
type Disposition struct {
	Keep     bool
	Discard  bool
	FileInto string // target folder, "" if no fileinto ran
	Redirect []string
	Reject   string // rejection message, "" if no reject ran
	Vacation *VacationResponse
}

// VacationResponse is the unexecuted auto-reply an evaluated vacation
// action produced; SMTP submission is a Non-goal, so this is recorded
// as an annotation for the host to act on (or not) rather than sent.
type VacationResponse struct {
	To      string
	Subject string
	Body    string
}

// Evaluate runs block against msg top-to-bottom (spec.md §4.6): Stop
// halts immediately, Keep/Discard are terminal, If dispatches to
// then/elsif*/else. A vacation store error skips that one auto-reply
// and evaluation goes on; it is not propagated. A msg with nil Headers
// is evaluated as a message with no headers.
func Evaluate(ctx context.Context, block RuleBlock, msg *Message, vs *VacationStore, accountID int64) *Disposition {
	if msg.Headers == nil {
		empty, _, _ := mime.ParseHeaders(nil)
		msg = &Message{Headers: empty, Size: msg.Size, Date: msg.Date}
	}
	d := &Disposition{Keep: true}
	runBlock(ctx, block, msg, vs, accountID, d)
	return d
}

// runBlock returns true if evaluation should stop (Stop ran, or a
// terminal action already fired).
func runBlock(ctx context.Context, block RuleBlock, msg *Message, vs *VacationStore, accountID int64, d *Disposition) bool {
	for _, rule := range block {
		if applyRule(ctx, rule, msg, vs, accountID, d) {
			return true
		}
	}
	return false
}

func applyRule(ctx context.Context, rule Rule, msg *Message, vs *VacationStore, accountID int64, d *Disposition) bool {
	switch rule.Kind {
	case KindStop:
		return true
	case KindKeep:
		d.Keep = true
		d.Discard = false
		return true
	case KindDiscard:
		d.Discard = true
		d.Keep = false
		return true
	case KindFileInto:
		d.FileInto = rule.Folder
		d.Keep = false
		return false
	case KindRedirect:
		d.Redirect = append(d.Redirect, rule.Address)
		d.Keep = false
		return false
	case KindReject:
		d.Reject = rule.RejectMessage
		d.Keep = false
		return true
	case KindVacation:
		applyVacation(ctx, rule.Vacation, msg, vs, accountID, d)
		return false
	case KindNestedBlock:
		return runBlock(ctx, rule.Block, msg, vs, accountID, d)
	case KindIf:
		return applyIf(ctx, rule, msg, vs, accountID, d)
	default:
		return false
	}
}

func applyIf(ctx context.Context, rule Rule, msg *Message, vs *VacationStore, accountID int64, d *Disposition) bool {
	if evalTest(rule.Condition, msg) {
		return runBlock(ctx, rule.Then, msg, vs, accountID, d)
	}
	for _, clause := range rule.Elsif {
		if evalTest(clause.Condition, msg) {
			return runBlock(ctx, clause.Block, msg, vs, accountID, d)
		}
	}
	if rule.Else != nil {
		return runBlock(ctx, rule.Else, msg, vs, accountID, d)
	}
	return false
}

func applyVacation(ctx context.Context, params VacationParams, msg *Message, vs *VacationStore, accountID int64, d *Disposition) {
	from := msg.Headers.Get("From")
	if shouldSkipVacation(msg) {
		return
	}

	if vs != nil {
		days := params.Days
		if days <= 0 {
			days = 7
		}
		shouldRespond, err := vs.ShouldRespond(ctx, accountID, from, days)
		if err != nil || !shouldRespond {
			return
		}
		if err := vs.RecordResponse(ctx, accountID, from); err != nil {
			return
		}
	}

	subject := params.Subject
	if subject == "" {
		subject = "Re: " + msg.Headers.Get("Subject")
	}
	d.Vacation = &VacationResponse{To: from, Subject: subject, Body: params.Body}
}

// shouldSkipVacation mirrors the teacher's original heuristics for
// suppressing auto-replies to bulk/automated senders.
func shouldSkipVacation(msg *Message) bool {
	from := strings.ToLower(msg.Headers.Get("From"))
	skipPrefixes := []string{
		"noreply@", "no-reply@", "donotreply@", "do-not-reply@",
		"mailer-daemon@", "postmaster@", "bounces@", "bounce@",
	}
	for _, prefix := range skipPrefixes {
		if strings.Contains(from, prefix) {
			return true
		}
	}
	for _, p := range msg.Headers.Values("Precedence") {
		p = strings.ToLower(p)
		if p == "bulk" || p == "list" || p == "junk" {
			return true
		}
	}
	if len(msg.Headers.Values("List-Id")) > 0 || len(msg.Headers.Values("List-Unsubscribe")) > 0 {
		return true
	}
	for _, as := range msg.Headers.Values("Auto-Submitted") {
		if strings.ToLower(as) != "no" {
			return true
		}
	}
	return len(msg.Headers.Values("X-Auto-Response-Suppress")) > 0
}

// evalTest evaluates a single ConditionRule (spec.md §4.6).
func evalTest(t ConditionRule, msg *Message) bool {
	switch t.Kind {
	case TestLiteral:
		return t.LiteralValue
	case TestAllOf:
		for _, sub := range t.Tests {
			if !evalTest(sub, msg) {
				return false
			}
		}
		return true
	case TestAnyOf:
		for _, sub := range t.Tests {
			if evalTest(sub, msg) {
				return true
			}
		}
		return false
	case TestNot:
		if t.Inner == nil {
			return true
		}
		return !evalTest(*t.Inner, msg)
	case TestExists:
		for _, name := range t.ExistsHeaders {
			if len(msg.Headers.Values(name)) == 0 {
				return false
			}
		}
		return true
	case TestSize:
		if t.SizeOp == SizeOver {
			return msg.Size > t.SizeLimit
		}
		return msg.Size < t.SizeLimit
	case TestHeader:
		return evalHeaderTest(t, msg, false)
	case TestAddress:
		return evalHeaderTest(t, msg, true)
	default:
		return false
	}
}

func evalHeaderTest(t ConditionRule, msg *Message, isAddress bool) bool {
	var values []string
	for _, name := range t.Names {
		for _, v := range msg.Headers.Values(name) {
			if isAddress {
				v = extractAddressPart(v, t.AddrPart)
			}
			values = append(values, v)
		}
	}

	switch t.Match {
	case MatchCount:
		return compareRelation(int64(len(values)), t.Relation, parseKeyNumbers(t.Keys))
	case MatchValue:
		for _, v := range values {
			for _, key := range t.Keys {
				if compareOrdered(v, key, t.Comparator, t.Relation) {
					return true
				}
			}
		}
		return false
	default:
		for _, v := range values {
			for _, key := range t.Keys {
				if matchOne(v, key, t.Match, t.Comparator) {
					return true
				}
			}
		}
		return false
	}
}

func matchOne(value, key string, mt MatchType, cmp Comparator) bool {
	cv, ck := normalize(value, cmp), normalize(key, cmp)
	switch mt {
	case MatchIs:
		return cv == ck
	case MatchContains:
		return strings.Contains(cv, ck)
	case MatchMatches:
		re, err := regexp.Compile(globToRegex(ck))
		if err != nil {
			return false
		}
		return re.MatchString(cv)
	default:
		return cv == ck
	}
}

func normalize(s string, cmp Comparator) string {
	if cmp == ComparatorOctet {
		return s
	}
	return strings.ToLower(s)
}

// globToRegex converts a Sieve `*`/`?` glob into an anchored regex.
func globToRegex(pattern string) string {
	result := regexp.QuoteMeta(pattern)
	result = strings.ReplaceAll(result, `\*`, `.*`)
	result = strings.ReplaceAll(result, `\?`, `.`)
	return "^" + result + "$"
}

func parseKeyNumbers(keys []string) []int64 {
	out := make([]int64, 0, len(keys))
	for _, k := range keys {
		if n, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func compareRelation(got int64, rel Relation, wants []int64) bool {
	for _, want := range wants {
		if relOK(got, rel, want) {
			return true
		}
	}
	return false
}

func relOK(got int64, rel Relation, want int64) bool {
	switch rel {
	case RelEQ:
		return got == want
	case RelNE:
		return got != want
	case RelGT:
		return got > want
	case RelGE:
		return got >= want
	case RelLT:
		return got < want
	case RelLE:
		return got <= want
	default:
		return got == want
	}
}

func compareOrdered(value, key string, cmp Comparator, rel Relation) bool {
	v, k := normalize(value, cmp), normalize(key, cmp)
	switch rel {
	case RelEQ:
		return v == k
	case RelNE:
		return v != k
	case RelGT:
		return v > k
	case RelGE:
		return v >= k
	case RelLT:
		return v < k
	case RelLE:
		return v <= k
	default:
		return v == k
	}
}

// extractAddressPart pulls localpart/domain/all out of an RFC 5322
// "Name <addr@domain>" or bare "addr@domain" header value.
func extractAddressPart(addr string, part AddressPart) string {
	if idx := strings.Index(addr, "<"); idx >= 0 {
		if end := strings.Index(addr, ">"); end > idx {
			addr = addr[idx+1 : end]
		}
	}
	addr = strings.TrimSpace(addr)

	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return addr
	}
	switch part {
	case AddrLocalpart:
		return addr[:at]
	case AddrDomain:
		return addr[at+1:]
	default:
		return addr
	}
}
