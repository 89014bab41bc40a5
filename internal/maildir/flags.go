// Package maildir implements the Maildir backend (spec.md §4.3): a
// local on-disk store rooted at a directory tree of cur/new/tmp
// triples, following D. J. Bernstein's format as extended by the
// ":2,<flags>" info suffix (https://cr.yp.to/proto/maildir.html).
//
// The on-disk conventions here are grounded in the teacher's
// internal/storage/maildir/maildir.go (flag-letter codec, rename-based
// delivery) and in original_source/melib/src/mailbox/backends/maildir.rs
// (folder discovery walk, flag parsing by scanning the filename in
// reverse from the trailing ",").
package maildir

import (
	"strings"

	maildirfmt "github.com/emersion/go-maildir"

	"github.com/mayhemheroes/meli/internal/model"
)

// flagTable pairs each model.Flag bit with the upstream go-maildir
// vocabulary's corresponding single-letter code, reusing emersion's
// Flag enum instead of a second hand-rolled letter table. FlagRecent
// has no entry: "recent" is derived from a message's presence under
// new/, never encoded in the filename.
var flagTable = []struct {
	bit model.Flag
	mdf maildirfmt.Flag
}{
	{model.FlagDraft, maildirfmt.FlagDraft},
	{model.FlagFlagged, maildirfmt.FlagFlagged},
	{model.FlagPassed, maildirfmt.FlagPassed},
	{model.FlagAnswered, maildirfmt.FlagReplied},
	{model.FlagSeen, maildirfmt.FlagSeen},
	{model.FlagTrashed, maildirfmt.FlagTrashed},
}

// encodeFlags renders flags as the ":2," info-suffix letter run, via
// go-maildir's own FormatFlags so the byte order always matches what
// the upstream library's readers expect.
func encodeFlags(flags model.Flag) string {
	var mdFlags []maildirfmt.Flag
	for _, fl := range flagTable {
		if flags.Has(fl.bit) {
			mdFlags = append(mdFlags, fl.mdf)
		}
	}
	return maildirfmt.FormatFlags(mdFlags)
}

// decodeFlags parses the letter run following ":2," in a Maildir
// filename using go-maildir's ParseFlags, then maps each recognized
// letter back onto our bitset. Letters ParseFlags doesn't recognize
// are dropped, matching the format's reservation of lowercase letters
// for experimental use.
func decodeFlags(letters string) model.Flag {
	var flags model.Flag
	for _, mdf := range maildirfmt.ParseFlags(letters) {
		for _, fl := range flagTable {
			if fl.mdf == mdf {
				flags |= fl.bit
			}
		}
	}
	return flags
}

// splitInfo separates a Maildir filename's unique key from its
// ":2,<flags>" info suffix, if present. ok is false for filenames with
// no recognized ":2," marker, in which case the whole name is the key
// and flags are empty (a message delivered by an agent that predates
// the info-suffix extension).
func splitInfo(name string) (key, flags string, ok bool) {
	idx := strings.LastIndex(name, ":2,")
	if idx < 0 {
		return name, "", false
	}
	return name[:idx], name[idx+3:], true
}
