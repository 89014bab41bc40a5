package maildir

import (
	"net/mail"
	"os"
	"path/filepath"
	"strings"

	"github.com/mayhemheroes/meli/internal/mime"
	"github.com/mayhemheroes/meli/internal/model"
)

// populateEnvelope reads just the header section of the file at path
// (teacher's MaildirOp.fetch_headers reads the whole file via mmap;
// here we stop at the header/body boundary, since populate_headers
// never needs the body) and builds an Envelope. info is the filename's
// ":2,<flags>" suffix, already split off by the caller.
func populateEnvelope(path, key, infoFlags string, folder model.FolderHash, recent bool) (*model.Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	// Headers rarely exceed a few KB; ParseHeaders tolerates a buffer
	// with no blank line by treating the whole thing as headers, so a
	// truncated peek is safe even for header-only reads.
	const headerPeek = 64 * 1024
	buf := make([]byte, headerPeek)
	n, _ := f.Read(buf)
	buf = buf[:n]

	headers, _, err := mime.ParseHeaders(buf)
	if err != nil {
		return nil, err
	}

	e := &model.Envelope{
		Subject:    headers.Get("Subject"),
		MessageID:  strings.Trim(headers.Get("Message-Id"), "<>"),
		InReplyTo:  strings.Trim(headers.Get("In-Reply-To"), "<>"),
		References: parseReferences(headers.Get("References")),
		From:       parseAddressList(headers.Get("From")),
		To:         parseAddressList(headers.Get("To")),
		Cc:         parseAddressList(headers.Get("Cc")),
		Bcc:        parseAddressList(headers.Get("Bcc")),
		Flags:      decodeFlags(infoFlags),
	}
	if d, err := mail.ParseDate(headers.Get("Date")); err == nil {
		e.Date = d.UTC()
	}
	if recent {
		e.Flags |= model.FlagRecent
	}
	// Always hash by delivery key plus size, never by Message-ID: the
	// watcher (watch.go's hashForKey/hashFromKeyAndSize) only ever sees
	// filenames, never header content, so the loader must derive the
	// same hash from the same filename-derived inputs or a Message-ID-
	// bearing message's Create/Remove/Rename events can never find its
	// cached envelope.
	e.Hash = hashFromKeyAndSize(key, fi.Size())
	e.OperationToken = encodeToken(folder, path)
	return e, nil
}

func parseReferences(raw string) []string {
	if raw == "" {
		return nil
	}
	fields := strings.Fields(raw)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.Trim(f, "<>"))
	}
	return out
}

func parseAddressList(raw string) []model.Address {
	if raw == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(raw)
	if err != nil {
		return nil
	}
	out := make([]model.Address, len(addrs))
	for i, a := range addrs {
		out[i] = model.Address{Name: a.Name, Email: a.Address}
	}
	return out
}

// hashFromKeyAndSize derives the one EnvelopeHash scheme Maildir
// messages use, hashing the delivery key (the filename stripped of its
// ":2,<flags>" suffix — stable across flag-edit renames) plus file
// size. Required unconditionally, never only as a Message-ID fallback:
// it's the only pair of inputs a directory watcher can also derive
// from a bare filename, so it's what keeps populateEnvelope's loader
// hash and watch.go's event hash in agreement.
func hashFromKeyAndSize(key string, size int64) model.EnvelopeHash {
	base := filepath.Base(key)
	return model.HashMessageID("maildir:"+base, size)
}
