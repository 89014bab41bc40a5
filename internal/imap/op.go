package imap

import (
	"context"
	"fmt"

	"github.com/mayhemheroes/meli/internal/backend"
	"github.com/mayhemheroes/meli/internal/merrors"
	"github.com/mayhemheroes/meli/internal/model"
)

// imapOp is the per-message backend.BodyOp for an IMAP-backed
// message, identified by (folder, UID) rather than a filesystem path.
type imapOp struct {
	client *Client
	folder model.FolderHash
	uid    int64
}

var _ backend.BodyOp = (*imapOp)(nil)

func (o *imapOp) fetch(ctx context.Context, section string) ([]byte, error) {
	var body []byte
	err := o.client.withConn(ctx, func(conn *Conn) error {
		lines, err := conn.command(ctx, fmt.Sprintf("UID FETCH %d (%s)", o.uid, section))
		if err != nil {
			return err
		}
		for _, line := range lines {
			resp := parseResponseLine(line)
			if b, ok := extractLiteralBody(resp.text); ok {
				body = b
				return nil
			}
		}
		return merrors.NotFound(fmt.Sprintf("imap message uid %d", o.uid))
	})
	return body, err
}

// FullBody fetches BODY[] (spec.md §9 Open Question 2 applies only to
// the Body/Headers split below; FullBody always returns the complete
// message regardless of backend).
func (o *imapOp) FullBody(ctx context.Context) ([]byte, error) {
	return o.fetch(ctx, "BODY.PEEK[]")
}

// Headers fetches BODY[HEADER].
func (o *imapOp) Headers(ctx context.Context) ([]byte, error) {
	return o.fetch(ctx, "BODY.PEEK[HEADER]")
}

// Body fetches BODY[TEXT] — bytes after the header terminator, same
// contract as the Maildir backend's Body (spec.md §9 Open Question 2).
func (o *imapOp) Body(ctx context.Context) ([]byte, error) {
	return o.fetch(ctx, "BODY.PEEK[TEXT]")
}

// SetFlags issues UID STORE FLAGS with an absolute flag list, matching
// backend.BodyOp's shared contract: toggle flips the given bits
// relative to the message's current flags (same XOR semantics as
// internal/maildir/op.go's SetFlags), !toggle replaces the flag set
// outright. IMAP's own +FLAGS/-FLAGS STORE verbs only add or remove,
// so a toggle first reads the current flags via UID FETCH.
func (o *imapOp) SetFlags(ctx context.Context, flags model.Flag, toggle bool) error {
	return o.client.withConn(ctx, func(conn *Conn) error {
		next := flags
		if toggle {
			lines, err := conn.command(ctx, fmt.Sprintf("UID FETCH %d (FLAGS)", o.uid))
			if err != nil {
				return err
			}
			var cur model.Flag
			for _, line := range lines {
				resp := parseResponseLine(line)
				if parseFetchUID(resp.text) == o.uid {
					cur = parseFetchFlags(resp.text)
					break
				}
			}
			next = cur ^ flags
		}
		cmd := fmt.Sprintf("UID STORE %d FLAGS %s", o.uid, encodeFlagsIMAP(next))
		_, err := conn.command(ctx, cmd)
		return err
	})
}

func (o *imapOp) Close() error { return nil }
