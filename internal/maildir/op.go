package maildir

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mayhemheroes/meli/internal/backend"
	"github.com/mayhemheroes/meli/internal/merrors"
	"github.com/mayhemheroes/meli/internal/model"
)

// encodeToken packs a folder hash and absolute file path into the
// opaque string stashed in Envelope.OperationToken (spec.md §4.2);
// Maildir's token is just enough to reopen the exact file later.
func encodeToken(folder model.FolderHash, path string) string {
	return fmt.Sprintf("%d\x00%s", folder, path)
}

func decodeToken(token string) (model.FolderHash, string, error) {
	idx := strings.IndexByte(token, 0)
	if idx < 0 {
		return 0, "", merrors.Invalid("malformed maildir operation token")
	}
	var folder uint64
	if _, err := fmt.Sscanf(token[:idx], "%d", &folder); err != nil {
		return 0, "", merrors.Invalid("malformed maildir operation token")
	}
	return model.FolderHash(folder), token[idx+1:], nil
}

// op is the per-message handle returned by Store.Operation. Unlike
// the teacher's MaildirOp (which mmaps lazily and caches the slice),
// op reads on demand: Maildir messages are read rarely enough, and
// small enough, that a cached mmap buys little over a plain read
// while holding a file descriptor open for the op's lifetime.
type op struct {
	path string
}

var _ backend.BodyOp = (*op)(nil)

func (o *op) FullBody(ctx context.Context) ([]byte, error) {
	f, err := os.Open(o.path)
	if err != nil {
		return nil, merrors.IO(err)
	}
	defer f.Close()
	b, err := backend.ReadAllTimeout(ctx, f)
	if err != nil {
		return nil, merrors.IO(err)
	}
	return b, nil
}

func (o *op) Headers(ctx context.Context) ([]byte, error) {
	raw, err := o.FullBody(ctx)
	if err != nil {
		return nil, err
	}
	if i := headerBoundary(raw); i >= 0 {
		return raw[:i], nil
	}
	return raw, nil
}

func (o *op) Body(ctx context.Context) ([]byte, error) {
	raw, err := o.FullBody(ctx)
	if err != nil {
		return nil, err
	}
	if i := headerBoundary(raw); i >= 0 {
		return raw[i:], nil
	}
	return nil, nil
}

// headerBoundary returns the offset of the first byte after the blank
// line terminating the header section, or -1 if none is found.
func headerBoundary(raw []byte) int {
	for _, sep := range [][]byte{[]byte("\r\n\r\n"), []byte("\n\n")} {
		if i := bytes.Index(raw, sep); i >= 0 {
			return i + len(sep)
		}
	}
	return -1
}

// SetFlags renames the file to carry a new flag suffix, then updates
// o.path to the new name so subsequent calls on this op see the
// rename. Toggle semantics: each bit set in flags is flipped from its
// current state, matching the teacher's UpdateFlags `add` boolean
// generalized to a full bitset (and original_source's `flags.toggle`).
func (o *op) SetFlags(ctx context.Context, flags model.Flag, toggle bool) error {
	dir, base := filepath.Split(o.path)
	key, letters, _ := splitInfo(base)
	cur := decodeFlags(letters)
	var next model.Flag
	if toggle {
		next = cur ^ flags
	} else {
		next = flags
	}
	newBase := key + ":2," + encodeFlags(next)
	newPath := filepath.Join(dir, newBase)
	if newPath == o.path {
		return nil
	}
	if err := os.Rename(o.path, newPath); err != nil {
		return merrors.IO(err)
	}
	o.path = newPath
	return nil
}

func (o *op) Close() error { return nil }
