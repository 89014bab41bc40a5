package maildir

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/mayhemheroes/meli/internal/backend"
	"github.com/mayhemheroes/meli/internal/merrors"
	"github.com/mayhemheroes/meli/internal/model"
)

// progressBatch matches spec.md §4.3's "report progress every 100
// messages" and original_source's multicore() chunking by 100s.
const progressBatch = 100

// Store is a backend.Backend over a tree of Maildir folders rooted at
// a single directory (spec.md §4.3), generalizing the teacher's
// per-mailbox internal/storage/maildir.Store to a whole account tree
// discovered from disk rather than tracked in a SQL mailboxes table.
type Store struct {
	root string
	tree *model.Tree

	watcher *watcher
}

var _ backend.Backend = (*Store)(nil)

// NewStore discovers every valid Maildir folder under root and
// returns a Store ready to list and load them.
func NewStore(root string) (*Store, error) {
	folders, err := discoverFolders(root)
	if err != nil {
		return nil, merrors.IO(err)
	}
	return &Store{root: root, tree: model.NewTree(folders)}, nil
}

func (s *Store) Kind() backend.Kind { return backend.KindMaildir }

// Folders returns the cached tree built at NewStore time. A caller
// that needs to pick up newly-created folders should construct a new
// Store; spec.md scopes dynamic folder creation out (folders are a
// config-time concern for Maildir, unlike IMAP's LIST).
func (s *Store) Folders(ctx context.Context) (*model.Tree, error) {
	return s.tree, nil
}

// Load scans a folder's cur/ and new/ directories and parses every
// message's headers, splitting the file list across runtime.NumCPU()
// workers (original_source's multicore(4, ...), generalized from a
// fixed 4 to the host's core count) and reporting progress every 100
// messages per worker chunk.
func (s *Store) Load(ctx context.Context, folder model.FolderHash) (*backend.LoadHandle, error) {
	f, ok := s.tree.Get(folder)
	if !ok {
		return nil, merrors.NotFound("maildir folder")
	}

	type fileEntry struct {
		path   string
		key    string
		info   string
		recent bool
	}
	var files []fileEntry
	for _, sub := range [2]string{"cur", "new"} {
		dirPath := filepath.Join(f.FullPath, sub)
		entries, err := os.ReadDir(dirPath)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			key, info, _ := splitInfo(e.Name())
			files = append(files, fileEntry{
				path:   filepath.Join(dirPath, e.Name()),
				key:    key,
				info:   info,
				recent: sub == "new",
			})
		}
	}

	progressCh := make(chan backend.Progress, 8)
	resultCh := make(chan backend.LoadResult, 1)

	go func() {
		defer close(progressCh)
		defer close(resultCh)

		workers := runtime.NumCPU()
		if workers < 1 {
			workers = 1
		}
		if workers > len(files) && len(files) > 0 {
			workers = len(files)
		}

		var envelopes []*model.Envelope
		var mu sync.Mutex
		var loaded int64

		g, gctx := errgroup.WithContext(ctx)
		chunks := splitChunks(files, workers)
		for _, chunk := range chunks {
			chunk := chunk
			g.Go(func() error {
				local := make([]*model.Envelope, 0, len(chunk))
				for i, fe := range chunk {
					select {
					case <-gctx.Done():
						return gctx.Err()
					default:
					}
					e, err := populateEnvelope(fe.path, fe.key, fe.info, folder, fe.recent)
					if err != nil {
						continue // spec.md §4.1 downgrade: skip unreadable messages
					}
					local = append(local, e)
					if (i+1)%progressBatch == 0 {
						n := atomic.AddInt64(&loaded, int64(progressBatch))
						progressCh <- backend.Progress{Loaded: int(n)}
					}
				}
				mu.Lock()
				envelopes = append(envelopes, local...)
				mu.Unlock()
				return nil
			})
		}

		err := g.Wait()
		progressCh <- backend.Progress{Loaded: len(envelopes), Done: true}
		resultCh <- backend.LoadResult{Envelopes: envelopes, Err: err}
	}()

	return &backend.LoadHandle{Progress: progressCh, Envelopes: resultCh}, nil
}

func splitChunks[T any](items []T, n int) [][]T {
	if n <= 0 || len(items) == 0 {
		return [][]T{items}
	}
	chunkSize := (len(items) + n - 1) / n
	var chunks [][]T
	for i := 0; i < len(items); i += chunkSize {
		end := i + chunkSize
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}

// Watch arms an fsnotify watcher over every folder's cur/ and new/
// directories, debounced by one second (original_source uses the same
// interval via the notify crate's `watcher(tx, Duration::from_secs(1))`).
func (s *Store) Watch(ctx context.Context, sink backend.Sink) error {
	w, err := newWatcher(s.tree, sink)
	if err != nil {
		return merrors.IO(err)
	}
	s.watcher = w
	go w.run(ctx)
	return nil
}

// Operation reopens the file identified by token.
func (s *Store) Operation(ctx context.Context, token string) (backend.BodyOp, error) {
	_, path, err := decodeToken(token)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, merrors.NotFound(path)
	}
	return &op{path: path}, nil
}

// SetFlags mutates op's message flags in place, which renames the
// underlying file (flags live in the filename). Store.SetFlags itself
// emits no event; the watcher observes the rename independently and
// reports it as an EventRename with Hash == OldHash, since the
// envelope hash scheme (delivery key plus size, excluding the flag
// suffix) doesn't change — spec.md §9 Open Question 1 still requires
// the Rename so holders of a path-based operation token know to
// reopen it. See watch.go's hashForKey and reconcile.
func (s *Store) SetFlags(ctx context.Context, bodyOp backend.BodyOp, flags model.Flag, toggle bool) error {
	return bodyOp.SetFlags(ctx, flags, toggle)
}

func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.close()
	}
	return nil
}

// sortedFolders returns every discovered folder ordered by hash, for
// callers that want a deterministic listing (e.g. `meli mailbox list`).
func (s *Store) sortedFolders() []*model.Folder {
	all := s.tree.All()
	sort.Slice(all, func(i, j int) bool { return all[i].Hash < all[j].Hash })
	return all
}
