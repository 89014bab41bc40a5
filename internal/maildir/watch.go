package maildir

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mayhemheroes/meli/internal/backend"
	"github.com/mayhemheroes/meli/internal/model"
)

// debounceInterval matches original_source's notify::watcher(tx,
// Duration::from_secs(1)): Maildir delivery is typically a
// tmp-write-then-rename burst, and without coalescing a single
// delivery can fire several raw filesystem events.
const debounceInterval = time.Second

// watcher arms an fsnotify.Watcher over every folder's cur/ and new/
// directories and translates raw filesystem events into backend.Events
// on sink, debounced per path.
type watcher struct {
	fsw  *fsnotify.Watcher
	tree *model.Tree
	sink backend.Sink

	// seen tracks each watched directory's prior listing so a Write or
	// Create/Remove burst can be resolved to specific file identities
	// instead of just "something changed in this folder".
	seen map[string]map[string]direntState // dir -> key -> state
}

// direntState is one Maildir file's info suffix and size at the time
// of the last snapshot, kept so a Remove event (whose file is already
// gone by the time it's processed) can still report the hash that
// matches what populateEnvelope originally produced for it.
type direntState struct {
	info string
	size int64
}

func newWatcher(tree *model.Tree, sink backend.Sink) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{fsw: fsw, tree: tree, sink: sink, seen: make(map[string]map[string]direntState)}
	for _, f := range tree.All() {
		for _, sub := range [2]string{"cur", "new"} {
			dir := filepath.Join(f.FullPath, sub)
			if err := fsw.Add(dir); err != nil {
				continue // folder may have vanished since discovery; skip
			}
			w.seen[dir] = snapshotDir(dir)
		}
	}
	return w, nil
}

func snapshotDir(dir string) map[string]direntState {
	out := make(map[string]direntState)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key, info, _ := splitInfo(e.Name())
		var size int64
		if fi, err := e.Info(); err == nil {
			size = fi.Size()
		}
		out[key] = direntState{info: info, size: size}
	}
	return out
}

// hashForKey resolves the EnvelopeHash a watcher event should carry
// for a bare delivery key, consistent with populateEnvelope's
// key+size scheme. Flag edits don't change this hash (key excludes the
// flag suffix), so a flag change surfaces as an EventRename whose Hash
// equals its OldHash: the identity is stable while the path changes.
func hashForKey(key string, st direntState) model.EnvelopeHash {
	return hashFromKeyAndSize(key, st.size)
}

// run drains fsw, debouncing bursts per directory before diffing and
// notifying sink. It returns when ctx is cancelled or the watcher's
// event channel closes.
func (w *watcher) run(ctx context.Context) {
	pending := make(map[string]*time.Timer)
	fire := make(chan string, 16)

	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			dir := filepath.Dir(ev.Name)
			if t, exists := pending[dir]; exists {
				t.Reset(debounceInterval)
				continue
			}
			pending[dir] = time.AfterFunc(debounceInterval, func() {
				select {
				case fire <- dir:
				case <-ctx.Done():
				}
			})
		case dir := <-fire:
			delete(pending, dir)
			w.reconcile(dir)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			_ = err // surfaced via logging in the owning Store, not here
		}
	}
}

// reconcile diffs dir's current listing against the last snapshot and
// emits Create/Remove/Rename events for the difference, then updates
// the snapshot. A flag edit renames the underlying file (flags live in
// the filename) but does not change the envelope hash (the hash scheme
// is filename-without-flags plus size, spec.md §9 Open Question 1);
// that question also requires such an edit still surface as a Rename
// so callers holding a stale path-based operation token reopen it —
// Rename.Hash equals Rename.OldHash here since identity is unchanged,
// only the on-disk path.
func (w *watcher) reconcile(dir string) {
	folderPath := filepath.Dir(dir) // strip the cur/new component
	folderHash := model.HashFolderName(folderPath)

	before := w.seen[dir]
	after := snapshotDir(dir)
	w.seen[dir] = after

	for key, st := range after {
		prev, existed := before[key]
		if !existed {
			w.sink.Notify(backend.Event{
				Kind:   backend.EventCreate,
				Folder: folderHash,
				Hash:   hashForKey(key, st),
			})
			continue
		}
		if decodeFlags(prev.info) != decodeFlags(st.info) {
			h := hashForKey(key, st)
			w.sink.Notify(backend.Event{
				Kind:    backend.EventRename,
				Folder:  folderHash,
				Hash:    h,
				OldHash: h,
				Flags:   decodeFlags(st.info),
			})
		}
	}
	for key, prev := range before {
		if _, still := after[key]; !still {
			w.sink.Notify(backend.Event{
				Kind:   backend.EventRemove,
				Folder: folderHash,
				Hash:   hashForKey(key, prev),
			})
		}
	}
}

func (w *watcher) close() error {
	return w.fsw.Close()
}
