// Package host is the thin façade gluing the MIME parser, backend
// abstraction, threading engine, and sieve engine (C1-C6) behind the
// operations spec.md §6 says the excluded TUI/orchestration layer
// calls: list_folders, load_folder, subscribe_refresh, fetch_message,
// fetch_headers, set_flags, build_threads, parse_sieve, evaluate.
// Grounded on the teacher's cmd/mailserver/main.go, which wires
// storage, sieve, and delivery together the same way for the SMTP
// path; here the wiring serves a read-oriented mail client instead.
package host

import (
	"context"
	"sync"
	"time"

	"github.com/mayhemheroes/meli/internal/backend"
	"github.com/mayhemheroes/meli/internal/logging"
	"github.com/mayhemheroes/meli/internal/merrors"
	"github.com/mayhemheroes/meli/internal/metrics"
	"github.com/mayhemheroes/meli/internal/model"
	"github.com/mayhemheroes/meli/internal/sieve"
	"github.com/mayhemheroes/meli/internal/thread"
)

// Host is one account's façade: a single Backend (Maildir or IMAP)
// plus the envelope cache and sieve executor layered on top of it.
// cmd/meli holds one Host per configured account.
type Host struct {
	accountID int64
	backend   backend.Backend
	executor  *sieve.Executor
	log       *logging.Logger

	mu       sync.RWMutex
	loaded   map[model.FolderHash]map[model.EnvelopeHash]*model.Envelope
	opTokens map[model.EnvelopeHash]string
}

// New wires a Host around an already-connected backend and an
// optional sieve executor (nil disables filtering — fetched messages
// are never auto-filed).
func New(accountID int64, b backend.Backend, executor *sieve.Executor, log *logging.Logger) *Host {
	return &Host{
		accountID: accountID,
		backend:   b,
		executor:  executor,
		log:       log,
		loaded:    make(map[model.FolderHash]map[model.EnvelopeHash]*model.Envelope),
		opTokens:  make(map[model.EnvelopeHash]string),
	}
}

// ListFolders returns the account's current folder tree (spec.md §6
// list_folders).
func (h *Host) ListFolders(ctx context.Context) (*model.Tree, error) {
	return h.backend.Folders(ctx)
}

// LoadFolder streams a folder's envelopes (spec.md §6
// load_folder(hash) -> stream<Envelope>), caching them for later
// FetchMessage/FetchHeaders/SetFlags calls keyed by envelope hash.
// The envelope channel is closed once every envelope has been sent; a
// load failure is sent on the error channel instead, and both channels
// are closed when loading ends.
func (h *Host) LoadFolder(ctx context.Context, folder model.FolderHash) (<-chan *model.Envelope, <-chan error) {
	out := make(chan *model.Envelope)
	errc := make(chan error, 1)
	backendName := h.backend.Kind().String()

	go func() {
		defer close(out)
		defer close(errc)

		start := time.Now()

		handle, err := h.backend.Load(ctx, folder)
		if err != nil {
			h.recordLoadError(backendName, err)
			errc <- err
			return
		}

		for range handle.Progress {
			// Progress is informational only at this layer; a richer
			// host would republish it through subscribe_refresh.
		}

		result := <-handle.Envelopes
		if result.Err != nil {
			h.recordLoadError(backendName, result.Err)
			errc <- result.Err
			return
		}
		metrics.RecordFolderLoad(backendName, time.Since(start).Seconds(), len(result.Envelopes))
		if h.log != nil {
			h.log.Host().InfoContext(ctx, "folder loaded", "backend", backendName, "envelopes", len(result.Envelopes))
		}

		h.mu.Lock()
		cache := h.loaded[folder]
		if cache == nil {
			cache = make(map[model.EnvelopeHash]*model.Envelope, len(result.Envelopes))
			h.loaded[folder] = cache
		}
		for _, e := range result.Envelopes {
			cache[e.Hash] = e
			h.opTokens[e.Hash] = e.OperationToken
		}
		h.mu.Unlock()

		for _, e := range result.Envelopes {
			select {
			case out <- e:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return out, errc
}

// SubscribeRefresh registers sink for change-event notifications
// (spec.md §6 subscribe_refresh(sink)).
func (h *Host) SubscribeRefresh(ctx context.Context, sink backend.Sink) error {
	return h.backend.Watch(ctx, sink)
}

// FetchMessage returns an envelope's complete raw bytes (spec.md §6
// fetch_message(envelope) -> bytes).
func (h *Host) FetchMessage(ctx context.Context, hash model.EnvelopeHash) ([]byte, error) {
	op, err := h.operationFor(ctx, hash)
	if err != nil {
		return nil, err
	}
	defer op.Close()
	return op.FullBody(ctx)
}

// FetchHeaders returns just an envelope's header section (spec.md §6
// fetch_headers(envelope) -> bytes).
func (h *Host) FetchHeaders(ctx context.Context, hash model.EnvelopeHash) ([]byte, error) {
	op, err := h.operationFor(ctx, hash)
	if err != nil {
		return nil, err
	}
	defer op.Close()
	return op.Headers(ctx)
}

// SetFlags mutates an envelope's flags (spec.md §6
// set_flags(envelope, flags, toggle)).
func (h *Host) SetFlags(ctx context.Context, hash model.EnvelopeHash, flags model.Flag, toggle bool) error {
	op, err := h.operationFor(ctx, hash)
	if err != nil {
		return err
	}
	defer op.Close()
	return h.backend.SetFlags(ctx, op, flags, toggle)
}

// recordLoadError classifies err by merrors.Kind for the load-error
// counter, falling back to "unknown" for errors that never crossed the
// shared taxonomy.
func (h *Host) recordLoadError(backendName string, err error) {
	kind := "unknown"
	if merr, ok := merrors.As(err); ok {
		kind = merr.Kind.String()
	}
	metrics.RecordFolderLoadError(backendName, kind)
}

func (h *Host) operationFor(ctx context.Context, hash model.EnvelopeHash) (backend.BodyOp, error) {
	h.mu.RLock()
	token, ok := h.opTokens[hash]
	h.mu.RUnlock()
	if !ok {
		return nil, merrors.NotFound("envelope")
	}
	return h.backend.Operation(ctx, token)
}

// BuildThreads threads every currently loaded envelope in folder
// (spec.md §6 build_threads(&mut collection) -> Threads).
func (h *Host) BuildThreads(folder model.FolderHash) *thread.Threads {
	h.mu.RLock()
	cache := h.loaded[folder]
	envelopes := make([]*model.Envelope, 0, len(cache))
	for _, e := range cache {
		envelopes = append(envelopes, e)
	}
	h.mu.RUnlock()

	start := time.Now()
	threads := thread.Build(envelopes)
	metrics.RecordThreadBuild(time.Since(start).Seconds())
	return threads
}

// Envelopes returns a snapshot of folder's currently cached envelopes,
// keyed by hash, for callers rendering a built Threads tree (spec.md
// §6 pairs build_threads with direct collection access for display).
func (h *Host) Envelopes(folder model.FolderHash) map[model.EnvelopeHash]*model.Envelope {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cache := h.loaded[folder]
	out := make(map[model.EnvelopeHash]*model.Envelope, len(cache))
	for k, v := range cache {
		out[k] = v
	}
	return out
}

// ParseSieve compiles Sieve source (spec.md §6 parse_sieve(text) ->
// Script).
func ParseSieve(text string) (sieve.RuleBlock, error) {
	block, err := sieve.Parse(text)
	if err != nil {
		metrics.SieveParseErrors.Inc()
	}
	return block, err
}

// EvaluateSieve runs script against msg for this Host's account
// (spec.md §6 evaluate(script, envelope) -> Disposition).
func (h *Host) EvaluateSieve(ctx context.Context, script sieve.RuleBlock, msg *sieve.Message) *sieve.Disposition {
	disposition := sieve.Evaluate(ctx, script, msg, nil, h.accountID)
	metrics.RecordSieveEvaluation(dispositionLabel(disposition))
	return disposition
}

// Execute runs the account's active stored script (if any) against
// msg, the same entry point the teacher's smtp delivery path used.
func (h *Host) Execute(ctx context.Context, msg *sieve.Message) (*sieve.Disposition, error) {
	if h.executor == nil {
		return &sieve.Disposition{Keep: true}, nil
	}
	disposition, err := h.executor.Execute(ctx, h.accountID, msg)
	if err != nil {
		return disposition, err
	}
	metrics.RecordSieveEvaluation(dispositionLabel(disposition))
	return disposition, nil
}

// dispositionLabel reduces a Disposition to the single metric label
// that best names its dominant action, checked in the same priority
// Execute's callers would act on it (discard/reject win over a
// fileinto, which wins over a plain keep).
func dispositionLabel(d *sieve.Disposition) string {
	switch {
	case d == nil:
		return "keep"
	case d.Discard:
		return "discard"
	case d.Reject != "":
		return "reject"
	case d.Vacation != nil:
		return "vacation"
	case d.FileInto != "":
		return "fileinto"
	default:
		return "keep"
	}
}

// Close releases the underlying backend's resources.
func (h *Host) Close() error {
	return h.backend.Close()
}
