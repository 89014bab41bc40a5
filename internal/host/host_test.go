package host

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mayhemheroes/meli/internal/logging"
	"github.com/mayhemheroes/meli/internal/maildir"
	"github.com/mayhemheroes/meli/internal/model"
	"github.com/mayhemheroes/meli/internal/sieve"
)

// makeMaildir builds a bare cur/new/tmp maildir directory tree, the
// same minimal fixture the maildir package's own tests use.
func makeMaildir(t *testing.T, root string) {
	t.Helper()
	for _, d := range []string{"cur", "new", "tmp"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
	}
}

func writeMessage(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

// setupHostEnv wires a real maildir.Store the way cmd/meli would,
// exercising the full backend->host path instead of a mock, following
// the teacher's tests/integration_test.go pattern of standing up real
// components against a temp directory rather than stubbing them.
func setupHostEnv(t *testing.T) *Host {
	t.Helper()
	root := t.TempDir()
	makeMaildir(t, root)

	inboxDir := filepath.Join(root, "cur")
	ts := time.Now().Unix()
	writeMessage(t, inboxDir, "1700000000.M1P1host:2,S",
		"From: alice@example.com\r\nSubject: hello there\r\nMessage-Id: <m1@example.com>\r\n\r\nbody\r\n")
	writeMessage(t, inboxDir, "1700000001.M2P1host:2,",
		"From: bob@example.com\r\nSubject: Re: hello there\r\nMessage-Id: <m2@example.com>\r\nIn-Reply-To: <m1@example.com>\r\n\r\nreply\r\n")
	_ = ts

	store, err := maildir.NewStore(root)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	return New(1, store, nil, logging.Default())
}

func TestListFoldersAndLoadFolder(t *testing.T) {
	h := setupHostEnv(t)
	defer h.Close()
	ctx := t.Context()

	tree, err := h.ListFolders(ctx)
	if err != nil {
		t.Fatalf("ListFolders: %v", err)
	}
	roots := tree.Roots()
	if len(roots) == 0 {
		t.Fatal("expected at least one root folder")
	}
	folder := roots[0]

	out, errc := h.LoadFolder(ctx, folder)
	var envelopes []*model.Envelope
	for e := range out {
		envelopes = append(envelopes, e)
	}
	if err := <-errc; err != nil {
		t.Fatalf("LoadFolder: %v", err)
	}
	if len(envelopes) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(envelopes))
	}
}

func TestFetchMessageAndHeaders(t *testing.T) {
	h := setupHostEnv(t)
	defer h.Close()
	ctx := t.Context()

	tree, _ := h.ListFolders(ctx)
	folder := tree.Roots()[0]
	out, errc := h.LoadFolder(ctx, folder)
	var envelopes []*model.Envelope
	for e := range out {
		envelopes = append(envelopes, e)
	}
	if err := <-errc; err != nil {
		t.Fatalf("LoadFolder: %v", err)
	}

	full, err := h.FetchMessage(ctx, envelopes[0].Hash)
	if err != nil {
		t.Fatalf("FetchMessage: %v", err)
	}
	if len(full) == 0 {
		t.Error("expected non-empty message bytes")
	}

	headers, err := h.FetchHeaders(ctx, envelopes[0].Hash)
	if err != nil {
		t.Fatalf("FetchHeaders: %v", err)
	}
	if len(headers) == 0 || len(headers) >= len(full) {
		t.Errorf("expected headers to be a strict prefix of the full message, got %d/%d bytes", len(headers), len(full))
	}
}

func TestSetFlagsAndBuildThreads(t *testing.T) {
	h := setupHostEnv(t)
	defer h.Close()
	ctx := t.Context()

	tree, _ := h.ListFolders(ctx)
	folder := tree.Roots()[0]
	out, errc := h.LoadFolder(ctx, folder)
	var envelopes []*model.Envelope
	for e := range out {
		envelopes = append(envelopes, e)
	}
	if err := <-errc; err != nil {
		t.Fatalf("LoadFolder: %v", err)
	}

	if err := h.SetFlags(ctx, envelopes[0].Hash, model.FlagSeen, true); err != nil {
		t.Fatalf("SetFlags: %v", err)
	}

	threads := h.BuildThreads(folder)
	if threads == nil {
		t.Fatal("expected a non-nil Threads result")
	}
}

func TestParseAndEvaluateSieve(t *testing.T) {
	h := setupHostEnv(t)
	defer h.Close()

	script, err := ParseSieve(`if header :contains "subject" "hello" { fileinto "Greetings"; }`)
	if err != nil {
		t.Fatalf("ParseSieve: %v", err)
	}

	msg := &sieve.Message{Size: 10}
	d := h.EvaluateSieve(t.Context(), script, msg)
	if d.FileInto != "" {
		t.Errorf("expected no match without headers parsed, got %+v", d)
	}
}

func TestExecuteWithoutExecutorKeepsMessage(t *testing.T) {
	h := setupHostEnv(t)
	defer h.Close()

	d, err := h.Execute(t.Context(), &sieve.Message{Size: 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !d.Keep {
		t.Errorf("expected Keep disposition with no executor configured, got %+v", d)
	}
}
