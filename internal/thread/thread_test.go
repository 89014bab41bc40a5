package thread

import (
	"testing"
	"time"

	"github.com/mayhemheroes/meli/internal/model"
)

func env(hash model.EnvelopeHash, msgID, subject string, date time.Time, refs []string, inReplyTo string) *model.Envelope {
	return &model.Envelope{
		Hash:       hash,
		MessageID:  msgID,
		Subject:    subject,
		Date:       date,
		References: refs,
		InReplyTo:  inReplyTo,
	}
}

// TestReferencesThreading is scenario S1: A <- B <- C via a growing
// References chain must thread as a single straight-line conversation,
// with ThreadsGroupIter yielding depth 0, 1, 2 and no false siblings.
func TestReferencesThreading(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := env(1, "a", "hello", base, nil, "")
	b := env(2, "b", "Re: hello", base.Add(time.Hour), []string{"a"}, "a")
	c := env(3, "c", "Re: hello", base.Add(2*time.Hour), []string{"a", "b"}, "b")

	th := Build([]*model.Envelope{a, b, c})
	roots := th.Roots()
	if len(roots) != 1 {
		t.Fatalf("expected 1 root, got %d", len(roots))
	}

	entries := th.ThreadsGroupIter(roots)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	wantDepth := []int{0, 1, 2}
	wantHash := []model.EnvelopeHash{1, 2, 3}
	for i, e := range entries {
		if e.Indentation != wantDepth[i] {
			t.Errorf("entry %d indentation = %d, want %d", i, e.Indentation, wantDepth[i])
		}
		if e.HasSibling {
			t.Errorf("entry %d unexpectedly has a sibling", i)
		}
		hash, ok := th.ThreadToMail(e.Node)
		if !ok || hash != wantHash[i] {
			t.Errorf("entry %d envelope = (%v, %v), want %v", i, hash, ok, wantHash[i])
		}
	}
}

// TestSubjectUnion is scenario S2: two unrelated roots sharing a base
// subject (after Re:/Fwd: stripping) must merge into a single group,
// with the earlier-dated root becoming the parent of the later one.
func TestSubjectUnion(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older := env(1, "x", "status update", base, nil, "")
	newer := env(2, "y", "Re: status update", base.Add(24*time.Hour), nil, "")

	th := Build([]*model.Envelope{newer, older})
	roots := th.Roots()
	if len(roots) != 1 {
		t.Fatalf("expected subject union to merge into 1 root, got %d", len(roots))
	}

	root := roots[0]
	hash, ok := th.ThreadToMail(root)
	if !ok || hash != 1 {
		t.Fatalf("expected the older message (hash 1) to be the surviving root, got %v ok=%v", hash, ok)
	}
	node := th.Node(root)
	if len(node.Children) != 1 {
		t.Fatalf("expected the newer root folded in as a single child, got %d children", len(node.Children))
	}
	childHash, ok := th.ThreadToMail(node.Children[0])
	if !ok || childHash != 2 {
		t.Errorf("expected the newer message (hash 2) as child, got %v ok=%v", childHash, ok)
	}
}

// TestUnrelatedSubjectsStaySeparate guards against over-merging: two
// roots with unrelated subjects must not be unioned.
func TestUnrelatedSubjectsStaySeparate(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := env(1, "a", "alpha", base, nil, "")
	b := env(2, "b", "beta", base.Add(time.Hour), nil, "")

	th := Build([]*model.Envelope{a, b})
	if len(th.Roots()) != 2 {
		t.Fatalf("expected 2 separate roots, got %d", len(th.Roots()))
	}
}

// TestPhantomCollapsesToSingleChild: a message referencing a parent
// that was never fetched produces a phantom node which, once it has
// only one real child, disappears from the tree (pass 4).
func TestPhantomCollapsesToSingleChild(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// "missing" is never inserted as its own envelope; only referenced.
	child := env(1, "child", "topic", base, []string{"missing"}, "missing")

	th := Build([]*model.Envelope{child})
	roots := th.Roots()
	if len(roots) != 1 {
		t.Fatalf("expected 1 root after phantom collapse, got %d", len(roots))
	}
	hash, ok := th.ThreadToMail(roots[0])
	if !ok || hash != 1 {
		t.Fatalf("expected the phantom's sole child to become the root, got %v ok=%v", hash, ok)
	}
}

// TestPhantomWithMultipleChildrenSurvives: a phantom root fanning out
// to two real children is kept rather than collapsed, since pass 4
// only elides phantoms with zero or one child.
func TestPhantomWithMultipleChildrenSurvives(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := env(1, "a", "fan-out", base, []string{"missing"}, "missing")
	b := env(2, "b", "fan-out", base.Add(time.Hour), []string{"missing"}, "missing")

	th := Build([]*model.Envelope{a, b})
	roots := th.Roots()
	if len(roots) != 1 {
		t.Fatalf("expected 1 phantom root, got %d", len(roots))
	}
	node := th.Node(roots[0])
	if node.HasMessage() {
		t.Fatal("expected the surviving root to remain a phantom")
	}
	if len(node.Children) != 2 {
		t.Fatalf("expected phantom to keep both children, got %d", len(node.Children))
	}
}

// TestNoCycles verifies that a message which lists itself in its own
// References (a malformed but real-world occurrence) never produces a
// self-referential parent pointer.
func TestNoCycles(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := env(1, "a", "loopy", base, []string{"a"}, "a")

	th := Build([]*model.Envelope{a})
	node, ok := th.NodeForEnvelope(1)
	if !ok {
		t.Fatal("expected node for envelope 1")
	}
	if th.Node(node).Parent == node {
		t.Fatal("node became its own parent")
	}
	if th.isDescendant(node, node) && th.Node(node).Parent != NoNode {
		t.Fatal("self-reference introduced a cycle")
	}
}

// TestThreadingClosure checks that every inserted envelope is
// reachable from some root — spec.md §8's closure property.
func TestThreadingClosure(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := env(1, "a", "s1", base, nil, "")
	b := env(2, "b", "Re: s1", base.Add(time.Hour), []string{"a"}, "a")
	c := env(3, "c", "s2", base.Add(2*time.Hour), nil, "")

	th := Build([]*model.Envelope{a, b, c})
	reachable := map[model.EnvelopeHash]bool{}
	var collect func(n NodeID)
	collect = func(n NodeID) {
		if hash, ok := th.ThreadToMail(n); ok {
			reachable[hash] = true
		}
		for _, c := range th.Node(n).Children {
			collect(c)
		}
	}
	for _, r := range th.Roots() {
		collect(r)
	}
	for _, hash := range []model.EnvelopeHash{1, 2, 3} {
		if !reachable[hash] {
			t.Errorf("envelope %d not reachable from any root", hash)
		}
	}
}

func TestGroupInnerSortByDate(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := env(1, "a", "alpha", base, nil, "")
	b := env(2, "b", "beta", base.Add(time.Hour), nil, "")

	th := Build([]*model.Envelope{a, b})
	envelopes := map[model.EnvelopeHash]*model.Envelope{1: a, 2: b}

	sorted := th.GroupInnerSortBy(th.Roots(), SortKey{Field: SortDate, Order: Desc}, envelopes)
	if len(sorted) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(sorted))
	}
	first, _ := th.ThreadToMail(sorted[0])
	if first != 2 {
		t.Errorf("descending date sort should put the newer root first, got hash %d", first)
	}
}

func TestInsertAfterBuild(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := env(1, "a", "s1", base, nil, "")
	th := Build([]*model.Envelope{a})

	b := env(2, "b", "Re: s1", base.Add(time.Hour), []string{"a"}, "a")
	th.Insert(b)

	roots := th.Roots()
	if len(roots) != 1 {
		t.Fatalf("expected 1 root after insert, got %d", len(roots))
	}
	node := th.Node(roots[0])
	if len(node.Children) != 1 {
		t.Fatalf("expected inserted reply to attach as a child, got %d children", len(node.Children))
	}
}

func TestRemoveLeafDeletesNode(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := env(1, "a", "s1", base, nil, "")
	b := env(2, "b", "Re: s1", base.Add(time.Hour), []string{"a"}, "a")
	th := Build([]*model.Envelope{a, b})

	th.Remove(2)
	roots := th.Roots()
	if len(roots) != 1 {
		t.Fatalf("expected 1 root after removing the leaf reply, got %d", len(roots))
	}
	if len(th.Node(roots[0]).Children) != 0 {
		t.Fatalf("expected the leaf to be fully gone, got %d children", len(th.Node(roots[0]).Children))
	}
}

func TestRemoveInteriorNodeKeepsDescendants(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := env(1, "a", "s1", base, nil, "")
	b := env(2, "b", "Re: s1", base.Add(time.Hour), []string{"a"}, "a")
	c := env(3, "c", "Re: s1", base.Add(2*time.Hour), []string{"a", "b"}, "b")
	th := Build([]*model.Envelope{a, b, c})

	th.Remove(2) // b has a child (c); it should become a phantom, not vanish.
	roots := th.Roots()
	if len(roots) != 1 {
		t.Fatalf("expected 1 root, got %d", len(roots))
	}
	entries := th.ThreadsGroupIter(roots)
	var found bool
	for _, e := range entries {
		if hash, ok := th.ThreadToMail(e.Node); ok && hash == 3 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected c to remain reachable after removing its phantom-demoted parent")
	}
}
