package thread

import (
	"fmt"
	"time"

	"github.com/mayhemheroes/meli/internal/model"
)

// Build runs the full six-pass algorithm over envelopes (spec.md
// §4.5): id-table construction from References/In-Reply-To, root
// collection, empty-container pruning, subject union, and date
// propagation. The result's Roots() are in insertion order; call
// GroupInnerSortBy to order them.
func Build(envelopes []*model.Envelope) *Threads {
	t := &Threads{
		idIndex:  make(map[string]NodeID),
		envIndex: make(map[model.EnvelopeHash]NodeID),
		uf:       newUnionFind(),
		groups:   make(map[GroupID]*ThreadGroup),
	}
	for _, e := range envelopes {
		t.insertEnvelope(e)
	}
	t.rederive()
	return t
}

// Insert adds or replaces envelope e in the forest, then re-derives
// roots, subject groups, and dates. Insert/Remove are implemented as
// a targeted node mutation followed by a full re-derivation of passes
// 3-6 (collect roots / prune / subject-union / assign groups): this
// keeps every invariant (closure, no-cycles, group-id-equals-find-root)
// trivially easy to verify, at the cost of true algorithmic
// incrementality. Acceptable since spec.md's performance budget
// targets whole-corpus build and sort, not per-message insert
// latency.
func (t *Threads) Insert(e *model.Envelope) {
	t.insertEnvelope(e)
	t.rederive()
}

// Remove drops hash's envelope from the forest: a leaf node is
// deleted outright, one with children is demoted to a phantom so its
// descendants keep their place in the tree (spec.md §4.5 invariant
// (c)).
func (t *Threads) Remove(hash model.EnvelopeHash) {
	n, ok := t.envIndex[hash]
	if !ok {
		return
	}
	delete(t.envIndex, hash)
	t.nodes[n].hasEnvelope = false
	t.nodes[n].envelope = 0
	t.nodes[n].date = time.Time{}
	t.nodes[n].subject = ""
	if len(t.nodes[n].Children) == 0 {
		t.deleteNode(n)
	}
	t.rederive()
}

func (t *Threads) deleteNode(n NodeID) {
	if p := t.nodes[n].Parent; p != NoNode {
		t.nodes[p].Children = removeNode(t.nodes[p].Children, n)
	}
	delete(t.idIndex, t.nodes[n].messageID)
	t.nodes[n].Parent = NoNode
}

func removeNode(list []NodeID, n NodeID) []NodeID {
	out := list[:0]
	for _, x := range list {
		if x != n {
			out = append(out, x)
		}
	}
	return out
}

func syntheticKey(h model.EnvelopeHash) string {
	return fmt.Sprintf("\x00hash:%d", h)
}

func (t *Threads) nodeFor(key string) NodeID {
	if id, ok := t.idIndex[key]; ok {
		return id
	}
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, ThreadNode{messageID: key, Parent: NoNode})
	t.idIndex[key] = id
	return id
}

// insertEnvelope implements passes 1 and 2: References chain linking
// (oldest to newest, never overwriting an already-assigned parent),
// then In-Reply-To reparenting, which takes priority over the
// References-derived parent for this message's own node.
func (t *Threads) insertEnvelope(e *model.Envelope) {
	key := e.MessageID
	if key == "" {
		key = syntheticKey(e.Hash)
	}
	id := t.nodeFor(key)
	t.nodes[id].hasEnvelope = true
	t.nodes[id].envelope = e.Hash
	t.nodes[id].date = e.Date
	t.nodes[id].subject = e.Subject
	t.envIndex[e.Hash] = id

	prev := NoNode
	for _, ref := range e.References {
		if ref == "" {
			continue
		}
		cur := t.nodeFor(ref)
		if prev != NoNode && t.nodes[cur].Parent == NoNode {
			t.reparent(cur, prev)
		}
		prev = cur
	}
	if prev != NoNode && t.nodes[id].Parent == NoNode {
		t.reparent(id, prev)
	}

	if e.InReplyTo != "" {
		irt := t.nodeFor(e.InReplyTo)
		if irt != id && t.nodes[id].Parent != irt {
			t.reparent(id, irt)
		}
	}
}

// reparent moves child under newParent, refusing to do so if that
// would create a cycle (newParent already reachable as a descendant
// of child).
func (t *Threads) reparent(child, newParent NodeID) bool {
	if child == NoNode || newParent == NoNode || child == newParent {
		return false
	}
	if t.isDescendant(newParent, child) {
		return false
	}
	if old := t.nodes[child].Parent; old != NoNode {
		t.nodes[old].Children = removeNode(t.nodes[old].Children, child)
	}
	t.nodes[child].Parent = newParent
	t.nodes[newParent].Children = append(t.nodes[newParent].Children, child)
	return true
}

// isDescendant reports whether target is n itself or reachable
// through n's Children.
func (t *Threads) isDescendant(target, n NodeID) bool {
	if target == n {
		return true
	}
	for _, c := range t.nodes[n].Children {
		if t.isDescendant(target, c) {
			return true
		}
	}
	return false
}

func (t *Threads) topLevelRoots() []NodeID {
	var out []NodeID
	for i := range t.nodes {
		if t.nodes[i].Parent == NoNode {
			out = append(out, NodeID(i))
		}
	}
	return out
}

// pruneChildren implements the child-side half of pass 4: a childless
// phantom is dropped, a phantom with exactly one child is replaced by
// that child, a phantom with several children is kept as-is.
func (t *Threads) pruneChildren(n NodeID) {
	children := append([]NodeID(nil), t.nodes[n].Children...)
	var kept []NodeID
	for _, c := range children {
		t.pruneChildren(c)
		repl := t.collapsePhantom(c)
		if repl == NoNode {
			continue
		}
		if repl != c {
			t.nodes[repl].Parent = n
		}
		kept = append(kept, repl)
	}
	t.nodes[n].Children = kept
}

func (t *Threads) collapsePhantom(n NodeID) NodeID {
	if t.nodes[n].hasEnvelope {
		return n
	}
	switch len(t.nodes[n].Children) {
	case 0:
		return NoNode
	case 1:
		return t.nodes[n].Children[0]
	default:
		return n
	}
}

// collectRoots applies the root-level half of pass 4 to the snapshot
// of top-level nodes taken before any mutation in this derivation, so
// a newly promoted child is never reprocessed as if it were its own
// original top-level candidate.
func (t *Threads) collectRoots(candidates []NodeID) []NodeID {
	var out []NodeID
	for _, n := range candidates {
		repl := t.collapsePhantom(n)
		if repl == NoNode {
			continue
		}
		if repl != n {
			t.nodes[repl].Parent = NoNode
		}
		out = append(out, repl)
	}
	return out
}

func (t *Threads) finalRootsFrom(candidates []NodeID) []NodeID {
	var out []NodeID
	for _, n := range candidates {
		if t.nodes[n].Parent == NoNode {
			out = append(out, n)
		}
	}
	return out
}

// computeDate fills DateOfEarliestDescendant bottom-up: a node's own
// date if it carries a message, the minimum over its children
// otherwise, skipping zero (unknown) dates.
func (t *Threads) computeDate(n NodeID) time.Time {
	best := time.Time{}
	if t.nodes[n].hasEnvelope {
		best = t.nodes[n].date
	}
	for _, c := range t.nodes[n].Children {
		cd := t.computeDate(c)
		if !cd.IsZero() && (best.IsZero() || cd.Before(best)) {
			best = cd
		}
	}
	t.nodes[n].DateOfEarliestDescendant = best
	return best
}

func (t *Threads) subjectTextOf(n NodeID) string {
	if !t.nodes[n].hasEnvelope {
		return ""
	}
	return model.BaseSubject(t.nodes[n].subject)
}

// subjectUnion implements pass 5: roots sharing a non-empty base
// subject are merged into one group via union-find, and the older
// root (earlier DateOfEarliestDescendant) becomes the tree parent of
// the newer, folding the newer root's whole subtree under it.
func (t *Threads) subjectUnion(roots []NodeID) {
	bySubject := make(map[string]NodeID, len(roots))
	for _, r := range roots {
		subj := t.subjectTextOf(r)
		if subj == "" {
			continue
		}
		rep, ok := bySubject[subj]
		if !ok {
			bySubject[subj] = r
			continue
		}
		older, newer := rep, r
		if t.nodes[r].DateOfEarliestDescendant.Before(t.nodes[rep].DateOfEarliestDescendant) {
			older, newer = r, rep
		}
		t.uf.union(t.nodes[older].GroupID, t.nodes[newer].GroupID)
		t.reparent(newer, older)
		bySubject[subj] = older
	}
}

func (t *Threads) assignGroupID(n NodeID, gid GroupID) {
	t.nodes[n].GroupID = gid
	for _, c := range t.nodes[n].Children {
		t.assignGroupID(c, gid)
	}
}

// rederive re-runs passes 3 through 6 over the whole forest: prune,
// collect roots, propagate dates, subject-union, then stamp the
// surviving trees with normalized group ids.
func (t *Threads) rederive() {
	roots := t.topLevelRoots()
	for _, r := range roots {
		t.pruneChildren(r)
	}
	roots = t.collectRoots(roots)
	for _, r := range roots {
		t.nodes[r].GroupID = t.uf.newElement()
		t.computeDate(r)
	}
	t.subjectUnion(roots)
	final := t.finalRootsFrom(roots)

	t.groups = make(map[GroupID]*ThreadGroup, len(final))
	for _, r := range final {
		gid := t.uf.find(t.nodes[r].GroupID)
		t.groups[gid] = &ThreadGroup{Root: r, BaseSubject: t.subjectTextOf(r)}
		t.assignGroupID(r, gid)
	}
	t.roots = final
}
