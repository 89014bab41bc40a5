// Package thread builds the forest of conversations described in
// spec.md §4.5: a pragmatic variant of the JWZ threading algorithm
// grounded on original_source/src/components/mail/listing/thread.rs
// (which drives a terminal listing from the same ThreadNode/ThreadGroup
// shapes, stripped here of every rendering concern) and
// original_source/melib/src/mailbox/mod.rs for the underlying field
// shapes. No example repo in the retrieval pack implements message
// threading — this is new code, stdlib only, since thread-grouping
// over arbitrary parent pointers is domain-specific enough that no
// generic graph library would fit better than a small hand-written
// arena plus union-find.
package thread

import (
	"time"

	"github.com/mayhemheroes/meli/internal/model"
)

// NodeID is an arena index into Threads.nodes.
type NodeID int

// NoNode is the sentinel for "no node" / "no parent".
const NoNode NodeID = -1

// GroupID is a disjoint-set element identifying a ThreadGroup.
type GroupID int

// ThreadNode is one message-shaped node in the forest (spec.md §3):
// either a real node backed by a parsed envelope, or a phantom
// standing in for a referenced-but-never-seen message.
type ThreadNode struct {
	hasEnvelope bool
	envelope    model.EnvelopeHash
	messageID   string
	date        time.Time
	subject     string

	GroupID  GroupID
	Parent   NodeID
	Children []NodeID

	DateOfEarliestDescendant time.Time
}

// HasMessage reports whether n is backed by a real envelope rather
// than standing in as a phantom.
func (n *ThreadNode) HasMessage() bool { return n.hasEnvelope }

// Envelope returns the node's backing envelope hash, ok=false for a
// phantom node.
func (n *ThreadNode) Envelope() (model.EnvelopeHash, bool) {
	return n.envelope, n.hasEnvelope
}

// ThreadGroup is a conversation: the root node of a (possibly
// subject-merged) tree, plus the base subject used to union further
// roots onto it.
type ThreadGroup struct {
	Root        NodeID
	BaseSubject string
}

// Threads is a built forest plus the indices needed to insert,
// remove, and resort without discarding already-computed structure.
type Threads struct {
	nodes []ThreadNode

	idIndex  map[string]NodeID
	envIndex map[model.EnvelopeHash]NodeID

	uf     *unionFind
	groups map[GroupID]*ThreadGroup

	roots []NodeID
}

// Len returns the number of nodes (real and phantom) in the arena.
func (t *Threads) Len() int { return len(t.nodes) }

// Node returns a pointer to n's ThreadNode; callers must not retain it
// across a call to Insert/Remove, which may reallocate the arena.
func (t *Threads) Node(n NodeID) *ThreadNode { return &t.nodes[n] }

// Roots returns the current set of thread-group roots, in the order
// they were last derived (insertion order unless GroupInnerSortBy has
// been called).
func (t *Threads) Roots() []NodeID {
	return append([]NodeID(nil), t.roots...)
}

// Group returns the ThreadGroup owning node n's thread.
func (t *Threads) Group(n NodeID) (*ThreadGroup, bool) {
	g, ok := t.groups[t.nodes[n].GroupID]
	return g, ok
}

// FindGroup returns the disjoint-set representative group id for n,
// satisfying spec.md §4.5 invariant (b): group_id of a node equals
// the find-root of its stored group.
func (t *Threads) FindGroup(n NodeID) GroupID {
	return t.uf.find(t.nodes[n].GroupID)
}

// ThreadToMail returns the envelope hash backing node n, ok=false if n
// is a phantom.
func (t *Threads) ThreadToMail(n NodeID) (model.EnvelopeHash, bool) {
	return t.nodes[n].Envelope()
}

// NodeForEnvelope returns the node backing hash, if one exists.
func (t *Threads) NodeForEnvelope(hash model.EnvelopeHash) (NodeID, bool) {
	n, ok := t.envIndex[hash]
	return n, ok
}
