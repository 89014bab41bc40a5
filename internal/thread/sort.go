package thread

import (
	"sort"

	"github.com/mayhemheroes/meli/internal/model"
)

// SortField selects which value orders a thread: its date of earliest
// descendant, or its base subject.
type SortField int

const (
	SortDate SortField = iota
	SortSubject
)

// SortOrder selects ascending or descending comparison.
type SortOrder int

const (
	Asc SortOrder = iota
	Desc
)

// SortKey is the single configurable sort parameter threaded through
// GroupInnerSortBy, applied at group level with the given order and
// at sibling level always ascending (spec.md §4.5 pass 6).
type SortKey struct {
	Field SortField
	Order SortOrder
}

// GroupInnerSortBy orders roots (conversations) by key, and recursively
// orders every node's children by the same field, always ascending at
// the sibling level regardless of key.Order. envelopes refreshes each
// node's cached date/subject before sorting, so a caller's live edits
// (a corrected subject, a backdated message) are reflected without a
// full Build.
func (t *Threads) GroupInnerSortBy(roots []NodeID, key SortKey, envelopes map[model.EnvelopeHash]*model.Envelope) []NodeID {
	t.refreshFromEnvelopes(envelopes)
	for _, r := range roots {
		t.computeDate(r)
	}

	sorted := append([]NodeID(nil), roots...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if key.Order == Desc {
			return t.ascLess(sorted[j], sorted[i], key.Field)
		}
		return t.ascLess(sorted[i], sorted[j], key.Field)
	})
	for _, r := range sorted {
		t.sortChildren(r, key.Field)
	}
	t.roots = sorted
	return sorted
}

func (t *Threads) refreshFromEnvelopes(envelopes map[model.EnvelopeHash]*model.Envelope) {
	if envelopes == nil {
		return
	}
	for i := range t.nodes {
		if !t.nodes[i].hasEnvelope {
			continue
		}
		if e, ok := envelopes[t.nodes[i].envelope]; ok {
			t.nodes[i].date = e.Date
			t.nodes[i].subject = e.Subject
		}
	}
}

func (t *Threads) ascLess(a, b NodeID, field SortField) bool {
	if field == SortSubject {
		return t.subjectOf(a) < t.subjectOf(b)
	}
	return t.nodes[a].DateOfEarliestDescendant.Before(t.nodes[b].DateOfEarliestDescendant)
}

func (t *Threads) subjectOf(n NodeID) string {
	if t.nodes[n].hasEnvelope {
		return model.BaseSubject(t.nodes[n].subject)
	}
	if g, ok := t.groups[t.nodes[n].GroupID]; ok {
		return g.BaseSubject
	}
	return ""
}

func (t *Threads) sortChildren(n NodeID, field SortField) {
	children := t.nodes[n].Children
	sort.SliceStable(children, func(i, j int) bool {
		return t.ascLess(children[i], children[j], field)
	})
	t.nodes[n].Children = children
	for _, c := range children {
		t.sortChildren(c, field)
	}
}
