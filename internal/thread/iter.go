package thread

// Entry is one yielded step of ThreadsGroupIter: a node at a given
// indentation depth, flagged with whether it has a later sibling (so
// a renderer knows whether to draw a continuing branch or a corner).
type Entry struct {
	Indentation int
	Node        NodeID
	HasSibling  bool
}

// ThreadsGroupIter walks roots depth-first, yielding one Entry per
// node in the order a threaded listing would display them.
func (t *Threads) ThreadsGroupIter(roots []NodeID) []Entry {
	var out []Entry
	for i, r := range roots {
		t.walk(r, 0, i < len(roots)-1, &out)
	}
	return out
}

func (t *Threads) walk(n NodeID, indent int, hasSibling bool, out *[]Entry) {
	*out = append(*out, Entry{Indentation: indent, Node: n, HasSibling: hasSibling})
	children := t.nodes[n].Children
	for i, c := range children {
		t.walk(c, indent+1, i < len(children)-1, out)
	}
}
