package doctree

// Arena is a flat view of a node forest with parent links stored as
// indices, for lookups by node id and ancestor walks.
type Arena struct {
	entries []arenaEntry
	byID    map[string]int
}

type arenaEntry struct {
	node   *Node
	parent int
}

// NewArena indexes a node forest. Nodes without an id are reachable by
// traversal but not by Lookup.
func NewArena(structure []*Node) *Arena {
	a := &Arena{byID: make(map[string]int)}
	var add func(ns []*Node, parent int)
	add = func(ns []*Node, parent int) {
		for _, n := range ns {
			idx := len(a.entries)
			a.entries = append(a.entries, arenaEntry{node: n, parent: parent})
			if n.NodeID != "" {
				if _, dup := a.byID[n.NodeID]; !dup {
					a.byID[n.NodeID] = idx
				}
			}
			add(n.Nodes, idx)
		}
	}
	add(structure, -1)
	return a
}

// Len returns the number of nodes in the arena.
func (a *Arena) Len() int { return len(a.entries) }

// Lookup returns the node with the given id.
func (a *Arena) Lookup(id string) (*Node, bool) {
	idx, ok := a.byID[id]
	if !ok {
		return nil, false
	}
	return a.entries[idx].node, true
}

// Path returns the titles from the root down to the node with the given id.
func (a *Arena) Path(id string) []string {
	idx, ok := a.byID[id]
	if !ok {
		return nil
	}
	var rev []string
	for i := idx; i >= 0; i = a.entries[i].parent {
		rev = append(rev, a.entries[i].node.Title)
	}
	path := make([]string, len(rev))
	for i, t := range rev {
		path[len(rev)-1-i] = t
	}
	return path
}
