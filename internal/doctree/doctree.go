package doctree

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Tree is a document's persisted table-of-contents tree.
type Tree struct {
	DocID          string  `json:"doc_id"`
	DocName        string  `json:"doc_name"`
	DocDescription string  `json:"doc_description"`
	Structure      []*Node `json:"structure"`
}

// Node is a titled span of a document. StartIndex and EndIndex are
// inclusive 1-based page numbers (PDF) or line numbers (Markdown).
type Node struct {
	Title      string  `json:"title"`
	NodeID     string  `json:"node_id,omitempty"`
	StartIndex int     `json:"start_index"`
	EndIndex   int     `json:"end_index"`
	Summary    string  `json:"summary,omitempty"`
	Text       string  `json:"text,omitempty"`
	Nodes      []*Node `json:"nodes,omitempty"`
}

// FormatID renders a pre-order position as a node id.
func FormatID(n int) string {
	return fmt.Sprintf("%04d", n)
}

// AssignIDs numbers nodes in pre-order starting at 1 and returns the count.
func AssignIDs(nodes []*Node) int {
	counter := 0
	Walk(nodes, func(n *Node, _ int) bool {
		counter++
		n.NodeID = FormatID(counter)
		return true
	})
	return counter
}

// Walk visits nodes in pre-order. Returning false skips the node's children.
func Walk(nodes []*Node, fn func(n *Node, depth int) bool) {
	var walk func(ns []*Node, depth int)
	walk = func(ns []*Node, depth int) {
		for _, n := range ns {
			if fn(n, depth) {
				walk(n.Nodes, depth+1)
			}
		}
	}
	walk(nodes, 0)
}

// Count returns the total number of nodes.
func Count(nodes []*Node) int {
	total := 0
	Walk(nodes, func(*Node, int) bool {
		total++
		return true
	})
	return total
}

// Clone deep-copies a node forest.
func Clone(nodes []*Node) []*Node {
	if nodes == nil {
		return nil
	}
	out := make([]*Node, len(nodes))
	for i, n := range nodes {
		c := *n
		c.Nodes = Clone(n.Nodes)
		out[i] = &c
	}
	return out
}

// Simplify returns a copy without node text, for use in prompts.
func Simplify(nodes []*Node) []*Node {
	out := Clone(nodes)
	Walk(out, func(n *Node, _ int) bool {
		n.Text = ""
		return true
	})
	return out
}

// Outline returns a copy keeping only titles, ids, spans and summaries of
// the first maxDepth levels (0 means all levels).
func Outline(nodes []*Node, maxDepth int) []*Node {
	out := Simplify(nodes)
	if maxDepth <= 0 {
		return out
	}
	Walk(out, func(n *Node, depth int) bool {
		if depth+1 >= maxDepth {
			n.Nodes = nil
			return false
		}
		return true
	})
	return out
}

// Validate checks the structural invariants of a built tree: spans are
// well formed, children lie within their parent, siblings do not overlap
// out of order, and node ids (when present) are unique and increasing in
// pre-order.
func Validate(nodes []*Node) error {
	var lastID string
	seen := make(map[string]bool)
	var check func(ns []*Node, parent *Node) error
	check = func(ns []*Node, parent *Node) error {
		for i, n := range ns {
			if n.StartIndex > n.EndIndex {
				return fmt.Errorf("node %q: start %d after end %d", n.Title, n.StartIndex, n.EndIndex)
			}
			if parent != nil && (n.StartIndex < parent.StartIndex || n.EndIndex > parent.EndIndex) {
				return fmt.Errorf("node %q [%d,%d] outside parent %q [%d,%d]",
					n.Title, n.StartIndex, n.EndIndex, parent.Title, parent.StartIndex, parent.EndIndex)
			}
			if i > 0 && ns[i-1].EndIndex > n.StartIndex {
				return fmt.Errorf("sibling %q ends at %d after %q starts at %d",
					ns[i-1].Title, ns[i-1].EndIndex, n.Title, n.StartIndex)
			}
			if n.NodeID != "" {
				if seen[n.NodeID] {
					return fmt.Errorf("duplicate node id %s", n.NodeID)
				}
				if lastID != "" && !idLess(lastID, n.NodeID) {
					return fmt.Errorf("node id %s not after %s in pre-order", n.NodeID, lastID)
				}
				seen[n.NodeID] = true
				lastID = n.NodeID
			}
			if err := check(n.Nodes, n); err != nil {
				return err
			}
		}
		return nil
	}
	return check(nodes, nil)
}

// idLess orders zero-padded ids, which may grow past four digits.
func idLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// Marshal encodes a tree as indented JSON without HTML escaping.
func Marshal(t *Tree) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a tree file. A document without a structure field is
// rejected.
func Unmarshal(data []byte) (*Tree, error) {
	var head struct {
		Structure json.RawMessage `json:"structure"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	if len(head.Structure) == 0 {
		return nil, errors.New("missing structure field")
	}
	var t Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
