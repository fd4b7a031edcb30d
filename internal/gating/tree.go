// Package gating holds the gate hierarchy model and the evaluation engine.
//
// A gate tree is an arena of nodes indexed by integer id: parent and child
// links are indices, never embedded pointers, so the structure is trivially
// acyclic to serialize and cheap to walk. Node 0 is always the synthetic
// root whose population is "all events". The tree is immutable once built;
// all algorithmic work lives in the engine.
package gating

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidTree marks a structurally invalid gate hierarchy: unknown or
// cyclic parent references, duplicate population names, or degenerate gate
// geometry.
var ErrInvalidTree = errors.New("invalid gate tree")

// GateKind tags the gate variant a node carries. New shapes extend this
// enum without touching the tree walk.
type GateKind int

const (
	// GateNone is a passthrough node selecting its parent's full population
	// (marker rules may still narrow it).
	GateNone GateKind = iota
	GatePolygon
	GateRectangle
	GateThreshold
)

func (k GateKind) String() string {
	switch k {
	case GateNone:
		return "none"
	case GatePolygon:
		return "polygon"
	case GateRectangle:
		return "rectangle"
	case GateThreshold:
		return "threshold"
	default:
		return "unknown"
	}
}

// Vertex is a point in the gating channels' transformed coordinate space.
type Vertex struct {
	X, Y float64
}

// Gate is the tagged variant describing the geometric selection of a node.
// All coordinates are in transformed (display-scale) units; the engine maps
// event values through the channel transforms before testing.
type Gate struct {
	Kind GateKind

	// XChannel and YChannel name the gating channels. Threshold gates use
	// XChannel only.
	XChannel, YChannel string

	// Vertices of the polygon (≥3, implicitly closed), or the two opposite
	// corners of a rectangle.
	Vertices []Vertex

	// Threshold bounds, inclusive on both ends.
	Min, Max float64
}

func (g Gate) validate() error {
	switch g.Kind {
	case GateNone:
		return nil
	case GatePolygon:
		if len(g.Vertices) < 3 {
			return fmt.Errorf("%w: polygon has %d vertices, need at least 3", ErrInvalidTree, len(g.Vertices))
		}
		if g.XChannel == "" || g.YChannel == "" {
			return fmt.Errorf("%w: polygon gate missing channel reference", ErrInvalidTree)
		}
	case GateRectangle:
		if len(g.Vertices) != 2 {
			return fmt.Errorf("%w: rectangle has %d corners, need exactly 2", ErrInvalidTree, len(g.Vertices))
		}
		if g.XChannel == "" || g.YChannel == "" {
			return fmt.Errorf("%w: rectangle gate missing channel reference", ErrInvalidTree)
		}
	case GateThreshold:
		if g.XChannel == "" {
			return fmt.Errorf("%w: threshold gate missing channel reference", ErrInvalidTree)
		}
		if g.Min > g.Max {
			return fmt.Errorf("%w: threshold min %v above max %v", ErrInvalidTree, g.Min, g.Max)
		}
	default:
		return fmt.Errorf("%w: unknown gate kind %d", ErrInvalidTree, g.Kind)
	}
	return nil
}

// Channels returns the channel names the gate references.
func (g Gate) Channels() []string {
	switch g.Kind {
	case GatePolygon, GateRectangle:
		return []string{g.XChannel, g.YChannel}
	case GateThreshold:
		return []string{g.XChannel}
	default:
		return nil
	}
}

// Node is one population in the hierarchy.
type Node struct {
	ID     int
	Name   string
	Gate   Gate
	Parent int // -1 for the root

	// Positive and Negative list marker channels whose auto-threshold rules
	// further narrow the population after the geometric gate.
	Positive, Negative []string

	children []int
}

// NodeSpec is the declarative input to Build: one population with a
// name-based parent reference ("" means the root).
type NodeSpec struct {
	Name               string
	Parent             string
	Gate               Gate
	Positive, Negative []string
}

// Tree is the immutable gate hierarchy.
type Tree struct {
	nodes []Node
}

// Root is the id of the synthetic all-events root node.
const Root = 0

// Build assembles a tree from specs, resolving name-based parent links.
// Node ids and sibling order both follow spec order (downstream population
// naming and output file naming are positional, so siblings are never
// re-sorted), and a spec may name a parent that only appears later in the
// slice. Unknown or cyclic parent references fail with ErrInvalidTree.
func Build(specs []NodeSpec) (*Tree, error) {
	t := &Tree{nodes: []Node{{ID: Root, Parent: -1}}}

	seen := make(map[string]int, len(specs)+1)
	for i, s := range specs {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("Population%d", i+1)
		}
		if name == s.Parent {
			return nil, fmt.Errorf("%w: population %q is its own parent", ErrInvalidTree, name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate population name %q", ErrInvalidTree, name)
		}
		if err := s.Gate.validate(); err != nil {
			return nil, fmt.Errorf("population %q: %w", name, err)
		}

		id := i + 1
		seen[name] = id
		t.nodes = append(t.nodes, Node{
			ID:       id,
			Name:     name,
			Gate:     s.Gate,
			Parent:   -1,
			Positive: append([]string(nil), s.Positive...),
			Negative: append([]string(nil), s.Negative...),
		})
	}

	// Link parents once every id is known, so forward references resolve
	// without reordering. Appending children while walking specs in order
	// is what pins sibling order to spec order.
	for i, s := range specs {
		id := i + 1
		parentID := Root
		if s.Parent != "" {
			pid, ok := seen[s.Parent]
			if !ok {
				return nil, fmt.Errorf("%w: population %q references unknown parent %q", ErrInvalidTree, t.nodes[id].Name, s.Parent)
			}
			parentID = pid
		}
		t.nodes[id].Parent = parentID
		t.nodes[parentID].children = append(t.nodes[parentID].children, id)
	}

	// Every node must hang off the root; anything unreachable sits on a
	// parent cycle.
	reached := make([]bool, len(t.nodes))
	var visit func(id int)
	visit = func(id int) {
		reached[id] = true
		for _, c := range t.nodes[id].children {
			visit(c)
		}
	}
	visit(Root)
	for id, ok := range reached {
		if !ok {
			return nil, fmt.Errorf("%w: population %q sits on a parent cycle", ErrInvalidTree, t.nodes[id].Name)
		}
	}

	return t, nil
}

// Len returns the node count including the synthetic root.
func (t *Tree) Len() int { return len(t.nodes) }

// Node returns the node with the given id.
func (t *Tree) Node(id int) Node { return t.nodes[id] }

// Children returns the child ids of a node in deterministic sibling order.
func (t *Tree) Children(id int) []int {
	return append([]int(nil), t.nodes[id].children...)
}

// Path returns the slash-joined population path from the root, e.g.
// "Cells/Singlets/CD3+". The synthetic root contributes nothing.
func (t *Tree) Path(id int) string {
	if id == Root {
		return "/"
	}
	var parts []string
	for id != Root {
		parts = append(parts, t.nodes[id].Name)
		id = t.nodes[id].Parent
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// Walk visits every node depth-first in pre-order, parents before children,
// siblings in insertion order.
func (t *Tree) Walk(fn func(n Node)) {
	var visit func(id int)
	visit = func(id int) {
		fn(t.nodes[id])
		for _, c := range t.nodes[id].children {
			visit(c)
		}
	}
	visit(Root)
}

// Channels returns the sorted-unique set of channels referenced by all
// gates and marker rules in the tree.
func (t *Tree) Channels() []string {
	set := make(map[string]struct{})
	t.Walk(func(n Node) {
		for _, ch := range n.Gate.Channels() {
			set[ch] = struct{}{}
		}
		for _, ch := range n.Positive {
			set[ch] = struct{}{}
		}
		for _, ch := range n.Negative {
			set[ch] = struct{}{}
		}
	})
	out := make([]string, 0, len(set))
	for ch := range set {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}
