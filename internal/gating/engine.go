package gating

import (
	"fmt"
	"log"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/flowgate/internal/frame"
	"github.com/agentic-research/flowgate/internal/transform"
)

// Result is the evaluated membership of one node: a bitmap over event row
// indices plus the resulting counts. Produced fresh per run and never
// mutated afterward.
type Result struct {
	Node        int
	Name        string
	Path        string
	Mask        *roaring.Bitmap
	Count       uint64
	ParentCount uint64
}

// Engine walks a gate tree against an event matrix. Evaluation is a pure
// function of (tree, transforms, matrix): no state survives between runs,
// so one Engine may serve concurrent runs over different matrices.
type Engine struct {
	tree       *Tree
	transforms transform.Set
}

func NewEngine(tree *Tree, transforms transform.Set) *Engine {
	return &Engine{tree: tree, transforms: transforms}
}

// Evaluate produces one Result per node in depth-first pre-order, the root
// first. Each child's candidate set is its parent's membership, so a child
// can never include an event an ancestor excluded. A gate or marker rule
// naming a channel absent from the matrix fails the whole run.
func (e *Engine) Evaluate(m *frame.Matrix) ([]Result, error) {
	// Fail fast on missing channels before any work happens.
	for _, ch := range e.tree.Channels() {
		if !m.HasChannel(ch) {
			return nil, fmt.Errorf("gate tree references %w in event data: %q", transform.ErrChannelNotFound, ch)
		}
	}

	thresholds, err := ComputeThresholds(m, e.markerChannels())
	if err != nil {
		return nil, err
	}

	// Transformed columns are shared across nodes gating on the same channel.
	display := make(map[string][]float64)
	displayColumn := func(ch string) ([]float64, error) {
		if col, ok := display[ch]; ok {
			return col, nil
		}
		raw, err := m.Column(ch)
		if err != nil {
			return nil, err
		}
		tr := e.transforms.For(ch)
		col := make([]float64, len(raw))
		for i, v := range raw {
			col[i] = tr.ToDisplay(v)
		}
		display[ch] = col
		return col, nil
	}

	masks := make([]*roaring.Bitmap, e.tree.Len())
	root := roaring.New()
	root.AddRange(0, uint64(m.Len()))
	masks[Root] = root

	var results []Result
	var walkErr error
	e.tree.Walk(func(n Node) {
		if walkErr != nil {
			return
		}
		if n.ID == Root {
			results = append(results, Result{
				Node:  Root,
				Path:  "/",
				Mask:  root,
				Count: root.GetCardinality(),
			})
			return
		}

		parent := masks[n.Parent]
		mask, err := e.evaluateNode(m, n, parent, displayColumn, thresholds)
		if err != nil {
			walkErr = err
			return
		}
		masks[n.ID] = mask
		results = append(results, Result{
			Node:        n.ID,
			Name:        n.Name,
			Path:        e.tree.Path(n.ID),
			Mask:        mask,
			Count:       mask.GetCardinality(),
			ParentCount: parent.GetCardinality(),
		})
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return results, nil
}

// evaluateNode narrows the parent's membership by the node's geometric gate
// and then by its marker rules.
func (e *Engine) evaluateNode(m *frame.Matrix, n Node, parent *roaring.Bitmap, displayColumn func(string) ([]float64, error), thresholds map[string]float64) (*roaring.Bitmap, error) {
	mask := parent.Clone()

	switch n.Gate.Kind {
	case GateNone:
		// passthrough
	case GatePolygon, GateRectangle:
		xs, err := displayColumn(n.Gate.XChannel)
		if err != nil {
			return nil, err
		}
		ys, err := displayColumn(n.Gate.YChannel)
		if err != nil {
			return nil, err
		}
		keep := roaring.New()
		it := mask.Iterator()
		for it.HasNext() {
			i := it.Next()
			var in bool
			if n.Gate.Kind == GatePolygon {
				in = pointInPolygon(xs[i], ys[i], n.Gate.Vertices)
			} else {
				in = inRectangle(xs[i], ys[i], n.Gate.Vertices)
			}
			if in {
				keep.Add(i)
			}
		}
		mask = keep
	case GateThreshold:
		xs, err := displayColumn(n.Gate.XChannel)
		if err != nil {
			return nil, err
		}
		keep := roaring.New()
		it := mask.Iterator()
		for it.HasNext() {
			i := it.Next()
			if xs[i] >= n.Gate.Min && xs[i] <= n.Gate.Max {
				keep.Add(i)
			}
		}
		mask = keep
	}

	// Marker rules compare raw values against the auto-thresholds. Rules
	// whose marker has no threshold are skipped with a report, never
	// silently.
	applyRule := func(marker string, positive bool) error {
		th, ok := thresholds[marker]
		if !ok {
			log.Printf("gating: marker %q has no auto-threshold; rule skipped on %q", marker, n.Name)
			return nil
		}
		raw, err := m.Column(marker)
		if err != nil {
			return err
		}
		keep := roaring.New()
		it := mask.Iterator()
		for it.HasNext() {
			i := it.Next()
			if positive == (raw[i] > th) {
				keep.Add(i)
			}
		}
		mask = keep
		return nil
	}
	for _, marker := range n.Positive {
		if err := applyRule(marker, true); err != nil {
			return nil, err
		}
	}
	for _, marker := range n.Negative {
		if err := applyRule(marker, false); err != nil {
			return nil, err
		}
	}

	return mask, nil
}

func (e *Engine) markerChannels() []string {
	set := make(map[string]struct{})
	e.tree.Walk(func(n Node) {
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
	return out
}
