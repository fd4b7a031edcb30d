package gating

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/flowgate/internal/frame"
	"github.com/agentic-research/flowgate/internal/transform"
)

func mustMatrix(t *testing.T, channels []string, columns [][]float64) *frame.Matrix {
	t.Helper()
	m, err := frame.New(channels, columns)
	require.NoError(t, err)
	return m
}

func TestEvaluate_SquareRootGate(t *testing.T) {
	// 4-vertex square over linear channels; events (5,5), (15,15), (0,0).
	// (0,0) sits exactly on a vertex and is included by policy.
	tree, err := Build([]NodeSpec{
		{Name: "Cells", Gate: squareGate("FSC-A", "SSC-A", 0, 10)},
	})
	require.NoError(t, err)

	m := mustMatrix(t,
		[]string{"FSC-A", "SSC-A"},
		[][]float64{{5, 15, 0}, {5, 15, 0}},
	)

	results, err := NewEngine(tree, transform.Set{}).Evaluate(m)
	require.NoError(t, err)
	require.Len(t, results, 2) // root + Cells

	root := results[0]
	assert.Equal(t, uint64(3), root.Count)

	cells := results[1]
	assert.Equal(t, "Cells", cells.Name)
	assert.Equal(t, uint64(2), cells.Count)
	assert.True(t, cells.Mask.Contains(0))
	assert.False(t, cells.Mask.Contains(1))
	assert.True(t, cells.Mask.Contains(2))
}

func TestEvaluate_TwoLevelHierarchy(t *testing.T) {
	// 1000 synthetic events; the root gate selects 100, the child 40 of
	// those. Counts must report 1000 → 100 → 40 and the child mask must be
	// a subset of its parent's.
	rng := rand.New(rand.NewSource(7))

	xs := make([]float64, 1000)
	ys := make([]float64, 1000)
	for i := range xs {
		switch {
		case i < 40:
			// inside both gates
			xs[i] = 1 + rng.Float64()*3 // [1,4)
			ys[i] = 1 + rng.Float64()*3
		case i < 100:
			// inside the parent gate only
			xs[i] = 6 + rng.Float64()*3 // [6,9)
			ys[i] = 6 + rng.Float64()*3
		default:
			xs[i] = 20 + rng.Float64()*10
			ys[i] = 20 + rng.Float64()*10
		}
	}

	tree, err := Build([]NodeSpec{
		{Name: "Cells", Gate: squareGate("FSC-A", "SSC-A", 0, 10)},
		{Name: "Bright", Parent: "Cells", Gate: squareGate("FSC-A", "SSC-A", 0, 5)},
	})
	require.NoError(t, err)

	m := mustMatrix(t, []string{"FSC-A", "SSC-A"}, [][]float64{xs, ys})

	results, err := NewEngine(tree, transform.Set{}).Evaluate(m)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, uint64(1000), results[0].Count)
	assert.Equal(t, uint64(100), results[1].Count)
	assert.Equal(t, uint64(40), results[2].Count)
	assert.Equal(t, uint64(100), results[2].ParentCount)

	// Hierarchical containment: child ⊆ parent.
	assert.Equal(t, uint64(40), roaringAnd(results[2], results[1]))
}

func roaringAnd(child, parent Result) uint64 {
	m := child.Mask.Clone()
	m.And(parent.Mask)
	return m.GetCardinality()
}

func TestEvaluate_Containment_DeepTree(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	n := 500
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := range xs {
		xs[i] = rng.Float64() * 20
		ys[i] = rng.Float64() * 20
	}

	tree, err := Build([]NodeSpec{
		{Name: "L1", Gate: squareGate("x", "y", 0, 15)},
		{Name: "L2", Parent: "L1", Gate: squareGate("x", "y", 0, 10)},
		{Name: "L3", Parent: "L2", Gate: squareGate("x", "y", 3, 8)},
	})
	require.NoError(t, err)

	m := mustMatrix(t, []string{"x", "y"}, [][]float64{xs, ys})
	results, err := NewEngine(tree, transform.Set{}).Evaluate(m)
	require.NoError(t, err)

	for i := 1; i < len(results); i++ {
		child := results[i]
		parent := results[i-1]
		assert.Equal(t, child.Count, roaringAnd(child, parent),
			"membership(%s) must be a subset of membership(%s)", child.Path, parent.Path)
		assert.LessOrEqual(t, child.Count, parent.Count)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	tree, err := Build([]NodeSpec{
		{Name: "Cells", Gate: squareGate("x", "y", 0, 10)},
		{Name: "Sub", Parent: "Cells", Gate: squareGate("x", "y", 2, 8)},
	})
	require.NoError(t, err)

	m := mustMatrix(t, []string{"x", "y"}, [][]float64{{1, 3, 5, 11}, {1, 3, 5, 11}})
	eng := NewEngine(tree, transform.Set{})

	a, err := eng.Evaluate(m)
	require.NoError(t, err)
	b, err := eng.Evaluate(m)
	require.NoError(t, err)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Count, b[i].Count)
		assert.True(t, a[i].Mask.Equals(b[i].Mask))
	}
}

func TestEvaluate_MissingChannelIsFatal(t *testing.T) {
	tree, err := Build([]NodeSpec{
		{Name: "Cells", Gate: squareGate("FSC-A", "SSC-A", 0, 10)},
	})
	require.NoError(t, err)

	m := mustMatrix(t, []string{"FSC-A"}, [][]float64{{1, 2, 3}})

	_, err = NewEngine(tree, transform.Set{}).Evaluate(m)
	require.Error(t, err)
	assert.ErrorIs(t, err, transform.ErrChannelNotFound)
}

func TestEvaluate_LogicleGate(t *testing.T) {
	// Gate vertices live in transformed space; raw fluorescence values must
	// be mapped through the logicle before the polygon test.
	lg, err := transform.NewLogicle(10000, 0.5, 4.5, 0)
	require.NoError(t, err)

	set := transform.Set{"FITC-A": lg}

	// A band in display space around data zero: includes small and negative
	// raw values, excludes bright ones.
	lo := lg.ToDisplay(-100)
	hi := lg.ToDisplay(100)
	tree, err := Build([]NodeSpec{
		{Name: "Dim", Gate: Gate{
			Kind:     GatePolygon,
			XChannel: "FITC-A",
			YChannel: "FSC-A",
			Vertices: []Vertex{{lo, 0}, {hi, 0}, {hi, 100}, {lo, 100}},
		}},
	})
	require.NoError(t, err)

	m := mustMatrix(t,
		[]string{"FITC-A", "FSC-A"},
		[][]float64{{-50, 0, 50, 5000}, {50, 50, 50, 50}},
	)

	results, err := NewEngine(tree, set).Evaluate(m)
	require.NoError(t, err)

	dim := results[1]
	assert.Equal(t, uint64(3), dim.Count)
	assert.False(t, dim.Mask.Contains(3), "bright event must fall outside the band")
}

func TestEvaluate_ThresholdGate(t *testing.T) {
	tree, err := Build([]NodeSpec{
		{Name: "High", Gate: Gate{Kind: GateThreshold, XChannel: "x", Min: 5, Max: 100}},
	})
	require.NoError(t, err)

	m := mustMatrix(t, []string{"x"}, [][]float64{{1, 5, 50, 200}})
	results, err := NewEngine(tree, transform.Set{}).Evaluate(m)
	require.NoError(t, err)

	// Bounds inclusive on both ends.
	assert.Equal(t, uint64(2), results[1].Count)
	assert.True(t, results[1].Mask.Contains(1))
}

func TestEvaluate_MarkerRules(t *testing.T) {
	// Bimodal CD3 distribution with a sparse valley; the auto-threshold
	// lands at the left edge of the first sparse bin (see thresholds_test),
	// so the positive rule keeps exactly the events above 100.
	cd3 := bimodalValues()
	fsc := make([]float64, len(cd3))
	for i := range fsc {
		fsc[i] = 50
	}

	tree, err := Build([]NodeSpec{
		{Name: "T cells", Positive: []string{"CD3-A"}},
		{Name: "non-T", Negative: []string{"CD3-A"}},
	})
	require.NoError(t, err)

	m := mustMatrix(t, []string{"CD3-A", "FSC-A"}, [][]float64{cd3, fsc})
	results, err := NewEngine(tree, transform.Set{}).Evaluate(m)
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, uint64(461), results[1].Count)
	assert.Equal(t, uint64(len(cd3)-461), results[2].Count)
}
