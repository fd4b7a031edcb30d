package gating

import (
	"math"
	"sort"

	"github.com/agentic-research/flowgate/internal/frame"
	"github.com/agentic-research/flowgate/internal/transform"
)

const thresholdBins = 200

// ComputeThresholds derives an automatic positive/negative cut per marker
// channel by valley finding: histogram the raw values into 200 bins and take
// the left edge of the first bin whose count falls below the 20th percentile
// of all bin counts. Falls back to the 95th percentile of the values when no
// bin qualifies. Scatter and time channels never get thresholds.
func ComputeThresholds(m *frame.Matrix, markers []string) (map[string]float64, error) {
	thresholds := make(map[string]float64, len(markers))
	for _, marker := range markers {
		if transform.InferRole(marker) != transform.FluorescenceLogicle {
			continue
		}
		col, err := m.Column(marker)
		if err != nil {
			return nil, err
		}
		if len(col) == 0 {
			continue
		}
		thresholds[marker] = valleyThreshold(col)
	}
	return thresholds, nil
}

func valleyThreshold(values []float64) float64 {
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	if min == max {
		return min
	}

	counts := make([]float64, thresholdBins)
	width := (max - min) / thresholdBins
	for _, v := range values {
		bin := int((v - min) / width)
		if bin >= thresholdBins {
			bin = thresholdBins - 1
		}
		counts[bin]++
	}

	cutoff := percentile(counts, 20)
	for i, c := range counts {
		if c < cutoff {
			return min + float64(i)*width
		}
	}
	return percentile(values, 95)
}

// percentile computes the p-th percentile with linear interpolation between
// order statistics, matching numpy's default behavior.
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
