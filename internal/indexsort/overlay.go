package indexsort

import (
	"fmt"
	"log"
	"math"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/flowgate/internal/frame"
	"github.com/agentic-research/flowgate/internal/transform"
)

// DefaultTolerance is the per-channel slack allowed when matching a well
// row to an event by value. Sort reports round channel values, so exact
// equality is too strict.
const DefaultTolerance = 0.5

// Point places one sorted well on a gating plot: the matched event's row
// in the event matrix and its transformed coordinates on the overlay
// channel pair.
type Point struct {
	Well  string
	Event int
	X, Y  float64
}

// Overlay is the result of matching an index report onto gated events.
type Overlay struct {
	Points []Point

	// Positional is set when the report shared no channels with the event
	// matrix and rows were paired with gated events by position instead of
	// by value. Positional overlays are best-effort and reported as such.
	Positional bool

	// Unmatched lists wells for which no gated event fell within
	// tolerance, in report order.
	Unmatched []string
}

// Match pairs each well row of the report with a gated event and returns
// overlay points on the x/y channel pair in transformed coordinates.
//
// Matching prefers, in order: the sorter's event id column when the report
// carries one, nearest-value matching on the channels shared between the
// report and the event matrix, and finally positional pairing when neither
// is possible.
func Match(tbl *Table, m *frame.Matrix, gated *roaring.Bitmap, xCh, yCh string, set transform.Set, tolerance float64) (*Overlay, error) {
	for _, ch := range []string{xCh, yCh} {
		if !m.HasChannel(ch) {
			return nil, fmt.Errorf("overlay %w in event data: %q", transform.ErrChannelNotFound, ch)
		}
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	switch {
	case tbl.Events != nil:
		return matchByEvent(tbl, m, gated, xCh, yCh, set)
	case len(sharedChannels(tbl, m)) > 0:
		return matchByValue(tbl, m, gated, xCh, yCh, set, tolerance)
	default:
		log.Printf("index report shares no channels with event data, falling back to positional matching")
		return matchByPosition(tbl, m, gated, xCh, yCh, set), nil
	}
}

func sharedChannels(tbl *Table, m *frame.Matrix) []string {
	var out []string
	for _, ch := range tbl.Channels() {
		if m.HasChannel(ch) {
			out = append(out, ch)
		}
	}
	return out
}

func matchByEvent(tbl *Table, m *frame.Matrix, gated *roaring.Bitmap, xCh, yCh string, set transform.Set) (*Overlay, error) {
	project := projector(m, xCh, yCh, set)
	o := &Overlay{}
	for i, well := range tbl.Wells {
		id := tbl.Events[i]
		if id < 0 || id >= m.Len() || !gated.ContainsInt(id) {
			o.Unmatched = append(o.Unmatched, well)
			continue
		}
		x, y := project(id)
		o.Points = append(o.Points, Point{Well: well, Event: id, X: x, Y: y})
	}
	reportUnmatched(o)
	return o, nil
}

func matchByValue(tbl *Table, m *frame.Matrix, gated *roaring.Bitmap, xCh, yCh string, set transform.Set, tolerance float64) (*Overlay, error) {
	shared := sharedChannels(tbl, m)

	eventCols := make([][]float64, len(shared))
	wellCols := make([][]float64, len(shared))
	for i, ch := range shared {
		var err error
		if eventCols[i], err = m.Column(ch); err != nil {
			return nil, err
		}
		if wellCols[i], err = tbl.Column(ch); err != nil {
			return nil, err
		}
	}

	candidates := gated.ToArray()
	project := projector(m, xCh, yCh, set)

	o := &Overlay{}
	for row, well := range tbl.Wells {
		best, bestDist := -1, math.Inf(1)
		for _, ev := range candidates {
			var dist, worst float64
			for ci := range shared {
				d := eventCols[ci][ev] - wellCols[ci][row]
				dist += d * d
				if ad := math.Abs(d); ad > worst {
					worst = ad
				}
			}
			if worst <= tolerance && dist < bestDist {
				best, bestDist = int(ev), dist
			}
		}
		if best < 0 {
			o.Unmatched = append(o.Unmatched, well)
			continue
		}
		x, y := project(best)
		o.Points = append(o.Points, Point{Well: well, Event: best, X: x, Y: y})
	}
	reportUnmatched(o)
	return o, nil
}

func matchByPosition(tbl *Table, m *frame.Matrix, gated *roaring.Bitmap, xCh, yCh string, set transform.Set) *Overlay {
	project := projector(m, xCh, yCh, set)
	events := gated.ToArray()

	o := &Overlay{Positional: true}
	for i, well := range tbl.Wells {
		if i >= len(events) {
			o.Unmatched = append(o.Unmatched, tbl.Wells[i:]...)
			break
		}
		ev := int(events[i])
		x, y := project(ev)
		o.Points = append(o.Points, Point{Well: well, Event: ev, X: x, Y: y})
	}
	reportUnmatched(o)
	return o
}

// projector returns a closure mapping an event row to its transformed
// coordinates on the overlay channel pair. Channel existence is checked by
// the caller, so Column cannot fail here.
func projector(m *frame.Matrix, xCh, yCh string, set transform.Set) func(int) (float64, float64) {
	xs, _ := m.Column(xCh)
	ys, _ := m.Column(yCh)
	tx, ty := set.For(xCh), set.For(yCh)
	return func(ev int) (float64, float64) {
		return tx.ToDisplay(xs[ev]), ty.ToDisplay(ys[ev])
	}
}

func reportUnmatched(o *Overlay) {
	if len(o.Unmatched) > 0 {
		log.Printf("index overlay: %d of %d wells unmatched", len(o.Unmatched), len(o.Unmatched)+len(o.Points))
	}
}
