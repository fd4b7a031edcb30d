package config

import (
	"fmt"
	"math"

	"github.com/agentic-research/flowgate/api"
	"github.com/agentic-research/flowgate/internal/gating"
	"github.com/agentic-research/flowgate/internal/transform"
)

// Compile turns a validated configuration into an executable gate tree and
// transform set. Channels marked Ignore are excluded: a gate referencing an
// ignored channel is an error, while ignored channels in marker rule lists
// are dropped silently.
func Compile(exp *api.Experiment) (*gating.Tree, transform.Set, error) {
	if err := exp.Validate(); err != nil {
		return nil, nil, err
	}

	set := make(transform.Set, len(exp.Transforms))
	for ch, ts := range exp.Transforms {
		if exp.Panel[ch].Ignore {
			continue
		}
		lg, err := transform.NewLogicle(ts.T, ts.W, ts.M, ts.A)
		if err != nil {
			return nil, nil, fmt.Errorf("transform for channel %q: %w", ch, err)
		}
		set[ch] = lg
	}

	specs := make([]gating.NodeSpec, 0, len(exp.Populations))
	for _, p := range exp.Populations {
		gate, err := compileGate(p.Gate, exp.Panel)
		if err != nil {
			return nil, nil, fmt.Errorf("population %q: %w", p.Name, err)
		}
		specs = append(specs, gating.NodeSpec{
			Name:     p.Name,
			Parent:   p.Parent,
			Gate:     gate,
			Positive: activeMarkers(p.Positive, exp.Panel),
			Negative: activeMarkers(p.Negative, exp.Panel),
		})
	}

	tree, err := gating.Build(specs)
	if err != nil {
		return nil, nil, err
	}
	return tree, set, nil
}

func compileGate(g *api.GateSpec, panel map[string]api.PanelChannel) (gating.Gate, error) {
	if g == nil {
		return gating.Gate{Kind: gating.GateNone}, nil
	}

	switch g.Type {
	case "polygon", "rectangle":
		for _, ch := range g.Channels {
			if panel[ch].Ignore {
				return gating.Gate{}, fmt.Errorf("gate references ignored channel %q", ch)
			}
		}
		kind := gating.GatePolygon
		if g.Type == "rectangle" {
			kind = gating.GateRectangle
		}
		vertices := make([]gating.Vertex, len(g.Vertices))
		for i, v := range g.Vertices {
			vertices[i] = gating.Vertex{X: v[0], Y: v[1]}
		}
		return gating.Gate{
			Kind:     kind,
			XChannel: g.Channels[0],
			YChannel: g.Channels[1],
			Vertices: vertices,
		}, nil

	case "threshold":
		if panel[g.Channel].Ignore {
			return gating.Gate{}, fmt.Errorf("gate references ignored channel %q", g.Channel)
		}
		min, max := math.Inf(-1), math.Inf(1)
		if g.Min != nil {
			min = *g.Min
		}
		if g.Max != nil {
			max = *g.Max
		}
		return gating.Gate{Kind: gating.GateThreshold, XChannel: g.Channel, Min: min, Max: max}, nil

	default:
		return gating.Gate{}, fmt.Errorf("unknown gate type %q", g.Type)
	}
}

func activeMarkers(markers []string, panel map[string]api.PanelChannel) []string {
	var out []string
	for _, m := range markers {
		if panel[m].Ignore {
			continue
		}
		out = append(out, m)
	}
	return out
}
