package config

import (
	"math"

	"github.com/agentic-research/flowgate/api"
	"github.com/agentic-research/flowgate/internal/gating"
	"github.com/agentic-research/flowgate/internal/workspace"
)

// FromWorkspace converts an imported workspace document into a
// configuration ready to be saved and hand-edited. Population order and
// gate geometry carry over unchanged; roles are left to inference.
func FromWorkspace(name string, doc *workspace.Document) *api.Experiment {
	exp := &api.Experiment{
		Metadata: api.Metadata{ExperimentName: name},
		Panel:    make(map[string]api.PanelChannel, len(doc.Panel)),
		Compensation: api.Compensation{
			Source: doc.Compensation.Source,
			Path:   doc.Compensation.Path,
		},
	}

	for _, ch := range doc.Panel {
		exp.Panel[ch.Name] = api.PanelChannel{Fluor: ch.Detector}
	}

	if len(doc.Logicle) > 0 {
		exp.Transforms = make(map[string]api.TransformSpec, len(doc.Logicle))
		for ch, p := range doc.Logicle {
			exp.Transforms[ch] = api.TransformSpec{T: p.T, W: p.W, M: p.M, A: p.A}
		}
	}

	exp.Populations = make([]api.Population, 0, len(doc.Specs))
	for _, s := range doc.Specs {
		exp.Populations = append(exp.Populations, api.Population{
			Name:     s.Name,
			Parent:   s.Parent,
			Gate:     gateSpec(s.Gate),
			Positive: s.Positive,
			Negative: s.Negative,
		})
	}
	return exp
}

func gateSpec(g gating.Gate) *api.GateSpec {
	switch g.Kind {
	case gating.GatePolygon, gating.GateRectangle:
		vertices := make([][2]float64, len(g.Vertices))
		for i, v := range g.Vertices {
			vertices[i] = [2]float64{v.X, v.Y}
		}
		return &api.GateSpec{
			Type:     g.Kind.String(),
			Channels: []string{g.XChannel, g.YChannel},
			Vertices: vertices,
		}
	case gating.GateThreshold:
		spec := &api.GateSpec{Type: "threshold", Channel: g.XChannel}
		if !math.IsInf(g.Min, -1) {
			min := g.Min
			spec.Min = &min
		}
		if !math.IsInf(g.Max, 1) {
			max := g.Max
			spec.Max = &max
		}
		return spec
	default:
		return nil
	}
}
