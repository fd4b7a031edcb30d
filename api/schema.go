// Package api defines the experiment configuration document: the
// declarative YAML structure produced by the workspace importer and
// consumed by the analysis pipeline. It lists, per population, its place in
// the gate hierarchy, its channel pair and gate geometry, and per-channel
// transform parameters.
//
// Gate coordinates are stored in transformed (display-scale) units, so a
// configuration is self-contained: evaluation maps event values through the
// declared transforms and tests them against the stored geometry directly.
package api

import (
	"errors"
	"fmt"

	"github.com/agentic-research/flowgate/internal/transform"
)

// ErrSchema marks a configuration that fails internal schema validation.
// A document must pass Validate before it is considered usable; any
// violation aborts the run.
var ErrSchema = errors.New("configuration does not match schema")

// Experiment is the root configuration document.
type Experiment struct {
	Metadata Metadata `yaml:"metadata"`

	// Panel maps channel identifiers to their acquisition metadata.
	Panel map[string]PanelChannel `yaml:"panel"`

	// Compensation is an opaque reference resolved upstream, never
	// computed here.
	Compensation Compensation `yaml:"compensation"`

	// Transforms holds the logicle parameters per fluorescence channel.
	// Channels without an entry scale linearly.
	Transforms map[string]TransformSpec `yaml:"transforms,omitempty"`

	// Populations in document order. Order is load-bearing: positional
	// naming and output file naming follow it.
	Populations []Population `yaml:"populations"`
}

// Metadata describes the experiment for humans; nothing here affects
// evaluation.
type Metadata struct {
	ExperimentName string `yaml:"experiment_name"`
	Operator       string `yaml:"operator,omitempty"`
	Date           string `yaml:"date,omitempty"`
	Notes          string `yaml:"notes,omitempty"`
}

// PanelChannel is one acquisition channel's metadata.
type PanelChannel struct {
	// Fluor is the fluorochrome detected on this channel, empty for
	// scatter and time channels.
	Fluor string `yaml:"fluor,omitempty"`
	// Role annotates the channel for readers of the config: scatter-linear,
	// time-linear or fluorescence-logicle. Scaling and threshold exclusion
	// are inferred from the channel name, not from this field.
	Role string `yaml:"role,omitempty"`
	// Ignore drops the channel from analysis entirely.
	Ignore bool `yaml:"ignore"`
}

// Compensation references the spillover correction source.
type Compensation struct {
	Source string `yaml:"source"` // none, fcs or file
	Path   string `yaml:"path,omitempty"`
}

// TransformSpec carries the four logicle parameters.
type TransformSpec struct {
	T float64 `yaml:"t"`
	W float64 `yaml:"w"`
	M float64 `yaml:"m"`
	A float64 `yaml:"a"`
}

// Population is one node of the gate hierarchy.
type Population struct {
	Name   string `yaml:"name"`
	Parent string `yaml:"parent,omitempty"` // empty = root

	Gate *GateSpec `yaml:"gate,omitempty"`

	// Positive and Negative marker rules narrow the population by
	// auto-thresholds after the geometric gate.
	Positive []string `yaml:"positive,omitempty"`
	Negative []string `yaml:"negative,omitempty"`
}

// GateSpec is the serialized tagged gate variant.
type GateSpec struct {
	Type string `yaml:"type"` // polygon, rectangle or threshold

	// Channels names the two gating channels (polygon, rectangle).
	Channels []string `yaml:"channels,omitempty"`
	// Vertices of the polygon, or the two opposite rectangle corners,
	// in transformed coordinates.
	Vertices [][2]float64 `yaml:"vertices,omitempty"`

	// Channel and Min/Max describe a threshold gate.
	Channel string   `yaml:"channel,omitempty"`
	Min     *float64 `yaml:"min,omitempty"`
	Max     *float64 `yaml:"max,omitempty"`
}

// Validate checks the document against the internal schema. It returns the
// first violation found, wrapped in ErrSchema with a human-readable path.
func (e *Experiment) Validate() error {
	if len(e.Panel) == 0 {
		return fmt.Errorf("%w: panel: must declare at least one channel", ErrSchema)
	}

	switch e.Compensation.Source {
	case "", "none", "fcs":
	case "file":
		if e.Compensation.Path == "" {
			return fmt.Errorf("%w: compensation: source 'file' requires 'path'", ErrSchema)
		}
	default:
		return fmt.Errorf("%w: compensation: invalid source %q", ErrSchema, e.Compensation.Source)
	}

	for ch, pc := range e.Panel {
		switch pc.Role {
		case "", "scatter-linear", "time-linear", "fluorescence-logicle":
		default:
			return fmt.Errorf("%w: panel.%s: invalid role %q", ErrSchema, ch, pc.Role)
		}
	}

	// A fluorochrome on two channels is a panel design error.
	fluorUsed := make(map[string]string)
	for ch, pc := range e.Panel {
		if pc.Fluor == "" {
			continue
		}
		if prev, dup := fluorUsed[pc.Fluor]; dup {
			a, b := prev, ch
			if b < a {
				a, b = b, a
			}
			return fmt.Errorf("%w: panel: fluorochrome %q is used by both %q and %q", ErrSchema, pc.Fluor, a, b)
		}
		fluorUsed[pc.Fluor] = ch
	}

	for ch, ts := range e.Transforms {
		if _, ok := e.Panel[ch]; !ok {
			return fmt.Errorf("%w: transforms.%s: channel not in panel", ErrSchema, ch)
		}
		if _, err := transform.NewLogicle(ts.T, ts.W, ts.M, ts.A); err != nil {
			return fmt.Errorf("%w: transforms.%s: %w", ErrSchema, ch, err)
		}
	}

	names := make(map[string]struct{}, len(e.Populations))
	for i, p := range e.Populations {
		where := fmt.Sprintf("populations[%d]", i)
		if p.Name == "" {
			return fmt.Errorf("%w: %s: name is required", ErrSchema, where)
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("%w: %s: duplicate population name %q", ErrSchema, where, p.Name)
		}
		names[p.Name] = struct{}{}
		if p.Gate != nil {
			if err := p.Gate.validate(e.Panel); err != nil {
				return fmt.Errorf("%w: %s (%s): %w", ErrSchema, where, p.Name, err)
			}
		}
		for _, marker := range append(append([]string(nil), p.Positive...), p.Negative...) {
			if _, ok := e.Panel[marker]; !ok {
				return fmt.Errorf("%w: %s (%s): marker %q not in panel", ErrSchema, where, p.Name, marker)
			}
		}
	}

	// Parent references must resolve by name; empty means the root.
	for i, p := range e.Populations {
		if p.Parent == "" {
			continue
		}
		if p.Parent == p.Name {
			return fmt.Errorf("%w: populations[%d] (%s): population is its own parent", ErrSchema, i, p.Name)
		}
		if _, ok := names[p.Parent]; !ok {
			return fmt.Errorf("%w: populations[%d] (%s): unknown parent %q", ErrSchema, i, p.Name, p.Parent)
		}
	}

	return nil
}

func (g *GateSpec) validate(panel map[string]PanelChannel) error {
	switch g.Type {
	case "polygon":
		if len(g.Channels) != 2 {
			return fmt.Errorf("polygon gate needs 2 channels, has %d", len(g.Channels))
		}
		if len(g.Vertices) < 3 {
			return fmt.Errorf("polygon gate needs at least 3 vertices, has %d", len(g.Vertices))
		}
	case "rectangle":
		if len(g.Channels) != 2 {
			return fmt.Errorf("rectangle gate needs 2 channels, has %d", len(g.Channels))
		}
		if len(g.Vertices) != 2 {
			return fmt.Errorf("rectangle gate needs exactly 2 corner vertices, has %d", len(g.Vertices))
		}
	case "threshold":
		if g.Channel == "" {
			return fmt.Errorf("threshold gate needs a channel")
		}
		if _, ok := panel[g.Channel]; !ok {
			return fmt.Errorf("channel %q not in panel", g.Channel)
		}
		if g.Min != nil && g.Max != nil && *g.Min > *g.Max {
			return fmt.Errorf("threshold min %v above max %v", *g.Min, *g.Max)
		}
		return nil
	default:
		return fmt.Errorf("unknown gate type %q", g.Type)
	}
	for _, ch := range g.Channels {
		if _, ok := panel[ch]; !ok {
			return fmt.Errorf("channel %q not in panel", ch)
		}
	}
	return nil
}
