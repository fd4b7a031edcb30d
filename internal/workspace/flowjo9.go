// Package workspace imports FlowJo v9 workspace documents.
//
// A v9 workspace is a single XML document carrying a panel of acquisition
// parameters, per-channel logicle declarations, and a nested Population
// tree whose gates are expressed in Gating-ML v2.0. The importer is a pure
// translation: element tree in, declarative gate specs plus solved channel
// transforms out. Polygon vertices are converted into transformed
// coordinates here, so the evaluation engine never needs to un-transform
// during polygon testing.
//
// FlowJo v10 workspaces are zip archives and are not implemented; the
// importer fails fast on them instead of attempting a partial parse.
package workspace

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/agentic-research/flowgate/internal/gating"
	"github.com/agentic-research/flowgate/internal/transform"
)

// ErrImport marks a malformed or structurally inconsistent workspace
// document.
var ErrImport = errors.New("workspace import failed")

// ErrUnsupportedFormat marks a recognized but unimplemented input format
// (FlowJo v10 zip archives).
var ErrUnsupportedFormat = errors.New("unsupported workspace format")

// Gating-ML v2.0 namespace URIs as emitted by FlowJo v9.
const (
	nsGating    = "http://www.isac-net.org/std/Gating-ML/v2.0/gating"
	nsDataTypes = "http://www.isac-net.org/std/Gating-ML/v2.0/datatypes"
)

// PanelChannel is one declared acquisition parameter.
type PanelChannel struct {
	Name     string
	Detector string // fluorochrome, empty for scatter/time channels
}

// LogicleParams are the per-channel logicle declarations found in the
// document, kept alongside the solved transform for re-serialization.
type LogicleParams struct {
	T, W, M, A float64
}

// Compensation is the workspace's compensation reference, passed through
// opaquely, never computed here.
type Compensation struct {
	Source string // none, fcs or file
	Path   string
}

// Document is a fully validated import result. Gate vertices in Specs are
// already in transformed coordinate space.
type Document struct {
	Panel        []PanelChannel
	Logicle      map[string]LogicleParams
	Compensation Compensation
	Specs        []gating.NodeSpec
	Transforms   transform.Set
	Tree         *gating.Tree
}

// element is the generic XML tree the walker operates on. FlowJo emits the
// Gating-ML attributes sometimes namespaced and sometimes bare, so lookups
// go by local attribute name.
type element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []element  `xml:",any"`
	Text     string     `xml:",chardata"`
}

func (e *element) attr(local string) string {
	for _, a := range e.Attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func (e *element) find(space, local string) *element {
	for i := range e.Children {
		c := &e.Children[i]
		if c.XMLName.Local == local && (space == "" || c.XMLName.Space == space) {
			return c
		}
	}
	return nil
}

// findAll collects matching elements at any depth, in document order.
func (e *element) findAll(space, local string, out *[]*element) {
	for i := range e.Children {
		c := &e.Children[i]
		if c.XMLName.Local == local && (space == "" || c.XMLName.Space == space) {
			*out = append(*out, c)
		}
		c.findAll(space, local, out)
	}
}

// zipMagic is the local-file-header signature of a zip archive, the
// container format of FlowJo v10 .wsp files.
var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// Import parses and validates a FlowJo v9 workspace document.
func Import(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImport, err)
	}
	if bytes.HasPrefix(data, zipMagic) {
		return nil, fmt.Errorf("%w: zip-based workspace (FlowJo v10); only v9 XML documents are supported", ErrUnsupportedFormat)
	}

	var root element
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: not well-formed XML: %w", ErrImport, err)
	}

	doc := &Document{
		Logicle:      make(map[string]LogicleParams),
		Transforms:   make(transform.Set),
		Compensation: Compensation{Source: "none"},
	}

	if err := extractPanel(&root, doc); err != nil {
		return nil, err
	}
	if err := extractTransforms(&root, doc); err != nil {
		return nil, err
	}
	extractCompensation(&root, doc)
	if err := extractPopulations(&root, doc); err != nil {
		return nil, err
	}

	// Structural validation (unknown parents, cycles, duplicate names,
	// degenerate polygons) happens before any tree is handed out.
	tree, err := gating.Build(doc.Specs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImport, err)
	}
	doc.Tree = tree

	return doc, nil
}

func extractPanel(root *element, doc *Document) error {
	var params []*element
	root.findAll("", "Parameter", &params)
	seen := make(map[string]struct{}, len(params))
	for _, p := range params {
		name := p.attr("name")
		if name == "" {
			name = p.attr("shortName")
		}
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate panel parameter %q", ErrImport, name)
		}
		seen[name] = struct{}{}
		ch := PanelChannel{Name: name}
		if det := p.find("", "Detector"); det != nil {
			ch.Detector = strings.TrimSpace(det.Text)
		}
		doc.Panel = append(doc.Panel, ch)
	}
	if len(doc.Panel) == 0 {
		return fmt.Errorf("%w: no Parameter declarations found", ErrImport)
	}
	return nil
}

func extractTransforms(root *element, doc *Document) error {
	var decls []*element
	root.findAll("", "Transformation", &decls)
	for _, d := range decls {
		channel := d.attr("parameter")
		if channel == "" {
			channel = d.attr("target")
		}
		if channel == "" {
			return fmt.Errorf("%w: Transformation without parameter reference", ErrImport)
		}
		if !doc.hasChannel(channel) {
			return fmt.Errorf("%w: Transformation references undeclared %w: %q", ErrImport, transform.ErrChannelNotFound, channel)
		}

		params := LogicleParams{}
		var err error
		for _, f := range []struct {
			name string
			dst  *float64
		}{{"T", &params.T}, {"W", &params.W}, {"M", &params.M}, {"A", &params.A}} {
			raw := d.attr(f.name)
			if raw == "" {
				return fmt.Errorf("%w: Transformation for %q missing attribute %s", ErrImport, channel, f.name)
			}
			if *f.dst, err = strconv.ParseFloat(raw, 64); err != nil {
				return fmt.Errorf("%w: Transformation for %q: bad %s: %w", ErrImport, channel, f.name, err)
			}
		}

		// Solving at load time surfaces bad parameters here, not on first use.
		lg, err := transform.NewLogicle(params.T, params.W, params.M, params.A)
		if err != nil {
			return fmt.Errorf("workspace transform for %q: %w", channel, err)
		}
		doc.Logicle[channel] = params
		doc.Transforms[channel] = lg
	}
	return nil
}

func extractCompensation(root *element, doc *Document) {
	var comps []*element
	root.findAll("", "CompensationMatrix", &comps)
	if len(comps) == 0 {
		return
	}
	c := comps[0]
	if src := c.attr("source"); src != "" {
		doc.Compensation.Source = src
	}
	doc.Compensation.Path = c.attr("path")
}

// extractPopulations walks the document tree, tracking the enclosing
// population as the parent. Document nesting order becomes child order:
// downstream output naming is positional, so siblings are never re-sorted.
func extractPopulations(root *element, doc *Document) error {
	var walk func(e *element, parent string) error
	walk = func(e *element, parent string) error {
		next := parent
		if e.XMLName.Local == "Population" {
			name := e.attr("name")
			if name == "" {
				// Positional fallback keeps output naming stable across runs.
				name = fmt.Sprintf("Population%d", len(doc.Specs)+1)
			}
			spec := gating.NodeSpec{Name: name, Parent: parent}
			if gateEl := e.find("", "Gate"); gateEl != nil {
				g, err := doc.parseGate(gateEl, name)
				if err != nil {
					return err
				}
				spec.Gate = g
			}
			doc.Specs = append(doc.Specs, spec)
			next = name
		}
		for i := range e.Children {
			if err := walk(&e.Children[i], next); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(root, "")
}

// parseGate dispatches on the Gating-ML gate variants FlowJo v9 emits.
func (doc *Document) parseGate(gateEl *element, population string) (gating.Gate, error) {
	if poly := gateEl.find(nsGating, "PolygonGate"); poly != nil {
		return doc.parsePolygon(poly, population)
	}
	if rect := gateEl.find(nsGating, "RectangleGate"); rect != nil {
		return doc.parseRectangle(rect, population)
	}
	return gating.Gate{}, fmt.Errorf("%w: population %q carries an unsupported Gating-ML gate", ErrImport, population)
}

func (doc *Document) parsePolygon(poly *element, population string) (gating.Gate, error) {
	channels, err := doc.gateDimensions(poly, population)
	if err != nil {
		return gating.Gate{}, err
	}

	var verts []*element
	poly.findAll(nsGating, "vertex", &verts)
	vertices := make([]gating.Vertex, 0, len(verts))
	for _, v := range verts {
		var coords []*element
		v.findAll(nsGating, "coordinate", &coords)
		if len(coords) != 2 {
			return gating.Gate{}, fmt.Errorf("%w: population %q: vertex with %d coordinates", ErrImport, population, len(coords))
		}
		x, err := coordValue(coords[0])
		if err != nil {
			return gating.Gate{}, fmt.Errorf("%w: population %q: %w", ErrImport, population, err)
		}
		y, err := coordValue(coords[1])
		if err != nil {
			return gating.Gate{}, fmt.Errorf("%w: population %q: %w", ErrImport, population, err)
		}
		vertices = append(vertices, gating.Vertex{
			X: doc.Transforms.For(channels[0]).ToDisplay(x),
			Y: doc.Transforms.For(channels[1]).ToDisplay(y),
		})
	}
	if len(vertices) < 3 {
		return gating.Gate{}, fmt.Errorf("%w: population %q: polygon has %d vertices, need at least 3", ErrImport, population, len(vertices))
	}

	return gating.Gate{
		Kind:     gating.GatePolygon,
		XChannel: channels[0],
		YChannel: channels[1],
		Vertices: vertices,
	}, nil
}

func (doc *Document) parseRectangle(rect *element, population string) (gating.Gate, error) {
	channels, err := doc.gateDimensions(rect, population)
	if err != nil {
		return gating.Gate{}, err
	}

	var intervals []*element
	rect.findAll(nsGating, "interval", &intervals)
	if len(intervals) != 2 {
		return gating.Gate{}, fmt.Errorf("%w: population %q: rectangle has %d intervals, need 2", ErrImport, population, len(intervals))
	}

	corners := make([]gating.Vertex, 2)
	for axis, iv := range intervals {
		lo, err := strconv.ParseFloat(iv.attr("low"), 64)
		if err != nil {
			return gating.Gate{}, fmt.Errorf("%w: population %q: bad interval low: %w", ErrImport, population, err)
		}
		hi, err := strconv.ParseFloat(iv.attr("high"), 64)
		if err != nil {
			return gating.Gate{}, fmt.Errorf("%w: population %q: bad interval high: %w", ErrImport, population, err)
		}
		tr := doc.Transforms.For(channels[axis])
		if axis == 0 {
			corners[0].X, corners[1].X = tr.ToDisplay(lo), tr.ToDisplay(hi)
		} else {
			corners[0].Y, corners[1].Y = tr.ToDisplay(lo), tr.ToDisplay(hi)
		}
	}

	return gating.Gate{
		Kind:     gating.GateRectangle,
		XChannel: channels[0],
		YChannel: channels[1],
		Vertices: corners,
	}, nil
}

// gateDimensions resolves a gate's two fcs-dimension channel references and
// checks them against the declared panel.
func (doc *Document) gateDimensions(gate *element, population string) ([2]string, error) {
	var channels [2]string
	var dims []*element
	gate.findAll(nsGating, "dimension", &dims)
	if len(dims) != 2 {
		return channels, fmt.Errorf("%w: population %q: gate has %d dimensions, need 2", ErrImport, population, len(dims))
	}
	for i, dim := range dims {
		fcsDim := dim.find(nsDataTypes, "fcs-dimension")
		if fcsDim == nil {
			return channels, fmt.Errorf("%w: population %q: dimension without fcs-dimension", ErrImport, population)
		}
		name := fcsDim.attr("name")
		if name == "" {
			return channels, fmt.Errorf("%w: population %q: fcs-dimension without name", ErrImport, population)
		}
		if !doc.hasChannel(name) {
			return channels, fmt.Errorf("%w: population %q gate references undeclared %w: %q", ErrImport, population, transform.ErrChannelNotFound, name)
		}
		channels[i] = name
	}
	return channels, nil
}

func (doc *Document) hasChannel(name string) bool {
	for _, ch := range doc.Panel {
		if ch.Name == name {
			return true
		}
	}
	return false
}

func coordValue(coord *element) (float64, error) {
	raw := coord.attr("value")
	if raw == "" {
		return 0, errors.New("coordinate without value")
	}
	return strconv.ParseFloat(raw, 64)
}
