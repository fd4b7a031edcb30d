package workspace

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/flowgate/internal/gating"
	"github.com/agentic-research/flowgate/internal/transform"
)

const fixtureHeader = `<?xml version="1.0" encoding="UTF-8"?>
<Workspace flowJoVersion="9.9.6"
  xmlns:gating="http://www.isac-net.org/std/Gating-ML/v2.0/gating"
  xmlns:data-type="http://www.isac-net.org/std/Gating-ML/v2.0/datatypes">
  <Parameters>
    <Parameter name="FSC-A"/>
    <Parameter name="SSC-A"/>
    <Parameter name="FITC-A"><Detector>FITC</Detector></Parameter>
  </Parameters>
  <Transformations>
    <Transformation parameter="FITC-A" T="262144" W="0.5" M="4.5" A="0"/>
  </Transformations>
  <CompensationMatrix source="fcs"/>`

func polygonGateXML(ch1, ch2 string, coords [][2]float64) string {
	var b strings.Builder
	b.WriteString("<Gate><gating:PolygonGate>")
	b.WriteString(`<gating:dimension><data-type:fcs-dimension data-type:name="` + ch1 + `"/></gating:dimension>`)
	b.WriteString(`<gating:dimension><data-type:fcs-dimension data-type:name="` + ch2 + `"/></gating:dimension>`)
	for _, c := range coords {
		b.WriteString("<gating:vertex>")
		b.WriteString(`<gating:coordinate data-type:value="` + trimFloat(c[0]) + `"/>`)
		b.WriteString(`<gating:coordinate data-type:value="` + trimFloat(c[1]) + `"/>`)
		b.WriteString("</gating:vertex>")
	}
	b.WriteString("</gating:PolygonGate></Gate>")
	return b.String()
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func TestImport_Fixture(t *testing.T) {
	square := polygonGateXML("FSC-A", "SSC-A", [][2]float64{{0, 0}, {100000, 0}, {100000, 100000}, {0, 100000}})

	doc, err := Import(strings.NewReader(fixtureHeader + `
  <SampleList><Sample>
    <Population name="Cells">` + square + `
      <Population name="FITC+">
        <Gate><gating:RectangleGate>
          <gating:dimension><data-type:fcs-dimension data-type:name="FITC-A"/></gating:dimension>
          <gating:dimension><data-type:fcs-dimension data-type:name="SSC-A"/></gating:dimension>
          <gating:interval data-type:low="1000" data-type:high="262144"/>
          <gating:interval data-type:low="0" data-type:high="100000"/>
        </gating:RectangleGate></Gate>
      </Population>
    </Population>
  </Sample></SampleList>
</Workspace>`))
	require.NoError(t, err)

	// Panel with detector metadata.
	require.Len(t, doc.Panel, 3)
	assert.Equal(t, "FITC", doc.Panel[2].Detector)

	// Logicle declaration solved at load time.
	require.Contains(t, doc.Logicle, "FITC-A")
	assert.Equal(t, 262144.0, doc.Logicle["FITC-A"].T)
	lg, ok := doc.Transforms["FITC-A"].(*transform.Logicle)
	require.True(t, ok)

	// Compensation passes through opaquely.
	assert.Equal(t, "fcs", doc.Compensation.Source)

	// Hierarchy: root → Cells → FITC+, nesting order preserved.
	require.Len(t, doc.Specs, 2)
	assert.Equal(t, "Cells", doc.Specs[0].Name)
	assert.Equal(t, "", doc.Specs[0].Parent)
	assert.Equal(t, "FITC+", doc.Specs[1].Name)
	assert.Equal(t, "Cells", doc.Specs[1].Parent)
	require.NotNil(t, doc.Tree)
	assert.Equal(t, 3, doc.Tree.Len())

	// Scatter vertices stay linear; fluorescence bounds are transformed.
	cells := doc.Specs[0].Gate
	assert.Equal(t, gating.GatePolygon, cells.Kind)
	assert.Equal(t, gating.Vertex{X: 100000, Y: 0}, cells.Vertices[1])

	fitc := doc.Specs[1].Gate
	assert.Equal(t, gating.GateRectangle, fitc.Kind)
	assert.InDelta(t, lg.ToDisplay(1000), fitc.Vertices[0].X, 1e-12)
	assert.InDelta(t, lg.ToDisplay(262144), fitc.Vertices[1].X, 1e-12)
	assert.Equal(t, 0.0, fitc.Vertices[0].Y)
	assert.Equal(t, 100000.0, fitc.Vertices[1].Y)
}

func TestImport_UndeclaredChannel(t *testing.T) {
	gate := polygonGateXML("CD99-A", "SSC-A", [][2]float64{{0, 0}, {10, 0}, {10, 10}})

	doc, err := Import(strings.NewReader(fixtureHeader + `
  <Population name="Bad">` + gate + `</Population>
</Workspace>`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImport)
	assert.ErrorIs(t, err, transform.ErrChannelNotFound)
	assert.Nil(t, doc, "no gate tree may be emitted on failure")
}

func TestImport_TooFewVertices(t *testing.T) {
	gate := polygonGateXML("FSC-A", "SSC-A", [][2]float64{{0, 0}, {10, 0}})

	_, err := Import(strings.NewReader(fixtureHeader + `
  <Population name="Bad">` + gate + `</Population>
</Workspace>`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImport)
}

func TestImport_UnknownParentLinkage(t *testing.T) {
	// Two same-named populations collapse into a duplicate, which the tree
	// builder rejects as inconsistent linkage.
	gate := polygonGateXML("FSC-A", "SSC-A", [][2]float64{{0, 0}, {10, 0}, {10, 10}})

	_, err := Import(strings.NewReader(fixtureHeader + `
  <Population name="Same">` + gate + `</Population>
  <Population name="Same">` + gate + `</Population>
</Workspace>`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImport)
}

func TestImport_V10ZipFailsFast(t *testing.T) {
	_, err := Import(strings.NewReader("PK\x03\x04not really a workspace"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.NotErrorIs(t, err, ErrImport)
}

func TestImport_MalformedXML(t *testing.T) {
	_, err := Import(strings.NewReader("<Workspace><Unclosed></Workspace>"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImport)
}

func TestImport_BadLogicleParameters(t *testing.T) {
	_, err := Import(strings.NewReader(`<Workspace>
  <Parameter name="FITC-A"/>
  <Transformation parameter="FITC-A" T="0" W="0.5" M="4.5" A="0"/>
</Workspace>`))
	require.Error(t, err)
	assert.ErrorIs(t, err, transform.ErrParameter)
}

func TestImport_TransformForUndeclaredChannel(t *testing.T) {
	_, err := Import(strings.NewReader(`<Workspace>
  <Parameter name="FSC-A"/>
  <Transformation parameter="PE-A" T="262144" W="0.5" M="4.5" A="0"/>
</Workspace>`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImport)
	assert.ErrorIs(t, err, transform.ErrChannelNotFound)
}
