package frame

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/flowgate/internal/transform"
)

func TestNew_Validation(t *testing.T) {
	_, err := New([]string{"FSC-A"}, nil)
	assert.Error(t, err)

	_, err = New([]string{"FSC-A", "FSC-A"}, [][]float64{{1}, {2}})
	assert.Error(t, err, "duplicate channel names must be rejected")

	_, err = New([]string{"FSC-A", "SSC-A"}, [][]float64{{1, 2}, {3}})
	assert.Error(t, err, "ragged columns must be rejected")
}

func TestMatrix_Lookup(t *testing.T) {
	m, err := New(
		[]string{"FSC-A", "FITC-A"},
		[][]float64{{100, 200, 300}, {-5, 0, 12}},
	)
	require.NoError(t, err)

	assert.Equal(t, 3, m.Len())
	assert.Equal(t, []string{"FSC-A", "FITC-A"}, m.Channels())
	assert.True(t, m.HasChannel("FITC-A"))
	assert.False(t, m.HasChannel("PE-A"))

	col, err := m.Column("FITC-A")
	require.NoError(t, err)
	assert.Equal(t, []float64{-5, 0, 12}, col)

	_, err = m.Column("PE-A")
	require.Error(t, err)
	assert.ErrorIs(t, err, transform.ErrChannelNotFound)
}

func TestReadCSV(t *testing.T) {
	fs := memfs.New()
	data := "FSC-A, SSC-A,FITC-A\n100,50,-3.5\n200,75,12\n"
	require.NoError(t, util.WriteFile(fs, "events.csv", []byte(data), 0o644))

	m, err := ReadCSV(fs, "events.csv")
	require.NoError(t, err)

	assert.Equal(t, 2, m.Len())
	assert.Equal(t, []string{"FSC-A", "SSC-A", "FITC-A"}, m.Channels())

	col, err := m.Column("FITC-A")
	require.NoError(t, err)
	assert.Equal(t, []float64{-3.5, 12}, col)
}

func TestReadCSV_BadRow(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "events.csv", []byte("A,B\n1,notanumber\n"), 0o644))

	_, err := ReadCSV(fs, "events.csv")
	assert.Error(t, err)
}
