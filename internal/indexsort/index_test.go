package indexsort

import (
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const s8Report = `FACSDiscover S8 Index Sort Report
Sort date,2026-03-14
Device,plate-96

Well, FSC -A, SSC -A, FITC -A
A1,11000,5100,230
A2,12500,4800,1900
A3,0,0,0
B1,13100,5300,45
`

func writeReport(t *testing.T, body string) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "index.csv", []byte(body), 0o644))
	return fs
}

func TestRead_SkipsPreambleAndStripsColumnSpaces(t *testing.T) {
	tbl, err := Read(writeReport(t, s8Report), "index.csv")
	require.NoError(t, err)

	assert.Equal(t, []string{"FSC-A", "SSC-A", "FITC-A"}, tbl.Channels())
	assert.Equal(t, []string{"A1", "A2", "B1"}, tbl.Wells, "all-zero row A3 must be dropped")
	assert.Nil(t, tbl.Events)

	fitc, err := tbl.Column("FITC-A")
	require.NoError(t, err)
	assert.Equal(t, []float64{230, 1900, 45}, fitc)
}

func TestRead_EventColumnVariants(t *testing.T) {
	for _, header := range []string{"Event", "Event ID", "EventIndex", "event id"} {
		body := "Well," + header + ",FSC-A\nA1,17,11000\nA2,42,12000\n"
		tbl, err := Read(writeReport(t, body), "index.csv")
		require.NoError(t, err, header)
		assert.Equal(t, []int{17, 42}, tbl.Events, header)
		assert.Equal(t, []string{"FSC-A"}, tbl.Channels(), header)
	}
}

func TestRead_NonZeroEventIDKeepsZeroChannelRow(t *testing.T) {
	body := "Well,EventID,FSC-A\nA1,5,0\nA2,0,0\n"
	tbl, err := Read(writeReport(t, body), "index.csv")
	require.NoError(t, err)

	assert.Equal(t, []string{"A1"}, tbl.Wells, "zero channels with a real event id is still a sorted well")
	assert.Equal(t, []int{5}, tbl.Events)

	fsc, err := tbl.Column("FSC-A")
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, fsc)
}

func TestRead_BOMHeaderStripped(t *testing.T) {
	body := "\ufeffWell,FSC-A\nA1,11000\n"
	tbl, err := Read(writeReport(t, body), "index.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"A1"}, tbl.Wells)
	assert.Equal(t, []string{"FSC-A"}, tbl.Channels())
}

func TestRead_WellConflict(t *testing.T) {
	body := "Well,FSC-A\nA1,11000\nA2,12000\nA1,13000\n"
	_, err := Read(writeReport(t, body), "index.csv")
	require.ErrorIs(t, err, ErrWellConflict)
	assert.Contains(t, err.Error(), "A1")
}

func TestRead_MissingWellHeader(t *testing.T) {
	body := "Plate,FSC-A\nA1,11000\n"
	_, err := Read(writeReport(t, body), "index.csv")
	require.ErrorIs(t, err, ErrFormat)
}

func TestRead_RaggedRow(t *testing.T) {
	body := "Well,FSC-A,SSC-A\nA1,11000\n"
	_, err := Read(writeReport(t, body), "index.csv")
	require.ErrorIs(t, err, ErrFormat)
}

func TestRead_NonNumericChannelValue(t *testing.T) {
	body := "Well,FSC-A\nA1,low\n"
	_, err := Read(writeReport(t, body), "index.csv")
	require.ErrorIs(t, err, ErrFormat)
}

func TestRead_UnknownColumnFails(t *testing.T) {
	tbl, err := Read(writeReport(t, s8Report), "index.csv")
	require.NoError(t, err)
	_, err = tbl.Column("APC-A")
	require.ErrorIs(t, err, ErrFormat)
}
