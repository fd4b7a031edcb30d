// Package export writes analysis outputs: one event CSV per gated
// population and a SQLite catalog of run-level population statistics.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/agentic-research/flowgate/internal/frame"
	"github.com/agentic-research/flowgate/internal/gating"
)

// CSVWriter writes per-population event files under a single directory.
// Each population gets gated_<name>.csv; calls for further samples append
// to the same files, so a multi-sample run yields one concatenated file per
// population with the sample_id column telling rows apart. The first write
// to a file within a run truncates it, so re-running an analysis replaces
// stale output instead of appending to it.
type CSVWriter struct {
	fs  billy.Filesystem
	dir string

	// header written per population file, to enforce consistent channels
	// across appended samples
	headers map[string][]string

	statsStarted bool
}

func NewCSVWriter(fs billy.Filesystem, dir string) *CSVWriter {
	return &CSVWriter{fs: fs, dir: dir, headers: make(map[string][]string)}
}

// openRun opens an output file for this run: truncated on the writer's
// first visit, appended to afterwards.
func (w *CSVWriter) openRun(path string, started bool) (billy.File, error) {
	flag := os.O_CREATE | os.O_WRONLY
	if started {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}
	return w.fs.OpenFile(path, flag, 0o644)
}

// WriteSample appends one sample's gated events to the population files.
// The synthetic all-events root is skipped. Raw (untransformed) values are
// written, matching the input event files.
func (w *CSVWriter) WriteSample(sampleID string, m *frame.Matrix, results []gating.Result) error {
	channels := m.Channels()
	columns := make([][]float64, len(channels))
	for i, ch := range channels {
		col, err := m.Column(ch)
		if err != nil {
			return err
		}
		columns[i] = col
	}

	for _, res := range results {
		if res.Node == gating.Root {
			continue
		}
		if err := w.appendPopulation(sampleID, res, channels, columns); err != nil {
			return fmt.Errorf("population %q: %w", res.Name, err)
		}
	}
	return nil
}

func (w *CSVWriter) appendPopulation(sampleID string, res gating.Result, channels []string, columns [][]float64) error {
	name := FileName(res.Name)
	path := w.fs.Join(w.dir, name)

	header := append([]string{"sample_id"}, channels...)
	prev, started := w.headers[name]
	if started && strings.Join(prev, ",") != strings.Join(header, ",") {
		return fmt.Errorf("channel set differs from earlier sample in %s", name)
	}

	f, err := w.openRun(path, started)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if !started {
		if err := cw.Write(header); err != nil {
			return err
		}
		w.headers[name] = header
	}

	record := make([]string, len(channels)+1)
	record[0] = sampleID
	it := res.Mask.Iterator()
	for it.HasNext() {
		row := it.Next()
		for i, col := range columns {
			record[i+1] = strconv.FormatFloat(col[row], 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FileName returns the per-population output file name. Population names
// come from workspace operators and may contain anything, so everything
// outside a conservative set is flattened to underscores.
func FileName(population string) string {
	var b strings.Builder
	for _, r := range population {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return "gated_" + b.String() + ".csv"
}

// WriteStats appends one summary row per population to stats.csv in the
// writer's directory: counts and the fraction of the parent population
// retained. The file is truncated on the writer's first call.
func (w *CSVWriter) WriteStats(sampleID string, results []gating.Result) error {
	f, err := w.openRun(w.fs.Join(w.dir, "stats.csv"), w.statsStarted)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if !w.statsStarted {
		if err := cw.Write([]string{"sample_id", "population", "path", "count", "parent_count", "fraction"}); err != nil {
			return err
		}
		w.statsStarted = true
	}
	for _, res := range results {
		if res.Node == gating.Root {
			continue
		}
		fraction := ""
		if res.ParentCount > 0 {
			fraction = strconv.FormatFloat(float64(res.Count)/float64(res.ParentCount), 'f', 6, 64)
		}
		record := []string{
			sampleID,
			res.Name,
			res.Path,
			strconv.FormatUint(res.Count, 10),
			strconv.FormatUint(res.ParentCount, 10),
			fraction,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
