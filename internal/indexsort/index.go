// Package indexsort loads index-sort reports from cell sorters and matches
// their per-well rows back onto gated events, producing overlay points in
// transformed coordinates.
//
// The supported report format is the BD FACSDiscover/S8 index CSV: an
// arbitrary instrument preamble, then a header line starting with "Well,",
// then one row per sorted cell carrying the well label and the channel
// values recorded at sort time.
package indexsort

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/go-git/go-billy/v5"
)

// ErrFormat marks an index report the loader cannot interpret.
var ErrFormat = errors.New("malformed index report")

// ErrWellConflict marks a report listing the same well more than once.
// The sorter writes one row per deposited cell, so a duplicate well means
// the report mixes plates and must not be matched.
var ErrWellConflict = errors.New("conflicting well assignments")

// eventColRe recognizes the sorter's event id column under its various
// header spellings.
var eventColRe = regexp.MustCompile(`(?i)^event\s*(id|index)?$`)

const wellColumn = "Well"

// Table is a parsed index report. Channel values are stored column-major,
// mirroring the event matrix layout.
type Table struct {
	// Wells holds one label per sorted cell, e.g. "A1".
	Wells []string
	// Events holds the sorter's event ids, nil when the report has no
	// event column.
	Events []int

	channels []string
	index    map[string]int
	columns  [][]float64
}

// Channels returns the report's channel names in header order.
func (t *Table) Channels() []string {
	out := make([]string, len(t.channels))
	copy(out, t.channels)
	return out
}

// HasChannel reports whether the table carries the named channel.
func (t *Table) HasChannel(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the values of the named channel, one per well row.
func (t *Table) Column(name string) ([]float64, error) {
	i, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: no channel %q in index report", ErrFormat, name)
	}
	return t.columns[i], nil
}

// Len returns the number of well rows.
func (t *Table) Len() int { return len(t.Wells) }

// Read parses a BD S8 index report. Instrument preamble lines before the
// "Well," header are skipped, column names are stripped of spaces, rows
// whose event id and channel values are all zero are dropped (the sorter
// pads aborted wells that way), and duplicate well labels fail with
// ErrWellConflict.
func Read(fs billy.Filesystem, path string) (*Table, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index report: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read index report %q: %w", path, err)
	}

	body, err := skipPreamble(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	r := csv.NewReader(strings.NewReader(body))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFormat, path, err)
	}

	tbl := &Table{index: make(map[string]int)}
	wellCol, eventCol := -1, -1
	fields := make([]string, len(header))
	for i, name := range header {
		name = strings.TrimPrefix(name, "\uFEFF")
		name = strings.ReplaceAll(strings.TrimSpace(name), " ", "")
		fields[i] = name
		switch {
		case name == wellColumn:
			wellCol = i
		case eventColRe.MatchString(name):
			eventCol = i
		case name != "":
			tbl.index[name] = len(tbl.channels)
			tbl.channels = append(tbl.channels, name)
			tbl.columns = append(tbl.columns, nil)
		}
	}
	if wellCol < 0 {
		return nil, fmt.Errorf("%w: %s: no %q column", ErrFormat, path, wellColumn)
	}

	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrFormat, path, err)
		}
		if len(record) != len(fields) {
			return nil, fmt.Errorf("%w: %s line %d: %d fields, header has %d", ErrFormat, path, line, len(record), len(fields))
		}

		values := make([]float64, len(tbl.channels))
		allZero := true
		for i, raw := range record {
			ci, ok := tbl.index[fields[i]]
			if !ok {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s line %d: channel %q: %v", ErrFormat, path, line, fields[i], err)
			}
			values[ci] = v
			if v != 0 {
				allZero = false
			}
		}

		// The event id counts toward the zero mask: a padded well row is
		// all zeros including its id, while a real event keeps its row
		// even when every channel reads zero.
		eventID := 0
		if eventCol >= 0 {
			id, err := strconv.Atoi(strings.TrimSpace(record[eventCol]))
			if err != nil {
				return nil, fmt.Errorf("%w: %s line %d: event id: %v", ErrFormat, path, line, err)
			}
			eventID = id
			if id != 0 {
				allZero = false
			}
		}
		if allZero && len(tbl.channels) > 0 {
			continue
		}

		tbl.Wells = append(tbl.Wells, strings.TrimSpace(record[wellCol]))
		for ci, v := range values {
			tbl.columns[ci] = append(tbl.columns[ci], v)
		}
		if eventCol >= 0 {
			tbl.Events = append(tbl.Events, eventID)
		}
	}

	if err := checkWellConflicts(tbl.Wells); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tbl, nil
}

func skipPreamble(data string) (string, error) {
	for off := 0; off < len(data); {
		end := strings.IndexByte(data[off:], '\n')
		var line string
		if end < 0 {
			line, end = data[off:], len(data)
		} else {
			line, end = data[off:off+end], off+end+1
		}
		if strings.HasPrefix(strings.TrimPrefix(line, "\uFEFF"), wellColumn+",") {
			return data[off:], nil
		}
		off = end
	}
	return "", fmt.Errorf("%w: no %q header line", ErrFormat, wellColumn)
}

func checkWellConflicts(wells []string) error {
	seen := make(map[string]int, len(wells))
	var dups []string
	for _, w := range wells {
		seen[w]++
		if seen[w] == 2 {
			dups = append(dups, w)
		}
	}
	if len(dups) == 0 {
		return nil
	}
	sort.Strings(dups)
	return fmt.Errorf("%w: %s", ErrWellConflict, strings.Join(dups, ", "))
}
