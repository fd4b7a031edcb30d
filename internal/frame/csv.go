package frame

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	billy "github.com/go-git/go-billy/v5"
)

// ReadCSV loads an event matrix from a headered CSV file: one column per
// channel, one row per event. This is the in-repo stand-in for the external
// FCS-parsing collaborator, which yields the same tabular shape.
func ReadCSV(fs billy.Filesystem, path string) (*Matrix, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read events header %s: %w", path, err)
	}
	channels := make([]string, len(header))
	for i, h := range header {
		channels[i] = strings.TrimSpace(h)
	}

	columns := make([][]float64, len(channels))
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read events %s: %w", path, err)
	}
	for rowNum, rec := range records {
		if len(rec) != len(channels) {
			return nil, fmt.Errorf("events %s row %d: %d fields, want %d", path, rowNum+2, len(rec), len(channels))
		}
		for i, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("events %s row %d column %q: %w", path, rowNum+2, channels[i], err)
			}
			columns[i] = append(columns[i], v)
		}
	}

	return New(channels, columns)
}
