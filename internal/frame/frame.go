// Package frame provides the event matrix: the row-oriented numeric table an
// analysis run gates against. The matrix is produced by the upstream FCS
// parser (or the CSV stand-in in this package) and is immutable for the
// duration of a run.
package frame

import (
	"fmt"

	"github.com/agentic-research/flowgate/internal/transform"
)

// Matrix is a column-major table of events. Column order is preserved from
// the source so exported files keep the acquisition channel order.
type Matrix struct {
	channels []string
	index    map[string]int
	columns  [][]float64
	rows     int
}

// New builds a Matrix from channel names and their columns. Every column
// must have the same length.
func New(channels []string, columns [][]float64) (*Matrix, error) {
	if len(channels) != len(columns) {
		return nil, fmt.Errorf("frame: %d channels but %d columns", len(channels), len(columns))
	}
	m := &Matrix{
		channels: append([]string(nil), channels...),
		index:    make(map[string]int, len(channels)),
		columns:  columns,
	}
	for i, ch := range channels {
		if _, dup := m.index[ch]; dup {
			return nil, fmt.Errorf("frame: duplicate channel %q", ch)
		}
		m.index[ch] = i
	}
	if len(columns) > 0 {
		m.rows = len(columns[0])
		for i, col := range columns {
			if len(col) != m.rows {
				return nil, fmt.Errorf("frame: column %q has %d rows, want %d", channels[i], len(col), m.rows)
			}
		}
	}
	return m, nil
}

// Len returns the number of events.
func (m *Matrix) Len() int { return m.rows }

// Channels returns the channel names in source order.
func (m *Matrix) Channels() []string {
	return append([]string(nil), m.channels...)
}

// HasChannel reports whether the matrix carries the named channel.
func (m *Matrix) HasChannel(name string) bool {
	_, ok := m.index[name]
	return ok
}

// Column returns the raw values of one channel for all events. The returned
// slice is the backing store; callers must not mutate it.
func (m *Matrix) Column(name string) ([]float64, error) {
	i, ok := m.index[name]
	if !ok {
		return nil, fmt.Errorf("%w in event data: %q", transform.ErrChannelNotFound, name)
	}
	return m.columns[i], nil
}
