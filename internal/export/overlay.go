package export

import (
	"encoding/csv"
	"strconv"

	"github.com/go-git/go-billy/v5"

	"github.com/agentic-research/flowgate/internal/indexsort"
)

// WriteOverlay writes index-sort overlay points as CSV: one row per
// matched well with the event row and its transformed plot coordinates.
func WriteOverlay(fs billy.Filesystem, path string, o *indexsort.Overlay) error {
	f, err := fs.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"well", "event", "x", "y"}); err != nil {
		return err
	}
	for _, p := range o.Points {
		record := []string{
			p.Well,
			strconv.Itoa(p.Event),
			strconv.FormatFloat(p.X, 'g', -1, 64),
			strconv.FormatFloat(p.Y, 'g', -1, 64),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
