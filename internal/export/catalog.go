package export

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentic-research/flowgate/internal/gating"
)

// Catalog is a SQLite results store. Each analysis run is one row in runs
// plus one row per population, so counts can be compared across samples
// and re-runs with plain SQL.
type Catalog struct {
	db *sql.DB
}

// OpenCatalog opens or creates the catalog database at path.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sample TEXT NOT NULL,
		source TEXT,
		created INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS populations (
		run_id INTEGER NOT NULL REFERENCES runs(id),
		node INTEGER NOT NULL,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		count INTEGER NOT NULL,
		parent_count INTEGER NOT NULL,
		fraction REAL
	);
	CREATE INDEX IF NOT EXISTS idx_populations_run ON populations(run_id, path);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create catalog schema: %w", err)
	}

	return &Catalog{db: db}, nil
}

// RecordRun stores one evaluated sample and returns the new run id. The
// synthetic all-events root is stored too; its parent count is zero and
// its fraction NULL, which keeps total event counts queryable.
func (c *Catalog) RecordRun(sample, source string, results []gating.Result) (int64, error) {
	tx, err := c.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(
		`INSERT INTO runs (sample, source, created) VALUES (?, ?, ?)`,
		sample, source, time.Now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("record run for %s: %w", sample, err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO populations (run_id, node, name, path, count, parent_count, fraction)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, r := range results {
		var fraction *float64
		if r.ParentCount > 0 {
			f := float64(r.Count) / float64(r.ParentCount)
			fraction = &f
		}
		if _, err := stmt.Exec(runID, r.Node, r.Name, r.Path, r.Count, r.ParentCount, fraction); err != nil {
			return 0, fmt.Errorf("record population %q: %w", r.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return runID, nil
}

// PopulationCounts returns path to count for one run, for reporting and
// tests.
func (c *Catalog) PopulationCounts(runID int64) (map[string]uint64, error) {
	rows, err := c.db.Query(`SELECT path, count FROM populations WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var path string
		var count uint64
		if err := rows.Scan(&path, &count); err != nil {
			return nil, err
		}
		out[path] = count
	}
	return out, rows.Err()
}

func (c *Catalog) Close() error {
	return c.db.Close()
}
