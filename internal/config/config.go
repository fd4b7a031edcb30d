// Package config reads, writes and merges experiment configuration
// documents, and compiles a validated document into an executable gate
// tree.
package config

import (
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"gopkg.in/yaml.v3"

	"github.com/agentic-research/flowgate/api"
)

// Load reads a YAML configuration and validates it against the schema.
func Load(fs billy.Filesystem, path string) (*api.Experiment, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open configuration: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read configuration %q: %w", path, err)
	}

	var exp api.Experiment
	if err := yaml.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", api.ErrSchema, path, err)
	}
	if err := exp.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &exp, nil
}

// Save validates the document and writes it as YAML. Field order follows
// the schema's struct order, so saved files diff cleanly across runs.
func Save(fs billy.Filesystem, path string, exp *api.Experiment) error {
	if err := exp.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(exp)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	if err := util.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("write configuration %q: %w", path, err)
	}
	return nil
}
