package config

import "github.com/agentic-research/flowgate/api"

// Merge overlays manual edits from prev onto a freshly imported document.
// Set scalar fields in prev win, per-channel panel and transform entries in
// prev win, and populations merge by name with prev's parent link and
// marker rules taking precedence while the import supplies fresh gate
// geometry. Channels appearing only in the import are added with Ignore
// set, so re-importing a grown panel never silently widens the analysis.
// Populations present only in prev are kept; populations present only in
// the import are appended in import order.
func Merge(imported, prev *api.Experiment) *api.Experiment {
	if prev == nil {
		return imported
	}

	out := &api.Experiment{
		Metadata:     mergeMetadata(imported.Metadata, prev.Metadata),
		Panel:        make(map[string]api.PanelChannel, len(imported.Panel)+len(prev.Panel)),
		Compensation: imported.Compensation,
	}
	if prev.Compensation.Source != "" {
		out.Compensation = prev.Compensation
	}

	for ch, pc := range imported.Panel {
		if kept, ok := prev.Panel[ch]; ok {
			if kept.Fluor == "" {
				kept.Fluor = pc.Fluor
			}
			out.Panel[ch] = kept
			continue
		}
		pc.Ignore = true
		out.Panel[ch] = pc
	}
	for ch, pc := range prev.Panel {
		if _, ok := out.Panel[ch]; !ok {
			out.Panel[ch] = pc
		}
	}

	if len(imported.Transforms)+len(prev.Transforms) > 0 {
		out.Transforms = make(map[string]api.TransformSpec, len(imported.Transforms)+len(prev.Transforms))
		for ch, ts := range imported.Transforms {
			out.Transforms[ch] = ts
		}
		for ch, ts := range prev.Transforms {
			out.Transforms[ch] = ts
		}
	}

	out.Populations = mergePopulations(imported.Populations, prev.Populations)
	return out
}

func mergeMetadata(imported, prev api.Metadata) api.Metadata {
	out := imported
	if prev.ExperimentName != "" {
		out.ExperimentName = prev.ExperimentName
	}
	if prev.Operator != "" {
		out.Operator = prev.Operator
	}
	if prev.Date != "" {
		out.Date = prev.Date
	}
	if prev.Notes != "" {
		out.Notes = prev.Notes
	}
	return out
}

func mergePopulations(imported, prev []api.Population) []api.Population {
	prevByName := make(map[string]api.Population, len(prev))
	for _, p := range prev {
		prevByName[p.Name] = p
	}
	importedNames := make(map[string]struct{}, len(imported))

	out := make([]api.Population, 0, len(imported)+len(prev))
	for _, p := range imported {
		importedNames[p.Name] = struct{}{}
		kept, ok := prevByName[p.Name]
		if !ok {
			out = append(out, p)
			continue
		}
		merged := p
		if kept.Parent != "" {
			merged.Parent = kept.Parent
		}
		if merged.Gate == nil {
			merged.Gate = kept.Gate
		}
		if len(kept.Positive) > 0 {
			merged.Positive = kept.Positive
		}
		if len(kept.Negative) > 0 {
			merged.Negative = kept.Negative
		}
		out = append(out, merged)
	}
	for _, p := range prev {
		if _, ok := importedNames[p.Name]; !ok {
			out = append(out, p)
		}
	}
	return out
}
