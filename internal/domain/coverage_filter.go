package domain

import (
	"path/filepath"
	"strings"

	m "gooze.dev/pkg/schemata/internal/model"
)

// CoverageFilter drops sites that no test executes. Coverage profiles name
// files by import path, so files are matched on their project relative path
// as a suffix.
type CoverageFilter struct {
	coverage  m.Coverage
	threshold float64
	keys      map[m.Path]string
}

// NewCoverageFilter creates a filter. Files whose statement coverage is below
// threshold percent lose all their sites.
func NewCoverageFilter(coverage m.Coverage, threshold float64) *CoverageFilter {
	return &CoverageFilter{
		coverage:  coverage,
		threshold: threshold,
		keys:      make(map[m.Path]string),
	}
}

// Keep reports whether site lies in code the test suite executes. Files the
// profile does not know are kept.
func (f *CoverageFilter) Keep(site m.MutationSite) bool {
	key, ok := f.profileKey(site.ShortPath)
	if !ok {
		return true
	}

	if f.coverage.PercentByFile[key] < f.threshold {
		return false
	}

	for _, region := range f.coverage.ZeroRegions[key] {
		if region.Contains(site.Position.Line, site.Position.Column) {
			return false
		}
	}

	return true
}

// Apply returns a copy of schema holding only the kept sites.
func (f *CoverageFilter) Apply(schema Schema) Schema {
	mapping := m.NewSchemaMapping(schema.Mapping.File)

	for _, site := range schema.Mapping.All() {
		if f.Keep(site) {
			// sites come from a valid mapping, so Add cannot fail
			_ = mapping.Add(site)
		}
	}

	return Schema{Source: schema.Source, Mapping: mapping}
}

// profileKey finds the profile entry for a project relative path. When several
// import paths end with it, the shortest one is closest to the module root.
func (f *CoverageFilter) profileKey(short m.Path) (string, bool) {
	if key, ok := f.keys[short]; ok {
		return key, key != ""
	}

	rel := filepath.ToSlash(string(short))
	best := ""

	for key := range f.coverage.PercentByFile {
		if key != rel && !strings.HasSuffix(key, "/"+rel) {
			continue
		}

		if best == "" || len(key) < len(best) {
			best = key
		}
	}

	f.keys[short] = best

	return best, best != ""
}
