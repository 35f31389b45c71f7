package model

// Region is a span of source lines and columns.
type Region struct {
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

// ContainsLine reports whether line lies inside the region.
func (r Region) ContainsLine(line int) bool {
	return line >= r.StartLine && line <= r.EndLine
}

// Contains reports whether the line and column lie inside the region.
func (r Region) Contains(line, col int) bool {
	if line < r.StartLine || line > r.EndLine {
		return false
	}

	if line == r.StartLine && col < r.StartCol {
		return false
	}

	return line != r.EndLine || col < r.EndCol
}

// Coverage is the statement coverage of a project, keyed by file path as it
// appears in the profile (package import path plus file name).
type Coverage struct {
	PercentByFile map[string]float64
	ZeroRegions   map[string][]Region
}
