package domain

import (
	_ "embed"
	"fmt"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"

	"gooze.dev/pkg/schemata/internal/adapter"
	m "gooze.dev/pkg/schemata/internal/model"
)

//go:embed markers.yaml
var defaultMarkers []byte

// Markers are the output patterns that classify a finished test process.
type Markers struct {
	Build   []string `yaml:"build"`
	Runtime []string `yaml:"runtime"`
	Failure []string `yaml:"failure"`
}

// DefaultMarkers returns the built-in marker set.
func DefaultMarkers() Markers {
	markers, err := ParseMarkers(defaultMarkers)
	if err != nil {
		panic(fmt.Sprintf("embedded markers are invalid: %v", err))
	}

	return markers
}

// ParseMarkers decodes a YAML marker set and checks every pattern compiles.
func ParseMarkers(data []byte) (Markers, error) {
	var markers Markers
	if err := yaml.Unmarshal(data, &markers); err != nil {
		return Markers{}, fmt.Errorf("failed to decode markers: %w", err)
	}

	for _, group := range [][]string{markers.Build, markers.Runtime, markers.Failure} {
		for _, p := range group {
			if _, err := compileMarker(p); err != nil {
				return Markers{}, err
			}
		}
	}

	return markers, nil
}

var markerCache sync.Map // pattern -> *regexp.Regexp

func compileMarker(pattern string) (*regexp.Regexp, error) {
	if re, ok := markerCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}

	re, err := regexp.Compile("(?m)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid marker %q: %w", pattern, err)
	}

	markerCache.Store(pattern, re)

	return re, nil
}

func matchAny(patterns []string, log string) bool {
	for _, p := range patterns {
		re, err := compileMarker(p)
		if err == nil && re.MatchString(log) {
			return true
		}
	}

	return false
}

// Classify maps a finished test process to an outcome. Checks run from the
// most to the least specific: timeout, abnormal termination, build markers,
// runtime markers, failure markers, and finally the exit code.
func (mk Markers) Classify(res adapter.ProcessResult) m.TestOutcome {
	switch {
	case res.TimedOut:
		return m.Timeout
	case res.Signaled:
		return m.RuntimeError
	case res.ExitCode == 0:
		return m.Passed
	case matchAny(mk.Build, res.Log):
		return m.BuildError
	case matchAny(mk.Runtime, res.Log):
		return m.RuntimeError
	case matchAny(mk.Failure, res.Log):
		return m.Failed
	default:
		return m.RuntimeError
	}
}
