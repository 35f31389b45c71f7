package adapter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/tools/cover"

	m "gooze.dev/pkg/schemata/internal/model"
)

// CoverageAdapter produces statement coverage for a project.
type CoverageAdapter interface {
	// Collect runs the project's tests with a cover profile and parses it.
	Collect(ctx context.Context, root m.Path, goBin string, timeout time.Duration) (m.Coverage, error)

	// Parse reads a cover profile in the format written by go test -coverprofile.
	Parse(r io.Reader) (m.Coverage, error)
}

// LocalCoverageAdapter collects coverage through a TestRunnerAdapter.
type LocalCoverageAdapter struct {
	runner TestRunnerAdapter
}

// NewLocalCoverageAdapter constructs a LocalCoverageAdapter.
func NewLocalCoverageAdapter(runner TestRunnerAdapter) *LocalCoverageAdapter {
	return &LocalCoverageAdapter{runner: runner}
}

// Collect implements CoverageAdapter.
func (a *LocalCoverageAdapter) Collect(ctx context.Context, root m.Path, goBin string, timeout time.Duration) (m.Coverage, error) {
	dir, err := os.MkdirTemp("", "schemata-cover-*")
	if err != nil {
		return m.Coverage{}, fmt.Errorf("failed to create coverage dir: %w", err)
	}

	defer func() {
		_ = os.RemoveAll(dir)
	}()

	profile := filepath.Join(dir, "cover.out")

	res, err := a.runner.Run(ctx, ProcessSpec{
		Dir:        root,
		Executable: goBin,
		Args:       []string{"test", "-count=1", "-coverprofile=" + profile, "./..."},
		Env:        os.Environ(),
		Timeout:    timeout,
	})
	if err != nil {
		return m.Coverage{}, fmt.Errorf("failed to run coverage: %w", err)
	}

	if res.TimedOut || res.ExitCode != 0 {
		slog.Warn("coverage run did not pass", "exitCode", res.ExitCode, "timedOut", res.TimedOut)
		return m.Coverage{}, fmt.Errorf("coverage run failed (exit code %d): %s", res.ExitCode, res.Log)
	}

	f, err := os.Open(profile)
	if err != nil {
		return m.Coverage{}, fmt.Errorf("failed to open coverage profile: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	return a.Parse(f)
}

// Parse implements CoverageAdapter.
func (a *LocalCoverageAdapter) Parse(r io.Reader) (m.Coverage, error) {
	profiles, err := cover.ParseProfilesFromReader(r)
	if err != nil {
		return m.Coverage{}, fmt.Errorf("failed to parse coverage profile: %w", err)
	}

	coverage := m.Coverage{
		PercentByFile: make(map[string]float64, len(profiles)),
		ZeroRegions:   make(map[string][]m.Region),
	}

	for _, p := range profiles {
		var total, covered int

		for _, b := range p.Blocks {
			total += b.NumStmt

			if b.Count > 0 {
				covered += b.NumStmt
				continue
			}

			coverage.ZeroRegions[p.FileName] = append(coverage.ZeroRegions[p.FileName], m.Region{
				StartLine: b.StartLine,
				StartCol:  b.StartCol,
				EndLine:   b.EndLine,
				EndCol:    b.EndCol,
			})
		}

		percent := 100.0
		if total > 0 {
			percent = 100 * float64(covered) / float64(total)
		}

		coverage.PercentByFile[p.FileName] = percent
	}

	return coverage, nil
}
