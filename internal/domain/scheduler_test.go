package domain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gooze.dev/pkg/schemata/internal/adapter"
	m "gooze.dev/pkg/schemata/internal/model"
	pkg "gooze.dev/pkg/schemata/pkg"
)

const calcSource = `package calc

func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
`

var (
	passed     = adapter.ProcessResult{ExitCode: 0, Log: "ok  \tcalc\t0.01s\n", Duration: time.Second}
	failed     = adapter.ProcessResult{ExitCode: 1, Log: "--- FAIL: TestMax (0.00s)\nFAIL\ncalc\t0.01s\n"}
	buildError = adapter.ProcessResult{ExitCode: 1, Log: "# calc\n./calc.go:5:9: undefined: c\nFAIL\tcalc [build failed]\n"}
	panicked   = adapter.ProcessResult{ExitCode: 2, Log: "panic: runtime error: index out of range\n"}
	timedOut   = adapter.ProcessResult{ExitCode: -1, TimedOut: true}
)

// scriptedRunner answers each test run from a table keyed by the active mutant.
type scriptedRunner struct {
	mu       sync.Mutex
	baseline adapter.ProcessResult
	results  map[string]adapter.ProcessResult
	fallback adapter.ProcessResult
	specs    []adapter.ProcessSpec
	onRun    func(ctx context.Context, spec adapter.ProcessSpec)
}

func (r *scriptedRunner) Run(ctx context.Context, spec adapter.ProcessSpec) (adapter.ProcessResult, error) {
	r.mu.Lock()
	r.specs = append(r.specs, spec)
	r.mu.Unlock()

	if r.onRun != nil {
		r.onRun(ctx, spec)
	}

	if err := ctx.Err(); err != nil {
		return adapter.ProcessResult{}, err
	}

	id := envValue(spec.Env, ActivationEnv)
	if id == "" {
		return r.baseline, nil
	}

	if res, ok := r.results[id]; ok {
		return res, nil
	}

	return r.fallback, nil
}

func (r *scriptedRunner) runs() []adapter.ProcessSpec {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]adapter.ProcessSpec(nil), r.specs...)
}

func envValue(env []string, key string) string {
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, key+"="); ok {
			return v
		}
	}

	return ""
}

// newProject writes a one file module and returns its root and instrumented file.
func newProject(t *testing.T) (m.Path, []Instrumented) {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module calc\n\ngo 1.21\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "calc.go"), []byte(calcSource), 0o600))

	src := parseSource(t, "calc.go", calcSource)
	src.Origin.FullPath = m.Path(filepath.Join(root, "calc.go"))

	inst, err := Instrument(src, schemaFor(t, src, m.MutationRelational))
	require.NoError(t, err)

	return m.Path(root), []Instrumented{inst}
}

func fakeSites(n int) []m.MutationSite {
	sites := make([]m.MutationSite, 0, n)
	for i := range n {
		sites = append(sites, m.MutationSite{
			ID:        fmt.Sprintf("mutant%02d", i),
			Type:      m.MutationRelational,
			ShortPath: "calc.go",
			Position:  m.Position{Line: 4},
		})
	}

	return sites
}

func newTestScheduler(runner adapter.TestRunnerAdapter, opts SchedulerOptions) *Scheduler {
	if opts.Env == nil {
		opts.Env = []string{"PATH=/usr/bin", ActivationEnv + "=inherited", RunningEnv + "=0"}
	}

	return NewScheduler(runner, adapter.NewLocalSourceFSAdapter(), opts)
}

func TestScheduler_BaselineGate(t *testing.T) {
	tests := []struct {
		name     string
		baseline adapter.ProcessResult
		reason   m.AbortReason
	}{
		{name: "failing tests", baseline: failed, reason: m.AbortTestFailure},
		{name: "build error", baseline: buildError, reason: m.AbortBuildError},
		{name: "panic", baseline: panicked, reason: m.AbortRuntimeError},
		{name: "timeout", baseline: timedOut, reason: m.AbortRuntimeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, files := newProject(t)
			runner := &scriptedRunner{baseline: tt.baseline, fallback: failed}

			result := newTestScheduler(runner, SchedulerOptions{}).Run(context.Background(), root, files, fakeSites(3), nil, nil)

			assert.Equal(t, m.RunAborted, result.State)
			assert.Equal(t, tt.reason, result.Reason)
			assert.Empty(t, result.Outcomes)
			assert.Equal(t, tt.baseline.Log, result.Log)
			assert.Len(t, runner.runs(), 1, "no mutant runs after a failing baseline")
		})
	}
}

func TestScheduler_KilledAndSurvived(t *testing.T) {
	root, files := newProject(t)
	sites := fakeSites(2)
	runner := &scriptedRunner{
		baseline: passed,
		results:  map[string]adapter.ProcessResult{sites[0].ID: failed, sites[1].ID: passed},
	}

	journal, err := pkg.NewFileSpill[m.MutationTestOutcome](t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() { _ = journal.Remove() })

	var observed []int

	result := newTestScheduler(runner, SchedulerOptions{}).Run(context.Background(), root, files, sites, journal, func(i int, _ m.MutationTestOutcome) {
		observed = append(observed, i)
	})

	require.Equal(t, m.RunDone, result.State)
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, m.Failed, result.Outcomes[0].Outcome)
	assert.Equal(t, m.Passed, result.Outcomes[1].Outcome)
	assert.Equal(t, m.Path("calc.go"), result.Outcomes[0].Path)
	assert.NotEmpty(t, result.Outcomes[0].Log)
	assert.Empty(t, result.Outcomes[1].Log)
	assert.Equal(t, []int{0, 1}, observed)
	assert.Equal(t, uint64(2), journal.Len())
	assert.Equal(t, 50, Score(result.Outcomes))

	score, err := scoreFromJournal(journal)
	require.NoError(t, err)
	assert.Equal(t, 50, score)
}

func TestScheduler_Environment(t *testing.T) {
	root, files := newProject(t)
	sites := fakeSites(1)
	runner := &scriptedRunner{baseline: passed, fallback: failed}

	result := newTestScheduler(runner, SchedulerOptions{TestArgs: []string{"test", "./..."}}).
		Run(context.Background(), root, files, sites, nil, nil)
	require.Equal(t, m.RunDone, result.State)

	runs := runner.runs()
	require.Len(t, runs, 2)

	baseline, mutant := runs[0], runs[1]

	assert.Equal(t, "go", baseline.Executable)
	assert.Equal(t, []string{"test", "-vet=off", "./..."}, baseline.Args)
	assert.NotEqual(t, root, baseline.Dir, "tests run in a working copy")
	assert.Equal(t, "", envValue(baseline.Env, ActivationEnv))
	assert.Equal(t, "1", envValue(baseline.Env, RunningEnv))
	assert.Contains(t, baseline.Env, "PATH=/usr/bin")
	assert.NotContains(t, baseline.Env, ActivationEnv+"=inherited")

	assert.Equal(t, sites[0].ID, envValue(mutant.Env, ActivationEnv))
	assert.Equal(t, "1", envValue(mutant.Env, RunningEnv))
	assert.Equal(t, baseline.Dir, mutant.Dir)

	_, err := os.Stat(string(baseline.Dir))
	assert.True(t, os.IsNotExist(err), "working copy is removed after the run")
}

func TestScheduler_WorkingCopyHoldsSchemata(t *testing.T) {
	root, files := newProject(t)

	var seen []byte

	runner := &scriptedRunner{baseline: passed, fallback: passed}
	runner.onRun = func(_ context.Context, spec adapter.ProcessSpec) {
		if seen == nil {
			seen, _ = os.ReadFile(filepath.Join(string(spec.Dir), "calc.go"))
		}
	}

	result := newTestScheduler(runner, SchedulerOptions{}).Run(context.Background(), root, files, fakeSites(1), nil, nil)
	require.Equal(t, m.RunDone, result.State)

	assert.Equal(t, files[0].Content, seen)

	original, err := os.ReadFile(filepath.Join(string(root), "calc.go"))
	require.NoError(t, err)
	assert.Equal(t, calcSource, string(original), "the project itself is never modified")
}

func TestScheduler_CircuitBreaker(t *testing.T) {
	const passing = 3

	root, files := newProject(t)
	sites := fakeSites(passing + 10)

	results := make(map[string]adapter.ProcessResult)
	for i, s := range sites {
		if i < passing {
			results[s.ID] = failed
		}
	}

	runner := &scriptedRunner{baseline: passed, results: results, fallback: buildError}

	result := newTestScheduler(runner, SchedulerOptions{}).Run(context.Background(), root, files, sites, nil, nil)

	assert.Equal(t, m.RunAborted, result.State)
	assert.Equal(t, m.AbortTooManyBuildErrors, result.Reason)
	require.Len(t, result.Outcomes, passing+DefaultMaxBuildErrors)
	assert.Equal(t, sites[passing+4].ID, result.Outcomes[len(result.Outcomes)-1].Site.ID)
	assert.Len(t, runner.runs(), 1+passing+DefaultMaxBuildErrors)
	assert.Contains(t, result.Log, "undefined: c")
	assert.Equal(t, 100, Score(result.Outcomes))
}

func TestScheduler_BuildErrorStreakResets(t *testing.T) {
	root, files := newProject(t)
	sites := fakeSites(9)

	results := map[string]adapter.ProcessResult{sites[4].ID: failed}
	runner := &scriptedRunner{baseline: passed, results: results, fallback: buildError}

	result := newTestScheduler(runner, SchedulerOptions{}).Run(context.Background(), root, files, sites, nil, nil)

	assert.Equal(t, m.RunDone, result.State)
	assert.Len(t, result.Outcomes, 9)
	assert.Equal(t, 100, Score(result.Outcomes))
}

func TestScheduler_Timeouts(t *testing.T) {
	t.Run("configured", func(t *testing.T) {
		root, files := newProject(t)
		runner := &scriptedRunner{baseline: passed, fallback: timedOut}

		result := newTestScheduler(runner, SchedulerOptions{Timeout: 42 * time.Second, BaselineTimeout: time.Minute}).
			Run(context.Background(), root, files, fakeSites(1), nil, nil)

		require.Equal(t, m.RunDone, result.State)
		require.Len(t, result.Outcomes, 1)
		assert.Equal(t, m.Timeout, result.Outcomes[0].Outcome)

		runs := runner.runs()
		assert.Equal(t, time.Minute, runs[0].Timeout)
		assert.Equal(t, 42*time.Second, runs[1].Timeout)
	})

	t.Run("derived from baseline", func(t *testing.T) {
		s := newTestScheduler(&scriptedRunner{}, SchedulerOptions{})

		assert.Equal(t, 10*time.Second, s.mutantTimeout(time.Second))
		assert.Equal(t, 35*time.Second, s.mutantTimeout(10*time.Second))
	})
}

func TestScheduler_Cancellation(t *testing.T) {
	root, files := newProject(t)
	sites := fakeSites(5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &scriptedRunner{baseline: passed, fallback: failed}
	runner.onRun = func(_ context.Context, spec adapter.ProcessSpec) {
		if envValue(spec.Env, ActivationEnv) == sites[2].ID {
			cancel()
		}
	}

	result := newTestScheduler(runner, SchedulerOptions{}).Run(ctx, root, files, sites, nil, nil)

	assert.Equal(t, m.RunAborted, result.State)
	assert.Equal(t, m.AbortCancelled, result.Reason)
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, sites[1].ID, result.Outcomes[1].Site.ID)
}

// failingFS fails every write once armed.
type failingFS struct {
	*adapter.LocalSourceFSAdapter
	armed bool
}

func (f *failingFS) WriteFile(path m.Path, content []byte, perm os.FileMode) error {
	if f.armed {
		return errors.New("disk full")
	}

	return f.LocalSourceFSAdapter.WriteFile(path, content, perm)
}

func TestScheduler_RestoreFailureIsFatal(t *testing.T) {
	root, files := newProject(t)
	sites := fakeSites(4)
	fs := &failingFS{LocalSourceFSAdapter: adapter.NewLocalSourceFSAdapter()}

	runner := &scriptedRunner{baseline: passed, fallback: failed}
	runner.onRun = func(_ context.Context, spec adapter.ProcessSpec) {
		if envValue(spec.Env, ActivationEnv) == sites[1].ID {
			// a test that rewrites the source under test
			_ = os.WriteFile(filepath.Join(string(spec.Dir), "calc.go"), []byte("package calc\n"), 0o600)
			fs.armed = true
		}
	}

	result := NewScheduler(runner, fs, SchedulerOptions{Env: []string{}}).Run(context.Background(), root, files, sites, nil, nil)

	assert.Equal(t, m.RunAborted, result.State)
	assert.Equal(t, m.AbortFilesystemError, result.Reason)
	require.Len(t, result.Outcomes, 1)
	assert.Contains(t, result.Log, "disk full")
}

func TestScheduler_RestoresChangedFiles(t *testing.T) {
	root, files := newProject(t)
	sites := fakeSites(2)

	var contents [][]byte

	runner := &scriptedRunner{baseline: passed, fallback: failed}
	runner.onRun = func(_ context.Context, spec adapter.ProcessSpec) {
		path := filepath.Join(string(spec.Dir), "calc.go")
		content, _ := os.ReadFile(path)
		contents = append(contents, content)

		_ = os.WriteFile(path, []byte("package calc\n"), 0o600)
	}

	result := newTestScheduler(runner, SchedulerOptions{}).Run(context.Background(), root, files, sites, nil, nil)

	require.Equal(t, m.RunDone, result.State)
	require.Len(t, contents, 3)
	assert.Equal(t, files[0].Content, contents[1])
	assert.Equal(t, files[0].Content, contents[2])
}

func TestScheduler_Parallel(t *testing.T) {
	root, files := newProject(t)
	sites := fakeSites(8)

	results := make(map[string]adapter.ProcessResult)
	for i, s := range sites {
		if i%2 == 0 {
			results[s.ID] = failed
		}
	}

	var (
		mu   sync.Mutex
		dirs = make(map[m.Path]struct{})
	)

	runner := &scriptedRunner{baseline: passed, results: results, fallback: passed}
	runner.onRun = func(_ context.Context, spec adapter.ProcessSpec) {
		mu.Lock()
		dirs[spec.Dir] = struct{}{}
		mu.Unlock()
	}

	result := newTestScheduler(runner, SchedulerOptions{Parallel: 3}).Run(context.Background(), root, files, sites, nil, nil)

	require.Equal(t, m.RunDone, result.State)
	require.Len(t, result.Outcomes, len(sites))

	for i, o := range result.Outcomes {
		assert.Equal(t, sites[i].ID, o.Site.ID, "outcomes keep site order")
	}

	assert.Equal(t, 50, Score(result.Outcomes))
	assert.LessOrEqual(t, len(dirs), 3)

	for dir := range dirs {
		_, err := os.Stat(string(dir))
		assert.True(t, os.IsNotExist(err))
	}
}

func TestScheduler_RemapsLogs(t *testing.T) {
	root, files := newProject(t)
	sites := fakeSites(1)

	// the original "return a" inside the else branch
	instrumentedLine := files[0].Sites[0].InstrumentedLine + 6
	runner := &scriptedRunner{
		baseline: passed,
		fallback: adapter.ProcessResult{
			ExitCode: 2,
			Log:      fmt.Sprintf("panic: boom\n\ncalc.Max(...)\n\t/tmp/ws/calc.go:%d +0x1d\n", instrumentedLine),
		},
	}

	result := newTestScheduler(runner, SchedulerOptions{}).Run(context.Background(), root, files, sites, nil, nil)

	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, m.RuntimeError, result.Outcomes[0].Outcome)
	assert.Contains(t, result.Outcomes[0].Log, "/tmp/ws/calc.go:5 ")
}

func TestMutantEnv(t *testing.T) {
	base := []string{"HOME=/root", ActivationEnv + "=stale", RunningEnv + "=", "GOFLAGS=-mod=mod"}

	env := mutantEnv(base, "abc")
	assert.Equal(t, []string{"HOME=/root", "GOFLAGS=-mod=mod", RunningEnv + "=1", ActivationEnv + "=abc"}, env)

	env = mutantEnv(base, "")
	assert.Equal(t, []string{"HOME=/root", "GOFLAGS=-mod=mod", RunningEnv + "=1"}, env)
}

func TestTailLog(t *testing.T) {
	short := "short log"
	assert.Equal(t, short, tailLog(short))

	long := strings.Repeat("x", maxLogBytes) + "END"
	tail := tailLog(long)
	assert.True(t, strings.HasSuffix(tail, "END"))
	assert.True(t, strings.HasPrefix(tail, "...\n"))
	assert.Len(t, tail, maxLogBytes+4)
}

func TestWithVetOff(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{name: "plain", args: []string{"test", "./..."}, want: []string{"test", "-vet=off", "./..."}},
		{name: "vet value", args: []string{"test", "-vet=all", "-race", "./..."}, want: []string{"test", "-vet=off", "-race", "./..."}},
		{name: "double dash", args: []string{"test", "--vet=atomic", "./..."}, want: []string{"test", "-vet=off", "./..."}},
		{name: "separate value", args: []string{"test", "-vet", "all", "./..."}, want: []string{"test", "-vet=off", "./..."}},
		{name: "binary args untouched", args: []string{"test", "./...", "-args", "-vet=all"}, want: []string{"test", "-vet=off", "./...", "-args", "-vet=all"}},
		{name: "no test verb", args: []string{"vet", "./..."}, want: []string{"vet", "./..."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, withVetOff(tt.args))
		})
	}
}
