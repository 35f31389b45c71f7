package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gooze.dev/pkg/schemata/internal/adapter"
	m "gooze.dev/pkg/schemata/internal/model"
	pkg "gooze.dev/pkg/schemata/pkg"
)

// Scheduler defaults.
const (
	DefaultMaxBuildErrors  = 5
	DefaultBaselineTimeout = 10 * time.Minute
	minMutantTimeout       = 10 * time.Second
	maxLogBytes            = 16 << 10
)

// DefaultTestArgs is the go command line used when none is configured.
var DefaultTestArgs = []string{"test", "-count=1", "-vet=off", "./..."}

// SchedulerOptions configures a scheduling run.
type SchedulerOptions struct {
	GoBin    string
	TestArgs []string

	// Timeout bounds one mutant run. Zero derives it from the baseline
	// duration.
	Timeout         time.Duration
	BaselineTimeout time.Duration

	// MaxBuildErrors is the number of consecutive build errors that stops a
	// run.
	MaxBuildErrors int

	// Parallel is the number of mutants run at once, each in its own working
	// copy.
	Parallel int

	Markers Markers

	// Exclude lists project paths, such as report and log locations, that
	// are not copied into working copies.
	Exclude []m.Path

	// Env is the base environment of every test process. Nil means the
	// current process environment.
	Env []string
}

func (o SchedulerOptions) withDefaults() SchedulerOptions {
	if o.GoBin == "" {
		o.GoBin = "go"
	}

	if len(o.TestArgs) == 0 {
		o.TestArgs = DefaultTestArgs
	}

	o.TestArgs = withVetOff(o.TestArgs)

	if o.BaselineTimeout <= 0 {
		o.BaselineTimeout = DefaultBaselineTimeout
	}

	if o.MaxBuildErrors <= 0 {
		o.MaxBuildErrors = DefaultMaxBuildErrors
	}

	if o.Parallel <= 0 {
		o.Parallel = 1
	}

	if o.Markers.Build == nil && o.Markers.Runtime == nil && o.Markers.Failure == nil {
		o.Markers = DefaultMarkers()
	}

	if o.Env == nil {
		o.Env = os.Environ()
	}

	return o
}

// withVetOff returns a go test command line with vet disabled, replacing any
// -vet setting before -args. Command lines without a "test" argument are
// returned unchanged.
func withVetOff(args []string) []string {
	at := slices.Index(args, "test")
	if at < 0 {
		return args
	}

	out := make([]string, 0, len(args)+1)
	out = append(out, args[:at+1]...)
	out = append(out, "-vet=off")

	for i := at + 1; i < len(args); i++ {
		name := strings.TrimLeft(args[i], "-")

		switch {
		case name == "args":
			return append(out, args[i:]...)
		case name == "vet" && args[i] != name:
			i++
		case strings.HasPrefix(name, "vet=") && args[i] != name:
		default:
			out = append(out, args[i])
		}
	}

	return out
}

// OutcomeFunc observes outcomes as they are produced. index is the position
// of the site in the scheduled list.
type OutcomeFunc func(index int, outcome m.MutationTestOutcome)

// Scheduler runs the test suite once per mutant against instrumented
// working copies.
type Scheduler struct {
	runner adapter.TestRunnerAdapter
	fs     adapter.SourceFSAdapter
	opts   SchedulerOptions
}

// NewScheduler creates a Scheduler.
func NewScheduler(runner adapter.TestRunnerAdapter, fs adapter.SourceFSAdapter, opts SchedulerOptions) *Scheduler {
	return &Scheduler{runner: runner, fs: fs, opts: opts.withDefaults()}
}

// abortError stops a run with a reason and the log that explains it.
type abortError struct {
	reason m.AbortReason
	log    string
}

func (e *abortError) Error() string {
	return e.reason.Message()
}

// Run checks the baseline and then runs every site in order. Outcomes are
// appended to journal (when non-nil) and passed to observe as they arrive.
// An aborted run keeps every outcome collected before the abort.
func (s *Scheduler) Run(
	ctx context.Context,
	root m.Path,
	files []Instrumented,
	sites []m.MutationSite,
	journal pkg.FileSpill[m.MutationTestOutcome],
	observe OutcomeFunc,
) m.RunResult {
	logs := newLogRemapper(files)

	primary, err := NewWorkspace(s.fs, root, files, s.opts.Exclude...)
	if err != nil {
		return aborted(m.AbortFilesystemError, err.Error(), nil)
	}

	workspaces := []*Workspace{primary}

	defer func() {
		for _, ws := range workspaces {
			if err := ws.Remove(); err != nil {
				slog.Warn("failed to remove working copy", "dir", ws.Dir(), "error", err)
			}
		}
	}()

	baseline, err := s.baseline(ctx, primary, logs)
	if err != nil {
		return resultFromError(err, nil)
	}

	timeout := s.mutantTimeout(baseline)
	slog.Info("baseline passed", "duration", baseline, "mutants", len(sites), "timeout", timeout)

	for i := 1; i < min(s.opts.Parallel, len(sites)); i++ {
		ws, err := NewWorkspace(s.fs, root, files, s.opts.Exclude...)
		if err != nil {
			return aborted(m.AbortFilesystemError, err.Error(), nil)
		}

		workspaces = append(workspaces, ws)
	}

	pool := make(chan *Workspace, len(workspaces))
	for _, ws := range workspaces {
		pool <- ws
	}

	var (
		mu          sync.Mutex
		results     = make([]*m.MutationTestOutcome, len(sites))
		consecutive int
	)

	record := func(i int, outcome m.MutationTestOutcome) error {
		mu.Lock()
		defer mu.Unlock()

		results[i] = &outcome

		if journal != nil {
			if err := journal.Append(outcome); err != nil {
				return &abortError{reason: m.AbortFilesystemError, log: err.Error()}
			}
		}

		if observe != nil {
			observe(i, outcome)
		}

		if outcome.Outcome != m.BuildError {
			consecutive = 0
			return nil
		}

		consecutive++
		if consecutive >= s.opts.MaxBuildErrors {
			return &abortError{
				reason: m.AbortTooManyBuildErrors,
				log:    fmt.Sprintf("%d consecutive build errors, last:\n%s", consecutive, outcome.Log),
			}
		}

		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(workspaces))

	for i, site := range sites {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			ws := <-pool
			defer func() { pool <- ws }()

			outcome, err := s.runMutant(gctx, ws, site, timeout, logs)
			if err != nil {
				return err
			}

			return record(i, outcome)
		})
	}

	err = g.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	collected := make([]m.MutationTestOutcome, 0, len(sites))
	for _, r := range results {
		if r != nil {
			collected = append(collected, *r)
		}
	}

	if err != nil {
		return resultFromError(err, collected)
	}

	return m.RunResult{State: m.RunDone, Outcomes: collected}
}

// baseline runs the suite with no active mutant and returns its duration.
func (s *Scheduler) baseline(ctx context.Context, ws *Workspace, logs *logRemapper) (time.Duration, error) {
	res, err := s.runner.Run(ctx, s.spec(ws, "", s.opts.BaselineTimeout))
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		return 0, &abortError{reason: m.AbortRuntimeError, log: err.Error()}
	}

	if err := ws.RestoreAll(); err != nil {
		return 0, &abortError{reason: m.AbortFilesystemError, log: err.Error()}
	}

	outcome := s.opts.Markers.Classify(res)
	log := logs.remap(res.Log)

	switch outcome {
	case m.Passed:
		return res.Duration, nil
	case m.BuildError:
		return 0, &abortError{reason: m.AbortBuildError, log: log}
	case m.Failed:
		return 0, &abortError{reason: m.AbortTestFailure, log: log}
	default:
		return 0, &abortError{reason: m.AbortRuntimeError, log: log}
	}
}

func (s *Scheduler) runMutant(ctx context.Context, ws *Workspace, site m.MutationSite, timeout time.Duration, logs *logRemapper) (m.MutationTestOutcome, error) {
	res, err := s.runner.Run(ctx, s.spec(ws, site.ID, timeout))
	if err != nil {
		if ctx.Err() != nil {
			return m.MutationTestOutcome{}, ctx.Err()
		}

		return m.MutationTestOutcome{}, &abortError{reason: m.AbortRuntimeError, log: err.Error()}
	}

	if err := ws.RestoreAll(); err != nil {
		return m.MutationTestOutcome{}, &abortError{reason: m.AbortFilesystemError, log: err.Error()}
	}

	outcome := s.opts.Markers.Classify(res)

	slog.Debug("mutant finished", "id", site.ID, "type", site.Type, "file", site.ShortPath, "outcome", outcome, "duration", res.Duration)

	log := ""
	if outcome != m.Passed {
		log = tailLog(logs.remap(res.Log))
	}

	return m.MutationTestOutcome{
		Site:     site,
		Outcome:  outcome,
		Path:     site.ShortPath,
		Duration: res.Duration,
		Log:      log,
	}, nil
}

func (s *Scheduler) spec(ws *Workspace, id string, timeout time.Duration) adapter.ProcessSpec {
	return adapter.ProcessSpec{
		Dir:        ws.Dir(),
		Executable: s.opts.GoBin,
		Args:       s.opts.TestArgs,
		Env:        mutantEnv(s.opts.Env, id),
		Timeout:    timeout,
	}
}

func (s *Scheduler) mutantTimeout(baseline time.Duration) time.Duration {
	if s.opts.Timeout > 0 {
		return s.opts.Timeout
	}

	return max(3*baseline+5*time.Second, minMutantTimeout)
}

// mutantEnv returns base without any inherited activation variables, plus
// the running flag and, when id is set, the activation key.
func mutantEnv(base []string, id string) []string {
	env := make([]string, 0, len(base)+2)

	for _, kv := range base {
		if strings.HasPrefix(kv, ActivationEnv+"=") || strings.HasPrefix(kv, RunningEnv+"=") {
			continue
		}

		env = append(env, kv)
	}

	env = append(env, RunningEnv+"=1")

	if id != "" {
		env = append(env, ActivationEnv+"="+id)
	}

	return env
}

func resultFromError(err error, outcomes []m.MutationTestOutcome) m.RunResult {
	var abort *abortError

	switch {
	case errors.As(err, &abort):
		return aborted(abort.reason, abort.log, outcomes)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return aborted(m.AbortCancelled, err.Error(), outcomes)
	default:
		return aborted(m.AbortRuntimeError, err.Error(), outcomes)
	}
}

func aborted(reason m.AbortReason, log string, outcomes []m.MutationTestOutcome) m.RunResult {
	slog.Warn("run aborted", "reason", reason, "outcomes", len(outcomes))

	return m.RunResult{State: m.RunAborted, Reason: reason, Log: log, Outcomes: outcomes}
}

func tailLog(log string) string {
	if len(log) <= maxLogBytes {
		return log
	}

	return "...\n" + log[len(log)-maxLogBytes:]
}
