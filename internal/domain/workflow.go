package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"gooze.dev/pkg/schemata/internal/adapter"
	"gooze.dev/pkg/schemata/internal/controller"
	m "gooze.dev/pkg/schemata/internal/model"
	pkg "gooze.dev/pkg/schemata/pkg"
)

var (
	// ErrBaselineFailed is returned when the unmutated suite does not pass.
	ErrBaselineFailed = errors.New("baseline test run failed")
	// ErrRunAborted is returned when a run stopped before testing every mutant.
	ErrRunAborted = errors.New("mutation run aborted")
)

// EstimateArgs contains the arguments for listing mutation sites.
type EstimateArgs struct {
	Paths    []m.Path
	Root     m.Path // project root; empty means the module enclosing the working directory
	Discover DiscoverOptions
}

// TestArgs contains the arguments for running mutation tests.
type TestArgs struct {
	EstimateArgs

	Reports    m.Path
	JournalDir string
	Scheduler  SchedulerOptions
	ShardIndex int
	ShardCount int

	// Coverage drops sites no test executes before scheduling.
	Coverage          bool
	CoverageThreshold float64

	// Resume reuses outcomes recorded in JournalDir by an unfinished run
	// when the mutated file is unchanged.
	Resume bool
}

// ViewArgs contains the arguments for viewing a saved report.
type ViewArgs struct {
	Reports m.Path
}

// Workflow defines the user facing operations of the tool.
type Workflow interface {
	Estimate(ctx context.Context, args EstimateArgs) error
	Test(ctx context.Context, args TestArgs) error
	View(ctx context.Context, args ViewArgs) error
}

type workflow struct {
	adapter.ReportStore
	adapter.SourceFSAdapter
	adapter.TestRunnerAdapter
	coverage adapter.CoverageAdapter
	controller.UI
	Mutagen
}

// NewWorkflow creates a new Workflow instance with the provided dependencies.
func NewWorkflow(
	fsAdapter adapter.SourceFSAdapter,
	reportStore adapter.ReportStore,
	testAdapter adapter.TestRunnerAdapter,
	coverageAdapter adapter.CoverageAdapter,
	ui controller.UI,
	mutagen Mutagen,
) Workflow {
	return &workflow{
		SourceFSAdapter:   fsAdapter,
		ReportStore:       reportStore,
		TestRunnerAdapter: testAdapter,
		coverage:          coverageAdapter,
		UI:                ui,
		Mutagen:           mutagen,
	}
}

// Estimate discovers mutation sites and displays them per file without
// running any test.
func (w *workflow) Estimate(ctx context.Context, args EstimateArgs) error {
	if err := w.Start(ctx, controller.WithEstimateMode()); err != nil {
		slog.Error("Failed to start workflow UI", "error", err)
		return err
	}

	schemas, _, err := w.discover(ctx, args)

	var sites []m.MutationSite
	for _, schema := range schemas {
		sites = append(sites, schema.Mapping.All()...)
	}

	if displayErr := w.DisplayEstimation(ctx, sites, err); displayErr != nil && err == nil {
		err = fmt.Errorf("display: %w", displayErr)
	}

	w.Close(ctx)
	w.Wait(ctx)

	return err
}

// Test runs the full pipeline: discovery, optional coverage filtering,
// instrumentation, sharding, scheduling, scoring and report persistence.
func (w *workflow) Test(ctx context.Context, args TestArgs) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := w.Start(ctx, controller.WithTestMode(), controller.WithInterrupt(cancel)); err != nil {
		slog.Error("Failed to start workflow UI", "error", err)
		return err
	}

	defer w.Wait(ctx)
	defer w.Close(ctx)

	schemas, root, err := w.discover(ctx, args.EstimateArgs)
	if err != nil {
		return err
	}

	if args.Coverage {
		schemas, err = w.filterCoverage(ctx, root, schemas, args)
		if err != nil {
			return err
		}
	}

	files, sites, err := w.Instrument(ctx, schemas)
	if err != nil {
		return err
	}

	sites = shardSites(sites, args.ShardIndex, args.ShardCount)

	opts := args.Scheduler.withDefaults()
	w.DisplayConcurrencyInfo(ctx, opts.Parallel, args.ShardIndex, max(args.ShardCount, 1))
	w.DisplayUpcomingTestsInfo(ctx, len(sites))

	report, err := w.run(ctx, root, files, sites, args)
	if err != nil {
		return err
	}

	if args.Reports != "" {
		if err := w.SaveReport(args.Reports, report); err != nil {
			return fmt.Errorf("save report: %w", err)
		}
	}

	if err := w.DisplayRunReport(ctx, report); err != nil {
		slog.Warn("failed to display report", "error", err)
	}

	return runError(report)
}

// View displays the last report saved in args.Reports.
func (w *workflow) View(ctx context.Context, args ViewArgs) error {
	if err := w.Start(ctx, controller.WithViewMode()); err != nil {
		slog.Error("Failed to start workflow UI", "error", err)
		return err
	}

	report, err := w.LoadReport(args.Reports)
	if err != nil {
		w.Close(ctx)
		return fmt.Errorf("load report: %w", err)
	}

	err = w.DisplayRunReport(ctx, report)

	w.Close(ctx)
	w.Wait(ctx)

	return err
}

func (w *workflow) discover(ctx context.Context, args EstimateArgs) ([]Schema, m.Path, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("working directory: %w", err)
	}

	root := args.Root
	if root == "" {
		root, err = w.FindProjectRoot(w.JoinPath(cwd, "go.mod"))
		if err != nil {
			return nil, "", err
		}
	}

	schemas, err := w.Discover(ctx, root, absolutePaths(cwd, args.Paths), args.Discover)
	if err != nil {
		return nil, root, fmt.Errorf("discover: %w", err)
	}

	return schemas, root, nil
}

func (w *workflow) filterCoverage(ctx context.Context, root m.Path, schemas []Schema, args TestArgs) ([]Schema, error) {
	opts := args.Scheduler.withDefaults()

	coverage, err := w.coverage.Collect(ctx, root, opts.GoBin, opts.BaselineTimeout)
	if err != nil {
		return nil, fmt.Errorf("coverage: %w", err)
	}

	filter := NewCoverageFilter(coverage, args.CoverageThreshold)
	filtered := make([]Schema, 0, len(schemas))

	var before, after int

	for _, schema := range schemas {
		kept := filter.Apply(schema)
		before += schema.Mapping.Len()
		after += kept.Mapping.Len()
		filtered = append(filtered, kept)
	}

	slog.Info("coverage filter applied", "before", before, "after", after, "threshold", args.CoverageThreshold)

	return filtered, nil
}

func (w *workflow) run(ctx context.Context, root m.Path, files []Instrumented, sites []m.MutationSite, args TestArgs) (m.RunReport, error) {
	report := m.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		State:     m.RunDone,
		Score:     NoScore,
	}

	if len(sites) == 0 {
		slog.Info("no mutants to test")
		return report, nil
	}

	dir := journalDir(args.JournalDir, args.ShardIndex, args.ShardCount)

	leftovers, err := pkg.FindFileSpills(dir)
	if err != nil {
		return report, fmt.Errorf("journal: %w", err)
	}

	journal, err := pkg.NewFileSpill[m.MutationTestOutcome](dir)
	if err != nil {
		return report, fmt.Errorf("journal: %w", err)
	}

	defer func() { finishJournal(journal, report.State) }()

	pending := sites

	var reused []m.MutationTestOutcome

	if args.Resume && len(leftovers) > 0 {
		reused, pending = resumeSites(sites, readJournals(leftovers))
		if err := journal.AppendBatch(reused); err != nil {
			return report, fmt.Errorf("journal: %w", err)
		}

		slog.Info("resuming earlier run", "journals", len(leftovers), "reused", len(reused), "pending", len(pending))
	} else if len(leftovers) > 0 {
		slog.Info("discarding journals of an earlier run", "journals", len(leftovers))
	}

	removeJournals(leftovers)

	for _, o := range reused {
		w.DisplayCompletedTestInfo(ctx, o)
	}

	result := m.RunResult{State: m.RunDone}

	if len(pending) > 0 {
		scheduler := NewScheduler(w.TestRunnerAdapter, w.SourceFSAdapter, args.Scheduler)
		result = scheduler.Run(ctx, root, files, pending, journal, func(_ int, outcome m.MutationTestOutcome) {
			w.DisplayCompletedTestInfo(ctx, outcome)
		})
	}

	report.Duration = time.Since(report.StartedAt)
	report.State = result.State
	report.Reason = result.Reason
	report.Log = result.Log
	report.Outcomes = mergeOutcomes(sites, reused, result.Outcomes)
	report.Files = PerFileScores(report.Outcomes)

	report.Score, err = scoreFromJournal(journal)
	if err != nil {
		slog.Warn("failed to read journal, scoring collected outcomes", "error", err)
		report.Score = Score(report.Outcomes)
	}

	slog.Info("mutation run finished",
		"run", report.RunID, "state", report.State, "reason", report.Reason,
		"outcomes", len(report.Outcomes), "score", report.Score, "duration", report.Duration)

	return report, nil
}

// shardSites keeps the sites whose position in the ordered list falls in
// shard index of count.
func shardSites(sites []m.MutationSite, index, count int) []m.MutationSite {
	if count <= 1 {
		return sites
	}

	var out []m.MutationSite

	for i, site := range sites {
		if i%count == index {
			out = append(out, site)
		}
	}

	return out
}

// absolutePaths anchors relative path patterns at cwd, keeping a trailing
// "/..." intact.
func absolutePaths(cwd string, paths []m.Path) []m.Path {
	if len(paths) == 0 {
		paths = []m.Path{"./..."}
	}

	out := make([]m.Path, 0, len(paths))

	for _, p := range paths {
		s := filepath.ToSlash(string(p))

		suffix := ""
		if s == "..." || strings.HasSuffix(s, "/...") {
			suffix = "/..."
			s = strings.TrimSuffix(strings.TrimSuffix(s, "..."), "/")
		}

		target := filepath.FromSlash(s)
		if !filepath.IsAbs(target) {
			target = filepath.Join(cwd, target)
		}

		out = append(out, m.Path(filepath.ToSlash(target)+suffix))
	}

	return out
}

func runError(report m.RunReport) error {
	if report.State != m.RunAborted {
		return nil
	}

	switch report.Reason {
	case m.AbortBuildError, m.AbortRuntimeError, m.AbortTestFailure:
		return fmt.Errorf("%w: %s", ErrBaselineFailed, report.Reason.Message())
	default:
		return fmt.Errorf("%w: %s", ErrRunAborted, report.Reason.Message())
	}
}
