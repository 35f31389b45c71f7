package controller

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	m "gooze.dev/pkg/schemata/internal/model"
)

// SimpleUI implements UI using cobra Command's output stream.
type SimpleUI struct {
	cmd *cobra.Command
}

// NewSimpleUI creates a new SimpleUI.
func NewSimpleUI(cmd *cobra.Command) *SimpleUI {
	return &SimpleUI{cmd: cmd}
}

// Start initializes the UI.
func (s *SimpleUI) Start(ctx context.Context, _ ...StartOption) error {
	return ctx.Err()
}

// Close finalizes the UI.
func (s *SimpleUI) Close(context.Context) {}

// Wait blocks until the UI is closed (no-op for SimpleUI).
func (s *SimpleUI) Wait(context.Context) {}

// DisplayEstimation prints the number of mutants per file.
func (s *SimpleUI) DisplayEstimation(ctx context.Context, sites []m.MutationSite, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if err != nil {
		s.printf("estimation error: %v\n", err)
		return err
	}

	s.printf("\n%s", renderEstimationTable(buildFileStats(sites), len(sites)))

	return nil
}

type fileStat struct {
	path   string
	count  int
	byType map[m.MutationType]int
}

func buildFileStats(sites []m.MutationSite) []fileStat {
	info := make(map[m.Path]*fileStat)

	for _, site := range sites {
		stat, ok := info[site.ShortPath]
		if !ok {
			stat = &fileStat{path: string(site.ShortPath), byType: make(map[m.MutationType]int)}
			info[site.ShortPath] = stat
		}

		stat.count++
		stat.byType[site.Type]++
	}

	statsList := make([]fileStat, 0, len(info))
	for _, stat := range info {
		statsList = append(statsList, *stat)
	}

	sort.Slice(statsList, func(i, j int) bool {
		return statsList[i].path < statsList[j].path
	})

	return statsList
}

func typeSummary(byType map[m.MutationType]int) string {
	parts := make([]string, 0, len(byType))

	for _, t := range m.MutationTypes {
		if n := byType[t]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", t, n))
		}
	}

	return strings.Join(parts, " ")
}

func renderEstimationTable(statsList []fileStat, totalMutations int) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Path", "Mutants", "Operators"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER, tablewriter.ALIGN_LEFT})

	for _, stat := range statsList {
		table.Append([]string{stat.path, fmt.Sprintf("%d", stat.count), typeSummary(stat.byType)})
	}

	table.SetFooter([]string{
		fmt.Sprintf("Total Files %d", len(statsList)),
		fmt.Sprintf("%d", totalMutations),
		"",
	})

	table.Render()

	return tableBuffer.String()
}

// DisplayConcurrencyInfo shows concurrency settings.
func (s *SimpleUI) DisplayConcurrencyInfo(ctx context.Context, threads int, shardIndex int, shardCount int) {
	if ctx.Err() != nil {
		return
	}

	s.printf("Running with %d worker(s) (shard %d/%d)\n", threads, shardIndex, shardCount)
}

// DisplayUpcomingTestsInfo shows the number of upcoming mutants to be tested.
func (s *SimpleUI) DisplayUpcomingTestsInfo(ctx context.Context, total int) {
	if ctx.Err() != nil {
		return
	}

	s.printf("Upcoming mutants: %d\n", total)
}

// DisplayCompletedTestInfo prints one line per mutant, plus the diff of
// mutants that survived.
func (s *SimpleUI) DisplayCompletedTestInfo(ctx context.Context, outcome m.MutationTestOutcome) {
	if ctx.Err() != nil {
		return
	}

	site := outcome.Site
	s.printf("%s %s:%d (%s) -> %s\n",
		shortID(site.ID), site.ShortPath, site.Position.Line, site.Type, outcome.Outcome)

	if outcome.Outcome == m.Passed && site.Diff != "" {
		s.printf("%s\n", site.Diff)
	}
}

// DisplayRunReport prints per-file scores and the run summary.
func (s *SimpleUI) DisplayRunReport(ctx context.Context, report m.RunReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.printf("\n%s", renderReportTable(report))

	if report.State == m.RunAborted {
		s.printf("Run aborted: %s\n", report.Reason.Message())

		if report.Log != "" {
			s.printf("%s\n", report.Log)
		}
	}

	s.printf("Mutation score: %s\n", formatScore(report.Score))

	return nil
}

func renderReportTable(report m.RunReport) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Path", "Killed", "Survived", "Build errors", "Score"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_RIGHT,
	})

	var killed, survived, skipped int

	for _, f := range report.Files {
		table.Append([]string{
			string(f.Path),
			fmt.Sprintf("%d", f.Killed),
			fmt.Sprintf("%d", f.Survived),
			fmt.Sprintf("%d", f.Skipped),
			formatScore(f.Score),
		})

		killed += f.Killed
		survived += f.Survived
		skipped += f.Skipped
	}

	table.SetFooter([]string{
		fmt.Sprintf("Total Files %d", len(report.Files)),
		fmt.Sprintf("%d", killed),
		fmt.Sprintf("%d", survived),
		fmt.Sprintf("%d", skipped),
		formatScore(report.Score),
	})

	table.Render()

	return tableBuffer.String()
}

func (s *SimpleUI) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), format, args...)
}

// formatScore renders a score, or n/a when no mutant was tested.
func formatScore(score int) string {
	if score < 0 {
		return "n/a"
	}

	return fmt.Sprintf("%d%%", score)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}
