package controller

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	m "gooze.dev/pkg/schemata/internal/model"
)

const recentLines = 8

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	killedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	survivedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	mutedStyle    = lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("245"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// TUI implements UI using Bubble Tea for interactive display.
type TUI struct {
	output io.Writer

	mu      sync.Mutex
	program *tea.Program
	done    chan struct{}
}

// NewTUI creates a new TUI.
func NewTUI(output io.Writer) *TUI {
	return &TUI{output: output}
}

// Start launches the Bubble Tea program in the background.
func (t *TUI) Start(ctx context.Context, options ...StartOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg := newStartConfig(options)

	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithOutput(t.output)}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.program = tea.NewProgram(newRunModel(cfg.mode), opts...)
	t.done = make(chan struct{})

	go func(p *tea.Program, done chan struct{}) {
		defer close(done)

		final, err := p.Run()
		if err != nil {
			return
		}

		if rm, ok := final.(runModel); ok && rm.interrupted && cfg.interrupt != nil {
			cfg.interrupt()
		}
	}(t.program, t.done)

	return nil
}

// Close tells the program that no more updates will arrive.
func (t *TUI) Close(context.Context) {
	t.send(finishMsg{})
}

// Wait blocks until the user quits the program.
func (t *TUI) Wait(ctx context.Context) {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()

	if done == nil {
		return
	}

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// DisplayEstimation shows the mutant counts per file.
func (t *TUI) DisplayEstimation(ctx context.Context, sites []m.MutationSite, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	t.send(estimationMsg{stats: buildFileStats(sites), total: len(sites), err: err})

	return err
}

// DisplayConcurrencyInfo shows concurrency settings.
func (t *TUI) DisplayConcurrencyInfo(_ context.Context, threads int, shardIndex int, shardCount int) {
	t.send(concurrencyMsg{threads: threads, shardIndex: shardIndex, shardCount: shardCount})
}

// DisplayUpcomingTestsInfo sets the size of the progress bar.
func (t *TUI) DisplayUpcomingTestsInfo(_ context.Context, total int) {
	t.send(upcomingMsg{total: total})
}

// DisplayCompletedTestInfo advances the progress bar.
func (t *TUI) DisplayCompletedTestInfo(_ context.Context, outcome m.MutationTestOutcome) {
	t.send(completedMsg{outcome: outcome})
}

// DisplayRunReport shows the final per-file scores.
func (t *TUI) DisplayRunReport(ctx context.Context, report m.RunReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.send(reportMsg{report: report})

	return nil
}

func (t *TUI) send(msg tea.Msg) {
	t.mu.Lock()
	p := t.program
	t.mu.Unlock()

	if p != nil {
		p.Send(msg)
	}
}

type finishMsg struct{}

type estimationMsg struct {
	stats []fileStat
	total int
	err   error
}

type concurrencyMsg struct{ threads, shardIndex, shardCount int }

type upcomingMsg struct{ total int }

type completedMsg struct{ outcome m.MutationTestOutcome }

type reportMsg struct{ report m.RunReport }

type runModel struct {
	mode   StartMode
	width  int
	height int
	offset int

	spinner  spinner.Model
	progress progress.Model

	threads    int
	shardIndex int
	shardCount int
	total      int
	completed  int
	counts     map[m.TestOutcome]int
	recent     []string

	stats      []fileStat
	statsTotal int
	report     *m.RunReport
	err        error

	finished    bool
	interrupted bool
}

func newRunModel(mode StartMode) runModel {
	return runModel{
		mode:       mode,
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		progress:   progress.New(progress.WithDefaultGradient()),
		counts:     make(map[m.TestOutcome]int),
		shardCount: 1,
	}
}

func (rm runModel) Init() tea.Cmd {
	return rm.spinner.Tick
}

//nolint:cyclop // One case per message type.
func (rm runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		rm.width = msg.Width
		rm.height = msg.Height
		rm.progress.Width = max(msg.Width-8, 10)

		return rm, nil

	case tea.KeyMsg:
		return rm.handleKeyPress(msg)

	case spinner.TickMsg:
		if rm.finished {
			return rm, nil
		}

		var cmd tea.Cmd
		rm.spinner, cmd = rm.spinner.Update(msg)

		return rm, cmd

	case estimationMsg:
		rm.stats = msg.stats
		rm.statsTotal = msg.total
		rm.err = msg.err

	case concurrencyMsg:
		rm.threads = msg.threads
		rm.shardIndex = msg.shardIndex
		rm.shardCount = msg.shardCount

	case upcomingMsg:
		rm.total = msg.total

	case completedMsg:
		rm.completed++
		rm.counts[msg.outcome.Outcome]++
		rm.recent = append(rm.recent, completedLine(msg.outcome))

		if len(rm.recent) > recentLines {
			rm.recent = rm.recent[len(rm.recent)-recentLines:]
		}

	case reportMsg:
		report := msg.report
		rm.report = &report

	case finishMsg:
		rm.finished = true
		if rm.err != nil || (rm.report == nil && len(rm.stats) == 0) {
			return rm, tea.Quit
		}
	}

	return rm, nil
}

//nolint:exhaustive // Only navigation keys are handled.
func (rm runModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		rm.interrupted = !rm.finished
		return rm, tea.Quit
	default:
	}

	switch msg.String() {
	case "q":
		rm.interrupted = !rm.finished
		return rm, tea.Quit
	case "down", "j":
		rm.offset = min(rm.offset+1, rm.maxOffset())
	case "up", "k":
		rm.offset = max(rm.offset-1, 0)
	case "g", "home":
		rm.offset = 0
	case "G", "end":
		rm.offset = rm.maxOffset()
	case "d", "pgdown":
		rm.offset = min(rm.offset+rm.itemsPerPage(), rm.maxOffset())
	case "u", "pgup":
		rm.offset = max(rm.offset-rm.itemsPerPage(), 0)
	}

	return rm, nil
}

// itemsPerPage calculates how many list rows fit on screen.
func (rm runModel) itemsPerPage() int {
	if rm.height == 0 {
		return 10
	}

	// header, summary and footer
	const reserved = 8

	return max(rm.height-reserved, 1)
}

func (rm runModel) rows() []string {
	if rm.report != nil {
		return reportRows(*rm.report)
	}

	return estimationRows(rm.stats)
}

func (rm runModel) maxOffset() int {
	return max(len(rm.rows())-rm.itemsPerPage(), 0)
}

func (rm runModel) View() string {
	var b strings.Builder

	switch {
	case rm.err != nil:
		b.WriteString(survivedStyle.Render(fmt.Sprintf("error: %v", rm.err)))
		b.WriteString("\n")
	case rm.report != nil:
		rm.renderReport(&b)
	case rm.mode == ModeEstimate:
		rm.renderEstimation(&b)
	default:
		rm.renderProgress(&b)
	}

	return b.String()
}

func (rm runModel) renderProgress(b *strings.Builder) {
	fmt.Fprintf(b, "%s %s %d/%d %s\n",
		rm.spinner.View(),
		titleStyle.Render("Testing mutants"),
		rm.completed, rm.total,
		mutedStyle.Render(fmt.Sprintf("(%d worker(s), shard %d/%d)", rm.threads, rm.shardIndex, rm.shardCount)),
	)

	percent := 0.0
	if rm.total > 0 {
		percent = float64(rm.completed) / float64(rm.total)
	}

	b.WriteString(rm.progress.ViewAs(percent))
	b.WriteString("\n\n")

	fmt.Fprintf(b, "%s  %s  %s\n\n",
		killedStyle.Render(fmt.Sprintf("killed %d", rm.counts[m.Failed]+rm.counts[m.RuntimeError]+rm.counts[m.Timeout])),
		survivedStyle.Render(fmt.Sprintf("survived %d", rm.counts[m.Passed])),
		countStyle(rm.counts[m.BuildError]).Render(fmt.Sprintf("build errors %d", rm.counts[m.BuildError])),
	)

	for _, line := range rm.recent {
		b.WriteString(line)
		b.WriteString("\n")
	}
}

func (rm runModel) renderEstimation(b *strings.Builder) {
	b.WriteString(titleStyle.Render("Mutants per file"))
	b.WriteString("\n\n")

	if len(rm.stats) == 0 {
		b.WriteString(mutedStyle.Render("No mutation sites found"))
		b.WriteString("\n")

		return
	}

	rm.renderPage(b)
	fmt.Fprintf(b, "\nTotal: %d mutant(s) in %d file(s)\n", rm.statsTotal, len(rm.stats))
	rm.renderFooter(b)
}

func (rm runModel) renderReport(b *strings.Builder) {
	report := *rm.report

	b.WriteString(titleStyle.Render("Mutation report " + report.RunID))
	b.WriteString("\n\n")

	rm.renderPage(b)

	if report.State == m.RunAborted {
		fmt.Fprintf(b, "\n%s\n", survivedStyle.Render("Run aborted: "+report.Reason.Message()))

		if log := strings.TrimRight(report.Log, "\n"); log != "" {
			fmt.Fprintf(b, "\n%s\n", log)
		}
	}

	fmt.Fprintf(b, "\nMutation score: %s\n", scoreStyle(report.Score).Render(formatScore(report.Score)))
	rm.renderFooter(b)
}

func (rm runModel) renderPage(b *strings.Builder) {
	rows := rm.rows()
	end := min(rm.offset+rm.itemsPerPage(), len(rows))

	for _, row := range rows[min(rm.offset, end):end] {
		b.WriteString(row)
		b.WriteString("\n")
	}
}

func (rm runModel) renderFooter(b *strings.Builder) {
	help := "q quit"
	if len(rm.rows()) > rm.itemsPerPage() && rm.height > 0 {
		help = "j/k scroll  d/u page  g/G top/bottom  q quit"
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render(help))
	b.WriteString("\n")
}

func estimationRows(stats []fileStat) []string {
	rows := make([]string, 0, len(stats))
	for _, stat := range stats {
		rows = append(rows, fmt.Sprintf("  %-48s %5d  %s", stat.path, stat.count, mutedStyle.Render(typeSummary(stat.byType))))
	}

	return rows
}

func reportRows(report m.RunReport) []string {
	rows := make([]string, 0, len(report.Files))
	for _, f := range report.Files {
		rows = append(rows, fmt.Sprintf("  %-48s %s %s %s %6s",
			f.Path,
			countStyle(f.Killed).Render(fmt.Sprintf("%4d killed", f.Killed)),
			survivedCountStyle(f.Survived).Render(fmt.Sprintf("%4d survived", f.Survived)),
			countStyle(f.Skipped).Render(fmt.Sprintf("%4d build", f.Skipped)),
			formatScore(f.Score),
		))
	}

	return rows
}

func completedLine(outcome m.MutationTestOutcome) string {
	style := killedStyle
	switch {
	case outcome.Outcome == m.Passed:
		style = survivedStyle
	case outcome.Outcome == m.BuildError:
		style = mutedStyle
	}

	site := outcome.Site

	return fmt.Sprintf("  %s %s:%d %s %s",
		mutedStyle.Render(shortID(site.ID)), site.ShortPath, site.Position.Line, site.Type, style.Render(outcome.Outcome.String()))
}

func countStyle(n int) lipgloss.Style {
	if n == 0 {
		return mutedStyle
	}

	return lipgloss.NewStyle()
}

func survivedCountStyle(n int) lipgloss.Style {
	if n == 0 {
		return mutedStyle
	}

	return survivedStyle
}

func scoreStyle(score int) lipgloss.Style {
	switch {
	case score < 0:
		return mutedStyle
	case score >= 80:
		return killedStyle
	default:
		return survivedStyle
	}
}
