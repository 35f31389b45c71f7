package domain

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gooze.dev/pkg/schemata/internal/adapter"
	m "gooze.dev/pkg/schemata/internal/model"
	pkg "gooze.dev/pkg/schemata/pkg"
)

func TestMutationIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("runs the go tool once per mutant")
	}

	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go tool not available")
	}

	tests := []struct {
		example  string
		types    []m.MutationType
		function string
		killed   m.MutationType
	}{
		{
			example:  "boolean",
			types:    []m.MutationType{m.MutationLogical, m.MutationBoolean},
			function: "checkStatus",
			killed:   m.MutationLogical,
		},
		{
			example:  "comparison",
			types:    []m.MutationType{m.MutationRelational},
			function: "Max",
			killed:   m.MutationRelational,
		},
	}

	for _, tt := range tests {
		t.Run(tt.example, func(t *testing.T) {
			root, err := filepath.Abs(filepath.Join("..", "..", "examples", tt.example))
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			mutagen := newTestMutagen()

			schemas, err := mutagen.Discover(ctx, m.Path(root), nil, DiscoverOptions{Types: tt.types})
			require.NoError(t, err)

			files, sites, err := mutagen.Instrument(ctx, schemas)
			require.NoError(t, err)
			require.Len(t, files, 1)
			require.NotEmpty(t, sites)

			journal, err := pkg.NewFileSpill[m.MutationTestOutcome](t.TempDir())
			require.NoError(t, err)

			defer func() { _ = journal.Remove() }()

			fs := adapter.NewLocalSourceFSAdapter()
			scheduler := NewScheduler(adapter.NewLocalTestRunnerAdapter(), fs, SchedulerOptions{Parallel: 2})

			result := scheduler.Run(ctx, m.Path(root), files, sites, journal, nil)
			require.Equal(t, m.RunDone, result.State, result.Log)
			require.Len(t, result.Outcomes, len(sites))

			var detected bool

			for _, o := range result.Outcomes {
				assert.NotEqual(t, m.BuildError, o.Outcome, "%s: %s", o.Site.Description, o.Log)

				if o.Site.Type == tt.killed && o.Site.Function == tt.function && o.Outcome.Killed() {
					detected = true
				}
			}

			assert.True(t, detected, "a %s mutant in %s is detected", tt.killed, tt.function)

			score, err := scoreFromJournal(journal)
			require.NoError(t, err)
			assert.Equal(t, Score(result.Outcomes), score)

			content, err := fs.ReadFile(m.Path(filepath.Join(root, "main.go")))
			require.NoError(t, err)
			assert.Equal(t, files[0].Source.Content, content, "the project itself is never modified")
		})
	}
}
