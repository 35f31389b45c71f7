package domain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "gooze.dev/pkg/schemata/internal/model"
	pkg "gooze.dev/pkg/schemata/pkg"
)

func hashedSites(hash string, ids ...string) []m.MutationSite {
	sites := make([]m.MutationSite, 0, len(ids))
	for _, id := range ids {
		sites = append(sites, m.MutationSite{ID: id, Type: m.MutationRelational, ShortPath: "calc.go", Hash: hash})
	}

	return sites
}

// writeJournal leaves a closed journal in dir, as an interrupted run would.
func writeJournal(t *testing.T, dir string, outcomes ...m.MutationTestOutcome) string {
	t.Helper()

	journal, err := pkg.NewFileSpill[m.MutationTestOutcome](dir)
	require.NoError(t, err)
	require.NoError(t, journal.AppendBatch(outcomes))
	require.NoError(t, journal.Close())

	return journal.Path()
}

func TestJournalDir(t *testing.T) {
	assert.Equal(t, "/tmp/j", journalDir("/tmp/j", 0, 1))
	assert.Equal(t, "/tmp/j", journalDir("/tmp/j", 0, 0))
	assert.Equal(t, filepath.Join("/tmp/j", "shard-1-of-3"), journalDir("/tmp/j", 1, 3))
	assert.NotEqual(t, journalDir("/tmp/j", 0, 2), journalDir("/tmp/j", 1, 2))
}

func TestReadJournals(t *testing.T) {
	dir := t.TempDir()
	sites := hashedSites("h1", "a", "b")

	first := writeJournal(t, dir,
		m.MutationTestOutcome{Site: sites[0], Outcome: m.Passed},
		m.MutationTestOutcome{Site: sites[1], Outcome: m.Passed},
	)
	second := writeJournal(t, dir, m.MutationTestOutcome{Site: sites[1], Outcome: m.Failed})

	prior := readJournals([]string{first, second, filepath.Join(dir, "journal-missing.gob")})

	require.Len(t, prior, 2)
	assert.Equal(t, m.Passed, prior["a"].Outcome)
	assert.Equal(t, m.Failed, prior["b"].Outcome, "later journals win")
}

func TestResumeSites(t *testing.T) {
	sites := hashedSites("h1", "a", "b", "c")
	prior := map[string]m.MutationTestOutcome{
		"a": {Site: sites[0], Outcome: m.Failed},
		"c": {Site: hashedSites("old", "c")[0], Outcome: m.Failed},
	}

	reused, pending := resumeSites(sites, prior)

	require.Len(t, reused, 1)
	assert.Equal(t, "a", reused[0].Site.ID)
	assert.Equal(t, m.Failed, reused[0].Outcome)

	require.Len(t, pending, 2)
	assert.Equal(t, "b", pending[0].ID)
	assert.Equal(t, "c", pending[1].ID, "an edited file runs again")
}

func TestResumeSites_UnhashedSitesRunAgain(t *testing.T) {
	sites := hashedSites("", "a")
	prior := map[string]m.MutationTestOutcome{"a": {Site: sites[0], Outcome: m.Failed}}

	reused, pending := resumeSites(sites, prior)

	assert.Empty(t, reused)
	assert.Len(t, pending, 1)
}

func TestMergeOutcomes(t *testing.T) {
	sites := hashedSites("h1", "a", "b", "c", "d")

	got := mergeOutcomes(sites,
		[]m.MutationTestOutcome{{Site: sites[2]}, {Site: sites[0]}},
		[]m.MutationTestOutcome{{Site: sites[3]}},
	)

	ids := make([]string, 0, len(got))
	for _, o := range got {
		ids = append(ids, o.Site.ID)
	}

	assert.Equal(t, []string{"a", "c", "d"}, ids)
}

func TestFinishJournal(t *testing.T) {
	t.Run("finished run removes the journal", func(t *testing.T) {
		journal, err := pkg.NewFileSpill[m.MutationTestOutcome](t.TempDir())
		require.NoError(t, err)
		require.NoError(t, journal.Append(m.MutationTestOutcome{Site: m.MutationSite{ID: "a"}}))

		finishJournal(journal, m.RunDone)

		_, err = os.Stat(journal.Path())
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("aborted run keeps its outcomes", func(t *testing.T) {
		journal, err := pkg.NewFileSpill[m.MutationTestOutcome](t.TempDir())
		require.NoError(t, err)
		require.NoError(t, journal.Append(m.MutationTestOutcome{Site: m.MutationSite{ID: "a"}}))

		finishJournal(journal, m.RunAborted)

		reopened, err := pkg.OpenFileSpill[m.MutationTestOutcome](journal.Path())
		require.NoError(t, err)
		assert.Equal(t, uint64(1), reopened.Len())
		assert.ErrorIs(t, journal.Append(m.MutationTestOutcome{}), pkg.ErrSpillClosed)
	})

	t.Run("aborted run without outcomes removes the journal", func(t *testing.T) {
		journal, err := pkg.NewFileSpill[m.MutationTestOutcome](t.TempDir())
		require.NoError(t, err)

		finishJournal(journal, m.RunAborted)

		_, err = os.Stat(journal.Path())
		assert.True(t, os.IsNotExist(err))
	})
}
