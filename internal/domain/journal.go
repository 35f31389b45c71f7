package domain

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	m "gooze.dev/pkg/schemata/internal/model"
	pkg "gooze.dev/pkg/schemata/pkg"
)

// journalDir returns the journal directory of one shard, so shards sharing a
// reports directory never read each other's journals.
func journalDir(dir string, shardIndex, shardCount int) string {
	if shardCount <= 1 {
		return dir
	}

	return filepath.Join(dir, fmt.Sprintf("shard-%d-of-%d", shardIndex, shardCount))
}

// readJournals collects the outcomes recorded in the journals at paths,
// keyed by mutant id. Later journals win. Unreadable journals are skipped.
func readJournals(paths []string) map[string]m.MutationTestOutcome {
	prior := make(map[string]m.MutationTestOutcome)

	for _, path := range paths {
		journal, err := pkg.OpenFileSpill[m.MutationTestOutcome](path)
		if err != nil {
			slog.Warn("skipping unreadable journal", "path", path, "error", err)
			continue
		}

		err = journal.Range(func(_ uint64, o m.MutationTestOutcome) error {
			prior[o.Site.ID] = o
			return nil
		})
		if err != nil {
			slog.Warn("journal read stopped early", "path", path, "error", err)
		}
	}

	return prior
}

// resumeSites splits sites into outcomes an earlier run recorded for the same
// file content and the sites that still have to run. Both keep site order.
func resumeSites(sites []m.MutationSite, prior map[string]m.MutationTestOutcome) ([]m.MutationTestOutcome, []m.MutationSite) {
	var (
		reused  []m.MutationTestOutcome
		pending []m.MutationSite
	)

	for _, site := range sites {
		o, ok := prior[site.ID]
		if !ok || site.Hash == "" || o.Site.Hash != site.Hash {
			pending = append(pending, site)
			continue
		}

		o.Site = site
		reused = append(reused, o)
	}

	return reused, pending
}

// mergeOutcomes orders outcomes by the position of their site in sites.
func mergeOutcomes(sites []m.MutationSite, groups ...[]m.MutationTestOutcome) []m.MutationTestOutcome {
	byID := make(map[string]m.MutationTestOutcome)

	for _, group := range groups {
		for _, o := range group {
			byID[o.Site.ID] = o
		}
	}

	out := make([]m.MutationTestOutcome, 0, len(byID))

	for _, site := range sites {
		if o, ok := byID[site.ID]; ok {
			out = append(out, o)
		}
	}

	return out
}

func removeJournals(paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove journal", "path", path, "error", err)
		}
	}
}

// finishJournal deletes the journal of a finished run. An unfinished run
// keeps it for a later resume.
func finishJournal(journal pkg.FileSpill[m.MutationTestOutcome], state m.RunState) {
	if state == m.RunDone || journal.Len() == 0 {
		if err := journal.Remove(); err != nil {
			slog.Warn("failed to remove journal", "path", journal.Path(), "error", err)
		}

		return
	}

	if err := journal.Close(); err != nil {
		slog.Warn("failed to close journal", "path", journal.Path(), "error", err)
	}

	slog.Info("journal kept for resume", "path", journal.Path(), "outcomes", journal.Len())
}
