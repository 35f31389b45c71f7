package domain

import (
	"math"
	"sort"

	m "gooze.dev/pkg/schemata/internal/model"
	pkg "gooze.dev/pkg/schemata/pkg"
)

// NoScore is reported when there are no outcomes at all.
const NoScore = -1

type tally struct {
	killed, survived, skipped int
}

func (t *tally) add(o m.TestOutcome) {
	switch {
	case o == m.BuildError:
		t.skipped++
	case o.Killed():
		t.killed++
	default:
		t.survived++
	}
}

func (t tally) total() int {
	return t.killed + t.survived + t.skipped
}

// score returns round(100*killed/considered). Build errors are not
// considered; with nothing considered the score is 0.
func (t tally) score() int {
	if t.total() == 0 {
		return NoScore
	}

	considered := t.killed + t.survived
	if considered == 0 {
		return 0
	}

	return int(math.Round(100 * float64(t.killed) / float64(considered)))
}

// Score aggregates outcomes into a percentage of killed mutants.
func Score(outcomes []m.MutationTestOutcome) int {
	var t tally
	for _, o := range outcomes {
		t.add(o.Outcome)
	}

	return t.score()
}

// PerFileScores partitions outcomes by original file, sorted by path.
func PerFileScores(outcomes []m.MutationTestOutcome) []m.FileScore {
	byFile := make(map[m.Path]*tally)

	for _, o := range outcomes {
		t, ok := byFile[o.Path]
		if !ok {
			t = &tally{}
			byFile[o.Path] = t
		}

		t.add(o.Outcome)
	}

	scores := make([]m.FileScore, 0, len(byFile))
	for path, t := range byFile {
		scores = append(scores, m.FileScore{
			Path:     path,
			Score:    t.score(),
			Killed:   t.killed,
			Survived: t.survived,
			Skipped:  t.skipped,
			Total:    t.total(),
		})
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].Path < scores[j].Path })

	return scores
}

// scoreFromJournal computes the global score straight from an outcome journal.
func scoreFromJournal(journal pkg.FileSpill[m.MutationTestOutcome]) (int, error) {
	var t tally

	err := journal.Range(func(_ uint64, o m.MutationTestOutcome) error {
		t.add(o.Outcome)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return t.score(), nil
}
