package model

import (
	"fmt"
	"time"
)

// TestOutcome classifies one run of the test suite.
type TestOutcome int

const (
	// Passed means the suite passed: the mutant survived.
	Passed TestOutcome = iota
	// Failed means at least one test failed: the mutant was killed.
	Failed
	// BuildError means the instrumented project did not compile.
	BuildError
	// RuntimeError means the test process crashed or terminated abnormally.
	RuntimeError
	// Timeout means the test process exceeded the per-mutant timeout.
	Timeout
)

func (o TestOutcome) String() string {
	switch o {
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	case BuildError:
		return "buildError"
	case RuntimeError:
		return "runtimeError"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// MarshalText encodes the outcome by name.
func (o TestOutcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText decodes an outcome name.
func (o *TestOutcome) UnmarshalText(text []byte) error {
	for _, candidate := range []TestOutcome{Passed, Failed, BuildError, RuntimeError, Timeout} {
		if candidate.String() == string(text) {
			*o = candidate
			return nil
		}
	}

	return fmt.Errorf("unknown test outcome %q", string(text))
}

// Killed reports whether the outcome counts as a detected mutant.
func (o TestOutcome) Killed() bool {
	return o == Failed || o == RuntimeError || o == Timeout
}

// MutationTestOutcome records the result of running the suite against one mutant.
type MutationTestOutcome struct {
	Site     MutationSite
	Outcome  TestOutcome
	Path     Path // original project relative path
	Duration time.Duration
	Log      string
}

// RunState is the terminal state of a scheduling run.
type RunState string

// Run states.
const (
	RunDone    RunState = "done"
	RunAborted RunState = "aborted"
)

// AbortReason explains why a run stopped early.
type AbortReason string

// Abort reasons.
const (
	AbortNone               AbortReason = ""
	AbortBuildError         AbortReason = "buildError"
	AbortRuntimeError       AbortReason = "runtimeError"
	AbortTestFailure        AbortReason = "testFailure"
	AbortTooManyBuildErrors AbortReason = "tooManyBuildErrors"
	AbortFilesystemError    AbortReason = "filesystemError"
	AbortCancelled          AbortReason = "cancelled"
)

// Message returns a human-readable description of the reason.
func (r AbortReason) Message() string {
	switch r {
	case AbortNone:
		return ""
	case AbortBuildError:
		return "baseline build failed"
	case AbortRuntimeError:
		return "baseline test run terminated abnormally"
	case AbortTestFailure:
		return "baseline tests failed"
	case AbortTooManyBuildErrors:
		return "too many consecutive mutant build errors"
	case AbortFilesystemError:
		return "working copy could not be restored"
	case AbortCancelled:
		return "run cancelled"
	default:
		return string(r)
	}
}

// RunResult is what the scheduler returns. Outcomes collected before an
// abort are always kept.
type RunResult struct {
	State    RunState
	Reason   AbortReason
	Log      string
	Outcomes []MutationTestOutcome
}

// FileScore is the score of a single original file.
type FileScore struct {
	Path     Path
	Score    int
	Killed   int
	Survived int
	Skipped  int // build errors
	Total    int
}

// RunReport is the persisted summary of a run.
type RunReport struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	State     RunState
	Reason    AbortReason
	Log       string
	Score     int
	Files     []FileScore
	Outcomes  []MutationTestOutcome
}
