// Package model defines the data structures for mutation testing.
package model

import "strings"

// MutationType identifies a mutation operator.
type MutationType string

const (
	// MutationRelational swaps a comparison with its negation (== and !=, < and >=, > and <=).
	MutationRelational MutationType = "relational"
	// MutationBoundary moves a comparison boundary (< and <=, > and >=).
	MutationBoundary MutationType = "boundary"
	// MutationLogical swaps && and ||.
	MutationLogical MutationType = "logical"
	// MutationNegation negates if and for conditions.
	MutationNegation MutationType = "negation"
	// MutationBranch swaps the arms of an if/else.
	MutationBranch MutationType = "branch"
	// MutationStatement removes side-effecting call statements.
	MutationStatement MutationType = "statement"
	// MutationArithmetic swaps arithmetic operators (+ and -, * and /, % to *).
	MutationArithmetic MutationType = "arithmetic"
	// MutationIncrement swaps ++ and --.
	MutationIncrement MutationType = "increment"
	// MutationBoolean flips boolean literals.
	MutationBoolean MutationType = "boolean"
)

// MutationTypes lists every operator in catalog order.
var MutationTypes = []MutationType{
	MutationRelational,
	MutationBoundary,
	MutationLogical,
	MutationNegation,
	MutationBranch,
	MutationStatement,
	MutationArithmetic,
	MutationIncrement,
	MutationBoolean,
}

// ParseMutationType resolves a configured operator name.
func ParseMutationType(name string) (MutationType, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, t := range MutationTypes {
		if string(t) == name {
			return t, true
		}
	}

	return "", false
}

// Position is a location in the original, uninstrumented file.
type Position struct {
	Line   int
	Column int
	Offset int
}

// BlockKind tells function bodies from closure bodies.
type BlockKind string

// Block kinds.
const (
	BlockFunction BlockKind = "function"
	BlockClosure  BlockKind = "closure"
)

// BlockHandle identifies the smallest function or closure body enclosing a
// mutation site. Start and End are the byte offsets of the body's braces.
type BlockHandle struct {
	File  Path
	Start int
	End   int
	Kind  BlockKind
	Name  string
}

// Contains reports whether other lies strictly inside b.
func (b BlockHandle) Contains(other BlockHandle) bool {
	return b.File == other.File && b.Start < other.Start && other.End < b.End
}

// MutationSite is one mutant: a byte range of the original file and the text
// that replaces it when the mutant is active.
type MutationSite struct {
	ID          string
	Type        MutationType
	File        Path   // full path of the original file
	ShortPath   Path   // path relative to the project root
	Hash        string // content hash of the original file at discovery
	Function    string
	Position    Position
	Block       BlockHandle
	Start       int
	End         int
	Original    string
	Mutated     string
	Description string
	Diff        string

	// InstrumentedLine is the line of the active mutant branch in the
	// instrumented copy. Zero until the file has been rewritten.
	InstrumentedLine int
}
