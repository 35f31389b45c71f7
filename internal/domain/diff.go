package domain

import (
	"github.com/pmezard/go-difflib/difflib"
)

// unifiedDiff renders the change between two versions of a file with two
// lines of context. It returns "" when the diff cannot be produced.
func unifiedDiff(name string, before, after []byte) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: name,
		ToFile:   name + " (mutant)",
		Context:  2,
	}

	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}

	return text
}
