package domain

import (
	"bytes"
	"go/ast"
	"go/token"
	"log/slog"
	"strings"

	m "gooze.dev/pkg/schemata/internal/model"
)

const ignoreDirective = "schemata:ignore"

// ignoreSet is the set of operators a //schemata:ignore comment switches
// off. A directive that names no operator covers all of them.
type ignoreSet struct {
	all   bool
	types map[m.MutationType]struct{}
}

func (s ignoreSet) covers(t m.MutationType) bool {
	if s.all {
		return true
	}

	_, ok := s.types[t]

	return ok
}

func (s *ignoreSet) union(o ignoreSet) {
	if s.all = s.all || o.all; s.all {
		s.types = nil
		return
	}

	for t := range o.types {
		if s.types == nil {
			s.types = make(map[m.MutationType]struct{})
		}

		s.types[t] = struct{}{}
	}
}

// parseIgnore reads a directive from the raw text of one comment. Operator
// names may be separated by commas or spaces; unknown names are skipped.
func parseIgnore(text string) (ignoreSet, bool) {
	body := strings.TrimPrefix(text, "//")
	if strings.HasPrefix(text, "/*") {
		body = strings.TrimSuffix(strings.TrimPrefix(text, "/*"), "*/")
	}

	rest, found := strings.CutPrefix(strings.TrimSpace(body), ignoreDirective)
	if !found || (rest != "" && !strings.ContainsAny(rest[:1], " \t,")) {
		return ignoreSet{}, false
	}

	names := strings.Fields(strings.ReplaceAll(rest, ",", " "))
	if len(names) == 0 {
		return ignoreSet{all: true}, true
	}

	set := ignoreSet{types: make(map[m.MutationType]struct{}, len(names))}

	for _, name := range names {
		t, ok := m.ParseMutationType(name)
		if !ok {
			slog.Debug("unknown operator in ignore directive", "name", name)
			continue
		}

		set.types[t] = struct{}{}
	}

	return set, true
}

// ignoreIndex collects the directives of one file. A directive above the
// package clause covers the file, one in a function's doc comment covers the
// function, and any other covers its own line, or the next line when the
// comment stands alone.
type ignoreIndex struct {
	file  ignoreSet
	funcs map[token.Pos]ignoreSet
	lines map[int]ignoreSet
}

func (idx ignoreIndex) ignoresFunc(fd *ast.FuncDecl, t m.MutationType) bool {
	return idx.funcs[fd.Pos()].covers(t)
}

func (idx ignoreIndex) ignoresLine(line int, t m.MutationType) bool {
	return idx.lines[line].covers(t)
}

func buildIgnoreIndex(file *ast.File, fset *token.FileSet, content []byte) ignoreIndex {
	idx := ignoreIndex{
		funcs: make(map[token.Pos]ignoreSet),
		lines: make(map[int]ignoreSet),
	}

	owners := make(map[*ast.CommentGroup]token.Pos)

	for _, decl := range file.Decls {
		if fd, ok := decl.(*ast.FuncDecl); ok && fd.Doc != nil {
			owners[fd.Doc] = fd.Pos()
		}
	}

	tf := fset.File(file.Pos())

	for _, group := range file.Comments {
		owner, isDoc := owners[group]

		for _, c := range group.List {
			set, ok := parseIgnore(c.Text)
			if !ok {
				continue
			}

			switch {
			case group.End() < file.Package:
				idx.file.union(set)
			case isDoc:
				merged := idx.funcs[owner]
				merged.union(set)
				idx.funcs[owner] = merged
			case tf != nil:
				line := directiveLine(tf, content, c.Slash)
				merged := idx.lines[line]
				merged.union(set)
				idx.lines[line] = merged
			}
		}
	}

	return idx
}

// directiveLine is the line a comment at slash applies to.
func directiveLine(tf *token.File, content []byte, slash token.Pos) int {
	line := tf.Line(slash)
	start, end := tf.Offset(tf.LineStart(line)), tf.Offset(slash)

	if start <= end && end <= len(content) && len(bytes.TrimSpace(content[start:end])) == 0 {
		return line + 1
	}

	return line
}
