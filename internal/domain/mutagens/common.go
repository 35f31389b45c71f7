// Package mutagens holds the mutation operator catalog. Each operator inspects
// one AST node at a time and returns byte-range edits against the original
// file; it never rewrites the tree.
package mutagens

import (
	"go/ast"
	"go/constant"
	"go/token"
	"go/types"

	m "gooze.dev/pkg/schemata/internal/model"
)

// Context carries the per-file inputs operators need.
type Context struct {
	FileSet *token.FileSet
	Content []byte
	Info    *types.Info // nil when the package could not be type checked

	// ExcludeCalls names calls the statement operator must never remove, in
	// addition to the built-in deny-list.
	ExcludeCalls []string
}

// Target is a node under inspection together with its parent.
type Target struct {
	Node   ast.Node
	Parent ast.Node
}

// Edit replaces Content[Start:End] with Replacement.
type Edit struct {
	Pos         token.Pos // reported position of the mutant
	Start       int
	End         int
	Replacement string
	Description string
	Variant     int
}

// Operator is one mutation rule.
type Operator interface {
	Type() m.MutationType
	CanMutate(t Target) bool
	Mutate(ctx *Context, t Target) []Edit
}

// Catalog returns the operators for kinds in catalog order. With no kinds it
// returns the full catalog.
func Catalog(kinds ...m.MutationType) []Operator {
	all := []Operator{
		relational{},
		boundary{},
		logical{},
		negation{},
		branch{},
		statement{},
		arithmetic{},
		increment{},
		boolean{},
	}

	if len(kinds) == 0 {
		return all
	}

	wanted := make(map[m.MutationType]struct{}, len(kinds))
	for _, t := range kinds {
		wanted[t] = struct{}{}
	}

	ops := make([]Operator, 0, len(kinds))

	for _, op := range all {
		if _, ok := wanted[op.Type()]; ok {
			ops = append(ops, op)
		}
	}

	return ops
}

func offsetForPos(fset *token.FileSet, pos token.Pos) (int, bool) {
	file := fset.File(pos)
	if file == nil {
		return 0, false
	}

	return file.Offset(pos), true
}

func replaceRange(content []byte, start, end int, replacement string) []byte {
	if start < 0 || end < start || end > len(content) {
		return content
	}

	mutated := make([]byte, 0, len(content)-(end-start)+len(replacement))
	mutated = append(mutated, content[:start]...)
	mutated = append(mutated, []byte(replacement)...)
	mutated = append(mutated, content[end:]...)

	return mutated
}

// Apply returns content with e applied.
func Apply(content []byte, e Edit) []byte {
	return replaceRange(content, e.Start, e.End, e.Replacement)
}

func (c *Context) span(n ast.Node) (int, int, bool) {
	start, ok := offsetForPos(c.FileSet, n.Pos())
	if !ok {
		return 0, 0, false
	}

	end, ok := offsetForPos(c.FileSet, n.End())
	if !ok || end > len(c.Content) || start > end {
		return 0, 0, false
	}

	return start, end, true
}

func (c *Context) text(n ast.Node) (string, bool) {
	start, end, ok := c.span(n)
	if !ok {
		return "", false
	}

	return string(c.Content[start:end]), true
}

// tokenEdit replaces the operator token at pos.
func (c *Context) tokenEdit(pos token.Pos, from, to token.Token) (Edit, bool) {
	start, ok := offsetForPos(c.FileSet, pos)
	if !ok {
		return Edit{}, false
	}

	end := start + len(from.String())
	if end > len(c.Content) || string(c.Content[start:end]) != from.String() {
		return Edit{}, false
	}

	return Edit{
		Pos:         pos,
		Start:       start,
		End:         end,
		Replacement: to.String(),
		Description: "replaced " + from.String() + " with " + to.String(),
	}, true
}

func (c *Context) isConstant(e ast.Expr) bool {
	if c.Info == nil {
		return false
	}

	tv, ok := c.Info.Types[e]

	return ok && tv.Value != nil
}

func (c *Context) isConstantZero(e ast.Expr) bool {
	if c.Info == nil {
		return false
	}

	tv, ok := c.Info.Types[e]
	if !ok || tv.Value == nil {
		return false
	}

	switch tv.Value.Kind() {
	case constant.Int, constant.Float, constant.Complex:
		return constant.Sign(tv.Value) == 0
	default:
		return false
	}
}

// inCaseList reports whether t.Node is one of the expressions of a case
// clause, where a mutated constant could duplicate another case.
func inCaseList(t Target) bool {
	clause, ok := t.Parent.(*ast.CaseClause)
	if !ok {
		return false
	}

	for _, e := range clause.List {
		if e == t.Node {
			return true
		}
	}

	return false
}

// isCompositeKey reports whether t.Node is the key of a composite literal
// element.
func isCompositeKey(t Target) bool {
	kv, ok := t.Parent.(*ast.KeyValueExpr)

	return ok && kv.Key == t.Node
}
