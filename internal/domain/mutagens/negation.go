package mutagens

import (
	"go/ast"

	m "gooze.dev/pkg/schemata/internal/model"
)

// negation wraps if and for conditions in !( ).
type negation struct{}

func (negation) Type() m.MutationType { return m.MutationNegation }

func (negation) CanMutate(t Target) bool {
	return conditionOf(t.Node) != nil
}

func (negation) Mutate(ctx *Context, t Target) []Edit {
	cond := conditionOf(t.Node)

	start, end, ok := ctx.span(cond)
	if !ok {
		return nil
	}

	return []Edit{{
		Pos:         cond.Pos(),
		Start:       start,
		End:         end,
		Replacement: "!(" + string(ctx.Content[start:end]) + ")",
		Description: "negated condition",
	}}
}

func conditionOf(n ast.Node) ast.Expr {
	switch stmt := n.(type) {
	case *ast.IfStmt:
		return stmt.Cond
	case *ast.ForStmt:
		return stmt.Cond
	default:
		return nil
	}
}
