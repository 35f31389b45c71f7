package mutagens

import (
	"go/ast"
	"go/token"

	m "gooze.dev/pkg/schemata/internal/model"
)

// logical swaps && and ||.
type logical struct{}

func (logical) Type() m.MutationType { return m.MutationLogical }

func (logical) CanMutate(t Target) bool {
	expr, ok := t.Node.(*ast.BinaryExpr)

	return ok && (expr.Op == token.LAND || expr.Op == token.LOR)
}

func (logical) Mutate(ctx *Context, t Target) []Edit {
	expr := t.Node.(*ast.BinaryExpr)

	if inCaseList(t) && ctx.isConstant(expr) {
		return nil
	}

	to := token.LOR
	if expr.Op == token.LOR {
		to = token.LAND
	}

	edit, ok := ctx.tokenEdit(expr.OpPos, expr.Op, to)
	if !ok {
		return nil
	}

	return []Edit{edit}
}
