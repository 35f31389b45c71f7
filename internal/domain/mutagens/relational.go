package mutagens

import (
	"go/ast"
	"go/token"

	m "gooze.dev/pkg/schemata/internal/model"
)

var negatedComparisons = map[token.Token]token.Token{
	token.EQL: token.NEQ,
	token.NEQ: token.EQL,
	token.LSS: token.GEQ,
	token.GEQ: token.LSS,
	token.GTR: token.LEQ,
	token.LEQ: token.GTR,
}

var boundaryComparisons = map[token.Token]token.Token{
	token.LSS: token.LEQ,
	token.LEQ: token.LSS,
	token.GTR: token.GEQ,
	token.GEQ: token.GTR,
}

// relational replaces a comparison with its negation.
type relational struct{}

func (relational) Type() m.MutationType { return m.MutationRelational }

func (relational) CanMutate(t Target) bool {
	return comparisonCandidate(t, negatedComparisons)
}

func (relational) Mutate(ctx *Context, t Target) []Edit {
	return comparisonEdits(ctx, t, negatedComparisons)
}

// boundary moves a comparison boundary by one.
type boundary struct{}

func (boundary) Type() m.MutationType { return m.MutationBoundary }

func (boundary) CanMutate(t Target) bool {
	return comparisonCandidate(t, boundaryComparisons)
}

func (boundary) Mutate(ctx *Context, t Target) []Edit {
	return comparisonEdits(ctx, t, boundaryComparisons)
}

func comparisonCandidate(t Target, table map[token.Token]token.Token) bool {
	expr, ok := t.Node.(*ast.BinaryExpr)
	if !ok {
		return false
	}

	_, ok = table[expr.Op]

	return ok
}

func comparisonEdits(ctx *Context, t Target, table map[token.Token]token.Token) []Edit {
	expr := t.Node.(*ast.BinaryExpr)

	if inCaseList(t) && ctx.isConstant(expr) {
		return nil
	}

	edit, ok := ctx.tokenEdit(expr.OpPos, expr.Op, table[expr.Op])
	if !ok {
		return nil
	}

	return []Edit{edit}
}
