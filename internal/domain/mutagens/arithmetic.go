package mutagens

import (
	"go/ast"
	"go/token"
	"go/types"

	m "gooze.dev/pkg/schemata/internal/model"
)

var arithmeticSwaps = map[token.Token]token.Token{
	token.ADD: token.SUB,
	token.SUB: token.ADD,
	token.MUL: token.QUO,
	token.QUO: token.MUL,
	token.REM: token.MUL,
}

var assignSwaps = map[token.Token]token.Token{
	token.ADD_ASSIGN: token.SUB_ASSIGN,
	token.SUB_ASSIGN: token.ADD_ASSIGN,
	token.MUL_ASSIGN: token.QUO_ASSIGN,
	token.QUO_ASSIGN: token.MUL_ASSIGN,
	token.REM_ASSIGN: token.MUL_ASSIGN,
}

// arithmetic swaps arithmetic operators on numeric operands. It needs type
// information: without it "+" could be string concatenation.
type arithmetic struct{}

func (arithmetic) Type() m.MutationType { return m.MutationArithmetic }

func (arithmetic) CanMutate(t Target) bool {
	switch n := t.Node.(type) {
	case *ast.BinaryExpr:
		_, ok := arithmeticSwaps[n.Op]
		return ok
	case *ast.AssignStmt:
		_, ok := assignSwaps[n.Tok]
		return ok && len(n.Lhs) == 1 && len(n.Rhs) == 1
	default:
		return false
	}
}

func (arithmetic) Mutate(ctx *Context, t Target) []Edit {
	if ctx.Info == nil {
		return nil
	}

	switch n := t.Node.(type) {
	case *ast.BinaryExpr:
		if ctx.isConstant(n) || !isNumeric(ctx.Info.TypeOf(n)) {
			return nil
		}

		to := arithmeticSwaps[n.Op]
		if to == token.QUO && ctx.isConstantZero(n.Y) {
			return nil
		}

		if edit, ok := ctx.tokenEdit(n.OpPos, n.Op, to); ok {
			return []Edit{edit}
		}
	case *ast.AssignStmt:
		if !isNumeric(ctx.Info.TypeOf(n.Lhs[0])) {
			return nil
		}

		to := assignSwaps[n.Tok]
		if to == token.QUO_ASSIGN && ctx.isConstantZero(n.Rhs[0]) {
			return nil
		}

		if edit, ok := ctx.tokenEdit(n.TokPos, n.Tok, to); ok {
			return []Edit{edit}
		}
	}

	return nil
}

func isNumeric(t types.Type) bool {
	if t == nil {
		return false
	}

	basic, ok := t.Underlying().(*types.Basic)
	if !ok {
		return false
	}

	return basic.Info()&types.IsNumeric != 0
}
