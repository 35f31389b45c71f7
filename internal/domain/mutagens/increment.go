package mutagens

import (
	"go/ast"
	"go/token"

	m "gooze.dev/pkg/schemata/internal/model"
)

// increment swaps ++ and --.
type increment struct{}

func (increment) Type() m.MutationType { return m.MutationIncrement }

func (increment) CanMutate(t Target) bool {
	_, ok := t.Node.(*ast.IncDecStmt)
	return ok
}

func (increment) Mutate(ctx *Context, t Target) []Edit {
	stmt := t.Node.(*ast.IncDecStmt)

	to := token.DEC
	if stmt.Tok == token.DEC {
		to = token.INC
	}

	edit, ok := ctx.tokenEdit(stmt.TokPos, stmt.Tok, to)
	if !ok {
		return nil
	}

	return []Edit{edit}
}
