package mutagens

import (
	"go/ast"

	m "gooze.dev/pkg/schemata/internal/model"
)

// branch swaps the bodies of an if/else whose else arm is a plain block.
type branch struct{}

func (branch) Type() m.MutationType { return m.MutationBranch }

func (branch) CanMutate(t Target) bool {
	stmt, ok := t.Node.(*ast.IfStmt)
	if !ok || stmt.Body == nil {
		return false
	}

	_, ok = stmt.Else.(*ast.BlockStmt)

	return ok
}

func (branch) Mutate(ctx *Context, t Target) []Edit {
	stmt := t.Node.(*ast.IfStmt)
	elseBlock := stmt.Else.(*ast.BlockStmt)

	bodyStart, bodyEnd, ok := ctx.span(stmt.Body)
	if !ok {
		return nil
	}

	elseStart, elseEnd, ok := ctx.span(elseBlock)
	if !ok || elseStart < bodyEnd {
		return nil
	}

	body := string(ctx.Content[bodyStart:bodyEnd])
	separator := string(ctx.Content[bodyEnd:elseStart])
	alternative := string(ctx.Content[elseStart:elseEnd])

	return []Edit{{
		Pos:         stmt.Body.Lbrace,
		Start:       bodyStart,
		End:         elseEnd,
		Replacement: alternative + separator + body,
		Description: "swapped if and else branches",
	}}
}
