package mutagens

import (
	"go/ast"
	"go/types"

	m "gooze.dev/pkg/schemata/internal/model"
)

// boolean flips the predeclared true and false.
type boolean struct{}

func (boolean) Type() m.MutationType { return m.MutationBoolean }

func (boolean) CanMutate(t Target) bool {
	ident, ok := t.Node.(*ast.Ident)

	return ok && (ident.Name == "true" || ident.Name == "false")
}

func (boolean) Mutate(ctx *Context, t Target) []Edit {
	ident := t.Node.(*ast.Ident)

	if inCaseList(t) || isCompositeKey(t) {
		return nil
	}

	if ctx.Info != nil {
		if obj, ok := ctx.Info.Uses[ident]; !ok || obj != types.Universe.Lookup(ident.Name) {
			return nil
		}
	}

	start, end, ok := ctx.span(ident)
	if !ok {
		return nil
	}

	flipped := "false"
	if ident.Name == "false" {
		flipped = "true"
	}

	return []Edit{{
		Pos:         ident.Pos(),
		Start:       start,
		End:         end,
		Replacement: flipped,
		Description: "replaced " + ident.Name + " with " + flipped,
	}}
}
