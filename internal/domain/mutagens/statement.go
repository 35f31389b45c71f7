package mutagens

import (
	"go/ast"
	"strings"

	m "gooze.dev/pkg/schemata/internal/model"
)

// deniedBuiltins are calls whose removal changes control flow rather than a
// side effect.
var deniedBuiltins = map[string]struct{}{
	"panic": {},
}

// deniedMethods are matched by selector name on any receiver or package:
// os.Exit, log.Fatal, t.FailNow, runtime.Goexit and friends.
var deniedMethods = map[string]struct{}{
	"Exit":    {},
	"Fatal":   {},
	"Fatalf":  {},
	"Fatalln": {},
	"Panic":   {},
	"Panicf":  {},
	"Panicln": {},
	"Goexit":  {},
	"FailNow": {},
	"SkipNow": {},
	"Skip":    {},
	"Skipf":   {},
}

// statement removes call statements. The call stays in the file under an
// "if false" guard so every identifier it references is still used.
type statement struct{}

func (statement) Type() m.MutationType { return m.MutationStatement }

func (statement) CanMutate(t Target) bool {
	stmt, ok := t.Node.(*ast.ExprStmt)
	if !ok {
		return false
	}

	_, ok = ast.Unparen(stmt.X).(*ast.CallExpr)

	return ok
}

func (statement) Mutate(ctx *Context, t Target) []Edit {
	stmt := t.Node.(*ast.ExprStmt)
	call := ast.Unparen(stmt.X).(*ast.CallExpr)

	name := calleeName(call.Fun)
	if name == "" || isDeniedCall(name, ctx.ExcludeCalls) {
		return nil
	}

	start, end, ok := ctx.span(stmt)
	if !ok {
		return nil
	}

	original := string(ctx.Content[start:end])

	return []Edit{{
		Pos:         stmt.Pos(),
		Start:       start,
		End:         end,
		Replacement: "if false { " + original + " }",
		Description: "removed call to " + name,
	}}
}

// calleeName renders the called function as "name", "pkg.Name" or
// "recv.Method". Calls of function literals or call results yield "".
func calleeName(fun ast.Expr) string {
	switch f := ast.Unparen(fun).(type) {
	case *ast.Ident:
		return f.Name
	case *ast.SelectorExpr:
		prefix := calleeName(f.X)
		if prefix == "" {
			return f.Sel.Name
		}

		return prefix + "." + f.Sel.Name
	case *ast.IndexExpr:
		return calleeName(f.X)
	case *ast.IndexListExpr:
		return calleeName(f.X)
	default:
		return ""
	}
}

func isDeniedCall(name string, excluded []string) bool {
	last := name
	if i := strings.LastIndex(name, "."); i >= 0 {
		last = name[i+1:]
	}

	if !strings.Contains(name, ".") {
		if _, ok := deniedBuiltins[name]; ok {
			return true
		}
	} else if _, ok := deniedMethods[last]; ok {
		return true
	}

	for _, ex := range excluded {
		if ex == name || ex == last || strings.HasSuffix(name, "."+ex) {
			return true
		}
	}

	return false
}
