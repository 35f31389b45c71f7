package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"go/ast"
	"go/token"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/tools/go/ast/astutil"

	"gooze.dev/pkg/schemata/internal/domain/mutagens"
	m "gooze.dev/pkg/schemata/internal/model"
)

// VisitorOptions is the exclusion policy applied while collecting sites.
type VisitorOptions struct {
	ExcludePaths     []string
	ExcludeFunctions []*regexp.Regexp
	ExcludeCalls     []string
}

// SiteVisitor walks a parsed source once per operator and turns operator
// edits into mutation sites.
type SiteVisitor struct {
	operators []mutagens.Operator
	opts      VisitorOptions
}

// NewSiteVisitor creates a visitor for operators, which are applied in the
// order given.
func NewSiteVisitor(operators []mutagens.Operator, opts VisitorOptions) *SiteVisitor {
	return &SiteVisitor{operators: operators, opts: opts}
}

type visitScope struct {
	block m.BlockHandle
	body  *ast.BlockStmt
	skip  bool
}

// Visit returns the sites of src grouped by operator, each group in source
// order.
func (v *SiteVisitor) Visit(src m.Source) []m.MutationSite {
	if src.Origin == nil || src.AST == nil {
		return nil
	}

	if isTestFile(src.Origin.FullPath) || excludedPath(src.Origin.ShortPath, v.opts.ExcludePaths) {
		return nil
	}

	ignore := buildIgnoreIndex(src.AST, src.FileSet, src.Content)
	ctx := &mutagens.Context{
		FileSet:      src.FileSet,
		Content:      src.Content,
		Info:         src.Types,
		ExcludeCalls: v.opts.ExcludeCalls,
	}

	var sites []m.MutationSite

	for _, op := range v.operators {
		if ignore.file.covers(op.Type()) {
			continue
		}

		sites = append(sites, v.visitOperator(src, ctx, ignore, op)...)
	}

	return sites
}

func (v *SiteVisitor) visitOperator(src m.Source, ctx *mutagens.Context, ignore ignoreIndex, op mutagens.Operator) []m.MutationSite {
	var (
		sites    []m.MutationSite
		scopes   []visitScope
		function string
		closures int
		globals  int
	)

	pre := func(c *astutil.Cursor) bool {
		switch n := c.Node().(type) {
		case *ast.FuncDecl:
			function = funcDeclName(n)
			closures = 0

			if ignore.ignoresFunc(n, op.Type()) || v.excludedFunction(n) {
				function = ""
				return false
			}
		case *ast.BlockStmt:
			counter := &closures
			if function == "" {
				counter = &globals
			}

			if scope, ok := v.enterBody(src, c, n, function, counter); ok {
				scopes = append(scopes, scope)
				return true
			}
		}

		if len(scopes) == 0 || scopes[len(scopes)-1].skip {
			return true
		}

		scope := scopes[len(scopes)-1]
		target := mutagens.Target{Node: c.Node(), Parent: c.Parent()}

		owner := function
		if owner == "" {
			owner = scope.block.Name
		}

		for _, edit := range safeMutate(op, ctx, target) {
			site, ok := v.newSite(src, op.Type(), owner, scope.block, edit)
			if !ok || ignore.ignoresLine(site.Position.Line, op.Type()) {
				continue
			}

			sites = append(sites, site)
		}

		return true
	}

	post := func(c *astutil.Cursor) bool {
		switch n := c.Node().(type) {
		case *ast.FuncDecl:
			function = ""
			closures = 0
		case *ast.BlockStmt:
			if len(scopes) > 0 && scopes[len(scopes)-1].body == n {
				scopes = scopes[:len(scopes)-1]
			}
		}

		return true
	}

	astutil.Apply(src.AST, pre, post)

	return sites
}

// enterBody opens a scope when body is the body of a function or closure.
func (v *SiteVisitor) enterBody(src m.Source, c *astutil.Cursor, body *ast.BlockStmt, function string, closures *int) (visitScope, bool) {
	var (
		kind m.BlockKind
		name string
		sig  []*ast.FieldList
	)

	switch p := c.Parent().(type) {
	case *ast.FuncDecl:
		if p.Body != body {
			return visitScope{}, false
		}

		kind, name = m.BlockFunction, function
		sig = []*ast.FieldList{p.Recv, p.Type.Params, p.Type.Results}
	case *ast.FuncLit:
		if p.Body != body {
			return visitScope{}, false
		}

		sig = []*ast.FieldList{p.Type.Params, p.Type.Results}

		*closures++
		owner := function
		if owner == "" {
			owner = "glob"
		}

		kind, name = m.BlockClosure, fmt.Sprintf("%s.func%d", owner, *closures)
	default:
		return visitScope{}, false
	}

	start, okStart := src.Offset(body.Lbrace)
	end, okEnd := src.Offset(body.Rbrace)

	return visitScope{
		block: m.BlockHandle{File: src.Origin.FullPath, Start: start, End: end, Kind: kind, Name: name},
		body:  body,
		skip:  !okStart || !okEnd || hasLabels(body) || redeclaresSignature(sig, body),
	}, true
}

func (v *SiteVisitor) newSite(src m.Source, t m.MutationType, function string, block m.BlockHandle, edit mutagens.Edit) (m.MutationSite, bool) {
	if edit.Start <= block.Start || edit.End > block.End || edit.Start > edit.End {
		return m.MutationSite{}, false
	}

	offset, ok := src.Offset(edit.Pos)
	if !ok {
		offset = edit.Start
	}

	mutated := mutagens.Apply(src.Content, edit)

	return m.MutationSite{
		ID:          MutantID(t, src.Origin.ShortPath, edit.Start, edit.Variant),
		Type:        t,
		File:        src.Origin.FullPath,
		ShortPath:   src.Origin.ShortPath,
		Hash:        src.Origin.Hash,
		Function:    function,
		Position:    src.Position(offset),
		Block:       block,
		Start:       edit.Start,
		End:         edit.End,
		Original:    string(src.Content[edit.Start:edit.End]),
		Mutated:     edit.Replacement,
		Description: edit.Description,
		Diff:        unifiedDiff(string(src.Origin.ShortPath), src.Content, mutated),
	}, true
}

func (v *SiteVisitor) excludedFunction(fd *ast.FuncDecl) bool {
	if len(v.opts.ExcludeFunctions) == 0 {
		return false
	}

	names := []string{fd.Name.Name}
	if qualified := funcDeclName(fd); qualified != fd.Name.Name {
		names = append(names, qualified)
	}

	for _, re := range v.opts.ExcludeFunctions {
		for _, name := range names {
			if re.MatchString(name) {
				return true
			}
		}
	}

	return false
}

// safeMutate runs one operator on one node. A panicking operator yields no
// edits for that node.
func safeMutate(op mutagens.Operator, ctx *mutagens.Context, target mutagens.Target) (edits []mutagens.Edit) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("operator failed on node", "operator", op.Type(), "node", fmt.Sprintf("%T", target.Node), "panic", r)
			edits = nil
		}
	}()

	if !op.CanMutate(target) {
		return nil
	}

	return op.Mutate(ctx, target)
}

// MutantID derives the activation key of a site from stable coordinates.
func MutantID(t m.MutationType, shortPath m.Path, offset, variant int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d|%d", t, shortPath, offset, variant))

	return hex.EncodeToString(sum[:])[:16]
}

// funcDeclName returns "Name" for functions and "Recv.Name" for methods.
func funcDeclName(fd *ast.FuncDecl) string {
	if fd.Recv == nil || len(fd.Recv.List) == 0 {
		return fd.Name.Name
	}

	if recv := receiverTypeName(fd.Recv.List[0].Type); recv != "" {
		return recv + "." + fd.Name.Name
	}

	return fd.Name.Name
}

func receiverTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverTypeName(t.X)
	case *ast.ParenExpr:
		return receiverTypeName(t.X)
	case *ast.IndexExpr:
		return receiverTypeName(t.X)
	case *ast.IndexListExpr:
		return receiverTypeName(t.X)
	case *ast.Ident:
		return t.Name
	default:
		return ""
	}
}

// hasLabels reports whether body declares a label outside nested closures.
// Labels are function scoped, so a body holding one cannot be duplicated.
func hasLabels(body *ast.BlockStmt) bool {
	found := false

	ast.Inspect(body, func(n ast.Node) bool {
		switch n.(type) {
		case *ast.FuncLit:
			return false
		case *ast.LabeledStmt:
			found = true
		}

		return !found
	})

	return found
}

// redeclaresSignature reports whether a top level short variable declaration
// in body reuses a receiver, parameter or result name. Signature names live
// in the body's own scope, so inside a nested branch the same statement
// would declare a shadowing variable instead of assigning.
func redeclaresSignature(sig []*ast.FieldList, body *ast.BlockStmt) bool {
	names := make(map[string]struct{})

	for _, fields := range sig {
		if fields == nil {
			continue
		}

		for _, field := range fields.List {
			for _, id := range field.Names {
				if id.Name != "_" {
					names[id.Name] = struct{}{}
				}
			}
		}
	}

	if len(names) == 0 {
		return false
	}

	for _, stmt := range body.List {
		assign, ok := stmt.(*ast.AssignStmt)
		if !ok || assign.Tok != token.DEFINE {
			continue
		}

		for _, lhs := range assign.Lhs {
			if id, ok := lhs.(*ast.Ident); ok {
				if _, clash := names[id.Name]; clash {
					return true
				}
			}
		}
	}

	return false
}

func isTestFile(path m.Path) bool {
	return strings.HasSuffix(string(path), "_test.go")
}

func excludedPath(path m.Path, excluded []string) bool {
	for _, ex := range excluded {
		if ex != "" && strings.Contains(string(path), ex) {
			return true
		}
	}

	return false
}
