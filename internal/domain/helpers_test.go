package domain

import (
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"gooze.dev/pkg/schemata/internal/domain/mutagens"
	m "gooze.dev/pkg/schemata/internal/model"
)

// parseSource builds a type checked Source for an in-memory file.
func parseSource(t *testing.T, short, src string) m.Source {
	t.Helper()

	fset := token.NewFileSet()
	full := filepath.Join("/project", short)

	file, err := parser.ParseFile(fset, full, src, parser.ParseComments)
	require.NoError(t, err)

	info := &types.Info{
		Types:      make(map[ast.Expr]types.TypeAndValue),
		Defs:       make(map[*ast.Ident]types.Object),
		Uses:       make(map[*ast.Ident]types.Object),
		Selections: make(map[*ast.SelectorExpr]*types.Selection),
		Scopes:     make(map[ast.Node]*types.Scope),
	}

	conf := types.Config{Importer: importer.Default()}
	_, err = conf.Check(file.Name.Name, fset, []*ast.File{file}, info)
	require.NoError(t, err)

	pkg := file.Name.Name

	return m.Source{
		Origin:  &m.File{FullPath: m.Path(full), ShortPath: m.Path(short)},
		Package: &pkg,
		Content: []byte(src),
		FileSet: fset,
		AST:     file,
		Types:   info,
	}
}

// schemaFor visits src with the given operators and returns its mapping.
func schemaFor(t *testing.T, src m.Source, kinds ...m.MutationType) *m.SchemaMapping {
	t.Helper()

	visitor := NewSiteVisitor(mutagens.Catalog(kinds...), VisitorOptions{})
	mapping := m.NewSchemaMapping(src.Origin.FullPath)

	for _, site := range visitor.Visit(src) {
		require.NoError(t, mapping.Add(site))
	}

	return mapping
}

func sitesOf(sites []m.MutationSite, t m.MutationType) []m.MutationSite {
	var out []m.MutationSite

	for _, s := range sites {
		if s.Type == t {
			out = append(out, s)
		}
	}

	return out
}
