package adapter

import (
	"go/ast"
	"go/token"
	"go/types"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalGoFileAdapter_Parse(t *testing.T) {
	a := NewLocalGoFileAdapter()
	fset := token.NewFileSet()

	file, err := a.Parse(fset, "main.go", []byte("package main\n\n// Add adds.\nfunc Add(a, b int) int { return a + b }\n"))
	require.NoError(t, err)
	assert.Equal(t, "main", file.Name.Name)
	assert.NotEmpty(t, file.Comments)
}

func TestLocalGoFileAdapter_ParseError(t *testing.T) {
	a := NewLocalGoFileAdapter()

	_, err := a.Parse(token.NewFileSet(), "broken.go", []byte("package main\nfunc {"))
	require.Error(t, err)
}

func TestLocalGoFileAdapter_Check(t *testing.T) {
	a := NewLocalGoFileAdapter()
	fset := token.NewFileSet()

	first, err := a.Parse(fset, "a.go", []byte("package p\n\nfunc Sum(x, y int) int { return x + y }\n"))
	require.NoError(t, err)

	second, err := a.Parse(fset, "b.go", []byte("package p\n\nfunc Twice(s string) string { return s + Label }\n\nconst Label = \"x\"\n"))
	require.NoError(t, err)

	info, err := a.Check(fset, "p", []*ast.File{first, second})
	require.NoError(t, err)

	var kinds []types.BasicKind

	for _, file := range []*ast.File{first, second} {
		ast.Inspect(file, func(n ast.Node) bool {
			if be, ok := n.(*ast.BinaryExpr); ok {
				basic, ok := info.TypeOf(be).Underlying().(*types.Basic)
				require.True(t, ok)
				kinds = append(kinds, basic.Kind())
			}

			return true
		})
	}

	assert.Equal(t, []types.BasicKind{types.Int, types.String}, kinds)
}

func TestLocalGoFileAdapter_CheckKeepsPartialInfo(t *testing.T) {
	a := NewLocalGoFileAdapter()
	fset := token.NewFileSet()

	file, err := a.Parse(fset, "a.go", []byte("package p\n\nfunc F(x int) int { return x * missing }\n\nfunc G(y int) int { return y - 1 }\n"))
	require.NoError(t, err)

	info, err := a.Check(fset, "p", []*ast.File{file})
	require.Error(t, err)
	require.NotNil(t, info)

	var resolved int

	ast.Inspect(file, func(n ast.Node) bool {
		if be, ok := n.(*ast.BinaryExpr); ok && be.Op == token.SUB {
			if tv, ok := info.Types[be]; ok && tv.Type != nil {
				resolved++
			}
		}

		return true
	})

	assert.Equal(t, 1, resolved)
}
