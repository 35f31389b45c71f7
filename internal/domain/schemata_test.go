package domain

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "gooze.dev/pkg/schemata/internal/model"
)

func typeCheck(t *testing.T, name string, content []byte) {
	t.Helper()

	fset := token.NewFileSet()

	file, err := parser.ParseFile(fset, name, content, 0)
	require.NoError(t, err, "instrumented source:\n%s", content)

	conf := types.Config{Importer: importer.Default()}
	_, err = conf.Check(file.Name.Name, fset, []*ast.File{file}, nil)
	require.NoError(t, err, "instrumented source:\n%s", content)
}

func TestInstrument_EmptyMappingIsIdentity(t *testing.T) {
	src := parseSource(t, "calc/calc.go", visitorSource)

	inst, err := Instrument(src, m.NewSchemaMapping(src.Origin.FullPath))
	require.NoError(t, err)

	assert.Equal(t, src.Content, inst.Content)
	assert.Empty(t, inst.Sites)
	assert.Equal(t, 7, inst.LineMap.Original(7))
}

func TestInstrument_OutputTypeChecks(t *testing.T) {
	src := parseSource(t, "calc/calc.go", visitorSource)
	mapping := schemaFor(t, src)
	require.Positive(t, mapping.Len())

	inst, err := Instrument(src, mapping)
	require.NoError(t, err)

	typeCheck(t, "calc.go", inst.Content)

	firstLine, _, _ := bytes.Cut(inst.Content, []byte("\n"))
	assert.Equal(t, `package calc; import schemataos "os"`, string(firstLine))
	assert.Len(t, inst.Sites, mapping.Len())

	for _, site := range inst.Sites {
		assert.Positive(t, site.InstrumentedLine, site.ID)
		assert.Equal(t, site.Position.Line, inst.LineMap.Original(site.InstrumentedLine), site.ID)
		assert.Contains(t, string(inst.Content), activationCond(site.ID))
	}
}

func TestInstrument_ChainPerBlock(t *testing.T) {
	src := parseSource(t, "classify.go", `package classify

func Classify(n int) string {
	if n > 0 {
		return "positive"
	}
	return "other"
}
`)

	mapping := schemaFor(t, src, m.MutationRelational, m.MutationBoundary)
	require.Len(t, mapping.Blocks(), 1)

	sites := mapping.All()
	require.Len(t, sites, 2)

	inst, err := Instrument(src, mapping)
	require.NoError(t, err)

	typeCheck(t, "classify.go", inst.Content)

	content := string(inst.Content)
	first := strings.Index(content, "if "+activationCond(sites[0].ID)+" {")
	second := strings.Index(content, "} else if "+activationCond(sites[1].ID)+" {")
	otherwise := strings.LastIndex(content, "} else {")

	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, second)
	require.NotEqual(t, -1, otherwise)
	assert.Less(t, first, second)
	assert.Less(t, second, otherwise)

	assert.Equal(t, 1, strings.Count(content, "n <= 0"))
	assert.Equal(t, 1, strings.Count(content, "n >= 0"))
	assert.Equal(t, 1, strings.Count(content, "n > 0"))
}

func lineDeltaSource(blocks int) string {
	var b strings.Builder

	b.WriteString("package delta\n")

	for i := range blocks {
		fmt.Fprintf(&b, "\nfunc f%d(a, b int) bool {\n\treturn a > b\n}\n", i)
	}

	return b.String()
}

func TestInstrument_LineDelta(t *testing.T) {
	for blocks := 1; blocks <= 5; blocks++ {
		t.Run(fmt.Sprintf("%d blocks", blocks), func(t *testing.T) {
			src := parseSource(t, "delta.go", lineDeltaSource(blocks))
			mapping := schemaFor(t, src, m.MutationRelational)
			require.Len(t, mapping.Blocks(), blocks)

			inst, err := Instrument(src, mapping)
			require.NoError(t, err)

			typeCheck(t, "delta.go", inst.Content)

			lines := strings.Split(string(inst.Content), "\n")

			for i, site := range inst.Sites {
				// every earlier block gained one copy of its two body lines
				assert.Equal(t, site.Position.Line+2*i, site.InstrumentedLine)
				assert.Equal(t, site.Position.Line, inst.LineMap.Original(site.InstrumentedLine))
				assert.Contains(t, lines[site.InstrumentedLine-1], "a <= b")

				// the original statement sits two lines below in the else branch
				assert.Contains(t, lines[site.InstrumentedLine+1], "a > b")
				assert.Equal(t, site.Position.Line, inst.LineMap.Original(site.InstrumentedLine+2))
			}
		})
	}
}

func TestInstrument_Errors(t *testing.T) {
	t.Run("cgo", func(t *testing.T) {
		content := []byte("package cgo\n\nimport \"C\"\n\nfunc F(a, b int) bool {\n\treturn a > b\n}\n")
		fset := token.NewFileSet()

		file, err := parser.ParseFile(fset, "/project/cgo.go", content, parser.ParseComments)
		require.NoError(t, err)

		src := m.Source{
			Origin:  &m.File{FullPath: "/project/cgo.go", ShortPath: "cgo.go"},
			Content: content,
			FileSet: fset,
			AST:     file,
		}

		mapping := schemaFor(t, src, m.MutationRelational)
		require.Equal(t, 1, mapping.Len())

		_, err = Instrument(src, mapping)
		require.ErrorIs(t, err, ErrCgoFile)
	})

	t.Run("unparsed source", func(t *testing.T) {
		mapping := m.NewSchemaMapping("x.go")
		require.NoError(t, mapping.Add(m.MutationSite{ID: "a", Block: m.BlockHandle{File: "x.go", Start: 1, End: 5}}))

		_, err := Instrument(m.Source{Content: []byte("package x")}, mapping)
		require.Error(t, err)
	})

	t.Run("block without braces", func(t *testing.T) {
		src := parseSource(t, "classify.go", "package classify\n\nfunc F(a, b int) bool {\n\treturn a > b\n}\n")
		mapping := m.NewSchemaMapping(src.Origin.FullPath)
		require.NoError(t, mapping.Add(m.MutationSite{ID: "a", Block: m.BlockHandle{File: src.Origin.FullPath, Start: 2, End: 10}}))

		_, err := Instrument(src, mapping)
		require.Error(t, err)
	})
}

// Builds and runs an instrumented program once per activation key.
func TestInstrument_ActivationSelectsMutant(t *testing.T) {
	if testing.Short() {
		t.Skip("runs go run")
	}

	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go tool not available")
	}

	src := parseSource(t, "main.go", `package main

import "fmt"

func classify(n int) string {
	if n > 0 {
		return "positive"
	}
	return "other"
}

func main() {
	fmt.Println(classify(1), classify(0))
}
`)

	mapping := schemaFor(t, src, m.MutationRelational, m.MutationBoundary)
	sites := mapping.All()
	require.Len(t, sites, 2)

	inst, err := Instrument(src, mapping)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module scenario\n\ngo 1.21\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), inst.Content, 0o600))

	run := func(key string) string {
		cmd := exec.Command(goBin, "run", ".")
		cmd.Dir = dir
		cmd.Env = mutantEnv(os.Environ(), key)

		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))

		return strings.TrimSpace(string(out))
	}

	assert.Equal(t, "positive other", run(""))
	assert.Equal(t, "other positive", run(sites[0].ID))
	assert.Equal(t, "positive positive", run(sites[1].ID))
	assert.Equal(t, "positive other", run("0000000000000000"))
}
