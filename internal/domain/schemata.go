package domain

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"sort"
	"strconv"

	m "gooze.dev/pkg/schemata/internal/model"
)

// Environment variables read by instrumented code and the test process.
const (
	// ActivationEnv selects the active mutant by id. Unset means no mutant.
	ActivationEnv = "SCHEMATA_MUTANT"
	// RunningEnv is set to "1" for every test process started by a run.
	RunningEnv = "SCHEMATA_RUNNING"
)

const importAlias = "schemataos"

var (
	// ErrCgoFile is returned for files that import "C".
	ErrCgoFile = errors.New("cgo files cannot be instrumented")
	// ErrInvalidSchema is returned when a rewritten file does not parse.
	ErrInvalidSchema = errors.New("instrumented file does not parse")
)

// Instrumented is a rewritten source file together with the bookkeeping
// needed to relate it back to the original.
type Instrumented struct {
	Source  m.Source
	Content []byte
	LineMap *LineMap
	Sites   []m.MutationSite // with InstrumentedLine set
}

// Instrument rewrites every block of mapping into a conditional chain keyed
// on ActivationEnv. The activation import is appended to the package clause
// line, so lines before the first instrumented block keep their numbers. A
// file without sites is returned byte for byte.
func Instrument(src m.Source, mapping *m.SchemaMapping) (Instrumented, error) {
	if mapping == nil || mapping.Len() == 0 {
		return Instrumented{Source: src, Content: src.Content, LineMap: &LineMap{}}, nil
	}

	if src.AST == nil || src.FileSet == nil {
		return Instrumented{}, fmt.Errorf("source %s has not been parsed", mapping.File)
	}

	if importsC(src.AST) {
		return Instrumented{}, fmt.Errorf("%w: %s", ErrCgoFile, mapping.File)
	}

	nameEnd, ok := src.Offset(src.AST.Name.End())
	if !ok {
		return Instrumented{}, fmt.Errorf("package clause of %s has no position", mapping.File)
	}

	blocks := mapping.Blocks()
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Start < blocks[j].Start })

	chains := make(map[m.BlockHandle][]m.MutationSite, len(blocks))

	for _, b := range blocks {
		if err := checkBlock(src.Content, b); err != nil {
			return Instrumented{}, fmt.Errorf("%s: %w", mapping.File, err)
		}

		chains[b] = mapping.Sites(b)
	}

	r := &renderer{
		w:      newLineWriter(src.Content),
		blocks: blocks,
		chains: chains,
		lines:  make(map[string]int, mapping.Len()),
	}

	r.w.copy(0, nameEnd)
	r.w.synthetic("; import " + importAlias + " " + strconv.Quote("os"))
	r.region(nameEnd, len(src.Content), nil)

	content := r.w.bytes()

	if _, err := parser.ParseFile(token.NewFileSet(), string(mapping.File), content, parser.SkipObjectResolution); err != nil {
		return Instrumented{}, fmt.Errorf("%w: %s: %w", ErrInvalidSchema, mapping.File, err)
	}

	sites := mapping.All()
	for i := range sites {
		sites[i].InstrumentedLine = r.lines[sites[i].ID]
	}

	return Instrumented{
		Source:  src,
		Content: content,
		LineMap: r.w.lineMap(),
		Sites:   sites,
	}, nil
}

func checkBlock(content []byte, b m.BlockHandle) error {
	if b.Start < 0 || b.End >= len(content) || b.Start >= b.End {
		return fmt.Errorf("block %s [%d,%d] out of range", b.Name, b.Start, b.End)
	}

	if content[b.Start] != '{' || content[b.End] != '}' {
		return fmt.Errorf("block %s [%d,%d] is not delimited by braces", b.Name, b.Start, b.End)
	}

	return nil
}

func importsC(file *ast.File) bool {
	for _, imp := range file.Imports {
		if path, err := strconv.Unquote(imp.Path.Value); err == nil && path == "C" {
			return true
		}
	}

	return false
}
