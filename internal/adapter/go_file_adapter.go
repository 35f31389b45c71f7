package adapter

import (
	"errors"
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"log/slog"
	"sync"
)

// GoFileAdapter encapsulates Go-specific parsing and type checking so the
// domain layer can focus on mutation rules.
type GoFileAdapter interface {
	// Parse builds an AST using the provided file set and source bytes.
	Parse(fileSet *token.FileSet, filename string, src []byte) (*ast.File, error)

	// Check type checks the files of one package. The returned info is usable
	// even when err is non-nil; it then covers whatever could be resolved.
	Check(fileSet *token.FileSet, pkgPath string, files []*ast.File) (*types.Info, error)
}

// LocalGoFileAdapter provides a concrete GoFileAdapter backed by go/parser and
// go/types with a source importer.
type LocalGoFileAdapter struct {
	mu       sync.Mutex
	importer types.Importer
}

// NewLocalGoFileAdapter constructs a LocalGoFileAdapter.
func NewLocalGoFileAdapter() *LocalGoFileAdapter {
	return &LocalGoFileAdapter{}
}

// Parse builds an AST for the provided filename/source pair.
func (a *LocalGoFileAdapter) Parse(fileSet *token.FileSet, filename string, src []byte) (*ast.File, error) {
	return parser.ParseFile(fileSet, filename, src, parser.ParseComments|parser.SkipObjectResolution)
}

// Check type checks files as a single package. Calls are serialized because
// the source importer caches packages and is not safe for concurrent use.
func (a *LocalGoFileAdapter) Check(fileSet *token.FileSet, pkgPath string, files []*ast.File) (*types.Info, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.importer == nil {
		a.importer = importer.ForCompiler(token.NewFileSet(), "source", nil)
	}

	info := &types.Info{
		Types: make(map[ast.Expr]types.TypeAndValue),
		Defs:  make(map[*ast.Ident]types.Object),
		Uses:  make(map[*ast.Ident]types.Object),
	}

	var typeErrs []error

	conf := types.Config{
		Importer: a.importer,
		Error: func(err error) {
			typeErrs = append(typeErrs, err)
		},
	}

	_, _ = conf.Check(pkgPath, fileSet, files, info)

	if len(typeErrs) > 0 {
		slog.Debug("type check reported errors", "package", pkgPath, "count", len(typeErrs), "first", typeErrs[0])
		return info, errors.Join(typeErrs...)
	}

	return info, nil
}
