package model

import (
	"go/ast"
	"go/token"
	"go/types"
)

// Path represents a file system path.
type Path string

// File represents a source code file.
type File struct {
	FullPath  Path
	ShortPath Path // relative to the project root
	Hash      string
}

// Source is a parsed Go file. It is created once at discovery time and never
// mutated; rewrites produce new byte slices.
type Source struct {
	Origin  *File
	Package *string
	Content []byte
	FileSet *token.FileSet
	AST     *ast.File
	Types   *types.Info // nil when type checking was unavailable
}

// Position returns the original-file position of offset.
func (s Source) Position(offset int) Position {
	if s.FileSet == nil || s.AST == nil {
		return Position{Offset: offset}
	}

	tf := s.FileSet.File(s.AST.Pos())
	if tf == nil || offset < 0 || offset > tf.Size() {
		return Position{Offset: offset}
	}

	p := tf.PositionFor(tf.Pos(offset), false)

	return Position{Line: p.Line, Column: p.Column, Offset: offset}
}

// Offset converts a token.Pos of this source into a byte offset.
func (s Source) Offset(pos token.Pos) (int, bool) {
	if s.FileSet == nil {
		return 0, false
	}

	tf := s.FileSet.File(pos)
	if tf == nil {
		return 0, false
	}

	return tf.Offset(pos), true
}
