package domain

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gooze.dev/pkg/schemata/internal/adapter"
	m "gooze.dev/pkg/schemata/internal/model"
)

// ErrFilesystem marks failures to prepare or restore a working copy.
var ErrFilesystem = errors.New("working copy filesystem error")

// Workspace is an isolated copy of a project in which instrumented files
// replace their originals. The instrumented contents are the neutral state
// every mutant run starts from.
type Workspace struct {
	fs      adapter.SourceFSAdapter
	dir     m.Path
	neutral map[m.Path][]byte // keyed by short path
	modes   map[m.Path]os.FileMode
}

// NewWorkspace copies root, without the paths in exclude, into a fresh
// temporary directory and writes the instrumented files into it.
func NewWorkspace(fs adapter.SourceFSAdapter, root m.Path, files []Instrumented, exclude ...m.Path) (*Workspace, error) {
	dir, err := fs.CreateTempDir("schemata-ws-*")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create working copy: %w", ErrFilesystem, err)
	}

	ws := &Workspace{
		fs:      fs,
		dir:     dir,
		neutral: make(map[m.Path][]byte, len(files)),
		modes:   make(map[m.Path]os.FileMode, len(files)),
	}

	if err := fs.CopyDir(root, dir, exclude...); err != nil {
		_ = ws.Remove()
		return nil, fmt.Errorf("%w: failed to copy %s: %w", ErrFilesystem, root, err)
	}

	for _, f := range files {
		short := f.Source.Origin.ShortPath

		mode := os.FileMode(0o644)
		if info, err := fs.FileInfo(f.Source.Origin.FullPath); err == nil {
			mode = info.Mode().Perm()
		}

		ws.neutral[short] = f.Content
		ws.modes[short] = mode

		if err := fs.WriteFile(ws.path(short), f.Content, mode); err != nil {
			_ = ws.Remove()
			return nil, fmt.Errorf("%w: failed to write %s: %w", ErrFilesystem, short, err)
		}
	}

	slog.Debug("prepared working copy", "dir", dir, "instrumented", len(files))

	return ws, nil
}

// Dir returns the root of the working copy.
func (w *Workspace) Dir() m.Path {
	return w.dir
}

func (w *Workspace) path(short m.Path) m.Path {
	return w.fs.JoinPath(string(w.dir), string(short))
}

// Restore puts the file at short back into its neutral state if a test run
// changed or removed it.
func (w *Workspace) Restore(short m.Path) error {
	want, ok := w.neutral[short]
	if !ok {
		return nil
	}

	got, err := w.fs.ReadFile(w.path(short))
	if err == nil && bytes.Equal(got, want) {
		return nil
	}

	slog.Warn("restoring instrumented file changed by a test run", "file", short)

	if err := w.fs.WriteFile(w.path(short), want, w.modes[short]); err != nil {
		return fmt.Errorf("%w: failed to restore %s: %w", ErrFilesystem, short, err)
	}

	return nil
}

// RestoreAll restores every instrumented file.
func (w *Workspace) RestoreAll() error {
	for short := range w.neutral {
		if err := w.Restore(short); err != nil {
			return err
		}
	}

	return nil
}

// Remove deletes the working copy.
func (w *Workspace) Remove() error {
	return w.fs.RemoveAll(w.dir)
}
