// Package domain contains the mutation engine: site discovery, schemata
// rewriting, test scheduling and scoring.
package domain

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/build"
	"go/token"
	"go/types"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"gooze.dev/pkg/schemata/internal/adapter"
	"gooze.dev/pkg/schemata/internal/domain/mutagens"
	m "gooze.dev/pkg/schemata/internal/model"
)

// ErrNoSources is returned when the requested paths hold no Go files.
var ErrNoSources = errors.New("no Go source files found")

// Schema is a parsed source and the sites discovered in it.
type Schema struct {
	Source  m.Source
	Mapping *m.SchemaMapping
}

// DiscoverOptions configures site discovery.
type DiscoverOptions struct {
	Types   []m.MutationType
	Visitor VisitorOptions
	Threads int
}

// Mutagen discovers mutation sites in a project.
type Mutagen interface {
	// Discover parses the Go files under paths, relative to root, and returns
	// one schema per file, directory by directory. A trailing "/..." walks a path
	// recursively.
	Discover(ctx context.Context, root m.Path, paths []m.Path, opts DiscoverOptions) ([]Schema, error)

	// Instrument rewrites the schemas that hold sites and returns the files
	// that still type check, with their sites in order.
	Instrument(ctx context.Context, schemas []Schema) ([]Instrumented, []m.MutationSite, error)
}

type mutagen struct {
	adapter.GoFileAdapter
	adapter.SourceFSAdapter
}

// NewMutagen creates a new Mutagen instance.
func NewMutagen(goFileAdapter adapter.GoFileAdapter, sourceFSAdapter adapter.SourceFSAdapter) Mutagen {
	return &mutagen{
		GoFileAdapter:   goFileAdapter,
		SourceFSAdapter: sourceFSAdapter,
	}
}

func (mg *mutagen) Discover(ctx context.Context, root m.Path, paths []m.Path, opts DiscoverOptions) ([]Schema, error) {
	if mg.GoFileAdapter == nil || mg.SourceFSAdapter == nil {
		return nil, fmt.Errorf("missing adapters")
	}

	kinds, err := resolveMutationTypes(opts.Types)
	if err != nil {
		return nil, err
	}

	files, err := mg.collectFiles(root, paths, opts.Visitor.ExcludePaths)
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		return nil, ErrNoSources
	}

	dirs := groupByDir(files)
	visitor := NewSiteVisitor(mutagens.Catalog(kinds...), opts.Visitor)
	results := make([][]Schema, len(dirs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Threads, 1))

	for i, dir := range dirs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			schemas, err := mg.discoverPackage(dir, visitor)
			if err != nil {
				return err
			}

			results[i] = schemas

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Schema
	for _, schemas := range results {
		out = append(out, schemas...)
	}

	return out, nil
}

type dirFiles struct {
	dir   string
	files []m.File
}

// discoverPackage parses and type checks the files of one directory and runs
// the visitor over each of them.
func (mg *mutagen) discoverPackage(dir dirFiles, visitor *SiteVisitor) ([]Schema, error) {
	fset := token.NewFileSet()
	packages := make(map[string][]*ast.File)

	var sources []m.Source

	for _, f := range dir.files {
		content, err := mg.ReadFile(f.FullPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.FullPath, err)
		}

		file, err := mg.Parse(fset, string(f.FullPath), content)
		if err != nil {
			slog.Warn("skipping file that does not parse", "file", f.ShortPath, "error", err)
			continue
		}

		if hash, err := mg.HashFile(f.FullPath); err == nil {
			f.Hash = hash
		}

		pkg := file.Name.Name
		packages[pkg] = append(packages[pkg], file)
		origin := f

		sources = append(sources, m.Source{
			Origin:  &origin,
			Package: &pkg,
			Content: content,
			FileSet: fset,
			AST:     file,
		})
	}

	names := make([]string, 0, len(packages))
	for pkg := range packages {
		names = append(names, pkg)
	}

	sort.Strings(names)

	infos := make(map[string]*types.Info, len(names))

	for _, pkg := range names {
		info, err := mg.Check(fset, filepath.ToSlash(filepath.Join(dir.dir, pkg)), packages[pkg])
		if err != nil {
			slog.Debug("continuing with partial type information", "dir", dir.dir, "package", pkg, "error", err)
		}

		infos[pkg] = info
	}

	for i := range sources {
		sources[i].Types = infos[*sources[i].Package]
	}

	schemas := make([]Schema, 0, len(sources))

	for _, src := range sources {
		mapping := m.NewSchemaMapping(src.Origin.FullPath)

		for _, site := range visitor.Visit(src) {
			if err := mapping.Add(site); err != nil {
				return nil, err
			}
		}

		schemas = append(schemas, Schema{Source: src, Mapping: mapping})
	}

	return schemas, nil
}

// collectFiles expands paths into the non-test Go files that match the
// current build context, sorted by short path.
func (mg *mutagen) collectFiles(root m.Path, paths []m.Path, excluded []string) ([]m.File, error) {
	if len(paths) == 0 {
		paths = []m.Path{"./..."}
	}

	seen := make(map[m.Path]struct{})

	var files []m.File

	for _, p := range paths {
		target, recursive := splitRecursive(root, p)

		info, err := mg.FileInfo(target)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}

		if !info.IsDir() {
			if f, ok := mg.sourceFile(root, target, excluded); ok {
				if _, dup := seen[f.FullPath]; !dup {
					seen[f.FullPath] = struct{}{}
					files = append(files, f)
				}
			}

			continue
		}

		err = mg.Walk(target, recursive, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}

			if info.IsDir() {
				if path != string(target) && skipDir(path, info.Name()) {
					return filepath.SkipDir
				}

				return nil
			}

			f, ok := mg.sourceFile(root, m.Path(path), excluded)
			if !ok {
				return nil
			}

			if _, dup := seen[f.FullPath]; !dup {
				seen[f.FullPath] = struct{}{}
				files = append(files, f)
			}

			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", p, err)
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].ShortPath < files[j].ShortPath })

	return files, nil
}

func (mg *mutagen) sourceFile(root, path m.Path, excluded []string) (m.File, bool) {
	name := filepath.Base(string(path))
	if filepath.Ext(name) != ".go" || isTestFile(path) {
		return m.File{}, false
	}

	rel, err := mg.RelPath(root, path)
	if err != nil {
		rel = path
	}

	rel = m.Path(filepath.ToSlash(string(rel)))
	if excludedPath(rel, excluded) {
		return m.File{}, false
	}

	if ok, err := build.Default.MatchFile(filepath.Dir(string(path)), name); err != nil || !ok {
		return m.File{}, false
	}

	return m.File{FullPath: path, ShortPath: rel}, true
}

// skipDir mirrors the directories the go tool ignores, plus nested modules.
func skipDir(path, name string) bool {
	if name == "vendor" || name == "testdata" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return true
	}

	_, err := os.Stat(filepath.Join(path, "go.mod"))

	return err == nil
}

func splitRecursive(root, p m.Path) (m.Path, bool) {
	s := filepath.ToSlash(string(p))
	recursive := false

	if s == "..." || strings.HasSuffix(s, "/...") {
		recursive = true
		s = strings.TrimSuffix(strings.TrimSuffix(s, "..."), "/")

		if s == "" {
			s = "."
		}
	}

	target := filepath.FromSlash(s)
	if !filepath.IsAbs(target) {
		target = filepath.Join(string(root), target)
	}

	return m.Path(target), recursive
}

func groupByDir(files []m.File) []dirFiles {
	var (
		out   []dirFiles
		index = make(map[string]int)
	)

	for _, f := range files {
		dir := filepath.Dir(string(f.ShortPath))

		i, ok := index[dir]
		if !ok {
			i = len(out)
			index[dir] = i
			out = append(out, dirFiles{dir: dir})
		}

		out[i].files = append(out[i].files, f)
	}

	return out
}

func resolveMutationTypes(mutationTypes []m.MutationType) ([]m.MutationType, error) {
	if len(mutationTypes) == 0 {
		return m.MutationTypes, nil
	}

	for _, t := range mutationTypes {
		if _, ok := m.ParseMutationType(string(t)); !ok {
			return nil, fmt.Errorf("unsupported mutation type: %s", t)
		}
	}

	return mutationTypes, nil
}
