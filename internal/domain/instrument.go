package domain

import (
	"context"
	"errors"
	"go/ast"
	"go/token"
	"go/types"
	"log/slog"
	"path/filepath"

	m "gooze.dev/pkg/schemata/internal/model"
)

func (mg *mutagen) Instrument(ctx context.Context, schemas []Schema) ([]Instrumented, []m.MutationSite, error) {
	if mg.GoFileAdapter == nil {
		return nil, nil, errors.New("missing go file adapter")
	}

	files := instrumentFiles(schemas)
	rewritten := make(map[m.Path]Instrumented, len(files))

	for _, f := range files {
		rewritten[f.Source.Origin.FullPath] = f
	}

	for _, pkg := range groupPackages(schemas) {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		mg.verifyPackage(pkg, rewritten)
	}

	var (
		kept  []Instrumented
		sites []m.MutationSite
	)

	for _, f := range files {
		if _, ok := rewritten[f.Source.Origin.FullPath]; ok {
			kept = append(kept, f)
			sites = append(sites, f.Sites...)
		}
	}

	return kept, sites, nil
}

// instrumentFiles rewrites every schema with sites. Files that cannot be
// instrumented are dropped together with their sites.
func instrumentFiles(schemas []Schema) []Instrumented {
	var files []Instrumented

	for _, schema := range schemas {
		if schema.Mapping == nil || schema.Mapping.Len() == 0 {
			continue
		}

		inst, err := Instrument(schema.Source, schema.Mapping)
		if err != nil {
			slog.Warn("skipping file that cannot be instrumented", "file", schema.Mapping.File, "error", err)
			continue
		}

		files = append(files, inst)
	}

	return files
}

type packageFiles struct {
	path    string
	sources []m.Source
}

func groupPackages(schemas []Schema) []packageFiles {
	index := make(map[string]int)

	var out []packageFiles

	for _, schema := range schemas {
		src := schema.Source
		if src.Origin == nil || src.Package == nil {
			continue
		}

		path := filepath.ToSlash(filepath.Join(filepath.Dir(string(src.Origin.ShortPath)), *src.Package))

		i, ok := index[path]
		if !ok {
			i = len(out)
			index[path] = i
			out = append(out, packageFiles{path: path})
		}

		out[i].sources = append(out[i].sources, src)
	}

	return out
}

// verifyPackage type checks pkg with its rewritten files in place and drops
// from rewritten every file that reports an error the original package did
// not have. Errors are compared by file, original line and message, so
// failures the original already carries, such as unresolved imports, are
// tolerated.
func (mg *mutagen) verifyPackage(pkg packageFiles, rewritten map[m.Path]Instrumented) {
	pending := 0

	for _, src := range pkg.sources {
		if _, ok := rewritten[src.Origin.FullPath]; ok {
			pending++
		}
	}

	if pending == 0 {
		return
	}

	known := mg.typeErrors(pkg, nil)

	for pending > 0 {
		broken := make(map[m.Path]bool)

		for key, file := range mg.typeErrors(pkg, rewritten) {
			if _, ok := known[key]; !ok {
				broken[file] = true
			}
		}

		if len(broken) == 0 {
			return
		}

		dropped := 0

		for _, src := range pkg.sources {
			path := src.Origin.FullPath
			if _, ok := rewritten[path]; !ok {
				continue
			}

			// An error in a file left untouched cannot be attributed, so every
			// rewrite of the package goes.
			if broken[path] || !anyRewritten(broken, rewritten) {
				slog.Warn("dropping instrumented file that does not type check", "file", src.Origin.ShortPath)
				delete(rewritten, path)
				dropped++
			}
		}

		pending -= dropped
		if dropped == 0 {
			return
		}
	}
}

func anyRewritten(files map[m.Path]bool, rewritten map[m.Path]Instrumented) bool {
	for path := range files {
		if _, ok := rewritten[path]; ok {
			return true
		}
	}

	return false
}

type typeErrorKey struct {
	file m.Path
	line int
	msg  string
}

// typeErrors checks pkg, substituting the rewritten content where present,
// and returns its errors keyed by original position.
func (mg *mutagen) typeErrors(pkg packageFiles, rewritten map[m.Path]Instrumented) map[typeErrorKey]m.Path {
	fset := token.NewFileSet()
	files := make([]*ast.File, 0, len(pkg.sources))
	lineMaps := make(map[string]*LineMap)
	errs := make(map[typeErrorKey]m.Path)

	for _, src := range pkg.sources {
		name := string(src.Origin.FullPath)
		content := src.Content

		if inst, ok := rewritten[src.Origin.FullPath]; ok {
			content = inst.Content
			lineMaps[name] = inst.LineMap
		}

		file, err := mg.Parse(fset, name, content)
		if err != nil {
			errs[typeErrorKey{file: src.Origin.FullPath, msg: err.Error()}] = src.Origin.FullPath
			continue
		}

		files = append(files, file)
	}

	_, err := mg.Check(fset, pkg.path, files)
	for _, e := range unjoin(err) {
		var typeErr types.Error
		if !errors.As(e, &typeErr) {
			continue
		}

		pos := typeErr.Fset.Position(typeErr.Pos)

		line := pos.Line
		if lm, ok := lineMaps[pos.Filename]; ok {
			line = lm.Original(line)
		}

		errs[typeErrorKey{file: m.Path(pos.Filename), line: line, msg: typeErr.Msg}] = m.Path(pos.Filename)
	}

	return errs
}

func unjoin(err error) []error {
	if err == nil {
		return nil
	}

	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}

	return []error{err}
}
