package domain

import (
	"bytes"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// LineMap translates line numbers of an instrumented file back to the
// original file.
type LineMap struct {
	lines []int // lines[i] is the original line of instrumented line i+1
}

// Original returns the original line for an instrumented line, or 0 when the
// line is out of range. A map of an untouched file is the identity.
func (l *LineMap) Original(line int) int {
	if l == nil || l.lines == nil {
		return line
	}

	if line < 1 || line > len(l.lines) {
		return 0
	}

	return l.lines[line-1]
}

// Len returns the number of mapped instrumented lines.
func (l *LineMap) Len() int {
	if l == nil {
		return 0
	}

	return len(l.lines)
}

var fileLineRef = regexp.MustCompile(`([\w./\\-]*\.go):(\d+)`)

// logRemapper rewrites "path/file.go:LINE" references in tool output so that
// references to instrumented files point at original lines. A reference is
// attributed to the file whose short path it ends with; ambiguous references
// are left alone.
type logRemapper struct {
	files map[string]*LineMap // short path, slash separated
}

func newLogRemapper(files []Instrumented) *logRemapper {
	r := &logRemapper{files: make(map[string]*LineMap, len(files))}

	for _, f := range files {
		if f.Source.Origin != nil && f.LineMap.Len() > 0 {
			r.files[filepath.ToSlash(string(f.Source.Origin.ShortPath))] = f.LineMap
		}
	}

	return r
}

func (r *logRemapper) remap(log string) string {
	if len(r.files) == 0 || log == "" {
		return log
	}

	return fileLineRef.ReplaceAllStringFunc(log, func(match string) string {
		parts := fileLineRef.FindStringSubmatch(match)

		lm := r.lookup(filepath.ToSlash(parts[1]))
		if lm == nil {
			return match
		}

		line, err := strconv.Atoi(parts[2])
		if err != nil {
			return match
		}

		original := lm.Original(line)
		if original == 0 {
			return match
		}

		return parts[1] + ":" + strconv.Itoa(original)
	})
}

func (r *logRemapper) lookup(ref string) *LineMap {
	ref = strings.TrimPrefix(ref, "./")

	var (
		found *LineMap
		hits  int
	)

	for short, lm := range r.files {
		if short == ref || strings.HasSuffix(ref, "/"+short) || strings.HasSuffix(short, "/"+ref) {
			found = lm
			hits++
		}
	}

	if hits != 1 {
		return nil
	}

	return found
}

// lineWriter accumulates instrumented output and records, for every output
// line, the original line it came from. Copied bytes keep their own line;
// synthetic text is attributed to the last copied line.
type lineWriter struct {
	buf         bytes.Buffer
	src         []byte
	starts      []int
	lines       []int
	lastLine    int
	atLineStart bool
}

func newLineWriter(src []byte) *lineWriter {
	return &lineWriter{
		src:         src,
		starts:      computeLineStarts(src),
		lastLine:    1,
		atLineStart: true,
	}
}

// copy writes src[a:b].
func (w *lineWriter) copy(a, b int) {
	if a >= b {
		return
	}

	line := w.lineOf(a)
	w.write(w.src[a:b], line, true)
	w.lastLine = w.lineOf(b - 1)
}

// synthetic writes generated text.
func (w *lineWriter) synthetic(s string) {
	w.write([]byte(s), w.lastLine, false)
}

func (w *lineWriter) write(p []byte, line int, advance bool) {
	for _, c := range p {
		if w.atLineStart {
			w.lines = append(w.lines, line)
			w.atLineStart = false
		}

		w.buf.WriteByte(c)

		if c == '\n' {
			w.atLineStart = true

			if advance {
				line++
			}
		}
	}
}

// line returns the output line the next byte lands on.
func (w *lineWriter) line() int {
	if w.atLineStart {
		return len(w.lines) + 1
	}

	return len(w.lines)
}

func (w *lineWriter) lineOf(offset int) int {
	return sort.Search(len(w.starts), func(i int) bool { return w.starts[i] > offset })
}

func (w *lineWriter) lineMap() *LineMap {
	return &LineMap{lines: w.lines}
}

func (w *lineWriter) bytes() []byte {
	return w.buf.Bytes()
}

func computeLineStarts(content []byte) []int {
	starts := []int{0}

	for i, b := range content {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}

	return starts
}
