// Package sourcemap maps positions in transpiled JavaScript back to the
// TypeScript the user wrote. Every executed module registers its map here;
// runtime stack traces are rewritten frame by frame before they reach the
// embedder.
package sourcemap

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	smap "github.com/go-sourcemap/sourcemap"

	"tsxkit/pkg/errors"
	"tsxkit/pkg/source"
)

type entry struct {
	src        *source.SourceFile
	raw        []byte
	consumer   *smap.Consumer
	wrapOffset int
}

// Table holds the source maps of every module executed in one session,
// keyed by the file name the engine reports in stack frames.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Register records the map for one executed file. wrapOffset is the number
// of synthetic lines the wrapper machinery prepended before the transpiled
// code; engine line numbers are shifted down by it before lookup. A map
// that fails to parse degrades to line-identity remapping rather than
// failing registration.
func (t *Table) Register(file string, src *source.SourceFile, mapData []byte, wrapOffset int) {
	e := &entry{src: src, raw: mapData, wrapOffset: wrapOffset}
	if len(mapData) > 0 {
		if c, err := smap.Parse(file, mapData); err == nil {
			e.consumer = c
		}
	}
	t.mu.Lock()
	t.entries[file] = e
	t.mu.Unlock()
}

// SourceMap returns the raw V3 map JSON registered for file, for callers
// that want to remap positions with their own tooling.
func (t *Table) SourceMap(file string) ([]byte, bool) {
	t.mu.RLock()
	e, ok := t.entries[file]
	t.mu.RUnlock()
	if !ok || len(e.raw) == 0 {
		return nil, false
	}
	return e.raw, true
}

// Position maps an engine-reported 1-based line/column in file back to the
// original source. Unknown files and unmapped positions fall back to the
// wrap-adjusted line in the same file.
func (t *Table) Position(file string, line, column int) (errors.Position, bool) {
	t.mu.RLock()
	e, ok := t.entries[file]
	t.mu.RUnlock()
	if !ok {
		return errors.Position{Line: line, Column: column}, false
	}

	line -= e.wrapOffset
	if line < 1 {
		line = 1
	}
	if e.consumer != nil {
		if _, _, origLine, origCol, found := e.consumer.Source(line, column); found {
			return errors.Position{Line: origLine, Column: origCol, Source: e.src}, true
		}
	}
	// Line-identity fallback: type stripping preserves line structure, so
	// the wrap-adjusted line is still meaningful even without a mapping.
	return errors.Position{Line: line, Column: column, Source: e.src}, true
}

// Frame matching for stack text of the form
//
//	at funcName (file:12:3(45))
//	at file:12:3(45)
//
// where the trailing parenthesized number is the engine's instruction
// counter and is dropped from the remapped output.
var frameRe = regexp.MustCompile(`(\s+at\s+(?:.+?\()?)([^\s()]+):(\d+):(\d+)(\(\d+\))?(\)?)`)

// RemapStack rewrites every recognizable frame of an engine stack trace to
// original-source coordinates. Frames with no registered map pass through
// unchanged.
func (t *Table) RemapStack(stack string) string {
	lines := strings.Split(stack, "\n")
	for i, line := range lines {
		lines[i] = frameRe.ReplaceAllStringFunc(line, t.remapFrame)
	}
	return strings.Join(lines, "\n")
}

func (t *Table) remapFrame(frame string) string {
	m := frameRe.FindStringSubmatch(frame)
	if m == nil {
		return frame
	}
	file := m[2]
	line, _ := strconv.Atoi(m[3])
	column, _ := strconv.Atoi(m[4])

	pos, ok := t.Position(file, line, column)
	if !ok {
		return frame
	}
	name := file
	if pos.Source != nil {
		name = pos.Source.DisplayPath()
	}
	return fmt.Sprintf("%s%s:%d:%d%s", m[1], name, pos.Line, pos.Column, m[6])
}

// Reset drops all registered maps. Used when the owning session's module
// cache is cleared.
func (t *Table) Reset() {
	t.mu.Lock()
	t.entries = make(map[string]*entry)
	t.mu.Unlock()
}
