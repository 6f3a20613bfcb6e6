package shim

import (
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// ConsoleLine is one captured console call.
type ConsoleLine struct {
	Level string
	Text  string
}

// ConsoleBuffer collects console output produced during a run. The embedder
// reads it back after execution instead of the engine writing to stdio.
type ConsoleBuffer struct {
	mu      sync.Mutex
	lines   []ConsoleLine
	forward func(ConsoleLine)
}

// Forward sets a callback invoked for every line as it is captured, for
// embedders that want live output in addition to the buffer. The callback
// runs on the script goroutine and must not call back into the engine.
func (b *ConsoleBuffer) Forward(fn func(ConsoleLine)) {
	b.mu.Lock()
	b.forward = fn
	b.mu.Unlock()
}

// Append records one line.
func (b *ConsoleBuffer) Append(level, text string) {
	line := ConsoleLine{Level: level, Text: text}
	b.mu.Lock()
	b.lines = append(b.lines, line)
	fn := b.forward
	b.mu.Unlock()
	if fn != nil {
		fn(line)
	}
}

// Lines returns a copy of everything captured so far.
func (b *ConsoleBuffer) Lines() []ConsoleLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ConsoleLine, len(b.lines))
	copy(out, b.lines)
	return out
}

// Text returns the captured output joined with newlines, levels dropped.
func (b *ConsoleBuffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	parts := make([]string, len(b.lines))
	for i, l := range b.lines {
		parts[i] = l.Text
	}
	return strings.Join(parts, "\n")
}

// Reset discards captured output.
func (b *ConsoleBuffer) Reset() {
	b.mu.Lock()
	b.lines = nil
	b.mu.Unlock()
}

func installConsole(rt *goja.Runtime, buf *ConsoleBuffer) {
	console := rt.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug", "trace"} {
		level := level
		console.Set(level, func(call goja.FunctionCall) goja.Value {
			buf.Append(level, formatArgs(rt, call.Arguments))
			return goja.Undefined()
		})
	}
	rt.Set("console", console)
}

// formatValue renders one console argument: plain objects and arrays as
// JSON, everything else with its string conversion.
func formatValue(rt *goja.Runtime, v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(obj); !isFn {
			if jsonObj, ok := rt.Get("JSON").(*goja.Object); ok {
				if stringify, ok := goja.AssertFunction(jsonObj.Get("stringify")); ok {
					if out, err := stringify(goja.Undefined(), obj); err == nil && !goja.IsUndefined(out) {
						return out.String()
					}
				}
			}
		}
	}
	return v.String()
}
