package sourcemap

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"tsxkit/pkg/source"
	"tsxkit/pkg/transpiler"
)

func TestPositionLineIdentityFallback(t *testing.T) {
	src := source.NewSourceFile("main.ts", "/main.ts", "a\nb\nc\nd\ne\n")
	table := NewTable()
	table.Register("/main.ts", src, nil, 2)

	pos, ok := table.Position("/main.ts", 5, 7)
	if !ok {
		t.Fatalf("registered file should map")
	}
	if pos.Line != 3 || pos.Column != 7 {
		t.Errorf("got %d:%d, want 3:7", pos.Line, pos.Column)
	}
	if pos.Source != src {
		t.Errorf("mapped position should carry the source file")
	}
}

func TestPositionUnknownFile(t *testing.T) {
	table := NewTable()
	pos, ok := table.Position("/ghost.ts", 4, 2)
	if ok {
		t.Errorf("unknown file should not claim a mapping")
	}
	if pos.Line != 4 || pos.Column != 2 {
		t.Errorf("unknown file should pass coordinates through, got %d:%d", pos.Line, pos.Column)
	}
}

func TestRemapStack(t *testing.T) {
	src := source.NewSourceFile("main.ts", "/main.ts", strings.Repeat("x\n", 10))
	table := NewTable()
	table.Register("/main.ts", src, nil, 2)

	stack := "Error: boom\n\tat fail (/main.ts:5:7(12))\n\tat /unmapped.js:1:1(3)"
	got := table.RemapStack(stack)

	if !strings.Contains(got, "/main.ts:3:7") {
		t.Errorf("mapped frame missing, got:\n%s", got)
	}
	if strings.Contains(got, "(12)") {
		t.Errorf("instruction counter should be dropped from mapped frames:\n%s", got)
	}
	if !strings.Contains(got, "/unmapped.js:1:1") {
		t.Errorf("unmapped frames pass through:\n%s", got)
	}
}

func TestPositionWithRealMap(t *testing.T) {
	src := source.NewSourceFile("boom.ts", "/boom.ts", `interface T { x: number }
const t: T = { x: 1 };
function blow(v: T): never {
  throw new Error("boom " + v.x);
}
blow(t);
`)
	res, err := transpiler.New(zerolog.Nop()).Module(src)
	if err != nil {
		t.Fatalf("Module: %v", err)
	}

	table := NewTable()
	table.Register("/boom.ts", src, res.SourceMap, 0)

	// Locate the throw statement in the generated code and map it back.
	genLine := 0
	for i, line := range strings.Split(res.Code, "\n") {
		if strings.Contains(line, "throw") {
			genLine = i + 1
			break
		}
	}
	if genLine == 0 {
		t.Fatalf("no throw in generated code:\n%s", res.Code)
	}

	pos, ok := table.Position("/boom.ts", genLine, 3)
	if !ok {
		t.Fatalf("expected a mapping")
	}
	if pos.Line != 4 {
		t.Errorf("throw maps to line %d, want 4", pos.Line)
	}

	raw, ok := table.SourceMap("/boom.ts")
	if !ok || !strings.Contains(string(raw), `"mappings"`) {
		t.Errorf("raw map should be retrievable for registered file")
	}
	if _, ok := table.SourceMap("/other.ts"); ok {
		t.Errorf("unregistered file should have no raw map")
	}
}
