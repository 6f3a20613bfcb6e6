package errors

import (
	"strings"
	"testing"
)

func TestRenderExcerpt(t *testing.T) {
	src := "const a = 1;\nconst b: = 2;\nconst c = 3;\n"
	got := RenderExcerpt(src, 2, 9)
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("excerpt = %q", got)
	}
	if !strings.Contains(lines[0], "const b: = 2;") {
		t.Errorf("excerpt line = %q", lines[0])
	}
	caret := strings.Index(lines[1], "^")
	text := strings.Index(lines[0], "const")
	if caret-text != 8 {
		t.Errorf("caret at offset %d relative to text, want 8\n%s", caret-text, got)
	}
}

func TestRenderExcerptOutOfRange(t *testing.T) {
	if got := RenderExcerpt("one line", 5, 1); got != "" {
		t.Errorf("out-of-range line should render nothing, got %q", got)
	}
}

func TestResolutionErrorMessage(t *testing.T) {
	err := &ResolutionError{
		Reason:    NotFound,
		Specifier: "./missing",
		Base:      "/src/app.ts",
		Mode:      "import",
		Msg:       "no such file",
	}
	for _, want := range []string{"NotFound", "./missing", "/src/app.ts", "no such file"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Error() = %q, missing %q", err.Error(), want)
		}
	}
}

func TestEvaluationErrorIncludesStack(t *testing.T) {
	err := &EvaluationError{
		Location:    "/src/app.ts",
		Msg:         "boom",
		MappedStack: "\tat blow (/src/app.ts:3:9)",
	}
	if !strings.Contains(err.Error(), "/src/app.ts:3:9") {
		t.Errorf("Error() = %q", err.Error())
	}
}
