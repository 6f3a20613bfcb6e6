package errors

import (
	"fmt"
	"io"
	"strings"
)

// EngineError is the interface implemented by all tsxkit errors.
type EngineError interface {
	error // Embed the standard error interface
	Pos() Position
	Kind() string // e.g., "Resolution", "Transpile", "Evaluation", "Http"
	// Message returns the specific error message without position info.
	Message() string
	Unwrap() error // For error wrapping support (errors.Is/As)
}

// --- Resolution errors ---

// ResolutionKind classifies why a specifier failed to resolve.
type ResolutionKind int

const (
	NotFound ResolutionKind = iota
	InvalidPackageMap
	AmbiguousWildcard
)

func (k ResolutionKind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case InvalidPackageMap:
		return "InvalidPackageMap"
	case AmbiguousWildcard:
		return "AmbiguousWildcard"
	default:
		return "invalid"
	}
}

// ResolutionError is raised by the resolver when no rule matches a specifier,
// or a package manifest rule is malformed.
type ResolutionError struct {
	Position
	Reason    ResolutionKind
	Specifier string // The specifier as written in source
	Base      string // Base location of the importing module
	Mode      string // "import" or "require"
	Msg       string
	Cause     error
}

func (e *ResolutionError) Error() string {
	if e.Base != "" {
		return fmt.Sprintf("Resolution Error (%s): %s: %q imported from %s", e.Reason, e.Msg, e.Specifier, e.Base)
	}
	return fmt.Sprintf("Resolution Error (%s): %s: %q", e.Reason, e.Msg, e.Specifier)
}
func (e *ResolutionError) Pos() Position   { return e.Position }
func (e *ResolutionError) Kind() string    { return "Resolution" }
func (e *ResolutionError) Message() string { return e.Msg }
func (e *ResolutionError) Unwrap() error   { return e.Cause }

// --- Transpile errors ---

// TranspileError is raised when a module cannot be compiled. It carries a
// rendered excerpt of the offending line with a column caret.
type TranspileError struct {
	Position
	Msg     string
	Excerpt string // Pre-rendered source excerpt with caret, possibly empty
	Cause   error
}

func (e *TranspileError) Error() string {
	head := fmt.Sprintf("Transpile Error at %d:%d: %s", e.Line, e.Column, e.Msg)
	if e.Excerpt != "" {
		return head + "\n" + e.Excerpt
	}
	return head
}
func (e *TranspileError) Pos() Position   { return e.Position }
func (e *TranspileError) Kind() string    { return "Transpile" }
func (e *TranspileError) Message() string { return e.Msg }
func (e *TranspileError) Unwrap() error   { return e.Cause }

// --- Evaluation errors ---

// EvaluationError wraps any exception thrown while a module body executes.
// MappedStack holds source-mapped frames once the remapper has run.
type EvaluationError struct {
	Position
	Location    string // CanonicalLocation of the failing module
	Msg         string
	MappedStack string // Remapped stack trace, one frame per line
	Cause       error
}

func (e *EvaluationError) Error() string {
	head := fmt.Sprintf("Evaluation Error in %s: %s", e.Location, e.Msg)
	if e.MappedStack != "" {
		return head + "\n" + e.MappedStack
	}
	return head
}
func (e *EvaluationError) Pos() Position   { return e.Position }
func (e *EvaluationError) Kind() string    { return "Evaluation" }
func (e *EvaluationError) Message() string { return e.Msg }
func (e *EvaluationError) Unwrap() error   { return e.Cause }

// --- HTTP errors ---

// HttpKind distinguishes a timeout from a transport failure from a
// caller-initiated abort.
type HttpKind int

const (
	HttpTimeout HttpKind = iota
	HttpNetwork
	HttpAborted
)

func (k HttpKind) String() string {
	switch k {
	case HttpTimeout:
		return "Timeout"
	case HttpNetwork:
		return "Network"
	case HttpAborted:
		return "Aborted"
	default:
		return "invalid"
	}
}

// HttpError is raised by the HTTP client shim.
type HttpError struct {
	Position
	Reason HttpKind
	URL    string
	Msg    string
	Cause  error
}

func (e *HttpError) Error() string {
	return fmt.Sprintf("Http Error (%s): %s: %s", e.Reason, e.URL, e.Msg)
}
func (e *HttpError) Pos() Position   { return e.Position }
func (e *HttpError) Kind() string    { return "Http" }
func (e *HttpError) Message() string { return e.Msg }
func (e *HttpError) Unwrap() error   { return e.Cause }

// --- Error rendering ---

// RenderExcerpt renders a single source line with a caret under the given
// 1-based column. Returns "" when the line is unavailable.
func RenderExcerpt(sourceText string, line, column int) string {
	lines := strings.Split(sourceText, "\n")
	idx := line - 1
	if idx < 0 || idx >= len(lines) {
		return ""
	}
	text := strings.TrimRight(lines[idx], "\r\n\t ")
	caretCol := column - 1
	if caretCol < 0 {
		caretCol = 0
	}
	if caretCol > len(text) {
		caretCol = len(text)
	}
	return fmt.Sprintf("  %s\n  %s^", text, strings.Repeat(" ", caretCol))
}

// Display prints a list of engine errors to w in a user-friendly format,
// including the source line and position marker when available.
func Display(w io.Writer, errs []EngineError) {
	for _, err := range errs {
		pos := err.Pos()
		fmt.Fprintf(w, "%s Error", err.Kind())
		if pos.Line > 0 {
			fmt.Fprintf(w, " at %d:%d", pos.Line, pos.Column)
		}
		fmt.Fprintf(w, ": %s\n", err.Message())

		if pos.Source != nil {
			if excerpt := RenderExcerpt(pos.Source.Content, pos.Line, pos.Column); excerpt != "" {
				fmt.Fprintln(w, excerpt)
			}
		}
		fmt.Fprintln(w)
	}
}
