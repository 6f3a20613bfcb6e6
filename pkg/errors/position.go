package errors

import "tsxkit/pkg/source"

// Position represents a specific location in guest source code.
// Line and column are 1-based for human-readability; offsets are 0-based
// byte positions for tooling.
type Position struct {
	Line     int                // 1-based line number
	Column   int                // 1-based column number
	StartPos int                // 0-based byte offset of the start of the span
	EndPos   int                // 0-based byte offset of the end of the span (exclusive)
	Source   *source.SourceFile // Reference to the source file
}

// IsZero reports whether the position carries no location information.
func (p Position) IsZero() bool {
	return p.Line == 0 && p.Column == 0 && p.Source == nil
}
