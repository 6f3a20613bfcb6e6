package transpiler

import (
	"path"
	"regexp"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"

	"tsxkit/pkg/errors"
	"tsxkit/pkg/source"
)

// Result is the output of one transpile call: executable JavaScript plus the
// raw V3 source map linking it back to the original source, and the number of
// synthetic lines prepended before the first user line.
type Result struct {
	Code       string
	SourceMap  []byte
	WrapOffset int
}

// Kind classifies a module's authoring format.
type Kind int

const (
	KindCommonJS Kind = iota
	KindESM
)

func (k Kind) String() string {
	if k == KindESM {
		return "esm"
	}
	return "commonjs"
}

var esmSyntax = regexp.MustCompile(`(?m)^\s*(import\s|import\(|import\.meta|export\s|export\{)`)

// DetectKind classifies source text by extension first, syntax second.
// .mjs and .cjs are authoritative; anything else is scanned for top-level
// import/export syntax.
func DetectKind(name, code string) Kind {
	switch path.Ext(name) {
	case ".mjs", ".mts":
		return KindESM
	case ".cjs", ".cts":
		return KindCommonJS
	}
	if esmSyntax.MatchString(code) {
		return KindESM
	}
	return KindCommonJS
}

func loaderFor(name string) api.Loader {
	switch path.Ext(name) {
	case ".ts", ".mts", ".cts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	case ".json":
		return api.LoaderJSON
	default:
		return api.LoaderJS
	}
}

// Transpiler strips types and lowers ES modules to CommonJS so the module
// loader can run everything under one wrapper convention.
type Transpiler struct {
	log zerolog.Logger
}

// New creates a Transpiler.
func New(log zerolog.Logger) *Transpiler {
	return &Transpiler{log: log}
}

// Module transpiles one module's source: TypeScript types erased, JSX
// lowered, import/export rewritten to require/exports. Identifier names and
// statement order are preserved; only syntax the engine cannot execute is
// rewritten.
func (t *Transpiler) Module(src *source.SourceFile) (*Result, error) {
	return t.transform(src, api.FormatCommonJS)
}

// Script transpiles top-level script text and arranges for its completion
// value: the last top-level expression statement becomes a return, and the
// whole body is wrapped in an async IIFE so top-level await is legal. The
// wrapper contributes one synthetic line, recorded in WrapOffset.
func (t *Transpiler) Script(src *source.SourceFile) (*Result, error) {
	res, err := t.transform(src, api.FormatCommonJS)
	if err != nil {
		// The CommonJS lowering rejects top-level await outright; such
		// scripts go through the hoisting path instead.
		if tErr, ok := err.(*errors.TranspileError); ok && strings.Contains(tErr.Msg, "Top-level await") {
			return t.scriptWithTopLevelAwait(src)
		}
		return nil, err
	}
	body := returnLastExpression(res.Code)
	res.Code = "module.exports = (async function() {\n" + body + "\n})();"
	res.WrapOffset = 1
	t.log.Debug().Str("source", src.Name).Int("bytes", len(res.Code)).Msg("transpiled script")
	return res, nil
}

var exportPrefix = regexp.MustCompile(`^export\s+(?:default\s+)?`)

// scriptWithTopLevelAwait handles scripts that await at the top level. The
// source is first stripped to plain ESM JavaScript, then import statements
// are hoisted above an async wrapper holding the rest of the body, and the
// assembly is lowered to CommonJS. Line surgery makes the original source
// map unusable, so positions degrade to line-identity remapping.
func (t *Transpiler) scriptWithTopLevelAwait(src *source.SourceFile) (*Result, error) {
	stripped, err := t.transform(src, api.FormatESModule)
	if err != nil {
		return nil, err
	}

	var imports, body []string
	for _, line := range strings.Split(stripped.Code, "\n") {
		if strings.HasPrefix(line, "import ") || strings.HasPrefix(line, "import\"") {
			imports = append(imports, line)
			continue
		}
		body = append(body, exportPrefix.ReplaceAllString(line, ""))
	}

	bodyText := returnLastExpression(strings.Join(body, "\n"))
	assembled := strings.Join(imports, "\n")
	if assembled != "" {
		assembled += "\n"
	}
	assembled += "module.exports = (async () => {\n" + bodyText + "\n})();"

	if len(imports) == 0 {
		return &Result{Code: assembled, WrapOffset: 1}, nil
	}
	lowered := api.Transform(assembled, api.TransformOptions{
		Loader:   api.LoaderJS,
		Format:   api.FormatCommonJS,
		Target:   api.ES2020,
		Platform: api.PlatformNeutral,
		LogLevel: api.LogLevelSilent,
	})
	if len(lowered.Errors) > 0 {
		return nil, t.transformError(src, lowered.Errors[0])
	}
	return &Result{Code: string(lowered.Code), WrapOffset: len(imports) + 1}, nil
}

func (t *Transpiler) transform(src *source.SourceFile, format api.Format) (*Result, error) {
	result := api.Transform(src.Content, api.TransformOptions{
		Loader:     loaderFor(src.Name),
		Format:     format,
		Target:     api.ES2020,
		Sourcemap:  api.SourceMapExternal,
		Sourcefile: src.Name,
		Platform:   api.PlatformNeutral,
		LogLevel:   api.LogLevelSilent,
		Charset:    api.CharsetUTF8,
	})
	if len(result.Errors) > 0 {
		return nil, t.transformError(src, result.Errors[0])
	}
	t.log.Debug().Str("source", src.Name).Int("bytes", len(result.Code)).Msg("transpiled module")
	return &Result{Code: string(result.Code), SourceMap: result.Map}, nil
}

func (t *Transpiler) transformError(src *source.SourceFile, msg api.Message) error {
	pos := errors.Position{Source: src}
	excerpt := ""
	if msg.Location != nil {
		pos.Line = msg.Location.Line
		pos.Column = msg.Location.Column + 1
		excerpt = errors.RenderExcerpt(src.Content, pos.Line, pos.Column)
	}
	return &errors.TranspileError{
		Position: pos,
		Msg:      msg.Text,
		Excerpt:  excerpt,
	}
}

// returnLastExpression rewrites the final top-level statement to a return
// when it is an expression statement, so the script's completion value
// survives the IIFE wrap. Text the engine parser cannot handle is left
// untouched; the script then completes with undefined.
func returnLastExpression(code string) string {
	prog, err := parser.ParseFile(nil, "", code, 0)
	if err != nil || len(prog.Body) == 0 {
		return code
	}
	last, ok := prog.Body[len(prog.Body)-1].(*ast.ExpressionStatement)
	if !ok {
		return code
	}
	start := int(last.Idx0()) - 1
	end := int(last.Idx1()) - 1
	if start < 0 || end > len(code) || start >= end {
		return code
	}
	expr := strings.TrimSuffix(strings.TrimSpace(code[start:end]), ";")
	return code[:start] + "return (" + expr + ");" + code[end:]
}
