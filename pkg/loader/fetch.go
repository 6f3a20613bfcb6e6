package loader

import (
	"context"
	"fmt"
	"path"
	"regexp"

	"tsxkit/pkg/descriptor"
	"tsxkit/pkg/errors"
	"tsxkit/pkg/host"
	"tsxkit/pkg/resolver"
	"tsxkit/pkg/source"
	"tsxkit/pkg/transpiler"
)

// fetchLocal reads and transpiles a sandbox file. Local reads are
// synchronous, so this runs lazily from inside require().
func (l *Loader) fetchLocal(loc resolver.Location) (*fetchedModule, error) {
	p := string(loc)
	if loc.IsFileURL() {
		fp, ok := resolver.FileURLToPath(p)
		if !ok {
			return nil, &errors.ResolutionError{
				Reason:    errors.NotFound,
				Specifier: p,
				Msg:       "malformed file URL",
			}
		}
		p = fp
	}
	data, err := l.fs.ReadFile(p)
	if err != nil {
		return nil, &errors.ResolutionError{
			Reason:    errors.NotFound,
			Specifier: string(loc),
			Msg:       "unreadable module file",
			Cause:     err,
		}
	}
	return l.compile(loc, source.NewSourceFile(p, p, string(data)))
}

func (l *Loader) compile(loc resolver.Location, src *source.SourceFile) (*fetchedModule, error) {
	compiled, err := l.transpiler.Module(src)
	if err != nil {
		return nil, err
	}
	fm := &fetchedModule{
		src:      src,
		compiled: compiled,
		kind:     transpiler.DetectKind(src.Name, src.Content),
	}
	l.mu.Lock()
	l.fetched[loc] = fm
	l.mu.Unlock()
	return fm, nil
}

// Static dependencies in transpiled output are require calls with string
// literal arguments; the lowering also rewrites dynamic import() of a
// literal into such a call.
var requireRe = regexp.MustCompile(`require\(\s*(?:"((?:[^"\\]|\\.)*)"|'((?:[^'\\]|\\.)*)')\s*\)`)

func scanRequires(code string) []string {
	var specs []string
	for _, m := range requireRe.FindAllStringSubmatch(code, -1) {
		spec := m[1]
		if spec == "" {
			spec = m[2]
		}
		if spec != "" {
			specs = append(specs, spec)
		}
	}
	return specs
}

// Prefetch fetches and transpiles the static dependency graph rooted at a
// location, so that every remote module require() will later demand is
// already in memory. Local modules are walked but fetched lazily at
// require time. Specifiers that fail to resolve are skipped here; the
// runtime require raises the authoritative error.
func (l *Loader) Prefetch(ctx context.Context, loc resolver.Location) error {
	return l.prefetch(ctx, loc, make(map[resolver.Location]bool))
}

func (l *Loader) prefetch(ctx context.Context, loc resolver.Location, seen map[resolver.Location]bool) error {
	if seen[loc] || loc.IsBuiltin() {
		return nil
	}
	seen[loc] = true
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	fm, ok := l.fetched[loc]
	l.mu.Unlock()
	if !ok {
		var err error
		if loc.IsHTTP() {
			fm, err = l.fetchRemote(ctx, loc)
		} else {
			fm, err = l.fetchLocal(loc)
		}
		if err != nil {
			return err
		}
	}

	mode := requireMode(fm.kind)
	for _, spec := range scanRequires(fm.compiled.Code) {
		dep, err := l.resolver.Resolve(spec, resolver.Context{Base: loc, Mode: mode})
		if err != nil {
			l.log.Debug().Str("specifier", spec).Str("base", string(loc)).Err(err).Msg("prefetch skipping unresolvable dependency")
			continue
		}
		if err := l.prefetch(ctx, dep, seen); err != nil {
			return err
		}
	}
	return nil
}

// PrefetchScript transpiles script text and prefetches its dependency
// graph without executing anything.
func (l *Loader) PrefetchScript(ctx context.Context, src *source.SourceFile, baseDir string) error {
	compiled, err := l.transpiler.Script(src)
	if err != nil {
		return err
	}
	base := resolver.Location(path.Join(baseDir, src.Name))
	seen := make(map[resolver.Location]bool)
	for _, spec := range scanRequires(compiled.Code) {
		dep, err := l.resolver.Resolve(spec, resolver.Context{Base: base, Mode: descriptor.ModeImport})
		if err != nil {
			continue
		}
		if err := l.prefetch(ctx, dep, seen); err != nil {
			return err
		}
	}
	return nil
}

// fetchRemote downloads one module over the host transport.
func (l *Loader) fetchRemote(ctx context.Context, loc resolver.Location) (*fetchedModule, error) {
	if l.transport == nil {
		return nil, &errors.ResolutionError{
			Reason:    errors.NotFound,
			Specifier: string(loc),
			Msg:       "remote modules are disabled: no transport configured",
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, &errors.HttpError{Reason: errors.HttpAborted, URL: string(loc), Msg: "fetch aborted", Cause: err}
	}

	resp, err := l.transport.Send(&host.Request{
		Method: "GET",
		URL:    string(loc),
		Headers: []host.Header{
			{Name: "Accept", Value: "application/javascript, text/javascript, */*"},
		},
	})
	if err != nil {
		return nil, &errors.HttpError{Reason: errors.HttpNetwork, URL: string(loc), Msg: err.Error(), Cause: err}
	}
	if resp.Status >= 400 {
		return nil, &errors.ResolutionError{
			Reason:    errors.NotFound,
			Specifier: string(loc),
			Msg:       fmt.Sprintf("remote module fetch returned status %d", resp.Status),
		}
	}

	l.log.Debug().Str("location", string(loc)).Int("bytes", len(resp.Body)).Msg("fetched remote module")
	name := remoteSourceName(loc)
	return l.compile(loc, source.NewSourceFile(name, string(loc), string(resp.Body)))
}

func remoteSourceName(loc resolver.Location) string {
	return string(loc)
}
