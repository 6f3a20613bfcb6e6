// Package loader executes modules on the engine: it turns canonical
// locations into cached, evaluated module records, threading every static
// and dynamic require back through the resolver.
package loader

import (
	"fmt"
	"path"
	"sync"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"tsxkit/pkg/descriptor"
	"tsxkit/pkg/errors"
	"tsxkit/pkg/host"
	"tsxkit/pkg/resolver"
	"tsxkit/pkg/source"
	"tsxkit/pkg/sourcemap"
	"tsxkit/pkg/transpiler"
)

type recordState int

const (
	stateLoading recordState = iota
	stateLoaded
	stateFailed
)

// Record is one cached module. Its exports object is created before the
// module body runs, so circular requires observe the partially populated
// object rather than deadlocking or re-executing.
type Record struct {
	Location resolver.Location
	Kind     transpiler.Kind

	state     recordState
	moduleObj *goja.Object
	err       error
}

// Exports returns the module's current exports value. During a circular
// require this is the live, still-filling object.
func (r *Record) Exports() goja.Value {
	return r.moduleObj.Get("exports")
}

// NativeModule populates the module object of a host-provided builtin.
type NativeModule func(rt *goja.Runtime, module *goja.Object)

// Loader owns the module cache of one session. Execution methods must run
// on the goroutine driving the goja runtime; prefetching is safe from any
// goroutine.
type Loader struct {
	fs         host.FileStore
	transport  host.Transport
	resolver   *resolver.Resolver
	transpiler *transpiler.Transpiler
	maps       *sourcemap.Table
	log        zerolog.Logger

	rt      *goja.Runtime
	natives map[string]NativeModule
	cache   map[resolver.Location]*Record

	mu      sync.Mutex
	fetched map[resolver.Location]*fetchedModule
}

type fetchedModule struct {
	src      *source.SourceFile
	compiled *transpiler.Result
	kind     transpiler.Kind
}

// New creates a Loader. transport may be nil; remote modules then fail to
// load with a resolution error.
func New(fs host.FileStore, transport host.Transport, res *resolver.Resolver, tp *transpiler.Transpiler, maps *sourcemap.Table, log zerolog.Logger) *Loader {
	return &Loader{
		fs:         fs,
		transport:  transport,
		resolver:   res,
		transpiler: tp,
		maps:       maps,
		log:        log,
		natives:    make(map[string]NativeModule),
		cache:      make(map[resolver.Location]*Record),
		fetched:    make(map[resolver.Location]*fetchedModule),
	}
}

// Bind attaches the runtime the loader executes on. Must be called once
// before any execution method.
func (l *Loader) Bind(rt *goja.Runtime) { l.rt = rt }

// RegisterNative installs a builtin module under its canonical "node:" name.
// Both the prefixed and bare spellings of the name resolve to it.
func (l *Loader) RegisterNative(name string, mod NativeModule) {
	l.natives["node:"+name] = mod
}

// RequireFrom resolves and loads a specifier on behalf of the module at
// base. This is the call behind every require() the wrapped code makes.
func (l *Loader) RequireFrom(specifier string, base resolver.Location, mode descriptor.Mode) (goja.Value, error) {
	loc, err := l.resolver.Resolve(specifier, resolver.Context{Base: base, Mode: mode})
	if err != nil {
		return nil, err
	}
	rec, err := l.load(loc)
	if err != nil {
		return nil, err
	}
	return rec.Exports(), nil
}

// Load resolves nothing: it takes an already-canonical location and returns
// its evaluated record, executing the module if this is the first request.
func (l *Loader) Load(loc resolver.Location) (*Record, error) {
	return l.load(loc)
}

func (l *Loader) load(loc resolver.Location) (*Record, error) {
	if rec, ok := l.cache[loc]; ok {
		if rec.state == stateFailed {
			return nil, rec.err
		}
		return rec, nil
	}

	if loc.IsBuiltin() {
		return l.loadNative(loc)
	}

	fm, err := l.takeFetched(loc)
	if err != nil {
		return nil, err
	}
	return l.execute(loc, fm)
}

func (l *Loader) loadNative(loc resolver.Location) (*Record, error) {
	mod, ok := l.natives[string(loc)]
	if !ok {
		return nil, &errors.ResolutionError{
			Reason:    errors.NotFound,
			Specifier: string(loc),
			Msg:       "builtin module is not provided by this host",
		}
	}
	moduleObj := l.rt.NewObject()
	moduleObj.Set("exports", l.rt.NewObject())
	mod(l.rt, moduleObj)
	rec := &Record{Location: loc, state: stateLoaded, moduleObj: moduleObj}
	l.cache[loc] = rec
	return rec, nil
}

// takeFetched produces the transpiled form of a module. Local files are
// read and transpiled on the spot; remote modules must have been fetched
// ahead of execution, since require is synchronous.
func (l *Loader) takeFetched(loc resolver.Location) (*fetchedModule, error) {
	l.mu.Lock()
	fm, ok := l.fetched[loc]
	l.mu.Unlock()
	if ok {
		return fm, nil
	}
	if loc.IsHTTP() {
		return nil, &errors.ResolutionError{
			Reason:    errors.NotFound,
			Specifier: string(loc),
			Msg:       "remote module cannot be produced without pending I/O",
		}
	}
	return l.fetchLocal(loc)
}

func (l *Loader) execute(loc resolver.Location, fm *fetchedModule) (*Record, error) {
	moduleObj := l.rt.NewObject()
	moduleObj.Set("exports", l.rt.NewObject())
	moduleObj.Set("id", string(loc))
	moduleObj.Set("filename", string(loc))
	moduleObj.Set("loaded", false)

	rec := &Record{
		Location:  loc,
		Kind:      fm.kind,
		state:     stateLoading,
		moduleObj: moduleObj,
	}
	l.cache[loc] = rec

	err := l.runWrapped(string(loc), fm, moduleObj, requireBase(loc), requireMode(fm.kind))
	if err != nil {
		rec.state = stateFailed
		rec.err = err
		return nil, err
	}

	moduleObj.Set("loaded", true)
	rec.state = stateLoaded
	l.log.Debug().Str("location", string(loc)).Str("kind", fm.kind.String()).Msg("module loaded")
	return rec, nil
}

// runWrapped compiles and calls the module wrapper function. The wrapper
// contributes one line before the transpiled body; the source map table is
// told about it plus whatever the transpiler prepended.
func (l *Loader) runWrapped(name string, fm *fetchedModule, moduleObj *goja.Object, base resolver.Location, mode descriptor.Mode) error {
	l.maps.Register(name, fm.src, fm.compiled.SourceMap, 1+fm.compiled.WrapOffset)

	wrapped := "(function (exports, require, module, __filename, __dirname) {\n" +
		fm.compiled.Code + "\n})"
	fnValue, err := l.rt.RunScript(name, wrapped)
	if err != nil {
		return l.evaluationError(name, err)
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return fmt.Errorf("module wrapper for %s did not compile to a function", name)
	}

	dirname := path.Dir(string(base))
	_, err = fn(goja.Undefined(),
		moduleObj.Get("exports"),
		l.requireFunc(base, mode),
		moduleObj,
		l.rt.ToValue(name),
		l.rt.ToValue(dirname),
	)
	if err != nil {
		return l.evaluationError(name, err)
	}
	return nil
}

// requireFunc builds the require closure handed to one module. Failures
// surface in script space as thrown errors carrying the Go error text.
func (l *Loader) requireFunc(base resolver.Location, mode descriptor.Mode) goja.Value {
	return l.rt.ToValue(func(call goja.FunctionCall) goja.Value {
		specifier := call.Argument(0).String()
		v, err := l.RequireFrom(specifier, base, mode)
		if err != nil {
			panic(l.rt.NewGoError(err))
		}
		return v
	})
}

// RunScript executes top-level script text already transpiled into the async
// wrapper form. The returned value is the wrapper's promise; the caller
// pumps the event loop and settles it. Scripts are never cached.
func (l *Loader) RunScript(src *source.SourceFile, baseDir string) (goja.Value, error) {
	compiled, err := l.transpiler.Script(src)
	if err != nil {
		return nil, err
	}
	name := src.DisplayPath()
	fm := &fetchedModule{src: src, compiled: compiled, kind: transpiler.KindESM}

	moduleObj := l.rt.NewObject()
	moduleObj.Set("exports", l.rt.NewObject())
	moduleObj.Set("id", name)
	moduleObj.Set("filename", name)

	base := resolver.Location(path.Join(baseDir, path.Base(name)))
	if err := l.runWrapped(name, fm, moduleObj, base, descriptor.ModeImport); err != nil {
		return nil, err
	}
	return moduleObj.Get("exports"), nil
}

func (l *Loader) evaluationError(location string, err error) error {
	ex, ok := err.(*goja.Exception)
	if !ok {
		return err
	}
	raw := ex.String()
	return &errors.EvaluationError{
		Location:    location,
		Msg:         ex.Value().String(),
		MappedStack: l.maps.RemapStack(raw),
		Cause:       ex,
	}
}

// Reset drops the module cache, prefetched sources, and registered source
// maps. Native registrations survive.
func (l *Loader) Reset() {
	l.cache = make(map[resolver.Location]*Record)
	l.mu.Lock()
	l.fetched = make(map[resolver.Location]*fetchedModule)
	l.mu.Unlock()
	l.maps.Reset()
}

// CacheSize reports the number of evaluated module records.
func (l *Loader) CacheSize() int { return len(l.cache) }

// requireBase is the location require() resolves against inside a module:
// the module itself, so relative specifiers are sibling-relative.
func requireBase(loc resolver.Location) resolver.Location { return loc }

func requireMode(kind transpiler.Kind) descriptor.Mode {
	if kind == transpiler.KindESM {
		return descriptor.ModeImport
	}
	return descriptor.ModeRequire
}
