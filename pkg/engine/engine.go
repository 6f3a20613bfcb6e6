// Package engine is the embedding surface: one Engine is one isolated
// execution session with its own module cache, runtime state, and captured
// console output.
package engine

import (
	"context"
	"path"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tsxkit/pkg/descriptor"
	"tsxkit/pkg/errors"
	"tsxkit/pkg/host"
	"tsxkit/pkg/httpclient"
	"tsxkit/pkg/loader"
	"tsxkit/pkg/resolver"
	"tsxkit/pkg/shim"
	"tsxkit/pkg/source"
	"tsxkit/pkg/sourcemap"
	"tsxkit/pkg/transpiler"
)

// Outcome is the embedder-facing result of one execution.
type Outcome struct {
	RunID   string
	Value   interface{}
	Console []shim.ConsoleLine
}

// Engine is one execution session. It is not safe for concurrent use; run
// one script or module at a time and create separate engines for isolation.
type Engine struct {
	fs        host.FileStore
	transport host.Transport
	argv      []string
	env       map[string]string
	cwd       string
	cdnOrigin string
	log       zerolog.Logger

	loop      *eventloop.EventLoop
	resolver  *resolver.Resolver
	loader    *loader.Loader
	manifests *descriptor.Cache
	maps      *sourcemap.Table
	console   *shim.ConsoleBuffer
	process   *shim.Process
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithFileStore sets the sandbox file store. Defaults to an empty in-memory
// store.
func WithFileStore(fs host.FileStore) Option {
	return func(e *Engine) { e.fs = fs }
}

// WithTransport enables outbound HTTP and remote module loading.
func WithTransport(t host.Transport) Option {
	return func(e *Engine) { e.transport = t }
}

// WithArgv sets the script-visible process.argv.
func WithArgv(argv []string) Option {
	return func(e *Engine) { e.argv = argv }
}

// WithEnv sets the script-visible environment.
func WithEnv(env map[string]string) Option {
	return func(e *Engine) { e.env = env }
}

// WithCwd sets the initial script working directory inside the sandbox.
func WithCwd(cwd string) Option {
	return func(e *Engine) { e.cwd = cwd }
}

// WithCDNOrigin overrides the CDN used for bare-specifier fallback.
func WithCDNOrigin(origin string) Option {
	return func(e *Engine) { e.cdnOrigin = origin }
}

// WithLogger sets the engine logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New builds an Engine and starts its event loop. Callers own the engine's
// lifetime and should Close it when done.
func New(opts ...Option) *Engine {
	e := &Engine{
		fs:        host.NewMemFileStore(),
		argv:      []string{"tsxkit"},
		cwd:       "/",
		cdnOrigin: resolver.DefaultCDNOrigin,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.manifests = descriptor.NewCache(e.fs)
	e.maps = sourcemap.NewTable()
	e.resolver = resolver.New(e.fs, e.manifests,
		resolver.WithCDNOrigin(e.cdnOrigin),
		resolver.WithLogger(e.log),
	)
	e.loader = loader.New(e.fs, e.transport, e.resolver, transpiler.New(e.log), e.maps, e.log)
	e.console = &shim.ConsoleBuffer{}
	e.process = shim.NewProcess(e.argv, e.env, e.cwd, e.fs)

	var client *httpclient.Client
	if e.transport != nil {
		client = httpclient.New(e.transport, e.log)
	}

	e.loop = eventloop.NewEventLoop(eventloop.EnableConsole(false))
	e.loop.Start()

	ready := make(chan struct{})
	e.loop.RunOnLoop(func(rt *goja.Runtime) {
		e.loader.Bind(rt)
		shim.Install(rt, e.loader, shim.Config{
			FS:      e.fs,
			HTTP:    client,
			Loop:    e.loop,
			Process: e.process,
			Console: e.console,
		})
		close(ready)
	})
	<-ready
	return e
}

// Close stops the event loop. The engine cannot be used afterwards.
func (e *Engine) Close() {
	e.loop.Stop()
}

type completion struct {
	value interface{}
	err   error
}

// ExecuteScript runs top-level script text and returns its completion
// value: the value of the last top-level expression, awaited if it is a
// promise. Timers and network callbacks scheduled by the script keep
// running until that promise settles.
func (e *Engine) ExecuteScript(ctx context.Context, src *source.SourceFile) (*Outcome, error) {
	runID := uuid.NewString()
	log := e.log.With().Str("run_id", runID).Str("source", src.DisplayPath()).Logger()
	log.Debug().Msg("executing script")

	baseDir := e.process.Cwd()
	if src.IsFile() {
		baseDir = path.Dir(src.Path)
	}

	if err := e.loader.PrefetchScript(ctx, src, baseDir); err != nil {
		return e.outcome(runID, nil), err
	}

	done := make(chan completion, 1)
	e.loop.RunOnLoop(func(rt *goja.Runtime) {
		promiseVal, err := e.loader.RunScript(src, baseDir)
		if err != nil {
			done <- completion{err: err}
			return
		}
		e.watchPromise(rt, src.DisplayPath(), promiseVal, done)
	})

	select {
	case c := <-done:
		if c.err != nil {
			return e.outcome(runID, nil), c.err
		}
		log.Debug().Msg("script completed")
		return e.outcome(runID, c.value), nil
	case <-ctx.Done():
		return e.outcome(runID, nil), ctx.Err()
	}
}

// ExecuteModule loads and evaluates the module at a sandbox path as the
// graph entry point. The outcome value is the module's exports.
func (e *Engine) ExecuteModule(ctx context.Context, entry string) (*Outcome, error) {
	runID := uuid.NewString()
	log := e.log.With().Str("run_id", runID).Str("entry", entry).Logger()
	log.Debug().Msg("executing module")

	spec := entry
	if !strings.HasPrefix(spec, "/") && !strings.HasPrefix(spec, "./") && !strings.HasPrefix(spec, "../") {
		spec = "./" + spec
	}
	loc, err := e.resolver.Resolve(spec, resolver.Context{
		Base: resolver.Location(path.Join(e.process.Cwd(), "__entry__")),
		Mode: descriptor.ModeImport,
	})
	if err != nil {
		return e.outcome(runID, nil), err
	}
	if err := e.loader.Prefetch(ctx, loc); err != nil {
		return e.outcome(runID, nil), err
	}

	done := make(chan completion, 1)
	e.loop.RunOnLoop(func(rt *goja.Runtime) {
		rec, err := e.loader.Load(loc)
		if err != nil {
			done <- completion{err: err}
			return
		}
		done <- completion{value: rec.Exports().Export()}
	})

	select {
	case c := <-done:
		if c.err != nil {
			return e.outcome(runID, nil), c.err
		}
		log.Debug().Msg("module completed")
		return e.outcome(runID, c.value), nil
	case <-ctx.Done():
		return e.outcome(runID, nil), ctx.Err()
	}
}

// watchPromise attaches settlement handlers to the script's wrapper promise
// and forwards the result. Non-promise values complete immediately.
func (e *Engine) watchPromise(rt *goja.Runtime, location string, v goja.Value, done chan completion) {
	obj, ok := v.(*goja.Object)
	if !ok {
		done <- completion{value: exportValue(v)}
		return
	}
	then, ok := goja.AssertFunction(obj.Get("then"))
	if !ok {
		done <- completion{value: obj.Export()}
		return
	}

	onFulfilled := rt.ToValue(func(call goja.FunctionCall) goja.Value {
		done <- completion{value: exportValue(call.Argument(0))}
		return goja.Undefined()
	})
	onRejected := rt.ToValue(func(call goja.FunctionCall) goja.Value {
		done <- completion{err: e.rejectionError(location, call.Argument(0))}
		return goja.Undefined()
	})
	if _, err := then(obj, onFulfilled, onRejected); err != nil {
		done <- completion{err: err}
	}
}

func (e *Engine) rejectionError(location string, reason goja.Value) error {
	msg := reason.String()
	stack := ""
	if obj, ok := reason.(*goja.Object); ok {
		if s := obj.Get("stack"); s != nil && !goja.IsUndefined(s) {
			stack = e.maps.RemapStack(s.String())
		}
	}
	return &errors.EvaluationError{
		Location:    location,
		Msg:         msg,
		MappedStack: stack,
	}
}

func exportValue(v goja.Value) interface{} {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

func (e *Engine) outcome(runID string, value interface{}) *Outcome {
	return &Outcome{
		RunID:   runID,
		Value:   value,
		Console: e.console.Lines(),
	}
}

// Console returns the session's console buffer.
func (e *Engine) Console() *shim.ConsoleBuffer { return e.console }

// Process returns the script-visible process state.
func (e *Engine) Process() *shim.Process { return e.process }

// SourceMap returns the raw source map JSON produced for an executed module,
// keyed by the file name the engine reports in stack frames.
func (e *Engine) SourceMap(file string) ([]byte, bool) { return e.maps.SourceMap(file) }

// Reset clears the module cache, manifest cache, source maps, and captured
// console output. Runtime globals established by earlier runs survive.
func (e *Engine) Reset() {
	e.loader.Reset()
	e.manifests.Reset()
	e.console.Reset()
}
