package shim

import (
	"sort"
	"sync"

	"github.com/dop251/goja"

	"tsxkit/pkg/host"
)

// Process models the script-visible process state. The working directory is
// a piece of engine state, not the Go process's: chdir only moves the
// script's resolution anchor inside the sandbox.
type Process struct {
	mu   sync.Mutex
	argv []string
	env  map[string]string
	cwd  string
	fs   host.FileStore
}

// NewProcess builds process state. cwd must be a slash-separated sandbox
// path; argv[0] conventionally names the host binary.
func NewProcess(argv []string, env map[string]string, cwd string, fs host.FileStore) *Process {
	if cwd == "" {
		cwd = "/"
	}
	copied := make(map[string]string, len(env))
	for k, v := range env {
		copied[k] = v
	}
	return &Process{argv: argv, env: copied, cwd: cwd, fs: fs}
}

// Cwd returns the current script working directory.
func (p *Process) Cwd() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cwd
}

// Chdir moves the script working directory. The target must exist in the
// sandbox and be a directory.
func (p *Process) Chdir(dir string) error {
	info, err := p.fs.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir {
		return &notADirectoryError{dir}
	}
	p.mu.Lock()
	p.cwd = dir
	p.mu.Unlock()
	return nil
}

type notADirectoryError struct{ path string }

func (e *notADirectoryError) Error() string { return "not a directory: " + e.path }

func installProcess(rt *goja.Runtime, p *Process) {
	obj := rt.NewObject()

	argv := make([]interface{}, len(p.argv))
	for i, a := range p.argv {
		argv[i] = a
	}
	obj.Set("argv", rt.NewArray(argv...))

	env := rt.NewObject()
	keys := make([]string, 0, len(p.env))
	for k := range p.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env.Set(k, p.env[k])
	}
	// env is a read-only snapshot: script-side writes must not leak into
	// later resolution or into other runs sharing the engine.
	freezeObject(rt, env)
	obj.Set("env", env)

	obj.Set("platform", "linux")
	obj.Set("cwd", func(goja.FunctionCall) goja.Value {
		return rt.ToValue(p.Cwd())
	})
	obj.Set("chdir", func(call goja.FunctionCall) goja.Value {
		if err := p.Chdir(call.Argument(0).String()); err != nil {
			panic(rt.NewGoError(err))
		}
		return goja.Undefined()
	})

	// nextTick rides the microtask queue; the engine has no separate tick
	// phase.
	obj.Set("nextTick", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(rt.NewTypeError("process.nextTick requires a function"))
		}
		promise, ok := rt.Get("Promise").(*goja.Object)
		if !ok {
			panic(rt.NewTypeError("Promise is not available"))
		}
		resolve, _ := goja.AssertFunction(promise.Get("resolve"))
		resolved, err := resolve(promise)
		if err != nil {
			panic(err)
		}
		then, _ := goja.AssertFunction(resolved.ToObject(rt).Get("then"))
		extra := call.Arguments[1:]
		if _, err := then(resolved, rt.ToValue(func(goja.FunctionCall) goja.Value {
			if _, err := fn(goja.Undefined(), extra...); err != nil {
				panic(err)
			}
			return goja.Undefined()
		})); err != nil {
			panic(err)
		}
		return goja.Undefined()
	})

	rt.Set("process", obj)
}

func freezeObject(rt *goja.Runtime, obj *goja.Object) {
	ctor, ok := rt.Get("Object").(*goja.Object)
	if !ok {
		return
	}
	freeze, ok := goja.AssertFunction(ctor.Get("freeze"))
	if !ok {
		return
	}
	if _, err := freeze(goja.Undefined(), obj); err != nil {
		panic(err)
	}
}
