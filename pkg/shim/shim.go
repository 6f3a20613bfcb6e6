// Package shim installs the host-provided runtime surface scripts see:
// console capture, process state, timers, Buffer and URL, the fs and path
// builtins, and the outbound HTTP client.
package shim

import (
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/buffer"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/url"

	"tsxkit/pkg/host"
	"tsxkit/pkg/httpclient"
	"tsxkit/pkg/loader"
)

// Config gathers everything the shims depend on.
type Config struct {
	FS      host.FileStore
	HTTP    *httpclient.Client
	Loop    *eventloop.EventLoop
	Process *Process
	Console *ConsoleBuffer
}

// Install wires the runtime surface into rt and registers the builtin
// modules on the loader. Timer globals come from the event loop itself and
// are not installed here.
func Install(rt *goja.Runtime, ld *loader.Loader, cfg Config) {
	installConsole(rt, cfg.Console)
	installProcess(rt, cfg.Process)
	buffer.Enable(rt)
	url.Enable(rt)
	if cfg.HTTP != nil {
		installHTTP(rt, cfg.Loop, cfg.HTTP)
	}

	ld.RegisterNative("fs", fsModule(cfg.FS, cfg.Process))
	ld.RegisterNative("path", pathModule(cfg.Process))
	ld.RegisterNative("process", globalReExport(rt, "process"))
	ld.RegisterNative("buffer", globalsModule(rt, "Buffer"))
	ld.RegisterNative("url", globalsModule(rt, "URL", "URLSearchParams"))
	ld.RegisterNative("timers", globalsModule(rt, "setTimeout", "clearTimeout", "setInterval", "clearInterval", "setImmediate", "clearImmediate"))
	ld.RegisterNative("util", utilModule())
	ld.RegisterNative("console", globalReExport(rt, "console"))
}

// globalReExport exposes an installed global object as a module's default
// and namespace export.
func globalReExport(rt *goja.Runtime, name string) loader.NativeModule {
	return func(rt *goja.Runtime, module *goja.Object) {
		module.Set("exports", rt.Get(name))
	}
}

// globalsModule bundles named globals into one exports object.
func globalsModule(rt *goja.Runtime, names ...string) loader.NativeModule {
	return func(rt *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)
		for _, name := range names {
			exports.Set(name, rt.Get(name))
		}
	}
}
