package shim

import (
	"path"
	"strings"

	"github.com/dop251/goja"

	"tsxkit/pkg/loader"
)

// pathModule implements the node:path surface for slash-separated sandbox
// paths. resolve anchors at the script working directory.
func pathModule(proc *Process) loader.NativeModule {
	return func(rt *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)

		exports.Set("sep", "/")

		exports.Set("join", func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			return rt.ToValue(path.Join(parts...))
		})

		exports.Set("resolve", func(call goja.FunctionCall) goja.Value {
			resolved := proc.Cwd()
			for _, a := range call.Arguments {
				p := a.String()
				if path.IsAbs(p) {
					resolved = path.Clean(p)
				} else {
					resolved = path.Join(resolved, p)
				}
			}
			return rt.ToValue(resolved)
		})

		exports.Set("dirname", func(call goja.FunctionCall) goja.Value {
			return rt.ToValue(path.Dir(call.Argument(0).String()))
		})

		exports.Set("basename", func(call goja.FunctionCall) goja.Value {
			base := path.Base(call.Argument(0).String())
			if ext := call.Argument(1); !goja.IsUndefined(ext) {
				base = strings.TrimSuffix(base, ext.String())
			}
			return rt.ToValue(base)
		})

		exports.Set("extname", func(call goja.FunctionCall) goja.Value {
			return rt.ToValue(path.Ext(call.Argument(0).String()))
		})

		exports.Set("isAbsolute", func(call goja.FunctionCall) goja.Value {
			return rt.ToValue(path.IsAbs(call.Argument(0).String()))
		})

		exports.Set("relative", func(call goja.FunctionCall) goja.Value {
			return rt.ToValue(relativePath(call.Argument(0).String(), call.Argument(1).String()))
		})

		exports.Set("normalize", func(call goja.FunctionCall) goja.Value {
			return rt.ToValue(path.Clean(call.Argument(0).String()))
		})
	}
}

func relativePath(from, to string) string {
	fromParts := splitClean(from)
	toParts := splitClean(to)
	common := 0
	for common < len(fromParts) && common < len(toParts) && fromParts[common] == toParts[common] {
		common++
	}
	var out []string
	for range fromParts[common:] {
		out = append(out, "..")
	}
	out = append(out, toParts[common:]...)
	if len(out) == 0 {
		return "."
	}
	return strings.Join(out, "/")
}

func splitClean(p string) []string {
	p = path.Clean(p)
	if p == "/" || p == "." {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}
