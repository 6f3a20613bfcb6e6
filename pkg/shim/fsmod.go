package shim

import (
	"path"

	"github.com/dop251/goja"

	"tsxkit/pkg/host"
	"tsxkit/pkg/loader"
)

// fsModule adapts the host file store into the synchronous subset of the
// node:fs surface scripts commonly touch. Paths resolve against the script
// working directory.
func fsModule(fs host.FileStore, proc *Process) loader.NativeModule {
	abs := func(p string) string {
		if path.IsAbs(p) {
			return path.Clean(p)
		}
		return path.Join(proc.Cwd(), p)
	}

	return func(rt *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)

		exports.Set("readFileSync", func(call goja.FunctionCall) goja.Value {
			p := abs(call.Argument(0).String())
			data, err := fs.ReadFile(p)
			if err != nil {
				panic(rt.NewGoError(err))
			}
			if enc := call.Argument(1); !goja.IsUndefined(enc) && !goja.IsNull(enc) {
				return rt.ToValue(string(data))
			}
			return bufferFrom(rt, data)
		})

		exports.Set("writeFileSync", func(call goja.FunctionCall) goja.Value {
			p := abs(call.Argument(0).String())
			data, err := exportBytes(rt, call.Argument(1))
			if err != nil {
				panic(rt.NewGoError(err))
			}
			if err := fs.WriteFile(p, data); err != nil {
				panic(rt.NewGoError(err))
			}
			return goja.Undefined()
		})

		exports.Set("existsSync", func(call goja.FunctionCall) goja.Value {
			_, err := fs.Stat(abs(call.Argument(0).String()))
			return rt.ToValue(err == nil)
		})

		exports.Set("readdirSync", func(call goja.FunctionCall) goja.Value {
			entries, err := fs.ReadDir(abs(call.Argument(0).String()))
			if err != nil {
				panic(rt.NewGoError(err))
			}
			names := make([]interface{}, len(entries))
			for i, e := range entries {
				names[i] = e.Name
			}
			return rt.NewArray(names...)
		})

		exports.Set("statSync", func(call goja.FunctionCall) goja.Value {
			info, err := fs.Stat(abs(call.Argument(0).String()))
			if err != nil {
				panic(rt.NewGoError(err))
			}
			stat := rt.NewObject()
			stat.Set("size", info.Size)
			stat.Set("mtimeMs", info.ModTime.UnixMilli())
			isDir := info.IsDir
			stat.Set("isDirectory", func(goja.FunctionCall) goja.Value { return rt.ToValue(isDir) })
			stat.Set("isFile", func(goja.FunctionCall) goja.Value { return rt.ToValue(!isDir) })
			return stat
		})
	}
}

// bufferFrom wraps bytes in a Buffer using the global constructor installed
// by the buffer module.
func bufferFrom(rt *goja.Runtime, data []byte) goja.Value {
	bufCtor, ok := rt.Get("Buffer").(*goja.Object)
	if !ok {
		return rt.ToValue(rt.NewArrayBuffer(data))
	}
	from, ok := goja.AssertFunction(bufCtor.Get("from"))
	if !ok {
		return rt.ToValue(rt.NewArrayBuffer(data))
	}
	out, err := from(bufCtor, rt.ToValue(rt.NewArrayBuffer(data)))
	if err != nil {
		panic(err)
	}
	return out
}

// exportBytes converts a script value to raw bytes: strings as UTF-8,
// ArrayBuffers and views by their backing storage.
func exportBytes(rt *goja.Runtime, v goja.Value) ([]byte, error) {
	if obj, ok := v.(*goja.Object); ok {
		if ab, ok := obj.Export().(goja.ArrayBuffer); ok {
			return ab.Bytes(), nil
		}
		if buf := obj.Get("buffer"); buf != nil {
			if ab, ok := buf.Export().(goja.ArrayBuffer); ok {
				return ab.Bytes(), nil
			}
		}
	}
	return []byte(v.String()), nil
}
