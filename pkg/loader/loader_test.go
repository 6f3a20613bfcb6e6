package loader

import (
	"context"
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"tsxkit/pkg/descriptor"
	"tsxkit/pkg/host"
	"tsxkit/pkg/resolver"
	"tsxkit/pkg/sourcemap"
	"tsxkit/pkg/transpiler"
)

func newTestLoader(fs host.FileStore, transport host.Transport) (*Loader, *goja.Runtime) {
	res := resolver.New(fs, descriptor.NewCache(fs))
	l := New(fs, transport, res, transpiler.New(zerolog.Nop()), sourcemap.NewTable(), zerolog.Nop())
	rt := goja.New()
	l.Bind(rt)
	return l, rt
}

func exportInt(t *testing.T, rec *Record, key string) int64 {
	t.Helper()
	obj, ok := rec.Exports().(*goja.Object)
	if !ok {
		t.Fatalf("exports is not an object")
	}
	return obj.Get(key).ToInteger()
}

func exportString(t *testing.T, rec *Record, key string) string {
	t.Helper()
	obj, ok := rec.Exports().(*goja.Object)
	if !ok {
		t.Fatalf("exports is not an object")
	}
	return obj.Get(key).String()
}

func TestLoadModuleChain(t *testing.T) {
	fs := host.NewMemFileStore()
	fs.Add("/lib.ts", "export function add(a: number, b: number): number { return a + b; }\n")
	fs.Add("/main.ts", "import { add } from \"./lib\";\nexport const total = add(2, 3);\n")

	l, _ := newTestLoader(fs, nil)
	rec, err := l.Load("/main.ts")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := exportInt(t, rec, "total"); got != 5 {
		t.Errorf("total = %d, want 5", got)
	}
	if l.CacheSize() != 2 {
		t.Errorf("cache size = %d, want 2", l.CacheSize())
	}
}

func TestModuleExecutesOnce(t *testing.T) {
	fs := host.NewMemFileStore()
	fs.Add("/side.ts", "globalThis.count = (globalThis.count || 0) + 1;\nexport const x = 1;\n")
	fs.Add("/a.ts", "import { x } from \"./side\";\nexport const a = x;\n")
	fs.Add("/b.ts", "import { x } from \"./side\";\nexport const b = x;\n")
	fs.Add("/main.ts", "import { a } from \"./a\";\nimport { b } from \"./b\";\nexport const sum = a + b;\n")

	l, rt := newTestLoader(fs, nil)
	if _, err := l.Load("/main.ts"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if count := rt.GlobalObject().Get("count").ToInteger(); count != 1 {
		t.Errorf("side effect ran %d times, want 1", count)
	}
}

func TestCircularRequire(t *testing.T) {
	fs := host.NewMemFileStore()
	fs.Add("/a.ts", `import { bName } from "./b";
export const aName = "a";
export function viaB(): string { return bName; }
`)
	fs.Add("/b.ts", `import { aName } from "./a";
export const bName = "b:" + (aName || "partial");
`)

	l, rt := newTestLoader(fs, nil)
	rec, err := l.Load("/a.ts")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// While b executed, a's exports were only partially populated.
	viaB, ok := goja.AssertFunction(rec.Exports().(*goja.Object).Get("viaB"))
	if !ok {
		t.Fatalf("viaB is not a function")
	}
	out, err := viaB(goja.Undefined())
	if err != nil {
		t.Fatalf("viaB(): %v", err)
	}
	if got := out.String(); got != "b:partial" {
		t.Errorf("viaB() = %q, want \"b:partial\"", got)
	}
	_ = rt
}

func TestFailedModuleReRaisesSameError(t *testing.T) {
	fs := host.NewMemFileStore()
	fs.Add("/bad.ts", "throw new Error(\"setup failed\");\n")
	fs.Add("/first.ts", "import \"./bad\";\nexport const x = 1;\n")
	fs.Add("/second.ts", "import \"./bad\";\nexport const y = 2;\n")

	l, _ := newTestLoader(fs, nil)
	_, err1 := l.Load("/first.ts")
	if err1 == nil {
		t.Fatalf("expected failure")
	}
	_, err2 := l.Load("/second.ts")
	if err2 == nil {
		t.Fatalf("expected failure on second import")
	}
	if !strings.Contains(err1.Error(), "setup failed") {
		t.Errorf("err1 = %v", err1)
	}
}

func TestJSONModule(t *testing.T) {
	fs := host.NewMemFileStore()
	fs.Add("/config.json", `{"port": 8080, "name": "svc"}`)
	fs.Add("/main.ts", "import config from \"./config.json\";\nexport const port = config.port;\n")

	l, _ := newTestLoader(fs, nil)
	rec, err := l.Load("/main.ts")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := exportInt(t, rec, "port"); got != 8080 {
		t.Errorf("port = %d, want 8080", got)
	}
}

func TestNativeModule(t *testing.T) {
	fs := host.NewMemFileStore()
	fs.Add("/main.ts", "import host from \"node:hostinfo\";\nexport const v = host.version;\n")

	l, _ := newTestLoader(fs, nil)
	l.RegisterNative("hostinfo", func(rt *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)
		exports.Set("version", 7)
	})

	rec, err := l.Load("/main.ts")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := exportInt(t, rec, "v"); got != 7 {
		t.Errorf("v = %d, want 7", got)
	}
}

func TestUnprovidedBuiltinFails(t *testing.T) {
	fs := host.NewMemFileStore()
	fs.Add("/main.ts", "import crypto from \"node:crypto\";\nexport const c = crypto;\n")

	l, _ := newTestLoader(fs, nil)
	_, err := l.Load("/main.ts")
	if err == nil || !strings.Contains(err.Error(), "not provided") {
		t.Errorf("err = %v, want unprovided builtin failure", err)
	}
}

func TestRemoteModuleRequiresPrefetch(t *testing.T) {
	fs := host.NewMemFileStore()
	fs.Add("/main.ts", "import { tiny } from \"https://esm.sh/tiny\";\nexport const n = tiny;\n")

	l, _ := newTestLoader(fs, host.NewMemTransport())
	_, err := l.Load("/main.ts")
	if err == nil || !strings.Contains(err.Error(), "pending I/O") {
		t.Errorf("err = %v, want pending I/O failure", err)
	}
}

func TestPrefetchThenLoadRemote(t *testing.T) {
	fs := host.NewMemFileStore()
	fs.Add("/main.ts", "import { tiny } from \"https://esm.sh/tiny\";\nexport const n = tiny + 1;\n")

	transport := host.NewMemTransport()
	transport.Respond("https://esm.sh/tiny", 200, "export const tiny = 41;\n")

	l, _ := newTestLoader(fs, transport)
	if err := l.Prefetch(context.Background(), "/main.ts"); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	rec, err := l.Load("/main.ts")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := exportInt(t, rec, "n"); got != 42 {
		t.Errorf("n = %d, want 42", got)
	}
	if len(transport.Requests) != 1 {
		t.Errorf("remote fetched %d times, want 1", len(transport.Requests))
	}
}

func TestPrefetchRemoteGraph(t *testing.T) {
	fs := host.NewMemFileStore()
	fs.Add("/main.ts", "import { v } from \"https://esm.sh/outer\";\nexport const n = v;\n")

	transport := host.NewMemTransport()
	transport.Respond("https://esm.sh/outer", 200, "import { inner } from \"./inner.js\";\nexport const v = inner * 2;\n")
	transport.Respond("https://esm.sh/inner.js", 200, "export const inner = 21;\n")

	l, _ := newTestLoader(fs, transport)
	if err := l.Prefetch(context.Background(), "/main.ts"); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	rec, err := l.Load("/main.ts")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := exportInt(t, rec, "n"); got != 42 {
		t.Errorf("n = %d, want 42", got)
	}
}

func TestRemoteFetchStatusError(t *testing.T) {
	fs := host.NewMemFileStore()
	transport := host.NewMemTransport()
	transport.Respond("https://esm.sh/missing", 404, "not found")

	l, _ := newTestLoader(fs, transport)
	err := l.Prefetch(context.Background(), "https://esm.sh/missing")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want 404 failure", err)
	}
}

func TestReset(t *testing.T) {
	fs := host.NewMemFileStore()
	fs.Add("/side.ts", "globalThis.loads = (globalThis.loads || 0) + 1;\nexport const x = 1;\n")

	l, rt := newTestLoader(fs, nil)
	if _, err := l.Load("/side.ts"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	l.Reset()
	if l.CacheSize() != 0 {
		t.Errorf("cache size after reset = %d", l.CacheSize())
	}
	if _, err := l.Load("/side.ts"); err != nil {
		t.Fatalf("Load after reset: %v", err)
	}
	if loads := rt.GlobalObject().Get("loads").ToInteger(); loads != 2 {
		t.Errorf("module ran %d times across reset, want 2", loads)
	}
}
