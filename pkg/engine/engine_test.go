package engine

import (
	"context"
	"strings"
	"testing"

	"tsxkit/pkg/errors"
	"tsxkit/pkg/host"
	"tsxkit/pkg/source"
)

func TestExecuteScriptCompletionValue(t *testing.T) {
	e := New()
	defer e.Close()
	out, err := e.ExecuteScript(context.Background(), source.NewEvalSource("const a = 6;\na * 7;\n"))
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if got, ok := out.Value.(int64); !ok || got != 42 {
		t.Errorf("value = %v (%T), want 42", out.Value, out.Value)
	}
	if out.RunID == "" {
		t.Errorf("outcome should carry a run id")
	}
}

func TestExecuteScriptAwaitsPromiseCompletion(t *testing.T) {
	e := New()
	defer e.Close()
	out, err := e.ExecuteScript(context.Background(), source.NewEvalSource(
		"new Promise(resolve => setTimeout(() => resolve(\"done\"), 5));\n"))
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if out.Value != "done" {
		t.Errorf("value = %v, want \"done\"", out.Value)
	}
}

func TestExecuteScriptTopLevelAwait(t *testing.T) {
	e := New()
	defer e.Close()
	out, err := e.ExecuteScript(context.Background(), source.NewEvalSource(
		"const v = await Promise.resolve(20);\nv + 2;\n"))
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if got, ok := out.Value.(int64); !ok || got != 22 {
		t.Errorf("value = %v (%T), want 22", out.Value, out.Value)
	}
}

func TestExecuteScriptConsoleCapture(t *testing.T) {
	e := New()
	defer e.Close()
	out, err := e.ExecuteScript(context.Background(), source.NewEvalSource(
		"console.log(\"first\");\nconsole.warn(\"second\", 2);\n"))
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if len(out.Console) != 2 {
		t.Fatalf("captured %d console lines, want 2", len(out.Console))
	}
	if out.Console[0].Text != "first" || out.Console[1].Text != "second 2" {
		t.Errorf("console = %+v", out.Console)
	}
	if out.Console[1].Level != "warn" {
		t.Errorf("level = %q, want warn", out.Console[1].Level)
	}
}

func TestExecuteScriptWithLocalImports(t *testing.T) {
	fs := host.NewMemFileStore()
	fs.Add("/lib/math.ts", "export function triple(n: number): number { return n * 3; }\n")
	fs.Add("/main.ts", "import { triple } from \"./lib/math\";\ntriple(14);\n")

	e := New(WithFileStore(fs))
	defer e.Close()
	src := source.NewSourceFile("main.ts", "/main.ts", "import { triple } from \"./lib/math\";\ntriple(14);\n")
	out, err := e.ExecuteScript(context.Background(), src)
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if got, ok := out.Value.(int64); !ok || got != 42 {
		t.Errorf("value = %v, want 42", out.Value)
	}
}

func TestExecuteModuleWithExportsMap(t *testing.T) {
	fs := host.NewMemFileStore()
	fs.Add("/node_modules/widget/package.json", `{
		"name": "widget",
		"exports": {".": {"import": "./esm.mjs", "require": "./cjs.cjs"}}
	}`)
	fs.Add("/node_modules/widget/esm.mjs", "export const flavor = \"esm\";\n")
	fs.Add("/node_modules/widget/cjs.cjs", "module.exports = { flavor: \"cjs\" };\n")
	fs.Add("/main.ts", "import { flavor } from \"widget\";\nexport const got = flavor;\n")

	e := New(WithFileStore(fs))
	defer e.Close()
	out, err := e.ExecuteModule(context.Background(), "/main.ts")
	if err != nil {
		t.Fatalf("ExecuteModule: %v", err)
	}
	exports, ok := out.Value.(map[string]interface{})
	if !ok {
		t.Fatalf("value = %T, want exports map", out.Value)
	}
	if exports["got"] != "esm" {
		t.Errorf("got = %v, want \"esm\" (import condition)", exports["got"])
	}
}

func TestExecuteScriptRemoteModule(t *testing.T) {
	transport := host.NewMemTransport()
	transport.Respond("https://esm.sh/answer", 200, "export default 40;\n")

	e := New(WithTransport(transport))
	defer e.Close()
	out, err := e.ExecuteScript(context.Background(), source.NewEvalSource(
		"import answer from \"https://esm.sh/answer\";\nanswer + 2;\n"))
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if got, ok := out.Value.(int64); !ok || got != 42 {
		t.Errorf("value = %v, want 42", out.Value)
	}
}

func TestExecuteScriptBuiltins(t *testing.T) {
	fs := host.NewMemFileStore()
	fs.Add("/data/greeting.txt", "hello from fs")

	e := New(WithFileStore(fs), WithEnv(map[string]string{"WHO": "tester"}))
	defer e.Close()
	out, err := e.ExecuteScript(context.Background(), source.NewEvalSource(`
import * as fs from "node:fs";
import * as path from "node:path";
const text = fs.readFileSync(path.join("/data", "greeting.txt"), "utf8");
text + " and " + process.env.WHO;
`))
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if out.Value != "hello from fs and tester" {
		t.Errorf("value = %v", out.Value)
	}
}

func TestExecuteScriptHttpClient(t *testing.T) {
	transport := host.NewMemTransport()
	transport.Respond("https://api.example.com/data", 200, `{"n": 41}`)

	e := New(WithTransport(transport))
	defer e.Close()
	out, err := e.ExecuteScript(context.Background(), source.NewEvalSource(`
const resp = await httpClient.send({ url: "https://api.example.com/data", headers: { "X-Retry": 3 } });
JSON.parse(resp.body).n + 1;
`))
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if got, ok := out.Value.(int64); !ok || got != 42 {
		t.Errorf("value = %v, want 42", out.Value)
	}
	sent := transport.Requests[0]
	if len(sent.Headers) == 0 || sent.Headers[0] != (host.Header{Name: "X-Retry", Value: "3"}) {
		t.Errorf("headers = %v", sent.Headers)
	}
}

func TestExecuteScriptFetch(t *testing.T) {
	transport := host.NewMemTransport()
	transport.Respond("https://api.example.com/user", 200, `{"name": "ada"}`)

	e := New(WithTransport(transport))
	defer e.Close()
	out, err := e.ExecuteScript(context.Background(), source.NewEvalSource(`
const resp = await fetch("https://api.example.com/user");
const data = await resp.json();
resp.ok + ":" + resp.status + ":" + data.name;
`))
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if out.Value != "true:200:ada" {
		t.Errorf("value = %v", out.Value)
	}
}

func TestExecuteScriptFetchZeroTimeout(t *testing.T) {
	transport := host.NewMemTransport()
	transport.Respond("https://slow.example.com/", 200, "late")

	e := New(WithTransport(transport))
	defer e.Close()
	_, err := e.ExecuteScript(context.Background(), source.NewEvalSource(
		"await fetch(\"https://slow.example.com/\", { timeoutMs: 0 });\n"))
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(err.Error(), "Timeout") {
		t.Errorf("err = %v, want timeout classification", err)
	}
	if len(transport.Requests) != 0 {
		t.Errorf("zero timeout should fail before any dispatch, saw %d requests", len(transport.Requests))
	}
}

func TestExecuteScriptFetchAbortSignal(t *testing.T) {
	transport := host.NewMemTransport()
	transport.Respond("https://api.example.com/", 200, "ok")

	e := New(WithTransport(transport))
	defer e.Close()
	_, err := e.ExecuteScript(context.Background(), source.NewEvalSource(
		"await fetch(\"https://api.example.com/\", { signal: { aborted: true } });\n"))
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(err.Error(), "Aborted") {
		t.Errorf("err = %v, want abort classification", err)
	}
	if len(transport.Requests) != 0 {
		t.Errorf("raised signal should cancel before dispatch, saw %d requests", len(transport.Requests))
	}
}

func TestExecuteScriptUtilBuiltin(t *testing.T) {
	e := New()
	defer e.Close()
	out, err := e.ExecuteScript(context.Background(), source.NewEvalSource(`
import { format } from "node:util";
format("%s=%d", "n", 41);
`))
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if out.Value != "n=41" {
		t.Errorf("value = %v", out.Value)
	}
}

func TestExecuteScriptErrorRemapsStack(t *testing.T) {
	fs := host.NewMemFileStore()
	fs.Add("/boom.ts", `interface Ignored { a: string }
export function blow(): never {
  throw new Error("kaboom");
}
`)
	e := New(WithFileStore(fs))
	defer e.Close()
	_, err := e.ExecuteScript(context.Background(), source.NewEvalSource(
		"import { blow } from \"./boom\";\nblow();\n"))
	if err == nil {
		t.Fatalf("expected failure")
	}
	evalErr, ok := err.(*errors.EvaluationError)
	if !ok {
		t.Fatalf("error = %T (%v), want *errors.EvaluationError", err, err)
	}
	if !strings.Contains(evalErr.Msg, "kaboom") {
		t.Errorf("message = %q", evalErr.Msg)
	}
	if !strings.Contains(evalErr.MappedStack, "/boom.ts:3") {
		t.Errorf("stack should point at the original throw line:\n%s", evalErr.MappedStack)
	}
	if !strings.Contains(evalErr.MappedStack, "<eval>:2") {
		t.Errorf("caller frame should remap to the original call line:\n%s", evalErr.MappedStack)
	}
}

func TestExecuteScriptResolutionError(t *testing.T) {
	e := New()
	defer e.Close()
	_, err := e.ExecuteScript(context.Background(), source.NewEvalSource(
		"import { x } from \"./missing\";\nx;\n"))
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Errorf("err = %v", err)
	}
}

func TestEngineReset(t *testing.T) {
	fs := host.NewMemFileStore()
	fs.Add("/side.ts", "globalThis.runs = (globalThis.runs || 0) + 1;\nexport const ok = true;\n")

	e := New(WithFileStore(fs))
	defer e.Close()
	run := func() {
		t.Helper()
		if _, err := e.ExecuteScript(context.Background(), source.NewEvalSource(
			"import { ok } from \"./side\";\nglobalThis.runs;\n")); err != nil {
			t.Fatalf("ExecuteScript: %v", err)
		}
	}
	run()
	e.Reset()

	out, err := e.ExecuteScript(context.Background(), source.NewEvalSource(
		"import { ok } from \"./side\";\nglobalThis.runs;\n"))
	if err != nil {
		t.Fatalf("ExecuteScript after reset: %v", err)
	}
	if got, ok := out.Value.(int64); !ok || got != 2 {
		t.Errorf("runs = %v, want 2 (module re-executed after reset)", out.Value)
	}
}
