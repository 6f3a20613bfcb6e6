package shim

import (
	"context"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"

	"tsxkit/pkg/httpclient"
)

// fetchShim layers the fetch surface over the low-level httpClient.send.
// The response wrapper mirrors the usual Response shape: ok, status,
// statusText, headers, and promise-returning text()/json().
const fetchShim = `
globalThis.fetch = function (url, options) {
	options = options || {};
	return httpClient.send({
		url: String(url),
		method: options.method,
		headers: options.headers,
		body: options.body,
		timeoutMs: options.timeoutMs,
		signal: options.signal,
	}).then(function (raw) {
		var ok = raw.status >= 200 && raw.status < 300;
		return {
			ok: ok,
			status: raw.status,
			statusText: ok ? "OK" : "",
			headers: raw.headers,
			text: function () { return Promise.resolve(raw.body); },
			json: function () { return Promise.resolve(JSON.parse(raw.body)); },
		};
	});
};
`

// installHTTP exposes the outbound request surface: a low-level global
// httpClient object whose send returns a promise, and a fetch global built
// on top of it in script space. The exchange itself runs off the loop
// goroutine and settles the promise back on it.
func installHTTP(rt *goja.Runtime, loop *eventloop.EventLoop, client *httpclient.Client) {
	obj := rt.NewObject()
	obj.Set("send", func(call goja.FunctionCall) goja.Value {
		return dispatch(rt, loop, client, call.Argument(0))
	})
	rt.Set("httpClient", obj)
	if _, err := rt.RunString(fetchShim); err != nil {
		panic(err)
	}
}

func dispatch(rt *goja.Runtime, loop *eventloop.EventLoop, client *httpclient.Client, request goja.Value) goja.Value {
	spec, aborted, err := requestSpec(rt, request)
	if err != nil {
		panic(rt.NewGoError(err))
	}

	// An already-aborted signal cancels in the preflight phase: the client
	// classifies it before any transport work happens.
	ctx := context.Background()
	if aborted {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		ctx = cancelled
	}

	promise, resolve, reject := rt.NewPromise()
	go func() {
		resp, err := client.Do(ctx, spec)
		loop.RunOnLoop(func(rt *goja.Runtime) {
			if err != nil {
				reject(rt.NewGoError(err))
				return
			}
			out := rt.NewObject()
			out.Set("status", resp.Status)
			headers := rt.NewObject()
			for _, h := range resp.Headers {
				headers.Set(h.Name, h.Value)
			}
			out.Set("headers", headers)
			out.Set("body", string(resp.Body))
			resolve(out)
		})
	}()
	return rt.ToValue(promise)
}

// requestSpec reads the script-side request description. Header insertion
// order is preserved; value coercion happens later in the client. The
// second result reports whether the request's abort signal was already
// raised at call time.
func requestSpec(rt *goja.Runtime, v goja.Value) (httpclient.RequestSpec, bool, error) {
	spec := httpclient.RequestSpec{Method: "GET", TimeoutMs: -1}

	obj, ok := v.(*goja.Object)
	if !ok {
		return spec, false, errMissingURL
	}
	urlVal := obj.Get("url")
	if urlVal == nil || goja.IsUndefined(urlVal) {
		return spec, false, errMissingURL
	}
	spec.URL = urlVal.String()

	if m := obj.Get("method"); m != nil && !goja.IsUndefined(m) {
		spec.Method = m.String()
	}
	if b := obj.Get("body"); b != nil && !goja.IsUndefined(b) && !goja.IsNull(b) {
		data, err := exportBytes(rt, b)
		if err != nil {
			return spec, false, err
		}
		spec.Body = data
	}
	if t := obj.Get("timeoutMs"); t != nil && !goja.IsUndefined(t) && !goja.IsNull(t) {
		spec.TimeoutMs = int(t.ToInteger())
	}
	if h := obj.Get("headers"); h != nil && !goja.IsUndefined(h) && !goja.IsNull(h) {
		if headers, ok := h.(*goja.Object); ok {
			for _, key := range headers.Keys() {
				spec.Headers = append(spec.Headers, httpclient.RawHeader{
					Name:  key,
					Value: headers.Get(key).Export(),
				})
			}
		}
	}

	aborted := false
	if s := obj.Get("signal"); s != nil && !goja.IsUndefined(s) && !goja.IsNull(s) {
		if sig, ok := s.(*goja.Object); ok {
			if a := sig.Get("aborted"); a != nil {
				aborted = a.ToBoolean()
			}
		}
	}
	return spec, aborted, nil
}

type specError string

func (e specError) Error() string { return string(e) }

const errMissingURL = specError("request requires a url")
