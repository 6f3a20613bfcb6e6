package host

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// NetTransport implements Transport over net/http for hosts that do have
// direct network access (the CLI). Sandboxed hosts supply their own.
type NetTransport struct {
	Client *http.Client
}

// NewNetTransport creates a transport backed by http.DefaultClient.
func NewNetTransport() *NetTransport {
	return &NetTransport{Client: http.DefaultClient}
}

func (t *NetTransport) Send(req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequest(req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for _, h := range req.Headers {
		httpReq.Header.Add(h.Name, h.Value)
	}
	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	out := &Response{Status: resp.StatusCode, Body: data}
	for name, values := range resp.Header {
		for _, v := range values {
			out.Headers = append(out.Headers, Header{Name: name, Value: v})
		}
	}
	return out, nil
}

// MemTransport is a scripted Transport for tests. Responses are registered
// per URL; unregistered URLs fail.
type MemTransport struct {
	mutex     sync.Mutex
	responses map[string]*Response
	errs      map[string]error
	Requests  []*Request // Requests seen, in order
}

// NewMemTransport creates an empty scripted transport.
func NewMemTransport() *MemTransport {
	return &MemTransport{
		responses: make(map[string]*Response),
		errs:      make(map[string]error),
	}
}

// Respond registers a canned response body for url.
func (t *MemTransport) Respond(url string, status int, body string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.responses[url] = &Response{Status: status, Body: []byte(body)}
}

// Fail registers a transport-level error for url.
func (t *MemTransport) Fail(url string, err error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.errs[url] = err
}

func (t *MemTransport) Send(req *Request) (*Response, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.Requests = append(t.Requests, req)
	if err, ok := t.errs[req.URL]; ok {
		return nil, err
	}
	if resp, ok := t.responses[req.URL]; ok {
		return resp, nil
	}
	return nil, fmt.Errorf("no route to %s", req.URL)
}
