// Package httpclient implements the outbound request surface exposed to
// scripts. It validates and normalizes a request description, then delegates
// the actual network exchange to the embedder's transport.
package httpclient

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tsxkit/pkg/errors"
	"tsxkit/pkg/host"
)

// RawHeader is one header as handed over from script space, before value
// coercion. Order is preserved end to end.
type RawHeader struct {
	Name  string
	Value interface{}
}

// RequestSpec describes one outbound request as the script asked for it.
// TimeoutMs follows the script-facing convention: negative means no
// deadline, zero means the deadline has already passed.
type RequestSpec struct {
	URL       string
	Method    string
	Headers   []RawHeader
	Body      []byte
	TimeoutMs int
}

// Client normalizes script requests and hands them to a host transport.
type Client struct {
	transport host.Transport
	log       zerolog.Logger
}

// New creates a Client over the given transport.
func New(transport host.Transport, log zerolog.Logger) *Client {
	return &Client{transport: transport, log: log}
}

// Do performs one request. It never touches the network itself; the
// transport does, off the calling goroutine so that deadline and
// cancellation are enforced even when the transport blocks.
func (c *Client) Do(ctx context.Context, spec RequestSpec) (*host.Response, error) {
	req, err := c.buildRequest(spec)
	if err != nil {
		return nil, err
	}

	// A zero timeout is a deadline already in the past: fail before any
	// transport work happens.
	if spec.TimeoutMs == 0 {
		return nil, &errors.HttpError{
			Reason: errors.HttpTimeout,
			URL:    req.URL,
			Msg:    "request timed out after 0ms",
		}
	}
	if ctx.Err() != nil {
		return nil, &errors.HttpError{
			Reason: errors.HttpAborted,
			URL:    req.URL,
			Msg:    "request aborted before dispatch",
			Cause:  ctx.Err(),
		}
	}

	var deadline <-chan time.Time
	if spec.TimeoutMs > 0 {
		timer := time.NewTimer(time.Duration(spec.TimeoutMs) * time.Millisecond)
		defer timer.Stop()
		deadline = timer.C
	}

	type outcome struct {
		resp *host.Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := c.transport.Send(req)
		done <- outcome{resp, err}
	}()

	c.log.Debug().Str("method", req.Method).Str("url", req.URL).Msg("dispatching request")

	select {
	case out := <-done:
		if out.err != nil {
			return nil, &errors.HttpError{
				Reason: errors.HttpNetwork,
				URL:    req.URL,
				Msg:    out.err.Error(),
				Cause:  out.err,
			}
		}
		return out.resp, nil
	case <-deadline:
		return nil, &errors.HttpError{
			Reason: errors.HttpTimeout,
			URL:    req.URL,
			Msg:    fmt.Sprintf("request timed out after %dms", spec.TimeoutMs),
		}
	case <-ctx.Done():
		return nil, &errors.HttpError{
			Reason: errors.HttpAborted,
			URL:    req.URL,
			Msg:    "request aborted",
			Cause:  ctx.Err(),
		}
	}
}

func (c *Client) buildRequest(spec RequestSpec) (*host.Request, error) {
	target, err := normalizeURL(spec.URL)
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(strings.TrimSpace(spec.Method))
	if method == "" {
		method = "GET"
	}

	req := &host.Request{
		Method: method,
		URL:    target,
		Body:   spec.Body,
	}
	for _, h := range spec.Headers {
		value, ok := coerceHeaderValue(h.Value)
		if !ok || value == "" {
			continue
		}
		req.Headers = append(req.Headers, host.Header{Name: h.Name, Value: value})
	}
	return req, nil
}

// normalizeURL validates the scheme, drops any fragment, and defaults an
// empty path to "/".
func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", &errors.HttpError{
			Reason: errors.HttpNetwork,
			URL:    raw,
			Msg:    "malformed URL",
			Cause:  err,
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &errors.HttpError{
			Reason: errors.HttpNetwork,
			URL:    raw,
			Msg:    fmt.Sprintf("unsupported URL scheme %q", u.Scheme),
		}
	}
	if u.Host == "" {
		return "", &errors.HttpError{
			Reason: errors.HttpNetwork,
			URL:    raw,
			Msg:    "URL has no host",
		}
	}
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// coerceHeaderValue flattens a script value to header text. Strings pass
// through, numbers and booleans are stringified, and anything else is
// dropped.
func coerceHeaderValue(v interface{}) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10), true
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}
