// Package host defines the narrow capability interfaces the engine consumes
// from its surrounding application: byte-oriented file I/O scoped under a
// sandbox root, and a byte-oriented HTTP transport. The engine never performs
// raw filesystem or network syscalls itself.
package host

import "time"

// FileInfo describes a file inside the sandbox.
type FileInfo struct {
	Name    string
	Size    int64
	IsDir   bool
	ModTime time.Time
}

// DirEntry is one entry of a directory listing.
type DirEntry struct {
	Name  string
	IsDir bool
}

// FileStore is the byte-oriented file interface supplied by the host.
// All paths are slash-separated and interpreted relative to the sandbox root;
// a leading "/" addresses the root itself.
type FileStore interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	Stat(path string) (FileInfo, error)
	ReadDir(path string) ([]DirEntry, error)
}

// Request is one outbound HTTP request handed to the host transport.
type Request struct {
	Method  string
	URL     string
	Headers []Header
	Body    []byte
}

// Header is a single name/value pair. Order is preserved; values containing
// commas or colons pass through verbatim.
type Header struct {
	Name  string
	Value string
}

// Response is the host transport's answer to a Request.
type Response struct {
	Status  int
	Headers []Header
	Body    []byte
}

// Transport is the byte-oriented HTTP interface supplied by the host.
// Send blocks until the response is complete; cancellation of an in-flight
// send is host-dependent and not guaranteed.
type Transport interface {
	Send(req *Request) (*Response, error)
}
