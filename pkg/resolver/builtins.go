package resolver

import "strings"

// nodeBuiltins lists Node.js core module names that must never be treated as
// installable dependencies. Bare or node:-prefixed references to these names
// resolve to node: locations served by the runtime shim layer; names the
// shim layer does not implement fail at load time, not here.
var nodeBuiltins = map[string]bool{
	"assert":         true,
	"buffer":         true,
	"child_process":  true,
	"console":        true,
	"constants":      true,
	"crypto":         true,
	"dns":            true,
	"events":         true,
	"fs":             true,
	"http":           true,
	"https":          true,
	"module":         true,
	"net":            true,
	"os":             true,
	"path":           true,
	"process":        true,
	"querystring":    true,
	"readline":       true,
	"stream":         true,
	"string_decoder": true,
	"timers":         true,
	"tls":            true,
	"tty":            true,
	"url":            true,
	"util":           true,
	"v8":             true,
	"vm":             true,
	"worker_threads": true,
	"zlib":           true,
}

// IsBuiltinSpecifier reports whether a specifier names a node builtin,
// either bare ("path", "fs/promises") or prefixed ("node:path").
func IsBuiltinSpecifier(specifier string) bool {
	s, forced := strings.CutPrefix(specifier, "node:")
	head, _, _ := strings.Cut(s, "/")
	return forced || nodeBuiltins[head]
}

// builtinLocation canonicalizes a builtin specifier to its node: location.
// "path" and "node:path" both become "node:path"; subpaths are preserved
// ("fs/promises" becomes "node:fs/promises").
func builtinLocation(specifier string) Location {
	s, _ := strings.CutPrefix(specifier, "node:")
	return Location("node:" + s)
}
