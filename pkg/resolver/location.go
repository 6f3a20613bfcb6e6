// Package resolver canonicalizes module specifiers: relative paths, bare
// package names, package.json exports/imports maps, file:// bases, and the
// CDN fallback for packages with no local installation.
package resolver

import (
	"net/url"
	"regexp"
	"strings"
)

// Location is the fully resolved, cache-key form of a specifier: a local
// slash-separated path, a file:// URL, an absolute http(s) URL, or a
// node:-prefixed builtin name.
type Location string

func (l Location) String() string { return string(l) }

// IsHTTP reports whether the location is an absolute http(s) URL.
func (l Location) IsHTTP() bool {
	return strings.HasPrefix(string(l), "https://") || strings.HasPrefix(string(l), "http://")
}

// IsFileURL reports whether the location is a file:// URL.
func (l Location) IsFileURL() bool {
	return strings.HasPrefix(string(l), "file://")
}

// IsBuiltin reports whether the location names a node builtin module.
func (l Location) IsBuiltin() bool {
	return strings.HasPrefix(string(l), "node:")
}

// BuiltinName returns the builtin module name without the node: prefix.
func (l Location) BuiltinName() string {
	return strings.TrimPrefix(string(l), "node:")
}

// Origin returns scheme://host for HTTP locations, "" otherwise.
func (l Location) Origin() string {
	u, err := url.Parse(string(l))
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Dir returns the directory portion of the location. For HTTP and file URLs
// the final path segment is dropped; for local paths this is path.Dir.
func (l Location) Dir() string {
	s := string(l)
	if i := strings.LastIndex(s, "/"); i >= 0 {
		if i == 0 {
			return "/"
		}
		return s[:i]
	}
	return "."
}

var driveLetterPattern = regexp.MustCompile(`^/[A-Za-z]:(/|$)`)

// FileURLToPath converts a file:// URL to a local path. The path component
// is percent-decoded, and a Windows-style drive letter that appears after
// decoding is preserved as a local absolute path rather than being
// mis-parsed as URL authority.
func FileURLToPath(fileURL string) (string, bool) {
	rest, ok := strings.CutPrefix(fileURL, "file://")
	if !ok {
		return "", false
	}
	// file:///path has an empty authority; file://host/path carries one,
	// which the sandbox has no use for, so only the path is kept.
	if i := strings.Index(rest, "/"); i > 0 {
		rest = rest[i:]
	} else if i < 0 {
		rest = "/" + rest
	}
	decoded, err := url.PathUnescape(rest)
	if err != nil {
		decoded = rest
	}
	if driveLetterPattern.MatchString(decoded) {
		decoded = decoded[1:]
	}
	if decoded == "" {
		decoded = "/"
	}
	return decoded, true
}
