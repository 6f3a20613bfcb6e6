package descriptor

import (
	"fmt"
	"strings"

	"tsxkit/pkg/errors"
)

// EvalError reports a failed exports/imports evaluation. The resolver wraps
// it into a full ResolutionError with the originating specifier attached.
type EvalError struct {
	Reason errors.ResolutionKind
	Msg    string
}

func (e *EvalError) Error() string { return e.Msg }

func notExported(subpath string) *EvalError {
	return &EvalError{Reason: errors.NotFound, Msg: fmt.Sprintf("subpath %q is not exported", subpath)}
}

func invalidMap(format string, args ...interface{}) *EvalError {
	return &EvalError{Reason: errors.InvalidPackageMap, Msg: fmt.Sprintf(format, args...)}
}

// ResolveExport resolves a package subpath ("." or "./x") through the
// manifest's exports tree for the given mode. The returned target is a
// package-relative "./..." path.
func (d *Descriptor) ResolveExport(subpath string, mode Mode) (string, error) {
	if d.Exports == nil {
		return "", notExported(subpath)
	}
	root := d.Exports
	if root.IsTarget() || !root.IsSubpathMap() {
		// Shorthand: the whole exports value describes the "." subpath.
		if subpath != "." {
			return "", notExported(subpath)
		}
		return evalTarget(root, mode, "")
	}
	return resolveMapped(root, subpath, mode)
}

// ResolveImport resolves a "#alias" specifier through the manifest's imports
// map. The returned target may be package-relative or a bare specifier to be
// resolved again by the caller.
func (d *Descriptor) ResolveImport(alias string, mode Mode) (string, error) {
	if d.Imports == nil {
		return "", &EvalError{Reason: errors.NotFound, Msg: fmt.Sprintf("no imports map for %q", alias)}
	}
	if !strings.HasPrefix(alias, "#") {
		return "", invalidMap("imports keys must start with '#', got %q", alias)
	}
	return resolveMapped(d.Imports, alias, mode)
}

// resolveMapped looks key up in a subpath/alias map: exact keys always take
// priority over wildcard keys; among wildcard matches the most specific
// pattern wins, and an exact specificity tie is an error.
func resolveMapped(root *Node, key string, mode Mode) (string, error) {
	if node, ok := root.Get(key); ok && !strings.Contains(key, "*") {
		return evalTarget(node, mode, "")
	}

	type wildcardMatch struct {
		pattern   string
		node      *Node
		remainder string
		prefixLen int
		suffixLen int
	}
	var best *wildcardMatch
	ambiguous := false
	for _, e := range root.Entries {
		star := strings.Index(e.Key, "*")
		if star < 0 {
			continue
		}
		prefix := e.Key[:star]
		suffix := e.Key[star+1:]
		if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, suffix) {
			continue
		}
		if len(key) < len(prefix)+len(suffix) {
			continue
		}
		m := &wildcardMatch{
			pattern:   e.Key,
			node:      e.Value,
			remainder: key[len(prefix) : len(key)-len(suffix)],
			prefixLen: len(prefix),
			suffixLen: len(suffix),
		}
		switch {
		case best == nil:
			best = m
		case m.prefixLen > best.prefixLen || (m.prefixLen == best.prefixLen && m.suffixLen > best.suffixLen):
			best = m
			ambiguous = false
		case m.prefixLen == best.prefixLen && m.suffixLen == best.suffixLen && m.pattern != best.pattern:
			ambiguous = true
		}
	}
	if best == nil {
		return "", notExported(key)
	}
	if ambiguous {
		return "", &EvalError{
			Reason: errors.AmbiguousWildcard,
			Msg:    fmt.Sprintf("multiple wildcard patterns match %q with equal specificity", key),
		}
	}
	return evalTarget(best.node, mode, best.remainder)
}

// evalTarget reduces a node to a concrete target string, resolving condition
// objects innermost-first with the fixed precedence: the call mode's
// condition, then "default". When remainder is non-empty the target's
// wildcard is substituted exactly once.
func evalTarget(node *Node, mode Mode, remainder string) (string, error) {
	for {
		if node == nil {
			return "", invalidMap("null target")
		}
		if node.IsTarget() {
			target := node.Target
			if target == "" {
				return "", notExported(remainder)
			}
			if remainder != "" || strings.Contains(target, "*") {
				target = strings.Replace(target, "*", remainder, 1)
			}
			return target, nil
		}
		next, ok := node.Get(string(mode))
		if !ok {
			next, ok = node.Get("default")
		}
		if !ok {
			return "", notExported(remainder)
		}
		node = next
	}
}
