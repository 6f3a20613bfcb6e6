// Package descriptor loads and interprets package.json-style manifests:
// the main field plus the exports and imports maps with their conditional
// and wildcard forms. Condition maps are order-sensitive, so parsing goes
// through a token walk rather than a plain map unmarshal.
package descriptor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Mode selects the condition branch taken during exports/imports evaluation.
type Mode string

const (
	ModeImport  Mode = "import"
	ModeRequire Mode = "require"
)

// Descriptor is a parsed package manifest.
type Descriptor struct {
	Name    string
	Version string
	Main    string
	Type    string // "module", "commonjs", or ""
	Exports *Node  // nil when the manifest has no exports field
	Imports *Node  // nil when the manifest has no imports field
}

// Node is one node of the exports/imports tree: either a string target or an
// ordered map of keys (subpaths, #aliases, or condition names) to child nodes.
type Node struct {
	Target  string
	Entries []Entry // nil when the node is a plain string target
}

// Entry is one ordered key/value pair of a map node.
type Entry struct {
	Key   string
	Value *Node
}

// IsTarget reports whether the node is a plain string target.
func (n *Node) IsTarget() bool { return n.Entries == nil }

// Get returns the child node for key, if present.
func (n *Node) Get(key string) (*Node, bool) {
	for _, e := range n.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Parse parses raw package.json bytes into a Descriptor.
func Parse(data []byte) (*Descriptor, error) {
	var head struct {
		Name    string          `json:"name"`
		Version string          `json:"version"`
		Main    string          `json:"main"`
		Type    string          `json:"type"`
		Exports json.RawMessage `json:"exports"`
		Imports json.RawMessage `json:"imports"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parsing package manifest: %w", err)
	}
	d := &Descriptor{
		Name:    head.Name,
		Version: head.Version,
		Main:    head.Main,
		Type:    head.Type,
	}
	var err error
	if len(head.Exports) > 0 {
		if d.Exports, err = parseNode(head.Exports); err != nil {
			return nil, fmt.Errorf("parsing exports: %w", err)
		}
	}
	if len(head.Imports) > 0 {
		if d.Imports, err = parseNode(head.Imports); err != nil {
			return nil, fmt.Errorf("parsing imports: %w", err)
		}
	}
	return d, nil
}

// parseNode decodes a raw exports/imports value preserving object key order.
func parseNode(raw json.RawMessage) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return decodeNode(dec)
}

func decodeNode(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case string:
		return &Node{Target: t}, nil
	case json.Delim:
		if t == '{' {
			node := &Node{Entries: []Entry{}}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected key token %v", keyTok)
				}
				child, err := decodeNode(dec)
				if err != nil {
					return nil, err
				}
				node.Entries = append(node.Entries, Entry{Key: key, Value: child})
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return node, nil
		}
		if t == '[' {
			// Array fallbacks: take the first usable alternative.
			var first *Node
			for dec.More() {
				child, err := decodeNode(dec)
				if err != nil {
					return nil, err
				}
				if first == nil && child != nil {
					first = child
				}
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			if first == nil {
				return nil, fmt.Errorf("empty target array")
			}
			return first, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case nil:
		// JSON null disables the entry.
		return &Node{Target: ""}, nil
	default:
		return nil, fmt.Errorf("unsupported manifest value %v", tok)
	}
}

// subpathKey reports whether a top-level exports key addresses a subpath
// (".", "./foo", "./*") as opposed to a condition name.
func subpathKey(key string) bool {
	return key == "." || strings.HasPrefix(key, "./")
}

// IsSubpathMap reports whether a map node keys subpaths rather than
// conditions. A manifest may use "exports": {"import": ..., "require": ...}
// as shorthand for the "." subpath; in that shape no key starts with ".".
func (n *Node) IsSubpathMap() bool {
	for _, e := range n.Entries {
		if subpathKey(e.Key) {
			return true
		}
	}
	return false
}
