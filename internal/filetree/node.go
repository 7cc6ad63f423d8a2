// Package filetree projects a compendium's on-disk artifacts into the file
// listings stored with each index document.
//
// A tree is built once from disk and then transformed by pure projections:
// Rewrite, Annotate, ReadText and Flatten never modify their input. Children
// are held by value, so two projections of the same tree never share nodes.
package filetree

import "errors"

// ErrNotFound is returned by Build when the root does not exist or cannot be read.
var ErrNotFound = errors.New("file tree not available")

// Node is a directory (Children non-nil, possibly empty) or a file leaf.
type Node struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Type     string `json:"type,omitempty"`
	Content  string `json:"content,omitempty"`
	Children []Node `json:"children,omitempty"`
}

// IsDir reports whether the node is a directory.
func (n Node) IsDir() bool { return n.Children != nil }

// ToMap renders the node as a JSON-compatible map. Directories always carry
// a children array, even when empty.
func (n Node) ToMap() map[string]any {
	m := map[string]any{
		"path": n.Path,
		"name": n.Name,
		"size": n.Size,
	}
	if n.IsDir() {
		children := make([]any, len(n.Children))
		for i, c := range n.Children {
			children[i] = c.ToMap()
		}
		m["children"] = children
		return m
	}
	if n.Type != "" {
		m["type"] = n.Type
	}
	if n.Content != "" {
		m["content"] = n.Content
	}
	return m
}

// NodesToMaps renders a flat node list.
func NodesToMaps(nodes []Node) []any {
	out := make([]any, len(nodes))
	for i, n := range nodes {
		out[i] = n.ToMap()
	}
	return out
}
