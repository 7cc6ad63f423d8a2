package filetree

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Build reads the directory rooted at root. Unreadable subdirectories and
// dangling symlinks are skipped with a warning; only a missing or unreadable
// root fails, with ErrNotFound.
func (p *Projector) Build(root string) (Node, error) {
	info, err := os.Stat(root)
	if err != nil {
		return Node{}, fmt.Errorf("%w: %s: %v", ErrNotFound, root, err)
	}
	if !info.IsDir() {
		return leaf(root, info), nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return Node{}, fmt.Errorf("%w: %s: %v", ErrNotFound, root, err)
	}
	return p.dir(root, entries), nil
}

func (p *Projector) dir(path string, entries []fs.DirEntry) Node {
	node := Node{
		Path:     path,
		Name:     filepath.Base(path),
		Children: make([]Node, 0, len(entries)),
	}

	for _, entry := range entries {
		childPath := filepath.Join(path, entry.Name())

		// Stat follows symlinks; a dangling link fails here and is skipped.
		info, err := os.Stat(childPath)
		if err != nil {
			p.logger.Warn("Skipping unreadable file tree entry", "path", childPath, "error", err)
			continue
		}

		if !info.IsDir() {
			node.Children = append(node.Children, leaf(childPath, info))
			continue
		}

		if entry.Type()&fs.ModeSymlink != 0 {
			p.logger.Debug("Skipping symlinked directory", "path", childPath)
			continue
		}

		sub, err := os.ReadDir(childPath)
		if err != nil {
			p.logger.Warn("Skipping unreadable directory", "path", childPath, "error", err)
			continue
		}
		child := p.dir(childPath, sub)
		node.Size += child.Size
		node.Children = append(node.Children, child)
	}

	for _, c := range node.Children {
		if !c.IsDir() {
			node.Size += c.Size
		}
	}
	return node
}

func leaf(path string, info fs.FileInfo) Node {
	return Node{
		Path: path,
		Name: filepath.Base(path),
		Size: info.Size(),
	}
}

func newLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", "filetree")
}
