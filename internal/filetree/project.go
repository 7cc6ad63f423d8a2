package filetree

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Projector builds file trees and derives their projections.
type Projector struct {
	classifier  *Classifier
	concurrency int
	maxTextSize int64
	logger      *slog.Logger
}

// Options tunes a Projector. Zero values pick the defaults.
type Options struct {
	// Classifier defaults to NewClassifier(nil).
	Classifier *Classifier
	// ReadConcurrency bounds parallel text file reads. Default 4.
	ReadConcurrency int
	// MaxTextSize skips text files larger than this many bytes. Default 10 MiB.
	MaxTextSize int64
	Logger      *slog.Logger
}

// NewProjector creates a Projector.
func NewProjector(opts Options) *Projector {
	p := &Projector{
		classifier:  opts.Classifier,
		concurrency: opts.ReadConcurrency,
		maxTextSize: opts.MaxTextSize,
		logger:      newLogger(opts.Logger),
	}
	if p.classifier == nil {
		p.classifier = NewClassifier(nil)
	}
	if p.concurrency <= 0 {
		p.concurrency = 4
	}
	if p.maxTextSize <= 0 {
		p.maxTextSize = 10 << 20
	}
	return p
}

// Rewrite replaces the first stripPrefixLength characters of every path with
// newPrefix. Leaves without a type are classified using their original path.
func (p *Projector) Rewrite(tree Node, stripPrefixLength int, newPrefix string) Node {
	out := tree
	out.Path = newPrefix + cut(tree.Path, stripPrefixLength)
	if tree.IsDir() {
		out.Children = make([]Node, len(tree.Children))
		for i, c := range tree.Children {
			out.Children[i] = p.Rewrite(c, stripPrefixLength, newPrefix)
		}
		return out
	}
	if out.Type == "" {
		out.Type = p.classifier.Classify(tree.Path)
	}
	return out
}

// Annotate sets the MIME type of every leaf that has none.
func (p *Projector) Annotate(tree Node) Node {
	out := tree
	if tree.IsDir() {
		out.Children = make([]Node, len(tree.Children))
		for i, c := range tree.Children {
			out.Children[i] = p.Annotate(c)
		}
		return out
	}
	if out.Type == "" {
		out.Type = p.classifier.Classify(tree.Path)
	}
	return out
}

// ReadText attaches the content of every text leaf. Paths must still be
// filesystem paths. Failed reads are logged and leave the content empty.
func (p *Projector) ReadText(ctx context.Context, tree Node) Node {
	var paths []string
	collectText(tree, &paths)
	if len(paths) == 0 {
		return tree
	}

	var (
		mu       sync.Mutex
		contents = make(map[string]string, len(paths))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, path := range paths {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			content, err := p.readFile(path)
			if err != nil {
				p.logger.Warn("Failed to read text file", "path", path, "error", err)
				return nil
			}
			mu.Lock()
			contents[path] = content
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.logger.Debug("Text extraction interrupted", "error", err)
	}

	return attach(tree, contents)
}

func (p *Projector) readFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, p.maxTextSize+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > p.maxTextSize {
		p.logger.Debug("Text file exceeds size limit, not indexed", "path", path, "limit", p.maxTextSize)
		return "", nil
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

func collectText(n Node, paths *[]string) {
	if n.IsDir() {
		for _, c := range n.Children {
			collectText(c, paths)
		}
		return
	}
	if IsText(n.Type) {
		*paths = append(*paths, n.Path)
	}
}

func attach(n Node, contents map[string]string) Node {
	out := n
	if n.IsDir() {
		out.Children = make([]Node, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = attach(c, contents)
		}
		return out
	}
	if content, ok := contents[n.Path]; ok {
		out.Content = content
	}
	return out
}

// Flatten lists the leaves in depth-first order with the first
// stripPrefixLength characters of their paths removed.
func Flatten(tree Node, stripPrefixLength int) []Node {
	var out []Node
	flatten(tree, stripPrefixLength, &out)
	return out
}

func flatten(n Node, strip int, out *[]Node) {
	if n.IsDir() {
		for _, c := range n.Children {
			flatten(c, strip, out)
		}
		return
	}
	leaf := n
	leaf.Path = cut(n.Path, strip)
	*out = append(*out, leaf)
}

func cut(s string, n int) string {
	if n <= 0 {
		return s
	}
	if n >= len(s) {
		return ""
	}
	return s[n:]
}
