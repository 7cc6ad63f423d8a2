// Package index adapts the embedded bleve search engine to the finder: one
// bleve index per partition, an Elasticsearch-shaped query body, and hits
// that carry their full source document.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/index/scorch"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/o2r-project/o2r-finder/pkg/model"
)

// Engine is the search engine the finder writes to and queries.
type Engine interface {
	// Ping reports whether the engine can serve requests.
	Ping(ctx context.Context) error

	PartitionExists(ctx context.Context, name string) (bool, error)
	// CreatePartition creates a partition with the given mapping. It fails
	// with ErrPartitionExists if the partition is already there.
	CreatePartition(ctx context.Context, name string, m mapping.IndexMapping) error
	// OpenPartition attaches an existing partition.
	OpenPartition(ctx context.Context, name string) error
	DeletePartition(ctx context.Context, name string) error

	// Upsert indexes doc under id, replacing any previous version.
	Upsert(ctx context.Context, partition, id string, doc model.Document) error
	// Delete removes id. Deleting a missing document is not an error.
	Delete(ctx context.Context, partition, id string) error
	Count(ctx context.Context, partition string) (uint64, error)

	// Search runs req against the union of partitions.
	Search(ctx context.Context, partitions []string, req *bleve.SearchRequest) (*Result, error)

	Close() error
}

// Result is the engine's answer to a search.
type Result struct {
	Total    uint64
	MaxScore float64
	Hits     []Hit
}

// Hit is one matching document.
type Hit struct {
	Partition string
	ID        string
	Score     float64
	Source    model.Document
}

// Bleve is an Engine on top of bleve indexes, on disk or in memory.
type Bleve struct {
	mu         sync.RWMutex
	dir        string
	inMemory   bool
	maxSize    int
	partitions map[string]bleve.Index
	closed     bool
	logger     *slog.Logger
}

var _ Engine = (*Bleve)(nil)

// NewBleve returns an engine rooted at cfg.Dir. No partition is opened yet.
func NewBleve(cfg Config, logger *slog.Logger) (*Bleve, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.InMemory {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create index directory %s: %w", cfg.Dir, err)
		}
	}
	return &Bleve{
		dir:        cfg.Dir,
		inMemory:   cfg.InMemory,
		maxSize:    cfg.MaxSize,
		partitions: make(map[string]bleve.Index),
		logger:     logger.With("component", "index"),
	}, nil
}

func (b *Bleve) path(name string) string {
	return filepath.Join(b.dir, name)
}

func (b *Bleve) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	for name, idx := range b.partitions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := idx.DocCount(); err != nil {
			return fmt.Errorf("partition %s: %w", name, err)
		}
	}
	return nil
}

func (b *Bleve) PartitionExists(_ context.Context, name string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false, ErrClosed
	}
	if _, ok := b.partitions[name]; ok {
		return true, nil
	}
	if b.inMemory {
		return false, nil
	}
	_, err := os.Stat(filepath.Join(b.path(name), "index_meta.json"))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (b *Bleve) CreatePartition(ctx context.Context, name string, m mapping.IndexMapping) error {
	exists, err := b.PartitionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrPartitionExists, name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var idx bleve.Index
	if b.inMemory {
		// scorch indexes geoshape fields; the default in-memory backend does not.
		idx, err = bleve.NewUsing("", m, scorch.Name, scorch.Name, nil)
	} else {
		idx, err = bleve.New(b.path(name), m)
	}
	if err != nil {
		return fmt.Errorf("failed to create partition %s: %w", name, err)
	}
	idx.SetName(name)
	b.partitions[name] = idx
	b.logger.Info("Created partition", "partition", name)
	return nil
}

func (b *Bleve) OpenPartition(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if _, ok := b.partitions[name]; ok {
		return nil
	}
	if b.inMemory {
		return fmt.Errorf("partition %s: %w", name, model.ErrNotFound)
	}

	idx, err := bleve.Open(b.path(name))
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return fmt.Errorf("partition %s: %w", name, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to open partition %s: %w", name, err)
	}
	idx.SetName(name)
	b.partitions[name] = idx
	return nil
}

func (b *Bleve) DeletePartition(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if idx, ok := b.partitions[name]; ok {
		delete(b.partitions, name)
		if err := idx.Close(); err != nil {
			b.logger.Warn("Failed to close partition before delete", "partition", name, "error", err)
		}
	}
	if b.inMemory {
		return nil
	}
	if err := os.RemoveAll(b.path(name)); err != nil {
		return fmt.Errorf("failed to delete partition %s: %w", name, err)
	}
	b.logger.Info("Deleted partition", "partition", name)
	return nil
}

func (b *Bleve) partition(name string) (bleve.Index, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}
	idx, ok := b.partitions[name]
	if !ok {
		return nil, fmt.Errorf("partition %s: %w", name, model.ErrNotFound)
	}
	return idx, nil
}

func (b *Bleve) Upsert(ctx context.Context, partition, id string, doc model.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx, err := b.partition(partition)
	if err != nil {
		return err
	}
	prepared, err := prepare(doc)
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", partition, id, err)
	}
	if err := idx.Index(id, prepared); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", partition, id, err)
	}
	return nil
}

func (b *Bleve) Delete(ctx context.Context, partition, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx, err := b.partition(partition)
	if err != nil {
		return err
	}
	if err := idx.Delete(id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", partition, id, err)
	}
	return nil
}

func (b *Bleve) Count(_ context.Context, partition string) (uint64, error) {
	idx, err := b.partition(partition)
	if err != nil {
		return 0, err
	}
	return idx.DocCount()
}

// Search runs req over the named partitions. It asks for the stored source
// on every hit and caps the page size.
func (b *Bleve) Search(ctx context.Context, partitions []string, req *bleve.SearchRequest) (*Result, error) {
	if len(partitions) == 0 {
		return nil, badQuery(errors.New("no partition to search"))
	}

	indexes := make([]bleve.Index, 0, len(partitions))
	for _, name := range partitions {
		idx, err := b.partition(name)
		if errors.Is(err, model.ErrNotFound) {
			return nil, noSuchPartition(name)
		}
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}

	var target bleve.Index
	if len(indexes) == 1 {
		target = indexes[0]
	} else {
		target = bleve.NewIndexAlias(indexes...)
	}

	req.Fields = []string{SourceField}
	if b.maxSize > 0 && req.Size > b.maxSize {
		req.Size = b.maxSize
	}

	res, err := target.SearchInContext(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("search %s: %w", strings.Join(partitions, ","), ctxErr)
		}
		return nil, badQuery(err)
	}

	out := &Result{
		Total:    res.Total,
		MaxScore: res.MaxScore,
		Hits:     make([]Hit, 0, len(res.Hits)),
	}
	for _, h := range res.Hits {
		source, err := decodeSource(h.Fields[SourceField])
		if err != nil {
			b.logger.Warn("Skipping hit with unreadable source", "partition", h.Index, "id", h.ID, "error", err)
			continue
		}
		out.Hits = append(out.Hits, Hit{Partition: h.Index, ID: h.ID, Score: h.Score, Source: source})
	}
	return out, nil
}

// Partitions lists the open partitions.
func (b *Bleve) Partitions() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.partitions))
	for name := range b.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Bleve) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for name, idx := range b.partitions {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	b.partitions = nil
	return errors.Join(errs...)
}
