// Package transform reshapes primary-store records into index documents.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/o2r-project/o2r-finder/internal/filetree"
	"github.com/o2r-project/o2r-finder/pkg/model"
)

// Entity names a kind of record the finder indexes.
type Entity string

const (
	Compendium Entity = "compendium"
	Job        Entity = "job"
)

// Func transforms one raw record. It never modifies its input.
type Func func(ctx context.Context, record model.Document) (model.Document, error)

var (
	errMissingStoreID  = errors.New("record has no storage identifier")
	errMissingDomainID = errors.New("record has no id")
	errUnknownEntity   = errors.New("unknown entity type")
)

// TransformError reports a record that could not be reshaped. The record is
// skipped and stays stale in the index until a later change fixes it.
type TransformError struct {
	Entity Entity
	ID     string
	Err    error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s %q: %v", e.Entity, e.ID, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// Pipeline holds the transform functions of every entity type.
type Pipeline struct {
	cfg       Config
	projector *filetree.Projector
	log       *Log
	logger    *slog.Logger
	now       func() time.Time
}

// NewPipeline creates a Pipeline that records every outcome in log.
func NewPipeline(cfg Config, projector *filetree.Projector, log *Log, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if projector == nil {
		projector = filetree.NewProjector(filetree.Options{
			Classifier:      filetree.NewClassifier(cfg.MimeOverrides),
			ReadConcurrency: cfg.ReadConcurrency,
			MaxTextSize:     cfg.MaxTextSize,
			Logger:          logger,
		})
	}
	if log == nil {
		log = NewLog(cfg.LogSize)
	}
	return &Pipeline{
		cfg:       cfg,
		projector: projector,
		log:       log,
		logger:    logger.With("component", "transform"),
		now:       time.Now,
	}
}

// Log returns the outcome log.
func (p *Pipeline) Log() *Log { return p.log }

// For returns the transform function of an entity type.
func (p *Pipeline) For(entity Entity) (Func, error) {
	switch entity {
	case Compendium, Job:
		return func(ctx context.Context, record model.Document) (model.Document, error) {
			return p.Transform(ctx, entity, record)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownEntity, entity)
	}
}

// Transform reshapes record and appends the outcome to the log.
func (p *Pipeline) Transform(ctx context.Context, entity Entity, record model.Document) (model.Document, error) {
	var (
		doc model.Document
		err error
	)
	switch entity {
	case Compendium:
		doc, err = p.compendium(ctx, record)
	case Job:
		doc, err = p.job(record)
	default:
		err = errUnknownEntity
	}

	entry := LogEntry{Time: p.now().UTC(), ID: record.GetString("id"), Entity: entity, Outcome: OutcomeSuccess}
	if err != nil {
		entry.Outcome = "error: " + err.Error()
		p.log.Append(entry)
		return nil, &TransformError{Entity: entity, ID: entry.ID, Err: err}
	}
	p.log.Append(entry)
	return doc, nil
}

// remap copies record, keeps the domain id under <entity>_id and makes the
// storage identifier the document id.
func remap(record model.Document, entity Entity) (model.Document, error) {
	storeID, ok := stringID(record["_id"])
	if !ok {
		return nil, errMissingStoreID
	}

	doc := record.Clone()
	if domainID, ok := record["id"]; ok {
		doc[string(entity)+"_id"] = domainID
	}
	doc["id"] = storeID
	delete(doc, "_id")
	delete(doc, "__v")
	return doc, nil
}

func (p *Pipeline) job(record model.Document) (model.Document, error) {
	return remap(record, Job)
}

func (p *Pipeline) compendium(ctx context.Context, record model.Document) (model.Document, error) {
	domainID := record.GetString("id")
	if domainID == "" {
		return nil, errMissingDomainID
	}
	if len(domainID) != p.cfg.IDLength {
		p.logger.Warn("Compendium id length differs from configured id length",
			"id", domainID, "id_length", p.cfg.IDLength)
	}

	doc, err := remap(record, Compendium)
	if err != nil {
		return nil, err
	}

	if !record.HasKey("files") || p.cfg.ReloadFileTree {
		p.attachFiles(ctx, doc, domainID)
	}

	metadata := filterMetadata(record["metadata"], p.cfg.MetadataNamespace)
	doc["metadata"] = metadata
	if special := specialValues(metadata); len(special) > 0 {
		doc["_special"] = special
	}
	return doc, nil
}

// attachFiles sets files and texts from the compendium directory. A missing
// directory leaves the document as it is.
func (p *Pipeline) attachFiles(ctx context.Context, doc model.Document, domainID string) {
	root := p.cfg.CompendiumRoot(domainID)
	tree, err := p.projector.Build(root)
	if err != nil {
		p.logger.Debug("No file tree for compendium", "id", domainID, "error", err)
		return
	}

	annotated := p.projector.Annotate(tree)
	api := p.projector.Rewrite(annotated, len(root), fmt.Sprintf("%s/%s/data", p.cfg.APIPrefix, domainID))
	texts := filetree.Flatten(p.projector.ReadText(ctx, annotated), len(root)+1)

	doc["files"] = api.ToMap()
	doc["texts"] = filetree.NodesToMaps(texts)
}

// filterMetadata keeps only the namespace sub-object of the metadata.
func filterMetadata(raw any, namespace string) map[string]any {
	out := map[string]any{}
	m, ok := asMap(raw)
	if !ok {
		return out
	}
	if v, ok := m[namespace]; ok {
		out[namespace] = v
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case model.Document:
		return t, true
	}
	return nil, false
}

func stringID(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, t != ""
	case interface{ Hex() string }:
		return t.Hex(), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(t), true
	}
}
