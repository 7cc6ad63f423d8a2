// Package provision prepares the search index partitions before the finder
// starts syncing or serving queries.
package provision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/o2r-project/o2r-finder/internal/index"
)

// Step names one provisioning step.
type Step string

const (
	StepExists  Step = "exists"
	StepDelete  Step = "delete"
	StepMapping Step = "mapping"
	StepCreate  Step = "create"
	StepOpen    Step = "open"
)

// Partition is a partition to provision.
type Partition struct {
	Name string
	// Type is the document type tag stored in the partition.
	Type     string
	Settings []byte
	// Mapping is the document mapping. Nil means dynamic mapping only.
	Mapping []byte
}

// Options control what provisioning may change.
type Options struct {
	// Recreate deletes an existing partition before creating it again.
	Recreate bool
	// PutMapping composes the partition's mapping at creation.
	PutMapping bool
}

// OptionsFrom reads the provisioning switches from the index config.
func OptionsFrom(cfg index.Config) Options {
	return Options{Recreate: cfg.RecreateOnStartup, PutMapping: cfg.PutMappingOnStartup}
}

// Result records what EnsurePartition did.
type Result struct {
	Partition      string
	Existed        bool
	Deleted        bool
	Created        bool
	MappingApplied bool
}

// ProvisionError names the step that failed.
type ProvisionError struct {
	Step      Step
	Partition string
	Err       error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s: %s failed: %v", e.Partition, e.Step, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// Provisioner creates and recreates partitions on an engine.
type Provisioner struct {
	engine index.Engine
	opts   Options
	logger *slog.Logger
}

func New(engine index.Engine, opts Options, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		engine: engine,
		opts:   opts,
		logger: logger.With("component", "provision"),
	}
}

// EnsurePartition runs exists, delete (when recreating), mapping and create
// in order. A partition that exists and is not recreated is only opened.
func (p *Provisioner) EnsurePartition(ctx context.Context, part Partition) (Result, error) {
	res := Result{Partition: part.Name}
	fail := func(step Step, err error) (Result, error) {
		return res, &ProvisionError{Step: step, Partition: part.Name, Err: err}
	}

	exists, err := p.engine.PartitionExists(ctx, part.Name)
	if err != nil {
		return fail(StepExists, err)
	}
	res.Existed = exists

	if exists {
		if !p.opts.Recreate {
			if err := p.engine.OpenPartition(ctx, part.Name); err != nil {
				return fail(StepOpen, err)
			}
			p.logger.Info("Partition exists, keeping it", "partition", part.Name)
			return res, nil
		}
		if err := p.engine.DeletePartition(ctx, part.Name); err != nil {
			return fail(StepDelete, err)
		}
		res.Deleted = true
		p.logger.Info("Deleted partition for recreation", "partition", part.Name)
	}

	var doc []byte
	if p.opts.PutMapping {
		doc = part.Mapping
	}
	m, err := index.NewMapping(part.Settings, doc)
	if err != nil {
		return fail(StepMapping, err)
	}
	res.MappingApplied = len(doc) > 0
	if p.opts.PutMapping && len(part.Mapping) == 0 {
		p.logger.Debug("No mapping for partition type", "partition", part.Name, "type", part.Type)
	}

	if err := p.engine.CreatePartition(ctx, part.Name, m); err != nil {
		return fail(StepCreate, err)
	}
	res.Created = true

	p.logger.Info("Provisioned partition",
		"partition", part.Name,
		"type", part.Type,
		"recreated", res.Deleted,
		"mapping", res.MappingApplied,
	)
	return res, nil
}

// EnsureAll provisions parts in order and stops at the first failure.
func (p *Provisioner) EnsureAll(ctx context.Context, parts []Partition) ([]Result, error) {
	results := make([]Result, 0, len(parts))
	for _, part := range parts {
		res, err := p.EnsurePartition(ctx, part)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
