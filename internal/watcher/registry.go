// Package watcher declares which primary-store collections feed which index
// partitions.
package watcher

import (
	"errors"
	"fmt"
	"sort"

	"github.com/o2r-project/o2r-finder/internal/transform"
)

// Descriptor binds one collection to one index partition.
type Descriptor struct {
	Collection    string
	Partition     string
	Type          string
	Entity        transform.Entity
	Transform     transform.Func
	FetchExisting bool
	Priority      int
	Filter        *Filter
}

// Source is the input Build turns into a Descriptor.
type Source struct {
	Entity     transform.Entity
	Collection string
	Partition  string
	Type       string
	Settings   Settings
}

// Registry is the immutable, priority-ordered list of watchers.
type Registry struct {
	descriptors []Descriptor
}

// NewRegistry validates the descriptors and orders them by ascending
// priority. Equal priorities keep their given order.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	if len(descriptors) == 0 {
		return nil, errors.New("no watchers configured")
	}

	collections := map[string]bool{}
	partitions := map[string]bool{}
	types := map[string]bool{}
	for _, d := range descriptors {
		switch {
		case d.Collection == "" || d.Partition == "" || d.Type == "":
			return nil, fmt.Errorf("watcher %q: collection, partition and type are required", d.Entity)
		case d.Transform == nil:
			return nil, fmt.Errorf("watcher %q: transform is required", d.Entity)
		case collections[d.Collection]:
			return nil, fmt.Errorf("collection %q watched twice", d.Collection)
		case partitions[d.Partition]:
			return nil, fmt.Errorf("partition %q bound twice", d.Partition)
		case types[d.Type]:
			return nil, fmt.Errorf("type %q bound twice", d.Type)
		}
		collections[d.Collection] = true
		partitions[d.Partition] = true
		types[d.Type] = true
	}

	sorted := append([]Descriptor(nil), descriptors...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return &Registry{descriptors: sorted}, nil
}

// Build creates the registry from configured sources, skipping disabled ones.
func Build(pipeline *transform.Pipeline, sources ...Source) (*Registry, error) {
	var descriptors []Descriptor
	for _, s := range sources {
		if s.Settings.Disabled {
			continue
		}
		fn, err := pipeline.For(s.Entity)
		if err != nil {
			return nil, err
		}
		var filter *Filter
		if s.Settings.Filter != "" {
			if filter, err = NewFilter(s.Settings.Filter); err != nil {
				return nil, fmt.Errorf("watcher %q: %w", s.Entity, err)
			}
		}
		descriptors = append(descriptors, Descriptor{
			Collection:    s.Collection,
			Partition:     s.Partition,
			Type:          s.Type,
			Entity:        s.Entity,
			Transform:     fn,
			FetchExisting: s.Settings.FetchExisting,
			Priority:      s.Settings.Priority,
			Filter:        filter,
		})
	}
	return NewRegistry(descriptors...)
}

// All returns the descriptors in priority order.
func (r *Registry) All() []Descriptor {
	return append([]Descriptor(nil), r.descriptors...)
}

// Partitions returns every bound partition in priority order.
func (r *Registry) Partitions() []string {
	out := make([]string, len(r.descriptors))
	for i, d := range r.descriptors {
		out[i] = d.Partition
	}
	return out
}
