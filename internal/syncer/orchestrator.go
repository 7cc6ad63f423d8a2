// Package syncer keeps the search index in step with the primary store: it
// probes the engine, backfills existing records and then applies the
// collections' change streams.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/o2r-project/o2r-finder/internal/index"
	"github.com/o2r-project/o2r-finder/internal/notify"
	"github.com/o2r-project/o2r-finder/internal/retry"
	"github.com/o2r-project/o2r-finder/internal/store"
	"github.com/o2r-project/o2r-finder/internal/transform"
	"github.com/o2r-project/o2r-finder/internal/watcher"
	"github.com/o2r-project/o2r-finder/pkg/model"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"
)

const (
	opUpsert = "upsert"
	opDelete = "delete"
)

var errStreamEnded = errors.New("change stream ended")

// Source is the primary store as the orchestrator sees it.
type Source interface {
	// Scan calls fn for every record of the collection.
	Scan(ctx context.Context, collection string, fn func(model.Document) error) error
	// Watch opens a change stream, continuing after resumeAfter when set.
	Watch(ctx context.Context, collection string, resumeAfter bson.Raw) (store.ChangeStream, error)
}

var _ Source = (*store.Provider)(nil)

// Orchestrator runs one watcher per registry entry.
type Orchestrator struct {
	cfg       Config
	registry  *watcher.Registry
	source    Source
	engine    index.Engine
	publisher notify.Publisher
	logger    *slog.Logger
	tracker   *tracker
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher publishes an event for every applied change.
func WithPublisher(p notify.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func New(cfg Config, registry *watcher.Registry, source Source, engine index.Engine, opts ...Option) *Orchestrator {
	cfg.ApplyDefaults()
	o := &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		source:    source,
		engine:    engine,
		publisher: notify.Nop{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "syncer")
	o.tracker = newTracker(registry.All(), o.now)
	return o
}

// Status returns a snapshot of every watcher in priority order.
func (o *Orchestrator) Status() []WatcherStatus {
	return o.tracker.snapshot()
}

// Probe pings the search engine until it answers or the start attempts are
// spent. Exhaustion is a *model.ConnectivityError.
func (o *Orchestrator) Probe(ctx context.Context) error {
	err := retry.Do(ctx, o.cfg.probePolicy(), func(ctx context.Context, attempt int) error {
		pingCtx, cancel := context.WithTimeout(ctx, o.cfg.Start.PingTimeout)
		defer cancel()
		if err := o.engine.Ping(pingCtx); err != nil {
			o.logger.Warn("Search index not reachable",
				"attempt", attempt,
				"attempts", o.cfg.Start.Attempts,
				"error", err,
			)
			return err
		}
		return nil
	})
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return &model.ConnectivityError{Dependency: "search index", Attempts: exhausted.Attempts, Err: exhausted.Err}
	}
	return err
}

// Run probes the engine, opens every change stream, backfills the watchers
// that fetch existing records and then streams until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.tracker.setAll(StateConnectionProbe)
	if err := o.Probe(ctx); err != nil {
		o.tracker.setAll(StateError)
		return err
	}

	descriptors := o.registry.All()
	streams := make([]store.ChangeStream, len(descriptors))
	closeAll := func() {
		for _, cs := range streams {
			if cs != nil {
				_ = cs.Close(context.WithoutCancel(ctx))
			}
		}
	}
	for i, d := range descriptors {
		cs, err := o.source.Watch(ctx, d.Collection, nil)
		if err != nil {
			closeAll()
			o.tracker.set(d.Partition, StateError, err)
			return fmt.Errorf("watch %s: %w", d.Collection, err)
		}
		streams[i] = cs
		o.logger.Info("Watching collection", "collection", d.Collection, "partition", d.Partition)
	}

	for _, d := range descriptors {
		if !d.FetchExisting {
			o.logger.Info("Skipping backfill", "collection", d.Collection)
			continue
		}
		if err := o.backfill(ctx, d); err != nil {
			closeAll()
			if model.IsCanceled(err) && ctx.Err() != nil {
				o.tracker.setAll(StateStopped)
				return nil
			}
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range descriptors {
		g.Go(func() error {
			o.stream(gctx, d, streams[i])
			return nil
		})
	}
	err := g.Wait()
	o.tracker.setAll(StateStopped)
	return err
}

// Reindex probes the engine and backfills every watcher, regardless of its
// fetch-existing setting.
func (o *Orchestrator) Reindex(ctx context.Context) error {
	o.tracker.setAll(StateConnectionProbe)
	if err := o.Probe(ctx); err != nil {
		o.tracker.setAll(StateError)
		return err
	}
	for _, d := range o.registry.All() {
		if err := o.backfill(ctx, d); err != nil {
			return err
		}
	}
	o.tracker.setAll(StateStopped)
	return nil
}

func (o *Orchestrator) backfill(ctx context.Context, d watcher.Descriptor) error {
	o.tracker.set(d.Partition, StateBackfilling, nil)
	logger := o.logger.With("collection", d.Collection, "partition", d.Partition)
	logger.Info("Backfilling existing records")

	var indexed, skipped int
	err := o.source.Scan(ctx, d.Collection, func(record model.Document) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		op, err := o.index(ctx, d, record)
		if err != nil {
			skipped++
			return nil
		}
		if op == opUpsert {
			indexed++
			Backfilled.WithLabelValues(d.Partition).Inc()
			o.tracker.update(d.Partition, func(s *WatcherStatus) { s.Backfilled++ })
		}
		return nil
	})
	if err != nil {
		o.tracker.set(d.Partition, StateError, err)
		return fmt.Errorf("backfill %s: %w", d.Collection, err)
	}
	logger.Info("Backfill complete", "indexed", indexed, "skipped", skipped)
	return nil
}

// stream applies cs until ctx is done, reopening it from the last resume
// token after every error.
func (o *Orchestrator) stream(ctx context.Context, d watcher.Descriptor, cs store.ChangeStream) {
	logger := o.logger.With("collection", d.Collection, "partition", d.Partition)
	workers := newDispatcher(o.cfg.Workers, o.cfg.QueueSize, func(evt store.Event) {
		if ctx.Err() != nil {
			return
		}
		_ = o.apply(ctx, d, evt)
	})
	defer workers.close()

	var token bson.Raw
	failures := 0
	for {
		if cs == nil {
			var err error
			cs, err = o.source.Watch(ctx, d.Collection, token)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				failures++
				if !o.reconnect(ctx, d, failures, err) {
					return
				}
				continue
			}
			logger.Info("Change stream reopened", "resumed", token != nil)
		}

		o.tracker.set(d.Partition, StateStreaming, nil)
		for cs.Next(ctx) {
			failures = 0
			if err := workers.dispatch(ctx, cs.Event()); err != nil {
				break
			}
		}

		err := cs.Err()
		token = cs.ResumeToken()
		_ = cs.Close(context.WithoutCancel(ctx))
		cs = nil

		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, store.ErrInvalidated) {
			logger.Warn("Change stream invalidated, restarting without resume token")
		}
		if err == nil {
			err = errStreamEnded
		}
		failures++
		if !o.reconnect(ctx, d, failures, err) {
			return
		}
	}
}

// reconnect records the stream failure, backs off and probes the engine. It
// returns false when ctx ended meanwhile.
func (o *Orchestrator) reconnect(ctx context.Context, d watcher.Descriptor, failures int, cause error) bool {
	StreamRestarts.WithLabelValues(d.Partition).Inc()
	o.tracker.update(d.Partition, func(s *WatcherStatus) { s.Restarts++ })
	o.tracker.set(d.Partition, StateError, cause)

	wait := o.cfg.Reconnect.Backoff(failures)
	o.logger.Error("Change stream error, reconnecting",
		"collection", d.Collection,
		"partition", d.Partition,
		"error", cause,
		"backoff", wait,
	)

	o.tracker.set(d.Partition, StateBackoff, nil)
	timer := time.NewTimer(wait)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C:
	}

	o.tracker.set(d.Partition, StateConnectionProbe, nil)
	if err := o.Probe(ctx); err != nil {
		if ctx.Err() != nil {
			return false
		}
		o.tracker.set(d.Partition, StateError, err)
		o.logger.Error("Search index still unreachable", "partition", d.Partition, "error", err)
	}
	return true
}

// apply writes one change event to the index.
func (o *Orchestrator) apply(ctx context.Context, d watcher.Descriptor, evt store.Event) error {
	var err error
	if evt.Op == store.OpDelete {
		err = o.remove(ctx, d, evt.DocumentID)
	} else {
		_, err = o.index(ctx, d, evt.Document)
	}
	if err == nil {
		now := o.now().UTC()
		o.tracker.update(d.Partition, func(s *WatcherStatus) {
			s.Applied++
			s.LastChange = &now
		})
	}
	return err
}

// index transforms record and upserts it, or removes it when the watcher
// filter rejects it. It returns the operation it performed.
func (o *Orchestrator) index(ctx context.Context, d watcher.Descriptor, record model.Document) (string, error) {
	storeID := storeID(record)

	ok, err := d.Filter.Match(record)
	if err != nil {
		o.fail(d, opUpsert, storeID, err)
		return "", err
	}
	if !ok {
		return opDelete, o.remove(ctx, d, storeID)
	}

	doc, err := d.Transform(ctx, record)
	if err != nil {
		var te *transform.TransformError
		if errors.As(err, &te) {
			TransformFailures.WithLabelValues(d.Partition).Inc()
		}
		o.fail(d, opUpsert, storeID, err)
		return "", err
	}

	id := doc.GetID()
	if id == "" {
		id = storeID
	}
	start := time.Now()
	writeCtx, cancel := context.WithTimeout(ctx, o.cfg.ApplyTimeout)
	defer cancel()
	if err := o.engine.Upsert(writeCtx, d.Partition, id, doc); err != nil {
		o.fail(d, opUpsert, id, err)
		return "", err
	}
	o.succeed(ctx, d, opUpsert, id, start)
	return opUpsert, nil
}

func (o *Orchestrator) remove(ctx context.Context, d watcher.Descriptor, id string) error {
	start := time.Now()
	writeCtx, cancel := context.WithTimeout(ctx, o.cfg.ApplyTimeout)
	defer cancel()
	if err := o.engine.Delete(writeCtx, d.Partition, id); err != nil {
		o.fail(d, opDelete, id, err)
		return err
	}
	o.succeed(ctx, d, opDelete, id, start)
	return nil
}

func (o *Orchestrator) succeed(ctx context.Context, d watcher.Descriptor, op, id string, start time.Time) {
	OperationsTotal.WithLabelValues(d.Partition, op, "success").Inc()
	ApplyLatency.WithLabelValues(d.Partition, op).Observe(time.Since(start).Seconds())
	o.logger.Debug("Applied change", "partition", d.Partition, "op", op, "id", id)

	ev := notify.Event{Partition: d.Partition, Op: op, ID: id, Time: o.now().UTC()}
	if err := o.publisher.Publish(ctx, ev); err != nil {
		o.logger.Warn("Failed to publish sync event", "partition", d.Partition, "op", op, "id", id, "error", err)
	}
}

func (o *Orchestrator) fail(d watcher.Descriptor, op, id string, err error) {
	OperationsTotal.WithLabelValues(d.Partition, op, "error").Inc()
	o.tracker.update(d.Partition, func(s *WatcherStatus) {
		s.Failed++
		s.LastError = err.Error()
	})
	o.logger.Warn("Skipping record",
		"collection", d.Collection,
		"partition", d.Partition,
		"op", op,
		"id", id,
		"error", err,
	)
}

func storeID(record model.Document) string {
	switch v := record["_id"].(type) {
	case string:
		return v
	case nil:
		return record.GetID()
	default:
		return fmt.Sprint(v)
	}
}
