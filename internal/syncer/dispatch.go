package syncer

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/o2r-project/o2r-finder/internal/store"
)

// dispatcher fans change events out to a fixed set of appliers. Events for
// the same document id always go to the same applier, so they are applied
// in receipt order.
type dispatcher struct {
	queues []chan store.Event
	wg     sync.WaitGroup
}

func newDispatcher(workers, queueSize int, apply func(store.Event)) *dispatcher {
	d := &dispatcher{queues: make([]chan store.Event, workers)}
	for i := range d.queues {
		q := make(chan store.Event, queueSize)
		d.queues[i] = q
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for evt := range q {
				apply(evt)
			}
		}()
	}
	return d
}

func shard(id string, n int) int {
	return int(xxhash.Sum64String(id) % uint64(n))
}

// dispatch blocks while the applier's queue is full.
func (d *dispatcher) dispatch(ctx context.Context, evt store.Event) error {
	q := d.queues[shard(evt.DocumentID, len(d.queues))]
	select {
	case q <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting events and waits until every queued event is applied.
func (d *dispatcher) close() {
	for _, q := range d.queues {
		close(q)
	}
	d.wg.Wait()
}
