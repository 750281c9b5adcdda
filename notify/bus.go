package notify

import (
	"context"
	"sync"

	"github.com/bitfsorg/libjukebox-go/metrics"
)

const (
	defaultBuffer  = 256
	defaultWorkers = 1
)

// Bus fans notices out to sinks from background workers. Publish never
// blocks: when the buffer is full the notice is dropped.
type Bus struct {
	ch      chan Event
	sinks   []Sink
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Compile-time interface check.
var _ Sink = (*Bus)(nil)

// NewBus starts a bus delivering to sinks. Non-positive buffer or workers
// use defaults.
func NewBus(buffer, workers int, m *metrics.Metrics, sinks ...Sink) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	b := &Bus{
		ch:      make(chan Event, buffer),
		sinks:   sinks,
		metrics: m,
	}
	b.wg.Add(workers)
	for range workers {
		go b.run()
	}
	return b
}

func (b *Bus) run() {
	defer b.wg.Done()
	for e := range b.ch {
		for _, s := range b.sinks {
			s.Publish(context.Background(), e)
		}
		b.metrics.EventPublished(string(e.Kind))
	}
}

func (b *Bus) Publish(_ context.Context, e Event) {
	e = stamp(e)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.drop(e, "bus closed")
		return
	}
	select {
	case b.ch <- e:
	default:
		b.drop(e, "buffer full")
	}
}

func (b *Bus) drop(e Event, reason string) {
	b.metrics.EventDropped(string(e.Kind))
	log.Debugw("event dropped", "id", e.ID, "kind", e.Kind, "reason", reason)
}

// Close stops accepting notices and waits for queued ones to be delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
