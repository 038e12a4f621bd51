package events

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
)

// Sink is one destination of the dispatcher (pub/sub, stream, history table).
type Sink interface {
	Name() string
	Write(ctx context.Context, ev Event) error
}

// DefaultSinkTimeout bounds a single sink write.
const DefaultSinkTimeout = 5 * time.Second

// DefaultQueueSize is how many events a sink may fall behind before new ones are dropped.
const DefaultQueueSize = 1024

// Dispatcher fans every published event out to its sinks. Each sink has a
// single worker, so it sees events in publish order, and a bounded queue.
// Publish never blocks: when a sink's queue is full the event is dropped for
// that sink and logged. A failing sink never affects the others or the publisher.
type Dispatcher struct {
	lanes   []lane
	timeout time.Duration
	dropped atomic.Uint64
	logger  *zap.Logger
}

type lane struct {
	sink Sink
	pool pond.Pool
}

// NewDispatcher starts one worker per sink. queueSize <= 0 uses DefaultQueueSize.
func NewDispatcher(logger *zap.Logger, queueSize int, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		timeout: DefaultSinkTimeout,
		logger:  logger.Named("events"),
	}
	for _, sink := range sinks {
		d.lanes = append(d.lanes, lane{
			sink: sink,
			pool: pond.NewPool(1, pond.WithQueueSize(queueSize), pond.WithNonBlocking(true)),
		})
	}
	return d
}

// Publish queues ev for every sink. The caller's cancellation does not abort queued writes.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	base := context.WithoutCancel(ctx)
	for _, l := range d.lanes {
		sink := l.sink
		_, ok := l.pool.TrySubmit(func() { d.deliver(base, sink, ev) })
		if !ok {
			d.dropped.Add(1)
			d.logger.Warn("Pool event dropped, sink is behind",
				zap.String("sink", sink.Name()),
				zap.String("event", ev.Type),
				zap.String("poolId", ev.PoolID))
		}
	}
}

func (d *Dispatcher) deliver(base context.Context, sink Sink, ev Event) {
	ctx, cancel := context.WithTimeout(base, d.timeout)
	defer cancel()
	if err := sink.Write(ctx, ev); err != nil {
		d.logger.Warn("Failed to deliver pool event (non-fatal)",
			zap.String("sink", sink.Name()),
			zap.String("event", ev.Type),
			zap.String("poolId", ev.PoolID),
			zap.Error(err))
		return
	}
	d.logger.Debug("Delivered pool event",
		zap.String("sink", sink.Name()),
		zap.String("event", ev.Type))
}

// Dropped returns how many sink deliveries were skipped because a queue was full.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Close waits for queued writes to finish and stops the workers.
func (d *Dispatcher) Close() {
	for _, l := range d.lanes {
		l.pool.StopAndWait()
	}
}
