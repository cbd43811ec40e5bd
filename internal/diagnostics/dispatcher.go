package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phaysaal/seenslide-desktop/internal/decision"
	apperrors "github.com/phaysaal/seenslide-desktop/internal/errors"
	"github.com/phaysaal/seenslide-desktop/internal/frame"
	"github.com/phaysaal/seenslide-desktop/internal/resilience"
	"github.com/phaysaal/seenslide-desktop/internal/trace"
)

type item struct {
	tc       trace.Context
	traced   bool
	rec      decision.Record
	original frame.View
	cropped  frame.View
}

// Stats counts dispatcher outcomes since creation.
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Skipped   uint64 `json:"skipped"` // breaker open
	Queued    int    `json:"queued"`

	Breaker resilience.Stats `json:"breaker"`
}

// DispatcherOptions tunes a Dispatcher. Zero values take defaults.
type DispatcherOptions struct {
	QueueSize  int
	BatchSize  int
	FlushDelay time.Duration
	Breaker    resilience.Config
}

// Dispatcher queues decisions and delivers them to a sink on a background
// goroutine, in order. When the queue is full the oldest entry is dropped.
type Dispatcher struct {
	sink       Sink
	breaker    *resilience.Breaker
	queueSize  int
	batchSize  int
	flushDelay time.Duration

	mu      sync.Mutex
	items   []item
	timer   *time.Timer
	stopped bool

	kick   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
	skipped   atomic.Uint64
}

// NewDispatcher starts a dispatcher delivering to sink.
func NewDispatcher(sink Sink, opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchSize > opts.QueueSize {
		opts.BatchSize = opts.QueueSize
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = DefaultFlushDelay
	}
	if opts.Breaker.Name == "" {
		opts.Breaker = resilience.SinkConfig("diagnostics")
	}

	d := &Dispatcher{
		sink:       sink,
		breaker:    resilience.New(opts.Breaker),
		queueSize:  opts.QueueSize,
		batchSize:  opts.BatchSize,
		flushDelay: opts.FlushDelay,
		items:      make([]item, 0, opts.BatchSize),
		kick:       make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Notify queues a decision. Pixels are copied so the caller may reuse the frame.
// It never blocks on the sink.
func (d *Dispatcher) Notify(ctx context.Context, rec decision.Record, original, cropped frame.View) {
	it := item{rec: rec}
	it.tc, it.traced = trace.FromContext(ctx)
	it.original = original.Clone()
	it.cropped = cropped.Clone()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		d.dropped.Add(1)
		return
	}

	if len(d.items) >= d.queueSize {
		d.items = d.items[1:]
		d.dropped.Add(1)
	}
	d.items = append(d.items, it)

	if len(d.items) >= d.batchSize {
		d.flushLocked()
		return
	}

	// Start or reset timer for delayed flush
	if d.timer == nil {
		d.timer = time.AfterFunc(d.flushDelay, d.timerFlush)
	} else {
		d.timer.Reset(d.flushDelay)
	}
}

func (d *Dispatcher) timerFlush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushLocked()
}

func (d *Dispatcher) flushLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if len(d.items) == 0 {
		return
	}
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Flush asks the worker to deliver everything queued so far.
func (d *Dispatcher) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushLocked()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.kick:
			d.drain()
		case <-d.stopCh:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		batch := d.items
		d.items = make([]item, 0, d.batchSize)
		d.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		d.deliver(batch)
	}
}

func (d *Dispatcher) deliver(batch []item) {
	ctx, span := trace.StartSpan(context.Background(), "diagnostics_flush")
	defer span.End()
	span.SetAttr("count", len(batch))
	log := trace.Logger(ctx)

	for _, it := range batch {
		ictx := ctx
		if it.traced {
			ictx = trace.WithContext(ctx, it.tc)
		}
		err := d.breaker.Do(ictx, func(ctx context.Context) error {
			return safeCall(ctx, d.sink, it)
		})
		switch {
		case err == nil:
			d.delivered.Add(1)
		case errors.Is(err, resilience.ErrOpen):
			d.skipped.Add(1)
		default:
			d.failed.Add(1)
			log.Warn("diagnostic sink failed", "capture_id", it.rec.CaptureID, "verdict", it.rec.Verdict.String(), "error", err)
		}
	}
}

func safeCall(ctx context.Context, sink Sink, it item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.New(apperrors.CodeSinkFailed, fmt.Sprintf("sink panic: %v", r))
		}
	}()
	return sink.OnDecision(ctx, it.rec, it.original, it.cropped)
}

// Stats returns delivery counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	queued := len(d.items)
	d.mu.Unlock()
	return Stats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
		Skipped:   d.skipped.Load(),
		Queued:    queued,
		Breaker:   d.breaker.Stats(),
	}
}

// Stop delivers what is queued and waits for the worker to exit.
// Later Notify calls are dropped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()
}

// Inline runs the sink on the caller's goroutine. Errors and panics are logged
// and discarded.
type Inline struct {
	Sink Sink
}

// Notify delivers rec synchronously.
func (i Inline) Notify(ctx context.Context, rec decision.Record, original, cropped frame.View) {
	if i.Sink == nil {
		return
	}
	if err := safeCall(ctx, i.Sink, item{rec: rec, original: original, cropped: cropped}); err != nil {
		trace.Logger(ctx).Warn("diagnostic sink failed", "capture_id", rec.CaptureID, "error", err)
	}
}
