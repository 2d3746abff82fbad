package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jobhive/internal/events"
	"github.com/jobhive/internal/logger"
	"github.com/jobhive/internal/queue"
)

// HandlerFunc processes one leased item. Its error is logged and the item is
// completed regardless; retries happen only through lease expiry.
type HandlerFunc func(ctx context.Context, item []byte) error

// Options controls the lease loop.
type Options struct {
	// LeaseTTL is how long each lease lasts before others may recover the item.
	LeaseTTL time.Duration
	// LeaseTimeout bounds each blocking lease call and must be positive: an
	// idle worker only recovers expired leases after a wait times out.
	LeaseTimeout time.Duration
	// PollInterval is the pause between iterations.
	PollInterval time.Duration
	// Events receives leased/completed/recovered notifications; may be nil.
	Events *events.Broadcaster
	// QueueName labels published events.
	QueueName string
}

// DefaultOptions mirrors the reference worker: 120s leases, 2s lease waits, 1s pauses.
func DefaultOptions() Options {
	return Options{
		LeaseTTL:     120 * time.Second,
		LeaseTimeout: 2 * time.Second,
		PollInterval: time.Second,
	}
}

// StartWorkers starts a pool of workers that lease items from q and blocks
// until ctx is cancelled and every worker has stopped.
func StartWorkers(ctx context.Context, q queue.Queue, handler HandlerFunc, opts Options, workerCount int) error {
	if workerCount <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", workerCount)
	}
	if opts.LeaseTTL <= 0 {
		return queue.ErrInvalidLeaseDuration
	}
	if opts.LeaseTimeout <= 0 {
		return fmt.Errorf("lease timeout must be positive, got %s", opts.LeaseTimeout)
	}
	logger.Printf("StartWorkers: workerCount=%d leaseTTL=%s", workerCount, opts.LeaseTTL)

	var wg sync.WaitGroup
	wg.Add(workerCount)

	for i := 0; i < workerCount; i++ {
		w := &Worker{id: i + 1, q: q, handler: handler, opts: opts}
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	wg.Wait()
	logger.Printf("StartWorkers: all workers stopped")
	return nil
}

// Worker runs the lease, process, complete cycle against one queue.
type Worker struct {
	id      int
	q       queue.Queue
	handler HandlerFunc
	opts    Options
}

// New creates a single worker.
func New(id int, q queue.Queue, handler HandlerFunc, opts Options) *Worker {
	return &Worker{id: id, q: q, handler: handler, opts: opts}
}

// Run loops until ctx is cancelled. When no item arrives within the lease
// timeout the worker runs a recovery pass over expired leases.
func (w *Worker) Run(ctx context.Context) {
	logger.Printf("workerLoop: workerID=%d started", w.id)

	for {
		select {
		case <-ctx.Done():
			logger.Printf("workerLoop: workerID=%d context cancelled, stopping", w.id)
			return
		default:
		}

		if _, err := w.Step(ctx); err != nil {
			if ctx.Err() != nil {
				logger.Printf("workerLoop: workerID=%d context cancelled during lease", w.id)
				return
			}
			logger.Errorf("workerLoop: workerID=%d error: %v", w.id, err)
		}

		if !sleep(ctx, w.opts.PollInterval) {
			logger.Printf("workerLoop: workerID=%d context cancelled, stopping", w.id)
			return
		}
	}
}

// recoverExpired runs one recovery pass. Queues that report the moved items get one
// recovered event per item; the rest get a single event carrying the count.
func (w *Worker) recoverExpired(ctx context.Context) error {
	if r, ok := w.q.(queue.Recoverer); ok {
		items, err := r.RecoverExpiredLeases(ctx)
		if len(items) > 0 {
			logger.Printf("workerLoop: workerID=%d recovered %d expired item(s)", w.id, len(items))
			w.opts.Events.PublishRecovered(w.opts.QueueName, items)
		}
		return err
	}

	recovered, err := w.q.CheckExpiredLeases(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		logger.Printf("workerLoop: workerID=%d recovered %d expired item(s)", w.id, recovered)
		w.opts.Events.Publish(events.Event{Type: events.TypeRecovered, Queue: w.opts.QueueName, Count: recovered})
	}
	return nil
}

// Step performs one iteration: lease and process an item, or recover expired
// leases when none is available. It reports whether an item was processed.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	item, err := w.q.Lease(ctx, w.opts.LeaseTTL, true, w.opts.LeaseTimeout)
	if err != nil {
		return false, fmt.Errorf("lease: %w", err)
	}

	if item == nil {
		if err := w.recoverExpired(ctx); err != nil {
			return false, fmt.Errorf("check expired leases: %w", err)
		}
		logger.Debugf("workerLoop: workerID=%d waiting for work", w.id)
		return false, nil
	}

	key := queue.ItemKey(item)
	w.opts.Events.Publish(events.Event{Type: events.TypeLeased, Queue: w.opts.QueueName, ItemKey: key})

	handlerErr := w.process(ctx, item)

	// Complete even if ctx was cancelled mid-job so the item is not left to expire.
	if err := w.q.Complete(context.WithoutCancel(ctx), item); err != nil {
		return true, fmt.Errorf("complete %s: %w", key, err)
	}

	if handlerErr != nil {
		logger.Warnf("workerLoop: workerID=%d item=%s failed: %v", w.id, key, handlerErr)
		w.opts.Events.Publish(events.Event{Type: events.TypeFailed, Queue: w.opts.QueueName, ItemKey: key, Error: handlerErr.Error()})
		return true, nil
	}
	logger.Printf("workerLoop: workerID=%d item=%s completed", w.id, key)
	w.opts.Events.Publish(events.Event{Type: events.TypeCompleted, Queue: w.opts.QueueName, ItemKey: key})
	return true, nil
}

// process runs the handler, turning a panic into an error.
func (w *Worker) process(ctx context.Context, item []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, item)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
