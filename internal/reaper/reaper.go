// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package reaper

import (
	"context"
	"sync"
	"time"

	"github.com/jobhive/internal/events"
	"github.com/jobhive/internal/logger"
	"github.com/jobhive/internal/queue"
)

// Statuses reported by Reaper.Status.
const (
	StatusUnknown = "unknown"
	StatusUp      = "up"
	StatusDown    = "down"
)

// failuresBeforeDown is how many consecutive failed sweeps mark the store down.
const failuresBeforeDown = 3

// Reaper sweeps expired leases on a fixed interval so abandoned items come back
// even when every worker is busy.
type Reaper struct {
	q         queue.Recoverer
	interval  time.Duration
	events    *events.Broadcaster
	queueName string

	mu           sync.RWMutex
	status       string
	failureCount int
	recovered    int

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a reaper. broadcaster may be nil.
func New(q queue.Recoverer, interval time.Duration, broadcaster *events.Broadcaster, queueName string) *Reaper {
	return &Reaper{
		q:         q,
		interval:  interval,
		events:    broadcaster,
		queueName: queueName,
		status:    StatusUnknown,
		stopChan:  make(chan struct{}),
	}
}

// Start runs sweeps until Stop or ctx cancellation. A non-positive interval
// disables the loop; RunOnce still works.
func (r *Reaper) Start(ctx context.Context) {
	if r.interval <= 0 {
		logger.Warnf("Reaper for %s not started: interval %s is not positive", r.queueName, r.interval)
		return
	}
	r.wg.Add(1)
	go r.loop(ctx)
	logger.Printf("Reaper started for %s every %s", r.queueName, r.interval)
}

// Stop ends the loop and waits for the sweep in flight.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()
}

// Status returns the store status as seen by the last sweeps.
func (r *Reaper) Status() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Recovered returns the total number of items moved back since creation.
func (r *Reaper) Recovered() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recovered
}

func (r *Reaper) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep and returns how many items it moved back.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	items, err := r.q.RecoverExpiredLeases(ctx)
	r.record(items)
	if err != nil {
		r.handleFailure(err)
		return len(items), err
	}
	r.handleSuccess()
	return len(items), nil
}

func (r *Reaper) record(items [][]byte) {
	if len(items) == 0 {
		return
	}
	r.mu.Lock()
	r.recovered += len(items)
	r.mu.Unlock()

	logger.Printf("Reaper: recovered %d expired leases on %s", len(items), r.queueName)
	r.events.PublishRecovered(r.queueName, items)
}

func (r *Reaper) handleSuccess() {
	r.mu.Lock()
	wasDown := r.status == StatusDown
	r.status = StatusUp
	r.failureCount = 0
	r.mu.Unlock()

	if wasDown {
		logger.Printf("Reaper: store for %s is reachable again", r.queueName)
	}
}

func (r *Reaper) handleFailure(err error) {
	r.mu.Lock()
	r.failureCount++
	failureCount := r.failureCount
	becameDown := failureCount == failuresBeforeDown
	if failureCount >= failuresBeforeDown {
		r.status = StatusDown
	}
	r.mu.Unlock()

	logger.Warnf("Reaper: sweep failed (attempt %d): %v", failureCount, err)
	if becameDown {
		logger.Errorf("Reaper: store for %s unreachable (%d consecutive failures)", r.queueName, failuresBeforeDown)
	}
}
