// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package spool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jobhive/internal/events"
	"github.com/jobhive/internal/jobs"
	"github.com/jobhive/internal/logger"
	"github.com/jobhive/internal/queue"
)

// Suffixes given to spool files once handled.
const (
	QueuedSuffix   = ".queued"
	RejectedSuffix = ".rejected"
)

// Watcher pushes every *.json job file dropped into a directory onto a queue.
// Handled files are renamed with QueuedSuffix or RejectedSuffix.
type Watcher struct {
	dir       string
	pusher    jobs.Pusher
	events    *events.Broadcaster
	queueName string
	debouncer *Debouncer
	watcher   *fsnotify.Watcher
	wg        sync.WaitGroup
}

// NewWatcher creates a spool watcher on dir, creating the directory if needed.
func NewWatcher(dir string, pusher jobs.Pusher, broadcaster *events.Broadcaster, queueName string) (*Watcher, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve spool path: %w", err)
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}

	w := &Watcher{
		dir:       absDir,
		pusher:    pusher,
		events:    broadcaster,
		queueName: queueName,
	}
	w.debouncer = NewDebouncer(200*time.Millisecond, func(path string) {
		if _, err := w.ProcessFile(context.Background(), path); err != nil {
			logger.Warnf("spool: %s: %v", filepath.Base(path), err)
		}
	})
	return w, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Start begins watching and queues files already present. It returns once the
// watch is established; Stop or ctx cancellation ends it.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.watcher = fsw
	w.debouncer.Resume()
	logger.Printf("spool: watching %s", w.dir)

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logger.Warnf("spool: failed to scan %s: %v", w.dir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && isJobFile(entry.Name()) {
			w.debouncer.Trigger(filepath.Join(w.dir, entry.Name()))
		}
	}

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop closes the watcher and drops pending files until the next Start.
func (w *Watcher) Stop() {
	w.debouncer.Stop()
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isJobFile(event.Name) {
				continue
			}
			w.debouncer.Trigger(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Errorf("spool: watcher error: %v", err)
		}
	}
}

func isJobFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, ".json") && !strings.HasPrefix(base, ".")
}

// ProcessFile validates and pushes one job file. It reports whether the job was
// queued; invalid files are renamed aside and reported with an error.
func (w *Watcher) ProcessFile(ctx context.Context, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		// Already handled by an earlier trigger.
		return false, nil
	}
	if err != nil {
		return false, err
	}

	job, err := jobs.Decode(data)
	if err != nil {
		if renameErr := os.Rename(path, path+RejectedSuffix); renameErr != nil {
			logger.Errorf("spool: failed to set aside %s: %v", path, renameErr)
		}
		return false, err
	}

	data, err = jobs.Encode(job)
	if err != nil {
		return false, err
	}
	if err := w.pusher.Push(ctx, data); err != nil {
		// Leave the file in place so the next trigger retries it.
		return false, err
	}
	if err := os.Rename(path, path+QueuedSuffix); err != nil {
		logger.Errorf("spool: queued %s but failed to rename it: %v", path, err)
	}
	if job.ItemID == "" {
		if decoded, err := jobs.Decode(data); err == nil {
			job.ItemID = decoded.ItemID
		}
	}

	w.events.Publish(events.Event{
		Type:    events.TypePushed,
		Queue:   w.queueName,
		ItemID:  job.ItemID,
		ItemKey: queue.ItemKey(data),
		Message: "spooled from " + filepath.Base(path),
	})
	logger.Printf("spool: queued %s itemId=%s", filepath.Base(path), job.ItemID)
	return true, nil
}
