// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package worker

import (
	"context"
	"time"

	"github.com/jobhive/internal/database"
	"github.com/jobhive/internal/jobs"
	"github.com/jobhive/internal/logger"
	"github.com/jobhive/internal/queue"
	"github.com/jobhive/internal/runner"
)

// ResultRecorder stores the outcome of each processed item.
type ResultRecorder interface {
	Record(ctx context.Context, r database.Result) (int64, error)
}

// JobHandler decodes each item as a jobs.Job, runs it with exec and records the
// outcome in results (which may be nil). session tags recorded rows.
func JobHandler(exec runner.Executor, results ResultRecorder, queueName, session string) HandlerFunc {
	return func(ctx context.Context, item []byte) error {
		rec := database.Result{
			Queue:     queueName,
			ItemKey:   queue.ItemKey(item),
			Session:   session,
			StartedAt: time.Now(),
		}

		job, err := jobs.Decode(item)
		if err != nil {
			rec.Status = database.StatusInvalid
			rec.Error = err.Error()
			rec.FinishedAt = time.Now()
			record(ctx, results, rec)
			return err
		}
		rec.ItemID = job.ItemID
		rec.RequestID = job.RequestID
		rec.Image = job.Image

		logger.Printf("JobHandler: processing request from %s itemId=%s image=%s", job.RequestID, job.ItemID, job.Image)
		res, runErr := exec.Run(ctx, job)

		rec.ExitCode = res.ExitCode
		rec.Output = res.Output
		if !res.StartedAt.IsZero() {
			rec.StartedAt = res.StartedAt
		}
		rec.FinishedAt = res.FinishedAt
		if rec.FinishedAt.IsZero() {
			rec.FinishedAt = time.Now()
		}
		rec.Status = database.StatusSucceeded
		if runErr != nil {
			rec.Status = database.StatusFailed
			rec.Error = runErr.Error()
		}
		logger.Debugf("JobHandler: itemId=%s output: %s", job.ItemID, res.Output)

		record(ctx, results, rec)
		return runErr
	}
}

func record(ctx context.Context, results ResultRecorder, rec database.Result) {
	if results == nil {
		return
	}
	if _, err := results.Record(context.WithoutCancel(ctx), rec); err != nil {
		logger.Errorf("JobHandler: failed to record result for %s: %v", rec.ItemKey, err)
	}
}
