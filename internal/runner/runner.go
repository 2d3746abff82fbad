// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"time"

	"github.com/jobhive/internal/jobs"
)

// Result is the outcome of running one job.
type Result struct {
	ExitCode   int
	Output     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the job ran.
func (r Result) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Executor runs a job to completion.
type Executor interface {
	Run(ctx context.Context, job jobs.Job) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job jobs.Job) (Result, error)

func (f ExecutorFunc) Run(ctx context.Context, job jobs.Job) (Result, error) { return f(ctx, job) }

// DockerExecutor runs each job as `docker run --rm <image> [command...]` and
// collects the container's combined output.
type DockerExecutor struct {
	Binary  string
	Timeout time.Duration
}

// NewDockerExecutor returns an executor using binary (default "docker").
func NewDockerExecutor(binary string, timeout time.Duration) *DockerExecutor {
	if binary == "" {
		binary = "docker"
	}
	return &DockerExecutor{Binary: binary, Timeout: timeout}
}

// Run starts the container and waits for it to exit. A non-zero exit status is
// reported both in the result and as an error.
func (d *DockerExecutor) Run(ctx context.Context, job jobs.Job) (Result, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	args := append([]string{"run", "--rm", job.Image}, job.Command...)
	cmd := exec.CommandContext(ctx, d.Binary, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	log.Printf("DockerExecutor.Run: itemId=%s image=%s", job.ItemID, job.Image)
	res := Result{StartedAt: time.Now()}
	err := cmd.Run()
	res.FinishedAt = time.Now()
	res.Output = out.String()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, fmt.Errorf("container %s exited with status %d", job.Image, res.ExitCode)
		}
		res.ExitCode = -1
		return res, fmt.Errorf("failed to run container %s: %w", job.Image, err)
	}
	return res, nil
}
