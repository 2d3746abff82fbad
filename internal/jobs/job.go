// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidJob is returned when a payload is not a runnable job.
var ErrInvalidJob = errors.New("invalid job")

// Job is the work descriptor producers serialize onto the queue.
type Job struct {
	// RequestID identifies the user or service that submitted the job.
	RequestID string `json:"requestId"`
	// ItemID is unique per job. Without it two identical submissions would
	// hash to the same lease slot.
	ItemID    string    `json:"itemId"`
	Image     string    `json:"image"`
	Command   []string  `json:"command,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Pusher is the producer side of a queue.
type Pusher interface {
	Push(ctx context.Context, item []byte) error
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewJob creates a job for image with fresh request and item identifiers.
func NewJob(image string, command ...string) Job {
	return Job{
		RequestID: newID(),
		ItemID:    newID(),
		Image:     image,
		Command:   command,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks that the job can be executed.
func (j Job) Validate() error {
	if strings.TrimSpace(j.Image) == "" {
		return fmt.Errorf("%w: image is required", ErrInvalidJob)
	}
	return nil
}

// Encode serializes the job. Jobs without an item id get one so the payload
// carries enough entropy to be leased independently of look-alikes.
func Encode(job Job) ([]byte, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if job.ItemID == "" {
		job.ItemID = newID()
	}
	return json.Marshal(job)
}

// Decode parses a leased payload.
func Decode(item []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(item, &job); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Enqueue serializes job and pushes it, returning the exact bytes pushed.
func Enqueue(ctx context.Context, q Pusher, job Job) ([]byte, error) {
	data, err := Encode(job)
	if err != nil {
		log.Printf("Enqueue: failed to encode job: %v", err)
		return nil, err
	}
	if err := q.Push(ctx, data); err != nil {
		log.Printf("Enqueue: failed to push itemId=%s: %v", job.ItemID, err)
		return nil, err
	}
	log.Printf("Enqueue: pushed itemId=%s image=%s", job.ItemID, job.Image)
	return data, nil
}

// EnqueueN pushes n new jobs for image and returns them in push order.
func EnqueueN(ctx context.Context, q Pusher, image string, n int) ([]Job, error) {
	pushed := make([]Job, 0, n)
	for i := 0; i < n; i++ {
		job := NewJob(image)
		if _, err := Enqueue(ctx, q, job); err != nil {
			return pushed, err
		}
		pushed = append(pushed, job)
	}
	return pushed, nil
}
