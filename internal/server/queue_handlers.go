// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jobhive/internal/events"
	"github.com/jobhive/internal/jobs"
	"github.com/jobhive/internal/logger"
	"github.com/jobhive/internal/queue"
)

const maxItemSize = 1 << 20

// SubmitJobsRequest asks the server to produce Count jobs for Image.
type SubmitJobsRequest struct {
	Image   string   `json:"image"`
	Command []string `json:"command,omitempty"`
	Count   int      `json:"count"`
}

// StatsResponse reports queue occupancy.
type StatsResponse struct {
	Queue      string `json:"queue"`
	Pending    int64  `json:"pending"`
	Processing int64  `json:"processing"`
	Leased     int    `json:"leased"`
	Unleased   int    `json:"unleased"`
	Empty      bool   `json:"empty"`
	TakenAt    string `json:"taken_at"`
}

// HandlePushItem handles POST /api/v1/items. The body is pushed verbatim.
func (s *Server) HandlePushItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	item, err := io.ReadAll(io.LimitReader(r.Body, maxItemSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read body: %v", err))
		return
	}
	if len(item) > maxItemSize {
		writeError(w, http.StatusRequestEntityTooLarge, "item too large")
		return
	}

	if err := s.queue.Push(r.Context(), item); err != nil {
		logger.Errorf("HandlePushItem: push failed: %v", err)
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("failed to push item: %v", err))
		return
	}

	key := queue.ItemKey(item)
	s.events.Publish(events.Event{Type: events.TypePushed, Queue: s.queue.Name(), ItemKey: key})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "item_key": key})
}

// HandleSubmitJobs handles POST /api/v1/jobs, producing container jobs.
func (s *Server) HandleSubmitJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req SubmitJobsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxItemSize)).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.Image == "" {
		req.Image = s.defaultImage
	}
	if req.Count <= 0 {
		req.Count = 1
	}
	if req.Count > 1000 {
		writeError(w, http.StatusBadRequest, "count must be at most 1000")
		return
	}

	itemIDs := make([]string, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		job := jobs.NewJob(req.Image, req.Command...)
		item, err := jobs.Enqueue(r.Context(), s.queue, job)
		if err != nil {
			logger.Errorf("HandleSubmitJobs: enqueue failed after %d jobs: %v", i, err)
			writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("failed to enqueue job: %v", err))
			return
		}
		s.events.Publish(events.Event{
			Type:    events.TypePushed,
			Queue:   s.queue.Name(),
			ItemKey: queue.ItemKey(item),
			ItemID:  job.ItemID,
		})
		itemIDs = append(itemIDs, job.ItemID)
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":   "queued",
		"item_ids": itemIDs,
	})
}

// HandleStats handles GET /api/v1/stats
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap, err := s.queue.Inspect(r.Context())
	if err != nil {
		logger.Errorf("HandleStats: inspect failed: %v", err)
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("failed to read queue: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Queue:      snap.Name,
		Pending:    snap.Pending,
		Processing: snap.Processing,
		Leased:     snap.LeasedCount(),
		Unleased:   snap.UnleasedCount(),
		Empty:      snap.Empty(),
		TakenAt:    snap.TakenAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

// HandleCheckExpiredLeases handles POST /api/v1/gc by running one recovery pass.
func (s *Server) HandleCheckExpiredLeases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	recovered, err := s.queue.RecoverExpiredLeases(r.Context())
	s.events.PublishRecovered(s.queue.Name(), recovered)
	if err != nil {
		logger.Errorf("HandleCheckExpiredLeases: %v", err)
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("recovery failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"recovered": len(recovered)})
}
