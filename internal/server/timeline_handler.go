// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/jobhive/internal/events"
	"github.com/jobhive/internal/logger"
)

// Timeline reads persisted queue events.
type Timeline interface {
	Recent(ctx context.Context, limit int) ([]events.Event, error)
	ByItemKey(ctx context.Context, itemKey string) ([]events.Event, error)
}

// SetTimeline enables GET /api/v1/timeline.
func (s *Server) SetTimeline(t Timeline) {
	s.timeline = t
}

// HandleTimeline handles GET /api/v1/timeline?item_key=...&limit=...
func (s *Server) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.timeline == nil {
		writeError(w, http.StatusServiceUnavailable, "event log not available")
		return
	}

	var (
		list []events.Event
		err  error
	)
	if itemKey := r.URL.Query().Get("item_key"); itemKey != "" {
		list, err = s.timeline.ByItemKey(r.Context(), itemKey)
	} else {
		limit := 100
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			if n, convErr := strconv.Atoi(limitStr); convErr == nil && n > 0 {
				limit = n
			}
		}
		list, err = s.timeline.Recent(r.Context(), limit)
	}
	if err != nil {
		logger.Errorf("HandleTimeline: query failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Never return null
	if list == nil {
		list = make([]events.Event, 0)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": list,
		"count":  len(list),
	})
}
