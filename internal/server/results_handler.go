// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/jobhive/internal/database"
	"github.com/jobhive/internal/logger"
)

// HandleResults handles GET /api/v1/results?item_id=...&limit=...
func (s *Server) HandleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.results == nil {
		writeError(w, http.StatusServiceUnavailable, "result store not available")
		return
	}

	var (
		results []database.Result
		err     error
	)
	if itemID := r.URL.Query().Get("item_id"); itemID != "" {
		results, err = s.results.ByItem(r.Context(), itemID)
	} else {
		limit := 100
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			if n, convErr := strconv.Atoi(limitStr); convErr == nil && n > 0 {
				limit = n
			}
		}
		results, err = s.results.Recent(r.Context(), limit)
	}
	if err != nil {
		logger.Errorf("HandleResults: query failed: %v", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load results: %v", err))
		return
	}
	if results == nil {
		results = []database.Result{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}
