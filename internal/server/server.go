// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jobhive/internal/database"
	"github.com/jobhive/internal/events"
	"github.com/jobhive/internal/queue"
	"github.com/jobhive/internal/server/middleware"
)

// Coordinator is the queue surface the HTTP API needs.
type Coordinator interface {
	queue.Queue
	queue.Recoverer
	Name() string
	Inspect(ctx context.Context) (queue.Snapshot, error)
}

// ResultLister reads recorded processing attempts.
type ResultLister interface {
	Recent(ctx context.Context, limit int) ([]database.Result, error)
	ByItem(ctx context.Context, itemID string) ([]database.Result, error)
}

// Server exposes the work queue over HTTP.
type Server struct {
	queue        Coordinator
	results      ResultLister
	events       *events.Broadcaster
	timeline     Timeline
	defaultImage string
}

// New creates a server. results and broadcaster may be nil.
func New(q Coordinator, results ResultLister, broadcaster *events.Broadcaster, defaultImage string) *Server {
	if defaultImage == "" {
		defaultImage = "hello-world"
	}
	return &Server{
		queue:        q,
		results:      results,
		events:       broadcaster,
		defaultImage: defaultImage,
	}
}

// Handler returns the routed API wrapped in traffic logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", HandleHealth)
	mux.HandleFunc("/api/v1/items", s.HandlePushItem)
	mux.HandleFunc("/api/v1/jobs", s.HandleSubmitJobs)
	mux.HandleFunc("/api/v1/stats", s.HandleStats)
	mux.HandleFunc("/api/v1/gc", s.HandleCheckExpiredLeases)
	mux.HandleFunc("/api/v1/results", s.HandleResults)
	mux.HandleFunc("/api/v1/timeline", s.HandleTimeline)
	mux.HandleFunc("/api/v1/logs", HandleLogStream)
	mux.HandleFunc("/api/v1/events/ws", s.HandleEventsWebSocket)
	return middleware.TrafficLogger(mux)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
