// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/jobhive/internal/database"
	"github.com/jobhive/internal/events"
	"github.com/jobhive/internal/jobs"
	"github.com/jobhive/internal/queue"
)

type fakeResults struct {
	rows []database.Result
}

func (f *fakeResults) Recent(ctx context.Context, limit int) ([]database.Result, error) {
	if limit < len(f.rows) {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

func (f *fakeResults) ByItem(ctx context.Context, itemID string) ([]database.Result, error) {
	var out []database.Result
	for _, r := range f.rows {
		if r.ItemID == itemID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeTimeline struct {
	events []events.Event
}

func (f *fakeTimeline) Recent(ctx context.Context, limit int) ([]events.Event, error) {
	if limit < len(f.events) {
		return f.events[:limit], nil
	}
	return f.events, nil
}

func (f *fakeTimeline) ByItemKey(ctx context.Context, itemKey string) ([]events.Event, error) {
	var out []events.Event
	for _, ev := range f.events {
		if ev.ItemKey == itemKey {
			out = append(out, ev)
		}
	}
	return out, nil
}

type testEnv struct {
	server *Server
	queue  *queue.WorkQueue
	redis  *miniredis.Miniredis
	events *events.Broadcaster
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { client.Close() })

	q := queue.New(client, "test:http")
	b := events.NewBroadcaster()
	results := &fakeResults{rows: []database.Result{
		{ID: 2, ItemID: "b", Status: database.StatusFailed},
		{ID: 1, ItemID: "a", Status: database.StatusSucceeded},
	}}
	return &testEnv{
		server: New(q, results, b, "hello-world"),
		queue:  q,
		redis:  m,
		events: b,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "up" {
		t.Errorf("status field = %q", body["status"])
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/health", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
}

func TestHandlePushItem(t *testing.T) {
	env := newTestEnv(t)
	sub := env.events.Subscribe(4)

	rec := env.do(t, http.MethodPost, "/api/v1/items", `{"image":"hello-world"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["item_key"] != queue.ItemKey([]byte(`{"image":"hello-world"}`)) {
		t.Errorf("item_key = %s", body["item_key"])
	}

	item, err := env.queue.Lease(context.Background(), time.Minute, false, 0)
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if string(item) != `{"image":"hello-world"}` {
		t.Errorf("queued item = %q, body was not pushed verbatim", item)
	}

	if ev := <-sub; ev.Type != events.TypePushed || ev.Queue != "test:http" {
		t.Errorf("event = %+v, want pushed", ev)
	}
}

func TestHandleSubmitJobs(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/jobs", `{"image":"alpine","command":["echo","hi"],"count":3}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		ItemIDs []string `json:"item_ids"`
	}
	decode(t, rec, &body)
	if len(body.ItemIDs) != 3 {
		t.Errorf("returned %d item ids, want 3", len(body.ItemIDs))
	}
	if size, _ := env.queue.Size(context.Background()); size != 3 {
		t.Errorf("size = %d, want 3", size)
	}

	item, err := env.queue.Lease(context.Background(), time.Minute, false, 0)
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	job, err := jobs.Decode(item)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if job.Image != "alpine" || job.ItemID != body.ItemIDs[0] {
		t.Errorf("first job = %+v, want alpine %s", job, body.ItemIDs[0])
	}
}

func TestHandleSubmitJobs_Defaults(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/jobs", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	item, err := env.queue.Lease(context.Background(), time.Minute, false, 0)
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	job, err := jobs.Decode(item)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if job.Image != "hello-world" {
		t.Errorf("image = %s, want the default", job.Image)
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/jobs", `{"count":5000}`); rec.Code != http.StatusBadRequest {
		t.Errorf("oversized count status = %d, want 400", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/jobs", `{`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestHandleStatsAndRecovery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, item := range []string{"a", "b", "c"} {
		if err := env.queue.Push(ctx, []byte(item)); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}
	if _, err := env.queue.Lease(ctx, time.Second, false, 0); err != nil {
		t.Fatalf("Lease failed: %v", err)
	}

	var stats StatsResponse
	decode(t, env.do(t, http.MethodGet, "/api/v1/stats", ""), &stats)
	if stats.Pending != 2 || stats.Processing != 1 || stats.Leased != 1 || stats.Unleased != 0 || stats.Empty {
		t.Errorf("stats = %+v", stats)
	}

	env.redis.FastForward(2 * time.Second)

	decode(t, env.do(t, http.MethodGet, "/api/v1/stats", ""), &stats)
	if stats.Leased != 0 || stats.Unleased != 1 {
		t.Errorf("after expiry stats = %+v, want one unleased item", stats)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/gc", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("gc status = %d", rec.Code)
	}
	var gc map[string]int
	decode(t, rec, &gc)
	if gc["recovered"] != 1 {
		t.Errorf("recovered = %d, want 1", gc["recovered"])
	}

	decode(t, env.do(t, http.MethodGet, "/api/v1/stats", ""), &stats)
	if stats.Pending != 3 || stats.Processing != 0 {
		t.Errorf("after recovery stats = %+v", stats)
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/gc", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET gc status = %d, want 405", rec.Code)
	}
}

func TestJobEventsCarryItemKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := env.events.Subscribe(8)

	if rec := env.do(t, http.MethodPost, "/api/v1/jobs", `{"image":"alpine"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	pushed := <-sub

	item, err := env.queue.Lease(ctx, time.Second, false, 0)
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	key := queue.ItemKey(item)
	if pushed.Type != events.TypePushed || pushed.ItemKey != key || pushed.ItemID == "" {
		t.Errorf("pushed event = %+v, want item key %s", pushed, key)
	}

	env.redis.FastForward(2 * time.Second)
	if rec := env.do(t, http.MethodPost, "/api/v1/gc", ""); rec.Code != http.StatusOK {
		t.Fatalf("gc status = %d", rec.Code)
	}
	if ev := <-sub; ev.Type != events.TypeRecovered || ev.ItemKey != key || ev.Count != 1 {
		t.Errorf("recovered event = %+v, want item key %s", ev, key)
	}
}

func TestHandleStats_StoreDown(t *testing.T) {
	env := newTestEnv(t)
	env.redis.Close()

	if rec := env.do(t, http.MethodGet, "/api/v1/stats", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/items", "x"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("push status = %d, want 503", rec.Code)
	}
}

func TestHandleResults(t *testing.T) {
	env := newTestEnv(t)

	var body struct {
		Results []database.Result `json:"results"`
		Count   int               `json:"count"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/results?limit=1", ""), &body)
	if body.Count != 1 || body.Results[0].ItemID != "b" {
		t.Errorf("limited results = %+v", body)
	}

	decode(t, env.do(t, http.MethodGet, "/api/v1/results?item_id=a", ""), &body)
	if body.Count != 1 || body.Results[0].Status != database.StatusSucceeded {
		t.Errorf("item results = %+v", body)
	}

	decode(t, env.do(t, http.MethodGet, "/api/v1/results?item_id=zzz", ""), &body)
	if body.Count != 0 || body.Results == nil {
		t.Errorf("missing item should return an empty list, got %+v", body)
	}
}

func TestHandleResults_Unavailable(t *testing.T) {
	env := newTestEnv(t)
	env.server.results = nil

	if rec := env.do(t, http.MethodGet, "/api/v1/results", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandleEventsWebSocket(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.events.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if env.events.Subscribers() == 0 {
		t.Fatal("websocket handler never subscribed")
	}

	resp, err := http.Post(ts.URL+"/api/v1/items", "application/octet-stream", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if ev.Type != events.TypePushed || ev.ItemKey != queue.ItemKey([]byte("payload")) {
		t.Errorf("event = %+v", ev)
	}
}

func TestHandleTimeline(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, http.MethodGet, "/api/v1/timeline", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("without event log status = %d, want 503", rec.Code)
	}

	env.server.SetTimeline(&fakeTimeline{events: []events.Event{
		{Type: events.TypeCompleted, ItemKey: "k1"},
		{Type: events.TypeLeased, ItemKey: "k1"},
		{Type: events.TypeRecovered, Count: 1},
	}})

	var body struct {
		Events []events.Event `json:"events"`
		Count  int            `json:"count"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/timeline?limit=2", ""), &body)
	if body.Count != 2 || body.Events[0].Type != events.TypeCompleted {
		t.Errorf("limited timeline = %+v", body)
	}

	decode(t, env.do(t, http.MethodGet, "/api/v1/timeline?item_key=k1", ""), &body)
	if body.Count != 2 {
		t.Errorf("item timeline = %+v", body)
	}

	decode(t, env.do(t, http.MethodGet, "/api/v1/timeline?item_key=none", ""), &body)
	if body.Count != 0 || body.Events == nil {
		t.Errorf("unknown item should return an empty list, got %+v", body)
	}
}
