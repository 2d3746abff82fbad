// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package jobs

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

type memPusher struct {
	items [][]byte
	err   error
}

func (m *memPusher) Push(ctx context.Context, item []byte) error {
	if m.err != nil {
		return m.err
	}
	m.items = append(m.items, item)
	return nil
}

func TestNewJob(t *testing.T) {
	a := NewJob("hello-world")
	b := NewJob("hello-world")
	if a.ItemID == "" || a.RequestID == "" {
		t.Fatalf("NewJob left identifiers empty: %+v", a)
	}
	if len(a.ItemID) != 32 {
		t.Errorf("ItemID %q should be 32 hex characters", a.ItemID)
	}
	if a.ItemID == b.ItemID {
		t.Error("two jobs share an item id")
	}
}

func TestEncodeDecode(t *testing.T) {
	job := NewJob("alpine", "echo", "hi")
	data, err := Encode(job)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.ItemID != job.ItemID || got.Image != "alpine" || len(got.Command) != 2 {
		t.Errorf("decoded %+v, want %+v", got, job)
	}
}

func TestDecode_ProducerPayload(t *testing.T) {
	payload := []byte(`{"requestId": "r1", "itemId": "i1", "image": "hello-world"}`)
	job, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if job.RequestID != "r1" || job.ItemID != "i1" || job.Image != "hello-world" {
		t.Errorf("unexpected job %+v", job)
	}
}

func TestDecode_Invalid(t *testing.T) {
	for _, payload := range []string{`not json`, `{"itemId":"x"}`, `{"image":"  "}`} {
		if _, err := Decode([]byte(payload)); !errors.Is(err, ErrInvalidJob) {
			t.Errorf("Decode(%s) error = %v, want ErrInvalidJob", payload, err)
		}
	}
}

func TestEncode_FillsItemID(t *testing.T) {
	data, err := Encode(Job{Image: "busybox"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	job, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if job.ItemID == "" {
		t.Error("Encode did not assign an item id")
	}
}

func TestEnqueueN(t *testing.T) {
	q := &memPusher{}
	pushed, err := EnqueueN(context.Background(), q, "hello-world", 3)
	if err != nil {
		t.Fatalf("EnqueueN failed: %v", err)
	}
	if len(pushed) != 3 || len(q.items) != 3 {
		t.Fatalf("pushed %d jobs, queue holds %d", len(pushed), len(q.items))
	}
	seen := map[string]bool{}
	for _, item := range q.items {
		seen[string(item)] = true
	}
	if len(seen) != 3 {
		t.Error("EnqueueN produced byte-identical payloads")
	}
}

func TestEnqueue_PushError(t *testing.T) {
	boom := errors.New("store down")
	q := &memPusher{err: boom}
	if _, err := Enqueue(context.Background(), q, NewJob("x")); !errors.Is(err, boom) {
		t.Errorf("Enqueue error = %v, want %v", err, boom)
	}
}

func TestEnqueue_ReturnsPushedBytes(t *testing.T) {
	q := &memPusher{}
	data, err := Enqueue(context.Background(), q, NewJob("busybox"))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if len(q.items) != 1 || !bytes.Equal(q.items[0], data) {
		t.Errorf("Enqueue returned %q, queue holds %q", data, q.items)
	}
}
