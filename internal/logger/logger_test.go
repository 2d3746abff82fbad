// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogger_LevelsAndFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, nil)
	defer l.Close()

	l.Printf("leased item=%s", "abc")
	l.Warnf("lease write failed")
	l.Debugf("hidden")

	out := buf.String()
	if !strings.Contains(out, "[INFO] leased item=abc") {
		t.Errorf("missing INFO line in %q", out)
	}
	if !strings.Contains(out, "[WARN] lease write failed") {
		t.Errorf("missing WARN line in %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("DEBUG line written while debug is off: %q", out)
	}

	l.SetDebug(true)
	l.Debugf("shown")
	if !strings.Contains(buf.String(), "[DEBUG] shown") {
		t.Errorf("DEBUG line missing after SetDebug(true)")
	}
}

func TestLogger_Subscribe(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, nil)
	defer l.Close()

	ch := l.Subscribe()
	if ch == nil {
		t.Fatal("Subscribe returned nil on an open logger")
	}

	l.Errorf("worker %d crashed", 3)

	select {
	case line := <-ch:
		if !strings.Contains(line, "[ERROR] worker 3 crashed") {
			t.Errorf("unexpected line %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no line delivered to subscriber")
	}

	l.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}
}

func TestLogger_CloseStopsSubscribers(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, nil)
	ch := l.Subscribe()

	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected subscriber channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber channel not closed after Close")
	}

	if l.Subscribe() != nil {
		t.Error("Subscribe on a closed logger should return nil")
	}
	l.Printf("ignored")
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobhive.log")
	l, err := NewLogger(path)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	l.Printf("recovered=%d", 2)
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "recovered=2") {
		t.Errorf("log file missing line: %q", data)
	}
}

func TestGetDefault_ReplacesClosed(t *testing.T) {
	first := GetDefault()
	first.Close()
	if second := GetDefault(); second == first {
		t.Error("GetDefault returned a closed logger")
	}
}
