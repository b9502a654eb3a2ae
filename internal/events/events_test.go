package events

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func TestJSONLineWriter_Emit(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLineWriter(&buf)

	w.Emit(EventStateChanged, StateChangedData{State: "Authenticated"})

	line := strings.TrimSpace(buf.String())
	var env Envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		t.Fatalf("failed to parse JSON line: %v", err)
	}

	if env.Type != EventStateChanged {
		t.Errorf("type = %q, want %q", env.Type, EventStateChanged)
	}
	if env.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}

	data, ok := env.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data is not a map, got %T", env.Data)
	}
	if data["state"] != "Authenticated" {
		t.Errorf("data.state = %v, want Authenticated", data["state"])
	}
}

func TestJSONLineWriter_MultipleEvents(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLineWriter(&buf)

	w.Emit(EventAuthOK, AuthOKData{TXServer: 0})
	w.Emit(EventOutOfSync, OutOfSyncData{Count: 1, Forced: false})
	w.Emit(EventOutboxStats, OutboxStatsData{Unacked: 3})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}

	for i, line := range lines {
		var env Envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			t.Errorf("line %d: failed to parse: %v", i, err)
		}
	}
}

func TestJSONLineWriter_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLineWriter(&buf)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Emit(EventOutboxStats, OutboxStatsData{Unacked: 1})
		}()
	}

	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 50 {
		t.Errorf("got %d lines, want 50", len(lines))
	}

	for i, line := range lines {
		var env Envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			t.Errorf("line %d: invalid JSON: %v", i, err)
		}
	}
}

func TestJSONLineWriter_RTCSetPayload(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLineWriter(&buf)

	w.Emit(EventRTCSet, RTCSetData{Year: 2026, Month: 3, Day: 7, Hour: 14, Minute: 5, Second: 9, Weekday: 6})

	var env Envelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &env); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if env.Type != EventRTCSet {
		t.Errorf("type = %q, want %q", env.Type, EventRTCSet)
	}
}

func TestJSONLineWriter_ErrorEventPayload(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLineWriter(&buf)

	w.Emit(EventError, ErrorData{Message: "frame dropped: CMAC mismatch"})

	var env Envelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &env); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if env.Type != EventError {
		t.Errorf("type = %q, want %q", env.Type, EventError)
	}
}

func TestJSONLineWriter_Close_WithoutCloser(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLineWriter(&buf)

	if err := w.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

func TestNopEmitter_Emit(t *testing.T) {
	var nop NopEmitter
	nop.Emit(EventStateChanged, StateChangedData{State: "Authenticated"})
	nop.Emit(EventOutboxStats, nil)
}

func TestNopEmitter_Close(t *testing.T) {
	var nop NopEmitter
	if err := nop.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

// Verify interface compliance at compile time.
var _ Emitter = (*JSONLineWriter)(nil)
var _ Emitter = NopEmitter{}
