package progress

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.jsonl")
	log := New(path, nil)

	evt1 := Event{Type: EventIteration, TaskID: "ralph-1", Iteration: 1, Result: "continue", Timestamp: time.Now()}
	evt2 := Event{Type: EventStatusChange, TaskID: "ralph-1", Status: "done", Timestamp: time.Now()}

	if err := log.Append(evt1); err != nil {
		t.Fatalf("Append evt1: %v", err)
	}
	if err := log.Append(evt2); err != nil {
		t.Fatalf("Append evt2: %v", err)
	}

	events, err := log.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventIteration || events[1].Type != EventStatusChange {
		t.Fatalf("unexpected event order: %+v", events)
	}
}

func TestReadMissingFileReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.jsonl")
	log := New(path, nil)

	events, err := log.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestReadSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.jsonl")
	log := New(path, nil)

	if err := log.Append(Event{Type: EventIteration, TaskID: "ralph-2"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Corrupt the file by appending a malformed trailing line directly.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if err := os.WriteFile(path, append(raw, []byte("{not json\n")...), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	events, err := log.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 well-formed event, got %d", len(events))
	}
}
