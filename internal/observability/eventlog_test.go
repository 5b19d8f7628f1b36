package observability

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestLog(t *testing.T) (EventLog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := NewJSONLEventLog(path)
	if err != nil {
		t.Fatalf("NewJSONLEventLog failed: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	return log, path
}

func TestWriteAndReadEvents(t *testing.T) {
	log, _ := newTestLog(t)

	events := []Event{
		{Time: time.Now().UTC(), Level: "INFO", Type: EventTaskEnqueued, Message: "task enqueued", Data: map[string]any{"task_id": "abc123"}},
		{Time: time.Now().UTC(), Level: "INFO", Type: EventTaskDispatched, Message: "task dispatched"},
		{Time: time.Now().UTC(), Level: "WARN", Type: EventExecutionFinished, Message: "execution finished"},
	}
	for _, event := range events {
		if err := log.Write(event); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	all, err := log.Read(EventFilter{})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("read %d events, want 3", len(all))
	}

	byType, _ := log.Read(EventFilter{Type: EventTaskEnqueued})
	if len(byType) != 1 || byType[0].Data["task_id"] != "abc123" {
		t.Errorf("type filter returned %+v", byType)
	}

	byLevel, _ := log.Read(EventFilter{Level: "WARN"})
	if len(byLevel) != 1 || byLevel[0].Type != EventExecutionFinished {
		t.Errorf("level filter returned %+v", byLevel)
	}
}

func TestReadSkipsMalformedLines(t *testing.T) {
	log, path := newTestLog(t)
	if err := log.Write(Event{Time: time.Now().UTC(), Level: "INFO", Type: EventWorkerStarted}); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("not json at all\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	events, err := log.Read(EventFilter{})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("read %d events, want 1", len(events))
	}
}

func TestRecordToleratesNilLog(t *testing.T) {
	// Must not panic.
	Record(nil, EventWorkerStarted, "worker started", nil)
}
