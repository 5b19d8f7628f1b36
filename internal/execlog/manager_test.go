package execlog

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/gwq/pkg/models"
)

func writeLines(t *testing.T, m Manager, execID string, lines ...string) {
	t.Helper()
	w, err := m.OpenWriter(execID, "task01")
	if err != nil {
		t.Fatalf("OpenWriter failed: %v", err)
	}
	defer w.Close()
	for _, line := range lines {
		if err := w.WriteLine("stdout", line); err != nil {
			t.Fatalf("WriteLine failed: %v", err)
		}
	}
}

func finishedExec(execID string, endedAgo time.Duration) *models.Execution {
	ended := time.Now().UTC().Add(-endedAgo)
	code := 0
	return &models.Execution{
		ExecutionID: execID,
		TaskID:      "task01",
		Worktree:    "feature/x",
		WorkingDir:  "/tmp",
		ExitStatus:  models.ExitSucceeded,
		ExitCode:    &code,
		StartedAt:   ended.Add(-time.Minute),
		EndedAt:     &ended,
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	m := NewManager(t.TempDir())
	exec := finishedExec("exec-aaa001", time.Hour)
	if err := m.SaveMetadata(exec); err != nil {
		t.Fatalf("SaveMetadata failed: %v", err)
	}

	got, err := m.LoadMetadata("exec-aaa001")
	if err != nil {
		t.Fatalf("LoadMetadata failed: %v", err)
	}
	if got.ExitStatus != models.ExitSucceeded || got.TaskID != "task01" {
		t.Errorf("LoadMetadata returned %+v", got)
	}

	if _, err := m.LoadMetadata("exec-missing"); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("missing metadata err = %v, want ErrExecutionNotFound", err)
	}
}

func TestListMetadataNewestFirst(t *testing.T) {
	m := NewManager(t.TempDir())
	for i, execID := range []string{"exec-old001", "exec-mid001", "exec-new001"} {
		exec := finishedExec(execID, time.Duration(3-i)*time.Hour)
		if err := m.SaveMetadata(exec); err != nil {
			t.Fatal(err)
		}
	}

	execs, err := m.ListMetadata()
	if err != nil {
		t.Fatalf("ListMetadata failed: %v", err)
	}
	if len(execs) != 3 {
		t.Fatalf("got %d executions, want 3", len(execs))
	}
	if execs[0].ExecutionID != "exec-new001" || execs[2].ExecutionID != "exec-old001" {
		t.Errorf("wrong order: %s, %s, %s",
			execs[0].ExecutionID, execs[1].ExecutionID, execs[2].ExecutionID)
	}
}

func TestWriterWrapsPlainTextAndKeepsJSON(t *testing.T) {
	m := NewManager(t.TempDir())
	writeLines(t, m, "exec-bbb001",
		"plain progress line",
		`{"type":"agent_message","text":"done"}`,
		"   ", // blank lines are dropped
	)

	data, err := os.ReadFile(m.LogPath("exec-bbb001"))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var first Entry
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("first line is not a valid entry: %v", err)
	}
	var wrapped map[string]string
	if err := json.Unmarshal(first.Payload, &wrapped); err != nil {
		t.Fatalf("plain text payload not wrapped: %v", err)
	}
	if wrapped["type"] != "text" || wrapped["text"] != "plain progress line" {
		t.Errorf("wrapped payload = %v", wrapped)
	}

	var second Entry
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatal(err)
	}
	var structured map[string]any
	if err := json.Unmarshal(second.Payload, &structured); err != nil {
		t.Fatalf("JSON payload mangled: %v", err)
	}
	if structured["type"] != "agent_message" {
		t.Errorf("JSON payload = %v", structured)
	}
}

func TestRenderPrettyFallsBackPerLine(t *testing.T) {
	m := NewManager(t.TempDir())
	if err := m.SaveMetadata(finishedExec("exec-ccc001", time.Hour)); err != nil {
		t.Fatal(err)
	}
	writeLines(t, m, "exec-ccc001", `{"type":"agent_message","text":"hello world"}`)

	// Append a malformed line directly; pretty rendering must pass it
	// through untouched instead of failing.
	f, err := os.OpenFile(m.LogPath("exec-ccc001"), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("corrupt {{{ line\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	lines, err := m.Render("exec-ccc001", RenderPretty)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "hello world") || !strings.Contains(lines[0], "[agent_message]") {
		t.Errorf("pretty line = %q", lines[0])
	}
	if lines[1] != "corrupt {{{ line" {
		t.Errorf("malformed line altered: %q", lines[1])
	}
}

func TestRenderRaw(t *testing.T) {
	m := NewManager(t.TempDir())
	if err := m.SaveMetadata(finishedExec("exec-ddd001", time.Hour)); err != nil {
		t.Fatal(err)
	}
	writeLines(t, m, "exec-ddd001", "one", "two")

	lines, err := m.Render("exec-ddd001", RenderRaw)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	for _, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Errorf("raw line is not JSON: %q", line)
		}
	}
}

func TestTailWithoutFollowStopsAtEOF(t *testing.T) {
	m := NewManager(t.TempDir())
	writeLines(t, m, "exec-eee001", "first", "second")

	ch, err := m.Tail(context.Background(), "exec-eee001", false)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	var got []string
	for line := range ch {
		got = append(got, line)
	}
	if len(got) != 2 {
		t.Fatalf("tailed %d lines, want 2", len(got))
	}
}

func TestTailWithoutFollowOnMissingLogIsEmpty(t *testing.T) {
	m := NewManager(t.TempDir())

	ch, err := m.Tail(context.Background(), "exec-never1", false)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if line, open := <-ch; open {
		t.Fatalf("got line %q from an execution with no log", line)
	}
}

func TestTailFollowStopsWhenExecutionFinishes(t *testing.T) {
	m := NewManager(t.TempDir())
	writeLines(t, m, "exec-fff001", "only line")
	if err := m.SaveMetadata(finishedExec("exec-fff001", 0)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := m.Tail(ctx, "exec-fff001", true)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	var got []string
	for line := range ch {
		got = append(got, line)
	}
	if ctx.Err() != nil {
		t.Fatal("tail did not stop on its own for a finished execution")
	}
	if len(got) != 1 {
		t.Fatalf("tailed %d lines, want 1", len(got))
	}
}

func TestCleanupByAge(t *testing.T) {
	m := NewManager(t.TempDir())
	if err := m.SaveMetadata(finishedExec("exec-ggg001", 48*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := m.SaveMetadata(finishedExec("exec-ggg002", time.Hour)); err != nil {
		t.Fatal(err)
	}
	writeLines(t, m, "exec-ggg001", "old output")
	writeLines(t, m, "exec-ggg002", "fresh output")

	result, err := m.Cleanup(CleanupPolicy{MaxAge: 24 * time.Hour})
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if len(result.Removed) != 1 || result.Removed[0] != "exec-ggg001" {
		t.Fatalf("removed %v, want [exec-ggg001]", result.Removed)
	}
	if result.Freed <= 0 {
		t.Error("Freed not accounted")
	}
	if _, err := m.LoadMetadata("exec-ggg001"); !errors.Is(err, ErrExecutionNotFound) {
		t.Error("aged-out execution still present")
	}
	if _, err := m.LoadMetadata("exec-ggg002"); err != nil {
		t.Error("fresh execution removed")
	}
}

func TestCleanupBySizeRemovesOldestFirst(t *testing.T) {
	m := NewManager(t.TempDir())
	for i, execID := range []string{"exec-hhh001", "exec-hhh002", "exec-hhh003"} {
		if err := m.SaveMetadata(finishedExec(execID, time.Duration(3-i)*time.Hour)); err != nil {
			t.Fatal(err)
		}
		writeLines(t, m, execID, strings.Repeat("x", 2048))
	}

	result, err := m.Cleanup(CleanupPolicy{MaxTotalBytes: 4096})
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if len(result.Removed) == 0 {
		t.Fatal("size cap removed nothing")
	}
	if result.Removed[0] != "exec-hhh001" {
		t.Errorf("oldest not removed first: %v", result.Removed)
	}
	// The newest execution must survive.
	if _, err := m.LoadMetadata("exec-hhh003"); err != nil {
		t.Error("newest execution removed by size cap")
	}
}

func TestCleanupSkipsRunningExecutions(t *testing.T) {
	m := NewManager(t.TempDir())
	running := &models.Execution{
		ExecutionID: "exec-iii001",
		TaskID:      "task01",
		ExitStatus:  models.ExitRunning,
		StartedAt:   time.Now().UTC().Add(-72 * time.Hour),
	}
	if err := m.SaveMetadata(running); err != nil {
		t.Fatal(err)
	}

	result, err := m.Cleanup(CleanupPolicy{MaxAge: time.Hour, MaxTotalBytes: 1})
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if len(result.Removed) != 0 {
		t.Fatalf("running execution removed: %v", result.Removed)
	}
}
