package core

import (
	"strings"
	"testing"
)

func TestNewTaskIDFormat(t *testing.T) {
	id := NewTaskID()
	if len(id) != 6 {
		t.Fatalf("expected 6-character task ID, got %q", id)
	}
	for _, r := range id {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Fatalf("task ID %q contains non-hex character %q", id, r)
		}
	}
}

func TestNewExecutionIDFormat(t *testing.T) {
	id := NewExecutionID()
	if !strings.HasPrefix(id, "exec-") {
		t.Fatalf("expected exec- prefix, got %q", id)
	}
	if len(id) != len("exec-")+6 {
		t.Fatalf("unexpected execution ID length: %q", id)
	}
}

func TestIDsAreDistinct(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := NewTaskID()
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate task ID %q after %d generations", id, i)
		}
		seen[id] = struct{}{}
	}
}
