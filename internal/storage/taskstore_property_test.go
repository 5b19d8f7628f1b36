package storage

import (
	"fmt"
	"testing"

	"github.com/valter-silva-au/gwq/pkg/models"
	"pgregory.net/rapid"
)

func genCreateSpec(t *rapid.T, i int) CreateSpec {
	return CreateSpec{
		ID:       fmt.Sprintf("t%05d", i),
		Runner:   []models.RunnerKind{models.RunnerCodex, models.RunnerClaude}[rapid.IntRange(0, 1).Draw(t, "runnerIdx")],
		Worktree: rapid.StringMatching(`[a-z]{1,12}`).Draw(t, "worktree"),
		Priority: rapid.IntRange(models.MinPriority, models.MaxPriority).Draw(t, "priority"),
		// Leading letter so the prompt is never whitespace-only, which
		// Create rejects.
		Prompt: rapid.StringMatching(`[a-z][a-z ]{0,39}`).Draw(t, "prompt"),
	}
}

// Dispatch order is priority descending with creation-time FIFO within a
// priority, regardless of insertion order.
func TestProperty_ListDispatchOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dir := t.TempDir()
		counter := 0
		store := NewTaskStore(dir, func() string {
			counter++
			return fmt.Sprintf("g%05d", counter)
		})

		n := rapid.IntRange(1, 20).Draw(rt, "n")
		for i := 0; i < n; i++ {
			spec := genCreateSpec(rt, i)
			if _, err := store.Create(spec); err != nil {
				rt.Fatalf("Create failed: %v", err)
			}
		}

		tasks, err := store.List(Filter{}, SortByPriority)
		if err != nil {
			rt.Fatalf("List failed: %v", err)
		}
		if len(tasks) != n {
			rt.Fatalf("List returned %d tasks, want %d", len(tasks), n)
		}

		for i := 1; i < len(tasks); i++ {
			prev, cur := tasks[i-1], tasks[i]
			if prev.Priority < cur.Priority {
				rt.Fatalf("priority order violated at %d: %d before %d", i, prev.Priority, cur.Priority)
			}
			if prev.Priority == cur.Priority && prev.CreatedAt.After(cur.CreatedAt) {
				rt.Fatalf("FIFO tiebreak violated at %d", i)
			}
		}
	})
}

// A create followed by a read returns the record unchanged.
func TestProperty_CreateReadRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dir := t.TempDir()
		store := NewTaskStore(dir, func() string { return "unused" })

		spec := genCreateSpec(rt, rapid.IntRange(0, 99999).Draw(rt, "idNum"))
		created, err := store.Create(spec)
		if err != nil {
			rt.Fatalf("Create failed: %v", err)
		}

		got, err := store.Get(created.ID)
		if err != nil {
			rt.Fatalf("Get failed: %v", err)
		}
		if got.Runner != spec.Runner || got.Worktree != spec.Worktree ||
			got.Priority != spec.Priority || got.Prompt != spec.Prompt {
			rt.Fatalf("round trip mismatch: wrote %+v, read %+v", spec, got)
		}
		if got.Status != models.StatusPending {
			rt.Fatalf("new task status = %s", got.Status)
		}
	})
}
