package worker

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/valter-silva-au/gwq/pkg/models"
	"pgregory.net/rapid"
)

func genQueue(rt *rapid.T) []models.Task {
	statuses := []models.TaskStatus{
		models.StatusPending, models.StatusRunning, models.StatusCompleted,
		models.StatusFailed, models.StatusCancelled,
	}

	n := rapid.IntRange(1, 25).Draw(rt, "n")
	base := time.Now().UTC()
	tasks := make([]models.Task, n)
	for i := range tasks {
		var deps []string
		// Dependencies only point at earlier tasks, so no cycles.
		if i > 0 {
			nDeps := rapid.IntRange(0, min(2, i)).Draw(rt, fmt.Sprintf("nDeps%d", i))
			for d := 0; d < nDeps; d++ {
				deps = append(deps, fmt.Sprintf("t%03d", rapid.IntRange(0, i-1).Draw(rt, fmt.Sprintf("dep%d_%d", i, d))))
			}
		}
		tasks[i] = models.Task{
			ID:        fmt.Sprintf("t%03d", i),
			Runner:    models.RunnerCodex,
			Worktree:  "wt",
			Priority:  rapid.IntRange(models.MinPriority, models.MaxPriority).Draw(rt, fmt.Sprintf("prio%d", i)),
			DependsOn: deps,
			Prompt:    "p",
			Status:    statuses[rapid.IntRange(0, len(statuses)-1).Draw(rt, fmt.Sprintf("status%d", i))],
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
	}

	// Present the queue in dispatch order, as the store's List does.
	sort.Slice(tasks, func(a, b int) bool {
		if tasks[a].Priority != tasks[b].Priority {
			return tasks[a].Priority > tasks[b].Priority
		}
		if !tasks[a].CreatedAt.Equal(tasks[b].CreatedAt) {
			return tasks[a].CreatedAt.Before(tasks[b].CreatedAt)
		}
		return tasks[a].ID < tasks[b].ID
	})
	return tasks
}

// Every ready task is pending with all dependencies completed, every
// doomed task has a dependency that finished unsuccessfully or is
// missing, and the two sets never overlap.
func TestProperty_PlanPartition(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tasks := genQueue(rt)
		byID := make(map[string]models.Task, len(tasks))
		for _, task := range tasks {
			byID[task.ID] = task
		}

		ready, doomed := Plan(tasks)

		doomedSet := make(map[string]bool, len(doomed))
		for _, d := range doomed {
			doomedSet[d.TaskID] = true
		}

		for _, task := range ready {
			if task.Status != models.StatusPending {
				t.Fatalf("ready task %s has status %s", task.ID, task.Status)
			}
			if doomedSet[task.ID] {
				t.Fatalf("task %s is both ready and doomed", task.ID)
			}
			for _, depID := range task.DependsOn {
				dep, ok := byID[depID]
				if !ok || dep.Status != models.StatusCompleted {
					t.Fatalf("ready task %s has unsatisfied dependency %s", task.ID, depID)
				}
			}
		}

		for _, d := range doomed {
			task := byID[d.TaskID]
			if task.Status != models.StatusPending {
				t.Fatalf("doomed task %s has status %s", d.TaskID, task.Status)
			}
			blocked := false
			for _, depID := range task.DependsOn {
				dep, ok := byID[depID]
				if !ok || dep.Status == models.StatusFailed || dep.Status == models.StatusCancelled {
					blocked = true
				}
			}
			if !blocked {
				t.Fatalf("doomed task %s has no failed, cancelled, or missing dependency", d.TaskID)
			}
		}
	})
}

// Ready tasks come out in the order they went in: Plan filters, never
// reorders.
func TestProperty_PlanKeepsInputOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tasks := genQueue(rt)
		position := make(map[string]int, len(tasks))
		for i, task := range tasks {
			position[task.ID] = i
		}

		ready, _ := Plan(tasks)
		for i := 1; i < len(ready); i++ {
			if position[ready[i-1].ID] > position[ready[i].ID] {
				t.Fatalf("Plan reordered %s and %s", ready[i-1].ID, ready[i].ID)
			}
		}
	})
}
