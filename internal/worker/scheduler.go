package worker

import (
	"fmt"

	"github.com/valter-silva-au/gwq/pkg/models"
)

// Doomed marks a pending task that can never run because a dependency
// finished unsuccessfully or does not exist. The daemon fails it without
// dispatching.
type Doomed struct {
	TaskID string
	Reason string
}

// Plan partitions the pending tasks of a queue snapshot into those ready
// for dispatch and those doomed by their dependencies. Tasks whose
// dependencies are still pending or running appear in neither list and
// wait for a later scan.
//
// The input must already be in dispatch order (priority descending,
// creation time ascending, ID ascending); ready preserves that order.
func Plan(tasks []models.Task) (ready []models.Task, doomed []Doomed) {
	byID := make(map[string]*models.Task, len(tasks))
	for i := range tasks {
		byID[tasks[i].ID] = &tasks[i]
	}

	for _, task := range tasks {
		if task.Status != models.StatusPending {
			continue
		}
		eligible := true
		for _, depID := range task.DependsOn {
			dep, ok := byID[depID]
			if !ok {
				doomed = append(doomed, Doomed{
					TaskID: task.ID,
					Reason: fmt.Sprintf("dependency %s does not exist", depID),
				})
				eligible = false
				break
			}
			switch dep.Status {
			case models.StatusCompleted:
				// satisfied
			case models.StatusFailed, models.StatusCancelled:
				doomed = append(doomed, Doomed{
					TaskID: task.ID,
					Reason: fmt.Sprintf("dependency %s %s", depID, dep.Status),
				})
				eligible = false
			default:
				// pending or running: wait.
				eligible = false
			}
			if !eligible {
				break
			}
		}
		if eligible {
			ready = append(ready, task)
		}
	}
	return ready, doomed
}
