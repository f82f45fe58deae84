package orchestrator

import "github.com/re-cinq/ralph/internal/workspace"

// SelectTask implements spec.md §4.6.1: a task with status=in_progress
// (resume interrupted work) beats status=verifying (retry after a failed
// review) beats the lowest-priority status=backlog task, with ties broken
// by the tasks' stable slice order (insertion order, since WorkspaceStore
// never reorders tasks.json on write). Returns -1 if no candidate exists.
func SelectTask(tasks []workspace.Task) int {
	for i, t := range tasks {
		if t.Status == workspace.TaskInProgress {
			return i
		}
	}
	for i, t := range tasks {
		if t.Status == workspace.TaskVerifying {
			return i
		}
	}

	best := -1
	for i, t := range tasks {
		if t.Status != workspace.TaskBacklog {
			continue
		}
		if best == -1 || t.Priority < tasks[best].Priority {
			best = i
		}
	}
	return best
}
