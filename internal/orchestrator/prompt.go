package orchestrator

import (
	"fmt"
	"strings"

	"github.com/re-cinq/ralph/internal/workspace"
)

// buildExecutionPrompt assembles the execution prompt in the section order
// spec.md §6 specifies: Project Context, Solution Overview, Current Task,
// Acceptance Criteria, Instructions, completion/blocker signals, Other
// Tasks, Important Notes.
func buildExecutionPrompt(project workspace.ProjectSummary, task workspace.Task, allTasks []workspace.Task) string {
	var b strings.Builder

	if project.ProductBrief != "" {
		fmt.Fprintf(&b, "## Project Context\n\n%s\n\n", project.ProductBrief)
	}
	if project.SolutionBrief != "" {
		fmt.Fprintf(&b, "## Solution Overview\n\n%s\n\n", project.SolutionBrief)
	}

	fmt.Fprintf(&b, "## Current Task\n\n%s\n\n%s\n\n", task.Title, task.Description)

	b.WriteString("## Acceptance Criteria\n\n")
	for i, c := range task.AcceptanceCriteria {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}
	b.WriteString("\n")

	b.WriteString("## Instructions\n\n")
	b.WriteString("Read the relevant code, implement the task, run tests, and commit your work.\n")
	b.WriteString("When the task is fully done, print TASK_COMPLETE on its own line.\n")
	b.WriteString("If you cannot proceed, print TASK_BLOCKED: <reason> on its own line.\n\n")

	if others := otherTasks(task.ID, allTasks); others != "" {
		b.WriteString("## Other Tasks\n\n")
		b.WriteString(others)
		b.WriteString("\n")
	}

	b.WriteString("## Important Notes\n\n")
	b.WriteString("- Stay focused on the current task's scope.\n")
	b.WriteString("- Do not push to any remote.\n")
	b.WriteString("- Keep the existing test suite green.\n")

	return b.String()
}

// otherTasks lists the other tasks in the project, status-tagged, for
// context only (spec.md §6 "Other Tasks").
func otherTasks(currentID string, tasks []workspace.Task) string {
	var b strings.Builder
	for _, t := range tasks {
		if t.ID == currentID {
			continue
		}
		fmt.Fprintf(&b, "- [%s] %s\n", t.Status, t.Title)
	}
	return b.String()
}
