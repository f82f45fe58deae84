package orchestrator

import (
	"strings"
	"testing"

	"github.com/re-cinq/ralph/internal/workspace"
)

func TestBuildExecutionPromptSectionOrder(t *testing.T) {
	project := workspace.ProjectSummary{
		Name:          "demo",
		ProductBrief:  "build a thing",
		SolutionBrief: "use go",
	}
	task := workspace.Task{
		ID:                 "t1",
		Title:              "Add handler",
		Description:        "Add the /health handler",
		AcceptanceCriteria: []string{"returns 200", "has a test"},
	}
	others := []workspace.Task{
		task,
		{ID: "t2", Title: "Add logging", Status: workspace.TaskBacklog},
	}

	prompt := buildExecutionPrompt(project, task, others)

	sections := []string{
		"## Project Context", "## Solution Overview", "## Current Task",
		"## Acceptance Criteria", "## Instructions", "## Other Tasks", "## Important Notes",
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(prompt, s)
		if idx == -1 {
			t.Fatalf("missing section %q in prompt:\n%s", s, prompt)
		}
		if idx <= last {
			t.Fatalf("section %q out of order", s)
		}
		last = idx
	}

	if !strings.Contains(prompt, "Add the /health handler") {
		t.Error("expected task description in prompt")
	}
	if !strings.Contains(prompt, "1. returns 200") {
		t.Error("expected numbered acceptance criteria")
	}
	if strings.Contains(prompt, "Add handler") && strings.Contains(prompt, "[backlog] Add logging") == false {
		t.Error("expected other task to be listed with its status")
	}
	if strings.Contains(prompt, "] Add handler") {
		t.Error("current task should not appear in Other Tasks")
	}
}

func TestBuildExecutionPromptOmitsEmptyBriefs(t *testing.T) {
	project := workspace.ProjectSummary{Name: "demo"}
	task := workspace.Task{ID: "t1", Title: "X", Description: "Y"}

	prompt := buildExecutionPrompt(project, task, []workspace.Task{task})

	if strings.Contains(prompt, "## Project Context") {
		t.Error("should omit Project Context when ProductBrief is empty")
	}
	if strings.Contains(prompt, "## Solution Overview") {
		t.Error("should omit Solution Overview when SolutionBrief is empty")
	}
	if strings.Contains(prompt, "## Other Tasks") {
		t.Error("should omit Other Tasks when the only task is the current one")
	}
}
