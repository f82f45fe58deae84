package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/re-cinq/ralph/internal/agent"
	"github.com/re-cinq/ralph/internal/verify"
	"github.com/re-cinq/ralph/internal/workspace"
)

// allowedToolsBase and disallowedTools implement spec.md §4.4's invocation
// contract: read/edit/grep/glob and a safe shell subset allowed; git push
// and gh denied.
var (
	allowedToolsBase = []string{
		"Read", "Edit", "Grep", "Glob",
		"Bash(git add:*)", "Bash(git commit:*)", "Bash(git status:*)",
		"Bash(npm test:*)", "Bash(pnpm test:*)", "Bash(yarn test:*)",
		"Bash(go test:*)", "Bash(pytest:*)", "Bash(cargo test:*)",
	}
	disallowedTools = []string{"Bash(git push:*)", "Bash(gh:*)"}
)

// executionOutcome reports what executeTask decided, so runProject can act on it
// without re-deriving state from the mutated task.
type executionOutcome struct {
	stopped bool
}

// executeTask implements spec.md §4.6.2 against the task at tasks[idx],
// mutating it in place and persisting via the Store after each phase. now
// is injected so it's deterministic in tests.
func (o *Orchestrator) executeTask(
	ctx context.Context,
	projectID, workDir string,
	project workspace.ProjectSummary,
	tasks []workspace.Task,
	idx int,
	maxAttempts int,
	now func() time.Time,
) (executionOutcome, error) {
	task := &tasks[idx]

	task.Attempts++
	if task.StartedAt == nil {
		t := now()
		task.StartedAt = &t
	}
	task.VerifyingAt = nil
	task.CompletedAt = nil
	task.Status = workspace.TaskInProgress
	if err := o.Store.WriteTasks(workDir, workspace.TaskFile{Project: project, Tasks: tasks}); err != nil {
		return executionOutcome{}, fmt.Errorf("persisting task start: %w", err)
	}

	logPath := o.taskLogPath(projectID, task.ID, now())
	prompt := buildExecutionPrompt(project, *task, tasks)
	o.writeLogHeader(logPath, projectID, task.ID, workDir, prompt, now())

	outcome := o.AgentRunner.Run(ctx, agent.ProcessSpec{
		ProjectID:        projectID,
		TaskID:           task.ID,
		Prompt:           prompt,
		WorkingDirectory: workDir,
		LogFilePath:      logPath,
		AllowedTools:     allowedToolsBase,
		DisallowedTools:  disallowedTools,
	})
	o.writeLogFooter(logPath, outcome, now())

	if outcome.Stopped {
		return executionOutcome{stopped: true}, nil
	}

	switch {
	case outcome.TaskBlocked:
		o.appendTaskLog(workDir, task.ID, "task_blocked", outcome.BlockedReason, logPath, false, now())
		if task.Attempts >= maxAttempts {
			task.Status = workspace.TaskBlocked
			t := now()
			task.CompletedAt = &t
		}
	case outcome.TaskComplete:
		t := now()
		task.Status = workspace.TaskVerifying
		task.VerifyingAt = &t
		if err := o.Store.WriteTasks(workDir, workspace.TaskFile{Project: project, Tasks: tasks}); err != nil {
			return executionOutcome{}, fmt.Errorf("persisting verifying status: %w", err)
		}

		result := o.Verifier.Verify(ctx, verify.VerifyInput{
			ProjectID:          projectID,
			TaskID:             task.ID,
			WorkingDirectory:   workDir,
			LogFilePath:        logPath,
			Title:              task.Title,
			Description:        task.Description,
			AcceptanceCriteria: task.AcceptanceCriteria,
			Diff:               o.Git.GetDiff(workDir).Output,
		})

		if result.Passed {
			task.Status = workspace.TaskDone
			completedAt := now()
			task.CompletedAt = &completedAt
			o.appendTaskLog(workDir, task.ID, "task_done", "verification passed", logPath, true, now())
			if commitRes := o.Git.Commit(workDir, fmt.Sprintf("Complete task: %s", task.Title), o.AgentCoAuthor); !commitRes.OK {
				o.logEvent(projectID, fmt.Sprintf("commit failed for task %s: %v", task.ID, commitRes.Error))
			}
		} else if task.Attempts >= maxAttempts {
			task.Status = workspace.TaskBlocked
			completedAt := now()
			task.CompletedAt = &completedAt
			o.appendTaskLog(workDir, task.ID, "task_blocked", result.Review.Reason, logPath, false, now())
		} else {
			task.Status = workspace.TaskInProgress
			o.appendTaskLog(workDir, task.ID, "verification_failed", result.Review.Reason, logPath, false, now())
		}
	default:
		o.appendTaskLog(workDir, task.ID, "task_incomplete", "no completion signal", logPath, false, now())
	}

	if err := o.Store.WriteTasks(workDir, workspace.TaskFile{Project: project, Tasks: tasks}); err != nil {
		return executionOutcome{}, fmt.Errorf("persisting task outcome: %w", err)
	}
	return executionOutcome{}, nil
}

func (o *Orchestrator) appendTaskLog(workDir, taskID, action, message, filePath string, success bool, ts time.Time) {
	_ = o.Store.AppendLog(workDir, workspace.LoopLogEntry{
		Timestamp: ts,
		TaskID:    taskID,
		Action:    action,
		Message:   message,
		FilePath:  filePath,
		Success:   success,
	})
}

// taskLogPath builds <userData>/logs/<projectId>/<taskId>-<iso-timestamp>.log
// (spec.md §6).
func (o *Orchestrator) taskLogPath(projectID, taskID string, ts time.Time) string {
	name := fmt.Sprintf("%s-%s.log", taskID, ts.UTC().Format("2006-01-02T15-04-05Z"))
	return filepath.Join(o.LogsDir, projectID, name)
}

func (o *Orchestrator) writeLogHeader(path, projectID, taskID, workDir, prompt string, ts time.Time) {
	header := fmt.Sprintf(
		"=== ralph task log ===\nstart: %s\nproject: %s\ntask: %s\nworkdir: %s\nprompt:\n%s\n=== output ===\n",
		ts.UTC().Format(time.RFC3339), projectID, taskID, workDir, prompt,
	)
	_ = appendToLogFile(path, header)
}

func (o *Orchestrator) writeLogFooter(path string, outcome agent.Outcome, ts time.Time) {
	exitStatus := "ok"
	if !outcome.OK {
		exitStatus = "error"
	}
	footer := fmt.Sprintf("\n=== end: %s exit=%s ===\n", ts.UTC().Format(time.RFC3339), exitStatus)
	_ = appendToLogFile(path, footer)
}
