// Package workspace implements the on-disk contract between the engine and
// the coding agent: each Project's working directory carries a .ralph/
// subdirectory holding tasks.json (the authoritative Task store the agent
// reads and writes) and logs.json (an append-only loop log), per spec.md
// §4.2. It generalizes the teacher's per-station status file
// (internal/engine/state.go) from a single JSON blob per station to a full
// task list plus log per project.
package workspace

import "time"

// TaskStatus is the lifecycle status of a Task (spec.md §3, redesigned per
// spec.md §9 into an explicit state machine rather than a bare string).
type TaskStatus string

const (
	TaskBacklog    TaskStatus = "backlog"
	TaskInProgress TaskStatus = "in_progress"
	TaskVerifying  TaskStatus = "verifying"
	TaskDone       TaskStatus = "done"
	TaskBlocked    TaskStatus = "blocked"
)

// Task is a discrete unit of work inside a Project's workspace (spec.md §3).
// Logs are intentionally absent here: the Task schema persisted in
// tasks.json omits logs. Per-task log entries (spec.md §3's
// {timestamp, filePath, summary, success}) live as LoopLogEntry records in
// logs.json, filtered by TaskID — the "log index" spec.md §4.2 refers to —
// rather than duplicated inline on the Task.
type Task struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	AcceptanceCriteria []string   `json:"acceptanceCriteria"`
	Priority           int        `json:"priority"`
	Status             TaskStatus `json:"status"`
	Attempts           int        `json:"attempts"`
	StartedAt          *time.Time `json:"startedAt,omitempty"`
	VerifyingAt        *time.Time `json:"verifyingAt,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
}

// ProjectSummary is the subset of Project fields tasks.json mirrors for the
// agent's benefit (spec.md §4.2).
type ProjectSummary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	ProductBrief  string `json:"productBrief,omitempty"`
	SolutionBrief string `json:"solutionBrief,omitempty"`
}

// TaskFile is the literal schema of tasks.json (spec.md §4.2).
type TaskFile struct {
	Project ProjectSummary `json:"project"`
	Tasks   []Task         `json:"tasks"`
}

// LoopLogEntry is one record in logs.json (spec.md §4.2). When TaskID is
// set it doubles as that task's per-attempt log index (spec.md §3's
// {timestamp, filePath, summary, success}): FilePath is the agent log file
// for that attempt, Message is the summary, and Success reports the
// attempt's outcome.
type LoopLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Iteration int       `json:"iteration"`
	TaskID    string    `json:"taskId,omitempty"`
	Action    string    `json:"action"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Message   string    `json:"message,omitempty"`
	FilePath  string    `json:"filePath,omitempty"`
	Success   bool      `json:"success,omitempty"`
}

// LogFile is the literal schema of logs.json (spec.md §4.2).
type LogFile struct {
	Entries []LoopLogEntry `json:"entries"`
}
