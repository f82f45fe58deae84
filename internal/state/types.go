// Package state owns the persistent catalog of repositories, projects, and
// settings (spec.md §4.1). state.json is written by a single Manager;
// external edits are detected via fsnotify and reconciled back into the
// in-memory snapshot, generalizing the teacher's per-concern status-file
// read/write shape (internal/engine/state.go) to a single global catalog.
package state

import (
	"time"

	"github.com/re-cinq/ralph/internal/config"
)

// ProjectStatus is the lifecycle status of a Project (spec.md §3).
type ProjectStatus string

const (
	ProjectIdle      ProjectStatus = "idle"
	ProjectRunning   ProjectStatus = "running"
	ProjectPaused    ProjectStatus = "paused"
	ProjectCompleted ProjectStatus = "completed"
	ProjectFailed    ProjectStatus = "failed"
)

// DefaultMaxIterations is applied to a Project unless overridden at creation.
const DefaultMaxIterations = 50

// Repository is the identity and provenance of a remote Git repository
// (spec.md §3).
type Repository struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	OwnerSlashName string   `json:"ownerSlashName"`
	RemoteURL     string    `json:"remoteUrl"`
	DefaultBranch string    `json:"defaultBranch"`
	Private       bool      `json:"private"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Project is a unit of work inside a Repository (spec.md §3). Tasks are not
// embedded here — they live in the workspace's tasks.json, owned by
// internal/workspace.
type Project struct {
	ID              string        `json:"id"`
	RepositoryID    string        `json:"repositoryId"`
	Name            string        `json:"name"`
	Description     string        `json:"description"`
	ProductBrief    string        `json:"productBrief,omitempty"`
	SolutionBrief   string        `json:"solutionBrief,omitempty"`
	BaseBranch      string        `json:"baseBranch,omitempty"`
	WorkingBranch   string        `json:"workingBranch"`
	Status          ProjectStatus `json:"status"`
	MaxIterations   int           `json:"maxIterations"`
	CurrentIteration int          `json:"currentIteration"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Snapshot is a consistent, immutable-by-convention copy of the catalog
// (spec.md §4.1 getState()).
type Snapshot struct {
	Repositories []Repository     `json:"repositories"`
	Projects     []Project        `json:"projects"`
	Settings     config.Settings  `json:"settings"`
}

// CreateRepositoryInput is the input to Manager.CreateRepository.
type CreateRepositoryInput struct {
	Name          string
	OwnerSlashName string
	RemoteURL     string
	DefaultBranch string
	Private       bool
}

// CreateProjectInput is the input to Manager.CreateProject.
type CreateProjectInput struct {
	RepositoryID  string
	Name          string
	Description   string
	ProductBrief  string
	SolutionBrief string
	BaseBranch    string
	MaxIterations int // 0 => DefaultMaxIterations
}

// ProjectPatch describes a partial update to a Project. Nil fields are left
// unchanged.
type ProjectPatch struct {
	Name             *string
	Description      *string
	ProductBrief     *string
	SolutionBrief    *string
	BaseBranch       *string
	Status           *ProjectStatus
	MaxIterations    *int
	CurrentIteration *int
}

// SettingsPatch describes a partial update to Settings. Nil fields are left
// unchanged.
type SettingsPatch struct {
	MaxParallelProjects *int
	MaxTaskAttempts     *int
	WorkspacesPath      *string
	AgentExecutable     *string
}
