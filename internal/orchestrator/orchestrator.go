package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/re-cinq/ralph/internal/agent"
	"github.com/re-cinq/ralph/internal/eventbus"
	"github.com/re-cinq/ralph/internal/gitops"
	"github.com/re-cinq/ralph/internal/state"
	"github.com/re-cinq/ralph/internal/verify"
	"github.com/re-cinq/ralph/internal/workspace"
)

// iterationSleep is the inter-iteration backoff (spec.md §4.6 step 2).
const iterationSleep = 2 * time.Second

// Orchestrator drives every Project's lifecycle (spec.md §4.6). One
// Orchestrator instance is shared across all projects; each active Project
// gets its own supervised goroutine under the admission registry.
type Orchestrator struct {
	State       *state.Manager
	Store       *workspace.Store
	Git         *gitops.Driver
	AgentRunner *agent.Runner
	Verifier    *verify.Verifier
	Bus         *eventbus.Bus
	Logger      *log.Logger

	LogsDir       string
	RunDir        string
	AgentCoAuthor string

	registry *registry
	now      func() time.Time
}

// New builds an Orchestrator. logsDir is the root of
// <userData>/logs/<projectId>/... (spec.md §6); runDir holds one PID file
// per actively-running Project (teacher's internal/engine/runner.go
// PIDPath, generalized from one runner.pid to one file per project).
func New(st *state.Manager, store *workspace.Store, git *gitops.Driver, runner *agent.Runner, verifier *verify.Verifier, bus *eventbus.Bus, logger *log.Logger, logsDir, runDir string) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		State:         st,
		Store:         store,
		Git:           git,
		AgentRunner:   runner,
		Verifier:      verifier,
		Bus:           bus,
		Logger:        logger.With("component", "orchestrator"),
		LogsDir:       logsDir,
		RunDir:        runDir,
		AgentCoAuthor: "ralph-agent <ralph-agent@users.noreply.github.com>",
		registry:      newRegistry(),
		now:           time.Now,
	}
}

// Reconcile resets Projects left stuck "running" by a process that died or
// was killed without a clean stop (spec.md's stale-state reconciliation on
// startup), grounded on the teacher's engine.ResetActiveStatuses. A Project
// running under a live PID (another `orchestrator start` process genuinely
// driving it) is left untouched; called once per newApp() construction, so
// every command observes a reconciled state before acting on it.
func (o *Orchestrator) Reconcile() []string {
	snap := o.State.GetState()
	var reconciled []string
	for _, p := range snap.Projects {
		if p.Status != state.ProjectRunning {
			continue
		}

		o.registry.mu.Lock()
		_, liveHere := o.registry.entries[p.ID]
		o.registry.mu.Unlock()
		if liveHere || o.IsAlive(p.ID) {
			continue
		}

		if repo, ok := findRepository(snap, p.RepositoryID); ok {
			repoName := gitops.RepoNameFromURL(repo.RemoteURL)
			workDir := o.Git.RepoDir(p.ID, repoName)
			o.handleStop(p.ID, workDir, p)
		} else {
			idle := state.ProjectIdle
			_, _ = o.State.UpdateProject(p.ID, state.ProjectPatch{Status: &idle})
		}
		o.removePID(p.ID)
		o.logEvent(p.ID, "stale running state cleared on startup (previous process interrupted)")
		reconciled = append(reconciled, p.ID)
	}
	return reconciled
}

// Status returns a live run-state entry per actively-orchestrated Project
// (spec.md §4.6 status()).
func (o *Orchestrator) Status() map[string]Entry {
	o.registry.mu.Lock()
	defer o.registry.mu.Unlock()
	return o.registry.snapshot()
}

// Start admits a Project into the orchestrator and launches its supervised
// loop (spec.md §4.6 admission control).
func (o *Orchestrator) Start(projectID string) error {
	o.registry.mu.Lock()
	if _, exists := o.registry.entries[projectID]; exists {
		o.registry.mu.Unlock()
		return ErrAlreadyRunning
	}

	snap := o.State.GetState()
	if _, ok := findProject(snap, projectID); !ok {
		o.registry.mu.Unlock()
		return ErrNotFound
	}

	maxParallel := snap.Settings.MaxParallelProjects
	if o.registry.runningCount() >= maxParallel {
		o.registry.mu.Unlock()
		return ErrCapacityExceeded
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.registry.entries[projectID] = &entry{
		Entry:  Entry{ProjectID: projectID, Status: RunInitializing},
		cancel: cancel,
	}
	o.registry.mu.Unlock()

	// Recorded synchronously, before the Project is marked running and before
	// the goroutine below even starts, so a Reconcile racing this Start from
	// another process never observes Project.Status already "running" with
	// no PID written yet.
	if err := o.writePID(projectID); err != nil {
		o.logEvent(projectID, fmt.Sprintf("writing pid file: %v", err))
	}

	running := state.ProjectRunning
	if _, err := o.State.UpdateProject(projectID, state.ProjectPatch{Status: &running}); err != nil {
		o.removePID(projectID)
		o.removeEntry(projectID)
		cancel()
		return fmt.Errorf("marking project running: %w", err)
	}

	go o.runProject(ctx, projectID)
	return nil
}

// Stop cancels the active AgentRunner call (if any), reverts an
// in_progress task to backlog, sets the Project idle, and removes the
// entry (spec.md §4.6.3). Safe to call at any time.
func (o *Orchestrator) Stop(projectID string) error {
	o.registry.mu.Lock()
	e, ok := o.registry.entries[projectID]
	if !ok {
		o.registry.mu.Unlock()
		return ErrNotFound
	}
	e.cancel()
	o.registry.mu.Unlock()
	return nil
}

// Pause flips the entry to paused and sets the Project to paused; the
// per-project loop observes this on its next re-read and exits (spec.md
// §4.6.3). Pause does not cancel an in-flight AgentRunner call (only Stop
// does), so the current task runs to the end of its attempt first. The
// loop removes the entry when it exits, after which a Resume (which
// dispatches Start) is not rejected as AlreadyRunning.
func (o *Orchestrator) Pause(projectID string) error {
	o.registry.mu.Lock()
	e, ok := o.registry.entries[projectID]
	if ok {
		e.Status = RunPaused
	}
	o.registry.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	paused := state.ProjectPaused
	_, err := o.State.UpdateProject(projectID, state.ProjectPatch{Status: &paused})
	return err
}

// Resume requires the Project to be paused, then dispatches Start (spec.md
// §4.6.3).
func (o *Orchestrator) Resume(projectID string) error {
	snap := o.State.GetState()
	proj, ok := findProject(snap, projectID)
	if !ok {
		return ErrNotFound
	}
	if proj.Status != state.ProjectPaused {
		return ErrNotPaused
	}
	return o.Start(projectID)
}

func (o *Orchestrator) removeEntry(projectID string) {
	o.registry.mu.Lock()
	delete(o.registry.entries, projectID)
	o.registry.mu.Unlock()
}

func (o *Orchestrator) setEntryStatus(projectID string, status RunState) {
	o.registry.mu.Lock()
	if e, ok := o.registry.entries[projectID]; ok {
		e.Status = status
	}
	o.registry.mu.Unlock()
}

func (o *Orchestrator) setCurrentTask(projectID, taskID string) {
	o.registry.mu.Lock()
	if e, ok := o.registry.entries[projectID]; ok {
		e.CurrentTaskID = taskID
	}
	o.registry.mu.Unlock()
}

func (o *Orchestrator) logEvent(projectID, message string) {
	o.Logger.Info(message, "project", projectID)
	if o.Bus != nil {
		o.Bus.Publish(eventbus.Event{
			Type:      eventbus.EventOrchestrator,
			ProjectID: projectID,
			Payload:   message,
		})
	}
}

func findProject(snap state.Snapshot, id string) (state.Project, bool) {
	for _, p := range snap.Projects {
		if p.ID == id {
			return p, true
		}
	}
	return state.Project{}, false
}

func findRepository(snap state.Snapshot, id string) (state.Repository, bool) {
	for _, r := range snap.Repositories {
		if r.ID == id {
			return r, true
		}
	}
	return state.Repository{}, false
}

func projectSummary(p state.Project) workspace.ProjectSummary {
	return workspace.ProjectSummary{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		ProductBrief:  p.ProductBrief,
		SolutionBrief: p.SolutionBrief,
	}
}

// runProject is the per-project supervised goroutine: setup once, iterate
// over task selection and execution, then completion (spec.md §4.6).
func (o *Orchestrator) runProject(ctx context.Context, projectID string) {
	defer o.removeEntry(projectID)
	defer o.removePID(projectID)

	snap := o.State.GetState()
	proj, ok := findProject(snap, projectID)
	if !ok {
		o.failProject(projectID, fmt.Errorf("project disappeared before setup"))
		return
	}
	repo, ok := findRepository(snap, proj.RepositoryID)
	if !ok {
		o.failProject(projectID, fmt.Errorf("repository %s not found", proj.RepositoryID))
		return
	}

	repoName := gitops.RepoNameFromURL(repo.RemoteURL)
	workDir := o.Git.RepoDir(projectID, repoName)
	baseBranch := proj.BaseBranch
	if baseBranch == "" {
		baseBranch = repo.DefaultBranch
	}

	if res := o.Git.Clone(projectID, repo.RemoteURL); !res.OK {
		o.failProject(projectID, fmt.Errorf("clone failed: %w", res.Error))
		return
	}
	if res := o.Git.CheckoutOrCreateBranch(workDir, baseBranch); !res.OK {
		o.failProject(projectID, fmt.Errorf("checkout of base branch failed: %w", res.Error))
		return
	}
	if res := o.Git.CreateWorkingBranch(workDir, proj.WorkingBranch, baseBranch); !res.OK {
		o.failProject(projectID, fmt.Errorf("creating working branch failed: %w", res.Error))
		return
	}
	if err := o.Store.InitializeRalphFolder(workDir, projectSummary(proj)); err != nil {
		o.failProject(projectID, fmt.Errorf("initializing .ralph: %w", err))
		return
	}

	o.setEntryStatus(projectID, RunRunning)
	o.logEvent(projectID, "setup complete, beginning task loop")

	for {
		if ctx.Err() != nil {
			o.handleStop(projectID, workDir, proj)
			return
		}

		snap := o.State.GetState()
		current, ok := findProject(snap, projectID)
		if !ok {
			return
		}
		if current.Status == state.ProjectPaused {
			o.logEvent(projectID, "paused, exiting loop")
			return
		}
		if current.Status == state.ProjectIdle {
			o.logEvent(projectID, "stopped externally, exiting loop")
			return
		}

		maxAttempts := snap.Settings.MaxTaskAttempts
		taskFile, err := o.Store.ReadTasks(workDir)
		if err != nil {
			o.logEvent(projectID, fmt.Sprintf("reading tasks.json: %v", err))
			time.Sleep(iterationSleep)
			continue
		}

		idx := SelectTask(taskFile.Tasks)
		if idx == -1 {
			o.completeProject(projectID, workDir, proj, taskFile.Tasks)
			return
		}

		o.setCurrentTask(projectID, taskFile.Tasks[idx].ID)
		outcome, err := o.executeTask(ctx, projectID, workDir, projectSummary(proj), taskFile.Tasks, idx, maxAttempts, o.now)
		if err != nil {
			o.logEvent(projectID, fmt.Sprintf("executing task: %v", err))
		}
		if outcome.stopped {
			o.handleStop(projectID, workDir, proj)
			return
		}

		select {
		case <-ctx.Done():
			o.handleStop(projectID, workDir, proj)
			return
		case <-time.After(iterationSleep):
		}
	}
}

func (o *Orchestrator) failProject(projectID string, cause error) {
	o.logEvent(projectID, fmt.Sprintf("project failed: %v", cause))
	failed := state.ProjectFailed
	_, _ = o.State.UpdateProject(projectID, state.ProjectPatch{Status: &failed})
}

// handleStop implements spec.md §4.6.3's stop semantics: revert an
// in_progress task to backlog with cleared timestamps, set Project idle.
func (o *Orchestrator) handleStop(projectID, workDir string, proj state.Project) {
	taskFile, err := o.Store.ReadTasks(workDir)
	if err == nil {
		changed := false
		for i := range taskFile.Tasks {
			if taskFile.Tasks[i].Status == workspace.TaskInProgress {
				taskFile.Tasks[i].Status = workspace.TaskBacklog
				taskFile.Tasks[i].StartedAt = nil
				taskFile.Tasks[i].VerifyingAt = nil
				taskFile.Tasks[i].CompletedAt = nil
				changed = true
			}
		}
		if changed {
			_ = o.Store.WriteTasks(workDir, taskFile)
		}
	}

	idle := state.ProjectIdle
	_, _ = o.State.UpdateProject(projectID, state.ProjectPatch{Status: &idle})
	o.logEvent(projectID, "stopped")
}

// completeProject implements spec.md §4.6 step 3.
func (o *Orchestrator) completeProject(projectID, workDir string, proj state.Project, tasks []workspace.Task) {
	completed, blocked := 0, 0
	for _, t := range tasks {
		switch t.Status {
		case workspace.TaskDone:
			completed++
		case workspace.TaskBlocked:
			blocked++
		}
	}

	finish := func(status state.ProjectStatus) {
		_, _ = o.State.UpdateProject(projectID, state.ProjectPatch{Status: &status})
		o.Git.CleanupWorkspace(workDir)
	}

	if completed == 0 {
		if blocked == 0 {
			finish(state.ProjectCompleted)
		} else {
			finish(state.ProjectFailed)
		}
		return
	}

	baseBranch := proj.BaseBranch
	if baseBranch == "" {
		if repo, ok := findRepository(o.State.GetState(), proj.RepositoryID); ok {
			baseBranch = repo.DefaultBranch
		}
	}

	diff := o.Git.GetDiffFromBase(workDir, baseBranch)
	if diff.OK && diff.Output == "" {
		finish(state.ProjectCompleted)
		return
	}

	if !o.Git.RemoteBranchExists(workDir, baseBranch).OK {
		if res := o.Git.Push(workDir, baseBranch); !res.OK {
			o.logEvent(projectID, fmt.Sprintf("pushing base branch: %v", res.Error))
			finish(state.ProjectFailed)
			return
		}
	}

	if res := o.Git.Push(workDir, proj.WorkingBranch); !res.OK {
		o.logEvent(projectID, fmt.Sprintf("pushing working branch: %v", res.Error))
		finish(state.ProjectFailed)
		return
	}

	body := buildPRBody(tasks)
	title := fmt.Sprintf("ralph: %s", proj.Name)
	if res := o.Git.CreatePullRequest(workDir, title, body, baseBranch); !res.OK {
		o.logEvent(projectID, fmt.Sprintf("creating PR: %v", res.Error))
		finish(state.ProjectFailed)
		return
	}

	finish(state.ProjectCompleted)
}

// buildPRBody lists completed and blocked tasks (spec.md §4.6 step 3).
func buildPRBody(tasks []workspace.Task) string {
	body := "## Completed tasks\n\n"
	any := false
	for _, t := range tasks {
		if t.Status == workspace.TaskDone {
			body += fmt.Sprintf("- %s\n", t.Title)
			any = true
		}
	}
	if !any {
		body += "(none)\n"
	}

	body += "\n## Blocked tasks\n\n"
	any = false
	for _, t := range tasks {
		if t.Status == workspace.TaskBlocked {
			body += fmt.Sprintf("- %s\n", t.Title)
			any = true
		}
	}
	if !any {
		body += "(none)\n"
	}
	return body
}
