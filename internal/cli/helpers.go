package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/re-cinq/ralph/internal/agent"
	"github.com/re-cinq/ralph/internal/config"
	"github.com/re-cinq/ralph/internal/eventbus"
	"github.com/re-cinq/ralph/internal/gitops"
	"github.com/re-cinq/ralph/internal/orchestrator"
	"github.com/re-cinq/ralph/internal/state"
	"github.com/re-cinq/ralph/internal/verify"
	"github.com/re-cinq/ralph/internal/workspace"
)

// app bundles the components a command needs: the state catalog, the
// workspace store, the git driver, and the orchestrator built on top of
// them. One app is constructed per command invocation.
type app struct {
	DataDir  string
	Settings config.Settings

	State        *state.Manager
	Store        *workspace.Store
	Git          *gitops.Driver
	Bus          *eventbus.Bus
	Orchestrator *orchestrator.Orchestrator
}

// userDataDir resolves <userData> (spec.md §6) to ~/.ralph — a CLI binary
// has no Electron app-data directory to inherit.
func userDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".ralph"), nil
}

func statePath(dataDir string) string { return filepath.Join(dataDir, "data", "state.json") }
func logsPath(dataDir string) string  { return filepath.Join(dataDir, "logs") }
func runPath(dataDir string) string   { return filepath.Join(dataDir, "run") }

// resolveWorkspacesPath makes a relative workspacesPath absolute against
// dataDir, matching spec.md §6's `<userData>/workspaces` default.
func resolveWorkspacesPath(path, dataDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dataDir, path)
}

// newApp loads settings (ralph.yaml + RALPH_ env vars), opens the state
// catalog, and wires every component the orchestrator needs. Settings are
// re-synced into state.json on every invocation: the config file and
// environment are the declarative source of truth, state.json just
// persists the last-applied values for the orchestrator to read.
func newApp() (*app, error) {
	dataDir, err := userDataDir()
	if err != nil {
		return nil, err
	}

	settings, err := config.Load(configPath, dataDir)
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(settings); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "Error: %s\n", e)
		}
		return nil, fmt.Errorf("%d settings validation error(s)", len(errs))
	}

	logger := log.Default()
	mgr, err := state.NewManager(statePath(dataDir), afero.NewOsFs(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening state catalog: %w", err)
	}
	if _, err := mgr.UpdateSettings(state.SettingsPatch{
		MaxParallelProjects: &settings.MaxParallelProjects,
		MaxTaskAttempts:     &settings.MaxTaskAttempts,
		WorkspacesPath:      &settings.WorkspacesPath,
		AgentExecutable:     &settings.AgentExecutable,
	}); err != nil {
		_ = mgr.Close()
		return nil, fmt.Errorf("syncing settings: %w", err)
	}

	store := workspace.NewStore(afero.NewOsFs(), logger)
	git := gitops.NewDriver(resolveWorkspacesPath(settings.WorkspacesPath, dataDir))
	bus := eventbus.New()
	runner := agent.NewRunner(settings.AgentExecutable, bus.PublishLogChunk)
	verifier := verify.NewVerifier(runner)
	orch := orchestrator.New(mgr, store, git, runner, verifier, bus, logger, logsPath(dataDir), runPath(dataDir))

	// A running Project with no live PID behind it means an earlier
	// `orchestrator start` process died or was killed without a clean stop;
	// reconcile it back to idle before this command acts on state.
	orch.Reconcile()

	return &app{
		DataDir:      dataDir,
		Settings:     settings,
		State:        mgr,
		Store:        store,
		Git:          git,
		Bus:          bus,
		Orchestrator: orch,
	}, nil
}

func (a *app) Close() {
	_ = a.State.Close()
}

// findProject returns the Project and its Repository for id.
func (a *app) findProject(id string) (state.Project, state.Repository, error) {
	snap := a.State.GetState()
	for _, p := range snap.Projects {
		if p.ID == id {
			for _, r := range snap.Repositories {
				if r.ID == p.RepositoryID {
					return p, r, nil
				}
			}
			return p, state.Repository{}, fmt.Errorf("repository %s not found for project %s", p.RepositoryID, id)
		}
	}
	return state.Project{}, state.Repository{}, fmt.Errorf("project %s not found", id)
}

// workDir returns the working directory ralph uses for a Project's checkout.
func (a *app) workDir(proj state.Project, repo state.Repository) string {
	repoName := gitops.RepoNameFromURL(repo.RemoteURL)
	return a.Git.RepoDir(proj.ID, repoName)
}
