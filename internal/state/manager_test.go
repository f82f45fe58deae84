package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/re-cinq/ralph/internal/config"
)

func newTestManager(t *testing.T) (*Manager, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	m, err := NewManager("/data/state.json", fs, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m, fs
}

func TestNewManagerDefaultsWhenMissing(t *testing.T) {
	m, _ := newTestManager(t)
	snap := m.GetState()
	if len(snap.Repositories) != 0 || len(snap.Projects) != 0 {
		t.Fatalf("expected empty catalog, got %+v", snap)
	}
	if snap.Settings.MaxParallelProjects != config.DefaultMaxParallelProjects {
		t.Fatalf("expected default MaxParallelProjects, got %d", snap.Settings.MaxParallelProjects)
	}
}

func TestCreateRepositoryAndProject(t *testing.T) {
	m, _ := newTestManager(t)

	repo, err := m.CreateRepository(CreateRepositoryInput{
		Name:          "detergent",
		RemoteURL:     "git@github.com:re-cinq/detergent.git",
		DefaultBranch: "main",
	})
	if err != nil {
		t.Fatalf("CreateRepository: %v", err)
	}
	if repo.ID == "" {
		t.Fatal("expected generated repository id")
	}

	proj, err := m.CreateProject(CreateProjectInput{
		RepositoryID: repo.ID,
		Name:         "Add Feature X",
	})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if proj.Status != ProjectIdle {
		t.Fatalf("expected new project to be idle, got %s", proj.Status)
	}
	if proj.MaxIterations != DefaultMaxIterations {
		t.Fatalf("expected default max iterations, got %d", proj.MaxIterations)
	}
	if proj.WorkingBranch == "" {
		t.Fatal("expected derived working branch")
	}

	snap := m.GetState()
	if len(snap.Projects) != 1 {
		t.Fatalf("expected 1 project in catalog, got %d", len(snap.Projects))
	}
}

func TestCreateProjectUnknownRepository(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateProject(CreateProjectInput{RepositoryID: "missing", Name: "x"})
	if err == nil {
		t.Fatal("expected error for unknown repository")
	}
}

func TestDeleteRepositoryWithDependentsFails(t *testing.T) {
	m, _ := newTestManager(t)
	repo, _ := m.CreateRepository(CreateRepositoryInput{Name: "r", RemoteURL: "u"})
	_, _ = m.CreateProject(CreateProjectInput{RepositoryID: repo.ID, Name: "p"})

	err := m.DeleteRepository(repo.ID)
	if err != ErrHasDependents {
		t.Fatalf("expected ErrHasDependents, got %v", err)
	}
}

func TestDeleteRepositoryAfterProjectsRemoved(t *testing.T) {
	m, _ := newTestManager(t)
	repo, _ := m.CreateRepository(CreateRepositoryInput{Name: "r", RemoteURL: "u"})
	proj, _ := m.CreateProject(CreateProjectInput{RepositoryID: repo.ID, Name: "p"})

	if err := m.DeleteProject(proj.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if err := m.DeleteRepository(repo.ID); err != nil {
		t.Fatalf("DeleteRepository: %v", err)
	}
}

func TestUpdateProjectPatch(t *testing.T) {
	m, _ := newTestManager(t)
	repo, _ := m.CreateRepository(CreateRepositoryInput{Name: "r", RemoteURL: "u"})
	proj, _ := m.CreateProject(CreateProjectInput{RepositoryID: repo.ID, Name: "p"})

	newStatus := ProjectRunning
	updated, err := m.UpdateProject(proj.ID, ProjectPatch{Status: &newStatus})
	if err != nil {
		t.Fatalf("UpdateProject: %v", err)
	}
	if updated.Status != ProjectRunning {
		t.Fatalf("expected running status, got %s", updated.Status)
	}
}

func TestUpdateProjectNotFound(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.UpdateProject("missing", ProjectPatch{})
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateSettings(t *testing.T) {
	m, _ := newTestManager(t)
	n := 5
	s, err := m.UpdateSettings(SettingsPatch{MaxParallelProjects: &n})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if s.MaxParallelProjects != 5 {
		t.Fatalf("expected 5, got %d", s.MaxParallelProjects)
	}
}

func TestSubscribeReceivesDebouncedUpdate(t *testing.T) {
	m, _ := newTestManager(t)
	ch := m.Subscribe()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected initial snapshot on subscribe")
	}

	_, _ = m.CreateRepository(CreateRepositoryInput{Name: "r1", RemoteURL: "u1"})
	_, _ = m.CreateRepository(CreateRepositoryInput{Name: "r2", RemoteURL: "u2"})

	select {
	case snap := <-ch:
		if len(snap.Repositories) != 2 {
			t.Fatalf("expected coalesced snapshot with 2 repositories, got %d", len(snap.Repositories))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected debounced snapshot")
	}
}

func TestLoadMigratesLegacyRepoURL(t *testing.T) {
	fs := afero.NewMemMapFs()
	legacy := `{
		"repositories": [],
		"projects": [
			{
				"id": "p1",
				"name": "legacy project",
				"workingBranch": "ralph/legacy-1",
				"status": "idle",
				"maxIterations": 50,
				"repoUrl": "git@github.com:re-cinq/ralph.git"
			}
		],
		"settings": {
			"maxParallelProjects": 3,
			"maxTaskAttempts": 3,
			"workspacesPath": "workspaces",
			"agentExecutable": "claude"
		}
	}`
	if err := afero.WriteFile(fs, "/data/state.json", []byte(legacy), 0644); err != nil {
		t.Fatalf("seeding legacy state: %v", err)
	}

	m, err := NewManager("/data/state.json", fs, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	snap := m.GetState()
	if len(snap.Repositories) != 1 {
		t.Fatalf("expected synthesized repository, got %d", len(snap.Repositories))
	}
	if snap.Projects[0].RepositoryID != snap.Repositories[0].ID {
		t.Fatal("expected project to reference synthesized repository")
	}
	if snap.Repositories[0].OwnerSlashName != "re-cinq/ralph" {
		t.Fatalf("expected owner/name re-cinq/ralph, got %s", snap.Repositories[0].OwnerSlashName)
	}

	persisted, err := afero.ReadFile(fs, "/data/state.json")
	if err != nil {
		t.Fatalf("reading persisted state: %v", err)
	}
	var roundTrip Snapshot
	if err := json.Unmarshal(persisted, &roundTrip); err != nil {
		t.Fatalf("unmarshal persisted state: %v", err)
	}
	if len(roundTrip.Repositories) != 1 {
		t.Fatalf("expected persisted migration, got %d repositories", len(roundTrip.Repositories))
	}
}

func TestDeriveWorkingBranch(t *testing.T) {
	got := DeriveWorkingBranch("Add Feature X!", 1700000000)
	want := "ralph/add-feature-x-1700000000"
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}
