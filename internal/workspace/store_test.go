package workspace

import (
	"testing"

	"github.com/spf13/afero"
)

func newTestStore() (*Store, afero.Fs) {
	fs := afero.NewMemMapFs()
	return NewStore(fs, nil), fs
}

func TestInitializeRalphFolderIsIdempotent(t *testing.T) {
	s, fs := newTestStore()
	workDir := "/workspaces/p1/repo"
	project := ProjectSummary{ID: "p1", Name: "demo"}

	if err := s.InitializeRalphFolder(workDir, project); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if err := s.InitializeRalphFolder(workDir, project); err != nil {
		t.Fatalf("second init: %v", err)
	}

	ok, err := s.VerifyGitignore(workDir)
	if err != nil {
		t.Fatalf("VerifyGitignore: %v", err)
	}
	if !ok {
		t.Fatal("expected .gitignore to cover tasks.json and logs.json")
	}

	data, err := afero.ReadFile(fs, s.gitignorePath(workDir))
	if err != nil {
		t.Fatalf("reading .gitignore: %v", err)
	}
	if string(data) != "*\n" {
		t.Fatalf("unexpected .gitignore content: %q", data)
	}
}

func TestInitializeRalphFolderDoesNotOverwriteExistingTasks(t *testing.T) {
	s, _ := newTestStore()
	workDir := "/workspaces/p1/repo"
	project := ProjectSummary{ID: "p1", Name: "demo"}

	if err := s.InitializeRalphFolder(workDir, project); err != nil {
		t.Fatalf("init: %v", err)
	}

	seeded := TaskFile{
		Project: project,
		Tasks:   []Task{{ID: NewTaskID(), Title: "existing", Status: TaskBacklog}},
	}
	if err := s.WriteTasks(workDir, seeded); err != nil {
		t.Fatalf("WriteTasks: %v", err)
	}

	if err := s.InitializeRalphFolder(workDir, project); err != nil {
		t.Fatalf("re-init: %v", err)
	}

	tf, err := s.ReadTasks(workDir)
	if err != nil {
		t.Fatalf("ReadTasks: %v", err)
	}
	if len(tf.Tasks) != 1 || tf.Tasks[0].Title != "existing" {
		t.Fatalf("expected existing task preserved, got %+v", tf.Tasks)
	}
}

func TestReadTasksMissingFileReturnsEmpty(t *testing.T) {
	s, _ := newTestStore()
	tf, err := s.ReadTasks("/workspaces/missing/repo")
	if err != nil {
		t.Fatalf("ReadTasks: %v", err)
	}
	if len(tf.Tasks) != 0 {
		t.Fatalf("expected empty task list, got %+v", tf.Tasks)
	}
}

func TestWriteAndReadTasksRoundTrip(t *testing.T) {
	s, _ := newTestStore()
	workDir := "/workspaces/p1/repo"

	tf := TaskFile{
		Project: ProjectSummary{ID: "p1", Name: "demo"},
		Tasks: []Task{
			{ID: NewTaskID(), Title: "build thing", Status: TaskBacklog, Priority: 1},
			{ID: NewTaskID(), Title: "test thing", Status: TaskInProgress, Priority: 2, Attempts: 1},
		},
	}
	if err := s.WriteTasks(workDir, tf); err != nil {
		t.Fatalf("WriteTasks: %v", err)
	}

	got, err := s.ReadTasks(workDir)
	if err != nil {
		t.Fatalf("ReadTasks: %v", err)
	}
	if len(got.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(got.Tasks))
	}
	if got.Tasks[1].Status != TaskInProgress || got.Tasks[1].Attempts != 1 {
		t.Fatalf("unexpected round-tripped task: %+v", got.Tasks[1])
	}
}

func TestAppendAndReadLogs(t *testing.T) {
	s, _ := newTestStore()
	workDir := "/workspaces/p1/repo"

	if err := s.AppendLog(workDir, LoopLogEntry{Iteration: 1, Action: "select_task", Message: "picked t1"}); err != nil {
		t.Fatalf("AppendLog 1: %v", err)
	}
	if err := s.AppendLog(workDir, LoopLogEntry{Iteration: 1, Action: "complete_task", TaskID: "t1"}); err != nil {
		t.Fatalf("AppendLog 2: %v", err)
	}

	lf, err := s.ReadLogs(workDir)
	if err != nil {
		t.Fatalf("ReadLogs: %v", err)
	}
	if len(lf.Entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(lf.Entries))
	}
	if lf.Entries[1].TaskID != "t1" {
		t.Fatalf("unexpected second entry: %+v", lf.Entries[1])
	}
}

func TestNewTaskIDsAreSortableAndUnique(t *testing.T) {
	a := NewTaskID()
	b := NewTaskID()
	if a == b {
		t.Fatal("expected distinct ids")
	}
	if a >= b {
		t.Fatalf("expected monotonically increasing ids, got %s then %s", a, b)
	}
}
