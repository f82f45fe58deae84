package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	ignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"

	"github.com/re-cinq/ralph/internal/fileutil"
)

const ralphIgnorePattern = "*"

// Store implements the on-disk contract between the engine and the coding
// agent (spec.md §4.2): tasks.json and logs.json under a Project's
// <workDir>/.ralph/ directory. Every caller passes the Project's working
// directory explicitly rather than an id, keeping this package decoupled
// from internal/state's catalog.
type Store struct {
	fs     afero.Fs
	logger *log.Logger
}

// NewStore builds a Store over fs, logging through logger (nil uses the
// package default).
func NewStore(fs afero.Fs, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{fs: fs, logger: logger.With("component", "workspace")}
}

// RalphDir returns <workDir>/.ralph.
func (s *Store) RalphDir(workDir string) string {
	return filepath.Join(workDir, ".ralph")
}

func (s *Store) tasksPath(workDir string) string {
	return filepath.Join(s.RalphDir(workDir), "tasks.json")
}

func (s *Store) logsPath(workDir string) string {
	return filepath.Join(s.RalphDir(workDir), "logs.json")
}

func (s *Store) gitignorePath(workDir string) string {
	return filepath.Join(s.RalphDir(workDir), ".gitignore")
}

// InitializeRalphFolder is idempotent: it creates .ralph/, writes a
// .gitignore containing "*", and seeds empty tasks.json/logs.json only if
// each is absent (spec.md §4.2).
func (s *Store) InitializeRalphFolder(workDir string, project ProjectSummary) error {
	dir := s.RalphDir(workDir)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	if exists, err := afero.Exists(s.fs, s.gitignorePath(workDir)); err != nil {
		return err
	} else if !exists {
		if err := afero.WriteFile(s.fs, s.gitignorePath(workDir), []byte(ralphIgnorePattern+"\n"), 0644); err != nil {
			return fmt.Errorf("writing .ralph/.gitignore: %w", err)
		}
	}
	if ok, err := s.VerifyGitignore(workDir); err != nil {
		return err
	} else if !ok {
		s.logger.Warn(".ralph/.gitignore does not cover the whole directory", "workDir", workDir)
	}

	if exists, err := afero.Exists(s.fs, s.tasksPath(workDir)); err != nil {
		return err
	} else if !exists {
		empty := TaskFile{Project: project, Tasks: []Task{}}
		if err := s.WriteTasks(workDir, empty); err != nil {
			return fmt.Errorf("seeding tasks.json: %w", err)
		}
	}

	if exists, err := afero.Exists(s.fs, s.logsPath(workDir)); err != nil {
		return err
	} else if !exists {
		if err := s.writeLogFile(workDir, LogFile{Entries: []LoopLogEntry{}}); err != nil {
			return fmt.Errorf("seeding logs.json: %w", err)
		}
	}

	return nil
}

// VerifyGitignore confirms .ralph/.gitignore's patterns match every file
// name workspace writes under .ralph/ (tasks.json, logs.json), the way the
// teacher's ignore_test.go checks a station's ignore patterns before
// trusting them not to leak into a commit.
func (s *Store) VerifyGitignore(workDir string) (bool, error) {
	data, err := afero.ReadFile(s.fs, s.gitignorePath(workDir))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading .ralph/.gitignore: %w", err)
	}

	lines := splitLines(string(data))
	gi := ignore.CompileIgnoreLines(lines...)
	if gi == nil {
		return false, nil
	}

	for _, name := range []string{"tasks.json", "logs.json"} {
		if !gi.MatchesPath(name) {
			return false, nil
		}
	}
	return true, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// ReadTasks reads tasks.json. A missing file returns an empty TaskFile
// rather than an error, matching spec.md §4.2's "Task may pre-date the
// workspace" lifecycle note.
func (s *Store) ReadTasks(workDir string) (TaskFile, error) {
	data, err := afero.ReadFile(s.fs, s.tasksPath(workDir))
	if os.IsNotExist(err) {
		return TaskFile{Tasks: []Task{}}, nil
	}
	if err != nil {
		return TaskFile{}, fmt.Errorf("reading tasks.json: %w", err)
	}
	var tf TaskFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return TaskFile{}, fmt.Errorf("parsing tasks.json: %w", err)
	}
	if tf.Tasks == nil {
		tf.Tasks = []Task{}
	}
	return tf, nil
}

// WriteTasks atomically replaces tasks.json (spec.md §4.2 invariant:
// readers see the pre- or post-write content in full, never a partial
// write).
func (s *Store) WriteTasks(workDir string, tf TaskFile) error {
	if err := s.fs.MkdirAll(s.RalphDir(workDir), 0755); err != nil {
		return fmt.Errorf("creating .ralph: %w", err)
	}
	if tf.Tasks == nil {
		tf.Tasks = []Task{}
	}
	if err := fileutil.WriteJSONAtomicFS(s.fs, s.tasksPath(workDir), tf); err != nil {
		return fmt.Errorf("writing tasks.json: %w", err)
	}
	return nil
}

// ReadLogs reads logs.json, returning an empty LogFile if absent.
func (s *Store) ReadLogs(workDir string) (LogFile, error) {
	data, err := afero.ReadFile(s.fs, s.logsPath(workDir))
	if os.IsNotExist(err) {
		return LogFile{Entries: []LoopLogEntry{}}, nil
	}
	if err != nil {
		return LogFile{}, fmt.Errorf("reading logs.json: %w", err)
	}
	var lf LogFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return LogFile{}, fmt.Errorf("parsing logs.json: %w", err)
	}
	if lf.Entries == nil {
		lf.Entries = []LoopLogEntry{}
	}
	return lf, nil
}

// AppendLog appends entry to logs.json, rewriting the file atomically
// (logs.json is small and bounded by loop iterations, so read-modify-write
// is acceptable rather than a true append stream).
func (s *Store) AppendLog(workDir string, entry LoopLogEntry) error {
	lf, err := s.ReadLogs(workDir)
	if err != nil {
		return err
	}
	lf.Entries = append(lf.Entries, entry)
	return s.writeLogFile(workDir, lf)
}

func (s *Store) writeLogFile(workDir string, lf LogFile) error {
	if err := s.fs.MkdirAll(s.RalphDir(workDir), 0755); err != nil {
		return fmt.Errorf("creating .ralph: %w", err)
	}
	if err := fileutil.WriteJSONAtomicFS(s.fs, s.logsPath(workDir), lf); err != nil {
		return fmt.Errorf("writing logs.json: %w", err)
	}
	return nil
}
