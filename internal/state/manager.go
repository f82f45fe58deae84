package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/re-cinq/ralph/internal/config"
	"github.com/re-cinq/ralph/internal/fileutil"
)

// debouncePeriod coalesces bursts of writes into a single subscriber
// notification (spec.md §4.1: "writes are coalesced with a short debounce
// (~100 ms) to bound write amplification").
const debouncePeriod = 100 * time.Millisecond

// Manager is the single writer of state.json (spec.md §4.1). It owns
// Repository, Project, and Settings records, persists them atomically, and
// republishes on external mutation.
type Manager struct {
	path   string
	fs     afero.Fs
	logger *log.Logger

	mu       sync.Mutex
	snapshot Snapshot
	lastData []byte

	subMu       sync.Mutex
	subscribers map[int]chan Snapshot
	nextSubID   int

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewManager loads (or initializes) state.json at path and starts watching
// it for external modification. fs is an afero.Fs seam so tests can run
// against an in-memory filesystem; pass afero.NewOsFs() in production.
func NewManager(path string, fs afero.Fs, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.Default()
	}
	m := &Manager{
		path:        path,
		fs:          fs,
		logger:      logger.With("component", "state"),
		subscribers: make(map[int]chan Snapshot),
		stopCh:      make(chan struct{}),
	}

	if err := m.load(); err != nil {
		return nil, err
	}

	if _, ok := fs.(*afero.OsFs); ok {
		if err := m.startWatch(); err != nil {
			m.logger.Warn("file watch unavailable, external edits will not be detected live", "error", err)
		}
	}

	return m, nil
}

// load reads state.json, falling back to empty defaults on any read or
// parse error (spec.md §4.1 failure semantics), and migrates legacy schema
// in place.
func (m *Manager) load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := afero.ReadFile(m.fs, m.path)
	switch {
	case os.IsNotExist(err):
		m.snapshot = m.emptySnapshot()
		return nil
	case err != nil:
		m.logger.Error("reading state.json, falling back to empty defaults", "error", err)
		m.snapshot = m.emptySnapshot()
		return nil
	}

	var raw rawSnapshot
	if err := json.Unmarshal(data, &raw); err != nil {
		m.logger.Error("parsing state.json, falling back to empty defaults", "error", err)
		m.snapshot = m.emptySnapshot()
		return nil
	}

	snap, migrated := migrate(raw)
	if snap.Settings == (config.Settings{}) {
		snap.Settings = m.emptySnapshot().Settings
	}
	m.snapshot = snap
	m.lastData = data

	if migrated {
		m.logger.Info("migrated legacy project repoUrl fields to Repository records")
		if err := m.persistLocked(); err != nil {
			return fmt.Errorf("persisting migrated state: %w", err)
		}
	}
	return nil
}

func (m *Manager) emptySnapshot() Snapshot {
	return Snapshot{
		Repositories: []Repository{},
		Projects:     []Project{},
		Settings: config.Settings{
			MaxParallelProjects: config.DefaultMaxParallelProjects,
			MaxTaskAttempts:     config.DefaultMaxTaskAttempts,
			WorkspacesPath:      "workspaces",
			AgentExecutable:     config.DefaultAgentExecutable,
		},
	}
}

// persistLocked serializes the current snapshot and writes it atomically.
// Callers must hold m.mu.
func (m *Manager) persistLocked() error {
	data, err := json.MarshalIndent(m.snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	data = append(data, '\n')

	if err := m.fs.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	if err := fileutil.WriteFileAtomicFS(m.fs, m.path, data, 0644); err != nil {
		return fmt.Errorf("writing state.json: %w", err)
	}
	m.lastData = data
	return nil
}

// GetState returns a consistent copy of the catalog (spec.md §4.1).
func (m *Manager) GetState() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return deepCopy(m.snapshot)
}

// CreateRepository assigns an id and persists a new Repository.
func (m *Manager) CreateRepository(input CreateRepositoryInput) (Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	repo := Repository{
		ID:             uuid.NewString(),
		Name:           input.Name,
		OwnerSlashName: input.OwnerSlashName,
		RemoteURL:      input.RemoteURL,
		DefaultBranch:  input.DefaultBranch,
		Private:        input.Private,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.snapshot.Repositories = append(m.snapshot.Repositories, repo)
	if err := m.persistLocked(); err != nil {
		return Repository{}, err
	}
	m.scheduleEmit()
	return repo, nil
}

// DeleteRepository fails with ErrHasDependents if any Project references id
// (spec.md §3 invariant).
func (m *Manager) DeleteRepository(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.snapshot.Projects {
		if p.RepositoryID == id {
			return ErrHasDependents
		}
	}

	idx := indexOfRepository(m.snapshot.Repositories, id)
	if idx < 0 {
		return ErrNotFound
	}
	m.snapshot.Repositories = append(m.snapshot.Repositories[:idx], m.snapshot.Repositories[idx+1:]...)
	if err := m.persistLocked(); err != nil {
		return err
	}
	m.scheduleEmit()
	return nil
}

// CreateProject assigns an id, derives workingBranch, and persists a new
// Project (spec.md §4.1).
func (m *Manager) CreateProject(input CreateProjectInput) (Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if indexOfRepository(m.snapshot.Repositories, input.RepositoryID) < 0 {
		return Project{}, fmt.Errorf("repository %s: %w", input.RepositoryID, ErrNotFound)
	}

	maxIter := input.MaxIterations
	if maxIter == 0 {
		maxIter = DefaultMaxIterations
	}

	now := time.Now().UTC()
	proj := Project{
		ID:            uuid.NewString(),
		RepositoryID:  input.RepositoryID,
		Name:          input.Name,
		Description:   input.Description,
		ProductBrief:  input.ProductBrief,
		SolutionBrief: input.SolutionBrief,
		BaseBranch:    input.BaseBranch,
		WorkingBranch: DeriveWorkingBranch(input.Name, now.Unix()),
		Status:        ProjectIdle,
		MaxIterations: maxIter,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.snapshot.Projects = append(m.snapshot.Projects, proj)
	if err := m.persistLocked(); err != nil {
		return Project{}, err
	}
	m.scheduleEmit()
	return proj, nil
}

// UpdateProject applies a partial update to a Project.
func (m *Manager) UpdateProject(id string, patch ProjectPatch) (Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := indexOfProject(m.snapshot.Projects, id)
	if idx < 0 {
		return Project{}, ErrNotFound
	}
	p := &m.snapshot.Projects[idx]
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.ProductBrief != nil {
		p.ProductBrief = *patch.ProductBrief
	}
	if patch.SolutionBrief != nil {
		p.SolutionBrief = *patch.SolutionBrief
	}
	if patch.BaseBranch != nil {
		p.BaseBranch = *patch.BaseBranch
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.MaxIterations != nil {
		p.MaxIterations = *patch.MaxIterations
	}
	if patch.CurrentIteration != nil {
		p.CurrentIteration = *patch.CurrentIteration
	}
	p.UpdatedAt = time.Now().UTC()

	if err := m.persistLocked(); err != nil {
		return Project{}, err
	}
	m.scheduleEmit()
	return *p, nil
}

// DeleteProject removes a Project from the catalog.
func (m *Manager) DeleteProject(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := indexOfProject(m.snapshot.Projects, id)
	if idx < 0 {
		return ErrNotFound
	}
	m.snapshot.Projects = append(m.snapshot.Projects[:idx], m.snapshot.Projects[idx+1:]...)
	if err := m.persistLocked(); err != nil {
		return err
	}
	m.scheduleEmit()
	return nil
}

// UpdateSettings applies a partial update to the Settings singleton.
func (m *Manager) UpdateSettings(patch SettingsPatch) (config.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &m.snapshot.Settings
	if patch.MaxParallelProjects != nil {
		s.MaxParallelProjects = *patch.MaxParallelProjects
	}
	if patch.MaxTaskAttempts != nil {
		s.MaxTaskAttempts = *patch.MaxTaskAttempts
	}
	if patch.WorkspacesPath != nil {
		s.WorkspacesPath = *patch.WorkspacesPath
	}
	if patch.AgentExecutable != nil {
		s.AgentExecutable = *patch.AgentExecutable
	}

	if err := m.persistLocked(); err != nil {
		return config.Settings{}, err
	}
	m.scheduleEmit()
	return *s, nil
}

// Subscribe returns a channel that receives the latest Snapshot after every
// successful write (coalesced by debouncePeriod). The channel has a small
// bounded buffer; a slow subscriber has its oldest pending snapshot dropped
// in favor of the newest one rather than blocking the writer (spec.md §9).
func (m *Manager) Subscribe() <-chan Snapshot {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	ch := make(chan Snapshot, 1)
	m.subscribers[id] = ch

	select {
	case ch <- m.GetState():
	default:
	}
	return ch
}

// scheduleEmit debounces subscriber notification by debouncePeriod.
func (m *Manager) scheduleEmit() {
	m.debounceMu.Lock()
	defer m.debounceMu.Unlock()

	if m.debounceTimer != nil {
		return
	}
	m.debounceTimer = time.AfterFunc(debouncePeriod, func() {
		m.debounceMu.Lock()
		m.debounceTimer = nil
		m.debounceMu.Unlock()
		m.broadcast(m.GetState())
	})
}

func (m *Manager) broadcast(snap Snapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- snap:
		default:
			// Drop the stale pending snapshot and replace it with the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// startWatch watches the directory containing state.json for external
// modification (spec.md §4.1). fsnotify cannot watch a file that doesn't
// exist yet, so the parent directory is watched and events are filtered by
// name.
func (m *Manager) startWatch() error {
	if err := fileutil.EnsureDir(filepath.Dir(m.path)); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(m.path), err)
	}
	m.watcher = watcher

	m.wg.Add(1)
	go m.watchLoop()
	return nil
}

func (m *Manager) watchLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			m.reconcileExternalChange()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("file watch error", "error", err)
		}
	}
}

// reconcileExternalChange reloads state.json if its on-disk content differs
// from what this Manager last wrote, then republishes (spec.md §4.1).
func (m *Manager) reconcileExternalChange() {
	data, err := afero.ReadFile(m.fs, m.path)
	if err != nil {
		return
	}

	m.mu.Lock()
	unchanged := bytes.Equal(data, m.lastData)
	m.mu.Unlock()
	if unchanged {
		return
	}

	if err := m.load(); err != nil {
		m.logger.Error("reloading externally modified state.json", "error", err)
		return
	}
	m.logger.Info("reloaded externally modified state.json")
	m.scheduleEmit()
}

// Close stops the file watcher.
func (m *Manager) Close() error {
	close(m.stopCh)
	if m.watcher != nil {
		_ = m.watcher.Close()
	}
	m.wg.Wait()
	return nil
}

func indexOfRepository(repos []Repository, id string) int {
	for i, r := range repos {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func indexOfProject(projects []Project, id string) int {
	for i, p := range projects {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func deepCopy(s Snapshot) Snapshot {
	repos := append([]Repository(nil), s.Repositories...)
	projects := append([]Project(nil), s.Projects...)
	return Snapshot{Repositories: repos, Projects: projects, Settings: s.Settings}
}
