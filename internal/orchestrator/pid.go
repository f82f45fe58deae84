package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// pidPath returns the PID file for projectID, generalizing the teacher's
// single runner.pid (internal/engine/runner.go PIDPath) to one file per
// Project under RunDir.
func (o *Orchestrator) pidPath(projectID string) string {
	return filepath.Join(o.RunDir, projectID+".pid")
}

// writePID records the calling process's PID for projectID (teacher's
// WritePID). A blocking `orchestrator start` is the process that owns the
// loop goroutine for the duration of the run, so its own PID is what a
// later stop/status invocation, running as a separate process, needs to
// find.
func (o *Orchestrator) writePID(projectID string) error {
	if o.RunDir == "" {
		return nil
	}
	if err := os.MkdirAll(o.RunDir, 0755); err != nil {
		return fmt.Errorf("creating run dir: %w", err)
	}
	return os.WriteFile(o.pidPath(projectID), []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

// removePID deletes projectID's PID file, ignoring a missing file (teacher's
// RemovePID).
func (o *Orchestrator) removePID(projectID string) {
	if o.RunDir == "" {
		return
	}
	_ = os.Remove(o.pidPath(projectID))
}

// ReadPID returns the PID recorded for projectID, or 0 if none is recorded
// or the file can't be parsed (teacher's ReadPID).
func (o *Orchestrator) ReadPID(projectID string) int {
	if o.RunDir == "" {
		return 0
	}
	data, err := os.ReadFile(o.pidPath(projectID))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// IsAlive reports whether projectID's recorded PID still belongs to a live
// process (teacher's IsRunnerAlive, built on IsProcessAlive).
func (o *Orchestrator) IsAlive(projectID string) bool {
	return isProcessAlive(o.ReadPID(projectID))
}

// isProcessAlive signals pid with signal 0, which delivers no signal but
// still fails if the process doesn't exist (teacher's
// internal/engine/state.go IsProcessAlive).
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
