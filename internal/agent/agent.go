// Package agent runs the code-agent CLI as a supervised child process
// under a pseudo-terminal, streaming its output to a log file and an
// eventbus.Bus, and parsing completion markers from combined output
// (spec.md §4.4). The pty invocation is grounded on the teacher's
// internal/engine/engine.go invokeAgent, extended with context.Context
// cancellation and the TASK_COMPLETE/TASK_BLOCKED parser the teacher
// doesn't have.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// ptyRows/ptyCols fix the pseudo-terminal size the agent runs under
// (spec.md §4.4).
const (
	ptyRows = 30
	ptyCols = 120
)

// killGracePeriod is how long to wait after SIGTERM before escalating to
// SIGKILL (spec.md §4.4 "a few seconds").
const killGracePeriod = 5 * time.Second

// ProcessSpec describes one agent invocation (spec.md §4.4).
type ProcessSpec struct {
	ProjectID        string
	TaskID           string
	Prompt           string
	WorkingDirectory string
	LogFilePath      string
	AllowedTools     []string
	DisallowedTools  []string
}

// Outcome is the result of one agent invocation (spec.md §4.4).
type Outcome struct {
	OK             bool
	Stopped        bool
	CombinedOutput string
	TaskComplete   bool
	TaskBlocked    bool
	BlockedReason  string
	Err            error
}

var (
	taskCompleteMarker = "TASK_COMPLETE"
	taskBlockedMarker  = "TASK_BLOCKED"
	blockedPlainMarker = "BLOCKED"

	taskBlockedReasonPattern = regexp.MustCompile(`TASK_BLOCKED:\s*(.+)`)
	blockedReasonPattern     = regexp.MustCompile(`BLOCKED:\s*(.+)`)
)

// Runner spawns the agent executable (e.g. "claude") for each ProcessSpec.
type Runner struct {
	Executable string
	LogChunk   func(projectID, taskID string, chunk []byte)
}

// NewRunner builds a Runner invoking executable, publishing output chunks
// to logChunk (may be nil to disable).
func NewRunner(executable string, logChunk func(projectID, taskID string, chunk []byte)) *Runner {
	return &Runner{Executable: executable, LogChunk: logChunk}
}

// Run invokes the agent per ProcessSpec's contract: prompt via -p, a
// permission mode suppressing interactive prompts, tool allow/deny lists,
// NO_COLOR/FORCE_COLOR disabled, under a 120x30 pty rooted at
// spec.WorkingDirectory (spec.md §4.4).
func (r *Runner) Run(ctx context.Context, spec ProcessSpec) Outcome {
	logFile, err := os.OpenFile(spec.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return Outcome{Err: fmt.Errorf("opening log file %s: %w", spec.LogFilePath, err)}
	}
	defer logFile.Close()

	args := buildArgs(spec)
	cmd := exec.Command(r.Executable, args...)
	cmd.Dir = spec.WorkingDirectory
	cmd.Env = append(os.Environ(), "NO_COLOR=1", "FORCE_COLOR=0")

	ptmx, pts, err := pty.Open()
	if err != nil {
		return Outcome{Err: fmt.Errorf("opening pty: %w", err)}
	}
	defer ptmx.Close()
	_ = pty.Setsize(ptmx, &pty.Winsize{Rows: ptyRows, Cols: ptyCols})

	cmd.Stdin = strings.NewReader(spec.Prompt)
	cmd.Stdout = pts
	cmd.Stderr = pts

	if err := cmd.Start(); err != nil {
		pts.Close()
		return Outcome{Err: fmt.Errorf("starting agent: %w", err)}
	}
	pts.Close()

	var combined strings.Builder
	sink := io.MultiWriter(logFile, &combined, chunkWriter{spec: spec, publish: r.LogChunk})

	copyDone := make(chan error, 1)
	go func() {
		_, err := io.Copy(sink, ptmx)
		copyDone <- err
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	stopped := false
	select {
	case <-ctx.Done():
		stopped = true
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-waitDone:
		case <-time.After(killGracePeriod):
			_ = cmd.Process.Kill()
			<-waitDone
		}
		<-copyDone
	case copyErr := <-copyDone:
		if !isExpectedPTYClose(copyErr) {
			<-waitDone
			return Outcome{Err: fmt.Errorf("reading agent output: %w", copyErr)}
		}
		<-waitDone
	}

	output := combined.String()
	if stopped {
		return Outcome{Stopped: true, CombinedOutput: output, Err: ctx.Err()}
	}

	outcome := parseCompletion(output)
	outcome.OK = true
	outcome.CombinedOutput = output
	return outcome
}

func isExpectedPTYClose(err error) bool {
	if err == nil {
		return true
	}
	var pathErr *os.PathError
	return errors.As(err, &pathErr) && pathErr.Err == syscall.EIO
}

// buildArgs assembles CLI args per spec.md §4.4's invocation contract.
func buildArgs(spec ProcessSpec) []string {
	args := []string{"-p", spec.Prompt, "--permission-mode", "acceptEdits"}
	for _, t := range spec.AllowedTools {
		args = append(args, "--allowedTools", t)
	}
	for _, t := range spec.DisallowedTools {
		args = append(args, "--disallowedTools", t)
	}
	return args
}

// parseCompletion implements spec.md §4.4's case-sensitive completion
// parsing.
func parseCompletion(output string) Outcome {
	taskBlocked := strings.Contains(output, taskBlockedMarker) || strings.Contains(output, blockedPlainMarker)
	taskComplete := strings.Contains(output, taskCompleteMarker) && !taskBlocked

	var reason string
	if m := taskBlockedReasonPattern.FindStringSubmatch(output); m != nil {
		reason = strings.TrimSpace(m[1])
	} else if m := blockedReasonPattern.FindStringSubmatch(output); m != nil {
		reason = strings.TrimSpace(m[1])
	}

	return Outcome{TaskComplete: taskComplete, TaskBlocked: taskBlocked, BlockedReason: reason}
}

// chunkWriter publishes each Write call as one log chunk. io.Copy drives it
// from a single goroutine, so no locking is needed here.
type chunkWriter struct {
	spec    ProcessSpec
	publish func(projectID, taskID string, chunk []byte)
}

func (c chunkWriter) Write(p []byte) (int, error) {
	if c.publish != nil {
		c.publish(c.spec.ProjectID, c.spec.TaskID, append([]byte(nil), p...))
	}
	return len(p), nil
}
