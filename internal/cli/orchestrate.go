package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/re-cinq/ralph/internal/orchestrator"
	"github.com/re-cinq/ralph/internal/state"
	"github.com/re-cinq/ralph/internal/workspace"
)

func init() {
	orchestratorCmd.AddCommand(orchestratorStartCmd, orchestratorStopCmd, orchestratorPauseCmd, orchestratorResumeCmd, orchestratorStatusCmd)
	rootCmd.AddCommand(orchestratorCmd)
}

var orchestratorCmd = &cobra.Command{
	Use:     "orchestrator",
	Aliases: []string{"orch"},
	Short:   "Drive a project's task loop",
}

// statusPollInterval is how often a blocking `start` checks for loop
// termination and a remote stop/status command checks for a reconciled
// state, the way the teacher's status --follow polled its station files.
const statusPollInterval = 250 * time.Millisecond

var orchestratorStartCmd = &cobra.Command{
	Use:   "start <project-id>",
	Short: "Clone, branch, and run a project's task loop until it reaches a terminal state",
	Long: "Clone, branch, and run a project's task loop until it reaches a terminal\n" +
		"state (completed, failed, or idled by a stop). This process is that\n" +
		"project's runner for the duration of the run — like the teacher's\n" +
		"line runner, it records its PID and blocks; Ctrl-C (or a `stop` from\n" +
		"another terminal) cancels the current iteration and reverts any\n" +
		"in-flight task before exiting.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		projectID := args[0]
		if err := reportAdmissionError(a.Orchestrator.Start(projectID)); err != nil {
			return err
		}
		return blockUntilTerminal(a, projectID)
	},
}

// blockUntilTerminal keeps the process alive for projectID's entire run,
// translating SIGINT/SIGTERM into a graceful Stop — the shape spec.md's
// admission control needs to actually drive a project instead of orphaning
// its loop goroutine the instant RunE returns.
func blockUntilTerminal(a *app, projectID string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "stop requested, reverting in-flight task and exiting...")
			_ = a.Orchestrator.Stop(projectID)
		case <-ticker.C:
			if _, running := a.Orchestrator.Status()[projectID]; running {
				continue
			}
			snap := a.State.GetState()
			for _, p := range snap.Projects {
				if p.ID == projectID {
					fmt.Printf("project %s finished: %s\n", projectID, p.Status)
					return nil
				}
			}
			return nil
		}
	}
}

var orchestratorStopCmd = &cobra.Command{
	Use:   "stop <project-id>",
	Short: "Cancel a running project's current iteration and set it idle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		projectID := args[0]
		err = a.Orchestrator.Stop(projectID)
		if errors.Is(err, orchestrator.ErrNotFound) {
			// Not tracked by this process's in-memory registry: the loop
			// that owns projectID is a separate `orchestrator start`
			// process, reached by signaling its recorded PID instead
			// (teacher's IsRunnerAlive pairing, turned into a delivery
			// mechanism rather than just a guard).
			return signalRemoteStop(a, projectID)
		}
		return reportAdmissionError(err)
	},
}

func signalRemoteStop(a *app, projectID string) error {
	pid := a.Orchestrator.ReadPID(projectID)
	if pid == 0 || !a.Orchestrator.IsAlive(projectID) {
		return fmt.Errorf("project not found or not currently orchestrated")
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("locating running process (pid %d): %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signaling running process (pid %d): %w", pid, err)
	}
	fmt.Printf("sent stop signal to pid %d\n", pid)
	return nil
}

var orchestratorPauseCmd = &cobra.Command{
	Use:   "pause <project-id>",
	Short: "Pause a running project; its loop exits after the current iteration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		// Pause only flips Project.Status; the running process's loop
		// (in this or another OS process) re-reads state.json every
		// iteration and observes the change on its own, so no signal is
		// needed even across processes — unlike Stop, which cancels an
		// in-memory context that a separate process can't reach directly.
		projectID := args[0]
		err = a.Orchestrator.Pause(projectID)
		if errors.Is(err, orchestrator.ErrNotFound) && a.Orchestrator.IsAlive(projectID) {
			paused := state.ProjectPaused
			_, err = a.State.UpdateProject(projectID, state.ProjectPatch{Status: &paused})
		}
		return reportAdmissionError(err)
	},
}

var orchestratorResumeCmd = &cobra.Command{
	Use:   "resume <project-id>",
	Short: "Resume a paused project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := reportAdmissionError(a.Orchestrator.Resume(args[0])); err != nil {
			return err
		}
		return blockUntilTerminal(a, args[0])
	},
}

var orchestratorStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List actively-orchestrated projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		// The in-process registry only ever has entries when this very
		// process also called Start (tests, or a command racing a
		// same-process `start`). The common case is a separate blocking
		// `start` process elsewhere, so project status comes from
		// state.json (already reconciled against stale PIDs by newApp),
		// and the current task, when not known in-process, from tasks.json.
		entries := a.Orchestrator.Status()
		snap := a.State.GetState()
		var running []state.Project
		for _, p := range snap.Projects {
			if p.Status == state.ProjectRunning {
				running = append(running, p)
			}
		}
		sort.Slice(running, func(i, j int) bool { return running[i].ID < running[j].ID })

		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "  PROJECT\tSTATE\tCURRENT TASK")
		for _, p := range running {
			status, task := orchestrator.RunRunning, currentTaskID(a, p)
			if e, ok := entries[p.ID]; ok {
				status = e.Status
				if e.CurrentTaskID != "" {
					task = e.CurrentTaskID
				}
			}
			symbol, color := runStateDisplay(status)
			fmt.Fprintf(w, "%s %s\t%s\t%s\n", colorize(color, symbol), p.ID, status, task)
		}
		return w.Flush()
	},
}

// currentTaskID finds p's in-progress (or verifying) task by reading
// tasks.json directly, the cross-process fallback for when no in-process
// registry entry carries CurrentTaskID.
func currentTaskID(a *app, p state.Project) string {
	snap := a.State.GetState()
	for _, r := range snap.Repositories {
		if r.ID != p.RepositoryID {
			continue
		}
		tf, err := a.Store.ReadTasks(a.workDir(p, r))
		if err != nil {
			return "—"
		}
		for _, t := range tf.Tasks {
			if t.Status == workspace.TaskInProgress || t.Status == workspace.TaskVerifying {
				return t.ID
			}
		}
	}
	return "—"
}

// reportAdmissionError maps orchestrator admission errors (spec.md §7) to
// friendlier CLI messages; anything else passes through unchanged.
func reportAdmissionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		return fmt.Errorf("project is already running")
	case errors.Is(err, orchestrator.ErrCapacityExceeded):
		return fmt.Errorf("at max-parallel-projects capacity; stop or wait for another project to finish")
	case errors.Is(err, orchestrator.ErrNotFound):
		return fmt.Errorf("project not found or not currently orchestrated")
	case errors.Is(err, orchestrator.ErrNotPaused):
		return fmt.Errorf("project is not paused")
	default:
		return err
	}
}
