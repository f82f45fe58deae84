package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/re-cinq/ralph/internal/workspace"
)

var (
	logsTaskID string
	logsFollow bool
)

func init() {
	logsCmd.Flags().StringVar(&logsTaskID, "task", "", "Only show entries for this task id")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Poll logs.json and print new entries as they appear")
	rootCmd.AddCommand(logsCmd)
}

var logsCmd = &cobra.Command{
	Use:   "logs <project-id>",
	Short: "Show a project's loop log (.ralph/logs.json)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		proj, repo, err := a.findProject(args[0])
		if err != nil {
			return err
		}
		workDir := a.workDir(proj, repo)

		printed := 0
		printNew := func() error {
			lf, err := a.Store.ReadLogs(workDir)
			if err != nil {
				return fmt.Errorf("reading logs: %w", err)
			}
			for _, e := range lf.Entries[printed:] {
				if logsTaskID != "" && e.TaskID != logsTaskID {
					continue
				}
				printLogEntry(e)
			}
			printed = len(lf.Entries)
			return nil
		}

		if err := printNew(); err != nil {
			return err
		}
		if !logsFollow {
			return nil
		}

		for {
			time.Sleep(time.Second)
			if err := printNew(); err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
			}
		}
	},
}

func printLogEntry(e workspace.LoopLogEntry) {
	ts := e.Timestamp.Format("15:04:05")
	switch {
	case e.From != "" && e.To != "":
		fmt.Printf("%s  [%d] %s: %s -> %s", ts, e.Iteration, e.TaskID, e.From, e.To)
	default:
		fmt.Printf("%s  [%d] %s", ts, e.Iteration, e.Action)
	}
	if e.Message != "" {
		fmt.Printf("  %s", e.Message)
	}
	if e.FilePath != "" {
		fmt.Printf("  (%s)", e.FilePath)
	}
	fmt.Println()
}
