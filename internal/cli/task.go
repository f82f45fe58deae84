package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/re-cinq/ralph/internal/workspace"
)

func init() {
	taskCmd.AddCommand(taskListCmd, taskFindCmd)
	rootCmd.AddCommand(taskCmd)
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect a project's task backlog",
}

var taskListCmd = &cobra.Command{
	Use:   "list <project-id>",
	Short: "List a project's tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		tasks, err := loadTasks(a, args[0])
		if err != nil {
			return err
		}
		printTasks(tasks)
		return nil
	},
}

var taskFindCmd = &cobra.Command{
	Use:   "find <project-id> <query>",
	Short: "Fuzzy-search a project's task titles",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		tasks, err := loadTasks(a, args[0])
		if err != nil {
			return err
		}

		titles := make([]string, len(tasks))
		for i, t := range tasks {
			titles[i] = t.Title
		}

		matches := fuzzy.Find(args[1], titles)
		matched := make([]workspace.Task, len(matches))
		for i, m := range matches {
			matched[i] = tasks[m.Index]
		}
		printTasks(matched)
		return nil
	},
}

func loadTasks(a *app, projectID string) ([]workspace.Task, error) {
	proj, repo, err := a.findProject(projectID)
	if err != nil {
		return nil, err
	}
	tf, err := a.Store.ReadTasks(a.workDir(proj, repo))
	if err != nil {
		return nil, fmt.Errorf("reading tasks: %w", err)
	}
	return tf.Tasks, nil
}

func printTasks(tasks []workspace.Task) {
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tPRIORITY\tATTEMPTS\tTITLE\tUPDATED")
	for _, t := range tasks {
		symbol, color := taskStateDisplay(t.Status)
		updated := "—"
		if t.CompletedAt != nil {
			updated = humanize.Time(*t.CompletedAt)
		} else if t.VerifyingAt != nil {
			updated = humanize.Time(*t.VerifyingAt)
		} else if t.StartedAt != nil {
			updated = humanize.Time(*t.StartedAt)
		}
		fmt.Fprintf(w, "%s %s\t%d\t%d\t%s\t%s\n",
			colorize(color, symbol), t.ID, t.Priority, t.Attempts, t.Title, updated)
	}
	_ = w.Flush()
}
