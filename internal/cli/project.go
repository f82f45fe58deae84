package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/re-cinq/ralph/internal/state"
)

var (
	projectRepositoryID  string
	projectDescription   string
	projectProductBrief  string
	projectSolutionBrief string
	projectBaseBranch    string
	projectMaxIterations int
)

func init() {
	projectAddCmd.Flags().StringVar(&projectRepositoryID, "repository", "", "Repository id (required)")
	projectAddCmd.Flags().StringVar(&projectDescription, "description", "", "Short description")
	projectAddCmd.Flags().StringVar(&projectProductBrief, "product-brief", "", "Product context shown to the agent")
	projectAddCmd.Flags().StringVar(&projectSolutionBrief, "solution-brief", "", "Solution approach shown to the agent")
	projectAddCmd.Flags().StringVar(&projectBaseBranch, "base-branch", "", "Base branch (defaults to the repository's default branch)")
	projectAddCmd.Flags().IntVar(&projectMaxIterations, "max-iterations", 0, "Task-loop iteration budget (0 = default)")
	_ = projectAddCmd.MarkFlagRequired("repository")

	projectCmd.AddCommand(projectAddCmd, projectListCmd, projectShowCmd, projectRemoveCmd)
	rootCmd.AddCommand(projectCmd)
}

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a project against a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		proj, err := a.State.CreateProject(state.CreateProjectInput{
			RepositoryID:  projectRepositoryID,
			Name:          args[0],
			Description:   projectDescription,
			ProductBrief:  projectProductBrief,
			SolutionBrief: projectSolutionBrief,
			BaseBranch:    projectBaseBranch,
			MaxIterations: projectMaxIterations,
		})
		if err != nil {
			return err
		}
		fmt.Printf("created project %s (%s), working branch %s\n", proj.ID, proj.Name, proj.WorkingBranch)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		snap := a.State.GetState()
		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "  ID\tNAME\tSTATUS\tUPDATED")
		for _, p := range snap.Projects {
			symbol, color := projectStateDisplay(p.Status)
			fmt.Fprintf(w, "%s %s\t%s\t%s\t%s\n",
				colorize(color, symbol), p.ID, p.Name, p.Status, humanize.Time(p.UpdatedAt))
		}
		return w.Flush()
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a project's details",
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

		symbol, color := projectStateDisplay(proj.Status)
		fmt.Printf("%s %s  %s  (%s)\n", colorize(color, symbol), proj.Name, proj.Status, proj.ID)
		fmt.Printf("repository:     %s (%s)\n", repo.Name, repo.RemoteURL)
		fmt.Printf("base branch:    %s\n", coalesce(proj.BaseBranch, repo.DefaultBranch))
		fmt.Printf("working branch: %s\n", proj.WorkingBranch)
		if proj.Description != "" {
			fmt.Printf("description:    %s\n", proj.Description)
		}
		fmt.Printf("created:        %s\n", humanize.Time(proj.CreatedAt))
		fmt.Printf("updated:        %s\n", humanize.Time(proj.UpdatedAt))
		return nil
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return a.State.DeleteProject(args[0])
	},
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
