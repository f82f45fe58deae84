package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/re-cinq/ralph/internal/state"
)

var (
	repoDefaultBranch string
	repoPrivate       bool
	repoOwnerSlash    string
)

func init() {
	repositoryAddCmd.Flags().StringVar(&repoDefaultBranch, "default-branch", "main", "Default branch of the repository")
	repositoryAddCmd.Flags().StringVar(&repoOwnerSlash, "owner", "", "owner/name, if different from the URL")
	repositoryAddCmd.Flags().BoolVar(&repoPrivate, "private", false, "Mark the repository private")
	repositoryCmd.AddCommand(repositoryAddCmd, repositoryListCmd, repositoryRemoveCmd)
	rootCmd.AddCommand(repositoryCmd)
}

var repositoryCmd = &cobra.Command{
	Use:     "repository",
	Aliases: []string{"repo"},
	Short:   "Manage tracked repositories",
}

var repositoryAddCmd = &cobra.Command{
	Use:   "add <name> <remote-url>",
	Short: "Register a repository",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		repo, err := a.State.CreateRepository(state.CreateRepositoryInput{
			Name:           args[0],
			OwnerSlashName: repoOwnerSlash,
			RemoteURL:      args[1],
			DefaultBranch:  repoDefaultBranch,
			Private:        repoPrivate,
		})
		if err != nil {
			return err
		}
		fmt.Printf("created repository %s (%s)\n", repo.ID, repo.Name)
		return nil
	},
}

var repositoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked repositories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		snap := a.State.GetState()
		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDEFAULT BRANCH\tREMOTE")
		for _, r := range snap.Repositories {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Name, r.DefaultBranch, r.RemoteURL)
		}
		return w.Flush()
	},
}

var repositoryRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a repository (fails if any project depends on it)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return a.State.DeleteRepository(args[0])
	},
}
