// Package cli wires the ralph binary's cobra command tree: repository,
// project, task, orchestrator, logs, and watch. Command layout (one file
// per command group, root.go holding persistent flags, helpers.go holding
// shared app construction) follows the teacher's internal/cli package.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Orchestrate a coding agent against a backlog of tasks",
	Long: `ralph drives a coding agent through a project's task backlog: it clones a
repository, works one task at a time in a loop (execute, verify, commit),
and opens a pull request once the backlog is exhausted.

Repositories, projects, and settings live in a small on-disk catalog;
each project's task list and loop log live alongside its Git checkout.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to ralph.yaml (optional)")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ralph %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
