package fileutil

import "path/filepath"

// RalphDir returns the .ralph coordination directory path for a workspace.
func RalphDir(workspaceDir string) string {
	return filepath.Join(workspaceDir, ".ralph")
}

// RalphSubpath returns a path within a workspace's .ralph directory.
func RalphSubpath(workspaceDir, subpath string) string {
	return filepath.Join(workspaceDir, ".ralph", subpath)
}
