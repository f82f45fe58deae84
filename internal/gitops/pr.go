package gitops

import (
	"fmt"
	"os/exec"
	"strings"
)

// CreatePullRequest invokes the GitHub CLI to open a PR from the current
// branch. Requires gh on PATH (spec.md §4.3).
func (d *Driver) CreatePullRequest(dir, title, body, base string) Result {
	out, err := runGH(dir, "pr", "create",
		"--title", title,
		"--body", body,
		"--base", base,
	)
	if err != nil {
		if isAuthError(err) {
			return fail(out, fmt.Errorf("gh not authenticated, run `gh auth login`: %w", err))
		}
		return fail(out, fmt.Errorf("create PR: %w", err))
	}
	return ok(strings.TrimSpace(out))
}

// runGH executes a gh CLI command in dir.
func runGH(dir string, args ...string) (string, error) {
	cmd := exec.Command("gh", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// isAuthError checks if an error is related to gh CLI authentication
// (other_examples orc executor's isAuthError).
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "not logged in") ||
		strings.Contains(errStr, "not authenticated") ||
		strings.Contains(errStr, "authentication required") ||
		strings.Contains(errStr, "failed to authenticate") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "auth token")
}

// isNonFastForwardError checks if an error is a git non-fast-forward push
// rejection, signaling a diverged branch from a previous run
// (other_examples orc executor's isNonFastForwardError).
func isNonFastForwardError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "non-fast-forward") ||
		(strings.Contains(errStr, "rejected") && strings.Contains(errStr, "fetch first")) ||
		(strings.Contains(errStr, "failed to push") && strings.Contains(errStr, "behind"))
}
