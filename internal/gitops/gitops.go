// Package gitops implements all Git and GitHub-PR interactions behind a
// uniform {ok, output, error} result (spec.md §4.3). The retry-with-backoff
// git runner and the rebase-then-hard-reset conflict policy are kept close
// to the teacher's internal/git/git.go, which already matches this
// contract; clone, push, and PR creation are new, the latter grounded on
// other_examples' orc PR-completion flow.
package gitops

import (
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Retry constants for transient git errors (teacher's internal/git/git.go).
const (
	retryInitialDelay = 200 * time.Millisecond
	retryMaxAttempts  = 6
	retryMultiplier   = 2
)

var transientPatterns = []string{
	"index file open failed",
	"index.lock",
	"cannot lock ref",
}

func isTransient(errMsg string) bool {
	for _, p := range transientPatterns {
		if strings.Contains(errMsg, p) {
			return true
		}
	}
	return false
}

// Result is the uniform outcome of a gitops operation (spec.md §4.3).
type Result struct {
	OK     bool
	Output string
	Error  error
}

func ok(output string) Result { return Result{OK: true, Output: output} }

func fail(output string, err error) Result { return Result{OK: false, Output: output, Error: err} }

// sleepFunc is replaced in tests to avoid real delays.
var sleepFunc = time.Sleep

// Driver runs git and gh against checkouts under WorkspaceRoot
// (<workspacesPath>/<projectId>/<repoName>, per spec.md §4.2-4.3).
type Driver struct {
	WorkspaceRoot string
}

// NewDriver builds a Driver rooted at workspaceRoot.
func NewDriver(workspaceRoot string) *Driver {
	return &Driver{WorkspaceRoot: workspaceRoot}
}

// RepoDir returns the working directory for a Project's checkout.
func (d *Driver) RepoDir(projectID, repoName string) string {
	return filepath.Join(d.WorkspaceRoot, projectID, repoName)
}

// run executes a git command in dir, retrying transient lock failures with
// exponential backoff (teacher's internal/git/git.go run()).
func run(dir string, args ...string) (string, error) {
	delay := retryInitialDelay
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		if err == nil {
			return strings.TrimSpace(string(out)), nil
		}
		errMsg := strings.TrimSpace(string(out))
		if !isTransient(errMsg) || attempt == retryMaxAttempts-1 {
			return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), errMsg, err)
		}
		sleepFunc(delay)
		delay *= retryMultiplier
	}
	return "", nil
}

// RepoNameFromURL derives the checkout directory name from a remote URL,
// stripping a trailing .git suffix.
func RepoNameFromURL(remoteURL string) string {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(remoteURL, "/"), ".git")
	if u, err := url.Parse(trimmed); err == nil && u.Path != "" {
		trimmed = u.Path
	} else if idx := strings.LastIndex(trimmed, ":"); idx != -1 && !strings.Contains(trimmed, "://") {
		trimmed = trimmed[idx+1:]
	}
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) == 0 {
		return trimmed
	}
	return parts[len(parts)-1]
}

// Clone clones remoteURL into the Project's working directory. If it
// already exists with a .git directory, it fetches instead; if it exists
// without one, it is removed and cloned fresh (spec.md §4.3).
func (d *Driver) Clone(projectID, remoteURL string) Result {
	repoName := RepoNameFromURL(remoteURL)
	dir := d.RepoDir(projectID, repoName)

	if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info != nil {
		return d.Fetch(dir)
	}
	if _, err := os.Stat(dir); err == nil {
		if err := os.RemoveAll(dir); err != nil {
			return fail("", fmt.Errorf("removing stale %s: %w", dir, err))
		}
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return fail("", fmt.Errorf("creating parent of %s: %w", dir, err))
	}

	out, err := run(filepath.Dir(dir), "clone", remoteURL, dir)
	if err != nil {
		return fail(out, err)
	}
	return ok(out)
}

// Fetch runs fetch origin --prune in dir.
func (d *Driver) Fetch(dir string) Result {
	out, err := run(dir, "fetch", "origin", "--prune")
	if err != nil {
		return fail(out, err)
	}
	return ok(out)
}

// CheckoutOrCreateBranch tries a local checkout, then a remote-tracking
// checkout, then creates the branch from HEAD (spec.md §4.3).
func (d *Driver) CheckoutOrCreateBranch(dir, branch string) Result {
	if out, err := run(dir, "checkout", branch); err == nil {
		return ok(out)
	}
	if out, err := run(dir, "checkout", "-b", branch, "origin/"+branch); err == nil {
		return ok(out)
	}
	out, err := run(dir, "checkout", "-b", branch)
	if err != nil {
		return fail(out, err)
	}
	return ok(out)
}

// CreateWorkingBranch checks out workingBranch if it exists remotely
// (resuming a prior run) or creates it from baseBranch after pulling
// (spec.md §4.3).
func (d *Driver) CreateWorkingBranch(dir, workingBranch, baseBranch string) Result {
	if d.RemoteBranchExists(dir, workingBranch).OK {
		if out, err := run(dir, "checkout", "-B", workingBranch, "origin/"+workingBranch); err != nil {
			return fail(out, err)
		}
		out, err := run(dir, "pull", "origin", workingBranch)
		if err != nil {
			return fail(out, err)
		}
		return ok(out)
	}

	if _, err := run(dir, "fetch", "origin", baseBranch); err != nil {
		// base branch may not have been pushed yet; proceed with local state
		_ = err
	}
	if _, err := run(dir, "checkout", baseBranch); err == nil {
		if out, err := run(dir, "pull", "origin", baseBranch); err != nil {
			_ = out
		}
	}

	out, err := run(dir, "checkout", "-b", workingBranch, baseBranch)
	if err != nil {
		return fail(out, err)
	}
	return ok(out)
}

// Commit stages everything and commits with a co-author trailer. A clean
// working tree is a no-op success (spec.md §4.3).
func (d *Driver) Commit(dir, message, agentCoAuthor string) Result {
	if _, err := run(dir, "add", "-A"); err != nil {
		return fail("", err)
	}

	status, err := run(dir, "status", "--porcelain")
	if err != nil {
		return fail("", err)
	}
	if strings.TrimSpace(status) == "" {
		return ok("nothing to commit")
	}

	full := message
	if agentCoAuthor != "" {
		full = fmt.Sprintf("%s\n\nCo-authored-by: %s", message, agentCoAuthor)
	}
	out, err := run(dir, "commit", "--no-verify", "-m", full)
	if err != nil {
		return fail(out, err)
	}
	return ok(out)
}

// Push attempts a rebase-first push to origin, matching spec.md §4.3's
// "if the branch exists remotely, attempt pull --rebase first" contract.
func (d *Driver) Push(dir, branch string) Result {
	if d.RemoteBranchExists(dir, branch).OK {
		if _, err := run(dir, "pull", "--rebase", "origin", branch); err != nil {
			d.abortRebase(dir)
		}
	}
	out, err := run(dir, "push", "-u", "origin", branch)
	if err != nil {
		if isNonFastForwardError(err) {
			forceOut, forceErr := run(dir, "push", "-u", "--force-with-lease", "origin", branch)
			if forceErr != nil {
				return fail(forceOut, fmt.Errorf("force push after diverged history: %w", forceErr))
			}
			return ok(forceOut)
		}
		return fail(out, err)
	}
	return ok(out)
}

// GetDiff returns the working-tree diff against HEAD.
func (d *Driver) GetDiff(dir string) Result {
	out, err := run(dir, "diff", "HEAD")
	if err != nil {
		return fail(out, err)
	}
	return ok(out)
}

// GetDiffFromBase returns the diff of the current branch against base.
func (d *Driver) GetDiffFromBase(dir, base string) Result {
	out, err := run(dir, "diff", base+"...HEAD")
	if err != nil {
		return fail(out, err)
	}
	return ok(out)
}

// GetCurrentBranch returns the checked-out branch name.
func (d *Driver) GetCurrentBranch(dir string) Result {
	out, err := run(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return fail(out, err)
	}
	return ok(out)
}

// RemoteBranchExists checks origin for branch.
func (d *Driver) RemoteBranchExists(dir, branch string) Result {
	out, err := run(dir, "ls-remote", "--heads", "origin", branch)
	if err != nil {
		return fail(out, err)
	}
	if strings.TrimSpace(out) == "" {
		return fail("", fmt.Errorf("branch %s does not exist on origin", branch))
	}
	return ok(out)
}

// CleanupWorkspace removes a Project's checkout entirely (spec.md §3
// "removed only on successful project completion or explicit delete").
func (d *Driver) CleanupWorkspace(dir string) Result {
	if err := os.RemoveAll(dir); err != nil {
		return fail("", fmt.Errorf("removing %s: %w", dir, err))
	}
	return ok("removed")
}

// abortRebase aborts any in-progress rebase, ignoring errors.
func (d *Driver) abortRebase(dir string) {
	_, _ = run(dir, "rebase", "--abort")
}

// Rebase rebases the current branch onto targetBranch. On conflict it
// aborts and hard-resets to targetBranch so the agent regenerates from a
// clean base (teacher's internal/git/git.go Rebase, kept near-verbatim —
// it already matches spec.md §4.3's retry/rebase contract).
func (d *Driver) Rebase(dir, targetBranch string) Result {
	d.abortRebase(dir)

	out, err := run(dir, "rebase", targetBranch)
	if err != nil {
		d.abortRebase(dir)
		resetOut, resetErr := run(dir, "reset", "--hard", targetBranch)
		if resetErr != nil {
			return fail(resetOut, fmt.Errorf("rebase %s failed and reset also failed: %w", targetBranch, resetErr))
		}
		return ok(resetOut)
	}
	return ok(out)
}
