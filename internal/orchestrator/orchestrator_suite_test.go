package orchestrator

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/re-cinq/ralph/internal/agent"
	"github.com/re-cinq/ralph/internal/gitops"
	"github.com/re-cinq/ralph/internal/state"
	"github.com/re-cinq/ralph/internal/verify"
	"github.com/re-cinq/ralph/internal/workspace"
)

// TestOrchestratorEndToEnd drives the literal end-to-end scenarios spec.md
// §8 enumerates, against a local git fixture and a scripted fake agent —
// no network, no real coding-agent CLI, no gh account required.
func TestOrchestratorEndToEnd(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	RegisterFailHandler(Fail)
	RunSpecs(t, "Orchestrator end-to-end suite")
}

// fixtureRepo creates a non-bare git repo with an initial commit on main
// and, if tasksJSON is non-empty, a committed .ralph/tasks.json —
// InitializeRalphFolder only seeds tasks.json when absent, so a
// precommitted one survives clone untouched and lets each scenario start
// from a known backlog without racing the orchestrator's own setup phase.
func fixtureRepo(t GinkgoTInterface, tasksJSON string) string {
	dir := t.TempDir()
	run(t, dir, "init", "-q", "-b", "main")
	run(t, dir, "config", "user.name", "ralph-test")
	run(t, dir, "config", "user.email", "ralph-test@localhost")
	Expect(os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi\n"), 0644)).To(Succeed())

	if tasksJSON != "" {
		Expect(os.MkdirAll(filepath.Join(dir, ".ralph"), 0755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, ".ralph", ".gitignore"), []byte("*\n"), 0644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, ".ralph", "tasks.json"), []byte(tasksJSON), 0644)).To(Succeed())
	}

	run(t, dir, "add", "-A")
	run(t, dir, "commit", "-q", "-m", "initial")
	return dir
}

func run(t GinkgoTInterface, dir string, args ...string) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	Expect(err).NotTo(HaveOccurred(), "git %v: %s", args, out)
}

// writeScript drops an executable shell script at dir/name.
func writeScript(dir, name, body string) string {
	path := filepath.Join(dir, name)
	Expect(os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755)).To(Succeed())
	return path
}

// writeFakeGH installs a no-op gh on PATH for the duration of one spec —
// CreatePullRequest shells out to the bare name "gh", resolved via PATH.
func writeFakeGH(dir string) func() {
	writeScript(dir, "gh", `echo "https://example.invalid/pr/1"`)
	old := os.Getenv("PATH")
	Expect(os.Setenv("PATH", dir+string(os.PathListSeparator)+old)).To(Succeed())
	return func() { _ = os.Setenv("PATH", old) }
}

// sequencedAgent returns the path to a fake agent executable that replays
// outputs[n] on its n-th invocation (clamped to the last entry once
// exhausted), so a single Runner can drive both an execution pass and a
// verification pass with different scripted responses.
func sequencedAgent(dir string, outputs ...string) string {
	for i, body := range outputs {
		writeScript(dir, fmt.Sprintf("out-%d.sh", i), body)
	}
	dispatcher := fmt.Sprintf(`
dir="%s"
n=0
[ -f "$dir/.n" ] && n=$(cat "$dir/.n")
last=%d
echo $((n+1)) > "$dir/.n"
if [ "$n" -gt "$last" ]; then n=$last; fi
exec sh "$dir/out-$n.sh"
`, dir, len(outputs)-1)
	return writeScript(dir, "agent", dispatcher)
}

func newSuiteOrchestrator(t GinkgoTInterface, workspaceRoot, agentPath string, maxTaskAttempts int) (*Orchestrator, *state.Manager) {
	mgr, err := state.NewManager(filepath.Join(t.TempDir(), "state.json"), afero.NewOsFs(), nil)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() { _ = mgr.Close() })

	one, attempts := 1, maxTaskAttempts
	_, err = mgr.UpdateSettings(state.SettingsPatch{MaxParallelProjects: &one, MaxTaskAttempts: &attempts})
	Expect(err).NotTo(HaveOccurred())

	store := workspace.NewStore(afero.NewOsFs(), nil)
	git := gitops.NewDriver(workspaceRoot)
	runner := agent.NewRunner(agentPath, nil)
	verifier := verify.NewVerifier(runner)
	o := New(mgr, store, git, runner, verifier, nil, nil, filepath.Join(t.TempDir(), "logs"), filepath.Join(t.TempDir(), "run"))
	return o, mgr
}

func awaitTerminal(o *Orchestrator, projectID string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, running := o.Status()[projectID]; !running {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
}

const helloTask = `{"project":{"id":"","name":"","description":"","productBrief":"","solutionBrief":""},"tasks":[
  {"id":"t1","title":"Add HELLO file","description":"","acceptanceCriteria":["Adds a file named HELLO"],"priority":0,"status":"backlog","attempts":0}
]}`

var _ = Describe("happy path, one task", func() {
	It("completes the task, commits, and opens a PR", func() {
		scriptsDir := GinkgoT().TempDir()
		cleanup := writeFakeGH(scriptsDir)
		defer cleanup()

		agentPath := sequencedAgent(scriptsDir,
			`touch HELLO && echo "... TASK_COMPLETE"`,
			`echo "VERIFICATION_PASSED"`,
		)

		remote := fixtureRepo(GinkgoT(), helloTask)
		o, mgr := newSuiteOrchestrator(GinkgoT(), GinkgoT().TempDir(), agentPath, 3)

		repo, err := mgr.CreateRepository(state.CreateRepositoryInput{Name: "repo", RemoteURL: remote, DefaultBranch: "main"})
		Expect(err).NotTo(HaveOccurred())
		proj, err := mgr.CreateProject(state.CreateProjectInput{RepositoryID: repo.ID, Name: "proj", BaseBranch: "main"})
		Expect(err).NotTo(HaveOccurred())

		Expect(o.Start(proj.ID)).To(Succeed())
		awaitTerminal(o, proj.ID, 15*time.Second)

		snap := mgr.GetState()
		final, ok := findProject(snap, proj.ID)
		Expect(ok).To(BeTrue())
		Expect(final.Status).To(Equal(state.ProjectCompleted))
	})
})

var _ = Describe("blocked task after retries", func() {
	It("blocks on the maxTaskAttempts-th attempt and fails the project", func() {
		scriptsDir := GinkgoT().TempDir()
		agentPath := sequencedAgent(scriptsDir, `echo "TASK_BLOCKED: missing credential"`)

		tasksJSON := `{"project":{"id":"","name":"","description":"","productBrief":"","solutionBrief":""},"tasks":[
  {"id":"t1","title":"Needs a secret","description":"","acceptanceCriteria":["n/a"],"priority":0,"status":"backlog","attempts":0}
]}`
		remote := fixtureRepo(GinkgoT(), tasksJSON)
		o, mgr := newSuiteOrchestrator(GinkgoT(), GinkgoT().TempDir(), agentPath, 3)

		repo, err := mgr.CreateRepository(state.CreateRepositoryInput{Name: "repo", RemoteURL: remote, DefaultBranch: "main"})
		Expect(err).NotTo(HaveOccurred())
		proj, err := mgr.CreateProject(state.CreateProjectInput{RepositoryID: repo.ID, Name: "proj", BaseBranch: "main"})
		Expect(err).NotTo(HaveOccurred())

		Expect(o.Start(proj.ID)).To(Succeed())
		awaitTerminal(o, proj.ID, 15*time.Second)

		snap := mgr.GetState()
		final, ok := findProject(snap, proj.ID)
		Expect(ok).To(BeTrue())
		Expect(final.Status).To(Equal(state.ProjectFailed))
	})
})

var _ = Describe("stop during execution", func() {
	It("reverts the in-flight task to backlog and idles the project", func() {
		scriptsDir := GinkgoT().TempDir()
		agentPath := sequencedAgent(scriptsDir, `exec sleep 30`)

		remote := fixtureRepo(GinkgoT(), helloTask)
		o, mgr := newSuiteOrchestrator(GinkgoT(), GinkgoT().TempDir(), agentPath, 3)

		repo, err := mgr.CreateRepository(state.CreateRepositoryInput{Name: "repo", RemoteURL: remote, DefaultBranch: "main"})
		Expect(err).NotTo(HaveOccurred())
		proj, err := mgr.CreateProject(state.CreateProjectInput{RepositoryID: repo.ID, Name: "proj", BaseBranch: "main"})
		Expect(err).NotTo(HaveOccurred())

		Expect(o.Start(proj.ID)).To(Succeed())

		Eventually(func() workspace.TaskStatus {
			repoName := gitops.RepoNameFromURL(remote)
			workDir := o.Git.RepoDir(proj.ID, repoName)
			tf, err := o.Store.ReadTasks(workDir)
			if err != nil || len(tf.Tasks) == 0 {
				return ""
			}
			return tf.Tasks[0].Status
		}, 10*time.Second, 25*time.Millisecond).Should(Equal(workspace.TaskInProgress))

		Expect(o.Stop(proj.ID)).To(Succeed())
		awaitTerminal(o, proj.ID, 15*time.Second)

		snap := mgr.GetState()
		final, ok := findProject(snap, proj.ID)
		Expect(ok).To(BeTrue())
		Expect(final.Status).To(Equal(state.ProjectIdle))
	})
})

var _ = Describe("admission at the cap", func() {
	It("rejects a start beyond maxParallelProjects", func() {
		o, mgr := newSuiteOrchestrator(GinkgoT(), GinkgoT().TempDir(), "/bin/true", 3)

		o.registry.mu.Lock()
		o.registry.entries["running-1"] = &entry{Entry: Entry{ProjectID: "running-1", Status: RunRunning}, cancel: func() {}}
		o.registry.mu.Unlock()

		repo, err := mgr.CreateRepository(state.CreateRepositoryInput{Name: "repo", RemoteURL: "/nonexistent", DefaultBranch: "main"})
		Expect(err).NotTo(HaveOccurred())
		proj, err := mgr.CreateProject(state.CreateProjectInput{RepositoryID: repo.ID, Name: "proj"})
		Expect(err).NotTo(HaveOccurred())

		Expect(o.Start(proj.ID)).To(MatchError(ErrCapacityExceeded))

		snap := mgr.GetState()
		unchanged, ok := findProject(snap, proj.ID)
		Expect(ok).To(BeTrue())
		Expect(unchanged.Status).To(Equal(state.ProjectIdle))
	})
})
