package verify

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/re-cinq/ralph/internal/agent"
)

// Defaults per spec.md §4.5.
const (
	DefaultTestTimeout  = 5 * time.Minute
	DefaultMaxOutputCap = 10 * 1024 * 1024 // 10 MiB
)

var (
	verificationPassedMarker = "VERIFICATION_PASSED"
	verificationFailedPattern = regexp.MustCompile(`VERIFICATION_FAILED:\s*(.+)`)

	lenientPassPhrases = []string{"all criteria met", "looks good", "verified"}
)

// TestResult is step 1 of the Verifier pipeline (spec.md §4.5).
type TestResult struct {
	Ran    bool
	Passed bool
	Output string
}

// ReviewResult is step 2 of the Verifier pipeline.
type ReviewResult struct {
	Passed bool
	Reason string
	Output string
}

// Result is the Verifier's overall decision (spec.md §4.5 step 3).
type Result struct {
	Passed bool
	Test   TestResult
	Review ReviewResult
}

// Verifier decides whether a task's changes satisfy its acceptance
// criteria: run tests (if detected) and spawn a self-review agent pass.
type Verifier struct {
	AgentRunner *agent.Runner

	// StrictFallback flips the ambiguous-review-output default from
	// "pass" to "fail" (spec.md §9 Open Question; default false keeps
	// the spec's literal lenient text).
	StrictFallback bool

	TestTimeout  time.Duration
	MaxOutputCap int64
}

// NewVerifier builds a Verifier with spec.md §4.5 defaults.
func NewVerifier(runner *agent.Runner) *Verifier {
	return &Verifier{
		AgentRunner:  runner,
		TestTimeout:  DefaultTestTimeout,
		MaxOutputCap: DefaultMaxOutputCap,
	}
}

// VerifyInput bundles what a Verify call needs from the task and diff.
type VerifyInput struct {
	ProjectID          string
	TaskID             string
	WorkingDirectory   string
	LogFilePath        string
	Title              string
	Description        string
	AcceptanceCriteria []string
	Diff               string
}

// Verify runs the full pipeline: test detection/execution, then a
// self-review agent pass, then the combined decision (spec.md §4.5).
func (v *Verifier) Verify(ctx context.Context, in VerifyInput) Result {
	test := v.runTests(ctx, in.WorkingDirectory)
	review := v.runReview(ctx, in, test)

	return Result{
		Passed: (!test.Ran || test.Passed) && review.Passed,
		Test:   test,
		Review: review,
	}
}

// runTests detects and executes the project's test suite with a hard
// timeout and output cap (spec.md §4.5 step 1). A subprocess failure to
// even start is treated as "ran but failed" rather than propagated.
func (v *Verifier) runTests(ctx context.Context, workDir string) TestResult {
	runner, ok := DetectRunner(workDir)
	if !ok {
		return TestResult{Ran: false, Passed: true}
	}

	timeout := v.TestTimeout
	if timeout == 0 {
		timeout = DefaultTestTimeout
	}
	outputCap := v.MaxOutputCap
	if outputCap == 0 {
		outputCap = DefaultMaxOutputCap
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, runner.Command, runner.Args...)
	cmd.Dir = workDir

	capped := &cappedWriter{limit: outputCap}
	cmd.Stdout = capped
	cmd.Stderr = capped

	err := cmd.Run()
	return TestResult{Ran: true, Passed: err == nil, Output: capped.String()}
}

// runReview spawns a second agent pass with a verification prompt composed
// of the task's criteria, diff, and test output (spec.md §4.5 step 2). A
// verifier subprocess failure is a failed review with reason "verifier
// error", never a task-blocker (spec.md §4.5 failure semantics).
func (v *Verifier) runReview(ctx context.Context, in VerifyInput, test TestResult) ReviewResult {
	if v.AgentRunner == nil {
		return ReviewResult{Passed: false, Reason: "verifier error"}
	}

	prompt := buildVerificationPrompt(in, test)
	spec := agent.ProcessSpec{
		ProjectID:        in.ProjectID,
		TaskID:           in.TaskID,
		Prompt:           prompt,
		WorkingDirectory: in.WorkingDirectory,
		LogFilePath:      verifyLogPath(in.LogFilePath, in.TaskID),
	}

	outcome := v.AgentRunner.Run(ctx, spec)
	if !outcome.OK {
		return ReviewResult{Passed: false, Reason: "verifier error", Output: outcome.CombinedOutput}
	}

	return parseReview(outcome.CombinedOutput, v.StrictFallback)
}

// verifyLogPath derives the verification pass's distinct log file, keyed
// <taskId>-verify (spec.md §4.5 step 2).
func verifyLogPath(taskLogPath, taskID string) string {
	if taskLogPath == "" {
		return fmt.Sprintf("%s-verify.log", taskID)
	}
	return strings.TrimSuffix(taskLogPath, ".log") + "-verify.log"
}

func buildVerificationPrompt(in VerifyInput, test TestResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n%s\n\n", in.Title, in.Description)
	b.WriteString("Acceptance criteria:\n")
	for i, c := range in.AcceptanceCriteria {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}
	b.WriteString("\nDiff (git diff HEAD):\n")
	b.WriteString(in.Diff)
	b.WriteString("\n\nTest output:\n")
	if test.Ran {
		b.WriteString(test.Output)
	} else {
		b.WriteString("(no test runner detected)")
	}
	b.WriteString("\n\nRespond with VERIFICATION_PASSED if every criterion is met, or VERIFICATION_FAILED: <reason> otherwise.")
	return b.String()
}

// parseReview implements spec.md §4.5 step 2's parsing and lenient
// fallback.
func parseReview(output string, strict bool) ReviewResult {
	if strings.Contains(output, verificationPassedMarker) {
		return ReviewResult{Passed: true, Output: output}
	}
	if m := verificationFailedPattern.FindStringSubmatch(output); m != nil {
		return ReviewResult{Passed: false, Reason: strings.TrimSpace(m[1]), Output: output}
	}

	lower := strings.ToLower(output)
	for _, phrase := range lenientPassPhrases {
		if strings.Contains(lower, phrase) {
			return ReviewResult{Passed: true, Output: output}
		}
	}

	if strict {
		return ReviewResult{Passed: false, Reason: "no clear verification signal", Output: output}
	}
	return ReviewResult{Passed: true, Output: output}
}

// cappedWriter accumulates up to limit bytes, discarding the rest (spec.md
// §4.5 "≥10 MiB output cap").
type cappedWriter struct {
	buf   strings.Builder
	limit int64
	n     int64
}

func (c *cappedWriter) Write(p []byte) (int, error) {
	if c.n < c.limit {
		remaining := c.limit - c.n
		if int64(len(p)) < remaining {
			c.buf.Write(p)
			c.n += int64(len(p))
		} else {
			c.buf.Write(p[:remaining])
			c.n = c.limit
		}
	}
	return len(p), nil
}

func (c *cappedWriter) String() string { return c.buf.String() }

var _ io.Writer = (*cappedWriter)(nil)
