// Package verify decides whether a task's changes satisfy its acceptance
// criteria: detect and run the project's test suite, then run a second
// agent pass as a self-review, and combine both into a pass/fail decision
// (spec.md §4.5). It follows the teacher's processConcern call-then-parse
// shape (internal/engine/engine.go) applied to a new two-stage pipeline;
// the pack has no test-runner detector to ground this against directly.
package verify

import (
	"os"
	"path/filepath"
	"strings"
)

// Runner is one detected test invocation: Command run with Args in the
// working directory.
type Runner struct {
	Command string
	Args    []string
}

// DetectRunner implements spec.md §4.5's ordered detection: package.json (by
// lockfile), pytest, go test, cargo test, else none.
func DetectRunner(workDir string) (Runner, bool) {
	if hasNonStubNPMTest(workDir) {
		return Runner{Command: npmCommand(workDir), Args: []string{"test"}}, true
	}
	if exists(workDir, "pytest.ini") || exists(workDir, "pyproject.toml") {
		return Runner{Command: "pytest"}, true
	}
	if exists(workDir, "go.mod") {
		return Runner{Command: "go", Args: []string{"test", "./..."}}, true
	}
	if exists(workDir, "Cargo.toml") {
		return Runner{Command: "cargo", Args: []string{"test"}}, true
	}
	return Runner{}, false
}

func exists(workDir, name string) bool {
	_, err := os.Stat(filepath.Join(workDir, name))
	return err == nil
}

// hasNonStubNPMTest reports whether package.json declares a "test" script
// that isn't the default npm-init stub.
func hasNonStubNPMTest(workDir string) bool {
	data, err := os.ReadFile(filepath.Join(workDir, "package.json"))
	if err != nil {
		return false
	}
	testScript, ok := extractTestScript(string(data))
	if !ok {
		return false
	}
	return !strings.Contains(testScript, "Error: no test specified")
}

// extractTestScript does a light-touch scan for "test": "..." inside the
// scripts block without requiring a full JSON decode dependency beyond
// what's already needed elsewhere.
func extractTestScript(raw string) (string, bool) {
	idx := strings.Index(raw, `"test"`)
	if idx == -1 {
		return "", false
	}
	rest := raw[idx+len(`"test"`):]
	colon := strings.Index(rest, ":")
	if colon == -1 {
		return "", false
	}
	rest = strings.TrimSpace(rest[colon+1:])
	if !strings.HasPrefix(rest, `"`) {
		return "", false
	}
	for i := 1; i < len(rest); i++ {
		switch rest[i] {
		case '\\':
			i++
		case '"':
			return rest[1:i], true
		}
	}
	return "", false
}

func npmCommand(workDir string) string {
	if exists(workDir, "pnpm-lock.yaml") {
		return "pnpm"
	}
	if exists(workDir, "yarn.lock") {
		return "yarn"
	}
	return "npm"
}
