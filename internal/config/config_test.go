package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.MaxParallelProjects != DefaultMaxParallelProjects {
		t.Errorf("MaxParallelProjects = %d, want %d", s.MaxParallelProjects, DefaultMaxParallelProjects)
	}
	if s.MaxTaskAttempts != DefaultMaxTaskAttempts {
		t.Errorf("MaxTaskAttempts = %d, want %d", s.MaxTaskAttempts, DefaultMaxTaskAttempts)
	}
	if s.AgentExecutable != DefaultAgentExecutable {
		t.Errorf("AgentExecutable = %q, want %q", s.AgentExecutable, DefaultAgentExecutable)
	}
	if s.WorkspacesPath != "workspaces" {
		t.Errorf("WorkspacesPath = %q, want %q", s.WorkspacesPath, "workspaces")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ralph.yaml")
	if err := os.WriteFile(path, []byte("maxParallelProjects: 5\nagentExecutable: codex\n"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path, dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.MaxParallelProjects != 5 {
		t.Errorf("MaxParallelProjects = %d, want 5", s.MaxParallelProjects)
	}
	if s.AgentExecutable != "codex" {
		t.Errorf("AgentExecutable = %q, want codex", s.AgentExecutable)
	}
	// Untouched field keeps its default.
	if s.MaxTaskAttempts != DefaultMaxTaskAttempts {
		t.Errorf("MaxTaskAttempts = %d, want default %d", s.MaxTaskAttempts, DefaultMaxTaskAttempts)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	if err != nil {
		t.Fatalf("Load should tolerate a missing config file: %v", err)
	}
	if s.MaxParallelProjects != DefaultMaxParallelProjects {
		t.Errorf("MaxParallelProjects = %d, want default", s.MaxParallelProjects)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Settings
		wantErr bool
	}{
		{"valid", Settings{MaxParallelProjects: 3, MaxTaskAttempts: 3, WorkspacesPath: "/tmp/w", AgentExecutable: "claude"}, false},
		{"zero parallel", Settings{MaxParallelProjects: 0, MaxTaskAttempts: 3, WorkspacesPath: "/tmp/w", AgentExecutable: "claude"}, true},
		{"zero attempts", Settings{MaxParallelProjects: 3, MaxTaskAttempts: 0, WorkspacesPath: "/tmp/w", AgentExecutable: "claude"}, true},
		{"no workspace path", Settings{MaxParallelProjects: 3, MaxTaskAttempts: 3, AgentExecutable: "claude"}, true},
		{"no agent executable", Settings{MaxParallelProjects: 3, MaxTaskAttempts: 3, WorkspacesPath: "/tmp/w"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(tt.s)
			if (len(errs) > 0) != tt.wantErr {
				t.Errorf("Validate() errs=%v, wantErr=%v", errs, tt.wantErr)
			}
		})
	}
}
