// Package config loads ralph's engine-wide settings: a maxParallelProjects
// cap, maxTaskAttempts retry budget, workspace root, and agent executable
// name. It layers a config file (ralph.yaml) under environment variables
// prefixed RALPH_, the way the teacher's concern-pipeline config.go layers
// a YAML file, generalized to spec.md's Settings singleton (§3, §6).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Defaults mirror spec.md §6.
const (
	DefaultMaxParallelProjects = 3
	DefaultMaxTaskAttempts     = 3
	DefaultAgentExecutable     = "claude"
)

// Settings is the engine-wide configuration singleton described in spec.md §3.
type Settings struct {
	MaxParallelProjects int    `mapstructure:"maxParallelProjects" yaml:"maxParallelProjects"`
	MaxTaskAttempts     int    `mapstructure:"maxTaskAttempts" yaml:"maxTaskAttempts"`
	WorkspacesPath      string `mapstructure:"workspacesPath" yaml:"workspacesPath"`
	AgentExecutable     string `mapstructure:"agentExecutable" yaml:"agentExecutable"`
}

// Load reads settings from an optional config file at path (may not exist)
// layered under RALPH_-prefixed environment variables and the defaults
// above. An empty path skips the file layer entirely.
func Load(path, userDataDir string) (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("RALPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv + the "."->"_" replacer only splits words at dots; these
	// keys are camelCase with none, so each needs an explicit BindEnv naming
	// the underscored RALPH_ var the config section documents.
	_ = v.BindEnv("maxParallelProjects", "RALPH_MAX_PARALLEL_PROJECTS")
	_ = v.BindEnv("maxTaskAttempts", "RALPH_MAX_TASK_ATTEMPTS")
	_ = v.BindEnv("workspacesPath", "RALPH_WORKSPACES_PATH")
	_ = v.BindEnv("agentExecutable", "RALPH_AGENT_EXECUTABLE")

	v.SetDefault("maxParallelProjects", DefaultMaxParallelProjects)
	v.SetDefault("maxTaskAttempts", DefaultMaxTaskAttempts)
	v.SetDefault("workspacesPath", defaultWorkspacesPath(userDataDir))
	v.SetDefault("agentExecutable", DefaultAgentExecutable)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return Settings{}, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("parsing settings: %w", err)
	}
	return s, nil
}

func defaultWorkspacesPath(userDataDir string) string {
	if userDataDir == "" {
		return "workspaces"
	}
	return userDataDir + "/workspaces"
}

// Validate reports configuration errors the way the teacher's
// config.Validate reports concern-pipeline errors.
func Validate(s Settings) []error {
	var errs []error
	if s.MaxParallelProjects < 1 {
		errs = append(errs, fmt.Errorf("maxParallelProjects must be >= 1"))
	}
	if s.MaxTaskAttempts < 1 {
		errs = append(errs, fmt.Errorf("maxTaskAttempts must be >= 1"))
	}
	if s.WorkspacesPath == "" {
		errs = append(errs, fmt.Errorf("workspacesPath is required"))
	}
	if s.AgentExecutable == "" {
		errs = append(errs, fmt.Errorf("agentExecutable is required"))
	}
	return errs
}
