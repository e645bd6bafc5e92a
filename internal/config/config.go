// Package config handles configuration loading for agentco.
// It supports XDG config paths, project-level overrides, and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for agentco. Values here are injected
// into the git lifecycle manager, PR creator, and retry wrapper at
// construction time.
type Config struct {
	Git    GitConfig    `mapstructure:"git"`
	Bus    BusConfig    `mapstructure:"bus"`
	Review ReviewConfig `mapstructure:"review"`
	Retry  RetryConfig  `mapstructure:"retry"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	PR     PRConfig     `mapstructure:"pr"`
	// DataDir is where ticket snapshots, the audit database, and bus
	// logs are stored. Defaults to .agentco in the project root.
	DataDir string `mapstructure:"data_dir"`
}

// GitConfig holds git and PR-host settings.
type GitConfig struct {
	// BaseBranch is the branch pull requests target.
	BaseBranch string `mapstructure:"base_branch"`
	// AgentBranchPrefix names the per-project integration branch,
	// e.g. "agentco" yields "agentco/<project-id>".
	AgentBranchPrefix string `mapstructure:"agent_branch_prefix"`
	// TaskBranchPrefix names per-ticket task branches.
	TaskBranchPrefix string `mapstructure:"task_branch_prefix"`
	// CommandTimeout bounds each git subprocess call.
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	// HostTimeout bounds each PR-host API call.
	HostTimeout time.Duration `mapstructure:"host_timeout"`
}

// BusConfig holds agent bus settings.
type BusConfig struct {
	// PollInterval is the fallback poll cadence when file watching
	// is unavailable.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ReviewConfig holds review workflow settings.
type ReviewConfig struct {
	// MaxRounds bounds revision_required cycles per grandchild
	// ticket; exceeding it escalates instead of re-reviewing.
	// Zero means unbounded.
	MaxRounds int `mapstructure:"max_rounds"`
}

// RetryConfig holds the externally configured retry policy parameters.
type RetryConfig struct {
	// MaxAttempts is the total attempts per external call.
	MaxAttempts int `mapstructure:"max_attempts"`
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration `mapstructure:"base_delay"`
	// Multiplier scales the delay after each failed attempt.
	Multiplier float64 `mapstructure:"multiplier"`
}

// PRConfig holds the pull-request hosting provider settings. Empty
// owner/repo disables automatic pull request creation.
type PRConfig struct {
	// Owner is the repository owner or organization.
	Owner string `mapstructure:"owner"`
	// Repo is the repository name.
	Repo string `mapstructure:"repo"`
	// Token authenticates against the host API. Prefer setting it via
	// the AGENTCO_PR_TOKEN environment variable.
	Token string `mapstructure:"token"`
	// BaseURL overrides the API endpoint for self-hosted installs.
	BaseURL string `mapstructure:"base_url"`
}

// HTTPConfig holds the dashboard/CLI HTTP boundary settings.
type HTTPConfig struct {
	// ListenAddr is the address the API server binds to.
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load loads configuration with the following precedence
// (highest to lowest):
//  1. Environment variables (AGENTCO_*)
//  2. Project config (.agentco.yaml in current directory or parent)
//  3. User config (~/.config/agentco/config.yaml)
//  4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("AGENTCO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("git.base_branch", "main")
	v.SetDefault("git.agent_branch_prefix", "agentco")
	v.SetDefault("git.task_branch_prefix", "agent")
	v.SetDefault("git.command_timeout", "2m")
	v.SetDefault("git.host_timeout", "30s")

	v.SetDefault("bus.poll_interval", "2s")

	v.SetDefault("review.max_rounds", 3)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "500ms")
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("pr.owner", "")
	v.SetDefault("pr.repo", "")
	v.SetDefault("pr.token", "")
	v.SetDefault("pr.base_url", "")

	v.SetDefault("http.listen_addr", "127.0.0.1:8790")

	v.SetDefault("data_dir", ".agentco")
}

// userConfigDir returns the XDG config directory for agentco.
func userConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "agentco")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "agentco")
	}
	return filepath.Join(home, ".config", "agentco")
}

// findProjectConfig searches for .agentco.yaml in the current directory
// and its parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ".agentco.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Git: GitConfig{
			BaseBranch:        "main",
			AgentBranchPrefix: "agentco",
			TaskBranchPrefix:  "agent",
			CommandTimeout:    2 * time.Minute,
			HostTimeout:       30 * time.Second,
		},
		Bus: BusConfig{
			PollInterval: 2 * time.Second,
		},
		Review: ReviewConfig{
			MaxRounds: 3,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			Multiplier:  2.0,
		},
		HTTP: HTTPConfig{
			ListenAddr: "127.0.0.1:8790",
		},
		DataDir: ".agentco",
	}
}
