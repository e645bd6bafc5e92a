package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
git:
  base_branch: develop
  command_timeout: 90s
review:
  max_rounds: 5
retry:
  max_attempts: 7
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.Git.BaseBranch != "develop" {
		t.Errorf("BaseBranch = %q, want %q", cfg.Git.BaseBranch, "develop")
	}
	if cfg.Git.CommandTimeout != 90*time.Second {
		t.Errorf("CommandTimeout = %v, want 90s", cfg.Git.CommandTimeout)
	}
	if cfg.Review.MaxRounds != 5 {
		t.Errorf("MaxRounds = %d, want 5", cfg.Review.MaxRounds)
	}
	if cfg.Retry.MaxAttempts != 7 {
		t.Errorf("Retry.MaxAttempts = %d, want 7", cfg.Retry.MaxAttempts)
	}

	// Values absent from the file keep their defaults.
	if cfg.Git.AgentBranchPrefix != "agentco" {
		t.Errorf("AgentBranchPrefix = %q, want default %q", cfg.Git.AgentBranchPrefix, "agentco")
	}
	if cfg.DataDir != ".agentco" {
		t.Errorf("DataDir = %q, want default %q", cfg.DataDir, ".agentco")
	}
}

func TestLoadFromPath_MissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("LoadFromPath() error = nil, want error for missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Git.BaseBranch != "main" {
		t.Errorf("BaseBranch = %q, want %q", cfg.Git.BaseBranch, "main")
	}
	if cfg.Review.MaxRounds != 3 {
		t.Errorf("MaxRounds = %d, want 3", cfg.Review.MaxRounds)
	}
	if cfg.Retry.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2.0", cfg.Retry.Multiplier)
	}
}
