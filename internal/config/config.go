// Package config loads the engine's YAML configuration file, expanding
// ${VAR} environment references before unmarshalling.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anthropics/issuebot/internal/model"
)

type Config struct {
	Provider     string        `yaml:"provider"`
	PollInterval time.Duration `yaml:"poll_interval"`
	TriggerLabel string        `yaml:"trigger_label"` // e.g. "agent-ready"
	NeedsHumanLabel string     `yaml:"needs_human_label"`
	LogFile      string        `yaml:"log_file"`
	WorkDir      string        `yaml:"work_dir"` // root of per-issue working directories

	Gitea  GiteaConfig  `yaml:"gitea"`
	GitHub GitHubConfig `yaml:"github"`
	GitLab GitLabConfig `yaml:"gitlab"`

	Codegen     CodegenConfig     `yaml:"codegen"`
	Reviewer    ReviewerConfig    `yaml:"reviewer"`
	Retry       RetryConfig       `yaml:"retry"`
	Defaults    DefaultsConfig    `yaml:"defaults"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`

	Admin    AdminConfig    `yaml:"admin"`
	Database DatabaseConfig `yaml:"database"`
	Slack    SlackConfig    `yaml:"slack"`

	Repos []RepoConfig `yaml:"repos"`
}

type GiteaConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type GitHubConfig struct {
	Token string `yaml:"token"`
}

type GitLabConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// CodegenConfig configures the code-generation tool subprocess.
type CodegenConfig struct {
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// ReviewerConfig configures the independent reviewer tool subprocess.
type ReviewerConfig struct {
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	RateLimitRetry time.Duration `yaml:"rate_limit_retry"`
}

type DefaultsConfig struct {
	BaseBranch          string `yaml:"base_branch"`
	AutoMerge           bool   `yaml:"auto_merge"`
	MaxIterations       int    `yaml:"max_iterations"`
	MaxReviewIterations int    `yaml:"max_review_iterations"`
	CIEnabled           bool   `yaml:"ci_enabled"`
	CITimeoutMinutes    int    `yaml:"ci_timeout_minutes"`
	SecurityReview      bool   `yaml:"security_review_enabled"`
}

// ConcurrencyConfig controls concurrent issue processing
type ConcurrencyConfig struct {
	MaxPerRepo int `yaml:"max_per_repo"` // Maximum concurrent issues per repository (default: 1)
	MaxTotal   int `yaml:"max_total"`    // Maximum total concurrent issues (default: 5)
}

// AdminConfig gates an operator surface; absent username/password means
// auth is disabled.
type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DatabaseConfig is the DSN for the relational persistence store.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MigrationsTable string `yaml:"migrations_table"`
}

// SlackConfig is the external notification channel for WARN/ERROR events.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

// RepoConfig is the per-watched-repo option set.
type RepoConfig struct {
	Owner                 string   `yaml:"owner"`
	Name                  string   `yaml:"name"`
	Branch                string   `yaml:"branch"`
	Mode                  string   `yaml:"mode"` // AUTONOMOUS | APPROVAL_GATED
	MaxIterations         int      `yaml:"max_iterations"`
	CIEnabled             bool     `yaml:"ci_enabled"`
	CITimeoutMinutes      int      `yaml:"ci_timeout_minutes"`
	AutoMerge             bool     `yaml:"auto_merge"`
	SecurityReviewEnabled bool     `yaml:"security_review_enabled"`
	MaxReviewIterations   int      `yaml:"max_review_iterations"`
	AllowedPaths          []string `yaml:"allowed_paths"`
}

// FullName returns the "owner/name" slug.
func (r RepoConfig) FullName() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}

// ToWatchedRepo converts a configured repo entry into the model.WatchedRepo
// record a Store seeds on startup. ID is left zero; the caller looks up
// any existing row by FullName and only assigns a fresh record when one
// doesn't already exist.
func (r RepoConfig) ToWatchedRepo() model.WatchedRepo {
	mode := model.ModeAutonomous
	if r.Mode == string(model.ModeApprovalGated) {
		mode = model.ModeApprovalGated
	}
	return model.WatchedRepo{
		Owner:                 r.Owner,
		Name:                  r.Name,
		DefaultBranch:         r.Branch,
		Mode:                  mode,
		MaxIterations:         r.MaxIterations,
		MaxReviewIterations:   r.MaxReviewIterations,
		CIEnabled:             r.CIEnabled,
		CITimeoutMinutes:      r.CITimeoutMinutes,
		AutoMerge:             r.AutoMerge,
		SecurityReviewEnabled: r.SecurityReviewEnabled,
		AllowedPaths:          r.AllowedPaths,
	}
}

// Default configuration values
func DefaultConfig() *Config {
	return &Config{
		Provider:        "github",
		PollInterval:    60 * time.Second,
		TriggerLabel:    "agent-ready",
		NeedsHumanLabel: "needs-human",
		WorkDir:         "/tmp/issuebot",
		Codegen: CodegenConfig{
			Command: "codegen-tool",
			Timeout: 30 * time.Minute,
		},
		Reviewer: ReviewerConfig{
			Command: "reviewer-tool",
			Timeout: 10 * time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			BackoffBase:    10 * time.Second,
			RateLimitRetry: 5 * time.Minute,
		},
		Defaults: DefaultsConfig{
			BaseBranch:          "main",
			AutoMerge:           false,
			MaxIterations:       5,
			MaxReviewIterations: 2,
			CIEnabled:           true,
			CITimeoutMinutes:    15,
		},
		Concurrency: ConcurrencyConfig{
			MaxPerRepo: 1,
			MaxTotal:   5,
		},
		Database: DatabaseConfig{
			MigrationsTable: "goose_db_version",
		},
	}
}

// Load reads configuration from a YAML file, filling repo-level defaults
// from Defaults where a repo entry leaves a field at its zero value.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	data = expandEnvVars(data)

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	for i := range cfg.Repos {
		applyRepoDefaults(&cfg.Repos[i], cfg.Defaults)
	}

	return cfg, nil
}

func applyRepoDefaults(r *RepoConfig, d DefaultsConfig) {
	if r.Mode == "" {
		r.Mode = "AUTONOMOUS"
	}
	if r.Branch == "" {
		r.Branch = d.BaseBranch
	}
	if r.MaxIterations == 0 {
		r.MaxIterations = d.MaxIterations
	}
	if r.MaxReviewIterations == 0 {
		r.MaxReviewIterations = d.MaxReviewIterations
	}
	if r.CITimeoutMinutes == 0 {
		r.CITimeoutMinutes = d.CITimeoutMinutes
	}
}

// expandEnvVars replaces ${VAR} patterns with environment variable values
func expandEnvVars(data []byte) []byte {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(re.FindSubmatch(match)[1])
		return []byte(os.Getenv(varName))
	})
}
