package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrUnsafeBranch is returned when a push or checkout target fails the
// branch safety invariant: never the default branch, never
// "main"/"master", and only a well-formed issuebot branch name.
var ErrUnsafeBranch = errors.New("unsafe branch name")

var branchNameRe = regexp.MustCompile(`^issuebot/issue-\d+-[a-z0-9-]+$`)

// IsSafeBranchName reports whether branch is safe to push to: it must
// match the issuebot naming pattern and must not equal the repository's
// default branch.
func IsSafeBranchName(branch, defaultBranch string) bool {
	if branch == "" || branch == "main" || branch == "master" {
		return false
	}
	if defaultBranch != "" && branch == defaultBranch {
		return false
	}
	return branchNameRe.MatchString(branch)
}

// BranchNameForIssue constructs the canonical working-branch name for an
// issue, slugifying its title into the allowed [a-z0-9-]+ alphabet.
func BranchNameForIssue(issueNumber int, title string) string {
	return fmt.Sprintf("issuebot/issue-%d-%s", issueNumber, slugify(title))
}

func slugify(title string) string {
	lower := strings.ToLower(title)
	var b strings.Builder
	prevDash := false
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash && b.Len() > 0 {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 50 {
		slug = strings.Trim(slug[:50], "-")
	}
	if slug == "" {
		slug = "work"
	}
	return slug
}

// Sandbox represents an isolated working directory for an issue
type Sandbox struct {
	Root       string
	RepoDir    string
	IssueID    string
	BranchName string
}

// Create creates a new sandbox for processing an issue
func Create(baseDir string, repo string, issueID string) (*Sandbox, error) {
	// Create unique directory for this issue
	sandboxDir := filepath.Join(baseDir, fmt.Sprintf("issue-%s", issueID))

	if err := os.MkdirAll(sandboxDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox directory: %w", err)
	}

	return &Sandbox{
		Root:    sandboxDir,
		RepoDir: filepath.Join(sandboxDir, "repo"),
		IssueID: issueID,
	}, nil
}

// Clone clones the repository into the sandbox
func (s *Sandbox) Clone(ctx context.Context, cloneURL string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", cloneURL, s.RepoDir)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to clone repository: %w: %s", err, string(output))
	}
	return nil
}

// CreateBranch creates and checks out a new branch, or checks out existing one
func (s *Sandbox) CreateBranch(ctx context.Context, branchName, defaultBranch string) error {
	if !IsSafeBranchName(branchName, defaultBranch) {
		return fmt.Errorf("%w: %q", ErrUnsafeBranch, branchName)
	}
	s.BranchName = branchName

	// Try to create new branch
	cmd := exec.CommandContext(ctx, "git", "checkout", "-b", branchName)
	cmd.Dir = s.RepoDir
	if _, err := cmd.CombinedOutput(); err != nil {
		// Branch might already exist, try checking it out
		cmd2 := exec.CommandContext(ctx, "git", "checkout", branchName)
		cmd2.Dir = s.RepoDir
		if output, err := cmd2.CombinedOutput(); err != nil {
			return fmt.Errorf("failed to checkout branch: %w: %s", err, string(output))
		}
	}
	return nil
}

// Commit stages all changes and creates a commit
func (s *Sandbox) Commit(ctx context.Context, message string) error {
	// Check if there are changes before staging
	statusCmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	statusCmd.Dir = s.RepoDir
	statusOutput, err := statusCmd.Output()
	if err != nil {
		return fmt.Errorf("failed to check status: %w", err)
	}

	if len(statusOutput) == 0 {
		// No changes to commit
		return nil
	}

	// Stage all changes
	addCmd := exec.CommandContext(ctx, "git", "add", "-A")
	addCmd.Dir = s.RepoDir
	if output, err := addCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to stage changes: %w: %s", err, string(output))
	}

	// Commit
	commitCmd := exec.CommandContext(ctx, "git", "commit", "-m", message)
	commitCmd.Dir = s.RepoDir
	if output, err := commitCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to commit: %w: %s", err, string(output))
	}

	return nil
}

// Push pushes the branch to origin. Refuses to push an unsafe branch
// name even if CreateBranch was bypassed.
func (s *Sandbox) Push(ctx context.Context, defaultBranch string) error {
	if !IsSafeBranchName(s.BranchName, defaultBranch) {
		return fmt.Errorf("%w: %q", ErrUnsafeBranch, s.BranchName)
	}
	cmd := exec.CommandContext(ctx, "git", "push", "-u", "origin", s.BranchName)
	cmd.Dir = s.RepoDir
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to push: %w: %s", err, string(output))
	}
	return nil
}

// DiffAgainst returns the unified diff and list of changed files between
// base and the sandbox's current HEAD.
func (s *Sandbox) DiffAgainst(ctx context.Context, base string) (diff string, files []string, err error) {
	diffCmd := exec.CommandContext(ctx, "git", "diff", base+"...HEAD")
	diffCmd.Dir = s.RepoDir
	diffOut, err := diffCmd.Output()
	if err != nil {
		return "", nil, fmt.Errorf("failed to diff against %s: %w", base, err)
	}

	namesCmd := exec.CommandContext(ctx, "git", "diff", "--name-only", base+"...HEAD")
	namesCmd.Dir = s.RepoDir
	namesOut, err := namesCmd.Output()
	if err != nil {
		return "", nil, fmt.Errorf("failed to list changed files against %s: %w", base, err)
	}
	for _, f := range strings.Split(strings.TrimSpace(string(namesOut)), "\n") {
		if f != "" {
			files = append(files, f)
		}
	}

	return string(diffOut), files, nil
}

// GetCurrentBranch returns the current branch name
func (s *Sandbox) GetCurrentBranch(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "branch", "--show-current")
	cmd.Dir = s.RepoDir
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// HasChanges checks if there are uncommitted changes
func (s *Sandbox) HasChanges(ctx context.Context) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = s.RepoDir
	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("failed to check status: %w", err)
	}
	return len(output) > 0, nil
}

// Cleanup removes the sandbox directory
func (s *Sandbox) Cleanup() error {
	return os.RemoveAll(s.Root)
}

// Exists checks if the sandbox exists
func (s *Sandbox) Exists() bool {
	_, err := os.Stat(s.RepoDir)
	return err == nil
}

// RepoPath returns the full path to a file in the repo
func (s *Sandbox) RepoPath(relativePath string) string {
	return filepath.Join(s.RepoDir, relativePath)
}

// Manager handles sandbox lifecycle
type Manager struct {
	baseDir string
}

// NewManager creates a sandbox manager
func NewManager(baseDir string) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{baseDir: filepath.Join(baseDir, "issuebot-sandboxes")}
}

// GetOrCreate gets an existing sandbox or creates a new one
func (m *Manager) GetOrCreate(repo string, issueID string) (*Sandbox, error) {
	sandbox := &Sandbox{
		Root:    filepath.Join(m.baseDir, fmt.Sprintf("issue-%s", issueID)),
		RepoDir: filepath.Join(m.baseDir, fmt.Sprintf("issue-%s", issueID), "repo"),
		IssueID: issueID,
	}

	if sandbox.Exists() {
		return sandbox, nil
	}

	return Create(m.baseDir, repo, issueID)
}

// Get gets an existing sandbox
func (m *Manager) Get(issueID string) *Sandbox {
	return &Sandbox{
		Root:    filepath.Join(m.baseDir, fmt.Sprintf("issue-%s", issueID)),
		RepoDir: filepath.Join(m.baseDir, fmt.Sprintf("issue-%s", issueID), "repo"),
		IssueID: issueID,
	}
}

// CleanupAll removes all sandboxes
func (m *Manager) CleanupAll() error {
	return os.RemoveAll(m.baseDir)
}
