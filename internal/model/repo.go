// Package model holds the plain value records shared across the
// repository abstraction and the workflow engine. Records are passed by
// value across component boundaries; nothing here performs lazy loading.
package model

import "time"

// RepoMode controls whether a watched repository's merges proceed
// without human approval.
type RepoMode string

const (
	ModeAutonomous    RepoMode = "AUTONOMOUS"
	ModeApprovalGated RepoMode = "APPROVAL_GATED"
)

// WatchedRepo is a code repository the engine polls for agent-ready
// issues. Identity is (Owner, Name).
type WatchedRepo struct {
	ID                    int64
	Owner                 string
	Name                  string
	DefaultBranch         string
	Mode                  RepoMode
	MaxIterations         int
	MaxReviewIterations   int
	CIEnabled             bool
	CITimeoutMinutes      int
	AutoMerge             bool
	SecurityReviewEnabled bool
	AllowedPaths          []string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// FullName returns the "owner/name" slug used throughout the provider
// contracts and branch naming.
func (r WatchedRepo) FullName() string {
	return r.Owner + "/" + r.Name
}
