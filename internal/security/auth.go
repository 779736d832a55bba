package security

import (
	"context"

	"go.uber.org/zap"

	"github.com/anthropics/issuebot/internal/providers"
)

// IsAuthorized checks if a comment author is authorized to interact with the workflow.
// Only repository collaborators with sufficient permissions (admin, maintain, write, triage)
// are authorized. Non-collaborators cannot interact, even if they created the issue.
//
// If IsCollaborator returns an error, it is logged and the function returns false, nil
// (fail closed). This prevents transient API errors from causing workflow failures while
// still denying access when authorization cannot be verified.
func IsAuthorized(ctx context.Context, provider providers.Provider, repo, commentAuthor string, logger *zap.Logger) (bool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	isCollab, err := provider.IsCollaborator(ctx, repo, commentAuthor)
	if err != nil {
		logger.Warn("authorization check failed, treating as unauthorized",
			zap.String("user", commentAuthor), zap.String("repo", repo), zap.Error(err))
		return false, nil
	}

	if !isCollab {
		logger.Warn("unauthorized access attempt",
			zap.String("user", commentAuthor), zap.String("repo", repo))
		return false, nil
	}

	return true, nil
}
