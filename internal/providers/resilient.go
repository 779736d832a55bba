package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"go.uber.org/zap"
)

// ResilientProvider wraps a Provider with a circuit breaker. Retry/
// backoff already lives inside each concrete Provider; the breaker sits
// one layer above it so a sustained outage stops burning retry budget
// on every call and instead fails fast.
type ResilientProvider struct {
	inner Provider
	cb    *gobreaker.CircuitBreaker
	log   *zap.Logger
}

// NewResilientProvider wraps inner with a circuit breaker named after the
// provider. Five consecutive failures open the circuit for 30 seconds.
func NewResilientProvider(inner Provider, log *zap.Logger) *ResilientProvider {
	if log == nil {
		log = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        fmt.Sprintf("provider:%s", inner.Name()),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("provider circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &ResilientProvider{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker(settings),
		log:   log,
	}
}

// runBreaker executes fn through the circuit breaker. When the breaker is
// open, gobreaker short-circuits and returns a nil result without calling
// fn, so the type assertion is skipped in favor of the zero value.
func runBreaker[T any](r *ResilientProvider, fn func() (T, error)) (T, error) {
	result, err := r.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if result == nil {
		var zero T
		return zero, err
	}
	return result.(T), err
}

func (r *ResilientProvider) Name() string { return r.inner.Name() }

func (r *ResilientProvider) GetIssue(ctx context.Context, repo string, number int) (*Issue, error) {
	return runBreaker(r, func() (*Issue, error) { return r.inner.GetIssue(ctx, repo, number) })
}

func (r *ResilientProvider) ListIssuesWithLabel(ctx context.Context, repo string, label string) ([]*Issue, error) {
	return runBreaker(r, func() ([]*Issue, error) { return r.inner.ListIssuesWithLabel(ctx, repo, label) })
}

func (r *ResilientProvider) GetComments(ctx context.Context, repo string, number int) ([]*Comment, error) {
	return runBreaker(r, func() ([]*Comment, error) { return r.inner.GetComments(ctx, repo, number) })
}

func (r *ResilientProvider) CreateComment(ctx context.Context, repo string, number int, body string) (int64, error) {
	return runBreaker(r, func() (int64, error) { return r.inner.CreateComment(ctx, repo, number, body) })
}

func (r *ResilientProvider) UpdateComment(ctx context.Context, repo string, commentID int64, body string) error {
	_, err := runBreaker(r, func() (struct{}, error) { return struct{}{}, r.inner.UpdateComment(ctx, repo, commentID, body) })
	return err
}

func (r *ResilientProvider) UpdateIssueBody(ctx context.Context, repo string, number int, body string) error {
	_, err := runBreaker(r, func() (struct{}, error) { return struct{}{}, r.inner.UpdateIssueBody(ctx, repo, number, body) })
	return err
}

func (r *ResilientProvider) AddLabel(ctx context.Context, repo string, number int, label string) error {
	_, err := runBreaker(r, func() (struct{}, error) { return struct{}{}, r.inner.AddLabel(ctx, repo, number, label) })
	return err
}

func (r *ResilientProvider) RemoveLabel(ctx context.Context, repo string, number int, label string) error {
	_, err := runBreaker(r, func() (struct{}, error) { return struct{}{}, r.inner.RemoveLabel(ctx, repo, number, label) })
	return err
}

func (r *ResilientProvider) CreateOrUpdatePR(ctx context.Context, repo string, pr PRCreate) (*PR, error) {
	return runBreaker(r, func() (*PR, error) { return r.inner.CreateOrUpdatePR(ctx, repo, pr) })
}

func (r *ResilientProvider) GetPR(ctx context.Context, repo string, number int) (*PR, error) {
	return runBreaker(r, func() (*PR, error) { return r.inner.GetPR(ctx, repo, number) })
}

func (r *ResilientProvider) GetPRByBranch(ctx context.Context, repo string, branch string) (*PR, error) {
	return runBreaker(r, func() (*PR, error) { return r.inner.GetPRByBranch(ctx, repo, branch) })
}

func (r *ResilientProvider) MergePR(ctx context.Context, repo string, number int) error {
	_, err := runBreaker(r, func() (struct{}, error) { return struct{}{}, r.inner.MergePR(ctx, repo, number) })
	return err
}

func (r *ResilientProvider) IsMergeable(ctx context.Context, repo string, number int) (bool, error) {
	return runBreaker(r, func() (bool, error) { return r.inner.IsMergeable(ctx, repo, number) })
}

func (r *ResilientProvider) Clone(ctx context.Context, repo string, dest string) error {
	// Cloning is a local, heavyweight operation, not worth tripping the
	// breaker over — run directly.
	return r.inner.Clone(ctx, repo, dest)
}

func (r *ResilientProvider) GetDefaultBranch(ctx context.Context, repo string) (string, error) {
	return runBreaker(r, func() (string, error) { return r.inner.GetDefaultBranch(ctx, repo) })
}

func (r *ResilientProvider) IsCollaborator(ctx context.Context, repo, username string) (bool, error) {
	return runBreaker(r, func() (bool, error) { return r.inner.IsCollaborator(ctx, repo, username) })
}

func (r *ResilientProvider) GetCIStatus(ctx context.Context, repo string, ref string) (CIStatus, error) {
	return runBreaker(r, func() (CIStatus, error) { return r.inner.GetCIStatus(ctx, repo, ref) })
}
