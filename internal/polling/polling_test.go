package polling

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/anthropics/issuebot/internal/model"
	"github.com/anthropics/issuebot/internal/providers"
	"github.com/anthropics/issuebot/internal/store"
)

type fakeRepoStore struct {
	repos []*model.WatchedRepo
}

func (s *fakeRepoStore) Save(ctx context.Context, r *model.WatchedRepo) error { return nil }
func (s *fakeRepoStore) FindByID(ctx context.Context, id int64) (*model.WatchedRepo, error) {
	for _, r := range s.repos {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, store.ErrNotFound
}
func (s *fakeRepoStore) FindByFullName(ctx context.Context, owner, name string) (*model.WatchedRepo, error) {
	return nil, store.ErrNotFound
}
func (s *fakeRepoStore) ListAll(ctx context.Context) ([]*model.WatchedRepo, error) {
	return s.repos, nil
}

type fakeIssueStore struct {
	byKey map[string]*model.TrackedIssue
	nextID int64
}

func newFakeIssueStore() *fakeIssueStore {
	return &fakeIssueStore{byKey: make(map[string]*model.TrackedIssue)}
}

func keyFor(repoID int64, number int) string {
	return fmt.Sprintf("%d#%d", repoID, number)
}

func (s *fakeIssueStore) Save(ctx context.Context, issue *model.TrackedIssue) error {
	if issue.ID == 0 {
		s.nextID++
		issue.ID = s.nextID
	}
	s.byKey[keyFor(issue.RepoID, issue.IssueNumber)] = issue
	return nil
}
func (s *fakeIssueStore) FindByID(ctx context.Context, id int64) (*model.TrackedIssue, error) {
	for _, v := range s.byKey {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, store.ErrNotFound
}
func (s *fakeIssueStore) FindByKey(ctx context.Context, repoID int64, issueNumber int) (*model.TrackedIssue, error) {
	v, ok := s.byKey[keyFor(repoID, issueNumber)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}
func (s *fakeIssueStore) ListByStatus(ctx context.Context, repoID int64, status model.IssueStatus) ([]*model.TrackedIssue, error) {
	var out []*model.TrackedIssue
	for _, v := range s.byKey {
		if v.RepoID == repoID && v.Status == status {
			out = append(out, v)
		}
	}
	return out, nil
}
func (s *fakeIssueStore) ListQueuedOrBlocked(ctx context.Context, repoID int64) ([]*model.TrackedIssue, error) {
	return nil, nil
}
func (s *fakeIssueStore) ListCooldownExpired(ctx context.Context) ([]*model.TrackedIssue, error) {
	return nil, nil
}

type fakeDispatcher struct {
	dispatched []int
	failFor    map[int]bool
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, repo *model.WatchedRepo, issue *model.TrackedIssue) error {
	if d.failFor[issue.IssueNumber] {
		return context.DeadlineExceeded
	}
	d.dispatched = append(d.dispatched, issue.IssueNumber)
	return nil
}

func TestTickQualifiesNewIssueAndQueues(t *testing.T) {
	repo := &model.WatchedRepo{ID: 1, Owner: "acme", Name: "widgets"}
	repos := &fakeRepoStore{repos: []*model.WatchedRepo{repo}}
	issues := newFakeIssueStore()

	mock := providers.NewMockProvider()
	mock.AddIssue("acme/widgets", &providers.Issue{Number: 7, Title: "Fix parser", State: "open", Labels: []string{"agent-ready"}})

	dispatcher := &fakeDispatcher{failFor: map[int]bool{}}
	svc := New(repos, issues, mock, dispatcher, nil, "agent-ready", "needs-human", time.Minute, nil)

	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(dispatcher.dispatched) != 1 || dispatcher.dispatched[0] != 7 {
		t.Fatalf("dispatched = %v, want [7]", dispatcher.dispatched)
	}

	tracked, _ := issues.FindByKey(context.Background(), 1, 7)
	if tracked.Status != model.StatusInProgress {
		t.Errorf("Status = %q, want IN_PROGRESS after dispatch", tracked.Status)
	}
}

func TestTickSkipsNeedsHumanLabel(t *testing.T) {
	repo := &model.WatchedRepo{ID: 1, Owner: "acme", Name: "widgets"}
	repos := &fakeRepoStore{repos: []*model.WatchedRepo{repo}}
	issues := newFakeIssueStore()

	mock := providers.NewMockProvider()
	mock.AddIssue("acme/widgets", &providers.Issue{Number: 7, State: "open", Labels: []string{"agent-ready", "needs-human"}})

	dispatcher := &fakeDispatcher{failFor: map[int]bool{}}
	svc := New(repos, issues, mock, dispatcher, nil, "agent-ready", "needs-human", time.Minute, nil)

	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(dispatcher.dispatched) != 0 {
		t.Errorf("dispatched = %v, want none (needs-human present)", dispatcher.dispatched)
	}
}

func TestTickBlockedIssueNotDispatched(t *testing.T) {
	repo := &model.WatchedRepo{ID: 1, Owner: "acme", Name: "widgets"}
	repos := &fakeRepoStore{repos: []*model.WatchedRepo{repo}}
	issues := newFakeIssueStore()

	mock := providers.NewMockProvider()
	mock.AddIssue("acme/widgets", &providers.Issue{Number: 20, Title: "needs #10", State: "open", Labels: []string{"agent-ready"}, Body: "**Blocked by:** #10"})
	mock.AddIssue("acme/widgets", &providers.Issue{Number: 10, Title: "blocker", State: "open"})

	dispatcher := &fakeDispatcher{failFor: map[int]bool{}}
	svc := New(repos, issues, mock, dispatcher, nil, "agent-ready", "needs-human", time.Minute, nil)

	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(dispatcher.dispatched) != 0 {
		t.Errorf("dispatched = %v, want none (blocker #10 still open)", dispatcher.dispatched)
	}

	tracked, _ := issues.FindByKey(context.Background(), 1, 20)
	if tracked.Status != model.StatusBlocked {
		t.Errorf("Status = %q, want BLOCKED", tracked.Status)
	}
	if tracked.BlockedByIssues != "10" {
		t.Errorf("BlockedByIssues = %q, want 10", tracked.BlockedByIssues)
	}
}

func TestTickCooldownResetSkipsThisCycle(t *testing.T) {
	repo := &model.WatchedRepo{ID: 1, Owner: "acme", Name: "widgets"}
	repos := &fakeRepoStore{repos: []*model.WatchedRepo{repo}}
	issues := newFakeIssueStore()

	past := time.Now().Add(-time.Hour)
	issues.byKey[keyFor(1, 7)] = &model.TrackedIssue{
		ID: 1, RepoID: 1, IssueNumber: 7, Status: model.StatusCooldown, CooldownUntil: &past, CurrentIteration: 3,
	}

	mock := providers.NewMockProvider()
	mock.AddIssue("acme/widgets", &providers.Issue{Number: 7, State: "open", Labels: []string{"agent-ready"}})

	dispatcher := &fakeDispatcher{failFor: map[int]bool{}}
	svc := New(repos, issues, mock, dispatcher, nil, "agent-ready", "needs-human", time.Minute, nil)

	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(dispatcher.dispatched) != 0 {
		t.Errorf("dispatched = %v, want none this cycle after cooldown reset", dispatcher.dispatched)
	}

	tracked, _ := issues.FindByKey(context.Background(), 1, 7)
	if tracked.Status != model.StatusPending {
		t.Errorf("Status = %q, want PENDING after cooldown reset", tracked.Status)
	}
	if tracked.CurrentIteration != 0 {
		t.Errorf("CurrentIteration = %d, want reset to 0", tracked.CurrentIteration)
	}
}

func TestDispatchFailureRestoresQueued(t *testing.T) {
	repo := &model.WatchedRepo{ID: 1, Owner: "acme", Name: "widgets"}
	repos := &fakeRepoStore{repos: []*model.WatchedRepo{repo}}
	issues := newFakeIssueStore()

	mock := providers.NewMockProvider()
	mock.AddIssue("acme/widgets", &providers.Issue{Number: 7, State: "open", Labels: []string{"agent-ready"}})

	dispatcher := &fakeDispatcher{failFor: map[int]bool{7: true}}
	svc := New(repos, issues, mock, dispatcher, nil, "agent-ready", "needs-human", time.Minute, nil)

	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	tracked, _ := issues.FindByKey(context.Background(), 1, 7)
	if tracked.Status != model.StatusQueued {
		t.Errorf("Status = %q, want QUEUED restored after dispatch failure", tracked.Status)
	}
}
