package providers

import (
	"context"
	"testing"
)

func TestMockProviderIssueLifecycle(t *testing.T) {
	m := NewMockProvider()
	ctx := context.Background()

	m.AddIssue("acme/widgets", &Issue{Number: 1, Title: "Fix parser", Labels: []string{"bug"}})

	issue, err := m.GetIssue(ctx, "acme/widgets", 1)
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if issue.Title != "Fix parser" {
		t.Errorf("Title = %q", issue.Title)
	}

	if err := m.AddLabel(ctx, "acme/widgets", 1, "ready"); err != nil {
		t.Fatalf("AddLabel: %v", err)
	}
	issue, _ = m.GetIssue(ctx, "acme/widgets", 1)
	if len(issue.Labels) != 2 {
		t.Errorf("Labels = %v, want 2 entries", issue.Labels)
	}

	if err := m.RemoveLabel(ctx, "acme/widgets", 1, "bug"); err != nil {
		t.Fatalf("RemoveLabel: %v", err)
	}
	issue, _ = m.GetIssue(ctx, "acme/widgets", 1)
	if len(issue.Labels) != 1 || issue.Labels[0] != "ready" {
		t.Errorf("Labels = %v, want [ready]", issue.Labels)
	}
}

func TestMockProviderCreateOrUpdatePR(t *testing.T) {
	m := NewMockProvider()
	ctx := context.Background()

	pr, err := m.CreateOrUpdatePR(ctx, "acme/widgets", PRCreate{Title: "fix", Head: "issuebot/issue-1", Base: "main"})
	if err != nil {
		t.Fatalf("CreateOrUpdatePR: %v", err)
	}
	first := pr.Number

	updated, err := m.CreateOrUpdatePR(ctx, "acme/widgets", PRCreate{Title: "fix v2", Head: "issuebot/issue-1", Base: "main"})
	if err != nil {
		t.Fatalf("CreateOrUpdatePR (update): %v", err)
	}
	if updated.Number != first {
		t.Errorf("expected same PR number on update, got %d want %d", updated.Number, first)
	}
	if updated.Title != "fix v2" {
		t.Errorf("Title = %q, want updated title", updated.Title)
	}
}

func TestMockProviderCIStatusDefaultsToSuccess(t *testing.T) {
	m := NewMockProvider()
	ctx := context.Background()

	status, err := m.GetCIStatus(ctx, "acme/widgets", "deadbeef")
	if err != nil {
		t.Fatalf("GetCIStatus: %v", err)
	}
	if status != CISuccess {
		t.Errorf("status = %q, want %q for unconfigured ref", status, CISuccess)
	}

	m.SetCIStatus("acme/widgets", "deadbeef", CIFailure)
	status, err = m.GetCIStatus(ctx, "acme/widgets", "deadbeef")
	if err != nil {
		t.Fatalf("GetCIStatus: %v", err)
	}
	if status != CIFailure {
		t.Errorf("status = %q, want %q after SetCIStatus", status, CIFailure)
	}
}

func TestMockProviderIsCollaborator(t *testing.T) {
	m := NewMockProvider()
	ctx := context.Background()

	ok, err := m.IsCollaborator(ctx, "acme/widgets", "alice")
	if err != nil {
		t.Fatalf("IsCollaborator: %v", err)
	}
	if ok {
		t.Error("alice should not be a collaborator by default")
	}

	m.SetCollaborator("alice", true)
	ok, err = m.IsCollaborator(ctx, "acme/widgets", "alice")
	if err != nil {
		t.Fatalf("IsCollaborator: %v", err)
	}
	if !ok {
		t.Error("alice should be a collaborator after SetCollaborator")
	}
}

func TestMockProviderMergeError(t *testing.T) {
	m := NewMockProvider()
	ctx := context.Background()

	m.PRs["acme/widgets"] = map[int]*PR{1: {Number: 1, State: "open", Mergeable: true}}
	m.MergeError = ErrMergeNotAllowed

	if err := m.MergePR(ctx, "acme/widgets", 1); err != ErrMergeNotAllowed {
		t.Errorf("MergePR err = %v, want ErrMergeNotAllowed", err)
	}
}

func TestMockProviderReset(t *testing.T) {
	m := NewMockProvider()
	m.AddIssue("acme/widgets", &Issue{Number: 1})
	m.SetCollaborator("alice", true)

	m.Reset()

	if len(m.Issues) != 0 || len(m.Collaborators) != 0 {
		t.Error("Reset should clear issue and collaborator state")
	}
}
