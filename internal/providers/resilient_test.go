package providers

import (
	"context"
	"errors"
	"testing"
)

// failingProvider wraps MockProvider and fails GetIssue a configured
// number of times before succeeding, for circuit-breaker testing.
type failingProvider struct {
	*MockProvider
	failUntil int
	calls     int
}

func (f *failingProvider) GetIssue(ctx context.Context, repo string, number int) (*Issue, error) {
	f.calls++
	if f.calls <= f.failUntil {
		return nil, errors.New("upstream unavailable")
	}
	return f.MockProvider.GetIssue(ctx, repo, number)
}

func TestResilientProviderPassesThroughOnSuccess(t *testing.T) {
	mock := NewMockProvider()
	mock.AddIssue("acme/widgets", &Issue{Number: 1, Title: "Fix parser"})

	rp := NewResilientProvider(mock, nil)
	issue, err := rp.GetIssue(context.Background(), "acme/widgets", 1)
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if issue.Title != "Fix parser" {
		t.Errorf("Title = %q", issue.Title)
	}
}

func TestResilientProviderOpensAfterConsecutiveFailures(t *testing.T) {
	fp := &failingProvider{MockProvider: NewMockProvider(), failUntil: 100}
	rp := NewResilientProvider(fp, nil)
	ctx := context.Background()

	var lastErr error
	for i := 0; i < 5; i++ {
		_, lastErr = rp.GetIssue(ctx, "acme/widgets", 1)
		if lastErr == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}

	callsBeforeOpen := fp.calls

	// The breaker should now be open and short-circuit without calling
	// through to the inner provider.
	_, err := rp.GetIssue(ctx, "acme/widgets", 1)
	if err == nil {
		t.Fatal("expected circuit breaker to return an error while open")
	}
	if fp.calls != callsBeforeOpen {
		t.Errorf("calls = %d, want unchanged at %d (breaker should short-circuit)", fp.calls, callsBeforeOpen)
	}
}

func TestResilientProviderName(t *testing.T) {
	mock := NewMockProvider()
	rp := NewResilientProvider(mock, nil)
	if rp.Name() != "mock" {
		t.Errorf("Name() = %q, want mock", rp.Name())
	}
}
