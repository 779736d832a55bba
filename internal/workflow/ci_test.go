package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/anthropics/issuebot/internal/model"
	"github.com/anthropics/issuebot/internal/providers"
)

func TestCIMonitorWaitSuccess(t *testing.T) {
	mock := providers.NewMockProvider()
	mock.CIStatuses["acme/widgets@abc"] = providers.CISuccess

	m := newCIMonitor(mock)
	result, err := m.wait(context.Background(), "acme/widgets", "abc", time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if result != model.CIPassed {
		t.Errorf("result = %q, want passed", result)
	}
}

func TestCIMonitorWaitFailure(t *testing.T) {
	mock := providers.NewMockProvider()
	mock.CIStatuses["acme/widgets@abc"] = providers.CIFailure

	m := newCIMonitor(mock)
	result, err := m.wait(context.Background(), "acme/widgets", "abc", time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if result != model.CIFailed {
		t.Errorf("result = %q, want failed", result)
	}
}

func TestCIMonitorWaitTimeout(t *testing.T) {
	mock := providers.NewMockProvider()
	mock.CIStatuses["acme/widgets@abc"] = providers.CIPending

	m := newCIMonitor(mock)
	result, err := m.wait(context.Background(), "acme/widgets", "abc", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if result != model.CITimeout {
		t.Errorf("result = %q, want timeout", result)
	}
}
