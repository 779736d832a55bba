package workflow

import (
	"context"
	"time"

	"github.com/anthropics/issuebot/internal/model"
	"github.com/anthropics/issuebot/internal/providers"
)

// ciPollInterval is the fixed cadence for polling a ref's CI status;
// only the overall timeout is configurable per repo.
const ciPollInterval = 15 * time.Second

// ciMonitor polls a ref's combined CI status until it settles or a
// caller-supplied timeout elapses.
type ciMonitor struct {
	provider providers.Provider
}

func newCIMonitor(provider providers.Provider) *ciMonitor {
	return &ciMonitor{provider: provider}
}

// wait polls repo's ref until CI passes, fails, or timeout elapses.
func (m *ciMonitor) wait(ctx context.Context, repo, ref string, timeout time.Duration) (model.CIResult, error) {
	deadline := time.Now().Add(timeout)

	for {
		status, err := m.provider.GetCIStatus(ctx, repo, ref)
		if err != nil {
			return "", err
		}

		switch status {
		case providers.CISuccess, providers.CINotApplicable:
			return model.CIPassed, nil
		case providers.CIFailure:
			return model.CIFailed, nil
		case providers.CITimedOut:
			return model.CITimeout, nil
		case providers.CIPending:
			// fall through to wait
		}

		if time.Now().After(deadline) {
			return model.CITimeout, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(ciPollInterval):
		}
	}
}
