// Package eventlog appends typed audit events to the persistence store
// and escalates WARN/ERROR severities to an external notification sink.
// INFO events are recorded but never escalated.
package eventlog

import (
	"context"

	"go.uber.org/zap"

	"github.com/anthropics/issuebot/internal/model"
	"github.com/anthropics/issuebot/internal/store"
)

// Sink delivers a WARN/ERROR notification to an external channel. Slack
// is the only sink wired in by default (internal/eventlog/slack.go); a
// nil Sink is valid and simply drops escalations.
type Sink interface {
	Notify(ctx context.Context, event *model.Event) error
}

// Log appends events to the store and escalates WARN/ERROR severities
// through Sink. All methods are safe for concurrent use; the store and
// sink implementations carry their own synchronization.
type Log struct {
	events store.EventStore
	sink   Sink
	log    *zap.Logger
}

// New builds a Log. sink may be nil to disable external escalation
// (e.g. no Slack webhook configured).
func New(events store.EventStore, sink Sink, log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{events: events, sink: sink, log: log}
}

// Append persists an event and, for WARN/ERROR severities, best-effort
// delivers it to the configured Sink. A sink failure is logged but never
// propagated — persistence of the event itself is the durable record.
func (l *Log) Append(ctx context.Context, eventType string, severity model.Severity, repoID, issueID *int64, message string) error {
	e := &model.Event{
		EventType: eventType,
		Severity:  severity,
		RepoID:    repoID,
		IssueID:   issueID,
		Message:   message,
	}
	if err := l.events.Save(ctx, e); err != nil {
		return err
	}

	if l.sink == nil || severity == model.SeverityInfo {
		return nil
	}
	if err := l.sink.Notify(ctx, e); err != nil {
		l.log.Warn("notification sink delivery failed",
			zap.String("event_type", eventType),
			zap.String("severity", string(severity)),
			zap.Error(err))
	}
	return nil
}

// Info appends an INFO-severity event. INFO events never escalate.
func (l *Log) Info(ctx context.Context, eventType string, repoID, issueID *int64, message string) error {
	return l.Append(ctx, eventType, model.SeverityInfo, repoID, issueID, message)
}

// Warn appends a WARN-severity event and escalates it to Sink.
func (l *Log) Warn(ctx context.Context, eventType string, repoID, issueID *int64, message string) error {
	return l.Append(ctx, eventType, model.SeverityWarn, repoID, issueID, message)
}

// Error appends an ERROR-severity event and escalates it to Sink.
func (l *Log) Error(ctx context.Context, eventType string, repoID, issueID *int64, message string) error {
	return l.Append(ctx, eventType, model.SeverityError, repoID, issueID, message)
}
