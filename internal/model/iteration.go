package model

import "time"

// CIResult is the outcome of a continuous-integration poll.
type CIResult string

const (
	CIPending CIResult = "pending"
	CIPassed  CIResult = "passed"
	CIFailed  CIResult = "failed"
	CITimeout CIResult = "timeout"
)

// Iteration is one append-only row per implementation attempt on a
// TrackedIssue.
type Iteration struct {
	ID             string // surrogate id, google/uuid
	TrackedIssueID int64
	IterationNum   int
	CodegenOutput  string
	SelfAssessment string
	CIResult       CIResult
	Diff           string
	ReviewJSON     string
	ReviewPassed   bool
	ReviewModel    string
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// CostPhase distinguishes which tool invocation a CostTracking row bills.
type CostPhase string

const (
	PhaseImplementation CostPhase = "IMPLEMENTATION"
	PhaseReview         CostPhase = "REVIEW"
)

// CostTracking is an append-only record of token usage for one tool
// invocation.
type CostTracking struct {
	ID             string
	TrackedIssueID int64
	IterationNum   int
	InputTokens    int
	OutputTokens   int
	EstimatedCost  float64
	ModelUsed      string
	Phase          CostPhase
	CreatedAt      time.Time
}

// Event is an append-only audit-log row.
type Event struct {
	ID        string
	CreatedAt time.Time
	EventType string
	Severity  Severity
	RepoID    *int64
	IssueID   *int64
	Message   string
}

// Notification severities; only Warn/Error escalate externally.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)
