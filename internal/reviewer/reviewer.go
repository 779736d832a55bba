// Package reviewer invokes the independent reviewer tool subprocess and
// parses its single JSON verdict object. Shares internal/codegen's
// subprocess-adapter shape, specialized to decode one JSON object
// instead of a line-delimited stream.
package reviewer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/anthropics/issuebot/internal/retry"
)

// Tool invokes the configured reviewer subprocess.
type Tool struct {
	command string
	timeout time.Duration
}

// New builds a Tool targeting the given subprocess command.
func New(command string, timeout time.Duration) *Tool {
	return &Tool{command: command, timeout: timeout}
}

// Severity is a finding's severity level.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Category classifies what a Finding is about.
type Category string

const (
	CategorySpecCompliance Category = "spec_compliance"
	CategoryCorrectness    Category = "correctness"
	CategoryCodeQuality    Category = "code_quality"
	CategoryTestCoverage   Category = "test_coverage"
	CategoryArchitectureFit Category = "architecture_fit"
	CategoryRegressions    Category = "regressions"
	CategorySecurity       Category = "security"
)

// Finding is one reviewer comment on the diff.
type Finding struct {
	Severity   Severity `json:"severity"`
	Category   Category `json:"category"`
	File       string   `json:"file"`
	Line       *int     `json:"line,omitempty"`
	Finding    string   `json:"finding"`
	Suggestion string   `json:"suggestion"`
}

// Verdict is the reviewer's single JSON output object.
type Verdict struct {
	Passed               bool      `json:"passed"`
	Summary              string    `json:"summary"`
	SpecComplianceScore  float64   `json:"specComplianceScore"`
	CorrectnessScore     float64   `json:"correctnessScore"`
	CodeQualityScore     float64   `json:"codeQualityScore"`
	TestCoverageScore    float64   `json:"testCoverageScore"`
	ArchitectureFitScore float64   `json:"architectureFitScore"`
	RegressionsScore     float64   `json:"regressionsScore"`
	SecurityScore        float64   `json:"securityScore"`
	Findings             []Finding `json:"findings"`
	Advice               string    `json:"advice"`
}

// Request carries the reviewer's input: the diff and the issue context
// it is judged against.
type Request struct {
	PromptFile string
	WorkDir    string
}

// Run invokes the tool as `command(promptFile, workdir)` and decodes
// its stdout as a single Verdict object.
func (t *Tool) Run(ctx context.Context, req Request) (*Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.command, req.PromptFile, req.WorkDir)
	cmd.Dir = req.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("reviewer: timed out after %v", t.timeout)
		}
		return nil, fmt.Errorf("reviewer: %w: %s", err, stderr.String())
	}

	var verdict Verdict
	if err := json.Unmarshal(stdout.Bytes(), &verdict); err != nil {
		return nil, fmt.Errorf("reviewer: parse verdict: %w", err)
	}
	return &verdict, nil
}

// Classify maps a Run error to a retry.ErrorType, reusing the same
// policy as the code-generation tool: a parse failure is an iteration
// failure, not a fatal error.
func Classify(err error) retry.ErrorType {
	return retry.ClassifyCodegenTool(err)
}
