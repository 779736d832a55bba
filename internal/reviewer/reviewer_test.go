package reviewer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFakeReviewer(t *testing.T, jsonBody string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-reviewer.sh")
	script := "#!/bin/sh\ncat <<'EOF'\n" + jsonBody + "\nEOF\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake reviewer: %v", err)
	}
	return path
}

func TestRunParsesVerdict(t *testing.T) {
	path := writeFakeReviewer(t, `{
		"passed": false,
		"summary": "missing null check",
		"specComplianceScore": 0.8,
		"correctnessScore": 0.6,
		"codeQualityScore": 0.9,
		"testCoverageScore": 0.5,
		"architectureFitScore": 0.9,
		"regressionsScore": 1.0,
		"securityScore": 1.0,
		"findings": [
			{"severity":"high","category":"correctness","file":"parser.go","line":42,"finding":"nil deref","suggestion":"add a nil check"}
		],
		"advice": "add the null check before the next attempt"
	}`)

	tool := New(path, 5*time.Second)
	verdict, err := tool.Run(context.Background(), Request{PromptFile: "prompt.md", WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if verdict.Passed {
		t.Error("Passed should be false")
	}
	if len(verdict.Findings) != 1 {
		t.Fatalf("len(Findings) = %d, want 1", len(verdict.Findings))
	}
	f := verdict.Findings[0]
	if f.Severity != SeverityHigh || f.Category != CategoryCorrectness {
		t.Errorf("Finding = %+v", f)
	}
	if f.Line == nil || *f.Line != 42 {
		t.Errorf("Line = %v, want 42", f.Line)
	}
}

func TestRunInvalidJSON(t *testing.T) {
	path := writeFakeReviewer(t, `not json at all`)

	tool := New(path, 5*time.Second)
	_, err := tool.Run(context.Background(), Request{PromptFile: "prompt.md", WorkDir: t.TempDir()})
	if err == nil {
		t.Fatal("expected a parse error")
	}
}
