package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthropics/issuebot/internal/model"
	"github.com/anthropics/issuebot/internal/providers"
)

// maxHistoryChars bounds how much prior-iteration context is embedded in
// the implementation prompt. A character count stands in for a token
// count since no tokenizer is part of this system.
const maxHistoryChars = 8000

// writeImplementationPrompt renders the structured code-generation
// prompt to promptFile: issue title/body, prior iterations'
// self-assessments/CI outputs/review feedback latest-first, human
// rejection feedback if present, and allowed paths.
func writeImplementationPrompt(promptFile string, issue *providers.Issue, repo *model.WatchedRepo, history []*model.Iteration, rejectionFeedback string) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# Issue #%d: %s\n\n%s\n", issue.Number, issue.Title, issue.Body)

	if rejectionFeedback != "" {
		fmt.Fprintf(&b, "\n## Human rejected the previous submission\n\n%s\n", rejectionFeedback)
	}

	if len(history) > 0 {
		b.WriteString("\n## Prior iteration history (most recent first)\n")
		remaining := maxHistoryChars
		for _, it := range history {
			entry := formatIterationHistory(it)
			if remaining <= 0 {
				break
			}
			if len(entry) > remaining {
				entry = entry[:remaining] + "…"
			}
			b.WriteString(entry)
			remaining -= len(entry)
		}
	}

	if len(repo.AllowedPaths) > 0 {
		fmt.Fprintf(&b, "\n## Allowed paths\n\nOnly modify files under:\n")
		for _, p := range repo.AllowedPaths {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}

	if err := os.MkdirAll(filepath.Dir(promptFile), 0755); err != nil {
		return err
	}
	return os.WriteFile(promptFile, []byte(b.String()), 0644)
}

func formatIterationHistory(it *model.Iteration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n### Iteration %d\n", it.IterationNum)
	if it.SelfAssessment != "" {
		fmt.Fprintf(&b, "Self-assessment: %s\n", it.SelfAssessment)
	}
	if it.CIResult != "" {
		fmt.Fprintf(&b, "CI result: %s\n", it.CIResult)
	}
	if it.ReviewJSON != "" {
		fmt.Fprintf(&b, "Review feedback: %s\n", it.ReviewJSON)
	}
	return b.String()
}

// writeReviewerPrompt renders the reviewer tool's input: issue,
// changed files, and diff.
func writeReviewerPrompt(promptFile string, issue *providers.Issue, changedFiles []string, diff string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Review for issue #%d: %s\n\n%s\n", issue.Number, issue.Title, issue.Body)
	fmt.Fprintf(&b, "\n## Changed files\n\n")
	for _, f := range changedFiles {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	fmt.Fprintf(&b, "\n## Diff\n\n```diff\n%s\n```\n", diff)

	if err := os.MkdirAll(filepath.Dir(promptFile), 0755); err != nil {
		return err
	}
	return os.WriteFile(promptFile, []byte(b.String()), 0644)
}
