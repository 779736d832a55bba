package workflow

import (
	"fmt"
	"strings"

	"github.com/anthropics/issuebot/internal/providers"
)

// buildPRBody renders the pull-request description from the issue it
// resolves and the textual output of its most recent successful
// iteration, reusing that text instead of summarizing the change again.
func buildPRBody(issue *providers.Issue, lastOutput string) string {
	var b strings.Builder

	if lastOutput != "" {
		b.WriteString(lastOutput)
		b.WriteString("\n\n")
	} else {
		b.WriteString("## Summary\n\nImplements the requested changes.\n\n")
	}

	fmt.Fprintf(&b, "Closes #%d\n\n---\n*Automated by issuebot*\n", issue.Number)
	return b.String()
}
