package workflow

import "strings"

// IsApproval reports whether a human's AWAITING_APPROVAL response
// approves the pending plan.
func IsApproval(comment string) bool {
	return strings.TrimSpace(comment) == "/approve"
}

// IsAbort reports whether a comment explicitly requests the workflow be
// abandoned, as opposed to carrying rejection feedback to act on.
func IsAbort(comment string) bool {
	lower := strings.ToLower(strings.TrimSpace(comment))
	return lower == "/abort" || lower == "abort"
}

// ExtractFeedback returns the rejection feedback text from a non-
// approval AWAITING_APPROVAL response, threaded into the next
// implementation prompt.
func ExtractFeedback(comment string) string {
	return strings.TrimSpace(comment)
}

// isBotComment reports whether a comment was authored by the engine
// itself, so approval/rejection scanning only considers human replies.
func isBotComment(body string) bool {
	return strings.Contains(body, botMarker)
}

const botMarker = "<!-- issuebot -->"

func addBotMarker(body string) string {
	return body + "\n\n" + botMarker
}
