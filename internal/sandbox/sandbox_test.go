package sandbox

import "testing"

func TestIsSafeBranchName(t *testing.T) {
	tests := []struct {
		name          string
		branch        string
		defaultBranch string
		want          bool
	}{
		{"well-formed", "issuebot/issue-42-fix-parser", "main", true},
		{"main rejected", "main", "main", false},
		{"master rejected", "master", "develop", false},
		{"matches default branch", "issuebot/issue-1-x", "issuebot/issue-1-x", false},
		{"empty", "", "main", false},
		{"wrong prefix", "feature/issue-1-x", "main", false},
		{"uppercase slug rejected", "issuebot/issue-1-Fix", "main", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSafeBranchName(tt.branch, tt.defaultBranch); got != tt.want {
				t.Errorf("IsSafeBranchName(%q, %q) = %v, want %v", tt.branch, tt.defaultBranch, got, tt.want)
			}
		})
	}
}

func TestBranchNameForIssue(t *testing.T) {
	got := BranchNameForIssue(42, "Fix the Parser!! (edge case)")
	if !IsSafeBranchName(got, "main") {
		t.Errorf("generated branch name %q is not safe", got)
	}
	want := "issuebot/issue-42-fix-the-parser-edge-case"
	if got != want {
		t.Errorf("BranchNameForIssue = %q, want %q", got, want)
	}
}
