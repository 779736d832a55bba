package model

import (
	"sort"
	"strconv"
	"strings"
)

// ParseCSVInts parses a comma-separated list of integers, dropping
// unparseable or non-positive entries. Used for TrackedIssue.BlockedByIssues.
func ParseCSVInts(csv string) []int {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil
	}

	var out []int
	for _, field := range strings.Split(csv, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil || n <= 0 {
			continue
		}
		out = append(out, n)
	}
	return out
}

// FormatCSVInts renders a slice of positive integers as an ascending,
// deduplicated comma-separated string.
func FormatCSVInts(nums []int) string {
	seen := make(map[int]bool, len(nums))
	uniq := make([]int, 0, len(nums))
	for _, n := range nums {
		if n <= 0 || seen[n] {
			continue
		}
		seen[n] = true
		uniq = append(uniq, n)
	}
	sort.Ints(uniq)

	parts := make([]string, len(uniq))
	for i, n := range uniq {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
