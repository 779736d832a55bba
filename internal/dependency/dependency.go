// Package dependency parses blocker declarations from issue bodies and
// computes readiness: transitive blocker resolution with cycle
// detection, and a Kahn-style topological sort over a queued set.
package dependency

import (
	"container/heap"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	blockedByLineRe = regexp.MustCompile(`(?im)^\*\*Blocked by:\*\*\s*(.*)$`)
	strikeThroughRe = regexp.MustCompile(`~~[^~]*~~`)
	issueRefRe      = regexp.MustCompile(`#(\d+)`)
)

// ParseBlockedBy finds the first "**Blocked by:** <refs>" line in an
// issue body (case-insensitive), strips strike-through (double-tilde)
// spans, and returns every #<digits> token in the remainder, in order.
// An absent or empty line returns an empty list.
func ParseBlockedBy(body string) []int {
	if body == "" {
		return nil
	}

	m := blockedByLineRe.FindStringSubmatch(body)
	if m == nil {
		return nil
	}

	line := strikeThroughRe.ReplaceAllString(m[1], "")

	var refs []int
	for _, match := range issueRefRe.FindAllStringSubmatch(line, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		refs = append(refs, n)
	}
	return refs
}

// RenderBlockedBy renders a blocker list back into the canonical
// "**Blocked by:** #N, #M" form, used to check the parser's idempotence.
func RenderBlockedBy(refs []int) string {
	if len(refs) == 0 {
		return "**Blocked by:** (none)"
	}
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = fmt.Sprintf("#%d", r)
	}
	return "**Blocked by:** " + strings.Join(parts, ", ")
}

// IssueLookup abstracts the two data sources resolve() consults: the
// upstream repository-service (is an issue closed?) and the local store
// (is the TrackedIssue COMPLETED?).
type IssueLookup interface {
	// IsClosedUpstream reports whether the given issue number is closed
	// in the upstream repository-service. An error degrades to "unknown",
	// handled by the caller as "not closed" with a warning.
	IsClosedUpstream(ctx context.Context, repo string, issueNumber int) (bool, error)
	// IsCompletedLocally reports whether the local TrackedIssue for this
	// issue number has status COMPLETED. Returns false if no TrackedIssue
	// exists yet.
	IsCompletedLocally(ctx context.Context, repo string, issueNumber int) (bool, error)
	// BlockersOf returns the direct blocker list for an issue number,
	// typically TrackedIssue.BlockedByList() or a fresh ParseBlockedBy of
	// its current body.
	BlockersOf(ctx context.Context, repo string, issueNumber int) ([]int, error)
}

// Resolution is the result of resolving one issue's transitive blockers.
type Resolution struct {
	AllBlockers        []int
	UnresolvedBlockers []int
	HasCycle           bool
	Chain              string
}

// WarnFunc receives a non-fatal warning event description; resolve never
// throws upward on upstream-fetch failure.
type WarnFunc func(format string, args ...any)

// Resolve performs the transitive blocker walk for issueNumber. It never
// returns an error: upstream-fetch failures degrade to "no blockers
// known for this node" plus a warning via warn.
func Resolve(ctx context.Context, lookup IssueLookup, repo string, issueNumber int, warn WarnFunc) Resolution {
	if warn == nil {
		warn = func(string, ...any) {}
	}

	visited := map[int]bool{issueNumber: true}
	onPath := map[int]bool{issueNumber: true}

	var allBlockers []int
	var unresolved []int
	hasCycle := false
	var chainParts []string

	direct, err := lookup.BlockersOf(ctx, repo, issueNumber)
	if err != nil {
		warn("no blockers known for issue #%d: %v", issueNumber, err)
		direct = nil
	}

	// frame.leave marks a backtrack point: it carries no edge of its own
	// and exists only to clear blocker from onPath once every descendant
	// pushed ahead of it (on top, in LIFO order) has been processed. This
	// is the iterative-stack equivalent of clearing a node from the
	// recursion stack on return from a recursive DFS.
	type frame struct {
		blocker int
		parent  int
		leave   bool
	}
	stack := make([]frame, 0, len(direct))
	for _, b := range direct {
		stack = append(stack, frame{blocker: b, parent: issueNumber})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.leave {
			delete(onPath, f.blocker)
			continue
		}

		if f.blocker == issueNumber {
			hasCycle = true
			chainParts = append(chainParts, fmt.Sprintf("#%d -> #%d (cycle)", f.parent, f.blocker))
			continue
		}
		if onPath[f.blocker] {
			hasCycle = true
			chainParts = append(chainParts, fmt.Sprintf("#%d -> #%d (re-encountered on path)", f.parent, f.blocker))
			continue
		}
		if visited[f.blocker] {
			continue
		}

		visited[f.blocker] = true
		onPath[f.blocker] = true
		allBlockers = append(allBlockers, f.blocker)
		chainParts = append(chainParts, fmt.Sprintf("#%d -> #%d", f.parent, f.blocker))

		resolved := isResolved(ctx, lookup, repo, f.blocker, warn)
		if !resolved {
			unresolved = append(unresolved, f.blocker)
		}

		subBlockers, err := lookup.BlockersOf(ctx, repo, f.blocker)
		if err != nil {
			warn("no blockers known for issue #%d: %v", f.blocker, err)
			subBlockers = nil
		}

		stack = append(stack, frame{blocker: f.blocker, leave: true})
		for _, sb := range subBlockers {
			stack = append(stack, frame{blocker: sb, parent: f.blocker})
		}
	}

	sortInts(allBlockers)
	sortInts(unresolved)

	chain := strings.Join(chainParts, "; ")
	if hasCycle {
		if chain == "" {
			chain = "cycle detected"
		} else {
			chain += "; WARNING: dependency cycle detected"
		}
	}
	if chain == "" {
		chain = "no blockers"
	}

	return Resolution{
		AllBlockers:        allBlockers,
		UnresolvedBlockers: unresolved,
		HasCycle:           hasCycle,
		Chain:              chain,
	}
}

// isResolved reports whether a blocker is closed upstream or COMPLETED
// locally. Upstream-fetch failures are treated as "not resolved" with a
// warning.
func isResolved(ctx context.Context, lookup IssueLookup, repo string, issueNumber int, warn WarnFunc) bool {
	closed, err := lookup.IsClosedUpstream(ctx, repo, issueNumber)
	if err != nil {
		warn("failed to check upstream state for #%d: %v", issueNumber, err)
	} else if closed {
		return true
	}

	completed, err := lookup.IsCompletedLocally(ctx, repo, issueNumber)
	if err != nil {
		warn("failed to check local state for #%d: %v", issueNumber, err)
		return false
	}
	return completed
}

// AllBlockersResolved reports whether every number listed in csv is
// either closed upstream or COMPLETED locally. An empty or null csv is
// trivially true.
func AllBlockersResolved(ctx context.Context, lookup IssueLookup, repo string, csv string, warn WarnFunc) bool {
	refs := parseCSV(csv)
	if len(refs) == 0 {
		return true
	}
	for _, n := range refs {
		if !isResolved(ctx, lookup, repo, n, warn) {
			return false
		}
	}
	return true
}

func parseCSV(csv string) []int {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil
	}
	var out []int
	for _, f := range strings.Split(csv, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if n, err := strconv.Atoi(f); err == nil && n > 0 {
			out = append(out, n)
		}
	}
	return out
}

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

// node is an entry in the topological sort's ready min-heap, ordered by
// ascending issue number, for deterministic tie-breaking.
type node int

type minHeap []node

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(node)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	last := old[n-1]
	*h = old[:n-1]
	return last
}

// TopologicalSort performs a restricted Kahn's algorithm over the input
// set. blockers maps an issue number to its direct blocker list; edges
// to blockers outside the input set are ignored (external blockers).
// Ties are broken by ascending issue number. If a cycle remains among
// the inputs the unsorted tail is appended in ascending order
// (defensive; should not occur after upstream cycle detection).
func TopologicalSort(issues []int, blockers map[int][]int) []int {
	inSet := make(map[int]bool, len(issues))
	for _, n := range issues {
		inSet[n] = true
	}

	// indegree[n] counts blockers of n that are also in the input set;
	// an edge runs blocker -> n (blocker must precede n).
	indegree := make(map[int]int, len(issues))
	dependents := make(map[int][]int, len(issues))
	for _, n := range issues {
		indegree[n] = 0
	}
	for _, n := range issues {
		for _, b := range blockers[n] {
			if !inSet[b] {
				continue
			}
			indegree[n]++
			dependents[b] = append(dependents[b], n)
		}
	}

	ready := &minHeap{}
	heap.Init(ready)
	for _, n := range issues {
		if indegree[n] == 0 {
			heap.Push(ready, node(n))
		}
	}

	var out []int
	seen := make(map[int]bool, len(issues))
	for ready.Len() > 0 {
		n := int(heap.Pop(ready).(node))
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)

		deps := append([]int(nil), dependents[n]...)
		sortInts(deps)
		for _, d := range deps {
			indegree[d]--
			if indegree[d] == 0 {
				heap.Push(ready, node(d))
			}
		}
	}

	if len(out) < len(issues) {
		var rest []int
		for _, n := range issues {
			if !seen[n] {
				rest = append(rest, n)
			}
		}
		sortInts(rest)
		out = append(out, rest...)
	}

	return out
}
