package dependency

import (
	"context"
	"fmt"
	"reflect"
	"testing"
)

func TestParseBlockedBy(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected []int
	}{
		{
			name:     "no line",
			body:     "Just a regular issue body.",
			expected: nil,
		},
		{
			name:     "simple refs",
			body:     "**Blocked by:** #10, #15",
			expected: []int{10, 15},
		},
		{
			name:     "case insensitive",
			body:     "**blocked BY:** #5",
			expected: []int{5},
		},
		{
			name:     "strike-through excludes resolved",
			body:     "**Blocked by:** ~~#10~~, #20",
			expected: []int{20},
		},
		{
			name:     "all struck through",
			body:     "**Blocked by:** ~~#1~~",
			expected: nil,
		},
		{
			name:     "empty line",
			body:     "**Blocked by:** ",
			expected: nil,
		},
		{
			name:     "line among other content",
			body:     "Some intro.\n\n**Blocked by:** #7\n\nMore text.",
			expected: []int{7},
		},
		{
			name:     "nil body",
			body:     "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseBlockedBy(tt.body)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ParseBlockedBy(%q) = %v, want %v", tt.body, got, tt.expected)
			}
		})
	}
}

func TestParseBlockedByIdempotent(t *testing.T) {
	refs := []int{3, 9, 42}
	rendered := RenderBlockedBy(refs)
	got := ParseBlockedBy(rendered)
	if !reflect.DeepEqual(got, refs) {
		t.Errorf("parsing rendered form = %v, want %v", got, refs)
	}
}

func TestParseBlockedByStrikeThroughLaw(t *testing.T) {
	got := ParseBlockedBy("**Blocked by:** ~~#5~~, #9")
	want := []int{9}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// fakeLookup is an in-memory IssueLookup for resolver tests.
type fakeLookup struct {
	closedUpstream map[int]bool
	completedLocal map[int]bool
	blockers       map[int][]int
	fetchErr       map[int]bool
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		closedUpstream: map[int]bool{},
		completedLocal: map[int]bool{},
		blockers:       map[int][]int{},
		fetchErr:       map[int]bool{},
	}
}

func (f *fakeLookup) IsClosedUpstream(_ context.Context, _ string, n int) (bool, error) {
	return f.closedUpstream[n], nil
}

func (f *fakeLookup) IsCompletedLocally(_ context.Context, _ string, n int) (bool, error) {
	return f.completedLocal[n], nil
}

func (f *fakeLookup) BlockersOf(_ context.Context, _ string, n int) ([]int, error) {
	if f.fetchErr[n] {
		return nil, fmt.Errorf("upstream unavailable")
	}
	return f.blockers[n], nil
}

func TestResolveBlockerChain(t *testing.T) {
	lookup := newFakeLookup()
	lookup.blockers[20] = []int{10, 15}
	lookup.closedUpstream[10] = false
	lookup.closedUpstream[15] = false

	res := Resolve(context.Background(), lookup, "r/r", 20, nil)
	if res.HasCycle {
		t.Fatal("expected no cycle")
	}
	if !reflect.DeepEqual(res.AllBlockers, []int{10, 15}) {
		t.Errorf("AllBlockers = %v", res.AllBlockers)
	}
	if !reflect.DeepEqual(res.UnresolvedBlockers, []int{10, 15}) {
		t.Errorf("UnresolvedBlockers = %v", res.UnresolvedBlockers)
	}

	lookup.closedUpstream[10] = true
	res = Resolve(context.Background(), lookup, "r/r", 20, nil)
	if !reflect.DeepEqual(res.UnresolvedBlockers, []int{15}) {
		t.Errorf("UnresolvedBlockers after closing #10 = %v", res.UnresolvedBlockers)
	}

	lookup.closedUpstream[15] = true
	res = Resolve(context.Background(), lookup, "r/r", 20, nil)
	if len(res.UnresolvedBlockers) != 0 {
		t.Errorf("expected fully resolved, got %v", res.UnresolvedBlockers)
	}
}

func TestResolveCycle(t *testing.T) {
	lookup := newFakeLookup()
	lookup.blockers[10] = []int{5}
	lookup.blockers[5] = []int{10}
	lookup.closedUpstream[5] = false

	res := Resolve(context.Background(), lookup, "r/r", 10, nil)
	if !res.HasCycle {
		t.Fatal("expected cycle to be detected")
	}
	if !reflect.DeepEqual(res.AllBlockers, []int{5}) {
		t.Errorf("AllBlockers = %v, want [5]", res.AllBlockers)
	}
	if !reflect.DeepEqual(res.UnresolvedBlockers, []int{5}) {
		t.Errorf("UnresolvedBlockers = %v, want [5]", res.UnresolvedBlockers)
	}
}

func TestResolveDiamondIsNotACycle(t *testing.T) {
	lookup := newFakeLookup()
	lookup.blockers[1] = []int{2, 3}
	lookup.blockers[2] = []int{4}
	lookup.blockers[3] = []int{4}
	lookup.closedUpstream[4] = false

	res := Resolve(context.Background(), lookup, "r/r", 1, nil)
	if res.HasCycle {
		t.Fatalf("expected no cycle for a diamond, got chain %q", res.Chain)
	}
	if !reflect.DeepEqual(res.AllBlockers, []int{2, 3, 4}) {
		t.Errorf("AllBlockers = %v, want [2 3 4]", res.AllBlockers)
	}
}

func TestResolveUpstreamFetchFailureDegrades(t *testing.T) {
	lookup := newFakeLookup()
	lookup.fetchErr[99] = true

	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	res := Resolve(context.Background(), lookup, "r/r", 99, warn)
	if len(res.AllBlockers) != 0 {
		t.Errorf("expected no blockers known, got %v", res.AllBlockers)
	}
	if len(warnings) == 0 {
		t.Error("expected a warning to be emitted on fetch failure")
	}
}

func TestAllBlockersResolvedEmptyOrNil(t *testing.T) {
	lookup := newFakeLookup()
	if !AllBlockersResolved(context.Background(), lookup, "r/r", "", nil) {
		t.Error("empty csv should resolve true")
	}
}

func TestTopologicalSoundness(t *testing.T) {
	blockers := map[int][]int{
		20: {10},
		10: {},
	}
	out := TopologicalSort([]int{20, 10}, blockers)
	idx := func(n int) int {
		for i, v := range out {
			if v == n {
				return i
			}
		}
		return -1
	}
	if idx(10) >= idx(20) {
		t.Errorf("expected #10 before #20, got %v", out)
	}
}

func TestTopologicalTieBreakAscending(t *testing.T) {
	out := TopologicalSort([]int{5, 3, 9, 1}, nil)
	want := []int{1, 3, 5, 9}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestTopologicalExternalBlockersIgnored(t *testing.T) {
	blockers := map[int][]int{
		20: {999}, // not in input set
	}
	out := TopologicalSort([]int{20}, blockers)
	want := []int{20}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("got %v, want %v", out, want)
	}
}
