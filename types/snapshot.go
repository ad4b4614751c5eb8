package types

import (
	"sort"
	"time"
)

// RuleSetSnapshot is an immutable, pre-ordered view of a published rule
// set. Evaluations always run against one snapshot; reloads build a new
// snapshot and swap a pointer, so an in-flight evaluation never observes a
// partially updated set.
type RuleSetSnapshot struct {
	Version  string
	LoadedAt time.Time

	// Allowlist rules are evaluated first regardless of configured
	// priority: a safety bypass must never be shadowed by a blocking rule
	// that merely sorts earlier.
	Allowlist []Rule
	// Ordered holds every non-allowlist rule in ascending priority,
	// ties broken by rule ID.
	Ordered []Rule
}

// NewRuleSetSnapshot partitions and orders rules into a snapshot. The
// input slice is copied; callers may keep mutating their own copy.
func NewRuleSetSnapshot(version string, rules []Rule) *RuleSetSnapshot {
	snap := &RuleSetSnapshot{
		Version:  version,
		LoadedAt: time.Now(),
	}
	for _, r := range rules {
		if r.Kind == KindAllowlist {
			snap.Allowlist = append(snap.Allowlist, r)
		} else {
			snap.Ordered = append(snap.Ordered, r)
		}
	}
	sortRules(snap.Allowlist)
	sortRules(snap.Ordered)
	return snap
}

func sortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

// Len returns the total number of rules in the snapshot.
func (s *RuleSetSnapshot) Len() int {
	return len(s.Allowlist) + len(s.Ordered)
}

// Rule looks a rule up by ID, for admin surfaces.
func (s *RuleSetSnapshot) Rule(id string) (Rule, bool) {
	for _, r := range s.Allowlist {
		if r.ID == id {
			return r, true
		}
	}
	for _, r := range s.Ordered {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}
