package types

import (
	"net"
	"strings"
	"time"
)

// Action is the outcome a rule applies when it matches.
type Action string

const (
	ActionAllow Action = "ALLOW"
	ActionBlock Action = "BLOCK"
	ActionCount Action = "COUNT"
)

// FailPolicy governs a rule whose dependency cannot be queried.
type FailPolicy string

const (
	FailOpen   FailPolicy = "open"   // treat the rule as non-matching
	FailClosed FailPolicy = "closed" // default to BLOCK
)

// RuleKind selects the evaluator for a rule.
type RuleKind string

const (
	KindRate      RuleKind = "rate"
	KindSize      RuleKind = "size"
	KindPattern   RuleKind = "pattern"
	KindGeo       RuleKind = "geo"
	KindFeed      RuleKind = "feed"
	KindAllowlist RuleKind = "allowlist"
)

// ScopePredicate narrows which requests a rule applies to. An empty
// predicate matches every request; a clause with a malformed or missing
// request attribute is treated as non-matching, never as an error.
type ScopePredicate struct {
	Paths         []string `yaml:"paths,omitempty"`          // prefix match
	Methods       []string `yaml:"methods,omitempty"`        // exact, uppercase
	Countries     []string `yaml:"countries,omitempty"`      // ISO 3166-1 alpha-2
	PriorStatuses []int    `yaml:"prior_statuses,omitempty"` // status of the previous response
	CIDRs         []string `yaml:"cidrs,omitempty"`
}

// IsEmpty reports whether the predicate has no clauses at all.
func (p ScopePredicate) IsEmpty() bool {
	return len(p.Paths) == 0 && len(p.Methods) == 0 && len(p.Countries) == 0 &&
		len(p.PriorStatuses) == 0 && len(p.CIDRs) == 0
}

// Matches evaluates the predicate against a request snapshot. All present
// clauses must hold.
func (p ScopePredicate) Matches(rc *RequestContext) bool {
	if len(p.Paths) > 0 {
		ok := false
		for _, prefix := range p.Paths {
			if strings.HasPrefix(rc.Path, prefix) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(p.Methods) > 0 {
		ok := false
		for _, m := range p.Methods {
			if strings.EqualFold(m, rc.Method) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(p.Countries) > 0 {
		if rc.CountryCode == "" {
			return false
		}
		ok := false
		for _, c := range p.Countries {
			if strings.EqualFold(c, rc.CountryCode) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(p.PriorStatuses) > 0 {
		ok := false
		for _, s := range p.PriorStatuses {
			if s == rc.PriorResponseStatus {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(p.CIDRs) > 0 {
		ip := net.ParseIP(rc.SourceIP)
		if ip == nil {
			return false
		}
		ok := false
		for _, cidr := range p.CIDRs {
			_, ipnet, err := net.ParseCIDR(cidr)
			if err != nil {
				continue
			}
			if ipnet.Contains(ip) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Rule is a single admission-control rule. Rules are immutable once
// published inside a RuleSetSnapshot; a reload always replaces the whole
// set, never individual fields.
type Rule struct {
	ID       string
	Priority int
	Kind     RuleKind

	// AggregationKey is the counter dimension template for rate rules:
	// "ip", "ip+path", "ip+path+method" or "country".
	AggregationKey string
	Threshold      int
	Window         time.Duration

	// Scope gates whether a triggered rule applies to this request.
	Scope ScopePredicate
	// CountWhen gates which requests increment a rate rule's counter.
	// Empty means every request the rule sees.
	CountWhen ScopePredicate

	Action     Action
	TTL        time.Duration
	FailPolicy FailPolicy

	// BlockStatus is a response shaping hint for the HTTP boundary.
	BlockStatus int

	// Kind-specific parameters.
	MaxBodyBytes   int64    // size
	MaxURILength   int      // size
	Patterns       []string // pattern: path prefix or "ua:" substring
	Countries      []string // geo
	FeedCategories []string // feed
	CIDRs          []string // allowlist
}

// EffectiveFailPolicy resolves the configured policy, defaulting size
// rules to closed and everything else to open.
func (r *Rule) EffectiveFailPolicy() FailPolicy {
	if r.FailPolicy != "" {
		return r.FailPolicy
	}
	if r.Kind == KindSize {
		return FailClosed
	}
	return FailOpen
}

// CounterKey renders the rule's aggregation key template for a request,
// e.g. "203.0.113.5|/create|POST".
func (r *Rule) CounterKey(rc *RequestContext) string {
	switch r.AggregationKey {
	case "", "ip":
		return rc.SourceIP
	case "ip+path":
		return rc.SourceIP + "|" + rc.Path
	case "ip+path+method":
		return rc.SourceIP + "|" + rc.Path + "|" + rc.Method
	case "country":
		return rc.CountryCode
	default:
		return rc.SourceIP
	}
}
