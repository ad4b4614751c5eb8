package engine

import (
	"context"
	"net"
	"strings"
	"time"

	"gateguard/errors"
	"gateguard/types"
)

// allowlistMatches checks an allowlist rule: CIDR membership plus any
// scope clauses. An unparsable source IP never matches.
func allowlistMatches(rule *types.Rule, rc *types.RequestContext) bool {
	if len(rule.CIDRs) > 0 {
		ip := net.ParseIP(rc.SourceIP)
		if ip == nil {
			return false
		}
		hit := false
		for _, cidr := range rule.CIDRs {
			_, ipnet, err := net.ParseCIDR(cidr)
			if err != nil {
				continue
			}
			if ipnet.Contains(ip) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	} else if rule.Scope.IsEmpty() {
		// An allowlist rule with neither CIDRs nor scope would bypass
		// everything; treat it as matching nothing.
		return false
	}
	return rule.Scope.Matches(rc)
}

// evalRate queries and advances the rule's sliding-window counter. The
// CountWhen predicate decides whether this request is an observation or
// only a reader; the Scope predicate decides whether a breached threshold
// applies to this request.
func (e *Engine) evalRate(ctx context.Context, rule *types.Rule, rc *types.RequestContext) (bool, error) {
	key := rule.CounterKey(rc)
	if key == "" {
		return false, nil
	}
	// Two rules may count the same dimension over the same window with
	// different CountWhen predicates; namespace the series per rule.
	key = rule.ID + "|" + key

	depCtx, cancel := context.WithTimeout(ctx, e.depTimeout)
	defer cancel()

	var (
		count int
		err   error
	)
	if rule.CountWhen.IsEmpty() || rule.CountWhen.Matches(rc) {
		count, err = e.counters.Increment(depCtx, key, rule.Window, time.Now())
	} else {
		count, err = e.counters.Count(depCtx, key, rule.Window, time.Now())
	}
	if err != nil {
		if depCtx.Err() == context.DeadlineExceeded {
			return false, errors.NewError(errors.ErrCodeEvalTimeout, "counter query timed out for rule "+rule.ID)
		}
		return false, errors.NewError(errors.ErrCodeCounterUnavailable, err.Error())
	}

	if count <= rule.Threshold {
		return false, nil
	}
	return rule.Scope.Matches(rc), nil
}

func evalSize(rule *types.Rule, rc *types.RequestContext) bool {
	if !rule.Scope.Matches(rc) {
		return false
	}
	if rule.MaxBodyBytes > 0 && rc.BodySizeBytes > rule.MaxBodyBytes {
		return true
	}
	if rule.MaxURILength > 0 && rc.URILength > rule.MaxURILength {
		return true
	}
	return false
}

// evalPattern matches lowercase substring patterns. A "ua:" prefix targets
// the User-Agent header; anything else is a path prefix.
func evalPattern(rule *types.Rule, rc *types.RequestContext) bool {
	if !rule.Scope.Matches(rc) {
		return false
	}
	path := strings.ToLower(rc.Path)
	ua := strings.ToLower(rc.Header("User-Agent"))
	for _, pattern := range rule.Patterns {
		pattern = strings.ToLower(pattern)
		if sig, ok := strings.CutPrefix(pattern, "ua:"); ok {
			if ua != "" && strings.Contains(ua, sig) {
				return true
			}
			continue
		}
		if strings.HasPrefix(path, pattern) {
			return true
		}
	}
	return false
}

func evalGeo(rule *types.Rule, rc *types.RequestContext) bool {
	if rc.CountryCode == "" {
		return false
	}
	if !rule.Scope.Matches(rc) {
		return false
	}
	for _, country := range rule.Countries {
		if strings.EqualFold(country, rc.CountryCode) {
			return true
		}
	}
	return false
}

// evalFeed consults the live threat-feed snapshot. Staleness is not an
// error here; the adapter logs it and the last-valid data keeps serving.
func (e *Engine) evalFeed(rule *types.Rule, rc *types.RequestContext) (bool, error) {
	if e.feeds == nil {
		return false, errors.NewError(errors.ErrCodeFeedUnreachable, "no feed adapter configured")
	}
	if !rule.Scope.Matches(rc) {
		return false, nil
	}

	snap := e.feeds.Current()
	if _, hit := snap.Contains(rc.SourceIP, rule.FeedCategories); hit {
		return true, nil
	}
	for _, category := range rule.FeedCategories {
		if strings.EqualFold(category, "bots") {
			if _, hit := snap.MatchesAgent(rc.Header("User-Agent")); hit {
				return true, nil
			}
		}
	}
	return false, nil
}
