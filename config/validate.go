package config

import (
	"fmt"
	"net"
	"time"

	"gateguard/errors"
	"gateguard/types"
)

func compileRule(spec *ruleSpec) (types.Rule, error) {
	var zero types.Rule

	if spec.ID == "" {
		return zero, ruleErr("", "missing id")
	}

	kind := types.RuleKind(spec.Kind)
	switch kind {
	case types.KindRate, types.KindSize, types.KindPattern, types.KindGeo, types.KindFeed, types.KindAllowlist:
	default:
		return zero, ruleErr(spec.ID, "unknown kind %q", spec.Kind)
	}

	action := types.Action(spec.Action)
	if kind == types.KindAllowlist {
		if action == "" {
			action = types.ActionAllow
		}
		if action != types.ActionAllow {
			return zero, ruleErr(spec.ID, "allowlist rules must use action ALLOW")
		}
	}
	switch action {
	case types.ActionAllow, types.ActionBlock, types.ActionCount:
	default:
		return zero, ruleErr(spec.ID, "unknown action %q", spec.Action)
	}

	switch types.FailPolicy(spec.FailPolicy) {
	case "", types.FailOpen, types.FailClosed:
	default:
		return zero, ruleErr(spec.ID, "unknown fail_policy %q", spec.FailPolicy)
	}

	window, err := parseOptionalDuration(spec.Window)
	if err != nil {
		return zero, ruleErr(spec.ID, "bad window: %v", err)
	}
	ttl, err := parseOptionalDuration(spec.TTL)
	if err != nil {
		return zero, ruleErr(spec.ID, "bad ttl: %v", err)
	}

	rule := types.Rule{
		ID:             spec.ID,
		Priority:       spec.Priority,
		Kind:           kind,
		AggregationKey: spec.AggregationKey,
		Threshold:      spec.Threshold,
		Window:         window,
		Scope:          spec.Scope,
		CountWhen:      spec.CountWhen,
		Action:         action,
		TTL:            ttl,
		FailPolicy:     types.FailPolicy(spec.FailPolicy),
		BlockStatus:    spec.BlockStatus,
		MaxBodyBytes:   spec.MaxBodyBytes,
		MaxURILength:   spec.MaxURILength,
		Patterns:       spec.Patterns,
		Countries:      spec.Countries,
		FeedCategories: spec.FeedCategories,
		CIDRs:          spec.CIDRs,
	}

	switch kind {
	case types.KindRate:
		if rule.Threshold <= 0 {
			return zero, ruleErr(spec.ID, "rate rules need a positive threshold")
		}
		if rule.Window <= 0 {
			return zero, ruleErr(spec.ID, "rate rules need a positive window")
		}
		switch rule.AggregationKey {
		case "", "ip", "ip+path", "ip+path+method", "country":
		default:
			return zero, ruleErr(spec.ID, "unknown aggregation_key %q", rule.AggregationKey)
		}
	case types.KindSize:
		if rule.MaxBodyBytes <= 0 && rule.MaxURILength <= 0 {
			return zero, ruleErr(spec.ID, "size rules need max_body_bytes or max_uri_length")
		}
	case types.KindPattern:
		if len(rule.Patterns) == 0 {
			return zero, ruleErr(spec.ID, "pattern rules need at least one pattern")
		}
	case types.KindGeo:
		if len(rule.Countries) == 0 {
			return zero, ruleErr(spec.ID, "geo rules need at least one country")
		}
	case types.KindAllowlist:
		if len(rule.CIDRs) == 0 && rule.Scope.IsEmpty() {
			return zero, ruleErr(spec.ID, "allowlist rules need cidrs or a scope")
		}
		for _, cidr := range rule.CIDRs {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return zero, ruleErr(spec.ID, "bad cidr %q", cidr)
			}
		}
	}

	if err := validatePredicate(spec.ID, "scope", rule.Scope); err != nil {
		return zero, err
	}
	if err := validatePredicate(spec.ID, "count_when", rule.CountWhen); err != nil {
		return zero, err
	}
	return rule, nil
}

func validatePredicate(ruleID, field string, p types.ScopePredicate) error {
	for _, cidr := range p.CIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return ruleErr(ruleID, "bad %s cidr %q", field, cidr)
		}
	}
	for _, status := range p.PriorStatuses {
		if status < 100 || status > 599 {
			return ruleErr(ruleID, "bad %s prior status %d", field, status)
		}
	}
	return nil
}

func parseOptionalDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

func ruleErr(id, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if id != "" {
		msg = "rule " + id + ": " + msg
	}
	return errors.NewError(errors.ErrCodeRuleInvalid, msg)
}
