// Package engine evaluates an ordered, hot-swappable rule set against
// request snapshots. Evaluation is stateless and reentrant: any number of
// requests run concurrently against one immutable RuleSetSnapshot, with the
// counter store and threat feed as the only shared dependencies.
package engine

import (
	"context"
	"fmt"
	"time"

	"gateguard/counter"
	"gateguard/errors"
	"gateguard/feed"
	"gateguard/logx"
	"gateguard/monitoring"
	"gateguard/types"
)

// DefaultDependencyTimeout bounds each counter store call. Evaluation sits
// in the request hot path; no rule may wait on a dependency longer than
// this.
const DefaultDependencyTimeout = 25 * time.Millisecond

// Engine is the policy rule engine.
type Engine struct {
	counters   counter.Store
	feeds      *feed.Adapter
	depTimeout time.Duration
}

func New(counters counter.Store, feeds *feed.Adapter, depTimeout time.Duration) *Engine {
	if depTimeout <= 0 {
		depTimeout = DefaultDependencyTimeout
	}
	return &Engine{
		counters:   counters,
		feeds:      feeds,
		depTimeout: depTimeout,
	}
}

// Evaluate produces exactly one verdict for the request. Allowlist rules
// run first regardless of priority; remaining rules run in ascending
// priority order; the first BLOCK is final. A single rule's failure is
// isolated and resolved by that rule's fail policy, never by aborting the
// evaluation.
func (e *Engine) Evaluate(ctx context.Context, rc *types.RequestContext, snap *types.RuleSetSnapshot) types.Verdict {
	started := time.Now()

	for i := range snap.Allowlist {
		rule := &snap.Allowlist[i]
		if allowlistMatches(rule, rc) {
			return e.finish(types.Verdict{
				Action:        types.ActionAllow,
				MatchedRuleID: rule.ID,
			}, started)
		}
	}

	for i := range snap.Ordered {
		rule := &snap.Ordered[i]

		matched, err := e.evalRule(ctx, rule, rc)
		if err != nil {
			code := errors.CodeOf(err)
			monitoring.RecordRuleError(rule.ID, string(code))
			logx.Warnf("ENGINE", "rule %s failed (%s), fail_policy=%s", rule.ID, code, rule.EffectiveFailPolicy())
			if rule.EffectiveFailPolicy() == types.FailClosed {
				return e.finish(blockVerdict(rule), started)
			}
			continue
		}
		if !matched {
			continue
		}

		switch rule.Action {
		case types.ActionBlock:
			return e.finish(blockVerdict(rule), started)
		case types.ActionAllow:
			return e.finish(types.Verdict{
				Action:        types.ActionAllow,
				MatchedRuleID: rule.ID,
			}, started)
		case types.ActionCount:
			monitoring.RecordCountHit(rule.ID)
		}
	}

	return e.finish(types.Verdict{Action: types.ActionAllow}, started)
}

func (e *Engine) finish(v types.Verdict, started time.Time) types.Verdict {
	v.Latency = time.Since(started)
	monitoring.RecordEvalLatency(v.Latency)
	return v
}

func blockVerdict(rule *types.Rule) types.Verdict {
	return types.Verdict{
		Action:         types.ActionBlock,
		MatchedRuleID:  rule.ID,
		ResponseStatus: rule.BlockStatus,
		BlockTTL:       rule.TTL,
	}
}

// evalRule dispatches to the kind-specific evaluator with panic
// containment: a broken rule must not take down unrelated requests.
func (e *Engine) evalRule(ctx context.Context, rule *types.Rule, rc *types.RequestContext) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.IncreasePanicCount()
			matched = false
			err = errors.NewError(errors.ErrCodeInternal, fmt.Sprint("rule panic: ", r))
		}
	}()

	switch rule.Kind {
	case types.KindRate:
		return e.evalRate(ctx, rule, rc)
	case types.KindSize:
		return evalSize(rule, rc), nil
	case types.KindPattern:
		return evalPattern(rule, rc), nil
	case types.KindGeo:
		return evalGeo(rule, rc), nil
	case types.KindFeed:
		return e.evalFeed(rule, rc)
	default:
		return false, nil
	}
}
