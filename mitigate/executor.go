// Package mitigate applies BLOCK verdicts to the blocklist. The blocklist
// entry is the only persistent side effect of a block; response shaping
// itself belongs to the HTTP boundary.
package mitigate

import (
	"context"
	"time"

	"gateguard/blocklist"
	"gateguard/logx"
	"gateguard/monitoring"
	"gateguard/types"
)

// DefaultBlockTTL applies when a blocking rule carries no ttl of its own.
const DefaultBlockTTL = 10 * time.Minute

// Executor turns verdicts into mitigation side effects.
type Executor struct {
	bl    blocklist.Blocklist
	nowFn func() time.Time
}

func NewExecutor(bl blocklist.Blocklist) *Executor {
	return &Executor{bl: bl, nowFn: time.Now}
}

// OnVerdict applies the side effects of one verdict. Non-BLOCK verdicts
// are no-ops. Blocklist persistence failures are logged and absorbed; the
// request path never fails because mitigation bookkeeping did.
func (ex *Executor) OnVerdict(ctx context.Context, verdict types.Verdict, key string) {
	if verdict.Action != types.ActionBlock || key == "" {
		return
	}

	ttl := verdict.BlockTTL
	if ttl <= 0 {
		ttl = DefaultBlockTTL
	}

	entry := types.BlockEntry{
		Key:       key,
		Reason:    verdict.MatchedRuleID,
		ExpiresAt: ex.nowFn().Add(ttl),
	}
	if err := ex.bl.Block(ctx, entry); err != nil {
		logx.Error("MITIGATE", "blocklist insert failed for ", key, ": ", err)
		return
	}
	monitoring.RecordBlockAction(verdict.MatchedRuleID)
	logx.Infof("MITIGATE", "blocked %s for %s (rule %s)", key, ttl, verdict.MatchedRuleID)
}
