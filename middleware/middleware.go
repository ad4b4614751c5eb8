// Package middleware wires the admission engine into a net/http handler
// chain: blocklist fast path, rule evaluation, mitigation, verdict events.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"gateguard/blocklist"
	"gateguard/engine"
	"gateguard/mitigate"
	"gateguard/monitoring"
	"gateguard/scoring"
	"gateguard/sink"
	"gateguard/types"
)

// Options bundles the admission dependencies. Engine, Rules and Blocklist
// are required; Executor and Sink may be nil in tests.
type Options struct {
	Engine    *engine.Engine
	Rules     *engine.SnapshotHolder
	Blocklist blocklist.Blocklist
	Executor  *mitigate.Executor
	Sink      *sink.Sink

	CountryHeader string
	TrustXFF      bool
	RejectStatus  int // default for blocks without a rule-level hint
}

// Admission returns the middleware enforcing the admission policy in front
// of next.
func Admission(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusForbidden
	}
	statuses := newLastStatusTracker(10 * time.Minute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r, opts.TrustXFF)
			rc := BuildRequestContext(r, opts.CountryHeader, opts.TrustXFF, statuses.get(ip))

			// Known offenders short-circuit before any rule runs. The
			// response keeps the blocking rule's shape: a rate-limited
			// client sees 429 + Retry-After on repeats too.
			if entry, blocked := opts.Blocklist.Check(r.Context(), ip); blocked {
				status := opts.RejectStatus
				if rule, ok := opts.Rules.Current().Rule(entry.Reason); ok && rule.BlockStatus != 0 {
					status = rule.BlockStatus
				}
				retryAfter := time.Duration(0)
				if status == http.StatusTooManyRequests {
					retryAfter = time.Until(entry.ExpiresAt)
				}
				monitoring.IncreaseFastPathHit()
				monitoring.RecordVerdict(string(types.ActionBlock), entry.Reason)
				emit(opts.Sink, rc, types.Verdict{Action: types.ActionBlock, MatchedRuleID: entry.Reason}, true)
				reject(w, status, retryAfter)
				statuses.set(ip, status)
				return
			}

			verdict := opts.Engine.Evaluate(r.Context(), rc, opts.Rules.Current())
			monitoring.RecordVerdict(string(verdict.Action), verdict.MatchedRuleID)
			if opts.Executor != nil {
				opts.Executor.OnVerdict(r.Context(), verdict, ip)
			}
			emit(opts.Sink, rc, verdict, false)

			if verdict.Action == types.ActionBlock {
				status := verdict.ResponseStatus
				if status == 0 {
					status = opts.RejectStatus
				}
				retryAfter := time.Duration(0)
				if status == http.StatusTooManyRequests {
					retryAfter = verdict.BlockTTL
				}
				reject(w, status, retryAfter)
				scoring.Observe(rc, status)
				statuses.set(ip, status)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			scoring.Observe(rc, rec.status)
			statuses.set(ip, rec.status)
		})
	}
}

func emit(s *sink.Sink, rc *types.RequestContext, verdict types.Verdict, fastPath bool) {
	if s == nil {
		return
	}
	s.Emit(types.VerdictEvent{
		Timestamp: time.Now(),
		RuleID:    verdict.MatchedRuleID,
		Action:    verdict.Action,
		Key:       rc.SourceIP,
		Path:      rc.Path,
		Method:    rc.Method,
		Latency:   verdict.Latency,
		FastPath:  fastPath,
	})
}

func reject(w http.ResponseWriter, status int, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	}
	http.Error(w, http.StatusText(status), status)
}

// statusRecorder captures the downstream status for the prior-status cache
// and abuse scoring.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
