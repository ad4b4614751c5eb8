package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type guardPromMetrics struct {
	guardUpUnixSeconds prometheus.Gauge
	verdictCount       *prometheus.CounterVec
	countHitCount      *prometheus.CounterVec
	blockActionCount   *prometheus.CounterVec
	fastPathHitCount   prometheus.Counter
	evalLatency        prometheus.Histogram
	ruleErrorCount     *prometheus.CounterVec
	reloadCount        *prometheus.CounterVec
	ruleCount          prometheus.Gauge
	blocklistSize      prometheus.Gauge
	feedAgeSeconds     prometheus.Gauge
	feedRefreshCount   *prometheus.CounterVec
	droppedEventCount  prometheus.Counter
	abuseScore         prometheus.Histogram
	panicCount         prometheus.Counter
}

func newGuardPromMetrics() *guardPromMetrics {
	return &guardPromMetrics{
		guardUpUnixSeconds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateguard_up_timestamp_unix_seconds",
				Help: "Unix timestamp of the gateway start",
			},
		),
		verdictCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateguard_verdict_count",
				Help: "The total number of verdicts by action and matched rule",
			},
			[]string{"action", "rule"},
		),
		countHitCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateguard_count_hit_count",
				Help: "The total number of COUNT rule hits that did not change the verdict",
			},
			[]string{"rule"},
		),
		blockActionCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateguard_block_action_count",
				Help: "The total number of blocklist insertions by rule",
			},
			[]string{"rule"},
		),
		fastPathHitCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateguard_blocklist_fast_path_hit_count",
				Help: "The total number of requests rejected before rule evaluation",
			},
		),
		evalLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gateguard_evaluation_latency_seconds",
				Help:    "Latency of one full rule set evaluation",
				Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
			},
		),
		ruleErrorCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateguard_rule_error_count",
				Help: "The total number of isolated per-rule evaluation errors",
			},
			[]string{"rule", "code"},
		),
		reloadCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateguard_ruleset_reload_count",
				Help: "The total number of rule set reload attempts by outcome",
			},
			[]string{"outcome"},
		),
		ruleCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateguard_ruleset_rule_count",
				Help: "Number of rules in the active snapshot",
			},
		),
		blocklistSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateguard_blocklist_size",
				Help: "Number of currently mitigated keys",
			},
		),
		feedAgeSeconds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateguard_feed_age_seconds",
				Help: "Age of the active threat-feed snapshot",
			},
		),
		feedRefreshCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateguard_feed_refresh_count",
				Help: "The total number of threat-feed refresh attempts by outcome",
			},
			[]string{"outcome"},
		),
		droppedEventCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateguard_sink_dropped_event_count",
				Help: "The total number of verdict events dropped under sink overload",
			},
		),
		abuseScore: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gateguard_abuse_score",
				Help:    "Heuristic abuse score of observed requests",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
		),
		panicCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateguard_panic_count",
				Help: "The total number of recovered panics",
			},
		),
	}
}

var guardMetrics *guardPromMetrics

// InitMetrics initializes metrics for the gateway but does not expose them
// to an api yet.
func InitMetrics() {
	guardMetrics = newGuardPromMetrics()
	guardMetrics.guardUpUnixSeconds.SetToCurrentTime()
}

func RegisterMetrics(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}

// Record funcs are no-ops until InitMetrics runs.
func initialized() bool {
	return guardMetrics != nil
}

func RecordVerdict(action, rule string) {
	if !initialized() {
		return
	}
	if rule == "" {
		rule = "none"
	}
	guardMetrics.verdictCount.With(prometheus.Labels{"action": action, "rule": rule}).Inc()
}

func RecordCountHit(rule string) {
	if !initialized() {
		return
	}
	guardMetrics.countHitCount.With(prometheus.Labels{"rule": rule}).Inc()
}

func RecordBlockAction(rule string) {
	if !initialized() {
		return
	}
	guardMetrics.blockActionCount.With(prometheus.Labels{"rule": rule}).Inc()
}

func IncreaseFastPathHit() {
	if !initialized() {
		return
	}
	guardMetrics.fastPathHitCount.Inc()
}

func RecordEvalLatency(d time.Duration) {
	if !initialized() {
		return
	}
	guardMetrics.evalLatency.Observe(d.Seconds())
}

func RecordRuleError(rule, code string) {
	if !initialized() {
		return
	}
	guardMetrics.ruleErrorCount.With(prometheus.Labels{"rule": rule, "code": code}).Inc()
}

func RecordReload(outcome string) {
	if !initialized() {
		return
	}
	guardMetrics.reloadCount.With(prometheus.Labels{"outcome": outcome}).Inc()
}

func SetRuleCount(n int) {
	if !initialized() {
		return
	}
	guardMetrics.ruleCount.Set(float64(n))
}

func SetBlocklistSize(n int) {
	if !initialized() {
		return
	}
	guardMetrics.blocklistSize.Set(float64(n))
}

func SetFeedAge(age time.Duration) {
	if !initialized() {
		return
	}
	guardMetrics.feedAgeSeconds.Set(age.Seconds())
}

func RecordFeedRefresh(outcome string) {
	if !initialized() {
		return
	}
	guardMetrics.feedRefreshCount.With(prometheus.Labels{"outcome": outcome}).Inc()
}

func IncreaseDroppedEventCount() {
	if !initialized() {
		return
	}
	guardMetrics.droppedEventCount.Inc()
}

func RecordAbuseScore(score int) {
	if !initialized() {
		return
	}
	guardMetrics.abuseScore.Observe(float64(score))
}

func IncreasePanicCount() {
	if !initialized() {
		return
	}
	guardMetrics.panicCount.Inc()
}
