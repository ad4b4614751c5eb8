// Package scoring assigns a heuristic abuse score to observed requests.
// The score feeds monitoring and alerting; it does not produce verdicts on
// its own.
package scoring

import (
	"strings"

	"gateguard/monitoring"
	"gateguard/types"
)

// MaxScore caps the per-request score.
const MaxScore = 100

var suspiciousAgents = []string{"bot", "crawler", "spider", "scraper", "scanner"}

// Score rates one request and the status code its handler produced.
// Weights follow the production tuning: client errors and scanner-shaped
// traffic dominate.
func Score(rc *types.RequestContext, status int) int {
	score := 0

	if status >= 400 && status < 500 {
		score += 2
	}
	if status == 404 {
		score += 3
	}
	if status == 429 {
		score += 5
	}

	ua := strings.ToLower(rc.Header("User-Agent"))
	for _, agent := range suspiciousAgents {
		if strings.Contains(ua, agent) {
			score += 4
			break
		}
	}
	if len(ua) < 10 {
		score += 3
	}

	if rc.Method == "POST" && rc.Path == "/create" {
		score++
	}
	if strings.HasPrefix(rc.Path, "/admin") || strings.HasPrefix(rc.Path, "/.") {
		score += 5
	}

	if score > MaxScore {
		score = MaxScore
	}
	return score
}

// Observe records the score for a request in the metrics pipeline.
func Observe(rc *types.RequestContext, status int) int {
	score := Score(rc, status)
	monitoring.RecordAbuseScore(score)
	return score
}
