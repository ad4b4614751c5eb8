package types

import "time"

// RequestContext is the read-only request snapshot the engine evaluates.
// It is built once per request at the HTTP boundary; the engine never
// touches the raw *http.Request.
type RequestContext struct {
	SourceIP            string            `json:"source_ip"`
	Path                string            `json:"path"`
	Method              string            `json:"method"`
	CountryCode         string            `json:"country_code,omitempty"`
	Headers             map[string]string `json:"headers,omitempty"` // canonical name -> value, subset only
	BodySizeBytes       int64             `json:"body_size_bytes"`
	URILength           int               `json:"uri_length"`
	PriorResponseStatus int               `json:"prior_response_status,omitempty"`
}

// Header returns a header value from the captured subset, or "".
func (rc *RequestContext) Header(name string) string {
	if rc.Headers == nil {
		return ""
	}
	return rc.Headers[name]
}

// Verdict is the engine's decision for one request. Exactly one verdict is
// produced per evaluation.
type Verdict struct {
	Action        Action        `json:"action"`
	MatchedRuleID string        `json:"matched_rule_id,omitempty"`
	Latency       time.Duration `json:"latency"`

	// ResponseStatus is the shaping hint carried from the matched rule;
	// zero means the boundary's default applies.
	ResponseStatus int `json:"response_status,omitempty"`
	// BlockTTL is the mitigation duration of the matched rule.
	BlockTTL time.Duration `json:"-"`
}

// VerdictEvent is the structured observability record for one evaluation.
type VerdictEvent struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"ts"`
	RuleID    string        `json:"rule_id,omitempty"`
	Action    Action        `json:"action"`
	Key       string        `json:"key"`
	Path      string        `json:"path"`
	Method    string        `json:"method"`
	Latency   time.Duration `json:"latency_ns"`
	FastPath  bool          `json:"fast_path,omitempty"`
}

// BlockEntry is the only persistent side effect of a BLOCK verdict.
type BlockEntry struct {
	Key       string    `json:"key"`
	Reason    string    `json:"reason"` // rule id
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e BlockEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
