package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gateguard/errors"
	"gateguard/types"
)

func TestParseRuleSet(t *testing.T) {
	raw := []byte(`
version: "v1"
rules:
  - id: allow-internal-cidr
    priority: 0
    kind: allowlist
    cidrs:
      - "10.0.0.0/8"
  - id: create-rate-limit
    priority: 110
    kind: rate
    aggregation_key: ip+path
    threshold: 50
    window: 5m
    scope:
      paths:
        - /create
      methods:
        - POST
    action: BLOCK
    block_status: 429
    ttl: 30m
  - id: probe-paths
    priority: 30
    kind: pattern
    patterns:
      - /admin
    action: BLOCK
`)

	snap, err := ParseRuleSet(raw)
	assert.NoError(t, err)
	assert.Equal(t, "v1", snap.Version)
	assert.Equal(t, 3, snap.Len())
	assert.Len(t, snap.Allowlist, 1)
	assert.Len(t, snap.Ordered, 2)

	// Ordered rules come out in ascending priority.
	assert.Equal(t, "probe-paths", snap.Ordered[0].ID)
	assert.Equal(t, "create-rate-limit", snap.Ordered[1].ID)

	rule, ok := snap.Rule("create-rate-limit")
	assert.True(t, ok)
	assert.Equal(t, 5*time.Minute, rule.Window)
	assert.Equal(t, 30*time.Minute, rule.TTL)
	assert.Equal(t, types.ActionBlock, rule.Action)
	assert.Equal(t, []string{"POST"}, rule.Scope.Methods)
}

func TestParseRuleSetRejectsDuplicateIDs(t *testing.T) {
	raw := []byte(`
version: "v1"
rules:
  - id: probe-paths
    kind: pattern
    patterns: ["/admin"]
    action: BLOCK
  - id: probe-paths
    kind: pattern
    patterns: ["/."]
    action: BLOCK
`)
	_, err := ParseRuleSet(raw)
	assert.Error(t, err)
	assert.Equal(t, errors.ErrCodeDuplicateRuleID, errors.CodeOf(err))
}

func TestParseRuleSetRejectedInFull(t *testing.T) {
	// One bad rule poisons the whole document.
	raw := []byte(`
version: "v1"
rules:
  - id: probe-paths
    kind: pattern
    patterns: ["/admin"]
    action: BLOCK
  - id: broken
    kind: rate
    aggregation_key: ip
    window: 5m
    action: BLOCK
`)
	snap, err := ParseRuleSet(raw)
	assert.Nil(t, snap)
	assert.Equal(t, errors.ErrCodeRuleInvalid, errors.CodeOf(err))
}

func TestParseRuleSetRequiresVersionAndRules(t *testing.T) {
	_, err := ParseRuleSet([]byte(`rules: []`))
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.CodeOf(err))

	_, err = ParseRuleSet([]byte(`version: "v1"`))
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.CodeOf(err))
}

func TestCompileRuleValidation(t *testing.T) {
	cases := []struct {
		name string
		spec ruleSpec
	}{
		{"missing id", ruleSpec{Kind: "pattern", Patterns: []string{"/x"}, Action: "BLOCK"}},
		{"unknown kind", ruleSpec{ID: "r", Kind: "regex", Action: "BLOCK"}},
		{"unknown action", ruleSpec{ID: "r", Kind: "pattern", Patterns: []string{"/x"}, Action: "DROP"}},
		{"unknown fail policy", ruleSpec{ID: "r", Kind: "pattern", Patterns: []string{"/x"}, Action: "BLOCK", FailPolicy: "maybe"}},
		{"bad window", ruleSpec{ID: "r", Kind: "rate", AggregationKey: "ip", Threshold: 10, Window: "five minutes", Action: "BLOCK"}},
		{"bad ttl", ruleSpec{ID: "r", Kind: "pattern", Patterns: []string{"/x"}, Action: "BLOCK", TTL: "1fortnight"}},
		{"rate without threshold", ruleSpec{ID: "r", Kind: "rate", AggregationKey: "ip", Window: "5m", Action: "BLOCK"}},
		{"rate without window", ruleSpec{ID: "r", Kind: "rate", AggregationKey: "ip", Threshold: 10, Action: "BLOCK"}},
		{"unknown aggregation key", ruleSpec{ID: "r", Kind: "rate", AggregationKey: "session", Threshold: 10, Window: "5m", Action: "BLOCK"}},
		{"size without limits", ruleSpec{ID: "r", Kind: "size", Action: "BLOCK"}},
		{"pattern without patterns", ruleSpec{ID: "r", Kind: "pattern", Action: "BLOCK"}},
		{"geo without countries", ruleSpec{ID: "r", Kind: "geo", Action: "BLOCK"}},
		{"allowlist without scope", ruleSpec{ID: "r", Kind: "allowlist"}},
		{"allowlist with block action", ruleSpec{ID: "r", Kind: "allowlist", CIDRs: []string{"10.0.0.0/8"}, Action: "BLOCK"}},
		{"allowlist bad cidr", ruleSpec{ID: "r", Kind: "allowlist", CIDRs: []string{"10.0.0.0/33"}}},
		{"scope bad cidr", ruleSpec{ID: "r", Kind: "pattern", Patterns: []string{"/x"}, Action: "BLOCK",
			Scope: types.ScopePredicate{CIDRs: []string{"not-a-cidr"}}}},
		{"count_when bad status", ruleSpec{ID: "r", Kind: "rate", AggregationKey: "ip", Threshold: 10, Window: "5m", Action: "BLOCK",
			CountWhen: types.ScopePredicate{PriorStatuses: []int{42}}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := compileRule(&tc.spec)
			assert.Error(t, err)
		})
	}
}

func TestAllowlistActionDefaultsToAllow(t *testing.T) {
	rule, err := compileRule(&ruleSpec{ID: "r", Kind: "allowlist", CIDRs: []string{"10.0.0.0/8"}})
	assert.NoError(t, err)
	assert.Equal(t, types.ActionAllow, rule.Action)
}

func TestLoadRuleSetRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yml")
	raw := []byte(`
version: "v1"
rules:
  - id: probe-paths
    kind: pattern
    patterns: ["/admin"]
    action: BLOCK
    severity: high
`)
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_, err := LoadRuleSet(path)
	assert.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.CodeOf(err))

	// The in-memory validation path is equally strict.
	_, err = ParseRuleSet(raw)
	assert.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.CodeOf(err))
}

func TestLoadGuardConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateguard.ini")
	raw := []byte(`
[server]
listen_addr = :8888
trust_xff = false
dependency_timeout_ms = 40

[counter]
backend = redis
redis_addr = localhost:6379

[blocklist]
backend = bolt
path = /var/lib/gateguard/block.db
`)
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := LoadGuardConfig(path)
	assert.NoError(t, err)
	assert.Equal(t, ":8888", cfg.Server.ListenAddr)
	assert.False(t, cfg.Server.TrustXFF)
	assert.Equal(t, 40*time.Millisecond, cfg.Server.DepTimeout())
	assert.Equal(t, "redis", cfg.Counter.Backend)
	assert.Equal(t, "localhost:6379", cfg.Counter.RedisAddr)
	assert.Equal(t, "bolt", cfg.Blocklist.Backend)

	// Untouched sections keep their defaults.
	assert.Equal(t, ":9090", cfg.Server.MetricsAddr)
	assert.Equal(t, 4096, cfg.Sink.BufferSize)
	assert.Equal(t, "memory", defaultGuardConfig().Counter.Backend)
}

func TestDefaultRuleSetFileCompiles(t *testing.T) {
	snap, err := LoadRuleSet("ruleset.yml")
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, snap.Len(), 5)
	assert.NotEmpty(t, snap.Allowlist)
}
