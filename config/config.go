package config

import (
	"bytes"
	"os"
	"time"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"gateguard/errors"
	"gateguard/types"
)

// ruleSpec is the YAML wire format of one rule. Durations are strings
// ("5m", "2h") and converted during validation.
type ruleSpec struct {
	ID             string               `yaml:"id"`
	Priority       int                  `yaml:"priority"`
	Kind           string               `yaml:"kind"`
	AggregationKey string               `yaml:"aggregation_key,omitempty"`
	Threshold      int                  `yaml:"threshold,omitempty"`
	Window         string               `yaml:"window,omitempty"`
	Scope          types.ScopePredicate `yaml:"scope,omitempty"`
	CountWhen      types.ScopePredicate `yaml:"count_when,omitempty"`
	Action         string               `yaml:"action"`
	TTL            string               `yaml:"ttl,omitempty"`
	FailPolicy     string               `yaml:"fail_policy,omitempty"`
	BlockStatus    int                  `yaml:"block_status,omitempty"`
	MaxBodyBytes   int64                `yaml:"max_body_bytes,omitempty"`
	MaxURILength   int                  `yaml:"max_uri_length,omitempty"`
	Patterns       []string             `yaml:"patterns,omitempty"`
	Countries      []string             `yaml:"countries,omitempty"`
	FeedCategories []string             `yaml:"feed_categories,omitempty"`
	CIDRs          []string             `yaml:"cidrs,omitempty"`
}

// ruleSetFile is the top-level structure of a ruleset.yml.
type ruleSetFile struct {
	Version string     `yaml:"version"`
	Rules   []ruleSpec `yaml:"rules"`
}

// LoadRuleSet reads, validates and compiles a rule set file into a
// snapshot. A malformed file is rejected in full so the caller can keep
// serving its last-known-good snapshot.
func LoadRuleSet(path string) (*types.RuleSetSnapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeConfigInvalid, err.Error())
	}
	defer file.Close()

	var rsf ruleSetFile
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&rsf); err != nil {
		return nil, errors.NewError(errors.ErrCodeConfigInvalid, err.Error())
	}
	return CompileRuleSet(&rsf)
}

// ParseRuleSet compiles an in-memory rule set document, used by tests and
// admin validation. It is as strict as LoadRuleSet: a document the
// validator accepts must also load.
func ParseRuleSet(raw []byte) (*types.RuleSetSnapshot, error) {
	var rsf ruleSetFile
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&rsf); err != nil {
		return nil, errors.NewError(errors.ErrCodeConfigInvalid, err.Error())
	}
	return CompileRuleSet(&rsf)
}

func CompileRuleSet(rsf *ruleSetFile) (*types.RuleSetSnapshot, error) {
	if rsf.Version == "" {
		return nil, errors.NewError(errors.ErrCodeConfigInvalid, "rule set missing version")
	}
	if len(rsf.Rules) == 0 {
		return nil, errors.NewError(errors.ErrCodeConfigInvalid, "rule set contains no rules")
	}

	seen := make(map[string]struct{}, len(rsf.Rules))
	rules := make([]types.Rule, 0, len(rsf.Rules))
	for i := range rsf.Rules {
		rule, err := compileRule(&rsf.Rules[i])
		if err != nil {
			return nil, err
		}
		if _, dup := seen[rule.ID]; dup {
			return nil, errors.NewError(errors.ErrCodeDuplicateRuleID, "duplicate rule id "+rule.ID)
		}
		seen[rule.ID] = struct{}{}
		rules = append(rules, rule)
	}
	return types.NewRuleSetSnapshot(rsf.Version, rules), nil
}

// LoadGuardConfig reads the process configuration from an .ini file.
func LoadGuardConfig(path string) (*GuardConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeConfigInvalid, err.Error())
	}

	guard := defaultGuardConfig()
	sections := map[string]interface{}{
		"server":    &guard.Server,
		"counter":   &guard.Counter,
		"blocklist": &guard.Blocklist,
		"feed":      &guard.Feed,
		"sink":      &guard.Sink,
	}
	for name, target := range sections {
		if err := cfg.Section(name).MapTo(target); err != nil {
			return nil, errors.NewError(errors.ErrCodeConfigInvalid, name+": "+err.Error())
		}
	}
	return guard, nil
}

func defaultGuardConfig() *GuardConfig {
	return &GuardConfig{
		Server: ServerConfig{
			ListenAddr:    ":8080",
			MetricsAddr:   ":9090",
			CountryHeader: "CloudFront-Viewer-Country",
			TrustXFF:      true,
			DepTimeoutMs:  25,
		},
		Counter: CounterConfig{
			Backend:     "memory",
			BucketCount: 10,
		},
		Blocklist: BlocklistConfig{
			Backend:      "memory",
			SweepSeconds: 60,
		},
		Feed: FeedConfig{
			IntervalSeconds: 300,
			MaxAgeSeconds:   3600,
		},
		Sink: SinkConfig{
			BufferSize: 4096,
		},
	}
}

// DepTimeout converts the configured per-dependency timeout.
func (c *ServerConfig) DepTimeout() time.Duration {
	return time.Duration(c.DepTimeoutMs) * time.Millisecond
}
