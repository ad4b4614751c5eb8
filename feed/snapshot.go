// Package feed ingests externally maintained reputation and bot-signature
// data and publishes it as immutable snapshots for feed rules. Refresh is
// independent of rule set reloads; stale data keeps serving until a fresh
// payload passes validation.
package feed

import (
	"net"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gateguard/errors"
)

// Payload is the wire format of a feed document.
type Payload struct {
	Version       string              `yaml:"version"`
	BlockedIPs    []string            `yaml:"blocked_ips,omitempty"`
	BlockedCIDRs  []string            `yaml:"blocked_cidrs,omitempty"`
	BotSignatures []string            `yaml:"bot_signatures,omitempty"`
	Categories    map[string][]string `yaml:"categories,omitempty"`
}

// Snapshot is an immutable compiled view of one feed payload. All lookup
// methods are safe for concurrent use; a snapshot is never mutated after
// build.
type Snapshot struct {
	Version   string
	FetchedAt time.Time

	blockedIPs    map[string]struct{}
	blockedNets   []*net.IPNet
	botSignatures []string
	categories    map[string]map[string]struct{}
}

// EmptySnapshot returns the zero-content snapshot the adapter starts with.
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		Version:    "empty",
		FetchedAt:  time.Now(),
		blockedIPs: make(map[string]struct{}),
		categories: make(map[string]map[string]struct{}),
	}
}

// Compile validates a raw payload and builds a snapshot. A payload with no
// version or with nothing but unparsable entries is rejected in full.
func Compile(raw []byte, fetchedAt time.Time) (*Snapshot, error) {
	var payload Payload
	if err := yaml.Unmarshal(raw, &payload); err != nil {
		return nil, errors.NewError(errors.ErrCodeFeedInvalid, err.Error())
	}
	if payload.Version == "" {
		return nil, errors.NewError(errors.ErrCodeFeedInvalid, "feed payload missing version")
	}

	snap := &Snapshot{
		Version:    payload.Version,
		FetchedAt:  fetchedAt,
		blockedIPs: make(map[string]struct{}, len(payload.BlockedIPs)),
		categories: make(map[string]map[string]struct{}, len(payload.Categories)),
	}

	bad := 0
	for _, ip := range payload.BlockedIPs {
		if net.ParseIP(ip) == nil {
			bad++
			continue
		}
		snap.blockedIPs[ip] = struct{}{}
	}
	for _, cidr := range payload.BlockedCIDRs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			bad++
			continue
		}
		snap.blockedNets = append(snap.blockedNets, ipnet)
	}
	for _, sig := range payload.BotSignatures {
		sig = strings.ToLower(strings.TrimSpace(sig))
		if sig != "" {
			snap.botSignatures = append(snap.botSignatures, sig)
		}
	}
	for category, ips := range payload.Categories {
		set := make(map[string]struct{}, len(ips))
		for _, ip := range ips {
			if net.ParseIP(ip) == nil {
				bad++
				continue
			}
			set[ip] = struct{}{}
		}
		snap.categories[strings.ToLower(category)] = set
	}

	total := len(payload.BlockedIPs) + len(payload.BlockedCIDRs) + countCategoryIPs(payload.Categories)
	if total > 0 && bad == total {
		return nil, errors.NewError(errors.ErrCodeFeedInvalid, "feed payload contains no parsable entries")
	}
	return snap, nil
}

func countCategoryIPs(categories map[string][]string) int {
	n := 0
	for _, ips := range categories {
		n += len(ips)
	}
	return n
}

// Contains reports whether ip appears in the feed's blocked set. When
// categories are given, only those category lists are consulted; otherwise
// the global blocked IPs and CIDRs are.
func (s *Snapshot) Contains(ip string, categories []string) (string, bool) {
	if len(categories) > 0 {
		for _, category := range categories {
			if set, ok := s.categories[strings.ToLower(category)]; ok {
				if _, hit := set[ip]; hit {
					return category, true
				}
			}
		}
		return "", false
	}

	if _, hit := s.blockedIPs[ip]; hit {
		return "ip", true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", false
	}
	for _, ipnet := range s.blockedNets {
		if ipnet.Contains(parsed) {
			return "cidr", true
		}
	}
	return "", false
}

// MatchesAgent reports whether a User-Agent value carries a known bot
// signature.
func (s *Snapshot) MatchesAgent(userAgent string) (string, bool) {
	if userAgent == "" {
		return "", false
	}
	ua := strings.ToLower(userAgent)
	for _, sig := range s.botSignatures {
		if strings.Contains(ua, sig) {
			return sig, true
		}
	}
	return "", false
}

// Size returns the number of addresses carried, for logging.
func (s *Snapshot) Size() int {
	n := len(s.blockedIPs) + len(s.blockedNets)
	for _, set := range s.categories {
		n += len(set)
	}
	return n
}
