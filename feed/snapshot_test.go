package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gateguard/errors"
)

func TestCompileValidPayload(t *testing.T) {
	raw := []byte(`
version: "2026-08-29"
blocked_ips:
  - "203.0.113.5"
blocked_cidrs:
  - "198.51.100.0/24"
bot_signatures:
  - Masscan
  - "  zgrab "
categories:
  reputation:
    - "192.0.2.8"
`)

	snap, err := Compile(raw, time.Now())
	assert.NoError(t, err)
	assert.Equal(t, "2026-08-29", snap.Version)
	assert.Equal(t, 3, snap.Size())

	_, hit := snap.Contains("203.0.113.5", nil)
	assert.True(t, hit)
	origin, hit := snap.Contains("198.51.100.77", nil)
	assert.True(t, hit)
	assert.Equal(t, "cidr", origin)
	_, hit = snap.Contains("192.0.2.8", nil)
	assert.False(t, hit, "category entries are not in the global set")
	_, hit = snap.Contains("192.0.2.8", []string{"reputation"})
	assert.True(t, hit)
	_, hit = snap.Contains("192.0.2.8", []string{"botnet"})
	assert.False(t, hit)
}

func TestCompileRejectsMissingVersion(t *testing.T) {
	_, err := Compile([]byte(`blocked_ips: ["203.0.113.5"]`), time.Now())
	assert.Error(t, err)
	assert.Equal(t, errors.ErrCodeFeedInvalid, errors.CodeOf(err))
}

func TestCompileRejectsAllUnparsable(t *testing.T) {
	raw := []byte(`
version: "v1"
blocked_ips:
  - "not-an-ip"
blocked_cidrs:
  - "also/not/a/cidr"
`)
	_, err := Compile(raw, time.Now())
	assert.Error(t, err)
	assert.Equal(t, errors.ErrCodeFeedInvalid, errors.CodeOf(err))
}

func TestCompileSkipsPartialGarbage(t *testing.T) {
	raw := []byte(`
version: "v1"
blocked_ips:
  - "not-an-ip"
  - "203.0.113.5"
`)
	snap, err := Compile(raw, time.Now())
	assert.NoError(t, err)

	_, hit := snap.Contains("203.0.113.5", nil)
	assert.True(t, hit)
	_, hit = snap.Contains("not-an-ip", nil)
	assert.False(t, hit)
}

func TestMatchesAgent(t *testing.T) {
	raw := []byte(`
version: "v1"
bot_signatures:
  - scrapy
  - masscan
`)
	snap, err := Compile(raw, time.Now())
	assert.NoError(t, err)

	sig, hit := snap.MatchesAgent("Mozilla/5.0 (compatible; Scrapy/2.11)")
	assert.True(t, hit)
	assert.Equal(t, "scrapy", sig)

	_, hit = snap.MatchesAgent("Mozilla/5.0 (X11; Linux x86_64)")
	assert.False(t, hit)
	_, hit = snap.MatchesAgent("")
	assert.False(t, hit)
}

func TestEmptySnapshotMatchesNothing(t *testing.T) {
	snap := EmptySnapshot()
	_, hit := snap.Contains("203.0.113.5", nil)
	assert.False(t, hit)
	_, hit = snap.MatchesAgent("masscan")
	assert.False(t, hit)
	assert.Equal(t, 0, snap.Size())
}
