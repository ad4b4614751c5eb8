package engine

import (
	"sync/atomic"

	"gateguard/logx"
	"gateguard/monitoring"
	"gateguard/types"
)

// SnapshotHolder publishes rule set snapshots to concurrent evaluators.
// Reload builds a complete new snapshot and swaps a single pointer, so an
// in-flight evaluation sees either the fully-old or fully-new set, never a
// mix.
type SnapshotHolder struct {
	current atomic.Pointer[types.RuleSetSnapshot]
}

// NewSnapshotHolder starts with the given snapshot, which must not be nil.
func NewSnapshotHolder(initial *types.RuleSetSnapshot) *SnapshotHolder {
	h := &SnapshotHolder{}
	h.current.Store(initial)
	return h
}

// Current returns the live snapshot.
func (h *SnapshotHolder) Current() *types.RuleSetSnapshot {
	return h.current.Load()
}

// Swap publishes a new snapshot atomically.
func (h *SnapshotHolder) Swap(snap *types.RuleSetSnapshot) {
	prev := h.current.Swap(snap)
	monitoring.SetRuleCount(snap.Len())
	logx.Infof("ENGINE", "rule set %s published (%d rules, previous %s)",
		snap.Version, snap.Len(), prev.Version)
}
