package blocklist

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gateguard/types"
)

func TestBoltBlockCheckRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "block.db")
	bb, err := NewBoltBlocklist(path, 0)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer bb.Close()
	ctx := context.Background()

	if err := bb.Block(ctx, types.BlockEntry{
		Key:       "203.0.113.5",
		Reason:    "probe-paths",
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("block failed: %v", err)
	}

	entry, blocked := bb.Check(ctx, "203.0.113.5")
	if !blocked {
		t.Fatal("expected key to be blocked")
	}
	if entry.Reason != "probe-paths" {
		t.Fatalf("expected reason probe-paths, got %q", entry.Reason)
	}

	if err := bb.Remove(ctx, "203.0.113.5"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, blocked := bb.Check(ctx, "203.0.113.5"); blocked {
		t.Fatal("removed key still blocked")
	}
}

func TestBoltEntriesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "block.db")
	ctx := context.Background()

	bb, err := NewBoltBlocklist(path, 0)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := bb.Block(ctx, types.BlockEntry{
		Key:       "198.51.100.9",
		Reason:    "geo-embargo",
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}); err != nil {
		t.Fatalf("block failed: %v", err)
	}
	if err := bb.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := NewBoltBlocklist(path, 0)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	entry, blocked := reopened.Check(ctx, "198.51.100.9")
	if !blocked {
		t.Fatal("entry lost across reopen")
	}
	if entry.Reason != "geo-embargo" {
		t.Fatalf("expected reason geo-embargo, got %q", entry.Reason)
	}
}

func TestBoltBlockExtendsOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "block.db")
	bb, err := NewBoltBlocklist(path, 0)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer bb.Close()
	ctx := context.Background()

	far := time.Now().Add(24 * time.Hour)
	if err := bb.Block(ctx, types.BlockEntry{Key: "ip", Reason: "geo-embargo", ExpiresAt: far}); err != nil {
		t.Fatalf("block failed: %v", err)
	}
	if err := bb.Block(ctx, types.BlockEntry{Key: "ip", Reason: "global-rate-limit", ExpiresAt: time.Now().Add(10 * time.Minute)}); err != nil {
		t.Fatalf("block failed: %v", err)
	}

	entry, blocked := bb.Check(ctx, "ip")
	if !blocked {
		t.Fatal("expected key to stay blocked")
	}
	if !entry.ExpiresAt.Equal(far) {
		t.Fatalf("shorter re-block shortened the entry: %v", entry.ExpiresAt)
	}
}

func TestBoltExpiredEntryNotReturned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "block.db")
	bb, err := NewBoltBlocklist(path, 0)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer bb.Close()
	ctx := context.Background()

	if err := bb.Block(ctx, types.BlockEntry{
		Key:       "ip",
		Reason:    "r",
		ExpiresAt: time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("block failed: %v", err)
	}

	if _, blocked := bb.Check(ctx, "ip"); blocked {
		t.Fatal("expired entry reported as blocked")
	}
	if len(bb.Entries(ctx)) != 0 {
		t.Fatal("expired entry listed")
	}

	// sweep deletes the stale record outright.
	bb.sweep()
	if _, blocked := bb.Check(ctx, "ip"); blocked {
		t.Fatal("swept entry reported as blocked")
	}
}
