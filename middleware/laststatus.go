package middleware

import (
	"sync"
	"time"

	"gateguard/exception"
)

// lastStatusTracker remembers the most recent response status per client
// IP so scanner-detection rules can count on prior_statuses. Entries decay
// after the retention window.
type lastStatusTracker struct {
	mu        sync.RWMutex
	entries   map[string]statusEntry
	retention time.Duration
	stop      chan struct{}
}

type statusEntry struct {
	status int
	seen   time.Time
}

func newLastStatusTracker(retention time.Duration) *lastStatusTracker {
	t := &lastStatusTracker{
		entries:   make(map[string]statusEntry),
		retention: retention,
		stop:      make(chan struct{}),
	}
	exception.SafeGo("last-status-janitor", func() {
		ticker := time.NewTicker(retention)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				t.sweep()
			}
		}
	})
	return t
}

func (t *lastStatusTracker) get(ip string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.entries[ip]
	if !ok || time.Since(entry.seen) > t.retention {
		return 0
	}
	return entry.status
}

func (t *lastStatusTracker) set(ip string, status int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[ip] = statusEntry{status: status, seen: time.Now()}
}

func (t *lastStatusTracker) sweep() {
	cutoff := time.Now().Add(-t.retention)

	t.mu.Lock()
	defer t.mu.Unlock()
	for ip, entry := range t.entries {
		if entry.seen.Before(cutoff) {
			delete(t.entries, ip)
		}
	}
}

func (t *lastStatusTracker) close() {
	close(t.stop)
}
