package middleware

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gateguard/blocklist"
	"gateguard/counter"
	"gateguard/engine"
	"gateguard/mitigate"
	"gateguard/sink"
	"gateguard/types"
)

type harness struct {
	handler http.Handler
	bl      *blocklist.MemoryBlocklist
	events  *bytes.Buffer
	sink    *sink.Sink
}

// newHarness wires the full admission chain around an upstream that
// returns 404 for /probe-* paths and 200 for everything else.
func newHarness(t *testing.T, rules []types.Rule) *harness {
	t.Helper()

	store := counter.NewMemoryStore(&counter.MemoryConfig{BucketCount: 10})
	bl := blocklist.NewMemoryBlocklist(0)
	t.Cleanup(func() { bl.Close() })

	events := &bytes.Buffer{}
	eventSink := sink.New(events, 256)

	holder := engine.NewSnapshotHolder(types.NewRuleSetSnapshot("test", rules))
	mw := Admission(Options{
		Engine:    engine.New(store, nil, time.Second),
		Rules:     holder,
		Blocklist: bl,
		Executor:  mitigate.NewExecutor(bl),
		Sink:      eventSink,
		TrustXFF:  true,
	})

	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/probe-") {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	return &harness{handler: mw(upstream), bl: bl, events: events, sink: eventSink}
}

func (h *harness) do(method, path, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Forwarded-For", ip)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestAllowedRequestReachesUpstream(t *testing.T) {
	h := newHarness(t, []types.Rule{
		{ID: "probe-paths", Priority: 30, Kind: types.KindPattern, Patterns: []string{"/admin"}, Action: types.ActionBlock},
	})

	rec := h.do("GET", "/abc123", "203.0.113.5")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("upstream body lost: %q", rec.Body.String())
	}
}

func TestBlockedRequestNeverReachesUpstream(t *testing.T) {
	h := newHarness(t, []types.Rule{
		{ID: "probe-paths", Priority: 30, Kind: types.KindPattern, Patterns: []string{"/admin"}, Action: types.ActionBlock},
	})

	rec := h.do("GET", "/admin/login", "203.0.113.5")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "ok") {
		t.Fatal("blocked request reached upstream")
	}
}

func TestRateLimitSetsRetryAfter(t *testing.T) {
	h := newHarness(t, []types.Rule{
		{
			ID:             "global-rate-limit",
			Priority:       100,
			Kind:           types.KindRate,
			AggregationKey: "ip",
			Threshold:      3,
			Window:         time.Minute,
			Action:         types.ActionBlock,
			BlockStatus:    429,
			TTL:            10 * time.Minute,
		},
	})

	for i := 0; i < 3; i++ {
		if rec := h.do("GET", "/", "203.0.113.5"); rec.Code != http.StatusOK {
			t.Fatalf("request %d expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := h.do("GET", "/", "203.0.113.5")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "600" {
		t.Fatalf("expected Retry-After 600, got %q", got)
	}

	// Fast-path repeats keep the rule's response shape instead of falling
	// back to the default reject status.
	rec = h.do("GET", "/", "203.0.113.5")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("fast path expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("fast path lost Retry-After")
	}
}

// A scanner burning through missing paths gets blocked by the rule engine
// once, then rejected on the blocklist fast path for every request after.
func TestScannerEndsUpOnFastPath(t *testing.T) {
	h := newHarness(t, []types.Rule{
		{
			ID:             "scanner-detection",
			Priority:       120,
			Kind:           types.KindRate,
			AggregationKey: "ip",
			Threshold:      5,
			Window:         time.Minute,
			CountWhen:      types.ScopePredicate{PriorStatuses: []int{404}},
			Action:         types.ActionBlock,
			TTL:            2 * time.Hour,
		},
	})
	const scanner = "203.0.113.5"

	// The first probe has no prior status; the next five carry a prior
	// 404 each and advance the counter to the threshold.
	for i := 0; i < 6; i++ {
		rec := h.do("GET", fmt.Sprintf("/probe-%d", i), scanner)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("probe %d expected 404 passthrough, got %d", i+1, rec.Code)
		}
	}

	// The seventh probe crosses the threshold and lands on the blocklist.
	rec := h.do("GET", "/probe-6", scanner)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected engine block, got %d", rec.Code)
	}
	if _, blocked := h.bl.Check(context.Background(), scanner); !blocked {
		t.Fatal("block verdict did not reach the blocklist")
	}

	// Every later request short-circuits before evaluation.
	rec = h.do("GET", "/", scanner)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected fast-path block, got %d", rec.Code)
	}

	h.sink.Close()
	out := h.events.String()
	if !strings.Contains(out, `"fast_path":true`) {
		t.Fatalf("no fast-path event emitted:\n%s", out)
	}
	if !strings.Contains(out, `"rule_id":"scanner-detection"`) {
		t.Fatalf("no scanner-detection event emitted:\n%s", out)
	}

	// An unrelated client is untouched.
	if rec := h.do("GET", "/", "198.51.100.9"); rec.Code != http.StatusOK {
		t.Fatalf("bystander got %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "198.51.100.9:43210"

	if got := ClientIP(req, false); got != "198.51.100.9" {
		t.Fatalf("RemoteAddr extraction: got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if got := ClientIP(req, true); got != "203.0.113.5" {
		t.Fatalf("XFF first hop: got %q", got)
	}
	// Spoofable headers are ignored unless the deployment trusts them.
	if got := ClientIP(req, false); got != "198.51.100.9" {
		t.Fatalf("untrusted XFF honored: got %q", got)
	}
}

func TestBuildRequestContext(t *testing.T) {
	req := httptest.NewRequest("POST", "/create?url=https://example.com", strings.NewReader("payload"))
	req.RemoteAddr = "198.51.100.9:43210"
	req.Header.Set("User-Agent", "curl/8.5")
	req.Header.Set("CloudFront-Viewer-Country", "de")

	rc := BuildRequestContext(req, "CloudFront-Viewer-Country", false, 404)
	if rc.SourceIP != "198.51.100.9" {
		t.Fatalf("source ip: %q", rc.SourceIP)
	}
	if rc.Path != "/create" {
		t.Fatalf("path: %q", rc.Path)
	}
	if rc.CountryCode != "DE" {
		t.Fatalf("country not uppercased: %q", rc.CountryCode)
	}
	if rc.Header("User-Agent") != "curl/8.5" {
		t.Fatalf("user agent lost: %q", rc.Header("User-Agent"))
	}
	if rc.URILength != len("/create?url=https://example.com") {
		t.Fatalf("uri length: %d", rc.URILength)
	}
	if rc.PriorResponseStatus != 404 {
		t.Fatalf("prior status: %d", rc.PriorResponseStatus)
	}
	if rc.BodySizeBytes != int64(len("payload")) {
		t.Fatalf("body size: %d", rc.BodySizeBytes)
	}
}
