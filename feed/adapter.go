package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jedisct1/go-minisign"
	"golang.org/x/time/rate"

	"gateguard/errors"
	"gateguard/exception"
	"gateguard/logx"
	"gateguard/monitoring"
)

// Config holds configuration for the threat-feed adapter.
type Config struct {
	URL string
	// PublicKey is a base64 minisign public key. When set, the adapter
	// fetches URL+".minisig" and refuses unsigned or tampered payloads.
	PublicKey string
	Interval  time.Duration
	// MaxAge is the staleness horizon: an older snapshot is logged and
	// exported as stale but keeps serving.
	MaxAge       time.Duration
	FetchTimeout time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:     5 * time.Minute,
		MaxAge:       time.Hour,
		FetchTimeout: 10 * time.Second,
	}
}

// Adapter periodically pulls the feed and publishes immutable snapshots.
// Current never returns nil; rules read whatever snapshot is live at the
// moment of evaluation.
type Adapter struct {
	config  *Config
	client  *http.Client
	current atomic.Pointer[Snapshot]
	// retryLimiter paces refresh attempts after failures so a dead feed
	// endpoint is not hammered.
	retryLimiter *rate.Limiter
	lastFailed   atomic.Bool
	stop         chan struct{}
}

func NewAdapter(config *Config, client *http.Client) *Adapter {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: config.FetchTimeout}
	}

	a := &Adapter{
		config:       config,
		client:       client,
		retryLimiter: rate.NewLimiter(rate.Every(30*time.Second), 1),
		stop:         make(chan struct{}),
	}
	a.current.Store(EmptySnapshot())
	return a
}

// Current returns the live snapshot.
func (a *Adapter) Current() *Snapshot {
	return a.current.Load()
}

// Age returns the staleness of the live snapshot.
func (a *Adapter) Age() time.Duration {
	return time.Since(a.Current().FetchedAt)
}

// Stale reports whether the live snapshot is past the staleness horizon.
func (a *Adapter) Stale() bool {
	return a.config.MaxAge > 0 && a.Age() > a.config.MaxAge
}

// Publish swaps in a pre-built snapshot, used at bootstrap with a local
// feed file and by tests.
func (a *Adapter) Publish(snap *Snapshot) {
	a.current.Store(snap)
	monitoring.SetFeedAge(0)
}

// Start runs the refresh loop until Stop.
func (a *Adapter) Start() {
	if a.config.URL == "" {
		logx.Warn("FEED", "no feed url configured, serving empty snapshot")
		return
	}

	exception.SafeGo("feed-refresher", func() {
		if err := a.Refresh(context.Background()); err != nil {
			logx.Error("FEED", "initial refresh failed: ", err)
		}

		ticker := time.NewTicker(a.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.stop:
				return
			case <-ticker.C:
				monitoring.SetFeedAge(a.Age())
				if a.Stale() {
					logx.Warnf("FEED", "snapshot %s is stale (age %s > max %s), continuing with last-valid data",
						a.Current().Version, a.Age().Round(time.Second), a.config.MaxAge)
				}
				if err := a.Refresh(context.Background()); err != nil {
					logx.Error("FEED", "refresh failed: ", err)
				}
			}
		}
	})
}

// Stop terminates the refresh loop.
func (a *Adapter) Stop() {
	close(a.stop)
}

// Refresh pulls, verifies and publishes one feed payload. On any failure
// the previous snapshot stays live.
func (a *Adapter) Refresh(ctx context.Context) error {
	if a.lastFailed.Load() && !a.retryLimiter.Allow() {
		return nil
	}

	raw, err := a.fetch(ctx, a.config.URL)
	if err != nil {
		a.lastFailed.Store(true)
		monitoring.RecordFeedRefresh("unreachable")
		return errors.NewError(errors.ErrCodeFeedUnreachable, err.Error())
	}

	if a.config.PublicKey != "" {
		if err := a.verify(ctx, raw); err != nil {
			a.lastFailed.Store(true)
			monitoring.RecordFeedRefresh("bad_signature")
			return err
		}
	}

	snap, err := Compile(raw, time.Now())
	if err != nil {
		a.lastFailed.Store(true)
		monitoring.RecordFeedRefresh("invalid")
		return err
	}

	prev := a.Current()
	a.current.Store(snap)
	a.lastFailed.Store(false)
	monitoring.RecordFeedRefresh("ok")
	monitoring.SetFeedAge(0)
	logx.Infof("FEED", "published snapshot %s (%d entries, previous %s)",
		snap.Version, snap.Size(), prev.Version)
	return nil
}

func (a *Adapter) fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed endpoint returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}

func (a *Adapter) verify(ctx context.Context, payload []byte) error {
	sigRaw, err := a.fetch(ctx, a.config.URL+".minisig")
	if err != nil {
		return errors.NewError(errors.ErrCodeFeedBadSig, "signature fetch failed: "+err.Error())
	}

	pub, err := minisign.NewPublicKey(a.config.PublicKey)
	if err != nil {
		return errors.NewError(errors.ErrCodeFeedBadSig, "bad public key: "+err.Error())
	}
	sig, err := minisign.DecodeSignature(string(sigRaw))
	if err != nil {
		return errors.NewError(errors.ErrCodeFeedBadSig, "bad signature encoding: "+err.Error())
	}
	if ok, err := pub.Verify(payload, sig); !ok {
		msg := "signature verification failed"
		if err != nil {
			msg = err.Error()
		}
		return errors.NewError(errors.ErrCodeFeedBadSig, msg)
	}
	return nil
}
