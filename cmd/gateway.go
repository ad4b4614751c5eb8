package cmd

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"gateguard/blocklist"
	"gateguard/config"
	"gateguard/counter"
	"gateguard/engine"
	"gateguard/feed"
	"gateguard/logx"
	"gateguard/middleware"
	"gateguard/mitigate"
	"gateguard/monitoring"
	"gateguard/sink"
)

var (
	gwConfigPath  string
	gwRulesPath   string
	gwUpstreamURL string
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the admission gateway",
	Run: func(cmd *cobra.Command, args []string) {
		runGateway(gwConfigPath, gwRulesPath, gwUpstreamURL)
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
	gatewayCmd.Flags().StringVarP(&gwConfigPath, "config", "c", "gateguard.ini", "Process configuration file")
	gatewayCmd.Flags().StringVarP(&gwRulesPath, "rules", "r", "config/ruleset.yml", "Rule set file")
	gatewayCmd.Flags().StringVarP(&gwUpstreamURL, "upstream", "u", "", "Upstream URL to proxy allowed requests to (default: built-in echo handler)")
}

func runGateway(configPath, rulesPath, upstream string) {
	guardCfg, err := config.LoadGuardConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", configPath, err)
	}

	snap, err := config.LoadRuleSet(rulesPath)
	if err != nil {
		log.Fatalf("Failed to load rule set %s: %v", rulesPath, err)
	}

	monitoring.InitMetrics()
	monitoring.SetRuleCount(snap.Len())
	holder := engine.NewSnapshotHolder(snap)

	counters, closeCounters, err := buildCounterStore(&guardCfg.Counter)
	if err != nil {
		log.Fatalf("Failed to init counter store: %v", err)
	}
	defer closeCounters()

	bl, err := buildBlocklist(&guardCfg.Blocklist)
	if err != nil {
		log.Fatalf("Failed to init blocklist: %v", err)
	}
	defer bl.Close()

	feeds := feed.NewAdapter(&feed.Config{
		URL:       guardCfg.Feed.URL,
		PublicKey: guardCfg.Feed.PublicKey,
		Interval:  time.Duration(guardCfg.Feed.IntervalSeconds) * time.Second,
		MaxAge:    time.Duration(guardCfg.Feed.MaxAgeSeconds) * time.Second,
	}, nil)
	feeds.Start()
	defer feeds.Stop()

	eventOut, closeEvents, err := openEventOutput(&guardCfg.Sink)
	if err != nil {
		log.Fatalf("Failed to open event output: %v", err)
	}
	defer closeEvents()

	events := sink.New(eventOut, guardCfg.Sink.BufferSize)
	defer events.Close()

	eng := engine.New(counters, feeds, guardCfg.Server.DepTimeout())
	executor := mitigate.NewExecutor(bl)

	admission := middleware.Admission(middleware.Options{
		Engine:        eng,
		Rules:         holder,
		Blocklist:     bl,
		Executor:      executor,
		Sink:          events,
		CountryHeader: guardCfg.Server.CountryHeader,
		TrustXFF:      guardCfg.Server.TrustXFF,
	})

	startMetricsServer(guardCfg.Server.MetricsAddr)
	startReloadHandler(holder, rulesPath)

	srv := &http.Server{
		Addr:    guardCfg.Server.ListenAddr,
		Handler: admission(buildUpstreamHandler(upstream)),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logx.Info("GATEWAY", "listening on ", guardCfg.Server.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logx.Info("GATEWAY", "shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logx.Error("GATEWAY", "graceful shutdown failed: ", err)
	}
}

func buildCounterStore(cfg *config.CounterConfig) (counter.Store, func(), error) {
	switch cfg.Backend {
	case "", "memory":
		mc := counter.DefaultMemoryConfig()
		if cfg.BucketCount > 0 {
			mc.BucketCount = cfg.BucketCount
		}
		ms := counter.NewMemoryStore(mc)
		return ms, ms.Close, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		return counter.NewRedisStore(rdb, counter.WithBucketCount(cfg.BucketCount)),
			func() { rdb.Close() }, nil
	default:
		return nil, nil, logx.Errorf("unsupported counter backend: %s", cfg.Backend)
	}
}

func buildBlocklist(cfg *config.BlocklistConfig) (blocklist.Blocklist, error) {
	sweep := time.Duration(cfg.SweepSeconds) * time.Second
	switch cfg.Backend {
	case "", "memory":
		return blocklist.NewMemoryBlocklist(sweep), nil
	case "bolt":
		path := cfg.Path
		if path == "" {
			path = "gateguard-blocklist.db"
		}
		return blocklist.NewBoltBlocklist(path, sweep)
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		return blocklist.NewRedisBlocklist(rdb, ""), nil
	default:
		return nil, logx.Errorf("unsupported blocklist backend: %s", cfg.Backend)
	}
}

func openEventOutput(cfg *config.SinkConfig) (io.Writer, func(), error) {
	if cfg.Path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func buildUpstreamHandler(upstream string) http.Handler {
	if upstream == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		})
	}
	target, err := url.Parse(upstream)
	if err != nil {
		log.Fatalf("Bad upstream URL %s: %v", upstream, err)
	}
	return httputil.NewSingleHostReverseProxy(target)
}

// startMetricsServer exposes prometheus metrics on its own listener so the
// admission path and scrapes never share a port.
func startMetricsServer(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	monitoring.RegisterMetrics(mux)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			logx.Error("GATEWAY", "metrics server failed: ", err)
		}
	}()
}

// startReloadHandler re-reads the rule set on SIGHUP. A malformed file is
// rejected in full and the last-known-good snapshot keeps serving.
func startReloadHandler(holder *engine.SnapshotHolder, rulesPath string) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	go func() {
		for range sigCh {
			snap, err := config.LoadRuleSet(rulesPath)
			if err != nil {
				monitoring.RecordReload("rejected")
				logx.Error("GATEWAY", "rule set reload rejected, keeping last-good: ", err)
				continue
			}
			monitoring.RecordReload("ok")
			holder.Swap(snap)
		}
	}()
}
