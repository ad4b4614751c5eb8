package config

// ServerConfig holds the gateway's HTTP boundary settings.
type ServerConfig struct {
	ListenAddr    string `ini:"listen_addr"`
	MetricsAddr   string `ini:"metrics_addr"`
	CountryHeader string `ini:"country_header"`
	TrustXFF      bool   `ini:"trust_xff"`
	DepTimeoutMs  int    `ini:"dependency_timeout_ms"`
}

// CounterConfig selects and tunes the counter store backend.
type CounterConfig struct {
	Backend     string `ini:"backend"` // memory | redis
	BucketCount int    `ini:"bucket_count"`
	RedisAddr   string `ini:"redis_addr"`
	RedisDB     int    `ini:"redis_db"`
}

// BlocklistConfig selects the blocklist backend.
type BlocklistConfig struct {
	Backend      string `ini:"backend"` // memory | bolt | redis
	Path         string `ini:"path"`    // bolt file
	RedisAddr    string `ini:"redis_addr"`
	RedisDB      int    `ini:"redis_db"`
	SweepSeconds int    `ini:"sweep_seconds"`
}

// FeedConfig tunes the threat-feed adapter.
type FeedConfig struct {
	URL             string `ini:"url"`
	PublicKey       string `ini:"public_key"`
	IntervalSeconds int    `ini:"interval_seconds"`
	MaxAgeSeconds   int    `ini:"max_age_seconds"`
}

// SinkConfig tunes the verdict event sink.
type SinkConfig struct {
	BufferSize int    `ini:"buffer_size"`
	Path       string `ini:"path"` // NDJSON file; empty = stdout
}

// GuardConfig is the full process configuration loaded from the ini file.
type GuardConfig struct {
	Server    ServerConfig
	Counter   CounterConfig
	Blocklist BlocklistConfig
	Feed      FeedConfig
	Sink      SinkConfig
}
