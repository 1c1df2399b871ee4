// Package config loads process configuration from environment variables
// (optionally seeded from a .env file) and doubles as the fabric's
// key/value configuration store.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every environment-bound setting the binary cares about.
// Struct tags mirror the teacher's caarlos0/env convention: one tag per
// field, sensible defaults so a bare `lbotd` run with no environment at
// all still starts.
type Config struct {
	LogLevel  string `env:"LBOT_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LBOT_LOG_FORMAT" envDefault:"console"`

	WorkerCount     int `env:"LBOT_WORKER_COUNT" envDefault:"8"`
	WorkerQueueSize int `env:"LBOT_WORKER_QUEUE_SIZE" envDefault:"1024"`

	BroadcastRateLimit float64 `env:"LBOT_BROADCAST_RATE_LIMIT" envDefault:"0"`
	BroadcastRateBurst int     `env:"LBOT_BROADCAST_RATE_BURST" envDefault:"0"`

	ClockMode string `env:"LBOT_CLOCK_MODE" envDefault:"system"`

	ReplayBufferSize int `env:"LBOT_REPLAY_BUFFER_SIZE" envDefault:"256"`

	MetricsAddr string `env:"LBOT_METRICS_ADDR" envDefault:":9090"`

	NATSURL          string `env:"LBOT_NATS_URL" envDefault:""`
	KafkaBrokers     string `env:"LBOT_KAFKA_BROKERS" envDefault:""`
	FoxgloveAddr     string `env:"LBOT_FOXGLOVE_ADDR" envDefault:""`
	EnablePromExport bool   `env:"LBOT_ENABLE_PROM_EXPORT" envDefault:"true"`

	ResourceGuardEnabled bool          `env:"LBOT_RESOURCE_GUARD_ENABLED" envDefault:"false"`
	ResourceGuardCPUPct  float64       `env:"LBOT_RESOURCE_GUARD_CPU_PCT" envDefault:"90"`
	ResourceGuardMemPct  float64       `env:"LBOT_RESOURCE_GUARD_MEM_PCT" envDefault:"90"`
	ResourceGuardPeriod  time.Duration `env:"LBOT_RESOURCE_GUARD_PERIOD" envDefault:"5s"`

	overrides sync.Map // extra key/value pairs set at runtime, e.g. by tests
}

// Load reads a .env file if present (missing is not an error, matching
// the teacher's main.go tolerance for a dev-only file in production) and
// then parses the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}
	return cfg, nil
}

// Print writes a human-readable summary of the loaded configuration,
// grounded on the teacher's main.go startup "Print()" visibility step.
func (c *Config) Print(w func(format string, args ...any)) {
	w("log_level=%s log_format=%s", c.LogLevel, c.LogFormat)
	w("worker_count=%d worker_queue_size=%d", c.WorkerCount, c.WorkerQueueSize)
	w("broadcast_rate_limit=%.1f broadcast_rate_burst=%d", c.BroadcastRateLimit, c.BroadcastRateBurst)
	w("clock_mode=%s replay_buffer_size=%d", c.ClockMode, c.ReplayBufferSize)
	w("metrics_addr=%s", c.MetricsAddr)
	w("nats_url=%s kafka_brokers=%s foxglove_addr=%s", c.NATSURL, c.KafkaBrokers, c.FoxgloveAddr)
	w("resource_guard_enabled=%t cpu_pct=%.1f mem_pct=%.1f period=%s",
		c.ResourceGuardEnabled, c.ResourceGuardCPUPct, c.ResourceGuardMemPct, c.ResourceGuardPeriod)
}

// Set installs a runtime override for key, used by tests and by any node
// that wants to rewrite fabric configuration (e.g. switching clock mode)
// without restarting the process.
func (c *Config) Set(key, value string) {
	c.overrides.Store(key, value)
}

// GetString implements lbot.ConfigStore. For /lbot/clock_mode a runtime
// override set via Set takes precedence over the loaded ClockMode;
// /lbot/replay_buffer_size always reports the loaded ReplayBufferSize and
// ignores overrides. Any other key is answered from overrides only.
func (c *Config) GetString(key string) (string, bool) {
	switch key {
	case "/lbot/clock_mode":
		if v, ok := c.overrides.Load(key); ok {
			return v.(string), true
		}
		return c.ClockMode, true
	case "/lbot/replay_buffer_size":
		return strconv.Itoa(c.ReplayBufferSize), true
	}

	if v, ok := c.overrides.Load(key); ok {
		return v.(string), true
	}
	return "", false
}
