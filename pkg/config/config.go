// Package config holds the process-wide settings for a talker server.
//
// There is no configuration file: the system keeps no persisted state, so
// the only inputs are CLI flags and a handful of environment variables
// bound through viper for override-in-place-of-flag convenience, the same
// flag-then-env-then-default precedence the teacher's own config layer
// uses.
package config

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of tunables a talker server reads at startup.
type Config struct {
	// Port is the TCP port the user-facing listener binds.
	Port int

	// PeerID is an explicit peer identifier. Empty means "generate one".
	PeerID string

	// LogLevel is a logrus level name (e.g. "info", "debug").
	LogLevel string

	// CacheExpiry is how often the Mesh rotates its seen-frame cache.
	CacheExpiry time.Duration

	// CallbackCacheExpiry is how often ScatterGather rotates its
	// outstanding-request table.
	CallbackCacheExpiry time.Duration

	// TickInterval is the reactor's timer tick period.
	TickInterval time.Duration

	// SeenCacheCapacity bounds each seen-cache generation's cuckoo filter.
	SeenCacheCapacity uint

	// LineRateLimit is the sustained rate (lines/sec) allowed per user
	// connection before it is disconnected; LineRateBurst is the bucket size.
	LineRateLimit float64
	LineRateBurst int
}

var (
	once sync.Once
	cfg  *Config
)

func defaults(v *viper.Viper) {
	v.SetDefault("port", 8889)
	v.SetDefault("id", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("cache_expiry", time.Second)
	v.SetDefault("callback_cache_expiry", time.Second)
	v.SetDefault("tick_interval", time.Second)
	v.SetDefault("seen_cache_capacity", uint(1<<14))
	v.SetDefault("line_rate_limit", 20.0)
	v.SetDefault("line_rate_burst", 40)
}

// Load builds the Config from defaults, the TALKER_* environment, then
// the supplied flag overrides (flags win). It does not touch the global
// singleton returned by Get; callers that want Get to reflect it should
// pass the result to Set.
func Load(port int, peerID string, logLevel string) *Config {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix("talker")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if port != 0 {
		v.Set("port", port)
	}
	if peerID != "" {
		v.Set("id", peerID)
	}
	if logLevel != "" {
		v.Set("log_level", logLevel)
	}

	return &Config{
		Port:                v.GetInt("port"),
		PeerID:              v.GetString("id"),
		LogLevel:            v.GetString("log_level"),
		CacheExpiry:         v.GetDuration("cache_expiry"),
		CallbackCacheExpiry: v.GetDuration("callback_cache_expiry"),
		TickInterval:        v.GetDuration("tick_interval"),
		SeenCacheCapacity:   v.GetUint("seen_cache_capacity"),
		LineRateLimit:       v.GetFloat64("line_rate_limit"),
		LineRateBurst:       v.GetInt("line_rate_burst"),
	}
}

// Set installs c as the process-wide Config returned by Get.
func Set(c *Config) {
	cfg = c
}

// Get returns the process-wide Config, building a default one on first use.
func Get() *Config {
	once.Do(func() {
		if cfg == nil {
			cfg = Load(0, "", "")
		}
	})
	return cfg
}
