package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
)

type Config struct {
	ListenPort      string        // ex: ":8480", empty disables the admin API
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Registry
	DataDir         string        // directory holding discovery.dat and discovery_backup.dat
	AccessThrottle  time.Duration // minimum interval between two uses of the same service
	RevivalInterval time.Duration // cooldown before a zero-rated service is revived
	MaxRating       uint8         // rating given to new and revived services
	SeedFile        string        // line-oriented default services, used on first run only
	CatalogFile     string        // optional YAML catalog imported on every start

	// Requests
	ClientID       string             // 4-letter vendor code sent to web caches
	ClientVersion  string             // client version sent to web caches
	AdvertiseAddr  string             // our reachable ip:port pushed by updates, empty disables updates
	RequestTimeout time.Duration      // per-request timeout
	Networks       domain.NetworkType // networks the poller queries

	// Schedulers
	QueryInterval  time.Duration
	UpdateInterval time.Duration
	SaveInterval   time.Duration
	PruneInterval  time.Duration
	MaxRevivals    uint32        // zero-rated services revived more often than this get pruned, 0 disables
	HostTTL        time.Duration // hosts older than this are pruned from the host cache

	// Host cache
	HostCacheFile string // bbolt file, empty => <DataDir>/hosts.db

	// Redis mirror (optional, empty address disables it)
	RedisAddr           string
	RedisUser           string
	RedisPassword       string
	RedisDB             int
	RedisDT             time.Duration // dial timeout
	RedisRT             time.Duration // read timeout
	RedisWT             time.Duration // write timeout
	RedisPoolSize       int
	RedisConnectTimeout time.Duration // total time to retry connecting
	RedisRetryInterval  time.Duration // initial wait between retries, grows exponentially
	RedisMaxWait        time.Duration // max wait between retries
	RedisPingTimeout    time.Duration

	// Admin API access
	AllowedCIDRS   []string // optional, restrict admin API to specific IPs/CIDRs
	TrustProxy     bool     // true => trust X-Forwarded-For headers
	RateLimitBurst int      // per-IP burst on mutating routes
	RateLimitPerMn int      // per-IP refill per minute on mutating routes
}

func Load() *Config {
	cfg := &Config{
		ListenPort:      getenv("DISCOVERY_LISTEN_PORT", ":8480"),
		ShutdownTimeout: mustDuration("DISCOVERY_SHUTDOWN_TIMEOUT", 5*time.Second),

		LogLevel:  getenv("DISCOVERY_LOG_LEVEL", "info"),
		PrettyLog: mustBool("DISCOVERY_PRETTY_LOG", true),

		DataDir:         getenv("DISCOVERY_DATA_DIR", DefaultDataDir()),
		AccessThrottle:  mustDuration("DISCOVERY_ACCESS_THROTTLE", time.Hour),
		RevivalInterval: mustDuration("DISCOVERY_REVIVAL_INTERVAL", 24*time.Hour),
		MaxRating:       uint8(clampInt(getenvInt("DISCOVERY_MAX_RATING", 5), 1, 255)),
		SeedFile:        getenv("DISCOVERY_SEED_FILE", ""),
		CatalogFile:     getenv("DISCOVERY_CATALOG_FILE", ""),

		ClientID:       getenv("DISCOVERY_CLIENT_ID", "DSCD"),
		ClientVersion:  getenv("DISCOVERY_CLIENT_VERSION", "0.1"),
		AdvertiseAddr:  getenv("DISCOVERY_ADVERTISE_ADDR", ""),
		RequestTimeout: mustDuration("DISCOVERY_REQUEST_TIMEOUT", 15*time.Second),
		Networks:       mustNetworks("DISCOVERY_NETWORKS", domain.NetworkG2),

		QueryInterval:  mustDuration("DISCOVERY_QUERY_INTERVAL", 10*time.Minute),
		UpdateInterval: mustDuration("DISCOVERY_UPDATE_INTERVAL", time.Hour),
		SaveInterval:   mustDuration("DISCOVERY_SAVE_INTERVAL", 5*time.Minute),
		PruneInterval:  mustDuration("DISCOVERY_PRUNE_INTERVAL", 6*time.Hour),
		MaxRevivals:    uint32(clampInt(getenvInt("DISCOVERY_MAX_REVIVALS", 10), 0, 1<<30)),
		HostTTL:        mustDuration("DISCOVERY_HOST_TTL", 72*time.Hour),

		HostCacheFile: getenv("DISCOVERY_HOSTCACHE_FILE", ""),

		RedisAddr:           getenv("DISCOVERY_REDIS_ADDR", ""),
		RedisUser:           getenv("DISCOVERY_REDIS_USERNAME", ""),
		RedisPassword:       getenv("DISCOVERY_REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("DISCOVERY_REDIS_DB", 0),
		RedisDT:             mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:             mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:             mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisPoolSize:       getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout: mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:  mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisMaxWait:        mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:    mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),

		AllowedCIDRS:   splitAndTrim(getenv("DISCOVERY_ALLOWED_CIDRS", "")),
		TrustProxy:     mustBool("DISCOVERY_TRUST_PROXY", false),
		RateLimitBurst: getenvInt("DISCOVERY_RATE_LIMIT_BURST", 20),
		RateLimitPerMn: getenvInt("DISCOVERY_RATE_LIMIT_PER_MINUTE", 60),
	}

	if cfg.HostCacheFile == "" {
		cfg.HostCacheFile = filepath.Join(cfg.DataDir, "hosts.db")
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		if cfgCopy.RedisPassword != "" {
			cfgCopy.RedisPassword = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// Validate reports settings the registry cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, errors.New("data dir must not be empty"))
	}
	if c.AccessThrottle < 0 {
		errs = append(errs, fmt.Errorf("access throttle must be >= 0, got %v", c.AccessThrottle))
	}
	if c.RevivalInterval < 0 {
		errs = append(errs, fmt.Errorf("revival interval must be >= 0, got %v", c.RevivalInterval))
	}
	if c.MaxRating == 0 {
		errs = append(errs, errors.New("max rating must be > 0"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request timeout must be > 0, got %v", c.RequestTimeout))
	}
	for name, d := range map[string]time.Duration{
		"query interval":  c.QueryInterval,
		"update interval": c.UpdateInterval,
		"save interval":   c.SaveInterval,
		"prune interval":  c.PruneInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %v", name, d))
		}
	}
	return errors.Join(errs...)
}

// DefaultDataDir returns a per-user directory for the registry files.
// It prefers os.UserConfigDir and falls back to the current directory.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "discoveryd")
	}
	return ".discoveryd"
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func mustNetworks(key string, def domain.NetworkType) domain.NetworkType {
	if v := os.Getenv(key); v != "" {
		if n, err := domain.ParseNetworkType(v); err == nil && !n.IsNull() {
			return n
		}
	}
	return def
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
