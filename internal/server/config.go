// Package server provides configuration helpers that define runtime defaults,
// validation, and environment overrides for the relay.
package server

import (
	"errors"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/gochat-relay/internal/metrics"
	"github.com/Tyrowin/gochat-relay/internal/room"
	"github.com/Tyrowin/gochat-relay/internal/store"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// HistoryConfig controls the room's history log.
type HistoryConfig struct {
	Limit          int
	Key            string
	EchoToSender   bool
	Refresh        room.RefreshPolicy
	PersistTimeout time.Duration
}

// StoreConfig selects the durable log store backend.
type StoreConfig struct {
	Backend       string
	Dir           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PGURL         string
	PGMaxConn     int
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string
	MaxMessageSize int64
	SendBufferSize int
	RateLimit      RateLimitConfig
	History        HistoryConfig
	Store          StoreConfig
}

func defaultConfig() Config {
	return Config{
		Port:     ":8080",
		Env:      "dev",
		LogLevel: "info",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		SendBufferSize: 256,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		History: HistoryConfig{
			Limit:          room.DefaultHistoryLimit,
			Key:            room.DefaultKey,
			EchoToSender:   true,
			Refresh:        room.RefreshOnce,
			PersistTimeout: 5 * time.Second,
		},
		Store: StoreConfig{
			Backend:   store.BackendMemory,
			Dir:       "data",
			RedisAddr: "localhost:6379",
			PGMaxConn: 4,
		},
	}
}

// sanitizeConfig replaces unusable values with defaults.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.Env == "" {
		cfg.Env = def.Env
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.History.Limit <= 0 {
		cfg.History.Limit = def.History.Limit
	}
	if cfg.History.Key == "" {
		cfg.History.Key = def.History.Key
	}
	if cfg.History.PersistTimeout < 0 {
		cfg.History.PersistTimeout = def.History.PersistTimeout
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = def.Store.Backend
	}
	if cfg.Store.PGMaxConn <= 0 {
		cfg.Store.PGMaxConn = def.Store.PGMaxConn
	}
	cfg.Store.PGMaxConn = min(cfg.Store.PGMaxConn, math.MaxInt32)

	// The whole history is queued before the write pump starts.
	if cfg.SendBufferSize <= cfg.History.Limit {
		cfg.SendBufferSize = max(def.SendBufferSize, cfg.History.Limit*2)
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if env := os.Getenv("APP_ENV"); env != "" {
		cfg.Env = env
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if size := os.Getenv("SEND_BUFFER_SIZE"); size != "" {
		cfg.SendBufferSize = parseIntValue(size, cfg.SendBufferSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}

	if limit := os.Getenv("HISTORY_LIMIT"); limit != "" {
		cfg.History.Limit = parseIntValue(limit, cfg.History.Limit)
	}
	if key := os.Getenv("HISTORY_KEY"); key != "" {
		cfg.History.Key = key
	}
	if echo := os.Getenv("ECHO_TO_SENDER"); echo != "" {
		cfg.History.EchoToSender = parseBool(echo, cfg.History.EchoToSender)
	}
	if refresh := os.Getenv("HISTORY_REFRESH"); refresh != "" {
		cfg.History.Refresh = parseRefreshPolicy(refresh, cfg.History.Refresh)
	}
	if timeout := os.Getenv("PERSIST_TIMEOUT"); timeout != "" {
		cfg.History.PersistTimeout = parseDuration(timeout, cfg.History.PersistTimeout)
	}

	if backend := os.Getenv("STORE_BACKEND"); backend != "" {
		cfg.Store.Backend = strings.ToLower(strings.TrimSpace(backend))
	}
	if dir := os.Getenv("STORE_DIR"); dir != "" {
		cfg.Store.Dir = dir
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Store.RedisAddr = addr
	}
	cfg.Store.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if db := os.Getenv("REDIS_DB"); db != "" {
		if parsed, err := strconv.Atoi(db); err == nil && parsed >= 0 {
			cfg.Store.RedisDB = parsed
		}
	}
	if url := os.Getenv("PG_URL"); url != "" {
		cfg.Store.PGURL = url
	}
	if maxConn := os.Getenv("PG_MAX_CONN"); maxConn != "" {
		cfg.Store.PGMaxConn = parseIntValue(maxConn, cfg.Store.PGMaxConn)
	}

	return &cfg
}

// LoadDotEnv loads variables from the given files (".env" when none are
// given) without overriding the real environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// StoreOptions translates the sanitized store section for store.Open.
func (c Config) StoreOptions() store.Options {
	sc := sanitizeConfig(c).Store
	return store.Options{
		Backend:       sc.Backend,
		Dir:           sc.Dir,
		RedisAddr:     sc.RedisAddr,
		RedisPassword: sc.RedisPassword,
		RedisDB:       sc.RedisDB,
		PGURL:         sc.PGURL,
		PGMaxConn:     int32(sc.PGMaxConn),
	}
}

// RoomOptions translates the history section into coordinator options.
func (c Config) RoomOptions(logger *slog.Logger, m *metrics.Metrics) []room.Option {
	return []room.Option{
		room.WithLogger(logger),
		room.WithMetrics(m),
		room.WithHistoryLimit(c.History.Limit),
		room.WithKey(c.History.Key),
		room.WithEcho(c.History.EchoToSender),
		room.WithRefreshPolicy(c.History.Refresh),
		room.WithPersistTimeout(c.History.PersistTimeout),
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration syntax ("250ms") or whole seconds ("3").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func parseRefreshPolicy(value string, defaultValue room.RefreshPolicy) room.RefreshPolicy {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "once":
		return room.RefreshOnce
	case "register", "on-register":
		return room.RefreshOnRegister
	default:
		return defaultValue
	}
}
