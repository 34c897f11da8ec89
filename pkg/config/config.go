// CLAUDE:SUMMARY YAML configuration with .env loading and environment overrides: cache location and backend, thread count, upstream endpoints and HTTP policy.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/french-cities/pkg/ban"
	"github.com/hazyhaar/french-cities/pkg/cog"
	"github.com/hazyhaar/french-cities/pkg/geo"
	"github.com/hazyhaar/french-cities/pkg/httpx"
	"github.com/hazyhaar/french-cities/pkg/nominatim"
	"github.com/hazyhaar/french-cities/pkg/pool"
	"github.com/hazyhaar/french-cities/pkg/postal"
)

// Cache backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

type Cache struct {
	Backend   string `yaml:"backend"`
	DSN       string `yaml:"dsn"`
	RedisAddr string `yaml:"redis_addr"`
	RedisPass string `yaml:"redis_password"`
	RedisDB   int    `yaml:"redis_db"`
}

type HTTP struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	Proxy       string        `yaml:"proxy"`
}

// TLS configures the server listeners. Empty CertFile and KeyFile with
// Enabled generate a self-signed certificate.
type TLS struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	HTTP3    bool   `yaml:"http3"`
}

type Endpoints struct {
	INSEE     string `yaml:"insee"`
	BAN       string `yaml:"ban"`
	Hexasmal  string `yaml:"hexasmal"`
	Cedex     string `yaml:"cedex"`
	WFS       string `yaml:"wfs"`
	WFSLayer  string `yaml:"wfs_layer"`
	Nominatim string `yaml:"nominatim"`
}

// Config is the whole configuration. The zero value of every field means
// its default.
type Config struct {
	CacheDir           string        `yaml:"cache_dir"`
	Cache              Cache         `yaml:"cache"`
	Threads            int           `yaml:"threads"`
	HTTP               HTTP          `yaml:"http"`
	Endpoints          Endpoints     `yaml:"endpoints"`
	INSEEToken         string        `yaml:"insee_token"`
	INSEERatePerMinute int           `yaml:"insee_rate_per_minute"`
	NominatimUserAgent string        `yaml:"nominatim_user_agent"`
	RefreshAreas       bool          `yaml:"refresh_areas"`
	Addr               string        `yaml:"addr"`
	TLS                TLS           `yaml:"tls"`
	CheckSourcesEvery  time.Duration `yaml:"check_sources_every"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Cache:   Cache{Backend: BackendSQLite},
		Threads: pool.DefaultSize,
		HTTP:    HTTP{Timeout: 30 * time.Second, MaxAttempts: 5},
		Endpoints: Endpoints{
			INSEE:     cog.DefaultINSEEURL,
			BAN:       ban.DefaultURL,
			Hexasmal:  postal.DefaultHexasmalURL,
			Cedex:     postal.DefaultCedexURL,
			WFS:       geo.DefaultWFSURL,
			WFSLayer:  geo.DefaultLayer,
			Nominatim: nominatim.DefaultURL,
		},
		INSEERatePerMinute: 30,
		NominatimUserAgent: "french-cities",
		Addr:               ":8420",
		CheckSourcesEvery:  24 * time.Hour,
	}
}

// Load reads .env (when present), then the YAML file at path (when present),
// then applies environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.fill(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("FRENCH_CITIES_CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv("FRENCH_CITIES_THREADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("FRENCH_CITIES_THREADS: expected a positive integer, got %q", v)
		}
		c.Threads = n
	}
	if c.HTTP.Proxy == "" {
		for _, k := range []string{"https_proxy", "HTTPS_PROXY", "http_proxy", "HTTP_PROXY"} {
			if v := os.Getenv(k); v != "" {
				c.HTTP.Proxy = v
				break
			}
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
		if c.Cache.Backend == BackendSQLite {
			c.Cache.Backend = BackendRedis
		}
	}
	if v := os.Getenv("PG_DSN"); v != "" {
		c.Cache.DSN = v
		if c.Cache.Backend == BackendSQLite {
			c.Cache.Backend = BackendPostgres
		}
	}
	if v := os.Getenv("INSEE_TOKEN"); v != "" {
		c.INSEEToken = v
	}
	if v := os.Getenv("FRENCH_CITIES_ADDR"); v != "" {
		c.Addr = v
	}
	if cert, key := os.Getenv("FRENCH_CITIES_TLS_CERT"), os.Getenv("FRENCH_CITIES_TLS_KEY"); cert != "" && key != "" {
		c.TLS.Enabled, c.TLS.CertFile, c.TLS.KeyFile = true, cert, key
	}
	return nil
}

// fill resolves defaults that depend on the environment and validates.
func (c *Config) fill() error {
	if c.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		c.CacheDir = filepath.Join(base, "french-cities")
	}
	if c.Threads < 1 {
		c.Threads = pool.DefaultSize
	}
	if c.INSEERatePerMinute < 1 {
		c.INSEERatePerMinute = 30
	}
	if c.HTTP.Proxy != "" {
		if _, err := httpx.ParseProxy(c.HTTP.Proxy); err != nil {
			return fmt.Errorf("http: %w", err)
		}
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("tls needs both cert_file and key_file")
	}
	if c.TLS.CertFile != "" {
		c.TLS.Enabled = true
	}
	if c.TLS.HTTP3 && !c.TLS.Enabled {
		return fmt.Errorf("tls.http3 needs tls enabled")
	}
	c.Cache.Backend = strings.ToLower(c.Cache.Backend)
	switch c.Cache.Backend {
	case "":
		c.Cache.Backend = BackendSQLite
	case BackendSQLite, BackendMemory:
	case BackendPostgres:
		if c.Cache.DSN == "" {
			return fmt.Errorf("cache backend postgres needs cache.dsn or PG_DSN")
		}
	case BackendRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache backend redis needs cache.redis_addr or REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	return nil
}

// NewLogger builds the process logger from LOG_LEVEL (debug|info|warn|error)
// and LOG_FORMAT (text|json), writing to stderr.
func NewLogger() *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
