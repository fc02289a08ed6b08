package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode   `yaml:"mode"`
	HTTPAddr string `yaml:"http_addr"`

	DBDriver string `yaml:"db_driver"` // sqlite|postgres
	DBDSN    string `yaml:"db_dsn"`

	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`

	AuthHMACSecret string `yaml:"auth_hmac_secret"`
	// EnableLocalAuth mounts POST /auth/token, which issues tokens without credentials.
	EnableLocalAuth bool `yaml:"enable_local_auth"`

	// SeedFile is a YAML catalog fixture loaded into an empty database at startup.
	SeedFile string `yaml:"seed_file"`

	CORSOriginsOnline  []string `yaml:"cors_origins_online"`
	CORSOriginsOffline []string `yaml:"cors_origins_offline"`

	Scheduler Scheduler `yaml:"scheduler"`
	Redis     Redis     `yaml:"redis"`
}

type Scheduler struct {
	Backend      string        `yaml:"backend"` // redis|memory
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	// Overdue sweeper; zero disables it.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepGrace    time.Duration `yaml:"sweep_grace"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

func defaults() Config {
	return Config{
		Mode:               ModeOffline,
		HTTPAddr:           ":8080",
		DBDriver:           "sqlite",
		LogLevel:           "info",
		LogPretty:          true,
		AuthHMACSecret:     "supersecret-dev-key",
		EnableLocalAuth:    true,
		CORSOriginsOnline:  []string{"https://lms.mindengage.ai"},
		CORSOriginsOffline: []string{"http://localhost:3000", "http://localhost:3010"},
		Scheduler: Scheduler{
			Backend:       "memory",
			PollInterval:  time.Second,
			MaxAttempts:   3,
			RetryBackoff:  5 * time.Second,
			SweepInterval: time.Minute,
			SweepGrace:    30 * time.Second,
		},
		Redis: Redis{Addr: "localhost:6379", Prefix: "exams:jobs"},
	}
}

// Load layers defaults, an optional YAML file and the environment, then validates.
// A missing file at path is not an error.
func Load(path string) (Config, error) {
	c := defaults()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			buf, err := os.ReadFile(path)
			if err != nil {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
			if err := yaml.Unmarshal(buf, &c); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&c)
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

func applyEnv(c *Config) {
	c.Mode = Mode(envOr("MODE", string(c.Mode)))
	c.HTTPAddr = envOr("HTTP_ADDR", c.HTTPAddr)
	c.DBDriver = envOr("DB_DRIVER", c.DBDriver)
	c.DBDSN = envOr("DB_DSN", c.DBDSN)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogPretty = envBool("LOG_PRETTY", c.LogPretty)
	c.AuthHMACSecret = envOr("AUTH_HMAC_SECRET", c.AuthHMACSecret)
	c.EnableLocalAuth = envBool("ENABLE_LOCAL_AUTH", c.EnableLocalAuth)
	c.SeedFile = envOr("SEED_FILE", c.SeedFile)
	c.CORSOriginsOnline = csvOr("CORS_ORIGINS_ONLINE", c.CORSOriginsOnline)
	c.CORSOriginsOffline = csvOr("CORS_ORIGINS_OFFLINE", c.CORSOriginsOffline)

	c.Scheduler.Backend = envOr("SCHEDULER_BACKEND", c.Scheduler.Backend)
	c.Scheduler.PollInterval = envDuration("SCHEDULER_POLL_INTERVAL", c.Scheduler.PollInterval)
	c.Scheduler.MaxAttempts = envInt("SCHEDULER_MAX_ATTEMPTS", c.Scheduler.MaxAttempts)
	c.Scheduler.RetryBackoff = envDuration("SCHEDULER_RETRY_BACKOFF", c.Scheduler.RetryBackoff)
	c.Scheduler.SweepInterval = envDuration("SCHEDULER_SWEEP_INTERVAL", c.Scheduler.SweepInterval)
	c.Scheduler.SweepGrace = envDuration("SCHEDULER_SWEEP_GRACE", c.Scheduler.SweepGrace)

	c.Redis.Addr = envOr("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = envOr("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = envInt("REDIS_DB", c.Redis.DB)
	c.Redis.Prefix = envOr("REDIS_PREFIX", c.Redis.Prefix)
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeOffline, ModeOnline:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported db driver %q", c.DBDriver)
	}
	switch c.Scheduler.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis scheduler")
		}
	default:
		return fmt.Errorf("unknown scheduler backend %q", c.Scheduler.Backend)
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler poll interval must be positive")
	}
	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("scheduler max attempts must be at least 1")
	}
	if c.Scheduler.SweepInterval < 0 || c.Scheduler.SweepGrace < 0 {
		return fmt.Errorf("sweep interval and grace must not be negative")
	}
	if c.AuthHMACSecret == "" {
		return fmt.Errorf("auth hmac secret is required")
	}
	if c.Mode == ModeOnline && c.EnableLocalAuth {
		return fmt.Errorf("local auth must be disabled in online mode")
	}
	return nil
}

// CORSOrigins returns the allow-list for the current mode.
func (c Config) CORSOrigins() []string {
	if c.Mode == ModeOnline {
		return c.CORSOriginsOnline
	}
	return c.CORSOriginsOffline
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
func envInt(k string, def int) int {
	n, err := strconv.Atoi(os.Getenv(k))
	if err != nil {
		return def
	}
	return n
}
func envDuration(k string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(k))
	if err != nil {
		return def
	}
	return d
}
func csvOr(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
