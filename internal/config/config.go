package config

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// insecureSecret is the placeholder shipped in sample configs. Startup
// refuses to run with it.
const insecureSecret = "change-me"

// Config carries the full dispatcher configuration.
type Config struct {
	Server struct {
		Addr string
	}
	DB struct {
		Driver string
		DSN    string
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	Token struct {
		Secret string
		TTL    time.Duration
	}
	Heartbeat struct {
		TTL time.Duration
	}
	Timeout struct {
		Threshold time.Duration
	}
	Reconciler struct {
		HeartbeatPeriod time.Duration
		DrainPeriod     time.Duration
		TimeoutPeriod   time.Duration
	}
	Agent struct {
		DefaultCapacity int
	}
}

var (
	global     *Config
	globalOnce sync.Once
)

// Load reads configuration from the environment (GOATCHAT_ prefix) and
// an optional config file, validates it, and returns it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("goatchat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("db.driver", "mysql")
	v.SetDefault("db.dsn", "goatchat:goatchat@tcp(127.0.0.1:3306)/goatchat?parseTime=true")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("token.secret", "")
	v.SetDefault("token.ttl", 24*time.Hour)
	v.SetDefault("heartbeat.ttl", 60*time.Second)
	v.SetDefault("timeout.threshold", 2*time.Minute)
	v.SetDefault("reconciler.heartbeat_period", 30*time.Second)
	v.SetDefault("reconciler.drain_period", 60*time.Second)
	v.SetDefault("reconciler.timeout_period", 60*time.Second)
	v.SetDefault("agent.default_capacity", 10)

	v.SetConfigName("goatchat")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/goatchat")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}
	cfg.Server.Addr = v.GetString("server.addr")
	cfg.DB.Driver = v.GetString("db.driver")
	cfg.DB.DSN = v.GetString("db.dsn")
	cfg.Redis.Addr = v.GetString("redis.addr")
	cfg.Redis.Password = v.GetString("redis.password")
	cfg.Redis.DB = v.GetInt("redis.db")
	cfg.Token.Secret = v.GetString("token.secret")
	cfg.Token.TTL = v.GetDuration("token.ttl")
	cfg.Heartbeat.TTL = v.GetDuration("heartbeat.ttl")
	cfg.Timeout.Threshold = v.GetDuration("timeout.threshold")
	cfg.Reconciler.HeartbeatPeriod = v.GetDuration("reconciler.heartbeat_period")
	cfg.Reconciler.DrainPeriod = v.GetDuration("reconciler.drain_period")
	cfg.Reconciler.TimeoutPeriod = v.GetDuration("reconciler.timeout_period")
	cfg.Agent.DefaultCapacity = v.GetInt("agent.default_capacity")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the dispatcher must not start with.
func (c *Config) Validate() error {
	if c.Token.Secret == "" || c.Token.Secret == insecureSecret {
		return errors.New("token.secret is unset or still the default; refusing to start")
	}
	if c.Heartbeat.TTL <= 0 {
		return errors.New("heartbeat.ttl must be positive")
	}
	if c.Timeout.Threshold <= 0 {
		return errors.New("timeout.threshold must be positive")
	}
	return nil
}

// Get returns the process-wide configuration, loading it on first use.
// Load errors surface as a nil config.
func Get() *Config {
	globalOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			return
		}
		global = cfg
	})
	return global
}

// Set overrides the process-wide configuration. Used by main after an
// explicit Load.
func Set(cfg *Config) {
	globalOnce.Do(func() {})
	global = cfg
}
