package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Limiter     LimiterConfig
	Persistence PersistenceConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	HTTPPort    int           `mapstructure:"http_port"`
	MetricsPort int           `mapstructure:"metrics_port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type LimiterConfig struct {
	MaxExpires    time.Duration `mapstructure:"max_expires"`
	BanWindow     time.Duration `mapstructure:"ban_window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Lookahead     int           `mapstructure:"lookahead"`
	EraHistory    int           `mapstructure:"era_history"`
}

type PersistenceConfig struct {
	Driver string `mapstructure:"driver"` // none, redis or postgres
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	Password    string   `mapstructure:"password"`
	DB          int      `mapstructure:"db"`
	PoolSize    int      `mapstructure:"pool_size"`
	ClusterMode bool     `mapstructure:"cluster_mode"`
	KeyPrefix   string   `mapstructure:"key_prefix"`
	Events      bool     `mapstructure:"events"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"` // empty disables operator auth
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

const (
	DriverNone     = "none"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/startlimit/")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("STARTLIMIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.metrics_port", 9091)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("limiter.max_expires", "24h")
	viper.SetDefault("limiter.ban_window", "10s")
	viper.SetDefault("limiter.sweep_interval", "5s")
	viper.SetDefault("limiter.lookahead", 100)
	viper.SetDefault("limiter.era_history", 10)
	viper.SetDefault("persistence.driver", DriverNone)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("redis.addresses", []string{"localhost:6379"})
	viper.SetDefault("redis.pool_size", 100)
	viper.SetDefault("redis.key_prefix", "sl:")
	viper.SetDefault("redis.events", false)
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.token_ttl", "24h")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Persistence.Driver {
	case DriverNone, DriverRedis, DriverPostgres:
	default:
		return fmt.Errorf("unknown persistence driver %q", c.Persistence.Driver)
	}
	if c.Limiter.MaxExpires <= 0 {
		return fmt.Errorf("limiter.max_expires must be positive")
	}
	if c.Limiter.BanWindow < 0 {
		return fmt.Errorf("limiter.ban_window must not be negative")
	}
	if c.Limiter.Lookahead < 0 {
		return fmt.Errorf("limiter.lookahead must not be negative")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
