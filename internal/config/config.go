package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App struct {
		Env string
	} `mapstructure:"app"`

	HTTP struct {
		Addr string
	} `mapstructure:"http"`

	GRPC struct {
		Addr string
	} `mapstructure:"grpc"`

	MySQL struct {
		DSN             string
		MaxOpenConns    int           `mapstructure:"max_open_conns"`
		MaxIdleConns    int           `mapstructure:"max_idle_conns"`
		ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
		Migrate         bool
	} `mapstructure:"mysql"`

	Redis struct {
		Enabled bool
		Addr    string
		TTL     time.Duration
	} `mapstructure:"redis"`

	Allocation struct {
		MaxAttempts int `mapstructure:"max_attempts"`
	} `mapstructure:"allocation"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "prod")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("grpc.addr", ":50051")
	v.SetDefault("mysql.dsn", "root:root@tcp(localhost:3306)/allocation?parseTime=true")
	v.SetDefault("mysql.max_open_conns", 100)
	v.SetDefault("mysql.max_idle_conns", 50)
	v.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("mysql.migrate", true)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("allocation.max_attempts", 3)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("shutdown_timeout", 10*time.Second)
}

// Load reads the config file at path, when given, and applies ALLOC_*
// environment overrides on top (ALLOC_MYSQL_DSN overrides mysql.dsn).
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ALLOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Config) validate() error {
	if c.MySQL.DSN == "" {
		return errors.New("mysql.dsn is required")
	}
	if c.Allocation.MaxAttempts < 1 {
		return fmt.Errorf("allocation.max_attempts must be at least 1, got %d", c.Allocation.MaxAttempts)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}
	return nil
}
