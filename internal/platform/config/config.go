package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Security  SecurityConfig  `mapstructure:"security"`
	Webhooks  WebhooksConfig  `mapstructure:"webhooks"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// IsProduction reports whether localhost webhook targets must be rejected.
func (c AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	MaxConnections int    `mapstructure:"max_connections"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type RateLimitConfig struct {
	Window            time.Duration `mapstructure:"window"`
	WebhooksPerMinute int           `mapstructure:"webhooks_per_minute"`
	APIKeysPerMinute  int           `mapstructure:"api_keys_per_minute"`
	// AddressMultiplier caps one client address at this many times the class
	// limit, across every credential it presents.
	AddressMultiplier int `mapstructure:"address_multiplier"`
}

type SecurityConfig struct {
	// EncryptionKey is a base64 encoded 32 byte key used to seal webhook credentials at rest.
	EncryptionKey string `mapstructure:"encryption_key"`
}

type WebhooksConfig struct {
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	MaxBulkIDs    int           `mapstructure:"max_bulk_ids"`
	StatsWindow   int           `mapstructure:"stats_window"`
	LogRetention  time.Duration `mapstructure:"log_retention"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "readiness-webhooks")
	v.SetDefault("app.env", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.url", "file:data/readiness.db")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.url", "")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "readiness")
	v.SetDefault("jwt.access_token_ttl", 15*time.Minute)

	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.webhooks_per_minute", 100)
	v.SetDefault("rate_limit.api_keys_per_minute", 20)
	v.SetDefault("rate_limit.address_multiplier", 5)

	v.SetDefault("security.encryption_key", "")

	v.SetDefault("webhooks.probe_timeout", 5*time.Second)
	v.SetDefault("webhooks.max_bulk_ids", 100)
	v.SetDefault("webhooks.stats_window", 100)
	v.SetDefault("webhooks.log_retention", 30*24*time.Hour)
	v.SetDefault("webhooks.prune_interval", time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "")
}

// Load reads the YAML file at path, then applies environment overrides
// (DATABASE_URL, REDIS_URL, JWT_SECRET, ...). A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
