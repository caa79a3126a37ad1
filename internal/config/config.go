package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverMemory = "memory"
	DriverMongo  = "mongo"
	DriverRedis  = "redis"
)

type AppCfg struct {
	Env                    string `mapstructure:"env"`
	Port                   int    `mapstructure:"port"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

func (a AppCfg) PortString() string { return fmt.Sprintf("%d", a.Port) }

type StoreCfg struct {
	Driver string `mapstructure:"driver"`
}

type MongoCfg struct {
	URI                   string `mapstructure:"uri"`
	DB                    string `mapstructure:"db"`
	UsersCollection       string `mapstructure:"users_collection"`
	MessagesCollection    string `mapstructure:"messages_collection"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
}

type RedisCfg struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaCfg struct {
	Brokers          []string `mapstructure:"brokers"`
	TopicMessageSent string   `mapstructure:"topic_message_sent"`
}

func (k KafkaCfg) Enabled() bool { return len(k.Brokers) > 0 && k.TopicMessageSent != "" }

type JwtCfg struct {
	Alg           string `mapstructure:"alg"`
	PublicKeyPath string `mapstructure:"public_key_path"`
	HSSecret      string `mapstructure:"hs_secret"`
}

type WSCfg struct {
	PingIntervalSeconds int   `mapstructure:"ping_interval_seconds"`
	RateLimitPerSec     int   `mapstructure:"rate_limit_per_sec"`
	MaxMessageSizeBytes int64 `mapstructure:"max_message_size_bytes"`
}

type LogCfg struct {
	Development bool `mapstructure:"development"`
}

type Config struct {
	App   AppCfg   `mapstructure:"app"`
	Store StoreCfg `mapstructure:"store"`
	Mongo MongoCfg `mapstructure:"mongo"`
	Redis RedisCfg `mapstructure:"redis"`
	Kafka KafkaCfg `mapstructure:"kafka"`
	JWT   JwtCfg   `mapstructure:"jwt"`
	WS    WSCfg    `mapstructure:"ws"`
	Log   LogCfg   `mapstructure:"log"`

	// Derived
	ShutdownTimeout time.Duration `mapstructure:"-"`
	ConnectTimeout  time.Duration `mapstructure:"-"`
	PingInterval    time.Duration `mapstructure:"-"`
}

// Load reads the YAML file at path (optional when empty) and applies APP_ environment
// overrides, e.g. APP_MONGO_URI or APP_STORE_DRIVER.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.ShutdownTimeout = time.Duration(cfg.App.ShutdownTimeoutSeconds) * time.Second
	cfg.ConnectTimeout = time.Duration(cfg.Mongo.ConnectTimeoutSeconds) * time.Second
	cfg.PingInterval = time.Duration(cfg.WS.PingIntervalSeconds) * time.Second

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8086)
	v.SetDefault("app.shutdown_timeout_seconds", 10)
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.db", "")
	v.SetDefault("mongo.users_collection", "users")
	v.SetDefault("mongo.messages_collection", "messages")
	v.SetDefault("mongo.connect_timeout_seconds", 10)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "chat")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_message_sent", "")
	v.SetDefault("jwt.alg", "HS256")
	v.SetDefault("jwt.public_key_path", "")
	v.SetDefault("jwt.hs_secret", "")
	v.SetDefault("ws.ping_interval_seconds", 25)
	v.SetDefault("ws.rate_limit_per_sec", 20)
	v.SetDefault("ws.max_message_size_bytes", 65536)
	v.SetDefault("log.development", false)
}

func validate(cfg *Config) error {
	if cfg.App.Port <= 0 || cfg.App.Port > 65535 {
		return fmt.Errorf("invalid app.port: %d", cfg.App.Port)
	}

	switch cfg.Store.Driver {
	case DriverMemory:
	case DriverMongo:
		if cfg.Mongo.URI == "" {
			return errors.New("mongo.uri missing")
		}
		if cfg.Mongo.DB == "" {
			return errors.New("mongo.db missing")
		}
	case DriverRedis:
		if !strings.Contains(cfg.Redis.Addr, ":") {
			return fmt.Errorf("invalid redis.addr: %s (must be host:port)", cfg.Redis.Addr)
		}
	default:
		return fmt.Errorf("invalid store.driver %q (use memory, mongo or redis)", cfg.Store.Driver)
	}

	switch strings.ToUpper(cfg.JWT.Alg) {
	case "RS256":
		if cfg.JWT.PublicKeyPath == "" {
			return errors.New("jwt.public_key_path required for RS256")
		}
	case "HS256":
		if cfg.JWT.HSSecret == "" {
			return errors.New("jwt.hs_secret required for HS256")
		}
	default:
		return errors.New("invalid jwt.alg (use RS256 or HS256)")
	}
	return nil
}
