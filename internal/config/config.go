package config

import (
	"time"

	pkgconfig "github.com/pulsefeed/social-graph-service/pkg/config"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Bridge      BridgeConfig
	Kafka       KafkaConfig
	Reconciler  ReconcilerConfig
	Coordinator CoordinatorConfig
	Auth        AuthConfig
	Log         LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	FilePath        string `mapstructure:"file_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Address   string        `mapstructure:"address"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	StatusTTL time.Duration `mapstructure:"status_ttl"`
}

// BridgeConfig selects the notification bridge transport.
type BridgeConfig struct {
	Driver  string `mapstructure:"driver"` // redis, kafka, none
	Channel string `mapstructure:"channel"`
	Topic   string `mapstructure:"topic"`
}

// KafkaConfig configures the CDC consumer over relationship_records.
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

type ReconcilerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	SweepPageSize int           `mapstructure:"sweep_page_size"`
	TopN          int           `mapstructure:"top_n"`
}

type CoordinatorConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8096)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "./data/social-graph.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.status_ttl", "30s")
	v.SetDefault("bridge.driver", "redis")
	v.SetDefault("bridge.channel", "social:relationship:events")
	v.SetDefault("bridge.topic", "relationship-events")
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "dbserver1.public.relationship_records")
	v.SetDefault("kafka.group_id", "social-graph-service")
	v.SetDefault("reconciler.interval", "10s")
	v.SetDefault("reconciler.sweep_interval", "10m")
	v.SetDefault("reconciler.batch_size", 100)
	v.SetDefault("reconciler.sweep_page_size", 200)
	v.SetDefault("reconciler.top_n", 100)
	v.SetDefault("coordinator.max_retries", 3)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("log.level", "info")

	// Bind environment variables
	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")
	v.BindEnv("database.file_path", "DB_FILE_PATH")
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("redis.status_ttl", "REDIS_STATUS_TTL")
	v.BindEnv("bridge.driver", "BRIDGE_DRIVER")
	v.BindEnv("bridge.channel", "BRIDGE_CHANNEL")
	v.BindEnv("bridge.topic", "BRIDGE_TOPIC")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("kafka.group_id", "KAFKA_GROUP_ID")
	v.BindEnv("reconciler.interval", "RECONCILER_INTERVAL")
	v.BindEnv("reconciler.sweep_interval", "RECONCILER_SWEEP_INTERVAL")
	v.BindEnv("reconciler.batch_size", "RECONCILER_BATCH_SIZE")
	v.BindEnv("reconciler.top_n", "RECONCILER_TOP_N")
	v.BindEnv("coordinator.max_retries", "COORDINATOR_MAX_RETRIES")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("auth.issuer", "JWT_ISSUER")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
