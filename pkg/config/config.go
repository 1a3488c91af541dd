package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/modelbench-go/pkg/logger"
)

// DevJWTSecret is the development sentinel. Production deployments must
// supply MODELBENCH_API_JWT_SECRET; booting in production mode with the
// sentinel is refused.
const DevJWTSecret = "development-secret-change-in-production"

type Config struct {
	Environment string            `mapstructure:"environment"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	API         APIConfig         `mapstructure:"api"`
	Plugins     PluginsConfig     `mapstructure:"plugins"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Logger      logger.Config     `mapstructure:"logger"`
}

type CoordinatorConfig struct {
	BindAddress        string `mapstructure:"bind_address"`
	HeartbeatInterval  int    `mapstructure:"heartbeat_interval"`
	HealthCheckTimeout int    `mapstructure:"health_check_timeout"`
	UnhealthyThreshold int    `mapstructure:"unhealthy_threshold"`
	MaxRetries         int    `mapstructure:"max_retries"`
	MaxCompletedJobs   int    `mapstructure:"max_completed_jobs"`
}

func (c CoordinatorConfig) HeartbeatIntervalDuration() time.Duration {
	return time.Duration(c.HeartbeatInterval) * time.Second
}

func (c CoordinatorConfig) UnhealthyThresholdDuration() time.Duration {
	return time.Duration(c.UnhealthyThreshold) * time.Second
}

type APIConfig struct {
	BindAddress     string   `mapstructure:"bind_address"`
	EnableREST      bool     `mapstructure:"enable_rest"`
	EnableGraphQL   bool     `mapstructure:"enable_graphql"`
	EnableWebSocket bool     `mapstructure:"enable_websocket"`
	EnableSwagger   bool     `mapstructure:"enable_swagger"`
	CORSOrigins     []string `mapstructure:"cors_origins"`
	JWTSecret       string   `mapstructure:"jwt_secret"`
	JWTExpiration   int      `mapstructure:"jwt_expiration"`
	OperatorUser    string   `mapstructure:"operator_user"`
	OperatorHash    string   `mapstructure:"operator_hash"`
	RateLimitRPS    int      `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int      `mapstructure:"rate_limit_burst"`
	WSChannelDepth  int      `mapstructure:"ws_channel_depth"`
}

type PluginsConfig struct {
	MaxMemoryBytes      int64  `mapstructure:"max_memory_bytes"`
	MaxExecutionTimeMs  int64  `mapstructure:"max_execution_time_ms"`
	MaxInstructions     int64  `mapstructure:"max_instructions"`
	CacheDir            string `mapstructure:"cache_dir"`
	MaxConcurrent       int    `mapstructure:"max_concurrent"`
	EnableFilesystem    bool   `mapstructure:"enable_filesystem"`
	EnableNetwork       bool   `mapstructure:"enable_network"`
	EnableSystemTime    bool   `mapstructure:"enable_system_time"`
}

type WorkerConfig struct {
	CoordinatorURL string   `mapstructure:"coordinator_url"`
	WorkerID       string   `mapstructure:"worker_id"`
	Address        string   `mapstructure:"address"`
	Capacity       int      `mapstructure:"capacity"`
	Tags           []string `mapstructure:"tags"`
	PollInterval   int      `mapstructure:"poll_interval"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

func (c *DatabaseConfig) DSN() string {
	if c.Driver == "sqlite" {
		return c.Name
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	JaegerURL    string  `mapstructure:"jaeger_url"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

func Load(serviceName string) (*Config, error) {
	viper.SetConfigName(serviceName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/modelbench")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix("MODELBENCH")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations that must not reach production.
func (c *Config) Validate() error {
	if c.Environment == "production" && c.API.JWTSecret == DevJWTSecret {
		return errors.New("refusing to start: api.jwt_secret is the development sentinel; set MODELBENCH_API_JWT_SECRET")
	}
	if c.Coordinator.MaxRetries < 0 {
		return errors.New("coordinator.max_retries must be >= 0")
	}
	if c.Worker.Capacity < 1 {
		return errors.New("worker.capacity must be >= 1")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")

	viper.SetDefault("coordinator.bind_address", "0.0.0.0:9400")
	viper.SetDefault("coordinator.heartbeat_interval", 10)
	viper.SetDefault("coordinator.health_check_timeout", 30)
	viper.SetDefault("coordinator.unhealthy_threshold", 30)
	viper.SetDefault("coordinator.max_retries", 3)
	viper.SetDefault("coordinator.max_completed_jobs", 1000)

	viper.SetDefault("api.bind_address", "0.0.0.0:3000")
	viper.SetDefault("api.enable_rest", true)
	viper.SetDefault("api.enable_graphql", true)
	viper.SetDefault("api.enable_websocket", true)
	viper.SetDefault("api.enable_swagger", true)
	viper.SetDefault("api.cors_origins", []string{"*"})
	viper.SetDefault("api.jwt_secret", DevJWTSecret)
	viper.SetDefault("api.jwt_expiration", 3600)
	viper.SetDefault("api.operator_user", "operator")
	viper.SetDefault("api.rate_limit_rps", 100)
	viper.SetDefault("api.rate_limit_burst", 50)
	viper.SetDefault("api.ws_channel_depth", 1000)

	viper.SetDefault("plugins.max_memory_bytes", 128*1024*1024)
	viper.SetDefault("plugins.max_execution_time_ms", 60_000)
	viper.SetDefault("plugins.max_concurrent", 100)
	viper.SetDefault("plugins.cache_dir", "")

	viper.SetDefault("worker.coordinator_url", "http://localhost:3000")
	viper.SetDefault("worker.capacity", 4)
	viper.SetDefault("worker.poll_interval", 5)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")

	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "modelbench.events")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.jaeger_url", "http://localhost:14268/api/traces")
	viper.SetDefault("telemetry.service_name", "modelbench")
	viper.SetDefault("telemetry.sampling_rate", 1.0)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "json")
	viper.SetDefault("logger.output", "stdout")
	viper.SetDefault("logger.add_caller", true)
}
