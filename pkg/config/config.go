package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		// RateLimit is per client IP. Zero rps disables it.
		RateLimit struct {
			RPS   float64 `yaml:"rps" validate:"gte=0"`
			Burst int     `yaml:"burst" default:"20" validate:"gte=1"`
		} `yaml:"rate_limit"`
		// CORS origins may be exact, "*" or "*.example.com". An empty list disables CORS.
		CORS struct {
			AllowOrigins []string      `yaml:"allow_origins" default:"[\"*\"]"`
			MaxAge       time.Duration `yaml:"max_age" default:"10m" validate:"gte=0"`
		} `yaml:"cors"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Logging struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error fatal"`
		Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output     string `yaml:"output" default:"stdout"`
		TimeFormat string `yaml:"time_format"`
		Collector  struct {
			Enabled        bool          `yaml:"enabled"`
			Topic          string        `yaml:"topic" default:"marketpulse.logs"`
			Interval       time.Duration `yaml:"interval" default:"30s"`
			CountThreshold int           `yaml:"count_threshold" default:"100"`
			CollectWarn    bool          `yaml:"collect_warn"`
		} `yaml:"collector"`
	} `yaml:"logging"`
	Backend struct {
		// Type selects where transition events go: kafka, clickhouse, both or none.
		Type string `yaml:"type" default:"none" validate:"oneof=kafka clickhouse both none"`
	} `yaml:"backend"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		EventsTopic  string   `yaml:"events_topic" default:"marketpulse.transitions"`
		ConfigTopic  string   `yaml:"config_topic"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"1"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"marketpulse"`
			Workers    int           `yaml:"workers" default:"1"`
			BufferSize int           `yaml:"buffer_size" default:"10"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"1048576"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"6379"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		Prefix       string        `yaml:"prefix" default:"marketpulse"`
		PoolSize     int           `yaml:"pool_size" default:"10"`
		MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
		PoolTimeout  time.Duration `yaml:"pool_timeout" default:"30s"`
	} `yaml:"redis"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"marketpulse"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		Table            string        `yaml:"table" default:"market_transitions"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Monitor struct {
		AutoStart         bool          `yaml:"auto_start" default:"true"`
		MarketsFile       string        `yaml:"markets_file" default:"config/markets.yaml" validate:"required"`
		ReconcileInterval time.Duration `yaml:"reconcile_interval" default:"1m"`
		AdvisoryWindow    time.Duration `yaml:"advisory_window" default:"15m"`
		MaxScanDays       int           `yaml:"max_scan_days" default:"14" validate:"gte=1,lte=366"`
		RetryDelay        time.Duration `yaml:"retry_delay" default:"1m"`
		IOTimeout         time.Duration `yaml:"io_timeout" default:"5s"`
		OutboxLimit       int           `yaml:"outbox_limit" default:"64" validate:"gte=1"`
		Parallelism       int           `yaml:"parallelism" default:"8" validate:"gte=1"`
		InstanceLock      bool          `yaml:"instance_lock"`
		Retry             struct {
			Attempts int           `yaml:"attempts" default:"3" validate:"gte=1"`
			Backoff  time.Duration `yaml:"backoff" default:"200ms"`
		} `yaml:"retry"`
	} `yaml:"monitor"`
	// Sessions overrides the default ASIAN/EUROPEAN/AMERICAN buckets.
	Sessions []SessionConfig `yaml:"sessions" validate:"dive"`
}

type SessionConfig struct {
	Name      string   `yaml:"name" validate:"required"`
	StartHour int      `yaml:"start_hour" validate:"gte=0,lte=23"`
	EndHour   int      `yaml:"end_hour" validate:"gte=0,lte=24"`
	Markets   []string `yaml:"markets"`
	Regions   []string `yaml:"regions"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads .env if present, then config from YAML, then applies
// environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("MONITOR_AUTOSTART"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MONITOR_AUTOSTART: %w", err)
		}
		c.Monitor.AutoStart = b
	}
	if v := getenv("BACKEND_TYPE"); v != "" {
		c.Backend.Type = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
		c.Redis.Enabled = true
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup(getenv, "CORS_ALLOW_ORIGINS"); ok {
		c.Server.CORS.AllowOrigins = splitList(v)
	}
	if v := getenv("SERVER_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT: %w", err)
		}
		c.Server.Port = p
	}
	return nil
}

// lookup treats "-" as an explicit empty value, so a list can be cleared
// from the environment.
func lookup(getenv func(string) string, key string) (string, bool) {
	v := getenv(key)
	switch v {
	case "":
		return "", false
	case "-":
		return "", true
	}
	return v, true
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	switch c.Backend.Type {
	case "kafka", "both":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required for backend %q", c.Backend.Type)
		}
	}
	switch c.Backend.Type {
	case "clickhouse", "both":
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host is required for backend %q", c.Backend.Type)
		}
	}
	if c.Kafka.ConfigTopic != "" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka.config_topic is set")
	}
	if c.Logging.Collector.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when logging.collector is enabled")
	}
	if c.Monitor.InstanceLock && !c.Redis.Enabled {
		return fmt.Errorf("monitor.instance_lock requires redis.enabled")
	}
	return nil
}
