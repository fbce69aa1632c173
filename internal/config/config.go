package config

import (
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/ericfitz/sketchroom/internal/envutil"
	"github.com/ericfitz/sketchroom/internal/slogging"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Rooms     RoomsConfig     `yaml:"rooms"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `yaml:"port" env:"SERVER_PORT"`
	Interface       string        `yaml:"interface" env:"SERVER_INTERFACE"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"SERVER_ALLOWED_ORIGINS"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWT              JWTConfig `yaml:"jwt"`
	BlacklistEnabled bool      `yaml:"blacklist_enabled" env:"AUTH_BLACKLIST_ENABLED"`
}

// JWTConfig holds JWT verification configuration. Tokens are issued elsewhere;
// this service only verifies them.
type JWTConfig struct {
	Secret        string `yaml:"secret" env:"JWT_SECRET"`
	SigningMethod string `yaml:"signing_method" env:"JWT_SIGNING_METHOD"`
	PublicKeyPath string `yaml:"public_key_path" env:"JWT_PUBLIC_KEY_PATH"`
	PublicKey     string `yaml:"public_key" env:"JWT_PUBLIC_KEY"`
	Issuer        string `yaml:"issuer" env:"JWT_ISSUER"`
	LeewaySeconds int    `yaml:"leeway_seconds" env:"JWT_LEEWAY_SECONDS"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"REDIS_ENABLED"`
	Host     string `yaml:"host" env:"REDIS_HOST"`
	Port     string `yaml:"port" env:"REDIS_PORT"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// DatabaseConfig holds the room-metadata database configuration
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled" env:"DATABASE_ENABLED"`
	Type     string `yaml:"type" env:"DATABASE_TYPE"`
	Host     string `yaml:"host" env:"DATABASE_HOST"`
	Port     string `yaml:"port" env:"DATABASE_PORT"`
	User     string `yaml:"user" env:"DATABASE_USER"`
	Password string `yaml:"password" env:"DATABASE_PASSWORD"`
	Name     string `yaml:"name" env:"DATABASE_NAME"`
	SSLMode  string `yaml:"sslmode" env:"DATABASE_SSL_MODE"`
	Path     string `yaml:"path" env:"DATABASE_PATH"`
}

// WebSocketConfig holds per-connection transport limits
type WebSocketConfig struct {
	SendQueueSize   int           `yaml:"send_queue_size" env:"WEBSOCKET_SEND_QUEUE_SIZE"`
	MaxMessageBytes int64         `yaml:"max_message_bytes" env:"WEBSOCKET_MAX_MESSAGE_BYTES"`
	PingInterval    time.Duration `yaml:"ping_interval" env:"WEBSOCKET_PING_INTERVAL"`
	PongWait        time.Duration `yaml:"pong_wait" env:"WEBSOCKET_PONG_WAIT"`
	WriteWait       time.Duration `yaml:"write_wait" env:"WEBSOCKET_WRITE_WAIT"`
}

// RoomsConfig holds room lifecycle policy
type RoomsConfig struct {
	AutoCreate bool `yaml:"auto_create" env:"ROOMS_AUTO_CREATE"`
	// Seed lists rooms provisioned in the room database at startup
	Seed []string `yaml:"seed" env:"ROOMS_SEED"`
}

// SnapshotConfig holds snapshot cache configuration
type SnapshotConfig struct {
	Backend         string        `yaml:"backend" env:"SNAPSHOT_BACKEND"`
	Retention       time.Duration `yaml:"retention" env:"SNAPSHOT_RETENTION"`
	MaxBytes        int           `yaml:"max_bytes" env:"SNAPSHOT_MAX_BYTES"`
	JanitorInterval time.Duration `yaml:"janitor_interval" env:"SNAPSHOT_JANITOR_INTERVAL"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level                string `yaml:"level" env:"LOGGING_LEVEL"`
	IsDev                bool   `yaml:"is_dev" env:"LOGGING_IS_DEV"`
	LogDir               string `yaml:"log_dir" env:"LOGGING_LOG_DIR"`
	MaxAgeDays           int    `yaml:"max_age_days" env:"LOGGING_MAX_AGE_DAYS"`
	MaxSizeMB            int    `yaml:"max_size_mb" env:"LOGGING_MAX_SIZE_MB"`
	MaxBackups           int    `yaml:"max_backups" env:"LOGGING_MAX_BACKUPS"`
	AlsoLogToConsole     bool   `yaml:"also_log_to_console" env:"LOGGING_ALSO_LOG_TO_CONSOLE"`
	LogWebSocketMessages bool   `yaml:"log_websocket_messages" env:"LOGGING_LOG_WEBSOCKET_MESSAGES"`
}

// TelemetryConfig holds metrics and tracing configuration
type TelemetryConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled" env:"TELEMETRY_METRICS_ENABLED"`
	TracingStdout  bool   `yaml:"tracing_stdout" env:"TELEMETRY_TRACING_STDOUT"`
	ServiceName    string `yaml:"service_name" env:"TELEMETRY_SERVICE_NAME"`
}

// Load loads configuration from YAML file with environment variable overrides
func Load(configFile string) (*Config, error) {
	config := getDefaultConfig()

	if configFile != "" {
		if err := loadFromYAML(config, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config from YAML: %w", err)
		}
	}

	if err := overrideWithEnv(config); err != nil {
		return nil, fmt.Errorf("failed to override with environment variables: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// getDefaultConfig returns a configuration with default values
func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Interface:       "0.0.0.0",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				SigningMethod: "HS256",
				LeewaySeconds: 5,
			},
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: "6379",
		},
		Database: DatabaseConfig{
			Type:    "postgres",
			Host:    "localhost",
			Port:    "5432",
			User:    "postgres",
			Name:    "sketchroom",
			SSLMode: "disable",
		},
		WebSocket: WebSocketConfig{
			SendQueueSize:   256,
			MaxMessageBytes: 12 << 20,
			PingInterval:    30 * time.Second,
			PongWait:        60 * time.Second,
			WriteWait:       10 * time.Second,
		},
		Rooms: RoomsConfig{
			AutoCreate: true,
		},
		Snapshot: SnapshotConfig{
			Backend:         "memory",
			Retention:       24 * time.Hour,
			MaxBytes:        8 << 20,
			JanitorInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:            "info",
			LogDir:           "logs",
			MaxAgeDays:       7,
			MaxSizeMB:        100,
			MaxBackups:       10,
			AlsoLogToConsole: true,
		},
		Telemetry: TelemetryConfig{
			MetricsEnabled: true,
			ServiceName:    "sketchroom",
		},
	}
}

// loadFromYAML loads configuration from a YAML file
func loadFromYAML(config *Config, filename string) error {
	data, err := os.ReadFile(filename) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// overrideWithEnv overrides configuration values with environment variables
func overrideWithEnv(config *Config) error {
	return overrideStructWithEnv(reflect.ValueOf(config).Elem())
}

// overrideStructWithEnv recursively overrides struct fields with environment variables
func overrideStructWithEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := overrideStructWithEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := envutil.Get(envTag, "")
		if envValue == "" {
			continue
		}

		if err := setFieldFromString(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

// setFieldFromString sets a struct field value from a string based on the field type
func setFieldFromString(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool value: %s", value)
		}
		field.SetBool(boolVal)
	case reflect.Int:
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid int value: %s", value)
		}
		field.SetInt(int64(intVal))
	case reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration value: %s", value)
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid int64 value: %s", value)
			}
			field.SetInt(intVal)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		slice := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				slice = append(slice, trimmed)
			}
		}
		field.Set(reflect.ValueOf(slice))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Auth.JWT.SigningMethod {
	case "HS256":
		if c.Auth.JWT.Secret == "" {
			return fmt.Errorf("jwt secret is required for HS256")
		}
	case "RS256", "ES256":
		if c.Auth.JWT.PublicKey == "" && c.Auth.JWT.PublicKeyPath == "" {
			return fmt.Errorf("jwt public key is required for %s", c.Auth.JWT.SigningMethod)
		}
	default:
		return fmt.Errorf("unsupported jwt signing method: %s", c.Auth.JWT.SigningMethod)
	}

	if c.Auth.BlacklistEnabled && !c.Redis.Enabled {
		return fmt.Errorf("token blacklist requires redis to be enabled")
	}

	if c.Redis.Enabled {
		if c.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
		if c.Redis.Port == "" {
			return fmt.Errorf("redis port is required")
		}
	}

	if c.Database.Enabled {
		switch c.Database.Type {
		case "postgres", "mysql":
			if c.Database.Host == "" || c.Database.Name == "" {
				return fmt.Errorf("database host and name are required for %s", c.Database.Type)
			}
		case "sqlite":
			if c.Database.Path == "" {
				return fmt.Errorf("database path is required for sqlite")
			}
		default:
			return fmt.Errorf("unsupported database type: %s", c.Database.Type)
		}
	}

	if !c.Rooms.AutoCreate && !c.Database.Enabled {
		return fmt.Errorf("rooms.auto_create=false requires a room database")
	}

	if c.WebSocket.SendQueueSize < 1 {
		return fmt.Errorf("websocket send queue size must be at least 1")
	}
	if c.WebSocket.PongWait <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket pong wait must exceed the ping interval")
	}

	switch c.Snapshot.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("snapshot backend redis requires redis to be enabled")
		}
	default:
		return fmt.Errorf("unsupported snapshot backend: %s", c.Snapshot.Backend)
	}
	if c.Snapshot.JanitorInterval > 0 && c.Snapshot.Retention > 0 && c.Snapshot.JanitorInterval >= c.Snapshot.Retention {
		return fmt.Errorf("snapshot janitor interval must be shorter than retention")
	}
	if c.Snapshot.MaxBytes <= 0 {
		return fmt.Errorf("snapshot max bytes must be greater than 0")
	}
	// Blobs travel base64-encoded inside a JSON frame
	if int64(c.Snapshot.MaxBytes)*4/3+1024 > c.WebSocket.MaxMessageBytes {
		return fmt.Errorf("websocket message limit is too small for snapshot max bytes")
	}

	return nil
}

// IsTestMode returns true if running under 'go test'
func (c *Config) IsTestMode() bool {
	return flag.Lookup("test.v") != nil
}

// GetLogLevel returns the parsed log level
func (c *Config) GetLogLevel() slogging.LogLevel {
	return slogging.ParseLogLevel(c.Logging.Level)
}

// ListenAddress returns the host:port the HTTP server binds to
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%s", c.Server.Interface, c.Server.Port)
}

// RedisAddress returns the host:port of the Redis server
func (c *Config) RedisAddress() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

// GetJWTLeeway returns the clock skew tolerance for token validation
func (c *Config) GetJWTLeeway() time.Duration {
	return time.Duration(c.Auth.JWT.LeewaySeconds) * time.Second
}
