package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server struct {
		Port            string
		Env             string
		ShutdownTimeout time.Duration
		GRPCPort        string
	}

	Database struct {
		Driver         string // postgres or sqlite
		Host           string
		Port           string
		User           string
		Password       string
		Name           string
		SSLMode        string
		Path           string // sqlite file, ":memory:" allowed
		MaxConns       int
		ConnectRetries int
		RetryDelay     time.Duration
	}

	Redis struct {
		Enabled   bool
		Addr      string
		Password  string
		DB        int
		KeyPrefix string
	}

	// Room controls the per-chat real-time hub
	Room struct {
		IdleTimeout    time.Duration
		StoreTimeout   time.Duration
		WriteWait      time.Duration
		PongWait       time.Duration
		PingPeriod     time.Duration
		MaxMessageSize int64
		SendQueueSize  int
	}

	Search struct {
		URL            string
		APIKey         string
		Timeout        time.Duration
		MaxAttempts    int
		InitialBackoff time.Duration
		MaxBackoff     time.Duration
	}

	Assistant struct {
		Enabled      bool
		DefaultModel string
		Timeout      time.Duration
	}

	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		JWTSecret      string
	}

	Logging struct {
		Level  string
		Format string
		File   string
	}

	Observability struct {
		ServiceName    string
		TracingEnabled bool
		MetricsEnabled bool
	}

	Vault struct {
		Enabled     bool
		Address     string
		Token       string
		Namespace   string
		Mount       string
		SecretsPath string
	}

	OpenAPI struct {
		Enabled bool
	}
}

// IsProduction reports whether the service runs with production settings
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

var defaults = map[string]any{
	"server.port":             "8081",
	"server.env":              "development",
	"server.shutdown_timeout": "10s",
	"server.grpc_port":        "9094",

	"database.driver":          "postgres",
	"database.host":            "localhost",
	"database.port":            "5432",
	"database.user":            "postgres",
	"database.password":        "postgres",
	"database.name":            "chat_agent",
	"database.sslmode":         "disable",
	"database.path":            "chat_agent.db",
	"database.max_conns":       20,
	"database.connect_retries": 5,
	"database.retry_delay":     "5s",

	"redis.enabled":    false,
	"redis.addr":       "localhost:6379",
	"redis.password":   "",
	"redis.db":         0,
	"redis.key_prefix": "chat-agent",

	"room.idle_timeout":     "1h",
	"room.store_timeout":    "10s",
	"room.write_wait":       "10s",
	"room.pong_wait":        "60s",
	"room.ping_period":      "54s",
	"room.max_message_size": 512 * 1024,
	"room.send_queue_size":  256,

	"search.url":             "",
	"search.api_key":         "",
	"search.timeout":         "60s",
	"search.max_attempts":    3,
	"search.initial_backoff": "1s",
	"search.max_backoff":     "10s",

	"assistant.enabled":       false,
	"assistant.default_model": "sonar",
	"assistant.timeout":       "90s",

	"security.rate_limit":       5,
	"security.rate_limit_burst": 10,
	"security.allowed_origins":  "*",
	"security.jwt_secret":       "",

	"logging.level":  "info",
	"logging.format": "json",
	"logging.file":   "",

	"observability.service_name":    "chat-agent",
	"observability.tracing_enabled": false,
	"observability.metrics_enabled": true,

	"vault.enabled":      false,
	"vault.address":      "",
	"vault.token":        "",
	"vault.namespace":    "",
	"vault.mount":        "secret",
	"vault.secrets_path": "chat-agent",

	"openapi.enabled": true,
}

// Legacy variable names that do not follow the SECTION_KEY convention.
var envAliases = map[string]string{
	"server.port":         "PORT",
	"server.env":          "APP_ENV",
	"database.sslmode":    "DB_SSL_MODE",
	"database.host":       "DB_HOST",
	"database.port":       "DB_PORT",
	"database.user":       "DB_USER",
	"database.password":   "DB_PASSWORD",
	"database.name":       "DB_NAME",
	"database.driver":     "DB_DRIVER",
	"database.path":       "DB_PATH",
	"database.max_conns":  "DB_MAX_CONNS",
	"redis.addr":          "REDIS_URL",
	"security.jwt_secret": "JWT_SECRET",
	"vault.address":       "VAULT_ADDR",
	"vault.token":         "VAULT_TOKEN",
	"logging.level":       "LOG_LEVEL",
	"logging.format":      "LOG_FORMAT",
	"logging.file":        "LOG_FILE",
}

// Load resolves configuration from defaults, an optional config.yaml file,
// a .env file and the process environment, in increasing precedence.
func Load(configPaths ...string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key, env := range envAliases {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Server.Port = v.GetString("server.port")
	cfg.Server.Env = v.GetString("server.env")
	cfg.Server.ShutdownTimeout = v.GetDuration("server.shutdown_timeout")
	cfg.Server.GRPCPort = v.GetString("server.grpc_port")

	cfg.Database.Driver = v.GetString("database.driver")
	cfg.Database.Host = v.GetString("database.host")
	cfg.Database.Port = v.GetString("database.port")
	cfg.Database.User = v.GetString("database.user")
	cfg.Database.Password = v.GetString("database.password")
	cfg.Database.Name = v.GetString("database.name")
	cfg.Database.SSLMode = v.GetString("database.sslmode")
	cfg.Database.Path = v.GetString("database.path")
	cfg.Database.MaxConns = v.GetInt("database.max_conns")
	cfg.Database.ConnectRetries = v.GetInt("database.connect_retries")
	cfg.Database.RetryDelay = v.GetDuration("database.retry_delay")

	cfg.Redis.Enabled = v.GetBool("redis.enabled")
	cfg.Redis.Addr = v.GetString("redis.addr")
	cfg.Redis.Password = v.GetString("redis.password")
	cfg.Redis.DB = v.GetInt("redis.db")
	cfg.Redis.KeyPrefix = v.GetString("redis.key_prefix")

	cfg.Room.IdleTimeout = v.GetDuration("room.idle_timeout")
	cfg.Room.StoreTimeout = v.GetDuration("room.store_timeout")
	cfg.Room.WriteWait = v.GetDuration("room.write_wait")
	cfg.Room.PongWait = v.GetDuration("room.pong_wait")
	cfg.Room.PingPeriod = v.GetDuration("room.ping_period")
	cfg.Room.MaxMessageSize = v.GetInt64("room.max_message_size")
	cfg.Room.SendQueueSize = v.GetInt("room.send_queue_size")

	cfg.Search.URL = v.GetString("search.url")
	cfg.Search.APIKey = v.GetString("search.api_key")
	cfg.Search.Timeout = v.GetDuration("search.timeout")
	cfg.Search.MaxAttempts = v.GetInt("search.max_attempts")
	cfg.Search.InitialBackoff = v.GetDuration("search.initial_backoff")
	cfg.Search.MaxBackoff = v.GetDuration("search.max_backoff")

	cfg.Assistant.Enabled = v.GetBool("assistant.enabled")
	cfg.Assistant.DefaultModel = v.GetString("assistant.default_model")
	cfg.Assistant.Timeout = v.GetDuration("assistant.timeout")

	cfg.Security.RateLimit = v.GetFloat64("security.rate_limit")
	cfg.Security.RateLimitBurst = v.GetInt("security.rate_limit_burst")
	cfg.Security.AllowedOrigins = splitList(v.GetString("security.allowed_origins"))
	cfg.Security.JWTSecret = v.GetString("security.jwt_secret")

	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.Format = v.GetString("logging.format")
	cfg.Logging.File = v.GetString("logging.file")

	cfg.Observability.ServiceName = v.GetString("observability.service_name")
	cfg.Observability.TracingEnabled = v.GetBool("observability.tracing_enabled")
	cfg.Observability.MetricsEnabled = v.GetBool("observability.metrics_enabled")

	cfg.Vault.Enabled = v.GetBool("vault.enabled")
	cfg.Vault.Address = v.GetString("vault.address")
	cfg.Vault.Token = v.GetString("vault.token")
	cfg.Vault.Namespace = v.GetString("vault.namespace")
	cfg.Vault.Mount = v.GetString("vault.mount")
	cfg.Vault.SecretsPath = v.GetString("vault.secrets_path")

	cfg.OpenAPI.Enabled = v.GetBool("openapi.enabled")

	return cfg
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
