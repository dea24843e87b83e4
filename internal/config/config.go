package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"

	SandboxJudge0 = "judge0"
	SandboxDocker = "docker"
)

// Config is loaded from defaults, then an optional YAML file named by
// CONFIG_FILE, then environment variables.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	StoreDriver     string `yaml:"storeDriver"`
	MongoURI        string `yaml:"mongoURI"`
	MongoDB         string `yaml:"mongoDB"`
	MongoCollection string `yaml:"mongoCollection"`
	SQLDSN          string `yaml:"sqlDSN"`

	RedisAddr   string        `yaml:"redisAddr"`
	PresenceTTL time.Duration `yaml:"presenceTTL"`

	SandboxBackend string        `yaml:"sandboxBackend"`
	SandboxURL     string        `yaml:"sandboxURL"`
	SandboxAPIKey  string        `yaml:"-"`
	SandboxAPIHost string        `yaml:"sandboxAPIHost"`
	ExecTimeout    time.Duration `yaml:"execTimeout"`

	EventsPerSecond float64 `yaml:"eventsPerSecond"`
	EventBurst      int     `yaml:"eventBurst"`

	RefreshSchedule string   `yaml:"refreshSchedule"`
	AllowedOrigins  []string `yaml:"allowedOrigins"`
}

func defaults() *Config {
	return &Config{
		Port:            "5000",
		LogLevel:        "info",
		StoreDriver:     StoreMongo,
		MongoURI:        "mongodb://localhost:27017",
		MongoDB:         "code_editor",
		MongoCollection: "projects",
		PresenceTTL:     2 * time.Minute,
		SandboxBackend:  SandboxJudge0,
		SandboxURL:      "https://judge0-ce.p.rapidapi.com",
		SandboxAPIHost:  "judge0-ce.p.rapidapi.com",
		ExecTimeout:     15 * time.Second,
		EventsPerSecond: 50,
		EventBurst:      100,
		RefreshSchedule: "@every 1m",
		AllowedOrigins:  []string{"*"},
	}
}

// loads configuration from the optional file and environment variables
func LoadConfig() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnvOrDefault("PORT", cfg.Port)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.StoreDriver = strings.ToLower(getEnvOrDefault("STORE_DRIVER", cfg.StoreDriver))
	cfg.MongoURI = getEnvOrDefault("MONGO_URI", cfg.MongoURI)
	cfg.MongoDB = getEnvOrDefault("MONGO_DB", cfg.MongoDB)
	cfg.MongoCollection = getEnvOrDefault("MONGO_COLLECTION", cfg.MongoCollection)
	cfg.SQLDSN = getEnvOrDefault("SQL_DSN", cfg.SQLDSN)
	cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", cfg.RedisAddr)
	cfg.SandboxBackend = strings.ToLower(getEnvOrDefault("SANDBOX_BACKEND", cfg.SandboxBackend))
	cfg.SandboxURL = strings.TrimRight(strings.TrimSpace(getEnvOrDefault("SANDBOX_URL", cfg.SandboxURL)), "/")
	cfg.SandboxAPIKey = getEnvOrDefault("SANDBOX_API_KEY", cfg.SandboxAPIKey)
	cfg.SandboxAPIHost = getEnvOrDefault("SANDBOX_API_HOST", cfg.SandboxAPIHost)
	cfg.RefreshSchedule = getEnvOrDefault("PRESENCE_REFRESH_SCHEDULE", cfg.RefreshSchedule)

	var err error
	if cfg.ExecTimeout, err = getDurationOrDefault("EXEC_TIMEOUT", cfg.ExecTimeout); err != nil {
		return nil, err
	}
	if cfg.PresenceTTL, err = getDurationOrDefault("PRESENCE_TTL", cfg.PresenceTTL); err != nil {
		return nil, err
	}
	if v := os.Getenv("EVENTS_PER_SECOND"); v != "" {
		if cfg.EventsPerSecond, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("invalid EVENTS_PER_SECOND %q: %w", v, err)
		}
	}
	if v := os.Getenv("EVENT_BURST"); v != "" {
		if cfg.EventBurst, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid EVENT_BURST %q: %w", v, err)
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func validateConfig(cfg *Config) error {
	switch cfg.StoreDriver {
	case StoreMongo:
		if cfg.MongoURI == "" {
			return errors.New("MONGO_URI is empty")
		}
	case StorePostgres, StoreSQLite:
		if cfg.SQLDSN == "" {
			return errors.New("SQL_DSN is required for store driver " + cfg.StoreDriver)
		}
	case StoreMemory:
	default:
		return errors.New("unsupported store driver: " + cfg.StoreDriver)
	}

	switch cfg.SandboxBackend {
	case SandboxJudge0:
		if cfg.SandboxURL == "" {
			return errors.New("SANDBOX_URL is empty")
		}
	case SandboxDocker:
	default:
		return errors.New("unsupported sandbox backend: " + cfg.SandboxBackend)
	}

	if cfg.ExecTimeout <= 0 {
		return errors.New("EXEC_TIMEOUT must be positive")
	}
	if cfg.EventsPerSecond <= 0 || cfg.EventBurst <= 0 {
		return errors.New("event rate limits must be positive")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
