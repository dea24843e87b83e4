package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "PORT", "LOG_LEVEL", "STORE_DRIVER", "MONGO_URI", "MONGO_DB", "MONGO_COLLECTION",
		"SQL_DSN", "REDIS_ADDR", "SANDBOX_BACKEND", "SANDBOX_URL", "SANDBOX_API_KEY", "SANDBOX_API_HOST",
		"EXEC_TIMEOUT", "PRESENCE_TTL", "EVENTS_PER_SECOND", "EVENT_BURST", "PRESENCE_REFRESH_SCHEDULE", "ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "5000" || cfg.StoreDriver != StoreMongo || cfg.SandboxBackend != SandboxJudge0 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ExecTimeout != 15*time.Second {
		t.Fatalf("expected 15s exec timeout, got %s", cfg.ExecTimeout)
	}
	if cfg.SandboxAPIKey != "" {
		t.Fatalf("sandbox key must not have a default")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("SQL_DSN", "file::memory:")
	t.Setenv("SANDBOX_URL", " http://sandbox.local/ ")
	t.Setenv("SANDBOX_API_KEY", "secret")
	t.Setenv("EXEC_TIMEOUT", "20s")
	t.Setenv("EVENTS_PER_SECOND", "5")
	t.Setenv("EVENT_BURST", "10")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "9000" || cfg.StoreDriver != StoreSQLite || cfg.SQLDSN != "file::memory:" {
		t.Fatalf("unexpected store config: %+v", cfg)
	}
	if cfg.SandboxURL != "http://sandbox.local" || cfg.SandboxAPIKey != "secret" {
		t.Fatalf("unexpected sandbox config: %+v", cfg)
	}
	if cfg.ExecTimeout != 20*time.Second || cfg.EventsPerSecond != 5 || cfg.EventBurst != 10 {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoadConfig_File(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "port: \"7000\"\nstoreDriver: memory\nexecTimeout: 25s\nsandboxBackend: docker\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7001")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "7001" {
		t.Fatalf("env must win over file, got %s", cfg.Port)
	}
	if cfg.StoreDriver != StoreMemory || cfg.SandboxBackend != SandboxDocker || cfg.ExecTimeout != 25*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown store":    {"STORE_DRIVER": "cassandra"},
		"sql without dsn":  {"STORE_DRIVER": "postgres"},
		"unknown sandbox":  {"SANDBOX_BACKEND": "lambda"},
		"bad timeout":      {"EXEC_TIMEOUT": "soon"},
		"negative timeout": {"EXEC_TIMEOUT": "-1s"},
		"bad rate":         {"EVENTS_PER_SECOND": "fast"},
		"bad burst":        {"EVENT_BURST": "x"},
		"missing file":     {"CONFIG_FILE": "/does/not/exist.yaml"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("UNIT_TEST_ENV", "value")
	if got := getEnvOrDefault("UNIT_TEST_ENV", "fallback"); got != "value" {
		t.Fatalf("expected env value, got %s", got)
	}

	t.Setenv("UNIT_TEST_ENV", "")
	if got := getEnvOrDefault("UNIT_TEST_ENV", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback value, got %s", got)
	}
}
