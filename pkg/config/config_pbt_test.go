package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// For any configuration key set in both the YAML file and an environment variable,
// the environment variable value takes precedence.
func TestPropertyConfigPrecedence(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		yamlPort := rapid.IntRange(1024, 65535).Draw(rt, "yaml_port")
		yamlDSN := rapid.StringMatching(`postgres://[a-z]{3,8}:[a-z]{3,8}@[a-z]{3,8}:5432/[a-z]{3,8}`).Draw(rt, "yaml_dsn")
		yamlRedis := rapid.StringMatching(`redis://[a-z]{3,8}:6379`).Draw(rt, "yaml_redis")
		yamlURL := rapid.StringMatching(`https://[a-z]{3,10}\.example\.com`).Draw(rt, "yaml_url")
		yamlTZ := rapid.SampledFrom([]string{"UTC", "Asia/Singapore", "Europe/Berlin"}).Draw(rt, "yaml_tz")
		yamlLogLevel := rapid.SampledFrom([]string{"debug", "info", "warn", "error"}).Draw(rt, "yaml_log_level")

		envPort := rapid.IntRange(1024, 65535).Filter(func(v int) bool { return v != yamlPort }).Draw(rt, "env_port")
		envDSN := rapid.StringMatching(`postgres://[a-z]{3,8}:[a-z]{3,8}@[a-z]{3,8}:5432/[a-z]{3,8}`).Filter(func(v string) bool { return v != yamlDSN }).Draw(rt, "env_dsn")
		envRedis := rapid.StringMatching(`redis://[a-z]{3,8}:6379`).Filter(func(v string) bool { return v != yamlRedis }).Draw(rt, "env_redis")
		envURL := rapid.StringMatching(`https://[a-z]{3,10}\.env\.com`).Draw(rt, "env_url")
		envTZ := rapid.SampledFrom([]string{"America/New_York", "Asia/Tokyo"}).Draw(rt, "env_tz")
		envConcurrency := rapid.IntRange(1, 256).Draw(rt, "env_concurrency")
		envLogLevel := rapid.SampledFrom([]string{"DEBUG", "INFO", "WARN", "ERROR"}).Draw(rt, "env_log_level")

		dir := t.TempDir()
		yamlPath := filepath.Join(dir, "config.yaml")
		yamlContent := fmt.Sprintf(`server:
  port: %d
database:
  dsn: %q
redis:
  url: %q
executor:
  base_url: %q
scheduler:
  timezone: %q
  concurrency: 4
log:
  level: %q
`, yamlPort, yamlDSN, yamlRedis, yamlURL, yamlTZ, yamlLogLevel)

		if err := os.WriteFile(yamlPath, []byte(yamlContent), 0644); err != nil {
			t.Fatalf("write yaml: %v", err)
		}

		envVars := map[string]string{
			"BOTSCHED_SERVER_PORT":           fmt.Sprintf("%d", envPort),
			"BOTSCHED_DATABASE_DSN":          envDSN,
			"BOTSCHED_REDIS_URL":             envRedis,
			"BOTSCHED_EXECUTOR_BASE_URL":     envURL,
			"BOTSCHED_SCHEDULER_TIMEZONE":    envTZ,
			"BOTSCHED_SCHEDULER_CONCURRENCY": fmt.Sprintf("%d", envConcurrency),
			"BOTSCHED_LOG_LEVEL":             envLogLevel,
		}
		for k, v := range envVars {
			os.Setenv(k, v)
		}
		defer func() {
			for k := range envVars {
				os.Unsetenv(k)
			}
		}()

		cfg, err := Load(yamlPath)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		if cfg.Server.Port != envPort {
			t.Errorf("Server.Port: env should win: got %d, want %d (yaml was %d)", cfg.Server.Port, envPort, yamlPort)
		}
		if cfg.Database.DSN != envDSN {
			t.Errorf("Database.DSN: env should win: got %q, want %q", cfg.Database.DSN, envDSN)
		}
		if cfg.Redis.URL != envRedis {
			t.Errorf("Redis.URL: env should win: got %q, want %q", cfg.Redis.URL, envRedis)
		}
		if cfg.Executor.BaseURL != envURL {
			t.Errorf("Executor.BaseURL: env should win: got %q, want %q", cfg.Executor.BaseURL, envURL)
		}
		if cfg.Scheduler.Timezone != envTZ {
			t.Errorf("Scheduler.Timezone: env should win: got %q, want %q", cfg.Scheduler.Timezone, envTZ)
		}
		if cfg.Scheduler.Concurrency != envConcurrency {
			t.Errorf("Scheduler.Concurrency: env should win: got %d, want %d", cfg.Scheduler.Concurrency, envConcurrency)
		}
		if cfg.Log.Level != strings.ToLower(envLogLevel) {
			t.Errorf("Log.Level: env should win (lowercased): got %q, want %q", cfg.Log.Level, strings.ToLower(envLogLevel))
		}
	})
}

// ParseClock accepts every valid HH:MM and maps it to the matching offset.
func TestPropertyParseClockRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := rapid.IntRange(0, 23).Draw(rt, "hour")
		m := rapid.IntRange(0, 59).Draw(rt, "minute")

		d, err := ParseClock(fmt.Sprintf("%02d:%02d", h, m))
		if err != nil {
			rt.Fatalf("ParseClock: %v", err)
		}
		want := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
		if d != want {
			rt.Fatalf("got %v, want %v", d, want)
		}
	})
}
