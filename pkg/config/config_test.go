package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/modhub/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	t.Setenv("MODHUB_TEST_VAR", "custom")

	assert.Equal(t, "custom", getEnv("MODHUB_TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("MODHUB_TEST_VAR_NOT_SET", "default"))
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{name: "true", envValue: "true", want: true},
		{name: "one", envValue: "1", want: true},
		{name: "false", envValue: "false", defaultValue: true, want: false},
		{name: "unset uses default", envValue: "", defaultValue: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MODHUB_TEST_BOOL", tt.envValue)
			assert.Equal(t, tt.want, getEnvBool("MODHUB_TEST_BOOL", tt.defaultValue))
		})
	}
}

func TestGetEnvIntAndDuration(t *testing.T) {
	t.Setenv("MODHUB_TEST_INT", "42")
	t.Setenv("MODHUB_TEST_BAD_INT", "forty")
	t.Setenv("MODHUB_TEST_DUR", "5s")

	assert.Equal(t, 42, getEnvInt("MODHUB_TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("MODHUB_TEST_BAD_INT", 1))
	assert.Equal(t, 5*time.Second, getEnvDuration("MODHUB_TEST_DUR", time.Second))
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("MODHUB_TEST_LIST", " unsafe, syscall ,,plugin ")
	assert.Equal(t, []string{"unsafe", "syscall", "plugin"}, getEnvList("MODHUB_TEST_LIST", nil))
	assert.Equal(t, []string{"x"}, getEnvList("MODHUB_TEST_LIST_UNSET", []string{"x"}))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MODHUB_CONFIG_DIR", dir)
	t.Setenv("MODHUB_CACHE_DIR", dir+"/cache")
	t.Setenv("MODHUB_IPV4_ONLY", "true")
	t.Setenv("MODHUB_LOG_LEVEL", "debug")
	t.Setenv("MODHUB_BUILD_DENY", "unsafe")
	t.Setenv("MODHUB_OTEL_ENDPOINT", "collector:4317")
	t.Setenv("MODHUB_OTEL_INSECURE", "1")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Paths.ConfigDir)
	assert.Equal(t, dir+"/workshop", cfg.Paths.WorkshopDir)
	assert.Equal(t, dir+"/"+StoreFileName, cfg.Paths.StorePath())
	assert.True(t, cfg.Fetch.IPv4Only)
	assert.Equal(t, 3, cfg.Fetch.HashAttempts)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, []string{"unsafe"}, cfg.Build.DenyList)
	assert.True(t, cfg.Observability.Tracing.Enabled())
	assert.Equal(t, "collector:4317", cfg.Observability.Tracing.Endpoint)
	assert.True(t, cfg.Observability.Tracing.Insecure)
	assert.Equal(t, "modhub", cfg.Observability.Tracing.ServiceName)
	assert.Equal(t, 1.0, cfg.Observability.Tracing.SampleRatio)
}

func TestLoadConfig_TracingOffByDefault(t *testing.T) {
	t.Setenv("MODHUB_CONFIG_DIR", t.TempDir())
	t.Setenv("MODHUB_OTEL_ENDPOINT", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.False(t, cfg.Observability.Tracing.Enabled())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Paths: PathsConfig{ConfigDir: "/c", CacheDir: "/k"},
			Fetch: FetchConfig{
				Timeout:      time.Second,
				HashAttempts: 1,
				APIBase:      "https://api.github.com",
				RawBase:      "https://raw.githubusercontent.com",
				ArchiveBase:  "https://github.com",
			},
			Build:         BuildConfig{BuildTimeout: time.Minute},
			Observability: ObservabilityConfig{LogFormat: observability.FormatText},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing config dir", mutate: func(c *Config) { c.Paths.ConfigDir = "" }, wantErr: "config dir"},
		{name: "missing cache dir", mutate: func(c *Config) { c.Paths.CacheDir = "" }, wantErr: "cache dir"},
		{name: "zero timeout", mutate: func(c *Config) { c.Fetch.Timeout = 0 }, wantErr: "fetch timeout"},
		{name: "zero attempts", mutate: func(c *Config) { c.Fetch.HashAttempts = 0 }, wantErr: "hash attempts"},
		{name: "bad base", mutate: func(c *Config) { c.Fetch.RawBase = "ftp://x" }, wantErr: "raw base"},
		{name: "zero build timeout", mutate: func(c *Config) { c.Build.BuildTimeout = 0 }, wantErr: "build timeout"},
		{name: "bad sample ratio", mutate: func(c *Config) { c.Observability.Tracing.SampleRatio = 1.5 }, wantErr: "sample ratio"},
		{name: "bad log format", mutate: func(c *Config) { c.Observability.LogFormat = "xml" }, wantErr: "log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
