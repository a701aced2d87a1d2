package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/modhub/pkg/observability"
)

// Config holds all process configuration
type Config struct {
	// Paths configuration
	Paths PathsConfig

	// Fetch configuration
	Fetch FetchConfig

	// Build configuration
	Build BuildConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// PathsConfig holds on-disk locations
type PathsConfig struct {
	ConfigDir   string
	CacheDir    string
	WorkshopDir string
}

// StorePath returns the location of the YAML configuration store
func (p PathsConfig) StorePath() string {
	return filepath.Join(p.ConfigDir, StoreFileName)
}

// FetchConfig holds content fetcher settings
type FetchConfig struct {
	Timeout     time.Duration
	IPv4Only    bool
	UserAgent   string
	APIBase     string
	RawBase     string
	ArchiveBase string

	// Hash query retries
	HashAttempts int
}

// BuildConfig holds isolated build context settings
type BuildConfig struct {
	DenyList     []string
	Extras       []string
	BuildTimeout time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  observability.LogLevel
	LogFormat observability.LogFormat

	MetricsAddr string

	// Tracing exports spans over OTLP/gRPC when Endpoint is set
	Tracing observability.TracingConfig
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Paths:         loadPathsConfig(),
		Fetch:         loadFetchConfig(),
		Build:         loadBuildConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadPathsConfig loads paths from environment, defaulting to the user config and cache dirs
func loadPathsConfig() PathsConfig {
	configBase, err := os.UserConfigDir()
	if err != nil {
		configBase = "."
	}
	cacheBase, err := os.UserCacheDir()
	if err != nil {
		cacheBase = "."
	}

	configDir := getEnv("MODHUB_CONFIG_DIR", filepath.Join(configBase, "modhub"))
	return PathsConfig{
		ConfigDir:   configDir,
		CacheDir:    getEnv("MODHUB_CACHE_DIR", filepath.Join(cacheBase, "modhub")),
		WorkshopDir: getEnv("MODHUB_WORKSHOP_DIR", filepath.Join(configDir, "workshop")),
	}
}

// loadFetchConfig loads fetcher settings from environment
func loadFetchConfig() FetchConfig {
	return FetchConfig{
		Timeout:      getEnvDuration("MODHUB_FETCH_TIMEOUT", 30*time.Second),
		IPv4Only:     getEnvBool("MODHUB_IPV4_ONLY", false),
		UserAgent:    getEnv("MODHUB_USER_AGENT", "modhub"),
		APIBase:      getEnv("MODHUB_API_BASE", "https://api.github.com"),
		RawBase:      getEnv("MODHUB_RAW_BASE", "https://raw.githubusercontent.com"),
		ArchiveBase:  getEnv("MODHUB_ARCHIVE_BASE", "https://github.com"),
		HashAttempts: getEnvInt("MODHUB_HASH_ATTEMPTS", 3),
	}
}

// loadBuildConfig loads build context settings from environment
func loadBuildConfig() BuildConfig {
	return BuildConfig{
		DenyList:     getEnvList("MODHUB_BUILD_DENY", nil),
		Extras:       getEnvList("MODHUB_BUILD_EXTRAS", nil),
		BuildTimeout: getEnvDuration("MODHUB_BUILD_TIMEOUT", 2*time.Minute),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:    observability.ParseLogLevel(getEnv("MODHUB_LOG_LEVEL", "info")),
		LogFormat:   observability.LogFormat(strings.ToLower(getEnv("MODHUB_LOG_FORMAT", "text"))),
		MetricsAddr: getEnv("MODHUB_METRICS_ADDR", ":9090"),
		Tracing: observability.TracingConfig{
			Endpoint:    getEnv("MODHUB_OTEL_ENDPOINT", ""),
			Insecure:    getEnvBool("MODHUB_OTEL_INSECURE", false),
			ServiceName: getEnv("MODHUB_OTEL_SERVICE_NAME", "modhub"),
			SampleRatio: getEnvFloat("MODHUB_OTEL_SAMPLE_RATIO", 1),
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Paths.ConfigDir == "" {
		return fmt.Errorf("config dir is required")
	}
	if c.Paths.CacheDir == "" {
		return fmt.Errorf("cache dir is required")
	}

	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if c.Fetch.HashAttempts < 1 {
		return fmt.Errorf("hash attempts must be at least 1")
	}
	for name, base := range map[string]string{
		"api base":     c.Fetch.APIBase,
		"raw base":     c.Fetch.RawBase,
		"archive base": c.Fetch.ArchiveBase,
	} {
		if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
			return fmt.Errorf("%s must be an http(s) URL: %q", name, base)
		}
	}

	if c.Build.BuildTimeout <= 0 {
		return fmt.Errorf("build timeout must be positive")
	}

	if r := c.Observability.Tracing.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("trace sample ratio must be within [0, 1]: %v", r)
	}

	switch c.Observability.LogFormat {
	case observability.FormatText, observability.FormatJSON:
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Observability.LogFormat)
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns an environment variable as float64 or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
