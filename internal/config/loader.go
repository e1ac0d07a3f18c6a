package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Load builds the configuration in three steps: defaults, the YAML file at
// path (skipped when path is empty), then environment overrides. The result
// is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in the YAML content
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.collectCredentials()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Logging.Level = getEnv("TRIAGE_LOG_LEVEL", c.Logging.Level)
	c.Storage.Driver = getEnv("TRIAGE_STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.Path = getEnv("TRIAGE_STORAGE_PATH", getEnv("STORAGE_PATH", c.Storage.Path))
	c.Storage.URL = getEnv("TRIAGE_DATABASE_URL", c.Storage.URL)
	c.Inference.BaseURL = getEnv("TRIAGE_INFERENCE_BASE_URL", c.Inference.BaseURL)
	c.Input = getEnv("TRIAGE_INPUT", c.Input)
	c.Export = getEnv("TRIAGE_EXPORT", c.Export)

	if v := getEnv("TRIAGE_PORT", os.Getenv("PORT")); v != "" {
		port, err := strconv.Atoi(strings.TrimPrefix(v, ":"))
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", v, err)
		}
		c.Server.Port = port
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"TRIAGE_COOLDOWN", &c.Dispatch.Cooldown},
		{"TRIAGE_PACE", &c.Dispatch.Pace},
		{"TRIAGE_INFERENCE_TIMEOUT", &c.Inference.Timeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.key, v, err)
		}
		*d.dst = parsed
	}

	if v := os.Getenv("TRIAGE_MODELS"); v != "" {
		c.Dispatch.Models = splitList(v)
	}
	return nil
}

// collectCredentials appends GEMINI_API_KEY_1..N to the configured list,
// keeping order and dropping blanks and duplicates.
func (c *Config) collectCredentials() {
	all := append([]string(nil), c.Inference.Credentials...)
	for i := 1; i <= c.Inference.CredentialSlots; i++ {
		all = append(all, os.Getenv(fmt.Sprintf("GEMINI_API_KEY_%d", i)))
	}

	seen := make(map[string]bool, len(all))
	kept := make([]string, 0, len(all))
	for _, k := range all {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		kept = append(kept, k)
	}
	c.Inference.Credentials = kept
}

// Validate checks everything except credentials, which only the classifier
// and draft generator need.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite, DriverPebble:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for driver %q", c.Storage.Driver)
		}
	case DriverPostgres:
		if c.Storage.URL == "" {
			return fmt.Errorf("storage.url is required for driver %q", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if len(c.Dispatch.Models) == 0 {
		return fmt.Errorf("dispatch.models must not be empty")
	}
	if c.Dispatch.Cooldown <= 0 {
		return fmt.Errorf("dispatch.cooldown must be positive")
	}
	if c.Dispatch.Pace < 0 {
		return fmt.Errorf("dispatch.pace must not be negative")
	}
	if len(c.Drafts.Models) == 0 {
		return fmt.Errorf("drafts.models must not be empty")
	}
	if c.Drafts.PerMinute <= 0 {
		return fmt.Errorf("drafts.per_minute must be positive")
	}
	if c.Drafts.Burst < 1 {
		return fmt.Errorf("drafts.burst must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ResolvePath returns explicit if set, otherwise config.yaml when it exists
// in the working directory, otherwise "" (defaults and environment only).
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile
	}
	return ""
}
