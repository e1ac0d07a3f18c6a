package config

import (
	"time"

	"github.com/georgeshao/o2c-triage/internal/dispatcher"
	"github.com/georgeshao/o2c-triage/internal/inference"
)

const (
	DriverSQLite   = "sqlite"
	DriverPebble   = "pebble"
	DriverPostgres = "postgres"

	DefaultConfigFile      = "config.yaml"
	DefaultPort            = 8080
	DefaultStoragePath     = "./data/triage.db"
	DefaultInputPath       = "data/Sample Emails.json"
	DefaultCredentialSlots = 5
	DefaultDraftsPerMinute = 30
)

// DefaultDraftModels is the ladder used for reply drafts.
var DefaultDraftModels = []string{"gemini-2.5-flash-lite", "gemini-2.5-flash"}

type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Inference InferenceConfig `yaml:"inference"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Drafts    DraftsConfig    `yaml:"drafts"`
	Input     string          `yaml:"input"`
	Export    string          `yaml:"export"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type StorageConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type InferenceConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	// Credentials are listed directly or collected from GEMINI_API_KEY_1..N.
	Credentials     []string `yaml:"credentials"`
	CredentialSlots int      `yaml:"credential_slots"`
}

type DispatchConfig struct {
	Models   []string      `yaml:"models"`
	Cooldown time.Duration `yaml:"cooldown"`
	Pace     time.Duration `yaml:"pace"`
}

type DraftsConfig struct {
	Models    []string `yaml:"models"`
	PerMinute float64  `yaml:"per_minute"`
	Burst     int      `yaml:"burst"`
}

func Default() *Config {
	dispatch := dispatcher.DefaultConfig()
	client := inference.DefaultConfig()

	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Server:  ServerConfig{Port: DefaultPort},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   DefaultStoragePath,
		},
		Inference: InferenceConfig{
			BaseURL:         client.BaseURL,
			Timeout:         client.Timeout,
			MaxOutputTokens: client.MaxOutputTokens,
			CredentialSlots: DefaultCredentialSlots,
		},
		Dispatch: DispatchConfig{
			Models:   dispatch.Models,
			Cooldown: dispatch.Cooldown,
			Pace:     dispatch.Pace,
		},
		Drafts: DraftsConfig{
			Models:    append([]string(nil), DefaultDraftModels...),
			PerMinute: DefaultDraftsPerMinute,
			Burst:     1,
		},
		Input: DefaultInputPath,
	}
}

func (c *Config) DispatcherConfig() dispatcher.Config {
	return dispatcher.Config{
		Credentials: append([]string(nil), c.Inference.Credentials...),
		Models:      append([]string(nil), c.Dispatch.Models...),
		Cooldown:    c.Dispatch.Cooldown,
		Pace:        c.Dispatch.Pace,
	}
}

func (c *Config) InferenceConfig() inference.Config {
	return inference.Config{
		BaseURL:         c.Inference.BaseURL,
		Timeout:         c.Inference.Timeout,
		MaxOutputTokens: c.Inference.MaxOutputTokens,
	}
}
