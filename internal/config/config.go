// Package config loads runtime configuration from an optional driveqa.yml and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime settings. Values come from defaults, then driveqa.yml, then the environment
// (DRIVEQA_ prefix, dots replaced by underscores, e.g. DRIVEQA_EVAL_MAX_TURNS).
type Config struct {
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Drive      DriveConfig      `mapstructure:"drive"`
	Repository RepositoryConfig `mapstructure:"repository"`
	Eval       EvalConfig       `mapstructure:"eval"`
	Log        LogConfig        `mapstructure:"log"`
}

type AnthropicConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	MaxTokens  int           `mapstructure:"max_tokens"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type GeminiConfig struct {
	APIKey          string `mapstructure:"api_key"`
	BaseURL         string `mapstructure:"base_url"`
	MaxOutputTokens int    `mapstructure:"max_output_tokens"`
}

type DriveConfig struct {
	Token      string        `mapstructure:"token"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// RepositoryConfig selects the document repository: "drive" or "local".
type RepositoryConfig struct {
	Kind string `mapstructure:"kind"`
	Root string `mapstructure:"root"`
}

type EvalConfig struct {
	MaxTurns    int           `mapstructure:"max_turns"`
	Concurrency int           `mapstructure:"concurrency"`
	RunTimeout  time.Duration `mapstructure:"run_timeout"`
	Questions   string        `mapstructure:"questions"`
	ResultsDir  string        `mapstructure:"results_dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const (
	RepositoryDrive = "drive"
	RepositoryLocal = "local"
)

// Conventional environment variables bound alongside the DRIVEQA_ ones.
var envAliases = map[string]string{
	"anthropic.api_key": "ANTHROPIC_API_KEY",
	"gemini.api_key":    "GEMINI_API_KEY",
	"drive.token":       "GOOGLE_DRIVE_TOKEN",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.base_url", "https://api.anthropic.com/v1")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.timeout", "2m")
	v.SetDefault("anthropic.max_retries", 3)

	v.SetDefault("gemini.max_output_tokens", 4096)

	v.SetDefault("drive.base_url", "https://www.googleapis.com/drive/v3")
	v.SetDefault("drive.timeout", "60s")
	v.SetDefault("drive.max_retries", 3)

	v.SetDefault("repository.kind", RepositoryDrive)
	v.SetDefault("repository.root", ".")

	v.SetDefault("eval.max_turns", 10)
	v.SetDefault("eval.concurrency", 1)
	v.SetDefault("eval.run_timeout", "3m")
	v.SetDefault("eval.questions", "eval/questions.yml")
	v.SetDefault("eval.results_dir", "eval/results")

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "console")
}

// Load reads configuration. When configPath is empty, driveqa.yml is looked up in the working directory and its
// absence is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("driveqa")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DRIVEQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, "DRIVEQA_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no command could run with.
func (c *Config) Validate() error {
	switch c.Repository.Kind {
	case RepositoryDrive, RepositoryLocal:
	default:
		return fmt.Errorf("repository.kind must be %q or %q, got %q", RepositoryDrive, RepositoryLocal, c.Repository.Kind)
	}
	if c.Eval.MaxTurns < 0 {
		return fmt.Errorf("eval.max_turns must be >= 0, got %d", c.Eval.MaxTurns)
	}
	if c.Eval.Concurrency < 1 {
		return fmt.Errorf("eval.concurrency must be >= 1, got %d", c.Eval.Concurrency)
	}
	return nil
}
