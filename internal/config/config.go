// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	LLM       LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	Evolution EvolutionConfig `mapstructure:"evolution" yaml:"evolution"`
	Registry  RegistryConfig  `mapstructure:"registry" yaml:"registry"`
	Trigger   TriggerConfig   `mapstructure:"trigger" yaml:"trigger"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig selects and configures the behavior store backend.
type DatabaseConfig struct {
	// Type is "postgres" or "memory".
	Type string `mapstructure:"type" yaml:"type"`
	URL  string `mapstructure:"url" yaml:"url"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
	ProviderOllama LLMProvider = "ollama"
)

// LLMModelConfig defines the configuration for a single model.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
}

// LLMRouterConfig configures model routing and shared rate limiting. All
// callers of the LLM share one token bucket, protecting the provider rate
// limit from evaluation fan-out.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
	RequestsPerSecond    float64                   `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst                int                       `mapstructure:"burst" yaml:"burst"`
}

// EvolutionConfig holds the genetic-algorithm parameters for a run.
type EvolutionConfig struct {
	PopulationSize       int           `mapstructure:"population_size" yaml:"population_size"`
	MaxGenerations       int           `mapstructure:"max_generations" yaml:"max_generations"`
	EliteCount           int           `mapstructure:"elite_count" yaml:"elite_count"`
	TournamentSize       int           `mapstructure:"tournament_size" yaml:"tournament_size"`
	MutationRate         float64       `mapstructure:"mutation_rate" yaml:"mutation_rate"`
	CrossoverRate        float64       `mapstructure:"crossover_rate" yaml:"crossover_rate"`
	TargetFitness        float64       `mapstructure:"target_fitness" yaml:"target_fitness"`
	EarlyStopGenerations int           `mapstructure:"early_stop_generations" yaml:"early_stop_generations"`
	TrainRatio           float64       `mapstructure:"train_ratio" yaml:"train_ratio"`
	EvalConcurrency      int           `mapstructure:"eval_concurrency" yaml:"eval_concurrency"`
	CaseTimeout          time.Duration `mapstructure:"case_timeout" yaml:"case_timeout"`
	GenerationTimeout    time.Duration `mapstructure:"generation_timeout" yaml:"generation_timeout"`
	JobTimeout           time.Duration `mapstructure:"job_timeout" yaml:"job_timeout"`
}

// RegistryConfig tunes lifecycle enforcement.
type RegistryConfig struct {
	// MinSoak is the minimum time a behavior must spend in STAGING before
	// promotion to ACTIVE.
	MinSoak time.Duration `mapstructure:"min_soak" yaml:"min_soak"`
}

// TriggerConfig holds the thresholds the scheduled evolution check applies.
type TriggerConfig struct {
	SuccessRateThreshold float64       `mapstructure:"success_rate_threshold" yaml:"success_rate_threshold"`
	SuccessRateWindow    time.Duration `mapstructure:"success_rate_window" yaml:"success_rate_window"`
	MinExecutions        int           `mapstructure:"min_executions" yaml:"min_executions"`
	MaxDaysSinceLastRun  int           `mapstructure:"max_days_since_last_run" yaml:"max_days_since_last_run"`
	NegativeFeedbackMin  int           `mapstructure:"negative_feedback_min" yaml:"negative_feedback_min"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "evoforge")
	v.SetDefault("logger.log_file", "evoforge.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Database --
	v.SetDefault("database.type", "postgres")
	v.SetDefault("database.url", "")

	// -- LLM --
	v.SetDefault("llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.requests_per_second", 4.0)
	v.SetDefault("llm.burst", 8)

	// -- Evolution --
	v.SetDefault("evolution.population_size", 10)
	v.SetDefault("evolution.max_generations", 10)
	v.SetDefault("evolution.elite_count", 2)
	v.SetDefault("evolution.tournament_size", 3)
	v.SetDefault("evolution.mutation_rate", 0.7)
	v.SetDefault("evolution.crossover_rate", 0.3)
	v.SetDefault("evolution.target_fitness", 0.95)
	v.SetDefault("evolution.early_stop_generations", 3)
	v.SetDefault("evolution.train_ratio", 0.8)
	v.SetDefault("evolution.eval_concurrency", 4)
	v.SetDefault("evolution.case_timeout", "60s")
	v.SetDefault("evolution.generation_timeout", "10m")
	v.SetDefault("evolution.job_timeout", "1h")

	// -- Registry --
	v.SetDefault("registry.min_soak", "72h")

	// -- Trigger --
	v.SetDefault("trigger.success_rate_threshold", 0.80)
	v.SetDefault("trigger.success_rate_window", "720h") // 30 days
	v.SetDefault("trigger.min_executions", 50)
	v.SetDefault("trigger.max_days_since_last_run", 30)
	v.SetDefault("trigger.negative_feedback_min", 3)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	_ = v.BindEnv("database.url", "EVOFORGE_DATABASE_URL")
	_ = v.BindEnv("llm.api_key", "EVOFORGE_LLM_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "postgres", "memory":
	default:
		return fmt.Errorf("database.type must be \"postgres\" or \"memory\", got %q", c.Database.Type)
	}
	if err := c.Evolution.Validate(); err != nil {
		return fmt.Errorf("evolution configuration invalid: %w", err)
	}
	if err := c.Trigger.Validate(); err != nil {
		return fmt.Errorf("trigger configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the genetic-algorithm parameters.
func (e *EvolutionConfig) Validate() error {
	if e.PopulationSize < 2 {
		return fmt.Errorf("population_size must be at least 2")
	}
	if e.MaxGenerations <= 0 {
		return fmt.Errorf("max_generations must be greater than 0")
	}
	if e.EliteCount < 1 || e.EliteCount >= e.PopulationSize {
		return fmt.Errorf("elite_count must be in [1, population_size)")
	}
	if e.TournamentSize < 2 {
		return fmt.Errorf("tournament_size must be at least 2")
	}
	if e.MutationRate < 0 || e.MutationRate > 1 {
		return fmt.Errorf("mutation_rate must be within [0,1]")
	}
	if e.CrossoverRate < 0 || e.CrossoverRate > 1 {
		return fmt.Errorf("crossover_rate must be within [0,1]")
	}
	if e.TargetFitness <= 0 || e.TargetFitness > 1 {
		return fmt.Errorf("target_fitness must be within (0,1]")
	}
	if e.TrainRatio <= 0 || e.TrainRatio >= 1 {
		return fmt.Errorf("train_ratio must be within (0,1)")
	}
	if e.EvalConcurrency <= 0 {
		return fmt.Errorf("eval_concurrency must be a positive integer")
	}
	return nil
}

// Validate checks the evolution trigger thresholds.
func (t *TriggerConfig) Validate() error {
	if t.SuccessRateThreshold <= 0 || t.SuccessRateThreshold > 1 {
		return fmt.Errorf("success_rate_threshold must be within (0,1]")
	}
	if t.MinExecutions <= 0 {
		return fmt.Errorf("min_executions must be a positive integer")
	}
	if t.NegativeFeedbackMin <= 0 {
		return fmt.Errorf("negative_feedback_min must be a positive integer")
	}
	return nil
}
