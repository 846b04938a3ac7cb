package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Provider string `env:"AUTOSUB_PROVIDER" envDefault:"whisper"`
	Format   string `env:"AUTOSUB_FORMAT" envDefault:"srt"`
	Language string `env:"AUTOSUB_LANGUAGE"`
	Prompt   string `env:"AUTOSUB_PROMPT"`

	WhisperURL   string `env:"WHISPER_URL" envDefault:"http://localhost:8000/v1/audio/transcriptions"`
	WhisperModel string `env:"WHISPER_MODEL" envDefault:"Systran/faster-whisper-large-v3"`

	OpenAIAPIKey string `env:"OPENAI_API_KEY"`
	OpenAIModel  string `env:"OPENAI_MODEL" envDefault:"whisper-1"`

	GeminiAPIKey      string `env:"GEMINI_API_KEY"`
	GeminiModel       string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
	GeminiDiarization bool   `env:"GEMINI_DIARIZATION" envDefault:"false"`

	Concurrency    int           `env:"AUTOSUB_CONCURRENCY" envDefault:"4"`
	RetryAttempts  int           `env:"AUTOSUB_RETRY_ATTEMPTS" envDefault:"3"`
	RequestTimeout time.Duration `env:"AUTOSUB_REQUEST_TIMEOUT" envDefault:"120s"`

	MinSpeechDuration time.Duration `env:"VAD_MIN_SPEECH" envDefault:"500ms"`
	MaxSpeechDuration time.Duration `env:"VAD_MAX_SPEECH" envDefault:"6s"`
	SpeechPadding     time.Duration `env:"VAD_PADDING" envDefault:"200ms"`
	EnergyThreshold   float64       `env:"VAD_ENERGY_THRESHOLD" envDefault:"0"`

	MergeGap      time.Duration `env:"AUTOSUB_MERGE_GAP" envDefault:"1s"`
	MaxLineLength int           `env:"AUTOSUB_MAX_LINE_LENGTH" envDefault:"42"`

	MetricsAddr string `env:"METRICS_ADDR"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	Provider    string
	Format      string
	Language    string
	Concurrency int
	MetricsAddr string
	LogLevel    string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.Provider != "" {
		cfg.Provider = overrides.Provider
	}
	if overrides.Format != "" {
		cfg.Format = overrides.Format
	}
	if overrides.Language != "" {
		cfg.Language = overrides.Language
	}
	if overrides.Concurrency > 0 {
		cfg.Concurrency = overrides.Concurrency
	}
	if overrides.MetricsAddr != "" {
		cfg.MetricsAddr = overrides.MetricsAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Provider {
	case "whisper", "openai", "gemini":
	default:
		return fmt.Errorf("unknown provider %q (want whisper, openai, or gemini)", c.Provider)
	}
	switch c.Format {
	case "srt", "vtt", "json":
	default:
		return fmt.Errorf("unknown output format %q (want srt, vtt, or json)", c.Format)
	}
	if c.Provider == "openai" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
	}
	if c.Provider == "gemini" && c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	return nil
}
