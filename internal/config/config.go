// Package config loads bashmate settings from .env files and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Guard and history modes.
const (
	GuardModeSubstring = "substring"
	GuardModeRules     = "rules"

	HistoryModeLast = "last"
	HistoryModeFull = "full"
)

// Defaults
const (
	DefaultCommandTimeout = 3 * time.Second
	DefaultListenAddr     = "127.0.0.1:8501"
	DefaultShell          = "/bin/sh"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "auto"
)

// Config holds the application configuration.
type Config struct {
	DataDir string

	AI AIConfig

	// Command execution
	CommandTimeout time.Duration
	Shell          string
	GuardMode      string
	PolicyFile     string // optional YAML policy layered on the built-in guard

	// Session behaviour
	HistoryMode string

	// Operator record; empty disables the audit log
	AuditDB string

	// Servers
	ListenAddr  string
	MetricsAddr string // empty disables the metrics listener
	// AllowedOrigins are extra WebSocket origins, as wildcard patterns
	AllowedOrigins []string

	LogLevel  string
	LogFormat string
	LogFile   string // when set, logs go here instead of stderr

	// HostContext appends a short host description to the system prompt
	HostContext bool

	// EnvOverrides records which settings came from the environment
	EnvOverrides map[string]bool
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		AI:             NewDefaultAIConfig(),
		CommandTimeout: DefaultCommandTimeout,
		Shell:          DefaultShell,
		GuardMode:      GuardModeSubstring,
		HistoryMode:    HistoryModeLast,
		ListenAddr:     DefaultListenAddr,
		LogLevel:       DefaultLogLevel,
		LogFormat:      DefaultLogFormat,
		EnvOverrides:   make(map[string]bool),
	}
}

// Load reads .env files and environment variables. A .env in the data
// directory is loaded first, then one in the working directory; neither
// replaces variables already present in the environment.
func Load() (*Config, error) {
	dataDir := os.Getenv("BASHMATE_DATA_DIR")
	if dataDir != "" {
		envFile := filepath.Join(dataDir, ".env")
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
			} else {
				log.Debug().Str("file", envFile).Msg("Loaded .env file from data directory")
			}
		}
	}

	// Also try loading from current directory for development
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded configuration from .env in current directory")
	}

	cfg := Default()
	cfg.DataDir = dataDir
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) setString(key, envVar string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
		*dst = v
		c.EnvOverrides[key] = true
	}
}

// applyEnv copies environment overrides into c.
func (c *Config) applyEnv() error {
	c.setString("provider", "BASHMATE_PROVIDER", &c.AI.Provider)
	c.setString("model", "BASHMATE_MODEL", &c.AI.Model)
	c.setString("openaiAPIKey", "OPENAI_API_KEY", &c.AI.OpenAIAPIKey)
	c.setString("anthropicAPIKey", "ANTHROPIC_API_KEY", &c.AI.AnthropicAPIKey)
	c.setString("deepseekAPIKey", "DEEPSEEK_API_KEY", &c.AI.DeepSeekAPIKey)
	c.setString("openaiBaseURL", "OPENAI_BASE_URL", &c.AI.OpenAIBaseURL)
	c.setString("anthropicBaseURL", "ANTHROPIC_BASE_URL", &c.AI.AnthropicBaseURL)
	c.setString("ollamaBaseURL", "OLLAMA_BASE_URL", &c.AI.OllamaBaseURL)
	c.setString("shell", "BASHMATE_SHELL", &c.Shell)
	c.setString("guardMode", "BASHMATE_GUARD_MODE", &c.GuardMode)
	c.setString("policyFile", "BASHMATE_POLICY_FILE", &c.PolicyFile)
	c.setString("historyMode", "BASHMATE_HISTORY_MODE", &c.HistoryMode)
	c.setString("auditDB", "BASHMATE_AUDIT_DB", &c.AuditDB)
	c.setString("listenAddr", "BASHMATE_LISTEN_ADDR", &c.ListenAddr)
	c.setString("metricsAddr", "BASHMATE_METRICS_ADDR", &c.MetricsAddr)
	c.setString("logLevel", "LOG_LEVEL", &c.LogLevel)
	c.setString("logFormat", "LOG_FORMAT", &c.LogFormat)
	c.setString("logFile", "BASHMATE_LOG_FILE", &c.LogFile)

	if v := os.Getenv("BASHMATE_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, origin)
			}
		}
		c.EnvOverrides["allowedOrigins"] = true
	}
	if v := os.Getenv("BASHMATE_COMMAND_TIMEOUT"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("BASHMATE_COMMAND_TIMEOUT: %w", err)
		}
		c.CommandTimeout = d
		c.EnvOverrides["commandTimeout"] = true
		log.Debug().Dur("timeout", d).Msg("Command timeout overridden by BASHMATE_COMMAND_TIMEOUT env var")
	}
	if v := os.Getenv("BASHMATE_REQUEST_TIMEOUT"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("BASHMATE_REQUEST_TIMEOUT: %w", err)
		}
		c.AI.RequestTimeout = d
		c.EnvOverrides["requestTimeout"] = true
	}
	if v := os.Getenv("BASHMATE_MAX_TURNS"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("BASHMATE_MAX_TURNS: %w", err)
		}
		c.AI.MaxTurns = n
		c.EnvOverrides["maxTurns"] = true
	}
	if v := os.Getenv("BASHMATE_HOST_CONTEXT"); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("BASHMATE_HOST_CONTEXT: %w", err)
		}
		c.HostContext = b
		c.EnvOverrides["hostContext"] = true
	}
	if v := os.Getenv("BASHMATE_MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("BASHMATE_MAX_TOKENS: %w", err)
		}
		c.AI.MaxTokens = n
		c.EnvOverrides["maxTokens"] = true
	}

	c.GuardMode = strings.ToLower(c.GuardMode)
	c.HistoryMode = strings.ToLower(c.HistoryMode)
	c.AI.Provider = strings.ToLower(c.AI.Provider)
	return nil
}

// parseSeconds accepts a bare number of seconds or a Go duration string.
func parseSeconds(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v + "s"); err == nil {
		return d, nil
	}
	return time.ParseDuration(v)
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if !KnownProvider(c.AI.GetProvider()) {
		return fmt.Errorf("unknown provider %q", c.AI.GetProvider())
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive")
	}
	if c.AI.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.AI.MaxTurns < 1 {
		return fmt.Errorf("max turns must be at least 1")
	}
	if c.AI.MaxTokens < 0 {
		return fmt.Errorf("max tokens must not be negative")
	}
	switch c.GuardMode {
	case GuardModeSubstring, GuardModeRules:
	default:
		return fmt.Errorf("unknown guard mode %q (want %s or %s)", c.GuardMode, GuardModeSubstring, GuardModeRules)
	}
	switch c.HistoryMode {
	case HistoryModeLast, HistoryModeFull:
	default:
		return fmt.Errorf("unknown history mode %q (want %s or %s)", c.HistoryMode, HistoryModeLast, HistoryModeFull)
	}
	if c.Shell == "" {
		return fmt.Errorf("shell must not be empty")
	}
	return nil
}

// ValidateCredentials reports a missing API key for the selected provider.
// It is separate from Validate so that commands which never contact a
// model, such as check, work without credentials.
func (c *Config) ValidateCredentials() error {
	provider := c.AI.GetProvider()
	switch provider {
	case AIProviderOpenAI:
		if c.AI.OpenAIAPIKey == "" && c.AI.OpenAIBaseURL == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
	case AIProviderAnthropic:
		if c.AI.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
	case AIProviderDeepSeek:
		if c.AI.DeepSeekAPIKey == "" {
			return fmt.Errorf("DEEPSEEK_API_KEY is required for the deepseek provider")
		}
	}
	return nil
}
