package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnvVars = []string{
	"BASHMATE_DATA_DIR", "BASHMATE_PROVIDER", "BASHMATE_MODEL", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
	"DEEPSEEK_API_KEY", "OPENAI_BASE_URL", "ANTHROPIC_BASE_URL", "OLLAMA_BASE_URL", "BASHMATE_SHELL",
	"BASHMATE_COMMAND_TIMEOUT", "BASHMATE_REQUEST_TIMEOUT", "BASHMATE_GUARD_MODE", "BASHMATE_POLICY_FILE",
	"BASHMATE_HISTORY_MODE", "BASHMATE_MAX_TURNS", "BASHMATE_MAX_TOKENS", "BASHMATE_AUDIT_DB",
	"BASHMATE_LISTEN_ADDR", "BASHMATE_METRICS_ADDR", "LOG_LEVEL", "LOG_FORMAT", "BASHMATE_LOG_FILE",
	"BASHMATE_HOST_CONTEXT", "BASHMATE_ALLOWED_ORIGINS",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnvVars {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, AIProviderOpenAI, cfg.AI.GetProvider())
	assert.Equal(t, "gpt-3.5-turbo-1106", cfg.AI.GetModel())
	assert.Equal(t, 3*time.Second, cfg.CommandTimeout)
	assert.Equal(t, GuardModeSubstring, cfg.GuardMode)
	assert.Equal(t, HistoryModeLast, cfg.HistoryMode)
	assert.Equal(t, DefaultMaxTurns, cfg.AI.MaxTurns)
	assert.Equal(t, "/bin/sh", cfg.Shell)
	assert.Empty(t, cfg.AuditDB)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Empty(t, cfg.EnvOverrides)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearConfigEnv(t)

	envVars := map[string]string{
		"BASHMATE_PROVIDER":        "Anthropic",
		"BASHMATE_MODEL":           "claude-3-5-sonnet-latest",
		"ANTHROPIC_API_KEY":        "sk-ant",
		"ANTHROPIC_BASE_URL":       "http://proxy/v1/messages",
		"BASHMATE_COMMAND_TIMEOUT": "5",
		"BASHMATE_REQUEST_TIMEOUT": "90s",
		"BASHMATE_GUARD_MODE":      "RULES",
		"BASHMATE_POLICY_FILE":     "/etc/bashmate/policy.yaml",
		"BASHMATE_HISTORY_MODE":    "full",
		"BASHMATE_MAX_TURNS":       "4",
		"BASHMATE_MAX_TOKENS":      "1024",
		"BASHMATE_AUDIT_DB":        "/tmp/audit.db",
		"BASHMATE_LISTEN_ADDR":     ":9000",
		"BASHMATE_METRICS_ADDR":    ":9091",
		"LOG_LEVEL":                "debug",
		"LOG_FORMAT":               "json",
		"BASHMATE_LOG_FILE":        "/var/log/bashmate.log",
		"BASHMATE_HOST_CONTEXT":    "true",
		"BASHMATE_ALLOWED_ORIGINS": "*.example.org, ,https://ops.lan",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, AIProviderAnthropic, cfg.AI.GetProvider())
	assert.Equal(t, "claude-3-5-sonnet-latest", cfg.AI.GetModel())
	assert.Equal(t, "sk-ant", cfg.AI.GetAPIKeyForProvider(AIProviderAnthropic))
	assert.Equal(t, "http://proxy/v1/messages", cfg.AI.GetBaseURLForProvider(AIProviderAnthropic))
	assert.Equal(t, 5*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 90*time.Second, cfg.AI.RequestTimeout)
	assert.Equal(t, GuardModeRules, cfg.GuardMode)
	assert.Equal(t, "/etc/bashmate/policy.yaml", cfg.PolicyFile)
	assert.Equal(t, HistoryModeFull, cfg.HistoryMode)
	assert.Equal(t, 4, cfg.AI.MaxTurns)
	assert.Equal(t, 1024, cfg.AI.MaxTokens)
	assert.Equal(t, "/tmp/audit.db", cfg.AuditDB)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, ":9091", cfg.MetricsAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "/var/log/bashmate.log", cfg.LogFile)
	assert.True(t, cfg.HostContext)
	assert.Equal(t, []string{"*.example.org", "https://ops.lan"}, cfg.AllowedOrigins)

	for _, key := range []string{"provider", "model", "commandTimeout", "guardMode", "historyMode", "maxTurns"} {
		assert.True(t, cfg.EnvOverrides[key], key)
	}
}

func TestLoad_DotEnvInDataDir(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BASHMATE_GUARD_MODE=rules\nBASHMATE_MAX_TURNS=3\n"), 0o600))
	t.Setenv("BASHMATE_DATA_DIR", dir)
	// godotenv never overrides variables that are already set, including
	// empty ones, so unset these for the duration of the test.
	for _, k := range []string{"BASHMATE_GUARD_MODE", "BASHMATE_MAX_TURNS"} {
		require.NoError(t, os.Unsetenv(k))
		t.Cleanup(func() { os.Unsetenv(k) })
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, GuardModeRules, cfg.GuardMode)
	assert.Equal(t, 3, cfg.AI.MaxTurns)
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"BASHMATE_COMMAND_TIMEOUT": "soon",
		"BASHMATE_MAX_TURNS":       "many",
		"BASHMATE_GUARD_MODE":      "allowlist",
		"BASHMATE_HISTORY_MODE":    "window",
		"BASHMATE_PROVIDER":        "gemini",
		"BASHMATE_HOST_CONTEXT":    "sometimes",
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv(k, v)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.CommandTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.AI.MaxTurns = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Shell = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateCredentials(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.ValidateCredentials())

	cfg.AI.OpenAIAPIKey = "sk-test"
	assert.NoError(t, cfg.ValidateCredentials())

	cfg = Default()
	cfg.AI.OpenAIBaseURL = "http://localhost:8080/v1"
	assert.NoError(t, cfg.ValidateCredentials(), "compatible endpoints may not need a key")

	cfg = Default()
	cfg.AI.Provider = AIProviderOllama
	assert.NoError(t, cfg.ValidateCredentials())

	cfg.AI.Provider = AIProviderAnthropic
	assert.Error(t, cfg.ValidateCredentials())
}

func TestParseModelString(t *testing.T) {
	p, m := ParseModelString("ollama:llama3.1:8b")
	assert.Equal(t, AIProviderOllama, p)
	assert.Equal(t, "llama3.1:8b", m)

	p, m = ParseModelString("gpt-4o")
	assert.Empty(t, p)
	assert.Equal(t, "gpt-4o", m)

	ai := AIConfig{Provider: AIProviderOpenAI, Model: "anthropic:claude-3-5-haiku-latest"}
	assert.Equal(t, AIProviderAnthropic, ai.GetProvider())
	assert.Equal(t, "claude-3-5-haiku-latest", ai.GetModel())

	ai = AIConfig{Provider: AIProviderOllama}
	assert.Equal(t, DefaultAIModelOllama, ai.GetModel())
	assert.Equal(t, DefaultOllamaBaseURL, ai.GetBaseURLForProvider(AIProviderOllama))
}
