package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rcourtman/bashmate/internal/ai/chat"
	"github.com/rcourtman/bashmate/internal/ai/providers"
	"github.com/rcourtman/bashmate/internal/ai/safety"
	"github.com/rcourtman/bashmate/internal/audit"
	"github.com/rcourtman/bashmate/internal/config"
	"github.com/rcourtman/bashmate/internal/logging"
	"github.com/rcourtman/bashmate/internal/shell"
	"github.com/rs/zerolog/log"
)

// loadConfig loads configuration and reinitialises logging from it.
func loadConfig(component string) (*config.Config, error) {
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: component})

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: component,
		FilePath:  cfg.LogFile,
	})
	return cfg, nil
}

// buildGuard builds the configured guard behind a SwitchableGuard so a
// policy watcher can replace it later.
func buildGuard(cfg *config.Config) (*safety.SwitchableGuard, error) {
	policy, err := safety.LoadPolicyFile(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	guard, err := safety.BuildGuard(cfg.GuardMode, policy)
	if err != nil {
		return nil, err
	}
	return safety.NewSwitchableGuard(guard), nil
}

// startPolicyWatcher watches cfg.PolicyFile when one is configured. The
// returned stop function is always safe to call.
func startPolicyWatcher(cfg *config.Config, guard *safety.SwitchableGuard, onReload func(safety.Guard)) func() {
	if cfg.PolicyFile == "" {
		return func() {}
	}
	watcher, err := safety.NewPolicyWatcher(cfg.PolicyFile, cfg.GuardMode, guard)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create policy watcher, policy changes will require restart")
		return func() {}
	}
	if onReload != nil {
		watcher.OnReload(onReload)
	}
	if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start policy watcher")
		return func() {}
	}
	return watcher.Stop
}

// openAudit opens the audit store, or returns nil when auditing is off.
func openAudit(cfg *config.Config) (*audit.Store, error) {
	if cfg.AuditDB == "" {
		return nil, nil
	}
	store, err := audit.Open(cfg.AuditDB, 0)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	log.Info().Str("path", cfg.AuditDB).Msg("Command audit log enabled")
	return store, nil
}

// newChatService wires the provider, guard and audit store into a chat
// service.
func newChatService(ctx context.Context, cfg *config.Config, guard safety.Guard, store *audit.Store, metrics *chat.AIMetrics) (*chat.Service, error) {
	if err := cfg.ValidateCredentials(); err != nil {
		return nil, err
	}
	provider, err := providers.NewFromConfig(&cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("create AI provider: %w", err)
	}

	systemPrompt := chat.SystemPrompt
	if cfg.HostContext {
		hostCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		systemPrompt = chat.BuildSystemPrompt(chat.HostContext(hostCtx))
		cancel()
	}

	svc, err := chat.NewService(chat.Config{
		Provider:       provider,
		Model:          cfg.AI.GetModel(),
		Guard:          guard,
		Executor:       &shell.ShellExecutor{Shell: cfg.Shell},
		CommandTimeout: cfg.CommandTimeout,
		HistoryMode:    chat.HistoryMode(cfg.HistoryMode),
		MaxTurns:       cfg.AI.MaxTurns,
		MaxTokens:      cfg.AI.MaxTokens,
		SystemPrompt:   systemPrompt,
		Metrics:        metrics,
		Audit:          store,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("provider", provider.Name()).
		Str("model", cfg.AI.GetModel()).
		Str("guard_mode", cfg.GuardMode).
		Dur("command_timeout", cfg.CommandTimeout).
		Msg("Chat service ready")
	return svc, nil
}
