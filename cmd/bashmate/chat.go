package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rcourtman/bashmate/internal/ai/chat"
	"github.com/rcourtman/bashmate/internal/logging"
	"github.com/rcourtman/bashmate/internal/terminal"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type chatOptions struct {
	plain       bool
	metricsAddr string
}

func newChatCmd() *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start the interactive chat (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "disable colours and markdown rendering")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while chatting")
	return cmd
}

func runChat(cmd *cobra.Command, opts chatOptions) error {
	cfg, err := loadConfig("chat")
	if err != nil {
		return err
	}
	// Keep the prompt readable: unless logs go to a file or a level was
	// asked for, only warnings reach the terminal.
	if cfg.LogFile == "" && !cfg.EnvOverrides["logLevel"] {
		logging.Init(logging.Config{Format: cfg.LogFormat, Level: "warn", Component: "chat"})
	}
	defer logging.Shutdown()

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	guard, err := buildGuard(cfg)
	if err != nil {
		return err
	}
	stopWatcher := startPolicyWatcher(cfg, guard, nil)
	defer stopWatcher()

	store, err := openAudit(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	metricsAddr := opts.metricsAddr
	if metricsAddr == "" {
		metricsAddr = cfg.MetricsAddr
	}
	if metricsAddr != "" {
		startMetricsServer(ctx, metricsAddr)
	}

	svc, err := newChatService(ctx, cfg, guard, store, chat.GetAIMetrics())
	if err != nil {
		return err
	}
	defer svc.Close()

	session, err := svc.NewSession()
	if err != nil {
		return err
	}

	repl, err := terminal.New(terminal.Options{
		Session: session,
		Output:  cmd.OutOrStdout(),
		Width:   terminal.TerminalWidth(),
		Plain:   opts.plain,
	})
	if err != nil {
		return err
	}

	log.Debug().Str("session_id", session.ID).Msg("Starting interactive chat")
	return repl.Run(ctx)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
