package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcourtman/bashmate/internal/ai/chat"
	"github.com/rcourtman/bashmate/internal/ai/safety"
	"github.com/rcourtman/bashmate/internal/logging"
	"github.com/rcourtman/bashmate/internal/terminal"
	"github.com/rcourtman/bashmate/internal/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const serverShutdownTimeout = 30 * time.Second

type serveOptions struct {
	listenAddr  string
	metricsAddr string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat over a WebSocket at /ws",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.listenAddr, "listen", "", "address for /ws and /healthz (default BASHMATE_LISTEN_ADDR)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "separate address for /metrics (default: served on the main listener)")
	return cmd
}

func runServe(cmd *cobra.Command, opts serveOptions) error {
	cfg, err := loadConfig("serve")
	if err != nil {
		return err
	}
	defer logging.Shutdown()
	if opts.listenAddr != "" {
		cfg.ListenAddr = opts.listenAddr
	}
	if opts.metricsAddr != "" {
		cfg.MetricsAddr = opts.metricsAddr
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	guard, err := buildGuard(cfg)
	if err != nil {
		return err
	}

	store, err := openAudit(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	metrics := chat.GetAIMetrics()
	svc, err := newChatService(ctx, cfg, guard, store, metrics)
	if err != nil {
		return err
	}
	defer svc.Close()

	hub, err := websocket.NewHub(websocket.Config{
		Sessions:       svc,
		AllowedOrigins: cfg.AllowedOrigins,
		Title:          terminal.Title,
		Caption:        terminal.Caption,
	})
	if err != nil {
		return err
	}

	stopWatcher := startPolicyWatcher(cfg, guard, func(safety.Guard) {
		hub.Broadcast(websocket.Message{Type: websocket.TypePolicyReloaded})
	})
	defer stopWatcher()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWebSocket)
	mux.HandleFunc("/healthz", healthHandler(svc, hub))
	if cfg.MetricsAddr == "" {
		mux.Handle("/metrics", promhttp.Handler())
	}

	// ReadHeaderTimeout rather than ReadTimeout: a connection deadline would
	// outlive the WebSocket upgrade.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return serveUntilDone(gctx, srv, "Chat server", serverShutdownTimeout)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveUntilDone(gctx, newMetricsServer(cfg.MetricsAddr), "Metrics endpoint", metricsShutdownTimeout)
		})
	}
	g.Go(func() error {
		probeProvider(gctx, svc)
		return nil
	})

	log.Info().Str("addr", cfg.ListenAddr).Msg("Starting Bash Mate server")
	err = g.Wait()
	log.Info().Msg("Server stopped")
	return err
}

// probeProvider checks the model endpoint once at startup so a bad key
// shows up in the log before the first user does.
func probeProvider(ctx context.Context, svc *chat.Service) {
	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := svc.Provider().TestConnection(probeCtx); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("provider", svc.Provider().Name()).Msg("AI provider connection test failed")
		return
	}
	log.Info().Str("provider", svc.Provider().Name()).Msg("AI provider reachable")
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Clients  int    `json:"clients"`
	Version  string `json:"version"`
}

func healthHandler(svc *chat.Service, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthResponse{
			Status:   "ok",
			Sessions: svc.Count(),
			Clients:  hub.GetClientCount(),
			Version:  Version,
		})
	}
}
