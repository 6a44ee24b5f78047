// Command notifierd runs the event notifier (C10) and its target fan-out
// (C11) as a standalone process, for deployments that want to scale
// notifier throughput independently of the WS-serving process (for example
// many HTTP postback targets pointed at slow remotes). It embeds a chat core
// with no WebSocket listener: payloads reach it only through the REST
// /send-message endpoint, which is the same handler cmd/relayd exposes.
//
// Run cmd/relayd for a normal single-process deployment; reach for
// notifierd only when that process's notifier queue has become the
// bottleneck.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/relaydev/chatrelay/internal/ai"
	"github.com/relaydev/chatrelay/internal/api"
	"github.com/relaydev/chatrelay/internal/api/handlers"
	"github.com/relaydev/chatrelay/internal/auth"
	"github.com/relaydev/chatrelay/internal/chat"
	"github.com/relaydev/chatrelay/internal/config"
	"github.com/relaydev/chatrelay/internal/frame"
	"github.com/relaydev/chatrelay/internal/message"
	"github.com/relaydev/chatrelay/internal/notifier"
	"github.com/relaydev/chatrelay/internal/queue"
	"github.com/relaydev/chatrelay/internal/registry"
	"github.com/relaydev/chatrelay/internal/stats"
	"github.com/relaydev/chatrelay/internal/storage"
	"github.com/relaydev/chatrelay/internal/streaming"
	"github.com/relaydev/chatrelay/internal/target"
)

func main() {
	_ = godotenv.Load()
	_ = godotenv.Load("../.env")
	_ = godotenv.Load("../../.env")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)
	logger := slog.Default()
	logger.Info("starting notifier process", "port", cfg.ServerPort, "env", cfg.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New()
	asm := frame.New(cfg.MaxMessageSize)
	undel := queue.New(false)
	gen := message.NewGenerator()
	st := stats.New(nil, nil)

	var auditLogger notifier.AuditLogger
	if cfg.PostgresAuditEnabled {
		pg, err := storage.NewPostgresClient(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		auditLogger = pg
	}

	var primaries []target.Target
	if cfg.EventHTTPTargetEnabled {
		primaries = append(primaries, target.NewHTTPPostback(cfg.EventHTTPTargetURL, cfg.EventHTTPTargetMethod, nil, 0))
	}

	var natsClient *streaming.NATSClient
	if cfg.EventNATSTargetEnabled {
		natsClient, err = streaming.NewNATSClient(cfg.NATSURL)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		if err := natsClient.EnsureStream(ctx, cfg.EventNATSSubjectPrefix); err != nil {
			logger.Error("failed to ensure NATS stream", "error", err)
			os.Exit(1)
		}
		primaries = append(primaries, target.NewNATSPublish(natsClient, cfg.EventNATSSubjectPrefix+".mirror", 0))
	}

	var notif *notifier.Notifier
	if cfg.ContentClassifierEnabled {
		querier, err := buildClassifierQuerier(cfg)
		if err != nil {
			logger.Warn("content classifier disabled: failed to build AI client", "error", err)
		} else {
			publish := func(p *message.Payload) { notif.Enqueue(p) }
			primaries = append(primaries, target.NewClassifier(querier, gen, publish, 0))
		}
	}

	notif = notifier.New(primaries, auditLogger, notifier.Config{
		RetryInterval:      time.Duration(cfg.RetryIntervalSeconds) * time.Second,
		MaxRetries:         cfg.RetryCount,
		MaxParallelWorkers: cfg.MaxParallelWorkers,
		SendBotMessages:    cfg.SendBotMessages,
		IgnoreTypes:        toSet(cfg.IgnoreTypes),
	}, logger)

	stop := make(chan struct{})
	defer close(stop)
	go notif.Run(stop)

	// A chat core is still constructed so /send-message can parse, validate
	// and hand off payloads exactly as cmd/relayd does, but no WS handler is
	// ever mounted: this process never accepts inbound connections, so
	// Send's recipient fan-out always finds zero live connections. The
	// undelivered queue is disabled here, so those payloads are dropped with
	// a log line while the notifier hand-off still fires.
	c := chat.New(reg, asm, undel, st, auth.None{}, gen, nil, notif.Enqueue, chat.Config{}, logger)

	h := handlers.New(st, reg, c, gen, logger)
	router := api.NewRouter(api.RouterConfig{
		AllowedOrigins:     []string{"*"},
		SendMessageHandler: h.SendMessage,
		StatusHandler:      h.Status,
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress + ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("notifier process stopped")
}

func buildClassifierQuerier(cfg *config.Config) (ai.AIQuerier, error) {
	if cfg.ContentClassifierProvider == "gemini" {
		return ai.NewGeminiClient(cfg.GeminiAPIKey, cfg.ClassifierModel)
	}
	return ai.NewClient(cfg.AnthropicAPIKey, cfg.ClassifierModel)
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, i := range items {
		out[i] = true
	}
	return out
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}
