// Command relayd runs the chat relay's full process (§9): the WebSocket
// endpoint, the REST control surface, the watchdog, and the event notifier
// all in one binary. For deployments that split the notifier into its own
// process, see cmd/notifierd; SERVER_MODE is only validated and logged here
// and does not change what this binary runs.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
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
	"github.com/relaydev/chatrelay/internal/offload"
	"github.com/relaydev/chatrelay/internal/queue"
	"github.com/relaydev/chatrelay/internal/registry"
	"github.com/relaydev/chatrelay/internal/stats"
	"github.com/relaydev/chatrelay/internal/storage"
	"github.com/relaydev/chatrelay/internal/streaming"
	"github.com/relaydev/chatrelay/internal/target"
	"github.com/relaydev/chatrelay/internal/watchdog"
	"github.com/relaydev/chatrelay/internal/ws"
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
	logger.Info("starting chat relay", "addr", cfg.ServerAddress, "port", cfg.ServerPort, "env", cfg.Environment, "mode", cfg.ServerMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Core components (always present) ----------------------------------
	reg := registry.New()
	asm := frame.New(cfg.MaxMessageSize)
	undel := queue.New(cfg.EnableUndeliveredQueue)
	gen := message.NewGenerator()

	authn, err := buildAuthenticator(cfg)
	if err != nil {
		logger.Error("failed to build authenticator", "error", err)
		os.Exit(1)
	}

	// --- Optional storage-backed sidecars (C12, C14) ------------------------
	var statsPersister stats.Persister
	var floodDetector stats.FloodDetector
	var snapshotter *stats.Snapshotter
	var redisClient *storage.RedisClient
	var clickhouseClient *storage.ClickHouseClient
	var postgresClient *storage.PostgresClient
	var s3Client *storage.S3Client
	var natsClient *streaming.NATSClient

	if cfg.RedisStatsEnabled {
		redisClient, err = storage.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		statsPersister = stats.NewRedisPersister(redisClient, logger)
	}

	if cfg.FloodDetectorEnabled {
		floodDetector = stats.NewSigmaFloodDetector(cfg.FloodDetectorSigmaThreshold)
	}

	st := stats.New(statsPersister, floodDetector)
	if err := st.Rehydrate(); err != nil {
		logger.Warn("stats rehydrate failed, starting from zero", "error", err)
	}

	if cfg.ClickHouseSnapshotEnabled {
		clickhouseClient, err = storage.NewClickHouseClient(ctx, cfg.ClickHouseURL)
		if err != nil {
			logger.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}
		defer clickhouseClient.Close()
		snapshotter = stats.NewSnapshotter(st, clickhouseClient, time.Duration(cfg.ClickHouseSnapshotInterval)*time.Second, logger)
		go snapshotter.Run(ctx)
	}

	var offloader chat.Offloader
	if cfg.OffloadDataThresholdBytes > 0 {
		s3Client, err = storage.NewS3Client(ctx, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL, cfg.S3SkipBucketVerification)
		if err != nil {
			logger.Warn("S3 client initialization failed; payload offload disabled", "error", err)
		} else {
			offloader = offload.New(s3Client, int(cfg.OffloadDataThresholdBytes), time.Duration(cfg.S3UploadTimeoutSeconds)*time.Second, logger)
		}
	}

	// --- Event notifier (C10) and its targets (C11) -------------------------
	var auditLogger notifier.AuditLogger
	if cfg.PostgresAuditEnabled {
		postgresClient, err = storage.NewPostgresClient(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer postgresClient.Close()
		auditLogger = postgresClient
	}

	var primaries []target.Target
	if cfg.EventHTTPTargetEnabled {
		primaries = append(primaries, target.NewHTTPPostback(cfg.EventHTTPTargetURL, cfg.EventHTTPTargetMethod, nil, 0))
	}
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

	// The classifier's publish callback closes over notif by reference: it
	// is only ever invoked once the notifier is running, by which point
	// notif has been assigned below.
	if cfg.ContentClassifierEnabled {
		querier, err := buildClassifierQuerier(cfg)
		if err != nil {
			logger.Warn("content classifier disabled: failed to build AI client", "error", err)
		} else {
			publish := func(p *message.Payload) { notif.Enqueue(p) }
			primaries = append(primaries, target.NewClassifier(querier, gen, publish, 0))
		}
	}

	if cfg.EventEnabled {
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
	}

	// --- Chat core (C2-C8) ---------------------------------------------------
	var notify func(*message.Payload)
	if notif != nil {
		notify = notif.Enqueue
	}

	c := chat.New(reg, asm, undel, st, authn, gen, offloader, notify, chat.Config{
		EnableDeliveryStatus: cfg.EnableDeliveryStatus,
		EnableSendBack:       cfg.EnableSendBack,
		IgnoredSendBackTypes: toSet(cfg.IgnoredTypesSendBack),
	}, logger)

	// --- Watchdog (C9) --------------------------------------------------------
	if cfg.WatchdogEnabled {
		wd := watchdog.New(reg, 60*time.Second, websocket.PingMessage, logger)
		go wd.Run(ctx)
	}

	// --- HTTP surface: REST control plane + WS endpoint ----------------------
	h := handlers.New(st, reg, c, gen, logger)
	wsHandler := ws.New(c, cfg.MaxMessageSize, []string{"*"}, logger)

	router := api.NewRouter(api.RouterConfig{
		AllowedOrigins:     []string{"*"},
		ListStatsHandler:   h.ListStats,
		StatHandler:        h.Stat,
		CheckOnlineHandler: h.CheckOnline,
		SendMessageHandler: h.SendMessage,
		StatusHandler:      h.Status,
		WSHandler:          wsHandler,
		WSPath:             cfg.ServerEndpoint,
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

	// §5's shutdown contract closes every live connection with status 1001
	// before the HTTP server finishes draining: a WS handler's ServeHTTP
	// blocks in its read loop for the life of the connection, so
	// srv.Shutdown alone would otherwise wait out its full timeout for
	// every still-open socket instead of completing once they drop.
	closeAllConnections(reg, logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("chat relay stopped")
}

// closeAllConnections sends a 1001 (going away) close frame to every live
// connection in reg and closes the underlying transport. Best effort: a
// write failure on an already-dead socket is logged and does not stop the
// sweep.
func closeAllConnections(reg *registry.Registry, logger *slog.Logger) {
	users := reg.AllUsers()
	closed := 0
	for _, u := range users {
		for _, conn := range reg.Get(u) {
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			if err := conn.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second)); err != nil {
				logger.Warn("failed to send close frame during shutdown", "user", u, "error", err)
			}
			if err := conn.Conn.Close(); err != nil {
				logger.Warn("failed to close connection during shutdown", "user", u, "error", err)
			}
			closed++
		}
	}
	if closed > 0 {
		logger.Info("closed live connections for shutdown", "count", closed)
	}
}

func buildAuthenticator(cfg *config.Config) (auth.Authenticator, error) {
	return auth.Build(auth.BuildConfig{
		Strategy:  cfg.AuthStrategy,
		Token:     cfg.AuthToken,
		Header:    cfg.AuthHeader,
		Cookie:    cfg.AuthCookie,
		RemoteURL: cfg.AuthRemoteURL,
	})
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
