package application

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/psds-microservice/live-session-service/internal/config"
	"github.com/psds-microservice/live-session-service/internal/database"
	"github.com/psds-microservice/live-session-service/internal/handler"
	"github.com/psds-microservice/live-session-service/internal/live"
	"github.com/psds-microservice/live-session-service/internal/middleware"
	"github.com/psds-microservice/live-session-service/internal/reaper"
	"github.com/psds-microservice/live-session-service/internal/recording"
	"github.com/psds-microservice/live-session-service/internal/repository"
	"github.com/psds-microservice/live-session-service/internal/router"
	"github.com/psds-microservice/live-session-service/internal/upstream"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// API is the HTTP + WebSocket API application.
type API struct {
	cfg      *config.Config
	srv      *http.Server
	registry *live.Registry
	reaper   *reaper.Reaper
	logger   *zap.Logger
}

// NewAPI creates the API application: validates config, runs migrations, opens DB, restores
// active sessions and builds the router.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	store := repository.NewStore(db)
	registry := live.NewRegistry(store, live.Options{
		DefaultMaxParticipants: cfg.DefaultMaxParticipants,
		StoreTimeout:           cfg.StoreTimeout,
		ConnectGrace:           cfg.ConnectGrace,
		ChatRate:               rate.Limit(cfg.ChatRatePerSecond),
		ChatBurst:              cfg.ChatRateBurst,
		SpeechTimeout:          cfg.SpeechTimeout,
		TranslationTimeout:     cfg.TranslationTimeout,
		ReorderWindow:          cfg.CaptionReorderWindow,
		RecorderTimeout:        cfg.RecordingTimeout,
		SendBuffer:             cfg.WSSendBuffer,
		PingInterval:           cfg.WSPingInterval,
		MaxMessageSize:         cfg.WSMaxMessageSize,
		StreamBaseURL:          cfg.StreamBaseURL,
		WSBaseURL:              cfg.WSBaseURL,
	}, logger)

	upstreams := map[string]handler.HealthChecker{}
	if cfg.SpeechServiceURL != "" {
		speech := upstream.NewSpeechClient(cfg.SpeechServiceURL, cfg.SpeechTimeout, logger)
		registry.SetSpeech(speech)
		upstreams["speech"] = speech
	}
	if cfg.TranslationServiceURL != "" {
		translator := upstream.NewTranslationClient(cfg.TranslationServiceURL, cfg.TranslationTimeout, logger)
		registry.SetTranslator(translator)
		upstreams["translation"] = translator
	}
	if rec := recording.NewClient(cfg.RecordingServiceURL, cfg.RecordingTimeout, logger); rec != nil {
		registry.SetRecorder(rec)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := registry.Recover(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover sessions: %w", err)
	}
	logger.Info("active sessions recovered", zap.Int("count", n))

	rp, err := reaper.New(cfg.ReaperSchedule, registry, time.Minute, logger)
	if err != nil {
		return nil, err
	}

	r := router.New(
		handler.NewLiveHandler(registry, logger),
		handler.NewLiveWSHandler(registry, cfg.WSReadBufferSize, cfg.WSWriteBufferSize, logger),
		handler.NewRecordingHandler(registry, cfg.RecordingWebhookSecret, logger),
		handler.NewHealthHandler(registry, upstreams),
		middleware.Auth(cfg.JWTSecret),
	)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// WebSocket connections are hijacked; the timeout only bounds plain HTTP responses.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &API{cfg: cfg, srv: srv, registry: registry, reaper: rp, logger: logger}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled; then shuts down gracefully.
func (a *API) Run(ctx context.Context) error {
	defer func() { _ = a.logger.Sync() }()

	addr := a.srv.Addr
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	log.Printf("HTTP server listening on %s", addr)
	log.Printf("  Health:        %s/health", base)
	log.Printf("  Ready:         %s/ready", base)
	log.Printf("  Live:          %s/live", base)
	log.Printf("  WebSocket:     ws://%s:%s/ws/live/:session_id?token=", host, a.cfg.HTTPPort)

	a.reaper.Start()

	errc := make(chan error, 1)
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		a.shutdown()
		return fmt.Errorf("http: %w", err)
	}
	return a.shutdown()
}

// shutdown stops the reaper, closes every room socket (sessions stay active and are recovered on
// the next boot) and drains HTTP.
func (a *API) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.reaper.Stop(shutdownCtx)
	a.registry.Shutdown(shutdownCtx)
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	a.logger.Info("shutdown complete")
	return nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.AppEnv == "development" {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.LogLevel != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		zc.Level = lvl
	}
	return zc.Build(zap.Fields(zap.String("service", "live-session-service")))
}
