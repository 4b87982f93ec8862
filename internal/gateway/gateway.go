// ABOUTME: Gateway orchestrator wiring storage, session state, model, and the webhook server.
// ABOUTME: Manages component lifecycle and graceful shutdown of in-flight responses.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bellalabs/bella-gateway/internal/bot"
	"github.com/bellalabs/bella-gateway/internal/config"
	"github.com/bellalabs/bella-gateway/internal/dispatch"
	"github.com/bellalabs/bella-gateway/internal/engine"
	"github.com/bellalabs/bella-gateway/internal/kv"
	"github.com/bellalabs/bella-gateway/internal/llm"
	"github.com/bellalabs/bella-gateway/internal/session"
	"github.com/bellalabs/bella-gateway/internal/store"
	"github.com/bellalabs/bella-gateway/internal/voice"
	"github.com/bellalabs/bella-gateway/internal/wechat"
)

// shutdownTimeout bounds how long graceful shutdown waits for the HTTP server.
const shutdownTimeout = 10 * time.Second

// Gateway owns the server components: the expiring key-value store for session
// state, the message ledger, the platform client, the conversation engine, and
// the webhook HTTP server.
type Gateway struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	controller *bot.Controller
	platform   *wechat.Client
	ledger     store.Ledger
	closeKV    func() error
}

// initKV selects the session store backend: Redis when configured, otherwise
// an in-process store that only works for a single instance.
func initKV(ctx context.Context, cfg *config.Config, logger *slog.Logger) (kv.Store, func() error, error) {
	if cfg.Redis.Addr != "" {
		rs, err := kv.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		return rs, rs.Close, nil
	}

	logger.Warn("redis.addr not set, using in-memory session store (single instance only)")
	ms := kv.NewMemoryStore()
	return ms, func() error { ms.Close(); return nil }, nil
}

// New builds a gateway from configuration. It connects to Redis (when
// configured) and opens the ledger database; both are verified eagerly so a
// misconfigured deployment fails at startup, not on the first message.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kvStore, closeKV, err := initKV(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing session store: %w", err)
	}

	ledger, err := store.NewSQLiteLedger(cfg.Database.Path)
	if err != nil {
		closeKV()
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	sessions := session.NewSessions(kvStore)
	history := session.NewHistory(kvStore)
	platform := wechat.NewClient(cfg.WeChat.AppID, cfg.WeChat.AppSecret, cfg.WeChat.BaseURL, kvStore, logger)
	model := llm.NewClient(cfg.Model.BaseURL, cfg.Model.APIKey)

	var synth dispatch.Synthesizer
	var repeater bot.VoiceRepeater
	var transcriber bot.Transcriber
	if cfg.Voice.Enabled {
		s := voice.NewSynthesizer(cfg.Voice.BaseURL, cfg.Voice.APIKey, cfg.Voice.UserID, cfg.Voice.VoiceID, logger)
		s.SetMaxWait(cfg.Voice.MaxWait)
		synth = s
		transcriber = voice.NewTranscriber(cfg.Voice.STTBaseURL, cfg.Voice.STTAPIKey, "")
	}

	dispatcher := dispatch.New(platform, ledger, synth, logger)
	if cfg.Voice.Enabled {
		repeater = dispatcher
	}

	eng := engine.New(model, history, sessions, dispatcher, engine.Options{
		Model:       cfg.Model.Model,
		Temperature: cfg.Model.Temperature,
		MaxTokens:   cfg.Model.MaxTokens,
	}, logger)

	controller := bot.New(sessions, ledger, eng, repeater, platform, transcriber, logger)

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.WebhookPath, NewWebhookHandler(cfg.WeChat.BotToken, controller, logger))
	mux.HandleFunc("/health", handleHealth)

	return &Gateway{
		cfg:    cfg,
		logger: logger.With("component", "gateway"),
		httpServer: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		controller: controller,
		platform:   platform,
		ledger:     ledger,
		closeKV:    closeKV,
	}, nil
}

// Platform exposes the messaging platform client for one-off admin commands.
func (g *Gateway) Platform() *wechat.Client {
	return g.platform
}

// Run serves the webhook until ctx is cancelled or the server fails, then
// shuts down gracefully, letting in-flight response tasks finish.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening",
			"addr", g.cfg.Server.HTTPAddr, "webhook", g.cfg.Server.WebhookPath)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		g.logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		g.logger.Error("http server failed", "error", serveErr)
	}

	if err := g.Shutdown(); err != nil {
		g.logger.Error("shutdown error", "error", err)
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

// Shutdown stops the HTTP server, waits for background response tasks, and
// releases storage resources.
func (g *Gateway) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// In-flight responses keep the busy lock until they finish; wait so users
	// are not stranded busy by a restart.
	g.controller.Wait()

	if err := g.ledger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("ledger close: %w", err))
	}
	if err := g.closeKV(); err != nil {
		errs = append(errs, fmt.Errorf("kv close: %w", err))
	}
	return errors.Join(errs...)
}
