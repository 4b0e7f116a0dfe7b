// The interpreter binary runs the realtime translation service: a websocket
// endpoint for bidirectional audio sessions plus the REST control surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/bt-bridge/realtime-interpreter/classify"
	"github.com/bt-bridge/realtime-interpreter/config"
	"github.com/bt-bridge/realtime-interpreter/conversation"
	"github.com/bt-bridge/realtime-interpreter/metrics"
	"github.com/bt-bridge/realtime-interpreter/server"
	"github.com/bt-bridge/realtime-interpreter/session"
	"github.com/bt-bridge/realtime-interpreter/shared"
	"github.com/bt-bridge/realtime-interpreter/upstream"
	"github.com/bt-bridge/realtime-interpreter/webhook"
	"github.com/bt-bridge/realtime-interpreter/wire"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg.Logging)
	logger.Info("service starting",
		zap.String("config_path", *configPath),
		zap.String("address", cfg.Server.Address),
		zap.Int("port", cfg.Server.Port),
		zap.String("upstream_model", cfg.Upstream.Model),
	)

	srv, err := buildServer(logger, cfg)
	if err != nil {
		logger.Error("on building server", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("on serving", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDuration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("on shutting down", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

func buildLogger(cfg config.LoggingConfig) shared.LoggerAdapter {
	if cfg.File == "" {
		return shared.NewStdLogger()
	}
	return shared.NewFileLogger(cfg.File, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays, cfg.Compress)
}

func buildServer(logger shared.LoggerAdapter, cfg *config.Config) (*server.Server, error) {
	m := metrics.New()
	store := conversation.NewMemoryStore()

	classifier, err := buildClassifier(logger, cfg.OpenAI)
	if err != nil {
		return nil, err
	}

	var summarizer conversation.Summarizer
	var extractor conversation.IntentExtractor
	if key := cfg.OpenAI.APIKey(); key != "" {
		summarizer, err = conversation.NewOpenAISummarizer(key, cfg.OpenAI.SummaryModel)
		if err != nil {
			return nil, err
		}
		extractor, err = conversation.NewOpenAIIntentExtractor(key, cfg.OpenAI.IntentModel)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("no openai api key; summaries and intent extraction disabled")
	}

	notifier, err := webhook.NewNotifier(logger, m, cfg.Webhook.URL, cfg.Webhook.TimeoutDuration())
	if err != nil {
		return nil, err
	}

	upstreamKey := cfg.Upstream.UpstreamAPIKey()
	if upstreamKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	dialer := upstream.NewWebsocketDialer(cfg.Upstream.DialTimeoutDuration())
	openLink := func(ctx context.Context, onEvent func(*wire.ServerEvent), onClosed func(error)) (session.UpstreamLink, error) {
		return upstream.Connect(ctx, logger, dialer, upstream.Options{
			URL:      cfg.Upstream.URL,
			APIKey:   upstreamKey,
			Model:    cfg.Upstream.Model,
			OnEvent:  onEvent,
			OnClosed: onClosed,
		})
	}

	return server.New(server.Deps{
		Logger:            logger,
		Metrics:           m,
		Store:             store,
		Classifier:        classifier,
		Summarizer:        summarizer,
		Intents:           extractor,
		Notifier:          notifier,
		OpenLink:          openLink,
		Addr:              net.JoinHostPort(cfg.Server.Address, strconv.Itoa(cfg.Server.Port)),
		HeartbeatInterval: cfg.Session.HeartbeatIntervalDuration(),
		InactivityTimeout: cfg.Session.InactivityTimeoutDuration(),
	})
}

// buildClassifier prefers the model-backed detector with the heuristic one as
// fallback; without an api key the heuristic detector runs alone.
func buildClassifier(logger shared.LoggerAdapter, cfg config.OpenAIConfig) (*classify.Classifier, error) {
	heuristic := classify.NewHeuristicDetector()
	key := cfg.APIKey()
	if key == "" {
		return classify.NewClassifier(logger, heuristic, nil)
	}
	model, err := classify.NewModelDetector(key, cfg.ClassifierModel)
	if err != nil {
		return nil, err
	}
	return classify.NewClassifier(logger, model, heuristic)
}
