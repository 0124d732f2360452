// Package main is the entry point for the chat server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/character-chat/internal/completion"
	"github.com/capitalize-ai/character-chat/internal/config"
	"github.com/capitalize-ai/character-chat/internal/handler"
	"github.com/capitalize-ai/character-chat/internal/llm"
	natsclient "github.com/capitalize-ai/character-chat/internal/nats"
	"github.com/capitalize-ai/character-chat/internal/registry"
	"github.com/capitalize-ai/character-chat/internal/service"
	"github.com/capitalize-ai/character-chat/pkg/logger"
	"github.com/capitalize-ai/character-chat/pkg/tracing"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting chat server", zap.String("provider", cfg.LLMProvider))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "character-chat", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	characters, err := config.LoadCharacters(cfg.CharactersFile)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn("characters file not found, starting with an empty list",
			zap.String("path", cfg.CharactersFile))
		characters = nil
	} else if err != nil {
		return err
	}

	llmClient, err := llm.NewClient(llm.Provider(cfg.LLMProvider), cfg.APIKey(), llm.WithBaseURL(cfg.LLMBaseURL))
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}

	completions := completion.New(llmClient,
		completion.WithTimeout(cfg.CompletionTimeout),
		completion.WithQueueSize(cfg.CompletionQueue),
		completion.WithMaxTokens(cfg.CompletionMaxToken),
		completion.WithLogger(log),
	)
	defer completions.Shutdown()

	hub := handler.NewHub(log)
	opts := []service.Option{
		service.WithRenderer(hub),
		service.WithLogger(log),
	}

	var (
		natsClient *natsclient.Client
		journal    *natsclient.StreamManager
		ready      handler.ConnectionChecker
	)
	if cfg.NATSEnabled {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsClient.Close()

		journal = natsclient.NewStreamManager(natsClient)
		if err := journal.EnsureStream(ctx); err != nil {
			return fmt.Errorf("failed to ensure stream: %w", err)
		}
		opts = append(opts, service.WithJournal(journal))
		ready = natsClient
	}

	controller := service.NewListController(registry.New(completions, log), opts...)
	controller.Start(characters)
	logMisconfigured(log, controller)

	router := handler.NewRouter(handler.RouterConfig{
		Chats:             handler.NewChatHandler(controller, log),
		Messages:          handler.NewMessageHandler(controller, log),
		Stream:            handler.NewStreamHandler(hub, log),
		Health:            handler.NewHealthHandler(ready),
		Logger:            log,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests:     cfg.RateLimitRequests,
		SendRateLimitRequests: cfg.SendRateLimitRequests,
		RateLimitWindow:       cfg.RateLimitWindow,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Event streams never end on their own; close them before draining.
		hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server forced to shutdown", zap.Error(err))
		}

		controller.Stop()
		if journal != nil {
			if err := journal.Flush(shutdownCtx); err != nil {
				log.Warn("journal flush incomplete", zap.Error(err))
			}
		}
		return nil
	})

	err = g.Wait()
	log.Info("server stopped")
	return err
}

func logMisconfigured(log *logger.Logger, controller *service.ListController) {
	for _, e := range controller.Entries() {
		if e.Session.Misconfigured() {
			log.Warn("character has no model; sending is disabled",
				zap.String("character", e.Session.Name()))
		}
	}
}

var _ service.Journal = (*natsclient.StreamManager)(nil)
