package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/ragchat/backend/internal/config"
	"github.com/zhouzirui/ragchat/backend/internal/handler"
	"github.com/zhouzirui/ragchat/backend/internal/logger"
	"github.com/zhouzirui/ragchat/backend/internal/service/chat"
	"github.com/zhouzirui/ragchat/backend/internal/service/events"
	ragService "github.com/zhouzirui/ragchat/backend/internal/service/rag"
	"github.com/zhouzirui/ragchat/backend/internal/service/render"
)

const janitorInterval = time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger.Setup(cfg.Log)
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file, using system environment variables only")
	}

	renderer := render.New(cfg.Chat.Sanitize)

	convOpts := chat.Options{
		Timeout:      cfg.Microservice.Timeout,
		ErrorNotices: cfg.Chat.ErrorNotices,
	}

	if cfg.Events.Enabled() {
		publisher, err := events.Connect(cfg.Events)
		if err != nil {
			log.Warn().Err(err).Msg("exchange events disabled")
		} else {
			defer publisher.Close()
			convOpts.Observer = publisher.Observe
			log.Info().Str("subject", publisher.Subject("*")).Msg("publishing exchange events")
		}
	}

	chatService := chat.NewService(
		func(ctx context.Context, baseURL string) (chat.Answerer, error) {
			return ragService.NewMicroservicePipeline(ctx, baseURL, cfg.Microservice.Timeout, renderer)
		},
		func(baseURL string) chat.Uploader {
			return ragService.NewClient(baseURL, cfg.Microservice.Timeout)
		},
		chat.Config{
			DefaultHost:  cfg.Microservice.Host,
			IdleTimeout:  cfg.Chat.SessionIdleTimeout,
			Conversation: convOpts,
		},
	)
	defer chatService.Close()

	go chatService.RunJanitor(ctx, janitorInterval)

	if cfg.Microservice.Host != "" {
		log.Info().Str("host", cfg.Microservice.Host).Msg("default microservice host configured")
	}

	router := handler.NewRouter(chatService, handler.Options{
		// Leave headroom so the exchange times out before the waiting request.
		WaitTimeout:    cfg.Microservice.Timeout + 5*time.Second,
		MetricsEnabled: cfg.Server.MetricsEnabled,
	})

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("ragchat backend listening")
	if err := runServer(ctx, srv); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
