package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/R2D1-BOT/retell-telegram-proxy/internal/config"
	"github.com/R2D1-BOT/retell-telegram-proxy/internal/handler"
	"github.com/R2D1-BOT/retell-telegram-proxy/internal/handler/webhook"
	"github.com/R2D1-BOT/retell-telegram-proxy/internal/service/relay"
	"github.com/R2D1-BOT/retell-telegram-proxy/internal/service/retell"
	"github.com/R2D1-BOT/retell-telegram-proxy/internal/service/session"
	"github.com/R2D1-BOT/retell-telegram-proxy/internal/service/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	notifier := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.BaseURL)
	gateway := retell.NewClient(cfg.Retell.APIKey, cfg.Retell.BaseURL)
	store := session.NewStore(cfg.Session.IdleTimeout, notifier)
	dispatcher := relay.NewDispatcher(store, gateway, notifier, cfg.Retell.AgentID)

	log.Printf("session idle timeout set to %s", cfg.Session.IdleTimeout)

	router := handler.NewRouter(webhook.New(dispatcher), cfg.Telegram.WebhookSecret)

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

	log.Printf("Telegram-Retell relay listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
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
