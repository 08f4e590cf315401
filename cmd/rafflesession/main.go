// Package main запускает локальный мост сессий розыгрыша.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/raffle-session/internal/chain"
	"github.com/mmeshcher/raffle-session/internal/config"
	"github.com/mmeshcher/raffle-session/internal/handler"
	"github.com/mmeshcher/raffle-session/internal/middleware"
	"github.com/mmeshcher/raffle-session/internal/notify"
	"github.com/mmeshcher/raffle-session/internal/session"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	if cfg.GatewayAddress == "" {
		sugar.Fatalw("configuration error", "error", "chain gateway address is required")
	}
	if cfg.RaffleAddress == "" {
		sugar.Fatalw("configuration error", "error", "raffle account address is required")
	}

	gateway := chain.NewClient(cfg.GatewayAddress)

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		tg, err := notify.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, logger)
		if err != nil {
			sugar.Warnw("telegram notifier init failed, falling back to log", "error", err.Error())
		} else {
			notifier = tg
		}
	}

	manager := session.NewManager(logger, cfg.RaffleAddress, gateway, gateway, gateway, notifier)
	defer manager.Close()

	walletMiddleware := middleware.NewWalletMiddleware(cfg.SessionSecret)
	h := handler.NewHandler(manager, logger, walletMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting raffle session server",
			"addr", cfg.RunAddress,
			"raffle", cfg.RaffleAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
