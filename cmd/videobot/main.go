// Package main запускает HTTP-сервер Telegram-бота генерации видео.
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

	"github.com/mmeshcher/videobot-system/internal/config"
	"github.com/mmeshcher/videobot-system/internal/handler"
	"github.com/mmeshcher/videobot-system/internal/payment"
	"github.com/mmeshcher/videobot-system/internal/provider"
	"github.com/mmeshcher/videobot-system/internal/repository"
	"github.com/mmeshcher/videobot-system/internal/service"
	"github.com/mmeshcher/videobot-system/internal/telegram"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	tgClient := telegram.NewClient(cfg.TelegramAPIAddress, cfg.TelegramBotToken)
	provClient := provider.NewClient(cfg.ImageAPIAddress, cfg.VideoAPIAddress, cfg.StoryboardAPIAddress)

	var payClient service.PaymentCreator
	if cfg.YookassaShopID != "" {
		payClient = payment.NewClient("", cfg.YookassaShopID, cfg.YookassaSecretKey, cfg.YookassaReturnURL)
	}

	svc := service.NewService(repo, provClient, tgClient, payClient, service.Options{
		WelcomeBonus: cfg.WelcomeBonus,
		StarsRate:    cfg.StarsRate,
		PollInterval: cfg.PollInterval,
		OrderTimeout: cfg.OrderTimeout,
		MaxRetries:   cfg.MaxRetries,
		RateLimit:    cfg.RateLimit,
		RateWindow:   cfg.RateWindow,
		StateIdleTTL: cfg.StateIdleTTL,
	}, logger)
	defer svc.Close()

	h := handler.NewHandler(svc, logger, cfg.TelegramSecretToken, cfg.AdminToken)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой сверки заказов с системами генерации
	g.Go(func() error {
		svc.StartReconciliation(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting videobot server", "addr", cfg.RunAddress)
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
