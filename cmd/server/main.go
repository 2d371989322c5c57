package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/cvforge/cvforge/internal/config"
	"github.com/cvforge/cvforge/internal/database"
	"github.com/cvforge/cvforge/internal/repository"
	"github.com/cvforge/cvforge/internal/server"
	"github.com/cvforge/cvforge/internal/service"
	"github.com/cvforge/cvforge/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	eventRepo := repository.NewEventRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	planRepo := repository.NewPlanRepository(db)

	ledgerService := service.NewLedgerService(ledgerRepo)
	referralService := service.NewReferralService(cfg, logr, userRepo, ledgerRepo)
	userService := service.NewUserService(cfg, userRepo, ledgerService, referralService)
	planService := service.NewPlanService(cfg, planRepo)
	billingService := service.NewBillingService(cfg, logr, userRepo, ledgerRepo, eventRepo, subscriptionRepo, planService)

	if err := planService.EnsureDefaults(ctx); err != nil {
		log.Fatalf("ensure default plans: %v", err)
	}

	srv := server.NewServer(cfg, logr, userService, ledgerService, billingService, planService)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("server stopped", "err", err)
	}
}
