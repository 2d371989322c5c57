package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cvforge/cvforge/internal/config"
	"github.com/cvforge/cvforge/internal/database"
	"github.com/cvforge/cvforge/internal/repository"
)

type testEnv struct {
	cfg       config.Config
	db        *database.DB
	userRepo  *repository.UserRepository
	ledgerRep *repository.LedgerRepository
	users     *UserService
	ledger    *LedgerService
	referrals *ReferralService
	plans     *PlanService
	billing   *BillingService
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Config{
		DatabaseDriver: "sqlite",
		DatabaseDSN: "file:" + filepath.Join(t.TempDir(), "test.db") +
			"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)",
		JWTSecret:              "test-secret",
		SessionTTL:             time.Hour,
		ResetTokenTTL:          2 * time.Hour,
		FrontendURL:            "https://app.example.test",
		StripeSecretKey:        "sk_test_123",
		StripeWebhookSecret:    "whsec_test_123",
		StripePriceMonthly:     "price_monthly",
		StripePricePro:         "price_pro",
		StarterCV:              5,
		StarterAI:              5,
		ReferralCap:            10,
		ReferralBonusCV:        5,
		ReferralBonusAI:        5,
		MonthlyCVCredits:       20,
		MonthlyAICredits:       30,
		ProCVCredits:           50,
		ProAICredits:           90,
		MonthlyPriceMinorUnits: 999,
		ProPriceMinorUnits:     1999,
		Currency:               "GBP",
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	db, err := database.Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	userRepo := repository.NewUserRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	eventRepo := repository.NewEventRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	planRepo := repository.NewPlanRepository(db)

	ledger := NewLedgerService(ledgerRepo)
	referrals := NewReferralService(cfg, log, userRepo, ledgerRepo)
	users := NewUserService(cfg, userRepo, ledger, referrals)
	plans := NewPlanService(cfg, planRepo)
	billing := NewBillingService(cfg, log, userRepo, ledgerRepo, eventRepo, subRepo, plans)

	require.NoError(t, plans.EnsureDefaults(context.Background()))

	return &testEnv{
		cfg:       cfg,
		db:        db,
		userRepo:  userRepo,
		ledgerRep: ledgerRepo,
		users:     users,
		ledger:    ledger,
		referrals: referrals,
		plans:     plans,
		billing:   billing,
	}
}
