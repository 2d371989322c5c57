package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API server and billing.
type Config struct {
	ListenAddr string
	LogLevel   string

	// DatabaseDriver is "mysql" (production) or "sqlite" (local/dev).
	DatabaseDriver string
	DatabaseDSN    string

	JWTSecret   string
	SessionTTL  time.Duration
	FrontendURL string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceMonthly  string
	StripePricePro      string

	// CreditStacking keeps invoice grants alive past the billing period
	// instead of expiring them at period end.
	CreditStacking bool

	StarterCV int
	StarterAI int

	ReferralCap     int
	ReferralBonusCV int
	ReferralBonusAI int

	MonthlyCVCredits int
	MonthlyAICredits int
	ProCVCredits     int
	ProAICredits     int

	MonthlyPriceMinorUnits int
	ProPriceMinorUnits     int
	Currency               string

	ResetTokenTTL time.Duration
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:             getEnv("LISTEN_ADDR", ":8080"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		DatabaseDriver:         strings.ToLower(getEnv("DATABASE_DRIVER", "mysql")),
		SessionTTL:             time.Hour * time.Duration(getInt("SESSION_TTL_HOURS", 24)),
		FrontendURL:            strings.TrimRight(getEnv("FRONTEND_URL", ""), "/"),
		StripePriceMonthly:     getEnv("STRIPE_PRICE_MONTHLY", ""),
		StripePricePro:         getEnv("STRIPE_PRICE_PRO", ""),
		CreditStacking:         getBool("CREDIT_STACKING", false),
		StarterCV:              getInt("STARTER_CV_CREDITS", 5),
		StarterAI:              getInt("STARTER_AI_CREDITS", 5),
		ReferralCap:            getInt("REFERRAL_CAP", 10),
		ReferralBonusCV:        getInt("REFERRAL_BONUS_CV", 5),
		ReferralBonusAI:        getInt("REFERRAL_BONUS_AI", 5),
		MonthlyCVCredits:       getInt("MONTHLY_CV_CREDITS", 20),
		MonthlyAICredits:       getInt("MONTHLY_AI_CREDITS", 30),
		ProCVCredits:           getInt("PRO_CV_CREDITS", 50),
		ProAICredits:           getInt("PRO_AI_CREDITS", 90),
		MonthlyPriceMinorUnits: getInt("MONTHLY_PRICE_MINOR_UNITS", 999),
		ProPriceMinorUnits:     getInt("PRO_PRICE_MINOR_UNITS", 1999),
		Currency:               getEnv("CURRENCY", "GBP"),
		ResetTokenTTL:          time.Hour * time.Duration(getInt("RESET_TOKEN_TTL_HOURS", 2)),
	}

	cfg.DatabaseDSN = os.Getenv("DATABASE_DSN")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")

	var missing []string
	if cfg.DatabaseDSN == "" {
		missing = append(missing, "DATABASE_DSN")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	if cfg.DatabaseDriver != "mysql" && cfg.DatabaseDriver != "sqlite" {
		return Config{}, fmt.Errorf("unsupported DATABASE_DRIVER: %s", cfg.DatabaseDriver)
	}

	return cfg, nil
}

func loadEnvFile() error {
	if _, err := os.Stat(".env"); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat .env: %w", err)
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
