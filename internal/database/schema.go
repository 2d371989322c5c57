package database

// Timestamps are stored as Unix seconds (BIGINT/INTEGER) so the same
// queries run unchanged on MySQL and SQLite. Nullable expires_at uses
// NULL for grants that never expire.

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    email VARCHAR(255) NOT NULL UNIQUE,
    password_hash VARCHAR(255) NOT NULL,
    full_name VARCHAR(255),
    plan VARCHAR(32) NOT NULL DEFAULT 'free',
    role VARCHAR(16) NOT NULL DEFAULT 'user',
    is_banned TINYINT(1) NOT NULL DEFAULT 0,
    stripe_customer_id VARCHAR(64),
    referral_code VARCHAR(16) UNIQUE,
    referred_by VARCHAR(16),
    referrals_count INT NOT NULL DEFAULT 0,
    reset_token VARCHAR(64),
    reset_token_created_at BIGINT,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS credit_grants (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    source VARCHAR(191) NOT NULL UNIQUE,
    cv_amount INT NOT NULL DEFAULT 0,
    ai_amount INT NOT NULL DEFAULT 0,
    expires_at BIGINT,
    created_at BIGINT NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS credit_spends (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    source VARCHAR(191) NOT NULL,
    cv_amount INT NOT NULL DEFAULT 0,
    ai_amount INT NOT NULL DEFAULT 0,
    created_at BIGINT NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS stripe_events (
    event_id VARCHAR(191) PRIMARY KEY,
    created_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    stripe_customer_id VARCHAR(64) NOT NULL,
    stripe_subscription_id VARCHAR(191) NOT NULL UNIQUE,
    plan VARCHAR(32) NOT NULL,
    status VARCHAR(32) NOT NULL,
    current_period_end BIGINT,
    cancel_at_period_end TINYINT(1) NOT NULL DEFAULT 0,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS pricing_plans (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    code VARCHAR(16) NOT NULL UNIQUE,
    title VARCHAR(255) NOT NULL,
    stripe_price_id VARCHAR(191),
    currency VARCHAR(8) NOT NULL,
    price_minor_units INT NOT NULL,
    cv_credits INT NOT NULL DEFAULT 0,
    ai_credits INT NOT NULL DEFAULT 0,
    is_active TINYINT(1) NOT NULL DEFAULT 1,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    full_name TEXT,
    plan TEXT NOT NULL DEFAULT 'free',
    role TEXT NOT NULL DEFAULT 'user',
    is_banned INTEGER NOT NULL DEFAULT 0,
    stripe_customer_id TEXT,
    referral_code TEXT UNIQUE,
    referred_by TEXT,
    referrals_count INTEGER NOT NULL DEFAULT 0,
    reset_token TEXT,
    reset_token_created_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS credit_grants (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    source TEXT NOT NULL UNIQUE,
    cv_amount INTEGER NOT NULL DEFAULT 0,
    ai_amount INTEGER NOT NULL DEFAULT 0,
    expires_at INTEGER,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS credit_spends (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    source TEXT NOT NULL,
    cv_amount INTEGER NOT NULL DEFAULT 0,
    ai_amount INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS stripe_events (
    event_id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    stripe_customer_id TEXT NOT NULL,
    stripe_subscription_id TEXT NOT NULL UNIQUE,
    plan TEXT NOT NULL,
    status TEXT NOT NULL,
    current_period_end INTEGER,
    cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS pricing_plans (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    code TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    stripe_price_id TEXT,
    currency TEXT NOT NULL,
    price_minor_units INTEGER NOT NULL,
    cv_credits INTEGER NOT NULL DEFAULT 0,
    ai_credits INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`,
}
