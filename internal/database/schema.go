package database

// schema is applied statement by statement; keep statements separated by ";\n".
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id BIGINT PRIMARY KEY,
    username VARCHAR(255),
    first_name VARCHAR(255),
    is_admin TINYINT(1) NOT NULL DEFAULT 0,
    banned TINYINT(1) NOT NULL DEFAULT 0,
    muted_until DATETIME NULL,
    subscription_expires_at DATETIME NULL,
    subscription_permanent TINYINT(1) NOT NULL DEFAULT 0,
    gen_quota_kind VARCHAR(16) NOT NULL DEFAULT 'unbounded',
    gen_quota_limit INT NOT NULL DEFAULT 0,
    edit_quota_kind VARCHAR(16) NOT NULL DEFAULT 'unbounded',
    edit_quota_limit INT NOT NULL DEFAULT 0,
    referral_gen_bonus INT NOT NULL DEFAULT 0,
    referral_edit_bonus INT NOT NULL DEFAULT 0,
    monthly_generations INT NOT NULL DEFAULT 0,
    total_generations INT NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    last_activity DATETIME NOT NULL,
    INDEX idx_users_username (username),
    INDEX idx_users_created (created_at)
);

CREATE TABLE IF NOT EXISTS usage_counters (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    day DATE NOT NULL,
    generations INT NOT NULL DEFAULT 0,
    edits INT NOT NULL DEFAULT 0,
    UNIQUE KEY uniq_usage_user_day (user_id, day),
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS usage_events (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    action VARCHAR(16) NOT NULL,
    created_at DATETIME(3) NOT NULL,
    INDEX idx_usage_events_window (user_id, action, created_at),
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS activation_keys (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    token VARCHAR(64) NOT NULL,
    duration_minutes INT NULL,
    used TINYINT(1) NOT NULL DEFAULT 0,
    used_by BIGINT NULL,
    used_at DATETIME NULL,
    created_at DATETIME NOT NULL,
    UNIQUE KEY uniq_keys_token (token),
    FOREIGN KEY (used_by) REFERENCES users(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS referrals (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    referrer_id BIGINT NOT NULL,
    referred_id BIGINT NOT NULL,
    gen_reward INT NOT NULL,
    edit_reward INT NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE KEY uniq_referrals_referred (referred_id),
    INDEX idx_referrals_referrer (referrer_id),
    FOREIGN KEY (referrer_id) REFERENCES users(id) ON DELETE CASCADE,
    FOREIGN KEY (referred_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS subscription_plans (
    name VARCHAR(32) PRIMARY KEY,
    title VARCHAR(128) NOT NULL,
    price_rub INT NOT NULL,
    gen_quota_kind VARCHAR(16) NOT NULL,
    gen_quota_limit INT NOT NULL DEFAULT 0,
    edit_quota_kind VARCHAR(16) NOT NULL,
    edit_quota_limit INT NOT NULL DEFAULT 0,
    duration_days INT NOT NULL,
    monthly_cap INT NOT NULL DEFAULT 0,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS referral_settings (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    gen_reward INT NOT NULL,
    edit_reward INT NOT NULL,
    created_at DATETIME(3) NOT NULL
);

CREATE TABLE IF NOT EXISTS payments (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    plan VARCHAR(32) NOT NULL,
    provider VARCHAR(64) NOT NULL,
    provider_payment_charge_id VARCHAR(128) NOT NULL,
    currency VARCHAR(8) NOT NULL,
    amount INT NOT NULL,
    status VARCHAR(16) NOT NULL,
    raw_payload TEXT,
    created_at DATETIME NOT NULL,
    UNIQUE KEY uniq_payments_charge (provider, provider_payment_charge_id),
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS images (
    id CHAR(36) PRIMARY KEY,
    user_id BIGINT NOT NULL,
    action VARCHAR(16) NOT NULL,
    prompt TEXT NOT NULL,
    url VARCHAR(1024) NOT NULL,
    created_at DATETIME NOT NULL,
    INDEX idx_images_user (user_id, created_at),
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);
`
