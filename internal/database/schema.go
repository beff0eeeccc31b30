package database

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT NOT NULL UNIQUE,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    salt TEXT NOT NULL,
    premium_credits INTEGER NOT NULL DEFAULT 0,
    free_credits_today INTEGER NOT NULL DEFAULT 0,
    free_credits_reset_on TEXT NOT NULL DEFAULT '',
    subscription_status TEXT NOT NULL DEFAULT 'none',
    subscription_expires_at DATETIME,
    stripe_customer_id TEXT,
    referral_code TEXT NOT NULL UNIQUE,
    referred_by INTEGER,
    total_generations INTEGER NOT NULL DEFAULT 0,
    total_credits_purchased INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    last_login DATETIME
);

CREATE TABLE IF NOT EXISTS sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES users(id),
    token TEXT NOT NULL UNIQUE,
    created_at DATETIME NOT NULL,
    expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

CREATE TABLE IF NOT EXISTS credit_reservations (
    id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL REFERENCES users(id),
    source TEXT NOT NULL,
    amount INTEGER NOT NULL,
    engine TEXT NOT NULL,
    status TEXT NOT NULL,
    generation_id TEXT,
    reason TEXT,
    created_at DATETIME NOT NULL,
    resolved_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_reservations_status ON credit_reservations(status, created_at);

CREATE TABLE IF NOT EXISTS credit_ledger (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES users(id),
    bucket TEXT NOT NULL,
    delta INTEGER NOT NULL,
    reason TEXT NOT NULL,
    reference TEXT,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credit_ledger_user ON credit_ledger(user_id, created_at);

CREATE TABLE IF NOT EXISTS payments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES users(id),
    provider TEXT NOT NULL,
    provider_ref TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL,
    credits INTEGER NOT NULL DEFAULT 0,
    amount_cents INTEGER NOT NULL DEFAULT 0,
    currency TEXT NOT NULL DEFAULT 'usd',
    status TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS generations (
    id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL,
    prompt TEXT NOT NULL,
    prompt_hash TEXT NOT NULL,
    engine TEXT NOT NULL,
    settings TEXT NOT NULL DEFAULT '{}',
    image_url TEXT NOT NULL DEFAULT '',
    cost REAL NOT NULL DEFAULT 0,
    credit_source TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    rating INTEGER,
    quality_score REAL,
    feedback TEXT,
    downloaded INTEGER NOT NULL DEFAULT 0,
    shared INTEGER NOT NULL DEFAULT 0,
    edited INTEGER NOT NULL DEFAULT 0,
    regenerated INTEGER NOT NULL DEFAULT 0,
    used_in_project INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    rated_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_generations_user ON generations(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_generations_prompt ON generations(prompt_hash, engine);

CREATE TABLE IF NOT EXISTS prompt_analytics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    prompt_hash TEXT NOT NULL,
    engine TEXT NOT NULL,
    prompt TEXT NOT NULL,
    total_generations INTEGER NOT NULL DEFAULT 0,
    total_ratings INTEGER NOT NULL DEFAULT 0,
    rating_1 INTEGER NOT NULL DEFAULT 0,
    rating_2 INTEGER NOT NULL DEFAULT 0,
    rating_3 INTEGER NOT NULL DEFAULT 0,
    rating_4 INTEGER NOT NULL DEFAULT 0,
    rating_5 INTEGER NOT NULL DEFAULT 0,
    avg_rating REAL NOT NULL DEFAULT 0,
    success_rate REAL NOT NULL DEFAULT 0,
    download_rate REAL NOT NULL DEFAULT 0,
    share_rate REAL NOT NULL DEFAULT 0,
    updated_at DATETIME NOT NULL,
    UNIQUE (prompt_hash, engine)
);

CREATE TABLE IF NOT EXISTS model_performance (
    engine TEXT NOT NULL,
    day TEXT NOT NULL,
    generations INTEGER NOT NULL DEFAULT 0,
    failures INTEGER NOT NULL DEFAULT 0,
    ratings INTEGER NOT NULL DEFAULT 0,
    rating_sum INTEGER NOT NULL DEFAULT 0,
    total_duration_ms INTEGER NOT NULL DEFAULT 0,
    total_cost REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (engine, day)
);

CREATE TABLE IF NOT EXISTS engine_profiles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    engine TEXT NOT NULL,
    settings_hash TEXT NOT NULL,
    settings_json TEXT NOT NULL,
    total_uses INTEGER NOT NULL DEFAULT 0,
    avg_rating REAL NOT NULL DEFAULT 0,
    avg_quality_score REAL NOT NULL DEFAULT 0,
    avg_generation_time REAL NOT NULL DEFAULT 0,
    avg_cost REAL NOT NULL DEFAULT 0,
    success_rate REAL NOT NULL DEFAULT 0,
    quality_per_dollar REAL NOT NULL DEFAULT 0,
    quality_per_second REAL NOT NULL DEFAULT 0,
    overall_score REAL NOT NULL DEFAULT 0,
    last_used DATETIME NOT NULL,
    UNIQUE (engine, settings_hash)
);

CREATE TABLE IF NOT EXISTS generation_performance (
    generation_id TEXT PRIMARY KEY,
    engine TEXT NOT NULL,
    settings_hash TEXT NOT NULL,
    category TEXT NOT NULL,
    generation_time REAL NOT NULL,
    cost REAL NOT NULL,
    rating INTEGER,
    quality_score REAL,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS api_costs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER,
    api_service TEXT NOT NULL,
    operation TEXT NOT NULL,
    cost REAL NOT NULL,
    success INTEGER NOT NULL DEFAULT 1,
    request_id TEXT,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_api_costs_created ON api_costs(created_at);

CREATE TABLE IF NOT EXISTS revenue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER,
    amount REAL NOT NULL,
    type TEXT NOT NULL,
    description TEXT,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_revenue_created ON revenue(created_at);

CREATE TABLE IF NOT EXISTS cost_alerts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    level TEXT NOT NULL,
    metric TEXT NOT NULL,
    bucket TEXT NOT NULL,
    message TEXT NOT NULL,
    value REAL NOT NULL,
    threshold REAL NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE (level, metric, bucket)
);

CREATE TABLE IF NOT EXISTS harvested_prompts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source TEXT NOT NULL,
    source_ref TEXT,
    prompt TEXT NOT NULL,
    prompt_hash TEXT NOT NULL UNIQUE,
    engagement REAL NOT NULL DEFAULT 0,
    image_url TEXT,
    metadata TEXT,
    analyzed INTEGER NOT NULL DEFAULT 0,
    harvested_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS learned_patterns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    value TEXT NOT NULL,
    occurrences INTEGER NOT NULL DEFAULT 0,
    score REAL NOT NULL DEFAULT 0,
    last_seen DATETIME NOT NULL,
    UNIQUE (kind, value)
);

CREATE TABLE IF NOT EXISTS learning_sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    items_processed INTEGER NOT NULL DEFAULT 0,
    patterns_discovered INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS content_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    topic TEXT NOT NULL,
    platforms TEXT NOT NULL,
    language TEXT NOT NULL,
    quality TEXT NOT NULL,
    content_type TEXT NOT NULL,
    caption TEXT NOT NULL,
    hashtags TEXT NOT NULL,
    media_url TEXT,
    status TEXT NOT NULL,
    scheduled_for DATETIME,
    last_error TEXT,
    created_at DATETIME NOT NULL,
    posted_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_content_queue_due ON content_queue(status, scheduled_for);

CREATE TABLE IF NOT EXISTS posted_content (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    content_id INTEGER NOT NULL REFERENCES content_queue(id),
    platform TEXT NOT NULL,
    external_id TEXT,
    url TEXT,
    likes INTEGER NOT NULL DEFAULT 0,
    shares INTEGER NOT NULL DEFAULT 0,
    comments INTEGER NOT NULL DEFAULT 0,
    views INTEGER NOT NULL DEFAULT 0,
    posted_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS platform_credentials (
    platform TEXT PRIMARY KEY,
    access_token TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    account_id TEXT,
    updated_at DATETIME NOT NULL
);
`

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS users (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    username VARCHAR(64) NOT NULL UNIQUE,
    email VARCHAR(255) NOT NULL UNIQUE,
    password_hash VARCHAR(128) NOT NULL,
    salt VARCHAR(128) NOT NULL,
    premium_credits INT NOT NULL DEFAULT 0,
    free_credits_today INT NOT NULL DEFAULT 0,
    free_credits_reset_on VARCHAR(10) NOT NULL DEFAULT '',
    subscription_status VARCHAR(16) NOT NULL DEFAULT 'none',
    subscription_expires_at DATETIME NULL,
    stripe_customer_id VARCHAR(255) NULL,
    referral_code VARCHAR(16) NOT NULL UNIQUE,
    referred_by BIGINT NULL,
    total_generations INT NOT NULL DEFAULT 0,
    total_credits_purchased INT NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    last_login DATETIME NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    token VARCHAR(128) NOT NULL UNIQUE,
    created_at DATETIME NOT NULL,
    expires_at DATETIME NOT NULL,
    INDEX idx_sessions_expires (expires_at),
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS credit_reservations (
    id CHAR(36) PRIMARY KEY,
    user_id BIGINT NOT NULL,
    source VARCHAR(16) NOT NULL,
    amount INT NOT NULL,
    engine VARCHAR(32) NOT NULL,
    status VARCHAR(16) NOT NULL,
    generation_id CHAR(36) NULL,
    reason TEXT NULL,
    created_at DATETIME NOT NULL,
    resolved_at DATETIME NULL,
    INDEX idx_reservations_status (status, created_at),
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS credit_ledger (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    bucket VARCHAR(16) NOT NULL,
    delta INT NOT NULL,
    reason VARCHAR(64) NOT NULL,
    reference VARCHAR(255) NULL,
    created_at DATETIME NOT NULL,
    INDEX idx_credit_ledger_user (user_id, created_at),
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS payments (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    provider VARCHAR(32) NOT NULL,
    provider_ref VARCHAR(255) NOT NULL UNIQUE,
    kind VARCHAR(16) NOT NULL,
    credits INT NOT NULL DEFAULT 0,
    amount_cents BIGINT NOT NULL DEFAULT 0,
    currency VARCHAR(8) NOT NULL DEFAULT 'usd',
    status VARCHAR(16) NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS generations (
    id CHAR(36) PRIMARY KEY,
    user_id BIGINT NOT NULL,
    prompt TEXT NOT NULL,
    prompt_hash CHAR(64) NOT NULL,
    engine VARCHAR(32) NOT NULL,
    settings TEXT NOT NULL,
    image_url TEXT NOT NULL,
    cost DOUBLE NOT NULL DEFAULT 0,
    credit_source VARCHAR(16) NOT NULL DEFAULT '',
    duration_ms BIGINT NOT NULL DEFAULT 0,
    rating INT NULL,
    quality_score DOUBLE NULL,
    feedback TEXT NULL,
    downloaded TINYINT NOT NULL DEFAULT 0,
    shared TINYINT NOT NULL DEFAULT 0,
    edited TINYINT NOT NULL DEFAULT 0,
    regenerated TINYINT NOT NULL DEFAULT 0,
    used_in_project TINYINT NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    rated_at DATETIME NULL,
    INDEX idx_generations_user (user_id, created_at),
    INDEX idx_generations_prompt (prompt_hash, engine)
);

CREATE TABLE IF NOT EXISTS prompt_analytics (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    prompt_hash CHAR(64) NOT NULL,
    engine VARCHAR(32) NOT NULL,
    prompt TEXT NOT NULL,
    total_generations INT NOT NULL DEFAULT 0,
    total_ratings INT NOT NULL DEFAULT 0,
    rating_1 INT NOT NULL DEFAULT 0,
    rating_2 INT NOT NULL DEFAULT 0,
    rating_3 INT NOT NULL DEFAULT 0,
    rating_4 INT NOT NULL DEFAULT 0,
    rating_5 INT NOT NULL DEFAULT 0,
    avg_rating DOUBLE NOT NULL DEFAULT 0,
    success_rate DOUBLE NOT NULL DEFAULT 0,
    download_rate DOUBLE NOT NULL DEFAULT 0,
    share_rate DOUBLE NOT NULL DEFAULT 0,
    updated_at DATETIME NOT NULL,
    UNIQUE KEY uniq_prompt_engine (prompt_hash, engine)
);

CREATE TABLE IF NOT EXISTS model_performance (
    engine VARCHAR(32) NOT NULL,
    day CHAR(10) NOT NULL,
    generations INT NOT NULL DEFAULT 0,
    failures INT NOT NULL DEFAULT 0,
    ratings INT NOT NULL DEFAULT 0,
    rating_sum INT NOT NULL DEFAULT 0,
    total_duration_ms BIGINT NOT NULL DEFAULT 0,
    total_cost DOUBLE NOT NULL DEFAULT 0,
    PRIMARY KEY (engine, day)
);

CREATE TABLE IF NOT EXISTS engine_profiles (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    engine VARCHAR(32) NOT NULL,
    settings_hash CHAR(32) NOT NULL,
    settings_json TEXT NOT NULL,
    total_uses INT NOT NULL DEFAULT 0,
    avg_rating DOUBLE NOT NULL DEFAULT 0,
    avg_quality_score DOUBLE NOT NULL DEFAULT 0,
    avg_generation_time DOUBLE NOT NULL DEFAULT 0,
    avg_cost DOUBLE NOT NULL DEFAULT 0,
    success_rate DOUBLE NOT NULL DEFAULT 0,
    quality_per_dollar DOUBLE NOT NULL DEFAULT 0,
    quality_per_second DOUBLE NOT NULL DEFAULT 0,
    overall_score DOUBLE NOT NULL DEFAULT 0,
    last_used DATETIME NOT NULL,
    UNIQUE KEY uniq_engine_settings (engine, settings_hash)
);

CREATE TABLE IF NOT EXISTS generation_performance (
    generation_id CHAR(36) PRIMARY KEY,
    engine VARCHAR(32) NOT NULL,
    settings_hash CHAR(32) NOT NULL,
    category VARCHAR(32) NOT NULL,
    generation_time DOUBLE NOT NULL,
    cost DOUBLE NOT NULL,
    rating INT NULL,
    quality_score DOUBLE NULL,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS api_costs (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NULL,
    api_service VARCHAR(32) NOT NULL,
    operation VARCHAR(64) NOT NULL,
    cost DOUBLE NOT NULL,
    success TINYINT NOT NULL DEFAULT 1,
    request_id VARCHAR(64) NULL,
    created_at DATETIME NOT NULL,
    INDEX idx_api_costs_created (created_at)
);

CREATE TABLE IF NOT EXISTS revenue (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NULL,
    amount DOUBLE NOT NULL,
    type VARCHAR(32) NOT NULL,
    description TEXT NULL,
    created_at DATETIME NOT NULL,
    INDEX idx_revenue_created (created_at)
);

CREATE TABLE IF NOT EXISTS cost_alerts (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    level VARCHAR(16) NOT NULL,
    metric VARCHAR(32) NOT NULL,
    bucket VARCHAR(16) NOT NULL,
    message TEXT NOT NULL,
    value DOUBLE NOT NULL,
    threshold DOUBLE NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE KEY uniq_alert_bucket (level, metric, bucket)
);

CREATE TABLE IF NOT EXISTS harvested_prompts (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    source VARCHAR(32) NOT NULL,
    source_ref TEXT NULL,
    prompt TEXT NOT NULL,
    prompt_hash CHAR(64) NOT NULL UNIQUE,
    engagement DOUBLE NOT NULL DEFAULT 0,
    image_url TEXT NULL,
    metadata TEXT NULL,
    analyzed TINYINT NOT NULL DEFAULT 0,
    harvested_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS learned_patterns (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    kind VARCHAR(32) NOT NULL,
    value VARCHAR(255) NOT NULL,
    occurrences INT NOT NULL DEFAULT 0,
    score DOUBLE NOT NULL DEFAULT 0,
    last_seen DATETIME NOT NULL,
    UNIQUE KEY uniq_pattern (kind, value)
);

CREATE TABLE IF NOT EXISTS learning_sessions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    kind VARCHAR(32) NOT NULL,
    status VARCHAR(16) NOT NULL,
    items_processed INT NOT NULL DEFAULT 0,
    patterns_discovered INT NOT NULL DEFAULT 0,
    error TEXT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME NULL
);

CREATE TABLE IF NOT EXISTS content_queue (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    topic VARCHAR(255) NOT NULL,
    platforms TEXT NOT NULL,
    language VARCHAR(8) NOT NULL,
    quality VARCHAR(16) NOT NULL,
    content_type VARCHAR(16) NOT NULL,
    caption TEXT NOT NULL,
    hashtags TEXT NOT NULL,
    media_url TEXT NULL,
    status VARCHAR(16) NOT NULL,
    scheduled_for DATETIME NULL,
    last_error TEXT NULL,
    created_at DATETIME NOT NULL,
    posted_at DATETIME NULL,
    INDEX idx_content_queue_due (status, scheduled_for)
);

CREATE TABLE IF NOT EXISTS posted_content (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    content_id BIGINT NOT NULL,
    platform VARCHAR(32) NOT NULL,
    external_id VARCHAR(255) NULL,
    url TEXT NULL,
    likes INT NOT NULL DEFAULT 0,
    shares INT NOT NULL DEFAULT 0,
    comments INT NOT NULL DEFAULT 0,
    views INT NOT NULL DEFAULT 0,
    posted_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    FOREIGN KEY (content_id) REFERENCES content_queue(id)
);

CREATE TABLE IF NOT EXISTS platform_credentials (
    platform VARCHAR(32) PRIMARY KEY,
    access_token TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    account_id VARCHAR(255) NULL,
    updated_at DATETIME NOT NULL
);
`
