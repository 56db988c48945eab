package store

const schema = `
CREATE TABLE IF NOT EXISTS products (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    canonical_name TEXT NOT NULL UNIQUE,
    category       TEXT NOT NULL DEFAULT '',
    first_seen     DATETIME NOT NULL,
    image_url      TEXT NOT NULL DEFAULT '',
    source_url     TEXT NOT NULL DEFAULT '',
    description    TEXT NOT NULL DEFAULT '',
    price_low      REAL,
    price_high     REAL
);

CREATE TABLE IF NOT EXISTS product_aliases (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    product_id INTEGER NOT NULL REFERENCES products(id),
    alias_name TEXT NOT NULL,
    source     TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE(product_id, alias_name)
);

CREATE INDEX IF NOT EXISTS idx_aliases_name ON product_aliases(alias_name);

CREATE TABLE IF NOT EXISTS raw_signals (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    product_id   INTEGER REFERENCES products(id),
    product_name TEXT NOT NULL,
    source       TEXT NOT NULL,
    signal_type  TEXT NOT NULL,
    value        REAL NOT NULL,
    metadata     TEXT NOT NULL DEFAULT '{}',
    collected_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signals_product ON raw_signals(product_id, collected_at);
CREATE INDEX IF NOT EXISTS idx_signals_collected ON raw_signals(collected_at);

CREATE TABLE IF NOT EXISTS trend_scores (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    product_id      INTEGER NOT NULL REFERENCES products(id),
    scored_at       DATETIME NOT NULL,
    search_accel    REAL NOT NULL,
    social_velocity REAL NOT NULL,
    retail_momentum REAL NOT NULL,
    price_fit       REAL NOT NULL,
    trend_shape     REAL NOT NULL,
    purchase_intent REAL NOT NULL,
    recency         REAL NOT NULL,
    sentiment       REAL NOT NULL,
    platform_count  REAL NOT NULL,
    platforms       INTEGER NOT NULL DEFAULT 0,
    composite       REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scores_product ON trend_scores(product_id, id);

CREATE TABLE IF NOT EXISTS price_history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    product_id  INTEGER NOT NULL REFERENCES products(id),
    price       REAL NOT NULL,
    source      TEXT NOT NULL,
    recorded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prices_product ON price_history(product_id);
`
