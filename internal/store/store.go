package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/elonfeng/productradar/pkg/source"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

// Product is a canonical product identity.
type Product struct {
	ID            int64     `db:"id" json:"id"`
	CanonicalName string    `db:"canonical_name" json:"canonical_name"`
	Category      string    `db:"category" json:"category,omitempty"`
	FirstSeen     time.Time `db:"first_seen" json:"first_seen"`
	ImageURL      string    `db:"image_url" json:"image_url,omitempty"`
	SourceURL     string    `db:"source_url" json:"source_url,omitempty"`
	Description   string    `db:"description" json:"description,omitempty"`
	PriceLow      *float64  `db:"price_low" json:"price_low,omitempty"`
	PriceHigh     *float64  `db:"price_high" json:"price_high,omitempty"`
}

// Alias maps a normalized name variant to a product.
type Alias struct {
	ID        int64             `db:"id" json:"id"`
	ProductID int64             `db:"product_id" json:"product_id"`
	Name      string            `db:"alias_name" json:"alias_name"`
	Source    source.SourceType `db:"source" json:"source"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
}

// TrendScore is one immutable snapshot of a product's component scores.
type TrendScore struct {
	ID             int64     `db:"id" json:"id"`
	ProductID      int64     `db:"product_id" json:"product_id"`
	ScoredAt       time.Time `db:"scored_at" json:"scored_at"`
	SearchAccel    float64   `db:"search_accel" json:"search_accel"`
	SocialVelocity float64   `db:"social_velocity" json:"social_velocity"`
	RetailMomentum float64   `db:"retail_momentum" json:"retail_momentum"`
	PriceFit       float64   `db:"price_fit" json:"price_fit"`
	TrendShape     float64   `db:"trend_shape" json:"trend_shape"`
	PurchaseIntent float64   `db:"purchase_intent" json:"purchase_intent"`
	Recency        float64   `db:"recency" json:"recency"`
	Sentiment      float64   `db:"sentiment" json:"sentiment"`
	PlatformCount  float64   `db:"platform_count" json:"platform_count"`
	Platforms      int       `db:"platforms" json:"platforms"`
	Composite      float64   `db:"composite" json:"composite"`
}

// PriceObservation is one price seen for a product.
type PriceObservation struct {
	ID         int64             `db:"id" json:"id"`
	ProductID  int64             `db:"product_id" json:"product_id"`
	Price      float64           `db:"price" json:"price"`
	Source     source.SourceType `db:"source" json:"source"`
	RecordedAt time.Time         `db:"recorded_at" json:"recorded_at"`
}

// ProductUpdate carries enrichment fields. Text fields are write-once: a
// non-empty stored value is never replaced.
type ProductUpdate struct {
	Category    string
	ImageURL    string
	SourceURL   string
	Description string
}

// SignalQuery selects signals. Zero fields do not filter.
type SignalQuery struct {
	ProductID int64
	Sources   []source.SourceType
	Since     time.Time
	Limit     int
}

// Store is the persistence interface.
type Store interface {
	AppendSignals(ctx context.Context, signals []source.Signal) error
	QuerySignals(ctx context.Context, q SignalQuery) ([]source.Signal, error)
	DistinctSources(ctx context.Context, productID int64) ([]source.SourceType, error)

	GetProduct(ctx context.Context, id int64) (*Product, error)
	GetByCanonicalName(ctx context.Context, name string) (*Product, error)
	GetByAlias(ctx context.Context, name string) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	ListAliases(ctx context.Context) ([]Alias, error)
	GetAliasesFor(ctx context.Context, productID int64) ([]Alias, error)
	CreateProduct(ctx context.Context, p *Product) error
	AddAlias(ctx context.Context, productID int64, name string, src source.SourceType) error
	UpdateProduct(ctx context.Context, id int64, u ProductUpdate) error
	RecordPrice(ctx context.Context, productID int64, price float64, src source.SourceType, at time.Time) error
	PriceHistory(ctx context.Context, productID int64) ([]PriceObservation, error)

	AppendSnapshot(ctx context.Context, s *TrendScore) error
	RecentSnapshots(ctx context.Context, productID int64, limit int) ([]TrendScore, error)
	LatestPerProduct(ctx context.Context) ([]TrendScore, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AppendSignals(ctx context.Context, signals []source.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append signals: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO raw_signals (product_id, product_name, source, signal_type, value, metadata, collected_at)
		VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare append signals: %w", err)
	}
	defer stmt.Close()

	for i := range signals {
		sig := &signals[i]
		meta, err := json.Marshal(sig.Metadata)
		if err != nil || sig.Metadata == nil {
			meta = []byte("{}")
		}
		collected := sig.CollectedAt
		if collected.IsZero() {
			collected = time.Now()
		}
		res, err := stmt.ExecContext(ctx, sig.ProductID, sig.ProductName, sig.Source,
			sig.Type, sig.Value, string(meta), collected.UTC())
		if err != nil {
			return fmt.Errorf("append signal %s/%s: %w", sig.Source, sig.Type, err)
		}
		if id, err := res.LastInsertId(); err == nil {
			sig.ID = id
		}
	}
	return tx.Commit()
}

const signalColumns = `id, COALESCE(product_id, 0) AS product_id, product_name, source, signal_type, value, metadata, collected_at`

func (s *SQLiteStore) QuerySignals(ctx context.Context, q SignalQuery) ([]source.Signal, error) {
	query := "SELECT " + signalColumns + " FROM raw_signals WHERE 1=1"
	var args []any

	if q.ProductID != 0 {
		query += " AND product_id = ?"
		args = append(args, q.ProductID)
	}
	if len(q.Sources) > 0 {
		query += " AND source IN (?)"
		args = append(args, q.Sources)
	}
	if !q.Since.IsZero() {
		query += " AND collected_at >= ?"
		args = append(args, q.Since.UTC())
	}
	query += " ORDER BY collected_at ASC, id ASC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	if len(q.Sources) > 0 {
		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return nil, fmt.Errorf("expand signal query: %w", err)
		}
		query = s.db.Rebind(query)
	}

	var signals []source.Signal
	if err := s.db.SelectContext(ctx, &signals, query, args...); err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	for i := range signals {
		decodeMetadata(&signals[i])
	}
	return signals, nil
}

func (s *SQLiteStore) DistinctSources(ctx context.Context, productID int64) ([]source.SourceType, error) {
	var sources []source.SourceType
	err := s.db.SelectContext(ctx, &sources,
		"SELECT DISTINCT source FROM raw_signals WHERE product_id = ? ORDER BY source", productID)
	if err != nil {
		return nil, fmt.Errorf("distinct sources %d: %w", productID, err)
	}
	return sources, nil
}

// decodeMetadata tolerates malformed blobs by leaving Metadata empty.
func decodeMetadata(sig *source.Signal) {
	if sig.MetaJSON == "" {
		return
	}
	var meta source.Metadata
	if err := json.Unmarshal([]byte(sig.MetaJSON), &meta); err == nil {
		sig.Metadata = meta
	}
}

func (s *SQLiteStore) getProduct(ctx context.Context, query string, arg any) (*Product, error) {
	var p Product
	err := s.db.GetContext(ctx, &p, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) GetProduct(ctx context.Context, id int64) (*Product, error) {
	p, err := s.getProduct(ctx, "SELECT * FROM products WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get product %d: %w", id, err)
	}
	return p, nil
}

func (s *SQLiteStore) GetByCanonicalName(ctx context.Context, name string) (*Product, error) {
	p, err := s.getProduct(ctx, "SELECT * FROM products WHERE canonical_name = ?", name)
	if err != nil {
		return nil, fmt.Errorf("get product %q: %w", name, err)
	}
	return p, nil
}

// GetByAlias returns the owner of the lowest-id alias with this name.
func (s *SQLiteStore) GetByAlias(ctx context.Context, name string) (*Product, error) {
	p, err := s.getProduct(ctx, `
		SELECT p.* FROM products p
		JOIN product_aliases a ON a.product_id = p.id
		WHERE a.alias_name = ?
		ORDER BY a.id ASC LIMIT 1`, name)
	if err != nil {
		return nil, fmt.Errorf("get product by alias %q: %w", name, err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProducts(ctx context.Context) ([]Product, error) {
	var products []Product
	if err := s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY id ASC"); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

func (s *SQLiteStore) ListAliases(ctx context.Context) ([]Alias, error) {
	var aliases []Alias
	err := s.db.SelectContext(ctx, &aliases, "SELECT * FROM product_aliases ORDER BY product_id ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	return aliases, nil
}

func (s *SQLiteStore) GetAliasesFor(ctx context.Context, productID int64) ([]Alias, error) {
	var aliases []Alias
	err := s.db.SelectContext(ctx, &aliases,
		"SELECT * FROM product_aliases WHERE product_id = ? ORDER BY id ASC", productID)
	if err != nil {
		return nil, fmt.Errorf("get aliases for %d: %w", productID, err)
	}
	return aliases, nil
}

// CreateProduct inserts p and sets its ID. A duplicate canonical name
// returns ErrConflict.
func (s *SQLiteStore) CreateProduct(ctx context.Context, p *Product) error {
	if p.FirstSeen.IsZero() {
		p.FirstSeen = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO products (canonical_name, category, first_seen, image_url, source_url, description, price_low, price_high)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.CanonicalName, p.Category, p.FirstSeen.UTC(), p.ImageURL, p.SourceURL,
		p.Description, p.PriceLow, p.PriceHigh)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create product %q: %w", p.CanonicalName, ErrConflict)
		}
		return fmt.Errorf("create product %q: %w", p.CanonicalName, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create product %q: %w", p.CanonicalName, err)
	}
	p.ID = id
	return nil
}

// AddAlias registers name for productID. Re-adding an existing pair is a no-op.
func (s *SQLiteStore) AddAlias(ctx context.Context, productID int64, name string, src source.SourceType) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_aliases (product_id, alias_name, source, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(product_id, alias_name) DO NOTHING`,
		productID, name, src, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add alias %q to %d: %w", name, productID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateProduct(ctx context.Context, id int64, u ProductUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET
			category    = CASE WHEN category = ''    THEN ? ELSE category END,
			image_url   = CASE WHEN image_url = ''   THEN ? ELSE image_url END,
			source_url  = CASE WHEN source_url = ''  THEN ? ELSE source_url END,
			description = CASE WHEN description = '' THEN ? ELSE description END
		WHERE id = ?`,
		u.Category, u.ImageURL, u.SourceURL, u.Description, id)
	if err != nil {
		return fmt.Errorf("update product %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update product %d: %w", id, ErrNotFound)
	}
	return nil
}

// RecordPrice appends a price observation and widens the product's price
// bounds to include it. Bounds never narrow.
func (s *SQLiteStore) RecordPrice(ctx context.Context, productID int64, price float64, src source.SourceType, at time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record price: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO price_history (product_id, price, source, recorded_at) VALUES (?, ?, ?, ?)",
		productID, price, src, at.UTC()); err != nil {
		return fmt.Errorf("record price for %d: %w", productID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE products SET
			price_low  = MIN(COALESCE(price_low, ?), ?),
			price_high = MAX(COALESCE(price_high, ?), ?)
		WHERE id = ?`,
		price, price, price, price, productID); err != nil {
		return fmt.Errorf("widen price bounds for %d: %w", productID, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) PriceHistory(ctx context.Context, productID int64) ([]PriceObservation, error) {
	var prices []PriceObservation
	err := s.db.SelectContext(ctx, &prices,
		"SELECT * FROM price_history WHERE product_id = ? ORDER BY recorded_at ASC, id ASC", productID)
	if err != nil {
		return nil, fmt.Errorf("price history %d: %w", productID, err)
	}
	return prices, nil
}

func (s *SQLiteStore) AppendSnapshot(ctx context.Context, t *TrendScore) error {
	if t.ScoredAt.IsZero() {
		t.ScoredAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trend_scores (product_id, scored_at, search_accel, social_velocity, retail_momentum,
			price_fit, trend_shape, purchase_intent, recency, sentiment, platform_count, platforms, composite)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ProductID, t.ScoredAt.UTC(), t.SearchAccel, t.SocialVelocity, t.RetailMomentum,
		t.PriceFit, t.TrendShape, t.PurchaseIntent, t.Recency, t.Sentiment, t.PlatformCount, t.Platforms, t.Composite)
	if err != nil {
		return fmt.Errorf("append snapshot for %d: %w", t.ProductID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		t.ID = id
	}
	return nil
}

// RecentSnapshots returns up to limit snapshots, newest first.
func (s *SQLiteStore) RecentSnapshots(ctx context.Context, productID int64, limit int) ([]TrendScore, error) {
	if limit <= 0 {
		limit = 10
	}
	var scores []TrendScore
	err := s.db.SelectContext(ctx, &scores,
		"SELECT * FROM trend_scores WHERE product_id = ? ORDER BY id DESC LIMIT ?", productID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent snapshots %d: %w", productID, err)
	}
	return scores, nil
}

// LatestPerProduct returns each product's newest snapshot, highest composite first.
func (s *SQLiteStore) LatestPerProduct(ctx context.Context) ([]TrendScore, error) {
	var scores []TrendScore
	err := s.db.SelectContext(ctx, &scores, `
		SELECT t.* FROM trend_scores t
		JOIN (SELECT product_id, MAX(id) AS max_id FROM trend_scores GROUP BY product_id) m
			ON t.id = m.max_id
		ORDER BY t.composite DESC, t.product_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("latest snapshots: %w", err)
	}
	return scores, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
