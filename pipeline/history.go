package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/aluiziolira/go-retail-prices/models"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx via database/sql
	"github.com/jmoiron/sqlx"
)

// HistoryStore is the document-insert surface history snapshots go to. No
// update or delete operations exist on purpose.
type HistoryStore interface {
	EnsureIndex(ctx context.Context, collection, field string) error
	Insert(ctx context.Context, collection string, record *models.ProductRecord) (int64, error)
}

var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// PostgresHistoryStore keeps one insert-only table per collection, with an
// index on the product-name column for trend queries.
type PostgresHistoryStore struct {
	db *sqlx.DB
}

// NewPostgresHistoryStore opens the connection pool and verifies it.
func NewPostgresHistoryStore(dsn string) (*PostgresHistoryStore, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresHistoryStore{db: db}, nil
}

// Close releases the connection pool.
func (s *PostgresHistoryStore) Close() error {
	return s.db.Close()
}

// EnsureIndex creates the collection table and its index if they do not
// exist. Safe to call repeatedly; only the first call has any effect.
func (s *PostgresHistoryStore) EnsureIndex(ctx context.Context, collection, field string) error {
	if err := checkIdent(collection); err != nil {
		return err
	}
	if err := checkIdent(field); err != nil {
		return err
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			retailer TEXT NOT NULL,
			name TEXT NOT NULL,
			price NUMERIC(12,2) NOT NULL,
			url TEXT NOT NULL,
			scraped_at TIMESTAMPTZ NOT NULL,
			spider TEXT NOT NULL
		)`, collection)
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}

	createIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)`,
		collection, field, collection, field)
	if _, err := s.db.ExecContext(ctx, createIndex); err != nil {
		return fmt.Errorf("create index on %s.%s: %w", collection, field, err)
	}
	return nil
}

// Insert appends one snapshot and returns its id. There is no conflict
// target: identical products land as separate rows by design.
func (s *PostgresHistoryStore) Insert(ctx context.Context, collection string, record *models.ProductRecord) (int64, error) {
	if err := checkIdent(collection); err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (retailer, name, price, url, scraped_at, spider)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`, collection)

	var id int64
	err := s.db.QueryRowxContext(ctx, query,
		record.Retailer,
		record.Name,
		record.Price,
		record.URL,
		record.ScrapedAt,
		record.Spider,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	return id, nil
}

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("unsafe identifier %q", name)
	}
	return nil
}
