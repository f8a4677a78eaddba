package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Laza223/axxen-scraper-sub001/config"
	"github.com/Laza223/axxen-scraper-sub001/models"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(cfg config.Config) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBSSLMode,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return NewPostgresStoreWithDB(db)
}

// NewPostgresStoreWithDB wraps an open handle and makes sure the leads table
// exists.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// SaveResults upserts every listing of the successful queries, keyed by
// place id. Listings without one are skipped. Returns the rows written.
func (s *PostgresStore) SaveResults(ctx context.Context, results []models.QueryResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO leads (
			place_id, keyword, location, name, category, address, phone, website,
			rating, review_count, lat, lng, url, has_real_website, is_social_media,
			is_directory, relevance_score, quality_score, business_type, is_franchise,
			social_handles, target
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (place_id) DO UPDATE
		SET
			keyword = EXCLUDED.keyword,
			location = EXCLUDED.location,
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			address = EXCLUDED.address,
			phone = EXCLUDED.phone,
			website = EXCLUDED.website,
			rating = EXCLUDED.rating,
			review_count = EXCLUDED.review_count,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			url = EXCLUDED.url,
			has_real_website = EXCLUDED.has_real_website,
			is_social_media = EXCLUDED.is_social_media,
			is_directory = EXCLUDED.is_directory,
			relevance_score = EXCLUDED.relevance_score,
			quality_score = EXCLUDED.quality_score,
			business_type = EXCLUDED.business_type,
			is_franchise = EXCLUDED.is_franchise,
			social_handles = EXCLUDED.social_handles,
			target = EXCLUDED.target,
			updated_at = NOW()`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert statement: %w", err)
	}
	defer stmt.Close()

	total := 0
	for _, result := range results {
		if result.Err != nil {
			continue
		}
		for _, l := range result.Listings {
			if l.PlaceID == "" {
				continue
			}
			if _, err = stmt.ExecContext(
				ctx,
				l.PlaceID,
				result.Keyword,
				result.Location,
				l.Name,
				l.Category,
				l.Address,
				l.Phone,
				l.Website,
				l.Rating,
				l.ReviewCount,
				l.Coordinate.Lat,
				l.Coordinate.Lng,
				l.URL,
				l.HasRealWebsite,
				l.IsSocialMedia,
				l.IsDirectory,
				l.RelevanceScore,
				l.QualityScore,
				l.BusinessType,
				l.IsFranchise,
				strings.Join(l.SocialHandles, ","),
				l.Target,
			); err != nil {
				return 0, fmt.Errorf("upsert lead %q: %w", l.PlaceID, err)
			}
			total++
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return total, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS leads (
			id BIGSERIAL PRIMARY KEY,
			place_id TEXT NOT NULL UNIQUE,
			keyword TEXT NOT NULL,
			location TEXT NOT NULL,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			website TEXT NOT NULL DEFAULT '',
			rating REAL NOT NULL DEFAULT 0,
			review_count INTEGER NOT NULL DEFAULT 0,
			lat DOUBLE PRECISION NOT NULL DEFAULT 0,
			lng DOUBLE PRECISION NOT NULL DEFAULT 0,
			url TEXT NOT NULL DEFAULT '',
			has_real_website BOOLEAN NOT NULL DEFAULT FALSE,
			is_social_media BOOLEAN NOT NULL DEFAULT FALSE,
			is_directory BOOLEAN NOT NULL DEFAULT FALSE,
			relevance_score INTEGER NOT NULL DEFAULT 0,
			quality_score INTEGER NOT NULL DEFAULT 0,
			business_type TEXT NOT NULL DEFAULT '',
			is_franchise BOOLEAN NOT NULL DEFAULT FALSE,
			social_handles TEXT NOT NULL DEFAULT '',
			target TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_leads_keyword_location ON leads(keyword, location);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
