package thresholds

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed sql/*.sql
var migrationFS embed.FS

// Open connects a pgx pool and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations applies the embedded schema migrations in filename order.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := migrationFS.ReadDir("sql")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := migrationFS.ReadFile("sql/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
	}

	return nil
}

// Postgres resolves thresholds from the location_thresholds table. Rows with
// location_id = '' carry the global defaults.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Threshold implements alert.ThresholdSource. The per-location row wins over
// the global row; ORDER BY puts the location-specific match first.
func (p *Postgres) Threshold(ctx context.Context, locationID, field string) (float64, bool, error) {
	var threshold float64
	err := p.pool.QueryRow(ctx, `
        SELECT threshold
        FROM location_thresholds
        WHERE field = $2
          AND location_id IN ($1, '')
        ORDER BY location_id DESC
        LIMIT 1
    `, locationID, field).Scan(&threshold)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query threshold: %w", err)
	}
	return threshold, true, nil
}

// Upsert writes a threshold row. An empty locationID sets the global default.
func (p *Postgres) Upsert(ctx context.Context, locationID, field string, threshold float64) error {
	_, err := p.pool.Exec(ctx, `
        INSERT INTO location_thresholds (location_id, field, threshold)
        VALUES ($1, $2, $3)
        ON CONFLICT (location_id, field)
        DO UPDATE SET threshold = EXCLUDED.threshold, updated_at = NOW()
    `, locationID, field, threshold)
	if err != nil {
		return fmt.Errorf("upsert threshold: %w", err)
	}
	return nil
}
