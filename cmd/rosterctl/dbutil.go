package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fieldserve/roster-import/internal/core"
	"github.com/fieldserve/roster-import/internal/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

// connectDB opens a pool against DATABASE_URL (or DB_URL), honoring a .env
// file the same way the server does.
func connectDB(ctx context.Context) (*pgxpool.Pool, error) {
	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv("DB_URL")
	}
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping failed: %w", err)
	}
	return pool, nil
}

// newService builds the import service over the postgres stores. The CLI
// runs without the classifier and without the concurrency limiter; mapping
// falls back to aliases and saved templates.
func newService(pool *pgxpool.Pool) (*core.Service, error) {
	batches := postgres.NewBatchRepo(pool)
	customers := postgres.NewCustomerRepo(pool)
	templates := postgres.NewTemplateRepo(pool)
	audit := postgres.NewAuditRepo(pool)
	resolver := core.NewMappingResolver(nil, nil, templates, 0)
	return core.NewService(batches, customers, templates, audit, resolver, nil, core.Options{})
}
