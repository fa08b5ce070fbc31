// Package postgres implements the core store interfaces on PostgreSQL via
// pgx. All JSON-shaped state (headers, mappings, reports, errors) lives in
// jsonb columns; the repos marshal explicitly rather than relying on driver
// magic, so what is stored is exactly what the core types serialize to.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// dbtx is the querying surface shared by *pgxpool.Pool and pgx.Tx, so the
// row-level write helpers run the same inside and outside a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// marshalJSON prepares v for a nullable jsonb parameter. When want is false
// the column gets SQL NULL instead of an empty JSON value.
func marshalJSON(want bool, v any) ([]byte, error) {
	if !want {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}
	return data, nil
}

// unmarshalJSON fills v from a jsonb column, treating NULL as absent.
func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
