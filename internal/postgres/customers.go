package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldserve/roster-import/internal/core"
)

// CustomerRepo writes committed rows into the customer table and keeps the
// commit-record trail that rollback depends on. Implements core.CustomerStore
// and core.GroupWriter.
type CustomerRepo struct {
	db *pgxpool.Pool
}

func NewCustomerRepo(db *pgxpool.Pool) *CustomerRepo {
	return &CustomerRepo{db: db}
}

func (r *CustomerRepo) MatchKeys(ctx context.Context, tenantID uuid.UUID, keys []string) (map[string]uuid.UUID, error) {
	out := make(map[string]uuid.UUID, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT dup_key, id
		FROM customers
		WHERE tenant_id = $1 AND dup_key = ANY($2)
		ORDER BY created_at
	`, tenantID, keys)
	if err != nil {
		return nil, fmt.Errorf("match customer keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			id  uuid.UUID
		)
		if err := rows.Scan(&key, &id); err != nil {
			return nil, fmt.Errorf("scan customer key: %w", err)
		}
		// Oldest customer wins when several share a key.
		if _, ok := out[key]; !ok {
			out[key] = id
		}
	}
	return out, rows.Err()
}

func (r *CustomerRepo) CreateCustomer(ctx context.Context, customer *core.Customer, record *core.CommitRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("create customer: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertCustomer(ctx, tx, customer); err != nil {
		return err
	}
	if err := insertCommitRecord(ctx, tx, record); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("create customer: %w", err)
	}
	return nil
}

func (r *CustomerRepo) UpdateCustomer(ctx context.Context, customer *core.Customer, record *core.CommitRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := updateCustomer(ctx, tx, customer); err != nil {
		return err
	}
	if err := insertCommitRecord(ctx, tx, record); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	return nil
}

// WriteGroup runs one commit group in a single transaction with a savepoint
// per row. A failing row rolls back to its savepoint and the rest of the
// group proceeds; the returned slice is parallel to writes.
func (r *CustomerRepo) WriteGroup(ctx context.Context, writes []core.CustomerWrite) []error {
	errs := make([]error, len(writes))

	tx, err := r.db.Begin(ctx)
	if err != nil {
		fillErrs(errs, fmt.Errorf("begin commit group: %w", err))
		return errs
	}
	defer tx.Rollback(ctx)

	for i, w := range writes {
		sp := fmt.Sprintf("sp_%d", i)
		if _, err := tx.Exec(ctx, "SAVEPOINT "+sp); err != nil {
			fillErrs(errs, fmt.Errorf("create savepoint: %w", err))
			return errs
		}

		if err := writeRow(ctx, tx, w); err != nil {
			_, _ = tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+sp)
			errs[i] = err
			continue
		}
		_, _ = tx.Exec(ctx, "RELEASE SAVEPOINT "+sp)
	}

	if err := tx.Commit(ctx); err != nil {
		fillErrs(errs, fmt.Errorf("commit group: %w", err))
	}
	return errs
}

func (r *CustomerRepo) DeleteCreated(ctx context.Context, tenantID, batchID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM customers c
		USING commit_records rec, batch_commits bc
		WHERE c.id = rec.customer_id
		  AND rec.commit_id = bc.id
		  AND rec.batch_id = $2
		  AND rec.action = $3
		  AND bc.rolled_back = FALSE
		  AND c.tenant_id = $1
	`, tenantID, batchID, string(core.CommitCreated))
	if err != nil {
		return 0, fmt.Errorf("delete created customers: %w", err)
	}
	return tag.RowsAffected(), nil
}

func writeRow(ctx context.Context, db dbtx, w core.CustomerWrite) error {
	if w.Record.Action == core.CommitUpdated {
		if err := updateCustomer(ctx, db, w.Customer); err != nil {
			return err
		}
	} else {
		if err := insertCustomer(ctx, db, w.Customer); err != nil {
			return err
		}
	}
	return insertCommitRecord(ctx, db, w.Record)
}

func insertCustomer(ctx context.Context, db dbtx, c *core.Customer) error {
	custom, err := marshalJSON(len(c.Custom) > 0, c.Custom)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO customers
			(id, tenant_id, name, address, email, phone, postal_code, city,
			 customer_number, category, customer_since, note, custom, dup_key,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, c.ID, c.TenantID, c.Name, c.Address, c.Email, c.Phone, c.PostalCode, c.City,
		c.CustomerNumber, c.Category, c.CustomerSince, c.Note, custom,
		core.DuplicateKey(c.Name, c.Address), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

// updateCustomer overwrites identity fields and any non-empty incoming
// optional field; empty optional fields keep the existing value and custom
// fields merge. The import file is authoritative for what it carries, never
// for what it omits.
func updateCustomer(ctx context.Context, db dbtx, c *core.Customer) error {
	custom, err := marshalJSON(len(c.Custom) > 0, c.Custom)
	if err != nil {
		return err
	}
	tag, err := db.Exec(ctx, `
		UPDATE customers SET
			name = $3,
			address = $4,
			email = CASE WHEN $5 = '' THEN email ELSE $5 END,
			phone = CASE WHEN $6 = '' THEN phone ELSE $6 END,
			postal_code = CASE WHEN $7 = '' THEN postal_code ELSE $7 END,
			city = CASE WHEN $8 = '' THEN city ELSE $8 END,
			customer_number = COALESCE($9, customer_number),
			category = CASE WHEN $10 = '' THEN category ELSE $10 END,
			customer_since = COALESCE($11, customer_since),
			note = CASE WHEN $12 = '' THEN note ELSE $12 END,
			custom = COALESCE(custom, '{}'::jsonb) || COALESCE($13, '{}'::jsonb),
			dup_key = $14,
			updated_at = $15
		WHERE tenant_id = $1 AND id = $2
	`, c.TenantID, c.ID, c.Name, c.Address, c.Email, c.Phone, c.PostalCode, c.City,
		c.CustomerNumber, c.Category, c.CustomerSince, c.Note, custom,
		core.DuplicateKey(c.Name, c.Address), c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update customer: customer %s not found", c.ID)
	}
	return nil
}

func insertCommitRecord(ctx context.Context, db dbtx, rec *core.CommitRecord) error {
	_, err := db.Exec(ctx, `
		INSERT INTO commit_records (commit_id, batch_id, row_index, customer_id, action)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.CommitID, rec.BatchID, rec.RowIndex, rec.CustomerID, string(rec.Action))
	if err != nil {
		return fmt.Errorf("insert commit record: %w", err)
	}
	return nil
}

func fillErrs(errs []error, err error) {
	for i := range errs {
		if errs[i] == nil {
			errs[i] = err
		}
	}
}
