package migrate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TruthRepo persists human-judged relevance sets used by the cutover gate.
type TruthRepo struct {
	db *pgxpool.Pool
}

func NewTruthRepo(db *pgxpool.Pool) *TruthRepo {
	return &TruthRepo{db: db}
}

// EnsureSchema creates the truth-set table when it does not exist yet.
func (r *TruthRepo) EnsureSchema(ctx context.Context) error {
	const stmt = `
        CREATE TABLE IF NOT EXISTS retrieval_truth (
            id UUID PRIMARY KEY,
            tenant_id TEXT NOT NULL,
            query TEXT NOT NULL,
            relevant_ids TEXT[] NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE (tenant_id, query)
        );`
	_, err := r.db.Exec(ctx, stmt)
	return err
}

// Save upserts a truth entry keyed by tenant and query.
func (r *TruthRepo) Save(ctx context.Context, entry TruthEntry) error {
	const query = `
        INSERT INTO retrieval_truth (id, tenant_id, query, relevant_ids, created_at)
        VALUES ($1, $2, $3, $4, NOW())
        ON CONFLICT (tenant_id, query) DO UPDATE SET relevant_ids = EXCLUDED.relevant_ids;`
	_, err := r.db.Exec(ctx, query, uuid.New(), entry.Tenant, entry.Query, entry.Relevant)
	if err != nil {
		return fmt.Errorf("save truth entry: %w", err)
	}
	return nil
}

// Load returns every truth entry for a tenant, or all entries when tenant
// is empty.
func (r *TruthRepo) Load(ctx context.Context, tenant string) ([]TruthEntry, error) {
	const query = `
        SELECT tenant_id, query, relevant_ids
        FROM retrieval_truth
        WHERE $1 = '' OR tenant_id = $1
        ORDER BY created_at;`
	rows, err := r.db.Query(ctx, query, tenant)
	if err != nil {
		return nil, fmt.Errorf("load truth set: %w", err)
	}
	defer rows.Close()

	var entries []TruthEntry
	for rows.Next() {
		var entry TruthEntry
		if err := rows.Scan(&entry.Tenant, &entry.Query, &entry.Relevant); err != nil {
			return nil, fmt.Errorf("scan truth entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
