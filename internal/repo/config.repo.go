package repo

import (
	"context"
	"database/sql"
	"fmt"
)

// ConfigRepo stores operator overrides as key/value rows.
type ConfigRepo interface {
	GetAll(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, key string) error
}

type configRepo struct {
	db *sql.DB
}

func NewConfigRepo(db *sql.DB) ConfigRepo {
	return &configRepo{db: db}
}

func (r *configRepo) GetAll(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT key, value FROM configs")
	if err != nil {
		return nil, fmt.Errorf("load configs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Set upserts every value in one transaction.
func (r *configRepo) Set(ctx context.Context, values map[string]string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for k, v := range values {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO configs (key, value, updated_at) VALUES ($1, $2, now())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
			k, v,
		)
		if err != nil {
			return fmt.Errorf("save config %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (r *configRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM configs WHERE key = $1", key)
	return err
}
