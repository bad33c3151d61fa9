package nomenclador

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lrlichardi/laboratory/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG) ListAll(ctx context.Context) ([]Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT codigo, determinacion, ub FROM nomenclador ORDER BY codigo`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Code, &e.Determination, &e.UB); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repoPG) GetPriceFactor(ctx context.Context) (int64, error) {
	var f int64
	err := r.conn(ctx).QueryRow(ctx, `SELECT factor FROM price_setting WHERE id = 1`).Scan(&f)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return f, err
}

func (r *repoPG) SetPriceFactor(ctx context.Context, factor int64) (int64, error) {
	var f int64
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO price_setting (id, factor, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET factor = EXCLUDED.factor, updated_at = NOW()
		RETURNING factor`, factor).Scan(&f)
	if err != nil {
		return 0, fmt.Errorf("store price factor: %w", err)
	}
	return f, nil
}
