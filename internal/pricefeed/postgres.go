package pricefeed

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresRoundStore persists oracle round history for audit/replay,
// grounded on the teacher's NUMERIC-as-TEXT round-trip in
// internal/store/postgres.go. It does not implement the PriceFeed
// contract itself — Feed remains the in-memory K-round lookback the
// Vault reads from; this only appends an immutable log alongside it.
type PostgresRoundStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRoundStore creates a round-history recorder.
func NewPostgresRoundStore(pool *pgxpool.Pool) *PostgresRoundStore {
	return &PostgresRoundStore{pool: pool}
}

// RecordRound appends an immutable oracle round record.
func (s *PostgresRoundStore) RecordRound(ctx context.Context, token string, answer decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO oracle_rounds (token, answer, observed_at) VALUES ($1, $2::NUMERIC, now())`,
		token, answer.String(),
	)
	return err
}

// RecentRounds returns the last n recorded rounds for a token, most
// recent first.
func (s *PostgresRoundStore) RecentRounds(ctx context.Context, token string, n int) ([]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT answer::TEXT FROM oracle_rounds WHERE token = $1 ORDER BY observed_at DESC LIMIT $2`,
		token, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []decimal.Decimal
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
