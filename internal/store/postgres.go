package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of
// truth. All monetary values are stored as NUMERIC for exact decimal
// precision, scanned back through TEXT the way the teacher's
// PostgresStore round-trips shopspring/decimal values.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Positions ---

func (s *PostgresStore) GetPosition(ctx context.Context, key string) (*model.Position, error) {
	var p model.Position
	var size, collateral, entryPrice, entryFundingRate, reserveAmount, realisedPnl string

	err := s.pool.QueryRow(ctx,
		`SELECT account, index_token, is_long,
		        size::TEXT, collateral::TEXT, entry_price::TEXT,
		        entry_funding_rate::TEXT, reserve_amount::TEXT, realised_pnl::TEXT,
		        last_increased_time
		 FROM positions WHERE key = $1`, key).
		Scan(&p.Account, &p.IndexToken, &p.IsLong,
			&size, &collateral, &entryPrice,
			&entryFundingRate, &reserveAmount, &realisedPnl,
			&p.LastIncreasedTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", key, err)
	}

	p.Size, _ = decimal.NewFromString(size)
	p.Collateral, _ = decimal.NewFromString(collateral)
	p.EntryPrice, _ = decimal.NewFromString(entryPrice)
	p.EntryFundingRate, _ = decimal.NewFromString(entryFundingRate)
	p.ReserveAmount, _ = decimal.NewFromString(reserveAmount)
	p.RealisedPnl, _ = decimal.NewFromString(realisedPnl)
	return &p, nil
}

func (s *PostgresStore) PutPosition(ctx context.Context, p *model.Position) error {
	key := model.PositionKey(p.Account, p.IndexToken, p.IsLong)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (key, account, index_token, is_long, size, collateral,
		        entry_price, entry_funding_rate, reserve_amount, realised_pnl, last_increased_time)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11)
		 ON CONFLICT (key) DO UPDATE SET
		        size = EXCLUDED.size, collateral = EXCLUDED.collateral,
		        entry_price = EXCLUDED.entry_price, entry_funding_rate = EXCLUDED.entry_funding_rate,
		        reserve_amount = EXCLUDED.reserve_amount, realised_pnl = EXCLUDED.realised_pnl,
		        last_increased_time = EXCLUDED.last_increased_time`,
		key, p.Account, p.IndexToken, p.IsLong,
		p.Size.String(), p.Collateral.String(), p.EntryPrice.String(),
		p.EntryFundingRate.String(), p.ReserveAmount.String(), p.RealisedPnl.String(),
		p.LastIncreasedTime,
	)
	return err
}

func (s *PostgresStore) DeletePosition(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE key = $1`, key)
	return err
}

// --- Pool / funding (singleton row id=1) ---

func (s *PostgresStore) GetPoolState(ctx context.Context) (*model.PoolState, error) {
	var poolAmount, reservedAmount, feeReserves string
	err := s.pool.QueryRow(ctx,
		`SELECT pool_amount::TEXT, reserved_amount::TEXT, fee_reserves::TEXT FROM pool_state WHERE id = 1`).
		Scan(&poolAmount, &reservedAmount, &feeReserves)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.PoolState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pool state: %w", err)
	}
	var p model.PoolState
	p.PoolAmount, _ = decimal.NewFromString(poolAmount)
	p.ReservedAmount, _ = decimal.NewFromString(reservedAmount)
	p.FeeReserves, _ = decimal.NewFromString(feeReserves)
	return &p, nil
}

func (s *PostgresStore) PutPoolState(ctx context.Context, p *model.PoolState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pool_state (id, pool_amount, reserved_amount, fee_reserves)
		 VALUES (1, $1::NUMERIC, $2::NUMERIC, $3::NUMERIC)
		 ON CONFLICT (id) DO UPDATE SET
		        pool_amount = EXCLUDED.pool_amount,
		        reserved_amount = EXCLUDED.reserved_amount,
		        fee_reserves = EXCLUDED.fee_reserves`,
		p.PoolAmount.String(), p.ReservedAmount.String(), p.FeeReserves.String(),
	)
	return err
}

func (s *PostgresStore) GetFundingState(ctx context.Context) (*model.FundingState, error) {
	var rate string
	var f model.FundingState
	err := s.pool.QueryRow(ctx,
		`SELECT cumulative_funding_rate::TEXT, last_refresh_funding_rate_timestamp FROM funding_state WHERE id = 1`).
		Scan(&rate, &f.LastRefreshFundingRateTimestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.FundingState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get funding state: %w", err)
	}
	f.CumulativeFundingRate, _ = decimal.NewFromString(rate)
	return &f, nil
}

func (s *PostgresStore) PutFundingState(ctx context.Context, f *model.FundingState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO funding_state (id, cumulative_funding_rate, last_refresh_funding_rate_timestamp)
		 VALUES (1, $1::NUMERIC, $2)
		 ON CONFLICT (id) DO UPDATE SET
		        cumulative_funding_rate = EXCLUDED.cumulative_funding_rate,
		        last_refresh_funding_rate_timestamp = EXCLUDED.last_refresh_funding_rate_timestamp`,
		f.CumulativeFundingRate.String(), f.LastRefreshFundingRateTimestamp,
	)
	return err
}

// --- OrderBook ---

func (s *PostgresStore) GetIncreaseOrder(ctx context.Context, account string, index uint64) (*model.IncreaseOrder, error) {
	var o model.IncreaseOrder
	var amount, sizeDelta, triggerPrice string
	err := s.pool.QueryRow(ctx,
		`SELECT account, order_index, index_token, amount::TEXT, size_delta::TEXT,
		        is_long, trigger_price::TEXT, trigger_above_threshold
		 FROM increase_orders WHERE account = $1 AND order_index = $2`, account, index).
		Scan(&o.Account, &o.OrderIndex, &o.IndexToken, &amount, &sizeDelta,
			&o.IsLong, &triggerPrice, &o.TriggerAboveThreshold)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o.Amount, _ = decimal.NewFromString(amount)
	o.SizeDelta, _ = decimal.NewFromString(sizeDelta)
	o.TriggerPrice, _ = decimal.NewFromString(triggerPrice)
	return &o, nil
}

func (s *PostgresStore) PutIncreaseOrder(ctx context.Context, o *model.IncreaseOrder) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO increase_orders (account, order_index, index_token, amount, size_delta,
		        is_long, trigger_price, trigger_above_threshold)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7::NUMERIC, $8)
		 ON CONFLICT (account, order_index) DO UPDATE SET
		        size_delta = EXCLUDED.size_delta, trigger_price = EXCLUDED.trigger_price,
		        trigger_above_threshold = EXCLUDED.trigger_above_threshold`,
		o.Account, o.OrderIndex, o.IndexToken, o.Amount.String(), o.SizeDelta.String(),
		o.IsLong, o.TriggerPrice.String(), o.TriggerAboveThreshold,
	)
	return err
}

func (s *PostgresStore) DeleteIncreaseOrder(ctx context.Context, account string, index uint64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM increase_orders WHERE account = $1 AND order_index = $2`, account, index)
	return err
}

func (s *PostgresStore) NextIncreaseOrderIndex(ctx context.Context, account string) (uint64, error) {
	var idx uint64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO order_sequences (account, kind, next_index) VALUES ($1, 'increase', 2)
		 ON CONFLICT (account, kind) DO UPDATE SET next_index = order_sequences.next_index + 1
		 RETURNING next_index - 1`, account).Scan(&idx)
	return idx, err
}

func (s *PostgresStore) GetDecreaseOrder(ctx context.Context, account string, index uint64) (*model.DecreaseOrder, error) {
	var o model.DecreaseOrder
	var collateralDelta, sizeDelta, triggerPrice string
	err := s.pool.QueryRow(ctx,
		`SELECT account, order_index, index_token, collateral_delta::TEXT, size_delta::TEXT,
		        is_long, trigger_price::TEXT, trigger_above_threshold
		 FROM decrease_orders WHERE account = $1 AND order_index = $2`, account, index).
		Scan(&o.Account, &o.OrderIndex, &o.IndexToken, &collateralDelta, &sizeDelta,
			&o.IsLong, &triggerPrice, &o.TriggerAboveThreshold)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o.CollateralDelta, _ = decimal.NewFromString(collateralDelta)
	o.SizeDelta, _ = decimal.NewFromString(sizeDelta)
	o.TriggerPrice, _ = decimal.NewFromString(triggerPrice)
	return &o, nil
}

func (s *PostgresStore) PutDecreaseOrder(ctx context.Context, o *model.DecreaseOrder) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO decrease_orders (account, order_index, index_token, collateral_delta, size_delta,
		        is_long, trigger_price, trigger_above_threshold)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7::NUMERIC, $8)
		 ON CONFLICT (account, order_index) DO UPDATE SET
		        collateral_delta = EXCLUDED.collateral_delta, size_delta = EXCLUDED.size_delta,
		        trigger_price = EXCLUDED.trigger_price, trigger_above_threshold = EXCLUDED.trigger_above_threshold`,
		o.Account, o.OrderIndex, o.IndexToken, o.CollateralDelta.String(), o.SizeDelta.String(),
		o.IsLong, o.TriggerPrice.String(), o.TriggerAboveThreshold,
	)
	return err
}

func (s *PostgresStore) DeleteDecreaseOrder(ctx context.Context, account string, index uint64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM decrease_orders WHERE account = $1 AND order_index = $2`, account, index)
	return err
}

func (s *PostgresStore) NextDecreaseOrderIndex(ctx context.Context, account string) (uint64, error) {
	var idx uint64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO order_sequences (account, kind, next_index) VALUES ($1, 'decrease', 2)
		 ON CONFLICT (account, kind) DO UPDATE SET next_index = order_sequences.next_index + 1
		 RETURNING next_index - 1`, account).Scan(&idx)
	return idx, err
}

// --- Market ---

func (s *PostgresStore) GetIncreaseRequest(ctx context.Context, key string) (*model.IncreasePositionRequest, error) {
	var r model.IncreasePositionRequest
	var amountIn, sizeDelta, executionFee string
	err := s.pool.QueryRow(ctx,
		`SELECT key, account, request_index, index_token, amount_in::TEXT, size_delta::TEXT,
		        is_long, block_time, execution_fee::TEXT
		 FROM increase_requests WHERE key = $1`, key).
		Scan(&r.Key, &r.Account, &r.RequestIndex, &r.IndexToken, &amountIn, &sizeDelta,
			&r.IsLong, &r.BlockTime, &executionFee)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.AmountIn, _ = decimal.NewFromString(amountIn)
	r.SizeDelta, _ = decimal.NewFromString(sizeDelta)
	r.ExecutionFee, _ = decimal.NewFromString(executionFee)
	return &r, nil
}

func (s *PostgresStore) PutIncreaseRequest(ctx context.Context, r *model.IncreasePositionRequest) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO increase_requests (key, account, request_index, index_token, amount_in, size_delta,
		        is_long, block_time, execution_fee)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9::NUMERIC)
		 ON CONFLICT (key) DO NOTHING`,
		r.Key, r.Account, r.RequestIndex, r.IndexToken, r.AmountIn.String(), r.SizeDelta.String(),
		r.IsLong, r.BlockTime, r.ExecutionFee.String(),
	)
	return err
}

func (s *PostgresStore) DeleteIncreaseRequest(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM increase_requests WHERE key = $1`, key)
	return err
}

func (s *PostgresStore) NextIncreaseRequestIndex(ctx context.Context, account string) (uint64, error) {
	var idx uint64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO request_sequences (account, kind, next_index) VALUES ($1, 'increase', 2)
		 ON CONFLICT (account, kind) DO UPDATE SET next_index = request_sequences.next_index + 1
		 RETURNING next_index - 1`, account).Scan(&idx)
	return idx, err
}

func (s *PostgresStore) GetDecreaseRequest(ctx context.Context, key string) (*model.DecreasePositionRequest, error) {
	var r model.DecreasePositionRequest
	var collateralDelta, sizeDelta, executionFee string
	err := s.pool.QueryRow(ctx,
		`SELECT key, account, request_index, index_token, collateral_delta::TEXT, size_delta::TEXT,
		        is_long, block_time, execution_fee::TEXT
		 FROM decrease_requests WHERE key = $1`, key).
		Scan(&r.Key, &r.Account, &r.RequestIndex, &r.IndexToken, &collateralDelta, &sizeDelta,
			&r.IsLong, &r.BlockTime, &executionFee)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.CollateralDelta, _ = decimal.NewFromString(collateralDelta)
	r.SizeDelta, _ = decimal.NewFromString(sizeDelta)
	r.ExecutionFee, _ = decimal.NewFromString(executionFee)
	return &r, nil
}

func (s *PostgresStore) PutDecreaseRequest(ctx context.Context, r *model.DecreasePositionRequest) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO decrease_requests (key, account, request_index, index_token, collateral_delta, size_delta,
		        is_long, block_time, execution_fee)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9::NUMERIC)
		 ON CONFLICT (key) DO NOTHING`,
		r.Key, r.Account, r.RequestIndex, r.IndexToken, r.CollateralDelta.String(), r.SizeDelta.String(),
		r.IsLong, r.BlockTime, r.ExecutionFee.String(),
	)
	return err
}

func (s *PostgresStore) DeleteDecreaseRequest(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM decrease_requests WHERE key = $1`, key)
	return err
}

func (s *PostgresStore) NextDecreaseRequestIndex(ctx context.Context, account string) (uint64, error) {
	var idx uint64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO request_sequences (account, kind, next_index) VALUES ($1, 'decrease', 2)
		 ON CONFLICT (account, kind) DO UPDATE SET next_index = request_sequences.next_index + 1
		 RETURNING next_index - 1`, account).Scan(&idx)
	return idx, err
}
