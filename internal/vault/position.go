package vault

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/metrics"
	"github.com/atmx/settlement-engine/internal/model"
)

// getDelta returns the position's unrealised PnL against markPrice.
// markPrice must already be fetched with the conservative maximise
// choice (min price for long, max price for short).
func getDelta(cfg model.AdminConfig, position *model.Position, markPrice decimal.Decimal, now time.Time) (hasProfit bool, delta decimal.Decimal) {
	if position.EntryPrice.IsZero() {
		return false, decimal.Zero
	}

	priceDelta := position.EntryPrice.Sub(markPrice).Abs()
	delta = position.Size.Mul(priceDelta).Div(position.EntryPrice)

	if position.IsLong {
		hasProfit = markPrice.GreaterThan(position.EntryPrice)
	} else {
		hasProfit = position.EntryPrice.GreaterThan(markPrice)
	}

	if hasProfit && !now.After(position.LastIncreasedTime.Add(cfg.MinProfitTime)) {
		minBps := cfg.MinProfitBasisPoints[position.IndexToken]
		threshold := position.Size.Mul(minBps)
		if delta.LessThanOrEqual(threshold) {
			delta = decimal.Zero
		}
	}
	return hasProfit, delta
}

// IncreasePosition opens or grows a position, pulling amountIn dollars
// directly from account. caller must be a registered plugin and token
// must be whitelisted; the call is a no-op-on-failure: if any step
// after the dollar pull fails, the pull is refunded before returning.
//
// This is the direct (synchronous) entry point. OrderBook and Market
// hold their own escrow ahead of time and forward through
// IncreasePositionEscrowed instead, so the dollars they already pulled
// at order/request creation are never pulled a second time.
func (v *Vault) IncreasePosition(ctx context.Context, caller, account, indexToken string, amountIn, sizeDelta decimal.Decimal, isLong bool) (err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.paused {
		return ErrPaused
	}
	if !v.plugins[caller] {
		return ErrNotPlugin
	}
	if !v.whitelistedTokens[indexToken] {
		return ErrNotWhitelisted
	}

	actualAmount, err := v.ledger.TransferIn(ctx, account, amountIn)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil && actualAmount.IsPositive() {
			_ = v.ledger.TransferOut(ctx, account, actualAmount)
		}
	}()

	return v.increasePositionWithAmount(ctx, account, indexToken, actualAmount, sizeDelta, isLong)
}

// IncreasePositionEscrowed opens or grows a position on behalf of a
// caller (OrderBook, Market) that already holds actualAmount in
// escrow. It applies the same authorization, accounting, and rollback
// discipline as IncreasePosition but does not pull funds itself.
func (v *Vault) IncreasePositionEscrowed(ctx context.Context, caller, account, indexToken string, actualAmount, sizeDelta decimal.Decimal, isLong bool) (err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.paused {
		return ErrPaused
	}
	if !v.plugins[caller] {
		return ErrNotPlugin
	}
	if !v.whitelistedTokens[indexToken] {
		return ErrNotWhitelisted
	}

	defer func() {
		if err != nil && actualAmount.IsPositive() {
			_ = v.ledger.TransferOut(ctx, account, actualAmount)
		}
	}()

	return v.increasePositionWithAmount(ctx, account, indexToken, actualAmount, sizeDelta, isLong)
}

// increasePositionWithAmount performs funding refresh, entry-price
// averaging, fee accounting, and pool/reserve updates for an increase
// whose dollars have already been received. Caller holds v.mu.
func (v *Vault) increasePositionWithAmount(ctx context.Context, account, indexToken string, actualAmount, sizeDelta decimal.Decimal, isLong bool) (err error) {
	now := timeNow()

	pool, funding, err := v.loadPoolAndFunding(ctx)
	if err != nil {
		return err
	}
	if refreshCumulativeFundingRate(v.cfg, funding, pool, now) {
		metrics.FundingRefreshTotal.Inc()
	}

	key := model.PositionKey(account, indexToken, isLong)
	position, err := v.store.GetPosition(ctx, key)
	if err != nil {
		return err
	}
	if position == nil {
		position = &model.Position{Account: account, IndexToken: indexToken, IsLong: isLong}
	}

	markPrice, err := v.priceFeed.GetPrice(ctx, indexToken, isLong)
	if err != nil {
		return err
	}

	if !position.Exists() {
		position.EntryPrice = markPrice
	} else if sizeDelta.IsPositive() {
		nextSize := position.Size.Add(sizeDelta)
		deltaMarkPrice, perr := v.priceFeed.GetPrice(ctx, indexToken, !isLong)
		if perr != nil {
			return perr
		}
		hasProfit, delta := getDelta(v.cfg, position, deltaMarkPrice, now)

		var denom decimal.Decimal
		switch {
		case isLong && hasProfit:
			denom = nextSize.Add(delta)
		case isLong && !hasProfit:
			denom = nextSize.Sub(delta)
		case !isLong && hasProfit:
			denom = nextSize.Sub(delta)
		default:
			denom = nextSize.Add(delta)
		}
		if denom.IsPositive() {
			position.EntryPrice = markPrice.Mul(nextSize).Div(denom)
		}
	}

	if v.limiter != nil {
		current := v.globalLongSizes[indexToken]
		if !isLong {
			current = v.globalShortSizes[indexToken]
		}
		if lerr := v.limiter.CheckLimit(indexToken, isLong, sizeDelta, current); lerr != nil {
			metrics.ExposureLimitRejections.Inc()
			return lerr
		}
	}

	// Fees are computed after size is updated (funding fee is on the
	// new size) but against the entry funding rate snapshot from
	// before this call overwrites it.
	entryFundingRatePrev := position.EntryFundingRate
	position.EntryFundingRate = funding.CumulativeFundingRate
	position.Size = position.Size.Add(sizeDelta)
	position.LastIncreasedTime = now

	fee := positionFees(v.cfg, position.Size, sizeDelta, funding.CumulativeFundingRate, entryFundingRatePrev)
	pool.FeeReserves = pool.FeeReserves.Add(fee)

	position.Collateral = position.Collateral.Add(actualAmount).Sub(fee)
	if position.Size.LessThan(position.Collateral) {
		return ErrSizeLessThanCollateral
	}

	deltaMarkPrice, err := v.priceFeed.GetPrice(ctx, indexToken, !isLong)
	if err != nil {
		return err
	}
	if verdict := liquidationVerdict(v.cfg, position, funding, deltaMarkPrice, now); verdict.Allowed {
		return verdict.Reason
	}

	if err := increaseReservedAmount(pool, sizeDelta); err != nil {
		return err
	}
	position.ReserveAmount = position.ReserveAmount.Add(sizeDelta)

	if isLong {
		heldBalance, berr := v.ledger.Balance(ctx)
		if berr != nil {
			return berr
		}
		if err := increasePoolAmount(pool, actualAmount, heldBalance); err != nil {
			return err
		}
		pool.PoolAmount = pool.PoolAmount.Sub(fee)
	}

	if err := v.store.PutPosition(ctx, position); err != nil {
		return err
	}
	if err := v.store.PutPoolState(ctx, pool); err != nil {
		return err
	}
	if err := v.store.PutFundingState(ctx, funding); err != nil {
		return err
	}

	v.adjustGlobalSize(indexToken, isLong, sizeDelta)
	metrics.IncreasePositionsTotal.WithLabelValues(indexToken, metrics.SideLabel(isLong)).Inc()

	slog.Info("increase position",
		"account", account,
		"index_token", indexToken,
		"is_long", isLong,
		"size_delta", sizeDelta.String(),
		"amount_in", actualAmount.String(),
		"fee", fee.String(),
		"entry_price", position.EntryPrice.String(),
	)
	v.broadcast("IncreasePosition", map[string]any{
		"account": account, "index_token": indexToken, "is_long": isLong,
		"size_delta": sizeDelta.String(), "amount_in": actualAmount.String(),
		"fee": fee.String(), "entry_price": position.EntryPrice.String(),
	})

	return nil
}

// DecreasePosition shrinks or closes a position, paying out dollars.
// Returns the actual amount paid to account after fees.
func (v *Vault) DecreasePosition(ctx context.Context, caller, account, indexToken string, collateralDelta, sizeDelta decimal.Decimal, isLong bool) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.paused {
		return decimal.Zero, ErrPaused
	}
	if !v.plugins[caller] {
		return decimal.Zero, ErrNotPlugin
	}

	now := timeNow()

	pool, funding, err := v.loadPoolAndFunding(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if refreshCumulativeFundingRate(v.cfg, funding, pool, now) {
		metrics.FundingRefreshTotal.Inc()
	}

	key := model.PositionKey(account, indexToken, isLong)
	position, err := v.store.GetPosition(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	if position == nil || !position.Exists() {
		return decimal.Zero, ErrPositionNotExist
	}
	if position.Size.LessThan(sizeDelta) {
		return decimal.Zero, ErrInvalidPositionSize
	}
	if position.Collateral.LessThanOrEqual(collateralDelta) && collateralDelta.IsPositive() {
		return decimal.Zero, ErrCollateralExceeded
	}

	originalSize := position.Size
	fullClose := sizeDelta.Equal(originalSize)

	reserveDelta := decimal.Zero
	if originalSize.IsPositive() {
		reserveDelta = position.ReserveAmount.Mul(sizeDelta).Div(originalSize)
	}
	position.ReserveAmount = position.ReserveAmount.Sub(reserveDelta)
	decreaseReservedAmount(pool, reserveDelta)

	markPrice, err := v.priceFeed.GetPrice(ctx, indexToken, !isLong)
	if err != nil {
		return decimal.Zero, err
	}

	usdOut, usdOutAfterFee := v.adjustCollateral(v.cfg, position, pool, markPrice, now, sizeDelta, collateralDelta, isLong, fullClose, originalSize, funding.CumulativeFundingRate)

	if fullClose {
		if err := v.store.DeletePosition(ctx, key); err != nil {
			return decimal.Zero, err
		}
	} else {
		position.EntryFundingRate = funding.CumulativeFundingRate
		position.Size = originalSize.Sub(sizeDelta)
		if position.Size.LessThan(position.Collateral) {
			return decimal.Zero, ErrSizeLessThanCollateral
		}
		if verdict := liquidationVerdict(v.cfg, position, funding, markPrice, now); verdict.Allowed {
			return decimal.Zero, verdict.Reason
		}
		if err := v.store.PutPosition(ctx, position); err != nil {
			return decimal.Zero, err
		}
	}

	if usdOut.IsPositive() {
		if isLong {
			pool.PoolAmount = pool.PoolAmount.Sub(usdOut)
		}
		if err := v.ledger.TransferOut(ctx, account, usdOutAfterFee); err != nil {
			return decimal.Zero, err
		}
	}

	if err := v.store.PutPoolState(ctx, pool); err != nil {
		return decimal.Zero, err
	}
	if err := v.store.PutFundingState(ctx, funding); err != nil {
		return decimal.Zero, err
	}

	v.adjustGlobalSize(indexToken, isLong, sizeDelta.Neg())
	metrics.DecreasePositionsTotal.WithLabelValues(indexToken, metrics.SideLabel(isLong)).Inc()

	slog.Info("decrease position",
		"account", account,
		"index_token", indexToken,
		"is_long", isLong,
		"size_delta", sizeDelta.String(),
		"collateral_delta", collateralDelta.String(),
		"usd_out", usdOutAfterFee.String(),
		"full_close", fullClose,
	)
	v.broadcast("DecreasePosition", map[string]any{
		"account": account, "index_token": indexToken, "is_long": isLong,
		"size_delta": sizeDelta.String(), "collateral_delta": collateralDelta.String(),
		"usd_out": usdOutAfterFee.String(), "full_close": fullClose,
	})

	return usdOutAfterFee, nil
}

// adjustCollateral implements the profit/loss settlement and fee
// deduction steps of decreasePosition, mutating position and pool in
// place and returning the gross and post-fee dollar payouts.
func (v *Vault) adjustCollateral(cfg model.AdminConfig, position *model.Position, pool *model.PoolState, markPrice decimal.Decimal, now time.Time, sizeDelta, collateralDelta decimal.Decimal, isLong, fullClose bool, originalSize decimal.Decimal, cumulativeFundingRate decimal.Decimal) (usdOut, usdOutAfterFee decimal.Decimal) {
	snapshot := *position
	snapshot.Size = originalSize
	hasProfit, delta := getDelta(cfg, &snapshot, markPrice, now)

	adjustedDelta := decimal.Zero
	if originalSize.IsPositive() {
		adjustedDelta = sizeDelta.Mul(delta).Div(originalSize)
	}

	if hasProfit && adjustedDelta.IsPositive() {
		usdOut = adjustedDelta
		position.RealisedPnl = position.RealisedPnl.Add(adjustedDelta)
		if !isLong {
			pool.PoolAmount = pool.PoolAmount.Sub(adjustedDelta)
		}
	} else if !hasProfit && adjustedDelta.IsPositive() {
		position.Collateral = position.Collateral.Sub(adjustedDelta)
		position.RealisedPnl = position.RealisedPnl.Sub(adjustedDelta)
		if !isLong {
			pool.PoolAmount = pool.PoolAmount.Add(adjustedDelta)
		}
	}

	if collateralDelta.IsPositive() {
		usdOut = usdOut.Add(collateralDelta)
		position.Collateral = position.Collateral.Sub(collateralDelta)
	}

	if fullClose {
		usdOut = usdOut.Add(position.Collateral)
		position.Collateral = decimal.Zero
	}

	fee := positionFees(cfg, originalSize, sizeDelta, cumulativeFundingRate, position.EntryFundingRate)
	pool.FeeReserves = pool.FeeReserves.Add(fee)

	if usdOut.GreaterThan(fee) {
		usdOutAfterFee = usdOut.Sub(fee)
	} else {
		usdOutAfterFee = usdOut
		position.Collateral = position.Collateral.Sub(fee)
		if isLong {
			pool.PoolAmount = pool.PoolAmount.Sub(fee)
		}
	}
	return usdOut, usdOutAfterFee
}
