package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/qqqbot/internal/metrics"
	"github.com/web3guy0/qqqbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// IOC MACHINE GUN - Chase the market with immediate-or-cancel limits
// ═══════════════════════════════════════════════════════════════════════════════
//
// Loop (attempt < maxRetries && filled < target):
//   1. |cur - start| / start > maxDeviation  → stop (safety abort, not an error)
//   2. submit IOC limit at round(cur, 2) for the remaining qty
//   3. fill:    accumulate qty and proceeds; full → done, partial → step
//   4. no fill: step
//   5. error:   counted, no step (unless a lookup shows the order existed)
//
// Stepping chases the market: buys step up, sells step down.
// avg = proceeds / filled across all partial fills.
//
// ═══════════════════════════════════════════════════════════════════════════════

// IOCParams controls one chase
type IOCParams struct {
	PriceStep    decimal.Decimal
	MaxRetries   int
	MaxDeviation decimal.Decimal // fraction of start price, 0.005 = 0.5%
}

// Validate checks the chase parameters
func (p IOCParams) Validate() error {
	if p.MaxRetries < 1 {
		return fmt.Errorf("ioc max retries must be >= 1, got %d", p.MaxRetries)
	}
	if p.PriceStep.IsNegative() {
		return fmt.Errorf("ioc price step must be >= 0, got %s", p.PriceStep)
	}
	if p.MaxDeviation.IsNegative() {
		return fmt.Errorf("ioc max deviation must be >= 0, got %s", p.MaxDeviation)
	}
	return nil
}

// IOCAttempt records one loop iteration that reached the broker
type IOCAttempt struct {
	Index         int
	Price         decimal.Decimal
	ClientOrderID string
	Status        types.OrderStatus
	FilledQty     int64
	FillPrice     decimal.Decimal
	Err           error
}

// IOCResult is the authoritative record of one chase episode
type IOCResult struct {
	Symbol                string
	Side                  types.Side
	TargetQty             int64
	StartPrice            decimal.Decimal
	FilledQty             int64
	AvgPrice              decimal.Decimal
	TotalProceeds         decimal.Decimal // notional of all fills
	AttemptsUsed          int
	AbortedDueToDeviation bool
	FinalPriceAttempted   decimal.Decimal
	Attempts              []IOCAttempt
	Duration              time.Duration
}

// Complete reports whether the whole target filled
func (r *IOCResult) Complete() bool { return r.FilledQty >= r.TargetQty }

// Remaining returns the unfilled quantity
func (r *IOCResult) Remaining() int64 {
	if r.FilledQty >= r.TargetQty {
		return 0
	}
	return r.TargetQty - r.FilledQty
}

type IOCExecutor struct {
	broker OrderSubmitter
	lookup OrderLookup
	newID  func() string
}

// NewIOCExecutor wraps a broker. If it also implements OrderLookup, errored
// submissions are checked by client order id.
func NewIOCExecutor(broker OrderSubmitter) *IOCExecutor {
	e := &IOCExecutor{
		broker: broker,
		newID:  func() string { return uuid.NewString() },
	}
	if lk, ok := broker.(OrderLookup); ok {
		e.lookup = lk
	}
	return e
}

// Execute runs one chase. It never returns an error: broker failures are
// recorded per attempt and the caller reads the result.
func (e *IOCExecutor) Execute(
	ctx context.Context,
	symbol string,
	targetQty int64,
	side types.Side,
	startPrice decimal.Decimal,
	params IOCParams,
) IOCResult {
	started := time.Now()
	res := IOCResult{
		Symbol:              symbol,
		Side:                side,
		TargetQty:           targetQty,
		StartPrice:          startPrice,
		TotalProceeds:       decimal.Zero,
		AvgPrice:            decimal.Zero,
		FinalPriceAttempted: startPrice.Round(2),
	}

	step := params.PriceStep
	if side == types.SideSell {
		step = step.Neg()
	}

	current := startPrice
	attempt := 0
	for attempt < params.MaxRetries && res.FilledQty < targetQty {
		if deviation(current, startPrice).GreaterThan(params.MaxDeviation) {
			res.AbortedDueToDeviation = true
			metrics.IOCDeviationAborts.WithLabelValues(string(side)).Inc()
			log.Warn().
				Str("symbol", symbol).
				Str("side", string(side)).
				Str("start", startPrice.StringFixed(2)).
				Str("price", current.StringFixed(4)).
				Int("attempt", attempt).
				Msg("🛑 IOC deviation limit reached, stopping chase")
			break
		}

		limit := current.Round(2)
		remaining := targetQty - res.FilledQty
		req := types.OrderRequest{
			Symbol:        symbol,
			Quantity:      remaining,
			Side:          side,
			Type:          types.OrderTypeIOCLimit,
			LimitPrice:    limit,
			ClientOrderID: e.newID(),
		}

		rec := IOCAttempt{Index: attempt, Price: limit, ClientOrderID: req.ClientOrderID}
		res.FinalPriceAttempted = limit
		attempt++
		metrics.IOCAttempts.WithLabelValues(string(side)).Inc()

		order, err := e.broker.SubmitOrder(ctx, req)
		if err == nil && order == nil {
			err = errNoOrder
		}
		if err != nil {
			rec.Err = err
			order = e.recoverOrder(ctx, req, err)
			if order == nil {
				metrics.OrdersTotal.WithLabelValues(string(req.Type), string(side), "ERROR").Inc()
				res.Attempts = append(res.Attempts, rec)
				continue
			}
		}
		metrics.OrdersTotal.WithLabelValues(string(req.Type), string(side), string(order.Status)).Inc()

		filled := order.FilledQty
		if filled > remaining {
			log.Warn().
				Str("symbol", symbol).
				Int64("filled", filled).
				Int64("requested", remaining).
				Msg("⚠️ Broker reported overfill, capping")
			filled = remaining
		}
		rec.Status = order.Status

		if filled > 0 {
			price := limit
			if order.AvgFillPrice != nil && order.AvgFillPrice.IsPositive() {
				price = *order.AvgFillPrice
			}
			rec.FilledQty = filled
			rec.FillPrice = price
			res.FilledQty += filled
			res.TotalProceeds = res.TotalProceeds.Add(price.Mul(decimal.NewFromInt(filled)))

			log.Info().
				Str("symbol", symbol).
				Str("side", string(side)).
				Int64("filled", filled).
				Int64("total", res.FilledQty).
				Int64("target", targetQty).
				Str("price", price.StringFixed(2)).
				Int("attempt", rec.Index).
				Msg("🔫 IOC fill")
		}
		res.Attempts = append(res.Attempts, rec)

		if res.FilledQty >= targetQty {
			break
		}
		current = current.Add(step)
	}

	res.AttemptsUsed = attempt
	if res.FilledQty > 0 {
		res.AvgPrice = res.TotalProceeds.Div(decimal.NewFromInt(res.FilledQty))
	}
	res.Duration = time.Since(started)

	log.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Int64("filled", res.FilledQty).
		Int64("target", targetQty).
		Str("avg", res.AvgPrice.StringFixed(4)).
		Int("attempts", res.AttemptsUsed).
		Bool("deviation_abort", res.AbortedDueToDeviation).
		Str("final_price", res.FinalPriceAttempted.StringFixed(2)).
		Dur("took", res.Duration).
		Msg("🔫 IOC chase finished")

	return res
}

// recoverOrder looks up an order whose submission errored. A nil return means
// the attempt stays a plain transient error.
func (e *IOCExecutor) recoverOrder(ctx context.Context, req types.OrderRequest, submitErr error) *types.Order {
	if e.lookup == nil {
		log.Warn().Err(submitErr).Str("symbol", req.Symbol).Str("client_id", req.ClientOrderID).Msg("⚠️ IOC submit failed")
		return nil
	}

	order, err := e.lookup.GetOrderByClientID(ctx, req.ClientOrderID)
	if err != nil || order == nil {
		log.Warn().
			Err(submitErr).
			AnErr("lookup_err", err).
			Str("symbol", req.Symbol).
			Str("client_id", req.ClientOrderID).
			Msg("⚠️ IOC submit failed, order not found")
		return nil
	}

	log.Warn().
		Err(submitErr).
		Str("symbol", req.Symbol).
		Str("client_id", req.ClientOrderID).
		Str("status", string(order.Status)).
		Int64("filled", order.FilledQty).
		Msg("⚠️ IOC submit errored but order exists, accounting it")
	return order
}

// errNoOrder stands in for a broker that answered without an order or error
var errNoOrder = errors.New("broker returned no order")

func deviation(current, start decimal.Decimal) decimal.Decimal {
	if start.IsZero() {
		return decimal.Zero
	}
	return current.Sub(start).Abs().Div(start)
}
