package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/qqqbot/internal/metrics"
	"github.com/web3guy0/qqqbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER ROUTER - IOC chase first, market order fallback
// ═══════════════════════════════════════════════════════════════════════════════
//
//   quote ± offset → IOC chase → (remaining > 0 && fallback) → MARKET
//
// Market orders may be acknowledged before they fill. When the broker can
// look orders up they are polled briefly; otherwise, or if no fill price is
// ever reported, the quote is used as an estimate.
//
// ═══════════════════════════════════════════════════════════════════════════════

// RouterConfig selects the execution style
type RouterConfig struct {
	IOCEnabled         bool
	IOC                IOCParams
	LimitOffset        decimal.Decimal // added to the quote for buys, subtracted for sells
	MarketFallbackBuy  bool
	MarketFallbackSell bool
	MarketPollAttempts int
	MarketPollInterval time.Duration
}

// Fill is the combined outcome of one buy or sell
type Fill struct {
	Symbol    string
	Side      types.Side
	Requested int64
	Qty       int64
	AvgPrice  decimal.Decimal
	Notional  decimal.Decimal // qty * avg, what was paid or received
	Estimated bool            // some of the notional came from the quote
	Method    string          // "ioc", "market" or "ioc+market"
	IOC       *IOCResult
}

// Complete reports whether the requested quantity filled
func (f Fill) Complete() bool { return f.Qty >= f.Requested }

type Router struct {
	broker OrderSubmitter
	lookup OrderLookup
	ioc    *IOCExecutor
	cfg    RouterConfig
	newID  func() string
	sleep  func(context.Context, time.Duration) error
}

// NewRouter creates a router over broker
func NewRouter(broker OrderSubmitter, cfg RouterConfig) *Router {
	if cfg.MarketPollAttempts < 0 {
		cfg.MarketPollAttempts = 0
	}
	r := &Router{
		broker: broker,
		ioc:    NewIOCExecutor(broker),
		cfg:    cfg,
		newID:  func() string { return uuid.NewString() },
		sleep:  sleepCtx,
	}
	if lk, ok := broker.(OrderLookup); ok {
		r.lookup = lk
	}
	return r
}

// Config returns the router settings
func (r *Router) Config() RouterConfig { return r.cfg }

// StartPrice is where a chase begins for side given the quote
func (r *Router) StartPrice(side types.Side, quote decimal.Decimal) decimal.Decimal {
	if !r.cfg.IOCEnabled {
		return quote
	}
	if side == types.SideBuy {
		return quote.Add(r.cfg.LimitOffset)
	}
	return quote.Sub(r.cfg.LimitOffset)
}

// Buy acquires qty shares of symbol
func (r *Router) Buy(ctx context.Context, symbol string, qty int64, quote decimal.Decimal) (Fill, error) {
	return r.route(ctx, symbol, qty, types.SideBuy, quote, r.cfg.MarketFallbackBuy)
}

// Sell disposes of qty shares of symbol
func (r *Router) Sell(ctx context.Context, symbol string, qty int64, quote decimal.Decimal) (Fill, error) {
	return r.route(ctx, symbol, qty, types.SideSell, quote, r.cfg.MarketFallbackSell)
}

func (r *Router) route(ctx context.Context, symbol string, qty int64, side types.Side, quote decimal.Decimal, fallback bool) (Fill, error) {
	fill := Fill{Symbol: symbol, Side: side, Requested: qty, AvgPrice: decimal.Zero, Notional: decimal.Zero}
	if qty <= 0 {
		return fill, nil
	}

	if !r.cfg.IOCEnabled {
		err := r.market(ctx, &fill, qty, quote)
		fill.Method = "market"
		return fill, err
	}

	res := r.ioc.Execute(ctx, symbol, qty, side, r.StartPrice(side, quote), r.cfg.IOC)
	fill.IOC = &res
	fill.Method = "ioc"
	fill.Qty = res.FilledQty
	fill.Notional = res.TotalProceeds
	fill.AvgPrice = res.AvgPrice

	remaining := res.Remaining()
	if remaining == 0 || !fallback {
		return fill, nil
	}

	log.Warn().
		Str("symbol", symbol).
		Str("side", string(side)).
		Int64("remaining", remaining).
		Bool("deviation_abort", res.AbortedDueToDeviation).
		Msg("⚡ IOC incomplete, falling back to market order")

	fill.Method = "ioc+market"
	err := r.market(ctx, &fill, remaining, quote)
	return fill, err
}

// market sends one market order and folds its fill into f
func (r *Router) market(ctx context.Context, f *Fill, qty int64, quote decimal.Decimal) error {
	req := types.OrderRequest{
		Symbol:        f.Symbol,
		Quantity:      qty,
		Side:          f.Side,
		Type:          types.OrderTypeMarket,
		ClientOrderID: r.newID(),
	}

	order, err := r.broker.SubmitOrder(ctx, req)
	if err == nil && order == nil {
		err = errNoOrder
	}
	if err != nil {
		metrics.OrdersTotal.WithLabelValues(string(req.Type), string(req.Side), "ERROR").Inc()
		return fmt.Errorf("market %s %d %s: %w", req.Side, qty, req.Symbol, err)
	}

	order = r.awaitFill(ctx, order)
	metrics.OrdersTotal.WithLabelValues(string(req.Type), string(req.Side), string(order.Status)).Inc()

	switch order.Status {
	case types.OrderStatusRejected, types.OrderStatusCanceled, types.OrderStatusExpired:
		if order.FilledQty == 0 {
			return fmt.Errorf("market %s %d %s: order %s %s", req.Side, qty, req.Symbol, order.ID, order.Status)
		}
	}

	filled := order.FilledQty
	price := quote
	estimated := true
	if filled == 0 && order.Status != types.OrderStatusRejected {
		// accepted but not yet reported, book it at the quote
		filled = qty
	}
	if filled > qty {
		filled = qty
	}
	if order.AvgFillPrice != nil && order.AvgFillPrice.IsPositive() {
		price = *order.AvgFillPrice
		estimated = false
	}

	f.Qty += filled
	f.Notional = f.Notional.Add(price.Mul(decimal.NewFromInt(filled)))
	if f.Qty > 0 {
		f.AvgPrice = f.Notional.Div(decimal.NewFromInt(f.Qty))
	}
	f.Estimated = f.Estimated || estimated

	log.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Int64("qty", filled).
		Str("price", price.StringFixed(2)).
		Bool("estimated", estimated).
		Str("order_id", order.ID).
		Msg("✅ Market order filled")
	return nil
}

// awaitFill polls a market order until it reports a terminal state
func (r *Router) awaitFill(ctx context.Context, order *types.Order) *types.Order {
	if r.lookup == nil || terminal(order) {
		return order
	}
	for i := 0; i < r.cfg.MarketPollAttempts; i++ {
		if err := r.sleep(ctx, r.cfg.MarketPollInterval); err != nil {
			return order
		}
		latest, err := r.lookup.GetOrderByClientID(ctx, order.ClientOrderID)
		if err != nil || latest == nil {
			log.Debug().Err(err).Str("client_id", order.ClientOrderID).Msg("Market order poll failed")
			continue
		}
		order = latest
		if terminal(order) {
			break
		}
	}
	return order
}

func terminal(o *types.Order) bool { return o.Status.Terminal() }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
