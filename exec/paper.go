package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/qqqbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PAPER BROKER - In-memory fills for dry runs and replays
// ═══════════════════════════════════════════════════════════════════════════════
//
// IOC limit: buy fills when limit >= last, sell when limit <= last, at last.
// Market:    fills at last adjusted by SlippageBps against us.
// MaxFillPerOrder caps each fill to exercise the chase loop.
//
// Prices come from SetPrice (replay) or from an upstream feed (dry run).
//
// ═══════════════════════════════════════════════════════════════════════════════

// ErrNoPrice is returned when the paper broker has no price for a symbol
var ErrNoPrice = errors.New("no price")

// PriceFeed supplies live prices to the paper broker
type PriceFeed interface {
	LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// BarFeed optionally supplies history
type BarFeed interface {
	HistoricalBars(ctx context.Context, symbol string, n int) ([]types.Bar, error)
}

// PaperConfig tunes simulated fills
type PaperConfig struct {
	SlippageBps     int64
	MaxFillPerOrder int64 // 0 = unlimited
}

type PaperBroker struct {
	mu        sync.Mutex
	cfg       PaperConfig
	feed      PriceFeed
	prices    map[string]decimal.Decimal
	positions map[string]int64
	costBasis map[string]decimal.Decimal
	orders    map[string]*types.Order // by client order id
	now       func() time.Time
}

// NewPaperBroker creates a paper broker. feed may be nil.
func NewPaperBroker(cfg PaperConfig, feed PriceFeed) *PaperBroker {
	log.Info().
		Int64("slippage_bps", cfg.SlippageBps).
		Int64("max_fill", cfg.MaxFillPerOrder).
		Msg("📝 Paper broker initialized")

	return &PaperBroker{
		cfg:       cfg,
		feed:      feed,
		prices:    make(map[string]decimal.Decimal),
		positions: make(map[string]int64),
		costBasis: make(map[string]decimal.Decimal),
		orders:    make(map[string]*types.Order),
		now:       time.Now,
	}
}

// SetClock overrides the order timestamp source (replay)
func (p *PaperBroker) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// SetPrice pins the last price for symbol
func (p *PaperBroker) SetPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// SetPosition seeds a holding (tests, crash simulations)
func (p *PaperBroker) SetPosition(symbol string, qty int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if qty <= 0 {
		delete(p.positions, symbol)
		return
	}
	p.positions[symbol] = qty
}

// LatestPrice returns the pinned price or asks the feed
func (p *PaperBroker) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p.mu.Lock()
	px, ok := p.prices[symbol]
	feed := p.feed
	p.mu.Unlock()

	if ok {
		return px, nil
	}
	if feed == nil {
		return decimal.Zero, fmt.Errorf("%w for %s", ErrNoPrice, symbol)
	}
	return feed.LatestPrice(ctx, symbol)
}

// HistoricalBars delegates to the feed when it can serve history
func (p *PaperBroker) HistoricalBars(ctx context.Context, symbol string, n int) ([]types.Bar, error) {
	if bf, ok := p.feed.(BarFeed); ok {
		return bf.HistoricalBars(ctx, symbol, n)
	}
	return nil, fmt.Errorf("paper broker has no history for %s", symbol)
}

// ListPositions returns simulated holdings
func (p *PaperBroker) ListPositions(ctx context.Context) ([]types.BrokerPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]types.BrokerPosition, 0, len(p.positions))
	for sym, qty := range p.positions {
		mv := decimal.Zero
		if px, ok := p.prices[sym]; ok {
			mv = px.Mul(decimal.NewFromInt(qty))
		} else if basis, ok := p.costBasis[sym]; ok {
			mv = basis
		}
		out = append(out, types.BrokerPosition{Symbol: sym, Quantity: qty, MarketValue: mv})
	}
	return out, nil
}

// SubmitOrder simulates an immediate fill decision
func (p *PaperBroker) SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %d", req.Quantity)
	}
	last, err := p.LatestPrice(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if req.Side == types.SideSell && p.positions[req.Symbol] < req.Quantity {
		return p.record(req, types.OrderStatusRejected, 0, decimal.Zero), nil
	}

	var (
		fillQty int64
		price   decimal.Decimal
	)
	switch req.Type {
	case types.OrderTypeIOCLimit:
		crosses := (req.Side == types.SideBuy && req.LimitPrice.GreaterThanOrEqual(last)) ||
			(req.Side == types.SideSell && req.LimitPrice.LessThanOrEqual(last))
		if crosses {
			fillQty = p.capFill(req.Quantity)
			price = last
		}
	case types.OrderTypeMarket:
		fillQty = req.Quantity
		slip := last.Mul(decimal.NewFromInt(p.cfg.SlippageBps)).Div(decimal.NewFromInt(10000))
		if req.Side == types.SideBuy {
			price = last.Add(slip).Round(2)
		} else {
			price = last.Sub(slip).Round(2)
		}
	default:
		return nil, fmt.Errorf("unsupported order type %q", req.Type)
	}

	status := types.OrderStatusCanceled
	switch {
	case fillQty == req.Quantity:
		status = types.OrderStatusFilled
	case fillQty > 0:
		status = types.OrderStatusPartiallyFilled
	}

	if fillQty > 0 {
		notional := price.Mul(decimal.NewFromInt(fillQty))
		if req.Side == types.SideBuy {
			p.positions[req.Symbol] += fillQty
			p.costBasis[req.Symbol] = p.costBasis[req.Symbol].Add(notional)
		} else {
			held := p.positions[req.Symbol]
			p.positions[req.Symbol] = held - fillQty
			if p.positions[req.Symbol] <= 0 {
				delete(p.positions, req.Symbol)
				delete(p.costBasis, req.Symbol)
			} else {
				ratio := decimal.NewFromInt(held - fillQty).Div(decimal.NewFromInt(held))
				p.costBasis[req.Symbol] = p.costBasis[req.Symbol].Mul(ratio)
			}
		}
	}

	order := p.record(req, status, fillQty, price)
	log.Debug().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("type", string(req.Type)).
		Str("limit", req.LimitPrice.StringFixed(2)).
		Str("last", last.StringFixed(2)).
		Int64("filled", fillQty).
		Str("status", string(status)).
		Msg("📝 Paper order")
	return order, nil
}

// GetOrderByClientID returns a previously simulated order
func (p *PaperBroker) GetOrderByClientID(ctx context.Context, clientOrderID string) (*types.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[clientOrderID]
	if !ok {
		return nil, fmt.Errorf("order %s not found", clientOrderID)
	}
	cp := *o
	return &cp, nil
}

func (p *PaperBroker) capFill(qty int64) int64 {
	if p.cfg.MaxFillPerOrder > 0 && qty > p.cfg.MaxFillPerOrder {
		return p.cfg.MaxFillPerOrder
	}
	return qty
}

// record stores the order; caller holds the lock
func (p *PaperBroker) record(req types.OrderRequest, status types.OrderStatus, filled int64, price decimal.Decimal) *types.Order {
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	o := &types.Order{
		ID:            "PAPER_" + uuid.NewString(),
		ClientOrderID: clientID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        status,
		FilledQty:     filled,
		SubmittedAt:   p.now(),
	}
	if filled > 0 {
		px := price
		o.AvgFillPrice = &px
	}
	p.orders[clientID] = o
	cp := *o
	return &cp
}
