package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Signal is the market state derived from the benchmark trend
type Signal string

const (
	SignalBull    Signal = "BULL"
	SignalBear    Signal = "BEAR"
	SignalNeutral Signal = "NEUTRAL"
	SignalClose   Signal = "CLOSE"
)

// Side is the direction of an order
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType selects how the broker should work an order
type OrderType string

const (
	OrderTypeMarket   OrderType = "MARKET"
	OrderTypeIOCLimit OrderType = "IOC_LIMIT"
)

// OrderStatus is the broker-reported lifecycle state of an order
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the broker is done with the order; a partial
// fill can still grow until the rest is canceled.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		return true
	}
	return false
}

// OrderRequest is what we ask the broker to do
type OrderRequest struct {
	Symbol        string
	Quantity      int64
	Side          Side
	Type          OrderType
	LimitPrice    decimal.Decimal // IOC_LIMIT only
	ClientOrderID string          // Idempotency key
}

// Order is the broker's answer to an OrderRequest
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Side          Side
	Status        OrderStatus
	FilledQty     int64
	AvgFillPrice  *decimal.Decimal // nil when the broker omits it
	SubmittedAt   time.Time
}

// BrokerPosition is a holding as reported by the account endpoint
type BrokerPosition struct {
	Symbol      string
	Quantity    int64
	MarketValue decimal.Decimal
}

// Bar is a historical price bar; only the close is used for seeding
type Bar struct {
	Time  time.Time
	Close decimal.Decimal
}

// Status is a read-only snapshot of the bot for display (Telegram, logs)
type Status struct {
	Signal      Signal
	Neutral     string
	Benchmark   decimal.Decimal
	SMA         decimal.Decimal
	Position    string
	Shares      int64
	Cash        decimal.Decimal
	Leftover    decimal.Decimal
	Equity      decimal.Decimal
	PnL         decimal.Decimal
	LastTrade   *time.Time
	UpdatedAt   time.Time
	MarketOpen  bool
	LastTickErr string

	// tick circuit breaker
	TickFailures int
	Paused       bool
	PauseReason  string
}

// TradeRecord is one execution episode as written to the journal
type TradeRecord struct {
	Time           time.Time
	Symbol         string
	Side           Side
	Requested      int64
	Filled         int64
	AvgPrice       decimal.Decimal
	Notional       decimal.Decimal
	Method         string
	Attempts       int
	DeviationAbort bool
	Estimated      bool
	Reason         string
}

// RotationEvent is one position decision as written to the journal
type RotationEvent struct {
	Time     time.Time
	Kind     string // ROTATE, FLATTEN, ADOPT, RECONCILE, BANK
	From     string
	To       string
	Reason   string
	Cash     decimal.Decimal
	Leftover decimal.Decimal
	Shares   int64
}
