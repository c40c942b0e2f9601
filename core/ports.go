package core

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/qqqbot/execution"
	"github.com/web3guy0/qqqbot/types"
)

// MarketData supplies quotes and cold-start history
type MarketData interface {
	LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	HistoricalBars(ctx context.Context, symbol string, n int) ([]types.Bar, error)
}

// AccountReader reports broker-side holdings
type AccountReader interface {
	ListPositions(ctx context.Context) ([]types.BrokerPosition, error)
}

// Broker is everything a live brokerage offers the engine
type Broker interface {
	execution.OrderSubmitter
	MarketData
	AccountReader
}

// Journal records executions and rotation decisions (optional)
type Journal interface {
	RecordTrade(ctx context.Context, rec types.TradeRecord) error
	RecordRotation(ctx context.Context, ev types.RotationEvent) error
}

// TradeNotifier pushes trade alerts to a human (optional)
type TradeNotifier interface {
	NotifyTrade(action, symbol string, qty int64, price decimal.Decimal)
	NotifyAlert(msg string)
}
