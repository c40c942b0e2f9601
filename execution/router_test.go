package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/qqqbot/types"
)

func routerConfig() RouterConfig {
	return RouterConfig{
		IOCEnabled:         true,
		IOC:                params("0.01", 3, "0.005"),
		LimitOffset:        dec("0.02"),
		MarketFallbackSell: true,
	}
}

func TestRouterStartPriceAppliesOffset(t *testing.T) {
	r := NewRouter(&scriptedBroker{respond: fillAll}, routerConfig())
	assert.True(t, r.StartPrice(types.SideBuy, dec("50.00")).Equal(dec("50.02")))
	assert.True(t, r.StartPrice(types.SideSell, dec("50.00")).Equal(dec("49.98")))

	cfg := routerConfig()
	cfg.IOCEnabled = false
	r = NewRouter(&scriptedBroker{respond: fillAll}, cfg)
	assert.True(t, r.StartPrice(types.SideBuy, dec("50.00")).Equal(dec("50.00")))
}

func TestRouterIOCFill(t *testing.T) {
	broker := &scriptedBroker{respond: fillAll}
	fill, err := NewRouter(broker, routerConfig()).Buy(context.Background(), "TQQQ", 10, dec("50.00"))
	require.NoError(t, err)

	assert.True(t, fill.Complete())
	assert.Equal(t, "ioc", fill.Method)
	assert.True(t, fill.Notional.Equal(dec("500.20")))
	require.NotNil(t, fill.IOC)
	assert.Equal(t, 1, fill.IOC.AttemptsUsed)
}

func TestRouterSellFallsBackToMarket(t *testing.T) {
	px := dec("49.90")
	broker := &scriptedBroker{respond: func(n int, req types.OrderRequest) (*types.Order, error) {
		if req.Type == types.OrderTypeMarket {
			return &types.Order{ID: "m1", Status: types.OrderStatusFilled, FilledQty: req.Quantity, AvgFillPrice: &px}, nil
		}
		if n == 0 {
			return &types.Order{Status: types.OrderStatusPartiallyFilled, FilledQty: 4}, nil
		}
		return noFill(n, req)
	}}

	fill, err := NewRouter(broker, routerConfig()).Sell(context.Background(), "SQQQ", 10, dec("50.00"))
	require.NoError(t, err)

	assert.Equal(t, "ioc+market", fill.Method)
	assert.Equal(t, int64(10), fill.Qty)
	// 4 @ 49.98 + 6 @ 49.90
	assert.True(t, fill.Notional.Equal(dec("199.92").Add(dec("299.40"))), "notional %s", fill.Notional)
	assert.False(t, fill.Estimated)

	last := broker.requests[len(broker.requests)-1]
	assert.Equal(t, types.OrderTypeMarket, last.Type)
	assert.Equal(t, int64(6), last.Quantity)
}

func TestRouterBuyWithoutFallbackStaysPartial(t *testing.T) {
	broker := &scriptedBroker{respond: noFill}
	fill, err := NewRouter(broker, routerConfig()).Buy(context.Background(), "TQQQ", 10, dec("50.00"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), fill.Qty)
	assert.False(t, fill.Complete())
	for _, req := range broker.requests {
		assert.Equal(t, types.OrderTypeIOCLimit, req.Type)
	}
}

func TestRouterMarketEstimatesUnreportedFill(t *testing.T) {
	cfg := routerConfig()
	cfg.IOCEnabled = false
	broker := &scriptedBroker{respond: func(_ int, req types.OrderRequest) (*types.Order, error) {
		return &types.Order{ID: "x", ClientOrderID: req.ClientOrderID, Status: types.OrderStatusNew}, nil
	}}

	fill, err := NewRouter(broker, cfg).Sell(context.Background(), "TQQQ", 3, dec("70.00"))
	require.NoError(t, err)
	assert.Equal(t, "market", fill.Method)
	assert.Equal(t, int64(3), fill.Qty)
	assert.True(t, fill.Estimated)
	assert.True(t, fill.Notional.Equal(dec("210")))
}

func TestRouterMarketPollsForFill(t *testing.T) {
	cfg := routerConfig()
	cfg.IOCEnabled = false
	cfg.MarketPollAttempts = 3
	cfg.MarketPollInterval = time.Millisecond

	px := dec("69.50")
	broker := &lookupBroker{orders: map[string]*types.Order{}}
	broker.respond = func(_ int, req types.OrderRequest) (*types.Order, error) {
		broker.orders[req.ClientOrderID] = &types.Order{ClientOrderID: req.ClientOrderID, Status: types.OrderStatusFilled, FilledQty: 3, AvgFillPrice: &px}
		return &types.Order{ClientOrderID: req.ClientOrderID, Status: types.OrderStatusNew}, nil
	}

	r := NewRouter(broker, cfg)
	r.sleep = func(context.Context, time.Duration) error { return nil }
	fill, err := r.Sell(context.Background(), "TQQQ", 3, dec("70.00"))
	require.NoError(t, err)
	assert.Equal(t, 1, broker.lookups)
	assert.False(t, fill.Estimated)
	assert.True(t, fill.AvgPrice.Equal(px))
}

func TestRouterMarketRejected(t *testing.T) {
	cfg := routerConfig()
	cfg.IOCEnabled = false
	broker := &scriptedBroker{respond: func(_ int, _ types.OrderRequest) (*types.Order, error) {
		return &types.Order{ID: "r", Status: types.OrderStatusRejected}, nil
	}}
	fill, err := NewRouter(broker, cfg).Buy(context.Background(), "TQQQ", 3, dec("70.00"))
	require.Error(t, err)
	assert.Equal(t, int64(0), fill.Qty)
}

func TestRouterMarketSubmitError(t *testing.T) {
	cfg := routerConfig()
	cfg.IOCEnabled = false
	boom := errors.New("boom")
	broker := &scriptedBroker{respond: func(int, types.OrderRequest) (*types.Order, error) { return nil, boom }}
	_, err := NewRouter(broker, cfg).Buy(context.Background(), "TQQQ", 3, dec("70.00"))
	require.ErrorIs(t, err, boom)
}

func TestRouterMarketNilOrderIsError(t *testing.T) {
	cfg := routerConfig()
	cfg.IOCEnabled = false
	broker := &scriptedBroker{respond: func(int, types.OrderRequest) (*types.Order, error) { return nil, nil }}

	fill, err := NewRouter(broker, cfg).Sell(context.Background(), "TQQQ", 10, dec("50.00"))
	require.ErrorIs(t, err, errNoOrder)
	assert.Equal(t, int64(0), fill.Qty)
}
