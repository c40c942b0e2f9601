package feeds

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/qqqbot/types"
)

type mockREST struct{ mock.Mock }

func (m *mockREST) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockREST) HistoricalBars(ctx context.Context, symbol string, n int) ([]types.Bar, error) {
	args := m.Called(ctx, symbol, n)
	return args.Get(0).([]types.Bar), args.Error(1)
}

func TestPriceSourcePrefersFreshStream(t *testing.T) {
	now := time.Date(2025, 3, 4, 15, 0, 10, 0, time.UTC)
	stream := NewQuoteStream(StreamConfig{})
	stream.update(PriceUpdate{Symbol: "QQQ", Price: decimal.NewFromInt(501), Timestamp: now.Add(-2 * time.Second)})

	rest := &mockREST{}
	src := NewPriceSource(stream, rest, 5*time.Second)
	src.SetClock(func() time.Time { return now })

	px, err := src.LatestPrice(context.Background(), "QQQ")
	require.NoError(t, err)
	assert.True(t, px.Equal(decimal.NewFromInt(501)))
	rest.AssertNotCalled(t, "LatestPrice", mock.Anything, mock.Anything)
}

func TestPriceSourceFallsBackWhenStale(t *testing.T) {
	now := time.Date(2025, 3, 4, 15, 0, 10, 0, time.UTC)
	stream := NewQuoteStream(StreamConfig{})
	stream.update(PriceUpdate{Symbol: "QQQ", Price: decimal.NewFromInt(501), Timestamp: now.Add(-6 * time.Second)})

	rest := &mockREST{}
	rest.On("LatestPrice", mock.Anything, "QQQ").Return(decimal.NewFromInt(502), nil).Once()
	rest.On("LatestPrice", mock.Anything, "SQQQ").Return(decimal.NewFromInt(20), nil).Once()

	src := NewPriceSource(stream, rest, 5*time.Second)
	src.SetClock(func() time.Time { return now })

	px, err := src.LatestPrice(context.Background(), "QQQ")
	require.NoError(t, err)
	assert.True(t, px.Equal(decimal.NewFromInt(502)))

	// never streamed
	px, err = src.LatestPrice(context.Background(), "SQQQ")
	require.NoError(t, err)
	assert.True(t, px.Equal(decimal.NewFromInt(20)))

	rest.AssertExpectations(t)
}

func TestPriceSourceWithoutStream(t *testing.T) {
	rest := &mockREST{}
	bars := []types.Bar{{Close: decimal.NewFromInt(1)}}
	rest.On("LatestPrice", mock.Anything, "QQQ").Return(decimal.NewFromInt(500), nil)
	rest.On("HistoricalBars", mock.Anything, "QQQ", 60).Return(bars, nil)

	src := NewPriceSource(nil, rest, 0)
	px, err := src.LatestPrice(context.Background(), "QQQ")
	require.NoError(t, err)
	assert.True(t, px.Equal(decimal.NewFromInt(500)))

	got, err := src.HistoricalBars(context.Background(), "QQQ", 60)
	require.NoError(t, err)
	assert.Equal(t, bars, got)
}
