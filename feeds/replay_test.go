package feeds

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(hms string) time.Time {
	t, _ := time.Parse(time.RFC3339, "2026-02-09T"+hms+"Z")
	return t
}

func TestLoadTicks(t *testing.T) {
	csv := `timestamp,symbol,price,size
2026-02-09T14:30:02.000Z,QQQ,501.10,100
2026-02-09T14:30:01.500+00:00,QQQ,501.00,50
garbage,QQQ,1,1
2026-02-09T14:30:03,QQQ,abc,1
2026-02-09T14:30:04,QQQ,501.20,1
short,row
`
	ticks, err := LoadTicks(strings.NewReader(csv), "")
	require.NoError(t, err)
	require.Len(t, ticks, 3)

	assert.Equal(t, "QQQ", ticks[0].Symbol)
	assert.True(t, ticks[0].Price.Equal(decimal.RequireFromString("501.00")), "sorted by time")
	assert.True(t, ticks[2].Time.Equal(ts("14:30:04")), "naive timestamps are UTC")
}

func TestLoadTickFile(t *testing.T) {
	dir := t.TempDir()
	path := TickFileName(dir, "20260209", "TQQQ")
	assert.Equal(t, filepath.Join(dir, "20260209_market_data_TQQQ.csv"), path)

	require.NoError(t, os.WriteFile(path, []byte("ts,sym,price\n2026-02-09T15:00:00Z,X,55.5\n"), 0o600))
	ticks, err := LoadTickFile(path, "TQQQ")
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, "TQQQ", ticks[0].Symbol)

	_, err = LoadTickFile(filepath.Join(dir, "missing.csv"), "TQQQ")
	assert.Error(t, err)
}

func TestMarketHours(t *testing.T) {
	s := Series{
		{Time: ts("14:29:59")},
		{Time: ts("14:30:00")},
		{Time: ts("18:00:00")},
		{Time: ts("21:00:00")},
		{Time: ts("21:00:01")},
	}
	kept := s.MarketHours()
	require.Len(t, kept, 3)
	assert.True(t, kept[0].Time.Equal(ts("14:30:00")))
	assert.True(t, kept[2].Time.Equal(ts("21:00:00")))
}

func TestNearest(t *testing.T) {
	s := Series{
		{Time: ts("15:00:00"), Price: decimal.NewFromInt(1)},
		{Time: ts("15:00:10"), Price: decimal.NewFromInt(2)},
		{Time: ts("15:00:20"), Price: decimal.NewFromInt(3)},
	}
	tests := []struct {
		at   string
		want int64
	}{
		{"14:00:00", 1},
		{"15:00:04", 1},
		{"15:00:05", 1}, // tie goes earlier
		{"15:00:06", 2},
		{"15:00:20", 3},
		{"16:00:00", 3},
	}
	for _, tt := range tests {
		got, ok := s.Nearest(ts(tt.at))
		require.True(t, ok)
		assert.Equal(t, tt.want, got.Price.IntPart(), tt.at)
	}

	_, ok := Series{}.Nearest(ts("15:00:00"))
	assert.False(t, ok)
}

type recordingHandler struct {
	prices []string
	times  []time.Time
	errAt  int
	err    error
}

func (h *recordingHandler) OnTick(_ context.Context, price decimal.Decimal, now time.Time) error {
	h.prices = append(h.prices, price.String())
	h.times = append(h.times, now)
	if h.err != nil && len(h.prices) == h.errAt {
		return h.err
	}
	return nil
}

type priceLog map[string][]string

func (p priceLog) SetPrice(symbol string, price decimal.Decimal) {
	p[symbol] = append(p[symbol], price.String())
}

func TestReplayDrivesHandler(t *testing.T) {
	series := map[string]Series{
		"QQQ": {
			{Time: ts("15:00:00"), Price: decimal.NewFromInt(500)},
			{Time: ts("15:00:30"), Price: decimal.NewFromInt(501)},
		},
		"TQQQ": {
			{Time: ts("14:59:59"), Price: decimal.NewFromInt(50)},
			{Time: ts("15:00:29"), Price: decimal.NewFromInt(51)},
		},
		"SQQQ": {
			{Time: ts("15:00:01"), Price: decimal.NewFromInt(20)},
		},
	}
	h := &recordingHandler{}
	prices := priceLog{}
	rp := &Replay{Handler: h, Prices: prices, Benchmark: "QQQ", Bull: "TQQQ", Bear: "SQQQ"}

	stats, err := rp.Run(context.Background(), series)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Ticks)
	assert.Equal(t, []string{"500", "501"}, h.prices)
	assert.Equal(t, []string{"50", "51"}, prices["TQQQ"])
	assert.Equal(t, []string{"20", "20"}, prices["SQQQ"])
	assert.True(t, rp.Now().Equal(ts("15:00:30")))
}

func TestReplayStopsOnFatal(t *testing.T) {
	fatal := errors.New("fatal")
	series := map[string]Series{"QQQ": {
		{Time: ts("15:00:00"), Price: decimal.NewFromInt(500)},
		{Time: ts("15:00:01"), Price: decimal.NewFromInt(501)},
		{Time: ts("15:00:02"), Price: decimal.NewFromInt(502)},
	}}
	h := &recordingHandler{errAt: 2, err: fatal}
	rp := &Replay{
		Handler: h, Prices: priceLog{}, Benchmark: "QQQ", Bull: "TQQQ", Bear: "SQQQ",
		StopOn: func(err error) bool { return errors.Is(err, fatal) },
	}

	stats, err := rp.Run(context.Background(), series)
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 2, stats.Ticks)
	assert.Equal(t, 1, stats.Errors)
}

func TestReplayNeedsBenchmark(t *testing.T) {
	rp := &Replay{Handler: &recordingHandler{}, Prices: priceLog{}, Benchmark: "QQQ"}
	_, err := rp.Run(context.Background(), map[string]Series{})
	assert.Error(t, err)
}
