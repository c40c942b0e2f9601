package report

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/qqqbot/types"
)

// fakeEngine holds whatever the last tick set
type fakeEngine struct {
	status   types.Status
	position func(n int) string
	fail     int
	n        int
}

func (f *fakeEngine) OnTick(_ context.Context, price decimal.Decimal, now time.Time) error {
	f.n++
	f.status = types.Status{
		Benchmark: price,
		SMA:       price.Sub(decimal.NewFromInt(1)),
		Position:  f.position(f.n),
		Equity:    decimal.NewFromInt(10000 + int64(f.n)),
		UpdatedAt: now,
	}
	if f.n == f.fail {
		return errors.New("quote timeout")
	}
	return nil
}

func (f *fakeEngine) Status() types.Status { return f.status }

func TestRecorderSamplesEveryNthAndRotations(t *testing.T) {
	eng := &fakeEngine{position: func(n int) string {
		if n >= 7 {
			return "TQQQ"
		}
		return ""
	}}
	rec := &Recorder{Handler: eng, Status: eng, Every: 5}

	start := time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		require.NoError(t, rec.OnTick(context.Background(), decimal.NewFromInt(500+int64(i)), start.Add(time.Duration(i)*time.Second)))
	}

	// ticks 1, 6 and 11 by stride, tick 7 for the position change
	pts := rec.Points()
	require.Len(t, pts, 4)
	assert.Equal(t, "", pts[0].Position)
	assert.Equal(t, "TQQQ", pts[2].Position)
	assert.True(t, pts[2].Equity.Equal(decimal.NewFromInt(10007)))
	assert.Equal(t, start.Add(10*time.Second), pts[3].Time)
}

func TestRecorderPassesErrorsThrough(t *testing.T) {
	eng := &fakeEngine{position: func(int) string { return "" }, fail: 2}
	rec := &Recorder{Handler: eng, Status: eng}

	now := time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC)
	assert.NoError(t, rec.OnTick(context.Background(), decimal.NewFromInt(500), now))
	assert.EqualError(t, rec.OnTick(context.Background(), decimal.NewFromInt(501), now.Add(time.Second)), "quote timeout")
	assert.Len(t, rec.Points(), 2)
}

func TestRenderWritesHTML(t *testing.T) {
	rec := &Recorder{}
	var buf bytes.Buffer
	assert.Error(t, rec.Render(&buf, "empty"))

	eng := &fakeEngine{position: func(int) string { return "SQQQ" }}
	rec = &Recorder{Handler: eng, Status: eng}
	now := time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, rec.OnTick(context.Background(), decimal.NewFromInt(500), now.Add(time.Duration(i)*time.Second)))
	}

	require.NoError(t, rec.Render(&buf, "Replay 20250304"))
	html := buf.String()
	assert.Contains(t, html, "Replay 20250304")
	assert.Contains(t, html, "echarts")
	assert.Contains(t, html, "Equity")
}
