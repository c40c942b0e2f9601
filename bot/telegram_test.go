package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/qqqbot/internal/database"
	"github.com/web3guy0/qqqbot/types"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Text)
	}
	return out
}

type staticStatus types.Status

func (s staticStatus) Status() types.Status { return types.Status(s) }

type mockJournal struct{ mock.Mock }

func (m *mockJournal) RecentTrades(ctx context.Context, limit int) ([]database.Trade, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]database.Trade), args.Error(1)
}

func (m *mockJournal) Stats(ctx context.Context) (database.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(database.Stats), args.Error(1)
}

func TestNotificationsAreQueuedUntilRun(t *testing.T) {
	out := &fakeSender{}
	b := newBot(out, 42, "paper")

	b.NotifyTrade("BUY", "TQQQ", 199, decimal.RequireFromString("50.01"))
	b.NotifyAlert("insufficient funds")
	assert.Empty(t, out.texts(), "nothing sent from the caller's goroutine")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool { return len(out.texts()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	texts := out.texts()
	assert.Contains(t, texts[0], "BUY TQQQ")
	assert.Contains(t, texts[0], "*199*")
	assert.Contains(t, texts[0], "$9951.99")
	assert.Contains(t, texts[1], "insufficient funds")
	assert.Equal(t, int64(42), out.sent[0].ChatID)
	assert.Equal(t, "Markdown", out.sent[0].ParseMode)
}

func TestOutboxDropsWhenFull(t *testing.T) {
	out := &fakeSender{}
	b := newBot(out, 1, "paper")
	for i := 0; i < outboxSize+5; i++ {
		b.NotifyAlert("x")
	}
	assert.Len(t, b.outbox, outboxSize)

	b.flush()
	assert.Len(t, out.texts(), outboxSize)
}

func TestSendErrorIsLogged(t *testing.T) {
	out := &fakeSender{err: errors.New("boom")}
	b := newBot(out, 1, "paper")
	b.send("hi")
	assert.Len(t, out.texts(), 1)
}

func TestStatusCommand(t *testing.T) {
	out := &fakeSender{}
	b := newBot(out, 1, "live")

	b.handleCommand(context.Background(), "status")
	assert.Contains(t, out.texts()[0], "Status not available")

	last := time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC)
	b.SetStatusProvider(staticStatus{
		Signal:      types.SignalNeutral,
		Neutral:     "PENDING",
		Benchmark:   decimal.RequireFromString("505"),
		SMA:         decimal.RequireFromString("505.1234"),
		Position:    "TQQQ",
		Shares:      199,
		Cash:        decimal.RequireFromString("49.75"),
		Leftover:    decimal.RequireFromString("0.25"),
		Equity:      decimal.RequireFromString("9900"),
		PnL:         decimal.RequireFromString("-100"),
		LastTrade:   &last,
		MarketOpen:  true,
		LastTickErr: "quote timeout",
	})
	b.handleCommand(context.Background(), "STATUS")

	text := out.texts()[1]
	assert.Contains(t, text, "LIVE")
	assert.Contains(t, text, "NEUTRAL (PENDING)")
	assert.Contains(t, text, "199 TQQQ")
	assert.Contains(t, text, "$49.75")
	assert.Contains(t, text, "$0.25")
	assert.Contains(t, text, "P&L: *$-100.00*")
	assert.Contains(t, text, "🔔 Open")
	assert.Contains(t, text, "quote timeout")
}

func TestFormatStatusFlat(t *testing.T) {
	text := formatStatus("dry-run", types.Status{Signal: types.SignalBull, Neutral: "NONE", PnL: decimal.NewFromInt(5)})
	assert.Contains(t, text, "FLAT")
	assert.Contains(t, text, "*BULL*")
	assert.Contains(t, text, "+$5.00")
	assert.Contains(t, text, "never")
	assert.Contains(t, text, "🌙 Closed")
	assert.NotContains(t, text, "Paused")

	text = formatStatus("live", types.Status{Paused: true, TickFailures: 10})
	assert.Contains(t, text, "Paused after 10 failed ticks")
}

func TestJournalCommands(t *testing.T) {
	out := &fakeSender{}
	b := newBot(out, 1, "paper")
	ctx := context.Background()

	b.handleCommand(ctx, "trades")
	assert.Contains(t, out.texts()[0], "Journal disabled")

	j := &mockJournal{}
	j.On("RecentTrades", mock.Anything, 10).Return([]database.Trade{{
		Symbol: "SQQQ", Side: "SELL", Requested: 497, Filled: 497,
		AvgPrice: decimal.RequireFromString("20.02"), Method: "ioc",
		ExecutedAt: time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC),
	}}, nil).Once()
	j.On("Stats", mock.Anything).Return(database.Stats{
		Trades: 3, Buys: 2, Sells: 1, Rotations: 2,
		Bought: decimal.NewFromInt(205), Sold: decimal.NewFromInt(110),
	}, nil).Once()
	b.SetJournal(j)

	b.handleCommand(ctx, "trades")
	assert.Contains(t, out.texts()[1], "SELL 497/497 SQQQ @ $20.02 (ioc)")

	b.handleCommand(ctx, "stats")
	assert.Contains(t, out.texts()[2], "Executions: *3* (2 buys, 1 sells)")
	assert.Contains(t, out.texts()[2], "$205.00")

	j.AssertExpectations(t)
}

func TestUnknownAndPing(t *testing.T) {
	out := &fakeSender{}
	b := newBot(out, 1, "paper")
	b.handleCommand(context.Background(), "ping")
	b.handleCommand(context.Background(), "help")
	b.handleCommand(context.Background(), "moon")

	texts := out.texts()
	require.Len(t, texts, 3)
	assert.Equal(t, "🏓 Pong!", texts[0])
	assert.Contains(t, texts[1], "/status")
	assert.Contains(t, texts[2], "Unknown command")
}
