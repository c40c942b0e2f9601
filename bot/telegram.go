package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/qqqbot/internal/database"
	"github.com/web3guy0/qqqbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Rotation notifications & status
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   💰 Trade notifications (buy/sell fills)
//   🛑 Fatal alerts (insufficient funds, shutdown)
//   🎛️ Commands (/status, /stats, /trades, /help, /ping)
//
// Notifications are queued and sent from Run so a slow Telegram API never
// stretches a trading tick.
//
// ═══════════════════════════════════════════════════════════════════════════════

const outboxSize = 64

// StatusProvider exposes the engine's read-only snapshot
type StatusProvider interface {
	Status() types.Status
}

// JournalReader exposes trade history (optional)
type JournalReader interface {
	RecentTrades(ctx context.Context, limit int) ([]database.Trade, error)
	Stats(ctx context.Context) (database.Stats, error)
}

// sender is the part of tgbotapi.BotAPI the bot uses to talk
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramBot manages the Telegram interface
type TelegramBot struct {
	api    *tgbotapi.BotAPI
	out    sender
	chatID int64
	mode   string

	mu      sync.RWMutex
	status  StatusProvider
	journal JournalReader

	outbox chan tgbotapi.MessageConfig
}

// NewTelegramBot connects to the Bot API
func NewTelegramBot(token string, chatID int64, mode string) (*TelegramBot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token not set")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id not set")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := newBot(api, chatID, mode)
	b.api = api
	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")
	return b, nil
}

func newBot(out sender, chatID int64, mode string) *TelegramBot {
	return &TelegramBot{
		out:    out,
		chatID: chatID,
		mode:   mode,
		outbox: make(chan tgbotapi.MessageConfig, outboxSize),
	}
}

// SetStatusProvider attaches the engine snapshot
func (b *TelegramBot) SetStatusProvider(p StatusProvider) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = p
}

// SetJournal attaches trade history
func (b *TelegramBot) SetJournal(j JournalReader) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.journal = j
}

// Run sends queued notifications and answers commands until ctx is done
func (b *TelegramBot) Run(ctx context.Context) error {
	var updates tgbotapi.UpdatesChannel
	if b.api != nil {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 30
		updates = b.api.GetUpdatesChan(u)
		defer b.api.StopReceivingUpdates()
	}

	log.Info().Msg("📱 Telegram bot started")
	for {
		select {
		case <-ctx.Done():
			b.flush()
			log.Info().Msg("Telegram bot stopped")
			return nil
		case msg := <-b.outbox:
			b.deliver(msg)
		case update, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			// Only respond to authorized chat
			if update.Message.Chat.ID != b.chatID {
				continue
			}
			b.handleCommand(ctx, update.Message.Command())
		}
	}
}

// flush drains what is already queued
func (b *TelegramBot) flush() {
	for {
		select {
		case msg := <-b.outbox:
			b.deliver(msg)
		default:
			return
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// NotifyTrade sends a fill alert
func (b *TelegramBot) NotifyTrade(action, symbol string, qty int64, price decimal.Decimal) {
	emoji := "📌"
	switch action {
	case "BUY":
		emoji = "✅"
	case "SELL":
		emoji = "📊"
	}

	msg := fmt.Sprintf(`%s *%s %s*

📦 Shares: *%d*
💵 Avg: *$%s*
💰 Notional: *$%s*`,
		emoji, action, symbol,
		qty,
		price.StringFixed(2),
		price.Mul(decimal.NewFromInt(qty)).StringFixed(2),
	)
	b.enqueue(msg)
}

// NotifyAlert sends a free-form alert
func (b *TelegramBot) NotifyAlert(text string) {
	b.enqueue("⚠️ " + text)
}

// NotifyStartup sends startup notification
func (b *TelegramBot) NotifyStartup(st types.Status) {
	msg := fmt.Sprintf(`🚀 *QQQBOT STARTED*
━━━━━━━━━━━━━━━━━━━━

📊 Mode: *%s*
💼 Position: *%s*
💰 Equity: *$%s*

Use /help for commands`, strings.ToUpper(b.mode), positionText(st), st.Equity.StringFixed(2))
	b.enqueue(msg)
}

// NotifyError sends an error alert
func (b *TelegramBot) NotifyError(err error) {
	b.enqueue(fmt.Sprintf("🛑 *ERROR*\n\n`%s`", err.Error()))
}

func (b *TelegramBot) enqueue(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = "Markdown"
	select {
	case b.outbox <- msg:
	default:
		log.Warn().Msg("Telegram outbox full, notification dropped")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) handleCommand(ctx context.Context, cmd string) {
	switch strings.ToLower(cmd) {
	case "start", "help":
		b.sendMarkdown(helpText)
	case "status":
		b.cmdStatus()
	case "stats":
		b.cmdStats(ctx)
	case "trades":
		b.cmdTrades(ctx)
	case "ping":
		b.send("🏓 Pong!")
	default:
		b.send("❓ Unknown command. Use /help")
	}
}

const helpText = `🤖 *QQQBOT COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status - Signal, position, capital
📈 /stats - Journal totals
📜 /trades - Last 10 executions
🏓 /ping - Test connection`

func (b *TelegramBot) cmdStatus() {
	b.mu.RLock()
	p := b.status
	b.mu.RUnlock()
	if p == nil {
		b.send("❌ Status not available")
		return
	}
	b.sendMarkdown(formatStatus(b.mode, p.Status()))
}

func (b *TelegramBot) cmdStats(ctx context.Context) {
	b.mu.RLock()
	j := b.journal
	b.mu.RUnlock()
	if j == nil {
		b.send("❌ Journal disabled")
		return
	}

	s, err := j.Stats(ctx)
	if err != nil {
		b.send("❌ Failed to read journal")
		return
	}

	msg := fmt.Sprintf(`📈 *JOURNAL*
━━━━━━━━━━━━━━━━━━━━

📊 Executions: *%d* (%d buys, %d sells)
🔄 Rotations: *%d*
🛑 Deviation aborts: *%d*
❔ Estimated fills: *%d*

━━━━━━━━━━━━━━━━━━━━
💵 Bought: *$%s*
💰 Sold: *$%s*`,
		s.Trades, s.Buys, s.Sells,
		s.Rotations,
		s.DeviationAborts,
		s.Estimated,
		s.Bought.StringFixed(2),
		s.Sold.StringFixed(2),
	)
	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdTrades(ctx context.Context) {
	b.mu.RLock()
	j := b.journal
	b.mu.RUnlock()
	if j == nil {
		b.send("❌ Journal disabled")
		return
	}

	trades, err := j.RecentTrades(ctx, 10)
	if err != nil {
		b.send("❌ Failed to fetch trades")
		return
	}
	if len(trades) == 0 {
		b.send("📭 No trade history yet")
		return
	}

	var sb strings.Builder
	sb.WriteString("📜 *LAST 10 TRADES*\n━━━━━━━━━━━━━━━━━━━━\n\n")
	for _, t := range trades {
		emoji := "✅"
		if t.Side == string(types.SideSell) {
			emoji = "📊"
		}
		fmt.Fprintf(&sb, "%s %s %d/%d %s @ $%s (%s)\n   _%s_\n\n",
			emoji, t.Side, t.Filled, t.Requested, t.Symbol,
			t.AvgPrice.StringFixed(2), t.Method,
			t.ExecutedAt.Format("Jan 2 15:04:05"),
		)
	}
	b.sendMarkdown(sb.String())
}

// formatStatus renders the engine snapshot
func formatStatus(mode string, st types.Status) string {
	session := "🌙 Closed"
	if st.MarketOpen {
		session = "🔔 Open"
	}

	signal := string(st.Signal)
	if signal == "" {
		signal = "-"
	}
	if st.Neutral != "" && st.Neutral != "NONE" {
		signal += " (" + st.Neutral + ")"
	}

	sign := "+"
	if st.PnL.IsNegative() {
		sign = ""
	}

	last := "never"
	if st.LastTrade != nil {
		last = st.LastTrade.Format(time.RFC3339)
	}

	msg := fmt.Sprintf(`📊 *BOT STATUS*
━━━━━━━━━━━━━━━━━━━━

📊 Mode: *%s*
%s
📡 Signal: *%s*
📈 Benchmark: *%s* (SMA %s)

💼 Position: *%s*
💵 Cash: *$%s*
🔒 Leftover: *$%s*
💰 Equity: *$%s*
📈 P&L: *%s$%s*
⏱️ Last trade: %s`,
		strings.ToUpper(mode),
		session,
		signal,
		st.Benchmark.StringFixed(2), st.SMA.StringFixed(2),
		positionText(st),
		st.Cash.StringFixed(2),
		st.Leftover.StringFixed(2),
		st.Equity.StringFixed(2),
		sign, st.PnL.StringFixed(2),
		last,
	)
	if st.LastTickErr != "" {
		msg += fmt.Sprintf("\n⚠️ Last tick: `%s`", st.LastTickErr)
	}
	if st.Paused {
		msg += fmt.Sprintf("\n⏸️ Paused after %d failed ticks", st.TickFailures)
	}
	return msg
}

func positionText(st types.Status) string {
	if st.Position == "" || st.Shares == 0 {
		return "FLAT"
	}
	return fmt.Sprintf("%d %s", st.Shares, st.Position)
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) deliver(msg tgbotapi.MessageConfig) {
	if _, err := b.out.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}

func (b *TelegramBot) send(text string) {
	b.deliver(tgbotapi.NewMessage(b.chatID, text))
}

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = "Markdown"
	b.deliver(msg)
}
