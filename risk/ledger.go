package risk

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/qqqbot/storage"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CAPITAL LEDGER - Cash, protected leftover and the single held position
// ═══════════════════════════════════════════════════════════════════════════════
//
// capital  = cash + leftover
// equity   = capital + shares * mark
// pnl      = equity - startingAmount
//
// Leftover is the fractional residue of the last buy. It is never spent on
// its own; it folds back into capital on the next sizing decision and is
// swept into cash by every sale.
//
// Pure bookkeeping. The engine owns the ledger and serializes access.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Ledger struct {
	startingAmount decimal.Decimal
	cash           decimal.Decimal
	leftover       decimal.Decimal
	position       string
	shares         int64
	lastTrade      *time.Time
}

// NewLedger creates a ledger with all capital available as cash
func NewLedger(startingAmount decimal.Decimal) *Ledger {
	l := &Ledger{}
	l.Restore(storage.NewBotState(startingAmount))
	return l
}

func (l *Ledger) StartingAmount() decimal.Decimal { return l.startingAmount }
func (l *Ledger) Cash() decimal.Decimal           { return l.cash }
func (l *Ledger) Leftover() decimal.Decimal       { return l.leftover }
func (l *Ledger) Position() string                { return l.position }
func (l *Ledger) Shares() int64                   { return l.shares }

// LastTrade returns the time of the last fill, nil if none
func (l *Ledger) LastTrade() *time.Time {
	if l.lastTrade == nil {
		return nil
	}
	t := *l.lastTrade
	return &t
}

// Holds reports whether the ledger has shares of symbol
func (l *Ledger) Holds(symbol string) bool {
	return symbol != "" && l.position == symbol && l.shares > 0
}

// Flat reports whether no position is held
func (l *Ledger) Flat() bool { return l.shares == 0 }

// Capital is everything that can fund the next buy
func (l *Ledger) Capital() decimal.Decimal {
	return l.cash.Add(l.leftover)
}

// Equity values the position at mark
func (l *Ledger) Equity(mark decimal.Decimal) decimal.Decimal {
	return l.Capital().Add(mark.Mul(decimal.NewFromInt(l.shares)))
}

// PnL is equity minus the starting amount
func (l *Ledger) PnL(mark decimal.Decimal) decimal.Decimal {
	return l.Equity(mark).Sub(l.startingAmount)
}

// ApplyBuy books a filled buy. cost is what the fills actually paid; residue
// is the sizing remainder that becomes the new protected leftover. Whatever
// capital the fill did not consume (partial fills, better prices) stays cash.
func (l *Ledger) ApplyBuy(symbol string, qty int64, cost, residue decimal.Decimal, at time.Time) {
	if qty <= 0 {
		return
	}

	capital := l.Capital()
	leftover := residue
	cash := capital.Sub(cost).Sub(residue)

	if cash.IsNegative() {
		// Filled above the sizing price: eat into the residue first
		leftover = leftover.Add(cash)
		cash = decimal.Zero
		if leftover.IsNegative() {
			log.Warn().
				Str("symbol", symbol).
				Str("shortfall", leftover.Neg().StringFixed(2)).
				Msg("⚠️ Buy cost exceeded capital, clamping to zero")
			leftover = decimal.Zero
		}
	}

	if l.position != symbol {
		l.shares = 0
	}
	l.position = symbol
	l.shares += qty
	l.cash = cash
	l.leftover = leftover
	l.touch(at)
}

// ApplySell books a sale. Proceeds plus the leftover are swept into cash.
// Selling a symbol the ledger does not track (broker-only holding) only
// credits the proceeds.
func (l *Ledger) ApplySell(symbol string, qty int64, proceeds decimal.Decimal, at time.Time) {
	if qty <= 0 {
		return
	}

	l.cash = l.cash.Add(proceeds).Add(l.leftover)
	l.leftover = decimal.Zero

	if l.position == symbol {
		l.shares -= qty
		if l.shares <= 0 {
			l.shares = 0
			l.position = ""
		}
	}
	l.touch(at)
}

// Adopt books a broker holding the ledger missed (crash between fill and
// save). Its market value is taken from cash, then from leftover.
func (l *Ledger) Adopt(symbol string, qty int64, marketValue decimal.Decimal, at time.Time) {
	if qty <= 0 {
		return
	}

	remaining := marketValue
	if l.cash.GreaterThanOrEqual(remaining) {
		l.cash = l.cash.Sub(remaining)
		remaining = decimal.Zero
	} else {
		remaining = remaining.Sub(l.cash)
		l.cash = decimal.Zero
	}
	if remaining.IsPositive() {
		if l.leftover.GreaterThanOrEqual(remaining) {
			l.leftover = l.leftover.Sub(remaining)
		} else {
			l.leftover = decimal.Zero
		}
	}

	l.position = symbol
	l.shares = qty
	l.touch(at)
}

// Bank moves all capital into the protected leftover. Used when capital
// cannot buy a single share.
func (l *Ledger) Bank() {
	l.leftover = l.Capital()
	l.cash = decimal.Zero
}

// Snapshot exports the persisted form
func (l *Ledger) Snapshot() storage.BotState {
	return storage.BotState{
		AvailableCash:       l.cash,
		AccumulatedLeftover: l.leftover,
		IsInitialized:       true,
		LastTradeTimestamp:  l.LastTrade(),
		CurrentPosition:     l.position,
		CurrentShares:       l.shares,
		StartingAmount:      l.startingAmount,
	}
}

// Restore replaces the ledger contents with a persisted state
func (l *Ledger) Restore(st storage.BotState) {
	l.startingAmount = st.StartingAmount
	l.cash = st.AvailableCash
	l.leftover = st.AccumulatedLeftover
	l.position = st.CurrentPosition
	l.shares = st.CurrentShares
	if l.shares == 0 {
		l.position = ""
	}
	l.lastTrade = nil
	if st.LastTradeTimestamp != nil {
		t := st.LastTradeTimestamp.UTC()
		l.lastTrade = &t
	}
}

func (l *Ledger) touch(at time.Time) {
	t := at.UTC()
	l.lastTrade = &t
}
