package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/qqqbot/execution"
	"github.com/web3guy0/qqqbot/internal/metrics"
	"github.com/web3guy0/qqqbot/risk"
	"github.com/web3guy0/qqqbot/storage"
	"github.com/web3guy0/qqqbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ROTATOR - At most one position, bull or bear
// ═══════════════════════════════════════════════════════════════════════════════
//
// Rotate(target, opposite):
//   local holds target            → no-op, no broker calls
//   opposite held (broker|local)  → sell it all (broker qty wins)
//   broker holds target, local no → adopt broker qty
//   otherwise                     → buy with cash + leftover
//
// Flatten(reason): sell bull and bear, broker qty wins.
//
// Every ledger change is persisted before returning.
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	// ErrInsufficientFunds is fatal: capital cannot buy one share
	ErrInsufficientFunds = fmt.Errorf("rotation halted: %w", risk.ErrInsufficientFunds)

	// ErrIncompleteLiquidation means a sell left shares behind; the buy that
	// would follow is skipped until a later tick finishes the sale.
	ErrIncompleteLiquidation = errors.New("incomplete liquidation")
)

// RotatorConfig names the traded pair
type RotatorConfig struct {
	BullSymbol string
	BearSymbol string
}

type Rotator struct {
	cfg      RotatorConfig
	router   *execution.Router
	market   MarketData
	account  AccountReader
	ledger   *risk.Ledger
	store    *storage.StateStore
	journal  Journal
	notifier TradeNotifier
	marks    map[string]decimal.Decimal
	now      func() time.Time
}

// NewRotator wires the rotation controller. journal and notifier may be nil.
func NewRotator(
	cfg RotatorConfig,
	router *execution.Router,
	market MarketData,
	account AccountReader,
	ledger *risk.Ledger,
	store *storage.StateStore,
) *Rotator {
	return &Rotator{
		cfg:     cfg,
		router:  router,
		market:  market,
		account: account,
		ledger:  ledger,
		store:   store,
		marks:   make(map[string]decimal.Decimal),
		now:     time.Now,
	}
}

// SetJournal attaches a trade journal
func (r *Rotator) SetJournal(j Journal) { r.journal = j }

// SetNotifier attaches trade notifications
func (r *Rotator) SetNotifier(n TradeNotifier) { r.notifier = n }

// SetClock overrides the time source (replay, tests)
func (r *Rotator) SetClock(now func() time.Time) { r.now = now }

// Ledger exposes the capital ledger
func (r *Rotator) Ledger() *risk.Ledger { return r.ledger }

// Mark returns the last seen price for symbol
func (r *Rotator) Mark(symbol string) (decimal.Decimal, bool) {
	px, ok := r.marks[symbol]
	return px, ok
}

// Rotate moves the book into target, out of opposite
func (r *Rotator) Rotate(ctx context.Context, target, opposite string) error {
	if r.ledger.Holds(target) {
		return nil
	}

	h := r.holdings(ctx)

	if qty := h.qty(opposite, r.ledger); qty > 0 {
		if err := r.liquidate(ctx, opposite, qty, h, "rotate to "+target); err != nil {
			return err
		}
	}

	if h.fromBroker && h.broker[target] > 0 {
		r.adopt(ctx, target, h.broker[target], h.value[target])
		return r.persist()
	}

	return r.buy(ctx, target, "rotate from "+opposite)
}

// Flatten sells any bull or bear holding. The broker is asked even when the
// ledger is flat; only a failed position query falls back to local state.
func (r *Rotator) Flatten(ctx context.Context, reason string) error {
	from := r.ledger.Position()
	h := r.holdings(ctx)

	sold := false
	var errs []error
	for _, sym := range []string{r.cfg.BullSymbol, r.cfg.BearSymbol} {
		qty := h.qty(sym, r.ledger)
		if qty <= 0 {
			continue
		}
		if from == "" {
			from = sym
		}
		sold = true
		if err := r.liquidate(ctx, sym, qty, h, reason); err != nil {
			errs = append(errs, err)
		}
	}
	if sold && len(errs) == 0 {
		metrics.RotationsTotal.WithLabelValues("flatten").Inc()
		r.record(ctx, "FLATTEN", from, "", reason)
	}
	return errors.Join(errs...)
}

// ═══════════════════════════════════════════════════════════════════════════════
// HOLDINGS
// ═══════════════════════════════════════════════════════════════════════════════

type holdings struct {
	fromBroker bool
	broker     map[string]int64
	value      map[string]decimal.Decimal
}

// qty is the quantity to act on: broker when it answered, local otherwise
func (h holdings) qty(symbol string, l *risk.Ledger) int64 {
	if h.fromBroker {
		return h.broker[symbol]
	}
	if l.Holds(symbol) {
		return l.Shares()
	}
	return 0
}

func (r *Rotator) holdings(ctx context.Context) holdings {
	h := holdings{broker: map[string]int64{}, value: map[string]decimal.Decimal{}}
	positions, err := r.account.ListPositions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Position query failed, using local state")
		return h
	}
	h.fromBroker = true
	for _, p := range positions {
		if p.Quantity <= 0 {
			continue
		}
		h.broker[p.Symbol] = p.Quantity
		h.value[p.Symbol] = p.MarketValue
	}

	// local holding the broker does not know: the sale filled but was never saved
	if sym := r.ledger.Position(); sym != "" && h.broker[sym] == 0 {
		r.dropPhantom(ctx, sym, r.ledger.Shares())
	}
	return h
}

// ═══════════════════════════════════════════════════════════════════════════════
// ACTIONS
// ═══════════════════════════════════════════════════════════════════════════════

func (r *Rotator) liquidate(ctx context.Context, symbol string, qty int64, h holdings, reason string) error {
	quote, err := r.quote(ctx, symbol)
	if err != nil {
		return fmt.Errorf("quote %s: %w", symbol, err)
	}

	log.Info().
		Str("symbol", symbol).
		Int64("qty", qty).
		Str("quote", quote.StringFixed(2)).
		Str("reason", reason).
		Msg("📉 Liquidating")

	fill, sellErr := r.router.Sell(ctx, symbol, qty, quote)
	r.journalFill(ctx, fill, reason)

	if fill.Qty > 0 {
		r.ledger.ApplySell(symbol, fill.Qty, fill.Notional, r.now())
		if fill.Complete() && r.ledger.Holds(symbol) && h.fromBroker {
			// broker said qty and it is all gone; anything left locally never existed
			r.dropPhantom(ctx, symbol, r.ledger.Shares())
		}
		if err := r.persist(); err != nil {
			return err
		}
		r.notifyTrade("SELL", symbol, fill)
	}

	if sellErr != nil || !fill.Complete() {
		log.Warn().
			Err(sellErr).
			Str("symbol", symbol).
			Int64("sold", fill.Qty).
			Int64("target", qty).
			Msg("⚠️ Liquidation incomplete, buy deferred")
		if sellErr != nil {
			return fmt.Errorf("%w: sold %d of %d %s: %w", ErrIncompleteLiquidation, fill.Qty, qty, symbol, sellErr)
		}
		return fmt.Errorf("%w: sold %d of %d %s", ErrIncompleteLiquidation, fill.Qty, qty, symbol)
	}

	log.Info().
		Str("symbol", symbol).
		Int64("qty", fill.Qty).
		Str("avg", fill.AvgPrice.StringFixed(4)).
		Str("proceeds", fill.Notional.StringFixed(2)).
		Str("cash", r.ledger.Cash().StringFixed(2)).
		Msg("✅ Position closed")
	return nil
}

func (r *Rotator) buy(ctx context.Context, symbol, reason string) error {
	quote, err := r.quote(ctx, symbol)
	if err != nil {
		return fmt.Errorf("quote %s: %w", symbol, err)
	}

	capital := r.ledger.Capital()
	plan, err := risk.PlanBuy(capital, quote)
	if errors.Is(err, risk.ErrInsufficientFunds) {
		r.ledger.Bank()
		metrics.RotationsTotal.WithLabelValues("bank").Inc()
		r.record(ctx, "BANK", "", symbol, err.Error())
		if r.notifier != nil {
			r.notifier.NotifyAlert(fmt.Sprintf("🛑 Insufficient funds for one %s share (capital $%s). Bot stopped.", symbol, capital.StringFixed(2)))
		}
		fatal := fmt.Errorf("%w: %s capital %s, price %s", ErrInsufficientFunds, symbol, capital.StringFixed(2), quote.StringFixed(2))
		if perr := r.persist(); perr != nil {
			return errors.Join(fatal, perr)
		}
		return fatal
	}
	if err != nil {
		return fmt.Errorf("size %s: %w", symbol, err)
	}

	log.Info().
		Str("symbol", symbol).
		Int64("qty", plan.Qty).
		Str("quote", quote.StringFixed(2)).
		Str("capital", capital.StringFixed(2)).
		Str("residue", plan.Residue.StringFixed(2)).
		Str("reason", reason).
		Msg("📈 Buying")

	fill, buyErr := r.router.Buy(ctx, symbol, plan.Qty, quote)
	r.journalFill(ctx, fill, reason)

	if fill.Qty > 0 {
		r.ledger.ApplyBuy(symbol, fill.Qty, fill.Notional, plan.Residue, r.now())
		metrics.RotationsTotal.WithLabelValues("rotate").Inc()
		r.record(ctx, "ROTATE", "", symbol, reason)
		if err := r.persist(); err != nil {
			return err
		}
		r.notifyTrade("BUY", symbol, fill)
	}

	if buyErr != nil {
		return fmt.Errorf("buy %s: %w", symbol, buyErr)
	}
	if !fill.Complete() {
		log.Warn().
			Str("symbol", symbol).
			Int64("filled", fill.Qty).
			Int64("target", plan.Qty).
			Str("cash", r.ledger.Cash().StringFixed(2)).
			Msg("⚠️ Buy partially filled, holding what filled")
	}
	return nil
}

func (r *Rotator) adopt(ctx context.Context, symbol string, qty int64, marketValue decimal.Decimal) {
	if !marketValue.IsPositive() {
		if px, err := r.quote(ctx, symbol); err == nil {
			marketValue = px.Mul(decimal.NewFromInt(qty))
		}
	}
	log.Warn().
		Str("symbol", symbol).
		Int64("qty", qty).
		Str("market_value", marketValue.StringFixed(2)).
		Msg("🔄 Broker holds position missing from state, adopting")

	r.ledger.Adopt(symbol, qty, marketValue, r.now())
	metrics.RotationsTotal.WithLabelValues("adopt").Inc()
	r.record(ctx, "ADOPT", "", symbol, "broker position")
}

// dropPhantom clears local shares the broker does not hold, crediting them
// at the last quote
func (r *Rotator) dropPhantom(ctx context.Context, symbol string, qty int64) {
	if qty <= 0 {
		return
	}
	estimate := decimal.Zero
	if px, err := r.quote(ctx, symbol); err == nil {
		estimate = px.Mul(decimal.NewFromInt(qty))
	}
	log.Warn().
		Str("symbol", symbol).
		Int64("qty", qty).
		Str("estimate", estimate.StringFixed(2)).
		Msg("🔄 Local position not at broker, clearing at quote")

	r.ledger.ApplySell(symbol, qty, estimate, r.now())
	metrics.RotationsTotal.WithLabelValues("reconcile").Inc()
	r.record(ctx, "RECONCILE", symbol, "", "missing at broker")
	if err := r.persist(); err != nil {
		log.Error().Err(err).Msg("State save failed after reconcile")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (r *Rotator) quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	px, err := r.market.LatestPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if !px.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive quote %s for %s", px, symbol)
	}
	r.marks[symbol] = px
	return px, nil
}

func (r *Rotator) persist() error {
	if r.store == nil {
		return nil
	}
	if err := r.store.Save(r.ledger.Snapshot()); err != nil {
		log.Error().Err(err).Str("path", r.store.Path()).Msg("❌ State save failed")
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (r *Rotator) journalFill(ctx context.Context, f execution.Fill, reason string) {
	if r.journal == nil || f.Requested == 0 {
		return
	}
	rec := types.TradeRecord{
		Time:      r.now().UTC(),
		Symbol:    f.Symbol,
		Side:      f.Side,
		Requested: f.Requested,
		Filled:    f.Qty,
		AvgPrice:  f.AvgPrice,
		Notional:  f.Notional,
		Method:    f.Method,
		Estimated: f.Estimated,
		Reason:    reason,
	}
	if f.IOC != nil {
		rec.Attempts = f.IOC.AttemptsUsed
		rec.DeviationAbort = f.IOC.AbortedDueToDeviation
	}
	if err := r.journal.RecordTrade(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("Journal trade write failed")
	}
}

func (r *Rotator) record(ctx context.Context, kind, from, to, reason string) {
	if r.journal == nil {
		return
	}
	ev := types.RotationEvent{
		Time:     r.now().UTC(),
		Kind:     kind,
		From:     from,
		To:       to,
		Reason:   reason,
		Cash:     r.ledger.Cash(),
		Leftover: r.ledger.Leftover(),
		Shares:   r.ledger.Shares(),
	}
	if err := r.journal.RecordRotation(ctx, ev); err != nil {
		log.Warn().Err(err).Msg("Journal rotation write failed")
	}
}

func (r *Rotator) notifyTrade(action, symbol string, f execution.Fill) {
	if r.notifier == nil {
		return
	}
	r.notifier.NotifyTrade(action, symbol, f.Qty, f.AvgPrice)
}
