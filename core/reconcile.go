package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/qqqbot/internal/metrics"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RECONCILIATION - Startup position recovery
// ═══════════════════════════════════════════════════════════════════════════════
//
// The state file and the broker can disagree after a crash between a fill
// and the save that follows it. Broker quantities win:
//   local only   → cleared, credited at the last quote
//   broker only  → adopted, market value debited from capital
//   both, differ → local share count moved to the broker's
//
// A failed broker query leaves local state untouched.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Reconcile aligns the ledger with broker holdings of the traded pair
func (r *Rotator) Reconcile(ctx context.Context) error {
	positions, err := r.account.ListPositions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Broker positions unavailable, trusting local state")
		return fmt.Errorf("reconcile: %w", err)
	}

	broker := map[string]int64{}
	value := map[string]decimal.Decimal{}
	for _, p := range positions {
		if p.Symbol != r.cfg.BullSymbol && p.Symbol != r.cfg.BearSymbol {
			continue
		}
		if p.Quantity > 0 {
			broker[p.Symbol] = p.Quantity
			value[p.Symbol] = p.MarketValue
		}
	}

	changed := false

	if sym := r.ledger.Position(); sym != "" && broker[sym] == 0 {
		r.dropPhantom(ctx, sym, r.ledger.Shares())
		changed = true
	}

	if len(broker) > 1 {
		log.Error().
			Int64(r.cfg.BullSymbol, broker[r.cfg.BullSymbol]).
			Int64(r.cfg.BearSymbol, broker[r.cfg.BearSymbol]).
			Msg("🚨 Broker holds both sides, the next rotation will sell one")
	}

	for _, sym := range []string{r.cfg.BullSymbol, r.cfg.BearSymbol} {
		qty := broker[sym]
		if qty == 0 {
			continue
		}

		local := int64(0)
		if r.ledger.Holds(sym) {
			local = r.ledger.Shares()
		}

		switch {
		case local == 0 && r.ledger.Flat():
			r.adopt(ctx, sym, qty, value[sym])
			changed = true
		case local == qty, local == 0:
			// in sync, or the ledger already tracks the other side
		case qty > local:
			perShare := value[sym].Div(decimal.NewFromInt(qty))
			extra := perShare.Mul(decimal.NewFromInt(qty - local))
			log.Warn().Str("symbol", sym).Int64("local", local).Int64("broker", qty).Msg("🔄 Share count behind broker, adopting difference")
			r.ledger.Adopt(sym, qty, extra, r.now())
			metrics.RotationsTotal.WithLabelValues("reconcile").Inc()
			r.record(ctx, "RECONCILE", "", sym, "share count below broker")
			changed = true
		default:
			log.Warn().Str("symbol", sym).Int64("local", local).Int64("broker", qty).Msg("🔄 Share count ahead of broker, trimming")
			r.dropPhantom(ctx, sym, local-qty)
			changed = true
		}
	}

	if !changed {
		log.Info().
			Str("position", r.ledger.Position()).
			Int64("shares", r.ledger.Shares()).
			Msg("✅ State matches broker")
		return nil
	}
	return r.persist()
}
