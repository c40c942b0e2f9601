package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/qqqbot/internal/metrics"
	"github.com/web3guy0/qqqbot/risk"
	"github.com/web3guy0/qqqbot/strategy"
	"github.com/web3guy0/qqqbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - Central orchestrator
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow (one tick, strictly sequential):
//   price → TrendEngine → NeutralTimer → Rotator → Ledger → StateStore
//
// OnTick is the only entry point that mutates trading state. Run drives it
// from a poll clock; the replay harness and tests drive it directly.
//
// ═══════════════════════════════════════════════════════════════════════════════

// EngineConfig holds the loop settings
type EngineConfig struct {
	Benchmark    string
	BullSymbol   string
	BearSymbol   string
	Trend        strategy.TrendConfig
	NeutralWait  time.Duration
	PollInterval time.Duration
	Session      Session

	// MaxTickFailures consecutive failed polls pause Run for FailureCooldown
	MaxTickFailures int
	FailureCooldown time.Duration
}

type Engine struct {
	cfg     EngineConfig
	market  MarketData
	rotator *Rotator
	trend   *strategy.TrendEngine
	neutral *strategy.NeutralTimer
	breaker *risk.CircuitBreaker
	now     func() time.Time

	lastSignal  types.Signal
	lastNeutral strategy.NeutralState
	wasOpen     bool

	mu     sync.RWMutex
	status types.Status
}

// NewEngine creates an engine around a rotator
func NewEngine(cfg EngineConfig, market MarketData, rotator *Rotator) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Engine{
		cfg:     cfg,
		market:  market,
		rotator: rotator,
		trend:   strategy.NewTrendEngine(cfg.Trend),
		neutral: strategy.NewNeutralTimer(cfg.NeutralWait),
		breaker: risk.NewCircuitBreaker(cfg.MaxTickFailures, cfg.FailureCooldown),
		now:     time.Now,
	}
}

// SetClock overrides the wall clock used by Run
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Trend exposes the signal engine
func (e *Engine) Trend() *strategy.TrendEngine { return e.trend }

// IsFatal reports whether err must stop the process
func IsFatal(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}

// Hydrate seeds the rolling window before live ticks. History is preferred;
// the latest price repeated fills in when history is short or unavailable.
func (e *Engine) Hydrate(ctx context.Context) error {
	n := e.cfg.Trend.Window
	bars, err := e.market.HistoricalBars(ctx, e.cfg.Benchmark, n)
	if err == nil && len(bars) >= n {
		prices := make([]decimal.Decimal, 0, len(bars))
		for _, b := range bars {
			prices = append(prices, b.Close)
		}
		e.trend.Seed(prices)
		log.Info().
			Str("symbol", e.cfg.Benchmark).
			Int("bars", len(bars)).
			Str("sma", e.trend.Window().Average().StringFixed(4)).
			Msg("🔥 Window hydrated from history")
		return nil
	}

	if err != nil {
		log.Warn().Err(err).Str("symbol", e.cfg.Benchmark).Msg("⚠️ History unavailable, seeding with latest price")
	} else {
		log.Warn().Int("bars", len(bars)).Int("need", n).Msg("⚠️ Short history, seeding with latest price")
	}

	px, err := e.market.LatestPrice(ctx, e.cfg.Benchmark)
	if err != nil {
		return fmt.Errorf("hydrate %s: %w", e.cfg.Benchmark, err)
	}
	e.trend.SeedConstant(px)
	log.Info().Str("symbol", e.cfg.Benchmark).Str("price", px.StringFixed(2)).Msg("🔥 Window hydrated from latest price")
	return nil
}

// OnTick classifies price and acts on the signal
func (e *Engine) OnTick(ctx context.Context, price decimal.Decimal, now time.Time) error {
	ev := e.trend.Evaluate(price, now)
	state := e.neutral.Observe(ev.Signal, now)
	metrics.SignalsTotal.WithLabelValues(string(ev.Signal)).Inc()
	e.logTransition(ev, state)

	var err error
	switch ev.Signal {
	case types.SignalBull:
		err = e.rotator.Rotate(ctx, e.cfg.BullSymbol, e.cfg.BearSymbol)
	case types.SignalBear:
		err = e.rotator.Rotate(ctx, e.cfg.BearSymbol, e.cfg.BullSymbol)
	case types.SignalNeutral:
		if state == strategy.NeutralConfirmed {
			err = e.rotator.Flatten(ctx, "neutral confirmed")
		}
	case types.SignalClose:
		err = e.rotator.Flatten(ctx, "market close")
	}

	e.publish(ctx, ev, state, now, err)

	if err != nil && !IsFatal(err) {
		metrics.TickErrors.Inc()
		log.Error().
			Err(err).
			Str("signal", string(ev.Signal)).
			Str("price", price.StringFixed(2)).
			Msg("❌ Tick abandoned, retrying next poll")
	}
	return err
}

// Run polls the benchmark until ctx is done or a fatal error occurs
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	log.Info().
		Str("benchmark", e.cfg.Benchmark).
		Str("bull", e.cfg.BullSymbol).
		Str("bear", e.cfg.BearSymbol).
		Dur("poll", e.cfg.PollInterval).
		Msg("⚡ Engine started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Engine stopped")
			return nil
		case <-ticker.C:
		}

		now := e.now()
		if !e.sessionOpen(now) || !e.breaker.Allow(now) {
			continue
		}

		price, err := e.market.LatestPrice(ctx, e.cfg.Benchmark)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			metrics.TickErrors.Inc()
			log.Warn().Err(err).Str("symbol", e.cfg.Benchmark).Msg("⚠️ Quote failed, skipping tick")
			e.setTickErr(err)
			e.breaker.RecordFailure(err, now)
			continue
		}

		// a rotation runs to completion even if shutdown arrives mid-chase
		err = e.OnTick(context.WithoutCancel(ctx), price, now)
		switch {
		case IsFatal(err):
			return err
		case err != nil:
			e.breaker.RecordFailure(err, now)
		default:
			e.breaker.RecordSuccess()
		}
	}
}

// Status returns the last published snapshot with the breaker state
func (e *Engine) Status() types.Status {
	e.mu.RLock()
	st := e.status
	e.mu.RUnlock()
	if st.LastTrade != nil {
		t := *st.LastTrade
		st.LastTrade = &t
	}
	st.TickFailures, st.Paused, st.PauseReason = e.breaker.GetStats()
	if !st.Paused {
		st.PauseReason = ""
	}
	return st
}

func (e *Engine) sessionOpen(now time.Time) bool {
	open := e.cfg.Session.IsOpen(now)
	if open != e.wasOpen {
		if open {
			log.Info().Msg("🔔 Market session open")
		} else {
			log.Info().Msg("🌙 Market session closed, idling")
		}
		e.wasOpen = open
		e.mu.Lock()
		e.status.MarketOpen = open
		e.mu.Unlock()
	}
	return open
}

func (e *Engine) logTransition(ev strategy.Evaluation, state strategy.NeutralState) {
	if ev.Signal == e.lastSignal && state == e.lastNeutral {
		log.Debug().
			Str("signal", string(ev.Signal)).
			Str("price", ev.Price.StringFixed(2)).
			Str("sma", ev.SMA.StringFixed(4)).
			Msg("tick")
		return
	}
	log.Info().
		Str("signal", string(ev.Signal)).
		Str("prev", string(e.lastSignal)).
		Str("neutral", string(state)).
		Str("price", ev.Price.StringFixed(2)).
		Str("sma", ev.SMA.StringFixed(4)).
		Str("upper", ev.Upper.StringFixed(4)).
		Str("lower", ev.Lower.StringFixed(4)).
		Msg("📊 Signal changed")
	e.lastSignal = ev.Signal
	e.lastNeutral = state
}

// publish refreshes the read-only snapshot used by Telegram and metrics
func (e *Engine) publish(ctx context.Context, ev strategy.Evaluation, state strategy.NeutralState, now time.Time, tickErr error) {
	l := e.rotator.Ledger()

	mark := decimal.Zero
	if sym := l.Position(); sym != "" {
		if px, err := e.market.LatestPrice(ctx, sym); err == nil {
			mark = px
		} else if px, ok := e.rotator.Mark(sym); ok {
			mark = px
		}
	}
	equity := l.Equity(mark)
	metrics.SetCapital(equity, l.Cash(), l.Leftover())

	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.Signal = ev.Signal
	e.status.Neutral = string(state)
	e.status.Benchmark = ev.Price
	e.status.SMA = ev.SMA
	e.status.Position = l.Position()
	e.status.Shares = l.Shares()
	e.status.Cash = l.Cash()
	e.status.Leftover = l.Leftover()
	e.status.Equity = equity
	e.status.PnL = equity.Sub(l.StartingAmount())
	e.status.LastTrade = l.LastTrade()
	e.status.UpdatedAt = now
	e.status.LastTickErr = ""
	if tickErr != nil {
		e.status.LastTickErr = tickErr.Error()
	}
}

func (e *Engine) setTickErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.LastTickErr = err.Error()
}
