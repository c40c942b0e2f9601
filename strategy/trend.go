package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/qqqbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TREND ENGINE - SMA with a hysteresis band
// ═══════════════════════════════════════════════════════════════════════════════
//
// upper = sma * (1 + chop)
// lower = sma * (1 - chop)
//
// First match wins:
//   time-of-day >= close cutoff  → CLOSE
//   price > upper                → BULL
//   price < lower                → BEAR
//   otherwise (boundary incl.)   → NEUTRAL
//
// ═══════════════════════════════════════════════════════════════════════════════

// TrendConfig parameterizes the engine
type TrendConfig struct {
	Window        int             // SMA length in ticks
	ChopThreshold decimal.Decimal // band half-width as a fraction (0.001 = 0.1%)
	CloseCutoff   time.Duration   // time since local midnight; <= 0 disables CLOSE
	Location      *time.Location  // exchange timezone for the cutoff
}

// Evaluation is one classification with the numbers behind it
type Evaluation struct {
	Signal types.Signal
	Price  decimal.Decimal
	SMA    decimal.Decimal
	Upper  decimal.Decimal
	Lower  decimal.Decimal
}

type TrendEngine struct {
	cfg    TrendConfig
	window *RollingWindow
}

// NewTrendEngine creates an unseeded engine
func NewTrendEngine(cfg TrendConfig) *TrendEngine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &TrendEngine{
		cfg:    cfg,
		window: NewRollingWindow(cfg.Window),
	}
}

// Seed hot-starts the window. Only the newest Window prices are kept.
func (e *TrendEngine) Seed(prices []decimal.Decimal) {
	if len(prices) > e.window.Size() {
		prices = prices[len(prices)-e.window.Size():]
	}
	for _, p := range prices {
		e.window.Push(p)
	}
}

// SeedConstant fills the window with one price repeated
func (e *TrendEngine) SeedConstant(price decimal.Decimal) {
	for i := 0; i < e.window.Size(); i++ {
		e.window.Push(price)
	}
}

// Warm reports whether the window is full
func (e *TrendEngine) Warm() bool { return e.window.Full() }

// Window exposes the rolling window (read-only use)
func (e *TrendEngine) Window() *RollingWindow { return e.window }

// Classify pushes price and returns the signal
func (e *TrendEngine) Classify(price decimal.Decimal, now time.Time) types.Signal {
	return e.Evaluate(price, now).Signal
}

// Evaluate pushes price and returns the signal with its bands
func (e *TrendEngine) Evaluate(price decimal.Decimal, now time.Time) Evaluation {
	e.window.Push(price)

	one := decimal.NewFromInt(1)
	sma := e.window.Average()
	upper := sma.Mul(one.Add(e.cfg.ChopThreshold))
	lower := sma.Mul(one.Sub(e.cfg.ChopThreshold))

	ev := Evaluation{Price: price, SMA: sma, Upper: upper, Lower: lower}
	switch {
	case e.pastCutoff(now):
		ev.Signal = types.SignalClose
	case price.GreaterThan(upper):
		ev.Signal = types.SignalBull
	case price.LessThan(lower):
		ev.Signal = types.SignalBear
	default:
		ev.Signal = types.SignalNeutral
	}
	return ev
}

func (e *TrendEngine) pastCutoff(now time.Time) bool {
	if e.cfg.CloseCutoff <= 0 {
		return false
	}
	return TimeOfDay(now.In(e.cfg.Location)) >= e.cfg.CloseCutoff
}

// TimeOfDay returns the duration since midnight in t's location
func TimeOfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}

// ParseClock parses "HH:MM" or "HH:MM:SS" into a time-of-day duration
func ParseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	layouts := []string{"15:04:05", "15:04"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(t), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}
