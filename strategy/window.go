package strategy

import (
	"github.com/shopspring/decimal"
)

// RollingWindow keeps the last N prices in arrival order.
// Not safe for concurrent use; the engine owns it.
type RollingWindow struct {
	size   int
	prices []decimal.Decimal
	sum    decimal.Decimal
}

// NewRollingWindow creates a window holding at most size prices
func NewRollingWindow(size int) *RollingWindow {
	if size < 1 {
		size = 1
	}
	return &RollingWindow{
		size:   size,
		prices: make([]decimal.Decimal, 0, size),
		sum:    decimal.Zero,
	}
}

// Push appends a price, evicting the oldest one when full
func (w *RollingWindow) Push(price decimal.Decimal) {
	if len(w.prices) == w.size {
		w.sum = w.sum.Sub(w.prices[0])
		w.prices = append(w.prices[:0], w.prices[1:]...)
	}
	w.prices = append(w.prices, price)
	w.sum = w.sum.Add(price)
}

// Average returns the simple moving average, zero when empty
func (w *RollingWindow) Average() decimal.Decimal {
	if len(w.prices) == 0 {
		return decimal.Zero
	}
	return w.sum.Div(decimal.NewFromInt(int64(len(w.prices))))
}

// Len returns how many prices are held
func (w *RollingWindow) Len() int { return len(w.prices) }

// Size returns the capacity
func (w *RollingWindow) Size() int { return w.size }

// Full reports whether warm-up is complete
func (w *RollingWindow) Full() bool { return len(w.prices) == w.size }

// Values returns a copy, oldest first
func (w *RollingWindow) Values() []decimal.Decimal {
	out := make([]decimal.Decimal, len(w.prices))
	copy(out, w.prices)
	return out
}

// Reset empties the window
func (w *RollingWindow) Reset() {
	w.prices = w.prices[:0]
	w.sum = decimal.Zero
}
