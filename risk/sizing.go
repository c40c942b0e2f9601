package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION SIZING - All-in whole-share sizing
// ═══════════════════════════════════════════════════════════════════════════════
//
// Formula: qty = floor(capital / price)
//          residue = capital - qty * price
//
// price is the quote the chase starts from. A chase that pays more than the
// quote is absorbed by Ledger.ApplyBuy, which eats the residue first and
// clamps at zero.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ErrInsufficientFunds means capital cannot buy a single share
var ErrInsufficientFunds = errors.New("insufficient funds for one share")

// BuyPlan is the outcome of a sizing decision
type BuyPlan struct {
	Qty     int64
	Price   decimal.Decimal
	Cost    decimal.Decimal // qty * price
	Residue decimal.Decimal // capital - cost
}

// PlanBuy sizes an all-in buy of capital at price
func PlanBuy(capital, price decimal.Decimal) (BuyPlan, error) {
	if !price.IsPositive() {
		return BuyPlan{}, fmt.Errorf("invalid sizing price %s", price)
	}

	qty := capital.Div(price).Floor().IntPart()
	if qty <= 0 {
		return BuyPlan{Price: price, Residue: capital},
			fmt.Errorf("%w: capital %s, price %s", ErrInsufficientFunds, capital.StringFixed(2), price.StringFixed(2))
	}

	cost := price.Mul(decimal.NewFromInt(qty))
	return BuyPlan{
		Qty:     qty,
		Price:   price,
		Cost:    cost,
		Residue: capital.Sub(cost),
	}, nil
}
