package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/qqqbot/storage"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLedgerBuySellRoundTripConservesCapital(t *testing.T) {
	l := NewLedger(d("10000"))
	now := time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)

	plan, err := PlanBuy(l.Capital(), d("50.00"))
	require.NoError(t, err)
	assert.Equal(t, int64(200), plan.Qty)
	assert.True(t, plan.Residue.IsZero())

	l.ApplyBuy("TQQQ", plan.Qty, plan.Cost, plan.Residue, now)
	assert.True(t, l.Holds("TQQQ"))
	assert.True(t, l.Cash().IsZero())
	assert.True(t, l.Equity(d("50")).Equal(d("10000")))

	l.ApplySell("TQQQ", 200, d("10000"), now.Add(time.Minute))
	assert.True(t, l.Flat())
	assert.Equal(t, "", l.Position())
	assert.True(t, l.Cash().Equal(d("10000")), "cash %s", l.Cash())
	assert.True(t, l.Leftover().IsZero())
	assert.True(t, l.PnL(decimal.Zero).IsZero())
}

func TestLedgerResidueBecomesLeftover(t *testing.T) {
	l := NewLedger(d("1000"))
	plan, err := PlanBuy(l.Capital(), d("30.00"))
	require.NoError(t, err)
	assert.Equal(t, int64(33), plan.Qty)
	assert.True(t, plan.Residue.Equal(d("10")))

	l.ApplyBuy("SQQQ", plan.Qty, plan.Cost, plan.Residue, time.Now())
	assert.True(t, l.Leftover().Equal(d("10")))
	assert.True(t, l.Cash().IsZero())

	// leftover joins the next sale's cash
	l.ApplySell("SQQQ", 33, d("999"), time.Now())
	assert.True(t, l.Cash().Equal(d("1009")))
	assert.True(t, l.Leftover().IsZero())
}

func TestLedgerPartialFillKeepsUnspentCash(t *testing.T) {
	l := NewLedger(d("1000"))
	plan, err := PlanBuy(l.Capital(), d("105.00"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), plan.Qty)
	assert.True(t, plan.Residue.Equal(d("55")))

	// only 5 shares filled at 100.10
	l.ApplyBuy("TQQQ", 5, d("500.50"), plan.Residue, time.Now())
	assert.Equal(t, int64(5), l.Shares())
	assert.True(t, l.Leftover().Equal(plan.Residue))
	assert.True(t, l.Cash().Equal(d("1000").Sub(d("500.50")).Sub(plan.Residue)))
	assert.True(t, l.Equity(d("100.10")).Equal(d("1000")))
}

func TestLedgerBuyOverCapitalClamps(t *testing.T) {
	l := NewLedger(d("100"))
	l.ApplyBuy("TQQQ", 1, d("101"), d("0"), time.Now())
	assert.True(t, l.Cash().IsZero())
	assert.True(t, l.Leftover().IsZero())
	assert.Equal(t, int64(1), l.Shares())
}

func TestLedgerAdoptDebitsCashThenLeftover(t *testing.T) {
	l := NewLedger(d("0"))
	l.Restore(storage.BotState{AvailableCash: d("100"), AccumulatedLeftover: d("50"), StartingAmount: d("150"), IsInitialized: true})

	l.Adopt("TQQQ", 3, d("120"), time.Now())
	assert.True(t, l.Cash().IsZero())
	assert.True(t, l.Leftover().Equal(d("30")))
	assert.True(t, l.Holds("TQQQ"))
	assert.Equal(t, int64(3), l.Shares())
}

func TestLedgerBank(t *testing.T) {
	l := NewLedger(d("40"))
	l.Bank()
	assert.True(t, l.Cash().IsZero())
	assert.True(t, l.Leftover().Equal(d("40")))
	assert.True(t, l.Capital().Equal(d("40")))
}

func TestLedgerSnapshotRestore(t *testing.T) {
	at := time.Date(2025, 1, 2, 15, 4, 5, 0, time.FixedZone("EST", -5*3600))
	l := NewLedger(d("5000"))
	l.ApplyBuy("TQQQ", 10, d("500"), d("3.21"), at)

	st := l.Snapshot()
	assert.Equal(t, "TQQQ", st.CurrentPosition)
	assert.Equal(t, int64(10), st.CurrentShares)
	require.NotNil(t, st.LastTradeTimestamp)
	assert.Equal(t, time.UTC, st.LastTradeTimestamp.Location())

	other := NewLedger(d("1"))
	other.Restore(st)
	assert.Equal(t, st, other.Snapshot())
}

func TestPlanBuyUsesWholeCapital(t *testing.T) {
	plan, err := PlanBuy(d("10000"), d("50"))
	require.NoError(t, err)
	assert.Equal(t, int64(200), plan.Qty)
	assert.True(t, plan.Residue.IsZero())

	// one affordable share is a buy, not a halt
	plan, err = PlanBuy(d("50.10"), d("50"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), plan.Qty)
	assert.True(t, plan.Residue.Equal(d("0.10")))
}

func TestLedgerBuyAboveQuoteEatsResidue(t *testing.T) {
	l := NewLedger(d("1000"))
	plan, err := PlanBuy(l.Capital(), d("99.00"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), plan.Qty)
	assert.True(t, plan.Residue.Equal(d("10")))

	// the chase paid 99.50 a share
	l.ApplyBuy("TQQQ", 10, d("995"), plan.Residue, time.Now())
	assert.True(t, l.Cash().IsZero())
	assert.True(t, l.Leftover().Equal(d("5")))
	assert.True(t, l.Equity(d("99.50")).Equal(d("1000")))
}

func TestPlanBuyInsufficientFunds(t *testing.T) {
	plan, err := PlanBuy(d("49.99"), d("50"))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(0), plan.Qty)
	assert.True(t, plan.Residue.Equal(d("49.99")))
}

func TestPlanBuyRejectsNonPositivePrice(t *testing.T) {
	_, err := PlanBuy(d("100"), decimal.Zero)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInsufficientFunds)
}
