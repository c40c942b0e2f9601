package feeds

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REPLAY - Recorded ticks through the live engine
// ═══════════════════════════════════════════════════════════════════════════════
//
// Tick files: one per symbol per day, "<yyyymmdd>_market_data_<SYM>.csv",
// header row, then timestamp (ISO-8601), symbol, price, ...
//
// Every benchmark tick becomes one OnTick call. Before it, the bull and bear
// prices are set from their nearest recorded tick so simulated fills happen
// at what those ETFs traded at that moment.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Regular session in UTC as recorded (EST dates)
const (
	marketOpenUTC  = 14*time.Hour + 30*time.Minute
	marketCloseUTC = 21 * time.Hour
)

// Tick is one recorded trade print
type Tick struct {
	Time   time.Time
	Symbol string
	Price  decimal.Decimal
}

// Series is a time-sorted run of ticks for one symbol
type Series []Tick

var tickTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTickTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range tickTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// TickFileName returns the recorded file path for a symbol and date
func TickFileName(dir, date, symbol string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_market_data_%s.csv", date, symbol))
}

// LoadTickFile reads one tick file
func LoadTickFile(path, symbol string) (Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ticks, err := LoadTicks(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ticks, nil
}

// LoadTicks parses tick CSV rows. A header row is skipped; rows with an
// unparseable timestamp or price are dropped. symbol overrides column 2
// when set.
func LoadTicks(r io.Reader, symbol string) (Series, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		out     Series
		line    int
		skipped int
	)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tick csv: %w", err)
		}
		line++
		if len(row) < 3 {
			skipped++
			continue
		}

		ts, err := parseTickTime(row[0])
		if err != nil {
			if line > 1 {
				skipped++
			}
			continue
		}
		px, err := decimal.NewFromString(strings.TrimSpace(row[2]))
		if err != nil || !px.IsPositive() {
			skipped++
			continue
		}

		sym := symbol
		if sym == "" {
			sym = strings.TrimSpace(row[1])
		}
		out = append(out, Tick{Time: ts, Symbol: sym, Price: px})
	}

	if skipped > 0 {
		log.Debug().Int("skipped", skipped).Str("symbol", symbol).Msg("Tick rows skipped")
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// InMarketHours reports whether t falls in the 14:30-21:00 UTC session
func InMarketHours(t time.Time) bool {
	u := t.UTC()
	h, m, s := u.Clock()
	tod := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second +
		time.Duration(u.Nanosecond())
	return tod >= marketOpenUTC && tod <= marketCloseUTC
}

// MarketHours keeps ticks inside the regular session
func (s Series) MarketHours() Series {
	out := make(Series, 0, len(s))
	for _, t := range s {
		if InMarketHours(t.Time) {
			out = append(out, t)
		}
	}
	return out
}

// Nearest returns the tick closest in time to at; ties go to the earlier one
func (s Series) Nearest(at time.Time) (Tick, bool) {
	if len(s) == 0 {
		return Tick{}, false
	}
	i := sort.Search(len(s), func(i int) bool { return !s[i].Time.Before(at) })
	if i == len(s) {
		return s[len(s)-1], true
	}
	if i > 0 && at.Sub(s[i-1].Time) <= s[i].Time.Sub(at) {
		return s[i-1], true
	}
	return s[i], true
}

// ═══════════════════════════════════════════════════════════════════════════════
// DRIVER
// ═══════════════════════════════════════════════════════════════════════════════

// TickHandler consumes benchmark prices (the engine)
type TickHandler interface {
	OnTick(ctx context.Context, price decimal.Decimal, now time.Time) error
}

// PriceSetter receives simulated prices (the paper broker)
type PriceSetter interface {
	SetPrice(symbol string, price decimal.Decimal)
}

// ReplayStats summarises a run
type ReplayStats struct {
	Ticks  int
	Errors int
	First  time.Time
	Last   time.Time
}

// Replay drives a TickHandler from recorded series
type Replay struct {
	Handler   TickHandler
	Prices    PriceSetter
	Benchmark string
	Bull      string
	Bear      string
	// StopOn ends the run when it returns true for a tick error
	StopOn func(error) bool

	mu  sync.RWMutex
	cur time.Time
}

// Now is the replay clock; hand it to components that stamp times
func (r *Replay) Now() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cur
}

// Run replays every benchmark tick in order
func (r *Replay) Run(ctx context.Context, series map[string]Series) (ReplayStats, error) {
	var stats ReplayStats
	bench := series[r.Benchmark]
	if len(bench) == 0 {
		return stats, fmt.Errorf("no ticks for benchmark %s", r.Benchmark)
	}

	for _, sym := range []string{r.Bull, r.Bear} {
		if len(series[sym]) == 0 {
			log.Warn().Str("symbol", sym).Msg("⚠️ No ticks recorded, fills will fail for this symbol")
		}
	}

	stats.First = bench[0].Time
	for _, t := range bench {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		r.mu.Lock()
		r.cur = t.Time
		r.mu.Unlock()

		r.Prices.SetPrice(r.Benchmark, t.Price)
		for _, sym := range []string{r.Bull, r.Bear} {
			if nt, ok := series[sym].Nearest(t.Time); ok {
				r.Prices.SetPrice(sym, nt.Price)
			}
		}

		stats.Ticks++
		stats.Last = t.Time
		if err := r.Handler.OnTick(ctx, t.Price, t.Time); err != nil {
			stats.Errors++
			if r.StopOn != nil && r.StopOn(err) {
				return stats, err
			}
		}
	}

	log.Info().
		Int("ticks", stats.Ticks).
		Int("errors", stats.Errors).
		Time("first", stats.First).
		Time("last", stats.Last).
		Msg("🏁 Replay finished")
	return stats, nil
}
