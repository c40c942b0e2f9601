package feeds

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/qqqbot/types"
)

// RESTMarketData is the polling market data API used when the stream is stale
type RESTMarketData interface {
	LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	HistoricalBars(ctx context.Context, symbol string, n int) ([]types.Bar, error)
}

// PriceSource prefers a fresh streamed print and falls back to REST
type PriceSource struct {
	stream     *QuoteStream
	rest       RESTMarketData
	staleAfter time.Duration
	now        func() time.Time

	mu       sync.Mutex
	fellBack map[string]bool
}

// NewPriceSource wires a stream (may be nil) in front of a REST API
func NewPriceSource(stream *QuoteStream, rest RESTMarketData, staleAfter time.Duration) *PriceSource {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Second
	}
	return &PriceSource{
		stream:     stream,
		rest:       rest,
		staleAfter: staleAfter,
		now:        time.Now,
		fellBack:   make(map[string]bool),
	}
}

// SetClock overrides the time source used for staleness
func (p *PriceSource) SetClock(now func() time.Time) { p.now = now }

// LatestPrice returns the streamed print when fresh, else the REST quote
func (p *PriceSource) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if p.stream != nil {
		if u, ok := p.stream.Last(symbol); ok && p.now().Sub(u.Timestamp) <= p.staleAfter {
			p.noteFallback(symbol, false, 0)
			return u.Price, nil
		} else if ok {
			p.noteFallback(symbol, true, p.now().Sub(u.Timestamp))
		} else {
			p.noteFallback(symbol, true, 0)
		}
	}
	return p.rest.LatestPrice(ctx, symbol)
}

// HistoricalBars always comes from REST
func (p *PriceSource) HistoricalBars(ctx context.Context, symbol string, n int) ([]types.Bar, error) {
	return p.rest.HistoricalBars(ctx, symbol, n)
}

// noteFallback logs only on transitions between stream and REST
func (p *PriceSource) noteFallback(symbol string, fallback bool, age time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fellBack[symbol] == fallback {
		return
	}
	p.fellBack[symbol] = fallback
	if fallback {
		log.Warn().Str("symbol", symbol).Dur("age", age).Msg("⚠️ Streamed price stale, polling REST")
	} else {
		log.Info().Str("symbol", symbol).Msg("📡 Streamed price fresh again")
	}
}
