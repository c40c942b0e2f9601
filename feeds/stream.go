package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// QUOTE STREAM - Live trade prints over websocket
// ═══════════════════════════════════════════════════════════════════════════════
//
// Protocol (market data v2):
//   → {"action":"auth","key":..,"secret":..}
//   → {"action":"subscribe","trades":["QQQ","TQQQ","SQQQ"]}
//   ← [{"T":"t","S":"QQQ","p":501.23,"t":"2025-03-04T15:00:00.123Z"}, ...]
//
// The stream only caches the last print per symbol; PriceSource decides
// whether a cached print is fresh enough to trade on.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	streamReconnectDelay = 5 * time.Second
	streamPingInterval   = 30 * time.Second
	streamWriteTimeout   = 10 * time.Second
)

// PriceUpdate represents a price change event
type PriceUpdate struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
}

// StreamConfig holds the websocket endpoint and credentials
type StreamConfig struct {
	URL            string
	KeyID          string
	SecretKey      string
	Symbols        []string
	ReconnectDelay time.Duration
}

// QuoteStream maintains the websocket connection and the last print per symbol
type QuoteStream struct {
	cfg    StreamConfig
	dialer websocket.Dialer

	mu        sync.RWMutex
	connected bool
	prices    map[string]PriceUpdate
}

// NewQuoteStream creates a stream; Run connects it
func NewQuoteStream(cfg StreamConfig) *QuoteStream {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = streamReconnectDelay
	}
	return &QuoteStream{
		cfg:    cfg,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		prices: make(map[string]PriceUpdate),
	}
}

// Last returns the most recent print for symbol
func (s *QuoteStream) Last(symbol string) (PriceUpdate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.prices[symbol]
	return u, ok
}

// Connected reports whether the socket is currently up
func (s *QuoteStream) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Run connects and reconnects until ctx is done
func (s *QuoteStream) Run(ctx context.Context) error {
	log.Info().Str("url", s.cfg.URL).Strs("symbols", s.cfg.Symbols).Msg("📡 Quote stream started")

	for {
		err := s.session(ctx)
		s.setConnected(false)
		if ctx.Err() != nil {
			log.Info().Msg("Quote stream stopped")
			return nil
		}
		log.Warn().Err(err).Dur("retry_in", s.cfg.ReconnectDelay).Msg("⚠️ Quote stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			log.Info().Msg("Quote stream stopped")
			return nil
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

// session runs one connection until it fails or ctx ends
func (s *QuoteStream) session(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	var writeMu sync.Mutex

	// unblock ReadMessage on shutdown, keep the connection alive otherwise
	go func() {
		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				writeMu.Lock()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				writeMu.Unlock()
				conn.Close()
				return
			case <-ticker.C:
				writeMu.Lock()
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout))
				writeMu.Unlock()
			}
		}
	}()

	send := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		return conn.WriteJSON(v)
	}

	if err := send(map[string]interface{}{
		"action": "auth",
		"key":    s.cfg.KeyID,
		"secret": s.cfg.SecretKey,
	}); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := send(map[string]interface{}{
		"action": "subscribe",
		"trades": s.cfg.Symbols,
	}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	s.setConnected(true)
	log.Info().Str("url", s.cfg.URL).Msg("🔌 Quote stream connected")

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := s.handleMessage(message); err != nil {
			return err
		}
	}
}

type streamMessage struct {
	Type   string          `json:"T"`
	Symbol string          `json:"S"`
	Price  decimal.Decimal `json:"p"`
	Time   time.Time       `json:"t"`
	Msg    string          `json:"msg"`
	Code   int             `json:"code"`
}

// handleMessage processes one frame. Only a server error frame is fatal to
// the session; malformed frames are skipped.
func (s *QuoteStream) handleMessage(data []byte) error {
	var msgs []streamMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		log.Debug().Err(err).Msg("Unparseable stream frame")
		return nil
	}

	for _, m := range msgs {
		switch m.Type {
		case "t":
			if m.Symbol == "" || !m.Price.IsPositive() {
				continue
			}
			ts := m.Time
			if ts.IsZero() {
				ts = time.Now()
			}
			s.update(PriceUpdate{Symbol: m.Symbol, Price: m.Price, Timestamp: ts})
		case "success":
			log.Debug().Str("msg", m.Msg).Msg("Stream control")
		case "subscription":
			log.Info().Msg("✅ Quote stream subscribed")
		case "error":
			return fmt.Errorf("stream error %d: %s", m.Code, m.Msg)
		}
	}
	return nil
}

func (s *QuoteStream) update(u PriceUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, seen := s.prices[u.Symbol]
	if seen && u.Timestamp.Before(prev.Timestamp) {
		return
	}
	s.prices[u.Symbol] = u
}

func (s *QuoteStream) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
