package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/qqqbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BROKER REST CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// Alpaca-style trading and market data API:
//   POST /v2/orders                          submit
//   GET  /v2/orders/{id}                     settle
//   GET  /v2/orders:by_client_order_id       lookup
//   GET  /v2/positions                       holdings
//   GET  /v2/stocks/{sym}/trades/latest      last trade   (data host)
//   GET  /v2/stocks/{sym}/bars               history      (data host)
//
// IOC orders are acknowledged before the exchange answers, so SubmitOrder
// polls the order until it reaches a terminal state.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	PaperTradingURL = "https://paper-api.alpaca.markets"
	LiveTradingURL  = "https://api.alpaca.markets"
	MarketDataURL   = "https://data.alpaca.markets"
)

// ClientConfig holds connection settings
type ClientConfig struct {
	BaseURL        string
	DataURL        string
	KeyID          string
	SecretKey      string
	Feed           string // iex or sip
	Timeout        time.Duration
	SettleAttempts int
	SettleInterval time.Duration
}

type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

// NewClient creates a broker client
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = PaperTradingURL
	}
	if cfg.DataURL == "" {
		cfg.DataURL = MarketDataURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.SettleInterval <= 0 {
		cfg.SettleInterval = 200 * time.Millisecond
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.DataURL = strings.TrimRight(cfg.DataURL, "/")

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}

	log.Info().
		Str("base_url", cfg.BaseURL).
		Str("data_url", cfg.DataURL).
		Str("feed", cfg.Feed).
		Msg("🚀 Broker client initialized")
	return c
}

// ═══════════════════════════════════════════════════════════════════════════════
// ORDERS
// ═══════════════════════════════════════════════════════════════════════════════

type orderPayload struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type apiOrder struct {
	ID             string              `json:"id"`
	ClientOrderID  string              `json:"client_order_id"`
	Symbol         string              `json:"symbol"`
	Side           string              `json:"side"`
	Status         string              `json:"status"`
	FilledQty      decimal.Decimal     `json:"filled_qty"`
	FilledAvgPrice decimal.NullDecimal `json:"filled_avg_price"`
	SubmittedAt    time.Time           `json:"submitted_at"`
}

func (o apiOrder) toOrder() *types.Order {
	out := &types.Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          types.Side(strings.ToUpper(o.Side)),
		Status:        mapStatus(o.Status),
		FilledQty:     o.FilledQty.IntPart(),
		SubmittedAt:   o.SubmittedAt,
	}
	if o.FilledAvgPrice.Valid {
		px := o.FilledAvgPrice.Decimal
		out.AvgFillPrice = &px
	}
	return out
}

// mapStatus folds the broker's status vocabulary into ours
func mapStatus(s string) types.OrderStatus {
	switch s {
	case "filled":
		return types.OrderStatusFilled
	case "partially_filled":
		return types.OrderStatusPartiallyFilled
	case "canceled", "done_for_day", "replaced", "stopped", "suspended":
		return types.OrderStatusCanceled
	case "expired":
		return types.OrderStatusExpired
	case "rejected":
		return types.OrderStatusRejected
	default:
		return types.OrderStatusNew
	}
}

// SubmitOrder places an order. IOC orders are polled until terminal.
func (c *Client) SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	payload := orderPayload{
		Symbol:        req.Symbol,
		Qty:           fmt.Sprintf("%d", req.Quantity),
		Side:          strings.ToLower(string(req.Side)),
		ClientOrderID: req.ClientOrderID,
	}
	switch req.Type {
	case types.OrderTypeIOCLimit:
		payload.Type = "limit"
		payload.TimeInForce = "ioc"
		payload.LimitPrice = req.LimitPrice.StringFixed(2)
	case types.OrderTypeMarket:
		payload.Type = "market"
		payload.TimeInForce = "day"
	default:
		return nil, fmt.Errorf("unsupported order type %q", req.Type)
	}

	body, err := c.post(ctx, c.cfg.BaseURL+"/v2/orders", payload)
	if err != nil {
		return nil, fmt.Errorf("submit order: %w", err)
	}

	var o apiOrder
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, fmt.Errorf("parse order: %w", err)
	}

	log.Debug().
		Str("order_id", o.ID).
		Str("client_id", o.ClientOrderID).
		Str("status", o.Status).
		Str("type", payload.Type).
		Str("tif", payload.TimeInForce).
		Msg("📤 Order accepted")

	order := o.toOrder()
	if req.Type == types.OrderTypeIOCLimit {
		order = c.settle(ctx, order)
	}
	return order, nil
}

// settle polls an order until the broker reports a terminal status. An IOC
// reported partially filled may still pick up fills before the rest cancels.
func (c *Client) settle(ctx context.Context, order *types.Order) *types.Order {
	defer func() {
		if !order.Status.Terminal() {
			log.Warn().
				Str("order_id", order.ID).
				Str("status", string(order.Status)).
				Int64("filled", order.FilledQty).
				Msg("⚠️ IOC order not terminal after settle polls")
		}
	}()
	for i := 0; i < c.cfg.SettleAttempts && !order.Status.Terminal(); i++ {
		select {
		case <-ctx.Done():
			return order
		case <-time.After(c.cfg.SettleInterval):
		}
		latest, err := c.GetOrder(ctx, order.ID)
		if err != nil {
			log.Debug().Err(err).Str("order_id", order.ID).Msg("Order settle poll failed")
			continue
		}
		order = latest
	}
	return order
}

// GetOrder fetches an order by broker id
func (c *Client) GetOrder(ctx context.Context, id string) (*types.Order, error) {
	body, err := c.get(ctx, c.cfg.BaseURL+"/v2/orders/"+url.PathEscape(id))
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	var o apiOrder
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, fmt.Errorf("parse order: %w", err)
	}
	return o.toOrder(), nil
}

// GetOrderByClientID fetches an order by our client order id
func (c *Client) GetOrderByClientID(ctx context.Context, clientOrderID string) (*types.Order, error) {
	q := url.Values{"client_order_id": {clientOrderID}}
	body, err := c.get(ctx, c.cfg.BaseURL+"/v2/orders:by_client_order_id?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("lookup order: %w", err)
	}
	var o apiOrder
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, fmt.Errorf("parse order: %w", err)
	}
	return o.toOrder(), nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// ACCOUNT
// ═══════════════════════════════════════════════════════════════════════════════

type apiPosition struct {
	Symbol      string          `json:"symbol"`
	Qty         decimal.Decimal `json:"qty"`
	MarketValue decimal.Decimal `json:"market_value"`
}

// ListPositions returns every open holding
func (c *Client) ListPositions(ctx context.Context) ([]types.BrokerPosition, error) {
	body, err := c.get(ctx, c.cfg.BaseURL+"/v2/positions")
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	var raw []apiPosition
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}

	out := make([]types.BrokerPosition, 0, len(raw))
	for _, p := range raw {
		out = append(out, types.BrokerPosition{
			Symbol:      p.Symbol,
			Quantity:    p.Qty.IntPart(),
			MarketValue: p.MarketValue,
		})
	}
	return out, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET DATA
// ═══════════════════════════════════════════════════════════════════════════════

// LatestPrice returns the last trade price for symbol
func (c *Client) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q := url.Values{}
	if c.cfg.Feed != "" {
		q.Set("feed", c.cfg.Feed)
	}
	u := fmt.Sprintf("%s/v2/stocks/%s/trades/latest", c.cfg.DataURL, url.PathEscape(symbol))
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	body, err := c.get(ctx, u)
	if err != nil {
		return decimal.Zero, fmt.Errorf("latest trade %s: %w", symbol, err)
	}

	var result struct {
		Trade struct {
			Price decimal.Decimal `json:"p"`
			Time  time.Time       `json:"t"`
		} `json:"trade"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return decimal.Zero, fmt.Errorf("parse latest trade: %w", err)
	}
	if !result.Trade.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("latest trade %s: no price", symbol)
	}
	return result.Trade.Price, nil
}

// HistoricalBars returns up to n one-minute bars, oldest first
func (c *Client) HistoricalBars(ctx context.Context, symbol string, n int) ([]types.Bar, error) {
	q := url.Values{
		"timeframe": {"1Min"},
		"limit":     {fmt.Sprintf("%d", n)},
		"sort":      {"desc"},
		"start":     {time.Now().UTC().Add(-7 * 24 * time.Hour).Format(time.RFC3339)},
	}
	if c.cfg.Feed != "" {
		q.Set("feed", c.cfg.Feed)
	}
	u := fmt.Sprintf("%s/v2/stocks/%s/bars?%s", c.cfg.DataURL, url.PathEscape(symbol), q.Encode())

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("bars %s: %w", symbol, err)
	}

	var result struct {
		Bars []struct {
			Time  time.Time       `json:"t"`
			Close decimal.Decimal `json:"c"`
		} `json:"bars"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse bars: %w", err)
	}

	bars := make([]types.Bar, 0, len(result.Bars))
	for _, b := range result.Bars {
		bars = append(bars, types.Bar{Time: b.Time, Close: b.Close})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req)
	return c.doRequest(req)
}

func (c *Client) post(ctx context.Context, u string, body interface{}) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.doRequest(req)
}

func (c *Client) addHeaders(req *http.Request) {
	req.Header.Set("APCA-API-KEY-ID", c.cfg.KeyID)
	req.Header.Set("APCA-API-SECRET-KEY", c.cfg.SecretKey)
}

func (c *Client) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}
