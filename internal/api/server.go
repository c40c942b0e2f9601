// Package api serves the read-only HTTP surface: health, the engine status
// snapshot, journal queries and the Prometheus scrape endpoint.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/qqqbot/internal/database"
	"github.com/web3guy0/qqqbot/internal/metrics"
	"github.com/web3guy0/qqqbot/types"
)

const maxLimit = 500

// StatusProvider exposes the engine snapshot
type StatusProvider interface {
	Status() types.Status
}

// JournalReader exposes trade history
type JournalReader interface {
	RecentTrades(ctx context.Context, limit int) ([]database.Trade, error)
	RecentRotations(ctx context.Context, limit int) ([]database.Rotation, error)
	Stats(ctx context.Context) (database.Stats, error)
}

// ServerConfig describes the HTTP server dependencies. Journal may be nil.
type ServerConfig struct {
	Addr    string
	Mode    string
	Status  StatusProvider
	Journal JournalReader
}

type Server struct {
	cfg    ServerConfig
	router *gin.Engine
}

// NewServer builds the router
func NewServer(cfg ServerConfig) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":9090"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{cfg: cfg, router: router}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	group := router.Group("/api")
	group.GET("/status", s.handleStatus)
	group.GET("/trades", s.handleTrades)
	group.GET("/rotations", s.handleRotations)
	group.GET("/stats", s.handleStats)

	return s
}

// Handler exposes the router (tests)
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().Str("addr", s.cfg.Addr).Msg("📈 HTTP endpoint listening (/api/status, /metrics)")

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

type statusResponse struct {
	Mode        string     `json:"mode"`
	Signal      string     `json:"signal"`
	Neutral     string     `json:"neutral"`
	Benchmark   string     `json:"benchmark"`
	SMA         string     `json:"sma"`
	Position    string     `json:"position"`
	Shares      int64      `json:"shares"`
	Cash        string     `json:"cash"`
	Leftover    string     `json:"leftover"`
	Equity      string     `json:"equity"`
	PnL         string     `json:"pnl"`
	LastTrade   *time.Time `json:"last_trade,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	MarketOpen  bool       `json:"market_open"`
	LastTickErr string     `json:"last_tick_error,omitempty"`
	Failures    int        `json:"tick_failures"`
	Paused      bool       `json:"paused"`
	PauseReason string     `json:"pause_reason,omitempty"`
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.cfg.Status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status not available"})
		return
	}
	st := s.cfg.Status.Status()
	c.JSON(http.StatusOK, statusResponse{
		Mode:        s.cfg.Mode,
		Signal:      string(st.Signal),
		Neutral:     st.Neutral,
		Benchmark:   st.Benchmark.StringFixed(2),
		SMA:         st.SMA.StringFixed(4),
		Position:    st.Position,
		Shares:      st.Shares,
		Cash:        st.Cash.StringFixed(2),
		Leftover:    st.Leftover.StringFixed(2),
		Equity:      st.Equity.StringFixed(2),
		PnL:         st.PnL.StringFixed(2),
		LastTrade:   st.LastTrade,
		UpdatedAt:   st.UpdatedAt,
		MarketOpen:  st.MarketOpen,
		LastTickErr: st.LastTickErr,
		Failures:    st.TickFailures,
		Paused:      st.Paused,
		PauseReason: st.PauseReason,
	})
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.cfg.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	trades, err := s.cfg.Journal.RecentTrades(c.Request.Context(), limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleRotations(c *gin.Context) {
	if s.cfg.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	rotations, err := s.cfg.Journal.RecentRotations(c.Request.Context(), limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rotations": rotations})
}

func (s *Server) handleStats(c *gin.Context) {
	if s.cfg.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	stats, err := s.cfg.Journal.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		return 50
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("HTTP")
	}
}
