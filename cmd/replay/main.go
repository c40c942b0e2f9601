// Replay runs recorded tick files through the trading engine with simulated
// fills. Nothing is sent to a broker.
//
//	replay -data ./ticks -dates 20250303,20250304 -config bot.yaml -chart replay.html
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/qqqbot/core"
	"github.com/web3guy0/qqqbot/exec"
	"github.com/web3guy0/qqqbot/execution"
	"github.com/web3guy0/qqqbot/feeds"
	"github.com/web3guy0/qqqbot/internal/config"
	"github.com/web3guy0/qqqbot/internal/database"
	"github.com/web3guy0/qqqbot/internal/logging"
	"github.com/web3guy0/qqqbot/internal/report"
	"github.com/web3guy0/qqqbot/risk"
	"github.com/web3guy0/qqqbot/storage"
	"github.com/web3guy0/qqqbot/strategy"
)

type options struct {
	configPath string
	dataDir    string
	dates      string
	statePath  string
	journalDSN string
	maxFill    int64
	chartPath  string
	chartEvery int
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "config file (signal and IOC settings)")
	flag.StringVar(&opts.dataDir, "data", ".", "directory holding <date>_market_data_<SYM>.csv files")
	flag.StringVar(&opts.dates, "dates", "", "comma separated yyyymmdd dates, replayed in order")
	flag.StringVar(&opts.statePath, "state", "", "state file (default: fresh temp file)")
	flag.StringVar(&opts.journalDSN, "journal", "", "optional journal DSN")
	flag.Int64Var(&opts.maxFill, "max-fill", 0, "cap shares per simulated fill (0 = unlimited)")
	flag.StringVar(&opts.chartPath, "chart", "", "write an HTML equity chart to this path")
	flag.IntVar(&opts.chartEvery, "chart-every", 60, "keep every Nth tick in the chart (rotations always kept)")
	flag.Parse()

	if err := run(opts); err != nil {
		log.Error().Err(err).Msg("🛑 Replay failed")
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logging.Setup("info", "console")
		return fmt.Errorf("config: %w", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	dates := splitDates(opts.dates)
	if len(dates) == 0 {
		return fmt.Errorf("no dates given")
	}

	symbols := []string{cfg.Trading.Benchmark, cfg.Trading.BullSymbol, cfg.Trading.BearSymbol}
	series, err := loadSeries(opts.dataDir, dates, symbols)
	if err != nil {
		return err
	}
	bench := series[cfg.Trading.Benchmark]
	if len(bench) == 0 {
		return fmt.Errorf("no market-hours ticks for %s", cfg.Trading.Benchmark)
	}

	statePath := opts.statePath
	if statePath == "" {
		dir, err := os.MkdirTemp("", "qqqbot-replay-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		statePath = filepath.Join(dir, "trading_state.json")
	}

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// WIRING - same engine as live, paper broker underneath
	// ═══════════════════════════════════════════════════════════════════════════════

	paper := exec.NewPaperBroker(exec.PaperConfig{
		SlippageBps:     cfg.Broker.SlippageBps,
		MaxFillPerOrder: opts.maxFill,
	}, nil)

	router := execution.NewRouter(paper, execution.RouterConfig{
		IOCEnabled: cfg.IOC.Enabled,
		IOC: execution.IOCParams{
			PriceStep:    cfg.IOC.PriceStep,
			MaxRetries:   cfg.IOC.MaxRetries,
			MaxDeviation: cfg.IOC.MaxDeviation,
		},
		LimitOffset:        cfg.IOC.LimitOffset,
		MarketFallbackBuy:  cfg.IOC.MarketFallbackBuy,
		MarketFallbackSell: cfg.IOC.MarketFallbackSell,
		MarketPollAttempts: cfg.IOC.MarketPollAttempts,
	})

	store := storage.NewStateStore(statePath)
	ledger := risk.NewLedger(cfg.Trading.StartingAmount)
	ledger.Restore(store.LoadOrInit(cfg.Trading.StartingAmount))
	if !ledger.Flat() {
		// a persisted position has to exist in the simulated account too
		paper.SetPosition(ledger.Position(), ledger.Shares())
	}

	rotator := core.NewRotator(core.RotatorConfig{
		BullSymbol: cfg.Trading.BullSymbol,
		BearSymbol: cfg.Trading.BearSymbol,
	}, router, paper, paper, ledger, store)

	if opts.journalDSN != "" {
		journal, err := database.New(opts.journalDSN)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer journal.Close()
		rotator.SetJournal(journal)
	}

	engine := core.NewEngine(core.EngineConfig{
		Benchmark:  cfg.Trading.Benchmark,
		BullSymbol: cfg.Trading.BullSymbol,
		BearSymbol: cfg.Trading.BearSymbol,
		Trend: strategy.TrendConfig{
			Window:        cfg.Signal.SMALength,
			ChopThreshold: cfg.Signal.ChopThreshold,
			CloseCutoff:   cfg.CloseCutoff(),
			Location:      loc,
		},
		NeutralWait: cfg.Signal.NeutralWait,
	}, paper, rotator)

	var handler feeds.TickHandler = engine
	var recorder *report.Recorder
	if opts.chartPath != "" {
		recorder = &report.Recorder{Handler: engine, Status: engine, Every: opts.chartEvery}
		handler = recorder
	}

	rp := &feeds.Replay{
		Handler:   handler,
		Prices:    paper,
		Benchmark: cfg.Trading.Benchmark,
		Bull:      cfg.Trading.BullSymbol,
		Bear:      cfg.Trading.BearSymbol,
		StopOn:    core.IsFatal,
	}
	paper.SetClock(rp.Now)
	rotator.SetClock(rp.Now)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the window starts full of the first recorded price
	paper.SetPrice(cfg.Trading.Benchmark, bench[0].Price)
	if err := engine.Hydrate(ctx); err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}

	log.Info().
		Strs("dates", dates).
		Int("ticks", len(bench)).
		Str("capital", ledger.Capital().StringFixed(2)).
		Msg("▶️ Replay starting")

	stats, err := rp.Run(ctx, series)
	if err != nil {
		return err
	}

	printResult(ledger, rotator, stats)

	if recorder != nil {
		if err := writeChart(opts.chartPath, recorder, dates); err != nil {
			return fmt.Errorf("chart: %w", err)
		}
		log.Info().Str("file", opts.chartPath).Int("points", len(recorder.Points())).Msg("📈 Equity chart written")
	}
	return nil
}

func writeChart(path string, rec *report.Recorder, dates []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	title := fmt.Sprintf("Replay %s", strings.Join(dates, ", "))
	if err := rec.Render(f, title); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func splitDates(s string) []string {
	var out []string
	for _, d := range strings.Split(s, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

// loadSeries concatenates each symbol's market-hours ticks across dates
func loadSeries(dir string, dates, symbols []string) (map[string]feeds.Series, error) {
	out := make(map[string]feeds.Series, len(symbols))
	for _, date := range dates {
		for _, sym := range symbols {
			path := feeds.TickFileName(dir, date, sym)
			ticks, err := feeds.LoadTickFile(path, sym)
			if err != nil {
				if os.IsNotExist(err) {
					log.Warn().Str("file", path).Msg("⚠️ Tick file missing")
					continue
				}
				return nil, err
			}
			kept := ticks.MarketHours()
			log.Info().Str("file", path).Int("ticks", len(ticks)).Int("market_hours", len(kept)).Msg("📂 Ticks loaded")
			out[sym] = append(out[sym], kept...)
		}
	}
	return out, nil
}

func printResult(ledger *risk.Ledger, rotator *core.Rotator, stats feeds.ReplayStats) {
	mark := decimal.Zero
	if !ledger.Flat() {
		mark, _ = rotator.Mark(ledger.Position())
	}
	equity := ledger.Equity(mark)
	pnl := ledger.PnL(mark)

	log.Info().Msg("╔══════════════════════════════════════════════════════════════╗")
	log.Info().Msg("║                       📊 REPLAY RESULT                       ║")
	log.Info().Msg("╠══════════════════════════════════════════════════════════════╣")
	log.Info().Msgf("║  Ticks: %-53d║", stats.Ticks)
	log.Info().Msgf("║  Tick errors: %-47d║", stats.Errors)
	log.Info().Msgf("║  Starting: $%-49s║", ledger.StartingAmount().StringFixed(2))
	log.Info().Msgf("║  Equity: $%-51s║", equity.StringFixed(2))
	log.Info().Msgf("║  P&L: $%-54s║", pnl.StringFixed(2))
	log.Info().Msgf("║  Leftover: $%-49s║", ledger.Leftover().StringFixed(2))
	log.Info().Msg("╚══════════════════════════════════════════════════════════════╝")
}
