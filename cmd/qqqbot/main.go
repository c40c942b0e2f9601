package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/qqqbot/bot"
	"github.com/web3guy0/qqqbot/core"
	"github.com/web3guy0/qqqbot/exec"
	"github.com/web3guy0/qqqbot/execution"
	"github.com/web3guy0/qqqbot/feeds"
	"github.com/web3guy0/qqqbot/internal/api"
	"github.com/web3guy0/qqqbot/internal/config"
	"github.com/web3guy0/qqqbot/internal/database"
	"github.com/web3guy0/qqqbot/internal/logging"
	"github.com/web3guy0/qqqbot/risk"
	"github.com/web3guy0/qqqbot/storage"
	"github.com/web3guy0/qqqbot/strategy"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML/TOML/JSON config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Error().Err(err).Msg("🛑 Bot stopped")
		os.Exit(1)
	}
}

func run(configPath string) error {
	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	cfg, err := config.Load(configPath)
	if err != nil {
		// logging is not configured yet
		logging.Setup("info", "console")
		return fmt.Errorf("config: %w", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msg("              QQQBOT - LEVERAGED ETF ROTATION")
	log.Info().Msg("═══════════════════════════════════════════════════════════════")

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	// 1. Broker REST client (quotes, history, and orders outside dry-run)
	baseURL := cfg.Broker.BaseURL
	if cfg.IsLive() && baseURL == exec.PaperTradingURL {
		baseURL = exec.LiveTradingURL
	}
	client := exec.NewClient(exec.ClientConfig{
		BaseURL:        baseURL,
		DataURL:        cfg.Broker.DataURL,
		KeyID:          cfg.Broker.KeyID,
		SecretKey:      cfg.Broker.SecretKey,
		Feed:           cfg.Broker.Feed,
		Timeout:        cfg.Broker.Timeout,
		SettleAttempts: cfg.Broker.SettleAttempts,
	})

	// 2. Quote stream in front of REST
	symbols := []string{cfg.Trading.Benchmark, cfg.Trading.BullSymbol, cfg.Trading.BearSymbol}
	var stream *feeds.QuoteStream
	if cfg.Broker.StreamEnabled {
		stream = feeds.NewQuoteStream(feeds.StreamConfig{
			URL:       cfg.Broker.StreamURL,
			KeyID:     cfg.Broker.KeyID,
			SecretKey: cfg.Broker.SecretKey,
			Symbols:   symbols,
		})
	}
	prices := feeds.NewPriceSource(stream, client, cfg.Broker.StaleAfter)
	log.Info().Bool("stream", stream != nil).Msg("✅ Price source initialized")

	// 3. Order path
	var (
		submitter execution.OrderSubmitter = client
		account   core.AccountReader       = client
		paper     *exec.PaperBroker
	)
	if cfg.Trading.Mode == config.ModeDryRun {
		paper = exec.NewPaperBroker(exec.PaperConfig{SlippageBps: cfg.Broker.SlippageBps}, prices)
		submitter, account = paper, paper
		log.Info().Msg("✅ Paper broker initialized (dry-run)")
	}
	router := execution.NewRouter(submitter, execution.RouterConfig{
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
		MarketPollInterval: cfg.IOC.MarketPollInterval,
	})
	log.Info().Bool("ioc", cfg.IOC.Enabled).Msg("✅ Execution layer initialized")

	// 4. Capital ledger from persisted state
	store := storage.NewStateStore(cfg.Storage.StatePath)
	ledger := risk.NewLedger(cfg.Trading.StartingAmount)
	ledger.Restore(store.LoadOrInit(cfg.Trading.StartingAmount))
	if paper != nil && !ledger.Flat() {
		// simulated account starts empty; carry the saved position into it
		paper.SetPosition(ledger.Position(), ledger.Shares())
	}
	log.Info().Msg("✅ Capital ledger initialized")

	// 5. Rotation controller
	rotator := core.NewRotator(core.RotatorConfig{
		BullSymbol: cfg.Trading.BullSymbol,
		BearSymbol: cfg.Trading.BearSymbol,
	}, router, prices, account, ledger, store)

	// 6. Journal (optional)
	var journal *database.Database
	if cfg.Storage.JournalDSN != "" {
		journal, err = database.New(cfg.Storage.JournalDSN)
		if err != nil {
			log.Warn().Err(err).Msg("Journal unavailable, continuing without it")
		} else {
			defer journal.Close()
			rotator.SetJournal(journal)
			log.Info().Msg("✅ Journal initialized")
		}
	}

	// 7. Broker wins over local state
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rotator.Reconcile(ctx); err != nil {
		log.Warn().Err(err).Msg("⚠️ Reconcile failed, keeping local state")
	}

	// 8. Engine
	opens, closes := cfg.Session()
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
		NeutralWait:     cfg.Signal.NeutralWait,
		PollInterval:    cfg.Loop.PollInterval,
		Session:         core.Session{Location: loc, Open: opens, Close: closes},
		MaxTickFailures: cfg.Loop.MaxTickFailures,
		FailureCooldown: cfg.Loop.ErrorCooldown,
	}, prices, rotator)

	if err := engine.Hydrate(ctx); err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}
	log.Info().Msg("✅ Core engine initialized")

	// 9. Telegram (optional)
	var telegram *bot.TelegramBot
	if cfg.Telegram.Enabled {
		telegram, err = bot.NewTelegramBot(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Trading.Mode)
		if err != nil {
			log.Warn().Err(err).Msg("Telegram disabled")
		} else {
			telegram.SetStatusProvider(engine)
			if journal != nil {
				telegram.SetJournal(journal)
			}
			rotator.SetNotifier(telegram)
			telegram.NotifyStartup(engine.Status())
		}
	}

	printBanner(cfg)

	// ═══════════════════════════════════════════════════════════════════════════════
	// START
	// ═══════════════════════════════════════════════════════════════════════════════

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := engine.Run(gctx)
		if core.IsFatal(err) && telegram != nil {
			telegram.NotifyError(err)
		}
		return err
	})
	if stream != nil {
		g.Go(func() error { return stream.Run(gctx) })
	}
	if telegram != nil {
		g.Go(func() error { return telegram.Run(gctx) })
	}
	if cfg.Metrics.Enabled {
		apiCfg := api.ServerConfig{Addr: cfg.Metrics.Addr, Mode: cfg.Trading.Mode, Status: engine}
		if journal != nil {
			apiCfg.Journal = journal
		}
		srv := api.NewServer(apiCfg)
		g.Go(func() error { return srv.Run(gctx) })
	}

	log.Info().Msg("🚀 Bot running... Press Ctrl+C to stop")
	err = g.Wait()
	log.Info().
		Str("cash", ledger.Cash().StringFixed(2)).
		Str("leftover", ledger.Leftover().StringFixed(2)).
		Str("position", ledger.Position()).
		Int64("shares", ledger.Shares()).
		Msg("👋 Shutdown complete")
	return err
}

func printBanner(cfg *config.Config) {
	mode := map[string]string{
		config.ModeDryRun: "DRY RUN (simulated fills)",
		config.ModePaper:  "PAPER ACCOUNT",
		config.ModeLive:   "LIVE TRADING",
	}[cfg.Trading.Mode]

	log.Info().Msg("")
	log.Info().Msg("╔══════════════════════════════════════════════════════════════╗")
	log.Info().Msg("║              🔄 SMA BAND ROTATION - BULL / BEAR              ║")
	log.Info().Msg("╠══════════════════════════════════════════════════════════════╣")
	log.Info().Msgf("║  Mode: %-54s║", mode)
	log.Info().Msgf("║  Pair: %-54s║", fmt.Sprintf("%s / %s on %s", cfg.Trading.BullSymbol, cfg.Trading.BearSymbol, cfg.Trading.Benchmark))
	log.Info().Msgf("║  SMA: %-55s║", fmt.Sprintf("%d ticks, band ±%s", cfg.Signal.SMALength, cfg.Signal.ChopThreshold.String()))
	log.Info().Msgf("║  Neutral wait: %-46s║", cfg.Signal.NeutralWait.String())
	log.Info().Msgf("║  Close cutoff: %-46s║", cfg.Signal.CloseCutoff)
	log.Info().Msgf("║  IOC: %-55s║", fmt.Sprintf("step %s, %d retries, max dev %s",
		cfg.IOC.PriceStep.String(), cfg.IOC.MaxRetries, cfg.IOC.MaxDeviation.String()))
	log.Info().Msg("╚══════════════════════════════════════════════════════════════╝")
	log.Info().Msg("")
}
