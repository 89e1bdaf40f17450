package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/conditions"
	"github.com/futbot/gofut/internal/connector"
	"github.com/futbot/gofut/internal/controlplane/server"
	"github.com/futbot/gofut/internal/engine"
	"github.com/futbot/gofut/internal/events"
	"github.com/futbot/gofut/internal/ingest"
	"github.com/futbot/gofut/internal/journal"
	"github.com/futbot/gofut/internal/marketstate"
	"github.com/futbot/gofut/internal/metrics"
	"github.com/futbot/gofut/internal/risk"
	"github.com/futbot/gofut/internal/signalproc"
	"github.com/futbot/gofut/internal/config"
	"github.com/futbot/gofut/pkg/logger"
	"github.com/futbot/gofut/pkg/persistence"
	"github.com/futbot/gofut/pkg/secretstore"
	"github.com/futbot/gofut/pkg/shutdown"
)

func main() {
	var (
		cfgPath   = flag.String("config", getenv("FUTBOT_CONFIG", "config.yaml"), "config yaml path")
		secretKey = flag.String("secret-key", getenv("FUTBOT_SECRET_KEY", ""), "secret store encryption key (32 bytes, hex or base64)")
	)
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatal(err)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
	}); err != nil {
		fatal(err)
	}
	log := logger.Component("main")
	store := config.NewStore(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MetricsAddr != "" {
		if _, err := metrics.StartAsync(ctx, cfg.MetricsAddr); err != nil {
			fatal(err)
		}
	}

	bus := events.NewBus(cfg.EventBufferSize)
	state := marketstate.NewMarketState(cfg.CandleHistory)

	jnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		fatal(err)
	}

	venues, streams, err := buildVenues(ctx, cfg, state, bus, *secretKey)
	if err != nil {
		fatal(err)
	}

	breaker := risk.NewCircuitBreaker(cfg.Risk.MaxConsecutiveErrors, cfg.Risk.DailyLossLimit)
	// Carry today's realized PnL across a restart so the daily loss limit
	// cannot be reset by bouncing the process.
	if pnl, err := jnl.DailyRealizedPnL(time.Now()); err != nil {
		log.WithError(err).Warn("could not restore daily pnl from journal")
	} else if pnl != 0 {
		breaker.RecordRealizedPnL(time.Now(), pnl)
	}
	riskMgr := risk.NewManager(store, breaker, logger.Component("risk"))

	persist := persistence.NewJSONFileService(cfg.SnapshotDir)
	eng := engine.New(bus, state, riskMgr, store, venues, jnl, persist, logger.Component("engine"))
	if err := eng.Start(ctx); err != nil {
		fatal(err)
	}

	proc, err := signalproc.New(bus, state, store, eng, logger.Component("signalproc"))
	if err != nil {
		fatal(err)
	}
	proc.Start(ctx)

	if cfg.APIAddr != "" {
		api := server.New(eng, riskMgr, jnl, bus, store, logger.Component("api"))
		api.OnReload(func() error { return reloadConfig(store, *cfgPath, log) })
		api.Start(ctx, cfg.APIAddr)
	}

	mgr := shutdown.NewManager(log)
	mgr.OnShutdown(func(context.Context) { proc.Stop() })
	mgr.OnShutdown(func(context.Context) { eng.Stop() })
	mgr.OnShutdown(func(context.Context) {
		for _, s := range streams {
			s.Stop()
		}
	})
	mgr.OnShutdown(func(context.Context) { bus.Close() })
	mgr.OnShutdown(func(context.Context) { jnl.Close() })

	log.Info("bot running")
	waitForSignals(ctx, cancel, store, *cfgPath, log)

	shutdownCtx, sdCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer sdCancel()
	mgr.Shutdown(shutdownCtx)
}

// buildVenues wires one connector per exchange, plus the market-data
// streams and candle backfill. Dry-run replaces every venue with the
// paper connector but keeps live market data.
func buildVenues(ctx context.Context, cfg *config.Config, state *marketstate.MarketState,
	bus *events.Bus, secretKey string) (map[string]connector.Connector, []*ingest.Stream, error) {

	var secrets *secretstore.Store
	if !cfg.DryRun {
		key, err := secretstore.ParseKey(secretKey)
		if err != nil {
			return nil, nil, err
		}
		secrets, err = secretstore.Open(secretstore.OpenOptions{
			Path:          cfg.SecretDir,
			EncryptionKey: key,
			ReadOnly:      true,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	venues := make(map[string]connector.Connector)
	var streams []*ingest.Stream

	for _, ex := range cfg.Exchanges {
		symbols, interval := symbolsFor(cfg, ex.Name)
		if len(symbols) == 0 {
			continue
		}

		if ex.WSURL != "" {
			stream := ingest.NewStream(ex.Name, ex.WSURL, symbols, interval,
				state, bus, logger.Component("stream."+ex.Name))
			if err := stream.Start(ctx); err != nil {
				return nil, nil, err
			}
			streams = append(streams, stream)
		}

		if ex.RESTURL != "" {
			backfiller := ingest.NewBackfiller(ex.Name, ex.RESTURL, state, logger.Component("backfill."+ex.Name))
			for _, sym := range symbols {
				if err := backfiller.Backfill(ctx, sym, interval, cfg.CandleHistory); err != nil {
					logger.Component("backfill."+ex.Name).WithError(err).Warn("backfill failed, rules warm up from the stream")
				}
			}
		}

		if cfg.DryRun {
			venues[ex.Name] = connector.NewPaper(ex.Name, state, logger.Component("paper."+ex.Name))
			continue
		}
		apiKey, found, err := secrets.Get(ex.APIKeyName)
		if err != nil {
			return nil, nil, err
		}
		if !found {
			return nil, nil, fmt.Errorf("secret %q not found for exchange %s", ex.APIKeyName, ex.Name)
		}
		venues[ex.Name] = connector.NewREST(ex.Name, ex.RESTURL, apiKey,
			ex.OrdersPerSecond, logger.Component("venue."+ex.Name))
	}

	// Symbols whose exchange has no connection block still trade on paper
	// in dry-run, marking fills off backfilled or replayed data.
	if cfg.DryRun {
		for _, sym := range cfg.Symbols {
			if _, ok := venues[sym.Exchange]; !ok {
				venues[sym.Exchange] = connector.NewPaper(sym.Exchange, state, logger.Component("paper."+sym.Exchange))
			}
		}
	}
	return venues, streams, nil
}

func symbolsFor(cfg *config.Config, exchange string) ([]string, time.Duration) {
	var symbols []string
	interval := time.Minute
	for _, s := range cfg.Symbols {
		if s.Exchange != exchange {
			continue
		}
		symbols = append(symbols, s.Symbol)
		interval = s.CandleInterval.Duration
	}
	return symbols, interval
}

// waitForSignals blocks until termination. SIGHUP reloads the config:
// risk limits and time control take effect immediately, rule topology
// changes need a restart.
func waitForSignals(ctx context.Context, cancel context.CancelFunc,
	store *config.Store, cfgPath string, log *logrus.Entry) {

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				if err := reloadConfig(store, cfgPath, log); err != nil {
					log.Errorf("config reload rejected: %v", err)
				}
			default:
				log.Infof("received %s, shutting down", sig)
				cancel()
				return
			}
		}
	}
}

// reloadConfig swaps in a re-validated config. Risk limits and time
// control take effect immediately; rule-topology edits are refused
// because the running evaluators cannot absorb them.
func reloadConfig(store *config.Store, cfgPath string, log *logrus.Entry) error {
	next, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if rulesChanged(store.Get(), next) {
		return fmt.Errorf("rule changes in %s need a restart", cfgPath)
	}
	store.Swap(next)
	log.Infof("config reloaded from %s", cfgPath)
	return nil
}

// rulesChanged detects rule-topology edits, which the running evaluators
// cannot absorb.
func rulesChanged(old, next *config.Config) bool {
	return ruleFingerprint(old.Entries) != ruleFingerprint(next.Entries) ||
		ruleFingerprint(old.Exits) != ruleFingerprint(next.Exits)
}

func ruleFingerprint(rules []conditions.RuleConfig) string {
	parts := make([]string, len(rules))
	for i, r := range rules {
		parts[i] = r.ID + "/" + r.Type
	}
	return strings.Join(parts, ",")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "fatal:", err)
	os.Exit(1)
}
