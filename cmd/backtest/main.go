// Command backtest is a thin CLI wrapper around the core engine: it
// wires config.Load(), zerolog, a feed.TextLoader, a broker, and a
// dispatcher together and runs a strategy against a tick file.
//
// Grounded on NimbleMarkets-dbn-go's cmd/dbn-go-hist for the cobra
// command/flag shape, and on a godotenv -> zerolog -> config.Load()
// entrypoint wiring sequence.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/quantforge/backtest/broker"
	"github.com/quantforge/backtest/dispatcher"
	"github.com/quantforge/backtest/feed"
	"github.com/quantforge/backtest/internal/config"
	"github.com/quantforge/backtest/internal/journal"
	"github.com/quantforge/backtest/strategy"
	"github.com/quantforge/backtest/tick"
)

var (
	instrumentFlag string
	quantityFlag   string
	journalFlag    bool
)

func main() {
	root := &cobra.Command{
		Use:   "backtest",
		Short: "Run a tick-level backtest against a text tick file",
		RunE:  runBacktest,
	}
	root.Flags().StringVarP(&instrumentFlag, "instrument", "i", "AAA", "Instrument name to tag the loaded feed with")
	root.Flags().StringVarP(&quantityFlag, "quantity", "q", "100", "Quantity the demo buy-and-hold strategy enters")
	root.Flags().BoolVarP(&journalFlag, "journal", "j", false, "Persist order events and equity curve via internal/journal")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBacktest(cmd *cobra.Command, args []string) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("backtest: load config: %w", err)
	}
	if level, lerr := zerolog.ParseLevel(cfg.LogLevel); lerr == nil {
		zerolog.SetGlobalLevel(level)
	}
	if cfg.FeedPath == "" && len(args) > 0 {
		cfg.FeedPath = args[0]
	}
	if cfg.FeedPath == "" {
		return fmt.Errorf("backtest: no feed path given (pass one as an argument or set BACKTEST_FEED_PATH)")
	}

	qty, err := decimal.NewFromString(quantityFlag)
	if err != nil {
		return fmt.Errorf("backtest: invalid --quantity %q: %w", quantityFlag, err)
	}

	f := feed.NewInMemoryFeed(100)
	loader := feed.NewTextLoader(instrumentFlag)
	loader.DateTimeLayout = cfg.DateTimeLayout
	loader.SkipMalformed = cfg.SkipMalformed
	if cfg.Intraday {
		loader.Frequency = tick.Second
	} else {
		loader.Frequency = tick.Day
	}
	if err := loader.Load(cfg.FeedPath, f); err != nil {
		return fmt.Errorf("backtest: load feed: %w", err)
	}

	br := broker.New(cfg.InitialCash, cfg.Intraday)
	br.SetAllowNegativeCash(cfg.AllowNegativeCash)
	br.SetCommission(commissionModel(cfg))
	if cfg.VolumeLimit != nil {
		br.SetFillStrategy(broker.NewDefaultFillStrategy(broker.WithVolumeLimit(*cfg.VolumeLimit)))
	}

	runner := strategy.NewRunner(strategy.NewBuyAndHold(instrumentFlag, qty), br)

	if journalFlag && cfg.JournalDSN != "" {
		store, jerr := journal.New(cfg.JournalDSN)
		if jerr != nil {
			return fmt.Errorf("backtest: open journal: %w", jerr)
		}
		defer store.Close()
		if aerr := runner.AttachAnalyzer(store); aerr != nil {
			return fmt.Errorf("backtest: attach journal: %w", aerr)
		}
	}

	d := dispatcher.New()
	d.AddSource(f)
	d.AddConsumer(br)
	d.AddConsumer(runner)

	if err := d.Run(); err != nil {
		return fmt.Errorf("backtest: run: %w", err)
	}

	log.Info().
		Str("cash", br.GetCash(true).StringFixed(2)).
		Str("equity", br.GetEquity().StringFixed(2)).
		Interface("positions", br.Positions()).
		Msg("backtest finished")
	return nil
}

func commissionModel(cfg *config.Config) broker.CommissionModel {
	switch cfg.CommissionModel {
	case "per_share":
		return broker.NewPerShareCommission(cfg.CommissionRate)
	case "percentage":
		return broker.NewPercentageCommission(cfg.CommissionRate)
	case "tiered":
		return broker.NewTieredCommission(cfg.CommissionRate, cfg.CommissionRate)
	default:
		return broker.ZeroCommission{}
	}
}
