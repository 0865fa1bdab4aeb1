// Package collector implements the multi-market price collection pipeline:
// per-product API queries, record normalization, per-market gather with
// dedup and bulk upsert, and the run orchestrator.
package collector

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cestafacil/coletor/internal/model"
	"github.com/cestafacil/coletor/internal/progress"
	"github.com/cestafacil/coletor/internal/store"
	"github.com/cestafacil/coletor/pkg/sefaz"
)

// errNoMarkets fails a run that has nothing to collect from.
var errNoMarkets = eris.New("collector: no registered markets to collect")

// Config tunes the collection pipeline.
type Config struct {
	// LookbackDays is the default sales-history window, used when a trigger
	// request omits or exceeds the valid range.
	LookbackDays int
	// ProductConcurrency bounds how many product queries run at once within
	// one market.
	ProductConcurrency int
	// MarketTimeout is the hard wall-clock budget per market.
	MarketTimeout time.Duration
	// RecordsPerPage is the page size requested from the upstream API.
	RecordsPerPage int
}

// DefaultConfig mirrors the production collection parameters.
func DefaultConfig() Config {
	return Config{
		LookbackDays:       3,
		ProductConcurrency: 4,
		MarketTimeout:      20 * time.Minute,
		RecordsPerPage:     50,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LookbackDays <= 0 {
		c.LookbackDays = d.LookbackDays
	}
	if c.ProductConcurrency <= 0 {
		c.ProductConcurrency = d.ProductConcurrency
	}
	if c.MarketTimeout <= 0 {
		c.MarketTimeout = d.MarketTimeout
	}
	if c.RecordsPerPage <= 0 {
		c.RecordsPerPage = d.RecordsPerPage
	}
	return c
}

// Collector orchestrates collection runs across markets.
type Collector struct {
	store    store.Store
	client   sefaz.Client
	registry *progress.Registry
	worklist []string
	cfg      Config
}

// New creates a Collector. A nil or empty worklist falls back to the
// built-in product list.
func New(st store.Store, client sefaz.Client, registry *progress.Registry, worklist []string, cfg Config) *Collector {
	if len(worklist) == 0 {
		worklist = DefaultWorklist()
	}
	return &Collector{
		store:    st,
		client:   client,
		registry: registry,
		worklist: worklist,
		cfg:      cfg.withDefaults(),
	}
}

// RunOptions selects what a collection run covers.
type RunOptions struct {
	// MarketCNPJs restricts the run to these markets; empty means all
	// registered markets.
	MarketCNPJs []string
	// LookbackDays in [1,7]; out-of-range values are clamped to the default.
	LookbackDays int
}

// BeginRun reserves the single active-run slot and returns the tracker for
// the new run. It fails with progress.ErrRunActive while a run is RUNNING,
// without touching the active run's state.
func (c *Collector) BeginRun() (*progress.Tracker, error) {
	return c.registry.Begin()
}

// Run executes a full collection against the tracker obtained from BeginRun.
// Markets are processed strictly sequentially; concurrency lives inside each
// market. Any error escaping the market loop marks the run (row and tracker)
// as failed; there is no orchestrator-level retry.
func (c *Collector) Run(ctx context.Context, tracker *progress.Tracker, opts RunOptions) error {
	lookback := opts.LookbackDays
	if lookback < 1 || lookback > 7 {
		if opts.LookbackDays != 0 {
			zap.L().Warn("lookback days out of range, using default",
				zap.Int("requested", opts.LookbackDays),
				zap.Int("default", c.cfg.LookbackDays),
			)
		}
		lookback = c.cfg.LookbackDays
	}

	run, err := c.store.CreateRun(ctx, opts.MarketCNPJs, lookback)
	if err != nil {
		tracker.Fail(err.Error())
		return err
	}

	zap.L().Info("collection run started",
		zap.String("run_id", run.ID),
		zap.Int("lookback_days", lookback),
		zap.Strings("requested_markets", opts.MarketCNPJs),
	)

	total, err := c.runMarkets(ctx, run, tracker, opts.MarketCNPJs)
	if err != nil {
		tracker.Fail(err.Error())
		if ferr := c.store.FinishRun(ctx, run.ID, model.RunStatusFailed, total); ferr != nil {
			zap.L().Error("failed to mark run failed", zap.String("run_id", run.ID), zap.Error(ferr))
		}
		return err
	}

	if err := c.store.FinishRun(ctx, run.ID, model.RunStatusCompleted, total); err != nil {
		tracker.Fail(err.Error())
		return err
	}
	tracker.Complete(run.ID, total)

	zap.L().Info("collection run complete",
		zap.String("run_id", run.ID),
		zap.Int("total_records", total),
	)
	return nil
}

func (c *Collector) runMarkets(ctx context.Context, run *model.CollectionRun, tracker *progress.Tracker, selected []string) (int, error) {
	markets, err := c.resolveMarkets(ctx, selected)
	if err != nil {
		return 0, err
	}

	tracker.Start(len(markets), len(c.worklist))

	total := 0
	for _, market := range markets {
		if ctx.Err() != nil {
			return total, eris.Wrap(ctx.Err(), "collector: run cancelled")
		}
		total += c.collectMarketWithTimeout(ctx, market, run, tracker)
	}
	return total, nil
}

// resolveMarkets returns all registered markets, or the valid subset of the
// caller's selection. Unknown CNPJs are logged and skipped, not rejected.
func (c *Collector) resolveMarkets(ctx context.Context, selected []string) ([]model.Market, error) {
	if len(selected) == 0 {
		markets, err := c.store.ListMarkets(ctx)
		if err != nil {
			return nil, err
		}
		if len(markets) == 0 {
			return nil, errNoMarkets
		}
		return markets, nil
	}

	markets, err := c.store.FilterMarkets(ctx, selected)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(markets))
	for _, m := range markets {
		known[m.CNPJ] = true
	}
	for _, cnpj := range selected {
		if !known[cnpj] {
			zap.L().Warn("selected market not registered, skipping", zap.String("cnpj", cnpj))
		}
	}

	if len(markets) == 0 {
		return nil, errNoMarkets
	}
	return markets, nil
}
