package collector

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cestafacil/coletor/internal/model"
	"github.com/cestafacil/coletor/internal/progress"
)

// collectMarket fans the product worklist out through a bounded group of
// concurrent queries, deduplicates the gathered observations by content ID,
// and persists them in a single bulk upsert. A persistence failure is logged
// and yields zero saved records; it never aborts the run.
func (c *Collector) collectMarket(ctx context.Context, market model.Market, run *model.CollectionRun, tracker *progress.Tracker) (int, error) {
	tracker.BeginMarket(market.Name)
	collectedAt := time.Now().UTC()

	results := make([][]model.PriceObservation, len(c.worklist))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.ProductConcurrency)
	for i, product := range c.worklist {
		g.Go(func() error {
			obs := c.queryProduct(gctx, product, market, collectedAt, run.ID, run.LookbackDays)
			results[i] = obs
			tracker.ProductProcessed(product, len(obs))
			// Surface cancellation so the group stops scheduling new tasks.
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		// Timed out or cancelled: the batch upsert below never runs, so a
		// market cut off mid-gather writes nothing.
		return 0, err
	}

	unique := make(map[string]model.PriceObservation)
	raw := 0
	for _, batch := range results {
		for _, obs := range batch {
			raw++
			unique[obs.ContentID] = obs // last-seen-wins on identical content IDs
		}
	}

	zap.L().Info("market gather complete",
		zap.String("market", market.Name),
		zap.Int("raw", raw),
		zap.Int("unique", len(unique)),
	)

	if len(unique) == 0 {
		return 0, nil
	}

	batch := make([]model.PriceObservation, 0, len(unique))
	for _, obs := range unique {
		batch = append(batch, obs)
	}

	saved, err := c.store.UpsertObservations(ctx, batch)
	if err != nil {
		zap.L().Error("upsert failed",
			zap.String("market", market.Name),
			zap.Int("records", len(batch)),
			zap.Error(err),
		)
		return 0, nil
	}

	zap.L().Info("market persisted",
		zap.String("market", market.Name),
		zap.Int64("saved", saved),
	)
	return int(saved), nil
}

// collectMarketWithTimeout runs collectMarket under a hard wall-clock
// deadline. A timed-out market counts as zero records for this run, but it
// always gets a report entry and advances the processed counter and ETA.
func (c *Collector) collectMarketWithTimeout(ctx context.Context, market model.Market, run *model.CollectionRun, tracker *progress.Tracker) int {
	start := time.Now()

	mctx, cancel := context.WithTimeout(ctx, c.cfg.MarketTimeout)
	defer cancel()

	saved, err := c.collectMarket(mctx, market, run, tracker)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			zap.L().Error("market collection timed out",
				zap.String("market", market.Name),
				zap.Duration("timeout", c.cfg.MarketTimeout),
			)
		} else {
			zap.L().Error("market collection aborted",
				zap.String("market", market.Name),
				zap.Error(err),
			)
		}
		saved = 0
	}

	tracker.FinishMarket(market.Name, saved, time.Since(start))
	return saved
}
