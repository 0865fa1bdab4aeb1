// Package store persists markets, collection runs, price observations, and
// saved baskets behind a driver-agnostic interface.
package store

import (
	"context"

	"github.com/cestafacil/coletor/internal/model"
)

// Store defines the persistence interface for the collection pipeline and
// the basket pricing engine.
type Store interface {
	// Markets (reference data, read-only from the pipeline's perspective)
	ListMarkets(ctx context.Context) ([]model.Market, error)
	// FilterMarkets returns the registered markets among the given CNPJs.
	FilterMarkets(ctx context.Context, cnpjs []string) ([]model.Market, error)

	// Collection runs
	CreateRun(ctx context.Context, requestedMarkets []string, lookbackDays int) (*model.CollectionRun, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, totalRecords int) error
	ListRuns(ctx context.Context, limit int) ([]model.CollectionRun, error)

	// Price observations. Upsert is keyed on content_id, so re-collecting an
	// identical quote leaves exactly one row.
	UpsertObservations(ctx context.Context, obs []model.PriceObservation) (int64, error)
	// BasketPrices returns all observations matching the given barcodes
	// within the given markets.
	BasketPrices(ctx context.Context, barcodes, cnpjs []string) ([]model.PriceObservation, error)

	// Baskets. GetBasket returns (nil, nil) when the basket does not exist.
	GetBasket(ctx context.Context, basketID string) (*model.Basket, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
