package model

import "time"

// UnitClass distinguishes products sold by weight from products sold by unit.
type UnitClass string

const (
	UnitWeight UnitClass = "KG"
	UnitCount  UnitClass = "UN"
)

// PriceObservation is one price quote for one product at one market,
// produced by a single collection run. The ContentID is a deterministic
// hash of (market, product, price, last sale) and serves as the upsert
// key: re-collecting an identical quote is a no-op, not a duplicate.
type PriceObservation struct {
	ContentID      string    `json:"content_id"`
	MarketCNPJ     string    `json:"market_cnpj"`
	MarketName     string    `json:"market_name"`
	ProductName    string    `json:"product_name"`
	NormalizedName string    `json:"normalized_name"`
	ExternalID     string    `json:"external_id"`
	Barcode        string    `json:"barcode,omitempty"`
	Price          float64   `json:"price"`
	Unit           UnitClass `json:"unit"`
	SourceUnit     string    `json:"source_unit"`
	LastSaleAt     string    `json:"last_sale_at"`
	CollectedAt    time.Time `json:"collected_at"`
	RunID          string    `json:"run_id"`
}

// Market is a retail establishment registered for collection, identified
// by its CNPJ. Reference data only; the pipeline never mutates it.
type Market struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	CNPJ    string `json:"cnpj"`
	Address string `json:"address,omitempty"`
}

// RunStatus is the lifecycle state of a collection run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// CollectionRun is one end-to-end execution of the orchestrator.
type CollectionRun struct {
	ID               string     `json:"id"`
	Status           RunStatus  `json:"status"`
	RequestedMarkets []string   `json:"requested_markets"`
	LookbackDays     int        `json:"lookback_days"`
	TotalRecords     int        `json:"total_records"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}
