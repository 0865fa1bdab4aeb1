package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/cestafacil/coletor/internal/db"
	"github.com/cestafacil/coletor/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlListMarkets   = `SELECT id, name, cnpj, COALESCE(address, '') FROM markets ORDER BY name`
	sqlFilterMarkets = `SELECT id, name, cnpj, COALESCE(address, '') FROM markets WHERE cnpj = ANY($1) ORDER BY name`
	sqlInsertRun     = `INSERT INTO collection_runs (id, status, requested_markets, lookback_days, started_at) VALUES ($1, $2, $3, $4, $5)`
	sqlFinishRun     = `UPDATE collection_runs SET status = $1, total_records = $2, finished_at = $3 WHERE id = $4`
	sqlListRuns      = `SELECT id, status, requested_markets, lookback_days, total_records, started_at, finished_at FROM collection_runs ORDER BY started_at DESC LIMIT $1`
	sqlBasketPrices  = `SELECT content_id, market_cnpj, market_name, product_name, normalized_name, external_id, barcode, price, unit, source_unit, last_sale_at, collected_at, run_id FROM prices WHERE barcode = ANY($1) AND market_cnpj = ANY($2)`
	sqlGetBasket     = `SELECT id, name, products, updated_at FROM baskets WHERE id = $1`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"list_markets":   sqlListMarkets,
	"filter_markets": sqlFilterMarkets,
	"insert_run":     sqlInsertRun,
	"finish_run":     sqlFinishRun,
	"basket_prices":  sqlBasketPrices,
	"get_basket":     sqlGetBasket,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS markets (
	id      BIGSERIAL PRIMARY KEY,
	name    TEXT NOT NULL,
	cnpj    TEXT NOT NULL UNIQUE,
	address TEXT
);

CREATE TABLE IF NOT EXISTS collection_runs (
	id                TEXT PRIMARY KEY,
	status            TEXT NOT NULL DEFAULT 'running',
	requested_markets JSONB NOT NULL DEFAULT '[]',
	lookback_days     INT NOT NULL,
	total_records     INT NOT NULL DEFAULT 0,
	started_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS prices (
	content_id      TEXT PRIMARY KEY,
	market_cnpj     TEXT NOT NULL,
	market_name     TEXT NOT NULL,
	product_name    TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	external_id     TEXT NOT NULL,
	barcode         TEXT NOT NULL DEFAULT '',
	price           DOUBLE PRECISION NOT NULL,
	unit            TEXT NOT NULL,
	source_unit     TEXT NOT NULL DEFAULT '',
	last_sale_at    TEXT NOT NULL DEFAULT '',
	collected_at    TIMESTAMPTZ NOT NULL,
	run_id          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS baskets (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT 'Minha Cesta',
	products   JSONB NOT NULL DEFAULT '[]',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON collection_runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_prices_barcode_market ON prices(barcode, market_cnpj);
CREATE INDEX IF NOT EXISTS idx_prices_market_cnpj ON prices(market_cnpj);
CREATE INDEX IF NOT EXISTS idx_prices_normalized_name ON prices(normalized_name);
CREATE INDEX IF NOT EXISTS idx_prices_run_id ON prices(run_id);
`

// priceColumns is the column order used for bulk upserts into prices.
var priceColumns = []string{
	"content_id", "market_cnpj", "market_name", "product_name", "normalized_name",
	"external_id", "barcode", "price", "unit", "source_unit", "last_sale_at",
	"collected_at", "run_id",
}

// Migrate creates tables and indexes if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx, sqlListMarkets)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list markets")
	}
	defer rows.Close()
	return scanMarkets(rows)
}

func (s *PostgresStore) FilterMarkets(ctx context.Context, cnpjs []string) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx, sqlFilterMarkets, cnpjs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: filter markets")
	}
	defer rows.Close()
	return scanMarkets(rows)
}

func scanMarkets(rows pgx.Rows) ([]model.Market, error) {
	var markets []model.Market
	for rows.Next() {
		var m model.Market
		if err := rows.Scan(&m.ID, &m.Name, &m.CNPJ, &m.Address); err != nil {
			return nil, eris.Wrap(err, "postgres: scan market")
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate markets")
	}
	return markets, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, requestedMarkets []string, lookbackDays int) (*model.CollectionRun, error) {
	if requestedMarkets == nil {
		requestedMarkets = []string{}
	}
	run := &model.CollectionRun{
		ID:               uuid.NewString(),
		Status:           model.RunStatusRunning,
		RequestedMarkets: requestedMarkets,
		LookbackDays:     lookbackDays,
		StartedAt:        time.Now().UTC(),
	}

	marketsJSON, err := json.Marshal(requestedMarkets)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal requested markets")
	}

	_, err = s.pool.Exec(ctx, sqlInsertRun, run.ID, string(run.Status), marketsJSON, run.LookbackDays, run.StartedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, totalRecords int) error {
	tag, err := s.pool.Exec(ctx, sqlFinishRun, string(status), totalRecords, time.Now().UTC(), runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: finish run %s: not found", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.CollectionRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, sqlListRuns, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.CollectionRun
	for rows.Next() {
		var (
			r           model.CollectionRun
			status      string
			marketsJSON []byte
			finishedAt  *time.Time
		)
		if err := rows.Scan(&r.ID, &status, &marketsJSON, &r.LookbackDays, &r.TotalRecords, &r.StartedAt, &finishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		r.FinishedAt = finishedAt
		if err := json.Unmarshal(marketsJSON, &r.RequestedMarkets); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal requested markets")
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate runs")
	}
	return runs, nil
}

func (s *PostgresStore) UpsertObservations(ctx context.Context, obs []model.PriceObservation) (int64, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(obs))
	for _, o := range obs {
		rows = append(rows, []any{
			o.ContentID, o.MarketCNPJ, o.MarketName, o.ProductName, o.NormalizedName,
			o.ExternalID, o.Barcode, o.Price, string(o.Unit), o.SourceUnit, o.LastSaleAt,
			o.CollectedAt, o.RunID,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "prices",
		Columns:      priceColumns,
		ConflictKeys: []string{"content_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert observations")
	}
	return n, nil
}

func (s *PostgresStore) BasketPrices(ctx context.Context, barcodes, cnpjs []string) ([]model.PriceObservation, error) {
	rows, err := s.pool.Query(ctx, sqlBasketPrices, barcodes, cnpjs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: basket prices")
	}
	defer rows.Close()

	var obs []model.PriceObservation
	for rows.Next() {
		var (
			o    model.PriceObservation
			unit string
		)
		if err := rows.Scan(&o.ContentID, &o.MarketCNPJ, &o.MarketName, &o.ProductName, &o.NormalizedName,
			&o.ExternalID, &o.Barcode, &o.Price, &unit, &o.SourceUnit, &o.LastSaleAt, &o.CollectedAt, &o.RunID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan price")
		}
		o.Unit = model.UnitClass(unit)
		obs = append(obs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate prices")
	}
	return obs, nil
}

func (s *PostgresStore) GetBasket(ctx context.Context, basketID string) (*model.Basket, error) {
	var (
		b            model.Basket
		productsJSON []byte
	)
	err := s.pool.QueryRow(ctx, sqlGetBasket, basketID).Scan(&b.ID, &b.Name, &productsJSON, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get basket %s", basketID)
	}
	if err := json.Unmarshal(productsJSON, &b.Products); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal basket products")
	}
	return &b, nil
}
