package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/cestafacil/coletor/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite, for local
// development without a Postgres instance.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS markets (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	name    TEXT NOT NULL,
	cnpj    TEXT NOT NULL UNIQUE,
	address TEXT
);

CREATE TABLE IF NOT EXISTS collection_runs (
	id                TEXT PRIMARY KEY,
	status            TEXT NOT NULL DEFAULT 'running',
	requested_markets TEXT NOT NULL DEFAULT '[]',
	lookback_days     INTEGER NOT NULL,
	total_records     INTEGER NOT NULL DEFAULT 0,
	started_at        DATETIME NOT NULL,
	finished_at       DATETIME
);

CREATE TABLE IF NOT EXISTS prices (
	content_id      TEXT PRIMARY KEY,
	market_cnpj     TEXT NOT NULL,
	market_name     TEXT NOT NULL,
	product_name    TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	external_id     TEXT NOT NULL,
	barcode         TEXT NOT NULL DEFAULT '',
	price           REAL NOT NULL,
	unit            TEXT NOT NULL,
	source_unit     TEXT NOT NULL DEFAULT '',
	last_sale_at    TEXT NOT NULL DEFAULT '',
	collected_at    DATETIME NOT NULL,
	run_id          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS baskets (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT 'Minha Cesta',
	products   TEXT NOT NULL DEFAULT '[]',
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON collection_runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_prices_barcode_market ON prices(barcode, market_cnpj);
CREATE INDEX IF NOT EXISTS idx_prices_market_cnpj ON prices(market_cnpj);
CREATE INDEX IF NOT EXISTS idx_prices_run_id ON prices(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, cnpj, COALESCE(address, '') FROM markets ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list markets")
	}
	defer rows.Close()
	return scanMarketRows(rows)
}

func (s *SQLiteStore) FilterMarkets(ctx context.Context, cnpjs []string) ([]model.Market, error) {
	if len(cnpjs) == 0 {
		return nil, nil
	}
	query := `SELECT id, name, cnpj, COALESCE(address, '') FROM markets WHERE cnpj IN (` +
		placeholders(len(cnpjs)) + `) ORDER BY name`
	args := make([]any, len(cnpjs))
	for i, c := range cnpjs {
		args[i] = c
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: filter markets")
	}
	defer rows.Close()
	return scanMarketRows(rows)
}

func scanMarketRows(rows *sql.Rows) ([]model.Market, error) {
	var markets []model.Market
	for rows.Next() {
		var m model.Market
		if err := rows.Scan(&m.ID, &m.Name, &m.CNPJ, &m.Address); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan market")
		}
		markets = append(markets, m)
	}
	return markets, eris.Wrap(rows.Err(), "sqlite: iterate markets")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, requestedMarkets []string, lookbackDays int) (*model.CollectionRun, error) {
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
		return nil, eris.Wrap(err, "sqlite: marshal requested markets")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collection_runs (id, status, requested_markets, lookback_days, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), string(marketsJSON), run.LookbackDays, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, totalRecords int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE collection_runs SET status = ?, total_records = ?, finished_at = ? WHERE id = ?`,
		string(status), totalRecords, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: finish run %s: not found", runID)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.CollectionRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, requested_markets, lookback_days, total_records, started_at, finished_at FROM collection_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.CollectionRun
	for rows.Next() {
		var (
			r           model.CollectionRun
			status      string
			marketsJSON string
			finishedAt  *time.Time
		)
		if err := rows.Scan(&r.ID, &status, &marketsJSON, &r.LookbackDays, &r.TotalRecords, &r.StartedAt, &finishedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = model.RunStatus(status)
		r.FinishedAt = finishedAt
		if err := json.Unmarshal([]byte(marketsJSON), &r.RequestedMarkets); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal requested markets")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteStore) UpsertObservations(ctx context.Context, obs []model.PriceObservation) (int64, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO prices (content_id, market_cnpj, market_name, product_name, normalized_name,
			external_id, barcode, price, unit, source_unit, last_sale_at, collected_at, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (content_id) DO UPDATE SET
			market_name = excluded.market_name,
			product_name = excluded.product_name,
			normalized_name = excluded.normalized_name,
			price = excluded.price,
			unit = excluded.unit,
			source_unit = excluded.source_unit,
			collected_at = excluded.collected_at,
			run_id = excluded.run_id`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, o := range obs {
		if _, err := stmt.ExecContext(ctx,
			o.ContentID, o.MarketCNPJ, o.MarketName, o.ProductName, o.NormalizedName,
			o.ExternalID, o.Barcode, o.Price, string(o.Unit), o.SourceUnit, o.LastSaleAt,
			o.CollectedAt, o.RunID,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert observation %s", o.ContentID)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert")
	}
	return n, nil
}

func (s *SQLiteStore) BasketPrices(ctx context.Context, barcodes, cnpjs []string) ([]model.PriceObservation, error) {
	if len(barcodes) == 0 || len(cnpjs) == 0 {
		return nil, nil
	}

	query := `SELECT content_id, market_cnpj, market_name, product_name, normalized_name,
		external_id, barcode, price, unit, source_unit, last_sale_at, collected_at, run_id
		FROM prices WHERE barcode IN (` + placeholders(len(barcodes)) + `)
		AND market_cnpj IN (` + placeholders(len(cnpjs)) + `)`

	args := make([]any, 0, len(barcodes)+len(cnpjs))
	for _, b := range barcodes {
		args = append(args, b)
	}
	for _, c := range cnpjs {
		args = append(args, c)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: basket prices")
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
			return nil, eris.Wrap(err, "sqlite: scan price")
		}
		o.Unit = model.UnitClass(unit)
		obs = append(obs, o)
	}
	return obs, eris.Wrap(rows.Err(), "sqlite: iterate prices")
}

func (s *SQLiteStore) GetBasket(ctx context.Context, basketID string) (*model.Basket, error) {
	var (
		b            model.Basket
		productsJSON string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, products, updated_at FROM baskets WHERE id = ?`, basketID,
	).Scan(&b.ID, &b.Name, &productsJSON, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get basket %s", basketID)
	}
	if err := json.Unmarshal([]byte(productsJSON), &b.Products); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal basket products")
	}
	return &b, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
