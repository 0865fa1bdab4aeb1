package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cestafacil/coletor/internal/basket"
	"github.com/cestafacil/coletor/internal/collector"
	"github.com/cestafacil/coletor/internal/model"
	"github.com/cestafacil/coletor/internal/progress"
	"github.com/cestafacil/coletor/pkg/sefaz"
)

type stubStore struct {
	mu      sync.Mutex
	markets []model.Market
	runs    []model.CollectionRun
	basket  *model.Basket
	rows    []model.PriceObservation
}

func (s *stubStore) ListMarkets(_ context.Context) ([]model.Market, error) { return s.markets, nil }
func (s *stubStore) FilterMarkets(_ context.Context, cnpjs []string) ([]model.Market, error) {
	want := make(map[string]bool, len(cnpjs))
	for _, c := range cnpjs {
		want[c] = true
	}
	var out []model.Market
	for _, m := range s.markets {
		if want[m.CNPJ] {
			out = append(out, m)
		}
	}
	return out, nil
}
func (s *stubStore) CreateRun(_ context.Context, requested []string, days int) (*model.CollectionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := model.CollectionRun{
		ID:               fmt.Sprintf("run-%d", len(s.runs)+1),
		Status:           model.RunStatusRunning,
		RequestedMarkets: requested,
		LookbackDays:     days,
		StartedAt:        time.Now().UTC(),
	}
	s.runs = append(s.runs, run)
	return &run, nil
}
func (s *stubStore) FinishRun(_ context.Context, runID string, status model.RunStatus, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == runID {
			s.runs[i].Status = status
			s.runs[i].TotalRecords = total
		}
	}
	return nil
}
func (s *stubStore) ListRuns(_ context.Context, _ int) ([]model.CollectionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.CollectionRun(nil), s.runs...), nil
}
func (s *stubStore) UpsertObservations(_ context.Context, obs []model.PriceObservation) (int64, error) {
	return int64(len(obs)), nil
}
func (s *stubStore) BasketPrices(_ context.Context, _, _ []string) ([]model.PriceObservation, error) {
	return s.rows, nil
}
func (s *stubStore) GetBasket(_ context.Context, id string) (*model.Basket, error) {
	if s.basket != nil && s.basket.ID == id {
		return s.basket, nil
	}
	return nil, nil
}
func (s *stubStore) Migrate(_ context.Context) error { return nil }
func (s *stubStore) Close() error                    { return nil }

type stubClient struct{}

func (stubClient) Search(_ context.Context, req sefaz.SearchRequest) (*sefaz.SearchResponse, error) {
	price := 1.99
	return &sefaz.SearchResponse{
		TotalPaginas: 1,
		Conteudo: []sefaz.Entry{
			{Produto: sefaz.Produto{
				Descricao: req.Description,
				GTIN:      "789" + req.CNPJ,
				Venda:     sefaz.Venda{ValorVenda: &price, DataVenda: "2026-08-20T10:00:00"},
			}},
		},
	}, nil
}

func newTestServer(t *testing.T, st *stubStore) (http.Handler, serverDeps) {
	t.Helper()
	registry := progress.NewRegistry()
	coll := collector.New(st, stubClient{}, registry, []string{"arroz"}, collector.Config{
		LookbackDays:       3,
		ProductConcurrency: 1,
		MarketTimeout:      5 * time.Second,
	})
	deps := serverDeps{
		runCtx:         context.Background(),
		store:          st,
		collector:      coll,
		registry:       registry,
		baskets:        basket.NewEngine(st),
		allowedOrigins: []string{"*"},
	}
	return newRouter(deps), deps
}

func doRequest(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	handler, _ := newTestServer(t, &stubStore{})
	rec := doRequest(handler, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestTriggerCollection_Accepted(t *testing.T) {
	st := &stubStore{markets: []model.Market{{Name: "Mercado A", CNPJ: "11111111000111"}}}
	handler, deps := newTestServer(t, st)

	rec := doRequest(handler, http.MethodPost, "/api/collections", `{"lookback_days":3}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// The run is scheduled in the background; wait for it to finish.
	require.Eventually(t, func() bool {
		status := deps.registry.Current().Status
		return status == progress.StatusCompleted || status == progress.StatusFailed
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, progress.StatusCompleted, deps.registry.Current().Status)
}

func TestTriggerCollection_ConflictWhileRunning(t *testing.T) {
	st := &stubStore{markets: []model.Market{{Name: "Mercado A", CNPJ: "11111111000111"}}}
	handler, deps := newTestServer(t, st)

	// Hold the active-run slot without starting a run.
	_, err := deps.collector.BeginRun()
	require.NoError(t, err)

	rec := doRequest(handler, http.MethodPost, "/api/collections", `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already in progress")
}

func TestTriggerCollection_BadBody(t *testing.T) {
	handler, _ := newTestServer(t, &stubStore{})
	rec := doRequest(handler, http.MethodPost, "/api/collections", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	handler, _ := newTestServer(t, &stubStore{})
	rec := doRequest(handler, http.MethodGet, "/api/collections/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var snap progress.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, progress.StatusIdle, snap.Status)
}

func TestListRunsEndpoint(t *testing.T) {
	st := &stubStore{runs: []model.CollectionRun{
		{ID: "run-1", Status: model.RunStatusCompleted, TotalRecords: 42, StartedAt: time.Now().UTC()},
	}}
	handler, _ := newTestServer(t, st)

	rec := doRequest(handler, http.MethodGet, "/api/collections", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var runs []model.CollectionRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
}

func TestBasketEndpoint(t *testing.T) {
	st := &stubStore{
		basket: &model.Basket{
			ID:       "b1",
			Products: []model.BasketProduct{{Barcode: "789", Name: "Arroz"}},
		},
		rows: []model.PriceObservation{
			{MarketCNPJ: "11111111000111", MarketName: "Mercado A", Barcode: "789", ProductName: "ARROZ", Price: 6.49},
		},
	}
	handler, _ := newTestServer(t, st)

	rec := doRequest(handler, http.MethodPost, "/api/basket/calculate", `{"basket_id":"b1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var result model.BasketResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.PerMarket, 1)
	assert.Equal(t, 6.49, result.PerMarket["11111111000111"].Total)
}

func TestBasketEndpoint_MissingID(t *testing.T) {
	handler, _ := newTestServer(t, &stubStore{})
	rec := doRequest(handler, http.MethodPost, "/api/basket/calculate", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "basket_id is required")
}

func TestBasketEndpoint_NotFound(t *testing.T) {
	handler, _ := newTestServer(t, &stubStore{})
	rec := doRequest(handler, http.MethodPost, "/api/basket/calculate", `{"basket_id":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBasketEndpoint_TooManyProducts(t *testing.T) {
	b := &model.Basket{ID: "big"}
	for i := 0; i <= model.MaxBasketProducts; i++ {
		b.Products = append(b.Products, model.BasketProduct{Barcode: fmt.Sprintf("%d", i)})
	}
	handler, _ := newTestServer(t, &stubStore{basket: b})
	rec := doRequest(handler, http.MethodPost, "/api/basket/calculate", `{"basket_id":"big"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
