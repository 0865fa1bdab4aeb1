package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cestafacil/coletor/internal/model"
	"github.com/cestafacil/coletor/pkg/sefaz"
)

type fakeClient struct {
	SearchFunc func(ctx context.Context, req sefaz.SearchRequest) (*sefaz.SearchResponse, error)
}

func (f *fakeClient) Search(ctx context.Context, req sefaz.SearchRequest) (*sefaz.SearchResponse, error) {
	return f.SearchFunc(ctx, req)
}

// singlePageClient answers every product query with one page of one priced
// entry, unique per product×market.
func singlePageClient() *fakeClient {
	return &fakeClient{
		SearchFunc: func(_ context.Context, req sefaz.SearchRequest) (*sefaz.SearchResponse, error) {
			price := 9.99
			return &sefaz.SearchResponse{
				TotalPaginas: 1,
				Conteudo: []sefaz.Entry{
					{Produto: sefaz.Produto{
						Descricao:     req.Description,
						UnidadeMedida: "UN",
						GTIN:          fmt.Sprintf("789%s%s", req.CNPJ, req.Description),
						Venda:         sefaz.Venda{ValorVenda: &price, DataVenda: "2026-08-20T10:00:00"},
					}},
				},
			}, nil
		},
	}
}

type fakeStore struct {
	mu sync.Mutex

	markets  []model.Market
	runs     []*model.CollectionRun
	upserted [][]model.PriceObservation

	createRunErr error
	upsertErr    error
	listErr      error
}

func (s *fakeStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.markets, nil
}

func (s *fakeStore) FilterMarkets(_ context.Context, cnpjs []string) ([]model.Market, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
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

func (s *fakeStore) CreateRun(_ context.Context, requested []string, lookbackDays int) (*model.CollectionRun, error) {
	if s.createRunErr != nil {
		return nil, s.createRunErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run := &model.CollectionRun{
		ID:               fmt.Sprintf("run-%d", len(s.runs)+1),
		Status:           model.RunStatusRunning,
		RequestedMarkets: requested,
		LookbackDays:     lookbackDays,
		StartedAt:        time.Now().UTC(),
	}
	s.runs = append(s.runs, run)
	return run, nil
}

func (s *fakeStore) FinishRun(_ context.Context, runID string, status model.RunStatus, totalRecords int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range s.runs {
		if run.ID == runID {
			run.Status = status
			run.TotalRecords = totalRecords
			now := time.Now().UTC()
			run.FinishedAt = &now
			return nil
		}
	}
	return fmt.Errorf("run %s not found", runID)
}

func (s *fakeStore) ListRuns(_ context.Context, limit int) ([]model.CollectionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CollectionRun
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *s.runs[i])
	}
	return out, nil
}

func (s *fakeStore) UpsertObservations(_ context.Context, obs []model.PriceObservation) (int64, error) {
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted = append(s.upserted, obs)
	return int64(len(obs)), nil
}

func (s *fakeStore) BasketPrices(_ context.Context, _, _ []string) ([]model.PriceObservation, error) {
	return nil, nil
}

func (s *fakeStore) GetBasket(_ context.Context, _ string) (*model.Basket, error) {
	return nil, nil
}

func (s *fakeStore) Migrate(_ context.Context) error { return nil }
func (s *fakeStore) Close() error                    { return nil }

func (s *fakeStore) upsertedBatches() [][]model.PriceObservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserted
}

func (s *fakeStore) lastRun() *model.CollectionRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) == 0 {
		return nil
	}
	return s.runs[len(s.runs)-1]
}
