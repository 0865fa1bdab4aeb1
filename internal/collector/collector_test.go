package collector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cestafacil/coletor/internal/model"
	"github.com/cestafacil/coletor/internal/progress"
	"github.com/cestafacil/coletor/pkg/sefaz"
)

func twoMarkets() []model.Market {
	return []model.Market{
		{ID: 1, Name: "Mercado A", CNPJ: "11111111000111"},
		{ID: 2, Name: "Mercado B", CNPJ: "22222222000122"},
	}
}

func TestRun_CompletesAcrossAllMarkets(t *testing.T) {
	st := &fakeStore{markets: twoMarkets()}
	c, registry := newTestCollector(st, singlePageClient(), []string{"arroz", "feijao"})

	tracker, err := c.BeginRun()
	require.NoError(t, err)

	err = c.Run(context.Background(), tracker, RunOptions{LookbackDays: 3})
	require.NoError(t, err)

	run := st.lastRun()
	require.NotNil(t, run)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 4, run.TotalRecords, "2 markets x 2 products, all unique")
	assert.NotNil(t, run.FinishedAt)

	snap := registry.Current()
	assert.Equal(t, progress.StatusCompleted, snap.Status)
	require.NotNil(t, snap.Report)
	assert.Len(t, snap.Report.MarketBreakdown, 2)
	assert.Equal(t, 4, snap.Report.TotalItemsSaved)
}

func TestRun_SelectedMarketsOnly(t *testing.T) {
	st := &fakeStore{markets: twoMarkets()}
	c, _ := newTestCollector(st, singlePageClient(), []string{"arroz"})

	tracker, err := c.BeginRun()
	require.NoError(t, err)

	err = c.Run(context.Background(), tracker, RunOptions{
		MarketCNPJs:  []string{"22222222000122", "33333333000133"},
		LookbackDays: 3,
	})
	require.NoError(t, err)

	// Only the registered market of the selection was collected.
	batches := st.upsertedBatches()
	require.Len(t, batches, 1)
	assert.Equal(t, "Mercado B", batches[0][0].MarketName)
}

func TestRun_LookbackClampedToDefault(t *testing.T) {
	var gotDays []int
	client := &fakeClient{
		SearchFunc: func(_ context.Context, req sefaz.SearchRequest) (*sefaz.SearchResponse, error) {
			gotDays = append(gotDays, req.LookbackDays)
			return &sefaz.SearchResponse{TotalPaginas: 1}, nil
		},
	}
	st := &fakeStore{markets: twoMarkets()[:1]}
	c := New(st, client, progress.NewRegistry(), []string{"arroz"}, Config{LookbackDays: 3, ProductConcurrency: 1})

	tracker, err := c.BeginRun()
	require.NoError(t, err)

	err = c.Run(context.Background(), tracker, RunOptions{LookbackDays: 30})
	require.NoError(t, err)

	require.NotEmpty(t, gotDays)
	assert.Equal(t, 3, gotDays[0])
	assert.Equal(t, 3, st.lastRun().LookbackDays)
}

func TestRun_NoMarketsFailsRun(t *testing.T) {
	st := &fakeStore{}
	c, registry := newTestCollector(st, singlePageClient(), []string{"arroz"})

	tracker, err := c.BeginRun()
	require.NoError(t, err)

	err = c.Run(context.Background(), tracker, RunOptions{LookbackDays: 3})
	require.Error(t, err)

	assert.Equal(t, model.RunStatusFailed, st.lastRun().Status)
	assert.Equal(t, progress.StatusFailed, registry.Current().Status)
}

func TestRun_CreateRunFailureMarksTrackerFailed(t *testing.T) {
	st := &fakeStore{markets: twoMarkets(), createRunErr: errors.New("db down")}
	c, registry := newTestCollector(st, singlePageClient(), []string{"arroz"})

	tracker, err := c.BeginRun()
	require.NoError(t, err)

	err = c.Run(context.Background(), tracker, RunOptions{LookbackDays: 3})
	require.Error(t, err)
	assert.Equal(t, progress.StatusFailed, registry.Current().Status)
}

func TestRun_CancelledContextFailsRun(t *testing.T) {
	st := &fakeStore{markets: twoMarkets()}
	c, registry := newTestCollector(st, singlePageClient(), []string{"arroz"})

	tracker, err := c.BeginRun()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = c.Run(ctx, tracker, RunOptions{LookbackDays: 3})
	require.Error(t, err)
	assert.Equal(t, model.RunStatusFailed, st.lastRun().Status)
	assert.Equal(t, progress.StatusFailed, registry.Current().Status)
}

func TestBeginRun_SecondRunRejectedWhileActive(t *testing.T) {
	st := &fakeStore{markets: twoMarkets()}
	c, _ := newTestCollector(st, singlePageClient(), []string{"arroz"})

	_, err := c.BeginRun()
	require.NoError(t, err)

	_, err = c.BeginRun()
	require.ErrorIs(t, err, progress.ErrRunActive)
}

func TestBeginRun_AllowedAfterCompletion(t *testing.T) {
	st := &fakeStore{markets: twoMarkets()}
	c, _ := newTestCollector(st, singlePageClient(), []string{"arroz"})

	tracker, err := c.BeginRun()
	require.NoError(t, err)
	require.NoError(t, c.Run(context.Background(), tracker, RunOptions{LookbackDays: 3}))

	_, err = c.BeginRun()
	require.NoError(t, err)
}

func TestDefaultWorklistNonEmpty(t *testing.T) {
	list := DefaultWorklist()
	assert.NotEmpty(t, list)
	seen := make(map[string]bool, len(list))
	for _, p := range list {
		assert.False(t, seen[p], "duplicate worklist entry: %s", p)
		seen[p] = true
	}
}
