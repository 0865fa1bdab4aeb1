package collector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cestafacil/coletor/internal/model"
	"github.com/cestafacil/coletor/pkg/sefaz"
)

// queryProduct collects every page of quotes for one product at one market
// and normalizes them. A page that fails after all retry attempts voids the
// whole product×market query: pages already collected are discarded so a
// partially paginated product never reaches the store.
func (c *Collector) queryProduct(ctx context.Context, product string, market model.Market, collectedAt time.Time, runID string, lookbackDays int) []model.PriceObservation {
	var out []model.PriceObservation

	for page := 1; ; page++ {
		resp, err := c.client.Search(ctx, sefaz.SearchRequest{
			Description:  product,
			CNPJ:         market.CNPJ,
			LookbackDays: lookbackDays,
			Page:         page,
			PerPage:      c.cfg.RecordsPerPage,
		})
		if err != nil {
			zap.L().Error("product query failed",
				zap.String("product", product),
				zap.String("market", market.Name),
				zap.Int("page", page),
				zap.Error(err),
			)
			return nil
		}

		for _, entry := range resp.Conteudo {
			if obs, ok := Normalize(entry, market, collectedAt, runID); ok {
				out = append(out, obs)
			}
		}

		zap.L().Debug("page collected",
			zap.String("product", product),
			zap.String("market", market.Name),
			zap.Int("page", page),
			zap.Int("total_pages", resp.TotalPaginas),
			zap.Int("entries", len(resp.Conteudo)),
		)

		if page >= resp.TotalPaginas {
			break
		}
	}

	return out
}
