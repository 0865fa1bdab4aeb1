// Package basket prices a saved product list against a set of markets,
// producing the complete-basket total per market and the cross-market
// "mixed" basket built from per-product minimum prices.
package basket

import (
	"context"
	"math"

	"github.com/rotisserie/eris"

	"github.com/cestafacil/coletor/internal/model"
	"github.com/cestafacil/coletor/internal/store"
)

// ErrTooManyProducts rejects baskets over the pricing limit.
var ErrTooManyProducts = eris.Errorf("basket has more than %d products", model.MaxBasketProducts)

// ErrBasketNotFound signals an unknown basket ID.
var ErrBasketNotFound = eris.New("basket not found")

// Request identifies what to price: a saved basket against a set of markets.
type Request struct {
	BasketID string   `json:"basket_id"`
	CNPJs    []string `json:"cnpjs"`
}

// Engine computes basket pricing from persisted price observations.
type Engine struct {
	store store.Store
}

// NewEngine creates a basket pricing engine.
func NewEngine(st store.Store) *Engine {
	return &Engine{store: st}
}

// Price loads the basket and prices it against the requested markets. The
// size limit is enforced before any pricing work; an empty basket yields an
// empty result, not an error.
func (e *Engine) Price(ctx context.Context, req Request) (*model.BasketResult, error) {
	b, err := e.store.GetBasket(ctx, req.BasketID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBasketNotFound
	}
	if len(b.Products) > model.MaxBasketProducts {
		return nil, ErrTooManyProducts
	}
	if len(b.Products) == 0 {
		return emptyResult(), nil
	}

	barcodes := make([]string, 0, len(b.Products))
	for _, p := range b.Products {
		barcodes = append(barcodes, p.Barcode)
	}

	rows, err := e.store.BasketPrices(ctx, barcodes, req.CNPJs)
	if err != nil {
		return nil, eris.Wrap(err, "basket: fetch prices")
	}

	return Compute(b.Products, rows), nil
}

func emptyResult() *model.BasketResult {
	return &model.BasketResult{
		PerMarket: map[string]model.MarketBasketTotal{},
		Mixed: model.MixedBasket{
			Products:        []model.BasketItemPrice{},
			MarketBreakdown: map[string]model.MixedMarketGroup{},
		},
	}
}

// marketQuotes is the cheapest quote per barcode seen within one market.
type marketQuotes struct {
	name   string
	prices map[string]float64
}

// Compute aggregates fetched price rows into the two parallel breakdowns.
// It is pure so the tie-break and rounding rules are testable without a
// store. Accumulation stays in unrounded floats; totals are rounded only at
// the output boundary.
func Compute(products []model.BasketProduct, rows []model.PriceObservation) *model.BasketResult {
	if len(rows) == 0 {
		return emptyResult()
	}

	names := make(map[string]string)   // barcode -> display name
	perMarket := make(map[string]*marketQuotes)
	// barcode -> market cnpj -> cheapest observed price there
	perProduct := make(map[string]map[string]float64)
	marketNames := make(map[string]string)

	for _, row := range rows {
		if _, ok := names[row.Barcode]; !ok && row.ProductName != "" {
			names[row.Barcode] = row.ProductName
		}
		marketNames[row.MarketCNPJ] = row.MarketName

		mq := perMarket[row.MarketCNPJ]
		if mq == nil {
			mq = &marketQuotes{name: row.MarketName, prices: make(map[string]float64)}
			perMarket[row.MarketCNPJ] = mq
		}
		// Duplicate rows for the same product in a market keep the minimum.
		if cur, ok := mq.prices[row.Barcode]; !ok || row.Price < cur {
			mq.prices[row.Barcode] = row.Price
		}

		pp := perProduct[row.Barcode]
		if pp == nil {
			pp = make(map[string]float64)
			perProduct[row.Barcode] = pp
		}
		if cur, ok := pp[row.MarketCNPJ]; !ok || row.Price < cur {
			pp[row.MarketCNPJ] = row.Price
		}
	}

	result := &model.BasketResult{
		PerMarket: make(map[string]model.MarketBasketTotal, len(perMarket)),
		Mixed: model.MixedBasket{
			Products:        make([]model.BasketItemPrice, 0, len(products)),
			MarketBreakdown: make(map[string]model.MixedMarketGroup),
		},
	}

	// Complete basket per market: sum of the cheapest quote per product,
	// counting only products found there.
	for cnpj, mq := range perMarket {
		total := 0.0
		items := make([]model.BasketItemPrice, 0, len(products))
		found := 0
		for _, p := range products {
			price, ok := mq.prices[p.Barcode]
			item := model.BasketItemPrice{
				Barcode: p.Barcode,
				Name:    displayName(names, p),
				Found:   ok,
			}
			if ok {
				item.Price = price
				total += price
				found++
			}
			items = append(items, item)
		}
		result.PerMarket[cnpj] = model.MarketBasketTotal{
			MarketName:    mq.name,
			Total:         round2(total),
			Products:      items,
			ProductsFound: found,
			TotalProducts: len(products),
		}
	}

	// Mixed basket: cheapest market per product, independently.
	mixedTotal := 0.0
	for _, p := range products {
		quotes := perProduct[p.Barcode]
		if len(quotes) == 0 {
			result.Mixed.Products = append(result.Mixed.Products, model.BasketItemPrice{
				Barcode:    p.Barcode,
				Name:       displayName(names, p),
				MarketName: "Não encontrado",
			})
			continue
		}

		bestPrice := math.Inf(1)
		bestCNPJ := ""
		for cnpj, price := range quotes {
			if price < bestPrice {
				bestPrice = price
				bestCNPJ = cnpj
			}
		}

		item := model.BasketItemPrice{
			Barcode:    p.Barcode,
			Name:       displayName(names, p),
			Price:      bestPrice,
			MarketCNPJ: bestCNPJ,
			MarketName: marketNames[bestCNPJ],
			Found:      true,
		}
		mixedTotal += bestPrice
		result.Mixed.Products = append(result.Mixed.Products, item)

		group := result.Mixed.MarketBreakdown[bestCNPJ]
		group.MarketName = marketNames[bestCNPJ]
		group.Products = append(group.Products, item)
		group.Subtotal += bestPrice
		result.Mixed.MarketBreakdown[bestCNPJ] = group
	}
	result.Mixed.Total = round2(mixedTotal)

	// Best complete basket: lowest total among markets that found at least
	// one product; the first minimum encountered wins ties.
	bestTotal := math.Inf(1)
	for cnpj, mt := range result.PerMarket {
		if mt.ProductsFound == 0 {
			continue
		}
		if mt.Total < bestTotal {
			bestTotal = mt.Total
			best := mt
			result.BestSingleMarket = &best
			result.BestSingleMarketID = cnpj
		}
	}

	if result.BestSingleMarket != nil && result.Mixed.Total > 0 {
		economy := (result.BestSingleMarket.Total - result.Mixed.Total) / result.BestSingleMarket.Total * 100
		result.Mixed.EconomyPercent = math.Round(economy*10) / 10
	}

	return result
}

func displayName(names map[string]string, p model.BasketProduct) string {
	if n, ok := names[p.Barcode]; ok {
		return n
	}
	if p.Name != "" {
		return p.Name
	}
	return "Produto não encontrado"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
