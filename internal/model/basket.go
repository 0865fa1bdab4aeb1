package model

import "time"

// MaxBasketProducts caps how many products a basket pricing request may carry.
const MaxBasketProducts = 25

// BasketProduct is one entry of a saved shopping basket.
type BasketProduct struct {
	Barcode string `json:"barcode"`
	Name    string `json:"name,omitempty"`
}

// Basket is a user-saved product list, priced on demand against a set of
// markets. Ownership and editing are handled by the outer CRUD layer.
type Basket struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Products  []BasketProduct `json:"products"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// BasketItemPrice is one product priced (or missed) within a market context.
type BasketItemPrice struct {
	Barcode    string  `json:"barcode"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	MarketCNPJ string  `json:"market_cnpj,omitempty"`
	MarketName string  `json:"market_name,omitempty"`
	Found      bool    `json:"found"`
}

// MarketBasketTotal is the complete-basket cost at a single market.
// Total only includes products actually found there.
type MarketBasketTotal struct {
	MarketName    string            `json:"market_name"`
	Total         float64           `json:"total"`
	Products      []BasketItemPrice `json:"products"`
	ProductsFound int               `json:"products_found"`
	TotalProducts int               `json:"total_products"`
}

// MixedMarketGroup groups mixed-basket picks by the market that won them.
type MixedMarketGroup struct {
	MarketName string            `json:"market_name"`
	Products   []BasketItemPrice `json:"products"`
	Subtotal   float64           `json:"subtotal"`
}

// MixedBasket prices each product at its cheapest market independently.
type MixedBasket struct {
	Total           float64                     `json:"total"`
	Products        []BasketItemPrice           `json:"products"`
	MarketBreakdown map[string]MixedMarketGroup `json:"market_breakdown"`
	EconomyPercent  float64                     `json:"economy_percent"`
}

// BasketResult holds the two parallel cost breakdowns of a pricing request.
type BasketResult struct {
	PerMarket          map[string]MarketBasketTotal `json:"complete_basket_results"`
	Mixed              MixedBasket                  `json:"mixed_basket_results"`
	BestSingleMarket   *MarketBasketTotal           `json:"best_complete_basket"`
	BestSingleMarketID string                       `json:"best_complete_basket_cnpj,omitempty"`
}
