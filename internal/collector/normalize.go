package collector

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/cestafacil/coletor/internal/model"
	"github.com/cestafacil/coletor/pkg/sefaz"
)

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName lowercases, trims, and strips diacritics from a product
// name so searches and synthesized identifiers are accent-insensitive.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if out, _, err := transform.String(stripAccents, s); err == nil {
		s = out
	}
	return s
}

var weightWords = []string{"kg", "quilo", "a granel"}

// ClassifyUnit decides whether a product is sold by weight or by unit.
// The source unit string "kg" is decisive; otherwise weight keywords in
// either the product name or the unit string win.
func ClassifyUnit(productName, sourceUnit string) model.UnitClass {
	name := strings.ToLower(productName)
	unit := strings.ToLower(sourceUnit)
	if unit == "kg" {
		return model.UnitWeight
	}
	for _, w := range weightWords {
		if strings.Contains(name, w) || strings.Contains(unit, w) {
			return model.UnitWeight
		}
	}
	return model.UnitCount
}

// ContentID derives the deduplication key for an observation: the first 16
// hex characters of SHA-1 over the pipe-joined identity fields. Distinct raw
// entries that agree on all four fields collapse to one stored row.
func ContentID(cnpj, externalID string, price float64, lastSaleAt string) string {
	joined := cnpj + "|" + externalID + "|" + strconv.FormatFloat(price, 'f', -1, 64) + "|" + lastSaleAt
	sum := sha1.Sum([]byte(joined))
	return hex.EncodeToString(sum[:])[:16]
}

// Normalize converts one raw API entry into a canonical PriceObservation.
// Entries without a sale price carry no information and are rejected
// (ok=false) before any hashing happens.
func Normalize(entry sefaz.Entry, market model.Market, collectedAt time.Time, runID string) (model.PriceObservation, bool) {
	venda := entry.Produto.Venda
	if venda.ValorVenda == nil {
		return model.PriceObservation{}, false
	}

	name := entry.Produto.Descricao
	sourceUnit := entry.Produto.UnidadeMedida
	normalized := NormalizeName(name)

	externalID := entry.Produto.GTIN
	if externalID == "" {
		externalID = normalized + "_" + sourceUnit
	}

	obs := model.PriceObservation{
		MarketCNPJ:     market.CNPJ,
		MarketName:     market.Name,
		ProductName:    name,
		NormalizedName: normalized,
		ExternalID:     externalID,
		Barcode:        entry.Produto.GTIN,
		Price:          *venda.ValorVenda,
		Unit:           ClassifyUnit(name, sourceUnit),
		SourceUnit:     sourceUnit,
		LastSaleAt:     venda.DataVenda,
		CollectedAt:    collectedAt,
		RunID:          runID,
	}
	obs.ContentID = ContentID(obs.MarketCNPJ, obs.ExternalID, obs.Price, obs.LastSaleAt)
	return obs, true
}
