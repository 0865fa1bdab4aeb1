// Package sefaz provides a client for the Economiza Alagoas public
// price-disclosure API.
package sefaz

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/cestafacil/coletor/internal/resilience"
)

// DefaultBaseURL is the public endpoint of the product price search.
const DefaultBaseURL = "http://api.sefaz.al.gov.br/sfz-economiza-alagoas-api/api/public/produto/pesquisa"

// Client defines the price search operation.
type Client interface {
	// Search fetches one page of price quotes for a product description at
	// a single establishment. Retries with exponential backoff on non-200
	// responses and transport errors.
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest identifies one page of a product×market query.
type SearchRequest struct {
	Description  string // product search term; sent uppercased
	CNPJ         string // establishment tax ID
	LookbackDays int    // sales history window the API considers
	Page         int    // 1-based
	PerPage      int
}

// SearchResponse is the parsed API response page.
type SearchResponse struct {
	Conteudo     []Entry `json:"conteudo"`
	TotalPaginas int     `json:"totalPaginas"`
}

// Entry is one raw price quote of a response page.
type Entry struct {
	Produto Produto `json:"produto"`
}

// Produto carries the product and sale fields of an entry.
type Produto struct {
	Descricao     string `json:"descricao"`
	UnidadeMedida string `json:"unidadeMedida"`
	GTIN          string `json:"gtin"`
	Venda         Venda  `json:"venda"`
}

// Venda holds the sale price and timestamp. ValorVenda is a pointer because
// the API emits entries without a price; those are dropped downstream.
type Venda struct {
	ValorVenda *float64 `json:"valorVenda"`
	DataVenda  string   `json:"dataVenda"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

// WithPacing sets the minimum interval between request attempts. The limiter
// is shared across all concurrent callers of this client, which is the only
// throttle keeping the whole run under the upstream rate limit.
func WithPacing(interval time.Duration) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a client authenticated with the given AppToken.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout: 45 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Every(300*time.Millisecond), 1),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wire format of the POST body.
type searchBody struct {
	Produto struct {
		Descricao string `json:"descricao"`
	} `json:"produto"`
	Estabelecimento struct {
		Individual struct {
			CNPJ string `json:"cnpj"`
		} `json:"individual"`
	} `json:"estabelecimento"`
	Dias               int `json:"dias"`
	Pagina             int `json:"pagina"`
	RegistrosPorPagina int `json:"registrosPorPagina"`
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var body searchBody
	body.Produto.Descricao = strings.ToUpper(req.Description)
	body.Estabelecimento.Individual.CNPJ = req.CNPJ
	body.Dias = req.LookbackDays
	body.Pagina = req.Page
	body.RegistrosPorPagina = req.PerPage

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "sefaz: marshal request")
	}

	retry := c.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("sefaz", "search")
	}

	return resilience.DoVal(ctx, retry, func(ctx context.Context) (*SearchResponse, error) {
		return c.searchOnce(ctx, payload)
	})
}

func (c *httpClient) searchOnce(ctx context.Context, payload []byte) (*SearchResponse, error) {
	// Pacing applies to every attempt, retried or not.
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "sefaz: pacing wait")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "sefaz: create request")
	}
	httpReq.Header.Set("AppToken", c.token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "sefaz: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "sefaz: read response"), resp.StatusCode)
	}

	// The upstream API answers errors with assorted statuses; the original
	// pipeline retried all of them, so every non-200 counts as transient.
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.NewTransientError(
			eris.Errorf("sefaz: status %d: %s", resp.StatusCode, string(raw)),
			resp.StatusCode,
		)
	}

	var result SearchResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, eris.Wrap(err, "sefaz: unmarshal response")
	}
	if result.TotalPaginas < 1 {
		result.TotalPaginas = 1
	}

	return &result, nil
}
