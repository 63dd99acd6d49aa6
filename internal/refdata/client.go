// Package refdata fetches the instrument universe from the reference
// data API: bearer-token auth, JSON pages with a results array, and an
// opaque next_url cursor.
package refdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"barsync/internal/domain"
	"barsync/internal/util"
)

const pageLimit = 1000

// Client is a reference API client. Safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *util.RateLimiter
}

// New builds a Client. ratePerMin > 0 applies a token-bucket limit in
// front of every page request.
func New(baseURL, apiKey string, ratePerMin int) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	if ratePerMin > 0 {
		c.limiter = util.NewRateLimiter(ratePerMin)
	}
	return c
}

// --- wire shapes ---

// tickersResponse is one page of the reference tickers endpoint.
type tickersResponse struct {
	Results []tickerResult `json:"results"`
	NextURL string         `json:"next_url"`
}

type tickerResult struct {
	Ticker         string  `json:"ticker"`
	Name           string  `json:"name"`
	Market         string  `json:"market"`
	Type           string  `json:"type"`
	Active         bool    `json:"active"`
	MarketCap      float64 `json:"market_cap"`
	SICDescription string  `json:"sic_description"`
}

func (t tickerResult) toInstrument() domain.Instrument {
	kind := domain.InstrumentStock
	if strings.EqualFold(t.Type, "ETF") {
		kind = domain.InstrumentETF
	}
	return domain.Instrument{
		Symbol:    strings.ToUpper(strings.TrimSpace(t.Ticker)),
		Name:      t.Name,
		Kind:      kind,
		Sector:    t.SICDescription,
		MarketCap: t.MarketCap,
	}
}

// --- operations ---

// FetchAllActive pages through every active ticker in the given market
// and returns the accumulated list. Transient HTTP failures abort with
// a wrapped error; discovery is best-effort and carries no retry loop.
func (c *Client) FetchAllActive(ctx context.Context, market string) ([]domain.Instrument, error) {
	params := url.Values{}
	params.Set("market", market)
	params.Set("active", "true")
	params.Set("limit", fmt.Sprint(pageLimit))

	return c.fetchPages(ctx, params, 0)
}

// FetchTopByMarketCap pages the reference API sorted by descending
// market cap and stops once limit results are accumulated.
func (c *Client) FetchTopByMarketCap(ctx context.Context, kind domain.InstrumentKind, limit int) ([]domain.Instrument, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("sort", "market_cap")
	params.Set("order", "desc")
	params.Set("limit", fmt.Sprint(pageLimit))
	switch kind {
	case domain.InstrumentETF:
		params.Set("type", "ETF")
	default:
		params.Set("type", "CS")
	}

	return c.fetchPages(ctx, params, limit)
}

// fetchPages follows the next_url cursor until it is absent or max
// results have been accumulated (max 0 means unbounded).
func (c *Client) fetchPages(ctx context.Context, params url.Values, max int) ([]domain.Instrument, error) {
	next := c.baseURL + "/v3/reference/tickers?" + params.Encode()

	var out []domain.Instrument
	for next != "" {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		page, err := c.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, r := range page.Results {
			inst := r.toInstrument()
			if inst.Symbol == "" {
				continue
			}
			out = append(out, inst)
			if max > 0 && len(out) >= max {
				return out, nil
			}
		}
		next = page.NextURL
		// Some providers return a relative cursor.
		if next != "" && strings.HasPrefix(next, "/") {
			next = c.baseURL + next
		}
	}
	return out, nil
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (*tickersResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building reference request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reference API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reference API returned status %d for %s", resp.StatusCode, pageURL)
	}

	var page tickersResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding reference response: %w", err)
	}
	return &page, nil
}
