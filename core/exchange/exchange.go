// Package exchange converts amounts between currencies using a live rate table.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"math"
	"strings"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
	"github.com/tuntun1337/epay-to-stripe/config"
)

var (
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrRateFetch           = errors.New("fetching exchange rates")
	ErrAmountRange         = errors.New("amount out of range")
)

var (
	hundred  = decimal.NewFromInt(100)
	maxMinor = decimal.NewFromInt(math.MaxInt64)
)

type Client struct {
	url    string
	source string
	http   *http.Client
	cache  *expirable.LRU[string, map[string]decimal.Decimal]
}

func New(cfg config.Rates) *Client {
	c := &Client{
		url:    strings.TrimRight(cfg.URL, "/"),
		source: strings.ToUpper(cfg.Source),
		http:   &http.Client{Timeout: cfg.Timeout},
	}

	if cfg.CacheTTL > 0 {
		c.cache = expirable.NewLRU[string, map[string]decimal.Decimal](8, nil, cfg.CacheTTL)
	}
	return c
}

// Rates returns the table of rates from the source currency keyed by
// upper-case currency code.
func (c *Client) Rates(ctx context.Context) (map[string]decimal.Decimal, error) {
	if c.cache != nil {
		if r, ok := c.cache.Get(c.source); ok {
			return r, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/"+c.source, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRateFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRateFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %s", ErrRateFetch, resp.Status)
	}

	var body struct {
		Rates map[string]decimal.Decimal `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding body: %v", ErrRateFetch, err)
	}
	if len(body.Rates) == 0 {
		return nil, fmt.Errorf("%w: empty rate table", ErrRateFetch)
	}

	if c.cache != nil {
		c.cache.Add(c.source, body.Rates)
	}
	return body.Rates, nil
}

func (c *Client) Convert(ctx context.Context, amount decimal.Decimal, target string) (decimal.Decimal, error) {
	target = strings.ToUpper(target)

	rates, err := c.Rates(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	rate, ok := rates[target]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, target)
	}

	return amount.Mul(rate), nil
}

// MinorUnits turns an amount into the smallest currency unit, rounding
// half to even. Amounts that do not fit an int64 are rejected.
func MinorUnits(amount decimal.Decimal) (int64, error) {
	n := amount.Mul(hundred).RoundBank(0)
	if n.IsNegative() || n.GreaterThan(maxMinor) {
		return 0, fmt.Errorf("%w: %s", ErrAmountRange, amount)
	}
	return n.IntPart(), nil
}
