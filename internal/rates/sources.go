package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Source resolves the base fiat-per-stablecoin rate from one upstream
// provider. Sources are tried in configuration order; the first success
// wins.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (decimal.Decimal, error)
}

// Registry constructs sources from configuration.
type Registry struct {
	HTTPClient *http.Client
}

func NewRegistry() *Registry {
	return &Registry{HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

func (r *Registry) Build(name, typ, endpoint, apiKey string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "aggregator":
		return &aggregatorSource{name: label(name, "aggregator"), client: r.client(), endpoint: endpoint, apiKey: apiKey}, nil
	case "coingecko":
		return &coinGeckoSource{name: label(name, "coingecko"), client: r.client(), endpoint: endpoint}, nil
	case "spot":
		return &spotSource{name: label(name, "spot"), client: r.client(), endpoint: endpoint, apiKey: apiKey}, nil
	default:
		return nil, fmt.Errorf("unknown rate source type %q", typ)
	}
}

func (r *Registry) client() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func label(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed != "" {
		return trimmed
	}
	return fallback
}

// aggregatorSource queries the primary liquidity-aggregator API, which
// returns the executable rate for the configured pair.
type aggregatorSource struct {
	name     string
	client   *http.Client
	endpoint string
	apiKey   string
}

func (s *aggregatorSource) Name() string { return s.name }

func (s *aggregatorSource) Fetch(ctx context.Context) (decimal.Decimal, error) {
	var resp struct {
		Data struct {
			Rate json.Number `json:"rate"`
		} `json:"data"`
	}
	if err := getJSON(ctx, s.client, s.endpoint, s.apiKey, &resp); err != nil {
		return decimal.Zero, err
	}
	return parseRate(resp.Data.Rate)
}

type coinGeckoSource struct {
	name     string
	client   *http.Client
	endpoint string
}

func (s *coinGeckoSource) Name() string { return s.name }

func (s *coinGeckoSource) Fetch(ctx context.Context) (decimal.Decimal, error) {
	var resp map[string]map[string]json.Number
	if err := getJSON(ctx, s.client, s.endpoint, "", &resp); err != nil {
		return decimal.Zero, err
	}
	for _, prices := range resp {
		for _, price := range prices {
			return parseRate(price)
		}
	}
	return decimal.Zero, fmt.Errorf("%s: empty response", s.name)
}

type spotSource struct {
	name     string
	client   *http.Client
	endpoint string
	apiKey   string
}

func (s *spotSource) Name() string { return s.name }

func (s *spotSource) Fetch(ctx context.Context) (decimal.Decimal, error) {
	var resp struct {
		Rate json.Number `json:"rate"`
	}
	if err := getJSON(ctx, s.client, s.endpoint, s.apiKey, &resp); err != nil {
		return decimal.Zero, err
	}
	return parseRate(resp.Rate)
}

func parseRate(raw json.Number) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse rate %q: %w", raw.String(), err)
	}
	if rate.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive rate %s", rate)
	}
	return rate, nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint, apiKey string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("rate http status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("rate http status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
