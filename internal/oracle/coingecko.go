package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/custos-labs/everro/internal/metrics"
	"github.com/custos-labs/everro/internal/models"
	"github.com/custos-labs/everro/pkg/logger"
)

const priceRequestTimeout = 10 * time.Second

// simplePriceResponse represents the response from the simple-price endpoint
type simplePriceResponse struct {
	Ethereum struct {
		USD float64 `json:"usd"`
	} `json:"ethereum"`
}

// CoinGecko looks up the USD price of the native currency. Any failure
// degrades to a zero-price fallback quote; a positive threshold then
// suppresses native triggering until the feed recovers, and the metric makes
// the degraded state observable.
type CoinGecko struct {
	logger  *logger.Logger
	metrics *metrics.Metrics
	baseURL string
	client  *http.Client
}

// NewCoinGecko creates a new CoinGecko price source
func NewCoinGecko(logger *logger.Logger, metrics *metrics.Metrics, baseURL string) *CoinGecko {
	return &CoinGecko{
		logger:  logger,
		metrics: metrics,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: priceRequestTimeout,
		},
	}
}

func (c *CoinGecko) NativeUSD(ctx context.Context) models.PriceQuote {
	price, err := c.fetch(ctx)
	if err != nil {
		c.logger.Warnw("price feed unavailable, degrading to zero price", "error", err)
		c.metrics.PriceFallbacks.Inc()
		return models.PriceQuote{USD: decimal.Zero, Fallback: true}
	}
	return models.PriceQuote{USD: price}
}

func (c *CoinGecko) fetch(ctx context.Context) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/api/v3/simple/price?ids=ethereum&vs_currencies=usd", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build price request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return decimal.Zero, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var priceResp simplePriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&priceResp); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode price response: %w", err)
	}

	return decimal.NewFromFloat(priceResp.Ethereum.USD), nil
}
