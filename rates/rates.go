package rates

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/ristretto"
	gresty "github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/ethereum/go-ethereum/log"

	"github.com/openpay-labs/payment-monitor/config"
)

const cacheKey = "btc-usd"

var ErrDisabled = errors.New("rate source disabled")

type rateResponse struct {
	Usd decimal.Decimal `json:"usd"`
}

// Source is a read-only USD rate lookup, memoized so settlement
// recording does not hit the rate endpoint on every observation.
type Source struct {
	client *gresty.Client
	cache  *ristretto.Cache[string, decimal.Decimal]
	cfg    config.RatesConfig
}

func NewSource(cfg config.RatesConfig) (*Source, error) {
	cache, err := ristretto.NewCache[string, decimal.Decimal](&ristretto.Config[string, decimal.Decimal]{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create rates cache: %w", err)
	}
	client := gresty.New()
	client.SetBaseURL(cfg.Endpoint)
	return &Source{client: client, cache: cache, cfg: cfg}, nil
}

// USDRate returns the current BTC/USD rate. Callers treat any error as
// "rate unavailable" and proceed without one.
func (s *Source) USDRate(ctx context.Context) (decimal.Decimal, error) {
	if s.cfg.Endpoint == "" {
		return decimal.Zero, ErrDisabled
	}
	if rate, ok := s.cache.Get(cacheKey); ok {
		return rate, nil
	}

	var reply rateResponse
	res, err := s.client.R().
		SetContext(ctx).
		SetResult(&reply).
		Get("/v1/rates/btc")
	if err != nil {
		log.Warn("rate lookup fail", "err", err)
		return decimal.Zero, err
	}
	if !res.IsSuccess() {
		return decimal.Zero, fmt.Errorf("rate endpoint returned %d", res.StatusCode())
	}

	s.cache.SetWithTTL(cacheKey, reply.Usd, 1, s.cfg.TTL)
	s.cache.Wait()
	return reply.Usd, nil
}
