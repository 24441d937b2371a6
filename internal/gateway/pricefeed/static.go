package pricefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"brokerd/internal/types"
)

// StaticSource serves fixed prices from configuration. It backs paper
// setups and tests; SetPrice allows scripted price movement.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]float64
	nowFn  func() time.Time
}

func NewStaticSource(prices map[string]float64) *StaticSource {
	cp := make(map[string]float64, len(prices))
	for sym, p := range prices {
		cp[normalizeSymbol(sym)] = p
	}
	return &StaticSource{prices: cp, nowFn: time.Now}
}

func (s *StaticSource) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	s.prices[normalizeSymbol(symbol)] = price
	s.mu.Unlock()
}

func (s *StaticSource) Quote(_ context.Context, symbol string) (types.Quote, error) {
	s.mu.RLock()
	price, ok := s.prices[normalizeSymbol(symbol)]
	s.mu.RUnlock()
	if !ok || price <= 0 {
		return types.Quote{}, fmt.Errorf("%w: %s", ErrUnavailable, symbol)
	}
	return types.Quote{
		Symbol:    normalizeSymbol(symbol),
		Price:     price,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    0,
		Timestamp: s.nowFn(),
	}, nil
}

func (s *StaticSource) Quotes(ctx context.Context, symbols []string) (map[string]types.Quote, error) {
	out := make(map[string]types.Quote, len(symbols))
	for _, sym := range symbols {
		if q, err := s.Quote(ctx, sym); err == nil {
			out[normalizeSymbol(sym)] = q
		}
	}
	return out, nil
}
