package pricefeed

import (
	"context"
	"fmt"
	"time"

	"brokerd/internal/pkg/circuit"
	"brokerd/internal/types"
)

// GuardedSource fails fast while the upstream feed is misbehaving, so a
// flapping exchange API does not stall every queue worker on timeouts.
type GuardedSource struct {
	src     Source
	breaker *circuit.Breaker
}

func NewGuardedSource(src Source, threshold int, cooldown time.Duration) *GuardedSource {
	return &GuardedSource{
		src:     src,
		breaker: circuit.New("pricefeed", threshold, cooldown),
	}
}

func (g *GuardedSource) Quote(ctx context.Context, symbol string) (types.Quote, error) {
	if !g.breaker.Allow() {
		return types.Quote{}, fmt.Errorf("%w: feed circuit open", ErrUnavailable)
	}
	q, err := g.src.Quote(ctx, symbol)
	if err != nil {
		g.breaker.Failure()
		return types.Quote{}, err
	}
	g.breaker.Success()
	return q, nil
}

func (g *GuardedSource) Quotes(ctx context.Context, symbols []string) (map[string]types.Quote, error) {
	out := make(map[string]types.Quote, len(symbols))
	for _, sym := range symbols {
		q, err := g.Quote(ctx, sym)
		if err != nil {
			continue
		}
		out[normalizeSymbol(sym)] = q
	}
	return out, nil
}
