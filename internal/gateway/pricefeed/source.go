// Package pricefeed exposes the market price capability the execution core
// depends on. The core only ever sees the Source interface; staleness and
// transport concerns live behind it.
package pricefeed

import (
	"context"
	"errors"

	"brokerd/internal/types"
)

// ErrUnavailable marks a genuine feed failure, distinct from a condition
// that simply has not been met yet.
var ErrUnavailable = errors.New("price unavailable")

// Source answers last-price lookups. Quotes returns a partial map: symbols
// the source cannot price are simply absent, never an error.
type Source interface {
	Quote(ctx context.Context, symbol string) (types.Quote, error)
	Quotes(ctx context.Context, symbols []string) (map[string]types.Quote, error)
}
