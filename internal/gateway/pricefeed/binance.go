package pricefeed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"

	"brokerd/internal/logger"
	"brokerd/internal/pkg/symbol"
	"brokerd/internal/types"
)

// BinanceSource reads spot 24h ticker statistics from Binance.
type BinanceSource struct {
	client *binance.Client
}

func NewBinanceSource(apiKey, apiSecret string) *BinanceSource {
	return &BinanceSource{client: binance.NewClient(apiKey, apiSecret)}
}

func (s *BinanceSource) Quote(ctx context.Context, symbol string) (types.Quote, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return types.Quote{}, fmt.Errorf("%w: empty symbol", ErrUnavailable)
	}
	stats, err := s.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return types.Quote{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, symbol, err)
	}
	if len(stats) == 0 {
		return types.Quote{}, fmt.Errorf("%w: %s: no ticker", ErrUnavailable, symbol)
	}
	q, err := statsToQuote(stats[0])
	if err != nil {
		return types.Quote{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, symbol, err)
	}
	return q, nil
}

func (s *BinanceSource) Quotes(ctx context.Context, symbols []string) (map[string]types.Quote, error) {
	out := make(map[string]types.Quote, len(symbols))
	for _, sym := range symbols {
		q, err := s.Quote(ctx, sym)
		if err != nil {
			// Partial map contract: a symbol that cannot be priced is
			// absent, not an error for the whole batch.
			logger.Warnf("pricefeed: skip %s: %v", sym, err)
			continue
		}
		out[normalizeSymbol(sym)] = q
	}
	return out, nil
}

func statsToQuote(st *binance.PriceChangeStats) (types.Quote, error) {
	last, err := strconv.ParseFloat(st.LastPrice, 64)
	if err != nil || last <= 0 {
		return types.Quote{}, fmt.Errorf("bad last price %q", st.LastPrice)
	}
	open, _ := strconv.ParseFloat(st.OpenPrice, 64)
	high, _ := strconv.ParseFloat(st.HighPrice, 64)
	low, _ := strconv.ParseFloat(st.LowPrice, 64)
	vol, _ := strconv.ParseFloat(st.Volume, 64)
	ts := time.Now()
	if st.CloseTime > 0 {
		ts = time.UnixMilli(st.CloseTime)
	}
	return types.Quote{
		Symbol:    st.Symbol,
		Price:     last,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     last,
		Volume:    vol,
		Timestamp: ts,
	}, nil
}

func normalizeSymbol(s string) string {
	return symbol.Normalize(s)
}
