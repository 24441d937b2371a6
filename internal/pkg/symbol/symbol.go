package symbol

import "strings"

// Symbol is a parsed trading pair.
type Symbol struct {
	Base  string
	Quote string
}

// Pair returns the slash form, e.g. "BTC/USDT".
func (s Symbol) Pair() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Ticker returns the concatenated exchange form, e.g. "BTCUSDT".
func (s Symbol) Ticker() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

var quoteCurrencies = []string{"USDT", "USDC", "BUSD", "TUSD", "BTC", "ETH", "BNB"}

// Parse accepts "btc/usdt", "BTCUSDT" and settlement-suffixed spellings
// like "BTC/USDT:USDT". Input with no recognizable quote currency parses
// to the zero Symbol.
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

// Normalize maps any accepted spelling to the ticker form used as the
// storage and quote key. Input that is not a pair, such as a bare equity
// name, passes through as an uppercase trim.
func Normalize(s string) string {
	if t := Parse(s).Ticker(); t != "" {
		return t
	}
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "/", ""))
}
