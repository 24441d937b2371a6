package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	assert.Equal(t, Symbol{Base: "BTC", Quote: "USDT"}, Parse("btc/usdt"))
	assert.Equal(t, Symbol{Base: "BTC", Quote: "USDT"}, Parse("BTCUSDT"))
	assert.Equal(t, Symbol{Base: "ETH", Quote: "USDT"}, Parse("ETH/USDT:USDT"))
	assert.Equal(t, Symbol{}, Parse("AAPL"))
	assert.Equal(t, Symbol{}, Parse(""))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "BTCUSDT", Normalize(" btc/usdt "))
	assert.Equal(t, "BTCUSDT", Normalize("BTCUSDT"))
	assert.Equal(t, "AAPL", Normalize("aapl"))
	assert.Equal(t, "", Normalize("  "))
}

func TestForms(t *testing.T) {
	s := Parse("sol/usdc")
	assert.Equal(t, "SOL/USDC", s.Pair())
	assert.Equal(t, "SOLUSDC", s.Ticker())
}
