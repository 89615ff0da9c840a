package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuffixConverter(t *testing.T) {
	c := NewSuffixConverter("-perp")

	assert.Equal(t, "-PERP", c.SymbolSuffix())
	assert.Equal(t, "SOL-PERP", c.Coin2Symbol("sol"))
	assert.Equal(t, "SOL-PERP", c.Coin2Symbol("SOL-PERP"))
	assert.Equal(t, "", c.Coin2Symbol("  "))
	assert.Equal(t, "BTC", c.Symbol2Coin("btc-perp"))
	assert.Equal(t, "ETH", c.Symbol2Coin("ETH"))
}

func TestSuffixConverterEmptySuffix(t *testing.T) {
	c := NewSuffixConverter("")
	assert.Equal(t, "SOL", c.Coin2Symbol("sol"))
	assert.Equal(t, "SOL", c.Symbol2Coin("sol"))
}
