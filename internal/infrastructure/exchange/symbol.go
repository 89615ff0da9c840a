package exchange

import (
	"strings"
)

// SymbolConverter 市场名称与币种之间的转换
type SymbolConverter interface {
	// Symbol2Coin 例: SOL-PERP -> SOL
	Symbol2Coin(symbol string) string

	// Coin2Symbol 例: SOL -> SOL-PERP
	Coin2Symbol(coin string) string

	SymbolSuffix() string
}

// SuffixConverter 基于固定后缀的转换器，Drift 永续市场使用 -PERP
type SuffixConverter struct {
	suffix string
}

func NewSuffixConverter(suffix string) *SuffixConverter {
	return &SuffixConverter{suffix: strings.ToUpper(strings.TrimSpace(suffix))}
}

func (c *SuffixConverter) SymbolSuffix() string {
	return c.suffix
}

func (c *SuffixConverter) Symbol2Coin(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if c.suffix == "" {
		return sym
	}
	return strings.TrimSuffix(sym, c.suffix)
}

// Coin2Symbol 已带后缀的输入原样返回
func (c *SuffixConverter) Coin2Symbol(coin string) string {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	if coin == "" {
		return ""
	}
	if strings.HasSuffix(coin, c.suffix) {
		return coin
	}
	return coin + c.suffix
}
