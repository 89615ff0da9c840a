package model

import "time"

// ========== Market Models ==========

// Instrument 可交易市场（永续合约），由索引和符号标识
type Instrument struct {
	Index  int    `json:"index" toml:"index"`
	Symbol string `json:"symbol" toml:"symbol"` // e.g. SOL
}

// PriceSample 某个市场最近一次观察到的价格
type PriceSample struct {
	Index      int       `json:"index"`
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// ========== Position Models ==========

// PositionStatus 持仓状态
type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionPartial PositionStatus = "PARTIAL"
	PositionClosed  PositionStatus = "CLOSED"
)

// Position 配对持仓（做多一个市场、做空另一个市场）
// 由外部持久化层拥有和修改，这里只读
type Position struct {
	ID          string         `json:"id"`
	Owner       string         `json:"owner"`       // 持有者身份（钱包地址）
	LongIndex   int            `json:"long_index"`  // 做多腿的市场索引
	ShortIndex  int            `json:"short_index"` // 做空腿的市场索引
	EntryRatio  float64        `json:"entry_ratio"` // 开仓时 long价格 / short价格
	Capital     float64        `json:"capital"`     // USD
	Leverage    float64        `json:"leverage"`
	LongWeight  float64        `json:"long_weight"`
	ShortWeight float64        `json:"short_weight"`
	Status      PositionStatus `json:"status"`
}

// References 持仓的任意一条腿是否引用了该市场
func (p Position) References(index int) bool {
	return p.LongIndex == index || p.ShortIndex == index
}

// PnLUpdate 推送给订阅者的未实现盈亏增量，只在内存中存在
type PnLUpdate struct {
	ID                   string  `json:"id"`
	UnrealizedPnl        float64 `json:"unrealizedPnl"`
	UnrealizedPnlPercent float64 `json:"unrealizedPnlPercent"`
	CurrentRatio         float64 `json:"currentRatio"`
	CurrentLongPrice     float64 `json:"currentLongPrice"`
	CurrentShortPrice    float64 `json:"currentShortPrice"`
}
