package service

import (
	"math"

	"github.com/shopspring/decimal"

	"pnlrelay/internal/domain/model"
)

const (
	moneyPlaces = 2
	ratioPlaces = 6
)

// ComputePnL 根据两条腿的当前价格计算配对持仓的未实现盈亏
//
//	currentRatio = long / short
//	ratioChange  = (currentRatio - entryRatio) / entryRatio
//	pnl          = capital * leverage * ratioChange
//	pnlPercent   = pnl / capital * 100
//
// 任一价格缺失（<=0、NaN、Inf）或持仓数据异常时返回 false。
func ComputePnL(pos model.Position, longPrice, shortPrice float64) (model.PnLUpdate, bool) {
	if !positive(longPrice) || !positive(shortPrice) {
		return model.PnLUpdate{}, false
	}
	if !positive(pos.EntryRatio) || !positive(pos.Capital) || !finite(pos.Leverage) {
		return model.PnLUpdate{}, false
	}

	ratio := longPrice / shortPrice
	change := (ratio - pos.EntryRatio) / pos.EntryRatio
	pnl := pos.Capital * pos.Leverage * change
	percent := pnl / pos.Capital * 100

	if !finite(ratio) || !finite(pnl) || !finite(percent) {
		return model.PnLUpdate{}, false
	}

	return model.PnLUpdate{
		ID:                   pos.ID,
		UnrealizedPnl:        round(pnl, moneyPlaces),
		UnrealizedPnlPercent: round(percent, moneyPlaces),
		CurrentRatio:         round(ratio, ratioPlaces),
		CurrentLongPrice:     longPrice,
		CurrentShortPrice:    shortPrice,
	}, true
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func positive(v float64) bool {
	return finite(v) && v > 0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
