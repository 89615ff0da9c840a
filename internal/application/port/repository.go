package port

import (
	"context"

	"pnlrelay/internal/domain/model"
)

// PriceRecorder 最新价格的旁路镜像（redis / sqlite 等），失败不影响主流程
type PriceRecorder interface {
	UpsertLatestPrice(ctx context.Context, symbol string, price float64, ts int64) error
	PublishPrice(ctx context.Context, symbol string, price float64, ts int64) error
}

// PositionStore 持仓查询，按订阅者身份（钱包地址）返回未平仓持仓
type PositionStore interface {
	FindOpenPositions(ctx context.Context, identity string) ([]model.Position, error)
}

// IdentityResolver 将持仓的 Owner 字段映射为订阅者身份
type IdentityResolver interface {
	Identity(pos model.Position) string
}

// OwnerIdentity 默认实现：Owner 即钱包地址
type OwnerIdentity struct{}

func (OwnerIdentity) Identity(pos model.Position) string { return pos.Owner }
