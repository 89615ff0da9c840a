package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"pnlrelay/internal/application/port"
	"pnlrelay/internal/domain/model"
	"pnlrelay/internal/domain/service"
)

type HubDeps struct {
	Cache         *PriceCache
	Registry      *Registry
	Positions     port.PositionStore
	Identities    port.IdentityResolver // nil -> port.OwnerIdentity
	LookupTimeout time.Duration         // 单次持仓查询超时，0 表示不限
}

// Hub 价格变化后按订阅者重新计算持仓盈亏，只推送给持有者自己的连接
type Hub struct {
	deps HubDeps
}

func NewHub(deps HubDeps) *Hub {
	if deps.Identities == nil {
		deps.Identities = port.OwnerIdentity{}
	}
	return &Hub{deps: deps}
}

// Broadcast 对某个市场的一次价格变化执行一轮推送，返回成功入队的帧数
// 按注册表快照顺序串行处理；单个订阅者失败只记录日志，不影响其他订阅者
func (h *Hub) Broadcast(ctx context.Context, index int) int {
	sent := 0
	for _, e := range h.deps.Registry.Snapshot() {
		if ctx.Err() != nil {
			return sent
		}
		n, err := h.broadcastTo(ctx, e, index)
		sent += n
		if err != nil {
			log.Warn().
				Err(err).
				Str("wallet", e.Identity).
				Str("conn", e.Conn.ID()).
				Int("instrument", index).
				Msg("broadcast to subscriber failed")
		}
	}
	return sent
}

func (h *Hub) broadcastTo(ctx context.Context, e Entry, index int) (sent int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing subscriber: %v", r)
		}
	}()

	if !e.Conn.Alive() {
		return 0, nil
	}

	positions, err := h.findOpenPositions(ctx, e.Identity)
	if err != nil {
		return 0, fmt.Errorf("find open positions: %w", err)
	}

	for _, pos := range positions {
		if pos.Status != model.PositionOpen || !pos.References(index) {
			continue
		}

		owner := h.deps.Identities.Identity(pos)
		conn, ok := h.deps.Registry.Get(owner)
		if !ok || !conn.Alive() {
			continue
		}

		longPx, okL := h.deps.Cache.Price(pos.LongIndex)
		shortPx, okS := h.deps.Cache.Price(pos.ShortIndex)
		if !okL || !okS {
			continue
		}

		upd, ok := service.ComputePnL(pos, longPx, shortPx)
		if !ok {
			log.Debug().Str("position", pos.ID).Msg("pnl not computable, skipped")
			continue
		}

		if err := conn.SendJSON(PositionUpdateFrame(upd)); err != nil {
			return sent, fmt.Errorf("send position %s: %w", pos.ID, err)
		}
		sent++
	}
	return sent, nil
}

func (h *Hub) findOpenPositions(ctx context.Context, identity string) ([]model.Position, error) {
	if h.deps.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.deps.LookupTimeout)
		defer cancel()
	}
	return h.deps.Positions.FindOpenPositions(ctx, identity)
}
