package port

import (
	"context"
	"time"
)

// Tick 上游成交推送归一化后的价格观察
type Tick struct {
	Feed       string    // 数据源名称 "DRIFT"
	Index      int       // 市场索引
	Price      float64   // 成交价
	ObservedAt time.Time // 本地接收时间
}

// FeedState 上游连接状态
type FeedState int32

const (
	FeedDisconnected FeedState = iota
	FeedConnecting
	FeedConnected
)

func (s FeedState) String() string {
	switch s {
	case FeedConnecting:
		return "connecting"
	case FeedConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type PriceFeed interface {
	Name() string
	// Subscribe 启动连接循环，返回的 channel 在 ctx 结束后关闭
	Subscribe(ctx context.Context) (<-chan Tick, error)
	State() FeedState
}
