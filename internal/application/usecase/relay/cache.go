package relay

import (
	"math"
	"sort"
	"sync"
	"time"

	"pnlrelay/internal/domain/model"
)

const (
	DefaultChangeThreshold = 0.001
	DefaultThrottleWindow  = 500 * time.Millisecond
)

type pxState struct {
	sample        model.PriceSample
	refPrice      float64 // 最近一次广播时的价格，变化幅度以它为基准
	lastBroadcast time.Time
}

// PriceCache 每个市场只保留最近一次价格，并决定是否触发广播
type PriceCache struct {
	mu sync.Mutex

	threshold float64
	throttle  time.Duration
	states    map[int]*pxState
}

func NewPriceCache(threshold float64, throttle time.Duration) *PriceCache {
	if threshold <= 0 {
		threshold = DefaultChangeThreshold
	}
	if throttle < 0 {
		throttle = DefaultThrottleWindow
	}
	return &PriceCache{
		threshold: threshold,
		throttle:  throttle,
		states:    make(map[int]*pxState),
	}
}

// Observe 无条件更新价格，返回本次观察是否应触发广播
//
// 判定顺序：
//  1. 首次观察 -> 广播
//  2. 相对上次广播价格的变化 < threshold -> 不广播
//  3. 距离上次"广播"不足 throttle -> 不广播（价格仍然更新）
//  4. 否则记录本次为最近广播时间 -> 广播
func (c *PriceCache) Observe(index int, price float64, now time.Time) bool {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.states[index]
	if st == nil {
		c.states[index] = &pxState{
			sample:        model.PriceSample{Index: index, Price: price, ObservedAt: now},
			refPrice:      price,
			lastBroadcast: now,
		}
		return true
	}

	st.sample = model.PriceSample{Index: index, Price: price, ObservedAt: now}

	if math.Abs(price-st.refPrice)/st.refPrice < c.threshold {
		return false
	}
	if now.Sub(st.lastBroadcast) < c.throttle {
		return false
	}

	st.refPrice = price
	st.lastBroadcast = now
	return true
}

// Price 最新价格；从未收到过样本时 ok=false
func (c *PriceCache) Price(index int) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.states[index]
	if st == nil {
		return 0, false
	}
	return st.sample.Price, true
}

// Snapshot 返回所有样本的副本，按市场索引排序
func (c *PriceCache) Snapshot() []model.PriceSample {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.PriceSample, 0, len(c.states))
	for _, st := range c.states {
		out = append(out, st.sample)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
