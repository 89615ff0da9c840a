package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"pnlrelay/internal/application/port"
	"pnlrelay/internal/domain/model"
)

var (
	ErrNoFeed           = errors.New("no price feed")
	ErrIdentityRequired = errors.New("identity required")
)

type ServiceDeps struct {
	Feed        port.PriceFeed
	Instruments []model.Instrument
	Positions   port.PositionStore
	Identities  port.IdentityResolver
	Recorder    port.PriceRecorder // nil -> noop

	ChangeThreshold float64
	ThrottleWindow  time.Duration
	LookupTimeout   time.Duration
}

// Service 顶层中继对象：持有价格缓存、订阅者注册表和广播器
// Run 所在的 goroutine 是唯一调用 Observe / Broadcast 的地方
type Service struct {
	deps     ServiceDeps
	symbols  map[int]string
	cache    *PriceCache
	registry *Registry
	hub      *Hub

	started  time.Time
	lastTick atomic.Int64 // unix nano
}

func NewService(deps ServiceDeps) *Service {
	if deps.Recorder == nil {
		deps.Recorder = NewNoopRecorder()
	}

	symbols := make(map[int]string, len(deps.Instruments))
	for _, in := range deps.Instruments {
		symbols[in.Index] = in.Symbol
	}

	cache := NewPriceCache(deps.ChangeThreshold, deps.ThrottleWindow)
	registry := NewRegistry()
	return &Service{
		deps:     deps,
		symbols:  symbols,
		cache:    cache,
		registry: registry,
		hub: NewHub(HubDeps{
			Cache:         cache,
			Registry:      registry,
			Positions:     deps.Positions,
			Identities:    deps.Identities,
			LookupTimeout: deps.LookupTimeout,
		}),
		started: time.Now(),
	}
}

func (s *Service) Cache() *PriceCache  { return s.cache }
func (s *Service) Registry() *Registry { return s.registry }
func (s *Service) Started() time.Time  { return s.started }

func (s *Service) Subscribers() int { return s.registry.Len() }

func (s *Service) Prices() []model.PriceSample { return s.cache.Snapshot() }

func (s *Service) FeedState() port.FeedState {
	if s.deps.Feed == nil {
		return port.FeedDisconnected
	}
	return s.deps.Feed.State()
}

func (s *Service) LastTick() time.Time {
	n := s.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run 消费上游成交，直到 ctx 结束或数据源关闭
// ctx 结束后会等待数据源关闭 ticks，返回时上游连接已断开
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Feed == nil {
		return ErrNoFeed
	}

	ticks, err := s.deps.Feed.Subscribe(ctx)
	if err != nil {
		return err
	}
	log.Info().Str("feed", s.deps.Feed.Name()).Int("instruments", len(s.symbols)).Msg("feed started")

	for {
		select {
		case <-ctx.Done():
			// 数据源在关闭上游连接之后才关闭 channel
			for range ticks {
			}
			log.Info().Str("feed", s.deps.Feed.Name()).Msg("feed stopped")
			return ctx.Err()
		case t, ok := <-ticks:
			if !ok {
				return nil
			}
			s.HandleTick(ctx, t)
		}
	}
}

// HandleTick 处理一条价格观察，返回是否触发了广播
func (s *Service) HandleTick(ctx context.Context, t port.Tick) bool {
	sym, ok := s.symbols[t.Index]
	if !ok {
		log.Debug().Int("instrument", t.Index).Msg("tick for untracked instrument, ignored")
		return false
	}

	now := t.ObservedAt
	if now.IsZero() {
		now = time.Now()
	}
	s.lastTick.Store(now.UnixNano())

	eligible := s.cache.Observe(t.Index, t.Price, now)

	if err := s.deps.Recorder.UpsertLatestPrice(ctx, sym, t.Price, now.UnixMilli()); err != nil {
		log.Warn().Err(err).Str("instrument", sym).Msg("record latest price failed")
	}
	if !eligible {
		return false
	}
	if err := s.deps.Recorder.PublishPrice(ctx, sym, t.Price, now.UnixMilli()); err != nil {
		log.Warn().Err(err).Str("instrument", sym).Msg("publish price failed")
	}

	sent := s.hub.Broadcast(ctx, t.Index)
	log.Debug().Str("instrument", sym).Float64("price", t.Price).Int("sent", sent).Msg("price broadcast")
	return true
}

// Connect 订阅者连接建立：CONNECTING -> OPEN，身份为空则发送 error 帧后 -> CLOSED
// 同一身份的旧连接被替换并关闭
func (s *Service) Connect(identity string, c Conn) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		_ = c.SendJSON(ErrorFrame(MsgWalletRequired))
		c.Close()
		return ErrIdentityRequired
	}

	if prev := s.registry.Add(identity, c); prev != nil && prev != c {
		log.Info().Str("wallet", identity).Str("conn", prev.ID()).Msg("replacing previous connection")
		prev.Close()
	}

	if err := c.SendJSON(SubscribedFrame(identity)); err != nil {
		s.registry.RemoveConn(identity, c)
		return err
	}
	log.Info().Str("wallet", identity).Str("conn", c.ID()).Int("subscribers", s.registry.Len()).Msg("subscriber connected")
	return nil
}

// Disconnect OPEN -> CLOSED（传输层关闭或出错）
func (s *Service) Disconnect(identity string, c Conn) {
	identity = strings.TrimSpace(identity)
	if s.registry.RemoveConn(identity, c) {
		log.Info().Str("wallet", identity).Str("conn", c.ID()).Int("subscribers", s.registry.Len()).Msg("subscriber disconnected")
	}
	c.Close()
}

type clientFrame struct {
	Type string `json:"type"`
}

// HandleClientFrame 处理订阅者上行文本帧：ping -> pong，其他类型忽略
func (s *Service) HandleClientFrame(c Conn, payload []byte) {
	var f clientFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		log.Debug().Err(err).Str("conn", c.ID()).Msg("invalid client frame ignored")
		return
	}
	switch f.Type {
	case FramePing:
		_ = c.SendJSON(PongFrame())
	}
}

// CloseAll 关闭所有订阅者连接，并等待传输层真正断开，最长等到 ctx 结束
func (s *Service) CloseAll(ctx context.Context) {
	entries := s.registry.Snapshot()
	for _, e := range entries {
		s.registry.RemoveConn(e.Identity, e.Conn)
		e.Conn.Close()
	}
	for _, e := range entries {
		select {
		case <-e.Conn.Done():
		case <-ctx.Done():
			log.Warn().Int("subscribers", len(entries)).Msg("subscriber connections did not close in time")
			return
		}
	}
}
