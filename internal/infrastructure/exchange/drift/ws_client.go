package drift

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"pnlrelay/internal/application/port"
	"pnlrelay/internal/domain/model"
	"pnlrelay/internal/infrastructure/exchange"
	"pnlrelay/internal/infrastructure/pricefeed"
)

const (
	FeedName = "drift"

	channelTrades = "trades"

	defaultReconnectDelay   = 5 * time.Second
	defaultHeartbeat        = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 5 * time.Second
)

var ErrAlreadySubscribed = errors.New("drift feed already subscribed")

// TradesFeed Drift DLOB 成交流
// run 所在的 goroutine 是连接状态的唯一写入者，不会出现并发重连
type TradesFeed struct {
	wsURL       string
	marketType  string
	instruments []model.Instrument
	converter   exchange.SymbolConverter

	reconnectDelay time.Duration
	heartbeat      time.Duration
	idleTimeout    time.Duration
	handshake      time.Duration

	state   atomic.Int32
	started atomic.Bool
}

func NewTradesFeed(opts pricefeed.Options) *TradesFeed {
	f := &TradesFeed{
		wsURL:          strings.TrimSpace(opts.WsURL),
		marketType:     opts.MarketType,
		instruments:    opts.Instruments,
		converter:      exchange.NewSuffixConverter(opts.MarketSuffix),
		reconnectDelay: opts.ReconnectDelay,
		heartbeat:      opts.Heartbeat,
		idleTimeout:    opts.IdleTimeout,
		handshake:      opts.HandshakeTimeout,
	}
	if f.marketType == "" {
		f.marketType = "perp"
	}
	if f.reconnectDelay <= 0 {
		f.reconnectDelay = defaultReconnectDelay
	}
	if f.heartbeat <= 0 {
		f.heartbeat = defaultHeartbeat
	}
	if f.handshake <= 0 {
		f.handshake = defaultHandshakeTimeout
	}
	return f
}

func (f *TradesFeed) Name() string { return FeedName }

func (f *TradesFeed) State() port.FeedState { return port.FeedState(f.state.Load()) }

func (f *TradesFeed) setState(s port.FeedState) { f.state.Store(int32(s)) }

type subscribeReq struct {
	Type       string `json:"type"`
	MarketType string `json:"marketType"`
	Channel    string `json:"channel"`
	Market     string `json:"market"`
}

type heartbeatReq struct {
	Type string `json:"type"`
}

func (f *TradesFeed) Subscribe(ctx context.Context) (<-chan port.Tick, error) {
	if f.wsURL == "" {
		return nil, errors.New("drift ws_url empty")
	}

	subs := f.subscriptions()
	if len(subs) == 0 {
		return nil, errors.New("no valid instruments for drift trades")
	}
	if !f.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadySubscribed
	}

	out := make(chan port.Tick, 1024)
	go f.run(ctx, subs, out)
	return out, nil
}

func (f *TradesFeed) subscriptions() []subscribeReq {
	subs := make([]subscribeReq, 0, len(f.instruments))
	for _, in := range f.instruments {
		market := f.converter.Coin2Symbol(in.Symbol)
		if market == "" {
			continue
		}
		subs = append(subs, subscribeReq{
			Type:       "subscribe",
			MarketType: f.marketType,
			Channel:    channelTrades,
			Market:     market,
		})
	}
	return subs
}

func (f *TradesFeed) run(ctx context.Context, subs []subscribeReq, out chan<- port.Tick) {
	defer close(out)
	defer f.setState(port.FeedDisconnected)

	dialer := websocket.Dialer{HandshakeTimeout: f.handshake}

	for {
		if ctx.Err() != nil {
			return
		}

		f.setState(port.FeedConnecting)
		log.Info().Str("feed", f.Name()).Str("url", f.wsURL).Msg("ws connecting")

		cctx, cancel := context.WithTimeout(ctx, f.handshake)
		conn, _, err := dialer.DialContext(cctx, f.wsURL, nil)
		cancel()
		if err != nil {
			f.setState(port.FeedDisconnected)
			log.Error().Str("feed", f.Name()).Err(err).Msg("ws dial failed")
			if !sleepCtx(ctx, f.reconnectDelay) {
				return
			}
			continue
		}

		// 每次重连都从头重新订阅
		if err := writeSubscriptions(conn, subs); err != nil {
			_ = conn.Close()
			f.setState(port.FeedDisconnected)
			log.Error().Str("feed", f.Name()).Err(err).Msg("subscribe failed")
			if !sleepCtx(ctx, f.reconnectDelay) {
				return
			}
			continue
		}

		f.setState(port.FeedConnected)
		log.Info().Str("feed", f.Name()).Int("markets", len(subs)).Msg("ws connected & subscribed")

		err = f.readLoop(ctx, conn, func(b []byte, stop <-chan struct{}) {
			tick, ok, err := parseTrade(b)
			if err != nil {
				log.Warn().Str("feed", f.Name()).Err(err).Msg("drop malformed message")
				return
			}
			if !ok {
				return
			}
			tick.Feed = f.Name()
			select {
			case out <- tick:
			case <-ctx.Done():
			case <-stop:
			}
		})

		f.setState(port.FeedDisconnected)

		if ctx.Err() != nil {
			return
		}

		log.Warn().Str("feed", f.Name()).Err(err).Dur("delay", f.reconnectDelay).Msg("ws disconnected, reconnecting")
		if !sleepCtx(ctx, f.reconnectDelay) {
			return
		}
	}
}

func writeSubscriptions(conn *websocket.Conn, subs []subscribeReq) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	for _, s := range subs {
		if err := conn.WriteJSON(s); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.Market, err)
		}
	}
	return nil
}

// readLoop 读协程负责收消息，本协程负责心跳，写操作只在这里发生
// 返回前关闭连接并等待读协程退出，调用方之后才能安全地关闭 out
func (f *TradesFeed) readLoop(ctx context.Context, conn *websocket.Conn, onMsg func(b []byte, stop <-chan struct{})) error {
	extend := func() {
		if f.idleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(f.idleTimeout))
		}
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	heartbeat := time.NewTicker(f.heartbeat)
	defer heartbeat.Stop()

	stop := make(chan struct{})
	readerDone := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		defer close(readerDone)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			extend()
			onMsg(b, stop)

			select {
			case <-stop:
				return
			default:
			}
		}
	}()
	defer func() {
		close(stop)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
		_ = conn.Close()
		<-readerDone
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-heartbeat.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(heartbeatReq{Type: "ping"}); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		}
	}
}

type tradeMsg struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type tradeData struct {
	MarketIndex *int      `json:"marketIndex"`
	Price       flexPrice `json:"price"`
}

// flexPrice 价格可能是数字也可能是十进制字符串
type flexPrice struct {
	value float64
	set   bool
}

func (p *flexPrice) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("price: %w", err)
		}
		s = strings.TrimSpace(unq)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("price %q: %w", s, err)
	}
	p.value = d.InexactFloat64()
	p.set = true
	return nil
}

// parseTrade 非 trades 频道的消息返回 ok=false 且无错误
func parseTrade(b []byte) (port.Tick, bool, error) {
	var msg tradeMsg
	if err := sonic.Unmarshal(b, &msg); err != nil {
		return port.Tick{}, false, fmt.Errorf("decode message: %w", err)
	}
	if msg.Channel != channelTrades {
		return port.Tick{}, false, nil
	}

	raw := bytes.TrimSpace(msg.Data)
	if len(raw) == 0 {
		return port.Tick{}, false, errors.New("trade without data")
	}
	// 部分网关把 data 作为 JSON 字符串下发
	if raw[0] == '"' {
		var s string
		if err := sonic.Unmarshal(raw, &s); err != nil {
			return port.Tick{}, false, fmt.Errorf("decode data string: %w", err)
		}
		raw = []byte(s)
	}

	var data tradeData
	if err := sonic.Unmarshal(raw, &data); err != nil {
		return port.Tick{}, false, fmt.Errorf("decode trade data: %w", err)
	}
	if data.MarketIndex == nil {
		return port.Tick{}, false, errors.New("trade without marketIndex")
	}
	if !data.Price.set || data.Price.value <= 0 {
		return port.Tick{}, false, fmt.Errorf("trade for market %d without valid price", *data.MarketIndex)
	}

	return port.Tick{
		Index:      *data.MarketIndex,
		Price:      data.Price.value,
		ObservedAt: time.Now(),
	}, true, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
