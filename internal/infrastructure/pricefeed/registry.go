package pricefeed

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"pnlrelay/internal/application/port"
	"pnlrelay/internal/domain/model"
)

// Options 构造数据源所需的参数，由 config 填充
type Options struct {
	WsURL            string
	Instruments      []model.Instrument
	MarketType       string
	MarketSuffix     string
	ReconnectDelay   time.Duration
	Heartbeat        time.Duration
	IdleTimeout      time.Duration // 0 不检测
	HandshakeTimeout time.Duration
}

type Factory func(opts Options) port.PriceFeed

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register 由各数据源包的 init() 调用来自注册
func Register(name string, factory Factory) {
	if factory == nil {
		log.Warn().Str("feed", name).Msg("invalid price feed factory")
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		log.Warn().Str("feed", name).Msg("price feed factory already registered, overwriting")
	}
	registry[name] = factory
}

func Get(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	factory, ok := registry[name]
	return factory, ok
}

func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
