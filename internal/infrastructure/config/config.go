package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"pnlrelay/internal/domain/model"
)

// 环境变量覆盖（优先级高于 toml）
const (
	envFeedURL       = "PNLRELAY_FEED_URL"
	envPostgresDSN   = "PNLRELAY_POSTGRES_DSN"
	envRedisAddr     = "PNLRELAY_REDIS_ADDR"
	envRedisPassword = "PNLRELAY_REDIS_PASSWORD"
)

type Config struct {
	App struct {
		ListenAddr      string `toml:"listen_addr"`
		LogLevel        string `toml:"log_level"`
		SendQueueSize   int    `toml:"send_queue_size"`   // 每个订阅者的发送队列长度
		LookupTimeoutMs int    `toml:"lookup_timeout_ms"` // 单次持仓查询超时
		ShutdownTimeout int    `toml:"shutdown_timeout_sec"`
	} `toml:"app"`

	Feed struct {
		Name              string `toml:"name"` // 已注册的数据源名称，默认 drift
		WsURL             string `toml:"ws_url"`
		ReconnectDelayMs  int    `toml:"reconnect_delay_ms"`
		HeartbeatSec      int    `toml:"heartbeat_sec"`
		IdleTimeoutSec    int    `toml:"idle_timeout_sec"` // <0 不检测
		MarketType        string `toml:"market_type"`
		MarketSuffix      string `toml:"market_suffix"`
		HandshakeTimeoutS int    `toml:"handshake_timeout_sec"`
	} `toml:"feed"`

	Instruments []model.Instrument `toml:"instruments"`

	Broadcast struct {
		ChangeThreshold float64 `toml:"change_threshold"` // 相对变化阈值，0.001 = 0.1%
		ThrottleMs      int     `toml:"throttle_ms"`
	} `toml:"broadcast"`

	Storage struct {
		Positions string `toml:"positions"` // sqlite | postgres | memory

		SQLite struct {
			Path string `toml:"path"`
		} `toml:"sqlite"`

		Postgres struct {
			DSN string `toml:"dsn"`
		} `toml:"postgres"`

		Redis struct {
			Enabled      bool   `toml:"enabled"`
			Addr         string `toml:"addr"`
			Password     string `toml:"password"`
			DB           int    `toml:"db"`
			Prefix       string `toml:"prefix"`
			TTLSeconds   int    `toml:"ttl_seconds"`
			PriceChannel string `toml:"price_channel"`
		} `toml:"redis"`
	} `toml:"storage"`

	Profiling struct {
		Enabled       bool   `toml:"enabled"`
		ServerAddress string `toml:"server_address"`
		AppName       string `toml:"app_name"`
	} `toml:"profiling"`
}

func Load(path string) (*Config, error) {
	// .env 可选
	_ = godotenv.Load()

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envFeedURL); v != "" {
		cfg.Feed.WsURL = v
	}
	if v := os.Getenv(envPostgresDSN); v != "" {
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv(envRedisAddr); v != "" {
		cfg.Storage.Redis.Addr = v
	}
	if v := os.Getenv(envRedisPassword); v != "" {
		cfg.Storage.Redis.Password = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.ListenAddr == "" {
		cfg.App.ListenAddr = ":8080"
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.SendQueueSize <= 0 {
		cfg.App.SendQueueSize = 256
	}
	if cfg.App.LookupTimeoutMs <= 0 {
		cfg.App.LookupTimeoutMs = 5000
	}
	if cfg.App.ShutdownTimeout <= 0 {
		cfg.App.ShutdownTimeout = 10
	}

	if cfg.Feed.Name == "" {
		cfg.Feed.Name = "drift"
	}
	if cfg.Feed.ReconnectDelayMs <= 0 {
		cfg.Feed.ReconnectDelayMs = 5000
	}
	if cfg.Feed.HeartbeatSec <= 0 {
		cfg.Feed.HeartbeatSec = 30
	}
	if cfg.Feed.IdleTimeoutSec == 0 {
		cfg.Feed.IdleTimeoutSec = 60
	}
	if cfg.Feed.MarketType == "" {
		cfg.Feed.MarketType = "perp"
	}
	if cfg.Feed.MarketSuffix == "" {
		cfg.Feed.MarketSuffix = "-PERP"
	}
	if cfg.Feed.HandshakeTimeoutS <= 0 {
		cfg.Feed.HandshakeTimeoutS = 10
	}

	if cfg.Broadcast.ChangeThreshold <= 0 {
		cfg.Broadcast.ChangeThreshold = 0.001
	}
	if cfg.Broadcast.ThrottleMs <= 0 {
		cfg.Broadcast.ThrottleMs = 500
	}

	if cfg.Storage.Positions == "" {
		cfg.Storage.Positions = "sqlite"
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "data/pnlrelay.db"
	}
	if cfg.Storage.Redis.Prefix == "" {
		cfg.Storage.Redis.Prefix = "pnlrelay"
	}

	if cfg.Profiling.AppName == "" {
		cfg.Profiling.AppName = "pnlrelay"
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Feed.WsURL) == "" {
		return errors.New("feed.ws_url is empty")
	}

	instruments, err := normalizeInstruments(cfg.Instruments)
	if err != nil {
		return err
	}
	cfg.Instruments = instruments

	switch cfg.Storage.Positions {
	case "sqlite", "memory":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
			return errors.New("storage.postgres.dsn empty but positions=postgres")
		}
	default:
		return fmt.Errorf("storage.positions: unknown backend %q", cfg.Storage.Positions)
	}

	if cfg.Storage.Redis.Enabled && strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
		return errors.New("storage.redis.addr empty but enabled")
	}
	if cfg.Profiling.Enabled && strings.TrimSpace(cfg.Profiling.ServerAddress) == "" {
		return errors.New("profiling.server_address empty but enabled")
	}
	return nil
}

func normalizeInstruments(in []model.Instrument) ([]model.Instrument, error) {
	out := make([]model.Instrument, 0, len(in))
	seenIdx := map[int]struct{}{}
	seenSym := map[string]struct{}{}
	for _, inst := range in {
		sym := strings.ToUpper(strings.TrimSpace(inst.Symbol))
		if sym == "" {
			continue
		}
		if inst.Index < 0 {
			return nil, fmt.Errorf("instrument %s: negative index %d", sym, inst.Index)
		}
		if _, ok := seenIdx[inst.Index]; ok {
			return nil, fmt.Errorf("instrument index %d listed twice", inst.Index)
		}
		if _, ok := seenSym[sym]; ok {
			continue
		}
		seenIdx[inst.Index] = struct{}{}
		seenSym[sym] = struct{}{}
		out = append(out, model.Instrument{Index: inst.Index, Symbol: sym})
	}
	if len(out) == 0 {
		return nil, errors.New("instruments is empty")
	}
	return out, nil
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Feed.ReconnectDelayMs) * time.Millisecond
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Feed.HeartbeatSec) * time.Second
}

func (c *Config) IdleTimeout() time.Duration {
	if c.Feed.IdleTimeoutSec < 0 {
		return 0
	}
	return time.Duration(c.Feed.IdleTimeoutSec) * time.Second
}

func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Feed.HandshakeTimeoutS) * time.Second
}

func (c *Config) ThrottleWindow() time.Duration {
	return time.Duration(c.Broadcast.ThrottleMs) * time.Millisecond
}

func (c *Config) LookupTimeout() time.Duration {
	return time.Duration(c.App.LookupTimeoutMs) * time.Millisecond
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.App.ShutdownTimeout) * time.Second
}
