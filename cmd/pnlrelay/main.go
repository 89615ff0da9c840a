package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"pnlrelay/internal/application/usecase/relay"
	"pnlrelay/internal/infrastructure/config"
	"pnlrelay/internal/infrastructure/container"
	_ "pnlrelay/internal/infrastructure/exchange/drift"
	"pnlrelay/internal/infrastructure/logger"
	"pnlrelay/internal/infrastructure/pricefeed"
	"pnlrelay/internal/interfaces/health"
	"pnlrelay/internal/interfaces/subscriber"
)

func main() {
	logger.Setup("info")

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.App.LogLevel)

	// log.Fatal 会跳过 defer，之后的 Fatal 分支需要手动释放已打开的资源
	stopProfiler := func() {}
	if cfg.Profiling.Enabled {
		stopProfiler, err = startProfiler(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("pyroscope start failed")
		}
	}
	defer stopProfiler()

	c, err := container.New(cfg)
	if err != nil {
		stopProfiler()
		log.Fatal().Err(err).Msg("init storage failed")
	}
	defer func() { _ = c.Close() }()

	factory, ok := pricefeed.Get(cfg.Feed.Name)
	if !ok {
		_ = c.Close()
		stopProfiler()
		log.Fatal().Str("feed", cfg.Feed.Name).Strs("available", pricefeed.Names()).Msg("unknown price feed")
	}
	feed := factory(pricefeed.Options{
		WsURL:            cfg.Feed.WsURL,
		Instruments:      cfg.Instruments,
		MarketType:       cfg.Feed.MarketType,
		MarketSuffix:     cfg.Feed.MarketSuffix,
		ReconnectDelay:   cfg.ReconnectDelay(),
		Heartbeat:        cfg.HeartbeatInterval(),
		IdleTimeout:      cfg.IdleTimeout(),
		HandshakeTimeout: cfg.HandshakeTimeout(),
	})

	svc := relay.NewService(relay.ServiceDeps{
		Feed:            feed,
		Instruments:     cfg.Instruments,
		Positions:       c.Positions(),
		Recorder:        c.Recorder(),
		ChangeThreshold: cfg.Broadcast.ChangeThreshold,
		ThrottleWindow:  cfg.ThrottleWindow(),
		LookupTimeout:   cfg.LookupTimeout(),
	})

	symbols := make(map[int]string, len(cfg.Instruments))
	for _, in := range cfg.Instruments {
		symbols[in.Index] = in.Symbol
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", subscriber.NewHandler(svc, subscriber.ConnOptions{QueueSize: cfg.App.SendQueueSize}))
	health.Register(mux, svc, symbols)

	srv := &http.Server{
		Addr:              cfg.App.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", cfg.App.ListenAddr).Msg("http server failed")
			stop()
		}
	}()

	runDone := make(chan error, 1)
	go func() { runDone <- svc.Run(ctx) }()

	log.Info().
		Str("config", *configPath).
		Str("addr", cfg.App.ListenAddr).
		Str("feed", feed.Name()).
		Int("instruments", len(cfg.Instruments)).
		Str("positions", cfg.Storage.Positions).
		Float64("change_threshold", cfg.Broadcast.ChangeThreshold).
		Dur("throttle", cfg.ThrottleWindow()).
		Msg("pnlrelay started")

	select {
	case <-ctx.Done():
	case err := <-runDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("relay exited")
		}
		stop()
		runDone = nil
	}

	log.Info().Msg("shutting down")
	shutdown(cfg.ShutdownTimeout(), stop, runDone, svc, srv)
}

// shutdown 顺序：停止上游 -> 关闭订阅者并等待连接断开 -> 关闭 HTTP 服务；存储由 main 的 defer 关闭
// runDone 为 nil 表示 relay 已经退出
func shutdown(timeout time.Duration, stopFeed context.CancelFunc, runDone <-chan error, svc *relay.Service, srv *http.Server) {
	stopFeed()

	if runDone != nil {
		select {
		case <-runDone:
		case <-time.After(timeout):
			log.Warn().Msg("feed did not stop in time")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	svc.CloseAll(ctx)
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}
