package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"pnlrelay/internal/application/port"
	"pnlrelay/internal/infrastructure/config"
	"pnlrelay/internal/infrastructure/storage"
	"pnlrelay/internal/infrastructure/storage/composite"
	pgrepo "pnlrelay/internal/infrastructure/storage/postgres"
	redisrepo "pnlrelay/internal/infrastructure/storage/redis"
	sqliterepo "pnlrelay/internal/infrastructure/storage/sqlite"
)

// Container 包含所有基础设施依赖
type Container struct {
	cfg         *config.Config
	redisClient *redis.Client
	positions   port.PositionStore
	recorder    *composite.Repo
	closeOnce   sync.Once
	closerChain []func() error
}

// New 按配置初始化持仓存储和价格镜像；失败时已初始化的资源会被关闭
func New(cfg *config.Config) (*Container, error) {
	c := &Container{
		cfg:         cfg,
		closerChain: make([]func() error, 0),
	}

	if err := c.initPositions(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("positions init failed: %w", err)
	}

	var recorders []port.PriceRecorder
	if cfg.Storage.Redis.Enabled {
		rec, err := c.initRedis()
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("redis init failed: %w", err)
		}
		recorders = append(recorders, rec)
	}
	c.recorder = composite.New(recorders...)

	return c, nil
}

func (c *Container) initPositions() error {
	switch c.cfg.Storage.Positions {
	case "memory":
		mem := storage.NewInMemoryPositionStore()
		c.positions = mem
		log.Warn().Msg("using in-memory position store")

	case "postgres":
		repo, err := pgrepo.New(c.cfg.Storage.Postgres.DSN)
		if err != nil {
			return err
		}
		c.positions = repo
		c.closerChain = append(c.closerChain, func() error {
			log.Info().Msg("closing postgres connection")
			return repo.Close()
		})
		log.Info().Msg("postgres initialized")

	default:
		repo, err := sqliterepo.New(c.cfg.Storage.SQLite.Path)
		if err != nil {
			return err
		}
		c.positions = repo
		c.closerChain = append(c.closerChain, func() error {
			log.Info().Msg("closing sqlite connection")
			return repo.Close()
		})
		log.Info().Str("path", c.cfg.Storage.SQLite.Path).Msg("sqlite initialized")
	}
	return nil
}

// initRedis 初始化 Redis 连接
func (c *Container) initRedis() (*redisrepo.Repo, error) {
	rc := c.cfg.Storage.Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	c.redisClient = rdb
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	repo := redisrepo.New(rdb, rc.Prefix, time.Duration(rc.TTLSeconds)*time.Second, rc.PriceChannel)
	log.Info().
		Str("addr", rc.Addr).
		Int("db", rc.DB).
		Str("key", repo.KeyLatest()).
		Str("channel", repo.PriceChannel()).
		Msg("redis initialized")
	return repo, nil
}

func (c *Container) RedisClient() *redis.Client { return c.redisClient }

func (c *Container) Positions() port.PositionStore { return c.positions }

// Recorder 未启用任何镜像时返回空的组合仓储
func (c *Container) Recorder() port.PriceRecorder { return c.recorder }

// Close 关闭所有资源（按后进先出顺序）
func (c *Container) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for i := len(c.closerChain) - 1; i >= 0; i-- {
			if e := c.closerChain[i](); e != nil {
				log.Error().Err(e).Msg("error closing resource")
				if err == nil {
					err = e
				}
			}
		}
		log.Info().Msg("container closed")
	})
	return err
}
