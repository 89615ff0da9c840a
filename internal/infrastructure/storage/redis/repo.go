package redis

import (
	"context"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"pnlrelay/internal/application/port"
)

// Repo 最新价格镜像：HSET <prefix>:latest <SYMBOL> json，广播时 PUBLISH
type Repo struct {
	rdb          *redis.Client
	ttl          time.Duration
	keyLatest    string
	priceChannel string
}

type LatestPrice struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Ts     int64   `json:"ts"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, priceChannel string) *Repo {
	if strings.TrimSpace(priceChannel) == "" {
		priceChannel = prefix + ":prices"
	}
	return &Repo{
		rdb:          rdb,
		ttl:          ttl,
		keyLatest:    prefix + ":latest",
		priceChannel: priceChannel,
	}
}

func (r *Repo) KeyLatest() string    { return r.keyLatest }
func (r *Repo) PriceChannel() string { return r.priceChannel }

func (r *Repo) UpsertLatestPrice(ctx context.Context, symbol string, price float64, ts int64) error {
	if price <= 0 {
		return nil
	}
	symbol = strings.ToUpper(symbol)
	b, err := sonic.Marshal(LatestPrice{Symbol: symbol, Price: price, Ts: ts})
	if err != nil {
		return err
	}

	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, symbol, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Repo) PublishPrice(ctx context.Context, symbol string, price float64, ts int64) error {
	b, err := sonic.Marshal(LatestPrice{Symbol: strings.ToUpper(symbol), Price: price, Ts: ts})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.priceChannel, string(b)).Err()
}

// LatestPrices 读取镜像中的全部最新价格
func (r *Repo) LatestPrices(ctx context.Context) (map[string]LatestPrice, error) {
	raw, err := r.rdb.HGetAll(ctx, r.keyLatest).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]LatestPrice, len(raw))
	for field, v := range raw {
		var lp LatestPrice
		if err := sonic.UnmarshalString(v, &lp); err != nil {
			continue
		}
		out[field] = lp
	}
	return out, nil
}

var _ port.PriceRecorder = (*Repo)(nil)
