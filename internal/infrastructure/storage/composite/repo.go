package composite

import (
	"context"

	"pnlrelay/internal/application/port"
)

// Repo 把同一次价格记录分发给多个 PriceRecorder，返回第一个错误
type Repo struct {
	recorders []port.PriceRecorder
}

func New(recorders ...port.PriceRecorder) *Repo {
	out := make([]port.PriceRecorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{recorders: out}
}

func (r *Repo) Len() int { return len(r.recorders) }

func (r *Repo) UpsertLatestPrice(ctx context.Context, symbol string, price float64, ts int64) error {
	var firstErr error
	for _, rec := range r.recorders {
		if err := rec.UpsertLatestPrice(ctx, symbol, price, ts); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) PublishPrice(ctx context.Context, symbol string, price float64, ts int64) error {
	var firstErr error
	for _, rec := range r.recorders {
		if err := rec.PublishPrice(ctx, symbol, price, ts); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ port.PriceRecorder = (*Repo)(nil)
