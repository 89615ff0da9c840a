package relay

import (
	"context"

	"pnlrelay/internal/application/port"
)

type noopRecorder struct{}

func NewNoopRecorder() port.PriceRecorder { return &noopRecorder{} }

func (n *noopRecorder) UpsertLatestPrice(ctx context.Context, symbol string, price float64, ts int64) error {
	return nil
}
func (n *noopRecorder) PublishPrice(ctx context.Context, symbol string, price float64, ts int64) error {
	return nil
}
