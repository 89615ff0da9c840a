package composite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	upserts  []string
	publish  []string
	upsertEr error
}

func (r *recorder) UpsertLatestPrice(ctx context.Context, symbol string, price float64, ts int64) error {
	r.upserts = append(r.upserts, symbol)
	return r.upsertEr
}

func (r *recorder) PublishPrice(ctx context.Context, symbol string, price float64, ts int64) error {
	r.publish = append(r.publish, symbol)
	return nil
}

func TestCompositeCallsAllAndReturnsFirstError(t *testing.T) {
	errA := errors.New("a failed")
	a := &recorder{upsertEr: errA}
	b := &recorder{upsertEr: errors.New("b failed")}
	c := &recorder{}

	repo := New(a, nil, b, c)
	assert.Equal(t, 3, repo.Len())

	err := repo.UpsertLatestPrice(context.Background(), "SOL", 100, 1)
	assert.ErrorIs(t, err, errA)
	assert.Equal(t, []string{"SOL"}, c.upserts)

	assert.NoError(t, repo.PublishPrice(context.Background(), "BTC", 50, 1))
	assert.Equal(t, []string{"BTC"}, a.publish)
	assert.Equal(t, []string{"BTC"}, b.publish)
}
