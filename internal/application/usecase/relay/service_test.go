package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pnlrelay/internal/application/port"
	"pnlrelay/internal/domain/model"
)

type mockFeed struct {
	ch chan port.Tick
}

func (f *mockFeed) Name() string { return "MOCK" }
func (f *mockFeed) Subscribe(ctx context.Context) (<-chan port.Tick, error) {
	return f.ch, nil
}
func (f *mockFeed) State() port.FeedState { return port.FeedConnected }

type mockRecorder struct {
	mu        sync.Mutex
	latest    map[string]float64
	published []string
}

func (r *mockRecorder) UpsertLatestPrice(ctx context.Context, symbol string, price float64, ts int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest[symbol] = price
	return nil
}

func (r *mockRecorder) PublishPrice(ctx context.Context, symbol string, price float64, ts int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, symbol)
	return nil
}

var testInstruments = []model.Instrument{
	{Index: solIndex, Symbol: "SOL"},
	{Index: btcIndex, Symbol: "BTC"},
}

func newTestService(store *mockStore, rec port.PriceRecorder) *Service {
	return NewService(ServiceDeps{
		Feed:            &mockFeed{ch: make(chan port.Tick)},
		Instruments:     testInstruments,
		Positions:       store,
		Recorder:        rec,
		ChangeThreshold: DefaultChangeThreshold,
		ThrottleWindow:  DefaultThrottleWindow,
		LookupTimeout:   time.Second,
	})
}

func tick(index int, price float64, at time.Time) port.Tick {
	return port.Tick{Feed: "MOCK", Index: index, Price: price, ObservedAt: at}
}

func TestServiceEndToEndScenario(t *testing.T) {
	store := newMockStore()
	store.add(pairPosition("pos-1", "ABC123"))
	svc := newTestService(store, nil)
	ctx := context.Background()
	t0 := time.Unix(1700000000, 0)

	// BTC already cached at 50, SOL at 100
	svc.HandleTick(ctx, tick(btcIndex, 50, t0))
	svc.HandleTick(ctx, tick(solIndex, 100, t0))

	conn := newMockConn("c1")
	require.NoError(t, svc.Connect("ABC123", conn))

	assert.True(t, svc.HandleTick(ctx, tick(solIndex, 100.5, t0.Add(time.Second))))

	frames := conn.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, FrameSubscribed, frames[0].Type)

	updates := conn.FramesOfType(FramePositionUpdate)
	require.Len(t, updates, 1)
	upd := updates[0].Data
	require.NotNil(t, upd)
	assert.Equal(t, "pos-1", upd.ID)
	assert.Equal(t, 2.01, upd.CurrentRatio)
	assert.Equal(t, 25.0, upd.UnrealizedPnl)
	assert.Equal(t, 2.5, upd.UnrealizedPnlPercent)
	assert.Equal(t, 100.5, upd.CurrentLongPrice)
	assert.Equal(t, 50.0, upd.CurrentShortPrice)
}

func TestServiceThrottledTickDoesNotBroadcast(t *testing.T) {
	store := newMockStore()
	store.add(pairPosition("pos-1", "ABC123"))
	svc := newTestService(store, nil)
	ctx := context.Background()
	t0 := time.Unix(1700000000, 0)

	svc.HandleTick(ctx, tick(btcIndex, 50, t0))
	svc.HandleTick(ctx, tick(solIndex, 100, t0))
	conn := newMockConn("c1")
	require.NoError(t, svc.Connect("ABC123", conn))

	assert.False(t, svc.HandleTick(ctx, tick(solIndex, 101, t0.Add(100*time.Millisecond))))
	assert.Empty(t, conn.FramesOfType(FramePositionUpdate))

	px, ok := svc.Cache().Price(solIndex)
	require.True(t, ok)
	assert.Equal(t, 101.0, px)
}

func TestServiceConnectWithoutIdentity(t *testing.T) {
	svc := newTestService(newMockStore(), nil)
	conn := newMockConn("c1")

	err := svc.Connect("  ", conn)
	require.ErrorIs(t, err, ErrIdentityRequired)

	frames := conn.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, FrameError, frames[0].Type)
	assert.Equal(t, MsgWalletRequired, frames[0].Message)
	assert.False(t, conn.Alive())
	assert.Equal(t, 0, svc.Registry().Len())

	assert.ErrorIs(t, conn.SendJSON(PongFrame()), ErrConnClosed)
	assert.Len(t, conn.Frames(), 1)
}

func TestServiceReconnectReplacesConnection(t *testing.T) {
	svc := newTestService(newMockStore(), nil)
	first := newMockConn("c1")
	second := newMockConn("c2")

	require.NoError(t, svc.Connect("ABC123", first))
	require.NoError(t, svc.Connect("ABC123", second))

	assert.False(t, first.Alive())
	got, ok := svc.Registry().Get("ABC123")
	require.True(t, ok)
	assert.Equal(t, "c2", got.ID())

	// late close of the replaced connection keeps the new one
	svc.Disconnect("ABC123", first)
	_, ok = svc.Registry().Get("ABC123")
	assert.True(t, ok)

	svc.Disconnect("ABC123", second)
	assert.Equal(t, 0, svc.Registry().Len())
	assert.False(t, second.Alive())
}

func TestServiceClientFrames(t *testing.T) {
	svc := newTestService(newMockStore(), nil)
	conn := newMockConn("c1")

	svc.HandleClientFrame(conn, []byte(`{"type":"ping"}`))
	svc.HandleClientFrame(conn, []byte(`{"type":"subscribe_all"}`))
	svc.HandleClientFrame(conn, []byte(`not json`))

	frames := conn.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, FramePong, frames[0].Type)
}

func TestServiceIgnoresUntrackedInstrument(t *testing.T) {
	rec := &mockRecorder{latest: map[string]float64{}}
	svc := newTestService(newMockStore(), rec)

	assert.False(t, svc.HandleTick(context.Background(), tick(42, 10, time.Now())))
	_, ok := svc.Cache().Price(42)
	assert.False(t, ok)
	assert.Empty(t, rec.latest)
}

func TestServiceRecordsEveryTickPublishesBroadcasts(t *testing.T) {
	rec := &mockRecorder{latest: map[string]float64{}}
	svc := newTestService(newMockStore(), rec)
	ctx := context.Background()
	t0 := time.Unix(1700000000, 0)

	svc.HandleTick(ctx, tick(solIndex, 100, t0))
	svc.HandleTick(ctx, tick(solIndex, 100.01, t0.Add(time.Second)))

	assert.Equal(t, 100.01, rec.latest["SOL"])
	assert.Equal(t, []string{"SOL"}, rec.published)
	assert.Equal(t, t0.Add(time.Second).UnixNano(), svc.LastTick().UnixNano())
}

func TestServiceRunConsumesFeed(t *testing.T) {
	store := newMockStore()
	store.add(pairPosition("pos-1", "ABC123"))
	feed := &mockFeed{ch: make(chan port.Tick, 4)}
	svc := NewService(ServiceDeps{
		Feed:        feed,
		Instruments: testInstruments,
		Positions:   store,
	})
	conn := newMockConn("c1")
	require.NoError(t, svc.Connect("ABC123", conn))

	t0 := time.Unix(1700000000, 0)
	feed.ch <- tick(btcIndex, 50, t0)
	feed.ch <- tick(solIndex, 100.5, t0)
	close(feed.ch)

	require.NoError(t, svc.Run(context.Background()))
	assert.Len(t, conn.FramesOfType(FramePositionUpdate), 1)
	assert.Equal(t, port.FeedConnected, svc.FeedState())
}

func TestServiceRunWithoutFeed(t *testing.T) {
	svc := NewService(ServiceDeps{Positions: newMockStore()})
	assert.ErrorIs(t, svc.Run(context.Background()), ErrNoFeed)
	assert.Equal(t, port.FeedDisconnected, svc.FeedState())
}

func TestServiceCloseAll(t *testing.T) {
	svc := newTestService(newMockStore(), nil)
	a, b := newMockConn("a"), newMockConn("b")
	require.NoError(t, svc.Connect("A", a))
	require.NoError(t, svc.Connect("B", b))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	svc.CloseAll(ctx)

	assert.False(t, a.Alive())
	assert.False(t, b.Alive())
	assert.Equal(t, 0, svc.Registry().Len())
	assert.NoError(t, ctx.Err(), "returned once every connection reported done")
}

func TestServiceCloseAllBoundedByContext(t *testing.T) {
	svc := newTestService(newMockStore(), nil)
	slow := newMockConn("slow")
	slow.stuck = true
	require.NoError(t, svc.Connect("A", slow))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	svc.CloseAll(ctx)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, slow.Alive())
}

// closingFeed 模拟真实数据源：ctx 结束后先断开上游，再关闭 ticks
type closingFeed struct {
	ch           chan port.Tick
	disconnected chan struct{}
}

func (f *closingFeed) Name() string { return "MOCK" }
func (f *closingFeed) Subscribe(ctx context.Context) (<-chan port.Tick, error) {
	go func() {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		close(f.disconnected)
		close(f.ch)
	}()
	return f.ch, nil
}
func (f *closingFeed) State() port.FeedState { return port.FeedDisconnected }

func TestServiceRunWaitsForFeedToClose(t *testing.T) {
	feed := &closingFeed{ch: make(chan port.Tick, 4), disconnected: make(chan struct{})}
	svc := NewService(ServiceDeps{Feed: feed, Instruments: testInstruments, Positions: newMockStore()})

	ctx, cancel := context.WithCancel(context.Background())
	feed.ch <- tick(solIndex, 100, time.Unix(1700000000, 0))
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	select {
	case <-feed.disconnected:
	default:
		t.Fatal("Run returned before the feed disconnected")
	}
}
