package relay

import (
	"context"
	"encoding/json"
	"sync"

	"pnlrelay/internal/domain/model"
)

// mockConn records every frame it accepts
type mockConn struct {
	id string

	mu     sync.Mutex
	frames []Frame
	closed bool

	done chan struct{}
	// stuck 为 true 时 Close 不会关闭 done，模拟迟迟不断开的传输层
	stuck bool
}

func newMockConn(id string) *mockConn { return &mockConn{id: id, done: make(chan struct{})} }

func (c *mockConn) ID() string { return c.id }

func (c *mockConn) SendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *mockConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *mockConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed && !c.stuck {
		close(c.done)
	}
	c.closed = true
}

func (c *mockConn) Done() <-chan struct{} { return c.done }

func (c *mockConn) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *mockConn) FramesOfType(typ string) []Frame {
	var out []Frame
	for _, f := range c.Frames() {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

// mockStore returns positions by owner; onLookup runs before each lookup
type mockStore struct {
	mu        sync.Mutex
	positions map[string][]model.Position
	errs      map[string]error
	lookups   []string
	onLookup  func(identity string)
}

func newMockStore() *mockStore {
	return &mockStore{
		positions: make(map[string][]model.Position),
		errs:      make(map[string]error),
	}
}

func (s *mockStore) add(p model.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.Owner] = append(s.positions[p.Owner], p)
}

func (s *mockStore) FindOpenPositions(ctx context.Context, identity string) ([]model.Position, error) {
	if s.onLookup != nil {
		s.onLookup(identity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, identity)
	if err := s.errs[identity]; err != nil {
		return nil, err
	}
	return append([]model.Position(nil), s.positions[identity]...), nil
}

const (
	solIndex = 0
	btcIndex = 1
	ethIndex = 2
)

func pairPosition(id, owner string) model.Position {
	return model.Position{
		ID:         id,
		Owner:      owner,
		LongIndex:  solIndex,
		ShortIndex: btcIndex,
		EntryRatio: 2.0,
		Capital:    1000,
		Leverage:   5,
		Status:     model.PositionOpen,
	}
}
