package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"pnlrelay/internal/domain/model"
)

var (
	ErrPositionNotFound = errors.New("position not found")
	ErrWalletRequired   = errors.New("wallet address required")
)

// PositionWriter 持仓写入（开仓/平仓由外部服务完成，这里只用于初始化和测试数据）
type PositionWriter interface {
	CreateUser(ctx context.Context, wallet string) (int64, error)
	CreatePosition(ctx context.Context, pos model.Position) error
	SetStatus(ctx context.Context, id string, status model.PositionStatus) error
}

// NormalizeWallet 钱包地址区分大小写，只去掉首尾空白
func NormalizeWallet(wallet string) string {
	return strings.TrimSpace(wallet)
}

// InMemoryPositionStore 内存实现，positions=memory 时使用
type InMemoryPositionStore struct {
	mu        sync.RWMutex
	positions map[string]model.Position
	users     map[string]int64
}

func NewInMemoryPositionStore() *InMemoryPositionStore {
	return &InMemoryPositionStore{
		positions: make(map[string]model.Position),
		users:     make(map[string]int64),
	}
}

func (s *InMemoryPositionStore) CreateUser(ctx context.Context, wallet string) (int64, error) {
	wallet = NormalizeWallet(wallet)
	if wallet == "" {
		return 0, ErrWalletRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.users[wallet]; ok {
		return id, nil
	}
	id := int64(len(s.users) + 1)
	s.users[wallet] = id
	return id, nil
}

func (s *InMemoryPositionStore) CreatePosition(ctx context.Context, pos model.Position) error {
	if _, err := s.CreateUser(ctx, pos.Owner); err != nil {
		return err
	}
	pos.Owner = NormalizeWallet(pos.Owner)
	if pos.Status == "" {
		pos.Status = model.PositionOpen
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.ID] = pos
	return nil
}

func (s *InMemoryPositionStore) SetStatus(ctx context.Context, id string, status model.PositionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return ErrPositionNotFound
	}
	pos.Status = status
	s.positions[id] = pos
	return nil
}

// FindOpenPositions 返回未平仓（OPEN / PARTIAL）持仓，按 ID 排序
func (s *InMemoryPositionStore) FindOpenPositions(ctx context.Context, identity string) ([]model.Position, error) {
	identity = NormalizeWallet(identity)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions {
		if p.Owner == identity && p.Status != model.PositionClosed {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
