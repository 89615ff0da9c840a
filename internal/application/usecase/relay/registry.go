package relay

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrConnClosed    = errors.New("connection closed")
	ErrSendQueueFull = errors.New("send queue full")
)

// Conn 订阅者连接句柄，由传输层实现
type Conn interface {
	ID() string
	// SendJSON 非阻塞入队；连接已关闭返回 ErrConnClosed，队列满返回 ErrSendQueueFull
	SendJSON(v any) error
	Alive() bool
	Close()
	// Done 在底层传输关闭后关闭
	Done() <-chan struct{}
}

type Entry struct {
	Identity string
	Conn     Conn
}

// Registry 身份 -> 活跃连接，每个身份最多一条
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Add 注册连接；同一身份已存在时替换并返回旧连接（是否关闭由调用方决定）
func (r *Registry) Add(identity string, c Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.conns[identity]
	r.conns[identity] = c
	return prev
}

func (r *Registry) Remove(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, identity)
}

// RemoveConn 仅当当前登记的就是 c 时才删除，避免被替换的旧连接关闭时踢掉新连接
func (r *Registry) RemoveConn(identity string, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.conns[identity]; ok && cur == c {
		delete(r.conns, identity)
		return true
	}
	return false
}

func (r *Registry) Get(identity string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[identity]
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot 当前时刻的副本（按身份排序），之后的增删不影响它
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.conns))
	for id, c := range r.conns {
		out = append(out, Entry{Identity: id, Conn: c})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}
