package subscriber

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"pnlrelay/internal/application/usecase/relay"
)

const (
	maxMessageSize = 64 * 1024

	defaultQueueSize  = 256
	defaultWriteWait  = 5 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultPingPeriod = 50 * time.Second
)

type ConnOptions struct {
	QueueSize  int
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	return o
}

// Conn 一个订阅者的 websocket 连接
// 写操作只发生在 writePump 中；SendJSON 只入队，不阻塞广播
type Conn struct {
	id   string
	conn net.Conn
	opts ConnOptions

	send      chan []byte
	pongs     chan []byte // 控制帧回复，同样由 writePump 写出
	done      chan struct{}
	closed    chan struct{} // writePump 退出、net.Conn 已关闭
	closeOnce sync.Once
	alive     atomic.Bool
}

func NewConn(conn net.Conn, opts ConnOptions) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		id:     uuid.NewString(),
		conn:   conn,
		opts:   opts,
		send:   make(chan []byte, opts.QueueSize),
		pongs:  make(chan []byte, 4),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Alive() bool { return c.alive.Load() }

func (c *Conn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *Conn) Done() <-chan struct{} { return c.closed }

func (c *Conn) SendJSON(v any) error {
	if !c.alive.Load() {
		return relay.ErrConnClosed
	}
	b, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return relay.ErrConnClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		return relay.ErrSendQueueFull
	}
}

// Close 标记连接关闭；writePump 会先写出已入队的帧，再发送 close 帧并断开
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		close(c.done)
	})
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.conn.Close()
		close(c.closed)
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				log.Debug().Err(err).Str("conn", c.id).Msg("write failed")
				return
			}

		case payload := <-c.pongs:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPong, payload); err != nil {
				return
			}

		case <-c.done:
			c.flush()
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			_, _ = c.conn.Write(ws.CompiledClose)
			return

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) write(msg []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return wsutil.WriteServerText(c.conn, msg)
}

// flush 关闭前写出队列中剩余的帧（例如 error 帧）
func (c *Conn) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readPump 读取客户端帧直到出错或收到 close；onText 处理文本帧
func (c *Conn) readPump(onText func(payload []byte)) {
	defer c.Close()

	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			return
		}
		if header.Length > int64(maxMessageSize) {
			log.Warn().Str("conn", c.id).Int64("size", header.Length).Msg("client frame too big")
			return
		}
		if !header.Fin {
			log.Warn().Str("conn", c.id).Msg("fragmented client frame not supported")
			return
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			return
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPing:
			select {
			case c.pongs <- payload:
			default:
			}
		case ws.OpText:
			onText(payload)
		}
	}
}
