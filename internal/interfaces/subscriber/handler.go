package subscriber

import (
	"net/http"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog/log"

	"pnlrelay/internal/application/usecase/relay"
)

// Relay 连接生命周期回调，由 relay.Service 实现
type Relay interface {
	Connect(identity string, c relay.Conn) error
	Disconnect(identity string, c relay.Conn)
	HandleClientFrame(c relay.Conn, payload []byte)
}

// Handler 订阅者入口：GET /ws?wallet=<address>
type Handler struct {
	relay Relay
	opts  ConnOptions
}

func NewHandler(r Relay, opts ConnOptions) *Handler {
	return &Handler{relay: r, opts: opts}
}

const walletParam = "wallet"

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get(walletParam)

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := NewConn(netConn, h.opts)
	go c.writePump()

	if err := h.relay.Connect(wallet, c); err != nil {
		log.Info().Err(err).Str("conn", c.ID()).Str("remote", c.RemoteAddr()).Msg("subscriber rejected")
		c.Close()
		return
	}

	go func() {
		c.readPump(func(payload []byte) {
			h.relay.HandleClientFrame(c, payload)
		})
		h.relay.Disconnect(wallet, c)
		log.Debug().Str("conn", c.ID()).Str("remote", c.RemoteAddr()).Msg("read pump exited")
	}()
}
