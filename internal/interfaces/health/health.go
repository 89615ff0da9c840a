package health

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"pnlrelay/internal/application/port"
	"pnlrelay/internal/domain/model"
)

// Source 运行状态，由 relay.Service 实现
type Source interface {
	FeedState() port.FeedState
	LastTick() time.Time
	Started() time.Time
	Subscribers() int
	Prices() []model.PriceSample
}

type priceView struct {
	Index      int     `json:"index"`
	Symbol     string  `json:"symbol,omitempty"`
	Price      float64 `json:"price"`
	ObservedAt int64   `json:"observedAtMs"`
}

type status struct {
	Ready        bool        `json:"ready"`
	Feed         string      `json:"feed"`
	LastTickUnix int64       `json:"lastTickUnix"`
	Subscribers  int         `json:"subscribers"`
	UptimeSec    int64       `json:"uptimeSec"`
	Prices       []priceView `json:"prices"`
}

// Register 挂载 /livez /readyz /healthz；symbols 用于在 /healthz 中显示市场名称
func Register(mux *http.ServeMux, src Source, symbols map[int]string) {
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ready：上游已连接
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if src.FeedState() != port.FeedConnected {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		st := status{
			Ready:       src.FeedState() == port.FeedConnected,
			Feed:        src.FeedState().String(),
			Subscribers: src.Subscribers(),
			UptimeSec:   int64(time.Since(src.Started()).Seconds()),
			Prices:      []priceView{},
		}
		if t := src.LastTick(); !t.IsZero() {
			st.LastTickUnix = t.Unix()
		}
		for _, p := range src.Prices() {
			st.Prices = append(st.Prices, priceView{
				Index:      p.Index,
				Symbol:     symbols[p.Index],
				Price:      p.Price,
				ObservedAt: p.ObservedAt.UnixMilli(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = sonic.ConfigDefault.NewEncoder(w).Encode(st)
	})
}
