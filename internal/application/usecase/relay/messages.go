package relay

import "pnlrelay/internal/domain/model"

// 订阅端下行帧类型
const (
	FrameSubscribed     = "subscribed"
	FrameError          = "error"
	FramePositionUpdate = "position_update"
	FramePong           = "pong"
)

// 订阅端上行帧类型
const FramePing = "ping"

const MsgWalletRequired = "Wallet address required"

type Frame struct {
	Type    string           `json:"type"`
	Message string           `json:"message,omitempty"`
	Data    *model.PnLUpdate `json:"data,omitempty"`
}

func SubscribedFrame(identity string) Frame {
	return Frame{Type: FrameSubscribed, Message: "Subscribed to position updates for " + identity}
}

func ErrorFrame(msg string) Frame {
	return Frame{Type: FrameError, Message: msg}
}

func PositionUpdateFrame(upd model.PnLUpdate) Frame {
	return Frame{Type: FramePositionUpdate, Data: &upd}
}

func PongFrame() Frame {
	return Frame{Type: FramePong}
}
