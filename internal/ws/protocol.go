package ws

import (
	"time"

	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/reachability"
)

type MessageType string

const (
	MsgState MessageType = "state"
	MsgError MessageType = "error"
)

// Error codes carried in ErrorPayload.
const (
	CodeActivationFailed = "activation_failed"
	CodeShuttingDown     = "shutting_down"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type StatePayload struct {
	State reachability.State `json:"state"`
	At    time.Time          `json:"at"`
	Seq   uint64             `json:"seq"`
	Error string             `json:"error,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newStateMessage(u reachability.Update) WSMessage {
	p := StatePayload{State: u.State, At: u.At, Seq: u.Seq}
	if u.Err != nil {
		p.Error = u.Err.Error()
	}
	return WSMessage{Type: MsgState, Payload: p}
}
