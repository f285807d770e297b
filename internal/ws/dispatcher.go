package ws

import (
	"log"

	"github.com/inkboard/board-app/internal/metrics"
	"github.com/inkboard/board-app/internal/protocol"
)

// MessageHandler handles one parsed board message from a session. msg is
// the value returned by protocol.ParseClientMessage: protocol.DrawMsg for
// a draw, protocol.ClearMsg for a clear.
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes a session's frames to the board. The app
// registers draw and clear; ping is answered here so keepalives never
// reach the hub. Frames that are not board messages get an error reply
// and the session stays connected.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
}

// NewMessageDispatcher creates a dispatcher with only ping wired.
func NewMessageDispatcher() *MessageDispatcher {
	return &MessageDispatcher{handlers: make(map[string]MessageHandler)}
}

// Register routes msgType to h, replacing any earlier route.
func (d *MessageDispatcher) Register(msgType string, h MessageHandler) {
	d.handlers[msgType] = h
}

// Dispatch is the server's onMessage callback. Frames of one session
// arrive here one at a time, so a session's draws reach the hub in the
// order it sent them.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		metrics.MessagesReceived.WithLabelValues("invalid").Inc()
		log.Printf("ws: unparsable frame session=%s: %v", conn.ID, err)
		d.reply(conn, protocol.TypeError, protocol.ErrorMsg{
			Code:    protocol.CodeParseError,
			Message: "invalid message format",
		})
		return
	}
	metrics.MessagesReceived.WithLabelValues(msgType).Inc()

	if msgType == protocol.TypePing {
		conn.Touch()
		d.reply(conn, protocol.TypePong, protocol.PongMsg{})
		return
	}

	h, ok := d.handlers[msgType]
	if !ok {
		log.Printf("ws: no board route for type=%q session=%s", msgType, conn.ID)
		d.reply(conn, protocol.TypeError, protocol.ErrorMsg{
			Code:    protocol.CodeUnsupportedType,
			Message: "unsupported message type",
		})
		return
	}
	h(conn, msg)
}

// reply writes a server message straight to the connection, outside the
// hub's ordered stream. Failures are logged; the heartbeat or the next
// hub write evicts a dead connection.
func (d *MessageDispatcher) reply(conn *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("ws: encode %s session=%s: %v", msgType, conn.ID, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: send %s session=%s: %v", msgType, conn.ID, err)
	}
}
