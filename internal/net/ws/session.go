package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"moba-arena/internal/net/intake"
	"moba-arena/internal/net/proto"
	"moba-arena/internal/server"
	"moba-arena/internal/sim"
	"moba-arena/internal/telemetry"
)

// joinDeadline bounds how long a fresh connection may stall before sending
// its join frame.
const joinDeadline = 10 * time.Second

// Handler drives websocket sessions against the hub. One goroutine per
// connection reads frames; snapshot writes arrive from the tick loop through
// the hub's subscriber.
type Handler struct {
	hub    *server.Hub
	logger telemetry.Logger
}

func NewHandler(hub *server.Hub, logger telemetry.Logger) *Handler {
	return &Handler{hub: hub, logger: logger}
}

// Serve owns conn for the lifetime of the session: join handshake first,
// then a read loop dispatching binary input frames and JSON control frames.
func (h *Handler) Serve(conn *websocket.Conn) {
	if h == nil || h.hub == nil || conn == nil {
		return
	}

	clientID, sub, ok := h.handshake(conn)
	if !ok {
		conn.Close()
		return
	}

	staging := h.hub.IntakeContext()
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			h.hub.Disconnect(clientID, "read_failed")
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if !h.handleInput(staging, clientID, sub, payload) {
				return
			}
		case websocket.TextMessage:
			if !h.handleControl(clientID, sub, payload) {
				return
			}
		}
	}
}

// handshake reads the join frame, registers the client, and returns its
// subscriber. On failure the client gets a terminal error frame.
func (h *Handler) handshake(conn *websocket.Conn) (uint64, *server.Subscriber, bool) {
	conn.SetReadDeadline(time.Now().Add(joinDeadline))
	defer conn.SetReadDeadline(time.Time{})

	messageType, payload, err := conn.ReadMessage()
	if err != nil || messageType != websocket.TextMessage {
		return 0, nil, false
	}

	req, err := proto.ValidateJoin(payload)
	if err != nil {
		h.writeError(conn, "invalid join: "+err.Error())
		return 0, nil, false
	}

	resp, ok := h.hub.Join(req.Name)
	if !ok {
		h.writeError(conn, "join rejected")
		return 0, nil, false
	}

	sub, ok := h.hub.Subscribe(resp.ClientID, resp.Session, conn)
	if !ok {
		h.writeError(conn, "subscribe failed")
		return 0, nil, false
	}

	data, err := json.Marshal(resp)
	if err != nil {
		h.hub.Disconnect(resp.ClientID, "marshal_failed")
		return 0, nil, false
	}
	if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
		h.hub.Disconnect(resp.ClientID, "write_failed")
		return 0, nil, false
	}
	return resp.ClientID, sub, true
}

// handleInput stages one binary input frame and acks or nacks its sequence
// number. Returns false when the session is over.
func (h *Handler) handleInput(staging intake.Context, clientID uint64, sub *server.Subscriber, payload []byte) bool {
	cmd, ok, reason := intake.StageInputFrame(staging, clientID, payload)
	if ok {
		ack := proto.InputAck{Ver: proto.Version, Type: proto.TypeInputAck, Seq: cmd.Input.Seq, Tick: cmd.OriginTick}
		return h.writeJSON(clientID, sub, ack)
	}

	if reason == intake.RejectMalformedPacket {
		if h.logger != nil {
			h.logger.Printf("discarding malformed input frame from client %d", clientID)
		}
		return true
	}

	seq := uint32(0)
	if pkt, err := proto.DecodeInputPacket(payload); err == nil {
		seq = pkt.Seq
	}
	nack := proto.InputNack{
		Ver:    proto.Version,
		Type:   proto.TypeInputNack,
		Seq:    seq,
		Reason: reason,
		Retry:  reason == sim.CommandRejectQueueLimit || reason == sim.CommandRejectQueueFull,
	}
	return h.writeJSON(clientID, sub, nack)
}

// handleControl dispatches a JSON control frame. Returns false when the
// session is over.
func (h *Handler) handleControl(clientID uint64, sub *server.Subscriber, payload []byte) bool {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		if h.logger != nil {
			h.logger.Printf("discarding malformed control frame from client %d: %v", clientID, err)
		}
		return true
	}

	switch probe.Type {
	case proto.TypeHeartbeat:
		var msg proto.HeartbeatMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return true
		}
		now := time.Now()
		rtt, ok := h.hub.UpdateHeartbeat(clientID, now, msg.ClientTime)
		if !ok {
			return true
		}
		echo := proto.HeartbeatMessage{
			Ver:        proto.Version,
			Type:       proto.TypeHeartbeat,
			ClientTime: msg.ClientTime,
			ServerTime: now.UnixMilli(),
			RTTMillis:  rtt.Milliseconds(),
		}
		return h.writeJSON(clientID, sub, echo)
	default:
		if h.logger != nil {
			h.logger.Printf("unknown control type %q from client %d", probe.Type, clientID)
		}
		return true
	}
}

func (h *Handler) writeJSON(clientID uint64, sub *server.Subscriber, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		if h.logger != nil {
			h.logger.Printf("failed to marshal response for client %d: %v", clientID, err)
		}
		return true
	}
	if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
		h.hub.Disconnect(clientID, "write_failed")
		return false
	}
	return true
}

func (h *Handler) writeError(conn *websocket.Conn, message string) {
	msg := proto.ErrorMessage{Ver: proto.Version, Type: proto.TypeError, Message: message}
	if data, err := json.Marshal(msg); err == nil {
		conn.WriteMessage(websocket.TextMessage, data)
	}
}
