package proto

// Version tracks the wire-protocol revision expected by clients. Binary
// snapshot and input layouts change only with this number.
const Version = 1

// Control messages ride the websocket as JSON text frames; only the
// high-rate input/snapshot payloads use the binary layout.
const (
	TypeJoin      = "join"
	TypeJoined    = "joined"
	TypeHeartbeat = "heartbeat"
	TypeInputAck  = "inputAck"
	TypeInputNack = "inputNack"
	TypeError     = "error"
)

// JoinRequest is the first text frame a client sends. It is validated
// against the embedded JSON schema before any state is allocated for the
// session.
type JoinRequest struct {
	Ver  int    `json:"ver"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// JoinResponse tells the client its identity and the fixed simulation
// parameters it must mirror for prediction.
type JoinResponse struct {
	Ver        int     `json:"ver"`
	Type       string  `json:"type"`
	ClientID   uint64  `json:"clientId"`
	Session    string  `json:"session"`
	TickRateHz int     `json:"tickRateHz"`
	MaxSpeed   float64 `json:"maxSpeed"`
	ArenaWidth float64 `json:"arenaWidth"`
	ArenaDepth float64 `json:"arenaDepth"`
}

// HeartbeatMessage is echoed by the server with timing fields filled in so
// the client and server agree on a round-trip estimate.
type HeartbeatMessage struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	ClientTime int64  `json:"clientTime"`
	ServerTime int64  `json:"serverTime,omitempty"`
	RTTMillis  int64  `json:"rtt,omitempty"`
}

// InputAck confirms the staged sequence number.
type InputAck struct {
	Ver  int    `json:"ver"`
	Type string `json:"type"`
	Seq  uint32 `json:"seq"`
	Tick uint64 `json:"tick,omitempty"`
}

// InputNack reports a rejected sequence number with the validation reason.
// Retry is set when the rejection was backpressure rather than a rule.
type InputNack struct {
	Ver    int    `json:"ver"`
	Type   string `json:"type"`
	Seq    uint32 `json:"seq"`
	Reason string `json:"reason"`
	Retry  bool   `json:"retry,omitempty"`
}

// ErrorMessage is the terminal response for a session the server refuses.
type ErrorMessage struct {
	Ver     int    `json:"ver"`
	Type    string `json:"type"`
	Message string `json:"message"`
}
