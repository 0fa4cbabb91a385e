package phxsocket

// Phoenix channel control events.
const (
	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventReply     = "phx_reply"
	EventHeartbeat = "heartbeat"
)

// Synthetic events delivered to subscribers when the connection is lost.
// EventClose is used for a clean closure, EventError for everything else.
const (
	EventClose = "close"
	EventError = "error"
)

// heartbeatTopic is the reserved topic heartbeats are sent on.
const heartbeatTopic = "phoenix"

// Message is a single protocol message. The payload is opaque to this
// package; the Serializer decides its wire shape.
//
// Ref is assigned by the Socket at enqueue time and is unique per Socket
// instance. JoinRef is set on join control messages (it equals the join's
// own ref) and ties subsequent messages to a channel session. A message is
// immutable once its ref is assigned.
type Message struct {
	Topic   string
	Event   string
	Payload any
	Ref     string
	JoinRef string
}
