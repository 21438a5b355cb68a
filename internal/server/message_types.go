package server

// MessageType represents a WebSocket message type with type safety
type MessageType string

// WebSocket message type constants
// These are used for client-server communication protocol
const (
	// Client to server messages
	MessageTypeJoinRoom  MessageType = "join_room"
	MessageTypeStartGame MessageType = "start_game"
	MessageTypeAction    MessageType = "action"
	MessageTypePoolStats MessageType = "pool_stats"
	MessageTypeResetPool MessageType = "reset_pool"

	// Server to client messages
	MessageTypeRoomCreated   MessageType = "room:created"
	MessageTypeRoomReady     MessageType = "room:ready"
	MessageTypeGameStarted   MessageType = "game:started"
	MessageTypeRoomState     MessageType = "room:state"
	MessageTypeGameOver      MessageType = "game:over"
	MessageTypePoolStatsInfo MessageType = "pool:stats"
	MessageTypePoolReset     MessageType = "pool:reset"
	MessageTypeError         MessageType = "error"
)

// String returns the string representation of the message type
func (mt MessageType) String() string {
	return string(mt)
}
