package realtime

// Event names pushed to connected clients.
const (
	EventNotification       = "notification"
	EventMessageSent        = "message_sent"
	EventTyping             = "typing"
	EventReadCursorAdvanced = "read_cursor_advanced"
	EventPong               = "pong"
)

// Frame is a JSON payload delivered to a connected client. Within one
// connection, frames arrive in the order they were pushed.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Identity is the authenticated principal behind a connection. It is resolved
// upstream by the auth collaborator and passed in at connect time; the hub
// never derives or re-validates it.
type Identity struct {
	UserID   string
	TenantID string
	Role     string
}

// Pusher delivers a frame to a single connection, best effort.
type Pusher interface {
	Push(connID string, frame Frame) error
}
