package relay

// Message is the JSON envelope exchanged with the GUI shell.
type Message struct {
	ID      string         `json:"id,omitempty"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

const (
	// Requests sent to the shell; each is answered by MessageTypeAck or MessageTypeError with the same ID.
	MessageTypeOpen      = "surface.open"
	MessageTypeClose     = "surface.close"
	MessageTypeAttention = "surface.attention"

	// Events reported by the shell.
	MessageTypeNavigated = "surface.navigated"
	MessageTypeClosed    = "surface.closed"

	MessageTypeAck   = "ack"
	MessageTypeError = "error"
	MessageTypePing  = "ping"
	MessageTypePong  = "pong"
)

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}
