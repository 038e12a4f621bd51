package types

// WSClientMessage is sent by websocket clients to choose the event types they receive.
type WSClientMessage struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	Event  string `json:"event"`  // event type such as "claim.triggered", or "*" for all
}

// WSServerMessage is sent to websocket clients.
type WSServerMessage struct {
	Type    string      `json:"type"` // event type, or "subscribed", "unsubscribed", "info", "error"
	Payload interface{} `json:"payload"`
}
