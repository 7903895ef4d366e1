package ws

import "time"

// Message is the envelope pushed to websocket clients
type Message struct {
	Type      string    `json:"type"` // "metrics"
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NewMessage creates a metrics message for topic
func NewMessage(topic string, payload any) *Message {
	return &Message{
		Type:      "metrics",
		Topic:     topic,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}
