package mqtt

import (
	"context"
)

// Message is a single MQTT v5 application message. ResponseTopic and CorrelationData
// carry the request/response properties when present.
type Message struct {
	Topic   string
	Payload []byte
	QoS     int
	Retain  bool

	ContentType     string
	ResponseTopic   string
	CorrelationData []byte
}

// MessageHandler defines the callback function for processing received MQTT messages.
type MessageHandler func(ctx context.Context, msg *Message)

// Client defines the interface for a generic MQTT client.
// It abstracts the underlying paho implementation details.
type Client interface {
	// Start initiates the connection to the broker.
	// It is non-blocking and returns immediately. Use AwaitConnection to wait.
	Start(ctx context.Context) error

	// Disconnect cleanly closes the connection.
	Disconnect(ctx context.Context)

	// Publish sends a message, including its v5 properties.
	Publish(ctx context.Context, msg *Message) error

	// Subscribe registers a handler for a specific topic filter.
	// It handles the underlying MQTT subscription packet sending.
	// If the connection is lost and restored, this client will automatically re-subscribe.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	// Unsubscribe removes the handler and sends an UNSUBSCRIBE packet.
	Unsubscribe(ctx context.Context, topic string) error

	// AwaitConnection blocks until the client is connected to the broker.
	AwaitConnection(ctx context.Context) error

	// IsConnected returns true if the client is currently connected.
	IsConnected() bool
}
