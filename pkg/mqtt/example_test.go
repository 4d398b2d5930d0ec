package mqtt_test

import (
	"context"
	"fmt"
	"time"

	"github.com/autopeer-io/bankupdate/pkg/log"
	"github.com/autopeer-io/bankupdate/pkg/mqtt"
)

// ExampleClient shows a request/reply exchange over MQTT v5 properties.
func ExampleClient() {
	cfg := &mqtt.ClientConfig{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "bankctl-example",
		KeepAlive:      60,
		ConnectTimeout: 5 * time.Second,
		CleanStart:     true,
	}

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		log.Error(err, "Failed to create MQTT client")
		return
	}

	// Start returns immediately; the connection (and reconnects) happen in the background.
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		log.Error(err, "Failed to start MQTT client")
		return
	}

	replies := "bankupdate/v1/bank/response/bankctl-example"
	if err := client.Subscribe(ctx, replies, 1, func(ctx context.Context, msg *mqtt.Message) {
		fmt.Printf("reply %s: %s\n", msg.CorrelationData, msg.Payload)
	}); err != nil {
		log.Error(err, "Failed to subscribe", "topic", replies)
	}

	if err := client.AwaitConnection(ctx); err != nil {
		log.Error(err, "Connection timed out")
		return
	}

	req := &mqtt.Message{
		Topic:           "bankupdate/v1/bank/request/dev-1",
		Payload:         []byte(`{"command":"DetectBank"}`),
		QoS:             1,
		ContentType:     "application/json",
		ResponseTopic:   replies,
		CorrelationData: []byte("req-1"),
	}
	if err := client.Publish(ctx, req); err != nil {
		log.Error(err, "Failed to publish message", "topic", req.Topic)
	}

	client.Disconnect(ctx)
}
