package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/autopeer-io/bankupdate/internal/pkg/middleware"
	"github.com/autopeer-io/bankupdate/pkg/log"
	"github.com/autopeer-io/bankupdate/pkg/mqtt"
	"github.com/autopeer-io/bankupdate/pkg/mqtt/topic"
	"github.com/autopeer-io/bankupdate/pkg/options"
)

const defaultPublishTimeout = 5 * time.Second

// MqttServer answers requests published to {root}/bank/request/{deviceID}. Replies go
// to the request's response topic, or {root}/bank/response/{deviceID}, carrying the
// request's correlation data.
type MqttServer struct {
	client   mqtt.Client
	topics   *topic.TopicBuilder
	deviceID string
	handler  middleware.HandlerFunc
}

// NewMqttServer builds the MQTT client from options, with a last will that marks the
// device offline.
func NewMqttServer(opts *options.MqttOptions, handler middleware.HandlerFunc) (*MqttServer, error) {
	s := &MqttServer{
		topics:   topic.NewTopicBuilder(opts.TopicRoot),
		deviceID: opts.DeviceID,
		handler:  handler,
	}

	cfg := opts.ToClientConfig()
	cfg.WillTopic = s.topics.Online(s.deviceID)
	cfg.WillPayload = []byte(topic.PresenceOffline)
	cfg.WillQoS = topic.QoS
	cfg.WillRetain = true
	cfg.OnConnectionUp = s.announce

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	s.client = client
	return s, nil
}

// NewMqttServerWithClient serves over an existing client.
func NewMqttServerWithClient(client mqtt.Client, root, deviceID string, handler middleware.HandlerFunc) *MqttServer {
	return &MqttServer{
		client:   client,
		topics:   topic.NewTopicBuilder(root),
		deviceID: deviceID,
		handler:  handler,
	}
}

// Start serves until ctx is done.
func (s *MqttServer) Start(ctx context.Context) error {
	if err := s.client.Start(ctx); err != nil {
		return fmt.Errorf("start mqtt client: %w", err)
	}

	req := s.topics.BankRequest(s.deviceID)
	if err := s.client.Subscribe(ctx, req, topic.QoS, s.onRequest); err != nil {
		// Re-subscribed on connect.
		log.Warn("Initial MQTT subscribe failed", "topic", req, "err", err)
	}
	log.Info("MQTT endpoint serving", "topic", req)

	<-ctx.Done()

	// The run context is already done, so the offline publish gets its own timeout.
	bye, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()
	if s.client.IsConnected() {
		if err := s.client.Publish(bye, &mqtt.Message{
			Topic:   s.topics.Online(s.deviceID),
			Payload: []byte(topic.PresenceOffline),
			QoS:     topic.QoS,
			Retain:  true,
		}); err != nil {
			log.Error(err, "Failed to publish offline state")
		}
	}
	s.client.Disconnect(bye)
	return nil
}

func (s *MqttServer) onRequest(ctx context.Context, msg *mqtt.Message) {
	reply := s.handler(withEndpoint(ctx, "mqtt"), msg.Payload)

	out := &mqtt.Message{
		Topic:           msg.ResponseTopic,
		Payload:         reply,
		QoS:             topic.QoS,
		ContentType:     topic.ContentTypeJSON,
		CorrelationData: msg.CorrelationData,
	}
	if out.Topic == "" {
		out.Topic = s.topics.BankResponse(s.deviceID)
	}

	pubCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	if err := s.client.Publish(pubCtx, out); err != nil {
		log.Error(err, "Failed to publish reply", "topic", out.Topic)
	}
}

// announce marks the device online after every (re)connection.
func (s *MqttServer) announce() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()
	if err := s.client.Publish(ctx, &mqtt.Message{
		Topic:   s.topics.Online(s.deviceID),
		Payload: []byte(topic.PresenceOnline),
		QoS:     topic.QoS,
		Retain:  true,
	}); err != nil {
		log.Error(err, "Failed to publish online state")
	}
}
