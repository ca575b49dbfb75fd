package metrics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"qservworker/internal/logging"
)

// MQTTHeartbeat publishes each sweep Snapshot as a retained JSON message,
// so a monitoring subscriber always reads the worker's most recent state
// instead of having to catch a specific publish.
type MQTTHeartbeat struct {
	client mqtt.Client
	topic  string
	logger *slog.Logger
}

// NewMQTTHeartbeat connects to broker addr and publishes snapshots under
// topic. clientID should be unique per worker process.
func NewMQTTHeartbeat(addr, clientID, topic string, logger *slog.Logger) (*MQTTHeartbeat, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(addr).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", addr, token.Error())
	}

	return &MQTTHeartbeat{
		client: client,
		topic:  topic,
		logger: logging.Default(logger).With("component", "metrics.heartbeat"),
	}, nil
}

// Publish implements Publisher.
func (h *MQTTHeartbeat) Publish(snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	token := h.client.Publish(h.topic, 0, true, payload)
	token.Wait()
	return token.Error()
}

// Close disconnects from the broker.
func (h *MQTTHeartbeat) Close() {
	h.client.Disconnect(250)
}
