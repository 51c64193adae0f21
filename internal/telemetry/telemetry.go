// Package telemetry publishes rover state snapshots over MQTT as a
// best-effort side channel. A broker outage never blocks or fails the
// control loop; snapshots published while disconnected are simply
// dropped.
package telemetry

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/strayline/roverctl/internal/config"
	"github.com/strayline/roverctl/internal/protocol"
	"github.com/strayline/roverctl/internal/ranging"
)

// Snapshot is one telemetry sample.
type Snapshot struct {
	Timestamp     time.Time                        `json:"timestamp"`
	LinkConnected bool                             `json:"link_connected"`
	MotorState    string                           `json:"motor_state"`
	LastCommand   *protocol.MotorCommand           `json:"last_command,omitempty"`
	Ranging       map[string]ranging.SensorReading `json:"ranging,omitempty"`
}

// Publisher owns the MQTT session. The zero-value semantics of a nil
// *Publisher are deliberate: every method is a no-op, so callers with
// telemetry disabled hold a nil and never branch.
type Publisher struct {
	client    mqtt.Client
	topicBase string
}

// NewPublisher connects to the broker named in cfg. Returns nil (and
// no error) when telemetry is disabled.
func NewPublisher(cfg config.TelemetryConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info().Str("broker", cfg.BrokerURL).Msg("telemetry broker connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("telemetry broker connection lost")
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &Publisher{client: client, topicBase: cfg.TopicBase}, nil
}

// Publish sends one snapshot at QoS 0 without waiting for delivery.
func (p *Publisher) Publish(snap Snapshot) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Msg("telemetry snapshot marshal failed")
		return
	}
	p.client.Publish(p.topicBase+"/state", 0, false, payload)
}

// Close disconnects from the broker, allowing in-flight publishes a
// short grace period.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.client.Disconnect(250)
}
