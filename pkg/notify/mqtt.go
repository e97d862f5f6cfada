// Package notify publishes run summaries to an MQTT broker so other home
// automation pieces can react to fresh data without polling the HTTP API.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"energysync/pkg/collect"
)

const publishTimeout = 10 * time.Second

// Publisher sends collection summaries to a broker topic.
type Publisher struct {
	client mqtt.Client
	topic  string
	log    zerolog.Logger
}

// Connect dials the broker. The connection auto-reconnects; a broker
// outage degrades to dropped notifications, never a failed run.
func Connect(broker, topic string, log zerolog.Logger) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("energysync").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(publishTimeout)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", broker, token.Error())
	}

	return &Publisher{
		client: client,
		topic:  topic,
		log:    log.With().Str("component", "notify").Logger(),
	}, nil
}

// PublishSummary sends one run summary as retained JSON, so late
// subscribers see the latest run immediately.
func (p *Publisher) PublishSummary(summary *collect.Summary) {
	payload, err := json.Marshal(summary)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to encode run summary")
		return
	}

	token := p.client.Publish(p.topic, 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.log.Warn().Str("topic", p.topic).Msg("mqtt publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		p.log.Warn().Err(err).Str("topic", p.topic).Msg("mqtt publish failed")
		return
	}
	p.log.Debug().Str("topic", p.topic).Int("bytes", len(payload)).Msg("run summary published")
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
