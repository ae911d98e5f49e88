package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/rodentwatch/internal/errors"
)

// MQTTProvider publishes alerts as JSON to an MQTT topic. The connection is
// established lazily on first send and reused; broker outages surface as
// retryable errors so the dispatcher's backoff handles reconnection pacing.
type MQTTProvider struct {
	name     string
	broker   string
	topic    string
	clientID string
	username string
	password string
	timeout  time.Duration

	mu     sync.Mutex
	client mqtt.Client
}

func NewMQTTProvider(name, broker, topic, clientID, username, password string, timeout time.Duration) *MQTTProvider {
	if clientID == "" {
		clientID = "rodentwatch-" + name
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MQTTProvider{
		name:     name,
		broker:   broker,
		topic:    topic,
		clientID: clientID,
		username: username,
		password: password,
		timeout:  timeout,
	}
}

func (m *MQTTProvider) Name() string { return m.name }

func (m *MQTTProvider) ValidateConfig() error {
	if m.broker == "" || m.topic == "" {
		return errors.Newf("channel %s: mqtt requires both broker and topic", m.name).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// connect returns a connected client, dialing if necessary.
func (m *MQTTProvider) connect(ctx context.Context) (mqtt.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil && m.client.IsConnectionOpen() {
		return m.client, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(m.broker).
		SetClientID(m.clientID).
		SetConnectTimeout(m.timeout).
		SetAutoReconnect(false).
		SetCleanSession(true)
	if m.username != "" {
		opts.SetUsername(m.username)
		opts.SetPassword(m.password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(m.timeout) {
		client.Disconnect(0)
		return nil, errors.Newf("timed out connecting to mqtt broker %s", m.broker).
			Component("notify").
			Category(errors.CategoryNetwork).
			Context("channel", m.name).
			Retryable(true).
			Build()
	}
	if err := token.Error(); err != nil {
		return nil, errors.New(err).
			Component("notify").
			Category(errors.CategoryNetwork).
			Context("channel", m.name).
			Context("broker", m.broker).
			Retryable(true).
			Build()
	}

	m.client = client
	return client, nil
}

func (m *MQTTProvider) Send(ctx context.Context, alert *Alert) error {
	client, err := m.connect(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]any{
		"id":         alert.ID,
		"species":    alert.Species,
		"confidence": alert.Confidence,
		"timestamp":  alert.Timestamp.Format(time.RFC3339),
		"source":     alert.SourceID,
		"evidence":   alert.EvidencePath,
	})
	if err != nil {
		return errors.New(err).
			Component("notify").
			Category(errors.CategoryValidation).
			Context("channel", m.name).
			Build()
	}

	token := client.Publish(m.topic, 1, false, payload)
	if !token.WaitTimeout(m.timeout) {
		return errors.Newf("timed out publishing to %s", m.topic).
			Component("notify").
			Category(errors.CategoryNetwork).
			Context("channel", m.name).
			Retryable(true).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("notify").
			Category(errors.CategoryDelivery).
			Context("channel", m.name).
			Context("topic", m.topic).
			Retryable(true).
			Build()
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTTProvider) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		m.client.Disconnect(250)
		m.client = nil
	}
}
