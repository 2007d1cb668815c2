// Package publisher forwards telemetry snapshots to an MQTT broker.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"obd-service/internal/config"
	"obd-service/internal/telemetry"
)

const (
	appID          = "obd-service"
	publishTimeout = 5 * time.Second
	quiesceMillis  = 250
)

// machineID is replaced in tests
var machineID = func() (string, error) {
	return machineid.ProtectedID(appID)
}

// Client is the part of paho.Client the publisher uses.
type Client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// SnapshotSource provides the latest telemetry.
type SnapshotSource interface {
	Snapshot() telemetry.Snapshot
}

// Message is the payload published for each snapshot.
type Message struct {
	Vehicle     string    `json:"vehicle"`
	RPM         int       `json:"rpm"`
	Speed       int       `json:"speed"`
	Temperature int       `json:"temperature"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Publisher periodically publishes snapshots. It only reads the shared
// state and never touches the adapter.
type Publisher struct {
	client   Client
	source   SnapshotSource
	topic    string
	qos      byte
	retained bool
	interval time.Duration
	vehicle  string
	logger   *zap.Logger

	lastPublished time.Time
}

// ClientID returns the configured id or one derived from the machine id.
func ClientID(cfg *config.MQTTConfig) (string, error) {
	if cfg.ClientID != "" {
		return cfg.ClientID, nil
	}
	id, err := machineID()
	if err != nil {
		return "", fmt.Errorf("failed to read machine id: %w", err)
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return appID + "-" + id, nil
}

// ClientOptions builds paho options from configuration.
func ClientOptions(cfg *config.MQTTConfig, clientID string, logger *zap.Logger) *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(10 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetOnConnectHandler(func(paho.Client) {
		logger.Info("MQTT connected", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("MQTT connection lost", zap.String("broker", cfg.Broker), zap.Error(err))
	})
	return opts
}

// New creates a publisher with a paho client for cfg.
func New(cfg *config.MQTTConfig, source SnapshotSource, logger *zap.Logger) (*Publisher, error) {
	logger = logger.With(zap.String("component", "mqtt"))

	clientID, err := ClientID(cfg)
	if err != nil {
		return nil, err
	}
	client := paho.NewClient(ClientOptions(cfg, clientID, logger))
	return NewWithClient(client, cfg, clientID, source, logger), nil
}

// NewWithClient creates a publisher on an existing client.
func NewWithClient(client Client, cfg *config.MQTTConfig, vehicle string, source SnapshotSource, logger *zap.Logger) *Publisher {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	return &Publisher{
		client:   client,
		source:   source,
		topic:    cfg.Topic,
		qos:      byte(cfg.QoS),
		retained: cfg.Retained,
		interval: interval,
		vehicle:  vehicle,
		logger:   logger,
	}
}

// Connect connects to the broker, giving up when ctx is done.
func (p *Publisher) Connect(ctx context.Context) error {
	return wait(ctx, p.client.Connect(), "connect")
}

// Run publishes fresh snapshots every interval until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		published, err := p.PublishLatest(ctx)
		if err != nil {
			p.logger.Warn("Failed to publish telemetry", zap.String("topic", p.topic), zap.Error(err))
			continue
		}
		if published {
			p.logger.Debug("Telemetry published", zap.String("topic", p.topic))
		}
	}
}

// PublishLatest publishes the current snapshot unless it was already sent
// or no reading has arrived yet.
func (p *Publisher) PublishLatest(ctx context.Context) (bool, error) {
	snap := p.source.Snapshot()
	if snap.UpdatedAt.IsZero() || !snap.UpdatedAt.After(p.lastPublished) {
		return false, nil
	}
	if err := p.Publish(ctx, snap); err != nil {
		return false, err
	}
	p.lastPublished = snap.UpdatedAt
	return true, nil
}

// Publish sends one snapshot.
func (p *Publisher) Publish(ctx context.Context, snap telemetry.Snapshot) error {
	payload, err := json.Marshal(Message{
		Vehicle:     p.vehicle,
		RPM:         snap.RPM,
		Speed:       snap.Speed,
		Temperature: snap.Temperature,
		UpdatedAt:   snap.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode telemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return wait(ctx, p.client.Publish(p.topic, p.qos, p.retained, payload), "publish")
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(quiesceMillis)
}

func wait(ctx context.Context, token paho.Token, op string) error {
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt %s: %w", op, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt %s: %w", op, err)
	}
	return nil
}
