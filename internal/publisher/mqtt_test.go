package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"obd-service/internal/config"
	"obd-service/internal/telemetry"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completed(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                       { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu          sync.Mutex
	messages    []published
	publishErr  error
	pending     bool
	disconnects int
}

func (c *fakeClient) Connect() paho.Token { return completed(nil) }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending {
		return &fakeToken{done: make(chan struct{})}
	}
	c.messages = append(c.messages, published{topic, qos, retained, payload.([]byte)})
	return completed(c.publishErr)
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
}

func (c *fakeClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

type stateSource struct{ state *telemetry.State }

func (s stateSource) Snapshot() telemetry.Snapshot { return s.state.Snapshot() }

func testMQTTConfig() *config.MQTTConfig {
	return &config.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		Topic:    "vehicle/telemetry",
		QoS:      1,
		Retained: true,
		Interval: 5 * time.Millisecond,
	}
}

func TestPublishLatestSkipsStaleSnapshots(t *testing.T) {
	state := telemetry.NewState()
	client := &fakeClient{}
	p := NewWithClient(client, testMQTTConfig(), "car-1", stateSource{state}, zaptest.NewLogger(t))
	ctx := context.Background()

	sent, err := p.PublishLatest(ctx)
	require.NoError(t, err)
	assert.False(t, sent, "nothing read yet")

	state.Apply(telemetry.Reading{
		RPM:         telemetry.Measurement{Value: 1726},
		Speed:       telemetry.Measurement{Value: 80},
		Temperature: telemetry.Measurement{Value: 85},
	})

	sent, err = p.PublishLatest(ctx)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = p.PublishLatest(ctx)
	require.NoError(t, err)
	assert.False(t, sent, "unchanged snapshot")

	msgs := client.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "vehicle/telemetry", msgs[0].topic)
	assert.Equal(t, byte(1), msgs[0].qos)
	assert.True(t, msgs[0].retained)

	var m Message
	require.NoError(t, json.Unmarshal(msgs[0].payload, &m))
	assert.Equal(t, "car-1", m.Vehicle)
	assert.Equal(t, 1726, m.RPM)
	assert.Equal(t, 80, m.Speed)
	assert.Equal(t, 85, m.Temperature)
}

func TestPublishErrorIsReturned(t *testing.T) {
	state := telemetry.NewState()
	state.Apply(telemetry.Reading{RPM: telemetry.Measurement{Value: 900}})
	client := &fakeClient{publishErr: errors.New("not connected")}
	p := NewWithClient(client, testMQTTConfig(), "car-1", stateSource{state}, zaptest.NewLogger(t))

	sent, err := p.PublishLatest(context.Background())
	assert.ErrorContains(t, err, "not connected")
	assert.False(t, sent)

	client.publishErr = nil
	sent, err = p.PublishLatest(context.Background())
	require.NoError(t, err)
	assert.True(t, sent, "failed snapshot is retried")
}

func TestPublishHonoursContext(t *testing.T) {
	client := &fakeClient{pending: true}
	p := NewWithClient(client, testMQTTConfig(), "car-1", stateSource{telemetry.NewState()}, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Publish(ctx, telemetry.Snapshot{RPM: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunPublishesUntilCancelled(t *testing.T) {
	state := telemetry.NewState()
	client := &fakeClient{}
	p := NewWithClient(client, testMQTTConfig(), "car-1", stateSource{state}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	state.Apply(telemetry.Reading{Speed: telemetry.Measurement{Value: 42}})
	assert.Eventually(t, func() bool { return len(client.sent()) == 1 }, time.Second, time.Millisecond)

	cancel()
	<-done
	p.Close()
	assert.Equal(t, 1, client.disconnects)
}

func TestClientID(t *testing.T) {
	cfg := testMQTTConfig()
	cfg.ClientID = "dash-1"
	id, err := ClientID(cfg)
	require.NoError(t, err)
	assert.Equal(t, "dash-1", id)

	orig := machineID
	t.Cleanup(func() { machineID = orig })

	machineID = func() (string, error) { return "0123456789abcdef0123", nil }
	id, err = ClientID(testMQTTConfig())
	require.NoError(t, err)
	assert.Equal(t, "obd-service-0123456789ab", id)

	machineID = func() (string, error) { return "", errors.New("no /etc/machine-id") }
	_, err = ClientID(testMQTTConfig())
	assert.ErrorContains(t, err, "machine id")
}

func TestClientOptions(t *testing.T) {
	cfg := testMQTTConfig()
	cfg.Username = "obd"
	cfg.Password = "secret"

	opts := ClientOptions(cfg, "obd-service-1", zaptest.NewLogger(t))
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "localhost:1883", opts.Servers[0].Host)
	assert.Equal(t, "obd-service-1", opts.ClientID)
	assert.Equal(t, "obd", opts.Username)
	assert.True(t, opts.AutoReconnect)
}
