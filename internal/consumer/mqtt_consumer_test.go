package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqttcommon "wisefido-badge-locator/common/mqtt"
	"wisefido-badge-locator/internal/config"
	"wisefido-badge-locator/internal/models"
	"wisefido-badge-locator/internal/positioning"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProcessor struct {
	mu      sync.Mutex
	batches []models.AnchorBatch
}

func (p *fakeProcessor) ProcessBatch(_ context.Context, batch models.AnchorBatch) []positioning.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, batch)
	return nil
}

func (p *fakeProcessor) received() []models.AnchorBatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.AnchorBatch(nil), p.batches...)
}

type fakeSubscriber struct {
	mu           sync.Mutex
	handlers     map[string]mqttcommon.MessageHandler
	unsubscribed []string
	subscribed   chan struct{}
	err          error
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{
		handlers:   make(map[string]mqttcommon.MessageHandler),
		subscribed: make(chan struct{}, 1),
	}
}

func (s *fakeSubscriber) Subscribe(topic string, _ byte, handler mqttcommon.MessageHandler) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.handlers[topic] = handler
	s.mu.Unlock()
	s.subscribed <- struct{}{}
	return nil
}

func (s *fakeSubscriber) Unsubscribe(topics ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = append(s.unsubscribed, topics...)
	return nil
}

func (s *fakeSubscriber) handler(topic string) mqttcommon.MessageHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[topic]
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.MQTT.QoS = 1
	cfg.Locator.Topics.Anchor = "anchors/+/rssi"
	cfg.Locator.Stream.Position = "badge:position:stream"
	cfg.Locator.Stream.PositionMax = 100
	cfg.Locator.Stream.SubjectEvents = "subject:events"
	cfg.Locator.ConsumerGroup = "badge-locator-group"
	cfg.Locator.ConsumerName = "badge-locator-1"
	cfg.Locator.BatchSize = 10
	cfg.Locator.Cache.RealtimeKeyPrefix = "badge:position:"
	cfg.Locator.Cache.RealtimeTTL = 60
	return cfg
}

func newTestMQTTConsumer(badges map[string]string) (*MQTTConsumer, *fakeProcessor, *fakeSubscriber) {
	processor := &fakeProcessor{}
	subscriber := newFakeSubscriber()
	c := NewMQTTConsumer(testConfig(), subscriber, newFakeDirectory(badges), processor, zap.NewNop())
	c.now = func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }
	return c, processor, subscriber
}

func TestParseAnchorMessage(t *testing.T) {
	received := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("full payload", func(t *testing.T) {
		msg, err := ParseAnchorMessage("anchors/A9/rssi",
			[]byte(`{"anchor_id":"A1","x":1.0,"y":0.5,"timestamp":1700000000123,"readings":[{"badge_id":"B-01","rssi":-61}]}`), received)
		require.NoError(t, err)
		assert.Equal(t, "A1", msg.AnchorID)
		assert.Equal(t, 1.0, msg.X)
		assert.Equal(t, 0.5, msg.Y)
		assert.Equal(t, int64(1700000000123), msg.Timestamp)
		require.Len(t, msg.Readings, 1)
		assert.Equal(t, int32(-61), msg.Readings[0].RSSI)
	})

	t.Run("anchor id from topic and receive time", func(t *testing.T) {
		msg, err := ParseAnchorMessage("anchors/A2/rssi",
			[]byte(`{"x":0,"y":0,"readings":[{"badge_id":"B-01","rssi":-70},{"badge_id":"","rssi":-70}]}`), received)
		require.NoError(t, err)
		assert.Equal(t, "A2", msg.AnchorID)
		assert.Equal(t, received.UnixMilli(), msg.Timestamp)
		assert.Len(t, msg.Readings, 1)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := ParseAnchorMessage("anchors/A1/rssi", []byte(`{not json`), received)
		assert.True(t, errors.Is(err, ErrMalformedPayload))
	})

	t.Run("missing coordinates", func(t *testing.T) {
		_, err := ParseAnchorMessage("anchors/A1/rssi", []byte(`{"anchor_id":"A1","x":0}`), received)
		assert.True(t, errors.Is(err, ErrMalformedPayload))
	})

	t.Run("no anchor id anywhere", func(t *testing.T) {
		_, err := ParseAnchorMessage("rssi", []byte(`{"x":0,"y":0}`), received)
		assert.True(t, errors.Is(err, ErrMalformedPayload))
	})
}

func TestMQTTConsumer_HandleMessage(t *testing.T) {
	c, processor, _ := newTestMQTTConsumer(map[string]string{"B-01": "subject-1", "B-02": "subject-2"})

	payload := []byte(`{"anchor_id":"A1","x":1,"y":0,"timestamp":1700000000123,"readings":[
		{"badge_id":"B-01","rssi":-61},
		{"badge_id":"B-77","rssi":-65},
		{"badge_id":"B-02","rssi":-72}]}`)
	require.NoError(t, c.HandleMessage(context.Background(), "anchors/A1/rssi", payload))

	batches := processor.received()
	require.Len(t, batches, 1)
	batch := batches[0]
	assert.Equal(t, "A1", batch.AnchorID)
	assert.Equal(t, 1.0, batch.AnchorX)
	assert.True(t, batch.ObservedAt.Equal(time.UnixMilli(1700000000123)))
	assert.Equal(t, []models.SubjectReading{
		{SubjectID: "subject-1", RSSI: -61},
		{SubjectID: "subject-2", RSSI: -72},
	}, batch.Readings)
}

func TestMQTTConsumer_AllBadgesUnknown(t *testing.T) {
	c, processor, _ := newTestMQTTConsumer(map[string]string{})

	err := c.HandleMessage(context.Background(), "anchors/A1/rssi",
		[]byte(`{"x":0,"y":0,"readings":[{"badge_id":"B-77","rssi":-61}]}`))
	require.NoError(t, err)
	assert.Empty(t, processor.received())
}

func TestMQTTConsumer_MalformedDropped(t *testing.T) {
	c, processor, _ := newTestMQTTConsumer(map[string]string{"B-01": "subject-1"})

	err := c.HandleMessage(context.Background(), "anchors/A1/rssi", []byte(`garbage`))
	assert.True(t, errors.Is(err, ErrMalformedPayload))
	assert.Empty(t, processor.received())
}

func TestMQTTConsumer_StartStop(t *testing.T) {
	c, processor, subscriber := newTestMQTTConsumer(map[string]string{"B-01": "subject-1"})

	require.NoError(t, c.Start(context.Background()))
	select {
	case <-subscriber.subscribed:
	default:
		t.Fatal("consumer did not subscribe")
	}

	handler := subscriber.handler("anchors/+/rssi")
	require.NotNil(t, handler)
	require.NoError(t, handler("anchors/A3/rssi", []byte(`{"x":0,"y":1,"readings":[{"badge_id":"B-01","rssi":-60}]}`)))
	require.Len(t, processor.received(), 1)
	assert.Equal(t, "A3", processor.received()[0].AnchorID)

	require.NoError(t, c.Stop())
	assert.Equal(t, []string{"anchors/+/rssi"}, subscriber.unsubscribed)
}

func TestMQTTConsumer_SubscribeFailure(t *testing.T) {
	c, _, subscriber := newTestMQTTConsumer(nil)
	subscriber.err = errors.New("not connected")

	err := c.Start(context.Background())
	assert.Error(t, err)
}
