package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"

	"github.com/technosupport/ts-hikbridge/internal/catalog"
	"github.com/technosupport/ts-hikbridge/internal/config"
	"github.com/technosupport/ts-hikbridge/internal/events"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	payload  string
	retained bool
}

// fakeBroker accepts publishes until failAfter messages, then errors every
// publish until the next Connect.
type fakeBroker struct {
	mu        sync.Mutex
	messages  []published
	connects  int
	failAfter int // -1 = never fail
	count     int
	broken    bool
}

func (f *fakeBroker) Connect() paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.broken = false
	f.count = 0
	return &fakeToken{}
}

func (f *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter >= 0 && f.count >= f.failAfter {
		f.broken = true
	}
	if f.broken {
		return &fakeToken{err: errors.New("connection lost")}
	}
	f.count++
	f.messages = append(f.messages, published{topic: topic, payload: string(payload.([]byte)), retained: retained})
	return &fakeToken{}
}

func (f *fakeBroker) Disconnect(uint)   {}
func (f *fakeBroker) IsConnected() bool { return true }

func (f *fakeBroker) snapshot() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]published, len(f.messages))
	copy(out, f.messages)
	return out
}

func (f *fakeBroker) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func testPublisher(broker *fakeBroker) *Publisher {
	p := NewPublisher(Options{
		Broker:         config.MQTT{Host: "broker.local", Port: 1883, ClientID: "test"},
		Topics:         testTopics,
		QueueCapacity:  32,
		ConnectTimeout: 100 * time.Millisecond,
		PublishTimeout: 100 * time.Millisecond,
		BackoffBase:    5 * time.Millisecond,
		BackoffCap:     10 * time.Millisecond,
		DrainBudget:    time.Second,
	})
	p.newClient = func() brokerClient { return broker }
	return p
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPublisher_FIFOAndBridgeOnlineFirst(t *testing.T) {
	broker := &fakeBroker{failAfter: -1}
	p := testPublisher(broker)

	e := catalog.Entry{CameraID: "cam1", ChannelID: 1, EventType: "VMD"}
	p.PublishAvailability("cam1", true)
	p.PublishDiscovery("Front Door", e, events.DeviceMeta{})
	p.PublishState(e, true)
	p.PublishState(e, false)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); p.Run(ctx) }()

	waitFor(t, func() bool { return len(broker.snapshot()) >= 5 })
	cancel()
	wg.Wait()

	msgs := broker.snapshot()
	assert.Equal(t, "hikvision/bridge/availability", msgs[0].topic)
	assert.Equal(t, "online", msgs[0].payload)
	assert.True(t, msgs[0].retained)

	assert.Equal(t, "hikvision/cam1/availability", msgs[1].topic)
	assert.Equal(t, "online", msgs[1].payload)
	assert.Equal(t, "homeassistant/binary_sensor/cam1_1_VMD/config", msgs[2].topic)
	assert.Equal(t, "hikvision/cam1/1/VMD", msgs[3].topic)
	assert.Equal(t, "ON", msgs[3].payload)
	assert.Equal(t, "hikvision/cam1/1/VMD", msgs[4].topic)
	assert.Equal(t, "OFF", msgs[4].payload)

	// Clean shutdown replaces the will with an explicit offline.
	last := msgs[len(msgs)-1]
	assert.Equal(t, "hikvision/bridge/availability", last.topic)
	assert.Equal(t, "offline", last.payload)
}

func TestPublisher_ReconnectReplaysFIFO(t *testing.T) {
	// Bridge-online + two states succeed, then the broker breaks; the third
	// state must survive and replay after reconnect.
	broker := &fakeBroker{failAfter: 3}
	p := testPublisher(broker)

	e := catalog.Entry{CameraID: "cam1", ChannelID: 1, EventType: "VMD"}
	p.PublishState(e, true)
	p.PublishState(e, false)
	p.PublishState(e, true)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); p.Run(ctx) }()

	waitFor(t, func() bool { return broker.connectCount() >= 2 && len(broker.snapshot()) >= 5 })
	cancel()
	wg.Wait()

	var states []string
	for _, m := range broker.snapshot() {
		if m.topic == "hikvision/cam1/1/VMD" {
			states = append(states, m.payload)
		}
	}
	assert.Equal(t, []string{"ON", "OFF", "ON"}, states, "replay preserves FIFO order")
}

func TestPublisher_DiscoveryDeduped(t *testing.T) {
	broker := &fakeBroker{failAfter: -1}
	p := testPublisher(broker)

	e := catalog.Entry{CameraID: "cam1", ChannelID: 1, EventType: "VMD"}
	p.PublishDiscovery("cam1", e, events.DeviceMeta{})
	p.PublishDiscovery("cam1", e, events.DeviceMeta{}) // identical: skipped
	assert.Equal(t, 1, p.QueueDepth())

	// A changed payload is not suppressed.
	p.PublishDiscovery("cam1", e, events.DeviceMeta{Model: "DS-NEW"})
	assert.Equal(t, 2, p.QueueDepth())
}
