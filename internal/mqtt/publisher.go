package mqtt

import (
	"context"
	"fmt"
	"log"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/technosupport/ts-hikbridge/internal/backoff"
	"github.com/technosupport/ts-hikbridge/internal/catalog"
	"github.com/technosupport/ts-hikbridge/internal/config"
	"github.com/technosupport/ts-hikbridge/internal/events"
	"github.com/technosupport/ts-hikbridge/internal/metrics"
)

const (
	qosAtLeastOnce byte = 1

	payloadOn      = "ON"
	payloadOff     = "OFF"
	payloadOnline  = "online"
	payloadOffline = "offline"

	discoveryCacheSize = 1024
)

// brokerClient is the slice of paho's client the publisher uses; tests
// substitute a fake.
type brokerClient interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// Options configures the publisher. Zero durations take the documented
// defaults.
type Options struct {
	Broker         config.MQTT
	Topics         Topics
	QueueCapacity  int
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	DrainBudget    time.Duration
}

func (o *Options) applyDefaults() {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = config.DefaultQueueCapacity
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = config.DefaultConnectTimeout
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = config.DefaultPublishTimeout
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 60 * time.Second
	}
	if o.DrainBudget <= 0 {
		o.DrainBudget = config.DefaultDrainBudget
	}
}

// Publisher owns the single broker connection. Producers enqueue through
// the Publish* methods; Run drains the bounded queue in FIFO order and
// reconnects with backoff on failure.
type Publisher struct {
	opts  Options
	queue *messageQueue

	// discSeen suppresses byte-identical retained discovery configs for the
	// same topic. Cleared on each broker (re)connect.
	discSeen *lru.Cache[string, string]

	// newClient is overridable in tests.
	newClient func() brokerClient
}

func NewPublisher(opts Options) *Publisher {
	opts.applyDefaults()
	cache, _ := lru.New[string, string](discoveryCacheSize)
	p := &Publisher{
		opts:     opts,
		queue:    newMessageQueue(opts.QueueCapacity),
		discSeen: cache,
	}
	p.newClient = p.defaultClient
	return p
}

func (p *Publisher) defaultClient() brokerClient {
	b := p.opts.Broker
	o := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", b.Host, b.Port)).
		SetClientID(b.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(p.opts.ConnectTimeout).
		SetKeepAlive(30*time.Second).
		SetWill(p.opts.Topics.BridgeAvailability(), payloadOffline, qosAtLeastOnce, true)
	if b.Username != "" {
		o.SetUsername(b.Username)
		o.SetPassword(b.Password)
	}
	return paho.NewClient(o)
}

// PublishDiscovery enqueues the retained config for an entity. Identical
// payloads already announced on this connection are skipped.
func (p *Publisher) PublishDiscovery(cameraName string, e catalog.Entry, dev events.DeviceMeta) {
	payload, err := DiscoveryPayload(p.opts.Topics, cameraName, e, dev)
	if err != nil {
		log.Printf("[ERROR] MQTT: encoding discovery for %s: %v", e.UniqueID(), err)
		return
	}
	topic := p.opts.Topics.DiscoveryConfig(e)
	if prev, ok := p.discSeen.Get(topic); ok && prev == string(payload) {
		return
	}
	p.discSeen.Add(topic, string(payload))
	p.queue.Push(Message{Topic: topic, Payload: payload, Retained: true, QoS: qosAtLeastOnce})
}

// PublishState enqueues the retained ON/OFF state for an entity.
func (p *Publisher) PublishState(e catalog.Entry, on bool) {
	payload := payloadOff
	if on {
		payload = payloadOn
	}
	p.queue.Push(Message{
		Topic:    p.opts.Topics.State(e),
		Payload:  []byte(payload),
		Retained: true,
		QoS:      qosAtLeastOnce,
	})
}

// PublishAvailability enqueues the retained per-camera online/offline flag.
func (p *Publisher) PublishAvailability(cameraID string, online bool) {
	payload := payloadOffline
	if online {
		payload = payloadOnline
	}
	p.queue.Push(Message{
		Topic:    p.opts.Topics.CameraAvailability(cameraID),
		Payload:  []byte(payload),
		Retained: true,
		QoS:      qosAtLeastOnce,
	})
}

// QueueDepth reports the number of buffered messages.
func (p *Publisher) QueueDepth() int {
	return p.queue.Len()
}

// Run connects and drains the queue until ctx ends, then flushes what it
// can within the drain budget and leaves a clean retained offline flag.
func (p *Publisher) Run(ctx context.Context) {
	bo := backoff.New(p.opts.BackoffBase, p.opts.BackoffCap)
	first := true

	for {
		if !first {
			metrics.MQTTReconnectsTotal.Inc()
		}
		first = false

		client := p.newClient()
		token := client.Connect()
		if !token.WaitTimeout(p.opts.ConnectTimeout) || token.Error() != nil {
			log.Printf("[WARN] MQTT: broker connect failed: %v", tokenErr(token))
			client.Disconnect(0)
			if !sleepCtx(ctx, bo.Next()) {
				return
			}
			continue
		}
		log.Printf("[INFO] MQTT: connected to broker %s:%d", p.opts.Broker.Host, p.opts.Broker.Port)
		bo.Reset()
		p.discSeen.Purge()

		// The will left "offline" retained; assert liveness immediately,
		// ahead of any buffered replay.
		if err := p.direct(client, p.opts.Topics.BridgeAvailability(), payloadOnline); err != nil {
			log.Printf("[WARN] MQTT: bridge availability publish failed: %v", err)
			client.Disconnect(0)
			if !sleepCtx(ctx, bo.Next()) {
				return
			}
			continue
		}

		err := p.drain(ctx, client)
		if ctx.Err() != nil {
			p.shutdown(client)
			return
		}
		log.Printf("[WARN] MQTT: broker connection lost: %v; reconnecting", err)
		client.Disconnect(0)
		if !sleepCtx(ctx, bo.Next()) {
			return
		}
	}
}

// drain publishes queued messages in FIFO order until ctx ends or a publish
// fails (which forces a reconnect; the failed message is requeued at the
// front).
func (p *Publisher) drain(ctx context.Context, client brokerClient) error {
	for {
		msg, ok := p.queue.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.queue.Wait():
				continue
			}
		}
		token := client.Publish(msg.Topic, msg.QoS, msg.Retained, msg.Payload)
		if !token.WaitTimeout(p.opts.PublishTimeout) || token.Error() != nil {
			p.queue.PushFront(msg)
			return fmt.Errorf("publish on %s: %v", msg.Topic, tokenErr(token))
		}
	}
}

// shutdown flushes the remaining queue within the drain budget and replaces
// the will with an explicit clean offline flag.
func (p *Publisher) shutdown(client brokerClient) {
	deadline := time.Now().Add(p.opts.DrainBudget)
	for time.Now().Before(deadline) {
		msg, ok := p.queue.Pop()
		if !ok {
			break
		}
		token := client.Publish(msg.Topic, msg.QoS, msg.Retained, msg.Payload)
		if !token.WaitTimeout(time.Until(deadline)) || token.Error() != nil {
			log.Printf("[WARN] MQTT: shutdown flush abandoned: %v", tokenErr(token))
			break
		}
	}
	if err := p.direct(client, p.opts.Topics.BridgeAvailability(), payloadOffline); err != nil {
		log.Printf("[WARN] MQTT: final offline publish failed: %v", err)
	}
	client.Disconnect(250)
}

// direct publishes bypassing the queue; used only for bridge availability.
func (p *Publisher) direct(client brokerClient, topic, payload string) error {
	token := client.Publish(topic, qosAtLeastOnce, true, []byte(payload))
	if !token.WaitTimeout(p.opts.PublishTimeout) {
		return fmt.Errorf("publish on %s timed out", topic)
	}
	return token.Error()
}

func tokenErr(t paho.Token) error {
	if err := t.Error(); err != nil {
		return err
	}
	return fmt.Errorf("timed out")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
