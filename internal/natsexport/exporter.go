// Package natsexport optionally mirrors normalized state changes onto a
// NATS subject for downstream consumers beyond the MQTT broker.
package natsexport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-hikbridge/internal/events"
)

// Envelope is the exported JSON record for one state transition.
type Envelope struct {
	EventID    uuid.UUID         `json:"event_id"`
	Source     string            `json:"source"` // always "hikvision"
	CameraID   string            `json:"camera_id"`
	ChannelID  int               `json:"channel_id"`
	EventType  string            `json:"event_type"`
	Active     bool              `json:"active"`
	Count      int               `json:"count,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	ReceivedAt time.Time         `json:"received_at"`
	Raw        map[string]string `json:"raw,omitempty"`
}

type Exporter struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
}

// Connect dials the NATS server. The connection reconnects indefinitely on
// its own; export failures never affect the MQTT flow.
func Connect(url, subject string) (*Exporter, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return New(conn, subject), nil
}

func New(conn *nats.Conn, subject string) *Exporter {
	return &Exporter{conn: conn, subject: subject, maxRetries: 3}
}

// Export publishes one state change. Retries briefly on transient publish
// errors.
func (e *Exporter) Export(sc events.StateChange) error {
	env := Envelope{
		EventID:    uuid.New(),
		Source:     "hikvision",
		CameraID:   sc.Entry.CameraID,
		ChannelID:  sc.Entry.ChannelID,
		EventType:  sc.Entry.EventType,
		Active:     sc.On,
		Count:      sc.Count,
		OccurredAt: sc.Timestamp,
		ReceivedAt: time.Now(),
		Raw:        sc.Raw,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= e.maxRetries; i++ {
		err = e.conn.Publish(e.subject, data)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	return fmt.Errorf("publish failed after %d retries: %w", e.maxRetries, err)
}

func (e *Exporter) Close() {
	e.conn.Close()
}
