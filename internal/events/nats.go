package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// HeaderEventID carries the event a gate message belongs to, so consumers
// can filter without decoding the body.
const HeaderEventID = "Gatekeep-Event-Id"

// scoped is implemented by payloads that belong to one event.
type scoped interface {
	scope() string
}

func (e GateCreated) scope() string {
	if e.Gate == nil {
		return ""
	}
	return e.Gate.EventID
}
func (e GatesMerged) scope() string         { return e.EventID }
func (e VirtualGatesCreated) scope() string { return e.EventID }
func (e CheckinsRecorded) scope() string    { return e.EventID }

// NATSPublisher publishes JSON payloads to NATS subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, append([]nats.Option{nats.Name("gatekeep-publisher")}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", topic, err)
	}
	msg := nats.NewMsg(topic)
	msg.Data = data
	if s, ok := event.(scoped); ok && s.scope() != "" {
		msg.Header.Set(HeaderEventID, s.scope())
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
	return nil
}
