package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Subscriber receives payloads from the event bus.
type Subscriber interface {
	// Subscribe delivers raw payloads on the returned channel until the
	// returned cancel function is called, which also closes the channel.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}

// DefaultQueue is the queue group gatekeep replicas join, so each
// announcement is handled by one replica only.
const DefaultQueue = "gatekeep"

// NATSSubscriber delivers payloads from a NATS queue group.
type NATSSubscriber struct {
	conn   *nats.Conn
	queue  string
	buffer int
}

// NewNATSSubscriber connects with unlimited reconnects. Extra options are
// applied after the defaults.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	defaults := []nats.Option{
		nats.Name("gatekeep-trigger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSubscriber{conn: nc, queue: DefaultQueue, buffer: 64}, nil
}

// WithQueue returns a copy of s that joins queue instead of DefaultQueue.
// An empty queue subscribes every replica to every message.
func (s *NATSSubscriber) WithQueue(queue string) *NATSSubscriber {
	c := *s
	c.queue = queue
	return &c
}

func (s *NATSSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	sub := &subscription{out: make(chan []byte, s.buffer)}
	var err error
	if s.queue == "" {
		sub.nats, err = s.conn.Subscribe(topic, sub.deliver)
	} else {
		sub.nats, err = s.conn.QueueSubscribe(topic, s.queue, sub.deliver)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	if err := s.conn.Flush(); err != nil {
		sub.cancel()
		return nil, nil, fmt.Errorf("flushing subscription to %s: %w", topic, err)
	}
	return sub.out, sub.cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}

type subscription struct {
	nats *nats.Subscription

	mu     sync.Mutex
	done   bool
	out    chan []byte
	closer sync.Once
}

// deliver drops the payload when the buffer is full; the scheduler tick
// still covers the event.
func (s *subscription) deliver(msg *nats.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	select {
	case s.out <- msg.Data:
	default:
	}
}

func (s *subscription) cancel() {
	s.closer.Do(func() {
		_ = s.nats.Unsubscribe()
		s.mu.Lock()
		s.done = true
		close(s.out)
		s.mu.Unlock()
	})
}
