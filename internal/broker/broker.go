// Package broker implements the control server (spec component G): it
// owns the request queue for one channel, the channel's topic map, and
// dispatches Hello/Subscribe/Unsubscribe/CreateTopic/RemoveTopic/Shutdown
// envelopes to the right Topic.
package broker

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/ringbus/ringbus/internal/mailbox"
	"github.com/ringbus/ringbus/internal/topic"
)

// Broker is one channel's control server. The zero value is not usable;
// construct with New.
type Broker struct {
	Channel string

	in  *mailbox.Inbox
	log zerolog.Logger

	mu     sync.Mutex
	topics map[string]*topic.Topic
}

// New starts listening on the channel's request queue.
func New(channel string, log zerolog.Logger) (*Broker, error) {
	in, err := mailbox.Listen(mailbox.RequestQueuePath(channel), mailbox.DefaultCapacity)
	if err != nil {
		return nil, err
	}
	return &Broker{
		Channel: channel,
		in:      in,
		log:     log.With().Str("channel", channel).Logger(),
		topics:  make(map[string]*topic.Topic),
	}, nil
}

// Topic returns the in-process handle for an existing topic, the
// same-process convenience spec.md §4.G describes for CreateTopic's
// caller. Cross-process subscribers never reach this; they only ever see
// the wire-level success flag of the CreateTopic reply, which is set for an
// already existing topic as well.
func (b *Broker) Topic(name string) (*topic.Topic, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	return t, ok
}

// Topics lists all topic names known to this broker.
func (b *Broker) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.topics))
	for name := range b.topics {
		names = append(names, name)
	}
	return names
}

// EnsureTopic creates a topic if it doesn't already exist and returns its
// in-process handle. A replication Target embeds its own Broker and calls
// this directly (rather than round-tripping CreateTopic over the wire) so
// it can publish reassembled entries straight into the topic's ring.
func (b *Broker) EnsureTopic(name string, maxMessages, bufferBytes uint64) (*topic.Topic, error) {
	t, _, err := b.ensureTopic(name, maxMessages, bufferBytes)
	return t, err
}

// ensureTopic creates a topic if it doesn't already exist (idempotent by
// name, per spec.md §4.G).
func (b *Broker) ensureTopic(name string, maxMessages, bufferBytes uint64) (*topic.Topic, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[name]; ok {
		return t, false, nil
	}
	t, err := topic.Create(b.Channel, name, maxMessages, bufferBytes, b.log)
	if err != nil {
		return nil, false, err
	}
	b.topics[name] = t
	return t, true, nil
}

// removeTopic destroys a topic object and its shared region.
func (b *Broker) removeTopic(name string) error {
	b.mu.Lock()
	t, ok := b.topics[name]
	delete(b.topics, name)
	b.mu.Unlock()

	if !ok {
		return nil
	}
	return t.Remove()
}

// Run drives the dispatcher loop: a single cooperative goroutine handling
// one envelope at a time, exactly as spec.md §4.G describes ("single
// cooperative thread"). It returns when a Shutdown envelope is received.
func (b *Broker) Run() {
	for recv := range b.in.Incoming() {
		e := recv.Envelope
		switch e.Kind {
		case mailbox.KindShutdown:
			recv.Conn.Close()
			return

		case mailbox.KindHello:
			reply := mailbox.Envelope{Kind: mailbox.KindHelloResponse, CorrelationID: e.CorrelationID, Timestamp: e.Timestamp}
			b.send(recv, reply)

		case mailbox.KindCreateTopic:
			_, _, err := b.ensureTopic(e.Topic, e.MaxMessages, e.BufferBytes)
			if err != nil {
				b.log.Warn().Err(err).Str("topic", e.Topic).Msg("CreateTopic failed")
			}
			b.send(recv, mailbox.Envelope{Kind: mailbox.KindHelloResponse, CorrelationID: e.CorrelationID, OK: err == nil})

		case mailbox.KindSubscribe:
			slot, err := b.handleSubscribe(e.Topic, e.PID)
			reply := mailbox.Envelope{Kind: mailbox.KindSubscribeResponse, CorrelationID: e.CorrelationID}
			if err != nil {
				b.log.Warn().Err(err).Str("topic", e.Topic).Uint64("pid", e.PID).Msg("Subscribe failed")
				reply.OK = false
			} else {
				reply.OK = true
				reply.SlotID = slot
			}
			b.send(recv, reply)

		case mailbox.KindUnsubscribe:
			ok := b.handleUnsubscribe(e.Topic, e.PID, e.SlotID)
			b.send(recv, mailbox.Envelope{
				Kind: mailbox.KindUnsubscribeResponse, CorrelationID: e.CorrelationID,
				Topic: e.Topic, SlotID: e.SlotID, OK: ok,
			})

		case mailbox.KindRemoveTopic:
			err := b.removeTopic(e.Topic)
			b.send(recv, mailbox.Envelope{Kind: mailbox.KindHelloResponse, CorrelationID: e.CorrelationID, OK: err == nil})

		default:
			b.log.Warn().Uint8("kind", uint8(e.Kind)).Msg("unknown envelope kind")
		}
	}
}

func (b *Broker) handleSubscribe(topicName string, pid uint64) (uint32, error) {
	t, _, err := b.ensureTopic(topicName, 0, 0)
	if err != nil {
		return 0, err
	}
	return t.Subscribe(pid)
}

func (b *Broker) handleUnsubscribe(topicName string, pid uint64, slot uint32) bool {
	t, ok := b.Topic(topicName)
	if !ok {
		return false
	}
	return t.Unsubscribe(pid, slot)
}

func (b *Broker) send(recv mailbox.Received, reply mailbox.Envelope) {
	if err := mailbox.Send(recv.Conn, reply); err != nil {
		b.log.Warn().Err(err).Msg("failed to send reply envelope")
	}
}

// Close stops the broker's listener.
func (b *Broker) Close() error {
	return b.in.Close()
}
