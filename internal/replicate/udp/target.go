package udp

import (
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/ringbus/ringbus/internal/broker"
	"github.com/ringbus/ringbus/internal/fragment"
	"github.com/ringbus/ringbus/internal/metrics"
	"github.com/ringbus/ringbus/internal/ratelimit"
	"github.com/ringbus/ringbus/internal/topic"
	"github.com/ringbus/ringbus/internal/xerror"
)

// readTimeout bounds each ReadFromUDP call so Run can observe Close
// promptly instead of blocking forever on an idle socket.
const readTimeout = 500 * time.Millisecond

// Target owns a local broker and one topic's reassembly state, binding a
// configured address and feeding every received datagram into a
// fragment.Defragmentator, per spec.md §4.M's Target role.
type Target struct {
	broker *broker.Broker
	topic  *topic.Topic
	defrag *fragment.Defragmentator
	conn   *net.UDPConn
	log    zerolog.Logger

	// warnLimiter throttles the malformed/reassembly-failure warning log to
	// a few lines per second so a misbehaving or lossy source can't flood
	// the log the way unbounded per-datagram logging would.
	warnLimiter *ratelimit.Limiter

	quit chan struct{}
}

// NewTarget starts a local broker for channel, ensures topicName exists,
// and binds addr for incoming datagrams.
func NewTarget(channel, topicName, addr string, mtu int, maxMessages, bufferBytes uint64, log zerolog.Logger) (*Target, error) {
	b, err := broker.New(channel, log)
	if err != nil {
		return nil, err
	}

	top, err := b.EnsureTopic(topicName, maxMessages, bufferBytes)
	if err != nil {
		b.Close()
		return nil, err
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		b.Close()
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		b.Close()
		return nil, err
	}

	return &Target{
		broker: b,
		topic:  top,
		defrag:      fragment.NewDefragmentator(top.Ring(), mtu),
		conn:        conn,
		log:         log.With().Str("channel", channel).Str("topic", topicName).Str("addr", addr).Logger(),
		warnLimiter: ratelimit.New(5, 5),
		quit:        make(chan struct{}),
	}, nil
}

// Broker exposes the embedded broker so the caller can run its dispatcher
// and close it alongside the Target.
func (t *Target) Broker() *broker.Broker { return t.broker }

// Run reads datagrams until Close, feeding each into the Defragmentator
// and running NotifyAll on every completed message.
func (t *Target) Run() {
	buf := make([]byte, 65535)
	for {
		select {
		case <-t.quit:
			return
		default:
		}

		_ = t.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		hdr, payload, err := decodeDatagram(buf[:n])
		if err != nil {
			metrics.FragmentReassemblyDropsTotal.WithLabelValues(t.topic.Name).Inc()
			if t.warnLimiter.Allow() {
				t.log.Warn().Err(xerror.Wrap(xerror.KindReplicationFailed, "udp.Target", err)).Msg("malformed datagram")
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		completed, idx, err := t.defrag.Feed(hdr, payload)
		if err != nil {
			metrics.FragmentReassemblyDropsTotal.WithLabelValues(t.topic.Name).Inc()
			if t.warnLimiter.Allow() {
				t.log.Warn().Err(err).Msg("defragmentation failed")
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if completed {
			t.topic.NotifyAll(idx)
		}
	}
}

// Close stops Run and releases the UDP socket.
func (t *Target) Close() error {
	close(t.quit)
	return t.conn.Close()
}
