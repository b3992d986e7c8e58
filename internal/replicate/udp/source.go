package udp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ringbus/ringbus/internal/client"
	"github.com/ringbus/ringbus/internal/fragment"
	"github.com/ringbus/ringbus/internal/ratelimit"
	"github.com/ringbus/ringbus/internal/ring"
)

// Endpoint pairs a local topic with a remote UDP listener to fan its
// entries out to.
type Endpoint struct {
	Topic string
	Addr  string
}

// Source binds an ephemeral local port per endpoint and fragments each
// published entry out to it, per spec.md §4.M's Source role.
type Source struct {
	channel string
	mtu     int
	log     zerolog.Logger

	// limiter caps the outbound datagram rate so a fast producer can't
	// overrun a slower network path; 0 disables the cap.
	limiter *ratelimit.Limiter

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewSource constructs a Source replicating over channel's client
// connection, fragmenting to mtu-sized datagrams. ratePerSecond caps the
// outbound datagram rate across every endpoint; 0 leaves it unbounded.
func NewSource(channel string, mtu int, ratePerSecond float64, log zerolog.Logger) *Source {
	var limiter *ratelimit.Limiter
	if ratePerSecond > 0 {
		burst := int(ratePerSecond / 10)
		if burst < 1 {
			burst = 1
		}
		limiter = ratelimit.New(ratePerSecond, burst)
	}
	return &Source{channel: channel, mtu: mtu, limiter: limiter, log: log.With().Str("channel", channel).Logger(), quit: make(chan struct{})}
}

// Replicate starts one fan-out task per endpoint and blocks until Close.
func (s *Source) Replicate(endpoints []Endpoint) {
	for _, ep := range endpoints {
		s.wg.Add(1)
		go func(e Endpoint) {
			defer s.wg.Done()
			s.replicateLoop(e)
		}(ep)
	}
	s.wg.Wait()
}

func (s *Source) replicateLoop(ep Endpoint) {
	conn, err := net.Dial("udp", ep.Addr)
	if err != nil {
		s.log.Warn().Err(err).Str("topic", ep.Topic).Str("addr", ep.Addr).Msg("udp source: failed to resolve endpoint")
		return
	}
	defer conn.Close()

	c, err := client.Connect(s.channel, s.log)
	if err != nil {
		s.log.Warn().Err(err).Str("topic", ep.Topic).Msg("udp source: failed to connect local client")
		return
	}
	defer c.Close()

	cur, err := c.Subscribe(ep.Topic)
	if err != nil {
		s.log.Warn().Err(err).Str("topic", ep.Topic).Msg("udp source: failed to subscribe")
		return
	}
	defer cur.Close()

	for {
		select {
		case <-s.quit:
			return
		default:
		}

		acc, err := cur.Read()
		if err != nil {
			return
		}

		if !s.sendEntry(conn, ep, acc) {
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// sendEntry fragments one entry and sends every chunk. It reports whether
// every send_to succeeded; a single failure logs, stops mid-entry, and
// leaves the task running for the next Read (spec.md §4.M: "log and back
// off 100ms but do not drop the task").
func (s *Source) sendEntry(conn net.Conn, ep Endpoint, acc ring.Accessor) bool {
	created := uint64(time.Now().UnixNano())
	it, err := fragment.NewIterator(acc.Bytes, uint8(acc.Entry.Type), created, s.mtu)
	if err != nil {
		s.log.Warn().Err(err).Str("topic", ep.Topic).Msg("udp source: mtu too small for header")
		return false
	}

	for {
		hdr, chunk, ok := it.Next()
		if !ok {
			return true
		}
		if s.limiter != nil {
			_ = s.limiter.Wait(context.Background())
		}
		if _, err := conn.Write(encodeDatagram(hdr, chunk)); err != nil {
			s.log.Warn().Err(err).Str("topic", ep.Topic).Str("addr", ep.Addr).Msg("udp source: send_to failed")
			return false
		}
	}
}

// Close stops every fan-out task.
func (s *Source) Close() {
	close(s.quit)
	s.wg.Wait()
}
