package tcp

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ringbus/ringbus/internal/client"
)

// Source streams one broker's published entries to any number of
// connected Targets, per spec.md §4.L's Source role.
type Source struct {
	channel  string
	listener net.Listener
	log      zerolog.Logger
	wg       sync.WaitGroup
}

// NewSource starts listening on addr for incoming Target connections.
func NewSource(channel, addr string, log zerolog.Logger) (*Source, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Source{
		channel:  channel,
		listener: ln,
		log:      log.With().Str("channel", channel).Str("addr", addr).Logger(),
	}, nil
}

// Run accepts connections until the listener is closed. Transient accept
// errors back off roughly one second before retrying, per spec.md §4.L.
func (s *Source) Run() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				time.Sleep(time.Second)
				continue
			}
			return
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConn(c)
		}(conn)
	}
}

// handleConn reads SubscribeRequests off one Target connection, spawning
// a replication task per topic named.
func (s *Source) handleConn(conn net.Conn) {
	defer conn.Close()

	var writeMu sync.Mutex
	for {
		topicName, err := readSubscribeRequest(conn)
		if err != nil {
			return
		}

		s.wg.Add(1)
		go func(name string) {
			defer s.wg.Done()
			s.replicate(conn, &writeMu, name)
		}(topicName)
	}
}

// replicate subscribes to topicName via its own client and streams every
// published entry as a Frame. A write failure terminates the task and
// discards the subscription (the deferred Cursor.Close unsubscribes).
func (s *Source) replicate(conn net.Conn, writeMu *sync.Mutex, topicName string) {
	c, err := client.Connect(s.channel, s.log)
	if err != nil {
		s.log.Warn().Err(err).Str("topic", topicName).Msg("tcp source: failed to connect local client")
		return
	}
	defer c.Close()

	cur, err := c.Subscribe(topicName)
	if err != nil {
		s.log.Warn().Err(err).Str("topic", topicName).Msg("tcp source: failed to subscribe")
		return
	}
	defer cur.Close()

	for {
		acc, err := cur.Read()
		if err != nil {
			return
		}

		writeMu.Lock()
		err = writeFrame(conn, acc.Entry.Type, acc.Bytes)
		writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// Close stops accepting connections and waits for in-flight tasks to
// observe the closed socket.
func (s *Source) Close() error {
	err := s.listener.Close()
	s.wg.Wait()
	return err
}
