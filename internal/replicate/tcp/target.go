package tcp

import (
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/ringbus/ringbus/internal/broker"
	"github.com/ringbus/ringbus/internal/metrics"
	"github.com/ringbus/ringbus/internal/xerror"
)

// Target dials a Source and mirrors its topics into a locally owned
// broker, per spec.md §4.L's Target role.
type Target struct {
	addr   string
	broker *broker.Broker
	log    zerolog.Logger

	maxMessages uint64
	bufferBytes uint64

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewTarget constructs a Target backed by a freshly started local broker
// on channel. Topics replicated in are created with maxMessages/
// bufferBytes if they don't already exist locally.
func NewTarget(channel, addr string, maxMessages, bufferBytes uint64, log zerolog.Logger) (*Target, error) {
	b, err := broker.New(channel, log)
	if err != nil {
		return nil, err
	}
	return &Target{
		addr:        addr,
		broker:      b,
		log:         log.With().Str("addr", addr).Logger(),
		maxMessages: maxMessages,
		bufferBytes: bufferBytes,
		quit:        make(chan struct{}),
	}, nil
}

// Replicate starts one reconnect-and-stream loop per topic and blocks
// until Close is called. The broker's own dispatcher must be started
// separately (go t.Broker().Run()) by the caller.
func (t *Target) Replicate(topics []string) {
	for _, name := range topics {
		t.wg.Add(1)
		go func(topicName string) {
			defer t.wg.Done()
			t.replicateLoop(topicName)
		}(name)
	}
	t.wg.Wait()
}

// Broker exposes the embedded broker so the caller can run its dispatcher
// and, on shutdown, Close it alongside the Target.
func (t *Target) Broker() *broker.Broker { return t.broker }

func (t *Target) replicateLoop(topicName string) {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     backoff.DefaultInitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         30 * time.Second,
	}

	for {
		select {
		case <-t.quit:
			return
		default:
		}

		if err := t.connectAndStream(topicName); err != nil && !isReconnectable(err) {
			t.log.Error().Err(xerror.Wrap(xerror.KindReplicationFailed, "tcp.Target", err)).
				Str("topic", topicName).Msg("replication task terminated")
			return
		}
		metrics.BridgeReconnectsTotal.WithLabelValues("tcp", topicName).Inc()

		ticker := backoff.NewTicker(b)
		select {
		case <-t.quit:
			ticker.Stop()
			return
		case <-ticker.C:
			ticker.Stop()
		}
	}
}

func (t *Target) connectAndStream(topicName string) error {
	conn, err := net.Dial("tcp", t.addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	top, err := t.broker.EnsureTopic(topicName, t.maxMessages, t.bufferBytes)
	if err != nil {
		return err
	}

	if err := writeSubscribeRequest(conn, topicName); err != nil {
		return err
	}

	for {
		select {
		case <-t.quit:
			return nil
		default:
		}

		hdr, err := readFrameHeader(conn)
		if err != nil {
			return err
		}

		scope, err := top.Publish(int(hdr.Size), hdr.Type)
		if err != nil {
			return xerror.Wrap(xerror.KindReplicationFailed, "tcp.Target", err)
		}
		if _, err := io.ReadFull(conn, scope.Bytes()[:hdr.Size]); err != nil {
			return err
		}
		if err := scope.Commit(int(hdr.Size)); err != nil {
			return xerror.Wrap(xerror.KindReplicationFailed, "tcp.Target", err)
		}
		scope.Release()
	}
}

// isReconnectable matches spec.md §4.L's "eof, connection_reset,
// broken_pipe, connection_aborted, connection_refused, timed_out" set.
func isReconnectable(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// Close stops all replication tasks.
func (t *Target) Close() {
	close(t.quit)
	t.wg.Wait()
}
