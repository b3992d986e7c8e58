// Package client implements the bus client (spec component H) and its
// Cursor (spec component I): connect to a channel's broker, subscribe to
// topics, and read published entries through a blocking/polling protocol
// layered over a semaphore and the ring's low-level try_read.
package client

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ringbus/ringbus/internal/mailbox"
	"github.com/ringbus/ringbus/internal/region"
	"github.com/ringbus/ringbus/internal/semaphore"
	"github.com/ringbus/ringbus/internal/subtable"
	"github.com/ringbus/ringbus/internal/xerror"
)

// helloTimeout bounds connect()'s round trip, per spec.md §4.H.
const helloTimeout = 5 * time.Second

// Client is one process's handle onto a channel's broker. Its dispatcher
// goroutine demultiplexes replies by correlation id so Subscribe/
// Unsubscribe/CreateTopic calls can block independently while sharing one
// connection to the broker, which carries both requests and replies.
type Client struct {
	channel string
	pid     uint64
	log     zerolog.Logger

	reqConn   net.Conn
	replyPath string
	replyIn   *mailbox.Inbox

	mu        sync.Mutex
	pending   map[uint64]chan mailbox.Envelope
	nextCorr  uint64

	views map[string]*region.Region
}

// Connect dials the channel's broker, opens this process's reply queue,
// and round-trips a Hello.
func Connect(channel string, log zerolog.Logger) (*Client, error) {
	pid := uint64(os.Getpid())
	replyPath := mailbox.ReplyQueuePath(channel, int(pid))

	replyIn, err := mailbox.Listen(replyPath, mailbox.DefaultCapacity)
	if err != nil {
		return nil, xerror.Wrap(xerror.KindConnectFailed, "client.Connect", err)
	}

	conn, err := mailbox.Dial(mailbox.RequestQueuePath(channel))
	if err != nil {
		replyIn.Close()
		return nil, xerror.Wrap(xerror.KindConnectFailed, "client.Connect", err)
	}

	c := &Client{
		channel:   channel,
		pid:       pid,
		log:       log.With().Str("channel", channel).Uint64("pid", pid).Logger(),
		reqConn:   conn,
		replyPath: replyPath,
		replyIn:   replyIn,
		pending:   make(map[uint64]chan mailbox.Envelope),
		views:     make(map[string]*region.Region),
	}
	go c.dispatch()

	if _, err := c.roundTrip(mailbox.Envelope{Kind: mailbox.KindHello, Timestamp: time.Now().UnixNano()}, helloTimeout); err != nil {
		c.Close()
		return nil, xerror.Wrap(xerror.KindConnectFailed, "client.Connect", err)
	}
	return c, nil
}

// dispatch reads the replies the broker writes back on the request
// connection and routes each to the goroutine waiting on its correlation
// id. A zero-kind envelope or the connection closing ends the loop.
func (c *Client) dispatch() {
	for {
		e, err := mailbox.Decode(c.reqConn)
		if err != nil {
			return
		}
		if e.Kind == mailbox.KindShutdown {
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[e.CorrelationID]
		if ok {
			delete(c.pending, e.CorrelationID)
		}
		c.mu.Unlock()

		if ok {
			ch <- e
		}
	}
}

func (c *Client) roundTrip(e mailbox.Envelope, timeout time.Duration) (mailbox.Envelope, error) {
	c.mu.Lock()
	c.nextCorr++
	corr := c.nextCorr
	ch := make(chan mailbox.Envelope, 1)
	c.pending[corr] = ch
	c.mu.Unlock()

	e.CorrelationID = corr
	e.PID = c.pid
	if err := mailbox.Send(c.reqConn, e); err != nil {
		return mailbox.Envelope{}, err
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-time.After(timeout):
		c.mu.Lock()
		delete(c.pending, corr)
		c.mu.Unlock()
		return mailbox.Envelope{}, xerror.New(xerror.KindConnectFailed, "client.roundTrip: timed out")
	}
}

// CreateTopic asks the broker to create a topic, idempotently.
func (c *Client) CreateTopic(name string, maxMessages, bufferBytes uint64) error {
	reply, err := c.roundTrip(mailbox.Envelope{
		Kind: mailbox.KindCreateTopic, Topic: name,
		MaxMessages: maxMessages, BufferBytes: bufferBytes,
	}, helloTimeout)
	if err != nil {
		return err
	}
	if !reply.OK {
		return xerror.New(xerror.KindSubscribeFailed, "client.CreateTopic")
	}
	return nil
}

// RemoveTopic asks the broker to unmap and delete a topic entirely.
func (c *Client) RemoveTopic(name string) error {
	reply, err := c.roundTrip(mailbox.Envelope{Kind: mailbox.KindRemoveTopic, Topic: name}, helloTimeout)
	if err != nil {
		return err
	}
	if !reply.OK {
		return xerror.New(xerror.KindSubscribeFailed, "client.RemoveTopic")
	}
	return nil
}

// Subscribe sends Subscribe, opens (or reuses) a read-only mapping of the
// topic region on success, and returns a Ready Cursor over it.
func (c *Client) Subscribe(topicName string) (*Cursor, error) {
	reply, err := c.roundTrip(mailbox.Envelope{Kind: mailbox.KindSubscribe, Topic: topicName}, helloTimeout)
	if err != nil {
		return nil, xerror.Wrap(xerror.KindSubscribeFailed, "client.Subscribe", err)
	}
	if !reply.OK {
		return nil, xerror.New(xerror.KindSubscribeFailed, "client.Subscribe")
	}

	view, err := c.topicView(topicName)
	if err != nil {
		return nil, err
	}

	sem, err := semaphore.Open(semName(c.channel, topicName, c.pid, reply.SlotID))
	if err != nil {
		return nil, xerror.Wrap(xerror.KindSubscribeFailed, "client.Subscribe", err)
	}

	slots := subtable.New(view.SlotTableBytes(), region.SlotCount)
	return newCursor(c, topicName, reply.SlotID, view.Ring(), slots, sem), nil
}

// Unsubscribe flips pending_remove for slotID via the broker.
func (c *Client) Unsubscribe(topicName string, slotID uint32) error {
	reply, err := c.roundTrip(mailbox.Envelope{
		Kind: mailbox.KindUnsubscribe, Topic: topicName, SlotID: slotID,
	}, helloTimeout)
	if err != nil {
		return err
	}
	if !reply.OK {
		return xerror.New(xerror.KindSubscribeFailed, "client.Unsubscribe")
	}
	return nil
}

func (c *Client) topicView(name string) (*region.Region, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.views[name]; ok {
		return v, nil
	}
	v, err := region.OpenReadOnly(region.Path(c.channel, name))
	if err != nil {
		return nil, xerror.Wrap(xerror.KindSubscribeFailed, "client.topicView", err)
	}
	c.views[name] = v
	return v, nil
}

// semName matches topic.semName's naming convention exactly — the client
// derives the same name the broker used to create the slot's semaphore,
// per spec.md §6.2's "<channel>.<topic>.<pid>.<slot_id>.sem".
func semName(channel, topicName string, pid uint64, slot uint32) string {
	return fmt.Sprintf("%s.%s.%d.%d.sem", channel, topicName, pid, slot)
}

// Close does not unsubscribe cursors; closing them first is the caller's
// responsibility. Close closes the request connection, which ends the
// dispatcher, posts a zero-kind envelope to this client's own reply
// queue, then removes the reply queue. The broker keeps running.
func (c *Client) Close() error {
	c.reqConn.Close()

	// Post a zero-kind envelope to our own reply queue.
	if conn, err := mailbox.Dial(c.replyPath); err == nil {
		_ = mailbox.Send(conn, mailbox.Envelope{Kind: mailbox.KindShutdown})
		conn.Close()
	}
	return c.replyIn.Close()
}
