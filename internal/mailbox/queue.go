package mailbox

import (
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/ringbus/ringbus/internal/xerror"
)

// DefaultCapacity is the reference queue depth from spec.md §6.2 (256
// messages).
const DefaultCapacity = 256

// RequestQueuePath returns the broker's well-known listen path for a
// channel, matching spec.md §6.2's "<channel>" request queue name.
func RequestQueuePath(channel string) string {
	return fmt.Sprintf("/dev/shm/%s.sock", channel)
}

// ReplyQueuePath returns a client's own listen path, matching spec.md
// §6.2's "<channel>.<pid>" reply queue name.
func ReplyQueuePath(channel string, pid int) string {
	return fmt.Sprintf("/dev/shm/%s.%d.sock", channel, pid)
}

// Inbox is a named Unix-domain-socket listener that hands off accepted
// connections and their decoded envelopes on a single bounded channel, so
// a dispatcher goroutine can range over one chan regardless of how many
// peers are connected.
type Inbox struct {
	path     string
	listener *net.UnixListener
	incoming chan Received
	closeOnce sync.Once
}

// Received pairs a decoded envelope with the connection it arrived on, so
// a handler can write the matching response directly back (this is what
// stands in for a separate reply-queue lookup by pid).
type Received struct {
	Envelope Envelope
	Conn     net.Conn
}

// Listen creates (replacing any stale socket file left by a prior crash)
// and starts accepting on path. capacity bounds the number of
// not-yet-handled envelopes buffered in Inbox.Incoming().
func Listen(path string, capacity int) (*Inbox, error) {
	_ = os.Remove(path)

	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, xerror.Wrap(xerror.KindBadEnvelope, "mailbox.Listen", err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, xerror.Wrap(xerror.KindBadEnvelope, "mailbox.Listen", err)
	}

	in := &Inbox{path: path, listener: ln, incoming: make(chan Received, capacity)}
	go in.acceptLoop()
	return in, nil
}

func (in *Inbox) acceptLoop() {
	for {
		conn, err := in.listener.Accept()
		if err != nil {
			return
		}
		go in.readLoop(conn)
	}
}

func (in *Inbox) readLoop(conn net.Conn) {
	for {
		e, err := Decode(conn)
		if err != nil {
			conn.Close()
			return
		}
		in.incoming <- Received{Envelope: e, Conn: conn}
		if e.Kind == KindShutdown {
			return
		}
	}
}

// Incoming returns the channel of received envelopes.
func (in *Inbox) Incoming() <-chan Received { return in.incoming }

// Close stops accepting and removes the socket file. Safe to call more
// than once.
func (in *Inbox) Close() error {
	var err error
	in.closeOnce.Do(func() {
		err = in.listener.Close()
		os.Remove(in.path)
	})
	return err
}

// Dial opens a connection to a peer's Inbox, for a client's request queue
// connection to the broker, or the broker's outbound connection back to a
// client's reply queue.
func Dial(path string) (net.Conn, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, xerror.Wrap(xerror.KindConnectFailed, "mailbox.Dial", err)
	}
	return conn, nil
}

// Send encodes and writes one envelope to conn.
func Send(conn net.Conn, e Envelope) error {
	return e.Encode(conn)
}
