package mailbox

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	r, w := net.Pipe()
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	return r, w
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := Envelope{
		Kind:          KindSubscribe,
		CorrelationID: 42,
		Topic:         "prices",
		SlotID:        3,
		PID:           1234,
		Timestamp:     99,
		OK:            true,
	}

	r, w := newPipe(t)
	go func() {
		require.NoError(t, e.Encode(w))
	}()

	got, err := Decode(r)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestInboxReceivesFromDialer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ringbus_test.sock")
	in, err := Listen(path, DefaultCapacity)
	require.NoError(t, err)
	defer in.Close()

	conn, err := Dial(path)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Send(conn, Envelope{Kind: KindHello, CorrelationID: 1, PID: 7}))

	select {
	case recv := <-in.Incoming():
		assert.Equal(t, KindHello, recv.Envelope.Kind)
		assert.Equal(t, uint64(7), recv.Envelope.PID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestListenRemovesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ringbus_test.sock")

	in1, err := Listen(path, DefaultCapacity)
	require.NoError(t, err)
	// Simulate a crash: leave the socket file behind without closing cleanly.
	_ = in1.listener.Close()

	in2, err := Listen(path, DefaultCapacity)
	require.NoError(t, err)
	defer in2.Close()
}
