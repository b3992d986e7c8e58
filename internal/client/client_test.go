package client

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringbus/ringbus/internal/broker"
	"github.com/ringbus/ringbus/internal/topic"
)

func testChannel(t *testing.T) string {
	return fmt.Sprintf("ringbus_test_%s_%d", t.Name(), time.Now().UnixNano())
}

// newTestTopic starts a broker for a fresh channel, creates topicName
// through it, and returns both the broker and the broker-side Topic so
// tests can publish directly the way broker_test.go does.
func newTestTopic(t *testing.T, topicName string, maxMessages, bufferBytes uint64) (channel string, top *topic.Topic) {
	t.Helper()
	channel = testChannel(t)

	b, err := broker.New(channel, zerolog.Nop())
	require.NoError(t, err)
	go b.Run()
	t.Cleanup(func() { b.Close() })

	c := newTestClient(t, channel)
	require.NoError(t, c.CreateTopic(topicName, maxMessages, bufferBytes))

	top, ok := b.Topic(topicName)
	require.True(t, ok)
	return channel, top
}

func newTestClient(t *testing.T, channel string) *Client {
	t.Helper()
	c, err := Connect(channel, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func publish(t *testing.T, top *topic.Topic, payload string) {
	t.Helper()
	scope, err := top.Publish(len(payload), 7)
	require.NoError(t, err)
	copy(scope.Bytes(), payload)
	require.NoError(t, scope.Commit(len(payload)))
	scope.Release()
}

// TestCursorReadsTheEntryThatWokeIt regresses the off-by-one where onWake
// opened the inner cursor at next_index instead of the subtable's
// start_index: a subscriber must be able to read the very entry whose
// publish woke it, and must never see anything published before it
// subscribed.
func TestCursorReadsTheEntryThatWokeIt(t *testing.T) {
	channel, top := newTestTopic(t, "prices", 8, 4096)

	// Published before any subscriber exists: must never be delivered.
	publish(t, top, "before")

	sub := newTestClient(t, channel)
	cur, err := sub.Subscribe("prices")
	require.NoError(t, err)
	defer cur.Close()

	publish(t, top, "after")

	acc, err := cur.Read()
	require.NoError(t, err)
	assert.Equal(t, "after", string(acc.Bytes))

	publish(t, top, "second-after")
	acc, err = cur.Read()
	require.NoError(t, err)
	assert.Equal(t, "second-after", string(acc.Bytes))
}

// TestTwoCursorsOneTopicBothReceiveSameEntry confirms two independent
// subscribers on the same topic each get their own slot and semaphore and
// both observe the same published entry.
func TestTwoCursorsOneTopicBothReceiveSameEntry(t *testing.T) {
	channel, top := newTestTopic(t, "prices", 8, 4096)

	subA := newTestClient(t, channel)
	curA, err := subA.Subscribe("prices")
	require.NoError(t, err)
	defer curA.Close()

	subB := newTestClient(t, channel)
	curB, err := subB.Subscribe("prices")
	require.NoError(t, err)
	defer curB.Close()

	publish(t, top, "hello")

	accA, err := curA.Read()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(accA.Bytes))

	accB, err := curB.Read()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(accB.Bytes))
}

// TestTryReadFalseWithNoPublish confirms the "false is normal" contract:
// a non-blocking read on an un-notified cursor returns ok=false, no error.
func TestTryReadFalseWithNoPublish(t *testing.T) {
	channel, _ := newTestTopic(t, "prices", 8, 4096)

	sub := newTestClient(t, channel)
	cur, err := sub.Subscribe("prices")
	require.NoError(t, err)
	defer cur.Close()

	_, ok, err := cur.TryRead()
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestTryReadForDeliversAfterPublish exercises the timed-acquire path.
func TestTryReadForDeliversAfterPublish(t *testing.T) {
	channel, top := newTestTopic(t, "prices", 8, 4096)

	sub := newTestClient(t, channel)
	cur, err := sub.Subscribe("prices")
	require.NoError(t, err)
	defer cur.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		publish(t, top, "delayed")
	}()

	acc, ok, err := cur.TryReadFor(500 * time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "delayed", string(acc.Bytes))
}

// TestCursorReportsStaleOnOverwrittenEntry is a slow-consumer case: a
// subscriber that never reads while enough entries are published to wrap
// a small ring past its start_index must surface the overwrite as an
// error rather than silently returning stale bytes.
func TestCursorReportsStaleOnOverwrittenEntry(t *testing.T) {
	channel, top := newTestTopic(t, "ticks", 2, 4096)

	sub := newTestClient(t, channel)
	cur, err := sub.Subscribe("ticks")
	require.NoError(t, err)
	defer cur.Close()

	// Five publishes into a ring of capacity 2, with no reads in between:
	// this subscriber's start_index is stamped on the first of these and
	// is long since overwritten by the time Read finally drains it.
	for i := 0; i < 5; i++ {
		publish(t, top, fmt.Sprintf("tick-%d", i))
	}

	_, err = cur.Read()
	assert.Error(t, err)
}
