package tcp

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringbus/ringbus/internal/broker"
	"github.com/ringbus/ringbus/internal/client"
)

func testChannel(t *testing.T, suffix string) string {
	return fmt.Sprintf("ringbus_tcp_test_%s_%s_%d", t.Name(), suffix, time.Now().UnixNano())
}

func freeTCPAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestSourceStreamsToTarget(t *testing.T) {
	sourceChannel := testChannel(t, "source")
	targetChannel := testChannel(t, "target")
	addr := freeTCPAddr(t)

	sourceBroker, err := broker.New(sourceChannel, zerolog.Nop())
	require.NoError(t, err)
	go sourceBroker.Run()
	defer sourceBroker.Close()

	src, err := NewSource(sourceChannel, addr, zerolog.Nop())
	require.NoError(t, err)
	go src.Run()
	defer src.Close()

	srcClient, err := client.Connect(sourceChannel, zerolog.Nop())
	require.NoError(t, err)
	defer srcClient.Close()
	require.NoError(t, srcClient.CreateTopic("weather", 8, 4096))

	tgt, err := NewTarget(targetChannel, addr, 8, 4096, zerolog.Nop())
	require.NoError(t, err)
	go tgt.Broker().Run()
	defer tgt.Broker().Close()
	go tgt.Replicate([]string{"weather"})
	defer tgt.Close()

	// Give the Target a moment to dial and send its SubscribeRequest
	// before the publish happens, so it isn't racing the Source's accept.
	time.Sleep(50 * time.Millisecond)

	srcTopic, ok := sourceBroker.Topic("weather")
	require.True(t, ok)
	scope, err := srcTopic.Publish(7, 11)
	require.NoError(t, err)
	copy(scope.Bytes(), "sunny")
	require.NoError(t, scope.Commit(5))
	scope.Release()

	require.Eventually(t, func() bool {
		top, ok := tgt.Broker().Topic("weather")
		return ok && top.Ring().NextIndex() == 1
	}, 2*time.Second, 10*time.Millisecond)

	top, _ := tgt.Broker().Topic("weather")
	var start uint64
	c := top.Ring().OpenCursor(&start)
	require.True(t, top.Ring().TryRead(&c))
	acc := top.Ring().Data(c)
	assert.Equal(t, "sunny", string(acc.Bytes))
	assert.Equal(t, uint64(11), acc.Entry.Type)
}

func TestIsReconnectableClassifiesTransientErrors(t *testing.T) {
	_, err := net.Dial("tcp", "127.0.0.1:1")
	if err != nil {
		assert.True(t, isReconnectable(err))
	}
}
