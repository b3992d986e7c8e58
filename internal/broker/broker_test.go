package broker

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringbus/ringbus/internal/client"
)

func testChannel(t *testing.T) string {
	return fmt.Sprintf("ringbus_test_%s_%d", t.Name(), time.Now().UnixNano())
}

func TestEndToEndPublishSubscribeRead(t *testing.T) {
	channel := testChannel(t)

	b, err := New(channel, zerolog.Nop())
	require.NoError(t, err)
	go b.Run()
	defer b.Close()

	c, err := client.Connect(channel, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.CreateTopic("prices", 8, 4096))

	cur, err := c.Subscribe("prices")
	require.NoError(t, err)
	defer cur.Close()

	top, ok := b.Topic("prices")
	require.True(t, ok)
	defer top.Remove()

	scope, err := top.Publish(5, 7)
	require.NoError(t, err)
	copy(scope.Bytes(), "hello")
	require.NoError(t, scope.Commit(5))
	scope.Release()

	acc, err := cur.Read()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(acc.Bytes))
	assert.Equal(t, uint64(7), acc.Entry.Type)
}
