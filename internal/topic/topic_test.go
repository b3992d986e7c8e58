package topic

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringbus/ringbus/internal/region"
)

func testChannel(t *testing.T) string {
	return fmt.Sprintf("ringbus_test_%s_%d", t.Name(), time.Now().UnixNano())
}

func TestPublishSubscribeNotify(t *testing.T) {
	channel := testChannel(t)
	top, err := Create(channel, "prices", 8, 4096, zerolog.Nop())
	require.NoError(t, err)
	defer top.Remove()

	slot, err := top.Subscribe(uint64(1000))
	require.NoError(t, err)

	scope, err := top.Publish(5, 1)
	require.NoError(t, err)
	copy(scope.Bytes(), "hello")
	require.NoError(t, scope.Commit(5))
	scope.Release()

	t.Cleanup(func() {
		top.Unsubscribe(1000, slot)
	})
	assert.Equal(t, uint64(1), top.Ring().NextIndex())
}

func TestSubscribeExhaustsPool(t *testing.T) {
	channel := testChannel(t)
	top, err := Create(channel, "prices", 8, 4096, zerolog.Nop())
	require.NoError(t, err)
	defer top.Remove()

	for i := 0; i < region.SlotCount; i++ {
		_, err := top.Subscribe(uint64(2000 + i))
		require.NoError(t, err)
	}

	_, err = top.Subscribe(99999)
	assert.Error(t, err)
}

func TestUnsubscribeUnknownPIDFails(t *testing.T) {
	channel := testChannel(t)
	top, err := Create(channel, "prices", 8, 4096, zerolog.Nop())
	require.NoError(t, err)
	defer top.Remove()

	slot, err := top.Subscribe(1)
	require.NoError(t, err)

	assert.False(t, top.Unsubscribe(2, slot))
	assert.True(t, top.Unsubscribe(1, slot))
}

func TestRecoverReopensRegion(t *testing.T) {
	channel := testChannel(t)
	top, err := Create(channel, "prices", 8, 4096, zerolog.Nop())
	require.NoError(t, err)

	slot, err := top.Subscribe(uint64(1))
	require.NoError(t, err)
	require.NoError(t, top.Close())

	recovered, report, err := Recover(channel, "prices", zerolog.Nop())
	require.NoError(t, err)
	defer recovered.Remove()

	found := false
	for _, r := range report.Reclaimed {
		if r.SlotID == slot {
			found = true
			assert.False(t, r.Cleaned) // our own pid is alive
		}
	}
	assert.True(t, found)
}
