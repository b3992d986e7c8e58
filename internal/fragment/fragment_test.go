package fragment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringbus/ringbus/internal/ring"
)

func TestIteratorChunksWholeMessage(t *testing.T) {
	msg := make([]byte, 100)
	for i := range msg {
		msg[i] = byte(i)
	}

	it, err := NewIterator(msg, 3, 42, 32) // chunk = 32 - 15 = 17 bytes
	require.NoError(t, err)

	var got []byte
	var seq uint16
	for {
		hdr, chunk, ok := it.Next()
		if !ok {
			break
		}
		assert.Equal(t, seq, hdr.Sequence)
		assert.Equal(t, uint64(42), hdr.Created)
		assert.Equal(t, uint32(100), hdr.Size)
		assert.Equal(t, uint8(3), hdr.Type)
		got = append(got, chunk...)
		seq++
	}
	assert.True(t, it.Done())
	assert.Equal(t, msg, got)
	assert.Equal(t, ChunkCount(100, 32), int(seq))
}

func TestIteratorRejectsTooSmallMTU(t *testing.T) {
	_, err := NewIterator([]byte("x"), 0, 0, HeaderSize)
	assert.Error(t, err)
}

func TestChunkOffsetMatchesIteratorLayout(t *testing.T) {
	msg := make([]byte, 50)
	it, err := NewIterator(msg, 0, 0, 20) // chunk = 5 bytes
	require.NoError(t, err)

	for {
		hdr, _, ok := it.Next()
		if !ok {
			break
		}
		assert.Equal(t, ChunkOffset(hdr.Sequence, 20), int(hdr.Sequence)*5)
	}
}

func reassemble(t *testing.T, r *ring.Ring, msg []byte, mtu int, typ uint8, created uint64) {
	t.Helper()
	d := NewDefragmentator(r, mtu)
	it, err := NewIterator(msg, typ, created, mtu)
	require.NoError(t, err)

	completed := false
	for {
		hdr, chunk, ok := it.Next()
		if !ok {
			break
		}
		done, _, err := d.Feed(hdr, chunk)
		require.NoError(t, err)
		if done {
			completed = true
		}
	}
	assert.True(t, completed)
}

func TestDefragReassemblesInOrder(t *testing.T) {
	r := ring.New(4096, 8)
	msg := []byte("the quick brown fox jumps over the lazy dog, repeated for length")
	reassemble(t, r, msg, 32, 9, 1000)

	var start uint64
	c := r.OpenCursor(&start)
	require.True(t, r.TryRead(&c))
	acc := r.Data(c)
	assert.Equal(t, msg, acc.Bytes)
	assert.Equal(t, uint64(9), acc.Entry.Type)
}

func TestDefragReassemblesOutOfOrder(t *testing.T) {
	r := ring.New(4096, 8)
	msg := []byte("out of order chunk delivery must still reassemble correctly here")

	it, err := NewIterator(msg, 1, 500, 24) // chunk = 9 bytes
	require.NoError(t, err)
	var headers []Header
	var chunks [][]byte
	for {
		hdr, chunk, ok := it.Next()
		if !ok {
			break
		}
		headers = append(headers, hdr)
		chunks = append(chunks, append([]byte(nil), chunk...))
	}

	// reverse delivery order
	d := NewDefragmentator(r, 24)
	var completed bool
	for i := len(headers) - 1; i >= 0; i-- {
		done, _, err := d.Feed(headers[i], chunks[i])
		require.NoError(t, err)
		if done {
			completed = true
		}
	}
	assert.True(t, completed)

	var start uint64
	c := r.OpenCursor(&start)
	require.True(t, r.TryRead(&c))
	acc := r.Data(c)
	assert.Equal(t, msg, acc.Bytes)
}

func TestDefragIgnoresDuplicateChunk(t *testing.T) {
	r := ring.New(4096, 8)
	msg := []byte("duplicate delivery of the same chunk must be a no-op")

	it, err := NewIterator(msg, 0, 1, 20)
	require.NoError(t, err)
	d := NewDefragmentator(r, 20)

	hdr, chunk, ok := it.Next()
	require.True(t, ok)
	done, _, err := d.Feed(hdr, chunk)
	require.NoError(t, err)
	assert.False(t, done)

	// redeliver the same chunk
	done, _, err = d.Feed(hdr, chunk)
	require.NoError(t, err)
	assert.False(t, done)

	for {
		hdr, chunk, ok := it.Next()
		if !ok {
			break
		}
		done, _, err = d.Feed(hdr, chunk)
		require.NoError(t, err)
	}
	assert.True(t, done)

	var start uint64
	c := r.OpenCursor(&start)
	require.True(t, r.TryRead(&c))
	assert.Equal(t, msg, r.Data(c).Bytes)
}

func TestDefragUnfragmentedMessageCommitsDirectly(t *testing.T) {
	r := ring.New(4096, 8)
	hdr := Header{Created: 1, Size: 5, Sequence: 0, Type: 2}
	d := NewDefragmentator(r, 64)

	done, _, err := d.Feed(hdr, []byte("hello"))
	require.NoError(t, err)
	assert.True(t, done)

	var start uint64
	c := r.OpenCursor(&start)
	require.True(t, r.TryRead(&c))
	acc := r.Data(c)
	assert.Equal(t, "hello", string(acc.Bytes))
	assert.Equal(t, uint64(2), acc.Entry.Type)
}

func TestDefragNewerCreatedPromotesCurrentToPrevious(t *testing.T) {
	r := ring.New(4096, 8)
	d := NewDefragmentator(r, 16) // chunk = 1 byte

	first := []byte("ab")
	second := []byte("cd")

	it1, err := NewIterator(first, 0, 1, 16)
	require.NoError(t, err)
	hdr1a, chunk1a, _ := it1.Next()

	// deliver only the first chunk of message 1, leaving it in progress
	done, _, err := d.Feed(hdr1a, chunk1a)
	require.NoError(t, err)
	assert.False(t, done)

	// message 2 arrives with a newer created timestamp: message 1 is
	// demoted to previous and can still complete later
	it2, err := NewIterator(second, 0, 2, 16)
	require.NoError(t, err)
	for {
		hdr, chunk, ok := it2.Next()
		if !ok {
			break
		}
		_, _, err := d.Feed(hdr, chunk)
		require.NoError(t, err)
	}

	hdr1b, chunk1b, _ := it1.Next()
	done, _, err = d.Feed(hdr1b, chunk1b)
	require.NoError(t, err)
	assert.True(t, done)
}
