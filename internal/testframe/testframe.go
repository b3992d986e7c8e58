// Package testframe implements the synthetic payload format the soak and
// conformance tests publish: random bytes stamped with a creation time and
// an MD5 hash, so a reader can confirm the bytes it got out of a topic are
// exactly the bytes that went in. Ported from the original soak driver's
// TestFrame/TestFrameHeader pair; ringbus uses MD5 over the payload
// directly rather than folding it into a UUID.
package testframe

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"
)

// HeaderSize is the encoded size of a Frame's header: a 16-byte MD5 hash,
// an 8-byte creation timestamp (UnixNano), and an 8-byte payload size.
const HeaderSize = 16 + 8 + 8

// Frame is a self-verifying test payload.
type Frame struct {
	Hash    [md5.Size]byte
	Created int64 // UnixNano
	Data    []byte
}

// New allocates a Frame of size random bytes and stamps it with the
// current time and its own MD5 hash.
func New(size int) *Frame {
	data := make([]byte, size)
	rand.Read(data)
	return &Frame{
		Hash:    md5.Sum(data),
		Created: time.Now().UnixNano(),
		Data:    data,
	}
}

// ComputeHash recomputes the MD5 hash of f.Data, independent of f.Hash.
func (f *Frame) ComputeHash() [md5.Size]byte { return md5.Sum(f.Data) }

// Verify reports whether f.Hash matches the MD5 of f.Data. A reader that
// gets false back has observed corrupted or truncated bytes.
func (f *Frame) Verify() bool { return f.ComputeHash() == f.Hash }

// Age returns how long ago the frame was created.
func (f *Frame) Age() time.Duration { return time.Since(time.Unix(0, f.Created)) }

// Encode writes the frame's header and data into a single byte slice
// suitable for publishing as one ring entry.
func (f *Frame) Encode() []byte {
	buf := make([]byte, HeaderSize+len(f.Data))
	copy(buf[0:16], f.Hash[:])
	binary.LittleEndian.PutUint64(buf[16:24], uint64(f.Created))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(len(f.Data)))
	copy(buf[HeaderSize:], f.Data)
	return buf
}

// Decode parses a byte slice produced by Encode back into a Frame. The
// returned Frame's Data aliases buf; callers that retain buf beyond the
// lifetime of a ring read must copy it first.
func Decode(buf []byte) (*Frame, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("testframe: buffer of %d bytes shorter than %d-byte header", len(buf), HeaderSize)
	}
	f := &Frame{}
	copy(f.Hash[:], buf[0:16])
	f.Created = int64(binary.LittleEndian.Uint64(buf[16:24]))
	size := binary.LittleEndian.Uint64(buf[24:32])
	if uint64(len(buf)-HeaderSize) != size {
		return nil, fmt.Errorf("testframe: declared size %d does not match %d bytes of payload", size, len(buf)-HeaderSize)
	}
	f.Data = buf[HeaderSize:]
	return f, nil
}

// String renders a one-line summary, mirroring the original driver's
// operator<< output.
func (f *Frame) String() string {
	return fmt.Sprintf("%x [%dB]", f.Hash, len(f.Data))
}
