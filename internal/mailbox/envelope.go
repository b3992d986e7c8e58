// Package mailbox implements the bounded IPC envelope queues of spec
// component G/H's control plane (spec.md §6.2/§6.3): a broker-side request
// queue named after the channel, and one reply path per connected client.
// There is no POSIX message queue wrapper anywhere in the example corpus
// (see DESIGN.md), so this package frames envelopes over a Unix domain
// socket instead — the same "one long-lived duplex stream per peer,
// correlation ids for multiplexing" shape spec.md describes, just carried
// over net.Conn rather than mq_send/mq_receive.
package mailbox

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Kind is the small positive integer envelope discriminator from spec.md
// §6.3. Values are persistent across versions.
type Kind uint8

const (
	KindShutdown            Kind = 0
	KindSubscribe           Kind = 1
	KindCreateTopic         Kind = 2
	KindHello               Kind = 3
	KindHelloResponse       Kind = 4
	KindSubscribeResponse   Kind = 5
	KindUnsubscribe         Kind = 6
	KindUnsubscribeResponse Kind = 7
	KindRemoveTopic         Kind = 8
)

// maxTopicName is the fixed-size string bound from spec.md §6.3.
const maxTopicName = 255

// Envelope is the union of every field any control-plane message kind
// needs. Unused fields are zero for a given Kind; this mirrors the
// original's single tagged-union wire struct.
type Envelope struct {
	Kind          Kind
	CorrelationID uint64
	Topic         string
	SlotID        uint32
	MaxMessages   uint64
	BufferBytes   uint64
	PID           uint64
	Timestamp     int64
	OK            bool
}

// Encode writes the length-prefixed wire form of e to w.
func (e Envelope) Encode(w io.Writer) error {
	if len(e.Topic) > maxTopicName {
		return fmt.Errorf("mailbox: topic name %q exceeds %d bytes", e.Topic, maxTopicName)
	}

	buf := make([]byte, 0, 64+len(e.Topic))
	buf = append(buf, byte(e.Kind))
	buf = binary.LittleEndian.AppendUint64(buf, e.CorrelationID)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Topic)))
	buf = append(buf, e.Topic...)
	buf = binary.LittleEndian.AppendUint32(buf, e.SlotID)
	buf = binary.LittleEndian.AppendUint64(buf, e.MaxMessages)
	buf = binary.LittleEndian.AppendUint64(buf, e.BufferBytes)
	buf = binary.LittleEndian.AppendUint64(buf, e.PID)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Timestamp))
	if e.OK {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	var frameLen [4]byte
	binary.LittleEndian.PutUint32(frameLen[:], uint32(len(buf)))
	if _, err := w.Write(frameLen[:]); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}

// Decode reads one length-prefixed envelope from r.
func Decode(r io.Reader) (Envelope, error) {
	var frameLen [4]byte
	if _, err := io.ReadFull(r, frameLen[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.LittleEndian.Uint32(frameLen[:])
	if n < 1+8+4 {
		return Envelope{}, fmt.Errorf("mailbox: malformed envelope length %d", n)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Envelope{}, err
	}

	var e Envelope
	e.Kind = Kind(buf[0])
	e.CorrelationID = binary.LittleEndian.Uint64(buf[1:9])
	topicLen := binary.LittleEndian.Uint32(buf[9:13])
	off := 13
	if topicLen > maxTopicName || off+int(topicLen) > len(buf) {
		return Envelope{}, fmt.Errorf("mailbox: malformed topic length %d", topicLen)
	}
	e.Topic = string(buf[off : off+int(topicLen)])
	off += int(topicLen)

	if off+4+8+8+8+8+1 > len(buf) {
		return Envelope{}, fmt.Errorf("mailbox: truncated envelope")
	}
	e.SlotID = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	e.MaxMessages = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	e.BufferBytes = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	e.PID = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	e.Timestamp = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	e.OK = buf[off] != 0

	return e, nil
}
