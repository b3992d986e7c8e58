// Package tcp implements the TCP replication bridge (spec component L):
// a Source that streams one topic's published entries to any number of
// connected Targets, and a Target that dials a Source and mirrors those
// entries into its own local topic.
package tcp

import (
	"encoding/binary"
	"fmt"
	"io"
)

const maxTopicName = 255

// writeSubscribeRequest writes spec.md §6.4's SubscribeRequest: a u32
// length prefix followed by the topic name bytes.
func writeSubscribeRequest(w io.Writer, topic string) error {
	if len(topic) > maxTopicName {
		return fmt.Errorf("tcp: topic name %q exceeds %d bytes", topic, maxTopicName)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(topic)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, topic)
	return err
}

// readSubscribeRequest reads one SubscribeRequest.
func readSubscribeRequest(r io.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxTopicName {
		return "", fmt.Errorf("tcp: malformed topic name length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// writeFrame writes spec.md §6.4's { u32 size, u64 type } header followed
// by payload.
func writeFrame(w io.Writer, typ uint64, payload []byte) error {
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint64(hdr[4:12], typ)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// frameHeader is one decoded { size, type } pair.
type frameHeader struct {
	Size uint32
	Type uint64
}

func readFrameHeader(r io.Reader) (frameHeader, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return frameHeader{}, err
	}
	return frameHeader{
		Size: binary.LittleEndian.Uint32(hdr[0:4]),
		Type: binary.LittleEndian.Uint64(hdr[4:12]),
	}, nil
}
