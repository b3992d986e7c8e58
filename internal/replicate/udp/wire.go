// Package udp implements the UDP replication bridge (spec component M):
// a Source that fragments and fans a topic's entries out to configured
// endpoints, and a Target that reassembles datagrams back into a local
// topic via internal/fragment's Defragmentator.
package udp

import (
	"encoding/binary"
	"fmt"

	"github.com/ringbus/ringbus/internal/fragment"
)

// encodeDatagram writes spec.md §6.5's UdpHeader followed by the chunk
// payload into one datagram buffer.
func encodeDatagram(hdr fragment.Header, payload []byte) []byte {
	buf := make([]byte, fragment.HeaderSize+len(payload))
	binary.LittleEndian.PutUint64(buf[0:8], hdr.Created)
	binary.LittleEndian.PutUint32(buf[8:12], hdr.Size)
	binary.LittleEndian.PutUint16(buf[12:14], hdr.Sequence)
	buf[14] = hdr.Type
	copy(buf[fragment.HeaderSize:], payload)
	return buf
}

// decodeDatagram splits one received datagram into its header and
// payload. It fails if the datagram is shorter than a header, matching
// spec.md §4.M's malformed-datagram case.
func decodeDatagram(buf []byte) (fragment.Header, []byte, error) {
	if len(buf) < fragment.HeaderSize {
		return fragment.Header{}, nil, fmt.Errorf("udp: datagram of %d bytes shorter than header", len(buf))
	}
	hdr := fragment.Header{
		Created:  binary.LittleEndian.Uint64(buf[0:8]),
		Size:     binary.LittleEndian.Uint32(buf[8:12]),
		Sequence: binary.LittleEndian.Uint16(buf[12:14]),
		Type:     buf[14],
	}
	return hdr, buf[fragment.HeaderSize:], nil
}
