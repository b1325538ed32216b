// File: api/events.go
// Package api defines the Event envelope dispatched between principals.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Event is a dispatched message. Data is a copy of whatever the sender
// posted — the sender keeps no aliasing, and the dispatcher owns Data
// until the last subscriber handler returns.
type Event struct {
	Type       EventTypeID
	Priority   Priority
	Sender     ServiceID
	Data       []byte
	TimestampMS int64
	Sequence   uint64
}

// VersionedHeader is an optional prefix for event payloads that want
// forward-compatible evolution across host versions. Use is entirely
// optional and additive: the bus does not require it.
type VersionedHeader struct {
	Version uint16
	Size    uint16
}

// EncodeVersionedHeader serialises a VersionedHeader as the two little
// endian uint16 fields that would prefix a versioned payload.
func EncodeVersionedHeader(h VersionedHeader) []byte {
	return []byte{
		byte(h.Version), byte(h.Version >> 8),
		byte(h.Size), byte(h.Size >> 8),
	}
}

// DecodeVersionedHeader reads a VersionedHeader from the front of data. It
// returns ok=false if data is shorter than the header.
func DecodeVersionedHeader(data []byte) (h VersionedHeader, ok bool) {
	if len(data) < 4 {
		return VersionedHeader{}, false
	}
	h.Version = uint16(data[0]) | uint16(data[1])<<8
	h.Size = uint16(data[2]) | uint16(data[3])<<8
	return h, true
}
